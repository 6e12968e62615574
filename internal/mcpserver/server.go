// Package mcpserver는 집계된 도구 카탈로그를 단일 MCP 서버로 노출합니다.
//
// MCP 클라이언트 하나가 이 서버에 연결하면 레지스트리에 등록된 모든
// 백엔드 피어의 도구를 하나의 서버에서 보는 것처럼 사용할 수 있습니다.
// 도구 호출은 Registry의 라우팅을 그대로 통과합니다.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"github.com/Tomas1307/mcp-client-proxy/internal/registry"
)

const (
	// ServerName은 MCP 서버 이름입니다.
	ServerName = "mcp-client-proxy"
	// ServerVersion은 MCP 서버 버전입니다.
	ServerVersion = "0.1.0"

	// resourceCacheTTL은 리소스 폴백 캐시의 TTL입니다.
	resourceCacheTTL = 5 * time.Minute
)

// Server는 프록시 MCP 파사드 서버입니다.
// mark3labs/mcp-go를 사용하여 stdio 기반 MCP 프로토콜을 처리합니다.
type Server struct {
	mcpServer *server.MCPServer
	registry  *registry.Registry
	cache     *Cache
	logger    zerolog.Logger
}

// NewServer는 새 MCP 파사드 서버를 생성합니다.
// 도구 등록은 RegisterTools에서 수행합니다 (피어 초기화 이후 호출).
func NewServer(reg *registry.Registry, logger zerolog.Logger) *Server {
	s := &Server{
		registry: reg,
		cache:    NewCache(resourceCacheTTL),
		logger:   logger.With().Str("component", "mcpserver").Logger(),
	}

	s.mcpServer = server.NewMCPServer(
		ServerName,
		ServerVersion,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	s.registerResources()

	s.logger.Info().
		Str("name", ServerName).
		Str("version", ServerVersion).
		Msg("MCP 파사드 서버 초기화 완료")

	return s
}

// RegisterTools는 레지스트리의 집계된 카탈로그를 MCP 도구로 등록합니다.
//
// 피어가 광고한 스키마를 그대로 전달하며, 도구 이름 충돌 시 인덱스의
// 소유 피어(먼저 등록된 피어)가 광고한 항목만 등록합니다.
func (s *Server) RegisterTools(ctx context.Context) error {
	listings := s.registry.ListAllTools(ctx)

	count := 0
	for peerID, listing := range listings {
		if listing.Error != "" {
			s.logger.Warn().
				Str("peer", peerID).
				Str("error", listing.Error).
				Msg("피어 카탈로그 조회 실패, 해당 피어의 도구는 등록하지 않습니다")
			continue
		}

		for _, tool := range listing.Tools {
			// 충돌한 도구는 인덱스 소유 피어의 항목만 등록
			if owner, ok := s.registry.ToolOwner(tool.Name); !ok || owner != peerID {
				continue
			}

			schema := tool.Schema
			if len(schema) == 0 {
				schema = json.RawMessage(`{"type":"object"}`)
			}

			mcpTool := mcp.NewToolWithRawSchema(tool.Name, tool.Description, schema)
			s.mcpServer.AddTool(mcpTool, s.proxyHandler(tool.Name))
			count++
		}
	}

	if count == 0 {
		s.logger.Warn().Msg("등록된 도구가 없습니다")
	}

	s.logger.Info().Int("tools", count).Msg("MCP 도구 등록 완료")
	return nil
}

// proxyHandler는 도구 하나의 호출을 레지스트리로 위임하는 핸들러를 만듭니다.
func (s *Server) proxyHandler(toolName string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		arguments, err := json.Marshal(request.GetArguments())
		if err != nil {
			return mcp.NewToolResultError("failed to serialize arguments"), nil
		}

		s.logger.Debug().Str("tool", toolName).Msg("도구 호출 위임")

		result, err := s.registry.CallTool(ctx, toolName, arguments, "")
		if err != nil {
			s.logger.Error().Err(err).Str("tool", toolName).Msg("도구 호출 실패")
			return mcp.NewToolResultError(fmt.Sprintf("Tool call failed: %s", err.Error())), nil
		}

		return mcp.NewToolResultText(string(result)), nil
	}
}

// Start는 stdio 기반 MCP 서버를 시작합니다.
// 이 함수는 서버가 종료될 때까지 블로킹됩니다.
func (s *Server) Start() error {
	s.logger.Info().Msg("MCP 파사드 서버 시작 (stdio 트랜스포트)")
	return server.ServeStdio(s.mcpServer)
}

// registerResources는 프록시 상태 리소스를 등록합니다.
func (s *Server) registerResources() {
	// 1. proxy://status - 프록시와 피어 상태
	statusResource := mcp.NewResource(
		"proxy://status",
		"Proxy Status",
		mcp.WithResourceDescription("Proxy health and per-peer status information"),
		mcp.WithMIMEType("application/json"),
	)
	s.mcpServer.AddResource(statusResource, s.handleStatusResource)

	// 2. proxy://tools - 피어별 도구 카탈로그 (라이브 조회)
	toolsResource := mcp.NewResource(
		"proxy://tools",
		"Tool Catalog",
		mcp.WithResourceDescription("Aggregated tool catalog grouped by backend peer"),
		mcp.WithMIMEType("application/json"),
	)
	s.mcpServer.AddResource(toolsResource, s.handleToolsResource)

	// 3. proxy://servers/{id} - 피어 하나의 상세 상태 (동적 리소스)
	serverTemplate := mcp.NewResourceTemplate(
		"proxy://servers/{id}",
		"Peer Details",
		mcp.WithTemplateDescription("Detailed status of a single backend peer"),
		mcp.WithTemplateMIMEType("application/json"),
	)
	s.mcpServer.AddResourceTemplate(serverTemplate, s.handleServerResource)

	// 4. proxy://metrics - 프로세스 수준 메트릭
	metricsResource := mcp.NewResource(
		"proxy://metrics",
		"Proxy Metrics",
		mcp.WithResourceDescription("Process-wide routing metrics snapshot"),
		mcp.WithMIMEType("application/json"),
	)
	s.mcpServer.AddResource(metricsResource, s.handleMetricsResource)

	s.logger.Debug().Msg("MCP 리소스 4개 등록 완료")
}
