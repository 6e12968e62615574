package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

const toolCatalogCacheKey = "resource:tools"

// handleStatusResource는 proxy://status 리소스를 처리합니다.
// 피어 상태 조회는 라운드트립 없이 로컬 스냅샷으로 답합니다.
func (s *Server) handleStatusResource(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	peers := s.registry.StatusAll()

	payload := map[string]any{
		"server":          ServerName,
		"version":         ServerVersion,
		"peers":           peers,
		"tools_available": s.registry.ToolCount(),
		"reported_at":     time.Now().UTC().Format(time.RFC3339),
	}

	return newJSONResource(request.Params.URI, payload)
}

// handleToolsResource는 proxy://tools 리소스를 처리합니다.
// 피어별 라이브 조회가 실패하면 캐시된 마지막 카탈로그로 폴백합니다.
func (s *Server) handleToolsResource(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	listings := s.registry.ListAllTools(ctx)

	failed := 0
	for _, listing := range listings {
		if listing.Error != "" {
			failed++
		}
	}

	if failed == len(listings) && len(listings) > 0 {
		// 모든 피어 조회 실패: 만료 여부와 무관하게 캐시를 내보냄
		if cached, storedAt, ok := s.cache.GetStale(toolCatalogCacheKey); ok {
			s.logger.Warn().Msg("도구 카탈로그 조회 실패, 캐시된 카탈로그로 폴백")
			payload := map[string]any{
				"peers":     cached,
				"cached":    true,
				"cached_at": storedAt.UTC().Format(time.RFC3339),
			}
			return newJSONResource(request.Params.URI, payload)
		}
	} else {
		s.cache.Set(toolCatalogCacheKey, listings)
	}

	return newJSONResource(request.Params.URI, listings)
}

// handleServerResource는 proxy://servers/{id} 리소스를 처리합니다.
func (s *Server) handleServerResource(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	peerID := extractPeerIDFromURI(request.Params.URI)
	if peerID == "" {
		return nil, fmt.Errorf("invalid resource URI: %s", request.Params.URI)
	}

	status, err := s.registry.Status(peerID)
	if err != nil {
		// 피어 부재도 JSON으로 답하여 클라이언트가 파싱할 수 있게 함
		payload := map[string]any{
			"id":                peerID,
			"error":             err.Error(),
			"available_servers": s.registry.PeerIDs(),
		}
		return newJSONResource(request.Params.URI, payload)
	}

	payload := map[string]any{
		"status": status,
	}
	if desc, ok := s.registry.Descriptor(peerID); ok {
		payload["transport"] = desc.Transport
		if desc.Stdio != nil {
			payload["image"] = desc.Stdio.Image
		}
		if desc.HTTP != nil {
			payload["base_url"] = desc.HTTP.BaseURL
		}
	}

	return newJSONResource(request.Params.URI, payload)
}

// handleMetricsResource는 proxy://metrics 리소스를 처리합니다.
func (s *Server) handleMetricsResource(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	snapshot := s.registry.Metrics().TakeSnapshot()
	return newJSONResource(request.Params.URI, snapshot)
}

// newJSONResource는 값을 JSON으로 직렬화하여 텍스트 리소스 하나로 감쌉니다.
func newJSONResource(uri string, v any) ([]mcp.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to serialize resource: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

// extractPeerIDFromURI는 proxy://servers/{id} 형식의 URI에서 피어 id를 추출합니다.
func extractPeerIDFromURI(uri string) string {
	const prefix = "proxy://servers/"
	if !strings.HasPrefix(uri, prefix) {
		return ""
	}
	return strings.TrimPrefix(uri, prefix)
}
