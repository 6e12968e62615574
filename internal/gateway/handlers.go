package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Tomas1307/mcp-client-proxy/internal/adapter"
	"github.com/Tomas1307/mcp-client-proxy/internal/logger"
)

// CallToolRequest는 POST /call_tool의 요청 본문입니다.
// ServerID가 지정되면 도구 인덱스를 우회하여 해당 피어로 직접 라우팅합니다.
type CallToolRequest struct {
	Tool      string          `json:"tool"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	ServerID  string          `json:"server_id,omitempty"`
}

// errorResponse는 에러 응답의 공통 형태입니다.
type errorResponse struct {
	Error            string   `json:"error"`
	ServerID         string   `json:"server_id,omitempty"`
	ToolName         string   `json:"tool_name,omitempty"`
	AvailableServers []string `json:"available_servers,omitempty"`
	AvailableTools   []string `json:"available_tools,omitempty"`
	ToolCount        int      `json:"tool_count,omitempty"`
}

// handleRoot는 프록시 개요를 반환합니다.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "online",
		"peers":           s.registry.StatusAll(),
		"tools_available": s.registry.ToolCount(),
	})
}

// handleListTools는 모든 피어의 현재 도구 카탈로그를 피어별로 반환합니다.
// 실패한 피어는 목록 대신 에러 메시지를 병기하며 전체 응답을 막지 않습니다.
func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.ListAllTools(r.Context()))
}

// handleCallTool은 도구 호출을 소유 피어로 라우팅합니다.
func (s *Server) handleCallTool(w http.ResponseWriter, r *http.Request) {
	var req CallToolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "요청 본문이 유효한 JSON이 아닙니다"})
		return
	}
	if req.Tool == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "tool 필드가 필요합니다"})
		return
	}

	reqID := requestID(r.Context())
	if req.ServerID != "" {
		log := logger.WithRequestID(reqID)
		log.Info().
			Str("tool", req.Tool).
			Str("server_id", req.ServerID).
			Msg("명시적 피어 라우팅")
	}

	result, err := s.registry.CallTool(r.Context(), req.Tool, req.Arguments, req.ServerID)
	if err != nil {
		s.writeCallError(w, req, err)
		return
	}

	// 소유 피어 id를 응답에 병기
	serverID := req.ServerID
	if serverID == "" {
		serverID, _ = s.registry.ToolOwner(req.Tool)
	}

	peerLog := logger.WithPeer(reqID, serverID)
	peerLog.Debug().
		Str("tool", req.Tool).
		Msg("도구 호출 성공")

	writeJSON(w, http.StatusOK, map[string]any{
		"server_id": serverID,
		"result":    result,
	})
}

// writeCallError는 호출 실패를 HTTP 상태와 진단 정보로 변환합니다.
func (s *Server) writeCallError(w http.ResponseWriter, req CallToolRequest, err error) {
	status := httpStatusFor(err)
	resp := errorResponse{Error: err.Error(), ToolName: req.Tool}

	switch adapter.KindOf(err) {
	case adapter.KindUnknownPeer:
		resp.AvailableServers = s.registry.PeerIDs()
	case adapter.KindUnknownTool:
		// 진단용으로 일부만 노출
		names := s.registry.ToolNames()
		resp.ToolCount = len(names)
		if len(names) > 10 {
			names = names[:10]
		}
		resp.AvailableTools = names
	}

	var rpcErr *adapter.JSONRPCError
	if errors.As(err, &rpcErr) {
		resp.Error = rpcErr.Message
	}
	var adErr *adapter.AdapterError
	if errors.As(err, &adErr) && adErr.PeerID != "" {
		resp.ServerID = adErr.PeerID
	}

	writeJSON(w, status, resp)
}

// handleStatus는 피어 하나의 상태 스냅샷을 반환합니다.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	serverID := r.PathValue("server_id")

	status, err := s.registry.Status(serverID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorResponse{
			Error:            err.Error(),
			AvailableServers: s.registry.PeerIDs(),
		})
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handlePing은 피어 하나의 생존 확인을 수행합니다. 조회 전용이며
// 실패해도 라우팅 상태를 변경하지 않습니다.
func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	serverID := r.PathValue("server_id")

	if err := s.registry.Ping(r.Context(), serverID); err != nil {
		writeJSON(w, httpStatusFor(err), map[string]any{
			"status": "error",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"server_id": serverID,
	})
}

// debugServerInfo는 /debug/servers의 피어별 항목입니다.
type debugServerInfo struct {
	ID         string            `json:"id"`
	Transport  adapter.Transport `json:"transport"`
	Status     adapter.Status    `json:"status"`
	Image      string            `json:"image,omitempty"`
	DockerArgs []string          `json:"docker_args,omitempty"`
	BaseURL    string            `json:"base_url,omitempty"`
	ToolsCount int               `json:"tools_count"`
}

// handleDebugServers는 피어 구성과 도구 분포의 진단 덤프를 반환합니다.
func (s *Server) handleDebugServers(w http.ResponseWriter, r *http.Request) {
	statuses := s.registry.StatusAll()

	servers := make([]debugServerInfo, 0, len(statuses))
	for _, st := range statuses {
		info := debugServerInfo{
			ID:         st.ID,
			Transport:  st.Transport,
			Status:     st.Status,
			ToolsCount: st.ToolCount,
		}
		if desc, ok := s.registry.Descriptor(st.ID); ok {
			switch desc.Transport {
			case adapter.TransportStdio:
				info.Image = desc.Stdio.Image
				// 토큰이 -e 인자에 실려 있으므로 마스킹 후 노출
				args := make([]string, len(desc.Stdio.Args))
				for i, arg := range desc.Stdio.Args {
					args[i] = logger.MaskSensitive(arg)
				}
				info.DockerArgs = args
			case adapter.TransportHTTP:
				info.BaseURL = desc.HTTP.BaseURL
			}
		}
		servers = append(servers, info)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"servers_count": len(servers),
		"total_tools":   s.registry.ToolCount(),
		"servers":       servers,
	})
}

// handleMetrics는 프로세스 수준 메트릭 스냅샷을 반환합니다.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.Metrics().TakeSnapshot())
}
