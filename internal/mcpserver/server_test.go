package mcpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog"

	"github.com/Tomas1307/mcp-client-proxy/internal/adapter"
	"github.com/Tomas1307/mcp-client-proxy/internal/registry"
)

// stubTool은 스텁 피어가 제공하는 도구 하나의 동작입니다.
type stubTool struct {
	result json.RawMessage
	rpcErr *adapter.JSONRPCError
}

// newStubPeer는 JSON-RPC POST 프로토콜을 말하는 가짜 MCP 피어 서버를 띄웁니다.
func newStubPeer(t *testing.T, tools map[string]stubTool) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req adapter.JSONRPCRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}

		resp := adapter.JSONRPCResponse{JSONRPC: "2.0", ID: req.ID}

		switch req.Method {
		case adapter.MethodToolsList:
			var entries []map[string]any
			for name := range tools {
				entries = append(entries, map[string]any{
					"name":        name,
					"description": "stub tool",
					"inputSchema": map[string]any{"type": "object"},
				})
			}
			data, _ := json.Marshal(map[string]any{"tools": entries})
			raw := json.RawMessage(data)
			resp.Result = &raw

		case adapter.MethodToolsCall:
			var params adapter.CallToolParams
			_ = json.Unmarshal(req.Params, &params)

			tool, ok := tools[params.Name]
			if !ok {
				resp.Error = &adapter.JSONRPCError{Code: adapter.ErrCodeMethodNotFound, Message: "method not found"}
				break
			}
			if tool.rpcErr != nil {
				resp.Error = tool.rpcErr
				break
			}
			result := tool.result
			if result == nil {
				result = json.RawMessage(`{}`)
			}
			resp.Result = &result

		case adapter.MethodPing:
			raw := json.RawMessage(`{}`)
			resp.Result = &raw
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

// facadeEnv는 스텁 피어 두 개 위에 구성된 파사드 환경입니다.
type facadeEnv struct {
	server   *Server
	registry *registry.Registry
	alpha    *httptest.Server
	beta     *httptest.Server
}

func newFacadeEnv(t *testing.T) *facadeEnv {
	t.Helper()

	alpha := newStubPeer(t, map[string]stubTool{
		"echo":   {result: json.RawMessage(`{"from":"alpha"}`)},
		"shared": {result: json.RawMessage(`{"from":"alpha"}`)},
		"broken": {rpcErr: &adapter.JSONRPCError{Code: adapter.ErrCodeInvalidParams, Message: "missing argument"}},
	})
	beta := newStubPeer(t, map[string]stubTool{
		"beta_tool": {result: json.RawMessage(`{"from":"beta"}`)},
		"shared":    {result: json.RawMessage(`{"from":"beta"}`)},
	})

	descs := []adapter.PeerDescriptor{
		{ID: "alpha", Transport: adapter.TransportHTTP, HTTP: &adapter.HTTPParams{BaseURL: alpha.URL}},
		{ID: "beta", Transport: adapter.TransportHTTP, HTTP: &adapter.HTTPParams{BaseURL: beta.URL}},
	}

	opts := adapter.Options{
		CallTimeout:      5 * time.Second,
		HandshakeTimeout: 5 * time.Second,
		ShutdownGrace:    time.Second,
	}

	reg, err := registry.New(descs, opts, zerolog.Nop())
	if err != nil {
		t.Fatalf("레지스트리 구성 실패: %v", err)
	}
	if err := reg.Init(context.Background()); err != nil {
		t.Fatalf("레지스트리 초기화 실패: %v", err)
	}

	s := NewServer(reg, zerolog.Nop())
	if err := s.RegisterTools(context.Background()); err != nil {
		t.Fatalf("도구 등록 실패: %v", err)
	}

	env := &facadeEnv{server: s, registry: reg, alpha: alpha, beta: beta}
	t.Cleanup(func() {
		reg.Shutdown()
		alpha.Close()
		beta.Close()
	})
	return env
}

// rpcReply는 HandleMessage 응답을 디코딩하기 위한 구조체입니다.
type rpcReply struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// handleMessage는 파사드의 MCP 서버에 JSON-RPC 메시지를 전달하고 응답을 디코딩합니다.
func handleMessage(t *testing.T, s *Server, message string) rpcReply {
	t.Helper()

	raw := s.mcpServer.HandleMessage(context.Background(), json.RawMessage(message))
	data, err := json.Marshal(raw)
	if err != nil {
		t.Fatalf("응답 직렬화 실패: %v", err)
	}

	var reply rpcReply
	if err := json.Unmarshal(data, &reply); err != nil {
		t.Fatalf("응답 디코딩 실패: %v", err)
	}
	return reply
}

// resourceText는 리소스 핸들러 결과에서 텍스트 본문을 추출합니다.
func resourceText(t *testing.T, contents []mcp.ResourceContents) string {
	t.Helper()

	if len(contents) != 1 {
		t.Fatalf("리소스 콘텐츠 1개를 기대했으나 %d개를 받았습니다", len(contents))
	}
	text, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("텍스트 리소스가 아닙니다: %T", contents[0])
	}
	if text.MIMEType != "application/json" {
		t.Errorf("MIME 타입: got %q, want application/json", text.MIMEType)
	}
	return text.Text
}

// TestServer_RegisterTools는 집계된 카탈로그가 MCP 도구로 등록되는지 테스트합니다.
// 충돌한 도구 이름은 인덱스 소유 피어의 항목 하나만 등록되어야 합니다.
func TestServer_RegisterTools(t *testing.T) {
	env := newFacadeEnv(t)

	reply := handleMessage(t, env.server, `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
	if reply.Error != nil {
		t.Fatalf("tools/list 실패: %+v", reply.Error)
	}

	var listed struct {
		Tools []struct {
			Name string `json:"name"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(reply.Result, &listed); err != nil {
		t.Fatalf("도구 목록 디코딩 실패: %v", err)
	}

	names := make(map[string]int)
	for _, tool := range listed.Tools {
		names[tool.Name]++
	}

	// alpha: echo, shared, broken / beta: beta_tool (+shared는 중복 제거)
	if len(listed.Tools) != 4 {
		t.Errorf("등록된 도구 수: got %d, want 4 (%v)", len(listed.Tools), names)
	}
	for _, want := range []string{"echo", "shared", "broken", "beta_tool"} {
		if names[want] != 1 {
			t.Errorf("도구 %q의 등록 수: got %d, want 1", want, names[want])
		}
	}
}

// TestServer_CallToolProxy는 MCP 도구 호출이 레지스트리로 위임되는지 테스트합니다.
func TestServer_CallToolProxy(t *testing.T) {
	env := newFacadeEnv(t)

	reply := handleMessage(t, env.server,
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"echo","arguments":{"msg":"안녕하세요"}}}`)
	if reply.Error != nil {
		t.Fatalf("tools/call 실패: %+v", reply.Error)
	}

	var result struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		IsError bool `json:"isError"`
	}
	if err := json.Unmarshal(reply.Result, &result); err != nil {
		t.Fatalf("호출 결과 디코딩 실패: %v", err)
	}

	if result.IsError {
		t.Fatalf("호출이 에러로 표시되었습니다: %+v", result)
	}
	if len(result.Content) != 1 || result.Content[0].Text != `{"from":"alpha"}` {
		t.Errorf("호출 결과: got %+v, want {\"from\":\"alpha\"}", result.Content)
	}
}

// TestServer_CallToolCollision은 충돌 도구 호출이 먼저 등록된 피어로 가는지 테스트합니다.
func TestServer_CallToolCollision(t *testing.T) {
	env := newFacadeEnv(t)

	reply := handleMessage(t, env.server,
		`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"shared","arguments":{}}}`)
	if reply.Error != nil {
		t.Fatalf("tools/call 실패: %+v", reply.Error)
	}

	if !strings.Contains(string(reply.Result), `{\"from\":\"alpha\"}`) &&
		!strings.Contains(string(reply.Result), `{"from":"alpha"}`) {
		t.Errorf("shared 호출이 alpha로 라우팅되어야 합니다: %s", reply.Result)
	}
}

// TestServer_CallToolError는 피어의 도구 수준 에러가 MCP 에러 결과로 변환되는지 테스트합니다.
func TestServer_CallToolError(t *testing.T) {
	env := newFacadeEnv(t)

	handler := env.server.proxyHandler("broken")

	req := mcp.CallToolRequest{}
	req.Params.Name = "broken"
	req.Params.Arguments = map[string]any{}

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("핸들러는 프로토콜 에러를 반환하지 않아야 합니다: %v", err)
	}
	if !result.IsError {
		t.Fatal("도구 수준 에러는 IsError로 표시되어야 합니다")
	}

	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("텍스트 콘텐츠가 아닙니다: %T", result.Content[0])
	}
	if !strings.Contains(text.Text, "missing argument") {
		t.Errorf("에러 메시지가 보존되어야 합니다: %q", text.Text)
	}
}

// TestServer_CallToolUnknown은 인덱스에 없는 도구 호출을 테스트합니다.
func TestServer_CallToolUnknown(t *testing.T) {
	env := newFacadeEnv(t)

	handler := env.server.proxyHandler("ghost")

	req := mcp.CallToolRequest{}
	req.Params.Name = "ghost"
	req.Params.Arguments = map[string]any{}

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("핸들러는 프로토콜 에러를 반환하지 않아야 합니다: %v", err)
	}
	if !result.IsError {
		t.Fatal("알 수 없는 도구 호출은 IsError로 표시되어야 합니다")
	}
}

// TestServer_StatusResource는 proxy://status 리소스를 테스트합니다.
func TestServer_StatusResource(t *testing.T) {
	env := newFacadeEnv(t)

	req := mcp.ReadResourceRequest{}
	req.Params.URI = "proxy://status"

	contents, err := env.server.handleStatusResource(context.Background(), req)
	if err != nil {
		t.Fatalf("status 리소스 조회 실패: %v", err)
	}

	var payload struct {
		Server         string               `json:"server"`
		Version        string               `json:"version"`
		Peers          []registry.PeerStatus `json:"peers"`
		ToolsAvailable int                  `json:"tools_available"`
	}
	if err := json.Unmarshal([]byte(resourceText(t, contents)), &payload); err != nil {
		t.Fatalf("status 페이로드 디코딩 실패: %v", err)
	}

	if payload.Server != ServerName || payload.Version != ServerVersion {
		t.Errorf("서버 식별 정보: got %s/%s", payload.Server, payload.Version)
	}
	if len(payload.Peers) != 2 {
		t.Errorf("피어 수: got %d, want 2", len(payload.Peers))
	}
	if payload.ToolsAvailable != 4 {
		t.Errorf("사용 가능 도구 수: got %d, want 4", payload.ToolsAvailable)
	}
}

// TestServer_ToolsResource는 proxy://tools 리소스와 캐시 폴백을 테스트합니다.
func TestServer_ToolsResource(t *testing.T) {
	env := newFacadeEnv(t)

	req := mcp.ReadResourceRequest{}
	req.Params.URI = "proxy://tools"

	// 라이브 조회: 피어별 카탈로그가 포함되어야 하고 캐시에 저장되어야 함
	contents, err := env.server.handleToolsResource(context.Background(), req)
	if err != nil {
		t.Fatalf("tools 리소스 조회 실패: %v", err)
	}

	var live map[string]registry.ToolListing
	if err := json.Unmarshal([]byte(resourceText(t, contents)), &live); err != nil {
		t.Fatalf("카탈로그 디코딩 실패: %v", err)
	}
	if len(live["alpha"].Tools) != 3 || len(live["beta"].Tools) != 2 {
		t.Errorf("피어별 카탈로그: alpha=%d beta=%d, want 3/2",
			len(live["alpha"].Tools), len(live["beta"].Tools))
	}
	if env.server.cache.Len() != 1 {
		t.Errorf("카탈로그가 캐시에 저장되어야 합니다: len=%d", env.server.cache.Len())
	}

	// 모든 피어 다운: 캐시된 카탈로그로 폴백해야 함
	env.alpha.Close()
	env.beta.Close()

	contents, err = env.server.handleToolsResource(context.Background(), req)
	if err != nil {
		t.Fatalf("폴백 조회 실패: %v", err)
	}

	var fallback struct {
		Cached   bool   `json:"cached"`
		CachedAt string `json:"cached_at"`
		Peers    map[string]registry.ToolListing `json:"peers"`
	}
	if err := json.Unmarshal([]byte(resourceText(t, contents)), &fallback); err != nil {
		t.Fatalf("폴백 페이로드 디코딩 실패: %v", err)
	}
	if !fallback.Cached || fallback.CachedAt == "" {
		t.Errorf("폴백 페이로드에 캐시 메타데이터가 있어야 합니다: %+v", fallback)
	}
	if len(fallback.Peers["alpha"].Tools) != 3 {
		t.Errorf("캐시된 alpha 카탈로그: got %d, want 3", len(fallback.Peers["alpha"].Tools))
	}
}

// TestServer_ServerResource는 proxy://servers/{id} 리소스를 테스트합니다.
func TestServer_ServerResource(t *testing.T) {
	env := newFacadeEnv(t)

	req := mcp.ReadResourceRequest{}
	req.Params.URI = "proxy://servers/alpha"

	contents, err := env.server.handleServerResource(context.Background(), req)
	if err != nil {
		t.Fatalf("servers 리소스 조회 실패: %v", err)
	}

	var payload struct {
		Status    registry.PeerStatus `json:"status"`
		Transport string              `json:"transport"`
		BaseURL   string              `json:"base_url"`
	}
	if err := json.Unmarshal([]byte(resourceText(t, contents)), &payload); err != nil {
		t.Fatalf("페이로드 디코딩 실패: %v", err)
	}
	if payload.Status.ID != "alpha" || payload.Status.Status != adapter.StatusReady {
		t.Errorf("alpha 상태: %+v", payload.Status)
	}
	if payload.Transport != "http" || payload.BaseURL == "" {
		t.Errorf("디스크립터 정보가 포함되어야 합니다: transport=%q base_url=%q",
			payload.Transport, payload.BaseURL)
	}

	// 존재하지 않는 피어: 에러 대신 JSON 본문으로 응답
	req.Params.URI = "proxy://servers/nope"
	contents, err = env.server.handleServerResource(context.Background(), req)
	if err != nil {
		t.Fatalf("미등록 피어 조회가 실패했습니다: %v", err)
	}

	var missing struct {
		Error            string   `json:"error"`
		AvailableServers []string `json:"available_servers"`
	}
	if err := json.Unmarshal([]byte(resourceText(t, contents)), &missing); err != nil {
		t.Fatalf("페이로드 디코딩 실패: %v", err)
	}
	if missing.Error == "" || len(missing.AvailableServers) != 2 {
		t.Errorf("미등록 피어 페이로드: %+v", missing)
	}

	// 잘못된 URI는 에러
	req.Params.URI = "proxy://tools"
	if _, err := env.server.handleServerResource(context.Background(), req); err == nil {
		t.Error("잘못된 URI는 에러를 반환해야 합니다")
	}
}

// TestServer_MetricsResource는 proxy://metrics 리소스를 테스트합니다.
func TestServer_MetricsResource(t *testing.T) {
	env := newFacadeEnv(t)

	// 호출 하나를 만들어 메트릭에 흔적을 남김
	if _, err := env.registry.CallTool(context.Background(), "echo", json.RawMessage(`{}`), ""); err != nil {
		t.Fatalf("echo 호출 실패: %v", err)
	}

	req := mcp.ReadResourceRequest{}
	req.Params.URI = "proxy://metrics"

	contents, err := env.server.handleMetricsResource(context.Background(), req)
	if err != nil {
		t.Fatalf("metrics 리소스 조회 실패: %v", err)
	}

	var snapshot struct {
		CallsRouted   int64 `json:"calls_routed"`
		CallSuccesses int64 `json:"call_successes"`
	}
	if err := json.Unmarshal([]byte(resourceText(t, contents)), &snapshot); err != nil {
		t.Fatalf("스냅샷 디코딩 실패: %v", err)
	}
	if snapshot.CallsRouted != 1 || snapshot.CallSuccesses != 1 {
		t.Errorf("메트릭 스냅샷: %+v", snapshot)
	}
}

// TestExtractPeerIDFromURI는 리소스 URI 파싱을 테스트합니다.
func TestExtractPeerIDFromURI(t *testing.T) {
	tests := []struct {
		uri  string
		want string
	}{
		{"proxy://servers/github", "github"},
		{"proxy://servers/brave-search", "brave-search"},
		{"proxy://servers/", ""},
		{"proxy://status", ""},
		{"other://servers/github", ""},
	}

	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			if got := extractPeerIDFromURI(tt.uri); got != tt.want {
				t.Errorf("extractPeerIDFromURI(%q) = %q, want %q", tt.uri, got, tt.want)
			}
		})
	}
}
