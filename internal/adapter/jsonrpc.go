package adapter

import (
	"encoding/json"
	"fmt"
)

// ===== JSON-RPC 2.0 기본 타입 =====

// JSONRPCRequest는 JSON-RPC 2.0 요청 메시지입니다.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JSONRPCResponse는 JSON-RPC 2.0 응답 메시지입니다.
type JSONRPCResponse struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      int64            `json:"id"`
	Result  *json.RawMessage `json:"result,omitempty"`
	Error   *JSONRPCError    `json:"error,omitempty"`
}

// JSONRPCNotification은 JSON-RPC 2.0 알림 메시지입니다 (id 없음).
type JSONRPCNotification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JSONRPCError는 피어가 반환한 JSON-RPC 에러 객체입니다.
// 도구 수준의 실패이므로 AdapterError로 변환하지 않고 그대로 전파합니다.
type JSONRPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Error는 JSONRPCError를 Go error 인터페이스로 구현합니다.
func (e *JSONRPCError) Error() string {
	return fmt.Sprintf("JSON-RPC 에러 [%d]: %s", e.Code, e.Message)
}

// JSON-RPC 표준 에러 코드
const (
	// ErrCodeParseError는 JSON 파싱 에러입니다.
	ErrCodeParseError = -32700
	// ErrCodeInvalidRequest는 잘못된 요청입니다.
	ErrCodeInvalidRequest = -32600
	// ErrCodeMethodNotFound는 메서드를 찾을 수 없을 때입니다.
	ErrCodeMethodNotFound = -32601
	// ErrCodeInvalidParams는 잘못된 파라미터입니다.
	ErrCodeInvalidParams = -32602
	// ErrCodeInternalError는 내부 에러입니다.
	ErrCodeInternalError = -32603
)

// ===== MCP 프로토콜 메서드 =====

const (
	// MethodInitialize는 초기화 핸드셰이크 요청입니다.
	MethodInitialize = "initialize"
	// MethodNotifyInitialized는 핸드셰이크 완료 알림입니다.
	MethodNotifyInitialized = "notifications/initialized"
	// MethodToolsList는 도구 카탈로그 조회입니다.
	MethodToolsList = "tools/list"
	// MethodToolsCall은 도구 호출입니다.
	MethodToolsCall = "tools/call"
	// MethodPing은 경량 생존 확인입니다.
	MethodPing = "ping"
)

// ProtocolVersion은 핸드셰이크에 사용하는 MCP 프로토콜 버전입니다.
const ProtocolVersion = "2024-11-05"

// InitializeParams는 initialize 요청 파라미터입니다.
type InitializeParams struct {
	ProtocolVersion string          `json:"protocolVersion"`
	Capabilities    map[string]any  `json:"capabilities"`
	ClientInfo      ClientInfo      `json:"clientInfo"`
}

// ClientInfo는 핸드셰이크에 포함되는 클라이언트 식별 정보입니다.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeResult는 initialize 응답입니다.
type InitializeResult struct {
	ProtocolVersion string     `json:"protocolVersion"`
	ServerInfo      ServerInfo `json:"serverInfo"`
}

// ServerInfo는 피어가 보고하는 서버 식별 정보입니다.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ToolsListResult는 tools/list 응답입니다.
type ToolsListResult struct {
	Tools []ToolInfo `json:"tools"`
}

// ToolInfo는 피어가 광고하는 도구의 와이어 표현입니다.
type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// CallToolParams는 tools/call 요청 파라미터입니다.
type CallToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}
