package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// HTTPAdapter는 고정 base URL에 대한 HTTP 요청으로 Adapter 계약을 구현합니다.
//
// stdio 변형과 동일한 JSON-RPC 요청 본문을 사용하므로 두 트랜스포트는
// 페이로드 수준에서 호환되며 프레이밍만 다릅니다. 영속 연결 상태는 없고
// 각 호출은 독립된 요청입니다.
type HTTPAdapter struct {
	id      string
	baseURL string
	opts    Options
	client  *http.Client
	nextID  atomic.Int64
	logger  zerolog.Logger

	mu     sync.Mutex
	status Status
}

// NewHTTPAdapter는 HTTP 어댑터를 생성합니다.
func NewHTTPAdapter(id string, params HTTPParams, opts Options, logger zerolog.Logger) *HTTPAdapter {
	opts = opts.withDefaults()
	return &HTTPAdapter{
		id:      id,
		baseURL: strings.TrimRight(params.BaseURL, "/"),
		opts:    opts,
		client:  &http.Client{Timeout: opts.CallTimeout},
		status:  StatusUninitialized,
		logger:  logger.With().Str("component", "http-adapter").Str("peer", id).Logger(),
	}
}

// ID는 피어 식별자를 반환합니다.
func (a *HTTPAdapter) ID() string { return a.id }

// Status는 어댑터의 현재 상태를 반환합니다.
func (a *HTTPAdapter) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// Initialize는 base URL이 유효한지 검증합니다. 멱등합니다.
func (a *HTTPAdapter) Initialize(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.status == StatusShutdown {
		return newError(KindShutdown, a.id, "종료된 어댑터는 초기화할 수 없습니다", nil)
	}
	if a.status == StatusReady {
		return nil
	}

	u, err := url.Parse(a.baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		a.status = StatusErrored
		return newError(KindTransportFailure, a.id, fmt.Sprintf("base URL %q이 유효하지 않습니다", a.baseURL), err)
	}

	a.status = StatusReady
	a.logger.Info().Str("base_url", a.baseURL).Msg("HTTP 어댑터 준비됨")
	return nil
}

// ListTools는 피어의 현재 도구 카탈로그를 조회합니다.
func (a *HTTPAdapter) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	result, err := a.rpc(ctx, MethodToolsList, struct{}{})
	if err != nil {
		return nil, err
	}

	var listResult ToolsListResult
	if err := json.Unmarshal(result, &listResult); err != nil {
		return nil, newError(KindMalformedMessage, a.id, "tools/list 응답 파싱 실패", err)
	}

	tools := make([]ToolDescriptor, 0, len(listResult.Tools))
	for _, t := range listResult.Tools {
		tools = append(tools, ToolDescriptor{
			Name:         t.Name,
			Description:  t.Description,
			Schema:       t.InputSchema,
			OwningPeerID: a.id,
		})
	}
	return tools, nil
}

// CallTool은 도구 하나를 호출하고 원시 결과 페이로드를 반환합니다.
func (a *HTTPAdapter) CallTool(ctx context.Context, name string, arguments json.RawMessage) (json.RawMessage, error) {
	return a.rpc(ctx, MethodToolsCall, CallToolParams{Name: name, Arguments: arguments})
}

// Ping은 피어 엔드포인트에 대한 경량 생존 확인 요청입니다.
func (a *HTTPAdapter) Ping(ctx context.Context) error {
	_, err := a.rpc(ctx, MethodPing, struct{}{})
	return err
}

// Shutdown은 유휴 연결을 닫습니다. 에러를 발생시키지 않습니다.
func (a *HTTPAdapter) Shutdown() {
	a.mu.Lock()
	a.status = StatusShutdown
	a.mu.Unlock()
	a.client.CloseIdleConnections()
}

// rpc는 JSON-RPC 요청 본문을 base URL에 POST하고 응답 본문을 파싱합니다.
//
// 에러 매핑: 연결 실패와 비 2xx 응답은 TransportFailure,
// 응답 본문 파싱 실패는 MalformedMessage, 피어의 JSON-RPC 에러는
// 변환 없이 전파됩니다.
func (a *HTTPAdapter) rpc(ctx context.Context, method string, params any) (json.RawMessage, error) {
	a.mu.Lock()
	status := a.status
	a.mu.Unlock()

	switch status {
	case StatusShutdown:
		return nil, newError(KindShutdown, a.id, "어댑터가 종료되었습니다", nil)
	case StatusReady:
		// 호출 진행
	default:
		return nil, newError(KindTransportFailure, a.id, "어댑터가 준비되지 않았습니다", nil)
	}

	req := JSONRPCRequest{
		JSONRPC: "2.0",
		ID:      a.nextID.Add(1),
		Method:  method,
	}
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, newError(KindTransportFailure, a.id, "params 직렬화 실패", err)
		}
		req.Params = data
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, newError(KindTransportFailure, a.id, "요청 직렬화 실패", err)
	}

	cctx, cancel := context.WithTimeout(ctx, a.opts.CallTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(cctx, http.MethodPost, a.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, newError(KindTransportFailure, a.id, "HTTP 요청 생성 실패", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	a.logger.Debug().Int64("id", req.ID).Str("method", method).Msg("JSON-RPC 요청 전송")

	httpResp, err := a.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, newError(KindTimeout, a.id, fmt.Sprintf("%s 호출이 데드라인을 초과했습니다", method), err)
		}
		return nil, newError(KindTransportFailure, a.id, "피어에 연결할 수 없습니다", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, newError(KindTransportFailure, a.id, "응답 읽기 실패", err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, newError(KindTransportFailure, a.id,
			fmt.Sprintf("HTTP %d 응답 수신", httpResp.StatusCode), nil)
	}

	var resp JSONRPCResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, newError(KindMalformedMessage, a.id, "응답 본문 파싱 실패", err)
	}

	if resp.Error != nil {
		return nil, resp.Error
	}
	if resp.Result == nil {
		return nil, nil
	}
	return *resp.Result, nil
}
