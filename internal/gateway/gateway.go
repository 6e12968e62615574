// Package gateway는 프록시의 외부 HTTP 표면입니다.
//
// 모든 클라이언트는 이 게이트웨이의 단일 호출 규약만 알면 되고,
// 피어별 트랜스포트 차이는 Registry와 어댑터 뒤로 숨겨집니다.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Tomas1307/mcp-client-proxy/internal/adapter"
	"github.com/Tomas1307/mcp-client-proxy/internal/registry"
)

// Server는 게이트웨이 HTTP 서버입니다.
type Server struct {
	registry *registry.Registry
	logger   zerolog.Logger
	srv      *http.Server
}

// New는 게이트웨이 서버를 생성합니다. 아직 리스닝하지 않습니다.
func New(reg *registry.Registry, addr string, logger zerolog.Logger) *Server {
	s := &Server{
		registry: reg,
		logger:   logger.With().Str("component", "gateway").Logger(),
	}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler는 라우팅과 미들웨어가 구성된 핸들러를 반환합니다.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /tools/list", s.handleListTools)
	mux.HandleFunc("POST /call_tool", s.handleCallTool)
	mux.HandleFunc("GET /status/{server_id}", s.handleStatus)
	mux.HandleFunc("GET /ping/{server_id}", s.handlePing)
	mux.HandleFunc("GET /debug/servers", s.handleDebugServers)
	mux.HandleFunc("GET /metrics", s.handleMetrics)

	return s.withRequestID(s.withAccessLog(mux))
}

// Start는 리스닝을 시작하고 서버가 종료될 때까지 블록합니다.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.srv.Addr).Msg("게이트웨이 리스닝 시작")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown은 진행 중인 요청을 기다리며 서버를 정상 종료합니다.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("게이트웨이 종료 시작")
	return s.srv.Shutdown(ctx)
}

type contextKey string

const requestIDKey contextKey = "request_id"

// withRequestID는 요청마다 uuid를 부여하고 응답 헤더로 노출합니다.
func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", reqID)
		ctx := context.WithValue(r.Context(), requestIDKey, reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestID는 컨텍스트에서 요청 id를 꺼냅니다.
func requestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// statusRecorder는 응답 상태 코드를 기록하는 ResponseWriter 래퍼입니다.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// withAccessLog는 요청 단위 접근 로그를 기록합니다.
func (s *Server) withAccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		s.logger.Info().
			Str("request_id", requestID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("elapsed", time.Since(start)).
			Msg("요청 처리")
	})
}

// writeJSON은 JSON 응답을 기록합니다.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// httpStatusFor는 라우팅/어댑터 에러를 HTTP 상태 코드로 매핑합니다.
//
//   - 피어의 JSON-RPC 에러는 도구 수준 실패: method-not-found는 501,
//     그 외는 400 (클라이언트가 잘못된 도구/인자를 보낸 경우)
//   - UnknownTool/UnknownPeer: 404
//   - Timeout: 504, 연결 계층 실패: 502, 종료 중: 503
func httpStatusFor(err error) int {
	var rpcErr *adapter.JSONRPCError
	if errors.As(err, &rpcErr) {
		if rpcErr.Code == adapter.ErrCodeMethodNotFound {
			return http.StatusNotImplemented
		}
		return http.StatusBadRequest
	}

	switch adapter.KindOf(err) {
	case adapter.KindUnknownTool, adapter.KindUnknownPeer:
		return http.StatusNotFound
	case adapter.KindTimeout:
		return http.StatusGatewayTimeout
	case adapter.KindProcessExited, adapter.KindTransportFailure,
		adapter.KindSpawnFailure, adapter.KindHandshakeFailure,
		adapter.KindMalformedMessage:
		return http.StatusBadGateway
	case adapter.KindShutdown:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
