package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// newStdioCmd는 stdio 피어의 서브프로세스 명령을 구성합니다.
// 기본 구현은 docker run -i --rm <args...> <image>입니다.
// 테스트에서 스텁 프로세스로 교체됩니다.
var newStdioCmd = func(p StdioParams) *exec.Cmd {
	args := append([]string{"run", "-i", "--rm"}, p.Args...)
	args = append(args, p.Image)
	return exec.Command("docker", args...)
}

// StdioAdapter는 하나의 서브프로세스를 전 수명 동안 소유하는 어댑터입니다.
//
// Initialize에서 프로세스를 생성하고 MCP 핸드셰이크를 수행하며,
// 이후 모든 호출은 stdioConn을 통해 stdin/stdout 위의 줄바꿈 구분
// JSON-RPC로 교환됩니다. stderr는 진단 전용이며 프로토콜로 파싱하지 않고
// 구조화 로그로 전달합니다.
//
// 프로세스가 종료되면 대기 중인 모든 호출이 ProcessExited로 해제되고
// 어댑터는 errored 상태가 됩니다. 이후 Initialize 재호출로 새 프로세스를
// 생성하여 복구할 수 있습니다.
type StdioAdapter struct {
	id     string
	params StdioParams
	opts   Options
	logger zerolog.Logger

	mu       sync.Mutex
	status   Status
	cmd      *exec.Cmd
	conn     *stdioConn
	procDone chan struct{}
}

// NewStdioAdapter는 stdio 어댑터를 생성합니다. 프로세스는 아직 생성하지 않습니다.
func NewStdioAdapter(id string, params StdioParams, opts Options, logger zerolog.Logger) *StdioAdapter {
	return &StdioAdapter{
		id:     id,
		params: params,
		opts:   opts.withDefaults(),
		status: StatusUninitialized,
		logger: logger.With().Str("component", "stdio-adapter").Str("peer", id).Logger(),
	}
}

// ID는 피어 식별자를 반환합니다.
func (a *StdioAdapter) ID() string { return a.id }

// Status는 어댑터의 현재 상태를 반환합니다.
func (a *StdioAdapter) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// Initialize는 서브프로세스를 생성하고 MCP 핸드셰이크를 수행합니다.
//
// 멱등합니다: 이미 ready이고 프로세스가 살아 있으면 아무것도 하지 않습니다.
// 생성 실패는 SpawnFailure, 핸드셰이크 실패/타임아웃은 HandshakeFailure로
// 표면화되며, 이 컴포넌트는 자동으로 재시도하지 않습니다.
func (a *StdioAdapter) Initialize(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.status == StatusShutdown {
		return newError(KindShutdown, a.id, "종료된 어댑터는 초기화할 수 없습니다", nil)
	}
	if a.status == StatusReady && a.conn != nil && !a.conn.closed() {
		// 두 번째 프로세스를 생성하지 않음
		return nil
	}

	cmd := newStdioCmd(a.params)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return newError(KindSpawnFailure, a.id, "stdin 파이프 생성 실패", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return newError(KindSpawnFailure, a.id, "stdout 파이프 생성 실패", err)
	}
	// stderr는 프로토콜 프레임을 운반하지 않음: 로그로만 전달
	cmd.Stderr = &stderrLogWriter{logger: a.logger}

	a.logger.Info().
		Str("image", a.params.Image).
		Strs("args", a.params.Args).
		Msg("서브프로세스 시작")

	if err := cmd.Start(); err != nil {
		return newError(KindSpawnFailure, a.id, fmt.Sprintf("이미지 %q 실행 실패", a.params.Image), err)
	}

	conn := newStdioConn(stdin, stdout, a.logger)
	procDone := make(chan struct{})

	// 프로세스 종료 감시: 종료 시 연결을 닫아 대기 중인 호출을 모두 해제
	go func() {
		waitErr := cmd.Wait()
		close(procDone)
		conn.close()

		a.mu.Lock()
		if a.conn == conn && a.status != StatusShutdown {
			a.status = StatusErrored
		}
		a.mu.Unlock()

		if waitErr != nil {
			a.logger.Warn().Err(waitErr).Msg("서브프로세스 종료됨")
		} else {
			a.logger.Debug().Msg("서브프로세스 정상 종료")
		}
	}()

	a.cmd = cmd
	a.conn = conn
	a.procDone = procDone

	// MCP 핸드셰이크: initialize 요청 후 initialized 알림
	if err := a.handshake(ctx, conn); err != nil {
		a.killLocked()
		a.status = StatusErrored
		return err
	}

	a.status = StatusReady
	a.logger.Info().Int("pid", cmd.Process.Pid).Msg("핸드셰이크 완료, 어댑터 준비됨")
	return nil
}

// handshake는 initialize 라운드트립과 initialized 알림을 수행합니다.
func (a *StdioAdapter) handshake(ctx context.Context, conn *stdioConn) error {
	hctx, cancel := context.WithTimeout(ctx, a.opts.HandshakeTimeout)
	defer cancel()

	params := InitializeParams{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo: ClientInfo{
			Name:    "mcp-client-proxy",
			Version: "0.1.0",
		},
	}

	result, err := conn.call(hctx, MethodInitialize, params)
	if err != nil {
		if errors.Is(err, errConnClosed) {
			return newError(KindHandshakeFailure, a.id, "핸드셰이크 중 프로세스가 종료되었습니다", err)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return newError(KindHandshakeFailure, a.id, "initialize 응답 타임아웃", err)
		}
		return newError(KindHandshakeFailure, a.id, "initialize 요청 실패", err)
	}

	var initResult InitializeResult
	if err := json.Unmarshal(result, &initResult); err != nil {
		return newError(KindHandshakeFailure, a.id, "initialize 응답 파싱 실패", err)
	}

	if err := conn.notify(MethodNotifyInitialized, nil); err != nil {
		return newError(KindHandshakeFailure, a.id, "initialized 알림 전송 실패", err)
	}

	a.logger.Debug().
		Str("server", initResult.ServerInfo.Name).
		Str("protocol", initResult.ProtocolVersion).
		Msg("피어 핸드셰이크 응답 수신")
	return nil
}

// ListTools는 피어의 현재 도구 카탈로그를 조회합니다.
// 호출마다 새로운 라운드트립이며 어댑터 내부에 캐싱하지 않습니다.
func (a *StdioAdapter) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
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
func (a *StdioAdapter) CallTool(ctx context.Context, name string, arguments json.RawMessage) (json.RawMessage, error) {
	return a.rpc(ctx, MethodToolsCall, CallToolParams{Name: name, Arguments: arguments})
}

// Ping은 살아 있는 서브프로세스에 대한 요청/응답 라운드트립입니다.
func (a *StdioAdapter) Ping(ctx context.Context) error {
	_, err := a.rpc(ctx, MethodPing, struct{}{})
	return err
}

// rpc는 공통 호출 경로입니다: 연결 스냅샷, 호출 타임아웃 적용, 에러 분류.
func (a *StdioAdapter) rpc(ctx context.Context, method string, params any) (json.RawMessage, error) {
	a.mu.Lock()
	conn := a.conn
	status := a.status
	a.mu.Unlock()

	switch status {
	case StatusShutdown:
		return nil, newError(KindShutdown, a.id, "어댑터가 종료되었습니다", nil)
	case StatusReady:
		// 호출 진행
	default:
		return nil, newError(KindProcessExited, a.id, "어댑터가 준비되지 않았습니다", nil)
	}

	cctx, cancel := context.WithTimeout(ctx, a.opts.CallTimeout)
	defer cancel()

	result, err := conn.call(cctx, method, params)
	if err != nil {
		return nil, a.classify(method, err)
	}
	return result, nil
}

// classify는 연결 수준 에러를 AdapterError로 매핑합니다.
// 피어의 JSON-RPC 에러는 도구 수준 실패이므로 변환 없이 전파합니다.
func (a *StdioAdapter) classify(method string, err error) error {
	var rpcErr *JSONRPCError
	if errors.As(err, &rpcErr) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return newError(KindTimeout, a.id, fmt.Sprintf("%s 호출이 데드라인을 초과했습니다", method), err)
	}
	if errors.Is(err, context.Canceled) {
		return newError(KindTimeout, a.id, fmt.Sprintf("%s 호출이 취소되었습니다", method), err)
	}
	if errors.Is(err, errConnClosed) {
		a.mu.Lock()
		status := a.status
		a.mu.Unlock()
		if status == StatusShutdown {
			return newError(KindShutdown, a.id, "어댑터 종료로 호출이 취소되었습니다", err)
		}
		return newError(KindProcessExited, a.id, "호출 대기 중 프로세스가 종료되었습니다", err)
	}
	return newError(KindProcessExited, a.id, fmt.Sprintf("%s 호출 실패", method), err)
}

// Shutdown은 stdin을 닫고 잠시 정상 종료를 기다린 뒤,
// 종료하지 않으면 프로세스를 강제 종료합니다. 에러를 발생시키지 않습니다.
func (a *StdioAdapter) Shutdown() {
	a.mu.Lock()
	if a.status == StatusShutdown {
		a.mu.Unlock()
		return
	}
	a.status = StatusShutdown
	conn := a.conn
	procDone := a.procDone
	a.mu.Unlock()

	if conn == nil {
		return
	}

	a.logger.Info().Msg("어댑터 종료 시작")

	// stdin만 닫고 대기하지 않음: 닫힘을 무시하고 계속 실행되는 프로세스도
	// 아래의 유예/강제 종료 경로에 도달해야 함
	conn.closeStdin()

	if procDone != nil {
		select {
		case <-procDone:
			a.logger.Debug().Msg("서브프로세스 정상 종료 확인")
		case <-time.After(a.opts.ShutdownGrace):
			a.logger.Warn().Msg("유예 시간 초과, 프로세스 강제 종료")
			a.mu.Lock()
			a.killLocked()
			a.mu.Unlock()
			<-procDone
		}
	}

	// 프로세스 종료 후 stdout EOF로 readLoop이 끝나고
	// 대기 중인 호출이 모두 Shutdown으로 해제됨
	conn.close()
}

// killLocked는 프로세스를 강제 종료합니다. mu를 잡은 상태에서 호출해야 합니다.
func (a *StdioAdapter) killLocked() {
	if a.cmd != nil && a.cmd.Process != nil {
		_ = a.cmd.Process.Kill()
	}
}

// stderrLogWriter는 서브프로세스의 stderr를 구조화 로그로 전달합니다.
type stderrLogWriter struct {
	logger zerolog.Logger
}

func (w *stderrLogWriter) Write(p []byte) (int, error) {
	msg := strings.TrimRight(string(p), "\n")
	if msg != "" {
		w.logger.Debug().Str("stream", "stderr").Msg(msg)
	}
	return len(p), nil
}
