package adapter

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// errConnClosed는 연결이 종료되어 더 이상 호출할 수 없을 때 반환됩니다.
// 호출자(StdioAdapter)가 어댑터 상태에 따라 ProcessExited 또는 Shutdown으로 매핑합니다.
var errConnClosed = fmt.Errorf("stdio 연결이 종료되었습니다")

// stdioConn은 서브프로세스의 stdin/stdout 위에서 동작하는
// JSON-RPC 2.0 요청/응답 상관 계층입니다.
//
// 프레이밍은 줄바꿈 구분 JSON입니다: 요청은 한 줄로 stdin에 기록되고,
// 전용 readLoop 고루틴이 stdout을 줄 단위로 소비하여 id로 응답을 상관시킵니다.
// stdin은 단일 작성자 리소스이므로 writeMu로 직렬화합니다.
// 요청 id는 이 연결(= 서브프로세스 인스턴스)의 수명 동안 단조 증가하며 고유합니다.
type stdioConn struct {
	stdin     io.WriteCloser
	scanner   *bufio.Scanner
	nextID    atomic.Int64
	pending   map[int64]chan *JSONRPCResponse
	pendingMu sync.Mutex
	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
	logger    zerolog.Logger
}

// newStdioConn은 상관 계층을 생성하고 readLoop을 시작합니다.
func newStdioConn(stdin io.WriteCloser, stdout io.Reader, logger zerolog.Logger) *stdioConn {
	scanner := bufio.NewScanner(stdout)
	// 큰 도구 응답을 위해 버퍼를 1MB까지 확장
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	c := &stdioConn{
		stdin:   stdin,
		scanner: scanner,
		pending: make(map[int64]chan *JSONRPCResponse),
		done:    make(chan struct{}),
		logger:  logger.With().Str("component", "stdio-conn").Logger(),
	}

	go c.readLoop()
	return c
}

// call은 요청을 전송하고 상관된 응답이 도착하거나 ctx가 만료되거나
// 연결이 종료될 때까지 호출자를 중단시킵니다.
func (c *stdioConn) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	select {
	case <-c.done:
		return nil, errConnClosed
	default:
	}

	id := c.nextID.Add(1)

	req := JSONRPCRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
	}
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("params 직렬화 실패: %w", err)
		}
		req.Params = data
	}

	// 응답 채널 등록 (전송 전에 등록해야 빠른 응답을 놓치지 않음)
	respCh := make(chan *JSONRPCResponse, 1)
	c.pendingMu.Lock()
	c.pending[id] = respCh
	c.pendingMu.Unlock()

	// 타임아웃/종료 시에도 엔트리 제거를 보장 (늦은 응답은 readLoop에서 폐기됨)
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	if err := c.writeLine(req); err != nil {
		return nil, err
	}

	c.logger.Debug().
		Int64("id", id).
		Str("method", method).
		Msg("JSON-RPC 요청 전송")

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, errConnClosed
	case resp, ok := <-respCh:
		if !ok || resp == nil {
			return nil, errConnClosed
		}
		if resp.Error != nil {
			return nil, resp.Error
		}
		if resp.Result == nil {
			return nil, nil
		}
		return *resp.Result, nil
	}
}

// notify는 응답을 기대하지 않는 알림을 전송합니다.
func (c *stdioConn) notify(method string, params any) error {
	select {
	case <-c.done:
		return errConnClosed
	default:
	}

	notif := JSONRPCNotification{
		JSONRPC: "2.0",
		Method:  method,
	}
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("params 직렬화 실패: %w", err)
		}
		notif.Params = data
	}

	return c.writeLine(notif)
}

// writeLine은 메시지 하나를 줄바꿈으로 종료된 한 줄로 stdin에 기록합니다.
// writeMu가 동시 호출자의 부분 쓰기 교차를 방지합니다.
func (c *stdioConn) writeLine(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("메시지 직렬화 실패: %w", err)
	}
	data = append(data, '\n')

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if _, err := c.stdin.Write(data); err != nil {
		return fmt.Errorf("stdin 쓰기 실패: %w", err)
	}
	return nil
}

// closeStdin은 stdin만 닫고 즉시 반환합니다. stdin 닫힘을 무시하는
// 프로세스가 호출자를 중단시키지 않습니다. 여러 번 호출해도 안전합니다.
func (c *stdioConn) closeStdin() {
	c.closeOnce.Do(func() {
		_ = c.stdin.Close()
	})
}

// close는 stdin을 닫고 readLoop 종료를 대기합니다.
// readLoop이 끝나면 대기 중인 모든 호출이 해제된 상태입니다.
func (c *stdioConn) close() {
	c.closeStdin()
	<-c.done
}

// closed는 연결 종료 여부를 반환합니다.
func (c *stdioConn) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// readLoop은 stdout을 줄 단위로 소비하는 전용 고루틴입니다.
//
//   - id가 있고 method가 없는 줄은 응답이며, 대기 중인 호출에 전달됩니다.
//   - id가 없는 줄은 알림이며 폐기됩니다 (라우팅 범위 밖).
//   - 유효한 JSON이 아닌 줄은 로그 후 폐기되며, 다른 호출의 상관을
//     손상시키지 않습니다.
//
// EOF 또는 스캔 에러 시 대기 중인 모든 채널을 닫아 호출자를 깨우고 종료합니다.
func (c *stdioConn) readLoop() {
	defer close(c.done)

	for c.scanner.Scan() {
		line := c.scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		if line[0] != '{' {
			// 프로토콜 프레임이 아닌 출력 (배너 등)
			c.logger.Trace().Str("line", string(line)).Msg("JSON이 아닌 라인 무시")
			continue
		}

		var raw struct {
			ID     *json.RawMessage `json:"id"`
			Method string           `json:"method"`
		}
		if err := json.Unmarshal(line, &raw); err != nil {
			c.logger.Warn().Err(err).Str("line", string(line)).Msg("잘못된 형식의 라인 폐기")
			continue
		}

		switch {
		case raw.ID != nil && raw.Method == "":
			c.dispatchResponse(line)
		case raw.Method != "":
			// 알림 및 서버발 요청은 라우팅하지 않음
			c.logger.Trace().Str("method", raw.Method).Msg("알림 폐기")
		}
	}

	if err := c.scanner.Err(); err != nil {
		c.logger.Debug().Err(err).Msg("readLoop 스캐너 에러")
	}

	// 대기 중인 모든 호출 해제 (프로세스 종료 팬아웃)
	c.pendingMu.Lock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()
}

// dispatchResponse는 응답 한 건을 id가 일치하는 대기 호출에 전달합니다.
// 일치하는 엔트리가 없으면 (타임아웃된 호출의 늦은 응답, 또는 중복 전달)
// 로그 후 조용히 폐기합니다.
func (c *stdioConn) dispatchResponse(data []byte) {
	var resp JSONRPCResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		c.logger.Warn().Err(err).Msg("응답 파싱 실패")
		return
	}

	c.pendingMu.Lock()
	ch, ok := c.pending[resp.ID]
	if ok {
		// 첫 전달만 유효: 버퍼가 이미 차 있으면 중복 응답이므로 폐기
		select {
		case ch <- &resp:
		default:
			ok = false
		}
	}
	c.pendingMu.Unlock()

	if !ok {
		c.logger.Warn().Int64("id", resp.ID).Msg("대기 중이 아닌 ID의 응답 폐기")
	}
}
