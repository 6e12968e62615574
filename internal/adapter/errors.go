package adapter

import (
	"errors"
	"fmt"
)

// ErrorKind는 AdapterError의 분류입니다.
// 모든 어댑터 실패는 이 중 하나의 구체적인 종류로 표면화됩니다.
type ErrorKind string

const (
	// KindSpawnFailure는 서브프로세스를 시작할 수 없는 경우입니다.
	KindSpawnFailure ErrorKind = "spawn_failure"
	// KindHandshakeFailure는 initialize 라운드트립 실패 또는 타임아웃입니다.
	KindHandshakeFailure ErrorKind = "handshake_failure"
	// KindTimeout은 특정 호출이 데드라인을 초과한 경우입니다.
	KindTimeout ErrorKind = "timeout"
	// KindProcessExited는 호출이 대기 중인 동안 서브프로세스가 종료된 경우입니다.
	KindProcessExited ErrorKind = "process_exited"
	// KindMalformedMessage는 피어가 파싱 불가능한 데이터를 보낸 경우입니다.
	KindMalformedMessage ErrorKind = "malformed_message"
	// KindTransportFailure는 HTTP 연결/DNS/5xx 계열 실패입니다.
	KindTransportFailure ErrorKind = "transport_failure"
	// KindUnknownTool은 요청된 도구가 인덱스에 없는 경우입니다.
	KindUnknownTool ErrorKind = "unknown_tool"
	// KindUnknownPeer는 지정된 peer id의 어댑터가 없는 경우입니다.
	KindUnknownPeer ErrorKind = "unknown_peer"
	// KindShutdown은 어댑터 종료로 호출이 취소된 경우입니다.
	KindShutdown ErrorKind = "shutdown"
)

// AdapterError는 모든 어댑터 경계에서 반환되는 분류된 에러입니다.
// 트랜스포트 수준 예외는 어댑터 밖으로 그대로 전파되지 않고
// 반드시 이 타입으로 변환됩니다.
type AdapterError struct {
	Kind    ErrorKind
	PeerID  string
	Message string
	Err     error
}

// Error는 error 인터페이스 구현입니다.
func (e *AdapterError) Error() string {
	msg := fmt.Sprintf("피어 %s [%s]: %s", e.PeerID, e.Kind, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap은 원인 에러를 반환합니다.
func (e *AdapterError) Unwrap() error {
	return e.Err
}

// newError는 AdapterError를 생성합니다.
func newError(kind ErrorKind, peerID, message string, cause error) *AdapterError {
	return &AdapterError{Kind: kind, PeerID: peerID, Message: message, Err: cause}
}

// KindOf는 에러 체인에서 AdapterError의 종류를 추출합니다.
// AdapterError가 아니면 빈 문자열을 반환합니다.
func KindOf(err error) ErrorKind {
	var ae *AdapterError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}

// IsKind는 에러가 지정된 종류의 AdapterError인지 확인합니다.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
