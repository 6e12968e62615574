package adapter

import "time"

const (
	// DefaultCallTimeout은 개별 호출의 기본 데드라인입니다.
	DefaultCallTimeout = 30 * time.Second
	// DefaultHandshakeTimeout은 initialize 핸드셰이크의 기본 데드라인입니다.
	DefaultHandshakeTimeout = 15 * time.Second
	// DefaultShutdownGrace는 stdin 닫기 후 강제 종료까지의 유예 시간입니다.
	DefaultShutdownGrace = 5 * time.Second
)

// Options는 어댑터 공통 타임아웃 설정입니다.
// 0 값 필드는 기본값으로 대체됩니다.
type Options struct {
	CallTimeout      time.Duration
	HandshakeTimeout time.Duration
	ShutdownGrace    time.Duration
}

// withDefaults는 0 값 필드를 기본값으로 채운 복사본을 반환합니다.
func (o Options) withDefaults() Options {
	if o.CallTimeout <= 0 {
		o.CallTimeout = DefaultCallTimeout
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if o.ShutdownGrace <= 0 {
		o.ShutdownGrace = DefaultShutdownGrace
	}
	return o
}
