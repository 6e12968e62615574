// Package adapter는 이기종 MCP 백엔드 피어를 단일 호출 인터페이스로 변환합니다.
// 각 피어는 stdio 서브프로세스(컨테이너) 또는 원격 HTTP 엔드포인트로 연결되며,
// 두 트랜스포트 모두 동일한 JSON-RPC 2.0 페이로드를 사용합니다.
package adapter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
)

// Transport는 피어 연결 방식입니다.
type Transport string

const (
	// TransportStdio는 로컬 서브프로세스의 stdin/stdout을 통한 연결입니다.
	TransportStdio Transport = "stdio"
	// TransportHTTP는 고정 base URL에 대한 HTTP 요청을 통한 연결입니다.
	TransportHTTP Transport = "http"
)

// Status는 어댑터의 현재 상태입니다.
type Status string

const (
	// StatusUninitialized는 Initialize가 아직 성공하지 않은 상태입니다.
	StatusUninitialized Status = "uninitialized"
	// StatusReady는 피어와 통신 가능한 상태입니다.
	StatusReady Status = "ready"
	// StatusErrored는 초기화 실패 또는 프로세스 종료로 통신 불가능한 상태입니다.
	// 이후 Initialize 재호출로 복구될 수 있습니다.
	StatusErrored Status = "errored"
	// StatusShutdown은 Shutdown이 호출되어 리소스가 해제된 상태입니다.
	StatusShutdown Status = "shutdown"
)

// StdioParams는 stdio 피어의 실행 파라미터입니다.
// 컨테이너 이미지와 docker run에 전달할 추가 인자를 담습니다.
type StdioParams struct {
	Image string   `yaml:"image" json:"image"`
	Args  []string `yaml:"args" json:"args,omitempty"`
}

// HTTPParams는 HTTP 피어의 연결 파라미터입니다.
type HTTPParams struct {
	BaseURL string `yaml:"base_url" json:"base_url"`
}

// PeerDescriptor는 하나의 백엔드 피어를 기술하는 불변 값입니다.
// 설정 로딩이 생성하고 Registry 구성 시 한 번 소비됩니다.
type PeerDescriptor struct {
	ID        string       `yaml:"id" json:"id"`
	Transport Transport    `yaml:"transport" json:"transport"`
	Stdio     *StdioParams `yaml:"stdio,omitempty" json:"stdio,omitempty"`
	HTTP      *HTTPParams  `yaml:"http,omitempty" json:"http,omitempty"`
}

// Validate는 디스크립터의 필수 필드를 검증합니다.
func (d PeerDescriptor) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("피어 디스크립터에 id가 없습니다")
	}
	switch d.Transport {
	case TransportStdio:
		if d.Stdio == nil || d.Stdio.Image == "" {
			return fmt.Errorf("stdio 피어 %q에 image가 없습니다", d.ID)
		}
	case TransportHTTP:
		if d.HTTP == nil || d.HTTP.BaseURL == "" {
			return fmt.Errorf("http 피어 %q에 base_url이 없습니다", d.ID)
		}
	default:
		return fmt.Errorf("피어 %q의 트랜스포트 %q를 지원하지 않습니다", d.ID, d.Transport)
	}
	return nil
}

// ToolDescriptor는 피어가 광고하는 하나의 도구입니다.
type ToolDescriptor struct {
	Name         string          `json:"name"`
	Description  string          `json:"description,omitempty"`
	Schema       json.RawMessage `json:"schema,omitempty"`
	OwningPeerID string          `json:"owning_peer_id"`
}

// Adapter는 하나의 피어에 대한 통신 계약입니다.
// 두 변형(StdioAdapter, HTTPAdapter)이 동일한 의미로 구현합니다.
//
// Initialize는 멱등합니다: 이미 초기화된 어댑터에 다시 호출해도
// 두 번째 서브프로세스를 생성하지 않습니다.
// ListTools는 호출마다 피어와의 라운드트립입니다 (캐싱은 Registry의 책임).
// Shutdown은 에러를 반환하지 않으며 모든 트랜스포트 리소스를 해제합니다.
type Adapter interface {
	ID() string
	Status() Status
	Initialize(ctx context.Context) error
	ListTools(ctx context.Context) ([]ToolDescriptor, error)
	CallTool(ctx context.Context, name string, arguments json.RawMessage) (json.RawMessage, error)
	Ping(ctx context.Context) error
	Shutdown()
}

// New는 디스크립터의 트랜스포트에 따라 어댑터 변형을 생성합니다.
func New(desc PeerDescriptor, opts Options, logger zerolog.Logger) (Adapter, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	switch desc.Transport {
	case TransportStdio:
		return NewStdioAdapter(desc.ID, *desc.Stdio, opts, logger), nil
	case TransportHTTP:
		return NewHTTPAdapter(desc.ID, *desc.HTTP, opts, logger), nil
	default:
		return nil, fmt.Errorf("피어 %q의 트랜스포트 %q를 지원하지 않습니다", desc.ID, desc.Transport)
	}
}
