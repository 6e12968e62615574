// Package registry는 모든 어댑터를 소유하고 도구 검색과 호출 라우팅을 담당합니다.
//
// Registry는 프로세스 시작 시 피어 디스크립터 목록으로 한 번 구성되는
// 명시적 값이며, 소비자에게 핸들로 전달됩니다. 전역 싱글턴은 없습니다.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Tomas1307/mcp-client-proxy/internal/adapter"
	"github.com/Tomas1307/mcp-client-proxy/internal/metrics"
)

// peerEntry는 등록된 피어 하나의 상태입니다.
// 어댑터는 Registry가 독점 소유하며 Registry보다 오래 살지 않습니다.
type peerEntry struct {
	desc    adapter.PeerDescriptor
	adapter adapter.Adapter

	mu       sync.Mutex
	initErr  error
	lastInit time.Time
}

// setInitErr는 마지막 초기화 결과를 기록합니다.
func (e *peerEntry) setInitErr(err error) {
	e.mu.Lock()
	e.initErr = err
	e.lastInit = time.Now()
	e.mu.Unlock()
}

// initError는 마지막 초기화 에러를 반환합니다 (성공이면 nil).
func (e *peerEntry) initError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.initErr
}

// Registry는 어댑터 컬렉션과 도구 인덱스를 소유합니다.
type Registry struct {
	logger  zerolog.Logger
	metrics *metrics.Metrics
	monitor *Monitor

	// peers는 등록 순서를 보존합니다 (충돌 정책: 먼저 등록된 피어 우선).
	peers []*peerEntry
	byID  map[string]*peerEntry

	// index는 도구 이름 → 소유 피어 id 매핑입니다.
	// 갱신 시 전체를 새 맵으로 교체하며, 부분 수정은 하지 않습니다.
	indexMu sync.RWMutex
	index   map[string]string
}

// PeerStatus는 피어 하나의 조회 전용 상태 스냅샷입니다.
type PeerStatus struct {
	ID        string            `json:"id"`
	Transport adapter.Transport `json:"transport"`
	Status    adapter.Status    `json:"status"`
	ToolCount int               `json:"tool_count"`
	LastError string            `json:"last_error,omitempty"`
	Stats     CallStatsSnapshot `json:"stats"`
}

// ToolListing은 피어 하나의 도구 목록 조회 결과입니다.
type ToolListing struct {
	Tools []adapter.ToolDescriptor `json:"tools,omitempty"`
	Error string                   `json:"error,omitempty"`
}

// New는 디스크립터마다 어댑터를 생성하여 Registry를 구성합니다.
// 아직 어떤 피어도 초기화하지 않습니다 (Init 참조).
func New(descs []adapter.PeerDescriptor, opts adapter.Options, logger zerolog.Logger) (*Registry, error) {
	r := &Registry{
		logger:  logger.With().Str("component", "registry").Logger(),
		metrics: metrics.NewMetrics(),
		byID:    make(map[string]*peerEntry, len(descs)),
		index:   make(map[string]string),
	}
	r.monitor = NewMonitor(r)

	for _, desc := range descs {
		if _, ok := r.byID[desc.ID]; ok {
			return nil, fmt.Errorf("피어 id %q가 중복됩니다", desc.ID)
		}

		a, err := adapter.New(desc, opts, logger)
		if err != nil {
			return nil, fmt.Errorf("피어 %q 어댑터 생성 실패: %w", desc.ID, err)
		}

		entry := &peerEntry{desc: desc, adapter: a}
		r.peers = append(r.peers, entry)
		r.byID[desc.ID] = entry
	}

	r.logger.Info().Int("peers", len(r.peers)).Msg("레지스트리 구성 완료")
	return r, nil
}

// Metrics는 프로세스 수준 메트릭을 반환합니다.
func (r *Registry) Metrics() *metrics.Metrics {
	return r.metrics
}

// Monitor는 피어별 호출 통계 수집기를 반환합니다.
func (r *Registry) Monitor() *Monitor {
	return r.monitor
}

// Init은 모든 피어를 병렬로 초기화한 뒤 도구 인덱스를 구축합니다.
//
// 초기화에 실패한 피어는 제거되지 않고 errored 상태로 남아
// 상태 조회는 가능하지만, 재초기화에 성공할 때까지 도구 인덱스와
// 호출 라우팅에서 제외됩니다.
func (r *Registry) Init(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, entry := range r.peers {
		wg.Add(1)
		go func(e *peerEntry) {
			defer wg.Done()
			err := e.adapter.Initialize(ctx)
			e.setInitErr(err)
			if err != nil {
				r.logger.Error().Err(err).Str("peer", e.desc.ID).Msg("피어 초기화 실패")
				return
			}
			r.logger.Info().Str("peer", e.desc.ID).Msg("피어 초기화 완료")
		}(entry)
	}
	wg.Wait()

	return r.RefreshTools(ctx)
}

// InitializePeer는 피어 하나를 (재)초기화하고 인덱스를 재구축합니다.
func (r *Registry) InitializePeer(ctx context.Context, peerID string) error {
	entry, ok := r.byID[peerID]
	if !ok {
		return &adapter.AdapterError{Kind: adapter.KindUnknownPeer, PeerID: peerID,
			Message: "등록되지 않은 피어입니다"}
	}

	err := entry.adapter.Initialize(ctx)
	entry.setInitErr(err)
	if err != nil {
		return err
	}
	return r.RefreshTools(ctx)
}

// RefreshTools는 준비된 모든 어댑터의 카탈로그를 조회하여
// 도구 인덱스를 통째로 재구축하고 원자적으로 교체합니다.
//
// 충돌 정책: 두 피어가 같은 도구 이름을 광고하면 먼저 등록된 피어의
// 매핑을 유지하고 경고를 기록합니다. 병합이나 별칭은 만들지 않습니다.
func (r *Registry) RefreshTools(ctx context.Context) error {
	next := make(map[string]string)

	for _, entry := range r.peers {
		if entry.adapter.Status() != adapter.StatusReady {
			continue
		}

		tools, err := entry.adapter.ListTools(ctx)
		if err != nil {
			r.logger.Error().Err(err).Str("peer", entry.desc.ID).Msg("도구 카탈로그 조회 실패")
			continue
		}

		for _, tool := range tools {
			if owner, exists := next[tool.Name]; exists {
				r.logger.Warn().
					Str("tool", tool.Name).
					Str("kept_peer", owner).
					Str("ignored_peer", entry.desc.ID).
					Msg("도구 이름 충돌: 먼저 등록된 피어의 매핑을 유지합니다")
				continue
			}
			next[tool.Name] = entry.desc.ID
		}

		r.logger.Info().
			Str("peer", entry.desc.ID).
			Int("tools", len(tools)).
			Msg("도구 등록 완료")
	}

	r.indexMu.Lock()
	r.index = next
	r.indexMu.Unlock()

	r.metrics.IndexRebuilds.Add(1)
	r.metrics.ToolsDiscovered.Store(int64(len(next)))

	r.logger.Info().Int("tools", len(next)).Msg("도구 인덱스 재구축 완료")
	return nil
}

// ToolCount는 인덱스에 등록된 도구 수를 반환합니다.
func (r *Registry) ToolCount() int {
	r.indexMu.RLock()
	defer r.indexMu.RUnlock()
	return len(r.index)
}

// ToolOwner는 도구 이름의 소유 피어 id를 조회합니다.
func (r *Registry) ToolOwner(tool string) (string, bool) {
	r.indexMu.RLock()
	defer r.indexMu.RUnlock()
	owner, ok := r.index[tool]
	return owner, ok
}

// ToolNames는 인덱스의 도구 이름 목록을 반환합니다 (진단용, 순서 비보장).
func (r *Registry) ToolNames() []string {
	r.indexMu.RLock()
	defer r.indexMu.RUnlock()
	names := make([]string, 0, len(r.index))
	for name := range r.index {
		names = append(names, name)
	}
	return names
}

// ListAllTools는 모든 피어의 도구 카탈로그를 피어 id별로 조회합니다.
// 각 호출은 피어와의 새로운 라운드트립입니다 (인덱스와 독립).
func (r *Registry) ListAllTools(ctx context.Context) map[string]ToolListing {
	result := make(map[string]ToolListing, len(r.peers))

	for _, entry := range r.peers {
		tools, err := entry.adapter.ListTools(ctx)
		if err != nil {
			result[entry.desc.ID] = ToolListing{Error: err.Error()}
			continue
		}
		result[entry.desc.ID] = ToolListing{Tools: tools}
	}
	return result
}

// CallTool은 호출을 소유 어댑터로 라우팅하고 결과를 그대로 반환합니다.
//
// peerID가 지정되면 도구 인덱스를 우회하여 해당 피어로 직접 라우팅하며,
// 그 피어가 없으면 UnknownPeer를 반환합니다. 지정되지 않으면 인덱스로
// 도구 이름을 해석하며, 없으면 UnknownTool을 반환합니다.
func (r *Registry) CallTool(ctx context.Context, tool string, arguments json.RawMessage, peerID string) (json.RawMessage, error) {
	r.metrics.CallsRouted.Add(1)

	var entry *peerEntry
	if peerID != "" {
		e, ok := r.byID[peerID]
		if !ok {
			r.metrics.UnknownPeers.Add(1)
			r.metrics.CallErrors.Add(1)
			return nil, &adapter.AdapterError{Kind: adapter.KindUnknownPeer, PeerID: peerID,
				Message: fmt.Sprintf("피어 %q가 등록되지 않았습니다", peerID)}
		}
		entry = e
	} else {
		owner, ok := r.ToolOwner(tool)
		if !ok {
			r.metrics.UnknownTools.Add(1)
			r.metrics.CallErrors.Add(1)
			return nil, &adapter.AdapterError{Kind: adapter.KindUnknownTool,
				Message: fmt.Sprintf("도구 %q가 인덱스에 없습니다", tool)}
		}
		entry = r.byID[owner]

		// 인덱스 재구축 전에 소유 피어가 죽은 경우: 재초기화에 성공할 때까지
		// 인덱스 경로의 라우팅 대상에서 제외
		if entry.adapter.Status() != adapter.StatusReady {
			r.metrics.UnknownTools.Add(1)
			r.metrics.CallErrors.Add(1)
			return nil, &adapter.AdapterError{Kind: adapter.KindUnknownTool, PeerID: owner,
				Message: fmt.Sprintf("도구 %q의 소유 피어 %q가 준비 상태가 아닙니다", tool, owner)}
		}
	}

	switch entry.desc.Transport {
	case adapter.TransportStdio:
		r.metrics.StdioCalls.Add(1)
	case adapter.TransportHTTP:
		r.metrics.HTTPCalls.Add(1)
	}

	start := time.Now()
	result, err := entry.adapter.CallTool(ctx, tool, arguments)
	elapsed := time.Since(start)

	r.metrics.RecordLatency(elapsed)
	r.monitor.RecordCall(entry.desc.ID, elapsed.Milliseconds(), err)

	if err != nil {
		r.metrics.CallErrors.Add(1)
		switch adapter.KindOf(err) {
		case adapter.KindTimeout:
			r.metrics.Timeouts.Add(1)
		case adapter.KindProcessExited:
			r.metrics.ProcessExits.Add(1)
		case adapter.KindTransportFailure:
			r.metrics.TransportFailures.Add(1)
		}
		return nil, err
	}

	r.metrics.CallSuccesses.Add(1)
	return result, nil
}

// Status는 피어 하나의 상태 스냅샷을 반환합니다. 라우팅 상태를 변경하지 않습니다.
func (r *Registry) Status(peerID string) (PeerStatus, error) {
	entry, ok := r.byID[peerID]
	if !ok {
		return PeerStatus{}, &adapter.AdapterError{Kind: adapter.KindUnknownPeer, PeerID: peerID,
			Message: fmt.Sprintf("피어 %q가 등록되지 않았습니다", peerID)}
	}
	return r.statusOf(entry), nil
}

// StatusAll은 등록 순서대로 모든 피어의 상태를 반환합니다.
func (r *Registry) StatusAll() []PeerStatus {
	statuses := make([]PeerStatus, 0, len(r.peers))
	for _, entry := range r.peers {
		statuses = append(statuses, r.statusOf(entry))
	}
	return statuses
}

func (r *Registry) statusOf(entry *peerEntry) PeerStatus {
	status := PeerStatus{
		ID:        entry.desc.ID,
		Transport: entry.desc.Transport,
		Status:    entry.adapter.Status(),
		Stats:     r.monitor.Stats(entry.desc.ID),
	}

	if err := entry.initError(); err != nil {
		status.LastError = err.Error()
	}

	r.indexMu.RLock()
	for _, owner := range r.index {
		if owner == entry.desc.ID {
			status.ToolCount++
		}
	}
	r.indexMu.RUnlock()

	return status
}

// Descriptor는 피어의 디스크립터를 반환합니다 (진단용).
func (r *Registry) Descriptor(peerID string) (adapter.PeerDescriptor, bool) {
	entry, ok := r.byID[peerID]
	if !ok {
		return adapter.PeerDescriptor{}, false
	}
	return entry.desc, true
}

// PeerIDs는 등록 순서대로 피어 id 목록을 반환합니다.
func (r *Registry) PeerIDs() []string {
	ids := make([]string, 0, len(r.peers))
	for _, entry := range r.peers {
		ids = append(ids, entry.desc.ID)
	}
	return ids
}

// Ping은 피어의 생존 확인을 어댑터로 그대로 전달합니다.
func (r *Registry) Ping(ctx context.Context, peerID string) error {
	entry, ok := r.byID[peerID]
	if !ok {
		return &adapter.AdapterError{Kind: adapter.KindUnknownPeer, PeerID: peerID,
			Message: fmt.Sprintf("피어 %q가 등록되지 않았습니다", peerID)}
	}
	return entry.adapter.Ping(ctx)
}

// Shutdown은 모든 어댑터의 리소스를 해제합니다.
func (r *Registry) Shutdown() {
	r.monitor.Stop()

	var wg sync.WaitGroup
	for _, entry := range r.peers {
		wg.Add(1)
		go func(e *peerEntry) {
			defer wg.Done()
			e.adapter.Shutdown()
		}(entry)
	}
	wg.Wait()

	r.logger.Info().Msg("모든 어댑터 종료 완료")
}
