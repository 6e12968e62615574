package registry

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// CallStats는 피어 하나의 런타임 호출 메트릭을 추적합니다.
type CallStats struct {
	TotalCalls    int
	ErrorCount    int
	TotalRespMs   int64 // 평균 계산용 응답 시간 합계
	LastError     string
	LastErrorTime time.Time
}

// CallStatsSnapshot은 피어 호출 통계의 조회용 스냅샷입니다.
type CallStatsSnapshot struct {
	TotalCalls    int     `json:"total_calls"`
	ErrorCount    int     `json:"error_count"`
	ErrorRate     float64 `json:"error_rate"`
	AvgResponseMs int64   `json:"avg_response_ms"`
	LastError     string  `json:"last_error,omitempty"`
}

// HealthReport는 한 수집 주기의 전체 피어 상태 보고서입니다.
type HealthReport struct {
	Peers      []PeerStatus
	ReportedAt time.Time
}

// Monitor는 피어별 호출 통계를 추적하고 주기적으로 생존 확인을 수행합니다.
type Monitor struct {
	registry *Registry

	statsMu sync.RWMutex
	stats   map[string]*CallStats

	// cancel은 Start/Stop이 서로 다른 고루틴에서 호출될 수 있으므로
	// cancelMu로 보호합니다.
	cancelMu sync.Mutex
	cancel   context.CancelFunc
}

// NewMonitor는 새 Monitor를 생성합니다.
func NewMonitor(registry *Registry) *Monitor {
	return &Monitor{
		registry: registry,
		stats:    make(map[string]*CallStats),
	}
}

// RecordCall은 피어 호출 결과를 기록합니다.
// 스레드 안전하게 호출 횟수, 에러 수, 응답 시간을 업데이트합니다.
func (m *Monitor) RecordCall(peerID string, durationMs int64, err error) {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()

	stats, ok := m.stats[peerID]
	if !ok {
		stats = &CallStats{}
		m.stats[peerID] = stats
	}

	stats.TotalCalls++
	stats.TotalRespMs += durationMs

	if err != nil {
		stats.ErrorCount++
		stats.LastError = err.Error()
		stats.LastErrorTime = time.Now()
	}
}

// Stats는 피어 하나의 통계 스냅샷을 반환합니다.
func (m *Monitor) Stats(peerID string) CallStatsSnapshot {
	m.statsMu.RLock()
	defer m.statsMu.RUnlock()

	stats, ok := m.stats[peerID]
	if !ok {
		return CallStatsSnapshot{}
	}

	snap := CallStatsSnapshot{
		TotalCalls: stats.TotalCalls,
		ErrorCount: stats.ErrorCount,
		LastError:  stats.LastError,
	}
	if stats.TotalCalls > 0 {
		snap.ErrorRate = float64(stats.ErrorCount) / float64(stats.TotalCalls)
		snap.AvgResponseMs = stats.TotalRespMs / int64(stats.TotalCalls)
	}
	return snap
}

// Start는 주기적인 헬스 수집 루프를 시작합니다.
// 각 틱마다 모든 피어를 ping하고 수집된 HealthReport로 reportFn을 호출합니다.
// ping은 조회 전용이며 라우팅 상태를 변경하지 않습니다.
// context 취소 또는 Stop() 호출로 종료됩니다.
func (m *Monitor) Start(ctx context.Context, interval time.Duration, logger zerolog.Logger, reportFn func(report HealthReport)) {
	if interval <= 0 {
		interval = 60 * time.Second
	}

	monitorCtx, cancel := context.WithCancel(ctx)

	m.cancelMu.Lock()
	if m.cancel != nil {
		// 이전 루프가 살아 있으면 중복 실행하지 않도록 종료
		m.cancel()
	}
	m.cancel = cancel
	m.cancelMu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		logger.Info().Dur("interval", interval).Msg("[monitor] 헬스 모니터링 시작")

		for {
			select {
			case <-monitorCtx.Done():
				logger.Info().Msg("[monitor] 헬스 모니터링 종료")
				return
			case <-ticker.C:
				report := m.collect(monitorCtx, logger)
				if reportFn != nil {
					reportFn(report)
				}
			}
		}
	}()
}

// Stop은 모니터링 루프를 종료합니다. Start와 동시에 호출해도 안전합니다.
func (m *Monitor) Stop() {
	m.cancelMu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.cancelMu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// collect는 모든 피어를 ping하고 상태 스냅샷을 수집합니다.
func (m *Monitor) collect(ctx context.Context, logger zerolog.Logger) HealthReport {
	for _, peerID := range m.registry.PeerIDs() {
		if err := m.registry.Ping(ctx, peerID); err != nil {
			logger.Warn().Err(err).Str("peer", peerID).Msg("[monitor] ping 실패")
		}
	}

	return HealthReport{
		Peers:      m.registry.StatusAll(),
		ReportedAt: time.Now(),
	}
}
