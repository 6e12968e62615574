// Package metrics provides operational metrics tracking for the MCP proxy.
// Counters cover call routing, per-transport traffic, and failure kinds.
package metrics

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics tracks operational metrics for the proxy.
// All fields are thread-safe for concurrent access.
type Metrics struct {
	// Routing metrics
	CallsRouted   atomic.Int64
	CallSuccesses atomic.Int64
	CallErrors    atomic.Int64

	// Per-transport metrics
	StdioCalls atomic.Int64
	HTTPCalls  atomic.Int64

	// Failure kinds
	Timeouts          atomic.Int64
	ProcessExits      atomic.Int64
	TransportFailures atomic.Int64
	UnknownTools      atomic.Int64
	UnknownPeers      atomic.Int64

	// Discovery metrics
	IndexRebuilds   atomic.Int64
	ToolsDiscovered atomic.Int64

	// Timing metrics
	startTime    time.Time
	avgLatencyNs atomic.Int64
	latencyCount atomic.Int64

	mu sync.RWMutex
}

// Snapshot is a point-in-time copy of all metrics.
type Snapshot struct {
	Timestamp         time.Time `json:"timestamp"`
	Uptime            string    `json:"uptime"`
	CallsRouted       int64     `json:"calls_routed"`
	CallSuccesses     int64     `json:"call_successes"`
	CallErrors        int64     `json:"call_errors"`
	StdioCalls        int64     `json:"stdio_calls"`
	HTTPCalls         int64     `json:"http_calls"`
	Timeouts          int64     `json:"timeouts"`
	ProcessExits      int64     `json:"process_exits"`
	TransportFailures int64     `json:"transport_failures"`
	UnknownTools      int64     `json:"unknown_tools"`
	UnknownPeers      int64     `json:"unknown_peers"`
	IndexRebuilds     int64     `json:"index_rebuilds"`
	ToolsDiscovered   int64     `json:"tools_discovered"`
	AvgLatencyMs      float64   `json:"avg_latency_ms"`
}

// NewMetrics creates a new Metrics instance with the start time set to now.
func NewMetrics() *Metrics {
	return &Metrics{
		startTime: time.Now(),
	}
}

// RecordLatency records a single call latency and updates the running average.
func (m *Metrics) RecordLatency(d time.Duration) {
	ns := d.Nanoseconds()
	count := m.latencyCount.Add(1)

	// Running average: newAvg = oldAvg + (newValue - oldAvg) / count
	// Use a CAS loop for atomic update of the average.
	for {
		oldAvg := m.avgLatencyNs.Load()
		newAvg := oldAvg + (ns-oldAvg)/count
		if m.avgLatencyNs.CompareAndSwap(oldAvg, newAvg) {
			break
		}
		// Reload count in case it changed.
		count = m.latencyCount.Load()
		if count == 0 {
			count = 1
		}
	}
}

// Uptime returns the duration since the metrics instance was created.
func (m *Metrics) Uptime() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return time.Since(m.startTime)
}

// AvgLatency returns the average recorded call latency.
// Returns 0 if no latency has been recorded.
func (m *Metrics) AvgLatency() time.Duration {
	return time.Duration(m.avgLatencyNs.Load())
}

// TakeSnapshot returns a point-in-time copy of all metrics.
func (m *Metrics) TakeSnapshot() Snapshot {
	return Snapshot{
		Timestamp:         time.Now(),
		Uptime:            m.Uptime().Round(time.Millisecond).String(),
		CallsRouted:       m.CallsRouted.Load(),
		CallSuccesses:     m.CallSuccesses.Load(),
		CallErrors:        m.CallErrors.Load(),
		StdioCalls:        m.StdioCalls.Load(),
		HTTPCalls:         m.HTTPCalls.Load(),
		Timeouts:          m.Timeouts.Load(),
		ProcessExits:      m.ProcessExits.Load(),
		TransportFailures: m.TransportFailures.Load(),
		UnknownTools:      m.UnknownTools.Load(),
		UnknownPeers:      m.UnknownPeers.Load(),
		IndexRebuilds:     m.IndexRebuilds.Load(),
		ToolsDiscovered:   m.ToolsDiscovered.Load(),
		AvgLatencyMs:      float64(m.avgLatencyNs.Load()) / float64(time.Millisecond),
	}
}

// ToJSON returns a JSON-encoded representation of the current snapshot.
func (m *Metrics) ToJSON() ([]byte, error) {
	return json.Marshal(m.TakeSnapshot())
}

// Reset resets all metric counters to zero while preserving a fresh start time.
func (m *Metrics) Reset() {
	m.CallsRouted.Store(0)
	m.CallSuccesses.Store(0)
	m.CallErrors.Store(0)
	m.StdioCalls.Store(0)
	m.HTTPCalls.Store(0)
	m.Timeouts.Store(0)
	m.ProcessExits.Store(0)
	m.TransportFailures.Store(0)
	m.UnknownTools.Store(0)
	m.UnknownPeers.Store(0)
	m.IndexRebuilds.Store(0)
	m.ToolsDiscovered.Store(0)
	m.avgLatencyNs.Store(0)
	m.latencyCount.Store(0)

	m.mu.Lock()
	m.startTime = time.Now()
	m.mu.Unlock()
}
