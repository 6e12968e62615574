package metrics

import (
	"encoding/json"
	"sync"
	"testing"
	"time"
)

// TestNewMetrics verifies that a new Metrics instance is properly initialized.
func TestNewMetrics(t *testing.T) {
	m := NewMetrics()
	if m == nil {
		t.Fatal("NewMetrics() returned nil")
	}

	if m.CallsRouted.Load() != 0 {
		t.Errorf("CallsRouted = %d, want 0", m.CallsRouted.Load())
	}
	if m.CallErrors.Load() != 0 {
		t.Errorf("CallErrors = %d, want 0", m.CallErrors.Load())
	}
	if m.IndexRebuilds.Load() != 0 {
		t.Errorf("IndexRebuilds = %d, want 0", m.IndexRebuilds.Load())
	}
}

// TestMetrics_RoutingCounters verifies routing metric increments.
func TestMetrics_RoutingCounters(t *testing.T) {
	m := NewMetrics()

	m.CallsRouted.Add(1)
	m.CallsRouted.Add(1)
	m.CallSuccesses.Add(1)
	m.CallErrors.Add(1)
	m.StdioCalls.Add(2)

	if m.CallsRouted.Load() != 2 {
		t.Errorf("CallsRouted = %d, want 2", m.CallsRouted.Load())
	}
	if m.CallSuccesses.Load() != 1 {
		t.Errorf("CallSuccesses = %d, want 1", m.CallSuccesses.Load())
	}
	if m.CallErrors.Load() != 1 {
		t.Errorf("CallErrors = %d, want 1", m.CallErrors.Load())
	}
	if m.StdioCalls.Load() != 2 {
		t.Errorf("StdioCalls = %d, want 2", m.StdioCalls.Load())
	}
}

// TestMetrics_RecordLatency verifies the running latency average.
func TestMetrics_RecordLatency(t *testing.T) {
	m := NewMetrics()

	m.RecordLatency(100 * time.Millisecond)
	m.RecordLatency(200 * time.Millisecond)

	avg := m.AvgLatency()
	if avg < 100*time.Millisecond || avg > 200*time.Millisecond {
		t.Errorf("AvgLatency = %v, want between 100ms and 200ms", avg)
	}
}

// TestMetrics_ConcurrentAccess verifies counters under concurrent updates.
func TestMetrics_ConcurrentAccess(t *testing.T) {
	m := NewMetrics()

	const goroutines = 10
	const increments = 100

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < increments; j++ {
				m.CallsRouted.Add(1)
				m.RecordLatency(10 * time.Millisecond)
			}
		}()
	}
	wg.Wait()

	want := int64(goroutines * increments)
	if got := m.CallsRouted.Load(); got != want {
		t.Errorf("CallsRouted = %d, want %d", got, want)
	}
}

// TestMetrics_Snapshot verifies the snapshot JSON round trip.
func TestMetrics_Snapshot(t *testing.T) {
	m := NewMetrics()
	m.CallsRouted.Add(3)
	m.Timeouts.Add(1)

	data, err := m.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON() failed: %v", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatalf("snapshot unmarshal failed: %v", err)
	}

	if snap.CallsRouted != 3 {
		t.Errorf("snapshot CallsRouted = %d, want 3", snap.CallsRouted)
	}
	if snap.Timeouts != 1 {
		t.Errorf("snapshot Timeouts = %d, want 1", snap.Timeouts)
	}
	if snap.Uptime == "" {
		t.Error("snapshot Uptime is empty")
	}
}

// TestMetrics_Reset verifies that Reset zeroes all counters.
func TestMetrics_Reset(t *testing.T) {
	m := NewMetrics()
	m.CallsRouted.Add(5)
	m.CallErrors.Add(2)
	m.RecordLatency(50 * time.Millisecond)

	m.Reset()

	if m.CallsRouted.Load() != 0 {
		t.Errorf("CallsRouted after Reset = %d, want 0", m.CallsRouted.Load())
	}
	if m.CallErrors.Load() != 0 {
		t.Errorf("CallErrors after Reset = %d, want 0", m.CallErrors.Load())
	}
	if m.AvgLatency() != 0 {
		t.Errorf("AvgLatency after Reset = %v, want 0", m.AvgLatency())
	}
}
