package metrics

import (
	"sync"
	"testing"
)

func TestSnapshotCounters(t *testing.T) {
	m := New(100)

	m.RecordRequest()
	m.RecordRequest()
	m.RecordProviderSuccess(50)
	m.RecordProviderFailure()
	m.RecordProviderTimeout()
	m.RecordBreakerTrip()
	m.RecordFallback()
	m.RecordEmptyResult()
	m.RecordBlend()
	m.RecordErrorPrevented()

	snap := m.Snapshot()
	if snap.RequestsTotal != 2 {
		t.Errorf("requests: got %d", snap.RequestsTotal)
	}
	if snap.ProviderSuccesses != 1 || snap.ProviderFailures != 1 || snap.ProviderTimeouts != 1 {
		t.Errorf("provider outcomes: %+v", snap)
	}
	if snap.BreakerTrips != 1 || snap.FallbacksUsed != 1 {
		t.Errorf("breaker/fallback: %+v", snap)
	}
	if snap.EmptyResults != 1 || snap.BlendedResults != 1 || snap.ErrorsPrevented != 1 {
		t.Errorf("result counters: %+v", snap)
	}
}

func TestErrorRateWindow(t *testing.T) {
	m := New(100)

	if got := m.ErrorRate(); got != 0 {
		t.Fatalf("no calls means zero error rate, got %f", got)
	}

	m.RecordProviderSuccess(10)
	m.RecordProviderSuccess(10)
	m.RecordProviderFailure()
	m.RecordProviderTimeout()

	if got := m.ErrorRate(); got != 0.5 {
		t.Errorf("2 failures over 4 calls is 0.5, got %f", got)
	}
}

func TestLatencyP95(t *testing.T) {
	m := New(1000)

	if got := m.LatencyP95(); got != 0 {
		t.Fatalf("no samples means zero p95, got %d", got)
	}

	for i := int64(1); i <= 100; i++ {
		m.RecordProviderSuccess(i)
	}
	got := m.LatencyP95()
	if got < 95 || got > 100 {
		t.Errorf("p95 of 1..100 should land near 96, got %d", got)
	}
}

func TestLatencySamplesBounded(t *testing.T) {
	m := New(10)

	// Flood with slow samples then fast ones; only the recent window counts.
	for i := 0; i < 10; i++ {
		m.RecordProviderSuccess(5000)
	}
	for i := 0; i < 10; i++ {
		m.RecordProviderSuccess(10)
	}
	if got := m.LatencyP95(); got != 10 {
		t.Errorf("old samples must be evicted, p95 = %d", got)
	}
}

func TestDecisionsByAction(t *testing.T) {
	m := New(100)
	m.RecordDecision("heal")
	m.RecordDecision("heal")
	m.RecordDecision("ignore")

	snap := m.Snapshot()
	if snap.DecisionsByAction["heal"] != 2 || snap.DecisionsByAction["ignore"] != 1 {
		t.Errorf("decision counts: %v", snap.DecisionsByAction)
	}

	// The snapshot map is a copy.
	snap.DecisionsByAction["heal"] = 99
	if m.Snapshot().DecisionsByAction["heal"] != 2 {
		t.Error("mutating a snapshot must not affect the metrics")
	}
}

func TestConcurrentRecording(t *testing.T) {
	m := New(100)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.RecordRequest()
				m.RecordProviderSuccess(int64(j))
				m.RecordDecision("ignore")
			}
		}()
	}
	wg.Wait()

	snap := m.Snapshot()
	if snap.RequestsTotal != 1000 {
		t.Errorf("lost requests under concurrency: %d", snap.RequestsTotal)
	}
	if snap.ProviderSuccesses != 1000 {
		t.Errorf("lost successes under concurrency: %d", snap.ProviderSuccesses)
	}
	if snap.DecisionsByAction["ignore"] != 1000 {
		t.Errorf("lost decisions under concurrency: %d", snap.DecisionsByAction["ignore"])
	}
}
