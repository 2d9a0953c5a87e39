// Copyright 2026 The Oraculum Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package metrics provides observability counters for the orchestrator.
// It tracks dispatches, provider outcomes, breaker trips, healing actions,
// and decision activity so the health loop and status endpoint work from
// real numbers instead of guesses.
package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics tracks orchestrator operations. All counters are safe for
// concurrent use; latency samples are bounded.
type Metrics struct {
	requestsTotal     atomic.Int64
	providerSuccesses atomic.Int64
	providerFailures  atomic.Int64
	providerTimeouts  atomic.Int64
	breakerTrips      atomic.Int64
	fallbacksUsed     atomic.Int64
	emptyResults      atomic.Int64
	blendedResults    atomic.Int64

	healingAttempts    atomic.Int64
	successfulHealings atomic.Int64
	failedHealings     atomic.Int64
	errorsPrevented    atomic.Int64

	decisionsByActionMu sync.RWMutex
	decisionsByAction   map[string]int64

	latencyMu      sync.RWMutex
	latencySamples []int64
	maxSamples     int

	// windowed error-rate tracking for the health signals
	outcomeMu      sync.Mutex
	recentOutcomes []outcome

	startTime time.Time
}

type outcome struct {
	at      time.Time
	success bool
}

// New creates a Metrics instance keeping at most maxSamples latency samples.
func New(maxSamples int) *Metrics {
	if maxSamples <= 0 {
		maxSamples = 1000
	}
	return &Metrics{
		decisionsByAction: make(map[string]int64),
		latencySamples:    make([]int64, 0, maxSamples),
		maxSamples:        maxSamples,
		startTime:         time.Now(),
	}
}

// RecordRequest counts one orchestration call.
func (m *Metrics) RecordRequest() {
	m.requestsTotal.Add(1)
}

// RecordProviderSuccess counts a successful provider call and its latency.
func (m *Metrics) RecordProviderSuccess(latencyMs int64) {
	m.providerSuccesses.Add(1)
	m.recordLatency(latencyMs)
	m.recordOutcome(true)
}

// RecordProviderFailure counts a failed provider call.
func (m *Metrics) RecordProviderFailure() {
	m.providerFailures.Add(1)
	m.recordOutcome(false)
}

// RecordProviderTimeout counts a timed-out provider call. Timeouts also
// count as failures for error-rate purposes.
func (m *Metrics) RecordProviderTimeout() {
	m.providerTimeouts.Add(1)
	m.providerFailures.Add(1)
	m.recordOutcome(false)
}

// RecordBreakerTrip counts a breaker opening.
func (m *Metrics) RecordBreakerTrip() {
	m.breakerTrips.Add(1)
}

// RecordFallback counts an orchestration that fell through to the fallback provider.
func (m *Metrics) RecordFallback() {
	m.fallbacksUsed.Add(1)
}

// RecordEmptyResult counts an orchestration that produced the empty-result sentinel.
func (m *Metrics) RecordEmptyResult() {
	m.emptyResults.Add(1)
}

// RecordBlend counts a multi-source blended result.
func (m *Metrics) RecordBlend() {
	m.blendedResults.Add(1)
}

// RecordHealingAttempt counts a healing routine invocation.
func (m *Metrics) RecordHealingAttempt() {
	m.healingAttempts.Add(1)
}

// RecordHealingSuccess counts a healing routine that completed.
func (m *Metrics) RecordHealingSuccess() {
	m.successfulHealings.Add(1)
}

// RecordHealingFailure counts a healing routine that errored.
func (m *Metrics) RecordHealingFailure() {
	m.failedHealings.Add(1)
}

// RecordErrorPrevented counts a pre-emptive action that avoided a failure.
func (m *Metrics) RecordErrorPrevented() {
	m.errorsPrevented.Add(1)
}

// RecordDecision counts a decision by its action name.
func (m *Metrics) RecordDecision(action string) {
	m.decisionsByActionMu.Lock()
	m.decisionsByAction[action]++
	m.decisionsByActionMu.Unlock()
}

func (m *Metrics) recordLatency(latencyMs int64) {
	m.latencyMu.Lock()
	defer m.latencyMu.Unlock()
	if len(m.latencySamples) >= m.maxSamples {
		// Drop the oldest sample to make room.
		m.latencySamples = m.latencySamples[1:]
	}
	m.latencySamples = append(m.latencySamples, latencyMs)
}

func (m *Metrics) recordOutcome(success bool) {
	now := time.Now()
	m.outcomeMu.Lock()
	defer m.outcomeMu.Unlock()
	m.recentOutcomes = append(m.recentOutcomes, outcome{at: now, success: success})
	// Keep one minute of history.
	cutoff := now.Add(-time.Minute)
	i := 0
	for ; i < len(m.recentOutcomes); i++ {
		if m.recentOutcomes[i].at.After(cutoff) {
			break
		}
	}
	m.recentOutcomes = m.recentOutcomes[i:]
}

// ErrorRate returns the fraction of provider calls in the last minute that
// failed. Returns 0 when there were no calls.
func (m *Metrics) ErrorRate() float64 {
	m.outcomeMu.Lock()
	defer m.outcomeMu.Unlock()
	if len(m.recentOutcomes) == 0 {
		return 0
	}
	failures := 0
	for _, o := range m.recentOutcomes {
		if !o.success {
			failures++
		}
	}
	return float64(failures) / float64(len(m.recentOutcomes))
}

// LatencyP95 returns the 95th percentile provider latency in milliseconds
// over the retained samples, or 0 with no samples.
func (m *Metrics) LatencyP95() int64 {
	m.latencyMu.RLock()
	samples := append([]int64(nil), m.latencySamples...)
	m.latencyMu.RUnlock()
	if len(samples) == 0 {
		return 0
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	idx := (len(samples) * 95) / 100
	if idx >= len(samples) {
		idx = len(samples) - 1
	}
	return samples[idx]
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	RequestsTotal      int64            `json:"requests_total"`
	ProviderSuccesses  int64            `json:"provider_successes"`
	ProviderFailures   int64            `json:"provider_failures"`
	ProviderTimeouts   int64            `json:"provider_timeouts"`
	BreakerTrips       int64            `json:"breaker_trips"`
	FallbacksUsed      int64            `json:"fallbacks_used"`
	EmptyResults       int64            `json:"empty_results"`
	BlendedResults     int64            `json:"blended_results"`
	HealingAttempts    int64            `json:"healing_attempts"`
	SuccessfulHealings int64            `json:"successful_healings"`
	FailedHealings     int64            `json:"failed_healings"`
	ErrorsPrevented    int64            `json:"errors_prevented"`
	DecisionsByAction  map[string]int64 `json:"decisions_by_action"`
	LatencyP95Ms       int64            `json:"latency_p95_ms"`
	ErrorRate          float64          `json:"error_rate"`
	UptimeSeconds      int64            `json:"uptime_seconds"`
}

// Snapshot returns a consistent copy of the current counters.
func (m *Metrics) Snapshot() Snapshot {
	byAction := make(map[string]int64)
	m.decisionsByActionMu.RLock()
	for k, v := range m.decisionsByAction {
		byAction[k] = v
	}
	m.decisionsByActionMu.RUnlock()

	return Snapshot{
		RequestsTotal:      m.requestsTotal.Load(),
		ProviderSuccesses:  m.providerSuccesses.Load(),
		ProviderFailures:   m.providerFailures.Load(),
		ProviderTimeouts:   m.providerTimeouts.Load(),
		BreakerTrips:       m.breakerTrips.Load(),
		FallbacksUsed:      m.fallbacksUsed.Load(),
		EmptyResults:       m.emptyResults.Load(),
		BlendedResults:     m.blendedResults.Load(),
		HealingAttempts:    m.healingAttempts.Load(),
		SuccessfulHealings: m.successfulHealings.Load(),
		FailedHealings:     m.failedHealings.Load(),
		ErrorsPrevented:    m.errorsPrevented.Load(),
		DecisionsByAction:  byAction,
		LatencyP95Ms:       m.LatencyP95(),
		ErrorRate:          m.ErrorRate(),
		UptimeSeconds:      int64(time.Since(m.startTime).Seconds()),
	}
}
