// Copyright 2026 The Oraculum Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package decision

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/oraculum-ai/oraculum/internal/breaker"
	"github.com/oraculum-ai/oraculum/internal/config"
	"github.com/oraculum-ai/oraculum/internal/learning"
	"github.com/oraculum-ai/oraculum/internal/metrics"
	"github.com/oraculum-ai/oraculum/internal/registry"
)

// assessAfter is how long a decision must age before its effectiveness is
// judged against fresher signals.
const assessAfter = 5 * time.Second

// preventDemotionFraction is how full a provider's request window must be
// before a prevent action demotes it ahead of exhaustion.
const preventDemotionFraction = 0.8

// Engine is the health decision loop. It runs on its own schedule and never
// shares a lock with the request-serving dispatcher; all coordination goes
// through the registry, breaker, and metrics' own synchronization.
type Engine struct {
	registry *registry.Registry
	breaker  *breaker.Breaker
	metrics  *metrics.Metrics
	model    *learning.Model
	history  *History
	rules    *ruleTable
	advisor  Advisor
	healing  *HealingRegistry
	audit    *AuditStore

	livenessInterval   time.Duration
	predictiveInterval time.Duration

	mu          sync.RWMutex
	lastSignals Signals

	running        atomic.Bool
	healingActive  atomic.Bool
	healingActions atomic.Int64

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithAdvisor installs a pluggable reasoning strategy. The rule table stays
// the fallback regardless.
func WithAdvisor(a Advisor) EngineOption {
	return func(e *Engine) {
		e.advisor = a
	}
}

// WithAuditStore attaches the optional decision persistence store.
func WithAuditStore(s *AuditStore) EngineOption {
	return func(e *Engine) {
		e.audit = s
	}
}

// NewEngine wires the decision loop against the shared state it acts upon.
func NewEngine(reg *registry.Registry, brk *breaker.Breaker, m *metrics.Metrics, model *learning.Model, history *History, cfg config.DecisionConfig, opts ...EngineOption) *Engine {
	e := &Engine{
		registry:           reg,
		breaker:            brk,
		metrics:            m,
		model:              model,
		history:            history,
		rules:              newRuleTable(cfg.Rules),
		advisor:            UnavailableAdvisor{},
		healing:            NewHealingRegistry(reg, brk),
		livenessInterval:   time.Duration(cfg.LivenessIntervalMs) * time.Millisecond,
		predictiveInterval: time.Duration(cfg.PredictiveIntervalMs) * time.Millisecond,
		stop:               make(chan struct{}),
	}
	if e.livenessInterval <= 0 {
		e.livenessInterval = time.Second
	}
	if e.predictiveInterval <= 0 {
		e.predictiveInterval = 5 * time.Second
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Reconfigure swaps the rule table. Used by config hot reload.
func (e *Engine) Reconfigure(cfg config.DecisionConfig) {
	e.rules.Reconfigure(cfg.Rules)
}

// Healing returns the fixed healing routine registry.
func (e *Engine) Healing() *HealingRegistry {
	return e.healing
}

// History returns the decision history buffer.
func (e *Engine) History() *History {
	return e.history
}

// Running reports whether the loops are active.
func (e *Engine) Running() bool {
	return e.running.Load()
}

// HealingInProgress reports whether a healing routine is currently executing.
func (e *Engine) HealingInProgress() bool {
	return e.healingActive.Load()
}

// HealingActions returns the count of healing routines executed so far.
func (e *Engine) HealingActions() int64 {
	return e.healingActions.Load()
}

// Sample collects one health signal snapshot.
func (e *Engine) Sample() Signals {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	pressure := 0.0
	if ms.HeapSys > 0 {
		pressure = float64(ms.HeapInuse) / float64(ms.HeapSys)
	}

	s := Signals{
		MemoryPressure:  pressure,
		ErrorRate:       e.metrics.ErrorRate(),
		OpenBreakers:    e.breaker.OpenCount(),
		LatencyP95Ms:    e.metrics.LatencyP95(),
		MemoryThreshold: e.model.Threshold(learning.ThresholdMemory),
		ErrorThreshold:  e.model.Threshold(learning.ThresholdError),
		SampledAt:       time.Now(),
	}

	e.mu.Lock()
	e.lastSignals = s
	e.mu.Unlock()
	return s
}

// LastSignals returns the most recent sample.
func (e *Engine) LastSignals() Signals {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastSignals
}

// Decide produces a normalized decision for the given signals. The advisor
// is consulted first; any failure or malformed output silently degrades to
// the rule table. This method never returns an error.
func (e *Engine) Decide(ctx context.Context, s Signals) Decision {
	adviseCtx, cancel := context.WithTimeout(ctx, e.predictiveInterval)
	advice, err := e.advisor.Advise(adviseCtx, s)
	cancel()
	if err == nil {
		if d, ok := normalizeAdvice(advice, s); ok {
			return d
		}
		log.Debug("advisor produced malformed decision, falling back to rules")
	} else if err != ErrAdvisorUnavailable {
		log.Debugf("advisor failed, falling back to rules: %v", err)
	}
	return e.rules.Decide(s)
}

// Execute carries out a decision's action. Failures are absorbed into
// metrics and logs; the loop itself never stops on a failed action.
func (e *Engine) Execute(ctx context.Context, d Decision) {
	switch d.Action {
	case ActionHeal:
		e.runHealing(ctx, d.Routine)
	case ActionPrevent:
		e.preventExhaustion()
	case ActionOptimize:
		// Lighter-weight maintenance than a full heal.
		runtime.GC()
	case ActionEscalate:
		log.Errorf("escalation: %s (error rate %.2f, %d breakers open)", d.Reasoning, d.Signals.ErrorRate, d.Signals.OpenBreakers)
	case ActionIgnore:
	}
}

func (e *Engine) runHealing(ctx context.Context, routine string) {
	e.metrics.RecordHealingAttempt()
	e.healingActive.Store(true)
	defer e.healingActive.Store(false)

	if err := e.healing.Run(ctx, routine); err != nil {
		e.metrics.RecordHealingFailure()
		log.Warnf("healing routine %s failed: %v", routine, err)
		return
	}
	e.metrics.RecordHealingSuccess()
	e.healingActions.Add(1)
	log.Infof("healing routine %s completed", routine)
}

// preventExhaustion demotes providers whose request window is nearly spent
// before they are forced into the exhausted state.
func (e *Engine) preventExhaustion() {
	ledger := e.registry.Ledger()
	for _, name := range e.registry.Names() {
		state, ok := e.registry.State(name)
		if !ok || state != registry.StateActive {
			continue
		}
		desc, ok := e.registry.Get(name)
		if !ok || desc.RequestsPerWindow <= 0 {
			continue
		}
		_, requests, _ := ledger.Snapshot(name)
		if float64(requests) >= preventDemotionFraction*float64(desc.RequestsPerWindow) {
			e.registry.SetState(name, registry.StateFallback)
			e.metrics.RecordErrorPrevented()
			log.Infof("prevent: provider %s demoted at %d/%d requests", name, requests, desc.RequestsPerWindow)
		}
	}
}

// ForceHealing runs a named routine immediately on operator request,
// recording it as an escalation-free heal decision.
func (e *Engine) ForceHealing(ctx context.Context, name string) bool {
	d := Decision{
		Action:     ActionHeal,
		Reasoning:  "operator override",
		Confidence: 1,
		RiskLevel:  0.5,
		CreatedAt:  time.Now(),
		Routine:    name,
		Signals:    e.LastSignals(),
	}

	e.metrics.RecordHealingAttempt()
	e.healingActive.Store(true)
	err := e.healing.Run(ctx, name)
	e.healingActive.Store(false)

	if err != nil {
		e.metrics.RecordHealingFailure()
		log.Warnf("forced healing routine %s failed: %v", name, err)
		return false
	}
	e.metrics.RecordHealingSuccess()
	e.healingActions.Add(1)
	e.record(d)
	return true
}

// record appends a decision to history, metrics, and the optional audit store.
func (e *Engine) record(d Decision) {
	e.history.Append(d)
	e.metrics.RecordDecision(string(d.Action))
	if e.audit != nil {
		if err := e.audit.Insert(d); err != nil {
			log.Debugf("audit insert failed: %v", err)
		}
	}
}

// Tick runs one full decide-execute-record cycle. The predictive loop calls
// this; tests drive it directly.
func (e *Engine) Tick(ctx context.Context) Decision {
	s := e.Sample()
	d := e.Decide(ctx, s)
	e.Execute(ctx, d)
	e.record(d)
	return d
}

// Start launches the liveness and predictive loops. There is no terminal
// state; the loops re-enter until Stop.
func (e *Engine) Start(ctx context.Context) {
	e.running.Store(true)

	e.wg.Add(2)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(e.livenessInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				e.Sample()
				e.assessPending()
			case <-e.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(e.predictiveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				e.Tick(ctx)
			case <-e.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop terminates the loops and waits for them to exit.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stop) })
	e.wg.Wait()
	e.running.Store(false)
}

// assessPending attaches effectiveness scores to aged decisions by comparing
// the signals they acted on against the current sample.
func (e *Engine) assessPending() {
	now := time.Now()
	current := e.LastSignals()

	e.history.AssessPending(func(d Decision) (float64, bool) {
		if now.Sub(d.CreatedAt) < assessAfter {
			return 0, false
		}
		return assessEffectiveness(d, current), true
	})
}

// assessEffectiveness scores how well an action worked: 0.5 is neutral,
// above means the targeted signal improved, below means it worsened.
func assessEffectiveness(d Decision, current Signals) float64 {
	switch d.Action {
	case ActionHeal, ActionOptimize:
		return clamp01(0.5 + (d.Signals.MemoryPressure - current.MemoryPressure))
	case ActionPrevent:
		return clamp01(0.5 + (d.Signals.ErrorRate - current.ErrorRate))
	case ActionEscalate:
		// Escalation has no direct signal to improve; score by whether the
		// breaker situation resolved.
		if current.OpenBreakers < d.Signals.OpenBreakers {
			return 0.7
		}
		return 0.4
	default: // ignore
		if current.MemoryPressure <= current.MemoryThreshold && current.ErrorRate <= current.ErrorThreshold {
			return 0.6
		}
		return 0.4
	}
}
