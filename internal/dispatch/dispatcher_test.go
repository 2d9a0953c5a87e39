package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/oraculum-ai/oraculum/internal/breaker"
	"github.com/oraculum-ai/oraculum/internal/config"
	"github.com/oraculum-ai/oraculum/internal/metrics"
	"github.com/oraculum-ai/oraculum/internal/provider"
	"github.com/oraculum-ai/oraculum/internal/registry"
)

// script describes one provider's behavior under the test caller.
type script struct {
	delay  time.Duration
	text   string
	tokens int64
	err    error
}

// scriptedCaller replays per-provider scripts. It honors the per-call timeout
// the same way the HTTP adapter does: a call whose scripted delay exceeds the
// timeout returns context.DeadlineExceeded once the timeout elapses.
type scriptedCaller struct {
	mu      sync.Mutex
	scripts map[string]script
	calls   map[string]int
}

func newScriptedCaller(scripts map[string]script) *scriptedCaller {
	return &scriptedCaller{scripts: scripts, calls: make(map[string]int)}
}

func (c *scriptedCaller) Call(ctx context.Context, desc registry.Descriptor, req provider.Request, timeout time.Duration) (provider.Result, error) {
	c.mu.Lock()
	c.calls[desc.Name]++
	s := c.scripts[desc.Name]
	c.mu.Unlock()

	if s.delay >= timeout {
		time.Sleep(timeout)
		return provider.Result{}, context.DeadlineExceeded
	}
	time.Sleep(s.delay)
	if s.err != nil {
		return provider.Result{}, s.err
	}
	return provider.Result{Text: s.text, TokensUsed: s.tokens}, nil
}

func (c *scriptedCaller) callCount(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[name]
}

func dispatchProviders() []config.ProviderConfig {
	return []config.ProviderConfig{
		{Name: "alpha", Endpoint: "https://alpha.example", RequestsPerWindow: 100, WindowMinutes: 60, Reliability: 0.9},
		{Name: "beta", Endpoint: "https://beta.example", RequestsPerWindow: 200, WindowMinutes: 60, Reliability: 0.8},
		{Name: "gamma", Endpoint: "https://gamma.example", RequestsPerWindow: 300, WindowMinutes: 60, Reliability: 0.7},
	}
}

func newTestDispatcher(t *testing.T, scripts map[string]script) (*Dispatcher, *registry.Registry, *breaker.Breaker, *scriptedCaller) {
	t.Helper()

	reg := registry.New(dispatchProviders())
	brk := breaker.New(3, 10*time.Minute)
	m := metrics.New(100)
	caller := newScriptedCaller(scripts)

	d := New(reg, brk, m,
		config.DispatchConfig{MaxFanout: 5, CallTimeoutMs: 200, DefaultDeadlineMs: 400},
		config.FallbackProviderConfig{Name: "local-fallback"},
		WithCaller(caller),
	)
	return d, reg, brk, caller
}

func TestOrchestrateCollectsCompletions(t *testing.T) {
	d, _, _, _ := newTestDispatcher(t, map[string]script{
		"alpha": {delay: 10 * time.Millisecond, text: "fast answer", tokens: 40},
		"beta":  {delay: 20 * time.Millisecond, text: "slower answer", tokens: 55},
		"gamma": {delay: 30 * time.Millisecond, text: "slowest answer", tokens: 60},
	})

	responses := d.Orchestrate(context.Background(), provider.Request{ID: "r1", Input: "a recurring dream"})
	if len(responses) != 3 {
		t.Fatalf("expected 3 responses, got %d", len(responses))
	}
}

// One provider succeeds quickly, one hangs past its per-call timeout, one
// fails immediately. The caller gets the one good answer, the hang becomes a
// timeout, and the immediate failure counts toward its provider's breaker
// without disturbing the others.
func TestOrchestrateMixedOutcomes(t *testing.T) {
	d, _, brk, _ := newTestDispatcher(t, map[string]script{
		"alpha": {delay: 10 * time.Millisecond, text: "good answer", tokens: 40},
		"beta":  {delay: time.Second}, // exceeds the 200ms call timeout
		"gamma": {err: errors.New("connection refused")},
	})

	responses := d.Orchestrate(context.Background(), provider.Request{ID: "r2", Input: "x"})
	if len(responses) != 1 || responses[0].ProviderID != "alpha" {
		t.Fatalf("expected only alpha's response, got %+v", responses)
	}

	if brk.Failures("beta") != 1 {
		t.Errorf("timed-out provider should carry 1 breaker failure, got %d", brk.Failures("beta"))
	}
	if brk.Failures("gamma") != 1 {
		t.Errorf("failed provider should carry 1 breaker failure, got %d", brk.Failures("gamma"))
	}
	if brk.Failures("alpha") != 0 {
		t.Errorf("successful provider must have a clean streak, got %d", brk.Failures("alpha"))
	}
}

func TestOrchestrateFailuresDoNotCascade(t *testing.T) {
	d, _, brk, caller := newTestDispatcher(t, map[string]script{
		"alpha": {err: errors.New("boom")},
		"beta":  {delay: 10 * time.Millisecond, text: "still fine", tokens: 20},
		"gamma": {delay: 15 * time.Millisecond, text: "also fine", tokens: 25},
	})

	responses := d.Orchestrate(context.Background(), provider.Request{ID: "r3", Input: "x"})
	if len(responses) != 2 {
		t.Fatalf("healthy providers must still answer, got %d responses", len(responses))
	}
	if caller.callCount("beta") != 1 || caller.callCount("gamma") != 1 {
		t.Error("every eligible provider gets exactly one call")
	}
	if brk.OpenCount() != 0 {
		t.Error("one failure must not open any breaker")
	}
}

func TestOrchestrateRespectsDeadline(t *testing.T) {
	d, _, _, _ := newTestDispatcher(t, map[string]script{
		"alpha": {delay: 10 * time.Millisecond, text: "in time", tokens: 10},
		"beta":  {delay: 150 * time.Millisecond, text: "too late", tokens: 10},
		"gamma": {delay: 150 * time.Millisecond, text: "too late", tokens: 10},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	start := time.Now()
	responses := d.Orchestrate(ctx, provider.Request{ID: "r4", Input: "x"})
	elapsed := time.Since(start)

	if len(responses) != 1 || responses[0].ProviderID != "alpha" {
		t.Fatalf("expected only the in-deadline response, got %+v", responses)
	}
	if elapsed > 120*time.Millisecond {
		t.Errorf("join should return at the deadline, took %v", elapsed)
	}
}

func TestOrchestrateStragglerBookkeepingLands(t *testing.T) {
	d, reg, _, _ := newTestDispatcher(t, map[string]script{
		"alpha": {delay: 5 * time.Millisecond, text: "quick", tokens: 10},
		"beta":  {delay: 100 * time.Millisecond, text: "straggler", tokens: 77},
		"gamma": {delay: 5 * time.Millisecond, text: "quick too", tokens: 10},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()

	responses := d.Orchestrate(ctx, provider.Request{ID: "r5", Input: "x"})
	for _, r := range responses {
		if r.ProviderID == "beta" {
			t.Fatal("straggler result must be discarded")
		}
	}

	// The detached call still completes and records its usage.
	time.Sleep(150 * time.Millisecond)
	tokens, requests, _ := reg.Ledger().Snapshot("beta")
	if requests != 1 || tokens != 77 {
		t.Errorf("straggler usage not recorded: tokens=%d requests=%d", tokens, requests)
	}
}

func TestOrchestrateQuotaExhaustionDemotes(t *testing.T) {
	d, reg, _, _ := newTestDispatcher(t, map[string]script{
		"alpha": {err: provider.ErrQuotaExhausted},
		"beta":  {delay: 5 * time.Millisecond, text: "fine", tokens: 10},
		"gamma": {delay: 5 * time.Millisecond, text: "fine", tokens: 10},
	})

	d.Orchestrate(context.Background(), provider.Request{ID: "r6", Input: "x"})

	state, _ := reg.State("alpha")
	if state != registry.StateExhausted {
		t.Errorf("429 must demote the provider to exhausted, got %v", state)
	}
}

func TestOrchestrateFallbackWhenNoneEligible(t *testing.T) {
	d, reg, _, caller := newTestDispatcher(t, map[string]script{})
	for _, name := range reg.Names() {
		reg.MarkExhausted(name)
	}

	responses := d.Orchestrate(context.Background(), provider.Request{ID: "r7", Input: "a long corridor"})
	if len(responses) != 1 {
		t.Fatalf("fallback must produce exactly one response, got %d", len(responses))
	}
	if responses[0].ProviderID != "local-fallback" {
		t.Errorf("expected the fallback provider, got %s", responses[0].ProviderID)
	}
	if responses[0].Text == "" {
		t.Error("local fallback always produces text")
	}
	for _, name := range reg.Names() {
		if caller.callCount(name) != 0 {
			t.Errorf("ineligible provider %s must not be called", name)
		}
	}
}

func TestOrchestrateSuccessesSkipFallback(t *testing.T) {
	fallback := newScriptedCaller(map[string]script{
		"custom-fallback": {text: "fallback answer"},
	})
	reg := registry.New(dispatchProviders())
	brk := breaker.New(3, 10*time.Minute)
	d := New(reg, brk, metrics.New(100),
		config.DispatchConfig{MaxFanout: 5, CallTimeoutMs: 200, DefaultDeadlineMs: 400},
		config.FallbackProviderConfig{Name: "custom-fallback"},
		WithCaller(newScriptedCaller(map[string]script{
			"alpha": {text: "real answer", tokens: 5},
			"beta":  {err: errors.New("down")},
			"gamma": {err: errors.New("down")},
		})),
		WithFallback(fallback, registry.Descriptor{Name: "custom-fallback"}),
	)

	d.Orchestrate(context.Background(), provider.Request{ID: "r8", Input: "x"})
	if fallback.callCount("custom-fallback") != 0 {
		t.Error("fallback must not run when a provider answered")
	}
}

func TestOrchestrateAllFailuresUseFallbackOnce(t *testing.T) {
	fallback := newScriptedCaller(map[string]script{
		"custom-fallback": {text: "fallback answer"},
	})
	reg := registry.New(dispatchProviders())
	brk := breaker.New(3, 10*time.Minute)
	d := New(reg, brk, metrics.New(100),
		config.DispatchConfig{MaxFanout: 5, CallTimeoutMs: 200, DefaultDeadlineMs: 400},
		config.FallbackProviderConfig{Name: "custom-fallback"},
		WithCaller(newScriptedCaller(map[string]script{
			"alpha": {err: errors.New("down")},
			"beta":  {err: errors.New("down")},
			"gamma": {err: errors.New("down")},
		})),
		WithFallback(fallback, registry.Descriptor{Name: "custom-fallback"}),
	)

	responses := d.Orchestrate(context.Background(), provider.Request{ID: "r9", Input: "x"})
	if len(responses) != 1 || responses[0].ProviderID != "custom-fallback" {
		t.Fatalf("expected the fallback response, got %+v", responses)
	}
	if fallback.callCount("custom-fallback") != 1 {
		t.Errorf("fallback runs exactly once, ran %d times", fallback.callCount("custom-fallback"))
	}
}

func TestOrchestrateFallbackFailureYieldsEmpty(t *testing.T) {
	reg := registry.New(dispatchProviders())
	for _, name := range reg.Names() {
		reg.MarkExhausted(name)
	}
	brk := breaker.New(3, 10*time.Minute)
	d := New(reg, brk, metrics.New(100),
		config.DispatchConfig{MaxFanout: 5, CallTimeoutMs: 200, DefaultDeadlineMs: 400},
		config.FallbackProviderConfig{Name: "custom-fallback"},
		WithCaller(newScriptedCaller(nil)),
		WithFallback(newScriptedCaller(map[string]script{
			"custom-fallback": {err: errors.New("fallback down too")},
		}), registry.Descriptor{Name: "custom-fallback"}),
	)

	responses := d.Orchestrate(context.Background(), provider.Request{ID: "r10", Input: "x"})
	if len(responses) != 0 {
		t.Fatalf("total failure yields an empty slice, got %+v", responses)
	}
}

func TestOrchestrateHonorsMaxFanout(t *testing.T) {
	scripts := map[string]script{
		"alpha": {text: "a"},
		"beta":  {text: "b"},
		"gamma": {text: "c"},
	}
	reg := registry.New(dispatchProviders())
	brk := breaker.New(3, 10*time.Minute)
	caller := newScriptedCaller(scripts)
	d := New(reg, brk, metrics.New(100),
		config.DispatchConfig{MaxFanout: 2, CallTimeoutMs: 200, DefaultDeadlineMs: 400},
		config.FallbackProviderConfig{Name: "local-fallback"},
		WithCaller(caller),
	)

	d.Orchestrate(context.Background(), provider.Request{ID: "r11", Input: "x"})

	total := caller.callCount("alpha") + caller.callCount("beta") + caller.callCount("gamma")
	if total != 2 {
		t.Errorf("fan-out must stop at 2 calls, made %d", total)
	}
	// Eligibility is ordered most constrained first.
	if caller.callCount("alpha") != 1 || caller.callCount("beta") != 1 {
		t.Error("the two most constrained providers should be chosen")
	}
}

func TestOrchestrateSkipsOpenBreakers(t *testing.T) {
	d, _, brk, caller := newTestDispatcher(t, map[string]script{
		"alpha": {text: "a"},
		"beta":  {text: "b"},
		"gamma": {text: "c"},
	})
	for i := 0; i < 3; i++ {
		brk.RecordFailure("beta")
	}

	d.Orchestrate(context.Background(), provider.Request{ID: "r12", Input: "x"})
	if caller.callCount("beta") != 0 {
		t.Error("open breaker must keep its provider out of the fan-out")
	}
}
