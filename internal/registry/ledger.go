// Copyright 2026 The Oraculum Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package registry

import (
	"sync"
	"time"
)

// usage tracks one provider's consumption inside the current rolling window.
// Each provider has its own lock so unrelated providers never serialize.
type usage struct {
	mu              sync.Mutex
	tokensConsumed  int64
	requestCount    int64
	windowStartedAt time.Time
}

// Ledger tracks per-provider request and token consumption with lazy
// rolling-window resets. All operations are O(1) map lookups plus a
// per-provider critical section.
type Ledger struct {
	registry *Registry

	mu      sync.RWMutex
	records map[string]*usage

	// now is injectable for tests that simulate window rollover.
	now func() time.Time
}

func newLedger(r *Registry) *Ledger {
	return &Ledger{
		registry: r,
		records:  make(map[string]*usage, len(r.entries)),
		now:      time.Now,
	}
}

// SetClock overrides the ledger's time source. Test use only.
func (l *Ledger) SetClock(now func() time.Time) {
	l.mu.Lock()
	l.now = now
	l.mu.Unlock()
}

func (l *Ledger) clock() func() time.Time {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.now
}

func (l *Ledger) record(name string) *usage {
	l.mu.RLock()
	u, ok := l.records[name]
	l.mu.RUnlock()
	if ok {
		return u
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if u, ok = l.records[name]; ok {
		return u
	}
	u = &usage{windowStartedAt: l.now()}
	l.records[name] = u
	return u
}

// rollIfExpired resets the window lazily. Caller must hold u.mu.
// Returns true when a reset happened.
func (l *Ledger) rollIfExpired(u *usage, window time.Duration, now time.Time) bool {
	if window <= 0 || now.Sub(u.windowStartedAt) <= window {
		return false
	}
	u.tokensConsumed = 0
	u.requestCount = 0
	u.windowStartedAt = now
	return true
}

// RecordUsage increments the provider's counters, rolling the window first if
// it has expired. Negative token counts are clamped to zero.
func (l *Ledger) RecordUsage(name string, tokens int64) {
	desc, ok := l.registry.Get(name)
	if !ok {
		return
	}
	if tokens < 0 {
		tokens = 0
	}

	now := l.clock()()
	u := l.record(name)

	u.mu.Lock()
	rolled := l.rollIfExpired(u, desc.Window, now)
	u.tokensConsumed += tokens
	u.requestCount++
	u.mu.Unlock()

	if rolled {
		l.restoreIfExhausted(name)
	}
}

// HasBudget reports whether the provider has remaining request and token
// budget in the current window. The check itself rolls an expired window,
// which also lifts an Exhausted state left over from the previous window.
func (l *Ledger) HasBudget(name string) bool {
	desc, ok := l.registry.Get(name)
	if !ok {
		return false
	}

	now := l.clock()()
	u := l.record(name)

	u.mu.Lock()
	rolled := l.rollIfExpired(u, desc.Window, now)
	requests := u.requestCount
	tokens := u.tokensConsumed
	u.mu.Unlock()

	if rolled {
		l.restoreIfExhausted(name)
	}

	if desc.RequestsPerWindow > 0 && requests >= desc.RequestsPerWindow {
		return false
	}
	if desc.TokenBudget > 0 && tokens >= desc.TokenBudget {
		return false
	}
	return true
}

// Snapshot returns the provider's current counters after applying any
// pending window rollover.
func (l *Ledger) Snapshot(name string) (tokens, requests int64, windowStartedAt time.Time) {
	desc, ok := l.registry.Get(name)
	if !ok {
		return 0, 0, time.Time{}
	}

	now := l.clock()()
	u := l.record(name)

	u.mu.Lock()
	defer u.mu.Unlock()
	l.rollIfExpired(u, desc.Window, now)
	return u.tokensConsumed, u.requestCount, u.windowStartedAt
}

// restoreIfExhausted lifts the Exhausted state after a window rollover.
// Providers demoted to Fallback stay demoted; only quota exhaustion is
// tied to the window.
func (l *Ledger) restoreIfExhausted(name string) {
	if state, ok := l.registry.State(name); ok && state == StateExhausted {
		l.registry.SetState(name, StateActive)
	}
}
