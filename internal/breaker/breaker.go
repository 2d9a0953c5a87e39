// Copyright 2026 The Oraculum Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package breaker implements the per-provider circuit breaker. A provider
// that fails repeatedly is excluded from dispatch without any network
// attempt, then automatically re-admitted for a trial call once the cooldown
// elapses. No operator intervention is ever required to recover.
package breaker

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// State is the breaker state for one provider.
type State string

const (
	// StateClosed admits calls.
	StateClosed State = "closed"
	// StateOpen rejects calls until the cooldown elapses.
	StateOpen State = "open"
)

type providerBreaker struct {
	mu                  sync.Mutex
	consecutiveFailures int
	lastFailureAt       time.Time
	open                bool
}

// Breaker tracks failure streaks per provider. Each provider has its own
// lock; unrelated providers never contend.
type Breaker struct {
	threshold int
	cooldown  time.Duration

	mu        sync.RWMutex
	providers map[string]*providerBreaker

	// now is injectable for tests that simulate cooldown expiry.
	now func() time.Time

	// onTrip is invoked (outside any lock) when a breaker opens.
	onTrip func(providerName string)
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithClock overrides the breaker's time source. Test use only.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		b.now = now
	}
}

// WithTripCallback registers a callback invoked whenever a breaker opens.
func WithTripCallback(cb func(providerName string)) Option {
	return func(b *Breaker) {
		b.onTrip = cb
	}
}

// New creates a breaker. threshold <= 0 defaults to 3 consecutive failures;
// cooldown <= 0 defaults to 10 minutes.
func New(threshold int, cooldown time.Duration, opts ...Option) *Breaker {
	if threshold <= 0 {
		threshold = 3
	}
	if cooldown <= 0 {
		cooldown = 10 * time.Minute
	}
	b := &Breaker{
		threshold: threshold,
		cooldown:  cooldown,
		providers: make(map[string]*providerBreaker),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Breaker) provider(name string) *providerBreaker {
	b.mu.RLock()
	p, ok := b.providers[name]
	b.mu.RUnlock()
	if ok {
		return p
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok = b.providers[name]; ok {
		return p
	}
	p = &providerBreaker{}
	b.providers[name] = p
	return p
}

// Allow reports whether a call to the provider is admitted. An open breaker
// whose cooldown has elapsed closes here, with counters reset, admitting one
// trial call.
func (b *Breaker) Allow(name string) bool {
	p := b.provider(name)
	now := b.now()

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.open {
		return true
	}
	if now.Sub(p.lastFailureAt) < b.cooldown {
		return false
	}

	// Cooldown elapsed: re-arm for a trial call.
	p.open = false
	p.consecutiveFailures = 0
	log.Infof("breaker for provider %s re-armed after cooldown", name)
	return true
}

// RecordFailure counts a failed or timed-out call. Reaching the threshold
// opens the breaker.
func (b *Breaker) RecordFailure(name string) {
	p := b.provider(name)
	now := b.now()

	p.mu.Lock()
	p.consecutiveFailures++
	p.lastFailureAt = now
	tripped := !p.open && p.consecutiveFailures >= b.threshold
	if tripped {
		p.open = true
	}
	failures := p.consecutiveFailures
	p.mu.Unlock()

	if tripped {
		log.Warnf("breaker opened for provider %s after %d consecutive failures", name, failures)
		if b.onTrip != nil {
			b.onTrip(name)
		}
	}
}

// RecordSuccess resets the failure streak immediately, without waiting for
// any cooldown.
func (b *Breaker) RecordSuccess(name string) {
	p := b.provider(name)

	p.mu.Lock()
	p.consecutiveFailures = 0
	p.open = false
	p.mu.Unlock()
}

// State returns the provider's current breaker state, accounting for an
// elapsed cooldown.
func (b *Breaker) State(name string) State {
	p := b.provider(name)
	now := b.now()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.open && now.Sub(p.lastFailureAt) >= b.cooldown {
		return StateClosed
	}
	if p.open {
		return StateOpen
	}
	return StateClosed
}

// Failures returns the provider's current consecutive-failure count.
func (b *Breaker) Failures(name string) int {
	p := b.provider(name)
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.consecutiveFailures
}

// OpenCount returns how many known providers currently have an open breaker.
func (b *Breaker) OpenCount() int {
	b.mu.RLock()
	names := make([]string, 0, len(b.providers))
	for name := range b.providers {
		names = append(names, name)
	}
	b.mu.RUnlock()

	count := 0
	for _, name := range names {
		if b.State(name) == StateOpen {
			count++
		}
	}
	return count
}

// Reset clears the provider's breaker entirely. Used by healing routines.
func (b *Breaker) Reset(name string) {
	b.RecordSuccess(name)
}
