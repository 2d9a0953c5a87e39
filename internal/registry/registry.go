// Copyright 2026 The Oraculum Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package registry maintains the catalog of inference providers and their
// usage ledger. Descriptors are immutable after startup except for the
// operational state, which the breaker, ledger, and decision engine mutate
// through the registry's synchronized accessors.
package registry

import (
	"os"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/oraculum-ai/oraculum/internal/config"
)

// OperationalState describes a provider's current availability class.
type OperationalState string

const (
	// StateActive means the provider participates in normal dispatch.
	StateActive OperationalState = "active"
	// StateFallback means the provider was pre-emptively demoted and is only
	// used when active providers are insufficient.
	StateFallback OperationalState = "fallback"
	// StateExhausted means the provider's quota window is spent; it is skipped
	// until the window rolls over.
	StateExhausted OperationalState = "exhausted"
)

// Descriptor is the immutable identity of one provider. Operational state
// lives on the registry entry, not here, so descriptors can be handed out
// by value without copy races.
type Descriptor struct {
	Name              string
	Endpoint          string
	APIKey            string
	Model             string
	Capabilities      []string
	RequestsPerWindow int64
	Window            time.Duration
	TokenBudget       int64
	Reliability       float64
	TextPath          string
	TokensPath        string
}

// HasCapability reports whether the descriptor serves the given capability tag.
// An empty tag matches every provider.
func (d *Descriptor) HasCapability(capability string) bool {
	if capability == "" {
		return true
	}
	for _, c := range d.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

type entry struct {
	desc Descriptor

	mu    sync.Mutex
	state OperationalState
}

// Gate reports whether calls to a provider are currently admitted.
// The circuit breaker implements this.
type Gate interface {
	Allow(providerName string) bool
}

// Registry is the synchronized catalog of providers plus their usage ledger.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string // stable ascending-by-limit ordering computed at build time

	ledger *Ledger
}

// New builds a registry from provider configuration. API keys are resolved
// from the environment here, once; missing credentials were already rejected
// by config validation.
func New(providers []config.ProviderConfig) *Registry {
	r := &Registry{
		entries: make(map[string]*entry, len(providers)),
	}
	for i := range providers {
		p := &providers[i]
		d := Descriptor{
			Name:              p.Name,
			Endpoint:          p.Endpoint,
			Model:             p.Model,
			Capabilities:      append([]string(nil), p.Capabilities...),
			RequestsPerWindow: p.RequestsPerWindow,
			Window:            time.Duration(p.WindowMinutes) * time.Minute,
			TokenBudget:       p.TokenBudget,
			Reliability:       p.Reliability,
			TextPath:          p.TextPath,
			TokensPath:        p.TokensPath,
		}
		if p.APIKeyEnv != "" {
			d.APIKey = os.Getenv(p.APIKeyEnv)
		}
		r.entries[p.Name] = &entry{desc: d, state: StateActive}
		r.order = append(r.order, p.Name)
	}

	// Prefer the most constrained provider first, reserving generous-limit
	// providers for overflow.
	sort.SliceStable(r.order, func(i, j int) bool {
		return r.entries[r.order[i]].desc.RequestsPerWindow < r.entries[r.order[j]].desc.RequestsPerWindow
	})

	r.ledger = newLedger(r)
	return r
}

// Ledger returns the registry's usage ledger.
func (r *Registry) Ledger() *Ledger {
	return r.ledger
}

// Get returns the descriptor for a provider name.
func (r *Registry) Get(name string) (Descriptor, bool) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return Descriptor{}, false
	}
	return e.desc, true
}

// State returns the provider's current operational state.
func (r *Registry) State(name string) (OperationalState, bool) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return "", false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state, true
}

// SetState transitions a provider's operational state.
func (r *Registry) SetState(name string, state OperationalState) bool {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	e.mu.Lock()
	prev := e.state
	e.state = state
	e.mu.Unlock()
	if prev != state {
		log.Infof("provider %s state %s -> %s", name, prev, state)
	}
	return true
}

// MarkExhausted flips a provider to the exhausted state until its usage
// window rolls over.
func (r *Registry) MarkExhausted(name string) bool {
	return r.SetState(name, StateExhausted)
}

// ListEligible returns descriptors of providers that are Active, have
// remaining budget in the current usage window, and whose gate (breaker)
// admits calls. The result is ordered ascending by declared request limit.
// A nil gate admits everyone.
func (r *Registry) ListEligible(capability string, gate Gate) []Descriptor {
	r.mu.RLock()
	order := r.order
	r.mu.RUnlock()

	var out []Descriptor
	for _, name := range order {
		r.mu.RLock()
		e := r.entries[name]
		r.mu.RUnlock()

		if !e.desc.HasCapability(capability) {
			continue
		}

		e.mu.Lock()
		state := e.state
		e.mu.Unlock()
		if state != StateActive {
			continue
		}

		if !r.ledger.HasBudget(name) {
			continue
		}
		if gate != nil && !gate.Allow(name) {
			continue
		}
		out = append(out, e.desc)
	}
	return out
}

// Names returns every registered provider name in constrained-first order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// StateCounts returns a count of providers per operational state, for
// health snapshots.
func (r *Registry) StateCounts() map[OperationalState]int {
	counts := make(map[OperationalState]int, 3)
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()
	for _, e := range entries {
		e.mu.Lock()
		counts[e.state]++
		e.mu.Unlock()
	}
	return counts
}
