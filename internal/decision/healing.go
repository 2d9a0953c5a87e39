// Copyright 2026 The Oraculum Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package decision

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/oraculum-ai/oraculum/internal/breaker"
	"github.com/oraculum-ai/oraculum/internal/registry"
)

// Built-in healing routine names. The registry is fixed at construction;
// heal decisions and the administrative override can only invoke what is
// registered here.
const (
	RoutineFreeCaches       = "free-caches"
	RoutineResetBreakers    = "reset-breakers"
	RoutineRestoreProviders = "restore-providers"
	RoutineShedLoad         = "shed-load"
)

// HealingFunc is one remedial routine.
type HealingFunc func(ctx context.Context) error

// HealingRegistry is the fixed catalog of named healing routines.
type HealingRegistry struct {
	mu       sync.RWMutex
	routines map[string]HealingFunc
}

// NewHealingRegistry builds the built-in routine set against the given
// registry and breaker.
func NewHealingRegistry(reg *registry.Registry, brk *breaker.Breaker) *HealingRegistry {
	h := &HealingRegistry{routines: make(map[string]HealingFunc)}

	h.routines[RoutineFreeCaches] = func(context.Context) error {
		runtime.GC()
		debug.FreeOSMemory()
		return nil
	}

	h.routines[RoutineResetBreakers] = func(context.Context) error {
		for _, name := range reg.Names() {
			brk.Reset(name)
		}
		return nil
	}

	h.routines[RoutineRestoreProviders] = func(context.Context) error {
		for _, name := range reg.Names() {
			if state, ok := reg.State(name); ok && state == registry.StateFallback {
				reg.SetState(name, registry.StateActive)
			}
		}
		return nil
	}

	// Demote the busiest provider so remaining quota is spread across the
	// rest of the pool.
	h.routines[RoutineShedLoad] = func(context.Context) error {
		ledger := reg.Ledger()
		var busiest string
		var most int64 = -1
		for _, name := range reg.Names() {
			state, ok := reg.State(name)
			if !ok || state != registry.StateActive {
				continue
			}
			_, requests, _ := ledger.Snapshot(name)
			if requests > most {
				most = requests
				busiest = name
			}
		}
		if busiest == "" {
			return nil
		}
		reg.SetState(busiest, registry.StateFallback)
		log.Infof("shed-load demoted provider %s (%d requests this window)", busiest, most)
		return nil
	}

	return h
}

// Run executes a named routine. Unknown names are an error; the engine and
// the admin override both surface that as a failed action, never a crash.
func (h *HealingRegistry) Run(ctx context.Context, name string) error {
	h.mu.RLock()
	fn, ok := h.routines[name]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown healing routine %q", name)
	}
	return fn(ctx)
}

// Names returns the registered routine names, sorted.
func (h *HealingRegistry) Names() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.routines))
	for name := range h.routines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
