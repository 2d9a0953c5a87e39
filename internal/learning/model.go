// Copyright 2026 The Oraculum Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package learning maintains the process-wide threshold model and the
// adjuster loop that nudges it from observed decision outcomes. Adjustment
// is bounded integral control: small clamped steps, never direct
// assignment, so one anomalous reading cannot swing behavior.
package learning

import (
	"sync"
)

// Threshold names used by the decision engine.
const (
	ThresholdMemory = "memory"
	ThresholdError  = "error"
)

// Model is the single process-wide mapping of named thresholds. Reads may
// happen concurrently with a write in progress and always observe either the
// pre- or post-update value.
type Model struct {
	mu         sync.RWMutex
	thresholds map[string]float64
	min, max   float64
}

// NewModel creates a model with the given initial thresholds, clamped to
// [min, max].
func NewModel(initial map[string]float64, min, max float64) *Model {
	if min <= 0 {
		min = 0.1
	}
	if max <= 0 || max <= min {
		max = 0.95
	}
	m := &Model{
		thresholds: make(map[string]float64, len(initial)),
		min:        min,
		max:        max,
	}
	for name, v := range initial {
		m.thresholds[name] = m.clamp(v)
	}
	return m
}

func (m *Model) clamp(v float64) float64 {
	if v < m.min {
		return m.min
	}
	if v > m.max {
		return m.max
	}
	return v
}

// Threshold returns the current value for a named threshold, or the clamp
// midpoint for an unknown name.
func (m *Model) Threshold(name string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if v, ok := m.thresholds[name]; ok {
		return v
	}
	return (m.min + m.max) / 2
}

// Nudge moves a threshold by delta, clamped to the sane range. Returns the
// new value.
func (m *Model) Nudge(name string, delta float64) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.thresholds[name]
	if !ok {
		v = (m.min + m.max) / 2
	}
	v = m.clamp(v + delta)
	m.thresholds[name] = v
	return v
}

// Snapshot returns a copy of all thresholds.
func (m *Model) Snapshot() map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]float64, len(m.thresholds))
	for k, v := range m.thresholds {
		out[k] = v
	}
	return out
}
