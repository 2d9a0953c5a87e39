// Copyright 2026 The Oraculum Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package decision runs the continuous health loop: it samples system
// signals, chooses a remedial action under uncertainty, executes it against
// the registry/breaker/dispatcher, and records the decision plus its
// later-assessed effectiveness for the learning adjuster.
package decision

import (
	"time"
)

// Action is the remedial action a decision selects.
type Action string

const (
	// ActionPrevent pre-emptively demotes a provider before it is forced
	// into exhaustion.
	ActionPrevent Action = "prevent"
	// ActionHeal invokes a named healing routine.
	ActionHeal Action = "heal"
	// ActionOptimize triggers a lighter-weight maintenance pass.
	ActionOptimize Action = "optimize"
	// ActionEscalate surfaces the condition for external attention. It never
	// retries anything itself.
	ActionEscalate Action = "escalate"
	// ActionIgnore is a no-op.
	ActionIgnore Action = "ignore"
)

// ValidAction reports whether the string names a known action.
func ValidAction(s string) bool {
	switch Action(s) {
	case ActionPrevent, ActionHeal, ActionOptimize, ActionEscalate, ActionIgnore:
		return true
	}
	return false
}

// Signals is one sample of system health inputs.
type Signals struct {
	// MemoryPressure is heap-in-use over heap-from-OS, in [0,1].
	MemoryPressure float64

	// ErrorRate is the fraction of recent provider calls that failed.
	ErrorRate float64

	// OpenBreakers counts providers currently excluded by their breaker.
	OpenBreakers int

	// LatencyP95Ms is the tail provider latency in milliseconds.
	LatencyP95Ms int64

	// MemoryThreshold and ErrorThreshold are the learned thresholds in
	// effect when the sample was taken, exposed so rule expressions can
	// reference them.
	MemoryThreshold float64
	ErrorThreshold  float64

	SampledAt time.Time
}

// Decision is one chosen action and its recorded context. Never mutated
// after creation except for the attached effectiveness assessment, which the
// history manages.
type Decision struct {
	Action     Action    `json:"action"`
	Reasoning  string    `json:"reasoning"`
	Confidence float64   `json:"confidence"`
	RiskLevel  float64   `json:"risk_level"`
	CreatedAt  time.Time `json:"created_at"`

	// Routine names the healing routine for ActionHeal decisions.
	Routine string `json:"routine,omitempty"`

	// Signals is the health sample that produced this decision, kept for the
	// later effectiveness assessment.
	Signals Signals `json:"-"`
}
