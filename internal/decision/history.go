// Copyright 2026 The Oraculum Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package decision

import (
	"sync"

	"github.com/oraculum-ai/oraculum/internal/learning"
)

// record pairs a decision with its mutable assessment slot.
type record struct {
	decision      Decision
	effectiveness float64
	assessed      bool
}

// History is the bounded in-memory decision buffer. Most-recent N decisions
// are retained; the oldest are evicted. It implements learning.Source.
type History struct {
	mu      sync.RWMutex
	records []*record
	limit   int
}

// NewHistory creates a history retaining at most limit decisions.
func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = 100
	}
	return &History{limit: limit}
}

// Append adds a decision, evicting the oldest when full.
func (h *History) Append(d Decision) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.records) >= h.limit {
		h.records = h.records[1:]
	}
	h.records = append(h.records, &record{decision: d})
}

// Len returns the number of retained decisions.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.records)
}

// Recent returns copies of the most recent n decisions, newest last.
func (h *History) Recent(n int) []Decision {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if n <= 0 || n > len(h.records) {
		n = len(h.records)
	}
	out := make([]Decision, 0, n)
	for _, r := range h.records[len(h.records)-n:] {
		out = append(out, r.decision)
	}
	return out
}

// AssessPending attaches an effectiveness score to unassessed decisions
// using the supplied assessor. The assessor returns ok=false to defer a
// decision that is too fresh to judge.
func (h *History) AssessPending(assess func(Decision) (float64, bool)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range h.records {
		if r.assessed {
			continue
		}
		if score, ok := assess(r.decision); ok {
			r.effectiveness = clamp01(score)
			r.assessed = true
		}
	}
}

// RecentOutcomes implements learning.Source.
func (h *History) RecentOutcomes(n int) []learning.Outcome {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if n <= 0 || n > len(h.records) {
		n = len(h.records)
	}
	out := make([]learning.Outcome, 0, n)
	for _, r := range h.records[len(h.records)-n:] {
		out = append(out, learning.Outcome{
			Action:        string(r.decision.Action),
			Effectiveness: r.effectiveness,
			Assessed:      r.assessed,
		})
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
