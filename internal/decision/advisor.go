// Copyright 2026 The Oraculum Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package decision

import (
	"context"
	"errors"
)

// ErrAdvisorUnavailable signals that the advisor cannot currently produce a
// decision. The engine degrades to the rule table without logging above
// debug severity.
var ErrAdvisorUnavailable = errors.New("decision advisor unavailable")

// Advisor is the optional pluggable reasoning strategy consulted before the
// rule table. Implementations may call out to an external model; the engine
// tolerates any failure, so implementations should prefer returning an error
// over blocking. The rule table remains the mandatory default and is never
// bypassed for correctness.
type Advisor interface {
	Advise(ctx context.Context, s Signals) (*Decision, error)
}

// UnavailableAdvisor is the shipped default: always defers to the rule table.
type UnavailableAdvisor struct{}

// Advise always reports the advisor as unavailable.
func (UnavailableAdvisor) Advise(context.Context, Signals) (*Decision, error) {
	return nil, ErrAdvisorUnavailable
}

// normalizeAdvice validates and clamps an advisor-produced decision into the
// canonical record shape. Malformed output yields false and the caller falls
// back to the rule table.
func normalizeAdvice(d *Decision, s Signals) (Decision, bool) {
	if d == nil || !ValidAction(string(d.Action)) {
		return Decision{}, false
	}
	out := *d
	out.Confidence = clamp01(out.Confidence)
	out.RiskLevel = clamp01(out.RiskLevel)
	out.CreatedAt = s.SampledAt
	out.Signals = s
	if out.Action == ActionHeal && out.Routine == "" {
		out.Routine = RoutineFreeCaches
	}
	if out.Reasoning == "" {
		out.Reasoning = "advisor decision"
	}
	return out, true
}
