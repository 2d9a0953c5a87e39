// Copyright 2026 The Oraculum Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package decision

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	log "github.com/sirupsen/logrus"

	"github.com/oraculum-ai/oraculum/internal/config"
)

// defaultRules is the built-in decision table, used when configuration
// supplies no override. Evaluated in order; first match wins; no match
// means ignore.
func defaultRules() []config.DecisionRule {
	return []config.DecisionRule{
		{
			When:       "MemoryPressure > MemoryThreshold",
			Action:     string(ActionHeal),
			Reason:     "memory pressure above learned threshold",
			Confidence: 0.8,
			Risk:       0.3,
		},
		{
			When:       "ErrorRate > ErrorThreshold",
			Action:     string(ActionPrevent),
			Reason:     "provider error rate above learned threshold",
			Confidence: 0.75,
			Risk:       0.2,
		},
		{
			When:       "OpenBreakers >= 3",
			Action:     string(ActionEscalate),
			Reason:     "multiple provider breakers open simultaneously",
			Confidence: 0.9,
			Risk:       0.1,
		},
		{
			When:       "LatencyP95Ms > 20000",
			Action:     string(ActionOptimize),
			Reason:     "tail latency degraded",
			Confidence: 0.6,
			Risk:       0.1,
		},
	}
}

// ruleEnv is the expression environment. Field names are the vocabulary
// available to configured `when` conditions.
type ruleEnv struct {
	MemoryPressure  float64
	ErrorRate       float64
	OpenBreakers    int
	LatencyP95Ms    int64
	MemoryThreshold float64
	ErrorThreshold  float64
}

// ruleTable evaluates decision rules with precompiled expr programs.
type ruleTable struct {
	mu       sync.RWMutex
	rules    []config.DecisionRule
	programs map[string]*vm.Program
}

func newRuleTable(rules []config.DecisionRule) *ruleTable {
	if len(rules) == 0 {
		rules = defaultRules()
	}
	return &ruleTable{
		rules:    rules,
		programs: make(map[string]*vm.Program),
	}
}

// Reconfigure swaps the rule set. Compiled programs for unchanged conditions
// are kept.
func (t *ruleTable) Reconfigure(rules []config.DecisionRule) {
	if len(rules) == 0 {
		rules = defaultRules()
	}
	t.mu.Lock()
	t.rules = rules
	t.mu.Unlock()
}

func (t *ruleTable) program(condition string) (*vm.Program, error) {
	t.mu.RLock()
	program, ok := t.programs[condition]
	t.mu.RUnlock()
	if ok {
		return program, nil
	}

	program, err := expr.Compile(condition, expr.Env(ruleEnv{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("failed to compile condition %q: %w", condition, err)
	}

	t.mu.Lock()
	t.programs[condition] = program
	t.mu.Unlock()
	return program, nil
}

// Decide evaluates the table against the signals. It always returns a
// decision; a rule that fails to compile or run is skipped with a low-severity
// log, and no match produces an ignore decision.
func (t *ruleTable) Decide(s Signals) Decision {
	env := ruleEnv{
		MemoryPressure:  s.MemoryPressure,
		ErrorRate:       s.ErrorRate,
		OpenBreakers:    s.OpenBreakers,
		LatencyP95Ms:    s.LatencyP95Ms,
		MemoryThreshold: s.MemoryThreshold,
		ErrorThreshold:  s.ErrorThreshold,
	}

	t.mu.RLock()
	rules := t.rules
	t.mu.RUnlock()

	for _, rule := range rules {
		program, err := t.program(rule.When)
		if err != nil {
			log.Debugf("decision rule skipped: %v", err)
			continue
		}
		output, err := expr.Run(program, env)
		if err != nil {
			log.Debugf("decision rule %q failed to run: %v", rule.When, err)
			continue
		}
		matched, _ := output.(bool)
		if !matched {
			continue
		}
		if !ValidAction(rule.Action) {
			log.Debugf("decision rule %q names unknown action %q", rule.When, rule.Action)
			continue
		}

		d := Decision{
			Action:     Action(rule.Action),
			Reasoning:  rule.Reason,
			Confidence: clamp01(rule.Confidence),
			RiskLevel:  clamp01(rule.Risk),
			CreatedAt:  s.SampledAt,
			Signals:    s,
		}
		if d.Action == ActionHeal {
			d.Routine = RoutineFreeCaches
		}
		return d
	}

	return Decision{
		Action:     ActionIgnore,
		Reasoning:  "all signals within learned thresholds",
		Confidence: 0.5,
		CreatedAt:  s.SampledAt,
		Signals:    s,
	}
}
