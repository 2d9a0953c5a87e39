// Copyright 2026 The Oraculum Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package learning

import (
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/oraculum-ai/oraculum/internal/config"
)

// Outcome is one past decision's assessed result, as exposed by the decision
// history.
type Outcome struct {
	// Action is the decision action name ("heal", "prevent", ...).
	Action string

	// Effectiveness is the later-assessed score in [0,1].
	Effectiveness float64

	// Assessed reports whether an effectiveness score has been attached yet.
	Assessed bool
}

// Source supplies recent decision outcomes for review. The decision history
// implements this.
type Source interface {
	RecentOutcomes(n int) []Outcome
}

// Adjuster periodically reviews recent decisions and nudges the model's
// thresholds toward observed reality. It is the model's single writer.
type Adjuster struct {
	model  *Model
	source Source

	interval   time.Duration
	sampleSize int
	step       float64

	reviews  atomic.Int64
	assessed atomic.Int64

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewAdjuster creates an adjuster over the given model and outcome source.
func NewAdjuster(model *Model, source Source, cfg config.LearningConfig) *Adjuster {
	interval := time.Duration(cfg.IntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = 30 * time.Second
	}
	sampleSize := cfg.SampleSize
	if sampleSize <= 0 {
		sampleSize = 50
	}
	step := cfg.Step
	if step <= 0 {
		step = 0.05
	}
	return &Adjuster{
		model:      model,
		source:     source,
		interval:   interval,
		sampleSize: sampleSize,
		step:       step,
		stop:       make(chan struct{}),
	}
}

// Start launches the background review loop.
func (a *Adjuster) Start() {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ticker := time.NewTicker(a.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				a.ReviewOnce()
			case <-a.stop:
				return
			}
		}
	}()
}

// Stop terminates the review loop and waits for it to exit.
func (a *Adjuster) Stop() {
	a.stopOnce.Do(func() { close(a.stop) })
	a.wg.Wait()
}

// ReviewOnce reviews the most recent decisions and applies at most one
// bounded nudge per threshold. Exported so tests and the maintenance pass
// can drive it synchronously.
func (a *Adjuster) ReviewOnce() {
	outcomes := a.source.RecentOutcomes(a.sampleSize)

	// Average effectiveness per action over assessed outcomes only.
	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, o := range outcomes {
		if !o.Assessed {
			continue
		}
		sums[o.Action] += o.Effectiveness
		counts[o.Action]++
		a.assessed.Add(1)
	}
	if len(counts) == 0 {
		return
	}
	a.reviews.Add(1)

	for action, count := range counts {
		avg := sums[action] / float64(count)
		threshold, ok := thresholdForAction(action)
		if !ok {
			continue
		}

		// Effective interventions argue for acting sooner (lower threshold);
		// ineffective ones argue for acting later. Neutral outcomes near 0.5
		// leave the threshold alone.
		var delta float64
		switch {
		case avg >= 0.6:
			delta = -a.step
		case avg <= 0.4:
			delta = a.step
		default:
			continue
		}
		v := a.model.Nudge(threshold, delta)
		log.Debugf("learning: %s effectiveness %.2f over %d decisions, %s threshold now %.2f", action, avg, count, threshold, v)
	}
}

// thresholdForAction maps a decision action to the threshold it tunes.
func thresholdForAction(action string) (string, bool) {
	switch action {
	case "heal", "optimize":
		return ThresholdMemory, true
	case "prevent":
		return ThresholdError, true
	default:
		return "", false
	}
}

// Maturity reports how established the learned model is, on a 0-100 scale,
// from the volume of assessed decisions reviewed so far.
func (a *Adjuster) Maturity() int {
	assessed := a.assessed.Load()
	if assessed >= 100 {
		return 100
	}
	return int(assessed)
}
