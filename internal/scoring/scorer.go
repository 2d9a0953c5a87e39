// Copyright 2026 The Oraculum Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package scoring assigns confidence scores to provider responses and merges
// heterogeneous responses into a single answer. Scoring is deterministic:
// identical inputs always produce identical confidence, so every weight is
// unit-testable and exposed as configuration rather than hard-coded.
package scoring

import (
	"strings"
	"sync"
	"time"

	"github.com/oraculum-ai/oraculum/internal/config"
)

// Response is one provider's completed answer. Created once per successful
// call and never mutated afterwards.
type Response struct {
	ProviderID  string
	Text        string
	Confidence  float64
	TokensUsed  int64
	CompletedAt time.Time
}

// Scorer computes response confidence from the configured length buckets,
// a static per-provider reliability weight, and domain vocabulary hits.
type Scorer struct {
	mu          sync.RWMutex
	cfg         config.ScoringConfig
	reliability map[string]float64
	vocabulary  []string
}

// NewScorer builds a scorer from configuration and the per-provider
// reliability weights declared in the registry.
func NewScorer(cfg config.ScoringConfig, reliability map[string]float64) *Scorer {
	s := &Scorer{}
	s.Reconfigure(cfg, reliability)
	return s
}

// Reconfigure swaps the scoring weights. Used by config hot reload; callers
// mid-score observe either the old or new weights, never a mix.
func (s *Scorer) Reconfigure(cfg config.ScoringConfig, reliability map[string]float64) {
	vocab := make([]string, len(cfg.Vocabulary))
	for i, w := range cfg.Vocabulary {
		vocab[i] = strings.ToLower(w)
	}
	rel := make(map[string]float64, len(reliability))
	for k, v := range reliability {
		rel[k] = v
	}

	s.mu.Lock()
	s.cfg = cfg
	s.reliability = rel
	s.vocabulary = vocab
	s.mu.Unlock()
}

// Score derives a confidence in [0,1] for the response. Pure with respect to
// its input and the current configuration; no hidden randomness.
func (s *Scorer) Score(resp Response) float64 {
	s.mu.RLock()
	cfg := s.cfg
	rel, known := s.reliability[resp.ProviderID]
	vocab := s.vocabulary
	s.mu.RUnlock()

	if !known {
		rel = 0.5
	}

	lengthScore := s.lengthBucketScore(cfg.LengthBuckets, len(resp.Text))

	confidence := cfg.LengthWeight*lengthScore + cfg.ReliabilityWeight*rel

	lower := strings.ToLower(resp.Text)
	bonus := 0.0
	for _, term := range vocab {
		if strings.Contains(lower, term) {
			bonus += cfg.VocabularyBonus
		}
	}
	if bonus > cfg.MaxVocabularyBonus {
		bonus = cfg.MaxVocabularyBonus
	}
	confidence += bonus

	return clamp01(confidence)
}

func (s *Scorer) lengthBucketScore(buckets []config.LengthBucket, length int) float64 {
	for _, b := range buckets {
		if b.MaxChars == 0 || length <= b.MaxChars {
			return clamp01(b.Score)
		}
	}
	return 0
}

// SelectBest returns the response with maximal confidence, ties broken by
// earliest completion. Returns false when the slice is empty.
func SelectBest(responses []Response) (Response, bool) {
	if len(responses) == 0 {
		return Response{}, false
	}
	best := responses[0]
	for _, r := range responses[1:] {
		if r.Confidence > best.Confidence ||
			(r.Confidence == best.Confidence && r.CompletedAt.Before(best.CompletedAt)) {
			best = r
		}
	}
	return best, true
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
