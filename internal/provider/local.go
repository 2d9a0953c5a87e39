// Copyright 2026 The Oraculum Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package provider

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tiktoken-go/tokenizer"

	"github.com/oraculum-ai/oraculum/internal/registry"
)

var (
	encOnce sync.Once
	enc     tokenizer.Codec
)

// EstimateTokens counts tokens with the cl100k tokenizer, falling back to a
// words*1.3 approximation if the tokenizer cannot be loaded.
func EstimateTokens(content string) int {
	if content == "" {
		return 0
	}

	encOnce.Do(func() {
		codec, err := tokenizer.Get(tokenizer.Cl100kBase)
		if err == nil {
			enc = codec
		}
	})

	if enc != nil {
		if ids, _, err := enc.Encode(content); err == nil {
			return len(ids)
		}
	}

	// Most tokenizers produce ~1.3 tokens per word on average.
	return int(float64(len(strings.Fields(content))) * 1.3)
}

// LocalProvider is the designated fallback: resource-unconstrained, always
// eligible, never rate-limited. It produces a modest template interpretation
// so a total upstream outage still yields a usable answer.
type LocalProvider struct{}

// NewLocalProvider creates the built-in fallback provider.
func NewLocalProvider() *LocalProvider {
	return &LocalProvider{}
}

// Call synthesizes an interpretation locally. It never fails and ignores the
// descriptor's network identity.
func (l *LocalProvider) Call(_ context.Context, _ registry.Descriptor, req Request, _ time.Duration) (Result, error) {
	input := strings.TrimSpace(req.Input)
	if len(input) > 280 {
		input = input[:280] + "…"
	}

	text := fmt.Sprintf(
		"Reflecting on what you shared (%q), a few threads stand out. "+
			"There is tension between what is ending and what is beginning; "+
			"the situation rewards patience over force. Consider what you are "+
			"holding onto out of habit rather than need, and what small, "+
			"concrete step would move things forward today.",
		input,
	)

	return Result{
		Text:       text,
		TokensUsed: int64(EstimateTokens(req.Input + text)),
	}, nil
}
