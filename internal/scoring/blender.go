// Copyright 2026 The Oraculum Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package scoring

import (
	"fmt"
	"sort"
	"strings"
)

// EmptyResultText is the sentinel returned when no provider, including the
// fallback, produced an answer. Callers receive this with confidence 0
// instead of an error.
const EmptyResultText = "No interpretation is available right now. Please try again in a moment."

// BlendedProvider is the provider label used for multi-source composites.
const BlendedProvider = "blended"

const blendHeader = "Synthesized from multiple sources:"

const blendSeparator = "\n\n---\n\n"

// Blended is the final merged answer handed back to the boundary.
type Blended struct {
	Text       string
	Provider   string
	Confidence float64
}

// Blend merges scored responses into one answer.
//
// With two or more responses at or above the floor, their texts are joined
// under a synthesis header, highest confidence first, and the composite
// carries the maximum constituent confidence. With exactly one qualifier it
// is returned verbatim. With none, the best below-floor response is returned
// as-is; with no responses at all the empty-result sentinel is produced.
func Blend(responses []Response, floor float64) Blended {
	if len(responses) == 0 {
		return Blended{Text: EmptyResultText, Provider: "", Confidence: 0}
	}

	var qualifying []Response
	for _, r := range responses {
		if r.Confidence >= floor {
			qualifying = append(qualifying, r)
		}
	}

	switch len(qualifying) {
	case 0:
		best, _ := SelectBest(responses)
		return Blended{Text: best.Text, Provider: best.ProviderID, Confidence: best.Confidence}
	case 1:
		r := qualifying[0]
		return Blended{Text: r.Text, Provider: r.ProviderID, Confidence: r.Confidence}
	}

	sort.SliceStable(qualifying, func(i, j int) bool {
		if qualifying[i].Confidence != qualifying[j].Confidence {
			return qualifying[i].Confidence > qualifying[j].Confidence
		}
		return qualifying[i].CompletedAt.Before(qualifying[j].CompletedAt)
	})

	var b strings.Builder
	b.WriteString(blendHeader)
	for _, r := range qualifying {
		b.WriteString(blendSeparator)
		b.WriteString(fmt.Sprintf("[%s]\n", r.ProviderID))
		b.WriteString(r.Text)
	}

	return Blended{
		Text:       b.String(),
		Provider:   BlendedProvider,
		Confidence: qualifying[0].Confidence,
	}
}
