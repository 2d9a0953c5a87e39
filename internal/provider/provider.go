// Copyright 2026 The Oraculum Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package provider defines the uniform calling boundary behind which every
// inference provider sits, plus the two shipped implementations: an
// HTTP+JSON adapter for remote vendors and a local template provider used
// as the resource-unconstrained fallback.
package provider

import (
	"context"
	"errors"
	"time"

	"github.com/oraculum-ai/oraculum/internal/registry"
)

var (
	// ErrQuotaExhausted indicates the provider rejected the call for quota
	// reasons (HTTP 429). The caller marks the provider exhausted rather
	// than counting a breaker failure streak toward it alone.
	ErrQuotaExhausted = errors.New("provider quota exhausted")

	// ErrEmptyResponse indicates the provider replied without usable text.
	ErrEmptyResponse = errors.New("provider returned empty response")
)

// Request is the caller-supplied input payload. Immutable once issued.
type Request struct {
	// ID is the request correlation ID carried through logs.
	ID string

	// Input is the situation text to interpret.
	Input string

	// Capability selects which providers are eligible. Empty matches all.
	Capability string
}

// Result is the uniform successful-call tuple.
type Result struct {
	// Text is the raw response text.
	Text string

	// TokensUsed is the provider-reported (or estimated) token consumption.
	TokensUsed int64
}

// Caller abstracts one provider call. Implementations must honor the timeout
// and never outlive it from the caller's perspective.
type Caller interface {
	Call(ctx context.Context, desc registry.Descriptor, req Request, timeout time.Duration) (Result, error)
}
