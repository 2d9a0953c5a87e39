// Copyright 2026 The Oraculum Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package dispatch implements the provider fan-out. One orchestration call
// selects eligible providers, issues bounded-time parallel calls, joins on
// completion or deadline, and falls back to the designated fallback provider
// when the pool produces nothing. A single provider's failure never aborts
// the others, and failures surface as breaker/ledger state transitions, not
// as errors to the caller.
package dispatch

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/oraculum-ai/oraculum/internal/breaker"
	"github.com/oraculum-ai/oraculum/internal/config"
	"github.com/oraculum-ai/oraculum/internal/metrics"
	"github.com/oraculum-ai/oraculum/internal/provider"
	"github.com/oraculum-ai/oraculum/internal/registry"
	"github.com/oraculum-ai/oraculum/internal/scoring"
)

// Dispatcher coordinates parallel provider calls for one logical request.
type Dispatcher struct {
	registry *registry.Registry
	breaker  *breaker.Breaker
	caller   provider.Caller
	metrics  *metrics.Metrics

	fallbackCaller provider.Caller
	fallbackDesc   registry.Descriptor

	maxFanout       int
	callTimeout     time.Duration
	defaultDeadline time.Duration
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithCaller overrides the provider caller. Used by tests to substitute
// scripted providers.
func WithCaller(c provider.Caller) Option {
	return func(d *Dispatcher) {
		d.caller = c
	}
}

// WithFallback overrides the fallback caller and its descriptor.
func WithFallback(c provider.Caller, desc registry.Descriptor) Option {
	return func(d *Dispatcher) {
		d.fallbackCaller = c
		d.fallbackDesc = desc
	}
}

// New creates a Dispatcher. By default remote providers go through the HTTP
// adapter and the fallback is the built-in local provider, overridden by a
// configured fallback endpoint.
func New(reg *registry.Registry, brk *breaker.Breaker, m *metrics.Metrics, cfg config.DispatchConfig, fallback config.FallbackProviderConfig, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry:        reg,
		breaker:         brk,
		caller:          provider.NewHTTPCaller(),
		metrics:         m,
		maxFanout:       cfg.MaxFanout,
		callTimeout:     time.Duration(cfg.CallTimeoutMs) * time.Millisecond,
		defaultDeadline: time.Duration(cfg.DefaultDeadlineMs) * time.Millisecond,
	}
	if d.maxFanout <= 0 {
		d.maxFanout = 5
	}
	if d.callTimeout <= 0 {
		d.callTimeout = 30 * time.Second
	}
	if d.defaultDeadline <= 0 {
		d.defaultDeadline = 45 * time.Second
	}

	d.fallbackDesc = registry.Descriptor{
		Name:       fallback.Name,
		Endpoint:   fallback.Endpoint,
		Model:      fallback.Model,
		TextPath:   fallback.TextPath,
		TokensPath: fallback.TokensPath,
	}
	if fallback.Endpoint != "" {
		d.fallbackCaller = provider.NewHTTPCaller()
	} else {
		d.fallbackCaller = provider.NewLocalProvider()
	}

	for _, opt := range opts {
		opt(d)
	}
	return d
}

// callOutcome carries one provider call's result through the join channel.
// Failed calls send ok=false so the join can count completions without
// waiting for the deadline when everything has already finished.
type callOutcome struct {
	resp scoring.Response
	ok   bool
}

// Orchestrate fans the request out to up to maxFanout eligible providers and
// returns whichever responses completed before the deadline. It returns an
// empty slice, never an error, when nothing could be produced; the scoring
// layer turns that into the empty-result sentinel.
func (d *Dispatcher) Orchestrate(ctx context.Context, req provider.Request) []scoring.Response {
	d.metrics.RecordRequest()

	// The join is bounded by the caller's deadline, or the default when the
	// caller supplied none.
	joinCtx := ctx
	var cancel context.CancelFunc
	if _, has := ctx.Deadline(); !has {
		joinCtx, cancel = context.WithTimeout(ctx, d.defaultDeadline)
		defer cancel()
	}

	eligible := d.registry.ListEligible(req.Capability, d.breaker)
	if len(eligible) > d.maxFanout {
		eligible = eligible[:d.maxFanout]
	}

	if len(eligible) == 0 {
		log.WithField("request_id", req.ID).Warn("no eligible providers, using fallback")
		return d.invokeFallback(joinCtx, req)
	}

	log.WithField("request_id", req.ID).Debugf("dispatching to %d providers", len(eligible))

	outcomes := make(chan callOutcome, len(eligible))
	for _, desc := range eligible {
		go d.callOne(ctx, desc, req, outcomes)
	}

	var responses []scoring.Response
	completed := 0
join:
	for completed < len(eligible) {
		select {
		case out := <-outcomes:
			completed++
			if out.ok {
				responses = append(responses, out.resp)
			}
		case <-joinCtx.Done():
			// Deadline elapsed. Stragglers stay detached: their breaker and
			// ledger bookkeeping still lands, their results are discarded.
			break join
		}
	}

	if len(responses) == 0 {
		return d.invokeFallback(joinCtx, req)
	}
	return responses
}

// callOne runs one provider call to completion regardless of the join
// deadline. The call context is detached from the orchestration's
// cancellation so late completions still update the ledger and breaker;
// only the per-call timeout bounds it.
func (d *Dispatcher) callOne(ctx context.Context, desc registry.Descriptor, req provider.Request, outcomes chan<- callOutcome) {
	callCtx := context.WithoutCancel(ctx)
	start := time.Now()

	res, err := d.caller.Call(callCtx, desc, req, d.callTimeout)
	elapsed := time.Since(start)

	if err != nil {
		d.recordFailure(desc.Name, req.ID, err)
		outcomes <- callOutcome{ok: false}
		return
	}

	d.registry.Ledger().RecordUsage(desc.Name, res.TokensUsed)
	d.breaker.RecordSuccess(desc.Name)
	d.metrics.RecordProviderSuccess(elapsed.Milliseconds())

	outcomes <- callOutcome{
		resp: scoring.Response{
			ProviderID:  desc.Name,
			Text:        res.Text,
			TokensUsed:  res.TokensUsed,
			CompletedAt: time.Now(),
		},
		ok: true,
	}
}

// recordFailure converts a failed call into state transitions. Quota
// exhaustion demotes the provider for the rest of its window; timeouts and
// transient errors count toward the breaker either way.
func (d *Dispatcher) recordFailure(name, requestID string, err error) {
	switch {
	case errors.Is(err, provider.ErrQuotaExhausted):
		d.registry.MarkExhausted(name)
		d.metrics.RecordProviderFailure()
	case errors.Is(err, context.DeadlineExceeded):
		d.metrics.RecordProviderTimeout()
	default:
		d.metrics.RecordProviderFailure()
	}
	d.breaker.RecordFailure(name)
	log.WithField("request_id", requestID).Debugf("provider %s call failed: %v", name, err)
}

// invokeFallback makes exactly one synchronous call against the designated
// fallback provider. A failing fallback yields an empty slice; the operation
// ends in the documented empty-result state, never a crash.
func (d *Dispatcher) invokeFallback(ctx context.Context, req provider.Request) []scoring.Response {
	d.metrics.RecordFallback()

	res, err := d.fallbackCaller.Call(context.WithoutCancel(ctx), d.fallbackDesc, req, d.callTimeout)
	if err != nil {
		log.WithField("request_id", req.ID).Warnf("fallback provider %s failed: %v", d.fallbackDesc.Name, err)
		return nil
	}

	return []scoring.Response{{
		ProviderID:  d.fallbackDesc.Name,
		Text:        res.Text,
		TokensUsed:  res.TokensUsed,
		CompletedAt: time.Now(),
	}}
}

// FallbackName returns the designated fallback provider's name.
func (d *Dispatcher) FallbackName() string {
	return d.fallbackDesc.Name
}
