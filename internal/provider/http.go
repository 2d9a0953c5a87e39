// Copyright 2026 The Oraculum Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/oraculum-ai/oraculum/internal/registry"
)

// systemPrompt frames every upstream call. The domain content layer owns the
// real prompt text; this is the neutral default used when none is supplied.
const systemPrompt = "You are an interpretation assistant. Read the situation described by the user and return a thoughtful, grounded interpretation."

// HTTPCaller posts OpenAI-compatible chat payloads to a provider endpoint and
// extracts the reply via the descriptor's configured gjson paths.
type HTTPCaller struct {
	client *http.Client
}

// NewHTTPCaller creates an HTTP adapter. The shared client carries no global
// timeout; per-call timeouts come from the context built in Call.
func NewHTTPCaller() *HTTPCaller {
	return &HTTPCaller{
		client: &http.Client{},
	}
}

// Call posts the request to the provider and returns the uniform result
// tuple. The timeout bounds the whole exchange; the parent context's own
// deadline still applies if it is sooner.
func (h *HTTPCaller) Call(ctx context.Context, desc registry.Descriptor, req Request, timeout time.Duration) (Result, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload, err := buildChatPayload(desc.Model, req.Input)
	if err != nil {
		return Result{}, fmt.Errorf("provider %s: build payload: %w", desc.Name, err)
	}

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, desc.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("provider %s: build request: %w", desc.Name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if desc.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+desc.APIKey)
	}

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("provider %s: %w", desc.Name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return Result{}, fmt.Errorf("provider %s: read body: %w", desc.Name, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return Result{}, fmt.Errorf("provider %s: %w", desc.Name, ErrQuotaExhausted)
	case resp.StatusCode >= 400:
		log.WithField("request_id", req.ID).Debugf("provider %s returned status %d", desc.Name, resp.StatusCode)
		return Result{}, fmt.Errorf("provider %s: unexpected status %d", desc.Name, resp.StatusCode)
	}

	text := gjson.GetBytes(body, desc.TextPath).String()
	if text == "" {
		return Result{}, fmt.Errorf("provider %s: %w", desc.Name, ErrEmptyResponse)
	}

	tokens := gjson.GetBytes(body, desc.TokensPath).Int()
	if tokens == 0 {
		tokens = int64(EstimateTokens(req.Input + text))
	}

	return Result{Text: text, TokensUsed: tokens}, nil
}

// buildChatPayload assembles an OpenAI-compatible chat completion body.
func buildChatPayload(model, input string) ([]byte, error) {
	payload := []byte(`{}`)
	var err error
	if payload, err = sjson.SetBytes(payload, "model", model); err != nil {
		return nil, err
	}
	if payload, err = sjson.SetBytes(payload, "messages.0.role", "system"); err != nil {
		return nil, err
	}
	if payload, err = sjson.SetBytes(payload, "messages.0.content", systemPrompt); err != nil {
		return nil, err
	}
	if payload, err = sjson.SetBytes(payload, "messages.1.role", "user"); err != nil {
		return nil, err
	}
	if payload, err = sjson.SetBytes(payload, "messages.1.content", input); err != nil {
		return nil, err
	}
	return payload, nil
}
