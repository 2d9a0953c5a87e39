// Copyright 2026 The Oraculum Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package api exposes the orchestrator's boundary surface over HTTP: the
// reading request call, the health snapshot, and the administrative healing
// override. Caller-side problems never surface as errors; every well-formed
// request gets a result object, possibly the degraded empty-result sentinel.
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/oraculum-ai/oraculum/internal/config"
	"github.com/oraculum-ai/oraculum/internal/decision"
	"github.com/oraculum-ai/oraculum/internal/dispatch"
	"github.com/oraculum-ai/oraculum/internal/learning"
	"github.com/oraculum-ai/oraculum/internal/metrics"
	"github.com/oraculum-ai/oraculum/internal/provider"
	"github.com/oraculum-ai/oraculum/internal/registry"
	"github.com/oraculum-ai/oraculum/internal/scoring"
)

// Server wires the HTTP boundary to the orchestration core.
type Server struct {
	mu  sync.RWMutex
	cfg *config.Config

	registry   *registry.Registry
	dispatcher *dispatch.Dispatcher
	scorer     *scoring.Scorer
	engine     *decision.Engine
	adjuster   *learning.Adjuster
	metrics    *metrics.Metrics
}

// NewServer builds the HTTP boundary over the assembled core.
func NewServer(cfg *config.Config, reg *registry.Registry, d *dispatch.Dispatcher, s *scoring.Scorer, e *decision.Engine, a *learning.Adjuster, m *metrics.Metrics) *Server {
	return &Server{
		cfg:        cfg,
		registry:   reg,
		dispatcher: d,
		scorer:     s,
		engine:     e,
		adjuster:   a,
		metrics:    m,
	}
}

// ApplyConfig swaps in reloaded tunables. Provider identity is not touched.
func (s *Server) ApplyConfig(cfg *config.Config) {
	reliability := make(map[string]float64, len(cfg.Providers))
	for _, p := range cfg.Providers {
		reliability[p.Name] = p.Reliability
	}
	s.scorer.Reconfigure(cfg.Scoring, reliability)
	s.engine.Reconfigure(cfg.Decision)

	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

func (s *Server) config() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Router builds the gin handler tree.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	v1 := r.Group("/v1")
	{
		v1.POST("/readings", s.handleReading)
		v1.GET("/health", s.handleHealth)
		v1.POST("/healing/:name", s.handleForceHealing)
		v1.GET("/metrics", s.handleMetrics)
	}
	return r
}

type readingRequest struct {
	// Input is the situation text to interpret.
	Input string `json:"input" binding:"required"`

	// Capability optionally narrows provider selection.
	Capability string `json:"capability"`

	// DeadlineMs optionally bounds the whole orchestration.
	DeadlineMs int64 `json:"deadline_ms"`
}

type readingResponse struct {
	Text       string  `json:"text"`
	Provider   string  `json:"provider"`
	Confidence float64 `json:"confidence"`
	TookMs     int64   `json:"took_ms"`
	RequestID  string  `json:"request_id"`
}

// handleReading is the single synchronous-looking orchestration call.
func (s *Server) handleReading(c *gin.Context) {
	var body readingRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "input is required"})
		return
	}

	req := provider.Request{
		ID:         uuid.NewString()[:8],
		Input:      body.Input,
		Capability: body.Capability,
	}

	ctx := c.Request.Context()
	if body.DeadlineMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(body.DeadlineMs)*time.Millisecond)
		defer cancel()
	}

	start := time.Now()
	responses := s.dispatcher.Orchestrate(ctx, req)

	for i := range responses {
		responses[i].Confidence = s.scorer.Score(responses[i])
	}

	blended := scoring.Blend(responses, s.config().Scoring.BlendFloor)
	took := time.Since(start).Milliseconds()

	switch {
	case blended.Provider == "":
		s.metrics.RecordEmptyResult()
		log.WithField("request_id", req.ID).Warn("reading produced empty-result sentinel")
	case blended.Provider == scoring.BlendedProvider:
		s.metrics.RecordBlend()
	}

	c.JSON(http.StatusOK, readingResponse{
		Text:       blended.Text,
		Provider:   blended.Provider,
		Confidence: blended.Confidence,
		TookMs:     took,
		RequestID:  req.ID,
	})
}

type healthResponse struct {
	Active                bool           `json:"active"`
	Healing               bool           `json:"healing"`
	RecentErrorsPrevented int64          `json:"recent_errors_prevented"`
	RecentHealingActions  int64          `json:"recent_healing_actions"`
	LearningMaturity      int            `json:"learning_maturity"`
	Providers             map[string]int `json:"providers"`
}

// handleHealth is the read-only status snapshot for dashboards.
func (s *Server) handleHealth(c *gin.Context) {
	snap := s.metrics.Snapshot()

	states := s.registry.StateCounts()
	providers := make(map[string]int, len(states))
	for state, count := range states {
		providers[string(state)] = count
	}

	c.JSON(http.StatusOK, healthResponse{
		Active:                s.engine.Running(),
		Healing:               s.engine.HealingInProgress(),
		RecentErrorsPrevented: snap.ErrorsPrevented,
		RecentHealingActions:  s.engine.HealingActions(),
		LearningMaturity:      s.adjuster.Maturity(),
		Providers:             providers,
	})
}

// handleForceHealing is the administrative override. It requires the
// configured management key.
func (s *Server) handleForceHealing(c *gin.Context) {
	if err := s.config().CheckManagementKey(c.GetHeader("X-Management-Key")); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "invalid management key"})
		return
	}

	name := c.Param("name")
	ok := s.engine.ForceHealing(c.Request.Context(), name)
	status := http.StatusOK
	if !ok {
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, gin.H{"success": ok})
}

// handleMetrics exposes the raw counter snapshot.
func (s *Server) handleMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.metrics.Snapshot())
}
