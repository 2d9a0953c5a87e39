// Copyright 2026 The Oraculum Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package main provides the entry point for the oraculum server: the
// provider orchestration core behind the reading API, with its health
// decision loop and learning adjuster running for the life of the process.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/oraculum-ai/oraculum/internal/api"
	"github.com/oraculum-ai/oraculum/internal/breaker"
	"github.com/oraculum-ai/oraculum/internal/buildinfo"
	"github.com/oraculum-ai/oraculum/internal/config"
	"github.com/oraculum-ai/oraculum/internal/decision"
	"github.com/oraculum-ai/oraculum/internal/dispatch"
	"github.com/oraculum-ai/oraculum/internal/learning"
	"github.com/oraculum-ai/oraculum/internal/logging"
	"github.com/oraculum-ai/oraculum/internal/metrics"
	"github.com/oraculum-ai/oraculum/internal/registry"
	"github.com/oraculum-ai/oraculum/internal/scoring"
)

func init() {
	logging.SetupBaseLogger()
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// Optional .env for provider credentials; absence is not an error.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("configuration error: %v", err)
	}

	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	if err = logging.ConfigureLogOutput(cfg.LoggingToFile); err != nil {
		log.Fatalf("logging setup failed: %v", err)
	}

	log.Infof("oraculum %s (%s, built %s) starting with %d providers", buildinfo.Version, buildinfo.Commit, buildinfo.BuildDate, len(cfg.Providers))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Core assembly, leaf-first.
	m := metrics.New(1000)
	reg := registry.New(cfg.Providers)
	brk := breaker.New(
		cfg.Breaker.FailureThreshold,
		time.Duration(cfg.Breaker.CooldownMinutes)*time.Minute,
		breaker.WithTripCallback(func(string) { m.RecordBreakerTrip() }),
	)
	dispatcher := dispatch.New(reg, brk, m, cfg.Dispatch, cfg.Fallback)

	reliability := make(map[string]float64, len(cfg.Providers))
	for _, p := range cfg.Providers {
		reliability[p.Name] = p.Reliability
	}
	scorer := scoring.NewScorer(cfg.Scoring, reliability)

	model := learning.NewModel(map[string]float64{
		learning.ThresholdMemory: cfg.Decision.MemoryThreshold,
		learning.ThresholdError:  cfg.Decision.ErrorThreshold,
	}, cfg.Learning.MinThreshold, cfg.Learning.MaxThreshold)
	history := decision.NewHistory(cfg.Decision.HistorySize)

	engineOpts := []decision.EngineOption{}
	if cfg.Audit.Enabled {
		audit, err := decision.NewAuditStore(cfg.Audit.DBPath, cfg.Audit.RetentionDays)
		if err != nil {
			log.Fatalf("audit store: %v", err)
		}
		if err = audit.Initialize(ctx); err != nil {
			log.Fatalf("audit store: %v", err)
		}
		defer audit.Close()
		engineOpts = append(engineOpts, decision.WithAuditStore(audit))
	}

	engine := decision.NewEngine(reg, brk, m, model, history, cfg.Decision, engineOpts...)
	adjuster := learning.NewAdjuster(model, history, cfg.Learning)

	engine.Start(ctx)
	defer engine.Stop()
	adjuster.Start()
	defer adjuster.Stop()

	server := api.NewServer(cfg, reg, dispatcher, scorer, engine, adjuster, m)

	// Hot reload of the tunable sections. Provider identity stays fixed.
	watcher := config.NewWatcher(*configPath)
	watcher.OnReload(server.ApplyConfig)
	if err = watcher.Start(); err != nil {
		log.Warnf("config watcher disabled: %v", err)
	} else {
		defer watcher.Stop()
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	httpServer := &http.Server{
		Addr:    addr,
		Handler: server.Router(),
	}

	go func() {
		log.Infof("listening on %s", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warnf("shutdown: %v", err)
	}
}
