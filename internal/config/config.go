// Copyright 2026 The Oraculum Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config provides configuration management for the oraculum server.
// It handles loading and parsing YAML configuration files, and provides structured
// access to provider descriptors, dispatcher limits, breaker thresholds, scoring
// weights, and the decision/learning loop tuning.
package config

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

// Config represents the application's configuration, loaded from a YAML file.
type Config struct {
	// Host is the network host/interface on which the API server will bind.
	// Default is empty ("") to bind all interfaces. Use "127.0.0.1" for local-only access.
	Host string `yaml:"host" json:"-"`
	// Port is the network port on which the API server will listen.
	Port int `yaml:"port" json:"-"`

	// Debug enables or disables debug-level logging and other debug features.
	Debug bool `yaml:"debug" json:"debug"`

	// LoggingToFile controls whether application logs are written to rotating files or stdout.
	LoggingToFile bool `yaml:"logging-to-file" json:"logging-to-file"`

	// ManagementKey is the bcrypt hash of the key required for administrative
	// endpoints such as forced healing actions. Empty disables those endpoints.
	ManagementKey string `yaml:"management-key" json:"-"`

	// Providers defines the pool of inference providers available to the dispatcher.
	Providers []ProviderConfig `yaml:"providers" json:"providers"`

	// Fallback defines the designated fallback provider used when no pooled
	// provider produces a response before the deadline.
	Fallback FallbackProviderConfig `yaml:"fallback" json:"fallback"`

	// Dispatch tunes fan-out and timeout behavior for one orchestration call.
	Dispatch DispatchConfig `yaml:"dispatch" json:"dispatch"`

	// Breaker tunes the per-provider circuit breaker.
	Breaker BreakerConfig `yaml:"breaker" json:"breaker"`

	// Scoring tunes response confidence scoring and blending.
	Scoring ScoringConfig `yaml:"scoring" json:"scoring"`

	// Decision tunes the health decision loop.
	Decision DecisionConfig `yaml:"decision" json:"decision"`

	// Learning tunes the threshold adjustment loop.
	Learning LearningConfig `yaml:"learning" json:"learning"`

	// Audit configures the optional SQLite decision audit store.
	Audit AuditConfig `yaml:"audit" json:"audit"`
}

// ProviderConfig describes one remote inference provider.
type ProviderConfig struct {
	// Name is the unique provider identifier (e.g. "openai", "anthropic").
	Name string `yaml:"name" json:"name"`

	// Endpoint is the HTTP endpoint requests are POSTed to.
	Endpoint string `yaml:"endpoint" json:"endpoint"`

	// APIKeyEnv names the environment variable holding the provider credential.
	// Resolution happens once at startup; a missing value is a fatal error.
	APIKeyEnv string `yaml:"api-key-env" json:"api-key-env"`

	// Model is the model identifier sent in the request payload.
	Model string `yaml:"model" json:"model"`

	// Capabilities lists the capability tags this provider serves (e.g. "interpretation").
	Capabilities []string `yaml:"capabilities" json:"capabilities"`

	// RequestsPerWindow is the declared request limit per rolling window.
	RequestsPerWindow int64 `yaml:"requests-per-window" json:"requests-per-window"`

	// WindowMinutes is the rolling window duration in minutes. Default: 60.
	WindowMinutes int64 `yaml:"window-minutes" json:"window-minutes"`

	// TokenBudget is the declared token budget per rolling window. 0 means unlimited.
	TokenBudget int64 `yaml:"token-budget" json:"token-budget"`

	// Reliability is the static reliability weight (0.0-1.0) used by the scorer.
	Reliability float64 `yaml:"reliability" json:"reliability"`

	// TextPath is the gjson path to the response text in the provider's reply JSON.
	// Default: "choices.0.message.content" (OpenAI-compatible).
	TextPath string `yaml:"text-path" json:"text-path"`

	// TokensPath is the gjson path to the total token count in the provider's reply JSON.
	// Default: "usage.total_tokens".
	TokensPath string `yaml:"tokens-path" json:"tokens-path"`
}

// FallbackProviderConfig describes the always-eligible fallback provider.
// When Endpoint is empty the built-in local template provider is used instead
// of a network call, so a total-outage deployment still answers.
type FallbackProviderConfig struct {
	Name       string `yaml:"name" json:"name"`
	Endpoint   string `yaml:"endpoint" json:"endpoint"`
	APIKeyEnv  string `yaml:"api-key-env" json:"api-key-env"`
	Model      string `yaml:"model" json:"model"`
	TextPath   string `yaml:"text-path" json:"text-path"`
	TokensPath string `yaml:"tokens-path" json:"tokens-path"`
}

// DispatchConfig tunes one orchestration call.
type DispatchConfig struct {
	// MaxFanout is the maximum number of providers called concurrently. Default: 5.
	MaxFanout int `yaml:"max-fanout" json:"max-fanout"`

	// CallTimeoutMs bounds each individual provider call. Default: 30000.
	CallTimeoutMs int64 `yaml:"call-timeout-ms" json:"call-timeout-ms"`

	// DefaultDeadlineMs bounds the whole orchestration when the caller supplies
	// no deadline of its own. Default: 45000.
	DefaultDeadlineMs int64 `yaml:"default-deadline-ms" json:"default-deadline-ms"`
}

// BreakerConfig tunes the per-provider circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the consecutive-failure count that opens the breaker. Default: 3.
	FailureThreshold int `yaml:"failure-threshold" json:"failure-threshold"`

	// CooldownMinutes is how long an open breaker rejects calls before
	// re-closing for a trial call. Default: 10.
	CooldownMinutes int64 `yaml:"cooldown-minutes" json:"cooldown-minutes"`
}

// LengthBucket maps a response length ceiling to a score contribution.
type LengthBucket struct {
	// MaxChars is the inclusive upper bound of this bucket. The last bucket
	// should use 0 meaning "no upper bound".
	MaxChars int `yaml:"max-chars" json:"max-chars"`

	// Score is the [0,1] contribution for responses falling in this bucket.
	Score float64 `yaml:"score" json:"score"`
}

// ScoringConfig tunes response confidence scoring and blending.
// The individual weights are deployment tuning, not a contract; they are
// exposed here precisely so nobody has to recompile to adjust them.
type ScoringConfig struct {
	// LengthBuckets scores responses by size. Evaluated in order; first match wins.
	LengthBuckets []LengthBucket `yaml:"length-buckets" json:"length-buckets"`

	// Vocabulary lists domain-relevant terms whose presence raises confidence.
	Vocabulary []string `yaml:"vocabulary" json:"vocabulary"`

	// VocabularyBonus is the per-hit confidence bonus. Default: 0.05.
	VocabularyBonus float64 `yaml:"vocabulary-bonus" json:"vocabulary-bonus"`

	// MaxVocabularyBonus caps the total vocabulary contribution. Default: 0.2.
	MaxVocabularyBonus float64 `yaml:"max-vocabulary-bonus" json:"max-vocabulary-bonus"`

	// LengthWeight and ReliabilityWeight blend the length-bucket score and the
	// provider reliability weight into the base confidence. Defaults: 0.5 / 0.5.
	LengthWeight      float64 `yaml:"length-weight" json:"length-weight"`
	ReliabilityWeight float64 `yaml:"reliability-weight" json:"reliability-weight"`

	// BlendFloor is the minimum confidence for a response to participate in a
	// multi-source blend. Default: 0.6.
	BlendFloor float64 `yaml:"blend-floor" json:"blend-floor"`
}

// DecisionRule is one rule-based decision table entry, evaluated in order.
type DecisionRule struct {
	// When is an expr-lang condition over the sampled health signals, e.g.
	// "MemoryPressure > MemoryThreshold" or "ErrorRate > ErrorThreshold".
	When string `yaml:"when" json:"when"`

	// Action is the decision action taken when the condition holds.
	// Valid values: "prevent", "heal", "optimize", "escalate", "ignore".
	Action string `yaml:"action" json:"action"`

	// Reason is the human-readable reasoning recorded on the decision.
	Reason string `yaml:"reason" json:"reason"`

	// Confidence and Risk are recorded on decisions produced by this rule.
	Confidence float64 `yaml:"confidence" json:"confidence"`
	Risk       float64 `yaml:"risk" json:"risk"`
}

// DecisionConfig tunes the health decision loop.
type DecisionConfig struct {
	// LivenessIntervalMs is the fast sampling interval. Default: 1000.
	LivenessIntervalMs int64 `yaml:"liveness-interval-ms" json:"liveness-interval-ms"`

	// PredictiveIntervalMs is the slower predictive sampling interval. Default: 5000.
	PredictiveIntervalMs int64 `yaml:"predictive-interval-ms" json:"predictive-interval-ms"`

	// HistorySize bounds the in-memory decision history ring. Default: 100.
	HistorySize int `yaml:"history-size" json:"history-size"`

	// MemoryThreshold is the initial learned memory-pressure threshold. Default: 0.85.
	MemoryThreshold float64 `yaml:"memory-threshold" json:"memory-threshold"`

	// ErrorThreshold is the initial learned error-rate threshold. Default: 0.3.
	ErrorThreshold float64 `yaml:"error-threshold" json:"error-threshold"`

	// Rules overrides the built-in decision table. Evaluated in order; the
	// first matching rule wins. Empty keeps the built-in table.
	Rules []DecisionRule `yaml:"rules,omitempty" json:"rules,omitempty"`
}

// LearningConfig tunes the threshold adjustment loop.
type LearningConfig struct {
	// IntervalMs is how often past decisions are reviewed. Default: 30000.
	IntervalMs int64 `yaml:"interval-ms" json:"interval-ms"`

	// SampleSize is how many recent decisions each review considers. Default: 50.
	SampleSize int `yaml:"sample-size" json:"sample-size"`

	// Step is the bounded per-review threshold nudge. Default: 0.05.
	Step float64 `yaml:"step" json:"step"`

	// MinThreshold and MaxThreshold clamp every learned threshold. Defaults: 0.1 / 0.95.
	MinThreshold float64 `yaml:"min-threshold" json:"min-threshold"`
	MaxThreshold float64 `yaml:"max-threshold" json:"max-threshold"`
}

// AuditConfig configures the optional SQLite decision audit store.
type AuditConfig struct {
	// Enabled toggles decision persistence. Disabled by default; the in-memory
	// history ring is always authoritative.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// DBPath is the SQLite database file path. Default: "oraculum-audit.db".
	DBPath string `yaml:"db-path" json:"db-path"`

	// RetentionDays is how long persisted decisions are kept. Default: 90.
	RetentionDays int `yaml:"retention-days" json:"retention-days"`
}

// LoadConfig reads, parses and validates the YAML configuration file.
func LoadConfig(configFile string) (*Config, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	// Set defaults before unmarshal so that absent keys keep defaults.
	cfg.Port = 4790
	cfg.setDefaults()

	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()

	if err = cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) setDefaults() {
	c.Dispatch.MaxFanout = 5
	c.Dispatch.CallTimeoutMs = 30000
	c.Dispatch.DefaultDeadlineMs = 45000

	c.Breaker.FailureThreshold = 3
	c.Breaker.CooldownMinutes = 10

	c.Scoring.VocabularyBonus = 0.05
	c.Scoring.MaxVocabularyBonus = 0.2
	c.Scoring.LengthWeight = 0.5
	c.Scoring.ReliabilityWeight = 0.5
	c.Scoring.BlendFloor = 0.6

	c.Decision.LivenessIntervalMs = 1000
	c.Decision.PredictiveIntervalMs = 5000
	c.Decision.HistorySize = 100
	c.Decision.MemoryThreshold = 0.85
	c.Decision.ErrorThreshold = 0.3

	c.Learning.IntervalMs = 30000
	c.Learning.SampleSize = 50
	c.Learning.Step = 0.05
	c.Learning.MinThreshold = 0.1
	c.Learning.MaxThreshold = 0.95

	c.Audit.DBPath = "oraculum-audit.db"
	c.Audit.RetentionDays = 90
}

// applyDefaults fills in per-entry defaults that depend on unmarshaled values.
func (c *Config) applyDefaults() {
	for i := range c.Providers {
		p := &c.Providers[i]
		if p.WindowMinutes <= 0 {
			p.WindowMinutes = 60
		}
		if p.Reliability <= 0 {
			p.Reliability = 0.5
		}
		if p.TextPath == "" {
			p.TextPath = "choices.0.message.content"
		}
		if p.TokensPath == "" {
			p.TokensPath = "usage.total_tokens"
		}
	}
	if c.Fallback.Name == "" {
		c.Fallback.Name = "local"
	}
	if c.Fallback.TextPath == "" {
		c.Fallback.TextPath = "choices.0.message.content"
	}
	if c.Fallback.TokensPath == "" {
		c.Fallback.TokensPath = "usage.total_tokens"
	}
	if len(c.Scoring.LengthBuckets) == 0 {
		c.Scoring.LengthBuckets = []LengthBucket{
			{MaxChars: 80, Score: 0.2},
			{MaxChars: 400, Score: 0.6},
			{MaxChars: 2000, Score: 1.0},
			{MaxChars: 0, Score: 0.8},
		}
	}
}

// Validate reports fatal configuration errors. These abort startup; nothing
// here is recoverable at request time.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Providers))
	for i := range c.Providers {
		p := &c.Providers[i]
		if p.Name == "" {
			return fmt.Errorf("provider %d: name is required", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("provider %q: duplicate name", p.Name)
		}
		seen[p.Name] = true
		if p.Endpoint == "" {
			return fmt.Errorf("provider %q: endpoint is required", p.Name)
		}
		if p.APIKeyEnv != "" && os.Getenv(p.APIKeyEnv) == "" {
			return fmt.Errorf("provider %q: environment variable %s is not set", p.Name, p.APIKeyEnv)
		}
		if p.RequestsPerWindow <= 0 {
			return fmt.Errorf("provider %q: requests-per-window must be positive", p.Name)
		}
	}
	if c.Fallback.Endpoint != "" && c.Fallback.APIKeyEnv != "" && os.Getenv(c.Fallback.APIKeyEnv) == "" {
		return fmt.Errorf("fallback provider %q: environment variable %s is not set", c.Fallback.Name, c.Fallback.APIKeyEnv)
	}
	return nil
}

// CheckManagementKey compares a plaintext key against the configured bcrypt hash.
func (c *Config) CheckManagementKey(key string) error {
	if c.ManagementKey == "" {
		return errors.New("management key is not configured")
	}
	return bcrypt.CompareHashAndPassword([]byte(c.ManagementKey), []byte(key))
}
