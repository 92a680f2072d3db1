// Package config loads service configuration from pinpoint.yaml with
// PINPOINT_* environment overrides. Threshold constants of the consensus
// and decoding stages are deliberately configuration, not code: the
// numbers shipped here are defaults, not truths.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServiceConfig covers process-level wiring.
type ServiceConfig struct {
	AdminPort     int    `mapstructure:"admin_port"`
	TemporalHost  string `mapstructure:"temporal_host"`
	TaskQueue     string `mapstructure:"task_queue"`
	WorkerAct     int    `mapstructure:"worker_activity_slots"`
	WorkerWF      int    `mapstructure:"worker_workflow_slots"`
	RequestTimeout int    `mapstructure:"request_timeout_seconds"`
}

// ReasoningConfig configures the outbound reasoning service client.
// The API key comes only from the environment, never from the file.
type ReasoningConfig struct {
	BaseURL           string `mapstructure:"base_url"`
	Model             string `mapstructure:"model"`
	TimeoutSeconds    int    `mapstructure:"timeout_seconds"`
	RequestsPerMinute int    `mapstructure:"requests_per_minute"`
	Burst             int    `mapstructure:"burst"`
	SafetyThreshold   string `mapstructure:"safety_threshold"`
	MaxOutputTokens   int    `mapstructure:"max_output_tokens"`
}

// Timeout returns the per-call timeout as a duration.
func (r ReasoningConfig) Timeout() time.Duration {
	if r.TimeoutSeconds <= 0 {
		return 120 * time.Second
	}
	return time.Duration(r.TimeoutSeconds) * time.Second
}

// BreakerConfig tunes the circuit breaker in front of the reasoning API.
type BreakerConfig struct {
	FailureThreshold int `mapstructure:"failure_threshold"`
	ResetTimeoutMs   int `mapstructure:"reset_timeout_ms"`
	HalfOpenRequests int `mapstructure:"half_open_requests"`
}

// PipelineConfig carries every tunable of the inference pipeline.
type PipelineConfig struct {
	// Strategy selects the expert flavor: "clue_focused" or "region_consensus".
	Strategy string `mapstructure:"strategy"`

	// Truncation limit applied per aggregated clue bucket.
	MaxClueItems int `mapstructure:"max_clue_items"`
	// Maximum suggested search queries passed to verification.
	MaxQueries int `mapstructure:"max_queries"`

	// Consensus scoring.
	VetoPenalty   int `mapstructure:"veto_penalty"`
	CandidatePool int `mapstructure:"candidate_pool"`
	// Decision rule: definitive when top >= DefinitiveTop or
	// (top - second) >= DefinitiveGap.
	DefinitiveTop int `mapstructure:"definitive_top"`
	DefinitiveGap int `mapstructure:"definitive_gap"`
	NoiseFloor    int `mapstructure:"noise_floor"`
	MaxCandidates int `mapstructure:"max_candidates"`

	// Decoder defaults.
	DefaultConfidence    int     `mapstructure:"default_confidence"`
	DefinitiveConfidence int     `mapstructure:"definitive_confidence"`
	LocalConfidenceRatio float64 `mapstructure:"local_confidence_ratio"`

	// Confidence assigned to the clue-only fallback result.
	FallbackConfidence int `mapstructure:"fallback_confidence"`

	// Expert activity timeout.
	ExpertTimeoutSeconds int `mapstructure:"expert_timeout_seconds"`
	VerifyTimeoutSeconds int `mapstructure:"verify_timeout_seconds"`
}

// Config is the root configuration object.
type Config struct {
	Service   ServiceConfig   `mapstructure:"service"`
	Reasoning ReasoningConfig `mapstructure:"reasoning"`
	Breaker   BreakerConfig   `mapstructure:"circuit_breaker"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
}

// Defaults returns the built-in configuration used when no file is present.
func Defaults() Config {
	return Config{
		Service: ServiceConfig{
			AdminPort:     8081,
			TemporalHost:  "temporal:7233",
			TaskQueue:     "pinpoint-tasks",
			WorkerAct:     10,
			WorkerWF:      10,
			RequestTimeout: 300,
		},
		Reasoning: ReasoningConfig{
			BaseURL:           "https://generativelanguage.googleapis.com",
			Model:             "gemini-2.0-flash",
			TimeoutSeconds:    120,
			RequestsPerMinute: 60,
			Burst:             10,
			SafetyThreshold:   "BLOCK_ONLY_HIGH",
			MaxOutputTokens:   8192,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			ResetTimeoutMs:   30000,
			HalfOpenRequests: 2,
		},
		Pipeline: PipelineConfig{
			Strategy:             "region_consensus",
			MaxClueItems:         12,
			MaxQueries:           8,
			VetoPenalty:          50,
			CandidatePool:        5,
			DefinitiveTop:        75,
			DefinitiveGap:        40,
			NoiseFloor:           15,
			MaxCandidates:        3,
			DefaultConfidence:    50,
			DefinitiveConfidence: 80,
			LocalConfidenceRatio: 0.7,
			FallbackConfidence:   20,
			ExpertTimeoutSeconds: 90,
			VerifyTimeoutSeconds: 180,
		},
	}
}

// Load reads configuration from CONFIG_PATH (or ./config/pinpoint.yaml),
// merged over Defaults, with PINPOINT_* env overrides. A missing file is
// not an error; a malformed one is.
func Load() (Config, error) {
	cfg := Defaults()

	v := viper.New()
	v.SetEnvPrefix("PINPOINT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "./config/pinpoint.yaml"
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(underlying(err)) {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

func underlying(err error) error {
	type unwrapper interface{ Unwrap() error }
	for {
		u, ok := err.(unwrapper)
		if !ok {
			return err
		}
		next := u.Unwrap()
		if next == nil {
			return err
		}
		err = next
	}
}
