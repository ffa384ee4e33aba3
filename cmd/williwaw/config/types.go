// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"fmt"
	"strings"
)

type WilliwawConfig struct {
	// Corpus: where command knowledge comes from
	Corpus CorpusConfig `yaml:"corpus"`

	// Solver: retrieval and execution defaults for solve requests
	Solver SolverConfig `yaml:"solver"`

	// Embedding: which embedder builds the retrieval index
	Embedding EmbeddingConfig `yaml:"embedding"`

	// ModelBackend: decides if you want local or cloud
	ModelBackend BackendConfig `yaml:"model_backend"`

	// Server: serve-mode listen address and admission limits
	Server ServerConfig `yaml:"server"`

	// Logging: level and optional file logging
	Logging LoggingConfig `yaml:"logging"`

	// Telemetry: trace and metric export
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type CorpusConfig struct {
	Paths []string `yaml:"paths"` // YAML corpus files or directories; empty means builtin only
	Watch bool     `yaml:"watch"` // rebuild on corpus file changes in serve mode
}

type SolverConfig struct {
	Limit              int     `yaml:"limit"`                // retrieval result cap, e.g. 5
	MinScore           float64 `yaml:"min_score"`            // similarity floor, e.g. 0.30
	Workers            int     `yaml:"workers"`              // concurrent node cap, 0 = executor default
	NodeTimeoutSeconds int     `yaml:"node_timeout_seconds"` // per-node cap, 0 = executor default
}

type EmbeddingConfig struct {
	// Provider can be "hashing", "ollama", or "openai". Hashing needs no
	// running backend and is the first-run default.
	Provider string `yaml:"provider"`

	// Dimensions applies to the hashing provider only.
	Dimensions int `yaml:"dimensions"`

	// Model names the embedding model for remote providers.
	Model string `yaml:"model,omitempty"`

	// CacheDir enables the on-disk embedding cache when set.
	CacheDir string `yaml:"cache_dir,omitempty"`
}

type BackendConfig struct {
	// Type can be "ollama", "openai", "anthropic", or "none" to run the
	// deterministic pipeline without any model.
	Type    string `yaml:"type"`
	BaseURL string `yaml:"base_url,omitempty"`
	Model   string `yaml:"model,omitempty"`
}

type ServerConfig struct {
	Addr      string  `yaml:"addr"`       // e.g. :12310
	RateLimit float64 `yaml:"rate_limit"` // requests per second
	RateBurst int     `yaml:"rate_burst"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`         // debug, info, warn, error
	Dir   string `yaml:"dir,omitempty"` // file logging directory; empty disables
}

type TelemetryConfig struct {
	Enabled        bool   `yaml:"enabled"`
	TraceExporter  string `yaml:"trace_exporter"`  // otlp, stdout, none
	MetricExporter string `yaml:"metric_exporter"` // prometheus, stdout, none
	OTLPEndpoint   string `yaml:"otlp_endpoint,omitempty"`
}

func DefaultConfig() WilliwawConfig {
	return WilliwawConfig{
		Corpus: CorpusConfig{
			Paths: []string{},
			Watch: true,
		},
		Solver: SolverConfig{
			Limit:    5,
			MinScore: 0.30,
		},
		Embedding: EmbeddingConfig{
			Provider:   "hashing",
			Dimensions: 256,
		},
		ModelBackend: BackendConfig{
			Type:    "ollama",
			BaseURL: "http://localhost:11434",
		},
		Server: ServerConfig{
			Addr:      ":12310",
			RateLimit: 20,
			RateBurst: 40,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Telemetry: TelemetryConfig{
			Enabled:        false,
			TraceExporter:  "otlp",
			MetricExporter: "prometheus",
			OTLPEndpoint:   "localhost:4317",
		},
	}
}

// applyDefaults fills zero-valued fields so a sparse hand-edited config
// file still yields a runnable configuration.
func (c *WilliwawConfig) applyDefaults() {
	def := DefaultConfig()
	if c.Solver.Limit <= 0 {
		c.Solver.Limit = def.Solver.Limit
	}
	if c.Solver.MinScore == 0 {
		c.Solver.MinScore = def.Solver.MinScore
	}
	if c.Embedding.Provider == "" {
		c.Embedding.Provider = def.Embedding.Provider
	}
	if c.Embedding.Dimensions <= 0 {
		c.Embedding.Dimensions = def.Embedding.Dimensions
	}
	if c.ModelBackend.Type == "" {
		c.ModelBackend.Type = def.ModelBackend.Type
	}
	if c.ModelBackend.Type == "ollama" && c.ModelBackend.BaseURL == "" {
		c.ModelBackend.BaseURL = def.ModelBackend.BaseURL
	}
	if c.Server.Addr == "" {
		c.Server.Addr = def.Server.Addr
	}
	if c.Server.RateLimit <= 0 {
		c.Server.RateLimit = def.Server.RateLimit
	}
	if c.Server.RateBurst <= 0 {
		c.Server.RateBurst = def.Server.RateBurst
	}
	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
	if c.Telemetry.TraceExporter == "" {
		c.Telemetry.TraceExporter = def.Telemetry.TraceExporter
	}
	if c.Telemetry.MetricExporter == "" {
		c.Telemetry.MetricExporter = def.Telemetry.MetricExporter
	}
	if c.Telemetry.OTLPEndpoint == "" {
		c.Telemetry.OTLPEndpoint = def.Telemetry.OTLPEndpoint
	}
}

// Validate rejects configurations that would fail deep inside the
// pipeline with a worse error message.
func (c *WilliwawConfig) Validate() error {
	switch c.Embedding.Provider {
	case "hashing", "ollama", "openai":
	default:
		return fmt.Errorf("embedding.provider %q is not one of hashing, ollama, openai",
			c.Embedding.Provider)
	}
	switch c.ModelBackend.Type {
	case "none", "ollama", "openai", "anthropic", "claude":
	default:
		return fmt.Errorf("model_backend.type %q is not one of none, ollama, openai, anthropic",
			c.ModelBackend.Type)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error",
			c.Logging.Level)
	}
	switch c.Telemetry.TraceExporter {
	case "otlp", "jaeger", "stdout", "none":
	default:
		return fmt.Errorf("telemetry.trace_exporter %q is not one of otlp, stdout, none",
			c.Telemetry.TraceExporter)
	}
	switch c.Telemetry.MetricExporter {
	case "prometheus", "stdout", "none":
	default:
		return fmt.Errorf("telemetry.metric_exporter %q is not one of prometheus, stdout, none",
			c.Telemetry.MetricExporter)
	}
	if c.Solver.MinScore > 1 {
		return fmt.Errorf("solver.min_score %.2f is above the similarity range [0, 1]",
			c.Solver.MinScore)
	}
	return nil
}
