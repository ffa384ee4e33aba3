// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/AleutianAI/Williwaw/cmd/williwaw/config"
	"github.com/AleutianAI/Williwaw/pkg/logging"
	"github.com/AleutianAI/Williwaw/services/index"
	"github.com/AleutianAI/Williwaw/services/llm"
	"github.com/AleutianAI/Williwaw/services/planner"
	"github.com/AleutianAI/Williwaw/services/reason"
	"github.com/AleutianAI/Williwaw/services/solver"
)

// solverDeps bundles the solver with the resources built alongside it so
// commands can release them when they finish.
type solverDeps struct {
	Solver *solver.Solver
	Logger *logging.Logger

	// cache is the on-disk embedding cache, nil when caching is disabled
	cache *index.EmbeddingCache
}

// Close releases the embedding cache and flushes file logs.
func (d *solverDeps) Close() {
	if d.cache != nil {
		d.cache.Close()
	}
	if d.Logger != nil {
		d.Logger.Close()
	}
}

// buildLogger creates the CLI logger from the loaded configuration.
//
// quiet suppresses stderr logging; pass true when stdout carries JSON
// that interleaved log lines would corrupt.
func buildLogger(service string, quiet bool) *logging.Logger {
	level := logging.LevelInfo
	if parsed, ok := logging.ParseLevel(config.Global.Logging.Level); ok {
		level = parsed
	}
	return logging.New(logging.Config{
		Level:   level,
		LogDir:  config.Global.Logging.Dir,
		Service: service,
		Quiet:   quiet,
	})
}

// buildSolver wires a ready-to-rebuild solver from the global configuration.
//
// # Description
//
// Builds the dependency chain in order: embedder (with optional BadgerDB
// cache wrap), vector index, model backend client, classifier and reasoner
// (skipped when the backend type is "none"), then the solver itself. The
// returned solver has no corpus yet; callers run Rebuild before the first
// Solve.
//
// # Inputs
//
//   - service: Service name stamped on every log entry ("cli", "gateway").
//   - quiet: Suppress stderr logging. Use when stdout carries JSON.
//
// # Outputs
//
//   - *solverDeps: Solver plus the resources to Close when done.
//   - error: Non-nil if any dependency fails to construct.
func buildSolver(service string, quiet bool) (*solverDeps, error) {
	logger := buildLogger(service, quiet)
	slogger := logger.Slog()
	deps := &solverDeps{Logger: logger}

	emb, cache, err := buildEmbedder(&config.Global, slogger)
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("building embedder: %w", err)
	}
	deps.cache = cache

	idx, err := index.New(emb, slogger)
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("building index: %w", err)
	}

	client, err := buildModelClient(&config.Global)
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("building model client: %w", err)
	}

	opts := solver.Options{CorpusPaths: config.Global.Corpus.Paths}
	if client != nil {
		classifier, err := planner.NewClassifier(client, slogger)
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("building classifier: %w", err)
		}
		reasoner, err := reason.NewEngine(client, reason.DefaultConfig(), slogger)
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("building reasoner: %w", err)
		}
		opts.Classifier = classifier
		opts.Reasoner = reasoner
	}

	sol, err := solver.New(idx, opts, slogger)
	if err != nil {
		deps.Close()
		return nil, err
	}
	deps.Solver = sol
	return deps, nil
}

// buildEmbedder selects the embedding backend from configuration and
// wraps it in the on-disk cache when cache_dir is set.
func buildEmbedder(cfg *config.WilliwawConfig, logger *slog.Logger) (index.Embedder, *index.EmbeddingCache, error) {
	var emb index.Embedder
	var err error
	switch cfg.Embedding.Provider {
	case "ollama":
		emb, err = index.NewOllamaEmbedder(cfg.ModelBackend.BaseURL, cfg.Embedding.Model)
	case "openai":
		emb, err = openAIEmbedder(cfg.Embedding.Model)
	default:
		emb = index.NewHashingEmbedder(cfg.Embedding.Dimensions)
	}
	if err != nil {
		return nil, nil, err
	}

	if cfg.Embedding.CacheDir == "" {
		return emb, nil, nil
	}
	cache, err := index.OpenCache(index.CacheConfig{
		Path:   cfg.Embedding.CacheDir,
		Logger: logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("opening embedding cache: %w", err)
	}
	cached, err := index.NewCachedEmbedder(emb, cache, logger)
	if err != nil {
		cache.Close()
		return nil, nil, err
	}
	return cached, cache, nil
}

// openAIEmbedder honors the configured model name when one is set,
// otherwise defers to the OPENAI_EMBED_MODEL environment fallback.
func openAIEmbedder(model string) (index.Embedder, error) {
	if model == "" {
		return index.NewOpenAIEmbedderFromEnv()
	}
	key := os.Getenv("OPENAI_API_KEY")
	if key == "" {
		return nil, fmt.Errorf("embedding.provider openai needs OPENAI_API_KEY in the environment")
	}
	return index.NewOpenAIEmbedder(key, model)
}

// buildModelClient creates the generation backend client, or nil when the
// configured type is "none". API keys for cloud backends come from the
// environment, never from the config file.
func buildModelClient(cfg *config.WilliwawConfig) (llm.LLMClient, error) {
	switch cfg.ModelBackend.Type {
	case "none":
		return nil, nil
	case "ollama", "":
		return llm.NewOllamaClient(cfg.ModelBackend.BaseURL, cfg.ModelBackend.Model)
	default:
		return llm.NewClient(cfg.ModelBackend.Type)
	}
}
