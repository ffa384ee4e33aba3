// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package index

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"
)

// CacheConfig holds configuration for the embedding cache.
type CacheConfig struct {
	// Path is the directory for BadgerDB files.
	// Required unless InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	// Useful for testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger is the logger for BadgerDB operations.
	// If nil, BadgerDB's internal logging is disabled.
	Logger *slog.Logger
}

// DefaultCacheConfig returns defaults for a persistent cache.
func DefaultCacheConfig(path string) CacheConfig {
	return CacheConfig{
		Path:       path,
		SyncWrites: true,
	}
}

// InMemoryCacheConfig returns configuration optimized for testing.
func InMemoryCacheConfig() CacheConfig {
	return CacheConfig{
		InMemory:   true,
		SyncWrites: false,
	}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// EmbeddingCache persists computed embeddings in BadgerDB.
//
// # Description
//
// Embedding a corpus through a remote backend is the slowest part of an
// index rebuild. The cache keys vectors by model and source text, so
// unchanged entries are re-embedded for free across restarts and corpus
// reloads.
//
// # Thread Safety
//
// EmbeddingCache is safe for concurrent use.
type EmbeddingCache struct {
	db *badger.DB
}

// OpenCache opens an embedding cache with the given configuration.
//
// Description:
//
//	Opens a BadgerDB at the configured path, or in memory if InMemory
//	is true. Creates the directory if it doesn't exist.
//
// Inputs:
//
//	cfg - Cache configuration. Path is required unless InMemory is true.
//
// Outputs:
//
//	*EmbeddingCache - The opened cache. Caller must call Close() when done.
//	error - Non-nil if the database cannot be opened.
//
// Thread Safety: The returned cache is safe for concurrent use.
func OpenCache(cfg CacheConfig) (*EmbeddingCache, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent cache")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create cache directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}

	opts = opts.WithSyncWrites(cfg.SyncWrites)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open embedding cache: %w", err)
	}

	return &EmbeddingCache{db: db}, nil
}

// Close closes the underlying database.
func (c *EmbeddingCache) Close() error {
	return c.db.Close()
}

// Get looks up a cached vector.
//
// Outputs:
//
//	[]float32 - The cached vector, or nil on a miss.
//	bool - True on a cache hit.
//	error - Non-nil only for storage failures, never for misses.
func (c *EmbeddingCache) Get(ctx context.Context, model, text string) ([]float32, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	var vec []float32
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(cacheKey(model, text))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &vec)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get: %w", err)
	}
	return vec, true, nil
}

// Put stores a vector for the given model and text.
func (c *EmbeddingCache) Put(ctx context.Context, model, text string, vec []float32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(vec) == 0 {
		return errors.New("refusing to cache an empty vector")
	}

	val, err := json.Marshal(vec)
	if err != nil {
		return fmt.Errorf("marshal vector: %w", err)
	}
	err = c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(cacheKey(model, text), val)
	})
	if err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	return nil
}

// cacheKey derives a fixed-size key from the model and source text.
// The NUL separator keeps (model, text) pairs from colliding.
func cacheKey(model, text string) []byte {
	sum := sha256.Sum256([]byte(model + "\x00" + text))
	key := make([]byte, 0, 4+len(sum))
	key = append(key, []byte("emb:")...)
	key = append(key, sum[:]...)
	return key
}

// CachedEmbedder wraps an Embedder with the BadgerDB cache.
//
// # Description
//
// Serves vectors from the cache when present and falls through to the
// inner embedder on misses. Cache write failures are logged and ignored
// so a full cache disk never blocks retrieval.
//
// # Thread Safety
//
// CachedEmbedder is safe for concurrent use.
type CachedEmbedder struct {
	inner  Embedder
	cache  *EmbeddingCache
	logger *slog.Logger
}

// NewCachedEmbedder creates a caching decorator around an embedder.
//
// Inputs:
//
//	inner - The embedding backend. Must not be nil.
//	cache - The cache. Must not be nil.
//	logger - Logger for cache write failures. If nil, uses slog.Default().
//
// Outputs:
//
//	*CachedEmbedder - The configured embedder.
//	error - Non-nil if inner or cache is nil.
func NewCachedEmbedder(inner Embedder, cache *EmbeddingCache, logger *slog.Logger) (*CachedEmbedder, error) {
	if inner == nil {
		return nil, errors.New("inner embedder must not be nil")
	}
	if cache == nil {
		return nil, errors.New("cache must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedEmbedder{
		inner:  inner,
		cache:  cache,
		logger: logger,
	}, nil
}

var _ Embedder = (*CachedEmbedder)(nil)

// Embed returns the cached vector for the text or computes and caches it.
func (e *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, hit, err := e.cache.Get(ctx, e.inner.Model(), text)
	if err != nil {
		return nil, err
	}
	if hit {
		return vec, nil
	}

	vec, err = e.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := e.cache.Put(ctx, e.inner.Model(), text, vec); err != nil {
		e.logger.Warn("failed to cache embedding", slog.String("error", err.Error()))
	}
	return vec, nil
}

// BatchEmbed serves hits from the cache and embeds only the misses.
func (e *CachedEmbedder) BatchEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts is empty", ErrEmbedding)
	}

	vectors := make([][]float32, len(texts))
	var missTexts []string
	var missAt []int
	for i, text := range texts {
		vec, hit, err := e.cache.Get(ctx, e.inner.Model(), text)
		if err != nil {
			return nil, err
		}
		if hit {
			vectors[i] = vec
			continue
		}
		missTexts = append(missTexts, text)
		missAt = append(missAt, i)
	}

	if len(missTexts) > 0 {
		fresh, err := e.inner.BatchEmbed(ctx, missTexts)
		if err != nil {
			return nil, err
		}
		if len(fresh) != len(missTexts) {
			return nil, fmt.Errorf("%w: requested %d vectors, got %d", ErrEmbedding, len(missTexts), len(fresh))
		}
		for j, vec := range fresh {
			vectors[missAt[j]] = vec
			if err := e.cache.Put(ctx, e.inner.Model(), missTexts[j], vec); err != nil {
				e.logger.Warn("failed to cache embedding", slog.String("error", err.Error()))
			}
		}
	}

	return vectors, nil
}

// Dimensions delegates to the inner embedder.
func (e *CachedEmbedder) Dimensions() int {
	return e.inner.Dimensions()
}

// Model delegates to the inner embedder.
func (e *CachedEmbedder) Model() string {
	return e.inner.Model()
}
