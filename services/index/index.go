// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package index provides semantic retrieval over the command corpus.
//
// The corpus is embedded once at build time and queried with cosine
// similarity. Two backends implement the same Searcher interface:
//
//   - Index: in-memory brute-force scan. The corpus is small (tens to
//     low thousands of entries), so a linear scan stays well under a
//     millisecond and needs no external service.
//   - WeaviateIndex: remote vector database for deployments that share
//     one corpus across processes.
//
// Embedding backends (hashing, Ollama, OpenAI) are pluggable via the
// Embedder interface and may be wrapped with a BadgerDB cache.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/AleutianAI/Williwaw/services/catalog"
)

var (
	tracer = otel.Tracer("williwaw.index")
	meter  = otel.Meter("williwaw.index")
)

// DefaultQueryLimit is the result count when the caller passes k <= 0.
const DefaultQueryLimit = 5

// embedBatchSize bounds one BatchEmbed call during Build.
const embedBatchSize = 64

// Match is one retrieval result: a corpus entry and its similarity to
// the query, in [0, 1] for normalized vectors.
type Match struct {
	Entry catalog.Entry `json:"entry"`
	Score float64       `json:"score"`
}

// Stats describes the current state of a built index.
type Stats struct {
	Entries       int       `json:"entries"`
	Commands      int       `json:"commands"`
	Documentation int       `json:"documentation"`
	Dimensions    int       `json:"dimensions"`
	Model         string    `json:"model"`
	BuiltAt       time.Time `json:"built_at"`
}

// Searcher is the retrieval contract the rest of the pipeline depends on.
//
// # Thread Safety
//
// Implementations must allow concurrent Query calls, and Build must be
// safe to call while queries are in flight (queries see either the old
// or the new corpus, never a partial one).
type Searcher interface {
	// Build embeds the entries and replaces the searchable corpus.
	// An empty slice fails with ErrCorpusEmpty.
	Build(ctx context.Context, entries []catalog.Entry) error

	// Query returns up to k entries scoring >= minScore against the
	// query text, ordered by descending score. Entries with equal
	// scores keep their corpus insertion order. Returns
	// ErrRetrievalEmpty when nothing clears the floor and ErrNotBuilt
	// before the first successful Build.
	Query(ctx context.Context, text string, k int, minScore float64) ([]Match, error)

	// Stats reports corpus size and embedding metadata.
	Stats() Stats
}

// document pairs a corpus entry with its embedding.
type document struct {
	entry  catalog.Entry
	vector []float32
}

// Index is the in-memory Searcher implementation.
//
// # Thread Safety
//
// Index is safe for concurrent use. Build swaps the document set under
// a write lock; Query works on a snapshot taken under a read lock.
type Index struct {
	embedder Embedder
	logger   *slog.Logger

	mu      sync.RWMutex
	docs    []document
	builtAt time.Time

	// Metrics (initialized lazily)
	metricsOnce   sync.Once
	queryLatency  metric.Float64Histogram
	queryTotal    metric.Int64Counter
	queryEmpty    metric.Int64Counter
	corpusEntries metric.Int64Gauge
}

// New creates an in-memory index over the given embedder.
//
// Inputs:
//
//	embedder - Embedding backend. Must not be nil.
//	logger - Logger for build/query logs. If nil, uses slog.Default().
//
// Outputs:
//
//	*Index - The configured index. Empty until Build is called.
//	error - Non-nil if embedder is nil.
func New(embedder Embedder, logger *slog.Logger) (*Index, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Index{
		embedder: embedder,
		logger:   logger,
	}, nil
}

var _ Searcher = (*Index)(nil)

// initMetrics lazily initializes metrics.
// Logs errors if metric creation fails but continues execution (graceful degradation).
func (ix *Index) initMetrics() {
	ix.metricsOnce.Do(func() {
		var initErrors []string

		var err error
		ix.queryLatency, err = meter.Float64Histogram("index_query_duration_seconds",
			metric.WithDescription("Time spent answering retrieval queries"),
			metric.WithUnit("s"),
		)
		if err != nil {
			initErrors = append(initErrors, "query_latency: "+err.Error())
		}

		ix.queryTotal, err = meter.Int64Counter("index_query_total",
			metric.WithDescription("Number of retrieval queries"),
		)
		if err != nil {
			initErrors = append(initErrors, "query_total: "+err.Error())
		}

		ix.queryEmpty, err = meter.Int64Counter("index_query_empty_total",
			metric.WithDescription("Number of queries with no result above the score floor"),
		)
		if err != nil {
			initErrors = append(initErrors, "query_empty: "+err.Error())
		}

		ix.corpusEntries, err = meter.Int64Gauge("index_corpus_entries",
			metric.WithDescription("Number of entries in the built corpus"),
		)
		if err != nil {
			initErrors = append(initErrors, "corpus_entries: "+err.Error())
		}

		if len(initErrors) > 0 {
			ix.logger.Error("failed to initialize some index metrics (observability degraded)",
				slog.Int("failed_count", len(initErrors)),
				slog.Any("errors", initErrors),
			)
		}
	})
}

// Build embeds the entries and atomically replaces the corpus.
//
// Description:
//
//	Embeds each entry's retrieval text in batches and swaps the
//	document set in one write. In-flight queries keep reading the old
//	corpus until the swap.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	entries - Corpus entries. Must not be empty.
//
// Outputs:
//
//	error - ErrCorpusEmpty for an empty slice, ErrDimensionMismatch if
//	the backend returns inconsistent vector sizes, or the embedding
//	backend's error.
func (ix *Index) Build(ctx context.Context, entries []catalog.Entry) error {
	ix.initMetrics()
	ctx, span := tracer.Start(ctx, "index.Build")
	defer span.End()
	span.SetAttributes(attribute.Int("index.entries", len(entries)))

	if len(entries) == 0 {
		err := fmt.Errorf("%w: nothing to index", ErrCorpusEmpty)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	start := time.Now()
	texts := make([]string, len(entries))
	for i, entry := range entries {
		texts[i] = entry.EmbeddingText()
	}

	docs := make([]document, 0, len(entries))
	for lo := 0; lo < len(texts); lo += embedBatchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		hi := lo + embedBatchSize
		if hi > len(texts) {
			hi = len(texts)
		}

		vectors, err := ix.embedder.BatchEmbed(ctx, texts[lo:hi])
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("embed corpus batch [%d:%d]: %w", lo, hi, err)
		}
		if len(vectors) != hi-lo {
			return fmt.Errorf("%w: batch [%d:%d] returned %d vectors", ErrEmbedding, lo, hi, len(vectors))
		}

		for j, vec := range vectors {
			if len(docs) > 0 && len(vec) != len(docs[0].vector) {
				return fmt.Errorf("%w: entry %q has %d dimensions, corpus has %d",
					ErrDimensionMismatch, entries[lo+j].ID, len(vec), len(docs[0].vector))
			}
			docs = append(docs, document{entry: entries[lo+j], vector: vec})
		}
	}

	ix.mu.Lock()
	ix.docs = docs
	ix.builtAt = time.Now()
	ix.mu.Unlock()

	if ix.corpusEntries != nil {
		ix.corpusEntries.Record(ctx, int64(len(docs)))
	}
	ix.logger.Info("corpus indexed",
		slog.Int("entries", len(docs)),
		slog.String("model", ix.embedder.Model()),
		slog.Duration("took", time.Since(start)),
	)
	return nil
}

// Query retrieves the top-k entries for the query text.
//
// Description:
//
//	Embeds the query, scans all documents with cosine similarity,
//	drops scores below minScore, sorts descending (stable, so equal
//	scores keep corpus order), and truncates to k.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	text - Query text. Must be non-blank.
//	k - Maximum results. Values <= 0 use DefaultQueryLimit.
//	minScore - Score floor in [0, 1]. 0 keeps everything.
//
// Outputs:
//
//	[]Match - Ranked matches, best first.
//	error - ErrNotBuilt before the first Build, ErrRetrievalEmpty when
//	no entry clears the floor, or the embedding backend's error.
func (ix *Index) Query(ctx context.Context, text string, k int, minScore float64) ([]Match, error) {
	ix.initMetrics()
	ctx, span := tracer.Start(ctx, "index.Query")
	defer span.End()
	span.SetAttributes(
		attribute.Int("index.k", k),
		attribute.Float64("index.min_score", minScore),
	)

	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("query text is empty")
	}
	if k <= 0 {
		k = DefaultQueryLimit
	}

	ix.mu.RLock()
	docs := ix.docs
	ix.mu.RUnlock()
	if len(docs) == 0 {
		err := fmt.Errorf("%w: call Build first", ErrNotBuilt)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	start := time.Now()
	if ix.queryTotal != nil {
		ix.queryTotal.Add(ctx, 1)
	}

	queryVec, err := ix.embedder.Embed(ctx, text)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("embed query: %w", err)
	}

	matches := make([]Match, 0, len(docs))
	for _, doc := range docs {
		score := CosineSimilarity(queryVec, doc.vector)
		if score < minScore {
			continue
		}
		matches = append(matches, Match{Entry: doc.entry, Score: score})
	}

	// Stable sort preserves corpus insertion order for equal scores.
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	if len(matches) > k {
		matches = matches[:k]
	}

	if ix.queryLatency != nil {
		ix.queryLatency.Record(ctx, time.Since(start).Seconds())
	}

	if len(matches) == 0 {
		if ix.queryEmpty != nil {
			ix.queryEmpty.Add(ctx, 1)
		}
		ix.logger.Debug("retrieval found nothing above the score floor",
			slog.Float64("min_score", minScore),
		)
		err := fmt.Errorf("%w: no corpus entry scored >= %.2f", ErrRetrievalEmpty, minScore)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.Int("index.matches", len(matches)))
	return matches, nil
}

// Stats reports corpus size and embedding metadata.
func (ix *Index) Stats() Stats {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	stats := Stats{
		Entries:    len(ix.docs),
		Dimensions: ix.embedder.Dimensions(),
		Model:      ix.embedder.Model(),
		BuiltAt:    ix.builtAt,
	}
	for _, doc := range ix.docs {
		switch doc.entry.Kind {
		case catalog.KindCommand:
			stats.Commands++
		case catalog.KindDocumentation:
			stats.Documentation++
		}
	}
	return stats
}
