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
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/AleutianAI/Williwaw/services/catalog"
)

// CorpusEntryClassName is the Weaviate class for indexed corpus entries.
const CorpusEntryClassName = "CorpusEntry"

// weaviateBatchSize is the number of objects per batch import request.
const weaviateBatchSize = 100

// NewWeaviateClient creates a Weaviate client from a URL like
// "http://localhost:8080".
func NewWeaviateClient(rawURL string) (*weaviate.Client, error) {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse weaviate URL %q: %w", rawURL, err)
	}
	if parsedURL.Host == "" || parsedURL.Scheme == "" {
		return nil, fmt.Errorf("weaviate URL %q must include scheme and host", rawURL)
	}
	client, err := weaviate.NewClient(weaviate.Config{
		Host:   parsedURL.Host,
		Scheme: parsedURL.Scheme,
	})
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}
	return client, nil
}

// corpusEntrySchema returns the Weaviate schema for the CorpusEntry class.
//
// Vectorizer is "none": embeddings are computed locally and imported
// alongside each object.
func corpusEntrySchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       CorpusEntryClassName,
		Description: "Command and documentation entries from the diagnostics corpus",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{
				Name:            "entryId",
				DataType:        []string{"text"},
				Description:     "Catalog entry identifier",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:         "title",
				DataType:     []string{"text"},
				Description:  "Entry title",
				Tokenization: "word",
			},
			{
				Name:            "kind",
				DataType:        []string{"text"},
				Description:     "Entry kind: command or documentation",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:         "body",
				DataType:     []string{"text"},
				Description:  "Entry body text",
				Tokenization: "word",
			},
			{
				Name:         "tags",
				DataType:     []string{"text"},
				Description:  "Space-joined entry tags",
				Tokenization: "word",
			},
			{
				Name:            "dataSpace",
				DataType:        []string{"text"},
				Description:     "Corpus isolation key",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
		},
	}
}

// WeaviateIndex is the remote Searcher implementation.
//
// # Description
//
// Stores entry vectors in a Weaviate instance so several processes can
// share one built corpus. The catalog stays the source of truth for
// entry content: Weaviate holds the vectors and the entryId, and query
// results are resolved back through an in-process entry map.
//
// # Thread Safety
//
// WeaviateIndex is safe for concurrent use.
type WeaviateIndex struct {
	client    *weaviate.Client
	embedder  Embedder
	dataSpace string
	logger    *slog.Logger

	mu      sync.RWMutex
	byID    map[string]catalog.Entry
	counts  Stats
	builtAt time.Time
}

// NewWeaviateIndex creates a Weaviate-backed index.
//
// Inputs:
//
//	client - Weaviate client. Must not be nil.
//	embedder - Embedding backend. Must not be nil.
//	dataSpace - Corpus isolation key. Empty defaults to "default".
//	logger - If nil, uses slog.Default().
//
// Outputs:
//
//	*WeaviateIndex - The configured index. Empty until Build is called.
//	error - Non-nil if client or embedder is nil.
func NewWeaviateIndex(client *weaviate.Client, embedder Embedder, dataSpace string, logger *slog.Logger) (*WeaviateIndex, error) {
	if client == nil {
		return nil, fmt.Errorf("weaviate client must not be nil")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder must not be nil")
	}
	if dataSpace == "" {
		dataSpace = "default"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WeaviateIndex{
		client:    client,
		embedder:  embedder,
		dataSpace: dataSpace,
		logger:    logger,
		byID:      make(map[string]catalog.Entry),
	}, nil
}

var _ Searcher = (*WeaviateIndex)(nil)

// EnsureSchema creates the CorpusEntry class if it doesn't exist.
// This operation is idempotent.
func (w *WeaviateIndex) EnsureSchema(ctx context.Context) error {
	_, err := w.client.Schema().ClassGetter().WithClassName(CorpusEntryClassName).Do(ctx)
	if err == nil {
		w.logger.Debug("CorpusEntry schema already exists")
		return nil
	}

	w.logger.Info("creating CorpusEntry schema")
	if err := w.client.Schema().ClassCreator().WithClass(corpusEntrySchema()).Do(ctx); err != nil {
		return fmt.Errorf("creating CorpusEntry schema: %w", err)
	}
	return nil
}

// Build embeds the entries and replaces this data space's objects.
//
// Description:
//
//	Ensures the schema, deletes every object in this index's data
//	space, then batch-imports the entries with locally computed
//	vectors. Object IDs derive from the entry ID, so re-importing an
//	unchanged corpus is idempotent.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	entries - Corpus entries. Must not be empty.
//
// Outputs:
//
//	error - ErrCorpusEmpty for an empty slice, or the embedding or
//	Weaviate error.
func (w *WeaviateIndex) Build(ctx context.Context, entries []catalog.Entry) error {
	ctx, span := tracer.Start(ctx, "weaviate.Build")
	defer span.End()

	if len(entries) == 0 {
		return fmt.Errorf("%w: nothing to index", ErrCorpusEmpty)
	}

	if err := w.EnsureSchema(ctx); err != nil {
		return err
	}
	if err := w.deleteDataSpace(ctx); err != nil {
		return err
	}

	start := time.Now()
	texts := make([]string, len(entries))
	for i, entry := range entries {
		texts[i] = entry.EmbeddingText()
	}

	byID := make(map[string]catalog.Entry, len(entries))
	imported := 0
	for lo := 0; lo < len(entries); lo += weaviateBatchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		hi := lo + weaviateBatchSize
		if hi > len(entries) {
			hi = len(entries)
		}

		vectors, err := w.embedder.BatchEmbed(ctx, texts[lo:hi])
		if err != nil {
			return fmt.Errorf("embed corpus batch [%d:%d]: %w", lo, hi, err)
		}

		objects := make([]*models.Object, hi-lo)
		for j, entry := range entries[lo:hi] {
			objects[j] = &models.Object{
				Class:  CorpusEntryClassName,
				ID:     entryUUID(w.dataSpace, entry.ID),
				Vector: vectors[j],
				Properties: map[string]interface{}{
					"entryId":   entry.ID,
					"title":     entry.Title,
					"kind":      string(entry.Kind),
					"body":      entry.Body,
					"tags":      joinTags(entry.Tags),
					"dataSpace": w.dataSpace,
				},
			}
			byID[entry.ID] = entry
		}

		resp, err := w.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
		if err != nil {
			return fmt.Errorf("batch import failed: %w", err)
		}
		for _, obj := range resp {
			if obj.Result != nil && obj.Result.Errors == nil {
				imported++
			}
		}
	}
	if imported != len(entries) {
		return fmt.Errorf("batch import stored %d of %d entries", imported, len(entries))
	}

	counts := Stats{Entries: len(entries)}
	for _, entry := range entries {
		switch entry.Kind {
		case catalog.KindCommand:
			counts.Commands++
		case catalog.KindDocumentation:
			counts.Documentation++
		}
	}

	w.mu.Lock()
	w.byID = byID
	w.counts = counts
	w.builtAt = time.Now()
	w.mu.Unlock()

	w.logger.Info("corpus indexed in weaviate",
		slog.Int("entries", imported),
		slog.String("data_space", w.dataSpace),
		slog.Duration("took", time.Since(start)),
	)
	return nil
}

// Query retrieves the top-k entries for the query text via nearVector.
func (w *WeaviateIndex) Query(ctx context.Context, text string, k int, minScore float64) ([]Match, error) {
	ctx, span := tracer.Start(ctx, "weaviate.Query")
	defer span.End()

	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("query text is empty")
	}
	if k <= 0 {
		k = DefaultQueryLimit
	}

	w.mu.RLock()
	byID := w.byID
	w.mu.RUnlock()
	if len(byID) == 0 {
		return nil, fmt.Errorf("%w: call Build first", ErrNotBuilt)
	}

	queryVec, err := w.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	nearVector := w.client.GraphQL().NearVectorArgBuilder().
		WithVector(queryVec)
	if minScore > 0 {
		// certainty = (1 + cosine) / 2 under the cosine metric.
		nearVector = nearVector.WithCertainty(float32((1 + minScore) / 2))
	}

	whereFilter := filters.Where().
		WithPath([]string{"dataSpace"}).
		WithOperator(filters.Equal).
		WithValueString(w.dataSpace)

	fields := []graphql.Field{
		{Name: "entryId"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "certainty"},
		}},
	}

	result, err := w.client.GraphQL().Get().
		WithClassName(CorpusEntryClassName).
		WithFields(fields...).
		WithWhere(whereFilter).
		WithNearVector(nearVector).
		WithLimit(k).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate search failed: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("weaviate search error: %s", result.Errors[0].Message)
	}

	matches := w.parseMatches(result.Data, byID, minScore)
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: no corpus entry scored >= %.2f", ErrRetrievalEmpty, minScore)
	}
	return matches, nil
}

// Stats reports corpus size and embedding metadata.
func (w *WeaviateIndex) Stats() Stats {
	w.mu.RLock()
	defer w.mu.RUnlock()

	stats := w.counts
	stats.Dimensions = w.embedder.Dimensions()
	stats.Model = w.embedder.Model()
	stats.BuiltAt = w.builtAt
	return stats
}

// deleteDataSpace removes all objects in this index's data space.
func (w *WeaviateIndex) deleteDataSpace(ctx context.Context) error {
	whereFilter := filters.Where().
		WithPath([]string{"dataSpace"}).
		WithOperator(filters.Equal).
		WithValueString(w.dataSpace)

	_, err := w.client.Batch().ObjectsBatchDeleter().
		WithClassName(CorpusEntryClassName).
		WithWhere(whereFilter).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("deleting data space %q: %w", w.dataSpace, err)
	}
	return nil
}

// parseMatches walks the GraphQL response and resolves entries locally.
func (w *WeaviateIndex) parseMatches(data map[string]models.JSONObject, byID map[string]catalog.Entry, minScore float64) []Match {
	get, ok := data["Get"].(map[string]interface{})
	if !ok {
		return nil
	}
	objects, ok := get[CorpusEntryClassName].([]interface{})
	if !ok {
		return nil
	}

	matches := make([]Match, 0, len(objects))
	for _, obj := range objects {
		m, ok := obj.(map[string]interface{})
		if !ok {
			continue
		}
		entryID, _ := m["entryId"].(string)
		entry, known := byID[entryID]
		if !known {
			w.logger.Warn("weaviate returned an unknown entry", slog.String("entry_id", entryID))
			continue
		}

		score := 0.0
		if additional, ok := m["_additional"].(map[string]interface{}); ok {
			if certainty, ok := additional["certainty"].(float64); ok {
				score = 2*certainty - 1
			}
		}
		if score < minScore {
			continue
		}
		matches = append(matches, Match{Entry: entry, Score: score})
	}
	return matches
}

// entryUUID derives a deterministic object ID from the entry identity.
func entryUUID(dataSpace, entryID string) strfmt.UUID {
	hash := sha256.Sum256([]byte(dataSpace + "\x00" + entryID))
	id, _ := uuid.FromBytes(hash[:16])
	return strfmt.UUID(id.String())
}

// joinTags renders tags as one "word"-tokenized text property.
func joinTags(tags []string) string {
	return strings.Join(tags, " ")
}
