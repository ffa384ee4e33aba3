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
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/sashabaranov/go-openai"
)

// OpenAIEmbedder computes embeddings via the OpenAI API.
//
// # Thread Safety
//
// OpenAIEmbedder is safe for concurrent use.
type OpenAIEmbedder struct {
	client *openai.Client
	model  openai.EmbeddingModel

	mu   sync.Mutex
	dims int
}

// NewOpenAIEmbedder creates an embedder backed by the OpenAI API.
//
// Inputs:
//
//	apiKey - OpenAI API key. Required.
//	model - Embedding model. Empty defaults to text-embedding-3-small.
//
// Outputs:
//
//	*OpenAIEmbedder - The configured embedder.
//	error - Non-nil if apiKey is empty.
func NewOpenAIEmbedder(apiKey, model string) (*OpenAIEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	embedModel := openai.SmallEmbedding3
	if model != "" {
		embedModel = openai.EmbeddingModel(model)
	} else {
		slog.Warn("OpenAI embedding model not set, defaulting to text-embedding-3-small")
	}
	slog.Info("Initializing OpenAI embedder", "model", string(embedModel))
	return &OpenAIEmbedder{
		client: openai.NewClient(apiKey),
		model:  embedModel,
	}, nil
}

// NewOpenAIEmbedderFromEnv creates an embedder from OPENAI_API_KEY and
// OPENAI_EMBED_MODEL, falling back to the Podman secrets mount for the
// key.
func NewOpenAIEmbedderFromEnv() (*OpenAIEmbedder, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		secretPath := "/run/secrets/openai_api_key"
		apiKeyBytes, err := os.ReadFile(secretPath)
		if err != nil {
			slog.Error("OPENAI_API_KEY environment variable not set and secret not found", "path", secretPath)
			return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
		}
		apiKey = strings.TrimSpace(string(apiKeyBytes))
		slog.Info("Read the OpenAI API Key from Podman Secrets")
	}
	return NewOpenAIEmbedder(apiKey, os.Getenv("OPENAI_EMBED_MODEL"))
}

var _ Embedder = (*OpenAIEmbedder)(nil)

// Embed computes a vector embedding for the given text.
func (o *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: text is empty", ErrEmbedding)
	}
	vectors, err := o.BatchEmbed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// BatchEmbed computes vectors for multiple texts in one API call.
func (o *OpenAIEmbedder) BatchEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, span := tracer.Start(ctx, "OpenAIEmbedder.BatchEmbed")
	defer span.End()

	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts is empty", ErrEmbedding)
	}

	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: o.model,
	})
	if err != nil {
		span.RecordError(err)
		slog.Error("OpenAI embeddings call failed", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrEmbedding, err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: requested %d vectors, got %d", ErrEmbedding, len(texts), len(resp.Data))
	}

	// The API reports each vector's position explicitly.
	vectors := make([][]float32, len(texts))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= len(vectors) {
			return nil, fmt.Errorf("%w: vector index %d out of range", ErrEmbedding, item.Index)
		}
		vectors[item.Index] = item.Embedding
	}
	for i, vec := range vectors {
		if len(vec) == 0 {
			return nil, fmt.Errorf("%w: no vector returned for text %d", ErrEmbedding, i)
		}
	}

	o.recordDims(len(vectors[0]))
	return vectors, nil
}

// Dimensions returns the vector length, or 0 before the first call.
func (o *OpenAIEmbedder) Dimensions() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dims
}

// Model returns the configured embedding model name.
func (o *OpenAIEmbedder) Model() string {
	return string(o.model)
}

func (o *OpenAIEmbedder) recordDims(n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.dims == 0 {
		o.dims = n
	}
}
