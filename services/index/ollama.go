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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// DefaultOllamaEmbedModel is used when no embedding model is configured.
const DefaultOllamaEmbedModel = "nomic-embed-text"

// DefaultEmbedTimeout bounds a single embedding HTTP request.
const DefaultEmbedTimeout = 60 * time.Second

// OllamaEmbedder computes embeddings via a local Ollama server.
//
// # Description
//
// Calls the /api/embeddings endpoint of an Ollama instance. The vector
// dimensionality is learned from the first response since it depends on
// the pulled model.
//
// # Thread Safety
//
// OllamaEmbedder is safe for concurrent use.
type OllamaEmbedder struct {
	httpClient *http.Client
	baseURL    string
	model      string

	mu   sync.Mutex
	dims int
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float64 `json:"embedding"`
}

// NewOllamaEmbedder creates an embedder backed by an Ollama server.
//
// Inputs:
//
//	baseURL - Ollama base URL (e.g. "http://localhost:11434"). Required.
//	model - Embedding model name. Empty uses DefaultOllamaEmbedModel.
//
// Outputs:
//
//	*OllamaEmbedder - The configured embedder.
//	error - Non-nil if baseURL is empty.
func NewOllamaEmbedder(baseURL, model string) (*OllamaEmbedder, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("ollama base URL is required")
	}
	if model == "" {
		slog.Warn("Ollama embedding model not set, using default", "default", DefaultOllamaEmbedModel)
		model = DefaultOllamaEmbedModel
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	slog.Info("Initializing Ollama embedder", "base_url", baseURL, "model", model)
	return &OllamaEmbedder{
		httpClient: &http.Client{Timeout: DefaultEmbedTimeout},
		baseURL:    baseURL,
		model:      model,
	}, nil
}

// NewOllamaEmbedderFromEnv creates an embedder from OLLAMA_BASE_URL and
// OLLAMA_EMBED_MODEL.
func NewOllamaEmbedderFromEnv() (*OllamaEmbedder, error) {
	baseURL := os.Getenv("OLLAMA_BASE_URL")
	if baseURL == "" {
		return nil, fmt.Errorf("OLLAMA_BASE_URL environment variable not set")
	}
	return NewOllamaEmbedder(baseURL, os.Getenv("OLLAMA_EMBED_MODEL"))
}

var _ Embedder = (*OllamaEmbedder)(nil)

// Embed computes a vector embedding for the given text.
func (o *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, span := tracer.Start(ctx, "OllamaEmbedder.Embed")
	defer span.End()
	span.SetAttributes(attribute.String("embed.model", o.model))

	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: text is empty", ErrEmbedding)
	}

	payload := ollamaEmbedRequest{Model: o.model, Prompt: text}
	reqBody, err := json.Marshal(payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}

	embedURL := o.baseURL + "/api/embeddings"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, embedURL, bytes.NewBuffer(reqBody))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("create embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("Ollama embedding call failed", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrEmbedding, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("read embedding response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusNotFound {
			var errResp struct {
				Error string `json:"error"`
			}
			if err := json.Unmarshal(respBody, &errResp); err == nil &&
				strings.Contains(errResp.Error, "model") && strings.Contains(errResp.Error, "not found") {
				slog.Warn("Ollama embedding model not found", "model", o.model)
				return nil, fmt.Errorf("model '%s' not found. Please run: 'ollama pull %s'", o.model, o.model)
			}
		}
		slog.Error("Ollama embeddings returned an error", "status_code", resp.StatusCode, "response", string(respBody))
		return nil, fmt.Errorf("%w: status %d: %s", ErrEmbedding, resp.StatusCode, string(respBody))
	}

	var embResp ollamaEmbedResponse
	if err := json.Unmarshal(respBody, &embResp); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("parse embedding response: %w", err)
	}
	if len(embResp.Embedding) == 0 {
		return nil, fmt.Errorf("%w: server returned an empty vector", ErrEmbedding)
	}

	vec := make([]float32, len(embResp.Embedding))
	for i, v := range embResp.Embedding {
		vec[i] = float32(v)
	}
	o.recordDims(len(vec))
	return vec, nil
}

// BatchEmbed computes vectors for multiple texts.
//
// The /api/embeddings endpoint takes one prompt per call, so texts are
// embedded sequentially. Cancellation is honored between calls.
func (o *OllamaEmbedder) BatchEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts is empty", ErrEmbedding)
	}

	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vec, err := o.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embed text %d: %w", i, err)
		}
		vectors[i] = vec
	}
	return vectors, nil
}

// Dimensions returns the vector length, or 0 before the first call.
func (o *OllamaEmbedder) Dimensions() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dims
}

// Model returns the configured embedding model name.
func (o *OllamaEmbedder) Model() string {
	return o.model
}

func (o *OllamaEmbedder) recordDims(n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.dims == 0 {
		o.dims = n
	}
}
