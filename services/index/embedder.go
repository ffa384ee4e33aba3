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
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// Embedder converts text into dense vectors for similarity search.
//
// # Description
//
// Implementations wrap an embedding backend (a local hashing scheme,
// an Ollama server, or the OpenAI API). Vectors from a single Embedder
// instance always have the same dimensionality.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Embedder interface {
	// Embed computes a vector for one text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// BatchEmbed computes vectors for multiple texts. The result has
	// one vector per input text, in input order.
	BatchEmbed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the vector length, or 0 if not yet known
	// (remote backends learn it from the first response).
	Dimensions() int

	// Model identifies the embedding model for cache keys and stats.
	Model() string
}

// CosineSimilarity computes the cosine of the angle between two vectors.
//
// # Description
//
// Returns a value between -1 (opposite) and 1 (identical). Vectors of
// mismatched or zero length score 0.0 rather than erroring, so a single
// bad document cannot abort a whole query.
//
// # Inputs
//
//   - a, b: The vectors to compare.
//
// # Outputs
//
//   - float64: The cosine similarity score.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0.0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0.0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// DefaultHashingDimensions is the vector size for the hashing embedder.
const DefaultHashingDimensions = 256

// HashingEmbedder embeds text with deterministic feature hashing.
//
// # Description
//
// HashingEmbedder maps token unigrams and bigrams into a fixed-size
// vector using FNV-1a bucket hashing with a sign bit, then L2-normalizes
// the result. It needs no network, no model files, and no warm-up, which
// makes it the default backend for offline use and for tests. Quality is
// lexical rather than semantic: texts sharing words score high, synonyms
// do not.
//
// # Thread Safety
//
// HashingEmbedder is stateless after construction and safe for
// concurrent use.
type HashingEmbedder struct {
	dims int
}

// NewHashingEmbedder creates a hashing embedder.
//
// Inputs:
//
//	dims - Vector dimensionality. Values <= 0 use DefaultHashingDimensions.
//
// Outputs:
//
//	*HashingEmbedder - The configured embedder.
func NewHashingEmbedder(dims int) *HashingEmbedder {
	if dims <= 0 {
		dims = DefaultHashingDimensions
	}
	return &HashingEmbedder{dims: dims}
}

var _ Embedder = (*HashingEmbedder)(nil)

// Embed computes a normalized feature-hash vector for the text.
func (h *HashingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: text is empty", ErrEmbedding)
	}

	vec := make([]float32, h.dims)
	tokens := tokenize(text)
	for i, tok := range tokens {
		h.accumulate(vec, tok)
		if i+1 < len(tokens) {
			h.accumulate(vec, tok+" "+tokens[i+1])
		}
	}

	normalize(vec)
	return vec, nil
}

// BatchEmbed computes vectors for multiple texts.
func (h *HashingEmbedder) BatchEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts is empty", ErrEmbedding)
	}

	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := h.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embed text %d: %w", i, err)
		}
		vectors[i] = vec
	}
	return vectors, nil
}

// Dimensions returns the configured vector length.
func (h *HashingEmbedder) Dimensions() int {
	return h.dims
}

// Model returns the identifier used in cache keys and stats.
func (h *HashingEmbedder) Model() string {
	return fmt.Sprintf("feature-hash-%d", h.dims)
}

// accumulate hashes one feature into its bucket. The low bit of the
// hash picks the sign so that unrelated features cancel rather than
// stack.
func (h *HashingEmbedder) accumulate(vec []float32, feature string) {
	hasher := fnv.New32a()
	hasher.Write([]byte(feature))
	sum := hasher.Sum32()

	bucket := int(sum>>1) % len(vec)
	if sum&1 == 0 {
		vec[bucket]++
	} else {
		vec[bucket]--
	}
}

// tokenize lowercases the text and splits on any non-alphanumeric rune.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// normalize scales the vector to unit length in place.
func normalize(vec []float32) {
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return
	}
	scale := 1.0 / math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) * scale)
	}
}
