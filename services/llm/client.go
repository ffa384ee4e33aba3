// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm provides a provider-agnostic client for text generation.
//
// The reasoning layer is the only consumer: it sends short prompts and
// expects short completions, and it must keep working when no provider
// is reachable, so callers treat errors from this package as a signal
// to fall back to deterministic templates.
package llm

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("williwaw.llm")

// Message is one turn of a chat exchange.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerationParams tunes a single generation request. Nil pointer
// fields use the provider's default.
type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// LLMClient defines the standard interface for any LLM backend.
type LLMClient interface {
	// Generate completes a single prompt.
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)

	// Chat completes a multi-turn exchange. A leading "system" message
	// is mapped to the provider's system prompt mechanism.
	Chat(ctx context.Context, messages []Message, params GenerationParams) (string, error)
}

// NewClient selects an LLM backend by provider name.
//
// Description:
//
//	Creates the client for the named provider. An empty provider
//	selects Ollama, the local-first default.
//
// Inputs:
//
//	provider - One of "ollama", "openai", "claude"/"anthropic".
//
// Outputs:
//
//	LLMClient - The configured backend.
//	error - Non-nil for unknown providers or missing credentials.
func NewClient(provider string) (LLMClient, error) {
	switch provider {
	case "openai":
		return NewOpenAIClientFromEnv()
	case "claude", "anthropic":
		return NewAnthropicClientFromEnv()
	case "ollama", "":
		return NewOllamaClientFromEnv()
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", provider)
	}
}
