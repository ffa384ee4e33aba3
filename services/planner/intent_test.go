// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package planner

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/Williwaw/services/llm"
)

// stubLLM is a canned LLM backend for classifier tests.
type stubLLM struct {
	response     string
	err          error
	lastMessages []llm.Message
}

func (s *stubLLM) Generate(_ context.Context, prompt string, _ llm.GenerationParams) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.response, nil
}

func (s *stubLLM) Chat(_ context.Context, messages []llm.Message, _ llm.GenerationParams) (string, error) {
	s.lastMessages = messages
	if s.err != nil {
		return "", s.err
	}
	return s.response, nil
}

func TestClassifyIntent(t *testing.T) {
	tests := []struct {
		name   string
		query  string
		verb   string
		domain string
	}{
		{
			name:   "headphone volume",
			query:  "my headphones are too quiet",
			verb:   IntentDiagnose,
			domain: "audio/headphone_volume",
		},
		{
			name:   "headset cannot hear",
			query:  "I can't hear anything in my headset",
			verb:   IntentDiagnose,
			domain: "audio/headphone_volume",
		},
		{
			name:   "system volume low phrase",
			query:  "the audio volume is low on all apps",
			verb:   IntentDiagnose,
			domain: "audio/system_volume",
		},
		{
			name:   "youtube quiet",
			query:  "youtube is really quiet",
			verb:   IntentDiagnose,
			domain: "audio/system_volume",
		},
		{
			name:   "disk full",
			query:  "my disk is full and installs are failing",
			verb:   IntentDiagnose,
			domain: "storage/disk_usage",
		},
		{
			name:   "no internet",
			query:  "no internet after resume",
			verb:   IntentDiagnose,
			domain: "network/connectivity",
		},
		{
			name:   "gpu utilization",
			query:  "why is my gpu pegged at 100%",
			verb:   IntentDiagnose,
			domain: "gpu/utilization",
		},
		{
			name:   "system slow",
			query:  "everything feels slow since this morning",
			verb:   IntentDiagnose,
			domain: "system/performance",
		},
		{
			name:   "code snippet",
			query:  "write a function that parses csv",
			verb:   IntentGenerate,
			domain: "code/snippet",
		},
		{
			name:   "unclassifiable",
			query:  "what is the meaning of life",
			verb:   IntentUnknown,
			domain: IntentUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyIntent(tt.query)
			assert.Equal(t, tt.verb, got.Verb)
			assert.Equal(t, tt.domain, got.Domain)
			assert.Equal(t, SourceKeyword, got.Source)
			if tt.verb == IntentUnknown {
				assert.Zero(t, got.Confidence)
				assert.False(t, got.Recognized())
			} else {
				assert.Greater(t, got.Confidence, 0.0)
				assert.True(t, got.Recognized())
			}
		})
	}

	t.Run("deterministic", func(t *testing.T) {
		first := ClassifyIntent("my headphones are too quiet")
		second := ClassifyIntent("my headphones are too quiet")
		assert.Equal(t, first, second)
	})
}

func TestClassifier(t *testing.T) {
	ctx := context.Background()

	t.Run("requires client", func(t *testing.T) {
		_, err := NewClassifier(nil, nil)
		require.Error(t, err)
	})

	t.Run("refines with valid response", func(t *testing.T) {
		stub := &stubLLM{
			response: `{"intent": "diagnose", "domain": "storage/disk_usage", "confidence": 0.95, "reasoning": "capacity complaint"}`,
		}
		c, err := NewClassifier(stub, nil)
		require.NoError(t, err)

		got := c.Classify(ctx, "the machine keeps complaining about capacity")
		assert.Equal(t, IntentDiagnose, got.Verb)
		assert.Equal(t, "storage/disk_usage", got.Domain)
		assert.InDelta(t, 0.95, got.Confidence, 1e-9)
		assert.Equal(t, SourceLLM, got.Source)

		require.Len(t, stub.lastMessages, 2)
		assert.Equal(t, "system", stub.lastMessages[0].Role)
		assert.Contains(t, stub.lastMessages[0].Content, "storage/disk_usage")
	})

	t.Run("strips markdown fences", func(t *testing.T) {
		stub := &stubLLM{
			response: "```json\n{\"intent\": \"diagnose\", \"domain\": \"network/connectivity\", \"confidence\": 0.8, \"reasoning\": \"\"}\n```",
		}
		c, err := NewClassifier(stub, nil)
		require.NoError(t, err)

		got := c.Classify(ctx, "something is off")
		assert.Equal(t, "network/connectivity", got.Domain)
		assert.Equal(t, SourceLLM, got.Source)
	})

	t.Run("falls back on backend error", func(t *testing.T) {
		stub := &stubLLM{err: errors.New("backend down")}
		c, err := NewClassifier(stub, nil)
		require.NoError(t, err)

		got := c.Classify(ctx, "my headphones are too quiet")
		assert.Equal(t, "audio/headphone_volume", got.Domain)
		assert.Equal(t, SourceKeyword, got.Source)
	})

	t.Run("falls back on malformed JSON", func(t *testing.T) {
		stub := &stubLLM{response: "the intent is probably diagnose"}
		c, err := NewClassifier(stub, nil)
		require.NoError(t, err)

		got := c.Classify(ctx, "my headphones are too quiet")
		assert.Equal(t, "audio/headphone_volume", got.Domain)
		assert.Equal(t, SourceKeyword, got.Source)
	})

	t.Run("falls back on out-of-taxonomy domain", func(t *testing.T) {
		stub := &stubLLM{
			response: `{"intent": "diagnose", "domain": "kitchen/toaster", "confidence": 0.9, "reasoning": ""}`,
		}
		c, err := NewClassifier(stub, nil)
		require.NoError(t, err)

		got := c.Classify(ctx, "disk is full")
		assert.Equal(t, "storage/disk_usage", got.Domain)
		assert.Equal(t, SourceKeyword, got.Source)
	})

	t.Run("clamps confidence", func(t *testing.T) {
		stub := &stubLLM{
			response: `{"intent": "diagnose", "domain": "system/performance", "confidence": 7.5, "reasoning": ""}`,
		}
		c, err := NewClassifier(stub, nil)
		require.NoError(t, err)

		got := c.Classify(ctx, "anything")
		assert.Equal(t, 1.0, got.Confidence)
	})
}

func TestStripCodeFence(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripCodeFence("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripCodeFence("```\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripCodeFence(`{"a":1}`))
	assert.Equal(t, `{"a":1}`, stripCodeFence("  {\"a\":1}  "))
}
