// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package reason

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/Williwaw/services/llm"
)

var (
	// ErrEmptyQuery signals remediation was requested without a query.
	ErrEmptyQuery = errors.New("query must not be empty")

	// ErrMalformedRemediation signals the model reply could not be
	// parsed into the remediation schema.
	ErrMalformedRemediation = errors.New("malformed remediation response")
)

// DefaultSuggestionConfidence fills in suggestions the model returned
// without a confidence value.
const DefaultSuggestionConfidence = 0.85

// Suggestion is one proposed follow-up command. Suggestions are shown to
// the user and never executed.
type Suggestion struct {
	Command     string  `yaml:"command" json:"command"`
	Description string  `yaml:"description" json:"description"`
	ReadOnly    bool    `yaml:"read_only" json:"read_only"`
	Confidence  float64 `yaml:"confidence" json:"confidence"`
}

// Remediation is the model's diagnosis plus suggested follow-ups.
type Remediation struct {
	Diagnosis   string       `yaml:"diagnosis" json:"diagnosis"`
	Suggestions []Suggestion `yaml:"remediation_commands" json:"remediation_commands"`
}

const remediationSystemPrompt = `Output ONLY valid YAML with this exact structure:

diagnosis: "Brief problem explanation with specific device info"
remediation_commands:
  - command: "exact shell command"
    description: "One sentence what this does"
    read_only: false
    confidence: 0.95

CRITICAL:
- Use specific device identifiers (e.g., 'amixer -c 1' for card 1)
- Extract card numbers from diagnostic output (look for 'card 1', 'Bus 001 Device 004')
- Only suggest safe, non-destructive commands
- Output ONLY the YAML. No markdown. No explanations.`

// SuggestRemediation asks the model for a diagnosis and follow-up
// commands based on the run's combined diagnostic output.
//
// Description:
//
//	One rate-limited call parsed as YAML with markdown fences stripped.
//	Suggestions without a command are dropped; missing confidence values
//	default to DefaultSuggestionConfidence and are clamped to [0, 1].
//	Unlike Explain, remediation surfaces failures: the caller decides
//	whether to render the section at all.
//
// Outputs:
//
//	*Remediation - Parsed diagnosis and suggestions.
//	error - ErrEmptyQuery, ErrMalformedRemediation, a wrapped backend
//	error, or the context error.
func (e *Engine) SuggestRemediation(ctx context.Context, query, diagnosticOutput string) (*Remediation, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}

	ctx, span := tracer.Start(ctx, "reason.SuggestRemediation")
	defer span.End()

	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()

	var b strings.Builder
	fmt.Fprintf(&b, "Query: %s\n\n", query)
	fmt.Fprintf(&b, "Diagnostic output:\n%s\n\n", truncateForPrompt(diagnosticOutput, promptOutputCap*2))
	b.WriteString("Generate remediation YAML:")

	messages := []llm.Message{
		{Role: "system", Content: remediationSystemPrompt},
		{Role: "user", Content: b.String()},
	}
	raw, err := e.client.Chat(callCtx, messages, llm.GenerationParams{})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("remediation call failed: %w", err)
	}

	rem, err := parseRemediation(raw)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return rem, nil
}

// parseRemediation validates the model reply against the remediation
// schema and applies defaults.
func parseRemediation(raw string) (*Remediation, error) {
	var rem Remediation
	if err := yaml.Unmarshal([]byte(stripMarkdownFence(raw)), &rem); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRemediation, err)
	}
	if rem.Diagnosis == "" && len(rem.Suggestions) == 0 {
		return nil, ErrMalformedRemediation
	}

	kept := rem.Suggestions[:0]
	for _, s := range rem.Suggestions {
		if strings.TrimSpace(s.Command) == "" {
			continue
		}
		if s.Confidence <= 0 {
			s.Confidence = DefaultSuggestionConfidence
		}
		if s.Confidence > 1 {
			s.Confidence = 1
		}
		kept = append(kept, s)
	}
	rem.Suggestions = kept
	return &rem, nil
}

// stripMarkdownFence removes a surrounding markdown code fence, if
// present. Models often wrap structured replies despite instructions.
func stripMarkdownFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```yaml")
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
