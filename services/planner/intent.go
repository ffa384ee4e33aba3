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
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AleutianAI/Williwaw/services/llm"
)

// =============================================================================
// INTENT TAXONOMY
// =============================================================================

// Intent verbs.
const (
	IntentDiagnose = "diagnose"
	IntentGenerate = "generate"
	IntentAnalyze  = "analyze"
	IntentUnknown  = "unknown"
)

// Intent sources.
const (
	// SourceKeyword marks a classification produced by the deterministic
	// keyword rules.
	SourceKeyword = "keyword"

	// SourceLLM marks a classification refined by an LLM backend.
	SourceLLM = "llm"
)

// Intent is the classified meaning of a query.
type Intent struct {
	// Verb is the high-level action: diagnose, generate, or analyze.
	Verb string `json:"intent"`

	// Domain is the specific subdomain, e.g. audio/headphone_volume.
	Domain string `json:"domain"`

	// Confidence is the classifier's confidence in [0, 1].
	Confidence float64 `json:"confidence"`

	// Reasoning is a short explanation, populated by LLM refinement.
	Reasoning string `json:"reasoning,omitempty"`

	// Source records which classifier produced this intent.
	Source string `json:"source"`
}

// Recognized reports whether the intent landed on a known verb and domain.
func (i Intent) Recognized() bool {
	return i.Verb != IntentUnknown && i.Domain != IntentUnknown && i.Domain != ""
}

// taxonomyClass groups the domains reachable under one intent verb.
type taxonomyClass struct {
	Domains     []string `json:"domains"`
	Description string   `json:"description"`
}

// intentVerbs fixes the taxonomy iteration order for prompt rendering.
var intentVerbs = []string{IntentDiagnose, IntentGenerate, IntentAnalyze}

// intentTaxonomy maps intent verbs to their domain classifiers. Extending a
// verb's domain list here is enough to let the LLM classifier emit it; the
// keyword rules below need their own entry.
var intentTaxonomy = map[string]taxonomyClass{
	IntentDiagnose: {
		Domains: []string{
			"audio/headphone_volume",
			"audio/system_volume",
			"storage/disk_usage",
			"network/connectivity",
			"gpu/utilization",
			"system/performance",
		},
		Description: "System diagnostics and troubleshooting",
	},
	IntentGenerate: {
		Domains: []string{
			"content/text",
			"content/image",
			"content/video",
			"code/snippet",
		},
		Description: "Content and code generation",
	},
	IntentAnalyze: {
		Domains: []string{
			"code/static_analysis",
			"code/dependency_graph",
			"data/metrics",
		},
		Description: "Code and data analysis",
	},
}

// knownDomain reports whether the domain is listed under the verb.
func knownDomain(verb, domain string) bool {
	class, ok := intentTaxonomy[verb]
	if !ok {
		return false
	}
	for _, d := range class.Domains {
		if d == domain {
			return true
		}
	}
	return false
}

// =============================================================================
// KEYWORD CLASSIFIER
// =============================================================================

// Keyword lists for audio volume detection. A query must match one volume
// keyword and one context keyword to classify as an audio volume problem.
var (
	volumeKeywords = []string{
		"volume", "too quiet", "too low", "not loud", "can't hear",
		"cant hear", "hard to hear", "really quiet", "really low",
	}
	audioContextKeywords = []string{
		"headphone", "headphones", "headset", "earbuds", "youtube",
		"browser", "firefox", "chrome", "all apps", "system audio",
		"system sound", "system volume", "audio", "sound",
	}
	headphoneKeywords = []string{"headphone", "headphones", "headset", "earbuds"}
)

// domainRule maps keywords to a (verb, domain) pair. Rules are evaluated in
// order; the first hit wins.
type domainRule struct {
	verb     string
	domain   string
	keywords []string
}

// domainRules covers the non-audio taxonomy. Audio gets the dedicated
// two-factor check in ClassifyIntent because single words like "sound" are
// too ambiguous on their own.
var domainRules = []domainRule{
	{IntentDiagnose, "storage/disk_usage", []string{"disk", "storage", "out of space", "disk space", "filesystem full", "disk full", "no space"}},
	{IntentDiagnose, "network/connectivity", []string{"network", "internet", "wifi", "wi-fi", "connection", "connectivity", "dns", "can't connect", "cant connect", "offline"}},
	{IntentDiagnose, "gpu/utilization", []string{"gpu", "graphics card", "nvidia", "cuda", "vram"}},
	{IntentDiagnose, "system/performance", []string{"slow", "sluggish", "lagging", "performance", "cpu usage", "memory usage", "load average", "high load", "freezing"}},
	{IntentAnalyze, "code/static_analysis", []string{"static analysis", "lint", "analyze the code", "analyze code"}},
	{IntentAnalyze, "code/dependency_graph", []string{"dependency graph", "dependencies of", "call graph"}},
	{IntentAnalyze, "data/metrics", []string{"metrics", "analyze data"}},
	{IntentGenerate, "code/snippet", []string{"write a function", "write code", "generate code", "code snippet", "write a script"}},
	{IntentGenerate, "content/text", []string{"write a", "draft a", "generate text", "compose"}},
}

// ClassifyIntent classifies a query with deterministic keyword rules.
//
// Description:
//
//	Audio volume complaints are matched first: the query must contain both
//	a volume keyword ("too quiet", "can't hear", ...) and an audio context
//	keyword ("headphones", "system audio", ...), or the word "low" next to
//	an audio term. Headphone-specific terms narrow the domain to
//	audio/headphone_volume. All other domains match on their keyword list
//	in a fixed rule order, so the same query always yields the same
//	intent. Queries matching nothing come back as unknown/unknown with
//	zero confidence.
//
// Inputs:
//
//	query - Natural-language query text.
//
// Outputs:
//
//	Intent - Classified intent with Source set to "keyword".
func ClassifyIntent(query string) Intent {
	text := strings.ToLower(query)

	lowVolumePhrase := strings.Contains(text, "low") &&
		containsAny(text, []string{"audio", "volume", "sound"})

	if (containsAny(text, volumeKeywords) || lowVolumePhrase) &&
		containsAny(text, audioContextKeywords) {
		domain := "audio/system_volume"
		if containsAny(text, headphoneKeywords) {
			domain = "audio/headphone_volume"
		}
		return Intent{
			Verb:       IntentDiagnose,
			Domain:     domain,
			Confidence: 0.9,
			Source:     SourceKeyword,
		}
	}

	for _, rule := range domainRules {
		if containsAny(text, rule.keywords) {
			return Intent{
				Verb:       rule.verb,
				Domain:     rule.domain,
				Confidence: 0.7,
				Source:     SourceKeyword,
			}
		}
	}

	return Intent{Verb: IntentUnknown, Domain: IntentUnknown, Source: SourceKeyword}
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// =============================================================================
// LLM REFINEMENT
// =============================================================================

// DefaultClassifyTimeout caps a single refinement call.
const DefaultClassifyTimeout = 15 * time.Second

// Classifier refines keyword classifications with an LLM backend.
//
// Description:
//
//	The keyword rules always run first and their result is the floor: if
//	the backend call fails, times out, returns malformed JSON, or names a
//	verb/domain outside the taxonomy, the keyword intent is returned
//	unchanged. Refinement can therefore improve a classification but
//	never lose one.
//
// Thread Safety:
//
//	Safe for concurrent use.
type Classifier struct {
	client  llm.LLMClient
	timeout time.Duration
	logger  *slog.Logger
}

// NewClassifier creates an LLM-refined intent classifier.
//
// Inputs:
//
//	client - LLM backend. Must not be nil; use plain ClassifyIntent for
//	keyword-only classification.
//	logger - Logger for refinement failures. If nil, uses slog.Default().
func NewClassifier(client llm.LLMClient, logger *slog.Logger) (*Classifier, error) {
	if client == nil {
		return nil, fmt.Errorf("classifier requires an LLM client")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{
		client:  client,
		timeout: DefaultClassifyTimeout,
		logger:  logger,
	}, nil
}

// Classify returns the refined intent for a query.
func (c *Classifier) Classify(ctx context.Context, query string) Intent {
	keyword := ClassifyIntent(query)

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	messages := []llm.Message{
		{Role: "system", Content: classifierSystemPrompt()},
		{Role: "user", Content: query},
	}

	raw, err := c.client.Chat(callCtx, messages, llm.GenerationParams{})
	if err != nil {
		c.logger.Warn("intent refinement failed, using keyword classification",
			slog.String("error", err.Error()),
		)
		return keyword
	}

	var refined Intent
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &refined); err != nil {
		c.logger.Warn("intent refinement returned malformed JSON, using keyword classification",
			slog.String("error", err.Error()),
		)
		return keyword
	}

	if refined.Verb == IntentUnknown || !knownDomain(refined.Verb, refined.Domain) {
		c.logger.Debug("intent refinement outside taxonomy, using keyword classification",
			slog.String("verb", refined.Verb),
			slog.String("domain", refined.Domain),
		)
		return keyword
	}

	if refined.Confidence < 0 {
		refined.Confidence = 0
	}
	if refined.Confidence > 1 {
		refined.Confidence = 1
	}
	refined.Source = SourceLLM
	return refined
}

// classifierSystemPrompt renders the classification prompt with the current
// taxonomy.
func classifierSystemPrompt() string {
	var b strings.Builder
	b.WriteString("You are an expert intent classifier for system diagnostics and automation.\n\n")
	b.WriteString("Your task: Analyze the user's natural language query and classify it into:\n")
	b.WriteString("1. intent: The high-level action (diagnose, generate, analyze)\n")
	b.WriteString("2. domain: The specific subdomain (audio/headphone_volume, storage/disk_usage, ...)\n")
	b.WriteString("3. confidence: 0.0-1.0 confidence in your classification\n")
	b.WriteString("4. reasoning: Brief explanation of your classification\n\n")
	b.WriteString("## Intent Taxonomy\n\n")
	for _, verb := range intentVerbs {
		class := intentTaxonomy[verb]
		fmt.Fprintf(&b, "%s (%s):\n", verb, class.Description)
		for _, d := range class.Domains {
			fmt.Fprintf(&b, "  - %s\n", d)
		}
	}
	b.WriteString("\n## Output Format\n\n")
	b.WriteString("Return ONLY valid JSON (no markdown, no explanation):\n")
	b.WriteString(`{"intent": "<intent>", "domain": "<domain>", "confidence": <0.0-1.0>, "reasoning": "<brief explanation>"}`)
	b.WriteString("\n\nIf the query does not match any known intent/domain, return:\n")
	b.WriteString(`{"intent": "unknown", "domain": "unknown", "confidence": 0.0, "reasoning": "<why it doesn't match>"}`)
	return b.String()
}

// stripCodeFence removes a surrounding markdown code fence, if present.
// Models often wrap JSON in ```json blocks despite instructions.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
