// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package reason generates natural-language explanations for pipeline
// decisions: why entries were retrieved, what plan edges accomplish, and
// what execution results mean.
//
// Reasoning is strictly additive. It never modifies plans or execution
// results, and it never fails a run: every model error, malformed reply,
// or timeout is replaced by a deterministic fallback annotation.
package reason

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/Williwaw/services/dag"
	"github.com/AleutianAI/Williwaw/services/index"
	"github.com/AleutianAI/Williwaw/services/llm"
	"github.com/AleutianAI/Williwaw/services/planner"
)

var tracer = otel.Tracer("williwaw.reason")

const (
	// DefaultMaxConcurrent bounds in-flight explanation calls.
	DefaultMaxConcurrent = 4

	// DefaultCallTimeout bounds a single explanation call.
	DefaultCallTimeout = 20 * time.Second

	// DefaultRate is the sustained explanation call budget per second.
	DefaultRate rate.Limit = 4

	// DefaultBurst allows short bursts above the sustained rate.
	DefaultBurst = 8

	// promptOutputCap limits how much command output goes into a prompt.
	promptOutputCap = 2000
)

// Config tunes the engine's call budget.
type Config struct {
	// MaxConcurrent bounds parallel model calls. Zero means
	// DefaultMaxConcurrent.
	MaxConcurrent int

	// CallTimeout bounds each model call. Zero means DefaultCallTimeout.
	CallTimeout time.Duration

	// Rate is the sustained calls-per-second budget. Zero means
	// DefaultRate.
	Rate rate.Limit

	// Burst is the token bucket depth. Zero means DefaultBurst.
	Burst int
}

// DefaultConfig returns the standard engine configuration.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent: DefaultMaxConcurrent,
		CallTimeout:   DefaultCallTimeout,
		Rate:          DefaultRate,
		Burst:         DefaultBurst,
	}
}

// Request carries the pipeline artifacts to annotate. Matches produce
// selection targets; Plan produces edge targets; Plan plus Results
// produce result targets for every node that actually ran.
type Request struct {
	Query   string
	Matches []index.Match
	Plan    *planner.Plan
	Results map[string]*dag.ExecutionResult
}

// Engine fans explanation calls out to a local model behind a rate
// limiter and concurrency bound.
//
// Thread Safety: safe for concurrent use.
type Engine struct {
	client        llm.LLMClient
	maxConcurrent int
	callTimeout   time.Duration
	limiter       *rate.Limiter
	logger        *slog.Logger
}

// NewEngine creates a reasoning engine.
//
// Inputs:
//
//	client - Model backend. Must not be nil.
//	cfg - Call budget tuning; zero values take defaults.
//	logger - Logger. If nil, uses slog.Default().
//
// Outputs:
//
//	*Engine - The configured engine.
//	error - Non-nil if client is nil.
func NewEngine(client llm.LLMClient, cfg Config, logger *slog.Logger) (*Engine, error) {
	if client == nil {
		return nil, fmt.Errorf("reason engine requires an LLM client")
	}
	if logger == nil {
		logger = slog.Default()
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	callTimeout := cfg.CallTimeout
	if callTimeout <= 0 {
		callTimeout = DefaultCallTimeout
	}
	r := cfg.Rate
	if r <= 0 {
		r = DefaultRate
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = DefaultBurst
	}
	return &Engine{
		client:        client,
		maxConcurrent: maxConcurrent,
		callTimeout:   callTimeout,
		limiter:       rate.NewLimiter(r, burst),
		logger:        logger,
	}, nil
}

// task is one pending explanation call.
type task struct {
	target   Target
	system   string
	prompt   string
	key      string
	fallback string
}

// Explain annotates every decision point in the request.
//
// Description:
//
//	Builds one task per unique target (duplicates are collapsed), fans
//	them out on an errgroup bounded by MaxConcurrent behind the rate
//	limiter, and collects annotations in deterministic order. A failed
//	or malformed call yields the target's fallback text with fallback
//	provenance. Cancelling ctx short-circuits pending calls; their
//	targets also receive fallbacks.
//
// Outputs:
//
//	Annotations - One annotation per target. Never nil for a non-empty
//	request, and never an error: explanation is best-effort by contract.
func (e *Engine) Explain(ctx context.Context, req Request) Annotations {
	if ctx == nil {
		ctx = context.Background()
	}
	tasks := buildTasks(req)
	if len(tasks) == 0 {
		return nil
	}

	ctx, span := tracer.Start(ctx, "reason.Explain",
		trace.WithAttributes(attribute.Int("reason.targets", len(tasks))),
	)
	defer span.End()

	annotations := make(Annotations, len(tasks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.maxConcurrent)
	for i, tk := range tasks {
		g.Go(func() error {
			annotations[i] = e.explainOne(gctx, tk)
			return nil // fallbacks stand in for failures
		})
	}
	_ = g.Wait()

	generated := annotations.GeneratedCount()
	span.SetAttributes(attribute.Int("reason.generated", generated))
	e.logger.Debug("explanations assembled",
		slog.Int("targets", len(tasks)),
		slog.Int("generated", generated),
	)
	return annotations
}

// explainOne performs a single rate-limited model call, returning the
// fallback annotation on any failure.
func (e *Engine) explainOne(ctx context.Context, tk task) Annotation {
	ann := Annotation{
		Target:     tk.target,
		Text:       tk.fallback,
		Provenance: ProvenanceFallback,
	}

	if err := e.limiter.Wait(ctx); err != nil {
		return ann
	}

	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()

	messages := []llm.Message{
		{Role: "system", Content: tk.system},
		{Role: "user", Content: tk.prompt},
	}
	raw, err := e.client.Chat(callCtx, messages, llm.GenerationParams{})
	if err != nil {
		e.logger.Debug("explanation call failed, using fallback",
			slog.String("target", tk.target.key()),
			slog.String("error", err.Error()),
		)
		return ann
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(stripMarkdownFence(raw)), &payload); err != nil {
		e.logger.Debug("explanation reply was not valid JSON, using fallback",
			slog.String("target", tk.target.key()),
		)
		return ann
	}
	text, ok := payload[tk.key].(string)
	text = strings.TrimSpace(text)
	if !ok || text == "" {
		return ann
	}

	ann.Text = text
	ann.Provenance = ProvenanceGenerated
	return ann
}

// buildTasks expands a request into unique explanation targets in
// deterministic order: selections, edges, then results.
func buildTasks(req Request) []task {
	var tasks []task
	seen := make(map[string]bool)
	add := func(t task) {
		k := t.target.key()
		if seen[k] {
			return
		}
		seen[k] = true
		tasks = append(tasks, t)
	}

	for _, m := range req.Matches {
		add(task{
			target:   Target{Kind: TargetSelection, ID: m.Entry.ID},
			system:   selectionSystemPrompt,
			prompt:   selectionPrompt(req.Query, m),
			key:      "explanation",
			fallback: "Command selected for diagnostics",
		})
	}

	if req.Plan == nil {
		return tasks
	}

	for _, pe := range req.Plan.Edges {
		add(task{
			target:   Target{Kind: TargetEdge, From: pe.From, To: pe.To},
			system:   edgeSystemPrompt,
			prompt:   edgePrompt(req.Plan, pe),
			key:      "reasoning",
			fallback: fmt.Sprintf("%s processes output from %s", pe.To, pe.From),
		})
	}

	for _, n := range req.Plan.Nodes {
		res := req.Results[n.ID]
		if res == nil || !res.Status.Attempted() || !res.Status.Terminal() {
			continue
		}
		add(task{
			target:   Target{Kind: TargetResult, ID: n.ID},
			system:   resultSystemPrompt,
			prompt:   resultPrompt(req.Query, n, res),
			key:      "interpretation",
			fallback: fallbackResult(res),
		})
	}
	return tasks
}

func fallbackResult(res *dag.ExecutionResult) string {
	status := "succeeded"
	if res.ExitCode != 0 {
		status = "failed"
	}
	return fmt.Sprintf("Command %s with exit code %d", status, res.ExitCode)
}

const selectionSystemPrompt = `You are an expert at explaining why specific Linux commands are relevant to a user's problem.

Given a user query and a selected command, explain in one sentence why it was chosen and what information it provides.

Format: Return ONLY valid JSON with no markdown or explanation:
{"explanation": "Brief one-sentence explanation of why this command was chosen"}`

const edgeSystemPrompt = `You are an expert at explaining data flow in command pipelines.

Given two commands connected in a pipeline, explain why the second follows the first, what data is being passed, and what transformation occurs.

Format: Return ONLY valid JSON with no markdown:
{"reasoning": "One sentence explaining the data flow relationship"}`

const resultSystemPrompt = `You are an expert at interpreting Linux command output.

Given a command, its exit code, stdout, and stderr, generate a brief interpretation of what the result means and what it tells us about the system state.

Format: Return ONLY valid JSON:
{"interpretation": "One sentence summarizing the result's significance"}`

func selectionPrompt(query string, m index.Match) string {
	var b strings.Builder
	fmt.Fprintf(&b, "User query: %s\n\n", query)
	fmt.Fprintf(&b, "Selected entry: %s\n", m.Entry.Title)
	if len(m.Entry.Exec) > 0 {
		fmt.Fprintf(&b, "Command: %s\n", strings.Join(m.Entry.Exec, " "))
	}
	fmt.Fprintf(&b, "Similarity score: %.2f\n\n", m.Score)
	b.WriteString("Explain why this entry was selected for the query.")
	return b.String()
}

func edgePrompt(plan *planner.Plan, pe planner.PlanEdge) string {
	fromDesc, toDesc := pe.From, pe.To
	if n, ok := plan.Node(pe.From); ok {
		fromDesc = fmt.Sprintf("%s (%s)", n.ID, strings.Join(n.Argv, " "))
	}
	if n, ok := plan.Node(pe.To); ok {
		toDesc = fmt.Sprintf("%s (%s)", n.ID, strings.Join(n.Argv, " "))
	}

	flow := "execution ordering"
	if pe.Kind == planner.EdgeData {
		flow = "stdout -> stdin"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From command: %s\n", fromDesc)
	fmt.Fprintf(&b, "To command: %s\n", toDesc)
	fmt.Fprintf(&b, "Data flow: %s\n\n", flow)
	fmt.Fprintf(&b, "Explain why %s follows %s and what transformation occurs.", pe.To, pe.From)
	return b.String()
}

func resultPrompt(query string, n planner.PlanNode, res *dag.ExecutionResult) string {
	output := res.Stdout
	if output == "" {
		output = "(no output)"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "User query: %s\n\n", query)
	fmt.Fprintf(&b, "Command: %s\n", strings.Join(n.Argv, " "))
	fmt.Fprintf(&b, "Exit code: %d\n", res.ExitCode)
	fmt.Fprintf(&b, "Output: %s\n", truncateForPrompt(output, promptOutputCap))
	if res.Stderr != "" {
		fmt.Fprintf(&b, "Stderr: %s\n", truncateForPrompt(res.Stderr, promptOutputCap))
	}
	b.WriteString("\nInterpret what this result tells us about the system state.")
	return b.String()
}

func truncateForPrompt(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	return s[:maxBytes] + "\n[truncated]"
}
