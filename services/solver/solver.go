// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package solver composes the full pipeline behind one call: retrieve
// candidate commands, plan a DAG, execute it, and optionally annotate
// the outcome with reasoning text.
//
// The solver owns the mutable corpus state. Rebuild swaps the catalog,
// the index contents, and the planner together so an in-flight Solve
// sees either the old corpus or the new one, never a mix.
package solver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/Williwaw/services/catalog"
	"github.com/AleutianAI/Williwaw/services/dag"
	"github.com/AleutianAI/Williwaw/services/index"
	"github.com/AleutianAI/Williwaw/services/planner"
	"github.com/AleutianAI/Williwaw/services/reason"
)

var tracer = otel.Tracer("williwaw.solver")

const (
	// DefaultLimit is the retrieval result count when a request leaves
	// Limit unset.
	DefaultLimit = index.DefaultQueryLimit

	// DefaultMinScore is the similarity floor when a request leaves
	// MinScore unset. Negative MinScore disables the floor entirely.
	DefaultMinScore = 0.30
)

// ErrNotReady means Solve was called before the first successful Rebuild.
var ErrNotReady = errors.New("solver not ready: corpus has not been built")

// Options configures a Solver.
type Options struct {
	// CorpusPaths are the YAML files or directories Rebuild loads.
	// Empty means the built-in corpus.
	CorpusPaths []string

	// LoadOptions tunes corpus loading. Nil means defaults.
	LoadOptions *catalog.LoadOptions

	// Classifier refines intent classification through an LLM backend.
	// Nil keeps the deterministic keyword classifier only.
	Classifier *planner.Classifier

	// Reasoner produces annotations and remediation for requests that
	// ask for explanations. Nil disables reasoning entirely.
	Reasoner *reason.Engine

	// Runner executes plan nodes. Nil means a ProcessRunner spawning
	// real subprocesses.
	Runner dag.Runner
}

// Request is one query to solve.
type Request struct {
	// Query is the natural-language query text.
	Query string `json:"query"`

	// Limit caps retrieval results. Values <= 0 use DefaultLimit.
	Limit int `json:"limit,omitempty"`

	// MinScore is the retrieval similarity floor. Zero uses
	// DefaultMinScore; negative values disable the floor.
	MinScore float64 `json:"min_score,omitempty"`

	// Explain asks the reasoning layer to annotate the trace. Ignored
	// when the solver has no reasoner.
	Explain bool `json:"explain,omitempty"`

	// Workers caps concurrent node execution. Values <= 0 use the
	// executor default.
	Workers int `json:"workers,omitempty"`

	// NodeTimeout bounds each node's runtime. Zero uses the executor
	// default.
	NodeTimeout time.Duration `json:"node_timeout,omitempty"`

	// PlanOnly stops the pipeline after planning. No subprocess runs.
	PlanOnly bool `json:"plan_only,omitempty"`

	// Confirm, when set, is consulted after planning and before any node
	// runs. Returning a non-nil error aborts the run with zero
	// subprocesses spawned and a CANCELLED trace. Interactive callers
	// use this to show the exact plan and ask before executing it.
	Confirm func(*planner.Plan) error `json:"-"`

	// OnEvent receives executor progress events. May be nil. Called
	// sequentially from the scheduling goroutine; must not block.
	OnEvent func(dag.Event) `json:"-"`
}

// Solver runs queries end to end.
//
// # Thread Safety
//
// Solve is safe for concurrent use. Rebuild may run concurrently with
// Solve; each Solve captures a consistent corpus snapshot at entry.
type Solver struct {
	mu      sync.RWMutex
	catalog *catalog.Catalog
	planner *planner.Planner

	searcher    index.Searcher
	runner      dag.Runner
	reasoner    *reason.Engine
	classifier  *planner.Classifier
	corpusPaths []string
	loadOpts    *catalog.LoadOptions
	logger      *slog.Logger
}

// New builds a Solver around a searcher.
//
// Description:
//
//	The returned solver has no corpus yet: call Rebuild once before the
//	first Solve. Construction never touches the filesystem or any
//	backend, so it is safe in init paths.
//
// Inputs:
//
//	searcher - Retrieval backend. Must be non-nil.
//	opts - Optional collaborators and corpus sources.
//	logger - Structured logger. Nil uses slog.Default().
//
// Outputs:
//
//	*Solver - Ready for Rebuild.
//	error - If searcher is nil.
func New(searcher index.Searcher, opts Options, logger *slog.Logger) (*Solver, error) {
	if searcher == nil {
		return nil, errors.New("solver: searcher must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	runner := opts.Runner
	if runner == nil {
		runner = dag.NewProcessRunner(logger)
	}
	return &Solver{
		searcher:    searcher,
		runner:      runner,
		reasoner:    opts.Reasoner,
		classifier:  opts.Classifier,
		corpusPaths: opts.CorpusPaths,
		loadOpts:    opts.LoadOptions,
		logger:      logger,
	}, nil
}

// Rebuild reloads the corpus and rebuilds the retrieval index.
//
// Description:
//
//	Loads entries from the configured corpus paths (or the built-in
//	corpus when none are configured), embeds them into the index, and
//	swaps the catalog and planner atomically. On any error the previous
//	corpus stays live, so a failed reload of an edited YAML file never
//	takes working state down with it.
//
// This is the corpus watcher's callback target.
func (s *Solver) Rebuild(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := tracer.Start(ctx, "solver.Rebuild")
	defer span.End()

	var (
		cat *catalog.Catalog
		err error
	)
	if len(s.corpusPaths) > 0 {
		cat, err = catalog.Load(s.corpusPaths, s.loadOpts)
	} else {
		cat, err = catalog.New(catalog.BuiltinEntries())
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "corpus load failed")
		return fmt.Errorf("corpus load failed: %w", err)
	}

	if err := s.searcher.Build(ctx, cat.Entries()); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "index build failed")
		return fmt.Errorf("index build failed: %w", err)
	}

	pl, err := planner.New(cat, s.classifier, s.logger)
	if err != nil {
		span.RecordError(err)
		return err
	}

	s.mu.Lock()
	s.catalog = cat
	s.planner = pl
	s.mu.Unlock()

	span.SetAttributes(attribute.Int("entries", cat.Len()))
	s.logger.Info("corpus rebuilt",
		slog.Int("entries", cat.Len()),
		slog.Int("paths", len(s.corpusPaths)))
	return nil
}

// Ready reports whether a corpus has been built.
func (s *Solver) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.catalog != nil && s.planner != nil
}

// Stats reports retrieval corpus statistics.
func (s *Solver) Stats() index.Stats {
	return s.searcher.Stats()
}

// Catalog returns the live catalog, nil before the first Rebuild.
func (s *Solver) Catalog() *catalog.Catalog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.catalog
}

// Solve runs one query through the full pipeline.
//
// Description:
//
//	Retrieval, planning, execution, reasoning, in that order. A query
//	rejected before execution (nothing retrieved, or a cyclic plan)
//	returns a trace with Status REJECTED together with the *TraceError
//	describing the rejection; zero subprocesses are spawned in that
//	case. An executed query returns (trace, nil) whatever the node
//	outcomes were, including caller cancellation: those are statuses on
//	the trace, not errors.
//
// Inputs:
//
//	ctx - Cancels retrieval, execution, and reasoning. Nil uses
//	      context.Background().
//	req - The query plus tuning knobs.
//
// Outputs:
//
//	*ExecutionTrace - The accumulated trace. Non-nil for rejections.
//	error - *TraceError for rejections, infrastructure errors
//	        otherwise, nil on any executed run.
func (s *Solver) Solve(ctx context.Context, req Request) (*ExecutionTrace, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, planner.ErrEmptyQuery
	}

	s.mu.RLock()
	pl := s.planner
	s.mu.RUnlock()
	if pl == nil {
		return nil, ErrNotReady
	}

	limit := req.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	minScore := req.MinScore
	switch {
	case minScore == 0:
		minScore = DefaultMinScore
	case minScore < 0:
		minScore = 0
	}

	ctx, span := tracer.Start(ctx, "solver.Solve")
	defer span.End()
	span.SetAttributes(
		attribute.Int("query.length", len(query)),
		attribute.Int("limit", limit),
		attribute.Float64("min_score", minScore),
		attribute.Bool("plan_only", req.PlanOnly),
	)

	trace := &ExecutionTrace{
		Query:     query,
		StartedAt: time.Now(),
	}

	matches, err := s.searcher.Query(ctx, query, limit, minScore)
	if err != nil {
		if errors.Is(err, index.ErrRetrievalEmpty) {
			return s.reject(span, trace, CodeRetrievalEmpty, err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "retrieval failed")
		return nil, fmt.Errorf("retrieval failed: %w", err)
	}
	trace.Retrieved = matches

	hyps, err := pl.GenerateHypotheses(ctx, query, matches)
	if err != nil {
		if errors.Is(err, planner.ErrNoHypotheses) {
			// Retrieval found entries but none are executable, which
			// is indistinguishable from an empty retrieval to the
			// caller.
			return s.reject(span, trace, CodeRetrievalEmpty, err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "planning failed")
		return nil, fmt.Errorf("planning failed: %w", err)
	}
	chosen := hyps[0]
	trace.HypothesisID = chosen.ID
	trace.Intent = chosen.Intent
	span.SetAttributes(
		attribute.String("hypothesis", chosen.ID),
		attribute.String("intent", chosen.Intent.Verb),
	)

	plan, err := pl.Materialize(chosen)
	if err != nil {
		if errors.Is(err, planner.ErrPlanCycle) {
			return s.reject(span, trace, CodePlanCycle, err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "materialization failed")
		return nil, fmt.Errorf("materialization failed: %w", err)
	}
	trace.Plan = plan

	if req.PlanOnly {
		trace.Status = TraceCompleted
		trace.FinishedAt = time.Now()
		span.SetAttributes(attribute.String("status", string(trace.Status)))
		s.logger.Info("plan generated",
			slog.String("hypothesis", chosen.ID),
			slog.Int("nodes", len(plan.Nodes)))
		return trace, nil
	}

	if req.Confirm != nil {
		if err := req.Confirm(plan); err != nil {
			trace.Status = TraceCancelled
			trace.FinishedAt = time.Now()
			span.SetAttributes(attribute.String("status", string(trace.Status)))
			s.logger.Info("run declined before execution",
				slog.String("hypothesis", chosen.ID),
				slog.String("reason", err.Error()))
			return trace, nil
		}
	}

	g, err := dag.NewGraph(plan)
	if err != nil {
		if errors.Is(err, planner.ErrPlanCycle) {
			return s.reject(span, trace, CodePlanCycle, err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "graph construction failed")
		return nil, fmt.Errorf("graph construction failed: %w", err)
	}

	exec, err := dag.NewExecutor(s.runner, dag.ExecutorConfig{
		Workers:     req.Workers,
		NodeTimeout: req.NodeTimeout,
		OnEvent:     req.OnEvent,
	}, s.logger)
	if err != nil {
		return nil, err
	}

	run, err := exec.Run(ctx, g)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "execution failed")
		return nil, fmt.Errorf("execution failed: %w", err)
	}
	trace.RunID = run.RunID
	trace.Results = run.Results
	trace.Status = traceStatusFor(run.Status)

	if req.Explain && s.reasoner != nil && run.Status != dag.RunCancelled {
		trace.Annotations = s.reasoner.Explain(ctx, reason.Request{
			Query:   query,
			Matches: matches,
			Plan:    plan,
			Results: run.Results,
		})
		s.maybeRemediate(ctx, trace)
	}

	trace.FinishedAt = time.Now()
	span.SetAttributes(attribute.String("status", string(trace.Status)))
	s.logger.Info("query solved",
		slog.String("run_id", trace.RunID),
		slog.String("status", string(trace.Status)),
		slog.Int("nodes", len(plan.Nodes)),
		slog.Duration("duration", trace.Duration()))
	return trace, nil
}

// reject finalizes a trace the pipeline refused before execution.
func (s *Solver) reject(span oteltrace.Span, trace *ExecutionTrace, code ErrorCode, cause error) (*ExecutionTrace, error) {
	terr := NewTraceError(code, cause)
	trace.Status = TraceRejected
	trace.Error = terr
	trace.FinishedAt = time.Now()
	span.SetAttributes(
		attribute.String("status", string(TraceRejected)),
		attribute.String("rejection", string(code)),
	)
	span.SetStatus(codes.Error, string(code))
	s.logger.Warn("query rejected",
		slog.String("code", string(code)),
		slog.String("reason", terr.Message))
	return trace, terr
}

// maybeRemediate attaches remediation suggestions to a diagnose trace.
//
// Remediation needs diagnostic output to reason over, so it only runs
// when the intent is diagnose and at least one node produced stdout.
// A failed remediation call degrades to a trace without suggestions.
func (s *Solver) maybeRemediate(ctx context.Context, trace *ExecutionTrace) {
	if trace.Intent.Verb != planner.IntentDiagnose {
		return
	}
	output := combinedOutput(trace.Plan, trace.Results)
	if output == "" {
		return
	}
	rem, err := s.reasoner.SuggestRemediation(ctx, trace.Query, output)
	if err != nil {
		s.logger.Debug("remediation unavailable", slog.String("error", err.Error()))
		return
	}
	trace.Remediation = rem
}

// combinedOutput concatenates successful node stdout in plan order.
func combinedOutput(plan *planner.Plan, results map[string]*dag.ExecutionResult) string {
	var b strings.Builder
	for _, n := range plan.Nodes {
		res := results[n.ID]
		if res == nil || res.Status != dag.StatusSuccess || res.Stdout == "" {
			continue
		}
		fmt.Fprintf(&b, "$ %s\n%s\n", strings.Join(n.Argv, " "), res.Stdout)
	}
	return b.String()
}
