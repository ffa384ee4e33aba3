// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/Williwaw/cmd/williwaw/config"
	"github.com/AleutianAI/Williwaw/pkg/ux"
	"github.com/AleutianAI/Williwaw/services/dag"
	"github.com/AleutianAI/Williwaw/services/planner"
	"github.com/AleutianAI/Williwaw/services/solver"
)

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

// runSolve executes the solve command.
//
// # Description
//
// Runs the full pipeline for one query: retrieval against the corpus
// index, hypothesis planning, DAG execution, and optional reasoning.
// The materialized plan is shown before anything runs; plans containing
// non-read-only commands additionally require confirmation unless --yes
// is set, and non-interactive runs refuse such plans outright.
//
// # Examples
//
//	williwaw solve "why is my audio so quiet"
//	williwaw solve --plan-only "check disk usage"
//	williwaw solve --explain -o json "is the swap full" > trace.json
//
// # Exit Codes
//
//	0 - Every executed node succeeded
//	1 - Query rejected, run declined or cancelled, or a node failed
//	2 - Pipeline error before a trace could be produced
func runSolve(cmd *cobra.Command, args []string) {
	os.Exit(solveMain(cmd, strings.Join(args, " ")))
}

func solveMain(cmd *cobra.Command, query string) int {
	jsonMode := solveOutput == "json"
	if solveOutput != "text" && solveOutput != "json" {
		fmt.Fprintf(os.Stderr, "Error: invalid --output %q, want text or json\n", solveOutput)
		return CLIExitError
	}

	req, err := buildSolveRequest(cmd, query)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return CLIExitError
	}

	deps, err := buildSolver("cli", jsonMode)
	if err != nil {
		OutputError(jsonMode, "Failed to initialize the solver", err)
		return CLIExitError
	}
	defer deps.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	spin := ux.NewSpinner("building corpus index").WithType(ux.SpinnerWave)
	spin.Start()
	if err := deps.Solver.Rebuild(ctx); err != nil {
		spin.Stop()
		OutputError(jsonMode, "Corpus build failed", err)
		return CLIExitError
	}
	spin.UpdateMessage("planning query")

	// The confirm hook fires once the exact plan is known and before any
	// node runs; the progress spinner it creates is driven by executor
	// events. Events only arrive after the hook returned, so the handoff
	// needs no locking.
	var prog *ux.ProgressSpinner
	planPreviewed := false
	req.Confirm = func(plan *planner.Plan) error {
		spin.Stop()
		if !jsonMode {
			renderPlan(plan)
			planPreviewed = true
		}
		if planWrites(plan) && !solveYes {
			if !ux.IsInteractive() {
				return errors.New("plan contains non-read-only commands, pass --yes to run it")
			}
			if !confirmProceed() {
				return errors.New("declined at the prompt")
			}
		}
		prog = ux.NewProgressSpinner("executing plan", len(plan.Nodes))
		prog.Start()
		return nil
	}
	req.OnEvent = func(e dag.Event) {
		if e.Kind == dag.EventNodeFinished && prog != nil {
			prog.Increment()
		}
	}

	trace, err := deps.Solver.Solve(ctx, req)
	if prog != nil {
		prog.Stop()
	}
	spin.Stop()

	if err != nil {
		var terr *solver.TraceError
		if errors.As(err, &terr) && trace != nil {
			// Rejections carry their code and message on the trace.
			return outputTrace(trace, jsonMode, !planPreviewed)
		}
		OutputError(jsonMode, "Solve failed", err)
		return CLIExitError
	}
	return outputTrace(trace, jsonMode, !planPreviewed)
}

// buildSolveRequest merges solve flags over config defaults. A flag the
// user set explicitly wins; otherwise the config file value applies.
func buildSolveRequest(cmd *cobra.Command, query string) (solver.Request, error) {
	cfg := config.Global.Solver

	limit := cfg.Limit
	if cmd.Flags().Changed("limit") {
		limit = solveLimit
	}
	minScore := cfg.MinScore
	if cmd.Flags().Changed("min-score") {
		minScore = solveMinScore
	}
	workers := cfg.Workers
	if cmd.Flags().Changed("workers") {
		workers = solveWorkers
	}

	var nodeTimeout time.Duration
	if solveTimeout != "" {
		parsed, err := time.ParseDuration(solveTimeout)
		if err != nil {
			return solver.Request{}, fmt.Errorf("invalid --timeout %q: %w", solveTimeout, err)
		}
		if parsed <= 0 {
			return solver.Request{}, fmt.Errorf("--timeout must be positive, got %s", parsed)
		}
		nodeTimeout = parsed
	} else if cfg.NodeTimeoutSeconds > 0 {
		nodeTimeout = time.Duration(cfg.NodeTimeoutSeconds) * time.Second
	}

	return solver.Request{
		Query:       query,
		Limit:       limit,
		MinScore:    minScore,
		Explain:     solveExplain,
		Workers:     workers,
		NodeTimeout: nodeTimeout,
		PlanOnly:    solvePlanOnly,
	}, nil
}

// planWrites reports whether any plan node is not read-only.
func planWrites(plan *planner.Plan) bool {
	for _, n := range plan.Nodes {
		if !n.Constraints.ReadOnly {
			return true
		}
	}
	return false
}

// confirmProceed asks on the terminal whether to run a plan that writes.
// The prompt goes to stderr so a redirected stdout stays clean.
func confirmProceed() bool {
	fmt.Fprint(os.Stderr, "This plan contains commands that modify the system. Proceed? (yes/no): ")
	reader := bufio.NewReader(os.Stdin)
	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(strings.ToLower(input))
	return input == "yes" || input == "y"
}

// outputTrace renders the finished trace and returns the exit code.
func outputTrace(trace *solver.ExecutionTrace, jsonMode, showPlan bool) int {
	if solveFormatFile != "" {
		if err := writeTraceFile(solveFormatFile, trace); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return CLIExitError
		}
	}
	if jsonMode {
		if err := OutputJSON(trace, false); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
			return CLIExitError
		}
	} else {
		renderTrace(trace, solveExplain, showPlan)
	}
	if trace.Status == solver.TraceCompleted {
		return CLIExitSuccess
	}
	return CLIExitFindings
}
