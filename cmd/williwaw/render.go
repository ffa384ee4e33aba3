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
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/AleutianAI/Williwaw/pkg/ux"
	"github.com/AleutianAI/Williwaw/services/dag"
	"github.com/AleutianAI/Williwaw/services/index"
	"github.com/AleutianAI/Williwaw/services/planner"
	"github.com/AleutianAI/Williwaw/services/reason"
	"github.com/AleutianAI/Williwaw/services/solver"
)

// previewLines caps how many stdout lines a node preview shows before
// eliding the rest. The full output is always in the JSON trace.
const previewLines = 8

// renderTrace writes the human-readable result of one solved query to
// stdout. JSON output bypasses this entirely. showPlan suppresses the
// plan section when the caller already previewed it before execution.
func renderTrace(trace *solver.ExecutionTrace, explain, showPlan bool) {
	if trace.Rejected() {
		renderRejection(trace)
		return
	}

	ux.Info(fmt.Sprintf("Intent: %s %s (confidence %.2f)",
		trace.Intent.Verb, trace.Intent.Domain, trace.Intent.Confidence))
	renderMatches(trace.Retrieved)

	if showPlan && trace.Plan != nil {
		fmt.Println()
		renderPlan(trace.Plan)
	}

	if len(trace.Results) > 0 {
		fmt.Println()
		renderResults(trace)
	}

	if explain {
		renderReasoning(trace)
	}

	fmt.Println()
	elapsed := trace.Duration().Round(time.Millisecond)
	switch trace.Status {
	case solver.TraceCompleted:
		ux.Success(fmt.Sprintf("completed in %s", elapsed))
	case solver.TraceCompletedWithFailures:
		ux.Warning(fmt.Sprintf("completed with failures in %s", elapsed))
	case solver.TraceCancelled:
		ux.Error(fmt.Sprintf("cancelled after %s", elapsed))
	}
}

// renderRejection explains why the pipeline refused a query before any
// command ran.
func renderRejection(trace *solver.ExecutionTrace) {
	code := string(solver.TraceRejected)
	msg := "query rejected"
	if trace.Error != nil {
		code = string(trace.Error.Code)
		msg = trace.Error.Message
	}
	ux.Error(fmt.Sprintf("%s: %s", code, msg))
	if trace.Error != nil && trace.Error.Code == solver.CodeRetrievalEmpty {
		ux.Muted("Try rephrasing the query, lowering --min-score, or adding corpus entries.")
	}
}

// renderMatches prints the ranked corpus matches, highest score first.
func renderMatches(matches []index.Match) {
	if len(matches) == 0 {
		return
	}
	ux.Info(fmt.Sprintf("Matched %d corpus entries", len(matches)))
	for i, m := range matches {
		fmt.Printf("  %d. [%.2f] %s  %s\n", i+1, m.Score, m.Entry.ID, m.Entry.Title)
	}
}

// renderPlan prints the plan nodes and their declared dependencies.
func renderPlan(plan *planner.Plan) {
	ux.Info(fmt.Sprintf("Plan: %d nodes (%s %s)", len(plan.Nodes), plan.Intent, plan.Domain))
	for _, n := range plan.Nodes {
		marker := ""
		if !n.Constraints.ReadOnly {
			marker = "  [writes]"
		}
		fmt.Printf("  %s %s: %s%s\n", ux.IconArrow, n.ID, strings.Join(n.Argv, " "), marker)
	}
	for _, e := range plan.Edges {
		ux.Muted(fmt.Sprintf("      %s -> %s (%s)", e.From, e.To, e.Kind))
	}
}

// renderResults prints one status line per node in plan order, output
// previews, and the run summary.
func renderResults(trace *solver.ExecutionTrace) {
	machine := ux.GetPersonality().Level == ux.PersonalityMachine
	var succeeded, failed, skipped int
	for _, n := range trace.Plan.Nodes {
		res, ok := trace.Result(n.ID)
		if !ok {
			continue
		}
		detail := ""
		switch res.Status {
		case dag.StatusSuccess:
			succeeded++
			detail = res.Duration().Round(time.Millisecond).String()
		case dag.StatusFailure:
			failed++
			detail = fmt.Sprintf("exit %d after %s", res.ExitCode, res.Duration().Round(time.Millisecond))
		case dag.StatusTimeout:
			failed++
			detail = fmt.Sprintf("timed out after %s", res.Duration().Round(time.Millisecond))
		case dag.StatusSkipped, dag.StatusCancelled:
			skipped++
			detail = res.SkipReason
		}
		ux.NodeStatus(n.ID, statusIcon(res.Status), detail)
		// Machine consumers read payloads from -o json, not previews.
		if !machine {
			renderOutputPreview(res)
		}
	}
	ux.Summary(succeeded, failed, skipped)
}

// renderOutputPreview prints a node's captured output, stdout for
// successes and the stderr tail for failures.
func renderOutputPreview(res *dag.ExecutionResult) {
	switch res.Status {
	case dag.StatusSuccess:
		printIndented(res.Stdout)
	case dag.StatusFailure, dag.StatusTimeout:
		printIndented(res.Stderr)
	}
}

func printIndented(text string) {
	text = strings.TrimRight(text, "\n")
	if text == "" {
		return
	}
	lines := strings.Split(text, "\n")
	shown := lines
	if len(lines) > previewLines {
		shown = lines[:previewLines]
	}
	for _, line := range shown {
		ux.Muted("      " + line)
	}
	if len(lines) > previewLines {
		ux.Muted(fmt.Sprintf("      ... %d more lines", len(lines)-previewLines))
	}
}

// renderReasoning prints annotations and remediation when the reasoning
// layer produced them.
func renderReasoning(trace *solver.ExecutionTrace) {
	if len(trace.Annotations) > 0 {
		fmt.Println()
		ux.Title("Annotations")
		for _, a := range trace.Annotations {
			fmt.Printf("  %s %s: %s\n", ux.IconBullet, targetLabel(a.Target), a.Text)
		}
	}
	if trace.Remediation != nil {
		fmt.Println()
		ux.Box("Diagnosis", trace.Remediation.Diagnosis)
		for _, s := range trace.Remediation.Suggestions {
			marker := ""
			if !s.ReadOnly {
				marker = "  [writes]"
			}
			fmt.Printf("  %s %s%s\n", ux.IconArrow, s.Command, marker)
			ux.Muted("      " + s.Description)
		}
	}
}

// targetLabel renders an annotation target as a short prefix.
func targetLabel(t reason.Target) string {
	if t.Kind == reason.TargetEdge {
		return fmt.Sprintf("%s %s->%s", t.Kind, t.From, t.To)
	}
	return fmt.Sprintf("%s %s", t.Kind, t.ID)
}

// statusIcon maps a node's terminal status onto a display icon.
func statusIcon(st dag.Status) ux.Icon {
	switch st {
	case dag.StatusSuccess:
		return ux.IconSuccess
	case dag.StatusFailure:
		return ux.IconError
	case dag.StatusTimeout:
		return ux.IconWarning
	case dag.StatusSkipped:
		return ux.IconSkipped
	default:
		return ux.IconPending
	}
}

// writeTraceFile writes the indented JSON trace to path for later
// inspection or replay.
func writeTraceFile(path string, trace *solver.ExecutionTrace) error {
	data, err := json.MarshalIndent(trace, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding trace: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing trace file: %w", err)
	}
	return nil
}
