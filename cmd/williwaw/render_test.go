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
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/AleutianAI/Williwaw/pkg/ux"
	"github.com/AleutianAI/Williwaw/services/catalog"
	"github.com/AleutianAI/Williwaw/services/dag"
	"github.com/AleutianAI/Williwaw/services/index"
	"github.com/AleutianAI/Williwaw/services/planner"
	"github.com/AleutianAI/Williwaw/services/reason"
	"github.com/AleutianAI/Williwaw/services/solver"
)

// withUXLevel forces a personality level for one test and restores the
// previous settings afterwards.
func withUXLevel(t *testing.T, level ux.PersonalityLevel) {
	t.Helper()
	prev := ux.GetPersonality()
	ux.SetPersonalityLevel(level)
	t.Cleanup(func() { ux.SetPersonality(prev) })
}

// captureStreams runs f with both stdout and stderr piped to buffers.
func captureStreams(t *testing.T, f func()) (stdout, stderr string) {
	t.Helper()
	oldStdout, oldStderr := os.Stdout, os.Stderr
	outR, outW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	os.Stdout, os.Stderr = outW, errW

	f()

	outW.Close()
	errW.Close()
	os.Stdout, os.Stderr = oldStdout, oldStderr
	var outBuf, errBuf bytes.Buffer
	io.Copy(&outBuf, outR)
	io.Copy(&errBuf, errR)
	return outBuf.String(), errBuf.String()
}

// completedTrace builds a two-node trace where both nodes succeeded.
func completedTrace() *solver.ExecutionTrace {
	now := time.Now()
	return &solver.ExecutionTrace{
		RunID: "run-1",
		Query: "why is my audio so quiet",
		Intent: planner.Intent{
			Verb:       "diagnose",
			Domain:     "audio/headphone_volume",
			Confidence: 0.90,
			Source:     "rules",
		},
		Retrieved: []index.Match{
			{Entry: catalog.Entry{ID: "pactl-sink-volume", Title: "Show sink volume", Kind: catalog.KindCommand}, Score: 0.91},
			{Entry: catalog.Entry{ID: "pactl-sink-mute", Title: "Show sink mute state", Kind: catalog.KindCommand}, Score: 0.84},
		},
		HypothesisID: "audio-low-volume",
		Plan: &planner.Plan{
			Version: "1",
			Query:   "why is my audio so quiet",
			Intent:  "diagnose",
			Domain:  "audio/headphone_volume",
			Nodes: []planner.PlanNode{
				{ID: "check-volume", Argv: []string{"pactl", "get-sink-volume", "@DEFAULT_SINK@"}, Constraints: planner.Constraints{ReadOnly: true}},
				{ID: "check-mute", Argv: []string{"pactl", "get-sink-mute", "@DEFAULT_SINK@"}, Constraints: planner.Constraints{ReadOnly: true}},
			},
			Edges: []planner.PlanEdge{
				{From: "check-volume", To: "check-mute", Kind: planner.EdgeOrdering},
			},
		},
		Results: map[string]*dag.ExecutionResult{
			"check-volume": {NodeID: "check-volume", Status: dag.StatusSuccess, ExitCode: 0,
				Stdout: "SINK_VOLUME=20%", StartedAt: now.Add(-80 * time.Millisecond), EndedAt: now.Add(-40 * time.Millisecond)},
			"check-mute": {NodeID: "check-mute", Status: dag.StatusSuccess, ExitCode: 0,
				Stdout: "SINK_MUTE=no", StartedAt: now.Add(-40 * time.Millisecond), EndedAt: now},
		},
		Status:     solver.TraceCompleted,
		StartedAt:  now.Add(-120 * time.Millisecond),
		FinishedAt: now,
	}
}

func TestRenderTrace_Completed(t *testing.T) {
	withUXLevel(t, ux.PersonalityMinimal)
	trace := completedTrace()

	stdout, _ := captureStreams(t, func() {
		renderTrace(trace, false, false)
	})

	wantContains := []string{
		"Intent: diagnose audio/headphone_volume (confidence 0.90)",
		"Matched 2 corpus entries",
		"1. [0.91] pactl-sink-volume",
		"check-volume",
		"check-mute",
		"SINK_VOLUME=20%",
		"completed in",
	}
	for _, want := range wantContains {
		if !strings.Contains(stdout, want) {
			t.Errorf("Output missing %q\noutput:\n%s", want, stdout)
		}
	}
	if strings.Contains(stdout, "Plan: 2 nodes") {
		t.Errorf("Plan section rendered despite showPlan=false:\n%s", stdout)
	}
}

func TestRenderTrace_ShowPlan(t *testing.T) {
	withUXLevel(t, ux.PersonalityMinimal)
	trace := completedTrace()

	stdout, _ := captureStreams(t, func() {
		renderTrace(trace, false, true)
	})

	if !strings.Contains(stdout, "Plan: 2 nodes (diagnose audio/headphone_volume)") {
		t.Errorf("Plan header missing:\n%s", stdout)
	}
	if !strings.Contains(stdout, "pactl get-sink-volume @DEFAULT_SINK@") {
		t.Errorf("Plan node argv missing:\n%s", stdout)
	}
	if !strings.Contains(stdout, "check-volume -> check-mute (ORDERING)") {
		t.Errorf("Plan edge missing:\n%s", stdout)
	}
}

func TestRenderTrace_MachineSkipsPreviews(t *testing.T) {
	withUXLevel(t, ux.PersonalityMachine)
	trace := completedTrace()
	trace.Status = solver.TraceCompletedWithFailures
	trace.Results["check-mute"] = &dag.ExecutionResult{
		NodeID: "check-mute", Status: dag.StatusFailure, ExitCode: 1,
		Stderr:    "FAILURE_DETAIL=sink gone",
		StartedAt: time.Now().Add(-30 * time.Millisecond), EndedAt: time.Now(),
	}

	stdout, stderr := captureStreams(t, func() {
		renderTrace(trace, false, false)
	})

	if !strings.Contains(stdout, "NODE:") {
		t.Errorf("Machine output missing NODE lines:\n%s", stdout)
	}
	if !strings.Contains(stdout, "SUMMARY: succeeded=1 failed=1 skipped=0 total=2") {
		t.Errorf("Machine summary missing:\n%s", stdout)
	}
	if strings.Contains(stdout, "SINK_VOLUME=20%") || strings.Contains(stdout, "FAILURE_DETAIL") {
		t.Errorf("Machine output should not include previews:\n%s", stdout)
	}
	if !strings.Contains(stderr, "WARN: completed with failures") {
		t.Errorf("Failure status missing from stderr:\n%s", stderr)
	}
}

func TestRenderTrace_Rejected(t *testing.T) {
	trace := &solver.ExecutionTrace{
		Query:  "gibberish query",
		Status: solver.TraceRejected,
		Error:  solver.NewTraceError(solver.CodeRetrievalEmpty, errors.New("no corpus entry scored above 0.30")),
	}

	t.Run("minimal", func(t *testing.T) {
		withUXLevel(t, ux.PersonalityMinimal)
		stdout, _ := captureStreams(t, func() {
			renderTrace(trace, false, false)
		})
		if !strings.Contains(stdout, "RETRIEVAL_EMPTY: no corpus entry scored above 0.30") {
			t.Errorf("Rejection line missing:\n%s", stdout)
		}
		if !strings.Contains(stdout, "lowering --min-score") {
			t.Errorf("Recovery hint missing:\n%s", stdout)
		}
	})

	t.Run("machine", func(t *testing.T) {
		withUXLevel(t, ux.PersonalityMachine)
		stdout, stderr := captureStreams(t, func() {
			renderTrace(trace, false, false)
		})
		if !strings.Contains(stderr, "ERROR: RETRIEVAL_EMPTY") {
			t.Errorf("Rejection missing from stderr:\n%s", stderr)
		}
		if stdout != "" {
			t.Errorf("Machine rejection should keep stdout empty, got:\n%s", stdout)
		}
	})
}

func TestRenderTrace_ExplainShowsReasoning(t *testing.T) {
	withUXLevel(t, ux.PersonalityMinimal)
	trace := completedTrace()
	trace.Annotations = reason.Annotations{
		{Target: reason.Target{Kind: reason.TargetResult, ID: "check-volume"}, Text: "volume is at 20 percent, well below audible range"},
		{Target: reason.Target{Kind: reason.TargetEdge, From: "check-volume", To: "check-mute"}, Text: "mute state only matters once volume is known"},
	}
	trace.Remediation = &reason.Remediation{
		Diagnosis: "the default sink volume is set very low",
		Suggestions: []reason.Suggestion{
			{Command: "pactl set-sink-volume @DEFAULT_SINK@ 65%", Description: "raise the default sink volume", ReadOnly: false},
		},
	}

	stdout, _ := captureStreams(t, func() {
		renderTrace(trace, true, false)
	})

	wantContains := []string{
		"result check-volume",
		"volume is at 20 percent",
		"edge check-volume->check-mute",
		"the default sink volume is set very low",
		"pactl set-sink-volume @DEFAULT_SINK@ 65%",
	}
	for _, want := range wantContains {
		if !strings.Contains(stdout, want) {
			t.Errorf("Reasoning output missing %q\noutput:\n%s", want, stdout)
		}
	}
}

func TestStatusIcon(t *testing.T) {
	tests := []struct {
		status dag.Status
		want   ux.Icon
	}{
		{dag.StatusSuccess, ux.IconSuccess},
		{dag.StatusFailure, ux.IconError},
		{dag.StatusTimeout, ux.IconWarning},
		{dag.StatusSkipped, ux.IconSkipped},
		{dag.StatusCancelled, ux.IconPending},
	}
	for _, tt := range tests {
		if got := statusIcon(tt.status); got != tt.want {
			t.Errorf("statusIcon(%s) = %s, want %s", tt.status, got, tt.want)
		}
	}
}

func TestTargetLabel(t *testing.T) {
	tests := []struct {
		name   string
		target reason.Target
		want   string
	}{
		{"selection", reason.Target{Kind: reason.TargetSelection, ID: "pactl-sink-volume"}, "selection pactl-sink-volume"},
		{"result", reason.Target{Kind: reason.TargetResult, ID: "check-volume"}, "result check-volume"},
		{"edge", reason.Target{Kind: reason.TargetEdge, From: "a", To: "b"}, "edge a->b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := targetLabel(tt.target); got != tt.want {
				t.Errorf("targetLabel = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPrintIndented_Truncation(t *testing.T) {
	withUXLevel(t, ux.PersonalityMinimal)
	text := strings.Repeat("line\n", previewLines+2)

	stdout, _ := captureStreams(t, func() {
		printIndented(text)
	})

	if !strings.Contains(stdout, "... 2 more lines") {
		t.Errorf("Truncation marker missing:\n%s", stdout)
	}
}

func TestWriteTraceFile(t *testing.T) {
	trace := completedTrace()
	path := filepath.Join(t.TempDir(), "trace.json")

	if err := writeTraceFile(path, trace); err != nil {
		t.Fatalf("writeTraceFile: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.HasSuffix(data, []byte("\n")) {
		t.Error("Trace file should end with a newline")
	}

	var decoded solver.ExecutionTrace
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Trace file is not valid JSON: %v", err)
	}
	if decoded.Query != trace.Query {
		t.Errorf("Query = %q, want %q", decoded.Query, trace.Query)
	}
	if decoded.Status != solver.TraceCompleted {
		t.Errorf("Status = %s, want %s", decoded.Status, solver.TraceCompleted)
	}
}
