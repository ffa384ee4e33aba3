// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package solver

import (
	"fmt"
	"time"

	"github.com/AleutianAI/Williwaw/services/dag"
	"github.com/AleutianAI/Williwaw/services/index"
	"github.com/AleutianAI/Williwaw/services/planner"
	"github.com/AleutianAI/Williwaw/services/reason"
)

// TraceStatus is the overall outcome of one solved query.
type TraceStatus string

const (
	// TraceCompleted means every attempted node succeeded.
	TraceCompleted TraceStatus = "COMPLETED"

	// TraceCompletedWithFailures means at least one node failed or timed
	// out while independent subgraphs ran to completion.
	TraceCompletedWithFailures TraceStatus = "COMPLETED_WITH_FAILURES"

	// TraceCancelled means the caller cancelled the run mid-flight.
	TraceCancelled TraceStatus = "CANCELLED"

	// TraceRejected means the pipeline refused the query before any
	// subprocess was spawned. The trace's Error field says why.
	TraceRejected TraceStatus = "REJECTED"
)

// traceStatusFor maps an aggregate run outcome onto a trace status.
func traceStatusFor(rs dag.RunStatus) TraceStatus {
	switch rs {
	case dag.RunCompleted:
		return TraceCompleted
	case dag.RunCompletedWithFailures:
		return TraceCompletedWithFailures
	case dag.RunCancelled:
		return TraceCancelled
	default:
		return TraceStatus(rs)
	}
}

// ErrorCode classifies a pre-execution rejection.
type ErrorCode string

const (
	// CodeRetrievalEmpty means no corpus entry cleared the score floor.
	// Recoverable: broaden the query or lower the floor.
	CodeRetrievalEmpty ErrorCode = "RETRIEVAL_EMPTY"

	// CodePlanCycle means the materialized plan contained a dependency
	// cycle. Fatal for the query: zero subprocesses were spawned.
	CodePlanCycle ErrorCode = "PLAN_CYCLE"
)

// TraceError is the typed error attached to a REJECTED trace.
//
// It wraps the underlying sentinel so callers can keep using errors.Is
// against index.ErrRetrievalEmpty or planner.ErrPlanCycle while the
// serialized form carries a stable machine-readable code.
type TraceError struct {
	// Code is the stable rejection code.
	Code ErrorCode `json:"code"`

	// Message is a human-readable description of the rejection.
	Message string `json:"message"`

	err error
}

// Error implements the error interface.
func (e *TraceError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is and errors.As.
func (e *TraceError) Unwrap() error {
	return e.err
}

// NewTraceError builds a TraceError wrapping cause.
func NewTraceError(code ErrorCode, cause error) *TraceError {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return &TraceError{Code: code, Message: msg, err: cause}
}

// ExecutionTrace is the full record of one solved query.
//
// Description:
//
//	The trace accumulates as the pipeline advances: retrieval fills
//	Retrieved, planning fills HypothesisID and Plan, execution fills
//	RunID and Results, and reasoning fills Annotations and Remediation.
//	A rejected query stops accumulating at the stage that rejected it,
//	so every field after that stage holds its zero value.
//
// The trace is JSON-serializable end to end; it is the wire format of
// the HTTP gateway and the --output json rendering of the CLI.
type ExecutionTrace struct {
	// RunID identifies the executor run. Empty when no node ever ran.
	RunID string `json:"run_id,omitempty"`

	// Query is the trimmed query text.
	Query string `json:"query"`

	// Intent is the classified intent the plan was generated under.
	Intent planner.Intent `json:"intent"`

	// Retrieved holds the ranked corpus matches, highest score first.
	Retrieved []index.Match `json:"retrieved,omitempty"`

	// HypothesisID names the hypothesis the plan was materialized from.
	HypothesisID string `json:"hypothesis_id,omitempty"`

	// Plan is the materialized execution plan.
	Plan *planner.Plan `json:"plan,omitempty"`

	// Results holds one terminal result per plan node, keyed by node ID.
	Results map[string]*dag.ExecutionResult `json:"results,omitempty"`

	// Annotations are the reasoning texts, one per annotated target.
	Annotations reason.Annotations `json:"annotations,omitempty"`

	// Remediation carries suggested follow-up commands. Suggestions are
	// display-only; nothing in the pipeline executes them.
	Remediation *reason.Remediation `json:"remediation,omitempty"`

	// Status is the overall outcome.
	Status TraceStatus `json:"status"`

	// Error is set when Status is REJECTED.
	Error *TraceError `json:"error,omitempty"`

	// StartedAt is when Solve began.
	StartedAt time.Time `json:"started_at"`

	// FinishedAt is when Solve returned.
	FinishedAt time.Time `json:"finished_at"`
}

// Duration returns the trace's wall-clock time.
func (t *ExecutionTrace) Duration() time.Duration {
	return t.FinishedAt.Sub(t.StartedAt)
}

// Rejected reports whether the pipeline refused the query before
// execution.
func (t *ExecutionTrace) Rejected() bool {
	return t.Status == TraceRejected
}

// Result returns the terminal result for a node.
func (t *ExecutionTrace) Result(nodeID string) (*dag.ExecutionResult, bool) {
	res, ok := t.Results[nodeID]
	return res, ok
}
