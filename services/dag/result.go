// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dag

import "time"

// RunStatus is the aggregate outcome of one run.
type RunStatus string

const (
	// RunCompleted means every attempted node succeeded.
	RunCompleted RunStatus = "COMPLETED"

	// RunCompletedWithFailures means at least one node failed or timed
	// out. Independent subgraphs still ran to their own completion.
	RunCompletedWithFailures RunStatus = "COMPLETED_WITH_FAILURES"

	// RunCancelled means the caller cancelled the run before it finished.
	RunCancelled RunStatus = "CANCELLED"
)

// ExecutionResult is the terminal record of one node.
//
// Every node in the graph has exactly one ExecutionResult after a run
// completes or is cancelled, including nodes that never started.
type ExecutionResult struct {
	// NodeID is the plan node this result belongs to.
	NodeID string `json:"node_id"`

	// Status is the node's terminal status.
	Status Status `json:"status"`

	// ExitCode is the process exit code. -1 when no exit code exists:
	// the node never ran, timed out, or was cancelled.
	ExitCode int `json:"exit_code"`

	// Stdout is the captured standard output. Empty for nodes that never
	// ran and for cancelled nodes, whose partial output is discarded.
	Stdout string `json:"stdout"`

	// Stderr is the captured standard error. Timed-out nodes carry a
	// synthesized timeout message here.
	Stderr string `json:"stderr"`

	// StartedAt is when the process was spawned. Zero if it never was.
	StartedAt time.Time `json:"started_at,omitempty"`

	// EndedAt is when the node reached its terminal status.
	EndedAt time.Time `json:"ended_at,omitempty"`

	// SkipReason is the ID of the failed or timed-out ancestor that
	// caused this node to be skipped. Empty unless Status is SKIPPED.
	SkipReason string `json:"skip_reason,omitempty"`
}

// Duration returns the node's wall-clock runtime, zero if it never ran.
func (r *ExecutionResult) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.EndedAt.IsZero() {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}

// RunResult aggregates one run over a graph.
type RunResult struct {
	// RunID uniquely identifies this run.
	RunID string `json:"run_id"`

	// Status is the aggregate outcome.
	Status RunStatus `json:"status"`

	// Results holds exactly one terminal result per graph node, keyed by
	// node ID.
	Results map[string]*ExecutionResult `json:"results"`

	// StartedAt is when the run began.
	StartedAt time.Time `json:"started_at"`

	// EndedAt is when the last node reached a terminal state.
	EndedAt time.Time `json:"ended_at"`
}

// Duration returns the run's wall-clock time.
func (r *RunResult) Duration() time.Duration {
	return r.EndedAt.Sub(r.StartedAt)
}

// Result returns the terminal result for a node.
func (r *RunResult) Result(nodeID string) (*ExecutionResult, bool) {
	res, ok := r.Results[nodeID]
	return res, ok
}

// CountByStatus tallies node results per terminal status.
func (r *RunResult) CountByStatus() map[Status]int {
	counts := make(map[Status]int, len(r.Results))
	for _, res := range r.Results {
		counts[res.Status]++
	}
	return counts
}

// EventKind classifies executor events.
type EventKind string

const (
	// EventNodeStarted fires when a worker spawns a node's process.
	EventNodeStarted EventKind = "node_started"

	// EventNodeFinished fires when a node reaches any terminal status,
	// including SKIPPED and CANCELLED nodes that never ran.
	EventNodeFinished EventKind = "node_finished"
)

// Event is a progress notification from the executor.
//
// Events are delivered sequentially from the scheduling goroutine, in the
// order state changes are recorded. Handlers must not block; a slow handler
// stalls scheduling.
type Event struct {
	// RunID identifies the run the event belongs to.
	RunID string `json:"run_id"`

	// Kind is the event type.
	Kind EventKind `json:"kind"`

	// NodeID is the node the event concerns.
	NodeID string `json:"node_id"`

	// Status is the node's status at emission time.
	Status Status `json:"status"`

	// Result is the node's terminal result. Nil for EventNodeStarted.
	Result *ExecutionResult `json:"result,omitempty"`

	// Timestamp is when the event was recorded.
	Timestamp time.Time `json:"timestamp"`
}
