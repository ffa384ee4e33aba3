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

// Status is the state of one node in the execution state machine.
//
// Valid transitions:
//
//	PENDING -> READY              all dependencies reached a terminal state
//	PENDING -> SKIPPED            an ancestor failed or timed out
//	PENDING -> CANCELLED          run cancelled before the node became ready
//	READY   -> RUNNING            a worker picked the node up
//	READY   -> CANCELLED          run cancelled before the node started
//	RUNNING -> SUCCESS            exit code zero
//	RUNNING -> FAILURE            nonzero exit code
//	RUNNING -> TIMEOUT            per-node timeout elapsed
//	RUNNING -> CANCELLED          run cancelled while the node was running
//
// SKIPPED and CANCELLED are deliberately distinct: SKIPPED records that an
// ancestor failed, CANCELLED that the caller stopped the run.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusReady     Status = "READY"
	StatusRunning   Status = "RUNNING"
	StatusSuccess   Status = "SUCCESS"
	StatusFailure   Status = "FAILURE"
	StatusTimeout   Status = "TIMEOUT"
	StatusSkipped   Status = "SKIPPED"
	StatusCancelled Status = "CANCELLED"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// Terminal returns true once a node can no longer change state.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusFailure, StatusTimeout, StatusSkipped, StatusCancelled:
		return true
	default:
		return false
	}
}

// Attempted returns true if the node's process was actually started.
func (s Status) Attempted() bool {
	switch s {
	case StatusRunning, StatusSuccess, StatusFailure, StatusTimeout:
		return true
	default:
		return false
	}
}

// validTransitions enumerates the state machine's legal moves.
var validTransitions = map[Status][]Status{
	StatusPending: {StatusReady, StatusSkipped, StatusCancelled},
	StatusReady:   {StatusRunning, StatusCancelled},
	StatusRunning: {StatusSuccess, StatusFailure, StatusTimeout, StatusCancelled},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to Status) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
