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

import "errors"

// Sentinel errors for the dag service.
var (
	// ErrNilContext indicates a nil context.Context was passed.
	ErrNilContext = errors.New("context must not be nil")

	// ErrNilGraph indicates a nil graph was passed to the executor.
	ErrNilGraph = errors.New("graph must not be nil")

	// ErrInvalidGraph indicates the plan violates a graph invariant other
	// than acyclicity. Cycles surface as planner.ErrPlanCycle so the whole
	// pipeline classifies them the same way.
	ErrInvalidGraph = errors.New("invalid graph")

	// ErrNodeNotFound indicates a node ID is not present in the graph.
	ErrNodeNotFound = errors.New("node not found in graph")

	// ErrInvalidCommand indicates an empty or malformed argv.
	ErrInvalidCommand = errors.New("command argv must not be empty")
)

// TransitionError indicates an invalid node state transition was attempted.
// This guards the scheduler's bookkeeping; it firing means a bug in the
// executor, not bad user input.
type TransitionError struct {
	NodeID string
	From   Status
	To     Status
}

// Error implements the error interface.
func (e *TransitionError) Error() string {
	return "invalid node state transition: " + e.NodeID +
		" " + string(e.From) + " -> " + string(e.To)
}

// NodeError wraps an error with the node it belongs to.
type NodeError struct {
	NodeID string
	Err    error
}

// Error implements the error interface.
func (e *NodeError) Error() string {
	return "node " + e.NodeID + ": " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *NodeError) Unwrap() error {
	return e.Err
}

// NewNodeError creates a NodeError.
func NewNodeError(nodeID string, err error) *NodeError {
	return &NodeError{NodeID: nodeID, Err: err}
}
