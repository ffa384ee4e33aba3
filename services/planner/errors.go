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
	"errors"
	"strings"
)

// Sentinel errors for the planner service.
var (
	// ErrEmptyQuery indicates the query text was empty or whitespace.
	ErrEmptyQuery = errors.New("query must not be empty")

	// ErrNoHypotheses indicates no strategy could produce a plan for the
	// query: no curated template matched and no retrieved entry is runnable.
	ErrNoHypotheses = errors.New("no viable hypothesis for query")

	// ErrUnknownStrategy indicates a hypothesis carries a strategy the
	// planner does not implement.
	ErrUnknownStrategy = errors.New("unknown hypothesis strategy")

	// ErrInvalidPlan indicates a plan violates a structural invariant other
	// than acyclicity: missing nodes, duplicate IDs, or dangling edges.
	ErrInvalidPlan = errors.New("invalid plan")

	// ErrPlanCycle indicates a plan's edges form a dependency cycle.
	// Cyclic plans are rejected before any command is started.
	ErrPlanCycle = errors.New("plan contains a dependency cycle")
)

// CycleError reports the node path that closes a dependency cycle.
//
// Description:
//
//	The path lists node IDs in edge order with the repeated node at both
//	ends, e.g. [a b a]. CycleError unwraps to ErrPlanCycle so callers can
//	classify with errors.Is without inspecting the path.
type CycleError struct {
	// Path is the cycle in edge order, first node repeated at the end.
	Path []string
}

// Error implements the error interface.
func (e *CycleError) Error() string {
	return "plan contains a dependency cycle: " + strings.Join(e.Path, " -> ")
}

// Unwrap returns ErrPlanCycle for errors.Is classification.
func (e *CycleError) Unwrap() error {
	return ErrPlanCycle
}

// NewCycleError creates a CycleError from a node path.
func NewCycleError(path []string) *CycleError {
	return &CycleError{Path: path}
}
