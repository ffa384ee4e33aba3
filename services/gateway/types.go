// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package gateway

import (
	"time"

	"github.com/AleutianAI/Williwaw/services/dag"
	"github.com/AleutianAI/Williwaw/services/solver"
)

// ServiceVersion is the gateway service version.
const ServiceVersion = "0.1.0"

// SolveRequest is the request body for POST /v1/solve and the first
// frame of a /v1/solve/ws session.
type SolveRequest struct {
	// Query is the natural-language query. Required.
	Query string `json:"query" binding:"required,min=1,max=2048"`

	// Limit caps retrieval results. Default: 5.
	Limit int `json:"limit" binding:"omitempty,gte=1,lte=25"`

	// MinScore is the retrieval similarity floor. Zero uses the solver
	// default; negative disables the floor.
	MinScore float64 `json:"min_score" binding:"omitempty,gte=-1,lte=1"`

	// Explain asks for reasoning annotations on the trace.
	Explain bool `json:"explain"`

	// Workers caps concurrent node execution. Default: 4.
	Workers int `json:"workers" binding:"omitempty,gte=1,lte=32"`

	// TimeoutSeconds bounds each node's runtime. Default: 10.
	TimeoutSeconds int `json:"timeout_seconds" binding:"omitempty,gte=1,lte=600"`

	// PlanOnly stops the pipeline after planning.
	PlanOnly bool `json:"plan_only"`
}

// toSolver converts the DTO into a solver request.
func (r SolveRequest) toSolver(onEvent func(dag.Event)) solver.Request {
	return solver.Request{
		Query:       r.Query,
		Limit:       r.Limit,
		MinScore:    r.MinScore,
		Explain:     r.Explain,
		Workers:     r.Workers,
		NodeTimeout: time.Duration(r.TimeoutSeconds) * time.Second,
		PlanOnly:    r.PlanOnly,
		OnEvent:     onEvent,
	}
}

// ErrorResponse is the error payload for non-2xx responses.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is the machine-readable error code (optional).
	Code string `json:"code,omitempty"`

	// Details provides additional error context (optional).
	Details string `json:"details,omitempty"`
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	// Status is "healthy" when the process is serving.
	Status string `json:"status"`

	// Version is the gateway service version.
	Version string `json:"version"`

	// Ready is true once the corpus has been built.
	Ready bool `json:"ready"`
}

// WebSocket frame kinds.
const (
	// FrameEvent carries one executor progress event.
	FrameEvent = "event"

	// FrameTrace carries the final execution trace and ends the session.
	FrameTrace = "trace"

	// FrameError carries a terminal error and ends the session.
	FrameError = "error"
)

// WSFrame is one server-to-client message on /v1/solve/ws.
//
// Exactly one of Event, Trace, or Error is set, matching Kind.
type WSFrame struct {
	// Kind discriminates the payload.
	Kind string `json:"kind"`

	// Event is set for FrameEvent frames.
	Event *dag.Event `json:"event,omitempty"`

	// Trace is set for FrameTrace frames.
	Trace *solver.ExecutionTrace `json:"trace,omitempty"`

	// Error is set for FrameError frames.
	Error *ErrorResponse `json:"error,omitempty"`
}
