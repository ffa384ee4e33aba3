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
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/Williwaw/pkg/telemetry"
	"github.com/AleutianAI/Williwaw/services/dag"
	"github.com/AleutianAI/Williwaw/services/planner"
	"github.com/AleutianAI/Williwaw/services/solver"
)

// wsEventBuffer is the per-session event queue size. Events past a full
// buffer are dropped so a slow client never stalls the executor.
const wsEventBuffer = 64

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  16 * 1024,
	WriteBufferSize: 16 * 1024,
}

// Handlers contains the HTTP handlers for the gateway.
type Handlers struct {
	solver  *solver.Solver
	metrics *Metrics
	logger  *slog.Logger
}

// NewHandlers creates handlers around a solver.
func NewHandlers(sol *solver.Solver, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		solver:  sol,
		metrics: InitMetrics(),
		logger:  logger,
	}
}

// HandleSolve handles POST /v1/solve.
//
// Description:
//
//	Runs one query through the full pipeline and returns the execution
//	trace. A rejected query (nothing retrieved, cyclic plan) returns 422
//	with the REJECTED trace as the body, so every non-4xx/5xx outcome
//	and every rejection share one parseable shape.
//
// Request Body:
//
//	SolveRequest
//
// Response:
//
//	200 OK: ExecutionTrace
//	400 Bad Request: Validation error
//	422 Unprocessable Entity: ExecutionTrace with status REJECTED
//	503 Service Unavailable: Corpus not built yet
//	500 Internal Server Error: Pipeline infrastructure error
func (h *Handlers) HandleSolve(c *gin.Context) {
	requestID := RequestIDFrom(c)
	logger := telemetry.LoggerWithTrace(c.Request.Context(), h.logger).With(
		slog.String("request_id", requestID),
		slog.String("handler", "HandleSolve"),
	)

	var req SolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid request body",
			Code:    "INVALID_REQUEST",
			Details: err.Error(),
		})
		return
	}

	trace, err := h.solver.Solve(c.Request.Context(), req.toSolver(nil))
	if err != nil {
		h.respondSolveError(c, logger, trace, err)
		return
	}

	h.metrics.SolvesTotal.WithLabelValues(string(trace.Status)).Inc()
	logger.Info("query solved",
		slog.String("run_id", trace.RunID),
		slog.String("status", string(trace.Status)))
	c.JSON(http.StatusOK, trace)
}

// respondSolveError maps solver errors onto HTTP responses.
func (h *Handlers) respondSolveError(c *gin.Context, logger *slog.Logger, trace *solver.ExecutionTrace, err error) {
	var terr *solver.TraceError
	switch {
	case errors.As(err, &terr):
		h.metrics.SolvesTotal.WithLabelValues(string(solver.TraceRejected)).Inc()
		logger.Info("query rejected", slog.String("code", string(terr.Code)))
		c.JSON(http.StatusUnprocessableEntity, trace)
	case errors.Is(err, solver.ErrNotReady):
		logger.Warn("solver not ready")
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error: err.Error(),
			Code:  "NOT_READY",
		})
	case errors.Is(err, planner.ErrEmptyQuery):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: err.Error(),
			Code:  "EMPTY_QUERY",
		})
	default:
		logger.Error("solve failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "SOLVE_FAILED",
		})
	}
}

// HandleSolveWS handles GET /v1/solve/ws.
//
// Description:
//
//	Upgrades to a WebSocket, reads one SolveRequest frame, and streams
//	executor progress events while the query runs. The session ends with
//	a single trace frame (or an error frame), then the server closes the
//	socket. A client disconnect mid-run cancels the execution.
//
// Frames (server to client):
//
//	{"kind": "event", "event": {...}}   - one per node state transition
//	{"kind": "trace", "trace": {...}}   - terminal, the full trace
//	{"kind": "error", "error": {...}}   - terminal, request was refused
func (h *Handlers) HandleSolveWS(c *gin.Context) {
	requestID := RequestIDFrom(c)
	logger := telemetry.LoggerWithTrace(c.Request.Context(), h.logger).With(
		slog.String("request_id", requestID),
		slog.String("handler", "HandleSolveWS"),
	)

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer ws.Close()

	h.metrics.ActiveWebsockets.Inc()
	defer h.metrics.ActiveWebsockets.Dec()

	var req SolveRequest
	if err := ws.ReadJSON(&req); err != nil {
		logger.Info("websocket closed before request", slog.String("error", err.Error()))
		return
	}
	if err := binding.Validator.ValidateStruct(&req); err != nil {
		sendFrame(ws, logger, WSFrame{Kind: FrameError, Error: &ErrorResponse{
			Error:   "invalid request",
			Code:    "INVALID_REQUEST",
			Details: err.Error(),
		}})
		return
	}

	// The read pump detects client disconnects: any further read error
	// cancels the run.
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	go func() {
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	// Events arrive on the scheduler goroutine and must not block
	// there; the writer goroutine drains them onto the socket and
	// excess events are dropped.
	events := make(chan dag.Event, wsEventBuffer)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for e := range events {
			ev := e
			if err := ws.WriteJSON(WSFrame{Kind: FrameEvent, Event: &ev}); err != nil {
				for range events {
					// Drain so the sender never blocks on a dead socket.
				}
				return
			}
		}
	}()

	trace, err := h.solver.Solve(ctx, req.toSolver(func(e dag.Event) {
		select {
		case events <- e:
		default:
		}
	}))
	close(events)
	<-writerDone

	if err != nil {
		var terr *solver.TraceError
		if errors.As(err, &terr) {
			h.metrics.SolvesTotal.WithLabelValues(string(solver.TraceRejected)).Inc()
			logger.Info("query rejected", slog.String("code", string(terr.Code)))
			sendFrame(ws, logger, WSFrame{Kind: FrameTrace, Trace: trace})
			return
		}
		logger.Error("solve failed", slog.String("error", err.Error()))
		sendFrame(ws, logger, WSFrame{Kind: FrameError, Error: &ErrorResponse{
			Error: err.Error(),
			Code:  "SOLVE_FAILED",
		}})
		return
	}

	h.metrics.SolvesTotal.WithLabelValues(string(trace.Status)).Inc()
	logger.Info("query solved over websocket",
		slog.String("run_id", trace.RunID),
		slog.String("status", string(trace.Status)))
	sendFrame(ws, logger, WSFrame{Kind: FrameTrace, Trace: trace})
}

// sendFrame writes one frame, logging write failures.
func sendFrame(ws *websocket.Conn, logger *slog.Logger, frame WSFrame) {
	if err := ws.WriteJSON(frame); err != nil {
		logger.Warn("websocket write failed", slog.String("error", err.Error()))
	}
}

// HandleCorpusStats handles GET /v1/corpus/stats.
//
// Response:
//
//	200 OK: index.Stats
//	503 Service Unavailable: Corpus not built yet
func (h *Handlers) HandleCorpusStats(c *gin.Context) {
	if !h.solver.Ready() {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error: "corpus has not been built",
			Code:  "NOT_READY",
		})
		return
	}
	c.JSON(http.StatusOK, h.solver.Stats())
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: ServiceVersion,
		Ready:   h.solver.Ready(),
	})
}
