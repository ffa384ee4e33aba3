// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package dag validates plans into dependency graphs and executes them with
// bounded concurrency.
//
// The executor's synchronization model is deliberately narrow: all scheduling
// state (statuses, in-degree counters, the ready queue, captured outputs)
// is owned by a single scheduling goroutine. Workers only run processes and
// report completions over a channel, so every state change happens under
// exactly one synchronization point per completion event.
package dag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/google/uuid"

	"github.com/AleutianAI/Williwaw/services/planner"
)

var (
	tracer = otel.Tracer("williwaw.dag")
	meter  = otel.Meter("williwaw.dag")
)

// DefaultWorkers is the default worker pool size.
const DefaultWorkers = 4

// ExecutorConfig configures an Executor.
type ExecutorConfig struct {
	// Workers bounds how many nodes run concurrently. Zero means
	// DefaultWorkers.
	Workers int

	// NodeTimeout applies to nodes whose plan constraints leave the
	// timeout unset. Zero means DefaultNodeTimeout.
	NodeTimeout time.Duration

	// OnEvent, if set, receives progress events. Events are delivered
	// sequentially from the scheduling goroutine; the handler must not
	// block.
	OnEvent func(Event)
}

// DefaultExecutorConfig returns the standard executor configuration.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		Workers:     DefaultWorkers,
		NodeTimeout: DefaultNodeTimeout,
	}
}

// Executor runs a graph's nodes on a bounded worker pool.
//
// Description:
//
//	Ready nodes are dispatched to at most Workers concurrent processes.
//	On each completion the scheduling goroutine decrements successor
//	in-degrees and enqueues nodes that became ready. A FAILURE or TIMEOUT
//	instead marks every transitive successor SKIPPED with the failing
//	ancestor's ID; independent subgraphs keep running to their own
//	completion. No node is ever retried. Cancellation kills running
//	process groups, discards their partial output, and marks everything
//	not yet started CANCELLED.
//
// Thread Safety:
//
//	Safe for concurrent use. Each Run call owns its own state; one
//	Executor can serve overlapping runs.
type Executor struct {
	runner      Runner
	workers     int
	nodeTimeout time.Duration
	onEvent     func(Event)
	logger      *slog.Logger

	// Metrics (initialized lazily)
	metricsOnce sync.Once
	nodeLatency metric.Float64Histogram
	nodesTotal  metric.Int64Counter
	runsTotal   metric.Int64Counter
	runLatency  metric.Float64Histogram
	activeNodes metric.Int64UpDownCounter
}

// NewExecutor creates a graph executor.
//
// Inputs:
//
//	runner - Process collaborator. Must not be nil.
//	cfg - Pool size, default timeout, event hook.
//	logger - Logger for run logs. If nil, uses slog.Default().
//
// Outputs:
//
//	*Executor - The configured executor.
//	error - Non-nil if runner is nil.
func NewExecutor(runner Runner, cfg ExecutorConfig, logger *slog.Logger) (*Executor, error) {
	if runner == nil {
		return nil, fmt.Errorf("executor requires a runner")
	}
	if logger == nil {
		logger = slog.Default()
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	nodeTimeout := cfg.NodeTimeout
	if nodeTimeout <= 0 {
		nodeTimeout = DefaultNodeTimeout
	}
	return &Executor{
		runner:      runner,
		workers:     workers,
		nodeTimeout: nodeTimeout,
		onEvent:     cfg.OnEvent,
		logger:      logger,
	}, nil
}

// initMetrics lazily initializes metrics.
// Logs errors if metric creation fails but continues execution (graceful degradation).
func (e *Executor) initMetrics() {
	e.metricsOnce.Do(func() {
		var initErrors []string

		var err error
		e.nodeLatency, err = meter.Float64Histogram("dag_node_duration_seconds",
			metric.WithDescription("Time spent executing each graph node"),
			metric.WithUnit("s"),
		)
		if err != nil {
			initErrors = append(initErrors, "node_latency: "+err.Error())
		}

		e.nodesTotal, err = meter.Int64Counter("dag_nodes_total",
			metric.WithDescription("Number of node terminal states by status"),
		)
		if err != nil {
			initErrors = append(initErrors, "nodes_total: "+err.Error())
		}

		e.runsTotal, err = meter.Int64Counter("dag_runs_total",
			metric.WithDescription("Number of completed runs by status"),
		)
		if err != nil {
			initErrors = append(initErrors, "runs_total: "+err.Error())
		}

		e.runLatency, err = meter.Float64Histogram("dag_run_duration_seconds",
			metric.WithDescription("Total run execution time"),
			metric.WithUnit("s"),
		)
		if err != nil {
			initErrors = append(initErrors, "run_latency: "+err.Error())
		}

		e.activeNodes, err = meter.Int64UpDownCounter("dag_active_nodes",
			metric.WithDescription("Number of currently executing nodes"),
		)
		if err != nil {
			initErrors = append(initErrors, "active_nodes: "+err.Error())
		}

		if len(initErrors) > 0 {
			e.logger.Error("failed to initialize some DAG metrics (observability degraded)",
				slog.Int("failed_count", len(initErrors)),
				slog.Any("errors", initErrors),
			)
		}
	})
}

// completion carries a worker's outcome back to the scheduling loop.
type completion struct {
	nodeID    string
	out       *RunOutput
	err       error
	startedAt time.Time
	endedAt   time.Time
}

// Run executes the graph to completion or cancellation.
//
// Description:
//
//	Seeds the ready queue with every zero-in-degree node and schedules
//	until all nodes are terminal. The returned RunResult holds exactly
//	one terminal ExecutionResult per graph node. Cancellation is not an
//	error: the run result comes back with status CANCELLED and a nil
//	error.
//
// Inputs:
//
//	ctx - Cancelling this context kills all running process groups,
//	marks unstarted nodes CANCELLED, and returns once workers drain.
//	g - The validated graph. Must not be nil.
//
// Outputs:
//
//	*RunResult - One terminal result per node plus the overall status.
//	error - ErrNilContext or ErrNilGraph; never a node failure.
func (e *Executor) Run(ctx context.Context, g *Graph) (*RunResult, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if g == nil {
		return nil, ErrNilGraph
	}

	e.initMetrics()

	runID := uuid.NewString()
	ctx, span := tracer.Start(ctx, "dag.Run",
		trace.WithAttributes(
			attribute.String("dag.run_id", runID),
			attribute.Int("dag.nodes", g.Len()),
			attribute.Int("dag.workers", e.workers),
		),
	)
	defer span.End()

	e.logger.Info("run started",
		slog.String("run_id", runID),
		slog.Int("nodes", g.Len()),
		slog.Int("workers", e.workers),
	)

	run := &RunResult{
		RunID:     runID,
		Results:   make(map[string]*ExecutionResult, g.Len()),
		StartedAt: time.Now(),
	}

	// Scheduling state. Owned by this goroutine; workers never touch it.
	status := make(map[string]Status, g.Len())
	for _, id := range g.NodeIDs() {
		status[id] = StatusPending
	}
	inDeg := g.InDegrees()
	outputs := make(map[string][]byte, g.Len())

	setStatus := func(id string, to Status) bool {
		if !CanTransition(status[id], to) {
			return false
		}
		status[id] = to
		return true
	}

	emit := func(kind EventKind, id string, res *ExecutionResult) {
		if e.onEvent == nil {
			return
		}
		e.onEvent(Event{
			RunID:     runID,
			Kind:      kind,
			NodeID:    id,
			Status:    status[id],
			Result:    res,
			Timestamp: time.Now(),
		})
	}

	finish := func(res *ExecutionResult) {
		run.Results[res.NodeID] = res
		if e.nodesTotal != nil {
			e.nodesTotal.Add(ctx, 1,
				metric.WithAttributes(attribute.String("status", string(res.Status))),
			)
		}
		emit(EventNodeFinished, res.NodeID, res)
	}

	// neverRan records a terminal result for a node that was not started.
	neverRan := func(id string, to Status, skipReason string) {
		if !setStatus(id, to) {
			return
		}
		finish(&ExecutionResult{
			NodeID:     id,
			Status:     to,
			ExitCode:   -1,
			SkipReason: skipReason,
			EndedAt:    time.Now(),
		})
	}

	var readyQueue []string
	for _, id := range g.ReadyNodes() {
		if setStatus(id, StatusReady) {
			readyQueue = append(readyQueue, id)
		}
	}

	done := make(chan completion, g.Len())
	active := 0
	cancelled := false

	dispatch := func() {
		for !cancelled && active < e.workers && len(readyQueue) > 0 {
			id := readyQueue[0]
			readyQueue = readyQueue[1:]
			if !setStatus(id, StatusRunning) {
				continue
			}
			node, _ := g.Node(id)

			// DATA-edge stdin: producers' buffered stdout in edge
			// declaration order.
			var stdin []byte
			for _, parent := range g.DataParents(id) {
				stdin = append(stdin, outputs[parent]...)
			}

			timeout := node.Constraints.Timeout
			if timeout <= 0 {
				timeout = e.nodeTimeout
			}

			startedAt := time.Now()
			emit(EventNodeStarted, id, nil)
			if e.activeNodes != nil {
				e.activeNodes.Add(ctx, 1)
			}
			active++
			go e.runNode(ctx, runID, node, stdin, timeout, startedAt, done)
		}
	}

	dispatch()

	ctxDone := ctx.Done()
	for active > 0 || (!cancelled && len(readyQueue) > 0) {
		select {
		case <-ctxDone:
			ctxDone = nil
			cancelled = true
			span.AddEvent("run cancelled")
			e.logger.Warn("run cancelled, draining workers",
				slog.String("run_id", runID),
				slog.Int("active", active),
			)
			// Nothing queued or pending will ever start.
			for _, id := range g.NodeIDs() {
				if status[id] == StatusReady || status[id] == StatusPending {
					neverRan(id, StatusCancelled, "")
				}
			}
			readyQueue = nil

		case c := <-done:
			active--
			if e.activeNodes != nil {
				e.activeNodes.Add(ctx, -1)
			}

			res := resolveOutcome(c)
			setStatus(c.nodeID, res.Status)
			finish(res)

			switch res.Status {
			case StatusSuccess:
				outputs[c.nodeID] = c.out.Stdout
				if !cancelled {
					for _, succ := range g.Successors(c.nodeID) {
						inDeg[succ]--
						if inDeg[succ] == 0 && setStatus(succ, StatusReady) {
							readyQueue = append(readyQueue, succ)
						}
					}
				}
			case StatusFailure, StatusTimeout:
				if !cancelled {
					for _, succ := range g.TransitiveSuccessors(c.nodeID) {
						neverRan(succ, StatusSkipped, c.nodeID)
					}
				}
			}

			if !cancelled {
				dispatch()
			}
		}
	}

	run.EndedAt = time.Now()
	counts := run.CountByStatus()
	switch {
	case cancelled:
		run.Status = RunCancelled
	case counts[StatusFailure]+counts[StatusTimeout] > 0:
		run.Status = RunCompletedWithFailures
	default:
		run.Status = RunCompleted
	}

	duration := run.Duration()
	if e.runLatency != nil {
		e.runLatency.Record(ctx, duration.Seconds())
	}
	if e.runsTotal != nil {
		e.runsTotal.Add(ctx, 1,
			metric.WithAttributes(attribute.String("status", string(run.Status))),
		)
	}

	switch run.Status {
	case RunCompleted:
		span.SetStatus(codes.Ok, "")
		e.logger.Info("run completed",
			slog.String("run_id", runID),
			slog.Duration("duration", duration),
			slog.Int("nodes", len(run.Results)),
		)
	case RunCompletedWithFailures:
		span.SetStatus(codes.Error, "completed with failures")
		e.logger.Warn("run completed with failures",
			slog.String("run_id", runID),
			slog.Duration("duration", duration),
			slog.Int("failed", counts[StatusFailure]+counts[StatusTimeout]),
			slog.Int("skipped", counts[StatusSkipped]),
		)
	case RunCancelled:
		span.SetStatus(codes.Error, "cancelled")
		e.logger.Warn("run cancelled",
			slog.String("run_id", runID),
			slog.Duration("duration", duration),
		)
	}

	return run, nil
}

// runNode executes one node's process and reports the completion.
// It runs on a worker goroutine and must not touch scheduling state.
func (e *Executor) runNode(
	ctx context.Context,
	runID string,
	node planner.PlanNode,
	stdin []byte,
	timeout time.Duration,
	startedAt time.Time,
	done chan<- completion,
) {
	ctx, span := tracer.Start(ctx, "dag.Node",
		trace.WithAttributes(
			attribute.String("dag.run_id", runID),
			attribute.String("dag.node", node.ID),
			attribute.StringSlice("dag.argv", node.Argv),
		),
	)
	defer span.End()

	e.logger.Debug("node starting",
		slog.String("run_id", runID),
		slog.String("node", node.ID),
		slog.Int("stdin_bytes", len(stdin)),
	)

	out, err := e.runner.Run(ctx, node.Argv, stdin, timeout)
	endedAt := time.Now()

	switch {
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case out.TimedOut:
		span.SetStatus(codes.Error, "timeout")
	case out.ExitCode != 0:
		span.SetStatus(codes.Error, fmt.Sprintf("exit code %d", out.ExitCode))
	default:
		span.SetStatus(codes.Ok, "")
	}

	if e.nodeLatency != nil {
		e.nodeLatency.Record(ctx, endedAt.Sub(startedAt).Seconds(),
			metric.WithAttributes(attribute.String("node", node.ID)),
		)
	}

	done <- completion{
		nodeID:    node.ID,
		out:       out,
		err:       err,
		startedAt: startedAt,
		endedAt:   endedAt,
	}
}

// resolveOutcome maps a worker completion to the node's terminal result.
// Cancelled nodes discard partial output: what a killed process managed to
// write is not trustworthy diagnostic data.
func resolveOutcome(c completion) *ExecutionResult {
	res := &ExecutionResult{
		NodeID:    c.nodeID,
		StartedAt: c.startedAt,
		EndedAt:   c.endedAt,
	}

	switch {
	case c.err != nil && (errors.Is(c.err, context.Canceled) || errors.Is(c.err, context.DeadlineExceeded)):
		res.Status = StatusCancelled
		res.ExitCode = -1
	case c.err != nil:
		res.Status = StatusFailure
		res.ExitCode = -1
		res.Stderr = c.err.Error()
	case c.out.TimedOut:
		res.Status = StatusTimeout
		res.ExitCode = -1
		res.Stderr = string(c.out.Stderr)
	default:
		res.Status = StatusSuccess
		if c.out.ExitCode != 0 {
			res.Status = StatusFailure
		}
		res.ExitCode = c.out.ExitCode
		res.Stdout = string(c.out.Stdout)
		res.Stderr = string(c.out.Stderr)
	}
	return res
}
