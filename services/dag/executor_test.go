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

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/AleutianAI/Williwaw/services/planner"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mustGraph(t *testing.T, p *planner.Plan) *Graph {
	t.Helper()
	g, err := NewGraph(p)
	if err != nil {
		t.Fatalf("NewGraph() error = %v", err)
	}
	return g
}

func mustExecutor(t *testing.T, runner Runner, cfg ExecutorConfig) *Executor {
	t.Helper()
	exec, err := NewExecutor(runner, cfg, discardLogger())
	if err != nil {
		t.Fatalf("NewExecutor() error = %v", err)
	}
	return exec
}

// --- Scripted Runner ---

// scripted describes a fake outcome for one command.
type scripted struct {
	stdout   string
	exitCode int
	timedOut bool
	delay    time.Duration
	// obeyCtx makes the fake honor cancellation like a real process:
	// partial output plus the context error.
	obeyCtx bool
	partial string
}

// scriptedRunner fakes process execution so scheduling behavior can be
// tested without real subprocesses. Outcomes are keyed by argv[0].
type scriptedRunner struct {
	mu        sync.Mutex
	outcomes  map[string]scripted
	calls     map[string]int
	stdins    map[string]string
	started   map[string]chan struct{}
	gates     map[string]chan struct{}
	active    int
	maxActive int
}

func newScriptedRunner() *scriptedRunner {
	return &scriptedRunner{
		outcomes: make(map[string]scripted),
		calls:    make(map[string]int),
		stdins:   make(map[string]string),
		started:  make(map[string]chan struct{}),
		gates:    make(map[string]chan struct{}),
	}
}

func (r *scriptedRunner) script(cmd string, s scripted) *scriptedRunner {
	r.outcomes[cmd] = s
	return r
}

// gate blocks the command until release is called. The returned started
// channel closes once the command has been invoked.
func (r *scriptedRunner) gate(cmd string) (started <-chan struct{}, release func()) {
	s := make(chan struct{})
	g := make(chan struct{})
	r.started[cmd] = s
	r.gates[cmd] = g
	var once sync.Once
	return s, func() { once.Do(func() { close(g) }) }
}

func (r *scriptedRunner) Run(ctx context.Context, argv []string, stdin []byte, timeout time.Duration) (*RunOutput, error) {
	cmd := argv[0]

	r.mu.Lock()
	r.calls[cmd]++
	r.stdins[cmd] = string(stdin)
	r.active++
	if r.active > r.maxActive {
		r.maxActive = r.active
	}
	s := r.outcomes[cmd]
	startedCh := r.started[cmd]
	gateCh := r.gates[cmd]
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.active--
		r.mu.Unlock()
	}()

	if startedCh != nil {
		close(startedCh)
	}
	if gateCh != nil {
		select {
		case <-gateCh:
		case <-ctx.Done():
			if s.obeyCtx {
				return &RunOutput{Stdout: []byte(s.partial), ExitCode: -1}, ctx.Err()
			}
			<-gateCh
		}
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			if s.obeyCtx {
				return &RunOutput{Stdout: []byte(s.partial), ExitCode: -1}, ctx.Err()
			}
		}
	}

	if s.timedOut {
		return &RunOutput{
			ExitCode: -1,
			TimedOut: true,
			Stderr:   []byte("command timed out after " + timeout.String()),
		}, nil
	}
	return &RunOutput{Stdout: []byte(s.stdout), ExitCode: s.exitCode}, nil
}

func (r *scriptedRunner) callCount(cmd string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[cmd]
}

func (r *scriptedRunner) stdinFor(cmd string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stdins[cmd]
}

func (r *scriptedRunner) highWater() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxActive
}

func awaitFinished(t *testing.T, events <-chan Event, nodeID string) Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Kind == EventNodeFinished && ev.NodeID == nodeID {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for node %q to finish", nodeID)
		}
	}
}

// --- Pipeline Tests ---

func TestExecutor_Run_SingleNode(t *testing.T) {
	exec := mustExecutor(t, NewProcessRunner(discardLogger()), DefaultExecutorConfig())
	g := mustGraph(t, makePlan(
		[]planner.PlanNode{{ID: "list", Argv: []string{"ls", "-la"}}},
		nil,
	))

	run, err := exec.Run(context.Background(), g)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if run.Status != RunCompleted {
		t.Errorf("Status = %s, want %s", run.Status, RunCompleted)
	}
	if run.RunID == "" {
		t.Error("RunID should not be empty")
	}

	res := run.Result("list")
	if res == nil {
		t.Fatal("missing result for node list")
	}
	if res.Status != StatusSuccess {
		t.Errorf("node status = %s, want %s", res.Status, StatusSuccess)
	}
	if res.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", res.ExitCode)
	}
	if res.Stdout == "" {
		t.Error("Stdout should contain the directory listing")
	}
	if res.EndedAt.Before(res.StartedAt) {
		t.Error("EndedAt should not precede StartedAt")
	}
}

func TestExecutor_Run_DataPipeline(t *testing.T) {
	// produce (echo hello) ──DATA──▶ count (wc -c)
	exec := mustExecutor(t, NewProcessRunner(discardLogger()), DefaultExecutorConfig())
	g := mustGraph(t, makePlan(
		[]planner.PlanNode{
			{ID: "produce", Argv: []string{"echo", "hello"}},
			{ID: "count", Argv: []string{"wc", "-c"}},
		},
		[]planner.PlanEdge{dataEdge("produce", "count")},
	))

	run, err := exec.Run(context.Background(), g)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if run.Status != RunCompleted {
		t.Errorf("Status = %s, want %s", run.Status, RunCompleted)
	}
	if got := run.Result("produce").Stdout; got != "hello\n" {
		t.Errorf("produce Stdout = %q, want %q", got, "hello\n")
	}
	// "hello\n" is six bytes.
	if got := strings.TrimSpace(run.Result("count").Stdout); got != "6" {
		t.Errorf("count Stdout = %q, want %q", got, "6")
	}
}

func TestExecutor_Run_StdinAssemblyOrder(t *testing.T) {
	// p2 finishes first, but stdin must follow edge declaration order.
	runner := newScriptedRunner().
		script("p1", scripted{stdout: "one\n", delay: 40 * time.Millisecond}).
		script("p2", scripted{stdout: "two\n"})
	exec := mustExecutor(t, runner, DefaultExecutorConfig())

	g := mustGraph(t, makePlan(
		[]planner.PlanNode{
			{ID: "p1", Argv: []string{"p1"}},
			{ID: "p2", Argv: []string{"p2"}},
			{ID: "sink", Argv: []string{"sink"}},
		},
		[]planner.PlanEdge{dataEdge("p1", "sink"), dataEdge("p2", "sink")},
	))

	run, err := exec.Run(context.Background(), g)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if run.Status != RunCompleted {
		t.Errorf("Status = %s, want %s", run.Status, RunCompleted)
	}

	if got := runner.stdinFor("sink"); got != "one\ntwo\n" {
		t.Errorf("sink stdin = %q, want %q", got, "one\ntwo\n")
	}
}

func TestExecutor_Run_WorkerBound(t *testing.T) {
	runner := newScriptedRunner()
	nodes := make([]planner.PlanNode, 0, 6)
	for _, id := range []string{"n1", "n2", "n3", "n4", "n5", "n6"} {
		runner.script(id, scripted{delay: 30 * time.Millisecond})
		nodes = append(nodes, planner.PlanNode{ID: id, Argv: []string{id}})
	}
	exec := mustExecutor(t, runner, ExecutorConfig{Workers: 2})

	run, err := exec.Run(context.Background(), mustGraph(t, makePlan(nodes, nil)))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if run.Status != RunCompleted {
		t.Errorf("Status = %s, want %s", run.Status, RunCompleted)
	}
	if got := runner.highWater(); got != 2 {
		t.Errorf("max concurrent nodes = %d, want exactly the 2 configured workers", got)
	}
}

// --- Failure Tests ---

func TestExecutor_Run_FailureSkipsDependents(t *testing.T) {
	// a (exit 1) → b → c, with d independent.
	runner := newScriptedRunner().script("a", scripted{exitCode: 1})
	exec := mustExecutor(t, runner, DefaultExecutorConfig())

	g := mustGraph(t, makePlan(
		[]planner.PlanNode{
			{ID: "a", Argv: []string{"a"}},
			{ID: "b", Argv: []string{"b"}},
			{ID: "c", Argv: []string{"c"}},
			{ID: "d", Argv: []string{"d"}},
		},
		[]planner.PlanEdge{orderEdge("a", "b"), orderEdge("b", "c")},
	))

	run, err := exec.Run(context.Background(), g)
	if err != nil {
		t.Fatalf("Run() error = %v; node failures are results, not errors", err)
	}

	if run.Status != RunCompletedWithFailures {
		t.Errorf("Status = %s, want %s", run.Status, RunCompletedWithFailures)
	}

	if res := run.Result("a"); res.Status != StatusFailure || res.ExitCode != 1 {
		t.Errorf("a = %s exit %d, want %s exit 1", res.Status, res.ExitCode, StatusFailure)
	}

	for _, id := range []string{"b", "c"} {
		res := run.Result(id)
		if res.Status != StatusSkipped {
			t.Errorf("%s status = %s, want %s", id, res.Status, StatusSkipped)
		}
		if res.SkipReason != "a" {
			t.Errorf("%s SkipReason = %q, want %q", id, res.SkipReason, "a")
		}
		if res.ExitCode != -1 {
			t.Errorf("%s ExitCode = %d, want -1", id, res.ExitCode)
		}
		if runner.callCount(id) != 0 {
			t.Errorf("%s was invoked %d times, want 0", id, runner.callCount(id))
		}
	}

	// The independent subgraph still completes.
	if res := run.Result("d"); res.Status != StatusSuccess {
		t.Errorf("d status = %s, want %s", res.Status, StatusSuccess)
	}

	counts := run.CountByStatus()
	if counts[StatusFailure] != 1 || counts[StatusSkipped] != 2 || counts[StatusSuccess] != 1 {
		t.Errorf("CountByStatus() = %v", counts)
	}
}

func TestExecutor_Run_SkipKeepsFirstFailingAncestor(t *testing.T) {
	//   a (fails fast)   b (fails later)
	//          \         /
	//           ▼       ▼
	//            sink
	runner := newScriptedRunner().
		script("a", scripted{exitCode: 1}).
		script("b", scripted{exitCode: 1})
	bStarted, releaseB := runner.gate("b")

	events := make(chan Event, 16)
	cfg := DefaultExecutorConfig()
	cfg.OnEvent = func(ev Event) { events <- ev }
	exec := mustExecutor(t, runner, cfg)

	g := mustGraph(t, makePlan(
		[]planner.PlanNode{
			{ID: "a", Argv: []string{"a"}},
			{ID: "b", Argv: []string{"b"}},
			{ID: "sink", Argv: []string{"sink"}},
		},
		[]planner.PlanEdge{orderEdge("a", "sink"), orderEdge("b", "sink")},
	))

	type outcome struct {
		run *RunResult
		err error
	}
	resCh := make(chan outcome, 1)
	go func() {
		run, err := exec.Run(context.Background(), g)
		resCh <- outcome{run, err}
	}()

	<-bStarted
	// a fails while b is held open; sink gets skipped with reason a.
	awaitFinished(t, events, "sink")
	releaseB()

	var got outcome
	select {
	case got = <-resCh:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish")
	}
	if got.err != nil {
		t.Fatalf("Run() error = %v", got.err)
	}

	sink := got.run.Result("sink")
	if sink.Status != StatusSkipped {
		t.Errorf("sink status = %s, want %s", sink.Status, StatusSkipped)
	}
	if sink.SkipReason != "a" {
		t.Errorf("sink SkipReason = %q, want first failing ancestor %q", sink.SkipReason, "a")
	}
	if res := got.run.Result("b"); res.Status != StatusFailure {
		t.Errorf("b status = %s, want %s", res.Status, StatusFailure)
	}
}

func TestExecutor_Run_NodeTimeout(t *testing.T) {
	// slow (sleep 5, 100ms budget) → after
	exec := mustExecutor(t, NewProcessRunner(discardLogger()), DefaultExecutorConfig())
	g := mustGraph(t, makePlan(
		[]planner.PlanNode{
			{
				ID:          "slow",
				Argv:        []string{"sleep", "5"},
				Constraints: planner.Constraints{Timeout: 100 * time.Millisecond},
			},
			{ID: "after", Argv: []string{"echo", "hi"}},
		},
		[]planner.PlanEdge{orderEdge("slow", "after")},
	))

	start := time.Now()
	run, err := exec.Run(context.Background(), g)
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if elapsed > 3*time.Second {
		t.Errorf("elapsed = %v, timeout did not kill the process promptly", elapsed)
	}

	if run.Status != RunCompletedWithFailures {
		t.Errorf("Status = %s, want %s", run.Status, RunCompletedWithFailures)
	}

	slow := run.Result("slow")
	if slow.Status != StatusTimeout {
		t.Errorf("slow status = %s, want %s", slow.Status, StatusTimeout)
	}
	if slow.ExitCode != -1 {
		t.Errorf("slow ExitCode = %d, want -1", slow.ExitCode)
	}
	if !strings.Contains(slow.Stderr, "timed out after") {
		t.Errorf("slow Stderr = %q, want timeout message", slow.Stderr)
	}

	after := run.Result("after")
	if after.Status != StatusSkipped || after.SkipReason != "slow" {
		t.Errorf("after = %s reason %q, want %s reason %q",
			after.Status, after.SkipReason, StatusSkipped, "slow")
	}
}

// --- Cancellation Tests ---

func TestExecutor_Run_Cancellation(t *testing.T) {
	// One worker: a runs, b waits in the queue. Cancel while a is in
	// flight; a's real result survives the drain, b never starts.
	runner := newScriptedRunner().script("a", scripted{stdout: "kept"})
	aStarted, releaseA := runner.gate("a")

	events := make(chan Event, 16)
	exec := mustExecutor(t, runner, ExecutorConfig{
		Workers: 1,
		OnEvent: func(ev Event) { events <- ev },
	})

	g := mustGraph(t, makePlan(
		[]planner.PlanNode{
			{ID: "a", Argv: []string{"a"}},
			{ID: "b", Argv: []string{"b"}},
		},
		nil,
	))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type outcome struct {
		run *RunResult
		err error
	}
	resCh := make(chan outcome, 1)
	go func() {
		run, err := exec.Run(ctx, g)
		resCh <- outcome{run, err}
	}()

	<-aStarted
	cancel()
	// b is cancelled by the scheduler before a drains.
	awaitFinished(t, events, "b")
	releaseA()

	var got outcome
	select {
	case got = <-resCh:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish")
	}

	if got.err != nil {
		t.Fatalf("Run() error = %v; cancellation is a status, not an error", got.err)
	}
	if got.run.Status != RunCancelled {
		t.Errorf("Status = %s, want %s", got.run.Status, RunCancelled)
	}

	// a finished for real and keeps its result.
	a := got.run.Result("a")
	if a.Status != StatusSuccess || a.Stdout != "kept" {
		t.Errorf("a = %s stdout %q, want %s stdout %q", a.Status, a.Stdout, StatusSuccess, "kept")
	}

	// b was queued, never started, and is CANCELLED rather than SKIPPED.
	b := got.run.Result("b")
	if b.Status != StatusCancelled {
		t.Errorf("b status = %s, want %s", b.Status, StatusCancelled)
	}
	if b.SkipReason != "" {
		t.Errorf("b SkipReason = %q, want empty; no ancestor failed", b.SkipReason)
	}
	if runner.callCount("b") != 0 {
		t.Errorf("b was invoked %d times, want 0", runner.callCount("b"))
	}
}

func TestExecutor_Run_CancellationDiscardsPartialOutput(t *testing.T) {
	runner := newScriptedRunner().
		script("a", scripted{obeyCtx: true, partial: "half-written garbage"})
	aStarted, _ := runner.gate("a")

	exec := mustExecutor(t, runner, DefaultExecutorConfig())
	g := mustGraph(t, makePlan(
		[]planner.PlanNode{{ID: "a", Argv: []string{"a"}}},
		nil,
	))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type outcome struct {
		run *RunResult
		err error
	}
	resCh := make(chan outcome, 1)
	go func() {
		run, err := exec.Run(ctx, g)
		resCh <- outcome{run, err}
	}()

	<-aStarted
	cancel()

	var got outcome
	select {
	case got = <-resCh:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish")
	}

	if got.err != nil {
		t.Fatalf("Run() error = %v", got.err)
	}
	if got.run.Status != RunCancelled {
		t.Errorf("Status = %s, want %s", got.run.Status, RunCancelled)
	}

	a := got.run.Result("a")
	if a.Status != StatusCancelled {
		t.Errorf("a status = %s, want %s", a.Status, StatusCancelled)
	}
	if a.Stdout != "" {
		t.Errorf("a Stdout = %q, want empty; partial output is discarded", a.Stdout)
	}
	if a.ExitCode != -1 {
		t.Errorf("a ExitCode = %d, want -1", a.ExitCode)
	}
}

// --- Event Tests ---

func TestExecutor_Run_Events(t *testing.T) {
	runner := newScriptedRunner().script("a", scripted{stdout: "out"})
	var events []Event
	cfg := DefaultExecutorConfig()
	cfg.OnEvent = func(ev Event) { events = append(events, ev) }
	exec := mustExecutor(t, runner, cfg)

	g := mustGraph(t, makePlan(
		[]planner.PlanNode{
			{ID: "a", Argv: []string{"a"}},
			{ID: "b", Argv: []string{"b"}},
		},
		[]planner.PlanEdge{orderEdge("a", "b")},
	))

	run, err := exec.Run(context.Background(), g)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := []struct {
		kind   EventKind
		nodeID string
	}{
		{EventNodeStarted, "a"},
		{EventNodeFinished, "a"},
		{EventNodeStarted, "b"},
		{EventNodeFinished, "b"},
	}
	if len(events) != len(want) {
		t.Fatalf("got %d events, want %d", len(events), len(want))
	}
	for i, w := range want {
		ev := events[i]
		if ev.Kind != w.kind || ev.NodeID != w.nodeID {
			t.Errorf("events[%d] = %s %s, want %s %s", i, ev.Kind, ev.NodeID, w.kind, w.nodeID)
		}
		if ev.RunID != run.RunID {
			t.Errorf("events[%d].RunID = %q, want %q", i, ev.RunID, run.RunID)
		}
		if ev.Timestamp.IsZero() {
			t.Errorf("events[%d].Timestamp is zero", i)
		}
	}

	if events[0].Status != StatusRunning {
		t.Errorf("start event status = %s, want %s", events[0].Status, StatusRunning)
	}
	if events[1].Result == nil || events[1].Result.Status != StatusSuccess {
		t.Error("finish event should carry the terminal result")
	}

	// No retries: each node ran exactly once.
	for _, id := range []string{"a", "b"} {
		if runner.callCount(id) != 1 {
			t.Errorf("%s ran %d times, want 1", id, runner.callCount(id))
		}
	}
}

// --- Config Tests ---

func TestNewExecutor_NilRunner(t *testing.T) {
	_, err := NewExecutor(nil, DefaultExecutorConfig(), discardLogger())

	if err == nil {
		t.Error("NewExecutor() should fail with nil runner")
	}
}

func TestNewExecutor_Defaults(t *testing.T) {
	exec := mustExecutor(t, newScriptedRunner(), ExecutorConfig{})

	if exec.workers != DefaultWorkers {
		t.Errorf("workers = %d, want %d", exec.workers, DefaultWorkers)
	}
	if exec.nodeTimeout != DefaultNodeTimeout {
		t.Errorf("nodeTimeout = %v, want %v", exec.nodeTimeout, DefaultNodeTimeout)
	}
}

func TestExecutor_Run_NilArgs(t *testing.T) {
	exec := mustExecutor(t, newScriptedRunner(), DefaultExecutorConfig())
	g := mustGraph(t, makePlan([]planner.PlanNode{cmdNode("a", "a")}, nil))

	t.Run("nil context", func(t *testing.T) {
		//nolint:staticcheck // passing nil context is the case under test
		_, err := exec.Run(nil, g)
		if !errors.Is(err, ErrNilContext) {
			t.Errorf("error = %v, want %v", err, ErrNilContext)
		}
	})

	t.Run("nil graph", func(t *testing.T) {
		_, err := exec.Run(context.Background(), nil)
		if !errors.Is(err, ErrNilGraph) {
			t.Errorf("error = %v, want %v", err, ErrNilGraph)
		}
	})
}
