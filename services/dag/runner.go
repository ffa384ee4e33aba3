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
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"syscall"
	"time"
)

// DefaultNodeTimeout bounds nodes whose plan constraints leave the timeout
// unset.
const DefaultNodeTimeout = 10 * time.Second

// DefaultMaxOutputBytes caps captured stdout and stderr per stream.
const DefaultMaxOutputBytes = 1 << 20

// killWaitDelay bounds how long Wait may block on the output pipes after
// the process is killed. Grandchildren that inherited the pipes can hold
// them open past the group kill.
const killWaitDelay = 5 * time.Second

// RunOutput is what one process run produced.
type RunOutput struct {
	// Stdout is the captured standard output, possibly truncated.
	Stdout []byte

	// Stderr is the captured standard error, possibly truncated.
	Stderr []byte

	// ExitCode is the process exit code, -1 if the process never exited
	// normally (timeout, kill, spawn failure).
	ExitCode int

	// TimedOut is true when the per-node timeout elapsed.
	TimedOut bool

	// Truncated is true when either stream hit the output cap.
	Truncated bool

	// Duration is the process wall-clock time.
	Duration time.Duration
}

// Runner executes a single external command.
//
// Description:
//
//	Runner is the executor's process collaborator: (argv, stdin bytes,
//	timeout) in, captured output and exit code out. Implementations must
//	treat command failure as data, not as a Go error: a nonzero exit or a
//	timeout is reported in RunOutput with a nil error. The error return
//	is reserved for caller cancellation (ctx.Err()) and invalid input.
type Runner interface {
	Run(ctx context.Context, argv []string, stdin []byte, timeout time.Duration) (*RunOutput, error)
}

// ProcessRunner runs commands as OS subprocesses.
//
// Description:
//
//	Each command runs in its own process group so a cancel or timeout
//	kills the whole tree, including shells that spawned grandchildren.
//	Stdin is fed from a byte slice, never a live pipe from another node;
//	DATA-edge plumbing buffers the producer's full output first.
//
// Thread Safety:
//
//	Safe for concurrent use. Each call creates its own process.
type ProcessRunner struct {
	maxOutput int
	logger    *slog.Logger
}

var _ Runner = (*ProcessRunner)(nil)

// NewProcessRunner creates a process runner.
//
// Inputs:
//
//	logger - Logger for spawn diagnostics. If nil, uses slog.Default().
func NewProcessRunner(logger *slog.Logger) *ProcessRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProcessRunner{
		maxOutput: DefaultMaxOutputBytes,
		logger:    logger,
	}
}

// SetMaxOutputBytes overrides the per-stream output cap.
func (r *ProcessRunner) SetMaxOutputBytes(n int) {
	if n > 0 {
		r.maxOutput = n
	}
}

// Run executes argv with the given stdin and timeout.
//
// Outputs:
//
//	*RunOutput - Captured output and exit code. Timeouts are reported
//	here (TimedOut true, exit code -1, a synthesized stderr message),
//	as are spawn failures such as a missing binary (exit code -1,
//	stderr carrying the error text).
//	error - ErrNilContext, ErrInvalidCommand, or the caller's ctx.Err()
//	when the run was cancelled. Partial output accompanies a
//	cancellation error; the caller decides whether to keep it.
func (r *ProcessRunner) Run(ctx context.Context, argv []string, stdin []byte, timeout time.Duration) (*RunOutput, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if len(argv) == 0 || argv[0] == "" {
		return nil, ErrInvalidCommand
	}
	if timeout <= 0 {
		timeout = DefaultNodeTimeout
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		// Negative pid addresses the whole process group.
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = killWaitDelay

	if len(stdin) > 0 {
		cmd.Stdin = bytes.NewReader(stdin)
	}

	var stdout, stderr bytes.Buffer
	stdoutLimited := &limitedWriter{w: &stdout, limit: r.maxOutput}
	stderrLimited := &limitedWriter{w: &stderr, limit: r.maxOutput}
	cmd.Stdout = stdoutLimited
	cmd.Stderr = stderrLimited

	start := time.Now()
	err := cmd.Run()
	out := &RunOutput{
		Stdout:    stdout.Bytes(),
		Stderr:    stderr.Bytes(),
		Truncated: stdoutLimited.truncated || stderrLimited.truncated,
		Duration:  time.Since(start),
	}

	if runCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		out.TimedOut = true
		out.ExitCode = -1
		out.Stderr = []byte(fmt.Sprintf("command timed out after %s", timeout))
		r.logger.Warn("command timed out",
			slog.String("command", argv[0]),
			slog.Duration("timeout", timeout),
		)
		return out, nil
	}

	if ctx.Err() != nil {
		out.ExitCode = -1
		return out, ctx.Err()
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			out.ExitCode = exitErr.ExitCode()
			return out, nil
		}
		// Spawn failure: missing binary, permission denied. The node
		// fails; the run continues.
		out.ExitCode = -1
		out.Stderr = []byte(err.Error())
		r.logger.Warn("command failed to start",
			slog.String("command", argv[0]),
			slog.String("error", err.Error()),
		)
		return out, nil
	}

	out.ExitCode = 0
	return out, nil
}

// limitedWriter caps how much of a stream is kept. Excess bytes are
// discarded, not an error: the process keeps writing, the capture stops.
type limitedWriter struct {
	w         io.Writer
	limit     int
	written   int
	truncated bool
}

func (lw *limitedWriter) Write(p []byte) (n int, err error) {
	full := len(p)
	if lw.written >= lw.limit {
		lw.truncated = true
		return full, nil
	}

	remaining := lw.limit - lw.written
	if len(p) > remaining {
		p = p[:remaining]
		lw.truncated = true
	}

	n, err = lw.w.Write(p)
	lw.written += n
	// Report the full length so the exec copy loop never sees a short write.
	return full, err
}
