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
	"strings"
	"testing"
	"time"
)

func TestProcessRunner_Run_CapturesOutput(t *testing.T) {
	runner := NewProcessRunner(nil)

	out, err := runner.Run(context.Background(), []string{"echo", "hello"}, nil, 0)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if out.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", out.ExitCode)
	}
	if got := string(out.Stdout); got != "hello\n" {
		t.Errorf("Stdout = %q, want %q", got, "hello\n")
	}
	if out.TimedOut {
		t.Error("TimedOut = true, want false")
	}
	if out.Truncated {
		t.Error("Truncated = true, want false")
	}
	if out.Duration <= 0 {
		t.Errorf("Duration = %v, want > 0", out.Duration)
	}
}

func TestProcessRunner_Run_NonzeroExit(t *testing.T) {
	runner := NewProcessRunner(nil)

	out, err := runner.Run(context.Background(), []string{"false"}, nil, time.Second)
	if err != nil {
		t.Fatalf("Run() error = %v; nonzero exits are data, not errors", err)
	}

	if out.ExitCode != 1 {
		t.Errorf("ExitCode = %d, want 1", out.ExitCode)
	}
}

func TestProcessRunner_Run_ExitCodePreserved(t *testing.T) {
	runner := NewProcessRunner(nil)

	out, err := runner.Run(context.Background(), []string{"sh", "-c", "exit 3"}, nil, time.Second)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if out.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", out.ExitCode)
	}
}

func TestProcessRunner_Run_Stdin(t *testing.T) {
	runner := NewProcessRunner(nil)

	out, err := runner.Run(context.Background(), []string{"wc", "-c"}, []byte("hello\n"), time.Second)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if out.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", out.ExitCode)
	}
	if got := strings.TrimSpace(string(out.Stdout)); got != "6" {
		t.Errorf("Stdout = %q, want %q", got, "6")
	}
}

func TestProcessRunner_Run_Timeout(t *testing.T) {
	runner := NewProcessRunner(nil)

	start := time.Now()
	out, err := runner.Run(context.Background(), []string{"sleep", "5"}, nil, 100*time.Millisecond)
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("Run() error = %v; timeouts are data, not errors", err)
	}

	if !out.TimedOut {
		t.Error("TimedOut = false, want true")
	}
	if out.ExitCode != -1 {
		t.Errorf("ExitCode = %d, want -1", out.ExitCode)
	}
	if got := string(out.Stderr); !strings.Contains(got, "timed out after") {
		t.Errorf("Stderr = %q, want timeout message", got)
	}
	if elapsed > 3*time.Second {
		t.Errorf("elapsed = %v, process group was not killed promptly", elapsed)
	}
}

func TestProcessRunner_Run_Cancelled(t *testing.T) {
	runner := NewProcessRunner(nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := runner.Run(ctx, []string{"sleep", "5"}, nil, 10*time.Second)
	elapsed := time.Since(start)

	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want %v", err, context.Canceled)
	}
	if elapsed > 3*time.Second {
		t.Errorf("elapsed = %v, cancellation did not kill the process promptly", elapsed)
	}
}

func TestProcessRunner_Run_MissingBinary(t *testing.T) {
	runner := NewProcessRunner(nil)

	out, err := runner.Run(context.Background(), []string{"no-such-binary-anywhere"}, nil, time.Second)
	if err != nil {
		t.Fatalf("Run() error = %v; spawn failures are data, not errors", err)
	}

	if out.ExitCode != -1 {
		t.Errorf("ExitCode = %d, want -1", out.ExitCode)
	}
	if len(out.Stderr) == 0 {
		t.Error("Stderr should describe the spawn failure")
	}
}

func TestProcessRunner_Run_TruncatesOutput(t *testing.T) {
	runner := NewProcessRunner(nil)
	runner.SetMaxOutputBytes(16)

	out, err := runner.Run(context.Background(), []string{"echo", strings.Repeat("x", 100)}, nil, time.Second)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if !out.Truncated {
		t.Error("Truncated = false, want true")
	}
	if len(out.Stdout) != 16 {
		t.Errorf("len(Stdout) = %d, want 16", len(out.Stdout))
	}
	// Truncation must not fail the process itself.
	if out.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", out.ExitCode)
	}
}

func TestProcessRunner_Run_InvalidInput(t *testing.T) {
	runner := NewProcessRunner(nil)

	t.Run("nil context", func(t *testing.T) {
		//nolint:staticcheck // passing nil context is the case under test
		_, err := runner.Run(nil, []string{"true"}, nil, time.Second)
		if !errors.Is(err, ErrNilContext) {
			t.Errorf("error = %v, want %v", err, ErrNilContext)
		}
	})

	t.Run("empty argv", func(t *testing.T) {
		_, err := runner.Run(context.Background(), nil, nil, time.Second)
		if !errors.Is(err, ErrInvalidCommand) {
			t.Errorf("error = %v, want %v", err, ErrInvalidCommand)
		}
	})
}
