// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureOutput swaps stdout and stderr for pipes while fn runs and
// returns everything written to each. Under go test neither stream is a
// terminal, so lipgloss renders plain text and assertions can match on
// content directly.
func captureOutput(t *testing.T, fn func()) (stdout, stderr string) {
	t.Helper()

	origOut, origErr := os.Stdout, os.Stderr
	outR, outW, err := os.Pipe()
	require.NoError(t, err)
	errR, errW, err := os.Pipe()
	require.NoError(t, err)

	os.Stdout, os.Stderr = outW, errW
	defer func() { os.Stdout, os.Stderr = origOut, origErr }()

	fn()

	require.NoError(t, outW.Close())
	require.NoError(t, errW.Close())
	outBytes, err := io.ReadAll(outR)
	require.NoError(t, err)
	errBytes, err := io.ReadAll(errR)
	require.NoError(t, err)
	return string(outBytes), string(errBytes)
}

// TestSuccess_ByPersonality verifies the three output shapes.
func TestSuccess_ByPersonality(t *testing.T) {
	withPersonality(t, PersonalityMachine, func() {
		stdout, _ := captureOutput(t, func() { Success("corpus built") })
		assert.Equal(t, "OK: corpus built\n", stdout)
	})
	withPersonality(t, PersonalityMinimal, func() {
		stdout, _ := captureOutput(t, func() { Success("corpus built") })
		assert.Contains(t, stdout, "✓")
		assert.Contains(t, stdout, "corpus built")
	})
	withPersonality(t, PersonalityFull, func() {
		stdout, _ := captureOutput(t, func() { Success("corpus built") })
		assert.Contains(t, stdout, "corpus built")
	})
}

// TestErrorAndWarning_MachineModeUseStderr verifies diagnostics stay
// off stdout for scripting consumers.
func TestErrorAndWarning_MachineModeUseStderr(t *testing.T) {
	withPersonality(t, PersonalityMachine, func() {
		stdout, stderr := captureOutput(t, func() {
			Warning("low confidence")
			Error("no matches")
		})
		assert.Empty(t, stdout)
		assert.Contains(t, stderr, "WARN: low confidence")
		assert.Contains(t, stderr, "ERROR: no matches")
	})
}

// TestTitleAndMuted_SilentInMachineMode verifies decorative output is
// suppressed for scripts.
func TestTitleAndMuted_SilentInMachineMode(t *testing.T) {
	withPersonality(t, PersonalityMachine, func() {
		stdout, stderr := captureOutput(t, func() {
			Title("Execution Plan")
			Muted("3 nodes")
		})
		assert.Empty(t, stdout)
		assert.Empty(t, stderr)
	})
}

// TestInfo verifies the gutter prefix in interactive modes and plain
// passthrough in machine mode.
func TestInfo(t *testing.T) {
	withPersonality(t, PersonalityMachine, func() {
		stdout, _ := captureOutput(t, func() { Info("7 entries") })
		assert.Equal(t, "7 entries\n", stdout)
	})
	withPersonality(t, PersonalityFull, func() {
		stdout, _ := captureOutput(t, func() { Info("7 entries") })
		assert.Contains(t, stdout, "│")
		assert.Contains(t, stdout, "7 entries")
	})
}

// TestNodeStatus verifies node lines per personality.
func TestNodeStatus(t *testing.T) {
	withPersonality(t, PersonalityMachine, func() {
		stdout, _ := captureOutput(t, func() {
			NodeStatus("check-volume", IconSuccess, "142ms")
		})
		assert.Equal(t, "NODE: ✓\tcheck-volume\t142ms\n", stdout)
	})
	withPersonality(t, PersonalityFull, func() {
		stdout, _ := captureOutput(t, func() {
			NodeStatus("check-volume", IconSuccess, "142ms")
		})
		assert.Contains(t, stdout, "check-volume")
		assert.Contains(t, stdout, "(142ms)")
	})
	withPersonality(t, PersonalityMinimal, func() {
		stdout, _ := captureOutput(t, func() {
			NodeStatus("check-volume", IconSuccess, "142ms")
		})
		assert.Contains(t, stdout, "check-volume")
		assert.NotContains(t, stdout, "142ms")
	})
}

// TestSummary verifies node count lines.
func TestSummary(t *testing.T) {
	withPersonality(t, PersonalityMachine, func() {
		stdout, _ := captureOutput(t, func() { Summary(2, 1, 1) })
		assert.Equal(t, "SUMMARY: succeeded=2 failed=1 skipped=1 total=4\n", stdout)
	})
	withPersonality(t, PersonalityFull, func() {
		stdout, _ := captureOutput(t, func() { Summary(3, 0, 0) })
		assert.Contains(t, stdout, "succeeded")
		assert.Contains(t, stdout, "total")
	})
}

// TestBox verifies the machine-mode fallback shape.
func TestBox(t *testing.T) {
	withPersonality(t, PersonalityMachine, func() {
		stdout, _ := captureOutput(t, func() { Box("Diagnosis", "volume is muted") })
		assert.Equal(t, "Diagnosis: volume is muted\n", stdout)
	})
	withPersonality(t, PersonalityFull, func() {
		stdout, _ := captureOutput(t, func() { Box("Diagnosis", "volume is muted") })
		assert.Contains(t, stdout, "Diagnosis")
		assert.Contains(t, stdout, "volume is muted")
	})
}

// TestWarningBox_MachineModeUsesStderr keeps warnings scriptable.
func TestWarningBox_MachineModeUsesStderr(t *testing.T) {
	withPersonality(t, PersonalityMachine, func() {
		stdout, stderr := captureOutput(t, func() {
			WarningBox("Destructive plan", "1 command modifies state")
		})
		assert.Empty(t, stdout)
		assert.Contains(t, stderr, "WARN Destructive plan: 1 command modifies state")
	})
}

// TestIconRender verifies every icon renders to a non-empty glyph.
func TestIconRender(t *testing.T) {
	icons := []Icon{
		IconSuccess, IconWarning, IconError, IconPending,
		IconSkipped, IconArrow, IconBullet, IconWave,
	}
	for _, ic := range icons {
		assert.NotEmpty(t, ic.Render())
	}
}
