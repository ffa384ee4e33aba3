// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/Williwaw/cmd/williwaw/config"
	"github.com/AleutianAI/Williwaw/pkg/ux"
	"github.com/AleutianAI/Williwaw/services/catalog"
)

// runCorpusList executes corpus list.
func runCorpusList(cmd *cobra.Command, args []string) {
	os.Exit(corpusList())
}

// corpusList loads the configured corpus, builtin entries included,
// without building an index, and prints every entry.
func corpusList() int {
	start := time.Now()
	out := OutputConfig{JSON: corpusJSON}
	logger := buildLogger("cli", corpusJSON)
	defer logger.Close()

	cat, err := catalog.Load(config.Global.Corpus.Paths, &catalog.LoadOptions{
		IncludeBuiltin: true,
		Logger:         logger.Slog(),
	})
	if err != nil {
		return OutputResult(out, "corpus list", start, nil, false, err)
	}

	result := CorpusListResult{Count: cat.Len()}
	for _, e := range cat.Entries() {
		result.Entries = append(result.Entries, CorpusEntrySummary{
			ID:       e.ID,
			Title:    e.Title,
			Kind:     string(e.Kind),
			Tags:     e.Tags,
			ReadOnly: e.ReadOnly,
		})
	}

	if !corpusJSON {
		ux.Title(fmt.Sprintf("Corpus entries (%d)", cat.Len()))
		for _, e := range cat.Entries() {
			kind := "doc"
			if e.Kind == catalog.KindCommand {
				kind = "cmd"
			}
			marker := ""
			if e.Kind == catalog.KindCommand && !e.ReadOnly {
				marker = "  [writes]"
			}
			fmt.Printf("  %-32s [%s] %s%s\n", e.ID, kind, e.Title, marker)
		}
	}
	return OutputResult(out, "corpus list", start, result, false, nil)
}

// runCorpusStats executes corpus stats.
func runCorpusStats(cmd *cobra.Command, args []string) {
	os.Exit(corpusStats())
}

// corpusStats builds the retrieval index once and reports what it holds.
// Unlike corpus list this exercises the configured embedder, so it also
// verifies that the embedding backend is reachable.
func corpusStats() int {
	start := time.Now()
	out := OutputConfig{JSON: corpusJSON}

	deps, err := buildSolver("cli", corpusJSON)
	if err != nil {
		return OutputResult(out, "corpus stats", start, nil, false, err)
	}
	defer deps.Close()

	spin := ux.NewSpinner("building corpus index").WithType(ux.SpinnerWave)
	spin.Start()
	err = deps.Solver.Rebuild(context.Background())
	spin.Stop()
	if err != nil {
		return OutputResult(out, "corpus stats", start, nil, false, err)
	}

	st := deps.Solver.Stats()
	result := CorpusStatsResult{
		Entries:       st.Entries,
		Commands:      st.Commands,
		Documentation: st.Documentation,
		Dimensions:    st.Dimensions,
		Model:         st.Model,
		BuiltAt:       st.BuiltAt.Format(time.RFC3339),
		Paths:         config.Global.Corpus.Paths,
	}

	if !corpusJSON {
		ux.Title("Corpus statistics")
		ux.Info(fmt.Sprintf("Entries: %d (%d commands, %d documentation)",
			st.Entries, st.Commands, st.Documentation))
		ux.Info(fmt.Sprintf("Vector dimensions: %d", st.Dimensions))
		ux.Info(fmt.Sprintf("Embedding model: %s", st.Model))
		ux.Info(fmt.Sprintf("Built at: %s", st.BuiltAt.Format(time.RFC3339)))
		if len(result.Paths) > 0 {
			ux.Muted("Paths: " + strings.Join(result.Paths, ", "))
		}
	}
	return OutputResult(out, "corpus stats", start, result, false, nil)
}

// runCorpusValidate executes corpus validate.
func runCorpusValidate(cmd *cobra.Command, args []string) {
	os.Exit(corpusValidate(args))
}

// corpusValidate checks corpus files without building an index. Each
// path is validated on its own for localized errors, then everything is
// loaded together with the builtin corpus to catch cross-file duplicate
// IDs and builtin collisions.
func corpusValidate(args []string) int {
	start := time.Now()
	out := OutputConfig{JSON: corpusJSON}
	logger := buildLogger("cli", corpusJSON)
	defer logger.Close()

	paths := args
	if len(paths) == 0 {
		paths = config.Global.Corpus.Paths
	}

	perPath := &catalog.LoadOptions{Logger: logger.Slog()}
	result := CorpusValidateResult{Paths: paths, Valid: true}
	for _, p := range paths {
		if _, err := catalog.Load([]string{p}, perPath); err != nil {
			result.Valid = false
			msg := err.Error()
			if errors.Is(err, catalog.ErrEmptyCorpus) {
				msg = "no entries found"
			}
			result.Issues = append(result.Issues, ValidationIssue{Path: p, Message: msg})
		}
	}
	if result.Valid {
		cat, err := catalog.Load(paths, &catalog.LoadOptions{
			IncludeBuiltin: true,
			Logger:         logger.Slog(),
		})
		if err != nil {
			result.Valid = false
			result.Issues = append(result.Issues, ValidationIssue{Message: err.Error()})
		} else {
			result.Entries = cat.Len()
		}
	}

	if !corpusJSON {
		for _, issue := range result.Issues {
			if issue.Path != "" {
				ux.Error(fmt.Sprintf("%s: %s", issue.Path, issue.Message))
			} else {
				ux.Error(issue.Message)
			}
		}
		if result.Valid {
			if len(paths) == 0 {
				ux.Success(fmt.Sprintf("builtin corpus valid: %d entries", result.Entries))
			} else {
				ux.Success(fmt.Sprintf("corpus valid: %d entries", result.Entries))
			}
		}
	}
	return OutputResult(out, "corpus validate", start, result, !result.Valid, nil)
}
