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
	"fmt"
	"os"

	"github.com/AleutianAI/Williwaw/cmd/williwaw/config"
	"github.com/AleutianAI/Williwaw/pkg/ux"
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	configPath       string // Path to williwaw.yaml, overrides WILLIWAW_CONFIG
	personalityLevel string // UX personality level (full/minimal/machine)

	// solve flags
	solveLimit      int
	solveMinScore   float64
	solveExplain    bool
	solveWorkers    int
	solveTimeout    string // Per-node timeout as a Go duration, e.g. "30s"
	solvePlanOnly   bool
	solveOutput     string // text or json
	solveFormatFile string
	solveYes        bool

	// corpus flags
	corpusJSON bool

	// serve flags
	serveAddr string

	rootCmd = &cobra.Command{
		Use:   "williwaw",
		Short: "A cli that turns plain-language system questions into diagnostic command runs",
		Long: `Williwaw retrieves matching commands from a knowledge corpus, plans
				them as a dependency graph, executes the graph with bounded
				concurrency, and explains what the outputs mean.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Initialize UX personality from flag or environment
			if personalityLevel != "" {
				ux.SetPersonalityLevel(ux.ParsePersonalityLevel(personalityLevel))
			} else {
				ux.InitPersonality()
			}
			if configPath != "" {
				config.SetPath(configPath)
			}
			if err := config.Load(); err != nil {
				fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
				os.Exit(CLIExitError)
			}
		},
	}

	// --- Solve ---
	solveCmd = &cobra.Command{
		Use:   "solve [query]",
		Short: "Answer a system question by planning and running diagnostic commands",
		Args:  cobra.MinimumNArgs(1),
		Run:   runSolve, // Defined in cmd_solve.go
	}

	// --- Corpus ---
	corpusCmd = &cobra.Command{
		Use:   "corpus",
		Short: "Inspect and validate the knowledge corpus",
	}
	corpusListCmd = &cobra.Command{
		Use:   "list",
		Short: "List every entry the configured corpus holds",
		Run:   runCorpusList, // Defined in cmd_corpus.go
	}
	corpusStatsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Build the index once and report corpus statistics",
		Run:   runCorpusStats, // Defined in cmd_corpus.go
	}
	corpusValidateCmd = &cobra.Command{
		Use:   "validate [path...]",
		Short: "Validate corpus YAML files without building an index",
		Run:   runCorpusValidate, // Defined in cmd_corpus.go
	}

	// --- Serve ---
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the Williwaw HTTP gateway",
		Run:   runServe, // Defined in cmd_serve.go
	}
)

// init runs when the Go program starts
func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&personalityLevel, "personality", "",
		"Output style: full (default, rich nautical), minimal, or machine (scripting)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Path to williwaw.yaml (default ~/.williwaw/williwaw.yaml)")

	rootCmd.AddCommand(solveCmd)
	solveCmd.Flags().IntVarP(&solveLimit, "limit", "l", 5, "Maximum corpus matches to retrieve")
	solveCmd.Flags().Float64Var(&solveMinScore, "min-score", 0.30, "Minimum similarity score for a match to count")
	solveCmd.Flags().BoolVar(&solveExplain, "explain", false, "Annotate outputs and suggest remediation (needs a model backend)")
	solveCmd.Flags().IntVar(&solveWorkers, "workers", 0, "Concurrent node executors (0 = config value)")
	solveCmd.Flags().StringVar(&solveTimeout, "timeout", "", "Per-node timeout, e.g. '30s' (empty = config value)")
	solveCmd.Flags().BoolVar(&solvePlanOnly, "plan-only", false, "Build and print the plan without executing any command")
	solveCmd.Flags().StringVarP(&solveOutput, "output", "o", "text", "Output format: text or json")
	solveCmd.Flags().StringVar(&solveFormatFile, "format-file", "", "Also write the full JSON trace to this file")
	solveCmd.Flags().BoolVar(&solveYes, "yes", false, "Skip the confirmation prompt for plans that modify the system")

	rootCmd.AddCommand(corpusCmd)
	corpusCmd.PersistentFlags().BoolVar(&corpusJSON, "json", false, "Emit machine-readable JSON")
	corpusCmd.AddCommand(corpusListCmd)
	corpusCmd.AddCommand(corpusStatsCmd)
	corpusCmd.AddCommand(corpusValidateCmd)

	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address, e.g. ':12310' (empty = config value)")
}
