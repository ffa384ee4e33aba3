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
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/Williwaw/cmd/williwaw/config"
	"github.com/AleutianAI/Williwaw/pkg/telemetry"
	"github.com/AleutianAI/Williwaw/pkg/ux"
	"github.com/AleutianAI/Williwaw/services/gateway"
)

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

// runServe executes the serve command.
//
// # Description
//
// Builds the solver once, performs an initial corpus build, and then
// serves the HTTP gateway until SIGINT or SIGTERM. Corpus paths are
// watched for changes when corpus.watch is enabled in the config, and
// telemetry export starts when telemetry.enabled is set.
//
// # Examples
//
//	williwaw serve
//	williwaw serve --addr :9000
//
// # Exit Codes
//
//	0 - Clean shutdown after a signal
//	2 - Startup failure or a server error
func runServe(cmd *cobra.Command, args []string) {
	os.Exit(serveMain())
}

func serveMain() int {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if config.Global.Telemetry.Enabled {
		shutdown, err := initTelemetry(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: telemetry init failed: %v\n", err)
			return CLIExitError
		}
		defer func() {
			flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer flushCancel()
			if err := shutdown(flushCtx); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: telemetry shutdown: %v\n", err)
			}
		}()
	}

	deps, err := buildSolver("gateway", false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to initialize the solver: %v\n", err)
		return CLIExitError
	}
	defer deps.Close()

	spin := ux.NewSpinner("building corpus index").WithType(ux.SpinnerWave)
	spin.Start()
	if err := deps.Solver.Rebuild(ctx); err != nil {
		spin.Stop()
		fmt.Fprintf(os.Stderr, "Error: corpus build failed: %v\n", err)
		return CLIExitError
	}
	spin.Stop()

	gcfg := buildGatewayConfig()
	svc, err := gateway.NewService(deps.Solver, gcfg, deps.Logger.Slog())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return CLIExitError
	}

	printServeBanner(gcfg)
	if err := svc.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: gateway stopped: %v\n", err)
		return CLIExitError
	}
	ux.Success("Gateway shut down cleanly")
	return CLIExitSuccess
}

// buildGatewayConfig merges the serve flags over config defaults. The
// --addr flag wins over the config file when set.
func buildGatewayConfig() gateway.Config {
	gcfg := gateway.DefaultConfig()
	srv := config.Global.Server

	if srv.Addr != "" {
		gcfg.Addr = srv.Addr
	}
	if serveAddr != "" {
		gcfg.Addr = serveAddr
	}
	if srv.RateLimit > 0 {
		gcfg.RateLimit = rate.Limit(srv.RateLimit)
	}
	if srv.RateBurst > 0 {
		gcfg.RateBurst = srv.RateBurst
	}
	if config.Global.Corpus.Watch {
		gcfg.WatchPaths = config.Global.Corpus.Paths
	}
	return gcfg
}

// initTelemetry starts trace and metric export per the config file.
// OTEL_* environment variables still apply where the file is silent.
func initTelemetry(ctx context.Context) (func(context.Context) error, error) {
	tcfg := telemetry.DefaultConfig()
	tel := config.Global.Telemetry
	if tel.TraceExporter != "" {
		tcfg.TraceExporter = tel.TraceExporter
	}
	if tel.MetricExporter != "" {
		tcfg.MetricExporter = tel.MetricExporter
	}
	if tel.OTLPEndpoint != "" {
		tcfg.OTLPEndpoint = tel.OTLPEndpoint
	}
	return telemetry.Init(ctx, tcfg)
}

func printServeBanner(gcfg gateway.Config) {
	ux.Title("Williwaw gateway")
	ux.Info(fmt.Sprintf("Listening on %s", gcfg.Addr))
	if len(config.Global.Corpus.Paths) > 0 {
		ux.Info("Corpus: " + strings.Join(config.Global.Corpus.Paths, ", "))
	} else {
		ux.Info("Corpus: builtin entries only")
	}
	if len(gcfg.WatchPaths) > 0 {
		ux.Muted("Watching corpus paths for changes")
	}
	ux.Muted("Press Ctrl+C to stop")
}
