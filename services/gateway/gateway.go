// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package gateway exposes the solver over HTTP: a JSON solve endpoint,
// a WebSocket variant streaming executor progress, corpus statistics,
// and the usual health and metrics surfaces.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/Williwaw/services/catalog"
	"github.com/AleutianAI/Williwaw/services/solver"
)

// Config tunes the gateway service.
type Config struct {
	// Addr is the listen address, e.g. ":12310".
	Addr string

	// RateLimit is the request admission rate in requests per second.
	RateLimit rate.Limit

	// RateBurst is the admission burst size.
	RateBurst int

	// ShutdownTimeout bounds the drain of in-flight requests.
	ShutdownTimeout time.Duration

	// RebuildTimeout bounds one watcher-triggered corpus rebuild.
	RebuildTimeout time.Duration

	// WatchPaths are corpus directories watched for changes. Empty
	// disables watching.
	WatchPaths []string
}

// DefaultConfig returns the default gateway configuration.
func DefaultConfig() Config {
	return Config{
		Addr:            ":12310",
		RateLimit:       20,
		RateBurst:       40,
		ShutdownTimeout: 10 * time.Second,
		RebuildTimeout:  2 * time.Minute,
	}
}

// Service is the HTTP gateway around a solver.
type Service struct {
	solver   *solver.Solver
	cfg      Config
	logger   *slog.Logger
	handlers *Handlers
}

// NewService creates a gateway service.
//
// Inputs:
//
//	sol - The solver to expose. Must be non-nil.
//	cfg - Gateway configuration; zero fields take defaults.
//	logger - Structured logger. Nil uses slog.Default().
func NewService(sol *solver.Solver, cfg Config, logger *slog.Logger) (*Service, error) {
	if sol == nil {
		return nil, errors.New("gateway: solver must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.Addr == "" {
		cfg.Addr = def.Addr
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = def.RateLimit
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = def.RateBurst
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	if cfg.RebuildTimeout <= 0 {
		cfg.RebuildTimeout = def.RebuildTimeout
	}
	return &Service{
		solver:   sol,
		cfg:      cfg,
		logger:   logger,
		handlers: NewHandlers(sol, logger),
	}, nil
}

// Router builds the gin engine with the gateway middleware chain.
func (s *Service) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("williwaw-gateway"))
	router.Use(RequestID())
	router.Use(Observe(s.handlers.metrics))
	router.Use(RateLimit(rate.NewLimiter(s.cfg.RateLimit, s.cfg.RateBurst)))

	RegisterRoutes(router, s.handlers)
	return router
}

// Run serves until the context is cancelled, then drains gracefully.
//
// Description:
//
//	Starts the corpus watcher when watch paths are configured, serves
//	HTTP on the configured address, and on cancellation stops the
//	watcher and shuts the server down within ShutdownTimeout. Returns
//	nil on a clean shutdown.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	watcher, err := s.startWatcher(ctx)
	if err != nil {
		return err
	}
	if watcher != nil {
		defer watcher.Stop()
	}

	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("gateway listening", slog.String("addr", s.cfg.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("gateway serve failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("gateway shutting down",
		slog.Duration("timeout", s.cfg.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("gateway shutdown failed: %w", err)
	}
	return nil
}

// startWatcher wires corpus file changes to solver rebuilds.
func (s *Service) startWatcher(ctx context.Context) (*catalog.Watcher, error) {
	if len(s.cfg.WatchPaths) == 0 {
		return nil, nil
	}

	watcher, err := catalog.NewWatcher(s.cfg.WatchPaths, func(changed []string) {
		rebuildCtx, cancel := context.WithTimeout(context.Background(), s.cfg.RebuildTimeout)
		defer cancel()
		if err := s.solver.Rebuild(rebuildCtx); err != nil {
			s.logger.Error("corpus rebuild failed",
				slog.Int("changed", len(changed)),
				slog.String("error", err.Error()))
			return
		}
		s.logger.Info("corpus rebuilt from watcher", slog.Int("changed", len(changed)))
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("corpus watcher setup failed: %w", err)
	}
	if err := watcher.Start(ctx); err != nil {
		return nil, fmt.Errorf("corpus watcher start failed: %w", err)
	}
	s.logger.Info("corpus watcher started",
		slog.Int("paths", len(s.cfg.WatchPaths)))
	return watcher, nil
}
