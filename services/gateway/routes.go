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
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterRoutes registers all gateway routes with the router.
//
// Description:
//
//	Registers the solve and corpus endpoints with the given Gin router.
//	The router should already have any required middleware applied.
//
// Endpoints:
//
//	POST /v1/solve - Solve one query, returns the execution trace
//	GET  /v1/solve/ws - Solve over WebSocket with progress events
//	GET  /v1/corpus/stats - Retrieval corpus statistics
//	GET  /health - Liveness and readiness
//	GET  /metrics - Prometheus metrics
//
// Example:
//
//	handlers := gateway.NewHandlers(sol, logger)
//	router := gin.New()
//	gateway.RegisterRoutes(router, handlers)
func RegisterRoutes(router *gin.Engine, handlers *Handlers) {
	router.GET("/health", handlers.HandleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	{
		v1.POST("/solve", handlers.HandleSolve)
		v1.GET("/solve/ws", handlers.HandleSolveWS)

		corpus := v1.Group("/corpus")
		{
			corpus.GET("/stats", handlers.HandleCorpusStats)
		}
	}
}
