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
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "williwaw"
	gatewaySubsystem = "gateway"
)

// Metrics holds the Prometheus metrics for the gateway.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal
// locking.
type Metrics struct {
	// RequestsTotal counts HTTP requests by route and status code class.
	// Labels: endpoint, status
	RequestsTotal *prometheus.CounterVec

	// RequestDurationSeconds measures per-route handler latency.
	// Labels: endpoint
	RequestDurationSeconds *prometheus.HistogramVec

	// SolvesTotal counts solved queries by trace status.
	// Labels: status (COMPLETED, COMPLETED_WITH_FAILURES, CANCELLED, REJECTED)
	SolvesTotal *prometheus.CounterVec

	// ActiveWebsockets tracks open /v1/solve/ws sessions.
	ActiveWebsockets prometheus.Gauge
}

var (
	defaultMetrics *Metrics
	metricsOnce    sync.Once
)

// InitMetrics initializes and registers the gateway metrics once.
//
// Repeated calls return the same instance, so test setup can call it
// freely without tripping duplicate registration.
func InitMetrics() *Metrics {
	metricsOnce.Do(func() {
		defaultMetrics = &Metrics{
			RequestsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metricsNamespace,
					Subsystem: gatewaySubsystem,
					Name:      "requests_total",
					Help:      "HTTP requests by endpoint and status code",
				},
				[]string{"endpoint", "status"},
			),
			RequestDurationSeconds: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: metricsNamespace,
					Subsystem: gatewaySubsystem,
					Name:      "request_duration_seconds",
					Help:      "Handler latency by endpoint",
					Buckets:   []float64{0.005, 0.025, 0.1, 0.5, 1, 5, 15, 60},
				},
				[]string{"endpoint"},
			),
			SolvesTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metricsNamespace,
					Subsystem: gatewaySubsystem,
					Name:      "solves_total",
					Help:      "Solved queries by overall trace status",
				},
				[]string{"status"},
			),
			ActiveWebsockets: promauto.NewGauge(
				prometheus.GaugeOpts{
					Namespace: metricsNamespace,
					Subsystem: gatewaySubsystem,
					Name:      "active_websockets",
					Help:      "Open solve websocket sessions",
				},
			),
		}
	})
	return defaultMetrics
}
