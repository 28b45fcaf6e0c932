// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package metrics exposes process-wide Prometheus metrics for the dispatcher.
// Per-session analytics live in the analytics package; these series are aggregates.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispatch_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	// Dispatch metrics
	TurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_turns_total",
			Help: "Total dispatched turns by route reason and outcome",
		},
		[]string{"intent", "reason", "degraded"},
	)

	TurnDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dispatch_turn_duration_seconds",
			Help:    "End-to-end turn latency",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	StageFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_stage_failures_total",
			Help: "Non-fatal failures by stage and kind",
		},
		[]string{"stage", "kind"},
	)

	AgentCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_agent_calls_total",
			Help: "Agent invocations by agent and result",
		},
		[]string{"agent", "result"},
	)

	DetectedLanguages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_detected_languages_total",
			Help: "Detected message languages",
		},
		[]string{"language"},
	)

	// Session metrics
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dispatch_active_sessions",
			Help: "Sessions currently open",
		},
	)

	SessionsEnded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_sessions_ended_total",
			Help: "Ended sessions by reason",
		},
		[]string{"reason"},
	)
)
