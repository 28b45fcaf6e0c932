// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package analytics aggregates per-session usage counters from response envelopes.
package analytics

import (
	"maps"
	"sync"
	"time"

	"github.com/traylinx/switchAIDispatch/internal/interfaces"
)

// SessionStats is a point-in-time view of one session's counters.
type SessionStats struct {
	SessionID    string    `json:"session_id"`
	StartedAt    time.Time `json:"started_at"`
	LastActivity time.Time `json:"last_activity"`

	TotalQueries   int64 `json:"total_queries"`
	DegradedTurns  int64 `json:"degraded_turns"`
	TotalLatencyMs int64 `json:"total_latency_ms"`

	Languages map[string]int64 `json:"languages"`
	Intents   map[string]int64 `json:"intents"`
	// Agents counts the agent that actually answered each turn.
	Agents  map[string]int64 `json:"agents"`
	Reasons map[string]int64 `json:"reasons"`
	// Failures is keyed by "<role>-agent-<kind>", e.g. "matched-agent-timeout".
	Failures map[string]int64 `json:"failures"`
}

// AverageLatencyMs returns the mean turn latency, or 0 without turns.
func (s SessionStats) AverageLatencyMs() float64 {
	if s.TotalQueries == 0 {
		return 0
	}
	return float64(s.TotalLatencyMs) / float64(s.TotalQueries)
}

// Aggregator owns the counters of a single session.
type Aggregator struct {
	mu    sync.Mutex
	stats SessionStats
	now   func() time.Time
}

// NewAggregator creates an aggregator for sessionID.
func NewAggregator(sessionID string) *Aggregator {
	return newAggregator(sessionID, time.Now)
}

func newAggregator(sessionID string, now func() time.Time) *Aggregator {
	started := now()
	return &Aggregator{
		now: now,
		stats: SessionStats{
			SessionID:    sessionID,
			StartedAt:    started,
			LastActivity: started,
			Languages:    make(map[string]int64),
			Intents:      make(map[string]int64),
			Agents:       make(map[string]int64),
			Reasons:      make(map[string]int64),
			Failures:     make(map[string]int64),
		},
	}
}

// Record counts one envelope. Degraded and fallback envelopes count like any other,
// attributed to the agent that answered.
func (a *Aggregator) Record(env *interfaces.ResponseEnvelope) {
	if env == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	s := &a.stats
	s.TotalQueries++
	s.TotalLatencyMs += env.LatencyMs()
	s.LastActivity = a.now()
	if env.Degraded {
		s.DegradedTurns++
	}
	if env.Language != "" {
		s.Languages[env.Language]++
	}
	s.Intents[env.Intent.String()]++
	if env.AgentID != "" {
		s.Agents[env.AgentID]++
	}
	if env.Reason != "" {
		s.Reasons[string(env.Reason)]++
	}
	for _, f := range env.Failures {
		s.Failures[f.Key()]++
	}
}

// Touch marks session activity without recording a turn.
func (a *Aggregator) Touch() {
	a.mu.Lock()
	a.stats.LastActivity = a.now()
	a.mu.Unlock()
}

// LastActivity returns the time of the latest recorded turn or touch.
func (a *Aggregator) LastActivity() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats.LastActivity
}

// Snapshot returns a deep copy of the current counters.
func (a *Aggregator) Snapshot() SessionStats {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := a.stats
	out.Languages = maps.Clone(a.stats.Languages)
	out.Intents = maps.Clone(a.stats.Intents)
	out.Agents = maps.Clone(a.stats.Agents)
	out.Reasons = maps.Clone(a.stats.Reasons)
	out.Failures = maps.Clone(a.stats.Failures)
	return out
}
