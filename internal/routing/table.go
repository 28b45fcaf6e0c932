// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package routing maps classified intents to agent identifiers.
// The table is total over the intent enumeration: every intent resolves to a
// non-empty agent id, and General is always bound to the fallback agent.
package routing

import (
	"errors"
	"fmt"
	"strings"

	"github.com/traylinx/switchAIDispatch/internal/intent"
)

// Reason explains why a turn was routed to its agent.
type Reason string

const (
	// ReasonDirectMatch means the agent bound to the classified intent was used.
	ReasonDirectMatch Reason = "direct-match"
	// ReasonLowConfidenceFallback means classification confidence was below threshold
	// and the fallback agent was used without calling the matched agent.
	ReasonLowConfidenceFallback Reason = "low-confidence-fallback"
	// ReasonAgentErrorFallback means the first agent failed and a fallback agent answered.
	ReasonAgentErrorFallback Reason = "agent-error-fallback"
)

// Decision is the outcome of routing one turn.
type Decision struct {
	Intent intent.Intent `json:"intent"`
	// AgentID is the agent to invoke first.
	AgentID string `json:"agent_id"`
	// MatchedAgentID is the agent bound to Intent, which may differ from AgentID
	// for low-confidence fallbacks or rule overrides.
	MatchedAgentID string `json:"matched_agent_id"`
	Reason         Reason `json:"reason"`
	// Rule names the override rule that selected AgentID, if any.
	Rule string `json:"rule,omitempty"`
}

// ErrNoFallback is returned when a table is built without a fallback agent.
var ErrNoFallback = errors.New("routing: fallback agent id is required")

// Table is a static intent to agent mapping plus a fallback agent.
type Table struct {
	agents   [intent.Count]string
	fallback string
}

// NewTable builds a total routing table. Intents without a binding resolve to the
// fallback agent. A General binding that differs from fallback is rejected.
func NewTable(bindings map[intent.Intent]string, fallback string) (*Table, error) {
	fallback = strings.TrimSpace(fallback)
	if fallback == "" {
		return nil, ErrNoFallback
	}
	t := &Table{fallback: fallback}
	for i := range t.agents {
		t.agents[i] = fallback
	}
	for in, id := range bindings {
		if !in.Valid() {
			return nil, fmt.Errorf("routing: invalid intent %d in bindings", int(in))
		}
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if in == intent.General && id != fallback {
			return nil, fmt.Errorf("routing: General must be bound to the fallback agent %q, got %q", fallback, id)
		}
		t.agents[in] = id
	}
	return t, nil
}

// Resolve returns the agent bound to in. Out-of-range values resolve to the fallback.
func (t *Table) Resolve(in intent.Intent) string {
	if !in.Valid() {
		return t.fallback
	}
	return t.agents[in]
}

// Fallback returns the fallback agent id.
func (t *Table) Fallback() string {
	return t.fallback
}

// AgentIDs returns the distinct agent ids referenced by the table.
func (t *Table) AgentIDs() []string {
	seen := make(map[string]struct{}, intent.Count)
	out := make([]string, 0, intent.Count)
	for _, id := range t.agents {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Bindings returns a copy of the table as a map.
func (t *Table) Bindings() map[intent.Intent]string {
	out := make(map[intent.Intent]string, intent.Count)
	for i, id := range t.agents {
		out[intent.Intent(i)] = id
	}
	return out
}

// Route resolves c against the table, sending results under threshold to the
// fallback agent.
func (t *Table) Route(c intent.Classified, threshold float64) Decision {
	matched := t.Resolve(c.Intent)
	d := Decision{
		Intent:         c.Intent,
		AgentID:        matched,
		MatchedAgentID: matched,
		Reason:         ReasonDirectMatch,
	}
	if c.Below(threshold) {
		d.AgentID = t.fallback
		d.Reason = ReasonLowConfidenceFallback
	}
	return d
}
