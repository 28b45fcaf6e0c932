// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package agent defines the contract for specialized response agents, the
// registry that names them and the invoker that calls them with timeouts and
// the fallback policy.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/traylinx/switchAIDispatch/internal/intent"
)

// NoAgent is the agent id reported on a degraded turn.
const NoAgent = "none"

var (
	// ErrUnknownAgent is returned when an agent id is not registered.
	ErrUnknownAgent = errors.New("unknown agent")
	// ErrTotalFailure marks a turn where every attempted agent failed.
	ErrTotalFailure = errors.New("all agents failed")
)

// Query is the normalized request handed to an agent.
type Query struct {
	TurnID       string        `json:"turn_id"`
	SessionID    string        `json:"session_id"`
	Text         string        `json:"text"`
	OriginalText string        `json:"original_text"`
	Language     string        `json:"language"`
	Intent       intent.Intent `json:"intent"`
	Confidence   float64       `json:"confidence"`
}

// Agent answers a query. Implementations must honor ctx cancellation where they can;
// the invoker bounds them either way.
type Agent interface {
	Answer(ctx context.Context, q Query) (string, error)
}

// Func adapts a function to Agent.
type Func func(ctx context.Context, q Query) (string, error)

// Answer implements Agent.
func (f Func) Answer(ctx context.Context, q Query) (string, error) { return f(ctx, q) }

// Registry maps agent ids to agents. It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]Agent
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]Agent)}
}

// Register adds or replaces an agent.
func (r *Registry) Register(id string, a Agent) error {
	if id == "" || id == NoAgent {
		return fmt.Errorf("agent: invalid id %q", id)
	}
	if a == nil {
		return fmt.Errorf("agent: %s: nil agent", id)
	}
	r.mu.Lock()
	r.agents[id] = a
	r.mu.Unlock()
	return nil
}

// Get returns the agent registered under id.
func (r *Registry) Get(id string) (Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	return a, ok
}

// Has reports whether id is registered.
func (r *Registry) Has(id string) bool {
	_, ok := r.Get(id)
	return ok
}

// IDs returns the registered ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.agents))
	for id := range r.agents {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
