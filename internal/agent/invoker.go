// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/traylinx/switchAIDispatch/internal/routing"
	"github.com/traylinx/switchAIDispatch/internal/util"
)

// DefaultApology is the answer of a degraded turn when none is configured.
const DefaultApology = "We're sorry, we could not process your request right now. Please try again in a moment."

// InvokerConfig controls per-call timeouts and the fallback policy.
type InvokerConfig struct {
	// Timeout bounds each individual agent call.
	Timeout time.Duration
	// Fallbacks are tried in order after the first agent fails, skipping agents
	// already attempted in the turn.
	Fallbacks []string
	// MaxFallbackAttempts caps the fallback calls per turn.
	MaxFallbackAttempts int
	// Apology is returned on a degraded turn.
	Apology string
}

// Outcome is the result of executing a routing decision.
type Outcome struct {
	// AgentID is the agent that produced Answer, or NoAgent when degraded.
	AgentID  string          `json:"agent_id"`
	Answer   string          `json:"answer"`
	Reason   routing.Reason  `json:"reason"`
	Degraded bool            `json:"degraded"`
	Failures []FailureRecord `json:"failures,omitempty"`
	// Attempts lists agents in the order they were called.
	Attempts []string `json:"attempts"`
	// Err is ErrTotalFailure joined with the last invocation error on a degraded turn.
	Err error `json:"-"`
}

// Invoker calls registered agents.
type Invoker struct {
	registry *Registry
	cfg      InvokerConfig
}

// NewInvoker creates an invoker over registry.
func NewInvoker(registry *Registry, cfg InvokerConfig) *Invoker {
	if cfg.MaxFallbackAttempts < 0 {
		cfg.MaxFallbackAttempts = 0
	}
	if strings.TrimSpace(cfg.Apology) == "" {
		cfg.Apology = DefaultApology
	}
	return &Invoker{registry: registry, cfg: cfg}
}

// Apology returns the configured degraded-turn answer.
func (i *Invoker) Apology() string { return i.cfg.Apology }

// Invoke calls one agent with the configured timeout. It fails with an
// *InvocationError: KindTimeout when the deadline passes, KindEmptyResponse for a
// blank answer, KindAgentError for anything else including unknown agents and panics.
func (i *Invoker) Invoke(ctx context.Context, agentID string, q Query) (string, error) {
	a, ok := i.registry.Get(agentID)
	if !ok {
		return "", &InvocationError{AgentID: agentID, Kind: KindAgentError, Err: ErrUnknownAgent}
	}

	answer, err := util.RunBounded(ctx, i.cfg.Timeout, func(ctx context.Context) (string, error) {
		return a.Answer(ctx, q)
	})
	switch {
	case err == nil:
	case errors.Is(err, util.ErrStageTimeout), errors.Is(err, context.DeadlineExceeded):
		return "", &InvocationError{AgentID: agentID, Kind: KindTimeout, Err: err}
	default:
		return "", &InvocationError{AgentID: agentID, Kind: KindAgentError, Err: err}
	}

	answer = strings.TrimSpace(answer)
	if answer == "" {
		return "", &InvocationError{AgentID: agentID, Kind: KindEmptyResponse}
	}
	return answer, nil
}

// Execute applies the fallback policy to d. The first call goes to d.AgentID.
// If it fails, the fallback chain is tried, never calling the same agent twice,
// up to MaxFallbackAttempts calls. A fallback success reports
// ReasonAgentErrorFallback. When every attempt fails the outcome is degraded.
func (i *Invoker) Execute(ctx context.Context, d routing.Decision, q Query) Outcome {
	out := Outcome{Reason: d.Reason}
	tried := make(map[string]struct{}, 1+len(i.cfg.Fallbacks))

	firstRole := RoleMatched
	if d.Reason == routing.ReasonLowConfidenceFallback {
		firstRole = RoleFallback
	}

	answer, err := i.attempt(ctx, d.AgentID, firstRole, q, &out, tried)
	if err == nil {
		out.AgentID, out.Answer = d.AgentID, answer
		return out
	}
	lastErr := err

	remaining := i.cfg.MaxFallbackAttempts
	for _, id := range i.cfg.Fallbacks {
		if remaining <= 0 {
			break
		}
		if _, done := tried[id]; done || id == "" {
			continue
		}
		remaining--
		out.Reason = routing.ReasonAgentErrorFallback

		answer, err := i.attempt(ctx, id, RoleFallback, q, &out, tried)
		if err == nil {
			out.AgentID, out.Answer = id, answer
			return out
		}
		lastErr = err
	}

	out.AgentID = NoAgent
	out.Answer = i.cfg.Apology
	out.Degraded = true
	out.Err = fmt.Errorf("%w: %w", ErrTotalFailure, lastErr)
	return out
}

func (i *Invoker) attempt(ctx context.Context, id string, role Role, q Query, out *Outcome, tried map[string]struct{}) (string, error) {
	tried[id] = struct{}{}
	out.Attempts = append(out.Attempts, id)

	answer, err := i.Invoke(ctx, id, q)
	if err != nil {
		rec := FailureRecord{Role: role, Kind: KindOf(err), AgentID: id}
		out.Failures = append(out.Failures, rec)
		log.WithFields(log.Fields{
			"request_id": q.TurnID,
			"session_id": q.SessionID,
			"agent":      id,
			"role":       role,
		}).Warnf("agent call failed: %v", err)
		return "", err
	}
	return answer, nil
}
