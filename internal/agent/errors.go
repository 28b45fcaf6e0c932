// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package agent

import (
	"errors"
	"fmt"

	"github.com/traylinx/switchAIDispatch/internal/util"
)

// FailureKind classifies an agent failure.
type FailureKind string

const (
	KindTimeout       FailureKind = "timeout"
	KindAgentError    FailureKind = "error"
	KindEmptyResponse FailureKind = "empty"
)

// Role tells whether the failing agent was the routed agent or a fallback.
type Role string

const (
	RoleMatched  Role = "matched"
	RoleFallback Role = "fallback"
)

// InvocationError is returned by Invoker.Invoke.
type InvocationError struct {
	AgentID string
	Kind    FailureKind
	Err     error
}

func (e *InvocationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("agent %s: %s", e.AgentID, e.Kind)
	}
	return fmt.Sprintf("agent %s: %s: %v", e.AgentID, e.Kind, e.Err)
}

func (e *InvocationError) Unwrap() error { return e.Err }

// KindOf returns the failure kind of err. Errors that are not invocation errors
// are treated as agent errors.
func KindOf(err error) FailureKind {
	var ie *InvocationError
	if errors.As(err, &ie) {
		return ie.Kind
	}
	if errors.Is(err, util.ErrStageTimeout) {
		return KindTimeout
	}
	return KindAgentError
}

// FailureRecord is one failed attempt within a turn.
type FailureRecord struct {
	Role    Role        `json:"role"`
	Kind    FailureKind `json:"kind"`
	AgentID string      `json:"agent_id"`
}

// Key is the analytics counter name, e.g. "matched-agent-timeout".
func (f FailureRecord) Key() string {
	return string(f.Role) + "-agent-" + string(f.Kind)
}
