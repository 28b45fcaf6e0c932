// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package interfaces defines the structures shared by the dispatcher, the analytics
// aggregator and the API layer for a single conversational turn.
package interfaces

import (
	"time"

	"github.com/traylinx/switchAIDispatch/internal/agent"
	"github.com/traylinx/switchAIDispatch/internal/intent"
	"github.com/traylinx/switchAIDispatch/internal/routing"
)

// Message is one inbound customer message. It is not modified after creation.
type Message struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	Text       string    `json:"text"`
	ReceivedAt time.Time `json:"received_at"`
}

// State is a step of the per-message dispatch state machine.
type State string

const (
	StateReceived         State = "received"
	StateLanguageDetected State = "language_detected"
	StateIntentClassified State = "intent_classified"
	StateRouted           State = "routed"
	StateInvoked          State = "invoked"
	StateDegraded         State = "degraded"
	StateRecorded         State = "recorded"
	StateCompleted        State = "completed"
)

// ResponseEnvelope is the single result produced for every Message.
type ResponseEnvelope struct {
	TurnID    string `json:"turn_id"`
	SessionID string `json:"session_id"`
	Answer    string `json:"answer"`

	Language           string  `json:"language"`
	LanguageConfidence float64 `json:"language_confidence"`
	// Translated is set when the agents saw a working-language translation.
	Translated bool `json:"translated"`

	Intent           intent.Intent `json:"intent"`
	IntentConfidence float64       `json:"intent_confidence"`

	// AgentID is the agent that answered, or agent.NoAgent on a degraded turn.
	AgentID        string         `json:"agent_id"`
	MatchedAgentID string         `json:"matched_agent_id"`
	Reason         routing.Reason `json:"reason"`
	Rule           string         `json:"rule,omitempty"`

	Degraded bool                  `json:"degraded"`
	Failures []agent.FailureRecord `json:"failures,omitempty"`
	States   []State               `json:"states"`

	StartedAt time.Time     `json:"started_at"`
	Latency   time.Duration `json:"latency"`
}

// LatencyMs returns the envelope latency in milliseconds.
func (e *ResponseEnvelope) LatencyMs() int64 {
	return e.Latency.Milliseconds()
}
