// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package agent

import (
	"context"
	"strings"
)

// StaticAgent returns a fixed answer. It is the default general-purpose agent.
type StaticAgent struct {
	answer string
}

// NewStaticAgent creates a static agent. The answer may contain {{text}}, which is
// replaced by the query text.
func NewStaticAgent(answer string) *StaticAgent {
	return &StaticAgent{answer: answer}
}

// Answer implements Agent.
func (s *StaticAgent) Answer(_ context.Context, q Query) (string, error) {
	return strings.ReplaceAll(s.answer, "{{text}}", q.Text), nil
}
