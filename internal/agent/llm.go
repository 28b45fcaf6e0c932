// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/traylinx/switchAIDispatch/internal/provider"
)

// LLMAgent answers with a chat completion, optionally grounded on documents
// retrieved from a KnowledgeBase.
type LLMAgent struct {
	client provider.Completer
	system string
	kb     *KnowledgeBase
	topK   int
}

// NewLLMAgent creates an LLM-backed agent. kb may be nil.
func NewLLMAgent(client provider.Completer, systemPrompt string, kb *KnowledgeBase, topK int) *LLMAgent {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &LLMAgent{client: client, system: systemPrompt, kb: kb, topK: topK}
}

// Answer implements Agent.
func (a *LLMAgent) Answer(ctx context.Context, q Query) (string, error) {
	system := a.system
	if a.kb != nil {
		docs, err := a.kb.Search(q.Text, a.topK)
		if err != nil {
			return "", fmt.Errorf("knowledge retrieval: %w", err)
		}
		system = withContext(system, docs)
	}

	user := q.Text
	if q.Language != "" && q.OriginalText != "" && q.OriginalText != q.Text {
		user = fmt.Sprintf("%s\n\n(The customer wrote in %q: %s)", q.Text, q.Language, q.OriginalText)
	}
	return provider.Ask(ctx, a.client, system, user)
}

func withContext(system string, docs []Document) string {
	if len(docs) == 0 {
		return system
	}
	var b strings.Builder
	b.WriteString(system)
	b.WriteString("\n\nAnswer using only the following context. If the answer is not in the context, say you don't know.\n")
	for _, d := range docs {
		b.WriteString("\n---\n")
		if d.Title != "" {
			b.WriteString(d.Title)
			b.WriteString("\n")
		}
		b.WriteString(d.Content)
	}
	return b.String()
}
