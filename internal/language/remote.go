// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package language

import (
	"context"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/tidwall/gjson"

	"github.com/traylinx/switchAIDispatch/internal/provider"
)

const detectSystemPrompt = `You identify the language of customer messages.
Reply with a single JSON object: {"language": "<ISO 639-1 code>", "confidence": <0.0-1.0>}.
If the language cannot be determined, use {"language": "und", "confidence": 0}.`

// RemoteProvider asks an LLM to identify the language.
type RemoteProvider struct {
	client provider.Completer
}

// NewRemoteProvider wraps a completion client.
func NewRemoteProvider(client provider.Completer) *RemoteProvider {
	return &RemoteProvider{client: client}
}

// DetectLanguage implements Provider.
func (p *RemoteProvider) DetectLanguage(ctx context.Context, text string) (DetectedLanguage, error) {
	out, err := provider.Ask(ctx, p.client, detectSystemPrompt, text)
	if err != nil {
		return DetectedLanguage{}, err
	}
	obj := provider.ExtractJSONObject(out)
	if obj == "" || !gjson.Valid(obj) {
		return DetectedLanguage{}, fmt.Errorf("language: malformed detection output %q", out)
	}
	res := gjson.Parse(obj)
	return DetectedLanguage{
		Code:       res.Get("language").String(),
		Confidence: res.Get("confidence").Float(),
	}, nil
}

const translateSystemPrompt = `You translate airline customer messages.
Translate the user's message from %s to %s. Preserve flight numbers, names, dates and amounts.
Reply with the translation only.`

// RemoteTranslator translates through an LLM.
type RemoteTranslator struct {
	client provider.Completer
}

// NewRemoteTranslator wraps a completion client.
func NewRemoteTranslator(client provider.Completer) *RemoteTranslator {
	return &RemoteTranslator{client: client}
}

// Translate implements Translator.
func (t *RemoteTranslator) Translate(ctx context.Context, text, from, to string) (string, error) {
	out, err := provider.Ask(ctx, t.client, fmt.Sprintf(translateSystemPrompt, from, to), text)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// CachedTranslator memoizes translations in a bounded LRU cache.
type CachedTranslator struct {
	inner Translator
	cache *lru.Cache[string, string]
}

// NewCachedTranslator wraps inner with an LRU cache of size entries.
func NewCachedTranslator(inner Translator, size int) (*CachedTranslator, error) {
	if size <= 0 {
		size = 512
	}
	cache, err := lru.New[string, string](size)
	if err != nil {
		return nil, fmt.Errorf("language: create translation cache: %w", err)
	}
	return &CachedTranslator{inner: inner, cache: cache}, nil
}

// Translate implements Translator.
func (t *CachedTranslator) Translate(ctx context.Context, text, from, to string) (string, error) {
	key := from + "\x00" + to + "\x00" + text
	if v, ok := t.cache.Get(key); ok {
		return v, nil
	}
	v, err := t.inner.Translate(ctx, text, from, to)
	if err != nil {
		return "", err
	}
	t.cache.Add(key, v)
	return v, nil
}

// Len returns the number of cached translations.
func (t *CachedTranslator) Len() int { return t.cache.Len() }
