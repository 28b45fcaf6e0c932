// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package classifier maps working-language text to one of the closed set of intents.
// It provides a fast keyword tier (reflex), an LLM tier (cognitive) and a tiered
// classifier that consults the LLM only when the reflex tier is unsure.
//
// Results are best-effort: the cognitive tier is backed by a remote model and is not
// assumed to be deterministic. The confidence threshold is applied by the caller.
package classifier

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/traylinx/switchAIDispatch/internal/intent"
	"github.com/traylinx/switchAIDispatch/internal/util"
)

// ErrLowConfidence marks a classification under the dispatch threshold. It is
// reported in logs and events; classification itself never returns it.
var ErrLowConfidence = errors.New("classification confidence below threshold")

// Classifier classifies working-language text.
type Classifier interface {
	Classify(ctx context.Context, text string) (intent.Classified, error)
}

// Func adapts a function to Classifier.
type Func func(ctx context.Context, text string) (intent.Classified, error)

// Classify implements Classifier.
func (f Func) Classify(ctx context.Context, text string) (intent.Classified, error) {
	return f(ctx, text)
}

// Tiered tries the reflex tier first and asks the cognitive tier only when the
// reflex confidence is below accept.
type Tiered struct {
	reflex           Classifier
	cognitive        Classifier
	accept           float64
	cognitiveTimeout time.Duration
}

// NewTiered composes the tiers. cognitive may be nil, in which case the reflex
// result is always returned.
func NewTiered(reflex, cognitive Classifier, accept float64, cognitiveTimeout time.Duration) *Tiered {
	if accept <= 0 {
		accept = 0.85
	}
	return &Tiered{reflex: reflex, cognitive: cognitive, accept: accept, cognitiveTimeout: cognitiveTimeout}
}

// Classify implements Classifier.
func (t *Tiered) Classify(ctx context.Context, text string) (intent.Classified, error) {
	reflex := intent.Unclassified
	if t.reflex != nil {
		if r, err := t.reflex.Classify(ctx, text); err == nil {
			reflex = r.Normalize()
		}
	}
	if t.cognitive == nil || reflex.Confidence >= t.accept {
		return reflex, nil
	}

	budget := t.cognitiveBudget(ctx)
	if budget < 0 {
		log.Warnf("no time left for cognitive classification, keeping reflex result %s (%.2f)", reflex.Intent, reflex.Confidence)
		return reflex, nil
	}
	cognitive, err := util.RunBounded(ctx, budget, func(ctx context.Context) (intent.Classified, error) {
		return t.cognitive.Classify(ctx, text)
	})
	if err != nil {
		log.Warnf("cognitive classification failed, keeping reflex result %s (%.2f): %v", reflex.Intent, reflex.Confidence, err)
		return reflex, nil
	}
	cognitive = cognitive.Normalize()
	log.Debugf("cognitive tier classified %s (%.2f), reflex had %s (%.2f)", cognitive.Intent, cognitive.Confidence, reflex.Intent, reflex.Confidence)
	return cognitive, nil
}

// cognitiveBudget returns the LLM tier deadline, shortened so that the tier gives
// up before ctx does and the reflex result can still be returned. A negative
// budget means ctx leaves no usable time.
func (t *Tiered) cognitiveBudget(ctx context.Context) time.Duration {
	budget := t.cognitiveTimeout
	deadline, ok := ctx.Deadline()
	if !ok {
		return budget
	}
	remaining := time.Until(deadline)
	capped := remaining - remaining/5
	if capped <= 0 {
		return -1
	}
	if budget <= 0 || capped < budget {
		budget = capped
	}
	return budget
}
