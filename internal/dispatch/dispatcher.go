// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package dispatch runs one customer message through language detection, intent
// classification, routing, agent invocation and analytics recording.
//
// Every accepted message produces exactly one ResponseEnvelope and is recorded
// exactly once in its session's statistics. Failures of any collaborator end in
// that collaborator's fallback path; nothing escapes Submit as an error once the
// message has been accepted.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/traylinx/switchAIDispatch/internal/agent"
	"github.com/traylinx/switchAIDispatch/internal/classifier"
	"github.com/traylinx/switchAIDispatch/internal/hooks"
	"github.com/traylinx/switchAIDispatch/internal/intent"
	"github.com/traylinx/switchAIDispatch/internal/interfaces"
	"github.com/traylinx/switchAIDispatch/internal/language"
	"github.com/traylinx/switchAIDispatch/internal/metrics"
	"github.com/traylinx/switchAIDispatch/internal/routing"
	"github.com/traylinx/switchAIDispatch/internal/session"
	"github.com/traylinx/switchAIDispatch/internal/util"
)

// DefaultConfidenceThreshold routes classifications below it to the fallback agent.
const DefaultConfidenceThreshold = 0.5

// Config holds the dispatcher's own settings.
type Config struct {
	ConfidenceThreshold float64
	ClassifyTimeout     time.Duration
}

// Deps are the collaborators of a Dispatcher. Rules and Events are optional.
type Deps struct {
	Detector   *language.Detector
	Classifier classifier.Classifier
	Table      *routing.Table
	Rules      *routing.RuleSet
	Invoker    *agent.Invoker
	Sessions   *session.Manager
	Events     *hooks.EventBus
}

// Dispatcher is safe for concurrent use; turns of different sessions share no
// mutable state besides the session manager.
type Dispatcher struct {
	cfg  Config
	deps Deps
	now  func() time.Time
}

// New validates the dependencies and returns a dispatcher.
func New(cfg Config, deps Deps) (*Dispatcher, error) {
	switch {
	case deps.Detector == nil:
		return nil, errors.New("dispatch: detector is required")
	case deps.Classifier == nil:
		return nil, errors.New("dispatch: classifier is required")
	case deps.Table == nil:
		return nil, errors.New("dispatch: routing table is required")
	case deps.Invoker == nil:
		return nil, errors.New("dispatch: invoker is required")
	case deps.Sessions == nil:
		return nil, errors.New("dispatch: session manager is required")
	}
	if cfg.ConfidenceThreshold < 0 || cfg.ConfidenceThreshold > 1 || cfg.ConfidenceThreshold != cfg.ConfidenceThreshold {
		return nil, fmt.Errorf("dispatch: confidence threshold %v out of [0,1]", cfg.ConfidenceThreshold)
	}
	return &Dispatcher{cfg: cfg, deps: deps, now: time.Now}, nil
}

// turn carries the state of one message through the state machine.
type turn struct {
	msg    interfaces.Message
	env    *interfaces.ResponseEnvelope
	logger *log.Entry

	prepared   language.Prepared
	classified intent.Classified
	decision   routing.Decision
	outcome    agent.Outcome
}

func (t *turn) enter(s interfaces.State) {
	t.env.States = append(t.env.States, s)
	t.logger.Debugf("state -> %s", s)
}

// Submit dispatches text for sessionID. It returns an error only when the session
// id is unusable, in which case no message was accepted. The turn runs to
// completion and is counted even if ctx is cancelled by the caller.
func (d *Dispatcher) Submit(ctx context.Context, sessionID, text string) (*interfaces.ResponseEnvelope, error) {
	stats, release, err := d.deps.Sessions.BeginTurn(sessionID)
	if err != nil {
		return nil, err
	}
	defer release()
	ctx = context.WithoutCancel(ctx)

	start := d.now()
	t := &turn{
		msg: interfaces.Message{ID: uuid.NewString(), SessionID: sessionID, Text: text, ReceivedAt: start},
	}
	t.env = &interfaces.ResponseEnvelope{TurnID: t.msg.ID, SessionID: sessionID, StartedAt: start}
	t.logger = log.WithFields(log.Fields{"request_id": t.msg.ID, "session_id": sessionID})

	t.enter(interfaces.StateReceived)
	d.detectLanguage(ctx, t)
	d.classify(ctx, t)
	d.route(t)
	d.invoke(ctx, t)

	t.env.Latency = d.now().Sub(start)
	stats.Record(t.env)
	release()
	t.enter(interfaces.StateRecorded)
	t.enter(interfaces.StateCompleted)

	d.observe(t)
	return t.env, nil
}

func (d *Dispatcher) detectLanguage(ctx context.Context, t *turn) {
	prepared, err := guard("language", func() language.Prepared {
		return d.deps.Detector.Prepare(ctx, t.msg.Text)
	})
	if err != nil {
		prepared = language.Prepared{
			Detected:     language.DetectedLanguage{Code: d.deps.Detector.Default()},
			WorkingText:  t.msg.Text,
			DetectionErr: err,
		}
	}
	t.prepared = prepared

	if prepared.DetectionErr != nil {
		metrics.StageFailures.WithLabelValues("language", "unavailable").Inc()
		t.logger.Debugf("language detection unavailable: %v", prepared.DetectionErr)
	}
	if prepared.TranslationErr != nil {
		metrics.StageFailures.WithLabelValues("translate", "error").Inc()
		d.publish(t, hooks.EventTranslationFailed, prepared.TranslationErr, nil)
	}

	t.env.Language = prepared.Detected.Code
	t.env.LanguageConfidence = prepared.Detected.Confidence
	t.env.Translated = prepared.Translated
	t.enter(interfaces.StateLanguageDetected)
}

func (d *Dispatcher) classify(ctx context.Context, t *turn) {
	classified, err := util.RunBounded(ctx, d.cfg.ClassifyTimeout, func(ctx context.Context) (intent.Classified, error) {
		return d.deps.Classifier.Classify(ctx, t.prepared.WorkingText)
	})
	if err != nil {
		kind := "error"
		if errors.Is(err, util.ErrStageTimeout) {
			kind = "timeout"
		}
		metrics.StageFailures.WithLabelValues("classify", kind).Inc()
		t.logger.Warnf("classification failed, treating as unclassified: %v", err)
		classified = intent.Unclassified
	}
	t.classified = classified.Normalize()

	t.env.Intent = t.classified.Intent
	t.env.IntentConfidence = t.classified.Confidence
	t.enter(interfaces.StateIntentClassified)
}

func (d *Dispatcher) route(t *turn) {
	decision := d.deps.Table.Route(t.classified, d.cfg.ConfidenceThreshold)
	if decision.Reason == routing.ReasonLowConfidenceFallback {
		t.logger.Infof("%v: %s %.2f < %.2f, routing to %s", classifier.ErrLowConfidence,
			t.classified.Intent, t.classified.Confidence, d.cfg.ConfidenceThreshold, decision.AgentID)
		d.publish(t, hooks.EventLowConfidence, classifier.ErrLowConfidence, map[string]any{
			"confidence": t.classified.Confidence,
			"threshold":  d.cfg.ConfidenceThreshold,
		})
	}

	if d.deps.Rules != nil {
		env := routing.NewRuleEnv(decision, t.prepared.Detected.Code, t.prepared.Detected.Confidence,
			t.classified.Confidence, t.msg.SessionID, t.msg.ReceivedAt)
		overridden, err := guard("rules", func() routing.Decision {
			return d.deps.Rules.Apply(decision, env)
		})
		if err == nil {
			decision = overridden
		}
	}
	t.decision = decision

	t.env.AgentID = decision.AgentID
	t.env.MatchedAgentID = decision.MatchedAgentID
	t.env.Reason = decision.Reason
	t.env.Rule = decision.Rule
	t.logger.Debugf("routed %s (%.2f) to %s: %s", decision.Intent, t.classified.Confidence, decision.AgentID, decision.Reason)
	t.enter(interfaces.StateRouted)
}

func (d *Dispatcher) invoke(ctx context.Context, t *turn) {
	q := agent.Query{
		TurnID:       t.msg.ID,
		SessionID:    t.msg.SessionID,
		Text:         t.prepared.WorkingText,
		OriginalText: t.msg.Text,
		Language:     t.prepared.Detected.Code,
		Intent:       t.classified.Intent,
		Confidence:   t.classified.Confidence,
	}
	outcome, err := guard("invoke", func() agent.Outcome {
		return d.deps.Invoker.Execute(ctx, t.decision, q)
	})
	if err != nil {
		outcome = agent.Outcome{
			AgentID:  agent.NoAgent,
			Answer:   d.deps.Invoker.Apology(),
			Reason:   t.decision.Reason,
			Degraded: true,
			Err:      fmt.Errorf("%w: %w", agent.ErrTotalFailure, err),
		}
	}
	t.outcome = outcome

	t.env.Answer = outcome.Answer
	t.env.AgentID = outcome.AgentID
	t.env.Reason = outcome.Reason
	t.env.Degraded = outcome.Degraded
	t.env.Failures = outcome.Failures
	t.enter(interfaces.StateInvoked)

	if outcome.Degraded {
		t.logger.Errorf("turn degraded: %v", outcome.Err)
		t.enter(interfaces.StateDegraded)
	}
}

func (d *Dispatcher) observe(t *turn) {
	env := t.env
	metrics.TurnsTotal.WithLabelValues(env.Intent.String(), string(env.Reason), strconv.FormatBool(env.Degraded)).Inc()
	metrics.TurnDuration.Observe(env.Latency.Seconds())
	metrics.DetectedLanguages.WithLabelValues(env.Language).Inc()
	for _, f := range env.Failures {
		metrics.AgentCalls.WithLabelValues(f.AgentID, string(f.Kind)).Inc()
		d.publish(t, hooks.EventAgentFailed, t.outcome.Err, map[string]any{
			"agent": f.AgentID,
			"role":  string(f.Role),
			"kind":  string(f.Kind),
		})
	}
	if !env.Degraded {
		metrics.AgentCalls.WithLabelValues(env.AgentID, "success").Inc()
	} else {
		d.publish(t, hooks.EventTurnDegraded, t.outcome.Err, nil)
	}
	d.publish(t, hooks.EventTurnCompleted, nil, map[string]any{
		"latency_ms": env.LatencyMs(),
		"language":   env.Language,
		"translated": env.Translated,
		"degraded":   env.Degraded,
	})

	t.logger.WithFields(log.Fields{
		"intent":   env.Intent.String(),
		"agent":    env.AgentID,
		"reason":   env.Reason,
		"language": env.Language,
	}).Infof("turn completed in %s", env.Latency)
}

func (d *Dispatcher) publish(t *turn, event hooks.HookEvent, err error, data map[string]any) {
	if d.deps.Events == nil {
		return
	}
	d.deps.Events.PublishAsync(&hooks.EventContext{
		Event:     event,
		Timestamp: d.now(),
		SessionID: t.msg.SessionID,
		TurnID:    t.msg.ID,
		AgentID:   t.env.AgentID,
		Intent:    t.env.Intent.String(),
		Reason:    string(t.env.Reason),
		Data:      data,
		Error:     err,
	})
}

// guard runs a synchronous step and converts a panic into an error.
func guard[T any](stage string, fn func() T) (out T, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("panic in %s stage: %v\n%s", stage, r, debug.Stack())
			metrics.StageFailures.WithLabelValues(stage, "panic").Inc()
			err = fmt.Errorf("%w: %v", util.ErrStagePanic, r)
		}
	}()
	return fn(), nil
}
