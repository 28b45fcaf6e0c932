// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"io"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/traylinx/switchAIDispatch/internal/agent"
	"github.com/traylinx/switchAIDispatch/internal/analytics"
	"github.com/traylinx/switchAIDispatch/internal/api"
	"github.com/traylinx/switchAIDispatch/internal/classifier"
	"github.com/traylinx/switchAIDispatch/internal/config"
	"github.com/traylinx/switchAIDispatch/internal/dispatch"
	"github.com/traylinx/switchAIDispatch/internal/hooks"
	"github.com/traylinx/switchAIDispatch/internal/intent"
	"github.com/traylinx/switchAIDispatch/internal/language"
	"github.com/traylinx/switchAIDispatch/internal/metrics"
	"github.com/traylinx/switchAIDispatch/internal/provider"
	"github.com/traylinx/switchAIDispatch/internal/routing"
	"github.com/traylinx/switchAIDispatch/internal/session"
)

// defaultCandidates are offered to the local detector when no supported set is configured.
var defaultCandidates = []string{"en", "es", "fr", "de", "it", "pt", "zh", "ja"}

// application holds every long-lived component of the server.
type application struct {
	server     *api.Server
	dispatcher *dispatch.Dispatcher
	sessions   *session.Manager
	rules      *routing.RuleSet
	hooks      *hooks.HookManager
	bus        *hooks.EventBus
	closers    []io.Closer
}

// buildApplication wires the components described by cfg.
func buildApplication(cfg *config.Config) (*application, error) {
	app := &application{bus: hooks.NewEventBus()}

	var llm provider.Completer
	if cfg.Providers.LLM.Enabled() {
		p := cfg.Providers.LLM
		client, err := provider.NewClient(provider.Config{
			BaseURL:     p.BaseURL,
			APIKey:      p.APIKey,
			Model:       p.Model,
			Temperature: p.Temperature,
			OAuth2: provider.OAuth2Config{
				TokenURL:     p.OAuth2.TokenURL,
				ClientID:     p.OAuth2.ClientID,
				ClientSecret: p.OAuth2.ClientSecret,
				Scopes:       p.OAuth2.Scopes,
			},
		})
		if err != nil {
			return nil, err
		}
		llm = client
		log.Infof("LLM provider %s (model %s)", p.BaseURL, client.Model())
	}

	detector, err := buildDetector(cfg, llm)
	if err != nil {
		return nil, err
	}

	cls, err := buildClassifier(cfg, llm)
	if err != nil {
		return nil, err
	}

	registry, err := app.buildRegistry(cfg, llm)
	if err != nil {
		return nil, err
	}

	table, err := buildTable(cfg.Routing, registry)
	if err != nil {
		return nil, err
	}

	if cfg.Routing.RulesFile != "" {
		app.rules = routing.NewRuleSet(cfg.Routing.RulesFile, registry.Has)
		if err = app.rules.Load(); err != nil {
			return nil, err
		}
		if err = app.rules.StartWatcher(); err != nil {
			log.Warnf("routing rules hot reload disabled: %v", err)
		}
	}

	fallbacks := cfg.Dispatch.FallbackAgents
	if len(fallbacks) == 0 {
		fallbacks = []string{table.Fallback()}
	}
	for _, id := range fallbacks {
		if !registry.Has(id) {
			return nil, fmt.Errorf("fallback agent %q is not registered", id)
		}
	}
	invoker := agent.NewInvoker(registry, agent.InvokerConfig{
		Timeout:             cfg.Dispatch.Timeouts.Agent(),
		Fallbacks:           fallbacks,
		MaxFallbackAttempts: cfg.Dispatch.MaxFallbackAttempts,
		Apology:             cfg.Dispatch.ApologyMessage,
	})

	app.sessions = session.NewManager(cfg.Sessions.IdleTimeout(), session.Callbacks{
		OnStart: app.sessionStarted,
		OnEnd:   app.sessionEnded,
	})

	app.hooks = hooks.NewHookManager(cfg.HooksDir, app.bus)
	if err = app.hooks.LoadHooks(); err != nil {
		return nil, err
	}
	app.hooks.SubscribeToAllEvents()
	if cfg.HooksDir != "" {
		if err = app.hooks.StartWatcher(); err != nil {
			log.Warnf("hooks hot reload disabled: %v", err)
		}
	}

	app.dispatcher, err = dispatch.New(dispatch.Config{
		ConfidenceThreshold: cfg.Dispatch.ConfidenceThreshold,
		ClassifyTimeout:     cfg.Dispatch.Timeouts.Classify(),
	}, dispatch.Deps{
		Detector:   detector,
		Classifier: cls,
		Table:      table,
		Rules:      app.rules,
		Invoker:    invoker,
		Sessions:   app.sessions,
		Events:     app.bus,
	})
	if err != nil {
		return nil, err
	}

	app.server = api.NewServer(api.Options{Host: cfg.Host, Port: cfg.Port}, app.dispatcher, app.sessions)
	return app, nil
}

func buildDetector(cfg *config.Config, llm provider.Completer) (*language.Detector, error) {
	lc := cfg.Language
	var p language.Provider
	switch lc.Detector {
	case config.DetectorRemote:
		p = language.NewRemoteProvider(llm)
	default:
		candidates := append([]string{lc.Default, lc.Working}, lc.Supported...)
		if len(lc.Supported) == 0 {
			candidates = append(candidates, defaultCandidates...)
		}
		local, err := language.NewLinguaProvider(candidates)
		if err != nil {
			return nil, err
		}
		p = local
	}

	var translator language.Translator
	if llm != nil {
		translator = language.NewRemoteTranslator(llm)
		if lc.TranslationCacheSize > 0 {
			cached, err := language.NewCachedTranslator(translator, lc.TranslationCacheSize)
			if err != nil {
				return nil, err
			}
			translator = cached
		}
	} else {
		log.Info("no LLM provider configured, messages are passed through untranslated")
	}

	return language.NewDetector(language.Config{
		Default:          lc.Default,
		Working:          lc.Working,
		Supported:        lc.Supported,
		MinConfidence:    lc.MinConfidence,
		DetectTimeout:    cfg.Dispatch.Timeouts.Language(),
		TranslateTimeout: cfg.Dispatch.Timeouts.Translate(),
	}, p, translator), nil
}

func buildClassifier(cfg *config.Config, llm provider.Completer) (classifier.Classifier, error) {
	cc := cfg.Classifier
	reflex, err := classifier.LoadReflex(cc.LexiconFile)
	if err != nil {
		return nil, err
	}
	switch cc.Mode {
	case config.ClassifierCognitive:
		return classifier.NewCognitive(llm, nil), nil
	case config.ClassifierTiered:
		return classifier.NewTiered(reflex, classifier.NewCognitive(llm, nil), cc.ReflexAccept, cc.CognitiveTimeout()), nil
	default:
		return reflex, nil
	}
}

func (app *application) buildRegistry(cfg *config.Config, llm provider.Completer) (*agent.Registry, error) {
	registry := agent.NewRegistry()
	for _, ac := range cfg.Agents {
		var a agent.Agent
		switch ac.Kind {
		case config.AgentKindHTTP:
			h, err := agent.NewHTTPAgent(ac.Endpoint, ac.Headers, nil)
			if err != nil {
				return nil, fmt.Errorf("agent %q: %w", ac.ID, err)
			}
			a = h
		case config.AgentKindLLM:
			var kb *agent.KnowledgeBase
			if ac.KnowledgeFile != "" {
				loaded, err := agent.LoadKnowledgeBase(ac.KnowledgeFile)
				if err != nil {
					return nil, fmt.Errorf("agent %q: %w", ac.ID, err)
				}
				kb = loaded
				app.closers = append(app.closers, kb)
				log.Infof("agent %s: indexed %d knowledge documents", ac.ID, kb.Len())
			}
			a = agent.NewLLMAgent(llm, ac.SystemPrompt, kb, ac.TopK)
		default:
			a = agent.NewStaticAgent(ac.Answer)
		}
		if err := registry.Register(ac.ID, a); err != nil {
			return nil, err
		}
	}
	if len(registry.IDs()) == 0 {
		return nil, fmt.Errorf("no agents configured")
	}
	log.Infof("registered agents: %s", strings.Join(registry.IDs(), ", "))
	return registry, nil
}

func buildTable(rc config.RoutingConfig, registry *agent.Registry) (*routing.Table, error) {
	bindings := make(map[intent.Intent]string, len(rc.Table))
	for label, id := range rc.Table {
		in, ok := intent.Parse(label)
		if !ok {
			return nil, fmt.Errorf("routing table: unknown intent %q", label)
		}
		bindings[in] = strings.TrimSpace(id)
	}
	table, err := routing.NewTable(bindings, strings.TrimSpace(rc.Fallback))
	if err != nil {
		return nil, err
	}
	for _, id := range table.AgentIDs() {
		if !registry.Has(id) {
			return nil, fmt.Errorf("routing table references unregistered agent %q", id)
		}
	}
	return table, nil
}

func (app *application) sessionStarted(id string) {
	metrics.ActiveSessions.Inc()
	app.bus.PublishAsync(&hooks.EventContext{Event: hooks.EventSessionStarted, SessionID: id})
}

func (app *application) sessionEnded(stats analytics.SessionStats, reason session.EndReason) {
	metrics.ActiveSessions.Dec()
	metrics.SessionsEnded.WithLabelValues(string(reason)).Inc()
	log.WithField("session_id", stats.SessionID).Infof("session ended (%s) after %d queries, %d degraded",
		reason, stats.TotalQueries, stats.DegradedTurns)
	app.bus.PublishAsync(&hooks.EventContext{
		Event:     hooks.EventSessionEnded,
		SessionID: stats.SessionID,
		Reason:    string(reason),
		Data: map[string]any{
			"total_queries":  stats.TotalQueries,
			"degraded_turns": stats.DegradedTurns,
			"avg_latency_ms": stats.AverageLatencyMs(),
		},
	})
}

// shutdown releases everything except the HTTP server and the session manager,
// which main stops first.
func (app *application) shutdown() {
	if app.rules != nil {
		app.rules.Close()
	}
	app.hooks.StopWatcher()
	app.bus.Shutdown()
	for _, c := range app.closers {
		if err := c.Close(); err != nil {
			log.Warnf("close: %v", err)
		}
	}
}
