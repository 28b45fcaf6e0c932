package dispatch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traylinx/switchAIDispatch/internal/agent"
	"github.com/traylinx/switchAIDispatch/internal/analytics"
	"github.com/traylinx/switchAIDispatch/internal/classifier"
	"github.com/traylinx/switchAIDispatch/internal/hooks"
	"github.com/traylinx/switchAIDispatch/internal/intent"
	"github.com/traylinx/switchAIDispatch/internal/interfaces"
	"github.com/traylinx/switchAIDispatch/internal/language"
	"github.com/traylinx/switchAIDispatch/internal/provider"
	"github.com/traylinx/switchAIDispatch/internal/routing"
	"github.com/traylinx/switchAIDispatch/internal/session"
)

type providerFunc func(ctx context.Context, text string) (language.DetectedLanguage, error)

func (f providerFunc) DetectLanguage(ctx context.Context, text string) (language.DetectedLanguage, error) {
	return f(ctx, text)
}

type translatorFunc func(ctx context.Context, text, from, to string) (string, error)

func (f translatorFunc) Translate(ctx context.Context, text, from, to string) (string, error) {
	return f(ctx, text, from, to)
}

type stubAgent struct {
	answer string
	err    error
	delay  time.Duration
	calls  atomic.Int32
}

func (s *stubAgent) Answer(_ context.Context, _ agent.Query) (string, error) {
	s.calls.Add(1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	return s.answer, s.err
}

type fixture struct {
	d        *Dispatcher
	sessions *session.Manager
	agents   map[string]*stubAgent
	bus      *hooks.EventBus

	mu         sync.Mutex
	classified intent.Classified
	seenText   string
}

type options struct {
	provider   language.Provider
	translator language.Translator
	classifier classifier.Classifier
	rulesFile  string
}

func english() language.Provider {
	return providerFunc(func(context.Context, string) (language.DetectedLanguage, error) {
		return language.DetectedLanguage{Code: "en", Confidence: 0.97}, nil
	})
}

func newFixture(t *testing.T, opts options) *fixture {
	t.Helper()
	f := &fixture{
		agents: map[string]*stubAgent{
			"faq":        {answer: "Each passenger may check two bags."},
			"loyalty":    {answer: "You have 12,000 miles."},
			"flight":     {answer: "UA892 has wifi."},
			"disruption": {answer: "We rebooked you."},
			"recs":       {answer: "Try Denver."},
			"general":    {answer: "How can I help?"},
		},
	}

	reg := agent.NewRegistry()
	for id, a := range f.agents {
		require.NoError(t, reg.Register(id, a))
	}
	table, err := routing.NewTable(map[intent.Intent]string{
		intent.FAQ:              "faq",
		intent.Loyalty:          "loyalty",
		intent.FlightDetails:    "flight",
		intent.FlightDisruption: "disruption",
		intent.Recommendation:   "recs",
	}, "general")
	require.NoError(t, err)

	if opts.provider == nil {
		opts.provider = english()
	}
	detector := language.NewDetector(language.Config{
		Default: "en", Working: "en", Supported: []string{"en", "es", "fr"},
		MinConfidence: 0.2, DetectTimeout: 50 * time.Millisecond, TranslateTimeout: 50 * time.Millisecond,
	}, opts.provider, opts.translator)

	if opts.classifier == nil {
		opts.classifier = classifier.Func(func(_ context.Context, text string) (intent.Classified, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.seenText = text
			return f.classified, nil
		})
	}

	var rules *routing.RuleSet
	if opts.rulesFile != "" {
		rules = routing.NewRuleSet(opts.rulesFile, reg.Has)
		require.NoError(t, rules.Load())
	}

	f.sessions = session.NewManager(0, session.Callbacks{})
	f.bus = hooks.NewEventBus()
	t.Cleanup(f.bus.Shutdown)

	f.d, err = New(Config{ConfidenceThreshold: 0.5, ClassifyTimeout: 50 * time.Millisecond}, Deps{
		Detector:   detector,
		Classifier: opts.classifier,
		Table:      table,
		Rules:      rules,
		Invoker: agent.NewInvoker(reg, agent.InvokerConfig{
			Timeout:             30 * time.Millisecond,
			Fallbacks:           []string{"general"},
			MaxFallbackAttempts: 1,
			Apology:             "Sorry, please try again later.",
		}),
		Sessions: f.sessions,
		Events:   f.bus,
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) classifyAs(in intent.Intent, confidence float64) {
	f.mu.Lock()
	f.classified = intent.Classified{Intent: in, Confidence: confidence}
	f.mu.Unlock()
}

func (f *fixture) stats(t *testing.T, id string) analytics.SessionStats {
	t.Helper()
	snap, ok := f.sessions.Snapshot(id)
	require.True(t, ok)
	return snap
}

var fullTrace = []interfaces.State{
	interfaces.StateReceived, interfaces.StateLanguageDetected, interfaces.StateIntentClassified,
	interfaces.StateRouted, interfaces.StateInvoked, interfaces.StateRecorded, interfaces.StateCompleted,
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{}, Deps{})
	assert.Error(t, err)

	f := newFixture(t, options{})
	deps := f.d.deps
	_, err = New(Config{ConfidenceThreshold: 1.5}, deps)
	assert.Error(t, err)
}

func TestSubmit_DirectMatch(t *testing.T) {
	f := newFixture(t, options{})
	f.classifyAs(intent.FAQ, 0.9)

	env, err := f.d.Submit(context.Background(), "s1", "What is your baggage policy?")
	require.NoError(t, err)

	assert.Equal(t, "faq", env.AgentID)
	assert.Equal(t, "faq", env.MatchedAgentID)
	assert.Equal(t, routing.ReasonDirectMatch, env.Reason)
	assert.Equal(t, "Each passenger may check two bags.", env.Answer)
	assert.Equal(t, intent.FAQ, env.Intent)
	assert.Equal(t, 0.9, env.IntentConfidence)
	assert.Equal(t, "en", env.Language)
	assert.False(t, env.Degraded)
	assert.Equal(t, fullTrace, env.States)
	assert.NotEmpty(t, env.TurnID)

	s := f.stats(t, "s1")
	assert.Equal(t, int64(1), s.TotalQueries)
	assert.Equal(t, int64(1), s.Agents["faq"])
}

func TestSubmit_UnsupportedLanguagePassesThrough(t *testing.T) {
	var translations atomic.Int32
	f := newFixture(t, options{
		provider: providerFunc(func(context.Context, string) (language.DetectedLanguage, error) {
			return language.DetectedLanguage{Code: "tlh", Confidence: 0.99}, nil
		}),
		translator: translatorFunc(func(_ context.Context, text, _, _ string) (string, error) {
			translations.Add(1)
			return "translated", nil
		}),
	})
	f.classifyAs(intent.General, 0.8)

	text := "nuqneH, ghorgh QaStaH?"
	env, err := f.d.Submit(context.Background(), "s1", text)
	require.NoError(t, err)

	assert.Equal(t, "en", env.Language)
	assert.Equal(t, 0.0, env.LanguageConfidence)
	assert.False(t, env.Translated)
	assert.Zero(t, translations.Load())
	assert.Equal(t, text, f.seenText)
	assert.Equal(t, interfaces.StateCompleted, env.States[len(env.States)-1])
}

func TestSubmit_TranslatesBeforeClassifying(t *testing.T) {
	f := newFixture(t, options{
		provider: providerFunc(func(context.Context, string) (language.DetectedLanguage, error) {
			return language.DetectedLanguage{Code: "es", Confidence: 0.95}, nil
		}),
		translator: translatorFunc(func(_ context.Context, _, from, to string) (string, error) {
			return "What is your baggage policy?", nil
		}),
	})
	f.classifyAs(intent.FAQ, 0.9)

	env, err := f.d.Submit(context.Background(), "s1", "¿Cuál es su política de equipaje?")
	require.NoError(t, err)

	assert.Equal(t, "es", env.Language)
	assert.True(t, env.Translated)
	assert.Equal(t, "What is your baggage policy?", f.seenText)
	assert.Equal(t, "faq", env.AgentID)

	snap, _ := f.sessions.Snapshot("s1")
	assert.Equal(t, int64(1), snap.Languages["es"])
}

func TestSubmit_LowConfidenceSkipsMatchedAgent(t *testing.T) {
	f := newFixture(t, options{})
	f.classifyAs(intent.Loyalty, 0.3)

	env, err := f.d.Submit(context.Background(), "s1", "points?")
	require.NoError(t, err)

	assert.Equal(t, "general", env.AgentID)
	assert.Equal(t, "loyalty", env.MatchedAgentID)
	assert.Equal(t, routing.ReasonLowConfidenceFallback, env.Reason)
	assert.Zero(t, f.agents["loyalty"].calls.Load())
}

func TestSubmit_MatchedFailsFallbackAnswers(t *testing.T) {
	f := newFixture(t, options{})
	f.agents["loyalty"].err = errors.New("loyalty backend down")
	f.classifyAs(intent.Loyalty, 0.9)

	env, err := f.d.Submit(context.Background(), "s1", "How many miles do I have?")
	require.NoError(t, err)

	assert.Equal(t, "general", env.AgentID)
	assert.Equal(t, routing.ReasonAgentErrorFallback, env.Reason)
	assert.False(t, env.Degraded)

	s := f.stats(t, "s1")
	assert.Equal(t, int64(1), s.Agents["general"])
	assert.NotContains(t, s.Agents, "loyalty")
	assert.Equal(t, int64(1), s.Failures["matched-agent-error"])
}

func TestSubmit_DoubleTimeoutDegrades(t *testing.T) {
	f := newFixture(t, options{})
	f.agents["faq"].delay = 300 * time.Millisecond
	f.agents["general"].delay = 300 * time.Millisecond
	f.classifyAs(intent.FAQ, 0.9)

	degraded := make(chan *hooks.EventContext, 1)
	f.bus.Subscribe(hooks.EventTurnDegraded, func(ev *hooks.EventContext) { degraded <- ev })

	env, err := f.d.Submit(context.Background(), "s1", "What is your baggage policy?")
	require.NoError(t, err)

	assert.True(t, env.Degraded)
	assert.Equal(t, agent.NoAgent, env.AgentID)
	assert.Equal(t, "Sorry, please try again later.", env.Answer)
	assert.Equal(t, intent.FAQ, env.Intent)
	assert.Equal(t, []interfaces.State{
		interfaces.StateReceived, interfaces.StateLanguageDetected, interfaces.StateIntentClassified,
		interfaces.StateRouted, interfaces.StateInvoked, interfaces.StateDegraded,
		interfaces.StateRecorded, interfaces.StateCompleted,
	}, env.States)

	s := f.stats(t, "s1")
	assert.Equal(t, int64(1), s.TotalQueries)
	assert.Equal(t, int64(1), s.DegradedTurns)
	assert.Equal(t, map[string]int64{"matched-agent-timeout": 1, "fallback-agent-timeout": 1}, s.Failures)

	select {
	case ev := <-degraded:
		assert.Equal(t, "s1", ev.SessionID)
		assert.Equal(t, env.TurnID, ev.TurnID)
	case <-time.After(time.Second):
		t.Fatal("turn_degraded event not published")
	}
}

func TestSubmit_ClassifierFailuresFallBack(t *testing.T) {
	tests := map[string]classifier.Func{
		"error": func(context.Context, string) (intent.Classified, error) {
			return intent.Classified{}, errors.New("model unavailable")
		},
		"panic": func(context.Context, string) (intent.Classified, error) {
			panic("classifier bug")
		},
		"timeout": func(ctx context.Context, _ string) (intent.Classified, error) {
			time.Sleep(200 * time.Millisecond)
			return intent.Classified{Intent: intent.FAQ, Confidence: 1}, nil
		},
		"invalid": func(context.Context, string) (intent.Classified, error) {
			return intent.Classified{Intent: intent.Intent(42), Confidence: 0.99}, nil
		},
	}
	for name, fn := range tests {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, options{classifier: fn})
			env, err := f.d.Submit(context.Background(), "s1", "hello")
			require.NoError(t, err)
			assert.Equal(t, intent.General, env.Intent)
			assert.Equal(t, 0.0, env.IntentConfidence)
			assert.Equal(t, "general", env.AgentID)
			assert.Equal(t, routing.ReasonLowConfidenceFallback, env.Reason)
			assert.Equal(t, fullTrace, env.States)
		})
	}
}

// stuckCompleter never answers until released.
type stuckCompleter struct{ release chan struct{} }

func (s stuckCompleter) Complete(context.Context, []provider.Message) (string, error) {
	<-s.release
	return "", errors.New("released")
}

func TestSubmit_TieredKeepsReflexWhenLLMHangs(t *testing.T) {
	reflex, err := classifier.NewReflex(classifier.DefaultLexicon)
	require.NoError(t, err)
	llm := stuckCompleter{release: make(chan struct{})}
	t.Cleanup(func() { close(llm.release) })

	// The tier budget equals the stage deadline; the tier must still give up first.
	tiered := classifier.NewTiered(reflex, classifier.NewCognitive(llm, nil), 0.85, 50*time.Millisecond)
	f := newFixture(t, options{classifier: tiered})

	for i := 0; i < 5; i++ {
		env, err := f.d.Submit(context.Background(), "s1", "What is your baggage policy?")
		require.NoError(t, err)
		assert.Equal(t, intent.FAQ, env.Intent)
		assert.GreaterOrEqual(t, env.IntentConfidence, 0.5)
		assert.Less(t, env.IntentConfidence, 0.85)
		assert.Equal(t, "faq", env.AgentID)
		assert.Equal(t, routing.ReasonDirectMatch, env.Reason)
	}
	assert.Equal(t, int64(5), f.stats(t, "s1").Agents["faq"])
}

func TestSubmit_EmptyAnswerFallsBack(t *testing.T) {
	for name, answer := range map[string]string{"empty": "", "whitespace": " \n\t "} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, options{})
			f.agents["faq"].answer = answer
			f.classifyAs(intent.FAQ, 0.9)

			env, err := f.d.Submit(context.Background(), "s1", "What is your baggage policy?")
			require.NoError(t, err)

			assert.Equal(t, "general", env.AgentID)
			assert.Equal(t, "faq", env.MatchedAgentID)
			assert.Equal(t, routing.ReasonAgentErrorFallback, env.Reason)
			assert.Equal(t, "How can I help?", env.Answer)
			assert.False(t, env.Degraded)
			assert.Equal(t, int32(1), f.agents["faq"].calls.Load())

			s := f.stats(t, "s1")
			assert.Equal(t, int64(1), s.Agents["general"])
			assert.NotContains(t, s.Agents, "faq")
			assert.Equal(t, map[string]int64{"matched-agent-empty": 1}, s.Failures)
		})
	}
}

func TestSubmit_CompletesAfterCallerCancels(t *testing.T) {
	f := newFixture(t, options{})
	f.classifyAs(intent.FAQ, 0.9)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	env, err := f.d.Submit(ctx, "s1", "What is your baggage policy?")
	require.NoError(t, err)
	assert.Equal(t, "faq", env.AgentID)
	assert.False(t, env.Degraded)
	assert.Equal(t, int64(1), f.stats(t, "s1").TotalQueries)
}

func TestSubmit_EndWaitsForTurnInProgress(t *testing.T) {
	f := newFixture(t, options{})
	f.agents["faq"].delay = 20 * time.Millisecond
	f.classifyAs(intent.FAQ, 0.9)

	submitted := make(chan *interfaces.ResponseEnvelope, 1)
	go func() {
		env, _ := f.d.Submit(context.Background(), "s1", "What is your baggage policy?")
		submitted <- env
	}()

	require.Eventually(t, func() bool { return f.sessions.Count() == 1 }, time.Second, time.Millisecond)
	stats, ok := f.sessions.End("s1")
	require.True(t, ok)
	assert.Equal(t, int64(1), stats.TotalQueries)
	assert.Equal(t, int64(1), stats.Agents["faq"])

	env := <-submitted
	require.NotNil(t, env)
	assert.Equal(t, "faq", env.AgentID)
	assert.Equal(t, 0, f.sessions.Count())
}

func TestSubmit_InvalidSession(t *testing.T) {
	f := newFixture(t, options{})
	env, err := f.d.Submit(context.Background(), "", "hi")
	assert.ErrorIs(t, err, session.ErrInvalidID)
	assert.Nil(t, env)
	assert.Equal(t, 0, f.sessions.Count())
}

func TestSubmit_RuleOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`rules:
  - name: spanish-disruptions
    condition: Intent == "FlightDisruption" && Language == "es"
    agent: general
`), 0o644))

	f := newFixture(t, options{
		rulesFile: path,
		provider: providerFunc(func(context.Context, string) (language.DetectedLanguage, error) {
			return language.DetectedLanguage{Code: "es", Confidence: 0.9}, nil
		}),
	})
	f.classifyAs(intent.FlightDisruption, 0.9)

	env, err := f.d.Submit(context.Background(), "s1", "Mi vuelo fue cancelado")
	require.NoError(t, err)
	assert.Equal(t, "general", env.AgentID)
	assert.Equal(t, "disruption", env.MatchedAgentID)
	assert.Equal(t, "spanish-disruptions", env.Rule)
	assert.Equal(t, routing.ReasonDirectMatch, env.Reason)
	assert.Zero(t, f.agents["disruption"].calls.Load())
}

func TestSubmit_ConcurrentSessionsAreIndependent(t *testing.T) {
	f := newFixture(t, options{})
	f.classifyAs(intent.FAQ, 0.9)

	var wg sync.WaitGroup
	for _, id := range []string{"a", "b", "c"} {
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				_, _ = f.d.Submit(context.Background(), id, "bags")
			}(id)
		}
	}
	wg.Wait()

	for _, id := range []string{"a", "b", "c"} {
		assert.Equal(t, int64(10), f.stats(t, id).TotalQueries, id)
	}
}

func TestProperty_OneEnvelopePerMessage(t *testing.T) {
	f := newFixture(t, options{})
	properties := gopter.NewProperties(nil)

	properties.Property("every message yields one completed envelope and one recorded turn", prop.ForAll(
		func(in int, confidence float64, text string) bool {
			f.classifyAs(intent.Intent(in), confidence)
			before := int64(0)
			if snap, ok := f.sessions.Snapshot("prop"); ok {
				before = snap.TotalQueries
			}

			env, err := f.d.Submit(context.Background(), "prop", text)
			if err != nil || env == nil {
				return false
			}
			snap, _ := f.sessions.Snapshot("prop")
			return snap.TotalQueries == before+1 &&
				env.States[0] == interfaces.StateReceived &&
				env.States[len(env.States)-1] == interfaces.StateCompleted &&
				strings.TrimSpace(env.Answer) != ""
		},
		gen.IntRange(0, intent.Count-1),
		gen.Float64Range(0, 1),
		gen.AnyString(),
	))

	properties.Property("confidence below threshold always lands on the fallback agent", prop.ForAll(
		func(in int, confidence float64) bool {
			f.classifyAs(intent.Intent(in), confidence)
			env, err := f.d.Submit(context.Background(), "prop-low", "anything")
			return err == nil &&
				env.AgentID == "general" &&
				env.Reason == routing.ReasonLowConfidenceFallback
		},
		gen.IntRange(0, intent.Count-1),
		gen.Float64Range(0, 0.4999),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}
