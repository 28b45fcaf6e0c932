package agent

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/traylinx/switchAIDispatch/internal/intent"
	"github.com/traylinx/switchAIDispatch/internal/provider"
	"github.com/traylinx/switchAIDispatch/internal/routing"
)

type countingAgent struct {
	answer string
	err    error
	delay  time.Duration
	panics bool
	calls  atomic.Int32
}

func (c *countingAgent) Answer(ctx context.Context, _ Query) (string, error) {
	c.calls.Add(1)
	if c.panics {
		panic("agent exploded")
	}
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	return c.answer, c.err
}

func newTestInvoker(t *testing.T, agents map[string]Agent, cfg InvokerConfig) *Invoker {
	t.Helper()
	reg := NewRegistry()
	for id, a := range agents {
		require.NoError(t, reg.Register(id, a))
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Millisecond
	}
	return NewInvoker(reg, cfg)
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	assert.Error(t, reg.Register("", NewStaticAgent("x")))
	assert.Error(t, reg.Register(NoAgent, NewStaticAgent("x")))
	assert.Error(t, reg.Register("faq", nil))
	require.NoError(t, reg.Register("faq", NewStaticAgent("x")))
	require.NoError(t, reg.Register("general", NewStaticAgent("y")))
	assert.True(t, reg.Has("faq"))
	assert.False(t, reg.Has("loyalty"))
	assert.Equal(t, []string{"faq", "general"}, reg.IDs())
}

func TestInvoker_InvokeKinds(t *testing.T) {
	inv := newTestInvoker(t, map[string]Agent{
		"ok":    &countingAgent{answer: "  fine  "},
		"slow":  &countingAgent{answer: "late", delay: 200 * time.Millisecond},
		"err":   &countingAgent{err: errors.New("backend down")},
		"blank": &countingAgent{answer: " \n\t"},
		"boom":  &countingAgent{panics: true},
	}, InvokerConfig{})

	answer, err := inv.Invoke(context.Background(), "ok", Query{})
	require.NoError(t, err)
	assert.Equal(t, "fine", answer)

	tests := []struct {
		id   string
		kind FailureKind
	}{
		{"slow", KindTimeout},
		{"err", KindAgentError},
		{"blank", KindEmptyResponse},
		{"boom", KindAgentError},
		{"missing", KindAgentError},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			_, err := inv.Invoke(context.Background(), tt.id, Query{})
			var ie *InvocationError
			require.ErrorAs(t, err, &ie)
			assert.Equal(t, tt.kind, ie.Kind)
			assert.Equal(t, tt.id, ie.AgentID)
			assert.Equal(t, tt.kind, KindOf(err))
		})
	}

	_, err = inv.Invoke(context.Background(), "missing", Query{})
	assert.ErrorIs(t, err, ErrUnknownAgent)
}

func TestInvoker_ExecuteDirectMatch(t *testing.T) {
	faq := &countingAgent{answer: "50 lbs"}
	general := &countingAgent{answer: "hello"}
	inv := newTestInvoker(t, map[string]Agent{"faq": faq, "general": general},
		InvokerConfig{Fallbacks: []string{"general"}, MaxFallbackAttempts: 1})

	out := inv.Execute(context.Background(), routing.Decision{
		Intent: intent.FAQ, AgentID: "faq", MatchedAgentID: "faq", Reason: routing.ReasonDirectMatch,
	}, Query{})

	assert.Equal(t, "faq", out.AgentID)
	assert.Equal(t, "50 lbs", out.Answer)
	assert.Equal(t, routing.ReasonDirectMatch, out.Reason)
	assert.False(t, out.Degraded)
	assert.Empty(t, out.Failures)
	assert.Zero(t, general.calls.Load())
}

func TestInvoker_ExecuteMatchedFailsFallbackAnswers(t *testing.T) {
	inv := newTestInvoker(t, map[string]Agent{
		"loyalty": &countingAgent{err: errors.New("down")},
		"general": &countingAgent{answer: "general help"},
	}, InvokerConfig{Fallbacks: []string{"general"}, MaxFallbackAttempts: 1})

	out := inv.Execute(context.Background(), routing.Decision{
		Intent: intent.Loyalty, AgentID: "loyalty", MatchedAgentID: "loyalty", Reason: routing.ReasonDirectMatch,
	}, Query{})

	assert.Equal(t, "general", out.AgentID)
	assert.Equal(t, routing.ReasonAgentErrorFallback, out.Reason)
	assert.False(t, out.Degraded)
	assert.Equal(t, []FailureRecord{{Role: RoleMatched, Kind: KindAgentError, AgentID: "loyalty"}}, out.Failures)
	assert.Equal(t, []string{"loyalty", "general"}, out.Attempts)
}

func TestInvoker_ExecuteEmptyMatchedAnswerFallsBack(t *testing.T) {
	faq := &countingAgent{answer: "   "}
	general := &countingAgent{answer: "general help"}
	inv := newTestInvoker(t, map[string]Agent{"faq": faq, "general": general},
		InvokerConfig{Fallbacks: []string{"general"}, MaxFallbackAttempts: 1})

	out := inv.Execute(context.Background(), routing.Decision{
		Intent: intent.FAQ, AgentID: "faq", MatchedAgentID: "faq", Reason: routing.ReasonDirectMatch,
	}, Query{})

	assert.Equal(t, "general", out.AgentID)
	assert.Equal(t, "general help", out.Answer)
	assert.Equal(t, routing.ReasonAgentErrorFallback, out.Reason)
	assert.False(t, out.Degraded)
	require.Len(t, out.Failures, 1)
	assert.Equal(t, "matched-agent-empty", out.Failures[0].Key())
	assert.Equal(t, int32(1), faq.calls.Load())
	assert.Equal(t, int32(1), general.calls.Load())
}

func TestInvoker_ExecuteDoubleTimeoutDegrades(t *testing.T) {
	inv := newTestInvoker(t, map[string]Agent{
		"faq":     &countingAgent{answer: "x", delay: 200 * time.Millisecond},
		"general": &countingAgent{answer: "y", delay: 200 * time.Millisecond},
	}, InvokerConfig{Fallbacks: []string{"general"}, MaxFallbackAttempts: 1, Apology: "sorry"})

	out := inv.Execute(context.Background(), routing.Decision{
		Intent: intent.FAQ, AgentID: "faq", MatchedAgentID: "faq", Reason: routing.ReasonDirectMatch,
	}, Query{})

	assert.True(t, out.Degraded)
	assert.Equal(t, NoAgent, out.AgentID)
	assert.Equal(t, "sorry", out.Answer)
	assert.ErrorIs(t, out.Err, ErrTotalFailure)
	require.Len(t, out.Failures, 2)
	assert.Equal(t, "matched-agent-timeout", out.Failures[0].Key())
	assert.Equal(t, "fallback-agent-timeout", out.Failures[1].Key())
}

func TestInvoker_ExecuteNeverRetriesSameAgent(t *testing.T) {
	general := &countingAgent{err: errors.New("down")}
	inv := newTestInvoker(t, map[string]Agent{"general": general},
		InvokerConfig{Fallbacks: []string{"general"}, MaxFallbackAttempts: 3})

	out := inv.Execute(context.Background(), routing.Decision{
		Intent: intent.Loyalty, AgentID: "general", MatchedAgentID: "loyalty", Reason: routing.ReasonLowConfidenceFallback,
	}, Query{})

	assert.True(t, out.Degraded)
	assert.Equal(t, int32(1), general.calls.Load())
	assert.Equal(t, routing.ReasonLowConfidenceFallback, out.Reason)
	assert.Equal(t, []FailureRecord{{Role: RoleFallback, Kind: KindAgentError, AgentID: "general"}}, out.Failures)
}

func TestInvoker_ExecuteRespectsFallbackCap(t *testing.T) {
	second := &countingAgent{answer: "second"}
	inv := newTestInvoker(t, map[string]Agent{
		"faq":     &countingAgent{err: errors.New("down")},
		"general": &countingAgent{err: errors.New("down")},
		"human":   second,
	}, InvokerConfig{Fallbacks: []string{"general", "human"}, MaxFallbackAttempts: 1})

	d := routing.Decision{Intent: intent.FAQ, AgentID: "faq", MatchedAgentID: "faq", Reason: routing.ReasonDirectMatch}
	out := inv.Execute(context.Background(), d, Query{})
	assert.True(t, out.Degraded)
	assert.Zero(t, second.calls.Load())

	inv.cfg.MaxFallbackAttempts = 2
	out = inv.Execute(context.Background(), d, Query{})
	assert.False(t, out.Degraded)
	assert.Equal(t, "human", out.AgentID)
	assert.Len(t, out.Failures, 2)
}

func TestStaticAgent(t *testing.T) {
	a := NewStaticAgent("You said: {{text}}")
	got, err := a.Answer(context.Background(), Query{Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "You said: hi", got)
}

func TestHTTPAgent(t *testing.T) {
	var got []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("X-Agent-Key"))
		got, _ = io.ReadAll(r.Body)
		switch r.URL.Path {
		case "/json":
			_, _ = w.Write([]byte(`{"answer":"Flight UA892 has wifi."}`))
		case "/text":
			_, _ = w.Write([]byte("plain answer"))
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	headers := map[string]string{"X-Agent-Key": "secret"}
	q := Query{TurnID: "t1", SessionID: "s1", Text: "wifi on UA892?", Intent: intent.FlightDetails, Confidence: 0.8}

	a, err := NewHTTPAgent(srv.URL+"/json", headers, srv.Client())
	require.NoError(t, err)
	answer, err := a.Answer(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, "Flight UA892 has wifi.", answer)
	assert.Equal(t, "FlightDetails", gjson.GetBytes(got, "intent").String())
	assert.Equal(t, "s1", gjson.GetBytes(got, "session_id").String())

	a, err = NewHTTPAgent(srv.URL+"/text", headers, srv.Client())
	require.NoError(t, err)
	answer, err = a.Answer(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, "plain answer", answer)

	a, err = NewHTTPAgent(srv.URL+"/broken", headers, srv.Client())
	require.NoError(t, err)
	_, err = a.Answer(context.Background(), q)
	assert.Error(t, err)

	_, err = NewHTTPAgent("ftp://nope", nil, nil)
	assert.Error(t, err)
}

var testDocs = []Document{
	{ID: "bags", Title: "Checked baggage", Content: "The first checked bag is free on international flights up to 50 pounds."},
	{ID: "pets", Title: "Pets", Content: "Small dogs and cats may travel in the cabin in an approved carrier."},
	{ID: "miles", Title: "Earning miles", Content: "MileagePlus members earn miles on every United flight."},
}

func TestKnowledgeBase_Search(t *testing.T) {
	kb, err := NewKnowledgeBase(testDocs)
	require.NoError(t, err)
	defer func() { _ = kb.Close() }()

	assert.Equal(t, 3, kb.Len())
	docs, err := kb.Search("how much does a checked bag cost", 2)
	require.NoError(t, err)
	require.NotEmpty(t, docs)
	assert.Equal(t, "bags", docs[0].ID)

	docs, err = kb.Search("   ", 2)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestLoadKnowledgeBase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "faq.yaml")
	content := `documents:
  - title: Carry-on
    content: One personal item and one carry-on bag are allowed.
  - title: Empty
    content: ""
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	kb, err := LoadKnowledgeBase(path)
	require.NoError(t, err)
	defer func() { _ = kb.Close() }()
	assert.Equal(t, 1, kb.Len())

	_, err = LoadKnowledgeBase(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

type recordingCompleter struct {
	messages []provider.Message
	reply    string
}

func (r *recordingCompleter) Complete(_ context.Context, msgs []provider.Message) (string, error) {
	r.messages = msgs
	return r.reply, nil
}

func TestLLMAgent_UsesRetrievedContext(t *testing.T) {
	kb, err := NewKnowledgeBase(testDocs)
	require.NoError(t, err)
	defer func() { _ = kb.Close() }()

	llm := &recordingCompleter{reply: "Your first bag is free."}
	a := NewLLMAgent(llm, "You are a United Airlines FAQ assistant.", kb, 2)

	answer, err := a.Answer(context.Background(), Query{
		Text:         "Is the first checked bag free?",
		OriginalText: "¿La primera maleta facturada es gratis?",
		Language:     "es",
	})
	require.NoError(t, err)
	assert.Equal(t, "Your first bag is free.", answer)
	require.Len(t, llm.messages, 2)
	assert.Contains(t, llm.messages[0].Content, "50 pounds")
	assert.True(t, strings.HasPrefix(llm.messages[0].Content, "You are a United Airlines FAQ assistant."))
	assert.Contains(t, llm.messages[1].Content, "¿La primera maleta")
}
