// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package session tracks active chat sessions and owns their analytics.
// Statistics live only as long as the session; nothing is persisted.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/traylinx/switchAIDispatch/internal/analytics"
)

// DefaultIdleTimeout ends sessions without activity for this long.
const DefaultIdleTimeout = 30 * time.Minute

var (
	// ErrSessionExists is returned by Start for an id already in use.
	ErrSessionExists = errors.New("session already exists")
	// ErrInvalidID is returned for ids that cannot be used as session keys.
	ErrInvalidID = errors.New("invalid session id")
)

// EndReason tells why a session ended.
type EndReason string

const (
	EndExplicit EndReason = "explicit"
	EndIdle     EndReason = "idle"
	EndShutdown EndReason = "shutdown"
)

// Callbacks observe session lifecycle changes. Both are optional and are called
// outside the manager's lock.
type Callbacks struct {
	OnStart func(sessionID string)
	OnEnd   func(stats analytics.SessionStats, reason EndReason)
}

// entry is one active session. turns counts turns between BeginTurn and their
// release; End waits for them so the final snapshot includes every accepted turn.
type entry struct {
	agg      *analytics.Aggregator
	turns    sync.WaitGroup
	inflight atomic.Int32
}

// Manager maps session ids to their aggregators.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	idle     time.Duration
	cb       Callbacks
	now      func() time.Time
}

// NewManager creates a manager. A non-positive idle disables reaping.
func NewManager(idle time.Duration, cb Callbacks) *Manager {
	return &Manager{
		sessions: make(map[string]*entry),
		idle:     idle,
		cb:       cb,
		now:      time.Now,
	}
}

// NewID returns a fresh random session id.
func NewID() string {
	return uuid.NewString()
}

func validID(id string) bool {
	return id != "" && len(id) <= 128 && strings.TrimSpace(id) == id
}

// Start opens a session. An empty id is replaced with a generated one.
func (m *Manager) Start(id string) (string, error) {
	if id == "" {
		id = NewID()
	}
	if !validID(id) {
		return "", ErrInvalidID
	}

	m.mu.Lock()
	if _, exists := m.sessions[id]; exists {
		m.mu.Unlock()
		return "", ErrSessionExists
	}
	m.sessions[id] = &entry{agg: analytics.NewAggregator(id)}
	m.mu.Unlock()

	m.started(id)
	return id, nil
}

// Acquire returns the aggregator of id, opening the session if needed.
func (m *Manager) Acquire(id string) (*analytics.Aggregator, error) {
	e, err := m.acquire(id, false)
	if err != nil {
		return nil, err
	}
	return e.agg, nil
}

// BeginTurn is Acquire for a turn in progress. The session is not ended, and its
// final statistics are not taken, until release is called. release must be
// called exactly once.
func (m *Manager) BeginTurn(id string) (agg *analytics.Aggregator, release func(), err error) {
	e, err := m.acquire(id, true)
	if err != nil {
		return nil, nil, err
	}
	var once sync.Once
	return e.agg, func() {
		once.Do(func() {
			e.inflight.Add(-1)
			e.turns.Done()
		})
	}, nil
}

// acquire looks up or opens id. With turn set the turn is registered while the
// lock is held, so that end either sees it or the turn gets a fresh session.
func (m *Manager) acquire(id string, turn bool) (*entry, error) {
	if !validID(id) {
		return nil, ErrInvalidID
	}

	m.mu.RLock()
	e, ok := m.sessions[id]
	if ok && turn {
		e.turns.Add(1)
		e.inflight.Add(1)
	}
	m.mu.RUnlock()
	if ok {
		return e, nil
	}

	m.mu.Lock()
	e, ok = m.sessions[id]
	if !ok {
		e = &entry{agg: analytics.NewAggregator(id)}
		m.sessions[id] = e
	}
	if turn {
		e.turns.Add(1)
		e.inflight.Add(1)
	}
	m.mu.Unlock()

	if !ok {
		m.started(id)
	}
	return e, nil
}

// Snapshot returns the current statistics of id.
func (m *Manager) Snapshot(id string) (analytics.SessionStats, bool) {
	m.mu.RLock()
	e, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return analytics.SessionStats{}, false
	}
	return e.agg.Snapshot(), true
}

// End closes id and discards its statistics, returning the final snapshot. Turns
// already in progress for id finish and are counted before End returns; messages
// arriving after End open a new session.
func (m *Manager) End(id string) (analytics.SessionStats, bool) {
	return m.end(id, EndExplicit)
}

func (m *Manager) end(id string, reason EndReason) (analytics.SessionStats, bool) {
	m.mu.Lock()
	e, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return analytics.SessionStats{}, false
	}

	if n := e.inflight.Load(); n > 0 {
		log.WithField("session_id", id).Debugf("waiting for %d turns before ending session", n)
	}
	e.turns.Wait()

	stats := e.agg.Snapshot()
	log.WithField("session_id", id).Infof("session ended (%s) after %d queries", reason, stats.TotalQueries)
	if m.cb.OnEnd != nil {
		m.cb.OnEnd(stats, reason)
	}
	return stats, true
}

func (m *Manager) started(id string) {
	log.WithField("session_id", id).Debug("session started")
	if m.cb.OnStart != nil {
		m.cb.OnStart(id)
	}
}

// Count returns the number of active sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// ReapIdle ends every session idle for longer than the idle timeout and returns
// how many were ended.
func (m *Manager) ReapIdle() int {
	if m.idle <= 0 {
		return 0
	}
	cutoff := m.now().Add(-m.idle)

	m.mu.RLock()
	var expired []string
	for id, e := range m.sessions {
		if e.inflight.Load() == 0 && e.agg.LastActivity().Before(cutoff) {
			expired = append(expired, id)
		}
	}
	m.mu.RUnlock()

	n := 0
	for _, id := range expired {
		if _, ok := m.end(id, EndIdle); ok {
			n++
		}
	}
	return n
}

// Run reaps idle sessions until ctx is done, then ends the remaining sessions.
func (m *Manager) Run(ctx context.Context) {
	if m.idle > 0 {
		interval := m.idle / 2
		if interval < time.Second {
			interval = time.Second
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				m.Close()
				return
			case <-ticker.C:
				if n := m.ReapIdle(); n > 0 {
					log.Debugf("reaped %d idle sessions", n)
				}
			}
		}
	}
	<-ctx.Done()
	m.Close()
}

// Close ends all sessions.
func (m *Manager) Close() {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		m.end(id, EndShutdown)
	}
}
