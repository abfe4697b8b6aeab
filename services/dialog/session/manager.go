// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/AleutianDialog/services/dialog/state"
)

// DefaultIdleReset is how long a session may sit untouched before the next
// turn starts it over. The record survives (the store TTL handles deletion);
// only the conversation state resets, keeping the ID stable for the client.
const DefaultIdleReset = 15 * time.Minute

// ErrSuperseded reports that a newer turn arrived for the same session while
// this one was waiting or working. The superseded turn's results are
// discarded; the caller should drop the turn silently.
var ErrSuperseded = errors.New("session: turn superseded by a newer one")

var (
	idleResets = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "aleutian",
		Subsystem: "dialog_session",
		Name:      "idle_resets_total",
		Help:      "Sessions reset because they idled past the threshold.",
	})

	supersededTurns = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "aleutian",
		Subsystem: "dialog_session",
		Name:      "superseded_turns_total",
		Help:      "Turns discarded because a newer turn arrived for the session.",
	})
)

// =============================================================================
// Manager
// =============================================================================

// Manager serializes turns per session and owns the idle-reset policy.
//
// # Description
//
// Two concurrency rules live here so the core decision logic stays free of
// locking:
//
//  1. One turn in flight per session. A per-session mutex serializes Begin;
//     a second turn for the same ID waits.
//  2. Latest turn wins. Beginning a turn cancels the context of any turn
//     already in flight for that session; the cancelled turn unwinds, its
//     Commit refuses with ErrSuperseded, and the new turn proceeds from the
//     last committed state.
//
// # Thread Safety
//
// Safe for concurrent use.
type Manager struct {
	store     Store
	idleReset time.Duration
	logger    *slog.Logger

	mu    sync.Mutex
	locks map[string]*sessionLock
}

// sessionLock carries the per-session serialization state. Entries live for
// the manager's lifetime; at a few dozen bytes per session ID that is cheaper
// than getting eviction wrong.
type sessionLock struct {
	mu         sync.Mutex
	generation atomic.Uint64

	cancelMu sync.Mutex
	cancel   context.CancelFunc
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithIdleReset overrides the idle threshold. Zero or negative disables
// idle resets entirely.
func WithIdleReset(d time.Duration) ManagerOption {
	return func(m *Manager) { m.idleReset = d }
}

// WithManagerLogger sets the structured logger. Nil falls back to slog.Default.
func WithManagerLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewManager creates a turn manager over the given store.
func NewManager(store Store, opts ...ManagerOption) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("session: store is required")
	}
	m := &Manager{
		store:     store,
		idleReset: DefaultIdleReset,
		logger:    slog.Default(),
		locks:     map[string]*sessionLock{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Begin opens a turn: cancels any in-flight turn for the session, waits for
// the session lock, and loads (or creates) the session record.
//
// # Description
//
// The returned Turn holds the session lock until End is called; callers must
// always End, typically via defer. Begin returns ErrSuperseded when an even
// newer turn arrived while this one waited for the lock.
func (m *Manager) Begin(ctx context.Context, id string) (*Turn, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("session: empty session id")
	}

	lk := m.lockFor(id)
	gen := lk.generation.Add(1)

	// Evict the current holder before queueing on the lock. The generation
	// re-check keeps a stale turn from cancelling the context a newer one
	// just installed.
	lk.cancelMu.Lock()
	if lk.generation.Load() != gen {
		lk.cancelMu.Unlock()
		supersededTurns.Inc()
		return nil, ErrSuperseded
	}
	if lk.cancel != nil {
		lk.cancel()
	}
	turnCtx, cancel := context.WithCancel(ctx)
	lk.cancel = cancel
	lk.cancelMu.Unlock()

	lk.mu.Lock()
	if lk.generation.Load() != gen {
		// Someone newer queued up while we waited; let them through.
		lk.mu.Unlock()
		cancel()
		supersededTurns.Inc()
		return nil, ErrSuperseded
	}

	sess, err := m.loadOrCreate(turnCtx, id)
	if err != nil {
		lk.mu.Unlock()
		cancel()
		return nil, err
	}

	if m.idleReset > 0 && !sess.LastActiveAt.IsZero() {
		if idle := time.Since(sess.LastActiveAt); idle > m.idleReset {
			idleResets.Inc()
			m.logger.Info("session idle past threshold, starting over",
				slog.String("session_id", id),
				slog.Duration("idle", idle.Round(time.Second)),
			)
			sess.ResetForRestart()
		}
	}

	return &Turn{
		manager: m,
		lock:    lk,
		ctx:     turnCtx,
		cancel:  cancel,
		gen:     gen,
		id:      id,
		session: sess,
	}, nil
}

// Load fetches a session read-only, without taking the turn lock. Used by
// the inspection endpoints; returns ErrNotFound for unknown IDs.
func (m *Manager) Load(ctx context.Context, id string) (*state.Session, error) {
	return m.store.Load(ctx, id)
}

// Reset deletes the stored session under the turn lock, so an in-flight turn
// cannot resurrect it with a late commit.
func (m *Manager) Reset(ctx context.Context, id string) error {
	turn, err := m.Begin(ctx, id)
	if err != nil {
		return err
	}
	defer turn.End()
	return m.store.Delete(ctx, id)
}

func (m *Manager) lockFor(id string) *sessionLock {
	m.mu.Lock()
	defer m.mu.Unlock()
	lk, ok := m.locks[id]
	if !ok {
		lk = &sessionLock{}
		m.locks[id] = lk
	}
	return lk
}

func (m *Manager) loadOrCreate(ctx context.Context, id string) (*state.Session, error) {
	sess, err := m.store.Load(ctx, id)
	if errors.Is(err, ErrNotFound) {
		m.logger.Debug("new session", slog.String("session_id", id))
		return state.New(id), nil
	}
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// =============================================================================
// Turn
// =============================================================================

// Turn is one held session turn: the lock, the turn context, and the loaded
// session record.
type Turn struct {
	manager *Manager
	lock    *sessionLock
	ctx     context.Context
	cancel  context.CancelFunc
	gen     uint64
	id      string
	session *state.Session
	endOnce sync.Once
}

// Context is the turn's context. It is cancelled when a newer turn begins
// for the same session; long-running work must watch it.
func (t *Turn) Context() context.Context {
	return t.ctx
}

// Session is the record loaded at Begin. The caller owns it for the duration
// of the turn; nothing else reads or writes it while the turn is held.
func (t *Turn) Session() *state.Session {
	return t.session
}

// Superseded reports whether a newer turn has already begun for this session.
func (t *Turn) Superseded() bool {
	return t.lock.generation.Load() != t.gen
}

// Commit persists the updated session, unless the turn was superseded, in
// which case nothing is written and ErrSuperseded is returned.
func (t *Turn) Commit(ctx context.Context, sess *state.Session) error {
	if t.Superseded() {
		sessionSaves.WithLabelValues("superseded").Inc()
		supersededTurns.Inc()
		return ErrSuperseded
	}
	sess.LastActiveAt = time.Now().UTC()
	return t.manager.store.Save(ctx, sess)
}

// End releases the session lock. Safe to call more than once.
func (t *Turn) End() {
	t.endOnce.Do(func() {
		t.cancel()
		t.lock.cancelMu.Lock()
		if t.lock.generation.Load() == t.gen {
			// Still the newest turn, so the registered cancel is ours.
			t.lock.cancel = nil
		}
		t.lock.cancelMu.Unlock()
		t.lock.mu.Unlock()
	})
}
