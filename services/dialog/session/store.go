// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// # Description
//
// Package session persists conversation state and serializes the turns that
// mutate it. The store is deliberately dumb: load at turn start, save at turn
// end, nothing in between. Turn-level concurrency control (one turn in flight
// per session, latest turn wins) lives in the Manager, not the store.
//
// Storage layout:
//
//	dialog/session/v1/{sessionID}  →  JSON-encoded state.Session
//	                                   TTL: 24h, refreshed on every save
//
// JSON rather than gob: the session record doubles as the API payload and
// operators inspect it with cmd/session_dump; a self-describing encoding is
// worth the extra bytes.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/AleutianDialog/services/dialog/state"
	badgerstore "github.com/AleutianAI/AleutianDialog/services/dialog/storage/badger"
)

// DefaultSessionTTL is how long an untouched session survives in the store.
// Every save refreshes it, so only truly abandoned conversations expire.
const DefaultSessionTTL = 24 * time.Hour

// sessionKeyPrefix is prepended to the session ID to form the BadgerDB key.
// Versioned (v1) to allow future format changes without collision.
const sessionKeyPrefix = "dialog/session/v1/"

// ErrNotFound reports that no session exists under the given ID. A fresh
// conversation, not a failure; the manager answers it with state.New.
var ErrNotFound = errors.New("session: not found")

// =============================================================================
// Metrics
// =============================================================================

var (
	sessionLoads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aleutian",
		Subsystem: "dialog_session",
		Name:      "loads_total",
		Help:      "Session loads by outcome.",
	}, []string{"outcome"})

	sessionSaves = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aleutian",
		Subsystem: "dialog_session",
		Name:      "saves_total",
		Help:      "Session saves by outcome.",
	}, []string{"outcome"})
)

// =============================================================================
// Store
// =============================================================================

// Store persists sessions by ID.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Load retrieves the session. Returns ErrNotFound when no record exists
	// (or its TTL expired); any other error is a storage failure.
	Load(ctx context.Context, id string) (*state.Session, error)

	// Save persists the session, refreshing its TTL.
	Save(ctx context.Context, sess *state.Session) error

	// Delete removes the session. Deleting an absent session is not an error.
	Delete(ctx context.Context, id string) error
}

// =============================================================================
// BadgerStore
// =============================================================================

// BadgerStore implements Store on an embedded BadgerDB.
//
// # Description
//
// The DB is expected to be a service-global instance opened at startup. The
// caller owns the DB lifecycle; this store does not close it. TTL expiry is
// enforced by BadgerDB's GC — expired keys return ErrKeyNotFound, which this
// store reports as ErrNotFound.
//
// # Thread Safety
//
// Safe for concurrent use.
type BadgerStore struct {
	db     *badgerstore.DB
	ttl    time.Duration
	logger *slog.Logger
}

// NewBadgerStore creates a BadgerStore on the given DB instance.
//
// # Inputs
//
//   - db: Opened BadgerDB wrapper. Must not be nil.
//   - ttl: Session lifetime. Pass 0 to use the default (24h).
//   - logger: Logger for load/save diagnostics. May be nil.
func NewBadgerStore(db *badgerstore.DB, ttl time.Duration, logger *slog.Logger) *BadgerStore {
	if db == nil {
		panic("NewBadgerStore: db must not be nil")
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BadgerStore{db: db, ttl: ttl, logger: logger}
}

// Load retrieves and decodes the session stored under id.
func (s *BadgerStore) Load(ctx context.Context, id string) (*state.Session, error) {
	key := sessionKey(id)

	var raw []byte
	err := s.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, dgbadger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get session key: %w", err)
		}
		raw, err = item.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("copy value: %w", err)
		}
		return nil
	})

	if errors.Is(err, ErrNotFound) {
		sessionLoads.WithLabelValues("miss").Inc()
		return nil, ErrNotFound
	}
	if err != nil {
		sessionLoads.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("session load: %w", err)
	}

	var sess state.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		sessionLoads.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("session decode: %w", err)
	}

	sessionLoads.WithLabelValues("hit").Inc()
	s.logger.Debug("session loaded",
		slog.String("session_id", id),
		slog.Int("turns", sess.TurnCount),
	)
	return &sess, nil
}

// Save encodes and persists the session with a refreshed TTL.
func (s *BadgerStore) Save(ctx context.Context, sess *state.Session) error {
	if sess == nil || sess.ID == "" {
		return fmt.Errorf("session save: session has no ID")
	}

	raw, err := json.Marshal(sess)
	if err != nil {
		sessionSaves.WithLabelValues("error").Inc()
		return fmt.Errorf("session encode: %w", err)
	}

	key := sessionKey(sess.ID)
	err = s.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		entry := dgbadger.NewEntry(key, raw).WithTTL(s.ttl)
		return txn.SetEntry(entry)
	})
	if err != nil {
		sessionSaves.WithLabelValues("error").Inc()
		return fmt.Errorf("session save: %w", err)
	}

	sessionSaves.WithLabelValues("ok").Inc()
	s.logger.Debug("session saved",
		slog.String("session_id", sess.ID),
		slog.Int("bytes", len(raw)),
	)
	return nil
}

// Delete removes the session record.
func (s *BadgerStore) Delete(ctx context.Context, id string) error {
	err := s.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		return txn.Delete(sessionKey(id))
	})
	if err != nil {
		return fmt.Errorf("session delete: %w", err)
	}
	return nil
}

// sessionKey builds the BadgerDB key for the given session ID.
func sessionKey(id string) []byte {
	return []byte(sessionKeyPrefix + id)
}

// =============================================================================
// MemoryStore
// =============================================================================

// MemoryStore implements Store in process memory. It backs tests and the
// degraded mode the service runs in when the data directory cannot be opened;
// sessions then live exactly as long as the process.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*state.Session
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: map[string]*state.Session{}}
}

// Load returns a deep copy of the stored session.
func (s *MemoryStore) Load(ctx context.Context, id string) (*state.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		sessionLoads.WithLabelValues("miss").Inc()
		return nil, ErrNotFound
	}
	sessionLoads.WithLabelValues("hit").Inc()
	return sess.Clone(), nil
}

// Save stores a deep copy of the session.
func (s *MemoryStore) Save(ctx context.Context, sess *state.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if sess == nil || sess.ID == "" {
		return fmt.Errorf("session save: session has no ID")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess.Clone()
	sessionSaves.WithLabelValues("ok").Inc()
	return nil
}

// Delete removes the session.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}
