// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badger wraps a BadgerDB instance behind context-aware transaction
// helpers. The dialog service keeps session records in an embedded store: no
// network call, no availability dependency, and latency in the microseconds.
//
// The wrapper owns the value-log garbage collection loop; callers own the
// open/close lifecycle (typically main opens one DB at startup and closes it
// on shutdown).
package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"
)

// gcInterval is how often the value-log GC runs. BadgerDB only reclaims
// space when asked; without this loop deleted and expired entries pile up
// on disk.
const gcInterval = 10 * time.Minute

// gcDiscardRatio passed to RunValueLogGC. A file is rewritten when at least
// this fraction of it is garbage.
const gcDiscardRatio = 0.5

// =============================================================================
// Config
// =============================================================================

// Config controls how the DB is opened.
type Config struct {
	// Path is the on-disk directory. Ignored when InMemory is set.
	Path string

	// InMemory opens a non-persistent instance. Used by tests and by the
	// degraded mode the service falls back to when the data directory is
	// unavailable.
	InMemory bool

	// SyncWrites forces an fsync per commit. Off by default: session records
	// are rebuilt from a fresh greeting at worst, and the write amplification
	// is not worth that trade.
	SyncWrites bool

	// Logger receives open/close and GC diagnostics. Nil uses slog.Default.
	Logger *slog.Logger
}

// DefaultConfig returns the standard on-disk configuration. The caller must
// fill in Path before opening.
func DefaultConfig() Config {
	return Config{}
}

// InMemoryConfig returns a configuration for a non-persistent instance.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// =============================================================================
// DB
// =============================================================================

// DB is an opened BadgerDB with its GC loop running.
//
// # Thread Safety
//
// Safe for concurrent use. BadgerDB transactions are per-goroutine.
type DB struct {
	db     *dgbadger.DB
	logger *slog.Logger
	stopGC chan struct{}
	gcDone chan struct{}
}

// OpenDB opens (or creates) the store described by cfg.
//
// # Description
//
// BadgerDB's internal logger is suppressed; open, close, and GC events are
// reported through the configured slog logger instead. The returned DB must
// be closed by the caller.
func OpenDB(cfg Config) (*DB, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var opts dgbadger.Options
	if cfg.InMemory {
		opts = dgbadger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, fmt.Errorf("badger: config has no path and is not in-memory")
		}
		opts = dgbadger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithLogger(nil).WithSyncWrites(cfg.SyncWrites)

	db, err := dgbadger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: open %q: %w", cfg.Path, err)
	}

	d := &DB{
		db:     db,
		logger: logger,
		stopGC: make(chan struct{}),
		gcDone: make(chan struct{}),
	}
	if cfg.InMemory {
		// No value log on disk, nothing to collect.
		close(d.gcDone)
	} else {
		go d.runGC()
	}
	return d, nil
}

// WithTxn runs fn inside a read-write transaction. The context is checked
// before the transaction starts; BadgerDB itself does not observe it.
func (d *DB) WithTxn(ctx context.Context, fn func(txn *dgbadger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.db.Update(fn)
}

// WithReadTxn runs fn inside a read-only transaction.
func (d *DB) WithReadTxn(ctx context.Context, fn func(txn *dgbadger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.db.View(fn)
}

// Close stops the GC loop and closes the underlying store.
func (d *DB) Close() error {
	close(d.stopGC)
	<-d.gcDone
	return d.db.Close()
}

// runGC reclaims value-log space on a fixed cadence. ErrNoRewrite means
// nothing was worth collecting and is not an error.
func (d *DB) runGC() {
	defer close(d.gcDone)
	ticker := time.NewTicker(gcInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopGC:
			return
		case <-ticker.C:
			for {
				err := d.db.RunValueLogGC(gcDiscardRatio)
				if errors.Is(err, dgbadger.ErrNoRewrite) {
					break
				}
				if err != nil {
					d.logger.Warn("badger value log GC failed", slog.String("error", err.Error()))
					break
				}
				// A file was rewritten; try again in case more qualify.
			}
		}
	}
}
