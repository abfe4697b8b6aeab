// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package rules

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultReloadDebounce coalesces the burst of fsnotify events editors and
// config tools emit when rewriting a file.
const DefaultReloadDebounce = 250 * time.Millisecond

var rulesReloads = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "aleutian",
		Subsystem: "dialog_rules",
		Name:      "reloads_total",
		Help:      "Slot rule file reload attempts by outcome.",
	},
	[]string{"outcome"},
)

// =============================================================================
// Source
// =============================================================================

// Source serves the current rule set and hot-reloads it when the backing
// file changes.
//
// # Description
//
// With an empty path the Source serves the embedded default rules and never
// watches anything. With a path it loads the file once at construction and,
// after Watch is called, replaces the served set atomically whenever the
// file is rewritten. A reload that fails to parse keeps the previous set —
// a bad config push degrades to stale rules, never to no rules.
//
// # Thread Safety
//
// Current is safe for concurrent use. Watch and Close must be called from a
// single goroutine (typically main).
type Source struct {
	path     string
	debounce time.Duration
	logger   *slog.Logger

	current atomic.Pointer[Set]

	watcher  *fsnotify.Watcher
	stopOnce sync.Once
	done     chan struct{}
}

// NewSource creates a Source for the given rule file path.
//
// Pass an empty path to serve the embedded defaults without watching.
// A nil logger falls back to slog.Default().
func NewSource(path string, logger *slog.Logger) (*Source, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Source{
		path:     path,
		debounce: DefaultReloadDebounce,
		logger:   logger,
		done:     make(chan struct{}),
	}

	var (
		set *Set
		err error
	)
	if path == "" {
		set, err = GetDefault()
	} else {
		set, err = loadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("rules: initial load: %w", err)
	}
	s.current.Store(set)
	return s, nil
}

// Current returns the rule set being served. Never nil after NewSource
// succeeds.
func (s *Source) Current() *Set {
	return s.current.Load()
}

// Watch starts the hot-reload goroutine. No-op when the Source serves the
// embedded defaults.
//
// The watch is on the file's directory, not the file itself: editors and
// config rollouts replace files by rename, which drops a direct file watch.
func (s *Source) Watch() error {
	if s.path == "" {
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("rules: creating watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		w.Close()
		return fmt.Errorf("rules: watching %s: %w", filepath.Dir(s.path), err)
	}
	s.watcher = w

	go s.watchLoop()
	s.logger.Info("slot rule hot-reload enabled", slog.String("path", s.path))
	return nil
}

func (s *Source) watchLoop() {
	target := filepath.Clean(s.path)
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			// Debounce: editors emit several events per save.
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(s.debounce, s.reload)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("slot rule watcher error", slog.String("error", err.Error()))
		}
	}
}

func (s *Source) reload() {
	set, err := loadFile(s.path)
	if err != nil {
		rulesReloads.WithLabelValues("error").Inc()
		s.logger.Warn("slot rule reload failed, keeping previous rules",
			slog.String("path", s.path),
			slog.String("error", err.Error()))
		return
	}
	s.current.Store(set)
	rulesReloads.WithLabelValues("ok").Inc()
	s.logger.Info("slot rules reloaded",
		slog.String("path", s.path),
		slog.Int("products", len(set.byProduct)))
}

// Close stops the watch goroutine and releases the watcher.
func (s *Source) Close() error {
	var err error
	s.stopOnce.Do(func() {
		close(s.done)
		if s.watcher != nil {
			err = s.watcher.Close()
		}
	})
	return err
}

func loadFile(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return Load(data)
}
