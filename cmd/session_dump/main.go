// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// session_dump inspects the dialog service's persisted session store.
//
// The dialog service keeps conversation sessions (phase, collected slots,
// rolling summary, masked history) in BadgerDB so conversations survive
// restarts. This tool opens the store read-only and prints a human-readable
// summary of every session: ID, phase, product, slot fills, TTL remaining,
// and turn counts.
//
// Usage:
//
//	session_dump [--path /path/to/session/store]
//
// If --path is not given, reads DIALOG_DATA_DIR from the environment,
// falling back to ~/.aleutian/dialog/sessions/.
//
// Exit codes:
//
//	0 — success (including "empty store" which prints a message and exits 0)
//	1 — error opening or reading the database
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"
)

// sessionKeyPrefix must match services/dialog/session/store.go exactly.
const sessionKeyPrefix = "dialog/session/v1/"

// sessionRecord mirrors the fields this tool displays from the stored JSON.
// The store encodes the full session state; unknown fields are ignored on
// decode, so this mirror only has to track the tags it reads, not the whole
// struct. Tags must match services/dialog/state/state.go.
type sessionRecord struct {
	ID           string            `json:"id"`
	Product      string            `json:"product,omitempty"`
	Phase        string            `json:"phase"`
	Slots        map[string]string `json:"slots,omitempty"`
	PendingSlot  string            `json:"pending_slot,omitempty"`
	RecGiven     bool              `json:"rec_given"`
	DegradedMode bool              `json:"degraded_mode"`
	TurnCount    int               `json:"turn_count"`
	Summary      string            `json:"summary,omitempty"`
	History      []json.RawMessage `json:"history,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	LastActiveAt time.Time         `json:"last_active_at"`
}

func main() {
	pathFlag := flag.String("path", "", "Path to session BadgerDB directory (overrides DIALOG_DATA_DIR env var)")
	flag.Parse()

	dbPath := *pathFlag
	if dbPath == "" {
		dbPath = os.Getenv("DIALOG_DATA_DIR")
	}
	if dbPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			fatalf("cannot resolve home directory: %v", err)
		}
		dbPath = filepath.Join(home, ".aleutian", "dialog", "sessions")
	}

	fmt.Printf("Session store path: %s\n", dbPath)

	// Check existence before trying to open — gives a cleaner error message
	// than BadgerDB's "no such file or directory" buried in a long error.
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Println("Store directory does not exist. The service has not yet persisted any sessions.")
		fmt.Println("Start the dialog service and complete at least one turn to populate the store.")
		os.Exit(0)
	}

	// Open read-only so a dump never races the running service's writes.
	opts := dgbadger.DefaultOptions(dbPath).
		WithLogger(nil). // suppress BadgerDB internal logs
		WithReadOnly(true)

	db, err := dgbadger.Open(opts)
	if err != nil {
		fatalf("open BadgerDB at %s: %v", dbPath, err)
	}
	defer func() { _ = db.Close() }()

	// Collect all entries under the session key prefix.
	type entry struct {
		key       string
		sessionID string
		expiresAt time.Time
		hasExpiry bool
		record    *sessionRecord
		rawSize   int
		decodeErr error
	}

	var entries []entry

	err = db.View(func(txn *dgbadger.Txn) error {
		opts := dgbadger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(sessionKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := string(item.Key())
			sessionID := strings.TrimPrefix(key, sessionKeyPrefix)

			var e entry
			e.key = key
			e.sessionID = sessionID

			// TTL: item.ExpiresAt() returns Unix seconds, 0 = no expiry.
			if expiresAt := item.ExpiresAt(); expiresAt > 0 {
				e.hasExpiry = true
				e.expiresAt = time.Unix(int64(expiresAt), 0)
			}

			raw, err := item.ValueCopy(nil)
			if err != nil {
				e.decodeErr = fmt.Errorf("copy value: %w", err)
				entries = append(entries, e)
				continue
			}
			e.rawSize = len(raw)

			var rec sessionRecord
			if err := json.Unmarshal(raw, &rec); err != nil {
				e.decodeErr = fmt.Errorf("json decode: %w", err)
			} else {
				e.record = &rec
			}

			entries = append(entries, e)
		}
		return nil
	})
	if err != nil {
		fatalf("read BadgerDB: %v", err)
	}

	if len(entries) == 0 {
		fmt.Println("\nNo sessions found.")
		fmt.Println("The store has been opened before but every session has either been")
		fmt.Println("reset or garbage-collected after its TTL lapsed.")
		os.Exit(0)
	}

	fmt.Printf("\nFound %d session%s:\n", len(entries), plural(len(entries), "", "s"))
	fmt.Println(strings.Repeat("─", 80))

	for i, e := range entries {
		fmt.Printf("\n[%d] Key:         %s\n", i+1, e.key)
		fmt.Printf("    Session ID:  %s\n", e.sessionID)

		if e.hasExpiry {
			remaining := time.Until(e.expiresAt)
			if remaining < 0 {
				fmt.Printf("    TTL:         EXPIRED (%s ago)\n", (-remaining).Round(time.Second))
			} else {
				fmt.Printf("    TTL:         %s remaining (expires %s)\n",
					remaining.Round(time.Second),
					e.expiresAt.Format("2006-01-02 15:04:05 MST"),
				)
			}
		} else {
			fmt.Printf("    TTL:         no expiry set\n")
		}

		fmt.Printf("    Raw size:    %s\n", formatBytes(e.rawSize))

		if e.decodeErr != nil {
			fmt.Printf("    DECODE ERROR: %v\n", e.decodeErr)
			continue
		}

		rec := e.record
		fmt.Printf("    Phase:       %s\n", rec.Phase)
		if rec.Product != "" {
			fmt.Printf("    Product:     %s\n", rec.Product)
		}
		fmt.Printf("    Turns:       %d\n", rec.TurnCount)
		fmt.Printf("    History:     %d message%s\n", len(rec.History), plural(len(rec.History), "", "s"))

		var flags []string
		if rec.RecGiven {
			flags = append(flags, "recommendation given")
		}
		if rec.DegradedMode {
			flags = append(flags, "degraded")
		}
		if len(flags) > 0 {
			fmt.Printf("    Flags:       %s\n", strings.Join(flags, ", "))
		}

		if rec.PendingSlot != "" {
			fmt.Printf("    Waiting on:  %s\n", rec.PendingSlot)
		}

		if len(rec.Slots) > 0 {
			names := make([]string, 0, len(rec.Slots))
			for name := range rec.Slots {
				names = append(names, name)
			}
			sort.Strings(names)

			maxNameLen := 0
			for _, n := range names {
				if len(n) > maxNameLen {
					maxNameLen = len(n)
				}
			}

			fmt.Printf("    Slots:       %d filled\n", len(names))
			for _, name := range names {
				fmt.Printf("      %-*s = %s\n", maxNameLen, name, rec.Slots[name])
			}
		}

		if rec.Summary != "" {
			fmt.Printf("    Summary:     %s\n", truncate(rec.Summary, 70))
		}

		if !rec.LastActiveAt.IsZero() {
			fmt.Printf("    Last active: %s (%s ago)\n",
				rec.LastActiveAt.Format("2006-01-02 15:04:05 MST"),
				time.Since(rec.LastActiveAt).Round(time.Second),
			)
		}
	}

	fmt.Printf("\n%s\n", strings.Repeat("─", 80))
	fmt.Printf("Summary: %d session%s, store path: %s\n",
		len(entries), plural(len(entries), "", "s"), dbPath)
}

// truncate shortens s to at most n runes, appending an ellipsis when cut.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}

// formatBytes formats a byte count as a human-readable string.
func formatBytes(n int) string {
	switch {
	case n >= 1024*1024:
		return fmt.Sprintf("%.1f MB (%d bytes)", float64(n)/1024/1024, n)
	case n >= 1024:
		return fmt.Sprintf("%.1f KB (%d bytes)", float64(n)/1024, n)
	default:
		return fmt.Sprintf("%d bytes", n)
	}
}

// plural returns singular or plural suffix based on count.
func plural(n int, singular, pluralSuffix string) string {
	if n == 1 {
		return singular
	}
	return pluralSuffix
}

// fatalf prints to stderr and exits 1.
func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "session_dump: "+format+"\n", args...)
	os.Exit(1)
}
