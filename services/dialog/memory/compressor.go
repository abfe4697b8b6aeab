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
// Package memory keeps long conversations inside the context window without
// losing what was said. The compressor runs concurrently with the intent
// classifier on an immutable session snapshot; when history grows past the
// budget it archives the oldest span into a tagged summary document and
// trims the raw history down to a recent tail.
//
// The summary document is monotonic. Each compression pushes the previous
// [ACTIVE - <product>] body under [ARCHIVED], writes the newly summarized
// span as the active section, and refreshes the [SLOTS] digest. Nothing is
// ever removed from the archived section, and the compressor never writes
// slots or product — it only reads them for the digest.
//
// Two hard rules shape the prune boundary: at least four recent messages
// stay raw, and a tool request/response pair is never split. Pair integrity
// wins over the message cap when they conflict.
package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianDialog/services/dialog/state"
)

// =============================================================================
// Constants
// =============================================================================

// Token thresholds, in estimated tokens (chars/4). Compression triggers
// above SummarizeAbove and trims the raw tail to about TrimTarget; the
// generated summary itself is capped at SummaryCap.
const (
	DefaultContextBudget  = 8000
	DefaultSummarizeAbove = 6000
	DefaultTrimTarget     = 2500
	DefaultSummaryCap     = 500

	// DefaultMinRecent is the floor on raw messages kept after a trim.
	DefaultMinRecent = 4
)

// Section tags of the summary document.
const (
	TagArchived     = "[ARCHIVED]"
	TagActivePrefix = "[ACTIVE - "
	TagSlots        = "[SLOTS]"
)

// =============================================================================
// Metrics
// =============================================================================

var tracer = otel.Tracer("aleutian.dialog.memory")

var (
	compressorRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aleutian",
		Subsystem: "dialog_memory",
		Name:      "runs_total",
		Help:      "Compressor runs by outcome.",
	}, []string{"outcome"})

	archivedMessages = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "aleutian",
		Subsystem: "dialog_memory",
		Name:      "archived_messages_total",
		Help:      "Messages moved from raw history into the summary document.",
	})

	compressDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "aleutian",
		Subsystem: "dialog_memory",
		Name:      "compress_duration_seconds",
		Help:      "Wall time for one compressor run.",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
	})
)

// =============================================================================
// Compressor
// =============================================================================

// Config holds the compression thresholds. Zero values take the defaults.
type Config struct {
	ContextBudget  int
	SummarizeAbove int
	TrimTarget     int
	SummaryCap     int
	MinRecent      int
	MaxMessages    int
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		ContextBudget:  DefaultContextBudget,
		SummarizeAbove: DefaultSummarizeAbove,
		TrimTarget:     DefaultTrimTarget,
		SummaryCap:     DefaultSummaryCap,
		MinRecent:      DefaultMinRecent,
		MaxMessages:    state.MaxHistoryMessages,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ContextBudget <= 0 {
		c.ContextBudget = d.ContextBudget
	}
	if c.SummarizeAbove <= 0 {
		c.SummarizeAbove = d.SummarizeAbove
	}
	if c.TrimTarget <= 0 {
		c.TrimTarget = d.TrimTarget
	}
	if c.SummaryCap <= 0 {
		c.SummaryCap = d.SummaryCap
	}
	if c.MinRecent <= 0 {
		c.MinRecent = d.MinRecent
	}
	if c.MaxMessages <= 0 {
		c.MaxMessages = d.MaxMessages
	}
	return c
}

// Result is everything one compressor run produced. The orchestrator commits
// it onto the live session at the turn join; the compressor itself writes
// nothing.
type Result struct {
	// MemoryContext is the rebuilt tagged summary document.
	MemoryContext string

	// Summary is the plain prose version, archived and active bodies joined,
	// for handlers that speak it back to the user.
	Summary string

	// History is the raw tail to keep.
	History []state.Message

	// Hash fingerprints History for the idempotence short-circuit.
	Hash string

	// Compressed reports whether anything was actually archived.
	Compressed bool
}

// Compressor builds summary documents. Safe for concurrent use.
type Compressor struct {
	summarizer Summarizer
	cfg        Config
	logger     *slog.Logger
}

// Option configures a Compressor.
type Option func(*Compressor)

// WithSummarizer sets an LLM summarizer. Without one, or whenever it fails,
// the deterministic extractive fallback is used.
func WithSummarizer(s Summarizer) Option {
	return func(c *Compressor) { c.summarizer = s }
}

// WithLogger sets the structured logger. Nil falls back to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(c *Compressor) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewCompressor builds a compressor with the given thresholds.
func NewCompressor(cfg Config, opts ...Option) *Compressor {
	c := &Compressor{
		cfg:    cfg.withDefaults(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compress runs one compression pass over the session snapshot.
//
// Description:
//
//	Read-only on the snapshot. Unchanged history (by content hash) returns
//	the prior document untouched, which makes the pass idempotent. Under
//	the token threshold only the slots digest is refreshed; above it the
//	oldest span is summarized and archived.
func (c *Compressor) Compress(ctx context.Context, snap *state.Session) (*Result, error) {
	ctx, span := tracer.Start(ctx, "Compressor.Compress")
	defer span.End()
	start := time.Now()
	defer func() { compressDuration.Observe(time.Since(start).Seconds()) }()

	hash := historyHash(snap.History)
	span.SetAttributes(
		attribute.String("session.id", snap.ID),
		attribute.Int("memory.messages", len(snap.History)),
	)

	if hash == snap.MemoryHash && snap.MemoryHash != "" {
		compressorRuns.WithLabelValues("unchanged").Inc()
		return &Result{
			MemoryContext: snap.MemoryContext,
			Summary:       snap.Summary,
			History:       snap.History,
			Hash:          hash,
			Compressed:    false,
		}, nil
	}

	total := estimateMessages(snap.History)
	span.SetAttributes(attribute.Int("memory.tokens", total))

	prior := parseSections(snap.MemoryContext)

	if total <= c.cfg.SummarizeAbove && len(snap.History) <= c.cfg.MaxMessages {
		// Under budget. Refresh the digest so the document never shows
		// stale slots, but archive nothing.
		doc := renderDocument(prior.Archived, snap.Product, prior.Active, slotsDigest(snap))
		compressorRuns.WithLabelValues("under_budget").Inc()
		return &Result{
			MemoryContext: doc,
			Summary:       joinNonEmpty("\n", prior.Archived, prior.Active),
			History:       snap.History,
			Hash:          hash,
			Compressed:    false,
		}, nil
	}

	cut := c.pruneBoundary(snap.History)
	if cut <= 0 {
		// Nothing safely archivable (a handful of huge recent messages).
		doc := renderDocument(prior.Archived, snap.Product, prior.Active, slotsDigest(snap))
		compressorRuns.WithLabelValues("uncuttable").Inc()
		c.logger.Debug("history over budget but no safe prune boundary",
			slog.String("session_id", snap.ID),
			slog.Int("messages", len(snap.History)),
		)
		return &Result{
			MemoryContext: doc,
			Summary:       joinNonEmpty("\n", prior.Archived, prior.Active),
			History:       snap.History,
			Hash:          hash,
			Compressed:    false,
		}, nil
	}

	archivedSpan := snap.History[:cut]
	kept := append([]state.Message(nil), snap.History[cut:]...)
	spanSummary := c.summarize(ctx, archivedSpan)

	// Monotonic step: whatever was active becomes archived, the new span
	// summary becomes active.
	newArchived := joinNonEmpty("\n", prior.Archived, prior.Active)
	doc := renderDocument(newArchived, snap.Product, spanSummary, slotsDigest(snap))

	archivedMessages.Add(float64(cut))
	compressorRuns.WithLabelValues("compressed").Inc()
	span.SetAttributes(
		attribute.Int("memory.archived", cut),
		attribute.Int("memory.kept", len(kept)),
	)
	c.logger.Debug("compressed history",
		slog.String("session_id", snap.ID),
		slog.Int("archived", cut),
		slog.Int("kept", len(kept)),
	)

	return &Result{
		MemoryContext: doc,
		Summary:       joinNonEmpty("\n", newArchived, spanSummary),
		History:       kept,
		Hash:          historyHash(kept),
		Compressed:    true,
	}, nil
}

// pruneBoundary picks the archive cut index: history[:cut] is archived,
// history[cut:] kept. Walks backward collecting the recent tail up to the
// trim target, then slides further back off any tool responses so the kept
// window never opens mid-pair.
func (c *Compressor) pruneBoundary(history []state.Message) int {
	minCut := 0
	if over := len(history) - c.cfg.MaxMessages; over > 0 {
		minCut = over
	}

	cut := len(history)
	tokens := 0
	for cut > minCut {
		next := estimateMessage(history[cut-1])
		kept := len(history) - cut
		if kept >= c.cfg.MinRecent && tokens+next > c.cfg.TrimTarget {
			break
		}
		cut--
		tokens += next
	}

	// Pair integrity beats the cap: a kept window must not begin on a tool
	// response, so back up onto the assistant message that issued the calls.
	for cut > 0 && cut < len(history) && history[cut].Role == state.RoleTool {
		cut--
	}
	return cut
}

// summarize produces the span summary, preferring the configured LLM and
// falling back to the deterministic extractive form.
func (c *Compressor) summarize(ctx context.Context, msgs []state.Message) string {
	if c.summarizer != nil {
		text, err := c.summarizer.Summarize(ctx, msgs, c.cfg.SummaryCap)
		if err == nil && strings.TrimSpace(text) != "" {
			return capTokens(strings.TrimSpace(text), c.cfg.SummaryCap)
		}
		if err != nil {
			c.logger.Warn("llm summarizer failed, using extractive fallback",
				slog.Any("error", err))
		}
	}
	return extractiveSummary(msgs, c.cfg.SummaryCap)
}

// =============================================================================
// Document assembly
// =============================================================================

type sections struct {
	Archived string
	Active   string
}

// parseSections splits an existing summary document back into its archived
// and active bodies. The slots section is discarded; it is rebuilt fresh
// every run.
func parseSections(doc string) sections {
	var out sections
	current := ""
	var archived, active []string

	for _, line := range strings.Split(doc, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == TagArchived:
			current = "archived"
			continue
		case strings.HasPrefix(trimmed, TagActivePrefix):
			current = "active"
			continue
		case trimmed == TagSlots:
			current = "slots"
			continue
		}
		switch current {
		case "archived":
			archived = append(archived, line)
		case "active":
			active = append(active, line)
		}
	}

	out.Archived = strings.TrimSpace(strings.Join(archived, "\n"))
	out.Active = strings.TrimSpace(strings.Join(active, "\n"))
	return out
}

// renderDocument assembles the tagged summary document, skipping empty
// sections. An entirely empty document renders as "".
func renderDocument(archived, product, active, slots string) string {
	var sb strings.Builder
	if archived != "" {
		sb.WriteString(TagArchived)
		sb.WriteString("\n")
		sb.WriteString(archived)
		sb.WriteString("\n")
	}
	if active != "" {
		label := product
		if label == "" {
			label = "general"
		}
		sb.WriteString(TagActivePrefix)
		sb.WriteString(label)
		sb.WriteString("]\n")
		sb.WriteString(active)
		sb.WriteString("\n")
	}
	if slots != "" {
		sb.WriteString(TagSlots)
		sb.WriteString("\n")
		sb.WriteString(slots)
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// slotsDigest renders the filled slots deterministically, sorted by name,
// with the pending question noted.
func slotsDigest(snap *state.Session) string {
	if len(snap.Slots) == 0 && snap.PendingSlot == "" {
		return ""
	}
	keys := make([]string, 0, len(snap.Slots))
	for k := range snap.Slots {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys)+1)
	for _, k := range keys {
		parts = append(parts, k+"="+snap.Slots[k])
	}
	if snap.PendingSlot != "" {
		parts = append(parts, "pending:"+snap.PendingSlot)
	}
	return strings.Join(parts, "; ")
}

// =============================================================================
// Estimation and hashing
// =============================================================================

// estimateTokens is the chars/4 heuristic used throughout.
func estimateTokens(s string) int {
	return (len(s) + 3) / 4
}

func estimateMessage(m state.Message) int {
	return estimateTokens(m.Content) + 4
}

func estimateMessages(msgs []state.Message) int {
	total := 0
	for _, m := range msgs {
		total += estimateMessage(m)
	}
	return total
}

// capTokens truncates s to roughly maxTokens.
func capTokens(s string, maxTokens int) string {
	maxChars := maxTokens * 4
	if len(s) <= maxChars {
		return s
	}
	runes := []rune(s)
	if len(runes) > maxChars {
		runes = runes[:maxChars]
	}
	return strings.TrimSpace(string(runes)) + "..."
}

// historyHash fingerprints a history span by role and content.
func historyHash(msgs []state.Message) string {
	h := sha256.New()
	for _, m := range msgs {
		io.WriteString(h, m.Role)
		io.WriteString(h, "\x00")
		io.WriteString(h, m.Content)
		io.WriteString(h, "\x00")
		io.WriteString(h, m.ToolCallID)
		io.WriteString(h, "\x00")
		fmt.Fprintf(h, "%d\x00", len(m.ToolCallIDs))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func joinNonEmpty(sep string, parts ...string) string {
	var kept []string
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			kept = append(kept, strings.TrimSpace(p))
		}
	}
	return strings.Join(kept, sep)
}
