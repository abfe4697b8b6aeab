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
// Package slotfill runs the question-answer loop that gathers the required
// slots for a product before a recommendation can be made. One call to
// Engine.HandleTurn is one turn of that loop: extract whatever the utterance
// holds, validate it against the slot rules, answer any side question the
// user slipped in, then either ask the next question or report completion.
//
// Validation and the side-question lookup run concurrently and are joined
// before the outcome is assembled, so a side answer arrives in the same
// reply as the next question instead of racing it. Rejected values are never
// written to the session; the per-slot retry counter decides when a re-ask
// collapses into an enumerated choice.
package slotfill

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianDialog/services/dialog/products"
	"github.com/AleutianAI/AleutianDialog/services/dialog/rules"
	"github.com/AleutianAI/AleutianDialog/services/dialog/sideinfo"
	"github.com/AleutianAI/AleutianDialog/services/dialog/state"
)

// sideInfoUnavailableNotice is spoken when a side question was asked but the
// lookup failed or timed out. The slot dialog continues regardless.
const sideInfoUnavailableNotice = "I couldn't look that up just now, sorry — feel free to ask me again later."

// Engine drives slot collection for one product. Safe for concurrent use
// across sessions; per-session serialization is the caller's job.
type Engine struct {
	extractor   Extractor
	rules       *rules.Source
	catalog     *products.Catalog
	resolver    sideinfo.Resolver
	sideTimeout time.Duration
	logger      *slog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithResolver sets the side-question resolver. Without one, side questions
// get the unavailable notice.
func WithResolver(r sideinfo.Resolver) EngineOption {
	return func(e *Engine) { e.resolver = r }
}

// WithSideTimeout overrides the side lookup timeout.
func WithSideTimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.sideTimeout = d
		}
	}
}

// WithLogger sets the structured logger. Nil falls back to slog.Default.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine builds a slot collection engine.
//
// Description:
//
//	The extractor is required. A nil rule source falls back to the embedded
//	rule file and a nil catalog to the embedded catalog, which keeps test
//	construction to one line.
func NewEngine(extractor Extractor, ruleSource *rules.Source, catalog *products.Catalog, opts ...EngineOption) (*Engine, error) {
	if extractor == nil {
		return nil, fmt.Errorf("slotfill: extractor must not be nil")
	}
	if ruleSource == nil {
		var err error
		ruleSource, err = rules.NewSource("", nil)
		if err != nil {
			return nil, fmt.Errorf("slotfill: loading default rules: %w", err)
		}
	}
	if catalog == nil {
		catalog = products.MustCatalog()
	}
	e := &Engine{
		extractor:   extractor,
		rules:       ruleSource,
		catalog:     catalog,
		sideTimeout: sideinfo.DefaultTimeout,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// HandleTurn runs one slot collection turn against the live session.
//
// Description:
//
//	The session must have a product locked in; the supervisor guarantees
//	that before routing a turn here. Everything else is handled internally:
//	extraction failures degrade to a polite re-ask, side lookups degrade to
//	the unavailable notice, and rejected values leave the session untouched
//	apart from the retry bookkeeping.
func (e *Engine) HandleTurn(ctx context.Context, sess *state.Session, utterance string) (Outcome, error) {
	ctx, span := tracer.Start(ctx, "Engine.HandleTurn")
	defer span.End()
	start := time.Now()
	defer func() { turnDuration.Observe(time.Since(start).Seconds()) }()

	if sess.Product == "" {
		return nil, fmt.Errorf("slotfill: turn without a product: %w", state.ErrInconsistentState)
	}

	ruleset := e.rules.Current()
	required := e.catalog.RequiredSlots(sess.Product)
	entryPending := sess.PendingSlot

	span.SetAttributes(
		attribute.String("session.id", sess.ID),
		attribute.String("slot.product", sess.Product),
		attribute.String("slot.pending", entryPending),
	)

	// Products without slot requirements go straight to recommendation.
	if len(required) == 0 {
		sess.PendingSlot = ""
		sess.RecReady = true
		slotTurns.WithLabelValues("ready").Inc()
		return ReadyForRecommendation{}, nil
	}

	extraction, err := e.extractor.Extract(ctx, ExtractRequest{
		Utterance:   utterance,
		Product:     sess.Product,
		PendingSlot: entryPending,
		Filled:      copySlots(sess.Slots),
		Specs:       e.buildSpecs(sess.Product, required, ruleset),
	})
	degraded := false
	if err != nil {
		// A failed extraction is treated as an utterance with nothing in it;
		// the user hears a soft re-ask rather than an error.
		e.logger.Warn("slot extraction failed, continuing without updates",
			slog.String("session_id", sess.ID),
			slog.Any("error", err),
		)
		extraction = &Extraction{}
		degraded = true
	}

	staged := make(map[string]string)
	rejections := make(map[string]*rules.Rejection)
	var sideText string
	var sideCites []string

	requiredSet := make(map[string]bool, len(required))
	for _, slot := range required {
		requiredSet[slot] = true
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for _, update := range extraction.Updates {
			if !requiredSet[update.Slot] {
				continue
			}
			rule := ruleset.Rule(sess.Product, update.Slot)
			if rule == nil {
				staged[update.Slot] = strings.TrimSpace(update.Value)
				continue
			}
			normalized, rej := rule.Check(update.Slot, update.Value)
			if rej != nil {
				rejections[update.Slot] = rej
				slotRejections.WithLabelValues(rej.Code).Inc()
				continue
			}
			staged[update.Slot] = normalized
		}
		return nil
	})

	if extraction.SideQuestion != "" {
		sess.PendingSideQuestion = extraction.SideQuestion
		g.Go(func() error {
			sideText, sideCites = e.resolveSide(gctx, extraction.SideQuestion, sess.Product)
			return nil
		})
	}

	// Both goroutines degrade internally and never return an error; the
	// join itself is the point.
	_ = g.Wait()

	if extraction.SideQuestion != "" {
		sess.PendingSideQuestion = ""
		sess.SideInfo = sideText
		sess.SideInfoCitations = sideCites
	}

	// Commit accepted values. This is the only place slot values are
	// written, and rejected values never reach it.
	for slot, value := range staged {
		sess.Slots[slot] = value
		delete(sess.SlotErrors, slot)
		delete(sess.SlotRetries, slot)
		if slot == "destination" {
			sess.Reference.LastDestination = value
		}
		if slot == entryPending {
			sess.PendingSlot = ""
		}
	}
	for slot, rej := range rejections {
		if rej.Code == rules.CodeException {
			continue
		}
		sess.SlotRetries[slot]++
		sess.SlotErrors[slot] = rej.Reason
	}

	// Educational notes from exception phrases, in extraction order so the
	// reply is deterministic.
	var notes []string
	seen := make(map[string]bool)
	for _, update := range extraction.Updates {
		rej := rejections[update.Slot]
		if rej != nil && rej.Code == rules.CodeException && !seen[update.Slot] {
			notes = append(notes, rej.Reason)
			seen[update.Slot] = true
		}
	}

	// A rejected answer to the slot we just asked about gets a targeted
	// re-ask, ahead of any priority ordering.
	if entryPending != "" && sess.PendingSlot == entryPending {
		if rej := rejections[entryPending]; rej != nil {
			rule := ruleset.Rule(sess.Product, entryPending)
			var question string
			if rej.Code == rules.CodeException {
				question = askQuestion(entryPending, rule)
			} else {
				question = reaskQuestion(entryPending, rej, rule, sess.SlotRetries[entryPending])
			}
			sess.Reference.LastBotQuestion = question
			slotTurns.WithLabelValues("reask").Inc()
			return AskNextSlot{
				Slot:      entryPending,
				Question:  joinParts(sideText, strings.Join(notes, "\n\n"), question),
				SideInfo:  sideText,
				Citations: sideCites,
			}, nil
		}
	}

	missing := e.missingSlots(sess, ruleset)
	if len(missing) == 0 {
		sess.PendingSlot = ""
		sess.RecReady = true
		slotTurns.WithLabelValues("ready").Inc()
		span.SetAttributes(attribute.Bool("slot.ready", true))
		return ReadyForRecommendation{SideInfo: sideText, Citations: sideCites}, nil
	}

	next := missing[0]
	rule := ruleset.Rule(sess.Product, next)
	var question string
	if rej := rejections[next]; rej != nil && rej.Code != rules.CodeException {
		question = reaskQuestion(next, rej, rule, sess.SlotRetries[next])
	} else {
		question = askQuestion(next, rule)
		if degraded && next == entryPending {
			question = "Sorry, I didn't quite catch that. " + question
		}
	}
	sess.PendingSlot = next
	sess.Reference.LastBotQuestion = question
	slotTurns.WithLabelValues("ask").Inc()
	span.SetAttributes(attribute.String("slot.next", next))

	return AskNextSlot{
		Slot:      next,
		Question:  joinParts(sideText, strings.Join(notes, "\n\n"), question),
		SideInfo:  sideText,
		Citations: sideCites,
	}, nil
}

// resolveSide answers a side question within the side timeout. Failures of
// any kind become the unavailable notice.
func (e *Engine) resolveSide(ctx context.Context, question, product string) (string, []string) {
	if e.resolver == nil {
		sideLookups.WithLabelValues("unconfigured").Inc()
		return sideInfoUnavailableNotice, nil
	}
	sctx, cancel := context.WithTimeout(ctx, e.sideTimeout)
	defer cancel()

	answer, err := e.resolver.Resolve(sctx, sideinfo.Query{Question: question, Product: product})
	if err != nil {
		e.logger.Debug("side question lookup failed",
			slog.String("question", question),
			slog.Any("error", err),
		)
		sideLookups.WithLabelValues("unavailable").Inc()
		return sideInfoUnavailableNotice, nil
	}
	sideLookups.WithLabelValues("answered").Inc()
	return answer.Text, answer.Citations
}

// missingSlots returns the required slots not yet collected, lowest priority
// number first. The stable sort preserves catalog declaration order for
// slots with equal priority.
func (e *Engine) missingSlots(sess *state.Session, ruleset *rules.Set) []string {
	var missing []string
	for _, slot := range e.catalog.RequiredSlots(sess.Product) {
		if _, ok := sess.Slots[slot]; !ok {
			missing = append(missing, slot)
		}
	}
	sort.SliceStable(missing, func(i, j int) bool {
		return ruleset.Priority(sess.Product, missing[i]) < ruleset.Priority(sess.Product, missing[j])
	})
	return missing
}

// buildSpecs describes every required slot for the extraction prompt,
// filled ones included so the extractor can hear corrections.
func (e *Engine) buildSpecs(product string, required []string, ruleset *rules.Set) []SlotSpec {
	specs := make([]SlotSpec, 0, len(required))
	for _, slot := range required {
		spec := SlotSpec{Name: slot, Type: rules.TypeFreeText}
		if rule := ruleset.Rule(product, slot); rule != nil {
			spec.Type = rule.Type
			spec.Values = rule.Values
			spec.Unit = rule.Unit
		}
		specs = append(specs, spec)
	}
	return specs
}

func copySlots(slots map[string]string) map[string]string {
	out := make(map[string]string, len(slots))
	for k, v := range slots {
		out[k] = v
	}
	return out
}

// joinParts assembles the reply from side answer, educational notes, and
// the question, skipping empty pieces.
func joinParts(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			kept = append(kept, strings.TrimSpace(p))
		}
	}
	return strings.Join(kept, "\n\n")
}
