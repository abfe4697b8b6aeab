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
// Package routing decides, once per turn, what the dialog system does next.
// The Supervisor evaluates a fixed, priority-ordered rule ladder over an
// immutable session snapshot plus the classifier's prediction and returns a
// Decision. Evaluation is pure: the same snapshot and prediction always
// produce the same Decision, and nothing is written to the session until the
// orchestrator calls Apply with the winning Decision.
//
// The ladder, highest priority first:
//
//  1. Escalation        — explicit live-agent ask, or too many self-corrections.
//  2. Self-correction   — consecutive handler errors trip a repair dispatch.
//  3. Reset             — the user asked to start over.
//  4. Switch guard      — a second product mid-conversation is refused.
//  5. Slot resume       — an unanswered slot question pulls the turn back.
//  6. Intent dispatch   — otherwise, route by classified intent.
//
// The guard outranks slot resume on purpose: "actually, car insurance" while
// a travel slot is pending must be refused, not swallowed as a slot answer.
package routing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianDialog/services/dialog/products"
	"github.com/AleutianAI/AleutianDialog/services/dialog/state"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// DefaultSelfCorrectionLimit is how many self-correction rounds a session
	// may burn before the supervisor escalates to a live agent instead.
	DefaultSelfCorrectionLimit = 2

	// DefaultErrorStreakLimit is the number of consecutive handler errors
	// that triggers a self-correction dispatch.
	DefaultErrorStreakLimit = 2
)

// Rule names, used as metric labels and span attributes. Stable strings:
// dashboards alert on them.
const (
	ruleEscalation     = "escalation"
	ruleSelfCorrection = "self_correction"
	ruleReset          = "reset"
	ruleSwitchGuard    = "switch_guard"
	ruleSlotResume     = "slot_resume"
	ruleIntentDispatch = "intent_dispatch"
	ruleStateRepair    = "state_repair"
	ruleDegraded       = "degraded_fallback"
)

// =============================================================================
// Metrics
// =============================================================================

var (
	routeDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aleutian",
		Subsystem: "dialog_routing",
		Name:      "decisions_total",
		Help:      "Routing decisions by winning rule and decision kind.",
	}, []string{"rule", "decision"})

	switchBlocks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "aleutian",
		Subsystem: "dialog_routing",
		Name:      "product_switch_blocks_total",
		Help:      "Mid-conversation product switch attempts refused by the guard.",
	})

	degradedRoutes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "aleutian",
		Subsystem: "dialog_routing",
		Name:      "degraded_fallbacks_total",
		Help:      "Turns routed without classifier output.",
	})

	routeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "aleutian",
		Subsystem: "dialog_routing",
		Name:      "route_duration_seconds",
		Help:      "Wall time spent evaluating the routing ladder.",
		Buckets:   prometheus.ExponentialBuckets(0.000001, 10, 8),
	})
)

// =============================================================================
// Supervisor
// =============================================================================

// Supervisor routes turns. Construct with NewSupervisor; the zero value has
// no catalog and will treat every product mention as unknown.
type Supervisor struct {
	catalog             *products.Catalog
	selfCorrectionLimit int
	errorStreakLimit    int
	logger              *slog.Logger
	tracer              trace.Tracer
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithSelfCorrectionLimit overrides the escalation threshold.
func WithSelfCorrectionLimit(n int) Option {
	return func(s *Supervisor) {
		if n > 0 {
			s.selfCorrectionLimit = n
		}
	}
}

// WithErrorStreakLimit overrides the self-correction trigger threshold.
func WithErrorStreakLimit(n int) Option {
	return func(s *Supervisor) {
		if n > 0 {
			s.errorStreakLimit = n
		}
	}
}

// WithLogger sets the structured logger. Nil falls back to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewSupervisor builds a Supervisor over the given product catalog.
//
// Description:
//
//	The catalog is required for the switch guard and for committing detected
//	products in Apply. A nil catalog falls back to the embedded default so a
//	bare NewSupervisor(nil) still routes correctly in tests.
func NewSupervisor(catalog *products.Catalog, opts ...Option) *Supervisor {
	if catalog == nil {
		catalog = products.MustCatalog()
	}
	s := &Supervisor{
		catalog:             catalog,
		selfCorrectionLimit: DefaultSelfCorrectionLimit,
		errorStreakLimit:    DefaultErrorStreakLimit,
		logger:              slog.Default(),
		tracer:              otel.Tracer("aleutian.dialog.routing"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Route evaluates the rule ladder for one turn and returns the winning
// Decision. The snapshot is read, never written; commit the outcome with
// Apply. Route never fails: malformed state resolves to Reset, a missing
// prediction to the degraded fallback.
func (s *Supervisor) Route(ctx context.Context, snap *state.Session, pred *state.Prediction) Decision {
	start := time.Now()
	_, span := s.tracer.Start(ctx, "routing.Route")
	defer span.End()

	rule, decision := s.evaluate(snap, pred)

	span.SetAttributes(
		attribute.String("routing.rule", rule),
		attribute.String("routing.decision", decision.Kind()),
		attribute.String("session.id", snap.ID),
	)
	routeDecisions.WithLabelValues(rule, decision.Kind()).Inc()
	routeDuration.Observe(time.Since(start).Seconds())
	s.logger.Debug("routed turn",
		slog.String("session_id", snap.ID),
		slog.String("rule", rule),
		slog.String("decision", decision.Kind()),
	)
	return decision
}

// evaluate walks the ladder top to bottom and stops at the first rule that
// claims the turn.
func (s *Supervisor) evaluate(snap *state.Session, pred *state.Prediction) (string, Decision) {
	// A snapshot that violates its own invariants cannot be routed safely;
	// every later rule would be reading garbage. Repair by resetting.
	if err := snap.Validate(); err != nil {
		s.logger.Warn("inconsistent session state, forcing reset",
			slog.String("session_id", snap.ID),
			slog.Any("error", err),
		)
		return ruleStateRepair, Reset{}
	}

	if pred == nil {
		return s.degraded(snap)
	}

	// Rule 1: escalation. An explicit ask for a human always wins, and a
	// session that keeps tripping self-correction is past the point where
	// another automated retry helps.
	if pred.LiveAgent || snap.SelfCorrectionCount > s.selfCorrectionLimit {
		return ruleEscalation, Dispatch{Handler: state.HandlerLiveAgent}
	}

	// Rule 2: self-correction after consecutive handler errors.
	if snap.HandlerErrorStreak >= s.errorStreakLimit {
		return ruleSelfCorrection, Dispatch{Handler: state.HandlerSelfCorrection}
	}

	// Rule 3: explicit restart.
	if pred.Reset {
		return ruleReset, Reset{}
	}

	// Rule 4: product switch guard. Case and alias differences are not a
	// switch; a genuinely different product is refused outright. This rule
	// runs even while a slot question is pending.
	if pred.Product != "" && snap.Product != "" && !s.catalog.Same(pred.Product, snap.Product) {
		switchBlocks.Inc()
		return ruleSwitchGuard, Block{Message: s.blockMessage(pred.Product)}
	}

	// Rule 5: resume an interrupted slot dialog. Only before a
	// recommendation has been given; afterwards stale pending slots must
	// not hijack follow-up questions.
	if snap.PendingSlot != "" && !snap.RecGiven && snap.Product != "" {
		return ruleSlotResume, ResumeSlotCollection{}
	}

	// Rule 6: dispatch on intent.
	return ruleIntentDispatch, Dispatch{Handler: handlerForIntent(pred.Intent)}
}

// RouteDegraded routes a turn for which the classifier produced nothing.
// Slot collection continues if one was mid-flight, otherwise the turn goes
// to conversational fallback with the degraded flag set.
func (s *Supervisor) RouteDegraded(ctx context.Context, snap *state.Session) Decision {
	_, span := s.tracer.Start(ctx, "routing.RouteDegraded")
	defer span.End()

	rule, decision := s.degraded(snap)
	span.SetAttributes(
		attribute.String("routing.rule", rule),
		attribute.String("routing.decision", decision.Kind()),
	)
	routeDecisions.WithLabelValues(rule, decision.Kind()).Inc()
	return decision
}

func (s *Supervisor) degraded(snap *state.Session) (string, Decision) {
	degradedRoutes.Inc()
	if snap.PendingSlot != "" && !snap.RecGiven && snap.Product != "" {
		return ruleDegraded, ResumeSlotCollection{}
	}
	return ruleDegraded, Dispatch{Handler: state.HandlerChat, Degraded: true}
}

// =============================================================================
// Commit
// =============================================================================

// Apply commits a Decision to the live session. This is the single place a
// product is ever written: handlers and the slot engine propose, Apply
// disposes. Block deliberately writes nothing.
func (s *Supervisor) Apply(sess *state.Session, pred *state.Prediction, decision Decision) {
	switch d := decision.(type) {
	case Reset:
		sess.ResetForRestart()

	case Block:
		// The attempted product is discarded. Session untouched.

	case ResumeSlotCollection:
		sess.TransitionPhase(state.PhaseSlotFilling)
		sess.DegradedMode = false

	case Dispatch:
		s.commitProduct(sess, pred)
		sess.DegradedMode = d.Degraded
		if d.Handler == state.HandlerLiveAgent {
			sess.LiveAgentAsked = true
		}
		if d.Handler == state.HandlerSelfCorrection {
			// The correction itself is the recovery attempt: count it toward
			// the escalation threshold and give the streak a clean slate.
			sess.SelfCorrectionCount++
			sess.HandlerErrorStreak = 0
		}
		if phase, ok := state.PhaseForHandler(d.Handler); ok {
			sess.TransitionPhase(phase)
		}
	}
}

// commitProduct locks in a newly detected product. A product is written at
// most once per session; the switch guard already refused anything that
// would have conflicted.
func (s *Supervisor) commitProduct(sess *state.Session, pred *state.Prediction) {
	if sess.Product != "" || pred == nil || pred.Product == "" {
		return
	}
	canonical, ok := s.catalog.Normalize(pred.Product)
	if !ok {
		s.logger.Debug("ignoring unknown product mention",
			slog.String("session_id", sess.ID),
			slog.String("mention", pred.Product),
		)
		return
	}
	sess.Product = canonical
	sess.Reference.LastProduct = canonical
	s.logger.Info("product locked for session",
		slog.String("session_id", sess.ID),
		slog.String("product", canonical),
	)
}

// blockMessage builds the refusal for a blocked product switch. The wording
// always names the product the user asked for and how to start over.
func (s *Supervisor) blockMessage(detected string) string {
	display := detected
	if canonical, ok := s.catalog.Normalize(detected); ok {
		display = s.catalog.DisplayName(canonical)
	}
	return fmt.Sprintf(
		"I'm sorry, but I can't switch to %s in the middle of our current consultation. "+
			"If you'd like to explore %s instead, just say 'Restart Session' or 'Start Over' "+
			"and we can begin fresh.",
		display, display,
	)
}

// handlerForIntent maps a classified intent onto a specialist handler.
// Unknown intents deliberately land in conversational fallback rather than
// erroring: a misread intent should cost the user one soft reply, not a 500.
func handlerForIntent(intent string) string {
	switch intent {
	case state.IntentGreeting:
		return state.HandlerGreet
	case state.IntentInfo:
		return state.HandlerInfo
	case state.IntentCompare:
		return state.HandlerCompare
	case state.IntentPurchase:
		return state.HandlerPurchase
	case state.IntentRecommend:
		return state.HandlerRecommend
	case state.IntentSummary:
		return state.HandlerSummary
	case state.IntentCapabilities:
		return state.HandlerCapabilities
	default:
		return state.HandlerChat
	}
}
