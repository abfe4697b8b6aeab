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
// Package turn wires the whole dialog pipeline into one entry point. A turn
// runs as a small task graph: classifier and memory compressor fan out over
// an immutable session snapshot, join once, then the routing supervisor
// decides, the winning branch executes (handler or slot engine), and the
// session commits exactly once. Nothing downstream of the join runs
// concurrently; the concurrency budget is spent where the latency is, on the
// two model calls.
//
// Every failure inside a turn degrades instead of escaping: a dead
// classifier routes degraded, a failed handler serves the fixed fallback
// reply and feeds the self-correction streak. The only errors callers see
// are the ones they can act on, a superseded turn or a refused commit.
package turn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianDialog/services/dialog/handlers"
	"github.com/AleutianAI/AleutianDialog/services/dialog/intent"
	"github.com/AleutianAI/AleutianDialog/services/dialog/memory"
	"github.com/AleutianAI/AleutianDialog/services/dialog/privacy"
	"github.com/AleutianAI/AleutianDialog/services/dialog/routing"
	"github.com/AleutianAI/AleutianDialog/services/dialog/session"
	"github.com/AleutianAI/AleutianDialog/services/dialog/slotfill"
	"github.com/AleutianAI/AleutianDialog/services/dialog/state"
)

var tracer = otel.Tracer("aleutian.dialog.turn")

// ErrEmptyUtterance rejects a turn with nothing in it. Mapped to a client
// error at the transport layer.
var ErrEmptyUtterance = errors.New("dialog: empty utterance")

// fallbackReply is the turn-boundary catch-all: whatever went wrong inside
// the turn, the user hears this instead of an error.
const fallbackReply = "I couldn't process that, could you rephrase?"

// resetConfirmation is spoken after a session restart.
const resetConfirmation = "No problem, let's start fresh! What would you like to cover today?"

// hookTimeout bounds the fire-and-forget analytics and archive calls that
// run after the reply is already on its way.
const hookTimeout = 15 * time.Second

// =============================================================================
// Metrics
// =============================================================================

var (
	turnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aleutian",
		Subsystem: "dialog_turn",
		Name:      "turns_total",
		Help:      "Completed turns by routing decision and outcome.",
	}, []string{"decision", "outcome"})

	turnDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "aleutian",
		Subsystem: "dialog_turn",
		Name:      "turn_duration_seconds",
		Help:      "End-to-end turn latency including model calls.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	classifyFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "aleutian",
		Subsystem: "dialog_turn",
		Name:      "classify_failures_total",
		Help:      "Turns that routed without classifier output.",
	})

	handlerFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "aleutian",
		Subsystem: "dialog_turn",
		Name:      "handler_failures_total",
		Help:      "Turns answered with the fallback reply after a handler error.",
	})
)

// =============================================================================
// Orchestrator
// =============================================================================

// Config collects the orchestrator's collaborators. Manager and Engine are
// required; everything else has a working default. A nil Classifier is legal
// and routes every turn through the degraded path, which keeps offline and
// test setups to one line.
type Config struct {
	Manager    *session.Manager
	Engine     *slotfill.Engine
	Classifier intent.Classifier
	Supervisor *routing.Supervisor
	Registry   *handlers.Registry
	Compressor *memory.Compressor
	Recorder   Recorder
	Archiver   Archiver
	Logger     *slog.Logger
}

// Result is one answered turn, consumed by the HTTP and websocket adapters.
type Result struct {
	SessionID string
	Response  string
	Handler   string
	Decision  string
	Degraded  bool

	// Session is the committed state after this turn. Callers render it;
	// they must not mutate it.
	Session *state.Session
}

// Orchestrator runs turns. Safe for concurrent use; per-session ordering is
// enforced by the session manager underneath.
type Orchestrator struct {
	manager    *session.Manager
	engine     *slotfill.Engine
	classifier intent.Classifier
	supervisor *routing.Supervisor
	registry   *handlers.Registry
	compressor *memory.Compressor
	recorder   Recorder
	archiver   Archiver
	logger     *slog.Logger
}

// New builds an Orchestrator from cfg.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Manager == nil {
		return nil, fmt.Errorf("dialog: orchestrator requires a session manager")
	}
	if cfg.Engine == nil {
		return nil, fmt.Errorf("dialog: orchestrator requires a slot engine")
	}
	if cfg.Supervisor == nil {
		cfg.Supervisor = routing.NewSupervisor(nil)
	}
	if cfg.Registry == nil {
		var err error
		cfg.Registry, err = handlers.NewDefaultRegistry(handlers.RegistryConfig{Logger: cfg.Logger})
		if err != nil {
			return nil, fmt.Errorf("dialog: building default handlers: %w", err)
		}
	}
	if cfg.Compressor == nil {
		cfg.Compressor = memory.NewCompressor(memory.DefaultConfig())
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Classifier == nil {
		cfg.Logger.Warn("no intent classifier configured, all turns will route degraded")
	}
	return &Orchestrator{
		manager:    cfg.Manager,
		engine:     cfg.Engine,
		classifier: cfg.Classifier,
		supervisor: cfg.Supervisor,
		registry:   cfg.Registry,
		compressor: cfg.Compressor,
		recorder:   cfg.Recorder,
		archiver:   cfg.Archiver,
		logger:     cfg.Logger,
	}, nil
}

// HandleTurn runs one full turn for sessionID.
//
// Description:
//
//	Begin acquires the per-session lock (latest turn wins), the task graph
//	produces prediction and compacted memory, the supervisor routes and its
//	decision executes, then the session commits once. The returned error is
//	nil for every in-conversation failure; those become the fallback reply.
//	Non-nil errors mean the turn produced nothing: bad input, a superseding
//	turn, or a failed commit.
func (o *Orchestrator) HandleTurn(ctx context.Context, sessionID, utterance string) (*Result, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "Orchestrator.HandleTurn")
	defer span.End()
	defer func() { turnDuration.Observe(time.Since(start).Seconds()) }()

	utterance = strings.TrimSpace(utterance)
	if utterance == "" {
		return nil, ErrEmptyUtterance
	}

	t, err := o.manager.Begin(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("dialog: begin turn: %w", err)
	}
	defer t.End()

	sess := t.Session()
	snapshot := sess.Clone()
	span.SetAttributes(
		attribute.String("session.id", sess.ID),
		attribute.String("session.phase", string(snapshot.Phase)),
		attribute.Int("session.turn", snapshot.TurnCount),
	)

	// Everything up to the commit runs under the turn context, so a
	// superseding turn cancels in-flight model calls instead of waiting on
	// them. The commit itself is guarded by the generation counter, not by
	// cancellation.
	tctx := t.Context()

	pred, mem := o.fanOut(tctx, snapshot, utterance)

	// The advertised restart phrases must work even with the classifier
	// down; they are the escape hatch we print in every refusal.
	if isRestartPhrase(utterance) {
		pred = &state.Prediction{Intent: state.IntentChat, Reset: true, Confidence: 1}
	}

	if mem != nil {
		sess.Summary = mem.Summary
		sess.MemoryContext = mem.MemoryContext
		sess.MemoryHash = mem.Hash
		sess.History = mem.History
		if mem.Compressed {
			o.logger.Debug("history compressed",
				slog.String("session_id", sess.ID),
				slog.Int("kept_messages", len(mem.History)),
			)
		}
	}

	decision := o.supervisor.Route(tctx, snapshot, pred)
	o.supervisor.Apply(sess, pred, decision)

	reply, handlerName, dispatched, handlerErr := o.execute(tctx, sess, decision, utterance)

	outcome := "ok"
	switch {
	case handlerErr != nil:
		// The user hears the fixed fallback; the streak decides whether the
		// next turn goes into self-correction.
		o.logger.Error("turn execution failed, serving fallback reply",
			slog.String("session_id", sess.ID),
			slog.String("handler", handlerName),
			slog.Any("error", handlerErr),
		)
		span.RecordError(handlerErr)
		span.SetStatus(codes.Error, "turn degraded")
		handlerFailures.Inc()
		sess.HandlerErrorStreak++
		sess.DegradedMode = true
		reply = fallbackReply
		outcome = "fallback"
	case dispatched:
		sess.HandlerErrorStreak = 0
	}

	// A resolved side answer is surfaced with this reply or not at all.
	if sess.SideInfo != "" {
		if !strings.Contains(reply, sess.SideInfo) {
			reply = joinReply(sess.SideInfo, reply)
		}
		sess.SideInfo = ""
		sess.SideInfoCitations = nil
	}

	sess.AppendMessage(state.Message{Role: state.RoleUser, Content: privacy.MaskPII(utterance)})
	sess.AppendMessage(state.Message{Role: state.RoleAssistant, Content: reply})
	sess.TurnCount++

	if err := t.Commit(ctx, sess); err != nil {
		if errors.Is(err, session.ErrSuperseded) {
			turnsTotal.WithLabelValues(decision.Kind(), "superseded").Inc()
			return nil, fmt.Errorf("dialog: commit turn: %w", err)
		}
		return nil, fmt.Errorf("dialog: commit turn: %w", err)
	}
	turnsTotal.WithLabelValues(decision.Kind(), outcome).Inc()

	if _, wasReset := decision.(routing.Reset); wasReset {
		o.archive(snapshot)
	}
	o.record(TurnEvent{
		SessionID: sess.ID,
		Decision:  decision.Kind(),
		Handler:   handlerName,
		Product:   sess.Product,
		Phase:     sess.Phase,
		TurnCount: sess.TurnCount,
		Degraded:  sess.DegradedMode,
		Duration:  time.Since(start),
	})

	return &Result{
		SessionID: sess.ID,
		Response:  reply,
		Handler:   handlerName,
		Decision:  decision.Kind(),
		Degraded:  sess.DegradedMode,
		Session:   sess,
	}, nil
}

// fanOut runs the classifier and the compressor concurrently over the
// snapshot and joins. Both degrade to nil on failure; neither can abort the
// turn.
func (o *Orchestrator) fanOut(ctx context.Context, snapshot *state.Session, utterance string) (*state.Prediction, *memory.Result) {
	var pred *state.Prediction
	var mem *memory.Result

	classifyInput := append(append([]state.Message{}, snapshot.History...),
		state.Message{Role: state.RoleUser, Content: utterance})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if o.classifier == nil {
			return nil
		}
		p, err := o.classifier.Classify(gctx, classifyInput, snapshot.Phase, snapshot.Summary)
		if err != nil {
			classifyFailures.Inc()
			o.logger.Warn("classification failed, routing degraded",
				slog.String("session_id", snapshot.ID),
				slog.Any("error", err),
			)
			return nil
		}
		pred = p
		return nil
	})
	g.Go(func() error {
		if o.compressor == nil {
			return nil
		}
		m, err := o.compressor.Compress(gctx, snapshot)
		if err != nil {
			o.logger.Warn("memory compression failed, keeping prior summary",
				slog.String("session_id", snapshot.ID),
				slog.Any("error", err),
			)
			return nil
		}
		mem = m
		return nil
	})
	// Tasks degrade internally; the join itself is the point.
	_ = g.Wait()

	return pred, mem
}

// execute runs the winning decision's branch. dispatched reports whether a
// handler or the slot engine actually served the turn, which is what the
// error-streak bookkeeping keys on.
func (o *Orchestrator) execute(ctx context.Context, sess *state.Session, decision routing.Decision, utterance string) (reply, handlerName string, dispatched bool, err error) {
	switch d := decision.(type) {
	case routing.Block:
		return d.Message, decision.Kind(), false, nil

	case routing.Reset:
		return resetConfirmation, decision.Kind(), false, nil

	case routing.ResumeSlotCollection:
		reply, err = o.collectSlots(ctx, sess, utterance)
		return reply, state.HandlerSlotCollection, true, err

	case routing.Dispatch:
		// A recommendation ask before the slots are in goes through the
		// engine first; the generator's completed-slot contract is absolute.
		if d.Handler == state.HandlerRecommend && !sess.RecReady && sess.Product != "" {
			sess.TransitionPhase(state.PhaseSlotFilling)
			reply, err = o.collectSlots(ctx, sess, utterance)
			return reply, state.HandlerSlotCollection, true, err
		}

		resp, herr := o.registry.Handle(ctx, d.Handler, &handlers.Request{Session: sess, Utterance: utterance})
		if herr != nil {
			return "", d.Handler, true, herr
		}
		o.applyResponse(sess, resp)
		return resp.Text, d.Handler, true, nil
	}
	return "", decision.Kind(), false, fmt.Errorf("dialog: unhandled decision %q", decision.Kind())
}

// collectSlots runs one slot engine turn and, when collection completes,
// rolls straight into the recommendation so "that was the last answer" and
// "here is your plan" arrive as one reply.
func (o *Orchestrator) collectSlots(ctx context.Context, sess *state.Session, utterance string) (string, error) {
	outcome, err := o.engine.HandleTurn(ctx, sess, utterance)
	if err != nil {
		return "", err
	}

	switch out := outcome.(type) {
	case slotfill.AskNextSlot:
		return out.Question, nil

	case slotfill.ReadyForRecommendation:
		resp, err := o.registry.Handle(ctx, state.HandlerRecommend, &handlers.Request{Session: sess, Utterance: utterance})
		if err != nil {
			return "", err
		}
		o.applyResponse(sess, resp)
		sess.TransitionPhase(state.PhaseRecommendation)
		return joinReply(out.SideInfo, resp.Text), nil
	}
	return "", fmt.Errorf("dialog: unhandled slot outcome %q", outcome.Kind())
}

// applyResponse folds a handler's state hints into the session. Handlers are
// read-only by contract; this is the one place their side effects land.
func (o *Orchestrator) applyResponse(sess *state.Session, resp *handlers.Response) {
	if resp.Degraded {
		sess.DegradedMode = true
	}
	if len(resp.Compared) > 0 {
		sess.Reference.ComparedItems = resp.Compared
	}
	if resp.OfferedPurchase {
		sess.PurchaseOffered = true
	}
	if resp.RecommendedTier != "" {
		sess.RecGiven = true
		sess.Reference.LastTier = resp.RecommendedTier
	}
}

// record ships turn analytics off the reply path.
func (o *Orchestrator) record(ev TurnEvent) {
	if o.recorder == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
		defer cancel()
		if err := o.recorder.RecordTurn(ctx, ev); err != nil {
			o.logger.Debug("turn analytics dropped",
				slog.String("session_id", ev.SessionID),
				slog.Any("error", err),
			)
		}
	}()
}

// archive ships the pre-reset transcript off the reply path.
func (o *Orchestrator) archive(transcript *state.Session) {
	if o.archiver == nil || len(transcript.History) == 0 {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
		defer cancel()
		if err := o.archiver.ArchiveTranscript(ctx, transcript); err != nil {
			o.logger.Warn("transcript archive failed",
				slog.String("session_id", transcript.ID),
				slog.Any("error", err),
			)
		}
	}()
}

// isRestartPhrase matches the restart commands the assistant advertises,
// ignoring case and trailing punctuation.
func isRestartPhrase(utterance string) bool {
	s := strings.ToLower(strings.TrimSpace(utterance))
	s = strings.TrimRight(s, ".!? ")
	return s == "restart session" || s == "start over"
}

// joinReply joins reply fragments with a blank line, skipping empty ones.
func joinReply(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			kept = append(kept, strings.TrimSpace(p))
		}
	}
	return strings.Join(kept, "\n\n")
}
