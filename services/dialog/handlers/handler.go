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
// Package handlers holds the per-intent reply builders the routing
// supervisor dispatches to: greet, info, compare, purchase, recommend, chat,
// summary, capabilities, live agent handoff, and self-correction.
//
// Handlers read the session but never write it. Anything a reply implies
// about state (a purchase was offered, tiers were compared, a tier was
// recommended) travels back as fields on Response; the turn orchestrator
// folds those into the session at commit. That keeps the single-writer
// discipline intact: one commit per turn, owned by the orchestrator.
package handlers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianDialog/services/dialog/state"
)

var tracer = otel.Tracer("aleutian.dialog.handlers")

var handledTurns = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "aleutian",
	Subsystem: "dialog_handlers",
	Name:      "handled_total",
	Help:      "Handler invocations by handler and outcome.",
}, []string{"handler", "outcome"})

// =============================================================================
// Contract
// =============================================================================

// Request is one dispatched turn as a handler sees it: the session as loaded
// (read-only by convention) and the raw utterance.
type Request struct {
	Session   *state.Session
	Utterance string
}

// Response is a handler's reply plus the state changes it implies. The
// orchestrator applies the non-text fields at commit; handlers themselves
// never touch the session.
type Response struct {
	Text string

	// Degraded marks that the reply came from a fallback path (model down,
	// resolver empty-handed) rather than the intended one.
	Degraded bool

	// Compared lists the plan tiers the reply set side by side.
	Compared []string

	// OfferedPurchase marks that the reply contained a purchase link.
	OfferedPurchase bool

	// RecommendedTier names the tier a recommendation settled on.
	RecommendedTier string
}

// Handler builds the reply for one dispatched intent.
type Handler interface {
	Name() string
	Handle(ctx context.Context, req *Request) (*Response, error)
}

// =============================================================================
// Registry
// =============================================================================

// Registry maps handler names to implementations. Unknown names fall back to
// the chat handler so a misrouted turn costs one soft reply, not an error.
//
// # Thread Safety
//
// Register during startup only; Handle is safe for concurrent use once
// registration is done.
type Registry struct {
	handlers map[string]Handler
	logger   *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		handlers: map[string]Handler{},
		logger:   logger,
	}
}

// Register adds a handler. Registering the same name twice is a programming
// error and fails loudly at startup rather than quietly shadowing.
func (r *Registry) Register(h Handler) error {
	if h == nil || h.Name() == "" {
		return fmt.Errorf("handlers: cannot register a nameless handler")
	}
	if _, exists := r.handlers[h.Name()]; exists {
		return fmt.Errorf("handlers: %q registered twice", h.Name())
	}
	r.handlers[h.Name()] = h
	return nil
}

// Get returns the handler registered under name.
func (r *Registry) Get(name string) (Handler, bool) {
	h, ok := r.handlers[name]
	return h, ok
}

// Handle dispatches one turn to the named handler.
//
// Description:
//
//	Unknown handler names are served by the chat handler when one is
//	registered; a registry with no chat fallback returns an error. Handler
//	errors pass through to the caller, which counts them toward the
//	self-correction streak.
func (r *Registry) Handle(ctx context.Context, name string, req *Request) (*Response, error) {
	ctx, span := tracer.Start(ctx, "Registry.Handle")
	defer span.End()
	span.SetAttributes(attribute.String("dialog.handler", name))

	h, ok := r.handlers[name]
	if !ok {
		r.logger.Warn("no handler registered, falling back to chat",
			slog.String("handler", name),
		)
		h, ok = r.handlers[state.HandlerChat]
		if !ok {
			handledTurns.WithLabelValues(name, "unregistered").Inc()
			return nil, fmt.Errorf("handlers: no handler for %q and no chat fallback", name)
		}
	}

	resp, err := h.Handle(ctx, req)
	if err != nil {
		handledTurns.WithLabelValues(h.Name(), "error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "handler failed")
		return nil, fmt.Errorf("handlers: %s: %w", h.Name(), err)
	}

	handledTurns.WithLabelValues(h.Name(), "ok").Inc()
	return resp, nil
}
