// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianDialog/services/dialog/sideinfo"
	"github.com/AleutianAI/AleutianDialog/services/dialog/state"
)

// infoFallbackText covers resolver misses and outages. It invites a rephrase
// instead of admitting internals.
const infoFallbackText = "I couldn't find a solid answer to that just now. " +
	"Could you rephrase it, or ask me about coverage, claims, or any of our plans?"

// InfoHandler answers product and concept questions through the side
// information resolver, scoped to the product under discussion when there is
// one. Resolver failures degrade to a soft reply; a user asking what
// "deductible" means should never see an error page.
type InfoHandler struct {
	resolver sideinfo.Resolver
	timeout  time.Duration
	logger   *slog.Logger
}

func NewInfoHandler(resolver sideinfo.Resolver, timeout time.Duration, logger *slog.Logger) (*InfoHandler, error) {
	if resolver == nil {
		return nil, errors.New("handlers: info handler requires a resolver")
	}
	if timeout <= 0 {
		timeout = sideinfo.DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &InfoHandler{resolver: resolver, timeout: timeout, logger: logger}, nil
}

func (h *InfoHandler) Name() string { return state.HandlerInfo }

func (h *InfoHandler) Handle(ctx context.Context, req *Request) (*Response, error) {
	q := sideinfo.Query{Question: req.Utterance}
	if req.Session != nil {
		q.Product = req.Session.Product
	}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	answer, err := h.resolver.Resolve(ctx, q)
	if err != nil {
		h.logger.Warn("side information lookup failed",
			slog.String("error", err.Error()),
		)
		return &Response{Text: infoFallbackText, Degraded: true}, nil
	}

	text := strings.TrimSpace(answer.Text)
	if text == "" {
		return &Response{Text: infoFallbackText, Degraded: true}, nil
	}
	if len(answer.Citations) > 0 {
		text += "\n\nSources: " + strings.Join(answer.Citations, ", ")
	}
	return &Response{Text: text}, nil
}
