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
	"fmt"

	"github.com/AleutianAI/AleutianDialog/services/dialog/products"
	"github.com/AleutianAI/AleutianDialog/services/dialog/state"
)

// GreetHandler opens the conversation: a fixed welcome naming the product
// line-up. Kept deliberately model-free so the first reply is instant and
// never hallucinates an offer we don't carry.
type GreetHandler struct {
	catalog *products.Catalog
}

// NewGreetHandler creates the greeting handler. A nil catalog falls back to
// the embedded default.
func NewGreetHandler(catalog *products.Catalog) (*GreetHandler, error) {
	if catalog == nil {
		var err error
		catalog, err = products.GetCatalog()
		if err != nil {
			return nil, fmt.Errorf("handlers: load catalog: %w", err)
		}
	}
	return &GreetHandler{catalog: catalog}, nil
}

func (h *GreetHandler) Name() string { return state.HandlerGreet }

func (h *GreetHandler) Handle(_ context.Context, req *Request) (*Response, error) {
	names := make([]string, 0, len(h.catalog.Names()))
	for _, n := range h.catalog.Names() {
		names = append(names, h.catalog.DisplayName(n))
	}

	text := fmt.Sprintf(
		"Hi! I'm your insurance assistant. I can help you with %s. "+
			"Tell me what you'd like to cover, or ask me anything about our plans.",
		humanList(names),
	)
	if req.Session != nil && req.Session.Product != "" {
		// Returning mid-conversation: acknowledge where we left off instead
		// of restarting the pitch.
		text = fmt.Sprintf(
			"Welcome back! We were looking at %s. Shall we pick up where we left off?",
			h.catalog.DisplayName(req.Session.Product),
		)
	}
	return &Response{Text: text}, nil
}
