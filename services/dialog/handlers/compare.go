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
	"strings"

	"github.com/AleutianAI/AleutianDialog/services/dialog/products"
	"github.com/AleutianAI/AleutianDialog/services/dialog/state"
)

// CompareHandler lays the product's tiers side by side from the stub benefit
// table. The tiers it showed travel back on Response.Compared so follow-ups
// like "what about the second one" can be grounded later.
type CompareHandler struct {
	catalog *products.Catalog
}

func NewCompareHandler(catalog *products.Catalog) (*CompareHandler, error) {
	if catalog == nil {
		var err error
		catalog, err = products.GetCatalog()
		if err != nil {
			return nil, fmt.Errorf("handlers: load catalog: %w", err)
		}
	}
	return &CompareHandler{catalog: catalog}, nil
}

func (h *CompareHandler) Name() string { return state.HandlerCompare }

func (h *CompareHandler) Handle(_ context.Context, req *Request) (*Response, error) {
	product := h.subject(req.Session)
	if product == "" {
		names := make([]string, 0, len(h.catalog.Names()))
		for _, n := range h.catalog.Names() {
			names = append(names, h.catalog.DisplayName(n))
		}
		return &Response{
			Text: fmt.Sprintf(
				"Happy to compare plans. Which product are you interested in? We offer %s.",
				humanList(names),
			),
		}, nil
	}

	tiers := tiersFor(product)
	if len(tiers) == 0 {
		return &Response{
			Text: fmt.Sprintf(
				"I don't have a tier breakdown for %s on hand. "+
					"Would you like me to connect you with an advisor for the details?",
				h.catalog.DisplayName(product),
			),
			Degraded: true,
		}, nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Here's how the %s plans stack up:\n", h.catalog.DisplayName(product))
	compared := make([]string, 0, len(tiers))
	for _, t := range tiers {
		fmt.Fprintf(&sb, "- %s: %s\n", t.Name, t.Pitch)
		compared = append(compared, t.Name)
	}
	sb.WriteString("Want me to recommend one based on your needs?")

	return &Response{Text: sb.String(), Compared: compared}, nil
}

// subject picks the product to compare: the active one first, then the last
// product mentioned, so "compare them" still works right after a switch was
// declined.
func (h *CompareHandler) subject(sess *state.Session) string {
	if sess == nil {
		return ""
	}
	if sess.Product != "" {
		return sess.Product
	}
	return sess.Reference.LastProduct
}
