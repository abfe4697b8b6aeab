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
	"sort"
	"strings"

	"github.com/AleutianAI/AleutianDialog/services/dialog/products"
	"github.com/AleutianAI/AleutianDialog/services/dialog/state"
)

// SummaryHandler recaps the conversation from session state alone: product,
// collected answers, what is still missing, and the rolling summary when one
// exists. No model call, so the recap is always faithful to what we actually
// recorded.
type SummaryHandler struct {
	catalog *products.Catalog
}

func NewSummaryHandler(catalog *products.Catalog) (*SummaryHandler, error) {
	if catalog == nil {
		var err error
		catalog, err = products.GetCatalog()
		if err != nil {
			return nil, fmt.Errorf("handlers: load catalog: %w", err)
		}
	}
	return &SummaryHandler{catalog: catalog}, nil
}

func (h *SummaryHandler) Name() string { return state.HandlerSummary }

func (h *SummaryHandler) Handle(_ context.Context, req *Request) (*Response, error) {
	sess := req.Session
	if sess == nil || (sess.Product == "" && len(sess.Slots) == 0 && sess.Summary == "") {
		return &Response{
			Text: "We've just started, so there's nothing to recap yet. " +
				"Tell me what you'd like to cover and we'll take it from there.",
		}, nil
	}

	var parts []string
	if sess.Product != "" {
		parts = append(parts, fmt.Sprintf("we're looking at %s", h.catalog.DisplayName(sess.Product)))
	}
	if len(sess.Slots) > 0 {
		parts = append(parts, "you've told me "+renderSlots(sess.Slots))
	}
	if sess.PendingSlot != "" {
		parts = append(parts, fmt.Sprintf("I'm still waiting on your %s", humanSlot(sess.PendingSlot)))
	}
	if sess.RecGiven {
		parts = append(parts, "I've already shared a recommendation")
	}

	var sb strings.Builder
	if sess.Summary != "" {
		fmt.Fprintf(&sb, "Earlier: %s\n\n", sess.Summary)
	}
	if len(parts) > 0 {
		fmt.Fprintf(&sb, "Right now %s.", strings.Join(parts, "; "))
	} else {
		sb.WriteString("That's everything so far.")
	}
	return &Response{Text: sb.String()}, nil
}

// renderSlots formats collected answers in a stable order so repeated recaps
// read identically.
func renderSlots(slots map[string]string) string {
	keys := make([]string, 0, len(slots))
	for k := range slots {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	rendered := make([]string, 0, len(keys))
	for _, k := range keys {
		rendered = append(rendered, fmt.Sprintf("%s: %s", humanSlot(k), slots[k]))
	}
	return humanList(rendered)
}
