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

// =============================================================================
// Generator
// =============================================================================

// Recommendation is one concrete plan suggestion.
type Recommendation struct {
	Tier string
	Text string
}

// RecommendationGenerator turns a product and its collected answers into a
// plan suggestion. The stub below picks from a fixed tier table; a production
// generator calls the insurer's quote engine instead.
type RecommendationGenerator interface {
	Recommend(ctx context.Context, product string, slots map[string]string) (*Recommendation, error)
}

// TierStub recommends the middle tier of whatever product it is asked about
// and echoes the collected answers back so the user can see what the
// suggestion is based on.
type TierStub struct {
	catalog *products.Catalog
}

func NewTierStub(catalog *products.Catalog) (*TierStub, error) {
	if catalog == nil {
		var err error
		catalog, err = products.GetCatalog()
		if err != nil {
			return nil, fmt.Errorf("handlers: load catalog: %w", err)
		}
	}
	return &TierStub{catalog: catalog}, nil
}

// Recommend picks the default tier for product.
func (s *TierStub) Recommend(ctx context.Context, product string, slots map[string]string) (*Recommendation, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("handlers: recommend: %w", err)
	}
	tiers := tiersFor(product)
	if len(tiers) == 0 {
		return nil, fmt.Errorf("handlers: no tiers for product %q", product)
	}
	pick := tiers[defaultTierIndex]

	var sb strings.Builder
	if len(slots) > 0 {
		fmt.Fprintf(&sb, "Based on what you've shared (%s), ", renderSlotValues(slots))
	}
	fmt.Fprintf(&sb, "the %s plan looks like the right fit for your %s. It gives you %s.",
		pick.Name, s.catalog.DisplayName(product), pick.Pitch)
	sb.WriteString(" Would you like to compare it with the other tiers, or go ahead with it?")

	return &Recommendation{Tier: pick.Name, Text: sb.String()}, nil
}

func renderSlotValues(slots map[string]string) string {
	keys := make([]string, 0, len(slots))
	for k := range slots {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	rendered := make([]string, 0, len(keys))
	for _, k := range keys {
		rendered = append(rendered, fmt.Sprintf("%s %s", humanSlot(k), slots[k]))
	}
	return strings.Join(rendered, ", ")
}

// =============================================================================
// Handler
// =============================================================================

// RecommendHandler delivers the recommendation once the slot contract is
// satisfied. The dispatcher routes a recommend intent through slot collection
// until every required answer is in, so by the time this handler runs the
// session is normally ready; the guards below are for the direct-call paths.
type RecommendHandler struct {
	generator RecommendationGenerator
	catalog   *products.Catalog
}

func NewRecommendHandler(generator RecommendationGenerator, catalog *products.Catalog) (*RecommendHandler, error) {
	if generator == nil {
		return nil, fmt.Errorf("handlers: recommend handler requires a generator")
	}
	if catalog == nil {
		var err error
		catalog, err = products.GetCatalog()
		if err != nil {
			return nil, fmt.Errorf("handlers: load catalog: %w", err)
		}
	}
	return &RecommendHandler{generator: generator, catalog: catalog}, nil
}

func (h *RecommendHandler) Name() string { return state.HandlerRecommend }

func (h *RecommendHandler) Handle(ctx context.Context, req *Request) (*Response, error) {
	sess := req.Session
	if sess == nil || sess.Product == "" {
		names := make([]string, 0, len(h.catalog.Names()))
		for _, n := range h.catalog.Names() {
			names = append(names, h.catalog.DisplayName(n))
		}
		return &Response{
			Text: fmt.Sprintf(
				"I'd love to recommend a plan. First, which product are you after? We offer %s.",
				humanList(names),
			),
		}, nil
	}

	if !sess.RecReady {
		missing := missingSlots(h.catalog, sess)
		if len(missing) > 0 {
			return &Response{
				Text: fmt.Sprintf(
					"Almost there. Before I recommend a %s plan I still need your %s.",
					h.catalog.DisplayName(sess.Product), humanList(missing),
				),
			}, nil
		}
	}

	rec, err := h.generator.Recommend(ctx, sess.Product, sess.Slots)
	if err != nil {
		return nil, err
	}
	return &Response{Text: rec.Text, RecommendedTier: rec.Tier}, nil
}

func missingSlots(catalog *products.Catalog, sess *state.Session) []string {
	var missing []string
	for _, slot := range catalog.RequiredSlots(sess.Product) {
		if _, ok := sess.Slots[slot]; !ok {
			missing = append(missing, humanSlot(slot))
		}
	}
	return missing
}
