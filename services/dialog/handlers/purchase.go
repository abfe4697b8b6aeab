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

// DefaultPurchaseBaseURL is the checkout portal the purchase handler links
// to. Deployments point this at the insurer's real storefront via
// configuration; the default is a placeholder that resolves nowhere.
const DefaultPurchaseBaseURL = "https://portal.example.com/insurance"

// PurchaseHandler hands out the checkout link for the active product. The
// assistant never takes payment itself; the reply marks OfferedPurchase so
// the session records that the link went out.
type PurchaseHandler struct {
	catalog *products.Catalog
	baseURL string
}

func NewPurchaseHandler(catalog *products.Catalog, baseURL string) (*PurchaseHandler, error) {
	if catalog == nil {
		var err error
		catalog, err = products.GetCatalog()
		if err != nil {
			return nil, fmt.Errorf("handlers: load catalog: %w", err)
		}
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultPurchaseBaseURL
	}
	return &PurchaseHandler{catalog: catalog, baseURL: baseURL}, nil
}

func (h *PurchaseHandler) Name() string { return state.HandlerPurchase }

func (h *PurchaseHandler) Handle(_ context.Context, req *Request) (*Response, error) {
	sess := req.Session
	if sess == nil || sess.Product == "" {
		names := make([]string, 0, len(h.catalog.Names()))
		for _, n := range h.catalog.Names() {
			names = append(names, h.catalog.DisplayName(n))
		}
		return &Response{
			Text: fmt.Sprintf(
				"Great, let's get you covered! Which product would you like? We offer %s.",
				humanList(names),
			),
		}, nil
	}

	display := h.catalog.DisplayName(sess.Product)
	link := fmt.Sprintf("%s/%s", h.baseURL, sess.Product)

	var sb strings.Builder
	fmt.Fprintf(&sb, "You can complete your %s purchase here: %s\n", display, link)
	sb.WriteString("It takes about five minutes, and the details you've shared with me carry over.")
	if !sess.RecGiven {
		sb.WriteString(" If you'd like, I can recommend a plan tier first so you know what to pick.")
	}

	return &Response{Text: sb.String(), OfferedPurchase: true}, nil
}
