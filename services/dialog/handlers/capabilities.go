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

// CapabilitiesHandler answers "what can you do" with a fixed feature list.
type CapabilitiesHandler struct {
	catalog *products.Catalog
}

func NewCapabilitiesHandler(catalog *products.Catalog) (*CapabilitiesHandler, error) {
	if catalog == nil {
		var err error
		catalog, err = products.GetCatalog()
		if err != nil {
			return nil, fmt.Errorf("handlers: load catalog: %w", err)
		}
	}
	return &CapabilitiesHandler{catalog: catalog}, nil
}

func (h *CapabilitiesHandler) Name() string { return state.HandlerCapabilities }

func (h *CapabilitiesHandler) Handle(_ context.Context, _ *Request) (*Response, error) {
	names := make([]string, 0, len(h.catalog.Names()))
	for _, n := range h.catalog.Names() {
		names = append(names, h.catalog.DisplayName(n))
	}

	text := fmt.Sprintf(
		"Here's what I can do:\n"+
			"- Answer questions about %s\n"+
			"- Recommend a plan once I know a bit about your needs\n"+
			"- Compare plan tiers side by side\n"+
			"- Point you to purchase when you're ready\n"+
			"- Hand you over to a licensed advisor any time you ask\n"+
			"Say \"Restart Session\" whenever you want to start over.",
		humanList(names),
	)
	return &Response{Text: text}, nil
}
