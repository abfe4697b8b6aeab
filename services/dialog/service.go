// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package dialog exposes the conversation engine over HTTP and websocket.
//
// The package is a thin adapter: request parsing, session ID minting, error
// mapping, and response shaping. All conversation behavior lives below it in
// the turn orchestrator; nothing in this package touches session state
// directly except through the manager's read-only surface.
package dialog

import (
	"fmt"
	"log/slog"

	"github.com/AleutianAI/AleutianDialog/services/dialog/products"
	"github.com/AleutianAI/AleutianDialog/services/dialog/session"
	"github.com/AleutianAI/AleutianDialog/services/dialog/turn"
)

// Service bundles the conversation engine with the read-side collaborators
// the HTTP surface needs.
type Service struct {
	orchestrator *turn.Orchestrator
	manager      *session.Manager
	catalog      *products.Catalog
	logger       *slog.Logger
}

// ServiceConfig configures a Service. Orchestrator and Manager are required
// and must share the same session store, otherwise the inspection endpoints
// would read a different world than the one the orchestrator writes.
type ServiceConfig struct {
	Orchestrator *turn.Orchestrator
	Manager      *session.Manager
	Catalog      *products.Catalog
	Logger       *slog.Logger
}

// NewService validates the config and builds a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Orchestrator == nil {
		return nil, fmt.Errorf("dialog: service requires an orchestrator")
	}
	if cfg.Manager == nil {
		return nil, fmt.Errorf("dialog: service requires a session manager")
	}
	if cfg.Catalog == nil {
		cfg.Catalog = products.MustCatalog()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		orchestrator: cfg.Orchestrator,
		manager:      cfg.Manager,
		catalog:      cfg.Catalog,
		logger:       cfg.Logger,
	}, nil
}
