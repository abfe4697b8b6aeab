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
	"fmt"
	"log/slog"
	"time"

	"github.com/tmc/langchaingo/llms"

	"github.com/AleutianAI/AleutianDialog/services/dialog/products"
	"github.com/AleutianAI/AleutianDialog/services/dialog/sideinfo"
	"github.com/AleutianAI/AleutianDialog/services/dialog/state"
)

// RegistryConfig collects everything the stock handler set depends on. Every
// field is optional: nil Catalog loads the embedded one, nil Resolver falls
// back to the embedded glossary, nil ChatModel pins chat to its fixed text.
type RegistryConfig struct {
	Catalog         *products.Catalog
	Resolver        sideinfo.Resolver
	ChatModel       llms.Model
	ChatTimeout     time.Duration
	InfoTimeout     time.Duration
	PurchaseBaseURL string
	Generator       RecommendationGenerator
	Logger          *slog.Logger
}

// NewDefaultRegistry wires the full handler set the routing supervisor can
// dispatch to. Every handler name the dispatcher may emit must be registered
// here; a missing one would silently fall back to chat.
func NewDefaultRegistry(cfg RegistryConfig) (*Registry, error) {
	if cfg.Catalog == nil {
		var err error
		cfg.Catalog, err = products.GetCatalog()
		if err != nil {
			return nil, fmt.Errorf("handlers: load catalog: %w", err)
		}
	}
	if cfg.Resolver == nil {
		var err error
		cfg.Resolver, err = sideinfo.NewStaticResolver()
		if err != nil {
			return nil, fmt.Errorf("handlers: build glossary resolver: %w", err)
		}
	}
	if cfg.Generator == nil {
		var err error
		cfg.Generator, err = NewTierStub(cfg.Catalog)
		if err != nil {
			return nil, err
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	registry := NewRegistry(cfg.Logger)

	greet, err := NewGreetHandler(cfg.Catalog)
	if err != nil {
		return nil, err
	}
	capabilities, err := NewCapabilitiesHandler(cfg.Catalog)
	if err != nil {
		return nil, err
	}
	info, err := NewInfoHandler(cfg.Resolver, cfg.InfoTimeout, cfg.Logger)
	if err != nil {
		return nil, err
	}
	summary, err := NewSummaryHandler(cfg.Catalog)
	if err != nil {
		return nil, err
	}
	compare, err := NewCompareHandler(cfg.Catalog)
	if err != nil {
		return nil, err
	}
	purchase, err := NewPurchaseHandler(cfg.Catalog, cfg.PurchaseBaseURL)
	if err != nil {
		return nil, err
	}
	recommend, err := NewRecommendHandler(cfg.Generator, cfg.Catalog)
	if err != nil {
		return nil, err
	}

	all := []Handler{
		greet,
		capabilities,
		info,
		summary,
		compare,
		purchase,
		recommend,
		NewChatHandler(cfg.ChatModel, cfg.ChatTimeout, cfg.Logger),
		NewStaticHandler(state.HandlerLiveAgent, liveAgentText),
		NewStaticHandler(state.HandlerSelfCorrection, selfCorrectionText),
	}
	for _, h := range all {
		if err := registry.Register(h); err != nil {
			return nil, err
		}
	}
	return registry, nil
}
