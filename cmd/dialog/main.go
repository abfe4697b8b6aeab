// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command dialog starts the Aleutian Dialog API server.
//
// Aleutian Dialog is a multi-turn conversation engine for insurance sales
// and service:
//   - Priority-ordered routing supervisor (escalation before self-correction
//     before reset before product-switch guard before slot resume)
//   - Concurrent slot filling with validated, typed slots per product
//   - Rolling memory compression so long sessions stay inside model context
//
// Usage:
//
//	go run ./cmd/dialog
//	go run ./cmd/dialog -port 9090
//
// With Ollama (default provider for all three model roles):
//
//	OLLAMA_BASE_URL=http://localhost:11434 go run ./cmd/dialog
//
// With a cloud responder:
//
//	DIALOG_RESPONDER_PROVIDER=anthropic ANTHROPIC_API_KEY=... go run ./cmd/dialog
//
// With the policy document index (side questions answered from real text):
//
//	DIALOG_WEAVIATE_HOST=localhost:8081 go run ./cmd/dialog
//
// Example requests:
//
//	# Health check
//	curl http://localhost:8080/v1/dialog/health
//
//	# List products
//	curl http://localhost:8080/v1/dialog/products | jq
//
//	# One conversation turn (omit session_id to start a session)
//	curl -X POST http://localhost:8080/v1/dialog/chat \
//	  -H "Content-Type: application/json" \
//	  -d '{"message": "I want travel insurance"}'
//
//	# Inspect the session afterwards
//	curl http://localhost:8080/v1/dialog/sessions/<session_id> | jq
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tmc/langchaingo/llms"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/AleutianAI/AleutianDialog/services/dialog"
	"github.com/AleutianAI/AleutianDialog/services/dialog/analytics"
	"github.com/AleutianAI/AleutianDialog/services/dialog/archive"
	"github.com/AleutianAI/AleutianDialog/services/dialog/handlers"
	"github.com/AleutianAI/AleutianDialog/services/dialog/intent"
	"github.com/AleutianAI/AleutianDialog/services/dialog/llm"
	"github.com/AleutianAI/AleutianDialog/services/dialog/memory"
	"github.com/AleutianAI/AleutianDialog/services/dialog/products"
	"github.com/AleutianAI/AleutianDialog/services/dialog/rules"
	"github.com/AleutianAI/AleutianDialog/services/dialog/session"
	"github.com/AleutianAI/AleutianDialog/services/dialog/sideinfo"
	"github.com/AleutianAI/AleutianDialog/services/dialog/slotfill"
	badgerstore "github.com/AleutianAI/AleutianDialog/services/dialog/storage/badger"
	"github.com/AleutianAI/AleutianDialog/services/dialog/turn"
)

func main() {
	port := flag.Int("port", 8080, "Port to listen on")
	debug := flag.Bool("debug", false, "Enable debug mode")
	flag.Parse()

	if *debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// W3C TraceContext propagation: inbound traceparent headers flow through
	// otelgin into every span the dialog packages open.
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	ctx := context.Background()
	logger := slog.Default()

	otelShutdown, err := setupObservability(ctx, logger)
	if err != nil {
		slog.Error("Failed to set up observability", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Session store: BadgerDB on disk, with graceful degradation to an
	// in-memory store when the data directory is unusable. A chat assistant
	// that forgets sessions on restart beats one that refuses to start.
	store, badgerDB := openSessionStore()

	manager, err := session.NewManager(store)
	if err != nil {
		slog.Error("Failed to create session manager", slog.String("error", err.Error()))
		os.Exit(1)
	}

	catalog, err := products.GetCatalog()
	if err != nil {
		slog.Error("Failed to load product catalog", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Per-role models. Classifier and responder failures degrade (regex-free
	// degraded routing, canned chat replies); the extractor is load-bearing
	// for slot filling and a broken config there should stop the boot.
	roleCfg, err := llm.LoadRoleConfig()
	if err != nil {
		slog.Error("Failed to load model role config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	classifierModel := buildModel(ctx, "classifier", roleCfg.Classifier)
	responderModel := buildModel(ctx, "responder", roleCfg.Responder)
	extractorModel, err := llm.NewModel(ctx, roleCfg.Extractor)
	if err != nil {
		slog.Error("Failed to create slot extractor model",
			slog.String("provider", roleCfg.Extractor.Provider),
			slog.String("model", roleCfg.Extractor.Model),
			slog.String("error", err.Error()))
		os.Exit(1)
	}

	var classifier intent.Classifier
	if classifierModel != nil {
		c, err := intent.NewModelClassifier(classifierModel, catalog, intent.DefaultModelClassifierConfig(), logger)
		if err != nil {
			slog.Error("Failed to create intent classifier", slog.String("error", err.Error()))
			os.Exit(1)
		}
		classifier = c
	}

	extractor, err := slotfill.NewModelExtractor(extractorModel, slotfill.DefaultModelExtractorConfig(), logger)
	if err != nil {
		slog.Error("Failed to create slot extractor", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Slot rules: embedded defaults, or a hot-reloaded file when the
	// operator points at one.
	ruleSource, err := rules.NewSource(os.Getenv("DIALOG_RULES_PATH"), logger)
	if err != nil {
		slog.Error("Failed to load slot rules", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := ruleSource.Watch(); err != nil {
		slog.Warn("Slot rule hot-reload unavailable", slog.String("error", err.Error()))
	}

	resolver := buildResolver()

	engine, err := slotfill.NewEngine(extractor, ruleSource, catalog, slotfill.WithResolver(resolver))
	if err != nil {
		slog.Error("Failed to create slot engine", slog.String("error", err.Error()))
		os.Exit(1)
	}

	registry, err := handlers.NewDefaultRegistry(handlers.RegistryConfig{
		Catalog:         catalog,
		Resolver:        resolver,
		ChatModel:       responderModel,
		PurchaseBaseURL: os.Getenv("DIALOG_PURCHASE_BASE_URL"),
		Logger:          logger,
	})
	if err != nil {
		slog.Error("Failed to build handler registry", slog.String("error", err.Error()))
		os.Exit(1)
	}

	var compressorOpts []memory.Option
	if responderModel != nil {
		summarizer, err := memory.NewModelSummarizer(responderModel, 0)
		if err == nil {
			compressorOpts = append(compressorOpts, memory.WithSummarizer(summarizer))
		}
	}
	compressor := memory.NewCompressor(memory.DefaultConfig(), compressorOpts...)

	// Optional analytics and transcript archiving, both env-gated.
	recorder, err := analytics.NewFromEnv(logger)
	if err != nil {
		slog.Warn("Turn analytics disabled", slog.String("error", err.Error()))
	}
	archiver, err := archive.NewFromEnv(ctx, logger)
	if err != nil {
		slog.Warn("Transcript archiving disabled", slog.String("error", err.Error()))
	}

	turnCfg := turn.Config{
		Manager:    manager,
		Engine:     engine,
		Classifier: classifier,
		Registry:   registry,
		Compressor: compressor,
		Logger:     logger,
	}
	if recorder != nil {
		turnCfg.Recorder = recorder
	}
	if archiver != nil {
		turnCfg.Archiver = archiver
	}
	orchestrator, err := turn.New(turnCfg)
	if err != nil {
		slog.Error("Failed to create orchestrator", slog.String("error", err.Error()))
		os.Exit(1)
	}

	svc, err := dialog.NewService(dialog.ServiceConfig{
		Orchestrator: orchestrator,
		Manager:      manager,
		Catalog:      catalog,
		Logger:       logger,
	})
	if err != nil {
		slog.Error("Failed to create dialog service", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Setup router
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	if *debug {
		router.Use(gin.Logger())
	}

	v1 := router.Group("/v1")
	dialog.RegisterRoutes(v1, dialog.NewHandlers(svc))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	printBanner(*port, classifier != nil, responderModel != nil)

	// Handle graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		slog.Info("Shutting down Aleutian Dialog server")
		ruleSource.Close()
		if recorder != nil {
			recorder.Close()
		}
		if archiver != nil {
			if err := archiver.Close(); err != nil {
				slog.Warn("Failed to close transcript archiver", slog.String("error", err.Error()))
			}
		}
		if badgerDB != nil {
			if err := badgerDB.Close(); err != nil {
				slog.Warn("Failed to close session BadgerDB", slog.String("error", err.Error()))
			}
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("Failed to flush telemetry", slog.String("error", err.Error()))
		}
		os.Exit(0)
	}()

	// Start server
	addr := fmt.Sprintf(":%d", *port)
	slog.Info("Starting Aleutian Dialog server", slog.String("address", addr))
	if err := router.Run(addr); err != nil {
		slog.Error("Failed to start server", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// buildModel constructs one role's model, degrading to nil on failure. The
// orchestrator and the chat handler both treat a nil model as "answer
// without it".
func buildModel(ctx context.Context, role string, cfg llm.ProviderConfig) llms.Model {
	model, err := llm.NewModel(ctx, cfg)
	if err != nil {
		slog.Warn("Model unavailable, running degraded",
			slog.String("role", role),
			slog.String("provider", cfg.Provider),
			slog.String("model", cfg.Model),
			slog.String("error", err.Error()))
		return nil
	}
	slog.Info("Model connected",
		slog.String("role", role),
		slog.String("provider", cfg.Provider),
		slog.String("model", cfg.Model))
	return model
}

// openSessionStore opens the BadgerDB session store, falling back to memory
// when the data directory cannot be opened. The returned DB is nil in the
// fallback case.
func openSessionStore() (session.Store, *badgerstore.DB) {
	dataDir := os.Getenv("DIALOG_DATA_DIR")
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			dataDir = filepath.Join(home, ".aleutian", "dialog", "sessions")
		}
	}

	ttl := time.Duration(0)
	if raw := os.Getenv("DIALOG_SESSION_TTL"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			slog.Warn("Ignoring invalid DIALOG_SESSION_TTL", slog.String("value", raw))
		} else {
			ttl = parsed
		}
	}

	if dataDir != "" {
		cfg := badgerstore.DefaultConfig()
		cfg.Path = dataDir
		db, err := badgerstore.OpenDB(cfg)
		if err != nil {
			slog.Warn("Session BadgerDB unavailable, sessions will not survive restarts",
				slog.String("path", dataDir),
				slog.String("error", err.Error()))
		} else {
			slog.Info("Session BadgerDB opened", slog.String("path", dataDir))
			return session.NewBadgerStore(db, ttl, slog.Default()), db
		}
	}

	return session.NewMemoryStore(), nil
}

// buildResolver assembles the side-information chain: the Weaviate document
// index when configured, always backed by the embedded static notes.
func buildResolver() sideinfo.Resolver {
	static, err := sideinfo.NewStaticResolver()
	if err != nil {
		// The static resolver loads from embedded data; this cannot happen
		// outside a broken build.
		slog.Error("Failed to load static side information", slog.String("error", err.Error()))
		os.Exit(1)
	}

	cfg, ok := sideinfo.HybridConfigFromEnv()
	if !ok {
		return static
	}
	hybrid, err := sideinfo.NewHybridResolver(cfg)
	if err != nil {
		slog.Warn("Weaviate index unavailable, using embedded side information",
			slog.String("host", cfg.Host),
			slog.String("error", err.Error()))
		return static
	}
	slog.Info("Weaviate document index connected", slog.String("host", cfg.Host))
	return sideinfo.NewChain(hybrid, static)
}

func printBanner(port int, classifierUp, responderUp bool) {
	status := func(up bool) string {
		if up {
			return "ENABLED"
		}
		return "DEGRADED (model unavailable)"
	}

	banner := `
╔═══════════════════════════════════════════════════════════════════╗
║                     ALEUTIAN DIALOG SERVER                        ║
╠═══════════════════════════════════════════════════════════════════╣
║                                                                   ║
║  Multi-turn insurance sales and service assistant.                ║
║  Intent routing: %-44s ║
║  Chat responses: %-44s ║
║                                                                   ║
║  Quick Start:                                                     ║
║  ┌─────────────────────────────────────────────────────────────┐  ║
║  │ # Health check                                              │  ║
║  │ curl http://localhost:%d/v1/dialog/health             │  ║
║  │                                                             │  ║
║  │ # List products                                             │  ║
║  │ curl http://localhost:%d/v1/dialog/products | jq      │  ║
║  │                                                             │  ║
║  │ # Start a conversation                                      │  ║
║  │ curl -X POST http://localhost:%d/v1/dialog/chat \     │  ║
║  │   -H "Content-Type: application/json" \                     │  ║
║  │   -d '{"message": "I want travel insurance"}'               │  ║
║  └─────────────────────────────────────────────────────────────┘  ║
║                                                                   ║
║  Endpoints:                                                       ║
║  ├── Chat: POST /v1/dialog/chat, GET /v1/dialog/ws                ║
║  ├── Sessions: GET /sessions/:id, POST /sessions/:id/reset        ║
║  ├── Catalog: GET /v1/dialog/products                             ║
║  └── Ops: /v1/dialog/health, /v1/dialog/ready, /metrics           ║
║                                                                   ║
║  Press Ctrl+C to stop                                             ║
╚═══════════════════════════════════════════════════════════════════╝
`
	fmt.Printf(banner, status(classifierUp), status(responderUp), port, port, port)
}
