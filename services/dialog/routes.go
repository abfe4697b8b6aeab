// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dialog

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all dialog routes with the router.
//
// Description:
//
//	Registers all /v1/dialog/* endpoints with the given Gin router group.
//	The router group should already have any required middleware applied.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	handlers - The handlers instance
//
// Conversation Endpoints:
//
//	POST /v1/dialog/chat - Run one conversation turn
//	GET  /v1/dialog/ws - Websocket conversation stream
//
// Session Endpoints:
//
//	GET  /v1/dialog/sessions/:id - Inspect a stored session
//	POST /v1/dialog/sessions/:id/reset - Drop a session
//
// Catalog Endpoints:
//
//	GET  /v1/dialog/products - List the products the assistant covers
//
// Health Endpoints:
//
//	GET  /v1/dialog/health - Health check
//	GET  /v1/dialog/ready - Readiness check
//
// Example:
//
//	svc, _ := dialog.NewService(cfg)
//	handlers := dialog.NewHandlers(svc)
//
//	v1 := router.Group("/v1")
//	dialog.RegisterRoutes(v1, handlers)
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	dialog := rg.Group("/dialog")
	{
		// Conversation
		dialog.POST("/chat", handlers.HandleChat)
		dialog.GET("/ws", handlers.HandleWS)

		// Session inspection and lifecycle
		dialog.GET("/sessions/:id", handlers.HandleGetSession)
		dialog.POST("/sessions/:id/reset", handlers.HandleResetSession)

		// Catalog
		dialog.GET("/products", handlers.HandleListProducts)

		// Health checks
		dialog.GET("/health", handlers.HandleHealth)
		dialog.GET("/ready", handlers.HandleReady)
	}
}
