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
	"errors"
	"log/slog"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianDialog/services/dialog/session"
	"github.com/AleutianAI/AleutianDialog/services/dialog/state"
	"github.com/AleutianAI/AleutianDialog/services/dialog/turn"
)

// =============================================================================
// Request / response types
// =============================================================================

// ErrorResponse is the uniform error body for all dialog endpoints.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// ChatRequest is one user turn. SessionID is optional: an empty ID mints a
// fresh session and the response carries the ID to send on the next turn.
type ChatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message" binding:"required"`
}

// ChatResponse is the answered turn plus enough session state for a client
// to render progress without a second round trip.
type ChatResponse struct {
	SessionID   string      `json:"session_id"`
	Reply       string      `json:"reply"`
	Handler     string      `json:"handler"`
	Decision    string      `json:"decision"`
	Degraded    bool        `json:"degraded,omitempty"`
	Product     string      `json:"product,omitempty"`
	Phase       state.Phase `json:"phase"`
	PendingSlot string      `json:"pending_slot,omitempty"`
	TurnCount   int         `json:"turn_count"`
}

// SessionResponse is the inspection view of a stored session. History is
// already PII-masked before it is ever persisted, so it is safe to return.
type SessionResponse struct {
	SessionID   string            `json:"session_id"`
	Product     string            `json:"product,omitempty"`
	Phase       state.Phase       `json:"phase"`
	Slots       map[string]string `json:"slots,omitempty"`
	PendingSlot string            `json:"pending_slot,omitempty"`
	TurnCount   int               `json:"turn_count"`
	RecGiven    bool              `json:"recommendation_given"`
	Degraded    bool              `json:"degraded"`
	Summary     string            `json:"summary,omitempty"`
	History     []state.Message   `json:"history"`
}

// ProductInfo describes one catalog entry for clients building product menus.
type ProductInfo struct {
	Name        string   `json:"name"`
	DisplayName string   `json:"display_name"`
	Slots       []string `json:"slots"`
}

// ListProductsResponse wraps the catalog listing.
type ListProductsResponse struct {
	Products []ProductInfo `json:"products"`
}

// =============================================================================
// Handlers
// =============================================================================

// Handlers holds the HTTP handler methods for the dialog service.
type Handlers struct {
	svc *Service
}

// NewHandlers creates the handler set for svc.
func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc}
}

// getOrCreateRequestID returns the inbound X-Request-ID header, minting a
// fresh UUID when the client did not send one. The ID is echoed back so
// clients can correlate logs across the gateway.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}

// HandleChat handles POST /v1/dialog/chat.
//
// Description:
//
//	Runs one conversation turn. An empty session_id starts a new session;
//	the minted ID comes back in the response. Conversation-level failures
//	(model down, handler error) never surface here: the orchestrator folds
//	them into a degraded reply with a 200.
//
// Request Body:
//
//	ChatRequest (message required, session_id optional)
//
// Response:
//
//	200 OK: ChatResponse
//	400 Bad Request: Missing or empty message
//	409 Conflict: A newer turn for the same session superseded this one
//	500 Internal Server Error: Session store failure
//
// Thread Safety: This method is safe for concurrent use. Per-session
// ordering is enforced by the session manager.
func (h *Handlers) HandleChat(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.svc.logger.With("request_id", requestID, "handler", "HandleChat")

	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "message is required",
			Code:  "MISSING_MESSAGE",
		})
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	result, err := h.svc.orchestrator.HandleTurn(c.Request.Context(), sessionID, req.Message)
	if err != nil {
		switch {
		case errors.Is(err, turn.ErrEmptyUtterance):
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: "message is required",
				Code:  "MISSING_MESSAGE",
			})
		case errors.Is(err, session.ErrSuperseded):
			c.JSON(http.StatusConflict, ErrorResponse{
				Error: "a newer message for this session superseded this one",
				Code:  "TURN_SUPERSEDED",
			})
		default:
			logger.Error("turn failed", slog.String("session_id", sessionID), slog.Any("error", err))
			c.JSON(http.StatusInternalServerError, ErrorResponse{
				Error: "failed to process the message",
				Code:  "TURN_FAILED",
			})
		}
		return
	}

	logger.Info("turn answered",
		slog.String("session_id", result.SessionID),
		slog.String("decision", result.Decision),
		slog.String("handler", result.Handler),
		slog.Bool("degraded", result.Degraded),
	)

	c.JSON(http.StatusOK, chatResponseFrom(result))
}

// HandleGetSession handles GET /v1/dialog/sessions/:id.
//
// Description:
//
//	Returns the stored state of one session for debugging and for clients
//	restoring a conversation view. Read-only.
//
// Path Parameters:
//
//	id: Session ID (required)
//
// Response:
//
//	200 OK: SessionResponse
//	404 Not Found: Unknown session ID
//	500 Internal Server Error: Session store failure
//
// Thread Safety: This method is safe for concurrent use.
func (h *Handlers) HandleGetSession(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.svc.logger.With("request_id", requestID, "handler", "HandleGetSession")

	sessionID := c.Param("id")

	sess, err := h.svc.manager.Load(c.Request.Context(), sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error: "session not found",
				Code:  "SESSION_NOT_FOUND",
			})
			return
		}
		logger.Error("session load failed", slog.String("session_id", sessionID), slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "failed to load session",
			Code:  "SESSION_LOAD_FAILED",
		})
		return
	}

	c.JSON(http.StatusOK, SessionResponse{
		SessionID:   sess.ID,
		Product:     sess.Product,
		Phase:       sess.Phase,
		Slots:       sess.Slots,
		PendingSlot: sess.PendingSlot,
		TurnCount:   sess.TurnCount,
		RecGiven:    sess.RecGiven,
		Degraded:    sess.DegradedMode,
		Summary:     sess.Summary,
		History:     sess.History,
	})
}

// HandleResetSession handles POST /v1/dialog/sessions/:id/reset.
//
// Description:
//
//	Drops the stored session so the next message starts fresh. Resetting an
//	unknown session is a no-op success: the end state is identical.
//
// Path Parameters:
//
//	id: Session ID (required)
//
// Response:
//
//	200 OK: {"reset": true}
//	500 Internal Server Error: Session store failure
//
// Thread Safety: This method is safe for concurrent use.
func (h *Handlers) HandleResetSession(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.svc.logger.With("request_id", requestID, "handler", "HandleResetSession")

	sessionID := c.Param("id")

	if err := h.svc.manager.Reset(c.Request.Context(), sessionID); err != nil {
		logger.Error("session reset failed", slog.String("session_id", sessionID), slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "failed to reset session",
			Code:  "SESSION_RESET_FAILED",
		})
		return
	}

	logger.Info("session reset", slog.String("session_id", sessionID))

	c.JSON(http.StatusOK, gin.H{"reset": true})
}

// HandleListProducts handles GET /v1/dialog/products.
//
// Description:
//
//	Lists the insurance products the assistant can discuss, with display
//	names and the slots each product collects. Backed by the embedded
//	catalog, so the response is stable for the life of the process.
//
// Response:
//
//	200 OK: ListProductsResponse
//
// Thread Safety: This method is safe for concurrent use. Read-only access
// to the catalog.
func (h *Handlers) HandleListProducts(c *gin.Context) {
	names := h.svc.catalog.Names()
	sort.Strings(names)

	resp := ListProductsResponse{Products: make([]ProductInfo, 0, len(names))}
	for _, name := range names {
		slots := h.svc.catalog.RequiredSlots(name)
		if slots == nil {
			slots = []string{}
		}
		resp.Products = append(resp.Products, ProductInfo{
			Name:        name,
			DisplayName: h.svc.catalog.DisplayName(name),
			Slots:       slots,
		})
	}

	c.JSON(http.StatusOK, resp)
}

// HandleHealth handles GET /v1/dialog/health.
//
// Response:
//
//	200 OK: {"status": "ok"}
//
// Thread Safety: This method is safe for concurrent use.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "dialog"})
}

// HandleReady handles GET /v1/dialog/ready.
//
// Description:
//
//	Readiness differs from health: the process can be alive while the
//	session store is still opening. Probes a store round trip with a
//	throwaway ID.
//
// Response:
//
//	200 OK: {"ready": true}
//	503 Service Unavailable: Session store not answering
//
// Thread Safety: This method is safe for concurrent use.
func (h *Handlers) HandleReady(c *gin.Context) {
	_, err := h.svc.manager.Load(c.Request.Context(), "readiness-probe")
	if err != nil && !errors.Is(err, session.ErrNotFound) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ready": true})
}

// chatResponseFrom shapes an answered turn for the wire.
func chatResponseFrom(result *turn.Result) ChatResponse {
	return ChatResponse{
		SessionID:   result.SessionID,
		Reply:       result.Response,
		Handler:     result.Handler,
		Decision:    result.Decision,
		Degraded:    result.Degraded,
		Product:     result.Session.Product,
		Phase:       result.Session.Phase,
		PendingSlot: result.Session.PendingSlot,
		TurnCount:   result.Session.TurnCount,
	}
}
