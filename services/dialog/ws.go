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
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/AleutianDialog/services/dialog/session"
	"github.com/AleutianAI/AleutianDialog/services/dialog/turn"
)

const (
	// wsWriteWait bounds a single write to the peer.
	wsWriteWait = 10 * time.Second

	// wsPongWait is how long a connection may go silent before it is
	// considered dead. Pings go out at wsPingPeriod, which must be shorter.
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 54 * time.Second

	// wsMaxMessageSize caps an inbound frame. Chat turns are short; anything
	// larger is a misbehaving client.
	wsMaxMessageSize = 8192
)

// wsUpgrader upgrades HTTP requests to websocket connections. Origin checks
// are left to the fronting gateway, which terminates TLS and enforces CORS
// for the whole API surface.
var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsClientMessage is one inbound frame: a user turn. SessionID is optional
// on every frame; the first frame without one pins a minted ID for the rest
// of the connection.
type wsClientMessage struct {
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
}

// wsServerMessage is one outbound frame. Type is "reply" for answered turns
// and "error" for frames that could not be processed; an error frame does
// not close the connection.
type wsServerMessage struct {
	Type string `json:"type"`

	SessionID   string `json:"session_id,omitempty"`
	Reply       string `json:"reply,omitempty"`
	Handler     string `json:"handler,omitempty"`
	Decision    string `json:"decision,omitempty"`
	Degraded    bool   `json:"degraded,omitempty"`
	Product     string `json:"product,omitempty"`
	Phase       string `json:"phase,omitempty"`
	PendingSlot string `json:"pending_slot,omitempty"`
	TurnCount   int    `json:"turn_count,omitempty"`

	Error string `json:"error,omitempty"`
	Code  string `json:"code,omitempty"`
}

// wsConn serializes writes to one websocket connection. The ping ticker and
// the reply path both write, and gorilla connections allow only one
// concurrent writer.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (w *wsConn) writeJSON(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return w.conn.WriteJSON(v)
}

func (w *wsConn) ping() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
}

// HandleWS handles GET /v1/dialog/ws.
//
// Description:
//
//	Upgrades to a websocket and runs a turn per inbound frame. Turns on one
//	connection run sequentially in arrival order, which is what a chat
//	client wants; concurrent turns for the same session from elsewhere are
//	still resolved by the session manager (latest wins).
//
// Frames:
//
//	Client: wsClientMessage {"session_id": "...", "message": "..."}
//	Server: wsServerMessage with type "reply" or "error"
//
// Thread Safety: This method is safe for concurrent use. Each connection
// gets its own read loop and ping goroutine.
func (h *Handlers) HandleWS(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.svc.logger.With("request_id", requestID, "handler", "HandleWS")

	raw, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		logger.Warn("websocket upgrade failed", slog.Any("error", err))
		return
	}
	ws := &wsConn{conn: raw}
	defer raw.Close()

	raw.SetReadLimit(wsMaxMessageSize)
	_ = raw.SetReadDeadline(time.Now().Add(wsPongWait))
	raw.SetPongHandler(func(string) error {
		return raw.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	// Keepalive pings until the handler returns.
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(wsPingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := ws.ping(); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	// The connection owns one session unless the client names another.
	connSessionID := uuid.NewString()
	logger.Info("websocket connected", slog.String("session_id", connSessionID))

	for {
		var msg wsClientMessage
		if err := raw.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("websocket closed unexpectedly", slog.Any("error", err))
			}
			return
		}
		_ = raw.SetReadDeadline(time.Now().Add(wsPongWait))

		sessionID := msg.SessionID
		if sessionID == "" {
			sessionID = connSessionID
		}

		result, err := h.svc.orchestrator.HandleTurn(c.Request.Context(), sessionID, msg.Message)
		if err != nil {
			if writeErr := ws.writeJSON(wsErrorFrame(err)); writeErr != nil {
				logger.Warn("websocket write failed", slog.Any("error", writeErr))
				return
			}
			continue
		}

		if writeErr := ws.writeJSON(wsReplyFrame(result)); writeErr != nil {
			logger.Warn("websocket write failed", slog.Any("error", writeErr))
			return
		}
	}
}

func wsReplyFrame(result *turn.Result) wsServerMessage {
	return wsServerMessage{
		Type:        "reply",
		SessionID:   result.SessionID,
		Reply:       result.Response,
		Handler:     result.Handler,
		Decision:    result.Decision,
		Degraded:    result.Degraded,
		Product:     result.Session.Product,
		Phase:       string(result.Session.Phase),
		PendingSlot: result.Session.PendingSlot,
		TurnCount:   result.Session.TurnCount,
	}
}

func wsErrorFrame(err error) wsServerMessage {
	frame := wsServerMessage{Type: "error"}
	switch {
	case errors.Is(err, turn.ErrEmptyUtterance):
		frame.Error = "message is required"
		frame.Code = "MISSING_MESSAGE"
	case errors.Is(err, session.ErrSuperseded):
		frame.Error = "a newer message for this session superseded this one"
		frame.Code = "TURN_SUPERSEDED"
	default:
		frame.Error = "failed to process the message"
		frame.Code = "TURN_FAILED"
	}
	return frame
}
