// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// The response mirrors below track the dialog server's wire format. The CLI
// keeps its own copies so it can be built and shipped independently of the
// server packages.

type chatRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
}

type chatResponse struct {
	SessionID   string `json:"session_id"`
	Reply       string `json:"reply"`
	Handler     string `json:"handler"`
	Decision    string `json:"decision"`
	Degraded    bool   `json:"degraded,omitempty"`
	Product     string `json:"product,omitempty"`
	Phase       string `json:"phase"`
	PendingSlot string `json:"pending_slot,omitempty"`
	TurnCount   int    `json:"turn_count"`
}

type sessionResponse struct {
	SessionID   string            `json:"session_id"`
	Product     string            `json:"product,omitempty"`
	Phase       string            `json:"phase"`
	Slots       map[string]string `json:"slots,omitempty"`
	PendingSlot string            `json:"pending_slot,omitempty"`
	TurnCount   int               `json:"turn_count"`
	RecGiven    bool              `json:"recommendation_given"`
	Degraded    bool              `json:"degraded"`
	Summary     string            `json:"summary,omitempty"`
	History     []historyMessage  `json:"history"`
}

type historyMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type productInfo struct {
	Name        string   `json:"name"`
	DisplayName string   `json:"display_name"`
	Slots       []string `json:"slots"`
}

type listProductsResponse struct {
	Products []productInfo `json:"products"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// apiClient talks to one dialog server.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string) *apiClient {
	return &apiClient{
		baseURL: baseURL,
		// Chat turns can sit behind a slow responder model; everything else
		// is quick.
		http: &http.Client{Timeout: 2 * time.Minute},
	}
}

// Chat runs one turn. A zero sessionID lets the server mint one; the caller
// reads it back from the response.
func (c *apiClient) Chat(sessionID, message string) (*chatResponse, error) {
	payload, err := json.Marshal(chatRequest{SessionID: sessionID, Message: message})
	if err != nil {
		return nil, fmt.Errorf("encoding chat request: %w", err)
	}

	resp, err := c.http.Post(c.baseURL+"/v1/dialog/chat", "application/json", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("dialog server unreachable at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	var out chatResponse
	if err := decodeOrError(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Session fetches the stored state of one session.
func (c *apiClient) Session(sessionID string) (*sessionResponse, error) {
	resp, err := c.http.Get(c.baseURL + "/v1/dialog/sessions/" + sessionID)
	if err != nil {
		return nil, fmt.Errorf("dialog server unreachable at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	var out sessionResponse
	if err := decodeOrError(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Reset drops one session.
func (c *apiClient) Reset(sessionID string) error {
	resp, err := c.http.Post(c.baseURL+"/v1/dialog/sessions/"+sessionID+"/reset", "application/json", nil)
	if err != nil {
		return fmt.Errorf("dialog server unreachable at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	var out map[string]any
	return decodeOrError(resp, &out)
}

// Products lists the catalog.
func (c *apiClient) Products() (*listProductsResponse, error) {
	resp, err := c.http.Get(c.baseURL + "/v1/dialog/products")
	if err != nil {
		return nil, fmt.Errorf("dialog server unreachable at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	var out listProductsResponse
	if err := decodeOrError(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// decodeOrError decodes a 200 into v, or turns any other status into an
// error carrying the server's message when one was sent.
func decodeOrError(resp *http.Response, v any) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading server response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr errorResponse
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s (%s)", apiErr.Error, apiErr.Code)
		}
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("parsing server response: %w", err)
	}
	return nil
}
