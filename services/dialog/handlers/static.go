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

import "context"

// StaticHandler replies with fixed text regardless of input. Used for the
// paths where improvisation is exactly what we don't want: escalation and
// recovery.
type StaticHandler struct {
	name string
	text string
}

func NewStaticHandler(name, text string) *StaticHandler {
	return &StaticHandler{name: name, text: text}
}

func (h *StaticHandler) Name() string { return h.name }

func (h *StaticHandler) Handle(_ context.Context, _ *Request) (*Response, error) {
	return &Response{Text: h.text}, nil
}

// Canned texts for the recovery handlers. Escalation promises a human and
// nothing else; self-correction apologizes and reorients without guessing at
// what went wrong.
const (
	liveAgentText = "Of course. I'm connecting you with one of our licensed advisors now, " +
		"and someone will be with you shortly. If you'd like to keep going with me " +
		"in the meantime, just carry on."

	selfCorrectionText = "Sorry, I got a bit tangled up there. Let's get back on track: " +
		"you can repeat your last request, ask me about any of our plans, or say " +
		"\"Restart Session\" to begin fresh."
)
