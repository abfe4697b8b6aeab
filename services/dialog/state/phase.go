// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package state

import "fmt"

// =============================================================================
// Conversational Phase
// =============================================================================

// Phase is the coarse conversational stage, tracked as an explicit state
// machine. Transitions happen only through Session.TransitionPhase so the
// phase history records every step; no phase is skipped silently.
type Phase string

const (
	PhaseGreeting         Phase = "greeting"
	PhaseProductSelection Phase = "product_selection"
	PhaseSlotFilling      Phase = "slot_filling"
	PhaseRecommendation   Phase = "recommendation"
	PhaseComparison       Phase = "comparison"
	PhasePurchase         Phase = "purchase"
	PhaseInfoQuery        Phase = "info_query"
	PhaseClosing          Phase = "closing"
	PhaseEscalation       Phase = "escalation"
	PhaseServiceFlow      Phase = "service_flow"
)

// =============================================================================
// Intents and Handlers
// =============================================================================

// Intent constants produced by the classifier. These are the closed set the
// routing supervisor dispatches on; anything outside it falls back to chat.
const (
	IntentGreeting     = "greeting"
	IntentInfo         = "info"
	IntentCompare      = "compare"
	IntentPurchase     = "purchase"
	IntentRecommend    = "recommend"
	IntentChat         = "chat"
	IntentSummary      = "summary"
	IntentCapabilities = "capabilities"
)

// Handler name constants. The supervisor emits these in Dispatch decisions;
// the handler registry maps them to implementations.
const (
	HandlerGreet          = "greet"
	HandlerInfo           = "info"
	HandlerCompare        = "compare"
	HandlerPurchase       = "purchase"
	HandlerRecommend      = "recommend"
	HandlerChat           = "chat"
	HandlerSummary        = "summary"
	HandlerCapabilities   = "capabilities"
	HandlerLiveAgent      = "live_agent"
	HandlerSelfCorrection = "self_correction"
	HandlerSlotCollection = "slot_collection"
)

// PhaseForHandler maps a dispatched handler to the phase the session enters.
// Handlers without an entry keep the current phase.
func PhaseForHandler(handler string) (Phase, bool) {
	switch handler {
	case HandlerGreet:
		return PhaseGreeting, true
	case HandlerInfo:
		return PhaseInfoQuery, true
	case HandlerCompare:
		return PhaseComparison, true
	case HandlerPurchase:
		return PhasePurchase, true
	case HandlerRecommend:
		return PhaseRecommendation, true
	case HandlerLiveAgent:
		return PhaseEscalation, true
	case HandlerSlotCollection:
		return PhaseSlotFilling, true
	default:
		return "", false
	}
}

func errInconsistent(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInconsistentState, fmt.Sprintf(format, args...))
}
