// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package state defines the per-session conversation record for the Aleutian
// Dialog service and the invariants that protect it.
//
// A Session is the single mutable resource shared across a conversation. It is
// read as an immutable snapshot (Clone) at turn start and written back exactly
// once at turn end. No component mutates a live Session concurrently; the turn
// orchestrator enforces single-turn-in-flight per session.
//
// The invariant that matters most: PendingSlot must never outlive the slot map
// it refers to. Every code path that clears Slots goes through ResetForRestart,
// which clears both in one transition. A pending slot pointing at a product
// that no longer exists is the bug class this package is built to prevent.
package state

import (
	"errors"
	"time"
)

// =============================================================================
// Constants
// =============================================================================

// MaxPhaseHistory bounds the recorded phase transition log per session.
const MaxPhaseHistory = 20

// MaxHistoryMessages bounds the rolling message window kept on the session.
// Older messages are folded into Summary by the memory compressor before
// being dropped.
const MaxHistoryMessages = 25

// Message role constants.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ErrInconsistentState reports a session whose fields violate a structural
// invariant (for example a pending slot with no product). Callers treat it as
// fatal to the turn and respond with an implicit reset rather than propagating
// undefined behavior.
var ErrInconsistentState = errors.New("dialog: inconsistent session state")

// =============================================================================
// Message
// =============================================================================

// Message is one entry in the rolling conversation window.
//
// Assistant messages that requested tool invocations carry ToolCallIDs; the
// corresponding tool result messages carry the matching ToolCallID. The memory
// compressor uses this linkage to keep request/response pairs atomic when it
// prunes history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`

	// ToolCallIDs is non-empty on assistant messages that issued tool calls.
	ToolCallIDs []string `json:"tool_call_ids,omitempty"`

	// ToolCallID links a tool result back to the assistant message that
	// requested it.
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// =============================================================================
// ReferenceContext
// =============================================================================

// ReferenceContext records the last-mentioned entities of a conversation for
// pronoun continuity ("is it covered there?", "what about the higher one?").
// Updated once per turn during commit; read-only to handlers.
type ReferenceContext struct {
	LastProduct     string   `json:"last_product,omitempty"`
	LastTier        string   `json:"last_tier,omitempty"`
	LastDestination string   `json:"last_destination,omitempty"`
	ComparedItems   []string `json:"compared_items,omitempty"`
	LastBotQuestion string   `json:"last_bot_question,omitempty"`
}

// =============================================================================
// Prediction
// =============================================================================

// Prediction is the classifier's structured output for a single turn.
//
// It is ephemeral: produced fresh each turn, consumed by the routing
// supervisor, never persisted verbatim. In particular Product is a proposal;
// only the supervisor decides whether it is committed to the session.
type Prediction struct {
	Intent     string  `json:"intent"`
	Product    string  `json:"product,omitempty"`
	Reset      bool    `json:"reset"`
	LiveAgent  bool    `json:"live_agent"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale,omitempty"`
}

// =============================================================================
// Session
// =============================================================================

// Session is the full conversation record for one session ID.
//
// # Description
//
// Fields group into four lifetimes:
//
//  1. Product cycle — Product, Slots, PendingSlot, PendingSideQuestion,
//     SideInfo, SideInfoCitations, RecReady, RecGiven, SlotRetries,
//     SlotErrors, PurchaseOffered. Cleared together on reset.
//  2. Conversation — Phase, PhaseHistory, History, Summary, MemoryContext,
//     Reference. Summary and MemoryContext are owned by the memory
//     compressor; everything else by the turn commit.
//  3. Counters — TurnCount, SelfCorrectionCount, HandlerErrorStreak. Reset
//     only on a full session reset, never by a product-switch block.
//  4. Bookkeeping — ID, CreatedAt, LastActiveAt.
//
// # Thread Safety
//
// Session is NOT safe for concurrent use. Components operate on a Clone and
// the session manager serializes turns per session ID.
type Session struct {
	ID string `json:"id"`

	// Product is the locked-in insurance product for this conversation.
	// Empty until the user commits to one; once set, changing it requires an
	// explicit reset. Only the routing supervisor's commit path writes it.
	Product string `json:"product,omitempty"`

	Phase        Phase   `json:"phase"`
	PhaseHistory []Phase `json:"phase_history,omitempty"`

	// Slots holds validated values only. A value that failed validation is
	// never written here; its rejection reason lands in SlotErrors instead.
	Slots map[string]string `json:"slots,omitempty"`

	// PendingSlot names the slot the assistant most recently asked for.
	// Cleared whenever Product is reset or Slots are cleared.
	PendingSlot string `json:"pending_slot,omitempty"`

	// PendingSideQuestion and SideInfo track a mid-collection clarifying
	// question and its resolved answer. A resolved answer must be surfaced
	// with the next response, never silently dropped.
	PendingSideQuestion string   `json:"pending_side_question,omitempty"`
	SideInfo            string   `json:"side_info,omitempty"`
	SideInfoCitations   []string `json:"side_info_citations,omitempty"`

	RecReady        bool `json:"rec_ready"`
	RecGiven        bool `json:"rec_given"`
	PurchaseOffered bool `json:"purchase_offered"`
	LiveAgentAsked  bool `json:"live_agent_asked"`
	DegradedMode    bool `json:"degraded_mode"`

	// SlotRetries counts consecutive rejected answers per slot. Reset for a
	// slot when it fills, and wholesale on product reset.
	SlotRetries map[string]int `json:"slot_retries,omitempty"`

	// SlotErrors keeps the latest structured rejection reason per slot, used
	// to build targeted re-asks instead of a generic failure message.
	SlotErrors map[string]string `json:"slot_errors,omitempty"`

	TurnCount           int `json:"turn_count"`
	SelfCorrectionCount int `json:"self_correction_count"`

	// HandlerErrorStreak counts consecutive failed handler dispatches. Two or
	// more route the next turn into self-correction.
	HandlerErrorStreak int `json:"handler_error_streak"`

	// Summary is the compressed history, owned by the memory compressor.
	// MemoryContext is the working window description handed to the
	// classifier alongside the summary. MemoryHash fingerprints the history
	// the compressor last saw, so unchanged history short-circuits.
	Summary       string `json:"summary,omitempty"`
	MemoryContext string `json:"memory_context,omitempty"`
	MemoryHash    string `json:"memory_hash,omitempty"`

	Reference ReferenceContext `json:"reference"`

	History []Message `json:"history,omitempty"`

	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
}

// New creates a fresh session in the greeting phase.
func New(id string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:           id,
		Phase:        PhaseGreeting,
		PhaseHistory: []Phase{PhaseGreeting},
		Slots:        map[string]string{},
		SlotRetries:  map[string]int{},
		SlotErrors:   map[string]string{},
		CreatedAt:    now,
		LastActiveAt: now,
	}
}

// Clone returns a deep copy of the session.
//
// # Description
//
// The clone is the immutable snapshot handed to the concurrent turn tasks
// (classifier, compressor, slot engine). Mutating the clone never affects the
// stored session; only the turn commit writes back.
//
// # Thread Safety
//
// Safe to call while no commit is in flight for the same session (the session
// manager guarantees this).
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s

	out.PhaseHistory = append([]Phase(nil), s.PhaseHistory...)
	out.SideInfoCitations = append([]string(nil), s.SideInfoCitations...)
	out.History = append([]Message(nil), s.History...)
	for i := range out.History {
		out.History[i].ToolCallIDs = append([]string(nil), s.History[i].ToolCallIDs...)
	}
	out.Reference.ComparedItems = append([]string(nil), s.Reference.ComparedItems...)

	out.Slots = make(map[string]string, len(s.Slots))
	for k, v := range s.Slots {
		out.Slots[k] = v
	}
	out.SlotRetries = make(map[string]int, len(s.SlotRetries))
	for k, v := range s.SlotRetries {
		out.SlotRetries[k] = v
	}
	out.SlotErrors = make(map[string]string, len(s.SlotErrors))
	for k, v := range s.SlotErrors {
		out.SlotErrors[k] = v
	}
	return &out
}

// ResetForRestart clears the session back to defaults as one transition.
//
// # Description
//
// Implements the Reset side effect: product, slots, pending slot, pending
// side question, side info, recommendation flags, and phase clear together —
// clearing slots without clearing the pending slot is the defining bug class
// this method exists to prevent. This is the full session reset, so history,
// summary, reference context, and the monotonic counters clear here too.
// The session ID and CreatedAt survive.
func (s *Session) ResetForRestart() {
	s.Product = ""
	s.Slots = map[string]string{}
	s.PendingSlot = ""
	s.PendingSideQuestion = ""
	s.SideInfo = ""
	s.SideInfoCitations = nil
	s.RecReady = false
	s.RecGiven = false
	s.PurchaseOffered = false
	s.LiveAgentAsked = false
	s.DegradedMode = false
	s.SlotRetries = map[string]int{}
	s.SlotErrors = map[string]string{}
	s.TurnCount = 0
	s.SelfCorrectionCount = 0
	s.HandlerErrorStreak = 0
	s.Summary = ""
	s.MemoryContext = ""
	s.MemoryHash = ""
	s.Reference = ReferenceContext{}
	s.History = nil
	s.Phase = PhaseGreeting
	s.PhaseHistory = []Phase{PhaseGreeting}
	s.LastActiveAt = time.Now().UTC()
}

// TransitionPhase moves the session to p and records the transition.
// No-op when already in p. The history is capped at MaxPhaseHistory entries,
// dropping the oldest.
func (s *Session) TransitionPhase(p Phase) {
	if s.Phase == p {
		return
	}
	s.Phase = p
	s.PhaseHistory = append(s.PhaseHistory, p)
	if len(s.PhaseHistory) > MaxPhaseHistory {
		s.PhaseHistory = s.PhaseHistory[len(s.PhaseHistory)-MaxPhaseHistory:]
	}
}

// AppendMessage appends a message to the rolling history. Trimming to
// MaxHistoryMessages is deferred to the memory compressor, which knows how to
// cut without splitting tool request/response pairs.
func (s *Session) AppendMessage(m Message) {
	s.History = append(s.History, m)
}

// Validate checks structural invariants and returns ErrInconsistentState
// (wrapped) when one is violated.
//
// The checks are deliberately few: a pending slot requires a product, and
// validated slots require a product. Anything else is a legal intermediate
// state.
func (s *Session) Validate() error {
	if s.PendingSlot != "" && s.Product == "" {
		return errInconsistent("pending slot %q with no product", s.PendingSlot)
	}
	if len(s.Slots) > 0 && s.Product == "" {
		return errInconsistent("%d filled slots with no product", len(s.Slots))
	}
	return nil
}

// IdleFor reports how long the session has been idle relative to now.
func (s *Session) IdleFor(now time.Time) time.Duration {
	return now.Sub(s.LastActiveAt)
}

// Touch updates the activity timestamp.
func (s *Session) Touch(now time.Time) {
	s.LastActiveAt = now.UTC()
}
