// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package slotfill

// Outcome is the slot engine's verdict for one turn: either the next
// question to ask, or the signal that every required slot is filled. A
// closed sum, same shape as the routing decisions.
type Outcome interface {
	Kind() string

	outcome()
}

// AskNextSlot carries the question for the slot the user should answer
// next. SideInfo, when non-empty, is the answer to a side question the user
// asked this turn and is spoken before the question itself.
type AskNextSlot struct {
	Slot      string
	Question  string
	SideInfo  string
	Citations []string
}

// ReadyForRecommendation reports that slot collection is complete. SideInfo
// carries a side answer resolved on the final turn, so it is not lost
// between "all slots filled" and the recommendation that follows.
type ReadyForRecommendation struct {
	SideInfo  string
	Citations []string
}

func (AskNextSlot) outcome()            {}
func (ReadyForRecommendation) outcome() {}

func (AskNextSlot) Kind() string            { return "ask_next_slot" }
func (ReadyForRecommendation) Kind() string { return "ready_for_recommendation" }
