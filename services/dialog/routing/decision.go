// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routing

// =============================================================================
// Decision variants
// =============================================================================

// Decision is the routing supervisor's verdict for one turn. It is a closed
// sum: the only implementations live in this package, so a type switch over
// the four variants is exhaustive and stays checkable as the system grows.
// Ad hoc string routing is exactly what this type exists to replace.
type Decision interface {
	// Kind returns the stable variant name used in logs and metrics.
	Kind() string

	decision()
}

// Block refuses a mid-conversation product switch. The attempted product is
// discarded, never written to the session; Message apologizes and explains
// how to restart.
type Block struct {
	Message string
}

// Reset clears the session back to defaults as one atomic transition.
type Reset struct{}

// ResumeSlotCollection routes the turn back into the slot-filling engine for
// the product already locked in.
type ResumeSlotCollection struct{}

// Dispatch hands the turn to a named specialist handler. Degraded marks a
// fallback dispatch made without classifier output; the handler may soften
// its reply accordingly.
type Dispatch struct {
	Handler  string
	Degraded bool
}

func (Block) decision()                {}
func (Reset) decision()                {}
func (ResumeSlotCollection) decision() {}
func (Dispatch) decision()             {}

func (Block) Kind() string                { return "block" }
func (Reset) Kind() string                { return "reset" }
func (ResumeSlotCollection) Kind() string { return "resume_slots" }
func (d Dispatch) Kind() string           { return "dispatch_" + d.Handler }
