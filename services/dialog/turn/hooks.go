// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package turn

import (
	"context"
	"time"

	"github.com/AleutianAI/AleutianDialog/services/dialog/state"
)

// TurnEvent is the analytics record for one completed turn. Carries routing
// outcome and latency, never utterance text; transcripts have their own
// (masked) path through the archiver.
type TurnEvent struct {
	SessionID string
	Decision  string
	Handler   string
	Product   string
	Phase     state.Phase
	TurnCount int
	Degraded  bool
	Duration  time.Duration
}

// Recorder receives turn analytics. Implementations must tolerate being
// called from a background goroutine after the turn has already been
// answered; failures are logged and dropped, never surfaced to the user.
type Recorder interface {
	RecordTurn(ctx context.Context, ev TurnEvent) error
}

// Archiver receives the full pre-reset transcript when a session restarts.
// Same contract as Recorder: best effort, off the reply path.
type Archiver interface {
	ArchiveTranscript(ctx context.Context, sess *state.Session) error
}
