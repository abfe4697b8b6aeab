// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// # Description
//
// Package sideinfo answers the questions users ask in the middle of answering
// ours. "What does 'coverage scope' mean, and yes just for me" carries a slot
// value and a side question; the slot engine splits them and hands the
// question here while validation runs.
//
// Resolution is strictly best-effort. A resolver that cannot answer returns
// ErrUnavailable and the dialog carries on without the lookup; nothing in this
// package may fail a turn.
package sideinfo

import (
	"context"
	"errors"
	"time"
)

// DefaultTimeout bounds a single side-information lookup. The slot engine
// joins on the lookup before replying, so this is latency the user feels.
const DefaultTimeout = 6 * time.Second

// ErrUnavailable reports that the lookup could not be completed in time or
// the backing store is unreachable. Callers degrade, they do not retry.
var ErrUnavailable = errors.New("sideinfo: unavailable")

// Query is one side question in the context of the product under discussion.
type Query struct {
	Question string
	Product  string
}

// Answer is a resolved side question.
type Answer struct {
	Text      string
	Citations []string
}

// Resolver answers side questions. Implementations must honor ctx deadlines
// and return ErrUnavailable (possibly wrapped) on any failure.
type Resolver interface {
	Resolve(ctx context.Context, q Query) (*Answer, error)
}
