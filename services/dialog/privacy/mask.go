// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package privacy masks personal data before it is persisted or logged.
//
// Two distinct surfaces:
//
//   - MaskPII runs over user utterances before they enter session history.
//     Insurance conversations attract emails and phone numbers ("send the
//     quote to ..."); the stored transcript keeps a labeled placeholder, so
//     the model still sees that contact details were given without the
//     details themselves surviving in BadgerDB.
//
//   - SafeLogString runs over log and error strings. Provider errors can
//     echo request headers, and request headers can carry API keys.
//
// Both are pattern-based. A value that does not match a known shape passes
// through; this is damage limitation, not a compliance guarantee.
package privacy

import (
	"regexp"
)

// maskPattern pairs a compiled regex with a labeled replacement, so a reader
// of the stored transcript knows what class of value was removed.
type maskPattern struct {
	Pattern     *regexp.Regexp
	Replacement string
}

// piiPatterns are applied to user utterances, in order.
//
// The phone patterns are deliberately narrow: a bare digit run is usually a
// slot answer (duration in days, sum assured, an age), so only shapes with
// an international prefix, separators, or a Singapore-style 8-digit number
// starting with 3, 6, 8, or 9 are treated as phone numbers.
var piiPatterns = []maskPattern{
	{
		Pattern:     regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`),
		Replacement: "[MASKED:email]",
	},
	// +<country code> followed by 7-12 digits with optional separators.
	{
		Pattern:     regexp.MustCompile(`\+\d{1,3}[\s-]?\d{4}[\s-]?\d{3,8}`),
		Replacement: "[MASKED:phone]",
	},
	// Local 8-digit number, optionally split 4-4. Word-bounded so longer
	// digit runs (policy numbers, sums) are left alone.
	{
		Pattern:     regexp.MustCompile(`\b[3689]\d{3}[\s-]?\d{4}\b`),
		Replacement: "[MASKED:phone]",
	},
}

// secretPatterns are applied to log output. Ordered most-specific-first:
// the Anthropic prefix must win over the generic sk- prefix.
var secretPatterns = []maskPattern{
	{
		Pattern:     regexp.MustCompile(`sk-ant-api03-[A-Za-z0-9_-]{20,}`),
		Replacement: "[REDACTED:anthropic_key]",
	},
	{
		Pattern:     regexp.MustCompile(`sk-[A-Za-z0-9]{20,}`),
		Replacement: "[REDACTED:openai_key]",
	},
	{
		Pattern:     regexp.MustCompile(`AIza[A-Za-z0-9_-]{30,}`),
		Replacement: "[REDACTED:gemini_key]",
	},
	{
		Pattern:     regexp.MustCompile(`Bearer\s+[A-Za-z0-9._-]{10,}`),
		Replacement: "[REDACTED:bearer_token]",
	},
	{
		Pattern:     regexp.MustCompile(`key=[A-Za-z0-9._-]{10,}`),
		Replacement: "key=[REDACTED]",
	},
}

// MaskPII replaces emails and phone numbers in a user utterance with labeled
// placeholders. Returns the input unchanged when nothing matches.
//
// Thread Safety: safe for concurrent use.
func MaskPII(s string) string {
	if s == "" {
		return s
	}
	for _, p := range piiPatterns {
		s = p.Pattern.ReplaceAllString(s, p.Replacement)
	}
	return s
}

// SafeLogString redacts known secret shapes (API keys, bearer tokens) from a
// string before it is logged.
//
// Thread Safety: safe for concurrent use.
func SafeLogString(s string) string {
	if s == "" {
		return s
	}
	for _, p := range secretPatterns {
		s = p.Pattern.ReplaceAllString(s, p.Replacement)
	}
	return s
}
