// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analytics

import (
	"testing"
	"time"

	"github.com/AleutianAI/AleutianDialog/services/dialog/state"
	"github.com/AleutianAI/AleutianDialog/services/dialog/turn"
)

func TestNewFromEnv_DisabledWithoutURL(t *testing.T) {
	t.Setenv(EnvInfluxURL, "")

	r, err := NewFromEnv(nil)
	if err != nil {
		t.Fatalf("NewFromEnv failed: %v", err)
	}
	if r != nil {
		t.Fatal("analytics should be disabled without a URL")
	}
}

func TestNewInfluxRecorder_RequiresBucket(t *testing.T) {
	if _, err := NewInfluxRecorder("http://localhost:8086", "", "org", "", nil); err == nil {
		t.Fatal("expected an error without a bucket")
	}
}

func TestTurnPoint_TagsAndFields(t *testing.T) {
	ev := turn.TurnEvent{
		SessionID: "s1",
		Decision:  "dispatch_greet",
		Handler:   "greet",
		Product:   "",
		Phase:     state.PhaseGreeting,
		TurnCount: 3,
		Degraded:  false,
		Duration:  250 * time.Millisecond,
	}

	p := turnPoint(ev, time.Unix(1_700_000_000, 0).UTC())
	if p.Name() != turnMeasurement {
		t.Fatalf("measurement = %q, want %q", p.Name(), turnMeasurement)
	}

	tags := map[string]string{}
	for _, tag := range p.TagList() {
		tags[tag.Key] = tag.Value
	}
	if tags["decision"] != "dispatch_greet" {
		t.Fatalf("decision tag = %q", tags["decision"])
	}
	if tags["product"] != "none" {
		t.Fatalf("empty product should be tagged none, got %q", tags["product"])
	}

	fields := map[string]interface{}{}
	for _, field := range p.FieldList() {
		fields[field.Key] = field.Value
	}
	if fields["duration_ms"] != int64(250) {
		t.Fatalf("duration_ms = %v, want 250", fields["duration_ms"])
	}
	if fields["session_id"] != "s1" {
		t.Fatalf("session_id should stay a field, got %v", fields["session_id"])
	}
}
