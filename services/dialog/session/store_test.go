// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import (
	"context"
	"errors"
	"testing"

	"github.com/AleutianAI/AleutianDialog/services/dialog/state"
	badgerstore "github.com/AleutianAI/AleutianDialog/services/dialog/storage/badger"
)

// openTestDB opens an in-memory BadgerDB for testing.
func openTestDB(t *testing.T) *badgerstore.DB {
	t.Helper()
	db, err := badgerstore.OpenDB(badgerstore.InMemoryConfig())
	if err != nil {
		t.Fatalf("openTestDB: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// sampleSession builds a mid-conversation session with every field class
// populated, for round-trip fidelity checks.
func sampleSession(id string) *state.Session {
	sess := state.New(id)
	sess.Product = "travel"
	sess.TransitionPhase(state.PhaseSlotFilling)
	sess.Slots["coverage_scope"] = "family"
	sess.PendingSlot = "destination"
	sess.SlotRetries["duration"] = 1
	sess.SlotErrors["duration"] = "out_of_range"
	sess.TurnCount = 7
	sess.Summary = "comparing travel plans"
	sess.Reference.LastProduct = "travel"
	sess.AppendMessage(state.Message{Role: state.RoleUser, Content: "I need travel insurance"})
	sess.AppendMessage(state.Message{Role: state.RoleAssistant, Content: "Who is the cover for?"})
	return sess
}

func TestBadgerStore_RoundTrip(t *testing.T) {
	store := NewBadgerStore(openTestDB(t), 0, nil)
	ctx := context.Background()

	want := sampleSession("round-trip")
	if err := store.Save(ctx, want); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.Load(ctx, "round-trip")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got.Product != "travel" {
		t.Errorf("Product = %q, want travel", got.Product)
	}
	if got.Phase != state.PhaseSlotFilling {
		t.Errorf("Phase = %q, want slot_filling", got.Phase)
	}
	if got.Slots["coverage_scope"] != "family" {
		t.Errorf("Slots = %v, want coverage_scope=family", got.Slots)
	}
	if got.PendingSlot != "destination" {
		t.Errorf("PendingSlot = %q, want destination", got.PendingSlot)
	}
	if got.SlotRetries["duration"] != 1 || got.SlotErrors["duration"] != "out_of_range" {
		t.Errorf("retry state lost: retries=%v errors=%v", got.SlotRetries, got.SlotErrors)
	}
	if got.TurnCount != 7 {
		t.Errorf("TurnCount = %d, want 7", got.TurnCount)
	}
	if len(got.History) != 2 {
		t.Fatalf("History lost: %v", got.History)
	}
	if got.History[1].Content != "Who is the cover for?" {
		t.Errorf("History[1] = %+v", got.History[1])
	}
}

func TestBadgerStore_LoadMissing(t *testing.T) {
	store := NewBadgerStore(openTestDB(t), 0, nil)

	_, err := store.Load(context.Background(), "never-saved")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestBadgerStore_SaveRequiresID(t *testing.T) {
	store := NewBadgerStore(openTestDB(t), 0, nil)

	if err := store.Save(context.Background(), &state.Session{}); err == nil {
		t.Error("session without ID accepted")
	}
	if err := store.Save(context.Background(), nil); err == nil {
		t.Error("nil session accepted")
	}
}

func TestBadgerStore_OverwriteKeepsLatest(t *testing.T) {
	store := NewBadgerStore(openTestDB(t), 0, nil)
	ctx := context.Background()

	sess := sampleSession("overwrite")
	if err := store.Save(ctx, sess); err != nil {
		t.Fatalf("first Save failed: %v", err)
	}
	sess.TurnCount = 8
	sess.Slots["destination"] = "japan"
	if err := store.Save(ctx, sess); err != nil {
		t.Fatalf("second Save failed: %v", err)
	}

	got, err := store.Load(ctx, "overwrite")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got.TurnCount != 8 || got.Slots["destination"] != "japan" {
		t.Errorf("stale record returned: turns=%d slots=%v", got.TurnCount, got.Slots)
	}
}

func TestBadgerStore_Delete(t *testing.T) {
	store := NewBadgerStore(openTestDB(t), 0, nil)
	ctx := context.Background()

	if err := store.Delete(ctx, "absent"); err != nil {
		t.Errorf("deleting an absent session errored: %v", err)
	}

	if err := store.Save(ctx, sampleSession("doomed")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := store.Delete(ctx, "doomed"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Load(ctx, "doomed"); !errors.Is(err, ErrNotFound) {
		t.Errorf("deleted session still loads: err = %v", err)
	}
}

func TestMemoryStore_RoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	want := sampleSession("mem")
	if err := store.Save(ctx, want); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	got, err := store.Load(ctx, "mem")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got.Product != "travel" || got.TurnCount != 7 {
		t.Errorf("got %+v", got)
	}
}

// The memory store must hand out copies; a caller mutating a loaded session
// must not corrupt the stored record.
func TestMemoryStore_LoadIsIsolated(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Save(ctx, sampleSession("isolated")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	first, err := store.Load(ctx, "isolated")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	first.Slots["coverage_scope"] = "tampered"
	first.History[0].Content = "tampered"

	second, err := store.Load(ctx, "isolated")
	if err != nil {
		t.Fatalf("second Load failed: %v", err)
	}
	if second.Slots["coverage_scope"] != "family" {
		t.Errorf("stored slots mutated through a loaded copy: %v", second.Slots)
	}
	if second.History[0].Content != "I need travel insurance" {
		t.Errorf("stored history mutated through a loaded copy: %v", second.History[0])
	}
}

func TestMemoryStore_Missing(t *testing.T) {
	store := NewMemoryStore()
	if _, err := store.Load(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
