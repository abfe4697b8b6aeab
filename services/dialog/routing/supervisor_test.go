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

import (
	"context"
	"strings"
	"testing"

	"github.com/AleutianAI/AleutianDialog/services/dialog/state"
)

func newSupervisor(t *testing.T) *Supervisor {
	t.Helper()
	return NewSupervisor(nil)
}

// midSlotSession is a session partway through travel slot collection: one
// slot answered, one question outstanding.
func midSlotSession() *state.Session {
	sess := state.New("sess-route")
	sess.Product = "travel"
	sess.Phase = state.PhaseSlotFilling
	sess.Slots["coverage_scope"] = "self"
	sess.PendingSlot = "destination"
	return sess
}

func TestRoute_LadderPriority(t *testing.T) {
	tests := []struct {
		name string
		sess func() *state.Session
		pred *state.Prediction
		want Decision
	}{
		{
			name: "live agent request outranks reset",
			sess: midSlotSession,
			pred: &state.Prediction{Intent: state.IntentChat, LiveAgent: true, Reset: true},
			want: Dispatch{Handler: state.HandlerLiveAgent},
		},
		{
			name: "exhausted self corrections escalate",
			sess: func() *state.Session {
				sess := midSlotSession()
				sess.SelfCorrectionCount = DefaultSelfCorrectionLimit + 1
				return sess
			},
			pred: &state.Prediction{Intent: state.IntentChat},
			want: Dispatch{Handler: state.HandlerLiveAgent},
		},
		{
			name: "handler error streak triggers self correction",
			sess: func() *state.Session {
				sess := midSlotSession()
				sess.HandlerErrorStreak = 2
				return sess
			},
			pred: &state.Prediction{Intent: state.IntentRecommend},
			want: Dispatch{Handler: state.HandlerSelfCorrection},
		},
		{
			name: "reset outranks switch guard",
			sess: midSlotSession,
			pred: &state.Prediction{Intent: state.IntentChat, Reset: true, Product: "maid"},
			want: Reset{},
		},
		{
			name: "switch guard outranks slot resume",
			sess: midSlotSession,
			pred: &state.Prediction{Intent: state.IntentRecommend, Product: "maid"},
			want: Block{},
		},
		{
			name: "pending slot resumes collection",
			sess: midSlotSession,
			pred: &state.Prediction{Intent: state.IntentChat},
			want: ResumeSlotCollection{},
		},
		{
			name: "same product mention does not block resume",
			sess: midSlotSession,
			pred: &state.Prediction{Intent: state.IntentRecommend, Product: "travel"},
			want: ResumeSlotCollection{},
		},
		{
			name: "recommendation given disables slot resume",
			sess: func() *state.Session {
				sess := midSlotSession()
				sess.RecGiven = true
				return sess
			},
			pred: &state.Prediction{Intent: state.IntentInfo},
			want: Dispatch{Handler: state.HandlerInfo},
		},
		{
			name: "plain intent dispatch",
			sess: func() *state.Session { return state.New("sess-route") },
			pred: &state.Prediction{Intent: state.IntentGreeting},
			want: Dispatch{Handler: state.HandlerGreet},
		},
		{
			name: "unknown intent falls back to chat",
			sess: func() *state.Session { return state.New("sess-route") },
			pred: &state.Prediction{Intent: "order_pizza"},
			want: Dispatch{Handler: state.HandlerChat},
		},
	}

	sup := newSupervisor(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sup.Route(context.Background(), tt.sess(), tt.pred)
			if block, ok := tt.want.(Block); ok {
				gotBlock, isBlock := got.(Block)
				if !isBlock {
					t.Fatalf("Route() = %T, want Block", got)
				}
				if block.Message != "" && gotBlock.Message != block.Message {
					t.Fatalf("Block message = %q, want %q", gotBlock.Message, block.Message)
				}
				return
			}
			if got != tt.want {
				t.Fatalf("Route() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

// A cosmetic case difference in the product mention must never trip the
// switch guard, with or without a pending slot question.
func TestRoute_ProductCaseNeverBlocks(t *testing.T) {
	sup := newSupervisor(t)
	for _, mention := range []string{"Travel", "TRAVEL", "travel", " trip "} {
		sess := midSlotSession()
		got := sup.Route(context.Background(), sess, &state.Prediction{
			Intent:  state.IntentRecommend,
			Product: mention,
		})
		if _, blocked := got.(Block); blocked {
			t.Errorf("mention %q blocked against session product %q", mention, sess.Product)
		}
	}
}

func TestRoute_SwitchGuardMessageNamesProduct(t *testing.T) {
	sup := newSupervisor(t)
	got := sup.Route(context.Background(), midSlotSession(), &state.Prediction{
		Intent:  state.IntentRecommend,
		Product: "maid",
	})
	block, ok := got.(Block)
	if !ok {
		t.Fatalf("Route() = %T, want Block", got)
	}
	if !strings.Contains(block.Message, "Maid Insurance") {
		t.Errorf("block message does not name the refused product: %q", block.Message)
	}
	if !strings.Contains(block.Message, "Restart Session") {
		t.Errorf("block message does not explain how to restart: %q", block.Message)
	}
}

func TestRoute_InconsistentStateForcesReset(t *testing.T) {
	sup := newSupervisor(t)
	sess := state.New("sess-broken")
	sess.PendingSlot = "destination" // no product: invariant violation

	got := sup.Route(context.Background(), sess, &state.Prediction{Intent: state.IntentChat})
	if _, ok := got.(Reset); !ok {
		t.Fatalf("Route() on inconsistent state = %T, want Reset", got)
	}
}

func TestRoute_NilPredictionDegrades(t *testing.T) {
	sup := newSupervisor(t)

	t.Run("pending slot resumes", func(t *testing.T) {
		got := sup.Route(context.Background(), midSlotSession(), nil)
		if _, ok := got.(ResumeSlotCollection); !ok {
			t.Fatalf("Route() = %T, want ResumeSlotCollection", got)
		}
	})

	t.Run("otherwise degraded chat", func(t *testing.T) {
		got := sup.Route(context.Background(), state.New("sess-route"), nil)
		dispatch, ok := got.(Dispatch)
		if !ok {
			t.Fatalf("Route() = %T, want Dispatch", got)
		}
		if dispatch.Handler != state.HandlerChat || !dispatch.Degraded {
			t.Fatalf("Route() = %#v, want degraded chat dispatch", dispatch)
		}
	})
}

func TestRouteDegraded_MatchesNilPrediction(t *testing.T) {
	sup := newSupervisor(t)
	got := sup.RouteDegraded(context.Background(), midSlotSession())
	if _, ok := got.(ResumeSlotCollection); !ok {
		t.Fatalf("RouteDegraded() = %T, want ResumeSlotCollection", got)
	}
}

func TestApply_ResetClearsSlotProgress(t *testing.T) {
	sup := newSupervisor(t)
	sess := midSlotSession()

	sup.Apply(sess, &state.Prediction{Reset: true}, Reset{})

	if sess.Product != "" {
		t.Errorf("Product = %q after reset, want empty", sess.Product)
	}
	if sess.PendingSlot != "" {
		t.Errorf("PendingSlot = %q after reset, want empty", sess.PendingSlot)
	}
	if len(sess.Slots) != 0 {
		t.Errorf("Slots = %v after reset, want empty", sess.Slots)
	}
	if sess.Phase != state.PhaseGreeting {
		t.Errorf("Phase = %q after reset, want %q", sess.Phase, state.PhaseGreeting)
	}
}

func TestApply_BlockWritesNothing(t *testing.T) {
	sup := newSupervisor(t)
	sess := midSlotSession()

	sup.Apply(sess, &state.Prediction{Product: "maid"}, Block{Message: "no"})

	if sess.Product != "travel" {
		t.Errorf("Product = %q after block, want travel", sess.Product)
	}
	if sess.PendingSlot != "destination" {
		t.Errorf("PendingSlot = %q after block, want destination", sess.PendingSlot)
	}
}

func TestApply_DispatchCommitsProductOnce(t *testing.T) {
	sup := newSupervisor(t)

	t.Run("normalizes the first mention", func(t *testing.T) {
		sess := state.New("sess-commit")
		sup.Apply(sess, &state.Prediction{Intent: state.IntentRecommend, Product: "Trip"},
			Dispatch{Handler: state.HandlerRecommend})
		if sess.Product != "travel" {
			t.Fatalf("Product = %q, want travel", sess.Product)
		}
		if sess.Reference.LastProduct != "travel" {
			t.Fatalf("Reference.LastProduct = %q, want travel", sess.Reference.LastProduct)
		}
	})

	t.Run("never overwrites an existing product", func(t *testing.T) {
		sess := midSlotSession()
		sup.Apply(sess, &state.Prediction{Intent: state.IntentChat, Product: "travel"},
			Dispatch{Handler: state.HandlerChat})
		if sess.Product != "travel" {
			t.Fatalf("Product = %q, want travel", sess.Product)
		}
	})

	t.Run("ignores unknown mentions", func(t *testing.T) {
		sess := state.New("sess-commit")
		sup.Apply(sess, &state.Prediction{Intent: state.IntentChat, Product: "pet"},
			Dispatch{Handler: state.HandlerChat})
		if sess.Product != "" {
			t.Fatalf("Product = %q, want empty", sess.Product)
		}
	})
}

func TestApply_LiveAgentDispatchMarksSession(t *testing.T) {
	sup := newSupervisor(t)
	sess := midSlotSession()

	sup.Apply(sess, &state.Prediction{LiveAgent: true}, Dispatch{Handler: state.HandlerLiveAgent})

	if !sess.LiveAgentAsked {
		t.Error("LiveAgentAsked not set after live agent dispatch")
	}
	if sess.Phase != state.PhaseEscalation {
		t.Errorf("Phase = %q, want %q", sess.Phase, state.PhaseEscalation)
	}
}

func TestApply_DegradedDispatchFlagsSession(t *testing.T) {
	sup := newSupervisor(t)
	sess := state.New("sess-degraded")

	sup.Apply(sess, nil, Dispatch{Handler: state.HandlerChat, Degraded: true})
	if !sess.DegradedMode {
		t.Error("DegradedMode not set after degraded dispatch")
	}

	sup.Apply(sess, &state.Prediction{Intent: state.IntentChat}, Dispatch{Handler: state.HandlerChat})
	if sess.DegradedMode {
		t.Error("DegradedMode not cleared after healthy dispatch")
	}
}

func TestApply_SelfCorrectionCountsTowardEscalation(t *testing.T) {
	sup := newSupervisor(t)
	sess := state.New("sess-correction")
	sess.HandlerErrorStreak = 2

	sup.Apply(sess, nil, Dispatch{Handler: state.HandlerSelfCorrection})
	if sess.SelfCorrectionCount != 1 {
		t.Errorf("SelfCorrectionCount = %d, want 1", sess.SelfCorrectionCount)
	}
	if sess.HandlerErrorStreak != 0 {
		t.Errorf("HandlerErrorStreak = %d, want 0 after correction", sess.HandlerErrorStreak)
	}

	// A third correction pushes past the default limit; the next route
	// escalates instead of correcting again.
	sup.Apply(sess, nil, Dispatch{Handler: state.HandlerSelfCorrection})
	sup.Apply(sess, nil, Dispatch{Handler: state.HandlerSelfCorrection})
	decision := sup.Route(context.Background(), sess, &state.Prediction{Intent: state.IntentChat})
	d, ok := decision.(Dispatch)
	if !ok || d.Handler != state.HandlerLiveAgent {
		t.Errorf("after exhausted corrections got %#v, want live_agent dispatch", decision)
	}
}
