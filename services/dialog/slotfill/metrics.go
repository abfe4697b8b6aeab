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

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("aleutian.dialog.slotfill")

var (
	extractionCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aleutian",
		Subsystem: "dialog_slotfill",
		Name:      "extraction_calls_total",
		Help:      "Slot extraction calls by outcome.",
	}, []string{"outcome"})

	slotTurns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aleutian",
		Subsystem: "dialog_slotfill",
		Name:      "turns_total",
		Help:      "Slot collection turns by outcome.",
	}, []string{"outcome"})

	slotRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aleutian",
		Subsystem: "dialog_slotfill",
		Name:      "rejections_total",
		Help:      "Slot value rejections by rejection code.",
	}, []string{"code"})

	sideLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aleutian",
		Subsystem: "dialog_slotfill",
		Name:      "side_lookups_total",
		Help:      "Side question lookups by outcome.",
	}, []string{"outcome"})

	turnDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "aleutian",
		Subsystem: "dialog_slotfill",
		Name:      "turn_duration_seconds",
		Help:      "Wall time for one slot collection turn, extraction included.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	})
)
