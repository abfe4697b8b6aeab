// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package analytics ships per-turn routing analytics to InfluxDB. The whole
// package is opt-in: without DIALOG_INFLUX_URL set, NewFromEnv returns nil
// and the orchestrator simply has no recorder. Prometheus keeps the
// operational counters; Influx is for the product questions, which routes
// fire for which products and how long turns take.
package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/AleutianAI/AleutianDialog/services/dialog/llm"
	"github.com/AleutianAI/AleutianDialog/services/dialog/turn"
)

// Environment variables gating the recorder.
const (
	EnvInfluxURL    = "DIALOG_INFLUX_URL"
	EnvInfluxToken  = "DIALOG_INFLUX_TOKEN"
	EnvInfluxOrg    = "DIALOG_INFLUX_ORG"
	EnvInfluxBucket = "DIALOG_INFLUX_BUCKET"
)

// turnMeasurement is the Influx measurement name for turn records.
const turnMeasurement = "dialog_turn"

// InfluxRecorder implements turn.Recorder over the blocking write API. The
// orchestrator already calls recorders from a background goroutine, so
// blocking here is fine and keeps delivery errors visible.
type InfluxRecorder struct {
	client influxdb2.Client
	write  api.WriteAPIBlocking
	logger *slog.Logger
}

var _ turn.Recorder = (*InfluxRecorder)(nil)

// NewFromEnv builds a recorder from DIALOG_INFLUX_* variables. Returns
// (nil, nil) when DIALOG_INFLUX_URL is unset: analytics disabled is a normal
// configuration, not an error.
func NewFromEnv(logger *slog.Logger) (*InfluxRecorder, error) {
	url := os.Getenv(EnvInfluxURL)
	if url == "" {
		return nil, nil
	}

	token := ""
	if secret := llm.SecretFromEnv(EnvInfluxToken); secret.IsSet() {
		var err error
		token, err = secret.Reveal()
		if err != nil {
			return nil, fmt.Errorf("analytics: reading influx token: %w", err)
		}
	}

	return NewInfluxRecorder(url, token, os.Getenv(EnvInfluxOrg), os.Getenv(EnvInfluxBucket), logger)
}

// NewInfluxRecorder builds a recorder against an explicit server.
func NewInfluxRecorder(url, token, org, bucket string, logger *slog.Logger) (*InfluxRecorder, error) {
	if url == "" {
		return nil, fmt.Errorf("analytics: influx url is required")
	}
	if bucket == "" {
		return nil, fmt.Errorf("analytics: influx bucket is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	client := influxdb2.NewClient(url, token)
	return &InfluxRecorder{
		client: client,
		write:  client.WriteAPIBlocking(org, bucket),
		logger: logger,
	}, nil
}

// RecordTurn writes one turn point.
func (r *InfluxRecorder) RecordTurn(ctx context.Context, ev turn.TurnEvent) error {
	if err := r.write.WritePoint(ctx, turnPoint(ev, time.Now().UTC())); err != nil {
		return fmt.Errorf("analytics: writing turn point: %w", err)
	}
	return nil
}

// Close flushes and releases the underlying client.
func (r *InfluxRecorder) Close() {
	r.client.Close()
}

// turnPoint maps a TurnEvent onto a line-protocol point. Routing outcome
// fields become tags (low cardinality, groupable); the session ID stays a
// field so it never explodes the series count.
func turnPoint(ev turn.TurnEvent, at time.Time) *write.Point {
	product := ev.Product
	if product == "" {
		product = "none"
	}
	return influxdb2.NewPoint(turnMeasurement,
		map[string]string{
			"decision": ev.Decision,
			"handler":  ev.Handler,
			"product":  product,
			"phase":    string(ev.Phase),
			"degraded": strconv.FormatBool(ev.Degraded),
		},
		map[string]interface{}{
			"session_id":  ev.SessionID,
			"turn_count":  ev.TurnCount,
			"duration_ms": ev.Duration.Milliseconds(),
		},
		at,
	)
}
