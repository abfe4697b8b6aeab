// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package archive persists finished conversation transcripts to Google Cloud
// Storage. Like analytics, the package is opt-in via environment: no bucket
// configured, no archiver. Transcripts arrive already PII-masked (masking
// happens before history is ever written), so what lands in the bucket is
// what the session store held, plus a little envelope metadata.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/AleutianAI/AleutianDialog/services/dialog/state"
	"github.com/AleutianAI/AleutianDialog/services/dialog/turn"
)

// Environment variables gating the archiver.
const (
	EnvArchiveBucket      = "DIALOG_ARCHIVE_BUCKET"
	EnvArchivePrefix      = "DIALOG_ARCHIVE_PREFIX"
	EnvArchiveCredentials = "DIALOG_ARCHIVE_CREDENTIALS"
)

// defaultPrefix namespaces transcript objects inside the bucket.
const defaultPrefix = "transcripts"

// transcriptRecord is the stored envelope: session state the reader needs,
// without the bookkeeping fields that only matter to a live session.
type transcriptRecord struct {
	SessionID  string            `json:"session_id"`
	Product    string            `json:"product,omitempty"`
	Phase      state.Phase       `json:"phase"`
	TurnCount  int               `json:"turn_count"`
	Slots      map[string]string `json:"slots,omitempty"`
	Summary    string            `json:"summary,omitempty"`
	History    []state.Message   `json:"history"`
	CreatedAt  time.Time         `json:"created_at"`
	ArchivedAt time.Time         `json:"archived_at"`
}

// GCSArchiver implements turn.Archiver against a GCS bucket.
type GCSArchiver struct {
	client *storage.Client
	bucket string
	prefix string
	logger *slog.Logger
}

var _ turn.Archiver = (*GCSArchiver)(nil)

// NewFromEnv builds an archiver from DIALOG_ARCHIVE_* variables. Returns
// (nil, nil) when no bucket is configured. Credentials resolve through the
// explicit service-account file when given, otherwise through application
// default credentials.
func NewFromEnv(ctx context.Context, logger *slog.Logger) (*GCSArchiver, error) {
	bucket := os.Getenv(EnvArchiveBucket)
	if bucket == "" {
		return nil, nil
	}

	var opts []option.ClientOption
	if creds := os.Getenv(EnvArchiveCredentials); creds != "" {
		opts = append(opts, option.WithCredentialsFile(creds))
	}
	return NewGCSArchiver(ctx, bucket, os.Getenv(EnvArchivePrefix), logger, opts...)
}

// NewGCSArchiver builds an archiver against an explicit bucket.
func NewGCSArchiver(ctx context.Context, bucket, prefix string, logger *slog.Logger, opts ...option.ClientOption) (*GCSArchiver, error) {
	if bucket == "" {
		return nil, fmt.Errorf("archive: bucket is required")
	}
	if prefix == "" {
		prefix = defaultPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("archive: creating storage client: %w", err)
	}
	return &GCSArchiver{client: client, bucket: bucket, prefix: prefix, logger: logger}, nil
}

// ArchiveTranscript writes one transcript object. Object names are sharded
// by date so lifecycle rules can expire whole days at a time.
func (a *GCSArchiver) ArchiveTranscript(ctx context.Context, sess *state.Session) error {
	if sess == nil || sess.ID == "" {
		return fmt.Errorf("archive: session with an ID is required")
	}

	now := time.Now().UTC()
	name := objectName(a.prefix, sess.ID, now)

	w := a.client.Bucket(a.bucket).Object(name).NewWriter(ctx)
	w.ContentType = "application/json"

	record := transcriptRecord{
		SessionID:  sess.ID,
		Product:    sess.Product,
		Phase:      sess.Phase,
		TurnCount:  sess.TurnCount,
		Slots:      sess.Slots,
		Summary:    sess.Summary,
		History:    sess.History,
		CreatedAt:  sess.CreatedAt,
		ArchivedAt: now,
	}
	if err := json.NewEncoder(w).Encode(record); err != nil {
		_ = w.Close()
		return fmt.Errorf("archive: encoding transcript %s: %w", sess.ID, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("archive: uploading transcript %s: %w", sess.ID, err)
	}

	a.logger.Debug("transcript archived",
		slog.String("session_id", sess.ID),
		slog.String("object", name),
	)
	return nil
}

// Close releases the storage client.
func (a *GCSArchiver) Close() error {
	return a.client.Close()
}

// objectName builds the date-sharded object path for one transcript. The
// timestamp suffix keeps repeated resets of the same session distinct.
func objectName(prefix, sessionID string, at time.Time) string {
	return fmt.Sprintf("%s/%s/%s-%d.json", prefix, at.Format("2006/01/02"), sessionID, at.Unix())
}
