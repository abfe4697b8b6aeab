// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sideinfo

import (
	_ "embed"
	"context"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed glossary.yaml
var defaultGlossaryYAML []byte

// glossaryEntry is one term in the embedded glossary file.
type glossaryEntry struct {
	Term       string   `yaml:"term"`
	Aliases    []string `yaml:"aliases"`
	Definition string   `yaml:"definition"`
}

type glossaryFile struct {
	Terms []glossaryEntry `yaml:"terms"`
}

// StaticResolver answers side questions from the embedded insurance glossary.
// It is the zero-infrastructure fallback: no network, no index, just keyword
// matching over curated definitions. Deployments with a vector store front
// this with the hybrid resolver and only fall through here.
type StaticResolver struct {
	entries []glossaryEntry
}

// NewStaticResolver loads the embedded glossary. The glossary ships inside
// the binary, so a load failure is a build defect, not a runtime condition.
func NewStaticResolver() (*StaticResolver, error) {
	var file glossaryFile
	if err := yaml.Unmarshal(defaultGlossaryYAML, &file); err != nil {
		return nil, fmt.Errorf("sideinfo: parsing embedded glossary: %w", err)
	}
	if len(file.Terms) == 0 {
		return nil, fmt.Errorf("sideinfo: embedded glossary has no terms")
	}
	return &StaticResolver{entries: file.Terms}, nil
}

// Resolve matches the question against glossary terms and aliases, longest
// match first so "early critical illness" beats "critical illness".
func (r *StaticResolver) Resolve(ctx context.Context, q Query) (*Answer, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("sideinfo: %w", ErrUnavailable)
	}
	question := strings.ToLower(q.Question)

	var best *glossaryEntry
	bestLen := 0
	for i := range r.entries {
		entry := &r.entries[i]
		for _, key := range append([]string{entry.Term}, entry.Aliases...) {
			if len(key) > bestLen && strings.Contains(question, strings.ToLower(key)) {
				best = entry
				bestLen = len(key)
			}
		}
	}
	if best == nil {
		return nil, fmt.Errorf("sideinfo: no glossary entry matches %q: %w", q.Question, ErrUnavailable)
	}
	return &Answer{
		Text:      strings.TrimSpace(best.Definition),
		Citations: []string{"glossary:" + best.Term},
	}, nil
}
