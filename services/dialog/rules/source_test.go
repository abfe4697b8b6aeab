// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package rules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const miniRules = `
rules:
  travel:
    destination:
      type: location
      priority: 1
`

const miniRulesV2 = `
rules:
  travel:
    destination:
      type: location
      priority: 5
`

func writeRuleFile(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "slot_rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestNewSource_EmptyPathServesEmbedded(t *testing.T) {
	ResetDefault()
	s, err := NewSource("", nil)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Watch()) // no-op for embedded defaults
	set := s.Current()
	require.NotNil(t, set)
	assert.Equal(t, 1, set.Priority("travel", "coverage_scope"))
}

func TestNewSource_LoadsFile(t *testing.T) {
	path := writeRuleFile(t, t.TempDir(), miniRules)
	s, err := NewSource(path, nil)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, 1, s.Current().Priority("travel", "destination"))
}

func TestSource_ReloadSwapsAtomically(t *testing.T) {
	dir := t.TempDir()
	path := writeRuleFile(t, dir, miniRules)
	s, err := NewSource(path, nil)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, os.WriteFile(path, []byte(miniRulesV2), 0o644))
	s.reload()

	assert.Equal(t, 5, s.Current().Priority("travel", "destination"))
}

func TestSource_BadReloadKeepsPrevious(t *testing.T) {
	dir := t.TempDir()
	path := writeRuleFile(t, dir, miniRules)
	s, err := NewSource(path, nil)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, os.WriteFile(path, []byte("rules: {not: [valid"), 0o644))
	s.reload()

	// Previous good set still served.
	assert.Equal(t, 1, s.Current().Priority("travel", "destination"))
}

func TestNewSource_MissingFile(t *testing.T) {
	_, err := NewSource(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	require.Error(t, err)
}
