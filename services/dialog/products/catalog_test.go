// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package products

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetCatalog_EmbeddedDefault(t *testing.T) {
	ResetCatalog()
	c, err := GetCatalog()
	require.NoError(t, err)
	require.NotNil(t, c)

	names := c.Names()
	assert.Contains(t, names, "travel")
	assert.Contains(t, names, "maid")
	assert.Contains(t, names, "personal_accident")
	assert.Equal(t, []string{"coverage_scope", "destination", "duration"}, c.RequiredSlots("travel"))
	assert.Empty(t, c.RequiredSlots("car"))
}

func TestNormalize_CaseAndAliases(t *testing.T) {
	ResetCatalog()
	c, err := GetCatalog()
	require.NoError(t, err)

	cases := []struct {
		in   string
		want string
	}{
		{"travel", "travel"},
		{"Travel", "travel"},
		{"TRAVEL", "travel"},
		{"  trip  ", "travel"},
		{"Travel Insurance", "travel"},
		{"pa", "personal_accident"},
		{"PA", "personal_accident"},
		{"eci", "early_critical"},
	}
	for _, tc := range cases {
		got, ok := c.Normalize(tc.in)
		require.True(t, ok, "Normalize(%q) should resolve", tc.in)
		assert.Equal(t, tc.want, got, "Normalize(%q)", tc.in)
	}

	_, ok := c.Normalize("pet insurance")
	assert.False(t, ok, "unknown product must not resolve")
}

func TestSame_NeverDiffersByCase(t *testing.T) {
	ResetCatalog()
	c, err := GetCatalog()
	require.NoError(t, err)

	assert.True(t, c.Same("Travel", "travel"))
	assert.True(t, c.Same("trip", "Travel Insurance"))
	assert.True(t, c.Same("PA", "personal_accident"))
	assert.False(t, c.Same("travel", "maid"))
	// Unknown mentions still compare case-insensitively.
	assert.True(t, c.Same("Pet", "pet"))
}

func TestSlotIndex_TieBreakOrder(t *testing.T) {
	ResetCatalog()
	c, err := GetCatalog()
	require.NoError(t, err)

	assert.Equal(t, 0, c.SlotIndex("travel", "coverage_scope"))
	assert.Equal(t, 1, c.SlotIndex("travel", "destination"))
	assert.Equal(t, 2, c.SlotIndex("travel", "duration"))
	assert.Equal(t, -1, c.SlotIndex("travel", "no_such_slot"))
}

func TestLoadCatalog_RejectsCollisions(t *testing.T) {
	dup := []byte(`
products:
  - name: travel
    display_name: Travel Insurance
    slots: [destination]
  - name: travel
    display_name: Travel Again
    slots: []
`)
	_, err := LoadCatalog(dup)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")

	aliasClash := []byte(`
products:
  - name: travel
    display_name: Travel Insurance
    aliases: [pa]
    slots: []
  - name: personal_accident
    display_name: Personal Accident Insurance
    aliases: [pa]
    slots: []
`)
	_, err = LoadCatalog(aliasClash)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "alias")
}

func TestLoadCatalog_RejectsInvalid(t *testing.T) {
	_, err := LoadCatalog(nil)
	require.Error(t, err)

	missingDisplay := []byte(`
products:
  - name: travel
    slots: []
`)
	_, err = LoadCatalog(missingDisplay)
	require.Error(t, err)
}
