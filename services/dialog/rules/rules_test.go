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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetDefault_EmbeddedRules(t *testing.T) {
	ResetDefault()
	s, err := GetDefault()
	require.NoError(t, err)

	r := s.Rule("travel", "coverage_scope")
	require.NotNil(t, r)
	assert.Equal(t, TypeEnum, r.Type)
	assert.Equal(t, 1, r.Priority)

	assert.Equal(t, 1, s.Priority("travel", "coverage_scope"))
	assert.Equal(t, 2, s.Priority("travel", "destination"))
	assert.Equal(t, 3, s.Priority("travel", "duration"))
	assert.Equal(t, DefaultPriority, s.Priority("travel", "undeclared_slot"))
}

func TestLoad_RequiresExplicitPriority(t *testing.T) {
	noPriority := []byte(`
rules:
  travel:
    destination:
      type: location
`)
	_, err := Load(noPriority)
	require.Error(t, err)
}

func TestLoad_EnumNeedsValues(t *testing.T) {
	bad := []byte(`
rules:
  travel:
    coverage_scope:
      type: enum
      priority: 1
`)
	_, err := Load(bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "values")
}

func TestLoad_RejectsInvertedRange(t *testing.T) {
	bad := []byte(`
rules:
  travel:
    duration:
      type: integer
      min: 10
      max: 5
      priority: 1
`)
	_, err := Load(bad)
	require.Error(t, err)
}

func TestCheck_Enum(t *testing.T) {
	r := &Rule{Type: TypeEnum, Values: []string{"self", "couple", "family"}, Priority: 1, Normalize: true}

	v, rej := r.Check("coverage_scope", "  Family ")
	require.Nil(t, rej)
	assert.Equal(t, "family", v)

	_, rej = r.Check("coverage_scope", "everyone")
	require.NotNil(t, rej)
	assert.Equal(t, CodeNotInEnum, rej.Code)
	assert.Contains(t, rej.Reason, "self, couple, family")
}

func TestCheck_IntegerWithUnit(t *testing.T) {
	min, max := 1, 365
	r := &Rule{Type: TypeInteger, Min: &min, Max: &max, Unit: "days", Priority: 3}

	v, rej := r.Check("duration", "7 days")
	require.Nil(t, rej)
	assert.Equal(t, "7", v)

	v, rej = r.Check("duration", "about 14 days")
	require.Nil(t, rej)
	assert.Equal(t, "14", v)

	_, rej = r.Check("duration", "500")
	require.NotNil(t, rej)
	assert.Equal(t, CodeOutOfRange, rej.Code)
	assert.Contains(t, rej.Reason, "between 1 and 365 days")

	_, rej = r.Check("duration", "a fortnight")
	require.NotNil(t, rej)
	assert.Equal(t, CodeNotInteger, rej.Code)
}

func TestCheck_Set(t *testing.T) {
	r := &Rule{Type: TypeSet, Values: []string{"dental", "outpatient", "wages"}, Priority: 4, Normalize: true}

	v, rej := r.Check("add_ons", "dental and wages")
	require.Nil(t, rej)
	assert.Equal(t, "dental, wages", v)

	v, rej = r.Check("add_ons", "none")
	require.Nil(t, rej)
	assert.Equal(t, "none", v)

	_, rej = r.Check("add_ons", "dental, massage")
	require.NotNil(t, rej)
	assert.Equal(t, CodeNotInEnum, rej.Code)
	assert.Contains(t, rej.Reason, "massage")
}

func TestCheck_AgeBand(t *testing.T) {
	min, max := 18, 75
	r := &Rule{Type: TypeAge, Min: &min, Max: &max, Priority: 1}

	v, rej := r.Check("age", "30-39")
	require.Nil(t, rej)
	assert.Equal(t, "30-39", v)

	v, rej = r.Check("age", "42")
	require.Nil(t, rej)
	assert.Equal(t, "42", v)

	_, rej = r.Check("age", "10-20")
	require.NotNil(t, rej)
	assert.Equal(t, CodeOutOfRange, rej.Code)

	_, rej = r.Check("age", "50-40")
	require.NotNil(t, rej)
	assert.Equal(t, CodeBadFormat, rej.Code)
}

func TestCheck_Location(t *testing.T) {
	r := &Rule{Type: TypeLocation, Priority: 2, Normalize: true}

	v, rej := r.Check("destination", "Japan")
	require.Nil(t, rej)
	assert.Equal(t, "japan", v)

	_, rej = r.Check("destination", "12345")
	require.NotNil(t, rej)
	assert.Equal(t, CodeBadFormat, rej.Code)

	_, rej = r.Check("destination", "")
	require.NotNil(t, rej)
	assert.Equal(t, CodeEmpty, rej.Code)
}

func TestCheck_ExceptionTrigger(t *testing.T) {
	r := &Rule{
		Type:     TypeEnum,
		Values:   []string{"yes", "no"},
		Priority: 1,
		Exceptions: []Exception{{
			Phrases:  []string{"medical insurance"},
			Response: "Medical plans reimburse bills; critical illness plans pay a lump sum.",
		}},
	}

	_, rej := r.Check("existing_cover", "I have medical insurance already")
	require.NotNil(t, rej)
	assert.Equal(t, CodeException, rej.Code)
	assert.True(t, strings.Contains(rej.Reason, "lump sum"))
}

func TestRejection_ErrorString(t *testing.T) {
	rej := &Rejection{Slot: "duration", Code: CodeOutOfRange, Reason: "value must be between 1 and 365 days"}
	assert.Contains(t, rej.Error(), "duration")
	assert.Contains(t, rej.Error(), CodeOutOfRange)
}
