// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package rules loads and evaluates the declarative per-product, per-slot
// validation rules that gate every extracted slot value.
//
// A rule decides three things: whether a candidate value is acceptable, what
// its normalized stored form is, and a structured reason when it is not.
// The reason is specific ("must be between 1 and 365 days", "one of: self,
// couple, family, group") — never a generic "I don't understand" — because
// the slot engine builds its targeted re-ask from it.
//
// Rules also carry the per-slot question priority the engine sorts by, and
// optional exception triggers: user phrases that deserve an educational
// reply instead of a validation failure.
package rules

import (
	_ "embed"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// MaxRulesFileSize bounds the rule YAML to keep a malformed or hostile file
// from exhausting memory at load time.
const MaxRulesFileSize = 1 << 20 // 1 MiB

// DefaultPriority sorts slots that are declared in the catalog but carry no
// rule entry after every slot that does. A rule entry itself must declare an
// explicit priority.
const DefaultPriority = 999

// Rule type names.
const (
	TypeEnum     = "enum"
	TypeInteger  = "integer"
	TypeSet      = "set"
	TypeLocation = "location"
	TypeAge      = "age"
	TypeFreeText = "free_text"
)

// Rejection codes, stable across releases for analytics.
const (
	CodeEmpty      = "empty_value"
	CodeNotInEnum  = "not_in_enum"
	CodeNotInteger = "not_a_number"
	CodeOutOfRange = "out_of_range"
	CodeBadFormat  = "bad_format"
	CodeException  = "exception_response"
)

//go:embed slot_rules.yaml
var defaultRulesYAML []byte

// =============================================================================
// Types
// =============================================================================

// Exception maps user phrases to an educational response. When a candidate
// value contains one of the phrases, validation short-circuits with
// CodeException and the response text; the slot stays unfilled and the retry
// counter is not advanced (the user did not give a wrong answer, they raised
// a misconception worth addressing).
type Exception struct {
	Phrases  []string `yaml:"phrases" validate:"required,min=1"`
	Response string   `yaml:"response" validate:"required"`
}

// Rule is one slot's declarative validation policy.
//
// Thread Safety: Immutable after loading; safe for concurrent use.
type Rule struct {
	// Type selects the check: enum, integer, set, location, age, free_text.
	Type string `yaml:"type" validate:"required,oneof=enum integer set location age free_text"`

	// Values enumerates the accepted options for enum and set rules.
	Values []string `yaml:"values,omitempty"`

	// Min and Max bound integer and age rules (inclusive).
	Min *int `yaml:"min,omitempty"`
	Max *int `yaml:"max,omitempty"`

	// Unit is a display/parse hint for integer rules ("days", "dollars").
	// A trailing unit in the user's answer ("7 days") is stripped before
	// parsing.
	Unit string `yaml:"unit,omitempty"`

	// Priority orders slot questions ascending; required on every rule.
	Priority int `yaml:"priority" validate:"required,min=1"`

	// Normalize lowercases and trims the stored value.
	Normalize bool `yaml:"normalize"`

	// Question overrides the generated first-ask phrasing for this slot.
	Question string `yaml:"question,omitempty"`

	Exceptions []Exception `yaml:"exceptions,omitempty" validate:"omitempty,dive"`
}

// Rejection is the structured outcome of a failed validation.
type Rejection struct {
	Slot   string
	Code   string
	Reason string
}

// Error implements error so rejections can travel through error returns
// while remaining matchable by code.
func (r *Rejection) Error() string {
	return fmt.Sprintf("dialog: slot %s rejected (%s): %s", r.Slot, r.Code, r.Reason)
}

// Set is the loaded rule collection, keyed by product then slot.
//
// Thread Safety: Immutable after Load returns; safe for concurrent use.
type Set struct {
	byProduct map[string]map[string]*Rule
}

type rulesFile struct {
	Rules map[string]map[string]*Rule `yaml:"rules" validate:"required,min=1"`
}

// =============================================================================
// Loading
// =============================================================================

var (
	rulesMu      sync.RWMutex
	cachedRules  *Set
	rulesLoadErr error

	structValidate = validator.New(validator.WithRequiredStructEnabled())
)

// GetDefault returns the cached embedded rule set, loading it on first call.
//
// Thread Safety: Safe for concurrent use.
func GetDefault() (*Set, error) {
	rulesMu.RLock()
	if cachedRules != nil || rulesLoadErr != nil {
		s, err := cachedRules, rulesLoadErr
		rulesMu.RUnlock()
		return s, err
	}
	rulesMu.RUnlock()

	rulesMu.Lock()
	defer rulesMu.Unlock()
	if cachedRules == nil && rulesLoadErr == nil {
		cachedRules, rulesLoadErr = Load(defaultRulesYAML)
	}
	return cachedRules, rulesLoadErr
}

// ResetDefault clears the cached rule set so tests can reload.
func ResetDefault() {
	rulesMu.Lock()
	defer rulesMu.Unlock()
	cachedRules = nil
	rulesLoadErr = nil
}

// Load parses and validates a rule set from YAML bytes.
//
// # Description
//
// Parses the YAML, runs struct-tag validation (every rule needs a type and
// an explicit priority), then checks per-type consistency: enum and set
// rules need values, integer and age rules need a coherent min/max pair.
//
// # Inputs
//
//   - data: Raw YAML bytes. Must be non-empty and under MaxRulesFileSize.
//
// # Outputs
//
//   - *Set: The immutable rule set. Never nil on success.
//   - error: Non-nil on parse or validation failure.
func Load(data []byte) (*Set, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("rules: empty rule data")
	}
	if len(data) > MaxRulesFileSize {
		return nil, fmt.Errorf("rules: rule data exceeds maximum size (%d > %d)", len(data), MaxRulesFileSize)
	}

	var file rulesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("rules: parsing rule YAML: %w", err)
	}
	if err := structValidate.Struct(&file); err != nil {
		return nil, fmt.Errorf("rules: rule validation: %w", err)
	}

	// Struct() does not descend into map values, so each rule is validated
	// individually here.
	for product, slots := range file.Rules {
		for slot, r := range slots {
			if r == nil {
				return nil, fmt.Errorf("rules: %s.%s: missing rule body", product, slot)
			}
			if err := structValidate.Struct(r); err != nil {
				return nil, fmt.Errorf("rules: %s.%s: %w", product, slot, err)
			}
			if err := validateRule(r); err != nil {
				return nil, fmt.Errorf("rules: %s.%s: %w", product, slot, err)
			}
		}
	}
	return &Set{byProduct: file.Rules}, nil
}

// validateRule checks the per-type consistency struct tags cannot express.
func validateRule(r *Rule) error {
	switch r.Type {
	case TypeEnum, TypeSet:
		if len(r.Values) == 0 {
			return fmt.Errorf("%s rule requires values", r.Type)
		}
	case TypeInteger, TypeAge:
		if r.Min != nil && r.Max != nil && *r.Min > *r.Max {
			return fmt.Errorf("min %d exceeds max %d", *r.Min, *r.Max)
		}
	}
	return nil
}

// =============================================================================
// Lookup
// =============================================================================

// Rule returns the rule for product.slot, or nil when undeclared.
func (s *Set) Rule(product, slot string) *Rule {
	slots, ok := s.byProduct[strings.ToLower(strings.TrimSpace(product))]
	if !ok {
		return nil
	}
	return slots[slot]
}

// Priority returns the configured ask priority for product.slot, or
// DefaultPriority when the slot has no rule entry.
func (s *Set) Priority(product, slot string) int {
	if r := s.Rule(product, slot); r != nil {
		return r.Priority
	}
	return DefaultPriority
}

// Products returns the products that carry at least one rule, sorted.
func (s *Set) Products() []string {
	out := make([]string, 0, len(s.byProduct))
	for p := range s.byProduct {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// =============================================================================
// Validation
// =============================================================================

var (
	intPattern  = regexp.MustCompile(`-?\d+`)
	bandPattern = regexp.MustCompile(`^(\d+)\s*-\s*(\d+)$`)
)

// Check validates a candidate value against the rule.
//
// # Description
//
// Returns the normalized stored form on acceptance, or a structured
// Rejection on failure. Exception triggers are checked first: a value
// containing an exception phrase yields CodeException with the configured
// educational response as the reason. Rejected values are never stored.
//
// # Inputs
//
//   - slot: Slot name, carried into the Rejection for targeted re-asks.
//   - value: Raw candidate from the extractor. Leading/trailing space is
//     insignificant.
//
// # Outputs
//
//   - string: Normalized value. Empty when rejected.
//   - *Rejection: Nil on acceptance.
func (r *Rule) Check(slot, value string) (string, *Rejection) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", &Rejection{Slot: slot, Code: CodeEmpty, Reason: "no value was given"}
	}

	lower := strings.ToLower(trimmed)
	for _, ex := range r.Exceptions {
		for _, phrase := range ex.Phrases {
			if strings.Contains(lower, strings.ToLower(phrase)) {
				return "", &Rejection{Slot: slot, Code: CodeException, Reason: ex.Response}
			}
		}
	}

	switch r.Type {
	case TypeEnum:
		return r.checkEnum(slot, trimmed, lower)
	case TypeSet:
		return r.checkSet(slot, lower)
	case TypeInteger:
		return r.checkInteger(slot, lower)
	case TypeAge:
		return r.checkAge(slot, lower)
	case TypeLocation:
		return r.checkLocation(slot, trimmed, lower)
	default: // TypeFreeText
		return r.normalized(trimmed, lower), nil
	}
}

func (r *Rule) normalized(trimmed, lower string) string {
	if r.Normalize {
		return lower
	}
	return trimmed
}

func (r *Rule) checkEnum(slot, trimmed, lower string) (string, *Rejection) {
	for _, v := range r.Values {
		if strings.EqualFold(v, trimmed) {
			if r.Normalize {
				return strings.ToLower(v), nil
			}
			return v, nil
		}
	}
	return "", &Rejection{
		Slot:   slot,
		Code:   CodeNotInEnum,
		Reason: fmt.Sprintf("value must be one of: %s", strings.Join(r.Values, ", ")),
	}
}

// checkSet accepts one or more options separated by commas or "and".
// The stored form is the matched options in declaration order, comma-joined.
func (r *Rule) checkSet(slot, lower string) (string, *Rejection) {
	fields := strings.FieldsFunc(lower, func(c rune) bool { return c == ',' || c == ';' })
	var tokens []string
	for _, f := range fields {
		for _, part := range strings.Split(f, " and ") {
			if p := strings.TrimSpace(part); p != "" {
				tokens = append(tokens, p)
			}
		}
	}

	chosen := make(map[string]bool, len(r.Values))
	for _, tok := range tokens {
		matched := false
		for _, v := range r.Values {
			if strings.EqualFold(v, tok) || strings.Contains(tok, strings.ToLower(v)) {
				chosen[strings.ToLower(v)] = true
				matched = true
				break
			}
		}
		if !matched && !isNoneToken(tok) {
			return "", &Rejection{
				Slot:   slot,
				Code:   CodeNotInEnum,
				Reason: fmt.Sprintf("%q is not an available option; choose from: %s", tok, strings.Join(r.Values, ", ")),
			}
		}
	}
	if len(chosen) == 0 {
		// "none" style answers are a valid empty selection.
		return "none", nil
	}

	out := make([]string, 0, len(chosen))
	for _, v := range r.Values {
		if chosen[strings.ToLower(v)] {
			out = append(out, strings.ToLower(v))
		}
	}
	return strings.Join(out, ", "), nil
}

func isNoneToken(tok string) bool {
	switch tok {
	case "none", "no", "nothing", "nil":
		return true
	}
	return false
}

func (r *Rule) checkInteger(slot, lower string) (string, *Rejection) {
	candidate := lower
	if r.Unit != "" {
		candidate = strings.TrimSpace(strings.TrimSuffix(candidate, strings.ToLower(r.Unit)))
	}

	n, err := strconv.Atoi(strings.TrimSpace(candidate))
	if err != nil {
		// Fall back to the first integer in the utterance ("about 7 days").
		m := intPattern.FindString(candidate)
		if m == "" {
			return "", &Rejection{Slot: slot, Code: CodeNotInteger, Reason: "value must be a number"}
		}
		n, _ = strconv.Atoi(m)
	}
	if rej := r.rangeCheck(slot, n); rej != nil {
		return "", rej
	}
	return strconv.Itoa(n), nil
}

// checkAge accepts a plain age or an age band like "30-39"; a band is valid
// when both ends fall inside the rule's range.
func (r *Rule) checkAge(slot, lower string) (string, *Rejection) {
	if m := bandPattern.FindStringSubmatch(lower); m != nil {
		lo, _ := strconv.Atoi(m[1])
		hi, _ := strconv.Atoi(m[2])
		if lo > hi {
			return "", &Rejection{Slot: slot, Code: CodeBadFormat, Reason: "age band must be low-high"}
		}
		if rej := r.rangeCheck(slot, lo); rej != nil {
			return "", rej
		}
		if rej := r.rangeCheck(slot, hi); rej != nil {
			return "", rej
		}
		return fmt.Sprintf("%d-%d", lo, hi), nil
	}
	return r.checkInteger(slot, lower)
}

func (r *Rule) rangeCheck(slot string, n int) *Rejection {
	if r.Min != nil && n < *r.Min {
		return &Rejection{Slot: slot, Code: CodeOutOfRange, Reason: r.rangeReason()}
	}
	if r.Max != nil && n > *r.Max {
		return &Rejection{Slot: slot, Code: CodeOutOfRange, Reason: r.rangeReason()}
	}
	return nil
}

func (r *Rule) rangeReason() string {
	unit := ""
	if r.Unit != "" {
		unit = " " + r.Unit
	}
	switch {
	case r.Min != nil && r.Max != nil:
		return fmt.Sprintf("value must be between %d and %d%s", *r.Min, *r.Max, unit)
	case r.Min != nil:
		return fmt.Sprintf("value must be at least %d%s", *r.Min, unit)
	case r.Max != nil:
		return fmt.Sprintf("value must be at most %d%s", *r.Max, unit)
	default:
		return "value is out of range"
	}
}

func (r *Rule) checkLocation(slot, trimmed, lower string) (string, *Rejection) {
	if len([]rune(trimmed)) < 2 {
		return "", &Rejection{Slot: slot, Code: CodeBadFormat, Reason: "please name a place"}
	}
	if intPattern.MatchString(trimmed) && intPattern.FindString(trimmed) == strings.TrimSpace(trimmed) {
		return "", &Rejection{Slot: slot, Code: CodeBadFormat, Reason: "a place name cannot be a number"}
	}
	return r.normalized(trimmed, lower), nil
}
