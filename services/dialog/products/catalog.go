// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package products holds the insurance product catalog: canonical product
// names, display names, aliases, and each product's required slots in
// declaration order.
//
// The catalog is the single source of truth for product identity. Every
// comparison between a classifier-detected product and the session product
// goes through Catalog.Same, which normalizes case and aliases first —
// "Travel", "travel" and "trip" are the same product and must never trip the
// product-switch guard against each other.
package products

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// MaxCatalogFileSize bounds the catalog YAML to keep a malformed or hostile
// file from exhausting memory at load time.
const MaxCatalogFileSize = 1 << 20 // 1 MiB

//go:embed products.yaml
var defaultCatalogYAML []byte

// =============================================================================
// Types
// =============================================================================

// Product describes one insurance product.
//
// Thread Safety: Immutable after loading; safe for concurrent use.
type Product struct {
	// Name is the canonical lowercase key, e.g. "travel".
	Name string `yaml:"name" validate:"required,lowercase"`

	// DisplayName is the user-facing name, e.g. "Travel Insurance".
	DisplayName string `yaml:"display_name" validate:"required"`

	// Aliases are alternate user phrasings, matched case-insensitively.
	Aliases []string `yaml:"aliases"`

	// Slots lists the required slot names in declaration order. Declaration
	// order breaks priority ties when the slot engine picks the next
	// question. May be empty (products with no slot collection).
	Slots []string `yaml:"slots"`
}

// Catalog is the loaded product set with alias and slot-order indexes.
//
// Thread Safety: Immutable after LoadCatalog returns; safe for concurrent use.
type Catalog struct {
	byName  map[string]*Product
	byAlias map[string]string
	order   []string
}

type catalogFile struct {
	Products []Product `yaml:"products" validate:"required,min=1,dive"`
}

// =============================================================================
// Loading
// =============================================================================

var (
	catalogMu      sync.RWMutex
	cachedCatalog  *Catalog
	catalogLoadErr error

	structValidate = validator.New(validator.WithRequiredStructEnabled())
)

// GetCatalog returns the cached default catalog, loading it on first call.
//
// Thread Safety: Safe for concurrent use.
func GetCatalog() (*Catalog, error) {
	catalogMu.RLock()
	if cachedCatalog != nil || catalogLoadErr != nil {
		c, err := cachedCatalog, catalogLoadErr
		catalogMu.RUnlock()
		return c, err
	}
	catalogMu.RUnlock()

	catalogMu.Lock()
	defer catalogMu.Unlock()
	if cachedCatalog == nil && catalogLoadErr == nil {
		cachedCatalog, catalogLoadErr = LoadCatalog(defaultCatalogYAML)
	}
	return cachedCatalog, catalogLoadErr
}

// MustCatalog returns the embedded default catalog or panics. The embedded
// YAML ships with the binary, so a load failure is a build defect, not a
// runtime condition; constructors that cannot return an error use this.
func MustCatalog() *Catalog {
	c, err := GetCatalog()
	if err != nil {
		panic("products: embedded catalog failed to load: " + err.Error())
	}
	return c
}

// ResetCatalog clears the cached catalog so tests can reload with different
// data.
func ResetCatalog() {
	catalogMu.Lock()
	defer catalogMu.Unlock()
	cachedCatalog = nil
	catalogLoadErr = nil
}

// LoadCatalog parses and validates a catalog from YAML bytes.
//
// # Description
//
// Parses the YAML, runs struct-tag validation, then builds the alias index.
// Duplicate canonical names and aliases that collide with a different
// product are load errors: a catalog where "pa" could mean two products
// would make the product-switch guard nondeterministic.
//
// # Inputs
//
//   - data: Raw YAML bytes. Must be non-empty and under MaxCatalogFileSize.
//
// # Outputs
//
//   - *Catalog: The immutable catalog. Never nil on success.
//   - error: Non-nil on parse, validation, or index-collision failure.
func LoadCatalog(data []byte) (*Catalog, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("products: empty catalog data")
	}
	if len(data) > MaxCatalogFileSize {
		return nil, fmt.Errorf("products: catalog exceeds maximum size (%d > %d)", len(data), MaxCatalogFileSize)
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("products: parsing catalog YAML: %w", err)
	}
	if err := structValidate.Struct(&file); err != nil {
		return nil, fmt.Errorf("products: catalog validation: %w", err)
	}

	c := &Catalog{
		byName:  make(map[string]*Product, len(file.Products)),
		byAlias: make(map[string]string),
		order:   make([]string, 0, len(file.Products)),
	}
	for i := range file.Products {
		p := &file.Products[i]
		key := normalizeKey(p.Name)
		if _, dup := c.byName[key]; dup {
			return nil, fmt.Errorf("products: duplicate product %q", p.Name)
		}
		c.byName[key] = p
		c.order = append(c.order, key)

		for _, alias := range p.Aliases {
			ak := normalizeKey(alias)
			if ak == "" {
				continue
			}
			if prev, dup := c.byAlias[ak]; dup && prev != key {
				return nil, fmt.Errorf("products: alias %q maps to both %q and %q", alias, prev, key)
			}
			c.byAlias[ak] = key
		}
	}
	return c, nil
}

// =============================================================================
// Lookup
// =============================================================================

// Normalize resolves a raw product mention to its canonical name.
// Matching is case-insensitive over canonical names, display names, and
// aliases. Returns ("", false) when the mention is unknown.
func (c *Catalog) Normalize(raw string) (string, bool) {
	key := normalizeKey(raw)
	if key == "" {
		return "", false
	}
	if _, ok := c.byName[key]; ok {
		return key, true
	}
	if canonical, ok := c.byAlias[key]; ok {
		return canonical, true
	}
	for name, p := range c.byName {
		if normalizeKey(p.DisplayName) == key {
			return name, true
		}
	}
	return "", false
}

// Same reports whether two product mentions refer to the same product after
// normalization. Unknown mentions compare by normalized key so that a typo'd
// product still compares case-insensitively rather than spuriously differing.
func (c *Catalog) Same(a, b string) bool {
	ca, okA := c.Normalize(a)
	cb, okB := c.Normalize(b)
	if okA && okB {
		return ca == cb
	}
	return normalizeKey(a) == normalizeKey(b)
}

// Get returns the product for a canonical or aliased name.
func (c *Catalog) Get(name string) (*Product, bool) {
	canonical, ok := c.Normalize(name)
	if !ok {
		return nil, false
	}
	return c.byName[canonical], true
}

// Names returns canonical product names in declaration order.
func (c *Catalog) Names() []string {
	return append([]string(nil), c.order...)
}

// DisplayName returns the user-facing name for a product mention, falling
// back to the raw mention when unknown.
func (c *Catalog) DisplayName(name string) string {
	if p, ok := c.Get(name); ok {
		return p.DisplayName
	}
	return name
}

// SlotIndex returns the declaration position of slot within product, or -1
// when the slot is not declared. Used as the tie-breaker for equal
// priorities.
func (c *Catalog) SlotIndex(product, slot string) int {
	p, ok := c.Get(product)
	if !ok {
		return -1
	}
	for i, s := range p.Slots {
		if s == slot {
			return i
		}
	}
	return -1
}

// RequiredSlots returns the product's required slot names in declaration
// order, or nil for an unknown product.
func (c *Catalog) RequiredSlots(product string) []string {
	p, ok := c.Get(product)
	if !ok {
		return nil
	}
	return append([]string(nil), p.Slots...)
}

func normalizeKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
