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
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/auth"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
)

// =============================================================================
// Configuration
// =============================================================================

const (
	envWeaviateHost   = "DIALOG_WEAVIATE_HOST"
	envWeaviateScheme = "DIALOG_WEAVIATE_SCHEME"
	envWeaviateClass  = "DIALOG_WEAVIATE_CLASS"
	envWeaviateAPIKey = "DIALOG_WEAVIATE_API_KEY"

	defaultWeaviateScheme = "http"
	defaultWeaviateClass  = "InsuranceInfo"

	// maxPassages caps how many indexed passages one lookup pulls back. The
	// answer uses the top passage; the rest only contribute citations.
	maxPassages = 3

	// hybridAlpha balances keyword and vector scores. 0.5 is the even split;
	// insurance jargon ("MOM minimum") needs the keyword half.
	hybridAlpha = 0.5
)

// HybridConfig holds the connection settings for the document index.
type HybridConfig struct {
	Host   string
	Scheme string
	Class  string
	APIKey string
}

// HybridConfigFromEnv reads the index settings from the environment. The
// second return is false when no host is configured, which means the
// deployment runs glossary-only and that is fine.
func HybridConfigFromEnv() (HybridConfig, bool) {
	host := strings.TrimSpace(os.Getenv(envWeaviateHost))
	if host == "" {
		return HybridConfig{}, false
	}
	cfg := HybridConfig{
		Host:   host,
		Scheme: strings.TrimSpace(os.Getenv(envWeaviateScheme)),
		Class:  strings.TrimSpace(os.Getenv(envWeaviateClass)),
		APIKey: strings.TrimSpace(os.Getenv(envWeaviateAPIKey)),
	}
	if cfg.Scheme == "" {
		cfg.Scheme = defaultWeaviateScheme
	}
	if cfg.Class == "" {
		cfg.Class = defaultWeaviateClass
	}
	return cfg, true
}

// =============================================================================
// Hybrid resolver
// =============================================================================

// HybridResolver answers side questions with a hybrid (keyword + vector)
// search over indexed policy documents, filtered to the product under
// discussion so a travel question never surfaces maid policy text.
type HybridResolver struct {
	client *weaviate.Client
	class  string
}

// NewHybridResolver connects to the document index described by cfg.
func NewHybridResolver(cfg HybridConfig) (*HybridResolver, error) {
	wcfg := weaviate.Config{
		Host:   cfg.Host,
		Scheme: cfg.Scheme,
	}
	if cfg.APIKey != "" {
		wcfg.AuthConfig = auth.ApiKey{Value: cfg.APIKey}
	}
	client, err := weaviate.NewClient(wcfg)
	if err != nil {
		return nil, fmt.Errorf("sideinfo: creating weaviate client: %w", err)
	}
	class := cfg.Class
	if class == "" {
		class = defaultWeaviateClass
	}
	return &HybridResolver{client: client, class: class}, nil
}

// Resolve runs one hybrid search. Every failure path, including an empty
// result set, degrades to ErrUnavailable; the dialog never sees index errors.
func (r *HybridResolver) Resolve(ctx context.Context, q Query) (*Answer, error) {
	hybrid := r.client.GraphQL().HybridArgumentBuilder().
		WithQuery(q.Question).
		WithAlpha(hybridAlpha)

	get := r.client.GraphQL().Get().
		WithClassName(r.class).
		WithFields(graphql.Field{Name: "content"}, graphql.Field{Name: "source"}).
		WithHybrid(hybrid).
		WithLimit(maxPassages)

	if q.Product != "" {
		get = get.WithWhere(filters.Where().
			WithPath([]string{"product"}).
			WithOperator(filters.Equal).
			WithValueText(q.Product))
	}

	res, err := get.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("sideinfo: hybrid search: %v: %w", err, ErrUnavailable)
	}
	if len(res.Errors) > 0 {
		return nil, fmt.Errorf("sideinfo: hybrid search: %s: %w", res.Errors[0].Message, ErrUnavailable)
	}

	answer := r.collect(res.Data["Get"])
	if answer == nil {
		return nil, fmt.Errorf("sideinfo: no passages for %q: %w", q.Question, ErrUnavailable)
	}
	return answer, nil
}

// collect digs the passages out of the GraphQL response shape. The weaviate
// response is dynamic JSON all the way down, so every step is an assertion
// that fails soft.
func (r *HybridResolver) collect(raw interface{}) *Answer {
	get, ok := raw.(map[string]interface{})
	if !ok {
		return nil
	}
	items, ok := get[r.class].([]interface{})
	if !ok || len(items) == 0 {
		return nil
	}

	answer := &Answer{}
	for _, item := range items {
		rec, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		content, _ := rec["content"].(string)
		source, _ := rec["source"].(string)
		if answer.Text == "" && strings.TrimSpace(content) != "" {
			answer.Text = strings.TrimSpace(content)
		}
		if source != "" {
			answer.Citations = append(answer.Citations, source)
		}
	}
	if answer.Text == "" {
		return nil
	}
	return answer
}

// =============================================================================
// Fallback chain
// =============================================================================

// Chain tries each resolver in order and returns the first answer. The
// service wires [hybrid, glossary] when an index is configured and just
// [glossary] otherwise.
type Chain struct {
	resolvers []Resolver
}

// NewChain builds a fallback chain. Nil entries are skipped.
func NewChain(resolvers ...Resolver) *Chain {
	c := &Chain{}
	for _, r := range resolvers {
		if r != nil {
			c.resolvers = append(c.resolvers, r)
		}
	}
	return c
}

// Resolve walks the chain. Only if every resolver comes up empty does the
// caller see ErrUnavailable.
func (c *Chain) Resolve(ctx context.Context, q Query) (*Answer, error) {
	for _, r := range c.resolvers {
		answer, err := r.Resolve(ctx, q)
		if err == nil {
			return answer, nil
		}
		if ctx.Err() != nil {
			break
		}
	}
	return nil, fmt.Errorf("sideinfo: all resolvers failed for %q: %w", q.Question, ErrUnavailable)
}
