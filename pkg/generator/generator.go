// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package generator turns search criteria into engine-ready queries.
// Queries come from an LLM completion when one is configured and
// responsive, and from deterministic built-in lists otherwise. The
// generator never fails: every call returns at least one query, and
// every degradation is recorded on the generation session.
package generator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/teradata-labs/prospector/pkg/llm"
	"github.com/teradata-labs/prospector/pkg/observability"
	"github.com/teradata-labs/prospector/pkg/storage"
	"github.com/teradata-labs/prospector/pkg/types"
)

// Engine exposes the capability flags the generator needs to pick a
// template. Search adapters satisfy this.
type Engine interface {
	Name() string
	SupportsKeywordQueries() bool
	SupportsAIOptimizedQueries() bool
}

// Config holds generator tunables.
type Config struct {
	CacheSize   int           `mapstructure:"cache_size"`
	LLMTimeout  time.Duration `mapstructure:"llm_timeout"`
	MultiBudget time.Duration `mapstructure:"multi_budget"`
}

func (c *Config) applyDefaults() {
	if c.CacheSize == 0 {
		c.CacheSize = 256
	}
	if c.LLMTimeout == 0 {
		c.LLMTimeout = 20 * time.Second
	}
	if c.MultiBudget == 0 {
		c.MultiBudget = 30 * time.Second
	}
}

// outcome is one generation result plus the bookkeeping that goes on the
// generation-session row. It is also the cache value, so hit rows carry
// the original degradation flags.
type outcome struct {
	queries        []string
	style          Style
	model          string
	requested      int
	generated      int
	approved       int
	rejected       int
	reasons        []string
	fallback       bool
	fallbackReason string
	promptTokens   int
}

// Generator produces search queries per engine template.
type Generator struct {
	provider llm.Provider
	store    storage.GenerationStore
	counter  *llm.TokenCounter
	cache    *queryCache
	flight   singleflight.Group
	cfg      Config
	logger   *zap.Logger
	tracer   observability.Tracer
}

// NewGenerator creates a generator. The provider may be nil, in which
// case every run uses the built-in fallback lists. The store may be nil
// in tests; recording is then skipped.
func NewGenerator(provider llm.Provider, store storage.GenerationStore, cfg Config, logger *zap.Logger, tracer observability.Tracer) *Generator {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	return &Generator{
		provider: provider,
		store:    store,
		counter:  llm.NewTokenCounter(),
		cache:    newQueryCache(cfg.CacheSize),
		cfg:      cfg,
		logger:   logger,
		tracer:   tracer,
	}
}

// Generate returns queries for one template style. It consults the
// fingerprint cache, falls back to the built-in lists on any LLM
// degradation, and records a generation-session row for the run.
func (g *Generator) Generate(ctx context.Context, style Style, criteria types.SearchCriteria, sessionID uuid.UUID) []string {
	ctx, span := g.tracer.StartSpan(ctx, "generator.generate")
	defer g.tracer.EndSpan(span)
	span.SetAttribute("style", string(style))

	started := time.Now()
	n := clampCount(criteria.QueryCount)
	key := fingerprint(style, criteria)

	if cached, ok := g.cache.get(key); ok {
		span.SetAttribute("cache_hit", "true")
		g.record(ctx, sessionID, cached, time.Since(started), true)
		return cached.queries
	}

	// Concurrent misses on the same fingerprint share one generation.
	v, _, _ := g.flight.Do(key, func() (interface{}, error) {
		oc := g.produce(ctx, style, criteria, n)
		g.cache.put(key, oc)
		return oc, nil
	})
	oc := v.(outcome)

	if oc.fallback {
		span.SetAttribute("fallback", "true")
		g.tracer.RecordMetric("generator.fallbacks", 1, map[string]string{"style": string(style)})
	}
	g.record(ctx, sessionID, oc, time.Since(started), false)
	return oc.queries
}

// GenerateMulti generates queries for each engine under a shared time
// budget. Engines that prefer the same template share cache entries and
// in-flight generations, so a keyword-only fleet costs one LLM call.
func (g *Generator) GenerateMulti(ctx context.Context, engines []Engine, criteria types.SearchCriteria, sessionID uuid.UUID) map[string][]string {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.MultiBudget)
	defer cancel()

	out := make(map[string][]string, len(engines))
	var mu sync.Mutex

	eg, ctx := errgroup.WithContext(ctx)
	for _, engine := range engines {
		eg.Go(func() error {
			queries := g.Generate(ctx, styleFor(engine), criteria, sessionID)
			mu.Lock()
			out[engine.Name()] = queries
			mu.Unlock()
			return nil
		})
	}
	_ = eg.Wait()
	return out
}

// CacheStats reports fingerprint-cache effectiveness.
func (g *Generator) CacheStats() CacheStats {
	return g.cache.stats()
}

// Model reports the model name live generations run against, or
// "template" when no provider is configured and every run falls back.
func (g *Generator) Model() string {
	if g.provider == nil {
		return "template"
	}
	return g.provider.Model()
}

// PromptFor renders the user prompt a generation run for the given
// style and criteria would send. Sessions store it for audit.
func PromptFor(style Style, criteria types.SearchCriteria) string {
	return buildPrompt(style, criteria, clampCount(criteria.QueryCount))
}

// styleFor picks the template from the engine capability flags. Answer
// engines get questions; everything else gets keywords.
func styleFor(e Engine) Style {
	if e.SupportsAIOptimizedQueries() {
		return StyleAIOptimized
	}
	return StyleKeyword
}

func clampCount(n int) int {
	if n < 1 {
		return 1
	}
	if n > 50 {
		return 50
	}
	return n
}

// produce runs one live generation: prompt, LLM call under its own
// timeout, parse, validate, and fall back when the approved list comes
// up short.
func (g *Generator) produce(ctx context.Context, style Style, criteria types.SearchCriteria, n int) outcome {
	oc := outcome{style: style, requested: n}

	if g.provider == nil {
		oc.queries = fallbackQueries(style, criteria, n)
		oc.approved = len(oc.queries)
		oc.fallback = true
		oc.fallbackReason = "llm provider not configured"
		return oc
	}
	oc.model = g.provider.Model()

	prompt := buildPrompt(style, criteria, n)
	oc.promptTokens = g.counter.CountTokensMultiple(systemPrompt, prompt)

	llmCtx, cancel := context.WithTimeout(ctx, g.cfg.LLMTimeout)
	defer cancel()

	resp, err := g.provider.Complete(llmCtx, llm.CompletionRequest{
		System: systemPrompt,
		Prompt: prompt,
	})
	if err != nil {
		g.logger.Warn("query generation degraded to fallback",
			zap.String("style", string(style)),
			zap.Error(err))
		oc.queries = fallbackQueries(style, criteria, n)
		oc.approved = len(oc.queries)
		oc.fallback = true
		oc.fallbackReason = "llm call failed: " + err.Error()
		return oc
	}

	raw := parseQueries(resp.Text)
	oc.generated = len(raw)

	seen := make(map[string]struct{}, len(raw))
	var approved []string
	for _, q := range raw {
		if reason := validateQuery(style, q); reason != "" {
			oc.reasons = append(oc.reasons, reason)
			continue
		}
		key := strings.ToLower(q)
		if _, dup := seen[key]; dup {
			oc.reasons = append(oc.reasons, "duplicate query: "+truncateQuery(q))
			continue
		}
		seen[key] = struct{}{}
		approved = append(approved, q)
	}
	oc.rejected = len(oc.reasons)

	if len(approved) < n {
		g.logger.Warn("llm under-delivered, using fallback queries",
			zap.String("style", string(style)),
			zap.Int("approved", len(approved)),
			zap.Int("requested", n))
		oc.queries = fallbackQueries(style, criteria, n)
		oc.approved = len(oc.queries)
		oc.fallback = true
		oc.fallbackReason = fmt.Sprintf("llm returned %d of %d valid queries", len(approved), n)
		return oc
	}

	oc.queries = approved[:n]
	oc.approved = n
	return oc
}

// record writes the generation-session row. Failures are logged and
// swallowed: generation itself already succeeded.
func (g *Generator) record(ctx context.Context, sessionID uuid.UUID, oc outcome, elapsed time.Duration, cacheHit bool) {
	if g.store == nil {
		return
	}

	gs := &types.GenerationSession{
		ID:               uuid.New(),
		SessionID:        sessionID,
		Model:            oc.model,
		Style:            string(oc.style),
		QueriesRequested: oc.requested,
		QueriesGenerated: oc.generated,
		QueriesApproved:  oc.approved,
		QueriesRejected:  oc.rejected,
		RejectionReasons: oc.reasons,
		FallbackUsed:     oc.fallback,
		PromptTokens:     oc.promptTokens,
		DurationMs:       elapsed.Milliseconds(),
		CreatedAt:        time.Now().UTC(),
	}
	if oc.fallbackReason != "" {
		reason := oc.fallbackReason
		gs.FallbackReason = &reason
	}
	if cacheHit {
		// No prompt was sent for this run.
		gs.PromptTokens = 0
	}

	if err := g.store.SaveGeneration(ctx, gs); err != nil {
		g.logger.Warn("failed to record query generation session",
			zap.String("session_id", sessionID.String()),
			zap.Error(err))
	}
}
