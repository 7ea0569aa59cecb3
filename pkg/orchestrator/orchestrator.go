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

// Package orchestrator ties the discovery pipeline together. It owns
// session initiation (criteria in, SearchRequestEvent fan-out) and the
// three stage consumers that drain the bus: search execution, result
// validation, and scoring. Finalization is counter-driven: every
// consumer that advances a session's counters calls TryFinalize, and a
// background sweep fails sessions that outlive their soft deadline.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/teradata-labs/prospector/pkg/bus"
	"github.com/teradata-labs/prospector/pkg/cache"
	"github.com/teradata-labs/prospector/pkg/generator"
	"github.com/teradata-labs/prospector/pkg/observability"
	"github.com/teradata-labs/prospector/pkg/pipeline"
	"github.com/teradata-labs/prospector/pkg/search"
	"github.com/teradata-labs/prospector/pkg/storage"
	"github.com/teradata-labs/prospector/pkg/types"
)

// Config holds orchestrator tunables.
type Config struct {
	// SoftDeadline is how long a session may stay RUNNING before the
	// sweep fails it.
	SoftDeadline time.Duration `mapstructure:"soft_deadline"`

	// SweepInterval is how often the stale-session sweep runs.
	SweepInterval time.Duration `mapstructure:"sweep_interval"`

	// Consumers configures the three stage consumer groups.
	Consumers bus.Config `mapstructure:"consumers"`
}

func (c *Config) applyDefaults() {
	if c.SoftDeadline <= 0 {
		c.SoftDeadline = 30 * time.Minute
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 5 * time.Minute
	}
}

// SearchInitiation is the caller-facing receipt for a new session.
type SearchInitiation struct {
	SessionID        uuid.UUID `json:"sessionId"`
	QueriesGenerated int       `json:"queriesGenerated"`
	Status           string    `json:"status"`
	Message          string    `json:"message"`
}

// AdapterRegistry is the slice of the engine registry the orchestrator
// uses. *search.Registry satisfies it.
type AdapterRegistry interface {
	Adapter(name string) (search.Adapter, bool)
	Enabled() []search.Adapter
}

// Orchestrator wires the stores, cache, adapters, generator, and
// processor to the event bus.
type Orchestrator struct {
	store     storage.Store
	cache     *cache.Cache
	registry  AdapterRegistry
	generator *generator.Generator
	processor *pipeline.Processor
	producer  *bus.Producer
	validate  *validator.Validate
	cfg       Config
	logger    *zap.Logger
	tracer    observability.Tracer

	searchConsumer     *bus.Consumer
	validationConsumer *bus.Consumer
	scoringConsumer    *bus.Consumer

	// Live per-session scoring state, keyed by session ID. Entries are
	// evicted on finalization and when idle past the soft deadline.
	sessionsMu sync.Mutex
	sessions   map[uuid.UUID]*sessionEntry

	started atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	swept   atomic.Int64
}

type sessionEntry struct {
	sctx    *pipeline.SessionContext
	touched time.Time
}

// NewOrchestrator builds the orchestrator and its three stage
// consumers. All collaborators are required.
func NewOrchestrator(store storage.Store, sessionCache *cache.Cache, registry AdapterRegistry, gen *generator.Generator, proc *pipeline.Processor, producer *bus.Producer, client *redis.Client, cfg Config, logger *zap.Logger, tracer observability.Tracer) (*Orchestrator, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if sessionCache == nil {
		return nil, fmt.Errorf("cache is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("search registry is required")
	}
	if gen == nil {
		return nil, fmt.Errorf("query generator is required")
	}
	if proc == nil {
		return nil, fmt.Errorf("result processor is required")
	}
	if producer == nil {
		return nil, fmt.Errorf("producer is required")
	}
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	cfg.applyDefaults()

	o := &Orchestrator{
		store:     store,
		cache:     sessionCache,
		registry:  registry,
		generator: gen,
		processor: proc,
		producer:  producer,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		cfg:       cfg,
		logger:    logger,
		tracer:    tracer,
		sessions:  make(map[uuid.UUID]*sessionEntry),
	}

	var err error
	o.searchConsumer, err = bus.NewConsumer(client, bus.TopicSearchRequests, bus.GroupSearch,
		bus.StageSearchExecution, o.handleSearchRequest, producer, cfg.Consumers, logger, tracer)
	if err != nil {
		return nil, fmt.Errorf("search consumer: %w", err)
	}
	o.validationConsumer, err = bus.NewConsumer(client, bus.TopicResultsRaw, bus.GroupValidation,
		bus.StageResultValidation, o.handleRawResult, producer, cfg.Consumers, logger, tracer)
	if err != nil {
		return nil, fmt.Errorf("validation consumer: %w", err)
	}
	o.scoringConsumer, err = bus.NewConsumer(client, bus.TopicResultsValidated, bus.GroupScoring,
		bus.StageResultProcessing, o.handleValidatedResult, producer, cfg.Consumers, logger, tracer)
	if err != nil {
		return nil, fmt.Errorf("scoring consumer: %w", err)
	}
	return o, nil
}

// Start brings up the three stage consumers and the stale-session
// sweep. Errors if already started.
func (o *Orchestrator) Start(ctx context.Context) error {
	if !o.started.CompareAndSwap(false, true) {
		return fmt.Errorf("orchestrator already started")
	}

	consumers := []*bus.Consumer{o.searchConsumer, o.validationConsumer, o.scoringConsumer}
	for i, c := range consumers {
		if err := c.Start(ctx); err != nil {
			for _, started := range consumers[:i] {
				started.Stop()
			}
			o.started.Store(false)
			return fmt.Errorf("failed to start consumer: %w", err)
		}
	}

	sweepCtx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel
	o.wg.Add(1)
	go o.sweepLoop(sweepCtx)

	o.logger.Info("orchestrator started",
		zap.Duration("soft_deadline", o.cfg.SoftDeadline),
		zap.Duration("sweep_interval", o.cfg.SweepInterval))
	return nil
}

// Stop shuts down the consumers and the sweep. In-flight handlers run
// to completion.
func (o *Orchestrator) Stop() {
	if !o.started.Load() {
		return
	}
	o.searchConsumer.Stop()
	o.validationConsumer.Stop()
	o.scoringConsumer.Stop()
	if o.cancel != nil {
		o.cancel()
	}
	o.wg.Wait()
	o.started.Store(false)
	o.logger.Info("orchestrator stopped")
}

// ExecuteSearch validates the criteria, creates a RUNNING session,
// generates queries per engine, and publishes one SearchRequestEvent
// per (engine, query) task. The query plan is recorded before the first
// publish so consumer-side finalization arithmetic is never ahead of
// the fan-out.
func (o *Orchestrator) ExecuteSearch(ctx context.Context, criteria types.SearchCriteria, sessionType types.SessionType) (*SearchInitiation, error) {
	ctx, span := o.tracer.StartSpan(ctx, observability.SpanSearchExecute,
		observability.WithSpanKind("orchestrator"))
	defer o.tracer.EndSpan(span)

	if err := o.validate.Struct(criteria); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("invalid search criteria: %w", err)
	}

	session := &types.DiscoverySession{
		ID:        uuid.New(),
		Type:      sessionType,
		Status:    types.SessionStatusRunning,
		StartedAt: time.Now().UTC(),
		Criteria:  criteria,
	}
	if err := o.store.Sessions().CreateSession(ctx, session); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	span.SetAttribute(observability.AttrSessionID, session.ID.String())

	adapters := o.registry.Enabled()
	if len(adapters) == 0 {
		o.failSession(ctx, session.ID, "no search engines enabled")
		return nil, fmt.Errorf("no search engines enabled")
	}

	engines := make([]generator.Engine, len(adapters))
	for i, a := range adapters {
		engines[i] = a
	}
	queries := o.generator.GenerateMulti(ctx, engines, criteria, session.ID)

	total := 0
	for _, qs := range queries {
		total += len(qs)
	}

	prompt := generator.PromptFor(planStyle(adapters), criteria)
	if err := o.store.Sessions().SetQueryPlan(ctx, session.ID, total, prompt, o.generator.Model()); err != nil {
		span.RecordError(err)
		o.failSession(ctx, session.ID, "failed to record query plan")
		return nil, fmt.Errorf("failed to record query plan: %w", err)
	}

	if published := o.publishPlan(ctx, session, queries); total > 0 && published == 0 {
		o.failSession(ctx, session.ID, "event bus unavailable")
		return nil, fmt.Errorf("failed to publish any search requests")
	}

	o.logger.Info("search session initiated",
		zap.String("session_id", session.ID.String()),
		zap.String("type", string(sessionType)),
		zap.Int("queries", total),
		zap.Int("engines", len(adapters)))

	return &SearchInitiation{
		SessionID:        session.ID,
		QueriesGenerated: total,
		Status:           "INITIATED",
		Message:          fmt.Sprintf("dispatched %d queries across %d engines", total, len(adapters)),
	}, nil
}

// ExecuteLibrary starts a SCHEDULED session that dispatches curated
// library queries instead of generated ones. Each query fans out to its
// target engines; a query that names no engines runs on every enabled
// one. The plan is recorded with model "library" and no prompt.
func (o *Orchestrator) ExecuteLibrary(ctx context.Context, criteria types.SearchCriteria, queries []types.LibraryQuery) (*SearchInitiation, error) {
	ctx, span := o.tracer.StartSpan(ctx, observability.SpanSearchExecute,
		observability.WithSpanKind("orchestrator"))
	defer o.tracer.EndSpan(span)

	if err := o.validate.Struct(criteria); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("invalid search criteria: %w", err)
	}
	if len(queries) == 0 {
		return nil, fmt.Errorf("no library queries to dispatch")
	}

	session := &types.DiscoverySession{
		ID:        uuid.New(),
		Type:      types.SessionTypeScheduled,
		Status:    types.SessionStatusRunning,
		StartedAt: time.Now().UTC(),
		Criteria:  criteria,
	}
	if err := o.store.Sessions().CreateSession(ctx, session); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	span.SetAttribute(observability.AttrSessionID, session.ID.String())

	adapters := o.registry.Enabled()
	if len(adapters) == 0 {
		o.failSession(ctx, session.ID, "no search engines enabled")
		return nil, fmt.Errorf("no search engines enabled")
	}
	enabledNames := make([]string, len(adapters))
	enabledSet := make(map[string]bool, len(adapters))
	for i, a := range adapters {
		enabledNames[i] = a.Name()
		enabledSet[a.Name()] = true
	}

	plan := make(map[string][]string)
	total := 0
	for _, q := range queries {
		if !q.Enabled {
			continue
		}
		targets := q.Engines
		if len(targets) == 0 {
			targets = enabledNames
		}
		for _, name := range targets {
			if !enabledSet[name] {
				o.logger.Warn("library query targets unavailable engine, skipping",
					zap.String("query", q.Name),
					zap.String("engine", name))
				continue
			}
			plan[name] = append(plan[name], q.Text)
			total++
		}
	}
	if total == 0 {
		o.failSession(ctx, session.ID, "no runnable library queries")
		return nil, fmt.Errorf("no runnable library queries")
	}

	if err := o.store.Sessions().SetQueryPlan(ctx, session.ID, total, "", "library"); err != nil {
		span.RecordError(err)
		o.failSession(ctx, session.ID, "failed to record query plan")
		return nil, fmt.Errorf("failed to record query plan: %w", err)
	}

	if published := o.publishPlan(ctx, session, plan); published == 0 {
		o.failSession(ctx, session.ID, "event bus unavailable")
		return nil, fmt.Errorf("failed to publish any search requests")
	}

	o.logger.Info("scheduled session initiated",
		zap.String("session_id", session.ID.String()),
		zap.Int("queries", total),
		zap.Int("engines", len(plan)))

	return &SearchInitiation{
		SessionID:        session.ID,
		QueriesGenerated: total,
		Status:           "INITIATED",
		Message:          fmt.Sprintf("dispatched %d library queries across %d engines", total, len(plan)),
	}, nil
}

// publishPlan fans one SearchRequestEvent per (engine, query) task out
// to the bus. A task whose publish fails is closed immediately so the
// remaining tasks can still finalize the session. Returns how many
// tasks reached the bus.
func (o *Orchestrator) publishPlan(ctx context.Context, session *types.DiscoverySession, plan map[string][]string) int {
	names := make([]string, 0, len(plan))
	for name := range plan {
		names = append(names, name)
	}
	sort.Strings(names)

	published := 0
	for _, name := range names {
		for _, query := range plan[name] {
			evt := bus.SearchRequestEvent{
				RequestID:  uuid.New(),
				SessionID:  session.ID,
				Engine:     name,
				Query:      query,
				MaxResults: session.Criteria.MaxResultsPerQuery,
				Criteria:   session.Criteria,
				Timestamp:  time.Now().UTC(),
			}
			if _, err := o.producer.Publish(ctx, bus.TopicSearchRequests, session.ID, evt); err != nil {
				o.logger.Warn("failed to publish search request",
					zap.String("session_id", session.ID.String()),
					zap.String("engine", name),
					zap.Error(err))
				if derr := o.store.Sessions().RecordQueryDone(ctx, session.ID, 0); derr != nil {
					o.logger.Warn("failed to record dropped task",
						zap.String("session_id", session.ID.String()), zap.Error(derr))
				}
				continue
			}
			published++
		}
	}
	return published
}

// planStyle picks the prompt recorded on the session row. Keyword is
// the norm; only an all-answer-engine fleet records the AI prompt.
func planStyle(adapters []search.Adapter) generator.Style {
	for _, a := range adapters {
		if !a.SupportsAIOptimizedQueries() {
			return generator.StyleKeyword
		}
	}
	return generator.StyleAIOptimized
}

func (o *Orchestrator) failSession(ctx context.Context, id uuid.UUID, reason string) {
	if err := o.store.Sessions().FailSession(ctx, id, reason); err != nil {
		o.logger.Warn("failed to fail session",
			zap.String("session_id", id.String()),
			zap.String("reason", reason),
			zap.Error(err))
	}
}

// sessionContext returns the live scoring state for a session, loading
// the session row on first sight. A nil return with nil error means the
// event is stale (session unknown or already terminal) and should be
// dropped.
func (o *Orchestrator) sessionContext(ctx context.Context, id uuid.UUID) (*pipeline.SessionContext, error) {
	o.sessionsMu.Lock()
	if e, ok := o.sessions[id]; ok {
		e.touched = time.Now()
		o.sessionsMu.Unlock()
		return e.sctx, nil
	}
	o.sessionsMu.Unlock()

	session, err := o.store.Sessions().GetSession(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			o.logger.Warn("result for unknown session dropped",
				zap.String("session_id", id.String()))
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if session.Status.Terminal() {
		return nil, nil
	}

	o.sessionsMu.Lock()
	defer o.sessionsMu.Unlock()
	if e, ok := o.sessions[id]; ok {
		e.touched = time.Now()
		return e.sctx, nil
	}
	sctx := pipeline.NewSessionContext(id, session.Criteria)
	o.sessions[id] = &sessionEntry{sctx: sctx, touched: time.Now()}
	return sctx, nil
}

func (o *Orchestrator) evictSession(id uuid.UUID) {
	o.sessionsMu.Lock()
	delete(o.sessions, id)
	o.sessionsMu.Unlock()
}

// Swept reports how many stale sessions the sweep has failed.
func (o *Orchestrator) Swept() int64 {
	return o.swept.Load()
}
