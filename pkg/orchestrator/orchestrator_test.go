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
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/prospector/pkg/bus"
	"github.com/teradata-labs/prospector/pkg/cache"
	"github.com/teradata-labs/prospector/pkg/generator"
	"github.com/teradata-labs/prospector/pkg/pipeline"
	"github.com/teradata-labs/prospector/pkg/search"
	"github.com/teradata-labs/prospector/pkg/storage"
	"github.com/teradata-labs/prospector/pkg/types"
)

// ----------------------------------------------------------------------------
// Session store fake with postgres finalization arithmetic
// ----------------------------------------------------------------------------

type sessionRecord struct {
	session types.DiscoverySession
	stats   types.SessionStatistics
}

type fakeSessions struct {
	mu      sync.Mutex
	byID    map[uuid.UUID]*sessionRecord
	planErr error
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{byID: map[uuid.UUID]*sessionRecord{}}
}

func (f *fakeSessions) CreateSession(ctx context.Context, session *types.DiscoverySession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byID[session.ID]; ok {
		return storage.ErrDuplicate
	}
	rec := &sessionRecord{session: *session}
	rec.stats.SessionID = session.ID
	rec.stats.EngineStats = map[string]types.EngineStats{}
	f.byID[session.ID] = rec
	return nil
}

func (f *fakeSessions) GetSession(ctx context.Context, id uuid.UUID) (*types.DiscoverySession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.byID[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	out := rec.session
	stats := rec.stats
	out.Stats = &stats
	return &out, nil
}

func (f *fakeSessions) ListSessions(ctx context.Context, filters storage.SessionFilters) ([]*types.DiscoverySession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*types.DiscoverySession, 0, len(f.byID))
	for _, rec := range f.byID {
		s := rec.session
		out = append(out, &s)
	}
	return out, nil
}

func (f *fakeSessions) SetQueryPlan(ctx context.Context, id uuid.UUID, queriesTotal int, prompt, model string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.planErr != nil {
		return f.planErr
	}
	rec, ok := f.byID[id]
	if !ok {
		return storage.ErrNotFound
	}
	if rec.session.Status.Terminal() {
		return storage.ErrSessionTerminal
	}
	rec.session.QueriesTotal = queriesTotal
	rec.session.GeneratorPrompt = prompt
	rec.session.GeneratorModel = model
	return nil
}

func (f *fakeSessions) RecordQueryDone(ctx context.Context, id uuid.UUID, resultsShipped int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.byID[id]
	if !ok {
		return storage.ErrNotFound
	}
	if rec.session.Status.Terminal() {
		return nil
	}
	rec.session.QueriesCompleted++
	rec.session.ResultsExpected += resultsShipped
	return nil
}

func (f *fakeSessions) IncrementStats(ctx context.Context, id uuid.UUID, delta storage.StatsDelta) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.byID[id]
	if !ok {
		return storage.ErrNotFound
	}
	if rec.session.Status.Terminal() {
		return nil
	}
	rec.stats.ResultsFound += delta.ResultsFound
	rec.stats.ResultsProcessed += delta.ResultsProcessed
	rec.stats.CandidatesCreated += delta.CandidatesCreated
	rec.stats.HighConfidence += delta.HighConfidence
	rec.stats.LowConfidence += delta.LowConfidence
	rec.stats.DuplicatesSkipped += delta.DuplicatesSkipped
	rec.stats.SpamTLDFiltered += delta.SpamTLDFiltered
	rec.stats.BlacklistedSkipped += delta.BlacklistedSkipped
	rec.stats.InvalidURLsSkipped += delta.InvalidURLsSkipped
	return nil
}

func (f *fakeSessions) RecordEngineOutcome(ctx context.Context, id uuid.UUID, engine string, results int, failed bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.byID[id]
	if !ok {
		return storage.ErrNotFound
	}
	es := rec.stats.EngineStats[engine]
	es.Requests++
	es.Results += results
	if failed {
		es.Failures++
	}
	rec.stats.EngineStats[engine] = es
	return nil
}

func (f *fakeSessions) TryFinalize(ctx context.Context, id uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.byID[id]
	if !ok {
		return false, storage.ErrNotFound
	}
	s := &rec.session
	if s.Status != types.SessionStatusRunning || s.QueriesTotal == 0 {
		return false, nil
	}
	if s.QueriesCompleted < s.QueriesTotal || rec.stats.ResultsProcessed < s.ResultsExpected {
		return false, nil
	}
	now := time.Now().UTC()
	s.Status = types.SessionStatusCompleted
	s.CompletedAt = &now
	ms := now.Sub(s.StartedAt).Milliseconds()
	s.DurationMs = &ms
	return true, nil
}

func (f *fakeSessions) FailSession(ctx context.Context, id uuid.UUID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.byID[id]
	if !ok {
		return storage.ErrNotFound
	}
	if rec.session.Status.Terminal() {
		return storage.ErrSessionTerminal
	}
	rec.session.Status = types.SessionStatusFailed
	rec.session.FailureReason = &reason
	return nil
}

func (f *fakeSessions) CancelSession(ctx context.Context, id uuid.UUID) error {
	return f.FailSession(ctx, id, "cancelled")
}

func (f *fakeSessions) SweepStale(ctx context.Context, olderThan time.Duration) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cutoff := time.Now().UTC().Add(-olderThan)
	reason := "session deadline exceeded"
	swept := 0
	for _, rec := range f.byID {
		if rec.session.Status == types.SessionStatusRunning && rec.session.StartedAt.Before(cutoff) {
			rec.session.Status = types.SessionStatusFailed
			rec.session.FailureReason = &reason
			swept++
		}
	}
	return swept, nil
}

func (f *fakeSessions) snapshot(t *testing.T, id uuid.UUID) (types.DiscoverySession, types.SessionStatistics) {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.byID[id]
	require.True(t, ok, "session %s not found", id)
	return rec.session, rec.stats
}

func (f *fakeSessions) backdate(id uuid.UUID, startedAt time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec, ok := f.byID[id]; ok {
		rec.session.StartedAt = startedAt
	}
}

func (f *fakeSessions) forceStatus(id uuid.UUID, status types.SessionStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec, ok := f.byID[id]; ok {
		rec.session.Status = status
	}
}

func (f *fakeSessions) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.byID)
}

func (f *fakeSessions) all() []types.DiscoverySession {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]types.DiscoverySession, 0, len(f.byID))
	for _, rec := range f.byID {
		out = append(out, rec.session)
	}
	return out
}

type fakeStore struct {
	sessions *fakeSessions
}

func (f *fakeStore) Sessions() storage.SessionStore       { return f.sessions }
func (f *fakeStore) Domains() storage.DomainStore         { return nil }
func (f *fakeStore) Candidates() storage.CandidateStore   { return nil }
func (f *fakeStore) Usage() storage.UsageStore            { return nil }
func (f *fakeStore) Library() storage.LibraryStore        { return nil }
func (f *fakeStore) Generations() storage.GenerationStore { return nil }
func (f *fakeStore) Ping(ctx context.Context) error       { return nil }
func (f *fakeStore) Close() error                         { return nil }

// ----------------------------------------------------------------------------
// Domain and candidate store fakes for the scoring pipeline
// ----------------------------------------------------------------------------

type fakeDomains struct {
	mu     sync.Mutex
	byName map[string]*types.Domain
}

func newFakeDomains() *fakeDomains {
	return &fakeDomains{byName: map[string]*types.Domain{}}
}

func (f *fakeDomains) RegisterOrGet(ctx context.Context, host string, sessionID uuid.UUID) (*types.Domain, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if dom, ok := f.byName[host]; ok {
		return dom, false, nil
	}
	sid := sessionID
	dom := &types.Domain{
		ID:                 uuid.New(),
		Name:               host,
		Status:             types.DomainStatusDiscovered,
		DiscoveredAt:       time.Now().UTC(),
		DiscoverySessionID: &sid,
	}
	f.byName[host] = dom
	return dom, true, nil
}

func (f *fakeDomains) GetDomain(ctx context.Context, id uuid.UUID) (*types.Domain, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, dom := range f.byName {
		if dom.ID == id {
			return dom, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (f *fakeDomains) GetDomainByName(ctx context.Context, host string) (*types.Domain, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if dom, ok := f.byName[host]; ok {
		return dom, nil
	}
	return nil, storage.ErrNotFound
}

func (f *fakeDomains) ShouldProcess(ctx context.Context, host string, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	dom, ok := f.byName[host]
	if !ok {
		return true, nil
	}
	return dom.Status != types.DomainStatusBlacklisted, nil
}

func (f *fakeDomains) UpdateQuality(ctx context.Context, id uuid.UUID, confidence types.Confidence, highQuality bool) error {
	return nil
}

func (f *fakeDomains) Blacklist(ctx context.Context, host, reason, actor string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if dom, ok := f.byName[host]; ok {
		dom.Status = types.DomainStatusBlacklisted
	}
	return nil
}

func (f *fakeDomains) Unblacklist(ctx context.Context, host, actor string) error { return nil }

func (f *fakeDomains) MarkNoFunds(ctx context.Context, host string, year int, notes string) error {
	return nil
}

func (f *fakeDomains) RecordFailure(ctx context.Context, id uuid.UUID, reason string) error {
	return nil
}

func (f *fakeDomains) CountByStatus(ctx context.Context) (map[types.DomainStatus]int, error) {
	return nil, nil
}

type fakeCandidates struct {
	mu             sync.Mutex
	byKey          map[string]*types.FundingSourceCandidate
	createFailures int
}

func newFakeCandidates() *fakeCandidates {
	return &fakeCandidates{byKey: map[string]*types.FundingSourceCandidate{}}
}

func (f *fakeCandidates) CreateWithJudgment(ctx context.Context, c *types.FundingSourceCandidate, j *types.MetadataJudgment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createFailures > 0 {
		f.createFailures--
		return errors.New("store unavailable")
	}
	key := c.SessionID.String() + "|" + c.DomainName
	if _, ok := f.byKey[key]; ok {
		return storage.ErrDuplicate
	}
	f.byKey[key] = c
	return nil
}

func (f *fakeCandidates) GetCandidate(ctx context.Context, id uuid.UUID) (*types.FundingSourceCandidate, error) {
	return nil, storage.ErrNotFound
}

func (f *fakeCandidates) ListCandidates(ctx context.Context, filters storage.CandidateFilters) ([]*types.FundingSourceCandidate, int, error) {
	return nil, 0, nil
}

func (f *fakeCandidates) Approve(ctx context.Context, id uuid.UUID, reviewer, notes string) error {
	return nil
}

func (f *fakeCandidates) Reject(ctx context.Context, id uuid.UUID, reviewer, notes string) error {
	return nil
}

func (f *fakeCandidates) ListJudgments(ctx context.Context, sessionID uuid.UUID) ([]*types.MetadataJudgment, error) {
	return nil, nil
}

func (f *fakeCandidates) AppendEnhancement(ctx context.Context, rec *types.EnhancementRecord) error {
	return nil
}

func (f *fakeCandidates) ListEnhancements(ctx context.Context, candidateID uuid.UUID) ([]*types.EnhancementRecord, error) {
	return nil, nil
}

func (f *fakeCandidates) setCreateFailures(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createFailures = n
}

func (f *fakeCandidates) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.byKey)
}

// ----------------------------------------------------------------------------
// Adapter and registry fakes
// ----------------------------------------------------------------------------

type fakeAdapter struct {
	name    string
	ai      bool
	results []types.SearchResult
	err     error
	calls   atomic.Int64
}

func (a *fakeAdapter) Search(ctx context.Context, query string, maxResults int, sessionID uuid.UUID) ([]types.SearchResult, error) {
	a.calls.Add(1)
	if a.err != nil {
		return nil, a.err
	}
	out := make([]types.SearchResult, 0, len(a.results))
	for i, r := range a.results {
		if i >= maxResults {
			break
		}
		r.Rank = i + 1
		r.Engine = a.name
		r.Query = query
		r.SessionID = sessionID
		r.DiscoveredAt = time.Now().UTC()
		out = append(out, r)
	}
	return out, nil
}

func (a *fakeAdapter) Name() string { return a.name }

func (a *fakeAdapter) ProviderType() search.ProviderType { return search.ProviderKeyword }

func (a *fakeAdapter) SupportsKeywordQueries() bool { return true }

func (a *fakeAdapter) SupportsAIOptimizedQueries() bool { return a.ai }

func (a *fakeAdapter) HealthCheck(ctx context.Context) search.HealthStatus {
	return search.HealthStatus{Engine: a.name, Up: true, CheckedAt: time.Now().UTC()}
}

type fakeRegistry struct {
	adapters map[string]*fakeAdapter
}

func newFakeRegistry(adapters ...*fakeAdapter) *fakeRegistry {
	r := &fakeRegistry{adapters: map[string]*fakeAdapter{}}
	for _, a := range adapters {
		r.adapters[a.name] = a
	}
	return r
}

func (r *fakeRegistry) Adapter(name string) (search.Adapter, bool) {
	a, ok := r.adapters[name]
	return a, ok
}

func (r *fakeRegistry) Enabled() []search.Adapter {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]search.Adapter, 0, len(names))
	for _, name := range names {
		out = append(out, r.adapters[name])
	}
	return out
}

// ----------------------------------------------------------------------------
// Harness
// ----------------------------------------------------------------------------

type orchHarness struct {
	o          *Orchestrator
	sessions   *fakeSessions
	domains    *fakeDomains
	candidates *fakeCandidates
	registry   *fakeRegistry
	cache      *cache.Cache
	client     *redis.Client
	producer   *bus.Producer
}

func newOrchHarness(t *testing.T, registry *fakeRegistry, cfg Config) *orchHarness {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	sessions := newFakeSessions()
	domains := newFakeDomains()
	candidates := newFakeCandidates()
	sessionCache := cache.NewCacheWithClient(client, nil, nil)

	proc, err := pipeline.NewProcessor(pipeline.Config{}, domains, candidates, sessionCache, nil, nil)
	require.NoError(t, err)

	gen := generator.NewGenerator(nil, nil, generator.Config{}, nil, nil)

	producer, err := bus.NewProducer(client, nil, nil)
	require.NoError(t, err)

	if cfg.Consumers.Block == 0 {
		cfg.Consumers = bus.Config{
			Workers:           2,
			BatchSize:         10,
			Block:             50 * time.Millisecond,
			VisibilityTimeout: 30 * time.Second,
			ReclaimInterval:   time.Minute,
		}
	}

	o, err := NewOrchestrator(&fakeStore{sessions: sessions}, sessionCache, registry, gen, proc, producer, client, cfg, nil, nil)
	require.NoError(t, err)

	return &orchHarness{
		o:          o,
		sessions:   sessions,
		domains:    domains,
		candidates: candidates,
		registry:   registry,
		cache:      sessionCache,
		client:     client,
		producer:   producer,
	}
}

func (h *orchHarness) start(t *testing.T) {
	t.Helper()
	require.NoError(t, h.o.Start(context.Background()))
	t.Cleanup(h.o.Stop)
}

// runningSession seeds a RUNNING session with a fixed query plan,
// bypassing ExecuteSearch.
func (h *orchHarness) runningSession(t *testing.T, queriesTotal int) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	id := uuid.New()
	require.NoError(t, h.sessions.CreateSession(ctx, &types.DiscoverySession{
		ID:        id,
		Type:      types.SessionTypeManual,
		Status:    types.SessionStatusRunning,
		StartedAt: time.Now().UTC(),
		Criteria:  testCriteria(),
	}))
	require.NoError(t, h.sessions.SetQueryPlan(ctx, id, queriesTotal, "prompt", "template"))
	return id
}

func (h *orchHarness) errorEvents(t *testing.T) []bus.WorkflowErrorEvent {
	t.Helper()
	var out []bus.WorkflowErrorEvent
	for _, stream := range bus.TopicWorkflowErrors.Streams() {
		entries, err := h.client.XRange(context.Background(), stream, "-", "+").Result()
		require.NoError(t, err)
		for _, entry := range entries {
			payload, ok := entry.Values["payload"].(string)
			require.True(t, ok)
			var evt bus.WorkflowErrorEvent
			require.NoError(t, json.Unmarshal([]byte(payload), &evt))
			out = append(out, evt)
		}
	}
	return out
}

func (h *orchHarness) streamTotal(t *testing.T, topic bus.Topic) int64 {
	t.Helper()
	var total int64
	for _, stream := range topic.Streams() {
		n, err := h.client.XLen(context.Background(), stream).Result()
		require.NoError(t, err)
		total += n
	}
	return total
}

func testCriteria() types.SearchCriteria {
	return types.SearchCriteria{
		FundingSourceTypes: []string{"GRANT", "SCHOLARSHIP"},
		GeographicScopes:   []string{"Bulgaria", "European Union"},
		RecipientTypes:     []string{"NONPROFIT", "SCHOOL"},
		MaxResultsPerQuery: 20,
		QueryCount:         3,
	}
}

func keywordResult(url, title, snippet string) types.SearchResult {
	host, _ := types.ExtractDomain(url)
	return types.SearchResult{URL: url, Host: host, Title: title, Snippet: snippet}
}

func requestEvent(sessionID uuid.UUID, engine, query string) bus.SearchRequestEvent {
	return bus.SearchRequestEvent{
		RequestID:  uuid.New(),
		SessionID:  sessionID,
		Engine:     engine,
		Query:      query,
		MaxResults: 20,
		Criteria:   testCriteria(),
		Timestamp:  time.Now().UTC(),
	}
}

func rawEvent(sessionID uuid.UUID, url, host, title, description string) bus.SearchResultEvent {
	return bus.SearchResultEvent{
		SessionID:   sessionID,
		URL:         url,
		Host:        host,
		Title:       title,
		Description: description,
		Engine:      "brave",
		Query:       "grants for nonprofits Bulgaria",
		Rank:        1,
		Timestamp:   time.Now().UTC(),
	}
}

// ----------------------------------------------------------------------------
// ExecuteSearch
// ----------------------------------------------------------------------------

func TestExecuteSearchFansOutRequests(t *testing.T) {
	registry := newFakeRegistry(
		&fakeAdapter{name: "brave"},
		&fakeAdapter{name: "mojeek"},
		&fakeAdapter{name: "searx"},
	)
	h := newOrchHarness(t, registry, Config{})

	init, err := h.o.ExecuteSearch(context.Background(), testCriteria(), types.SessionTypeManual)
	require.NoError(t, err)

	assert.Equal(t, 9, init.QueriesGenerated)
	assert.Equal(t, "INITIATED", init.Status)
	assert.NotEqual(t, uuid.Nil, init.SessionID)
	assert.NotEmpty(t, init.Message)

	session, _ := h.sessions.snapshot(t, init.SessionID)
	assert.Equal(t, types.SessionStatusRunning, session.Status)
	assert.Equal(t, 9, session.QueriesTotal)
	assert.Equal(t, 0, session.QueriesCompleted)
	assert.Equal(t, "template", session.GeneratorModel)
	assert.NotEmpty(t, session.GeneratorPrompt)

	assert.EqualValues(t, 9, h.streamTotal(t, bus.TopicSearchRequests))
}

func TestExecuteSearchRejectsInvalidCriteria(t *testing.T) {
	h := newOrchHarness(t, newFakeRegistry(&fakeAdapter{name: "brave"}), Config{})

	invalid := []types.SearchCriteria{
		{GeographicScopes: []string{"Bulgaria"}, RecipientTypes: []string{"NONPROFIT"}, MaxResultsPerQuery: 20, QueryCount: 3},
		{FundingSourceTypes: []string{"GRANT"}, GeographicScopes: []string{"Bulgaria"}, RecipientTypes: []string{"NONPROFIT"}, MaxResultsPerQuery: 5, QueryCount: 3},
		{FundingSourceTypes: []string{"BRIBE"}, GeographicScopes: []string{"Bulgaria"}, RecipientTypes: []string{"NONPROFIT"}, MaxResultsPerQuery: 20, QueryCount: 3},
	}
	for _, criteria := range invalid {
		_, err := h.o.ExecuteSearch(context.Background(), criteria, types.SessionTypeManual)
		assert.Error(t, err)
	}

	assert.Equal(t, 0, h.sessions.count(), "rejected criteria must leave no session rows")
	assert.EqualValues(t, 0, h.streamTotal(t, bus.TopicSearchRequests))
}

func TestExecuteSearchFailsWithoutEngines(t *testing.T) {
	h := newOrchHarness(t, newFakeRegistry(), Config{})

	_, err := h.o.ExecuteSearch(context.Background(), testCriteria(), types.SessionTypeManual)
	require.Error(t, err)

	require.Equal(t, 1, h.sessions.count())
	for id := range h.sessions.byID {
		session, _ := h.sessions.snapshot(t, id)
		assert.Equal(t, types.SessionStatusFailed, session.Status)
		require.NotNil(t, session.FailureReason)
		assert.Equal(t, "no search engines enabled", *session.FailureReason)
	}
}

func TestExecuteSearchFailsWhenPlanCannotBeRecorded(t *testing.T) {
	h := newOrchHarness(t, newFakeRegistry(&fakeAdapter{name: "brave"}), Config{})
	h.sessions.planErr = errors.New("store unavailable")

	_, err := h.o.ExecuteSearch(context.Background(), testCriteria(), types.SessionTypeManual)
	require.Error(t, err)

	assert.EqualValues(t, 0, h.streamTotal(t, bus.TopicSearchRequests),
		"no fan-out before the plan is durable")
}

func TestExecuteLibraryFansOutTargetedQueries(t *testing.T) {
	registry := newFakeRegistry(
		&fakeAdapter{name: "brave"},
		&fakeAdapter{name: "serper"},
	)
	h := newOrchHarness(t, registry, Config{})

	queries := []types.LibraryQuery{
		{Name: "bg-ngo-grants", Text: "grants for Bulgarian nonprofits", Engines: []string{"brave"}, Enabled: true},
		{Name: "eu-calls", Text: "EU funding calls education", Enabled: true},
		{Name: "paused", Text: "dormant query", Enabled: false},
	}
	init, err := h.o.ExecuteLibrary(context.Background(), testCriteria(), queries)
	require.NoError(t, err)

	// One targeted task plus one per enabled engine for the open query.
	assert.Equal(t, 3, init.QueriesGenerated)
	assert.Equal(t, "INITIATED", init.Status)

	session, _ := h.sessions.snapshot(t, init.SessionID)
	assert.Equal(t, types.SessionTypeScheduled, session.Type)
	assert.Equal(t, types.SessionStatusRunning, session.Status)
	assert.Equal(t, 3, session.QueriesTotal)
	assert.Equal(t, "library", session.GeneratorModel)
	assert.Empty(t, session.GeneratorPrompt)

	assert.EqualValues(t, 3, h.streamTotal(t, bus.TopicSearchRequests))
}

func TestExecuteLibrarySkipsUnavailableEngines(t *testing.T) {
	h := newOrchHarness(t, newFakeRegistry(&fakeAdapter{name: "brave"}), Config{})

	queries := []types.LibraryQuery{
		{Name: "mixed", Text: "municipal grants", Engines: []string{"brave", "altavista"}, Enabled: true},
	}
	init, err := h.o.ExecuteLibrary(context.Background(), testCriteria(), queries)
	require.NoError(t, err)

	assert.Equal(t, 1, init.QueriesGenerated, "unknown engine target must be dropped from the plan")
	assert.EqualValues(t, 1, h.streamTotal(t, bus.TopicSearchRequests))
}

func TestExecuteLibraryFailsWithNoRunnableQueries(t *testing.T) {
	h := newOrchHarness(t, newFakeRegistry(&fakeAdapter{name: "brave"}), Config{})

	queries := []types.LibraryQuery{
		{Name: "paused", Text: "dormant query", Enabled: false},
		{Name: "orphaned", Text: "query for a retired engine", Engines: []string{"altavista"}, Enabled: true},
	}
	_, err := h.o.ExecuteLibrary(context.Background(), testCriteria(), queries)
	require.Error(t, err)

	require.Equal(t, 1, h.sessions.count())
	for _, rec := range h.sessions.all() {
		assert.Equal(t, types.SessionStatusFailed, rec.Status)
		require.NotNil(t, rec.FailureReason)
		assert.Equal(t, "no runnable library queries", *rec.FailureReason)
	}
	assert.EqualValues(t, 0, h.streamTotal(t, bus.TopicSearchRequests))
}

func TestExecuteLibraryRejectsEmptyBatch(t *testing.T) {
	h := newOrchHarness(t, newFakeRegistry(&fakeAdapter{name: "brave"}), Config{})

	_, err := h.o.ExecuteLibrary(context.Background(), testCriteria(), nil)
	require.Error(t, err)
	assert.Equal(t, 0, h.sessions.count(), "an empty batch must not create a session")
}

func TestPlanStyle(t *testing.T) {
	keyword := &fakeAdapter{name: "brave"}
	answers := &fakeAdapter{name: "perplexity", ai: true}
	assert.Equal(t, generator.StyleKeyword, planStyle([]search.Adapter{keyword, answers}))
	assert.Equal(t, generator.StyleAIOptimized, planStyle([]search.Adapter{answers}))
}

// ----------------------------------------------------------------------------
// Search consumer
// ----------------------------------------------------------------------------

func TestSearchTaskDrainsThroughPipeline(t *testing.T) {
	adapter := &fakeAdapter{name: "brave", results: []types.SearchResult{
		keywordResult("https://ec.europa.eu/funding/grants", "European Commission Grants for Bulgaria", "Apply for funding and scholarships today"),
		keywordResult("https://grants.bg/open-calls", "Grants for Bulgarian nonprofits", "Funding for community projects"),
	}}
	h := newOrchHarness(t, newFakeRegistry(adapter), Config{})
	h.start(t)

	id := h.runningSession(t, 1)
	_, err := h.producer.Publish(context.Background(), bus.TopicSearchRequests, id, requestEvent(id, "brave", "grants for nonprofits Bulgaria"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		session, _ := h.sessions.snapshot(t, id)
		return session.Status == types.SessionStatusCompleted
	}, 5*time.Second, 20*time.Millisecond, "session should drain to COMPLETED")

	session, stats := h.sessions.snapshot(t, id)
	assert.Equal(t, 1, session.QueriesCompleted)
	assert.Equal(t, 2, session.ResultsExpected)
	assert.Equal(t, 2, stats.ResultsFound)
	assert.Equal(t, 2, stats.ResultsProcessed)
	assert.Equal(t, 2, stats.CandidatesCreated)
	assert.Equal(t, 2, stats.HighConfidence+stats.LowConfidence)
	assert.Equal(t, 2, h.candidates.count())

	es := stats.EngineStats["brave"]
	assert.Equal(t, 1, es.Requests)
	assert.Equal(t, 2, es.Results)
	assert.Equal(t, 0, es.Failures)

	assert.EqualValues(t, 1, adapter.calls.Load())
	assert.Empty(t, h.errorEvents(t))
}

func TestSearchTaskRedeliveryIsDropped(t *testing.T) {
	adapter := &fakeAdapter{name: "brave", results: []types.SearchResult{
		keywordResult("https://grants.bg/open-calls", "Grants for nonprofits", "Funding"),
	}}
	h := newOrchHarness(t, newFakeRegistry(adapter), Config{})
	h.start(t)

	// Two tasks planned so the session stays RUNNING and keeps its
	// guard sets while the redelivery arrives.
	id := h.runningSession(t, 2)
	evt := requestEvent(id, "brave", "grants for nonprofits Bulgaria")
	_, err := h.producer.Publish(context.Background(), bus.TopicSearchRequests, id, evt)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		session, _ := h.sessions.snapshot(t, id)
		return session.QueriesCompleted == 1
	}, 5*time.Second, 20*time.Millisecond)

	// Same RequestID again, as a reclaim would deliver it.
	_, err = h.producer.Publish(context.Background(), bus.TopicSearchRequests, id, evt)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		handled, _, _, _ := h.o.searchConsumer.Stats()
		return handled >= 2
	}, 5*time.Second, 20*time.Millisecond)

	session, _ := h.sessions.snapshot(t, id)
	assert.Equal(t, 1, session.QueriesCompleted, "redelivered request must not close the task twice")
	assert.EqualValues(t, 1, adapter.calls.Load())
}

func TestAuthFailureDisablesEngineForSession(t *testing.T) {
	adapter := &fakeAdapter{name: "brave", err: search.NewError("brave", search.KindAuth, errors.New("invalid api key"))}
	h := newOrchHarness(t, newFakeRegistry(adapter), Config{})
	h.start(t)

	id := h.runningSession(t, 2)
	ctx := context.Background()

	_, err := h.producer.Publish(ctx, bus.TopicSearchRequests, id, requestEvent(id, "brave", "grants for nonprofits"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		session, _ := h.sessions.snapshot(t, id)
		return session.QueriesCompleted == 1
	}, 5*time.Second, 20*time.Millisecond)

	events := h.errorEvents(t)
	require.Len(t, events, 1)
	assert.Equal(t, "AUTH", events[0].ErrorType)
	assert.Equal(t, bus.StageSearchExecution, events[0].Stage)
	assert.Equal(t, id, events[0].SessionID)
	require.NotNil(t, events[0].RequestID)
	assert.Equal(t, "brave", events[0].Context["engine"])

	// The engine is now dead for this session: the second task is
	// discarded without an adapter call or another error event.
	_, err = h.producer.Publish(ctx, bus.TopicSearchRequests, id, requestEvent(id, "brave", "scholarships Bulgaria"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		session, _ := h.sessions.snapshot(t, id)
		return session.Status == types.SessionStatusCompleted
	}, 5*time.Second, 20*time.Millisecond)

	session, stats := h.sessions.snapshot(t, id)
	assert.Equal(t, 2, session.QueriesCompleted)
	assert.EqualValues(t, 1, adapter.calls.Load(), "disabled engine must not be called again")
	assert.Len(t, h.errorEvents(t), 1, "discarded tasks produce no extra error events")
	assert.Equal(t, 1, stats.EngineStats["brave"].Failures)
}

func TestSearchFailureDeadLetterPolicy(t *testing.T) {
	// Transient kinds arrive here with retries exhausted and dead-letter.
	// Rate-limit and open-circuit short-circuits are backpressure, not
	// errors worth an event.
	cases := []struct {
		kind       search.ErrorKind
		deadLetter bool
	}{
		{search.KindTimeout, true},
		{search.KindRemote5xx, true},
		{search.KindParse, true},
		{search.KindUnknown, true},
		{search.KindRateLimited, false},
		{search.KindCircuitOpen, false},
	}

	for _, tc := range cases {
		t.Run(string(tc.kind), func(t *testing.T) {
			adapter := &fakeAdapter{name: "brave", err: search.NewError("brave", tc.kind, errors.New("boom"))}
			h := newOrchHarness(t, newFakeRegistry(adapter), Config{})
			h.start(t)

			id := h.runningSession(t, 1)
			_, err := h.producer.Publish(context.Background(), bus.TopicSearchRequests, id, requestEvent(id, "brave", "grants"))
			require.NoError(t, err)

			require.Eventually(t, func() bool {
				session, _ := h.sessions.snapshot(t, id)
				return session.Status == types.SessionStatusCompleted
			}, 5*time.Second, 20*time.Millisecond, "failed task still closes and finalizes")

			events := h.errorEvents(t)
			if tc.deadLetter {
				require.Len(t, events, 1)
				assert.Equal(t, string(tc.kind), events[0].ErrorType)
			} else {
				assert.Empty(t, events)
			}

			_, stats := h.sessions.snapshot(t, id)
			assert.Equal(t, 1, stats.EngineStats["brave"].Failures)
		})
	}
}

func TestUnknownEngineTaskIsDiscarded(t *testing.T) {
	h := newOrchHarness(t, newFakeRegistry(&fakeAdapter{name: "brave"}), Config{})
	h.start(t)

	id := h.runningSession(t, 1)
	_, err := h.producer.Publish(context.Background(), bus.TopicSearchRequests, id, requestEvent(id, "altavista", "grants"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		session, _ := h.sessions.snapshot(t, id)
		return session.Status == types.SessionStatusCompleted
	}, 5*time.Second, 20*time.Millisecond)

	session, _ := h.sessions.snapshot(t, id)
	assert.Equal(t, 1, session.QueriesCompleted)
	assert.Equal(t, 0, session.ResultsExpected)
}

// ----------------------------------------------------------------------------
// Validation consumer
// ----------------------------------------------------------------------------

func TestValidationDropsBlacklistedHost(t *testing.T) {
	h := newOrchHarness(t, newFakeRegistry(&fakeAdapter{name: "brave"}), Config{})
	h.start(t)
	ctx := context.Background()

	require.NoError(t, h.cache.SetBlacklisted(ctx, "casinowinners.com", true))

	id := h.runningSession(t, 1)
	require.NoError(t, h.sessions.RecordQueryDone(ctx, id, 1))

	_, err := h.producer.Publish(ctx, bus.TopicResultsRaw, id,
		rawEvent(id, "https://casinowinners.com/jackpot", "casinowinners.com", "Grants available", "Win big"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		session, _ := h.sessions.snapshot(t, id)
		return session.Status == types.SessionStatusCompleted
	}, 5*time.Second, 20*time.Millisecond)

	_, stats := h.sessions.snapshot(t, id)
	assert.Equal(t, 1, stats.BlacklistedSkipped)
	assert.Equal(t, 1, stats.ResultsProcessed)
	assert.Equal(t, 0, stats.CandidatesCreated)
	assert.Equal(t, 0, h.candidates.count())
	assert.EqualValues(t, 0, h.streamTotal(t, bus.TopicResultsValidated),
		"blacklisted hosts are dropped before scoring")
}

func TestValidationDropsUnparseableURL(t *testing.T) {
	h := newOrchHarness(t, newFakeRegistry(&fakeAdapter{name: "brave"}), Config{})
	h.start(t)
	ctx := context.Background()

	id := h.runningSession(t, 1)
	require.NoError(t, h.sessions.RecordQueryDone(ctx, id, 1))

	_, err := h.producer.Publish(ctx, bus.TopicResultsRaw, id,
		rawEvent(id, ":::", "", "Grants available", ""))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		session, _ := h.sessions.snapshot(t, id)
		return session.Status == types.SessionStatusCompleted
	}, 5*time.Second, 20*time.Millisecond)

	_, stats := h.sessions.snapshot(t, id)
	assert.Equal(t, 1, stats.InvalidURLsSkipped)
	assert.Equal(t, 1, stats.ResultsProcessed)
	assert.EqualValues(t, 0, h.streamTotal(t, bus.TopicResultsValidated))
}

func TestValidationDropRedeliveryCountsOnce(t *testing.T) {
	h := newOrchHarness(t, newFakeRegistry(&fakeAdapter{name: "brave"}), Config{})
	h.start(t)
	ctx := context.Background()

	require.NoError(t, h.cache.SetBlacklisted(ctx, "casinowinners.com", true))

	id := h.runningSession(t, 1)
	require.NoError(t, h.sessions.RecordQueryDone(ctx, id, 1))

	evt := rawEvent(id, "https://casinowinners.com/jackpot", "casinowinners.com", "Grants available", "")
	_, err := h.producer.Publish(ctx, bus.TopicResultsRaw, id, evt)
	require.NoError(t, err)
	_, err = h.producer.Publish(ctx, bus.TopicResultsRaw, id, evt)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		handled, _, _, _ := h.o.validationConsumer.Stats()
		return handled >= 2
	}, 5*time.Second, 20*time.Millisecond)

	_, stats := h.sessions.snapshot(t, id)
	assert.Equal(t, 1, stats.BlacklistedSkipped, "same drop must not count twice")
	assert.Equal(t, 1, stats.ResultsProcessed)
}

func TestValidationForwardsCleanResult(t *testing.T) {
	h := newOrchHarness(t, newFakeRegistry(&fakeAdapter{name: "brave"}), Config{})
	h.start(t)
	ctx := context.Background()

	id := h.runningSession(t, 1)
	require.NoError(t, h.sessions.RecordQueryDone(ctx, id, 1))

	// Host intentionally empty: validation derives it from the URL.
	_, err := h.producer.Publish(ctx, bus.TopicResultsRaw, id,
		rawEvent(id, "https://www.grants.bg/open-calls", "", "Grants for Bulgarian nonprofits", "Funding for community projects"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		session, _ := h.sessions.snapshot(t, id)
		return session.Status == types.SessionStatusCompleted
	}, 5*time.Second, 20*time.Millisecond)

	_, stats := h.sessions.snapshot(t, id)
	assert.Equal(t, 1, stats.ResultsProcessed)
	assert.Equal(t, 1, stats.CandidatesCreated)
	assert.Equal(t, 1, h.candidates.count())
}

// ----------------------------------------------------------------------------
// Scoring consumer
// ----------------------------------------------------------------------------

func TestScoringRedeliveryCountsOnce(t *testing.T) {
	h := newOrchHarness(t, newFakeRegistry(&fakeAdapter{name: "brave"}), Config{})
	h.start(t)
	ctx := context.Background()

	id := h.runningSession(t, 1)
	require.NoError(t, h.sessions.RecordQueryDone(ctx, id, 1))

	evt := bus.ValidatedResultEvent{SearchResultEvent: rawEvent(id,
		"https://grants.bg/open-calls", "grants.bg", "Grants for nonprofits", "Funding")}
	_, err := h.producer.Publish(ctx, bus.TopicResultsValidated, id, evt)
	require.NoError(t, err)
	_, err = h.producer.Publish(ctx, bus.TopicResultsValidated, id, evt)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		handled, _, _, _ := h.o.scoringConsumer.Stats()
		return handled >= 2
	}, 5*time.Second, 20*time.Millisecond)

	_, stats := h.sessions.snapshot(t, id)
	assert.Equal(t, 1, stats.ResultsProcessed, "redelivery must not double-count")
	assert.Equal(t, 0, stats.DuplicatesSkipped)
	assert.Equal(t, 1, h.candidates.count())
}

func TestScoringDropsStaleResultForTerminalSession(t *testing.T) {
	h := newOrchHarness(t, newFakeRegistry(&fakeAdapter{name: "brave"}), Config{})
	h.start(t)
	ctx := context.Background()

	id := h.runningSession(t, 1)
	h.sessions.forceStatus(id, types.SessionStatusFailed)

	evt := bus.ValidatedResultEvent{SearchResultEvent: rawEvent(id,
		"https://grants.bg/open-calls", "grants.bg", "Grants", "Funding")}
	_, err := h.producer.Publish(ctx, bus.TopicResultsValidated, id, evt)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, acked, _, _ := h.o.scoringConsumer.Stats()
		return acked >= 1
	}, 5*time.Second, 20*time.Millisecond)

	_, stats := h.sessions.snapshot(t, id)
	assert.Equal(t, 0, stats.ResultsProcessed, "stale output is ignored")
	assert.Equal(t, 0, h.candidates.count())
	assert.Empty(t, h.errorEvents(t))
}

func TestScoringDeadLetterReplayLandsAsFresh(t *testing.T) {
	h := newOrchHarness(t, newFakeRegistry(&fakeAdapter{name: "brave"}), Config{})
	h.start(t)
	ctx := context.Background()

	id := h.runningSession(t, 1)
	require.NoError(t, h.sessions.RecordQueryDone(ctx, id, 1))

	// Both attempts of the persistence stage fail for the first
	// delivery; the result must dead-letter with its guards re-armed.
	h.candidates.setCreateFailures(2)

	evt := bus.ValidatedResultEvent{SearchResultEvent: rawEvent(id,
		"https://grants.bg/open-calls", "grants.bg", "Foundation Grants for Bulgarian Nonprofits", "Funding for community projects")}
	_, err := h.producer.Publish(ctx, bus.TopicResultsValidated, id, evt)
	require.NoError(t, err)

	var errorID uuid.UUID
	require.Eventually(t, func() bool {
		events := h.errorEvents(t)
		if len(events) != 1 {
			return false
		}
		errorID = events[0].ErrorID
		return true
	}, 5*time.Second, 20*time.Millisecond, "persistence failure should dead-letter the result")

	events := h.errorEvents(t)
	assert.Equal(t, bus.StageResultProcessing, events[0].Stage)
	assert.Equal(t, bus.TopicResultsValidated, events[0].OriginalTopic)
	_, stats := h.sessions.snapshot(t, id)
	assert.Equal(t, 0, stats.ResultsProcessed)
	assert.Equal(t, 0, h.candidates.count())

	// Store recovered; replay the dead letter. The guards were re-armed
	// on failure, so the replay processes as a fresh first delivery.
	replayer, err := bus.NewReplayer(h.client, h.producer, nil)
	require.NoError(t, err)
	_, err = replayer.Replay(ctx, errorID)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		session, _ := h.sessions.snapshot(t, id)
		return session.Status == types.SessionStatusCompleted
	}, 5*time.Second, 20*time.Millisecond)

	_, stats = h.sessions.snapshot(t, id)
	assert.Equal(t, 1, stats.ResultsProcessed)
	assert.Equal(t, 1, stats.HighConfidence)
	assert.Equal(t, 0, stats.DuplicatesSkipped, "replay must not classify as duplicate")
	assert.Equal(t, 1, h.candidates.count())
}

// ----------------------------------------------------------------------------
// Sweep and lifecycle
// ----------------------------------------------------------------------------

func TestSweepFailsStaleSessions(t *testing.T) {
	cfg := Config{
		SoftDeadline:  100 * time.Millisecond,
		SweepInterval: 20 * time.Millisecond,
		Consumers: bus.Config{
			Workers:           1,
			BatchSize:         10,
			Block:             50 * time.Millisecond,
			VisibilityTimeout: 30 * time.Second,
			ReclaimInterval:   time.Minute,
		},
	}
	h := newOrchHarness(t, newFakeRegistry(&fakeAdapter{name: "brave"}), cfg)

	id := h.runningSession(t, 5)
	h.sessions.backdate(id, time.Now().UTC().Add(-time.Hour))
	h.start(t)

	require.Eventually(t, func() bool {
		session, _ := h.sessions.snapshot(t, id)
		return session.Status == types.SessionStatusFailed
	}, 5*time.Second, 20*time.Millisecond)

	session, _ := h.sessions.snapshot(t, id)
	require.NotNil(t, session.FailureReason)
	assert.Equal(t, "session deadline exceeded", *session.FailureReason)
	assert.GreaterOrEqual(t, h.o.Swept(), int64(1))
}

func TestOrchestratorStartStop(t *testing.T) {
	h := newOrchHarness(t, newFakeRegistry(&fakeAdapter{name: "brave"}), Config{})

	require.NoError(t, h.o.Start(context.Background()))
	assert.Error(t, h.o.Start(context.Background()), "second start must fail")

	done := make(chan struct{})
	go func() {
		h.o.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("stop did not return")
	}
	h.o.Stop() // no-op
}

func TestNewOrchestratorValidation(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	sessionCache := cache.NewCacheWithClient(client, nil, nil)
	proc, err := pipeline.NewProcessor(pipeline.Config{}, newFakeDomains(), newFakeCandidates(), sessionCache, nil, nil)
	require.NoError(t, err)
	gen := generator.NewGenerator(nil, nil, generator.Config{}, nil, nil)
	producer, err := bus.NewProducer(client, nil, nil)
	require.NoError(t, err)
	store := &fakeStore{sessions: newFakeSessions()}
	registry := newFakeRegistry(&fakeAdapter{name: "brave"})

	_, err = NewOrchestrator(nil, sessionCache, registry, gen, proc, producer, client, Config{}, nil, nil)
	assert.Error(t, err)
	_, err = NewOrchestrator(store, nil, registry, gen, proc, producer, client, Config{}, nil, nil)
	assert.Error(t, err)
	_, err = NewOrchestrator(store, sessionCache, nil, gen, proc, producer, client, Config{}, nil, nil)
	assert.Error(t, err)
	_, err = NewOrchestrator(store, sessionCache, registry, gen, proc, nil, client, Config{}, nil, nil)
	assert.Error(t, err)
	_, err = NewOrchestrator(store, sessionCache, registry, gen, proc, producer, nil, Config{}, nil, nil)
	assert.Error(t, err)

	o, err := NewOrchestrator(store, sessionCache, registry, gen, proc, producer, client, Config{}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, o.cfg.SoftDeadline)
	assert.Equal(t, 5*time.Minute, o.cfg.SweepInterval)
}
