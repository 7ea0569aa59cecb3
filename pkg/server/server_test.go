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

package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/teradata-labs/prospector/pkg/observability"
	"github.com/teradata-labs/prospector/pkg/orchestrator"
	"github.com/teradata-labs/prospector/pkg/storage"
	"github.com/teradata-labs/prospector/pkg/types"
)

type fakeLauncher struct {
	mu       sync.Mutex
	criteria []types.SearchCriteria
	kinds    []types.SessionType
	receipt  *orchestrator.SearchInitiation
	err      error
}

func (f *fakeLauncher) ExecuteSearch(ctx context.Context, criteria types.SearchCriteria, sessionType types.SessionType) (*orchestrator.SearchInitiation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.criteria = append(f.criteria, criteria)
	f.kinds = append(f.kinds, sessionType)
	if f.err != nil {
		return nil, f.err
	}
	if f.receipt != nil {
		return f.receipt, nil
	}
	return &orchestrator.SearchInitiation{
		SessionID:        uuid.New(),
		QueriesGenerated: 5,
		Status:           "INITIATED",
	}, nil
}

func (f *fakeLauncher) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.criteria)
}

type fakeSessionStore struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*types.DiscoverySession
	order    []uuid.UUID
	getErr   error
	lastList storage.SessionFilters
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{sessions: make(map[uuid.UUID]*types.DiscoverySession)}
}

func (f *fakeSessionStore) seed(sessions ...*types.DiscoverySession) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range sessions {
		f.sessions[s.ID] = s
		f.order = append(f.order, s.ID)
	}
}

func (f *fakeSessionStore) CreateSession(ctx context.Context, session *types.DiscoverySession) error {
	f.seed(session)
	return nil
}

func (f *fakeSessionStore) GetSession(ctx context.Context, id uuid.UUID) (*types.DiscoverySession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	s, ok := f.sessions[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return s, nil
}

func (f *fakeSessionStore) ListSessions(ctx context.Context, filters storage.SessionFilters) ([]*types.DiscoverySession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastList = filters
	out := make([]*types.DiscoverySession, 0, len(f.order))
	for i := len(f.order) - 1; i >= 0; i-- {
		if filters.Limit > 0 && len(out) >= filters.Limit {
			break
		}
		out = append(out, f.sessions[f.order[i]])
	}
	return out, nil
}

func (f *fakeSessionStore) SetQueryPlan(ctx context.Context, id uuid.UUID, queriesTotal int, prompt, model string) error {
	return nil
}

func (f *fakeSessionStore) RecordQueryDone(ctx context.Context, id uuid.UUID, resultsShipped int) error {
	return nil
}

func (f *fakeSessionStore) IncrementStats(ctx context.Context, id uuid.UUID, delta storage.StatsDelta) error {
	return nil
}

func (f *fakeSessionStore) RecordEngineOutcome(ctx context.Context, id uuid.UUID, engine string, results int, failed bool) error {
	return nil
}

func (f *fakeSessionStore) TryFinalize(ctx context.Context, id uuid.UUID) (bool, error) {
	return false, nil
}

func (f *fakeSessionStore) FailSession(ctx context.Context, id uuid.UUID, reason string) error {
	return nil
}

func (f *fakeSessionStore) CancelSession(ctx context.Context, id uuid.UUID) error {
	return nil
}

func (f *fakeSessionStore) SweepStale(ctx context.Context, olderThan time.Duration) (int, error) {
	return 0, nil
}

type fakeCandidateStore struct {
	mu         sync.Mutex
	candidates map[uuid.UUID]*types.FundingSourceCandidate
	listed     []*types.FundingSourceCandidate
	total      int
	lastList   storage.CandidateFilters
	reviewers  []string
	notes      []string
	reviewErr  error
}

func newFakeCandidateStore() *fakeCandidateStore {
	return &fakeCandidateStore{candidates: make(map[uuid.UUID]*types.FundingSourceCandidate)}
}

func (f *fakeCandidateStore) seed(candidates ...*types.FundingSourceCandidate) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range candidates {
		f.candidates[c.ID] = c
	}
}

func (f *fakeCandidateStore) CreateWithJudgment(ctx context.Context, c *types.FundingSourceCandidate, j *types.MetadataJudgment) error {
	f.seed(c)
	return nil
}

func (f *fakeCandidateStore) GetCandidate(ctx context.Context, id uuid.UUID) (*types.FundingSourceCandidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.candidates[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return c, nil
}

func (f *fakeCandidateStore) ListCandidates(ctx context.Context, filters storage.CandidateFilters) ([]*types.FundingSourceCandidate, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastList = filters
	return f.listed, f.total, nil
}

func (f *fakeCandidateStore) review(id uuid.UUID, reviewer, notes string, to types.CandidateStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reviewErr != nil {
		return f.reviewErr
	}
	c, ok := f.candidates[id]
	if !ok {
		return storage.ErrNotFound
	}
	if c.Status == to {
		return storage.ErrAlreadyInState
	}
	c.Status = to
	c.ReviewedBy = &reviewer
	f.reviewers = append(f.reviewers, reviewer)
	f.notes = append(f.notes, notes)
	return nil
}

func (f *fakeCandidateStore) Approve(ctx context.Context, id uuid.UUID, reviewer string, notes string) error {
	return f.review(id, reviewer, notes, types.CandidateStatusApproved)
}

func (f *fakeCandidateStore) Reject(ctx context.Context, id uuid.UUID, reviewer string, notes string) error {
	return f.review(id, reviewer, notes, types.CandidateStatusRejected)
}

func (f *fakeCandidateStore) ListJudgments(ctx context.Context, sessionID uuid.UUID) ([]*types.MetadataJudgment, error) {
	return nil, nil
}

func (f *fakeCandidateStore) AppendEnhancement(ctx context.Context, rec *types.EnhancementRecord) error {
	return nil
}

func (f *fakeCandidateStore) ListEnhancements(ctx context.Context, candidateID uuid.UUID) ([]*types.EnhancementRecord, error) {
	return nil, nil
}

// newTestServer builds a server over fakes, plus an httptest listener
// for driving the router.
func newTestServer(t *testing.T, cfg Config) (*Server, *httptest.Server, *fakeLauncher, *fakeSessionStore, *fakeCandidateStore) {
	t.Helper()
	launcher := &fakeLauncher{}
	sessions := newFakeSessionStore()
	candidates := newFakeCandidateStore()

	s, err := NewServer(launcher, sessions, candidates, cfg, zap.NewNop())
	require.NoError(t, err)

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts, launcher, sessions, candidates
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestNewServerValidation(t *testing.T) {
	launcher := &fakeLauncher{}
	sessions := newFakeSessionStore()
	candidates := newFakeCandidateStore()

	_, err := NewServer(nil, sessions, candidates, Config{}, nil)
	require.ErrorContains(t, err, "launcher")

	_, err = NewServer(launcher, nil, candidates, Config{}, nil)
	require.ErrorContains(t, err, "session store")

	_, err = NewServer(launcher, sessions, nil, Config{}, nil)
	require.ErrorContains(t, err, "candidate store")

	s, err := NewServer(launcher, sessions, candidates, Config{}, nil)
	require.NoError(t, err)
	assert.Equal(t, ":8080", s.cfg.Addr)
	assert.Equal(t, 15*time.Second, s.cfg.ShutdownTimeout)
	assert.Equal(t, 20, s.cfg.RecentLimit)
}

func TestHealthzAllPassing(t *testing.T) {
	s, ts, _, _, _ := newTestServer(t, Config{})
	s.AddHealthCheck("store", func(ctx context.Context) error { return nil })
	s.AddHealthCheck("cache", func(ctx context.Context) error { return nil })

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody[map[string]any](t, resp)
	assert.Equal(t, "ok", body["status"])
	checks := body["checks"].(map[string]any)
	assert.Equal(t, "ok", checks["store"])
	assert.Equal(t, "ok", checks["cache"])
}

func TestHealthzReportsFailure(t *testing.T) {
	s, ts, _, _, _ := newTestServer(t, Config{})
	s.AddHealthCheck("store", func(ctx context.Context) error { return nil })
	s.AddHealthCheck("cache", func(ctx context.Context) error { return errors.New("connection refused") })

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	body := decodeBody[map[string]any](t, resp)
	assert.Equal(t, "degraded", body["status"])
	checks := body["checks"].(map[string]any)
	assert.Equal(t, "ok", checks["store"])
	assert.Contains(t, checks["cache"], "connection refused")
}

func TestMetricsEndpointServesRegistry(t *testing.T) {
	s, ts, _, _, _ := newTestServer(t, Config{})
	s.SetMetrics(observability.NewMetrics())

	// A first request seeds the HTTP counters the scrape then shows.
	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "prospector_http_requests_total")
}

func TestMetricsEndpointWithoutInstruments(t *testing.T) {
	// No SetMetrics call; the endpoint still serves the default gatherer.
	_, ts, _, _, _ := newTestServer(t, Config{})

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestErrorBodyCarriesRequestID(t *testing.T) {
	_, ts, _, _, _ := newTestServer(t, Config{})

	resp, err := http.Get(ts.URL + "/api/sessions/not-a-uuid")
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body := decodeBody[errorBody](t, resp)
	assert.Equal(t, "invalid session id", body.Error)
	assert.NotEmpty(t, body.RequestID)
}

func TestCORSPreflight(t *testing.T) {
	_, ts, _, _, _ := newTestServer(t, Config{CORSOrigins: []string{"http://localhost:3000"}})

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/api/search/execute", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "http://localhost:3000", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestServerStartStop(t *testing.T) {
	s, _, _, _, _ := newTestServer(t, Config{Addr: "127.0.0.1:0", StreamInterval: 10 * time.Millisecond})

	require.NoError(t, s.Start(context.Background()))
	require.ErrorContains(t, s.Start(context.Background()), "already started")

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not return")
	}

	// Stop on a stopped server is a no-op.
	s.Stop()
}
