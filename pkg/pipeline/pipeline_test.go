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
package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/prospector/pkg/cache"
	"github.com/teradata-labs/prospector/pkg/storage"
	"github.com/teradata-labs/prospector/pkg/types"
)

// ----------------------------------------------------------------------------
// Store fakes
// ----------------------------------------------------------------------------

type qualityRecord struct {
	host       string
	confidence types.Confidence
	high       bool
}

type fakeDomains struct {
	mu              sync.Mutex
	byName          map[string]*types.Domain
	quality         []qualityRecord
	registerErr     error
	qualityFailures int
}

func newFakeDomains() *fakeDomains {
	return &fakeDomains{byName: map[string]*types.Domain{}}
}

func (f *fakeDomains) RegisterOrGet(ctx context.Context, host string, sessionID uuid.UUID) (*types.Domain, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.registerErr != nil {
		return nil, false, f.registerErr
	}
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
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.qualityFailures > 0 {
		f.qualityFailures--
		return errors.New("store unavailable")
	}
	for _, dom := range f.byName {
		if dom.ID != id {
			continue
		}
		if dom.Status == types.DomainStatusBlacklisted {
			return nil
		}
		if confidence > dom.BestConfidence {
			dom.BestConfidence = confidence
		}
		if highQuality {
			dom.HighQualityCount++
		} else {
			dom.LowQualityCount++
		}
		f.quality = append(f.quality, qualityRecord{host: dom.Name, confidence: confidence, high: highQuality})
		return nil
	}
	return storage.ErrNotFound
}

func (f *fakeDomains) Blacklist(ctx context.Context, host, reason, actor string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	dom, ok := f.byName[host]
	if !ok {
		dom = &types.Domain{ID: uuid.New(), Name: host, DiscoveredAt: time.Now().UTC()}
		f.byName[host] = dom
	}
	dom.Status = types.DomainStatusBlacklisted
	dom.BlacklistReason = &reason
	dom.BlacklistedBy = &actor
	return nil
}

func (f *fakeDomains) Unblacklist(ctx context.Context, host, actor string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	dom, ok := f.byName[host]
	if !ok {
		return storage.ErrNotFound
	}
	dom.Status = types.DomainStatusDiscovered
	return nil
}

func (f *fakeDomains) MarkNoFunds(ctx context.Context, host string, year int, notes string) error {
	return nil
}

func (f *fakeDomains) RecordFailure(ctx context.Context, id uuid.UUID, reason string) error {
	return nil
}

func (f *fakeDomains) CountByStatus(ctx context.Context) (map[types.DomainStatus]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[types.DomainStatus]int{}
	for _, dom := range f.byName {
		out[dom.Status]++
	}
	return out, nil
}

func (f *fakeDomains) qualityUpdates() []qualityRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]qualityRecord, len(f.quality))
	copy(out, f.quality)
	return out
}

type fakeCandidates struct {
	mu             sync.Mutex
	byKey          map[string]*types.FundingSourceCandidate
	judgments      []*types.MetadataJudgment
	createFailures int
}

func newFakeCandidates() *fakeCandidates {
	return &fakeCandidates{byKey: map[string]*types.FundingSourceCandidate{}}
}

func candidateKey(sessionID uuid.UUID, host string) string {
	return sessionID.String() + "|" + host
}

func (f *fakeCandidates) CreateWithJudgment(ctx context.Context, c *types.FundingSourceCandidate, j *types.MetadataJudgment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createFailures > 0 {
		f.createFailures--
		return errors.New("store unavailable")
	}
	key := candidateKey(c.SessionID, c.DomainName)
	if _, ok := f.byKey[key]; ok {
		return storage.ErrDuplicate
	}
	f.byKey[key] = c
	f.judgments = append(f.judgments, j)
	return nil
}

func (f *fakeCandidates) GetCandidate(ctx context.Context, id uuid.UUID) (*types.FundingSourceCandidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.byKey {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (f *fakeCandidates) ListCandidates(ctx context.Context, filters storage.CandidateFilters) ([]*types.FundingSourceCandidate, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*types.FundingSourceCandidate, 0, len(f.byKey))
	for _, c := range f.byKey {
		out = append(out, c)
	}
	return out, len(out), nil
}

func (f *fakeCandidates) Approve(ctx context.Context, id uuid.UUID, reviewer, notes string) error {
	return nil
}

func (f *fakeCandidates) Reject(ctx context.Context, id uuid.UUID, reviewer, notes string) error {
	return nil
}

func (f *fakeCandidates) ListJudgments(ctx context.Context, sessionID uuid.UUID) ([]*types.MetadataJudgment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.MetadataJudgment
	for _, j := range f.judgments {
		if j.SessionID == sessionID {
			out = append(out, j)
		}
	}
	return out, nil
}

func (f *fakeCandidates) AppendEnhancement(ctx context.Context, rec *types.EnhancementRecord) error {
	return nil
}

func (f *fakeCandidates) ListEnhancements(ctx context.Context, candidateID uuid.UUID) ([]*types.EnhancementRecord, error) {
	return nil, nil
}

func (f *fakeCandidates) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.byKey)
}

// ----------------------------------------------------------------------------
// Harness
// ----------------------------------------------------------------------------

type pipelineHarness struct {
	proc       *Processor
	domains    *fakeDomains
	candidates *fakeCandidates
	cache      *cache.Cache
}

func newHarness(t *testing.T, cfg Config) *pipelineHarness {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	domains := newFakeDomains()
	candidates := newFakeCandidates()
	dedup := cache.NewCacheWithClient(client, nil, nil)

	proc, err := NewProcessor(cfg, domains, candidates, dedup, nil, nil)
	require.NoError(t, err)

	return &pipelineHarness{proc: proc, domains: domains, candidates: candidates, cache: dedup}
}

func rawResult(sessionID uuid.UUID, url, title, snippet string) types.SearchResult {
	return types.SearchResult{
		URL:          url,
		Title:        title,
		Snippet:      snippet,
		Rank:         1,
		Engine:       "brave",
		Query:        "grants for nonprofits Bulgaria",
		SessionID:    sessionID,
		DiscoveredAt: time.Now().UTC(),
	}
}

// ----------------------------------------------------------------------------
// Tests
// ----------------------------------------------------------------------------

func TestNewProcessorValidation(t *testing.T) {
	_, err := NewProcessor(Config{}, nil, newFakeCandidates(), nil, nil, nil)
	assert.Error(t, err)

	_, err = NewProcessor(Config{}, newFakeDomains(), nil, nil, nil, nil)
	assert.Error(t, err)

	_, err = NewProcessor(Config{AntiSpamPolicy: "sometimes"}, newFakeDomains(), newFakeCandidates(), nil, nil, nil)
	assert.Error(t, err)

	p, err := NewProcessor(Config{}, newFakeDomains(), newFakeCandidates(), nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfidenceThreshold, p.Threshold())
}

func TestProcessHighConfidenceCandidate(t *testing.T) {
	h := newHarness(t, Config{})
	sctx := NewSessionContext(uuid.New(), testCriteria())

	out, err := h.proc.Process(context.Background(), sctx,
		rawResult(sctx.SessionID, "https://example.ngo/grants",
			"European Commission Grants for Bulgaria",
			"Apply for funding and scholarships today"))
	require.NoError(t, err)

	assert.Equal(t, ClassHighConfidence, out.Class)
	assert.Equal(t, "example.ngo", out.Host)
	assert.Equal(t, "0.90", out.Confidence.String())
	require.NotNil(t, out.Candidate)
	assert.Equal(t, types.CandidateStatusPendingCrawl, out.Candidate.Status)
	assert.Equal(t, "brave", out.Candidate.Engine)

	// Judgment breakdown row rides along.
	judgments, err := h.candidates.ListJudgments(context.Background(), sctx.SessionID)
	require.NoError(t, err)
	require.Len(t, judgments, 1)
	assert.Equal(t, out.Candidate.ID, judgments[0].CandidateID)
	assert.Equal(t, types.Score(20), judgments[0].DomainCredibilityScore)
	assert.Equal(t, types.Score(15), judgments[0].CompoundBonus)

	// Domain registered and its quality folded in.
	dom, err := h.domains.GetDomainByName(context.Background(), "example.ngo")
	require.NoError(t, err)
	assert.Equal(t, types.Confidence(90), dom.BestConfidence)
	assert.Equal(t, 1, dom.HighQualityCount)

	d := out.Delta()
	assert.Equal(t, 1, d.ResultsProcessed)
	assert.Equal(t, 1, d.HighConfidence)
	assert.Equal(t, 1, d.CandidatesCreated)
}

func TestProcessLowConfidenceStillPersists(t *testing.T) {
	h := newHarness(t, Config{})
	sctx := NewSessionContext(uuid.New(), testCriteria())

	out, err := h.proc.Process(context.Background(), sctx,
		rawResult(sctx.SessionID, "https://widget-news.com/post", "Widget of the year", "All about widgets"))
	require.NoError(t, err)

	assert.Equal(t, ClassLowConfidence, out.Class)
	require.NotNil(t, out.Candidate)
	assert.Equal(t, types.CandidateStatusSkippedLowConf, out.Candidate.Status)
	assert.Equal(t, 1, h.candidates.count())

	updates := h.domains.qualityUpdates()
	require.Len(t, updates, 1)
	assert.False(t, updates[0].high)
}

func TestProcessThresholdBoundary(t *testing.T) {
	// The classification is >= threshold, so a 0.90 result is high at
	// exactly 0.90 and low one hundredth above.
	h := newHarness(t, Config{ConfidenceThreshold: 90})
	sctx := NewSessionContext(uuid.New(), testCriteria())

	out, err := h.proc.Process(context.Background(), sctx,
		rawResult(sctx.SessionID, "https://example.ngo/grants",
			"European Commission Grants for Bulgaria",
			"Apply for funding and scholarships today"))
	require.NoError(t, err)
	assert.Equal(t, ClassHighConfidence, out.Class)

	h = newHarness(t, Config{ConfidenceThreshold: 91})
	sctx = NewSessionContext(uuid.New(), testCriteria())

	out, err = h.proc.Process(context.Background(), sctx,
		rawResult(sctx.SessionID, "https://example.ngo/grants",
			"European Commission Grants for Bulgaria",
			"Apply for funding and scholarships today"))
	require.NoError(t, err)
	assert.Equal(t, ClassLowConfidence, out.Class)
}

func TestProcessInvalidURL(t *testing.T) {
	h := newHarness(t, Config{})
	sctx := NewSessionContext(uuid.New(), testCriteria())

	for _, url := range []string{"", "not a url at all", "https://"} {
		out, err := h.proc.Process(context.Background(), sctx, rawResult(sctx.SessionID, url, "Grants", ""))
		require.NoError(t, err)
		assert.Equal(t, ClassInvalidURL, out.Class, "url %q", url)
		assert.Nil(t, out.Candidate)
	}

	assert.Equal(t, 0, h.candidates.count())
	assert.Equal(t, 3, sctx.Stats().InvalidURLsSkipped)
}

func TestProcessSpamTLDFiltered(t *testing.T) {
	h := newHarness(t, Config{})
	sctx := NewSessionContext(uuid.New(), testCriteria())

	out, err := h.proc.Process(context.Background(), sctx,
		rawResult(sctx.SessionID, "https://free-grants.xyz/win", "Grants available", ""))
	require.NoError(t, err)

	assert.Equal(t, ClassSpamTLD, out.Class)
	assert.Nil(t, out.Candidate)
	assert.Equal(t, 0, h.candidates.count())
	assert.Equal(t, 1, sctx.Stats().SpamTLDFiltered)
}

func TestProcessDeduplicatesWithinSession(t *testing.T) {
	h := newHarness(t, Config{})
	sctx := NewSessionContext(uuid.New(), testCriteria())

	first, err := h.proc.Process(context.Background(), sctx,
		rawResult(sctx.SessionID, "https://example.ngo/grants", "European Commission Grants for Bulgaria", ""))
	require.NoError(t, err)
	require.NotEqual(t, ClassDuplicate, first.Class)

	second, err := h.proc.Process(context.Background(), sctx,
		rawResult(sctx.SessionID, "https://example.ngo/other-page", "Another grants page", ""))
	require.NoError(t, err)

	assert.Equal(t, ClassDuplicate, second.Class)
	assert.Nil(t, second.Candidate)
	assert.Equal(t, 1, h.candidates.count())
	assert.Equal(t, 1, sctx.Stats().DuplicatesSkipped)
}

func TestProcessBlacklistReadThrough(t *testing.T) {
	h := newHarness(t, Config{})
	sctx := NewSessionContext(uuid.New(), testCriteria())
	ctx := context.Background()

	require.NoError(t, h.domains.Blacklist(ctx, "casinowinners.com", "known scam", "ops"))

	// Cache starts cold.
	_, found, err := h.cache.IsBlacklisted(ctx, "casinowinners.com")
	require.NoError(t, err)
	require.False(t, found)

	out, err := h.proc.Process(ctx, sctx,
		rawResult(sctx.SessionID, "https://casinowinners.com/grants", "Grants for students", ""))
	require.NoError(t, err)

	assert.Equal(t, ClassBlacklisted, out.Class)
	assert.Nil(t, out.Candidate)
	assert.Equal(t, 0, h.candidates.count())

	// The store verdict was written back.
	verdict, found, err := h.cache.IsBlacklisted(ctx, "casinowinners.com")
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, verdict)
}

func TestProcessBlacklistCacheHitSkipsStore(t *testing.T) {
	h := newHarness(t, Config{})
	sctx := NewSessionContext(uuid.New(), testCriteria())
	ctx := context.Background()

	// The host exists only in the cache; a hit must not consult the
	// domain table.
	require.NoError(t, h.cache.SetBlacklisted(ctx, "phantom.org", true))

	out, err := h.proc.Process(ctx, sctx,
		rawResult(sctx.SessionID, "https://phantom.org/grants", "Grants", ""))
	require.NoError(t, err)

	assert.Equal(t, ClassBlacklisted, out.Class)
	_, err = h.domains.GetDomainByName(ctx, "phantom.org")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestProcessConservation(t *testing.T) {
	h := newHarness(t, Config{})
	sctx := NewSessionContext(uuid.New(), testCriteria())
	ctx := context.Background()

	require.NoError(t, h.domains.Blacklist(ctx, "casinowinners.com", "known scam", "ops"))

	batch := []types.SearchResult{
		rawResult(sctx.SessionID, "https://example.ngo/grants",
			"European Commission Grants for Bulgaria", "Apply for funding and scholarships today"),
		rawResult(sctx.SessionID, "https://widget-news.com/post", "Widget of the year", ""),
		rawResult(sctx.SessionID, "https://example.ngo/duplicate", "Grants again", ""),
		rawResult(sctx.SessionID, "https://free-grants.xyz/win", "Grants available", ""),
		rawResult(sctx.SessionID, "https://casinowinners.com/offer", "Grants for students", ""),
		rawResult(sctx.SessionID, "not a url at all", "Grants", ""),
	}

	var total storage.StatsDelta
	for _, res := range batch {
		out, err := h.proc.Process(ctx, sctx, res)
		require.NoError(t, err)
		d := out.Delta()
		total.ResultsProcessed += d.ResultsProcessed
		total.CandidatesCreated += d.CandidatesCreated
		total.HighConfidence += d.HighConfidence
		total.LowConfidence += d.LowConfidence
		total.DuplicatesSkipped += d.DuplicatesSkipped
		total.SpamTLDFiltered += d.SpamTLDFiltered
		total.BlacklistedSkipped += d.BlacklistedSkipped
		total.InvalidURLsSkipped += d.InvalidURLsSkipped
	}

	assert.Equal(t, len(batch), total.ResultsProcessed)
	sum := total.HighConfidence + total.LowConfidence + total.DuplicatesSkipped +
		total.BlacklistedSkipped + total.SpamTLDFiltered + total.InvalidURLsSkipped
	assert.Equal(t, total.ResultsProcessed, sum)
	assert.Equal(t, 2, total.CandidatesCreated)

	// The local mirror agrees.
	stats := sctx.Stats()
	assert.Equal(t, len(batch), stats.ResultsProcessed)
	assert.Equal(t, stats.ResultsProcessed,
		stats.HighConfidence+stats.LowConfidence+stats.DuplicatesSkipped+
			stats.BlacklistedSkipped+stats.SpamTLDFiltered+stats.InvalidURLsSkipped)
}

func TestProcessIdempotentReprocess(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	sessionID := uuid.New()
	res := rawResult(sessionID, "https://example.ngo/grants",
		"European Commission Grants for Bulgaria", "Apply for funding and scholarships today")

	// First delivery creates the candidate.
	sctx := NewSessionContext(sessionID, testCriteria())
	out, err := h.proc.Process(ctx, sctx, res)
	require.NoError(t, err)
	require.Equal(t, ClassHighConfidence, out.Class)
	require.Equal(t, 1, h.candidates.count())

	// Redelivery to the same worker dedups locally.
	out, err = h.proc.Process(ctx, sctx, res)
	require.NoError(t, err)
	assert.Equal(t, ClassDuplicate, out.Class)

	// Redelivery to a different worker dedups through the shared set.
	other := NewSessionContext(sessionID, testCriteria())
	out, err = h.proc.Process(ctx, other, res)
	require.NoError(t, err)
	assert.Equal(t, ClassDuplicate, out.Class)

	assert.Equal(t, 1, h.candidates.count())
}

func TestProcessDuplicateInsertRace(t *testing.T) {
	// A second worker whose dedup set was lost still converges through
	// the store's (session, domain) uniqueness.
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	domains := newFakeDomains()
	candidates := newFakeCandidates()
	proc, err := NewProcessor(Config{}, domains, candidates, cache.NewCacheWithClient(client, nil, nil), nil, nil)
	require.NoError(t, err)

	ctx := context.Background()
	sessionID := uuid.New()
	res := rawResult(sessionID, "https://example.ngo/grants",
		"European Commission Grants for Bulgaria", "Apply for funding and scholarships today")

	sctx := NewSessionContext(sessionID, testCriteria())
	_, err = proc.Process(ctx, sctx, res)
	require.NoError(t, err)

	// Simulate a cache flush between deliveries.
	mr.FlushAll()

	other := NewSessionContext(sessionID, testCriteria())
	out, err := proc.Process(ctx, other, res)
	require.NoError(t, err)

	assert.Equal(t, ClassDuplicate, out.Class)
	assert.Equal(t, 1, candidates.count())
}

func TestProcessPersistenceRetriesOnce(t *testing.T) {
	h := newHarness(t, Config{})
	h.candidates.createFailures = 1
	sctx := NewSessionContext(uuid.New(), testCriteria())

	out, err := h.proc.Process(context.Background(), sctx,
		rawResult(sctx.SessionID, "https://example.ngo/grants",
			"European Commission Grants for Bulgaria", "Apply for funding and scholarships today"))
	require.NoError(t, err)

	assert.Equal(t, ClassHighConfidence, out.Class)
	assert.Equal(t, 1, h.candidates.count())
}

func TestProcessPersistenceFailsAfterRetry(t *testing.T) {
	h := newHarness(t, Config{})
	h.candidates.createFailures = 2
	sctx := NewSessionContext(uuid.New(), testCriteria())

	_, err := h.proc.Process(context.Background(), sctx,
		rawResult(sctx.SessionID, "https://example.ngo/grants",
			"European Commission Grants for Bulgaria", "Apply for funding and scholarships today"))
	require.Error(t, err)

	assert.Equal(t, 0, h.candidates.count())
	// Failed results are not counted; the dead-letter path owns them.
	assert.Equal(t, 0, sctx.Stats().ResultsProcessed)
}

func TestProcessPersistenceFailureReplaysAsFresh(t *testing.T) {
	// A result whose persistence failed is dead-lettered; when the
	// operator replays it the dedup marks must not call it a duplicate.
	h := newHarness(t, Config{})
	h.candidates.createFailures = 2
	sctx := NewSessionContext(uuid.New(), testCriteria())
	res := rawResult(sctx.SessionID, "https://example.ngo/grants",
		"European Commission Grants for Bulgaria", "Apply for funding and scholarships today")

	_, err := h.proc.Process(context.Background(), sctx, res)
	require.Error(t, err)

	out, err := h.proc.Process(context.Background(), sctx, res)
	require.NoError(t, err)
	assert.Equal(t, ClassHighConfidence, out.Class)
	require.NotNil(t, out.Candidate)
	assert.Equal(t, 1, h.candidates.count())
}

func TestProcessQualityFailureDoesNotDuplicateCandidate(t *testing.T) {
	// The candidate insert succeeds, the quality update fails, and the
	// retry must not insert a second candidate.
	h := newHarness(t, Config{})
	h.domains.qualityFailures = 1
	sctx := NewSessionContext(uuid.New(), testCriteria())

	out, err := h.proc.Process(context.Background(), sctx,
		rawResult(sctx.SessionID, "https://example.ngo/grants",
			"European Commission Grants for Bulgaria", "Apply for funding and scholarships today"))
	require.NoError(t, err)

	assert.Equal(t, ClassHighConfidence, out.Class)
	assert.Equal(t, 1, h.candidates.count())
	require.Len(t, h.domains.qualityUpdates(), 1)
}

func TestProcessAntiSpamZeroPolicy(t *testing.T) {
	h := newHarness(t, Config{AntiSpamPolicy: AntiSpamZero})
	sctx := NewSessionContext(uuid.New(), testCriteria())

	out, err := h.proc.Process(context.Background(), sctx,
		rawResult(sctx.SessionID, "https://grant-fund.org/apply",
			"grant grant grant grant", "grant money grant money"))
	require.NoError(t, err)

	assert.Equal(t, ClassLowConfidence, out.Class)
	assert.NotEmpty(t, out.SpamReason)
	require.NotNil(t, out.Candidate)
	assert.Equal(t, types.Confidence(0), out.Candidate.Confidence)
	assert.Equal(t, types.CandidateStatusSkippedLowConf, out.Candidate.Status)

	judgments, err := h.candidates.ListJudgments(context.Background(), sctx.SessionID)
	require.NoError(t, err)
	require.Len(t, judgments, 1)
	assert.Equal(t, types.Score(0), judgments[0].DomainCredibilityScore)
	assert.Equal(t, types.Score(0), judgments[0].FundingKeywordsScore)
}

func TestProcessAntiSpamDropPolicy(t *testing.T) {
	h := newHarness(t, Config{AntiSpamPolicy: AntiSpamDrop})
	sctx := NewSessionContext(uuid.New(), testCriteria())

	out, err := h.proc.Process(context.Background(), sctx,
		rawResult(sctx.SessionID, "https://grant-fund.org/apply",
			"grant grant grant grant", "grant money grant money"))
	require.NoError(t, err)

	assert.Equal(t, ClassLowConfidence, out.Class)
	assert.NotEmpty(t, out.SpamReason)
	assert.Nil(t, out.Candidate)
	assert.Equal(t, 0, h.candidates.count())

	d := out.Delta()
	assert.Equal(t, 1, d.LowConfidence)
	assert.Equal(t, 0, d.CandidatesCreated)
}

func TestProcessAntiSpamOffByDefault(t *testing.T) {
	h := newHarness(t, Config{})
	sctx := NewSessionContext(uuid.New(), testCriteria())

	out, err := h.proc.Process(context.Background(), sctx,
		rawResult(sctx.SessionID, "https://grant-fund.org/apply",
			"grant grant grant grant", "grant money grant money"))
	require.NoError(t, err)

	// Stuffed metadata still scores normally when the pre-filter is off.
	assert.Empty(t, out.SpamReason)
	require.NotNil(t, out.Candidate)
	assert.Equal(t, types.Confidence(40), out.Candidate.Confidence)
}

func TestProcessCacheOutageFallsBack(t *testing.T) {
	// Nothing listens on this address; every cache call fails fast.
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		ReadTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })

	domains := newFakeDomains()
	candidates := newFakeCandidates()
	proc, err := NewProcessor(Config{}, domains, candidates, cache.NewCacheWithClient(client, nil, nil), nil, nil)
	require.NoError(t, err)

	ctx := context.Background()
	sctx := NewSessionContext(uuid.New(), testCriteria())

	out, err := proc.Process(ctx, sctx,
		rawResult(sctx.SessionID, "https://example.ngo/grants",
			"European Commission Grants for Bulgaria", "Apply for funding and scholarships today"))
	require.NoError(t, err)
	assert.Equal(t, ClassHighConfidence, out.Class)

	// The local set still dedups.
	out, err = proc.Process(ctx, sctx,
		rawResult(sctx.SessionID, "https://example.ngo/other", "More grants", ""))
	require.NoError(t, err)
	assert.Equal(t, ClassDuplicate, out.Class)
	assert.Equal(t, 1, candidates.count())
}

func TestOutcomeDelta(t *testing.T) {
	tests := []struct {
		class Class
		check func(t *testing.T, d storage.StatsDelta)
	}{
		{ClassHighConfidence, func(t *testing.T, d storage.StatsDelta) { assert.Equal(t, 1, d.HighConfidence) }},
		{ClassLowConfidence, func(t *testing.T, d storage.StatsDelta) { assert.Equal(t, 1, d.LowConfidence) }},
		{ClassDuplicate, func(t *testing.T, d storage.StatsDelta) { assert.Equal(t, 1, d.DuplicatesSkipped) }},
		{ClassBlacklisted, func(t *testing.T, d storage.StatsDelta) { assert.Equal(t, 1, d.BlacklistedSkipped) }},
		{ClassSpamTLD, func(t *testing.T, d storage.StatsDelta) { assert.Equal(t, 1, d.SpamTLDFiltered) }},
		{ClassInvalidURL, func(t *testing.T, d storage.StatsDelta) { assert.Equal(t, 1, d.InvalidURLsSkipped) }},
	}

	for _, tt := range tests {
		t.Run(string(tt.class), func(t *testing.T) {
			d := Outcome{Class: tt.class}.Delta()
			assert.Equal(t, 1, d.ResultsProcessed)
			assert.Equal(t, 0, d.CandidatesCreated)
			tt.check(t, d)
		})
	}
}
