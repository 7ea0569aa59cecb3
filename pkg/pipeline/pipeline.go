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

// Package pipeline turns raw search results into scored funding source
// candidates. Each result runs a fixed seven-stage path: domain
// extraction, spam-TLD filter, in-session dedup, blacklist check,
// confidence scoring, threshold classification, and persistence. Every
// result lands in exactly one outcome class, so the per-class counters
// always sum to the number of results processed.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teradata-labs/prospector/pkg/observability"
	"github.com/teradata-labs/prospector/pkg/storage"
	"github.com/teradata-labs/prospector/pkg/types"
)

// DefaultConfidenceThreshold splits candidates into PENDING_CRAWL and
// SKIPPED_LOW_CONFIDENCE when no threshold is configured (0.60).
const DefaultConfidenceThreshold types.Confidence = 60

// AntiSpamPolicy selects what a fired anti-spam check does to a result.
type AntiSpamPolicy string

const (
	// AntiSpamOff disables the pre-filter.
	AntiSpamOff AntiSpamPolicy = "off"
	// AntiSpamZero zeroes the confidence; the result still persists as
	// a SKIPPED_LOW_CONFIDENCE candidate with the detection recorded.
	AntiSpamZero AntiSpamPolicy = "zero"
	// AntiSpamDrop rejects the result outright; no candidate is
	// created and the result counts as low confidence.
	AntiSpamDrop AntiSpamPolicy = "drop"
)

// Valid reports whether the policy is a known value.
func (p AntiSpamPolicy) Valid() bool {
	switch p {
	case AntiSpamOff, AntiSpamZero, AntiSpamDrop:
		return true
	}
	return false
}

// Config tunes the processor. Zero values take the defaults.
type Config struct {
	// ConfidenceThreshold is the high/low split in hundredths.
	ConfidenceThreshold types.Confidence `mapstructure:"confidence_threshold"`
	// AntiSpamPolicy is off, zero, or drop.
	AntiSpamPolicy AntiSpamPolicy `mapstructure:"anti_spam_policy"`
}

func (c *Config) applyDefaults() {
	if c.ConfidenceThreshold <= 0 {
		c.ConfidenceThreshold = DefaultConfidenceThreshold
	}
	if c.AntiSpamPolicy == "" {
		c.AntiSpamPolicy = AntiSpamOff
	}
}

// Class is the terminal bucket of one processed result. The class names
// match the statistics counters they increment.
type Class string

const (
	ClassHighConfidence Class = "high_confidence"
	ClassLowConfidence  Class = "low_confidence"
	ClassDuplicate      Class = "duplicate"
	ClassBlacklisted    Class = "blacklisted"
	ClassSpamTLD        Class = "spam_tld"
	ClassInvalidURL     Class = "invalid_url"
)

// Outcome reports where one result landed. Candidate is non-nil only
// when this call created one.
type Outcome struct {
	Class      Class
	Host       string
	Confidence types.Confidence
	Candidate  *types.FundingSourceCandidate
	SpamReason string
}

// Delta converts the outcome into the statistics increment the scoring
// consumer applies. Exactly one class counter is set, so applying every
// outcome's delta preserves the conservation property.
func (o Outcome) Delta() storage.StatsDelta {
	d := storage.StatsDelta{ResultsProcessed: 1}
	switch o.Class {
	case ClassHighConfidence:
		d.HighConfidence = 1
	case ClassLowConfidence:
		d.LowConfidence = 1
	case ClassDuplicate:
		d.DuplicatesSkipped = 1
	case ClassBlacklisted:
		d.BlacklistedSkipped = 1
	case ClassSpamTLD:
		d.SpamTLDFiltered = 1
	case ClassInvalidURL:
		d.InvalidURLsSkipped = 1
	}
	if o.Candidate != nil {
		d.CandidatesCreated = 1
	}
	return d
}

// DedupCache is the slice of the session cache the processor uses:
// cross-process dedup sets and the blacklist read-through. *cache.Cache
// satisfies it.
type DedupCache interface {
	MarkHostSeen(ctx context.Context, sessionID uuid.UUID, host string) (first bool, err error)
	ForgetHost(ctx context.Context, sessionID uuid.UUID, host string) error
	IsBlacklisted(ctx context.Context, host string) (blacklisted, found bool, err error)
	SetBlacklisted(ctx context.Context, host string, blacklisted bool) error
}

// SessionContext carries the per-session working state of one consumer
// process: the local seen-host set backing up the shared cache, and a
// local mirror of the statistics counters. Safe for concurrent workers.
type SessionContext struct {
	SessionID uuid.UUID
	Criteria  types.SearchCriteria

	mu    sync.Mutex
	seen  map[string]struct{}
	stats types.SessionStatistics
}

// NewSessionContext creates the working state for one session.
func NewSessionContext(sessionID uuid.UUID, criteria types.SearchCriteria) *SessionContext {
	return &SessionContext{
		SessionID: sessionID,
		Criteria:  criteria,
		seen:      make(map[string]struct{}),
		stats:     types.SessionStatistics{SessionID: sessionID},
	}
}

// markSeen records the host locally and reports whether it was new.
func (s *SessionContext) markSeen(host string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[host]; ok {
		return false
	}
	s.seen[host] = struct{}{}
	return true
}

// forget reverses markSeen after a persistence failure.
func (s *SessionContext) forget(host string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.seen, host)
}

// recordOutcome mirrors one outcome into the local statistics.
func (s *SessionContext) recordOutcome(o Outcome) {
	d := o.Delta()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.ResultsProcessed += d.ResultsProcessed
	s.stats.CandidatesCreated += d.CandidatesCreated
	s.stats.HighConfidence += d.HighConfidence
	s.stats.LowConfidence += d.LowConfidence
	s.stats.DuplicatesSkipped += d.DuplicatesSkipped
	s.stats.SpamTLDFiltered += d.SpamTLDFiltered
	s.stats.BlacklistedSkipped += d.BlacklistedSkipped
	s.stats.InvalidURLsSkipped += d.InvalidURLsSkipped
}

// Stats returns a snapshot of the locally observed counters. The store
// row remains authoritative across processes; this mirror feeds logs
// and the session-teardown summary.
func (s *SessionContext) Stats() types.SessionStatistics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Processor executes the result pipeline. One processor serves all
// sessions; per-session state lives in the SessionContext.
type Processor struct {
	cfg        Config
	scorer     *Scorer
	tlds       *TLDTable
	domains    storage.DomainStore
	candidates storage.CandidateStore
	cache      DedupCache
	logger     *zap.Logger
	tracer     observability.Tracer
}

// NewProcessor wires the pipeline. domains and candidates are required;
// cache may be nil, in which case dedup and blacklist checks run on the
// session context and the store alone.
func NewProcessor(cfg Config, domains storage.DomainStore, candidates storage.CandidateStore, dedup DedupCache, logger *zap.Logger, tracer observability.Tracer) (*Processor, error) {
	if domains == nil || candidates == nil {
		return nil, fmt.Errorf("domain and candidate stores are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	cfg.applyDefaults()
	if !cfg.AntiSpamPolicy.Valid() {
		return nil, fmt.Errorf("unknown anti-spam policy %q", cfg.AntiSpamPolicy)
	}

	tlds := DefaultTLDTable()
	return &Processor{
		cfg:        cfg,
		scorer:     NewScorer(tlds),
		tlds:       tlds,
		domains:    domains,
		candidates: candidates,
		cache:      dedup,
		logger:     logger,
		tracer:     tracer,
	}, nil
}

// Threshold returns the configured high/low split.
func (p *Processor) Threshold() types.Confidence {
	return p.cfg.ConfidenceThreshold
}

// Process runs one result through the pipeline and returns its outcome.
// Stages 1 through 6 cannot fail; a persistence failure in stage 7 is
// retried once, and the second failure is returned to the caller for
// dead-lettering. Sibling results are unaffected either way.
func (p *Processor) Process(ctx context.Context, sctx *SessionContext, res types.SearchResult) (Outcome, error) {
	ctx, span := p.tracer.StartSpan(ctx, observability.SpanResultProcess,
		observability.WithSpanKind("pipeline"),
		observability.WithAttribute(observability.AttrSessionID, sctx.SessionID.String()),
		observability.WithAttribute(observability.AttrEngineName, res.Engine))
	defer p.tracer.EndSpan(span)

	outcome, err := p.run(ctx, sctx, res)
	if err != nil {
		span.RecordError(err)
		return Outcome{}, err
	}

	span.SetAttribute("pipeline.outcome", string(outcome.Class))
	span.SetAttribute(observability.AttrDomainHost, outcome.Host)
	span.SetAttribute(observability.AttrConfidence, outcome.Confidence.String())
	p.tracer.RecordMetric("pipeline.outcomes", 1, map[string]string{"class": string(outcome.Class)})
	sctx.recordOutcome(outcome)
	return outcome, nil
}

func (p *Processor) run(ctx context.Context, sctx *SessionContext, res types.SearchResult) (Outcome, error) {
	// Stage 1: domain extraction.
	host, err := types.ExtractDomain(res.URL)
	if err != nil {
		p.logger.Debug("result url rejected",
			zap.String("session_id", sctx.SessionID.String()),
			zap.String("url", res.URL),
			zap.Error(err))
		return Outcome{Class: ClassInvalidURL}, nil
	}

	// Stage 2: spam-TLD filter.
	if p.tlds.IsSpam(host) {
		return Outcome{Class: ClassSpamTLD, Host: host}, nil
	}

	// Stage 3: in-session dedup.
	if !p.firstSight(ctx, sctx, host) {
		return Outcome{Class: ClassDuplicate, Host: host}, nil
	}

	// Stage 4: blacklist check.
	blacklisted, err := p.isBlacklisted(ctx, host)
	if err != nil {
		// Read failures fail open; the domain table still rejects
		// quality updates for blacklisted hosts.
		p.logger.Warn("blacklist lookup failed, continuing",
			zap.String("host", host), zap.Error(err))
	} else if blacklisted {
		return Outcome{Class: ClassBlacklisted, Host: host}, nil
	}

	// Stage 5: scoring, with the optional anti-spam pre-filter.
	judgment, detection := p.score(sctx, res, host)
	if detection != nil && p.cfg.AntiSpamPolicy == AntiSpamDrop {
		p.logger.Info("result dropped by anti-spam check",
			zap.String("session_id", sctx.SessionID.String()),
			zap.String("host", host),
			zap.String("check", string(detection.Check)))
		return Outcome{Class: ClassLowConfidence, Host: host, SpamReason: detection.String()}, nil
	}

	// Stage 6: threshold classification.
	class := ClassLowConfidence
	if judgment.Confidence >= p.cfg.ConfidenceThreshold {
		class = ClassHighConfidence
	}

	// Stage 7: persistence.
	cand, finalClass, err := p.persist(ctx, sctx, res, host, judgment, class)
	if err != nil {
		// Un-mark the host so a replay of the dead-lettered result is
		// not misclassified as a duplicate.
		p.forgetSight(ctx, sctx, host)
		return Outcome{}, err
	}
	out := Outcome{
		Class:      finalClass,
		Host:       host,
		Candidate:  cand,
		SpamReason: judgment.SpamReason,
	}
	if cand != nil {
		out.Confidence = cand.Confidence
	}
	return out, nil
}

// firstSight reports whether this is the session's first result for the
// host. The shared cache set and the local set must both agree the host
// is new; a cache outage falls back to the local set, with the store's
// (session, domain) uniqueness as the final backstop.
func (p *Processor) firstSight(ctx context.Context, sctx *SessionContext, host string) bool {
	localFirst := sctx.markSeen(host)
	if p.cache == nil {
		return localFirst
	}
	first, err := p.cache.MarkHostSeen(ctx, sctx.SessionID, host)
	if err != nil {
		p.logger.Warn("dedup cache unavailable, using local set",
			zap.String("host", host), zap.Error(err))
		return localFirst
	}
	return first && localFirst
}

// forgetSight reverses firstSight in both sets. Cache failures are
// logged only; the local set is authoritative for this process.
func (p *Processor) forgetSight(ctx context.Context, sctx *SessionContext, host string) {
	sctx.forget(host)
	if p.cache == nil {
		return
	}
	if err := p.cache.ForgetHost(ctx, sctx.SessionID, host); err != nil {
		p.logger.Warn("failed to clear dedup mark",
			zap.String("host", host), zap.Error(err))
	}
}

// isBlacklisted resolves the host's blacklist state through the cache,
// falling back to the domain table on a miss and writing the verdict
// back.
func (p *Processor) isBlacklisted(ctx context.Context, host string) (bool, error) {
	if p.cache != nil {
		verdict, found, err := p.cache.IsBlacklisted(ctx, host)
		if err == nil && found {
			return verdict, nil
		}
		if err != nil {
			p.logger.Debug("blacklist cache read failed",
				zap.String("host", host), zap.Error(err))
		}
	}

	blacklisted := false
	dom, err := p.domains.GetDomainByName(ctx, host)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		// Unknown host, processable.
	case err != nil:
		return false, err
	default:
		blacklisted = dom.Status == types.DomainStatusBlacklisted
	}

	if p.cache != nil {
		if err := p.cache.SetBlacklisted(ctx, host, blacklisted); err != nil {
			p.logger.Debug("blacklist cache write failed",
				zap.String("host", host), zap.Error(err))
		}
	}
	return blacklisted, nil
}

// score runs the anti-spam pre-filter per policy, then the scorer.
func (p *Processor) score(sctx *SessionContext, res types.SearchResult, host string) (Judgment, *Detection) {
	var detection *Detection
	if p.cfg.AntiSpamPolicy != AntiSpamOff {
		detection = DetectSpam(res.Title, res.Snippet, host)
	}

	judgment := p.scorer.Score(res.Title, res.Snippet, host, sctx.Criteria)
	if detection != nil && p.cfg.AntiSpamPolicy == AntiSpamZero {
		judgment = judgment.zeroed(detection.String())
	}
	return judgment, detection
}

// persist registers the domain, inserts the candidate with its judgment
// breakdown, and folds the outcome into the domain's quality counters.
// The whole step is retried once; an insert that raced another worker
// resolves to a duplicate outcome instead of an error.
func (p *Processor) persist(ctx context.Context, sctx *SessionContext, res types.SearchResult, host string, j Judgment, class Class) (*types.FundingSourceCandidate, Class, error) {
	var (
		cand    *types.FundingSourceCandidate
		lastErr error
	)
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			p.logger.Warn("retrying candidate persistence",
				zap.String("session_id", sctx.SessionID.String()),
				zap.String("host", host),
				zap.Error(lastErr))
		}

		dom, _, err := p.domains.RegisterOrGet(ctx, host, sctx.SessionID)
		if err != nil {
			lastErr = err
			continue
		}

		if cand == nil {
			c, row := p.buildCandidate(sctx, res, host, dom.ID, j, class)
			if err := p.candidates.CreateWithJudgment(ctx, c, row); err != nil {
				if errors.Is(err, storage.ErrDuplicate) {
					// Another worker won the insert race.
					return nil, ClassDuplicate, nil
				}
				lastErr = err
				continue
			}
			cand = c
		}

		if err := p.domains.UpdateQuality(ctx, dom.ID, cand.Confidence, class == ClassHighConfidence); err != nil {
			lastErr = err
			continue
		}
		return cand, class, nil
	}
	return nil, "", fmt.Errorf("candidate persistence for %s failed after retry: %w", host, lastErr)
}

func (p *Processor) buildCandidate(sctx *SessionContext, res types.SearchResult, host string, domainID uuid.UUID, j Judgment, class Class) (*types.FundingSourceCandidate, *types.MetadataJudgment) {
	now := time.Now().UTC()

	status := types.CandidateStatusSkippedLowConf
	if class == ClassHighConfidence {
		status = types.CandidateStatusPendingCrawl
	}

	c := &types.FundingSourceCandidate{
		ID:                uuid.New(),
		Status:            status,
		Confidence:        j.Confidence,
		DomainID:          domainID,
		DomainName:        host,
		SessionID:         sctx.SessionID,
		SourceURL:         res.URL,
		Title:             res.Title,
		Snippet:           res.Snippet,
		Engine:            res.Engine,
		Rank:              res.Rank,
		Categories:        append([]string(nil), sctx.Criteria.FundingSourceTypes...),
		GeographicScope:   append([]string(nil), sctx.Criteria.GeographicScopes...),
		OrganizationTypes: append([]string(nil), sctx.Criteria.RecipientTypes...),
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	row := &types.MetadataJudgment{
		ID:          uuid.New(),
		CandidateID: c.ID,
		SessionID:   sctx.SessionID,

		FundingKeywordsScore:     j.FundingKeywordsScore,
		DomainCredibilityScore:   j.DomainCredibilityScore,
		GeographicRelevanceScore: j.GeographicRelevanceScore,
		OrganizationTypeScore:    j.OrganizationTypeScore,
		CompoundBonus:            j.CompoundBonus,

		Confidence:    j.Confidence,
		KeywordsFound: append([]string(nil), j.KeywordsFound...),
		Engine:        res.Engine,
		CreatedAt:     now,
	}
	return c, row
}
