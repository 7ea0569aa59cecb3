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

// Package types holds the shared domain model of the discovery pipeline:
// sessions, domains, candidates, judgments, and the fixed-point confidence
// arithmetic every scoring path uses.
package types

import (
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Session
// ============================================================================

// SessionType classifies how a discovery session was initiated.
type SessionType string

const (
	SessionTypeManual    SessionType = "MANUAL"
	SessionTypeScheduled SessionType = "SCHEDULED"
	SessionTypeRetry     SessionType = "RETRY"
)

// Valid reports whether the session type is a known value.
func (t SessionType) Valid() bool {
	switch t {
	case SessionTypeManual, SessionTypeScheduled, SessionTypeRetry:
		return true
	}
	return false
}

// SessionStatus is the lifecycle state of a discovery session.
type SessionStatus string

const (
	SessionStatusRunning   SessionStatus = "RUNNING"
	SessionStatusCompleted SessionStatus = "COMPLETED"
	SessionStatusFailed    SessionStatus = "FAILED"
	SessionStatusCancelled SessionStatus = "CANCELLED"
)

// Terminal reports whether the status permits no further transitions.
// Once a session leaves RUNNING its counters and completion timestamp
// are immutable.
func (s SessionStatus) Terminal() bool {
	return s != SessionStatusRunning
}

// DiscoverySession is the audit record tying one search request to its
// generated queries, raw results, candidates, and statistics.
type DiscoverySession struct {
	ID        uuid.UUID     `json:"id"`
	Type      SessionType   `json:"type"`
	Status    SessionStatus `json:"status"`
	StartedAt time.Time     `json:"startedAt"`

	CompletedAt *time.Time `json:"completedAt,omitempty"`
	DurationMs  *int64     `json:"durationMs,omitempty"`

	// Finalization bookkeeping. QueriesTotal is fixed at creation;
	// the consumers advance the other two as work drains.
	QueriesTotal     int `json:"queriesTotal"`
	QueriesCompleted int `json:"queriesCompleted"`
	ResultsExpected  int `json:"resultsExpected"`

	Criteria        SearchCriteria `json:"criteria"`
	GeneratorPrompt string         `json:"generatorPrompt,omitempty"`
	GeneratorModel  string         `json:"generatorModel,omitempty"`
	FailureReason   *string        `json:"failureReason,omitempty"`

	// Stats is populated by reads that join the statistics row.
	Stats *SessionStatistics `json:"stats,omitempty"`
}

// SessionStatistics is the per-session counter row maintained by the
// pipeline consumers. The candidate-conservation property holds over it:
// high + low + duplicates + blacklisted + spamTLD + invalidURLs equals
// resultsProcessed.
type SessionStatistics struct {
	SessionID          uuid.UUID `json:"sessionId"`
	ResultsFound       int       `json:"resultsFound"`
	ResultsProcessed   int       `json:"resultsProcessed"`
	CandidatesCreated  int       `json:"candidatesCreated"`
	HighConfidence     int       `json:"highConfidence"`
	LowConfidence      int       `json:"lowConfidence"`
	DuplicatesSkipped  int       `json:"duplicatesSkipped"`
	SpamTLDFiltered    int       `json:"spamTldFiltered"`
	BlacklistedSkipped int       `json:"blacklistedSkipped"`
	InvalidURLsSkipped int       `json:"invalidUrlsSkipped"`

	// EngineStats breaks request/result/failure counts down per engine.
	EngineStats map[string]EngineStats `json:"engineStats,omitempty"`

	UpdatedAt time.Time `json:"updatedAt"`
}

// EngineStats is the per-engine slice of a session's statistics.
type EngineStats struct {
	Requests int `json:"requests"`
	Results  int `json:"results"`
	Failures int `json:"failures"`
}

// ============================================================================
// Domain registry
// ============================================================================

// DomainStatus is the processing state of a domain in the global registry.
type DomainStatus string

const (
	DomainStatusDiscovered           DomainStatus = "DISCOVERED"
	DomainStatusProcessing           DomainStatus = "PROCESSING"
	DomainStatusProcessedHighQuality DomainStatus = "PROCESSED_HIGH_QUALITY"
	DomainStatusProcessedLowQuality  DomainStatus = "PROCESSED_LOW_QUALITY"
	DomainStatusNoFundsThisYear      DomainStatus = "NO_FUNDS_THIS_YEAR"
	DomainStatusProcessingFailed     DomainStatus = "PROCESSING_FAILED"
	DomainStatusBlacklisted          DomainStatus = "BLACKLISTED"
)

// Valid reports whether the domain status is a known value.
func (s DomainStatus) Valid() bool {
	switch s {
	case DomainStatusDiscovered, DomainStatusProcessing, DomainStatusProcessedHighQuality,
		DomainStatusProcessedLowQuality, DomainStatusNoFundsThisYear,
		DomainStatusProcessingFailed, DomainStatusBlacklisted:
		return true
	}
	return false
}

// Domain is the global deduplication unit: one row per normalized host,
// shared across sessions.
type Domain struct {
	ID     uuid.UUID    `json:"id"`
	Name   string       `json:"name"` // normalized host, unique
	Status DomainStatus `json:"status"`

	BestConfidence   Confidence `json:"bestConfidence"`
	HighQualityCount int        `json:"highQualityCount"`
	LowQualityCount  int        `json:"lowQualityCount"`

	DiscoveredAt       time.Time  `json:"discoveredAt"`
	DiscoverySessionID *uuid.UUID `json:"discoverySessionId,omitempty"`
	LastProcessedAt    *time.Time `json:"lastProcessedAt,omitempty"`
	ProcessingCount    int        `json:"processingCount"`

	FailureCount int        `json:"failureCount"`
	RetryAfter   *time.Time `json:"retryAfter,omitempty"`

	BlacklistedBy   *string    `json:"blacklistedBy,omitempty"`
	BlacklistReason *string    `json:"blacklistReason,omitempty"`
	BlacklistedAt   *time.Time `json:"blacklistedAt,omitempty"`

	NoFundsYear *int    `json:"noFundsYear,omitempty"`
	Notes       *string `json:"notes,omitempty"`
}

// ============================================================================
// Candidates
// ============================================================================

// CandidateStatus tracks a candidate through review.
type CandidateStatus string

const (
	CandidateStatusPendingCrawl   CandidateStatus = "PENDING_CRAWL"
	CandidateStatusSkippedLowConf CandidateStatus = "SKIPPED_LOW_CONFIDENCE"
	CandidateStatusInReview       CandidateStatus = "IN_REVIEW"
	CandidateStatusApproved       CandidateStatus = "APPROVED"
	CandidateStatusRejected       CandidateStatus = "REJECTED"
)

// Valid reports whether the candidate status is a known value.
func (s CandidateStatus) Valid() bool {
	switch s {
	case CandidateStatusPendingCrawl, CandidateStatusSkippedLowConf,
		CandidateStatusInReview, CandidateStatusApproved, CandidateStatusRejected:
		return true
	}
	return false
}

// FundingSourceCandidate is a stored prospective funding opportunity
// awaiting human review. One per (domain, session) that passes the
// pipeline; confidence is set once at creation and never mutated.
type FundingSourceCandidate struct {
	ID         uuid.UUID       `json:"id"`
	Status     CandidateStatus `json:"status"`
	Confidence Confidence      `json:"confidence"`

	DomainID   uuid.UUID `json:"domainId"`
	DomainName string    `json:"domainName"`
	SessionID  uuid.UUID `json:"sessionId"`

	SourceURL string `json:"sourceUrl"`
	Title     string `json:"title"`
	Snippet   string `json:"snippet,omitempty"`
	Engine    string `json:"engine"`
	Rank      int    `json:"rank"`

	OrganizationName *string `json:"organizationName,omitempty"`
	ProgramName      *string `json:"programName,omitempty"`

	Categories        []string `json:"categories,omitempty"`
	GeographicScope   []string `json:"geographicScope,omitempty"`
	OrganizationTypes []string `json:"organizationTypes,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	ReviewedBy *string    `json:"reviewedBy,omitempty"`
	ReviewedAt *time.Time `json:"reviewedAt,omitempty"`
}

// MetadataJudgment is the immutable per-candidate score breakdown.
type MetadataJudgment struct {
	ID          uuid.UUID `json:"id"`
	CandidateID uuid.UUID `json:"candidateId"`
	SessionID   uuid.UUID `json:"sessionId"`

	FundingKeywordsScore     Score `json:"fundingKeywordsScore"`
	DomainCredibilityScore   Score `json:"domainCredibilityScore"`
	GeographicRelevanceScore Score `json:"geographicRelevanceScore"`
	OrganizationTypeScore    Score `json:"organizationTypeScore"`
	CompoundBonus            Score `json:"compoundBonus"`

	Confidence    Confidence `json:"confidence"`
	KeywordsFound []string   `json:"keywordsFound,omitempty"`
	Engine        string     `json:"engine"`
	CreatedAt     time.Time  `json:"createdAt"`
}

// ============================================================================
// Enhancement audit log
// ============================================================================

// EnhancementType classifies who proposed a candidate field change.
type EnhancementType string

const (
	EnhancementTypeAISuggested   EnhancementType = "AI_SUGGESTED"
	EnhancementTypeManual        EnhancementType = "MANUAL"
	EnhancementTypeHumanModified EnhancementType = "HUMAN_MODIFIED"
)

// EnhancementRecord is one append-only audit entry for a change proposal
// against a candidate field.
type EnhancementRecord struct {
	ID          uuid.UUID       `json:"id"`
	CandidateID uuid.UUID       `json:"candidateId"`
	Type        EnhancementType `json:"type"`

	FieldName      string  `json:"fieldName"`
	OriginalValue  *string `json:"originalValue,omitempty"`
	SuggestedValue *string `json:"suggestedValue,omitempty"`
	Notes          *string `json:"notes,omitempty"`

	// AI-only provenance.
	ModelID         *string     `json:"modelId,omitempty"`
	ModelConfidence *Confidence `json:"modelConfidence,omitempty"`

	ApprovalState *string `json:"approvalState,omitempty"`
	TimeSpentMs   *int64  `json:"timeSpentMs,omitempty"`

	CreatedBy string    `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
}

// ============================================================================
// Search results
// ============================================================================

// SearchResult is one normalized engine hit. Adapters emit these; the
// pipeline consumes them. Rank is 1-based in engine order.
type SearchResult struct {
	URL          string    `json:"url"`
	Host         string    `json:"host,omitempty"`
	Title        string    `json:"title"`
	Snippet      string    `json:"snippet,omitempty"`
	Rank         int       `json:"rank"`
	Engine       string    `json:"engine"`
	Query        string    `json:"query"`
	SessionID    uuid.UUID `json:"sessionId"`
	DiscoveredAt time.Time `json:"discoveredAt"`
}

// Fingerprint identifies a result within its session for redelivery
// guards. Engine plus URL is stable across retries of the same fan-out
// task; rank is excluded because engines reorder between attempts.
func (r SearchResult) Fingerprint() string {
	return r.Engine + "|" + r.URL
}

// ============================================================================
// Provider usage, query library, generation sessions
// ============================================================================

// ProviderAPIUsage is one row per outbound call to an external search
// engine. Rolling rate limits are enforced by counting rows in a window.
type ProviderAPIUsage struct {
	ID             int64     `json:"id"`
	Provider       string    `json:"provider"`
	Query          string    `json:"query"`
	ResultCount    int       `json:"resultCount"`
	Success        bool      `json:"success"`
	ResponseTimeMs int64     `json:"responseTimeMs"`
	CalledAt       time.Time `json:"calledAt"`
}

// LibraryQuery is a persisted named query for scheduled runs.
type LibraryQuery struct {
	ID        uuid.UUID    `json:"id"`
	Name      string       `json:"name"`
	Text      string       `json:"text"`
	DayOfWeek time.Weekday `json:"dayOfWeek"`
	Engines   []string     `json:"engines,omitempty"`
	Tags      []string     `json:"tags,omitempty"`
	Enabled   bool         `json:"enabled"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

// GenerationSession records one query-generator run for a discovery
// session, including degradation to the fallback list.
type GenerationSession struct {
	ID        uuid.UUID `json:"id"`
	SessionID uuid.UUID `json:"sessionId"`

	Model string `json:"model"`
	Style string `json:"style"` // "keyword" or "ai_optimized"

	QueriesRequested int `json:"queriesRequested"`
	QueriesGenerated int `json:"queriesGenerated"`
	QueriesApproved  int `json:"queriesApproved"`
	QueriesRejected  int `json:"queriesRejected"`

	RejectionReasons []string `json:"rejectionReasons,omitempty"`
	FallbackUsed     bool     `json:"fallbackUsed"`
	FallbackReason   *string  `json:"fallbackReason,omitempty"`

	PromptTokens int       `json:"promptTokens"`
	DurationMs   int64     `json:"durationMs"`
	CreatedAt    time.Time `json:"createdAt"`
}
