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

// Package storage defines the persistence contracts for the discovery
// pipeline: sessions and their statistics, the global domain registry,
// funding source candidates with their score breakdowns and audit log,
// provider usage accounting, and the scheduled query library.
//
// Implementations live in subpackages (postgres is the production
// backend). Consumers depend only on the interfaces here.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/teradata-labs/prospector/pkg/types"
)

// Sentinel errors shared by all backends. Callers match with errors.Is.
var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate indicates a uniqueness constraint was hit.
	ErrDuplicate = errors.New("duplicate")
	// ErrAlreadyInState indicates a status transition to the current state.
	ErrAlreadyInState = errors.New("already in requested state")
	// ErrSessionTerminal indicates a mutation against a finished session.
	ErrSessionTerminal = errors.New("session is terminal")
	// ErrBackdated indicates an audit record with a timestamp outside the
	// allowed clock-skew tolerance.
	ErrBackdated = errors.New("record timestamp outside skew tolerance")
)

// StatsDelta is a batch of counter increments applied to a session's
// statistics row in one statement. Zero fields are no-ops.
type StatsDelta struct {
	ResultsFound       int
	ResultsProcessed   int
	CandidatesCreated  int
	HighConfidence     int
	LowConfidence      int
	DuplicatesSkipped  int
	SpamTLDFiltered    int
	BlacklistedSkipped int
	InvalidURLsSkipped int
}

// SessionFilters narrows ListSessions.
type SessionFilters struct {
	Status    types.SessionStatus
	Type      types.SessionType
	StartedAt time.Time // inclusive lower bound when non-zero
	Limit     int
}

// SessionStore persists discovery sessions, their control counters, and
// their statistics. The statistics row is created with the session and
// updated incrementally by the scoring consumer.
type SessionStore interface {
	// CreateSession inserts the session and an empty statistics row.
	CreateSession(ctx context.Context, session *types.DiscoverySession) error

	// GetSession loads a session with its statistics attached.
	// Returns ErrNotFound when absent.
	GetSession(ctx context.Context, id uuid.UUID) (*types.DiscoverySession, error)

	// ListSessions returns sessions newest first.
	ListSessions(ctx context.Context, filters SessionFilters) ([]*types.DiscoverySession, error)

	// SetQueryPlan records the generator outcome on the session: the
	// total number of (engine, query) tasks fanned out, the prompt and
	// model used. Rejected when the session is terminal.
	SetQueryPlan(ctx context.Context, id uuid.UUID, queriesTotal int, prompt, model string) error

	// RecordQueryDone marks one fan-out task finished and adds the
	// number of raw results it shipped to the expected total.
	RecordQueryDone(ctx context.Context, id uuid.UUID, resultsShipped int) error

	// IncrementStats applies a counter delta to the statistics row.
	// Increments against terminal sessions are dropped (stale output).
	IncrementStats(ctx context.Context, id uuid.UUID, delta StatsDelta) error

	// RecordEngineOutcome folds one adapter call into the per-engine
	// sub-statistics of the session.
	RecordEngineOutcome(ctx context.Context, id uuid.UUID, engine string, results int, failed bool) error

	// TryFinalize transitions RUNNING -> COMPLETED when every fan-out
	// task has reported and every expected result has been processed.
	// Returns true when this call performed the transition.
	TryFinalize(ctx context.Context, id uuid.UUID) (bool, error)

	// FailSession transitions RUNNING -> FAILED with a reason.
	// Returns ErrSessionTerminal when the session already finished.
	FailSession(ctx context.Context, id uuid.UUID, reason string) error

	// CancelSession transitions RUNNING -> CANCELLED.
	CancelSession(ctx context.Context, id uuid.UUID) error

	// SweepStale fails RUNNING sessions older than the cutoff and
	// returns how many were swept.
	SweepStale(ctx context.Context, olderThan time.Duration) (int, error)
}

// DomainStore is the global domain registry. Hosts are unique; writes
// are serialized through short read-modify-write transactions.
type DomainStore interface {
	// RegisterOrGet creates the host with status DISCOVERED on first
	// sight, or returns the existing row. The returned bool reports
	// whether a new row was created. Insert races converge on the
	// existing row.
	RegisterOrGet(ctx context.Context, host string, sessionID uuid.UUID) (*types.Domain, bool, error)

	// GetDomain loads a domain by ID. Returns ErrNotFound when absent.
	GetDomain(ctx context.Context, id uuid.UUID) (*types.Domain, error)

	// GetDomainByName loads a domain by its normalized host.
	GetDomainByName(ctx context.Context, host string) (*types.Domain, error)

	// ShouldProcess reports whether the host is worth processing now.
	// Unknown hosts are processable.
	ShouldProcess(ctx context.Context, host string, now time.Time) (bool, error)

	// UpdateQuality applies one processing outcome: best-confidence
	// max, quality counter increment, last-processed timestamp, and
	// the status transition rules. No-op on blacklisted domains.
	UpdateQuality(ctx context.Context, id uuid.UUID, confidence types.Confidence, highQuality bool) error

	// Blacklist upserts the host to BLACKLISTED with actor and reason.
	Blacklist(ctx context.Context, host, reason, actor string) error

	// Unblacklist lifts a blacklist, restoring DISCOVERED.
	// Returns ErrNotFound for unknown hosts.
	Unblacklist(ctx context.Context, host, actor string) error

	// MarkNoFunds transitions an existing host to NO_FUNDS_THIS_YEAR
	// for the given year. Returns ErrNotFound for unknown hosts.
	MarkNoFunds(ctx context.Context, host string, year int, notes string) error

	// RecordFailure increments the failure count, transitions to
	// PROCESSING_FAILED, and pushes retry_after out by the failure
	// backoff schedule.
	RecordFailure(ctx context.Context, id uuid.UUID, reason string) error

	// CountByStatus returns row counts per registry status.
	CountByStatus(ctx context.Context) (map[types.DomainStatus]int, error)
}

// CandidateFilters narrows ListCandidates. Zero values mean "any".
type CandidateFilters struct {
	Status        types.CandidateStatus
	MinConfidence types.Confidence
	SearchEngine  string
	SessionID     uuid.UUID
	StartDate     time.Time
	EndDate       time.Time
	SortBy        string // created_at | confidence | domain_name
	SortDesc      bool
	Page          int // 0-indexed
	Size          int // clamped to [1, 100]
}

// CandidateStore persists funding source candidates along with their
// score breakdowns and the append-only enhancement log.
type CandidateStore interface {
	// CreateWithJudgment inserts the candidate and its judgment in one
	// transaction. Returns ErrDuplicate when the (session, domain)
	// pair already has a candidate.
	CreateWithJudgment(ctx context.Context, c *types.FundingSourceCandidate, j *types.MetadataJudgment) error

	// GetCandidate loads a candidate. Returns ErrNotFound when absent.
	GetCandidate(ctx context.Context, id uuid.UUID) (*types.FundingSourceCandidate, error)

	// ListCandidates returns one page plus the unpaged total count.
	ListCandidates(ctx context.Context, filters CandidateFilters) ([]*types.FundingSourceCandidate, int, error)

	// Approve transitions the candidate to APPROVED and appends a
	// MANUAL enhancement record in the same transaction. Returns
	// ErrNotFound for unknown IDs and ErrAlreadyInState when already
	// approved.
	Approve(ctx context.Context, id uuid.UUID, reviewer string, notes string) error

	// Reject is the REJECTED counterpart of Approve.
	Reject(ctx context.Context, id uuid.UUID, reviewer string, notes string) error

	// ListJudgments returns the score breakdowns for a session.
	ListJudgments(ctx context.Context, sessionID uuid.UUID) ([]*types.MetadataJudgment, error)

	// AppendEnhancement appends an audit record. Timestamps outside
	// the clock-skew tolerance return ErrBackdated.
	AppendEnhancement(ctx context.Context, rec *types.EnhancementRecord) error

	// ListEnhancements returns the audit trail for a candidate,
	// oldest first.
	ListEnhancements(ctx context.Context, candidateID uuid.UUID) ([]*types.EnhancementRecord, error)
}

// UsageStore is the provider call audit used for centralized rate
// limiting across processes.
type UsageStore interface {
	// RecordAttempt inserts a usage row for an outbound call and
	// returns its ID plus the number of calls (including this one)
	// for the provider inside the window.
	RecordAttempt(ctx context.Context, provider, query string, window time.Duration) (int64, int, error)

	// Complete fills in the outcome of a previously recorded attempt.
	Complete(ctx context.Context, id int64, success bool, resultCount int, responseTime time.Duration) error

	// CountUsageSince counts calls for a provider since the cutoff.
	CountUsageSince(ctx context.Context, provider string, since time.Time) (int, error)
}

// LibraryStore persists the named query library consumed by the
// scheduled path.
type LibraryStore interface {
	// ReplaceAll swaps the whole library in one transaction. Used when
	// the library file is reloaded.
	ReplaceAll(ctx context.Context, queries []types.LibraryQuery) error

	// ListForDay returns enabled queries scheduled for the weekday.
	ListForDay(ctx context.Context, day time.Weekday) ([]types.LibraryQuery, error)

	// List returns the whole library.
	List(ctx context.Context) ([]types.LibraryQuery, error)
}

// GenerationStore records query-generation outcomes per session.
type GenerationStore interface {
	// SaveGeneration inserts the generation record.
	SaveGeneration(ctx context.Context, g *types.GenerationSession) error

	// GetGeneration loads the generation record for a session.
	// Returns ErrNotFound when absent.
	GetGeneration(ctx context.Context, sessionID uuid.UUID) (*types.GenerationSession, error)
}

// Store aggregates the individual stores behind a single backend
// handle with shared lifecycle.
type Store interface {
	Sessions() SessionStore
	Domains() DomainStore
	Candidates() CandidateStore
	Usage() UsageStore
	Library() LibraryStore
	Generations() GenerationStore

	// Ping verifies backend connectivity.
	Ping(ctx context.Context) error
	// Close releases backend resources.
	Close() error
}
