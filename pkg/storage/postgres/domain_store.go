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
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/teradata-labs/prospector/pkg/observability"
	"github.com/teradata-labs/prospector/pkg/storage"
	"github.com/teradata-labs/prospector/pkg/types"
)

// DomainStore implements storage.DomainStore on PostgreSQL. The host
// unique constraint is the arbitration point for concurrent inserts;
// all mutations are short read-modify-write transactions with the row
// locked.
type DomainStore struct {
	pool   *pgxpool.Pool
	tracer observability.Tracer
}

// NewDomainStore creates a PostgreSQL-backed domain registry.
func NewDomainStore(pool *pgxpool.Pool, tracer observability.Tracer) *DomainStore {
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	return &DomainStore{pool: pool, tracer: tracer}
}

const domainColumns = `id, domain_name, status, best_confidence::text,
	high_quality_count, low_quality_count, discovered_at, discovery_session_id,
	last_processed_at, processing_count, failure_count, retry_after,
	blacklisted_by, blacklist_reason, blacklisted_at, no_funds_year, notes`

// RegisterOrGet creates the host with DISCOVERED on first sight or
// returns the existing row. A losing racer re-reads the winner.
func (s *DomainStore) RegisterOrGet(ctx context.Context, host string, sessionID uuid.UUID) (*types.Domain, bool, error) {
	ctx, span := s.tracer.StartSpan(ctx, "pg_domain_store.register_or_get")
	defer s.tracer.EndSpan(span)
	span.SetAttribute(observability.AttrDomainHost, host)

	existing, err := s.GetDomainByName(ctx, host)
	if err == nil {
		return existing, false, nil
	}
	if err != storage.ErrNotFound {
		return nil, false, err
	}

	domain := &types.Domain{
		ID:                 uuid.New(),
		Name:               host,
		Status:             types.DomainStatusDiscovered,
		DiscoveredAt:       time.Now().UTC(),
		DiscoverySessionID: &sessionID,
	}
	_, err = s.pool.Exec(ctx, `
	INSERT INTO domain (id, domain_name, status, discovered_at, discovery_session_id)
	VALUES ($1, $2, $3, $4, $5)`,
		domain.ID, domain.Name, string(domain.Status), domain.DiscoveredAt, sessionID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			// Lost the insert race; the winner's row is authoritative.
			winner, readErr := s.GetDomainByName(ctx, host)
			if readErr != nil {
				return nil, false, readErr
			}
			return winner, false, nil
		}
		span.RecordError(err)
		return nil, false, fmt.Errorf("failed to insert domain: %w", err)
	}
	return domain, true, nil
}

// GetDomain loads a domain by ID.
func (s *DomainStore) GetDomain(ctx context.Context, id uuid.UUID) (*types.Domain, error) {
	ctx, span := s.tracer.StartSpan(ctx, "pg_domain_store.get")
	defer s.tracer.EndSpan(span)

	row := s.pool.QueryRow(ctx, "SELECT "+domainColumns+" FROM domain WHERE id = $1", id)
	domain, err := scanDomain(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, storage.ErrNotFound
		}
		span.RecordError(err)
		return nil, err
	}
	return domain, nil
}

// GetDomainByName loads a domain by its normalized host.
func (s *DomainStore) GetDomainByName(ctx context.Context, host string) (*types.Domain, error) {
	ctx, span := s.tracer.StartSpan(ctx, "pg_domain_store.get_by_name")
	defer s.tracer.EndSpan(span)
	span.SetAttribute(observability.AttrDomainHost, host)

	row := s.pool.QueryRow(ctx, "SELECT "+domainColumns+" FROM domain WHERE domain_name = $1", host)
	domain, err := scanDomain(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, storage.ErrNotFound
		}
		span.RecordError(err)
		return nil, err
	}
	return domain, nil
}

// ShouldProcess reports whether the host is worth processing now.
// Unknown hosts are processable.
func (s *DomainStore) ShouldProcess(ctx context.Context, host string, now time.Time) (bool, error) {
	domain, err := s.GetDomainByName(ctx, host)
	if err != nil {
		if err == storage.ErrNotFound {
			return true, nil
		}
		return false, err
	}
	return domain.ShouldProcess(now), nil
}

// UpdateQuality applies one processing outcome with the row locked.
func (s *DomainStore) UpdateQuality(ctx context.Context, id uuid.UUID, confidence types.Confidence, highQuality bool) error {
	ctx, span := s.tracer.StartSpan(ctx, "pg_domain_store.update_quality")
	defer s.tracer.EndSpan(span)
	span.SetAttribute(observability.AttrConfidence, confidence.String())

	return execInTx(ctx, s.pool, func(ctx context.Context, tx pgx.Tx) error {
		row := tx.QueryRow(ctx, "SELECT "+domainColumns+" FROM domain WHERE id = $1 FOR UPDATE", id)
		domain, err := scanDomain(row)
		if err != nil {
			if err == pgx.ErrNoRows {
				return storage.ErrNotFound
			}
			span.RecordError(err)
			return err
		}

		domain.ApplyQuality(confidence, highQuality, time.Now().UTC())

		_, err = tx.Exec(ctx, `
		UPDATE domain
		SET status = $2, best_confidence = $3, high_quality_count = $4,
		    low_quality_count = $5, last_processed_at = $6,
		    processing_count = processing_count + 1
		WHERE id = $1`,
			id, string(domain.Status), confidenceArg(domain.BestConfidence),
			domain.HighQualityCount, domain.LowQualityCount, domain.LastProcessedAt,
		)
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("failed to update domain quality: %w", err)
		}
		return nil
	})
}

// Blacklist upserts the host to BLACKLISTED. Existing state is
// overwritten; the caller invalidates the blacklist cache afterwards.
func (s *DomainStore) Blacklist(ctx context.Context, host, reason, actor string) error {
	ctx, span := s.tracer.StartSpan(ctx, "pg_domain_store.blacklist")
	defer s.tracer.EndSpan(span)
	span.SetAttribute(observability.AttrDomainHost, host)

	_, err := s.pool.Exec(ctx, `
	INSERT INTO domain (id, domain_name, status, discovered_at, blacklisted_by, blacklist_reason, blacklisted_at)
	VALUES ($1, $2, 'BLACKLISTED', NOW(), $3, $4, NOW())
	ON CONFLICT (domain_name) DO UPDATE SET
		status = 'BLACKLISTED',
		blacklisted_by = EXCLUDED.blacklisted_by,
		blacklist_reason = EXCLUDED.blacklist_reason,
		blacklisted_at = EXCLUDED.blacklisted_at`,
		uuid.New(), host, actor, reason,
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to blacklist domain: %w", err)
	}
	return nil
}

// Unblacklist lifts a blacklist, restoring DISCOVERED.
func (s *DomainStore) Unblacklist(ctx context.Context, host, actor string) error {
	ctx, span := s.tracer.StartSpan(ctx, "pg_domain_store.unblacklist")
	defer s.tracer.EndSpan(span)
	span.SetAttribute(observability.AttrDomainHost, host)

	tag, err := s.pool.Exec(ctx, `
	UPDATE domain
	SET status = 'DISCOVERED', blacklisted_by = NULL, blacklist_reason = NULL,
	    blacklisted_at = NULL, notes = CONCAT_WS(E'\n', notes, 'un-blacklisted by ' || $2)
	WHERE domain_name = $1 AND status = 'BLACKLISTED'`,
		host, actor,
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to un-blacklist domain: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// MarkNoFunds parks an existing host as NO_FUNDS_THIS_YEAR.
func (s *DomainStore) MarkNoFunds(ctx context.Context, host string, year int, notes string) error {
	ctx, span := s.tracer.StartSpan(ctx, "pg_domain_store.mark_no_funds")
	defer s.tracer.EndSpan(span)
	span.SetAttribute(observability.AttrDomainHost, host)

	tag, err := s.pool.Exec(ctx, `
	UPDATE domain
	SET status = 'NO_FUNDS_THIS_YEAR', no_funds_year = $2,
	    notes = CONCAT_WS(E'\n', notes, $3)
	WHERE domain_name = $1 AND status <> 'BLACKLISTED'`,
		host, year, nullableString(notes),
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to mark no funds: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// RecordFailure bumps the failure count and pushes retry_after out by
// the backoff schedule.
func (s *DomainStore) RecordFailure(ctx context.Context, id uuid.UUID, reason string) error {
	ctx, span := s.tracer.StartSpan(ctx, "pg_domain_store.record_failure")
	defer s.tracer.EndSpan(span)

	return execInTx(ctx, s.pool, func(ctx context.Context, tx pgx.Tx) error {
		var failureCount int
		err := tx.QueryRow(ctx,
			"SELECT failure_count FROM domain WHERE id = $1 FOR UPDATE", id,
		).Scan(&failureCount)
		if err != nil {
			if err == pgx.ErrNoRows {
				return storage.ErrNotFound
			}
			span.RecordError(err)
			return fmt.Errorf("failed to read domain for failure: %w", err)
		}

		failureCount++
		retryAfter := time.Now().UTC().Add(types.FailureBackoff(failureCount))
		span.SetAttribute("failure_count", failureCount)

		_, err = tx.Exec(ctx, `
		UPDATE domain
		SET status = 'PROCESSING_FAILED', failure_count = $2, retry_after = $3,
		    notes = CONCAT_WS(E'\n', notes, $4)
		WHERE id = $1 AND status <> 'BLACKLISTED'`,
			id, failureCount, retryAfter, nullableString(reason),
		)
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("failed to record domain failure: %w", err)
		}
		return nil
	})
}

// CountByStatus returns row counts per registry status.
func (s *DomainStore) CountByStatus(ctx context.Context) (map[types.DomainStatus]int, error) {
	ctx, span := s.tracer.StartSpan(ctx, "pg_domain_store.count_by_status")
	defer s.tracer.EndSpan(span)

	rows, err := s.pool.Query(ctx, "SELECT status, COUNT(*) FROM domain GROUP BY status")
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to count domains: %w", err)
	}
	defer rows.Close()

	counts := make(map[types.DomainStatus]int)
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to scan domain count: %w", err)
		}
		counts[types.DomainStatus(status)] = count
	}
	return counts, rows.Err()
}

// scanDomain reads one domain row.
func scanDomain(row pgx.Row) (*types.Domain, error) {
	var (
		d          types.Domain
		status     string
		confidence string
	)
	err := row.Scan(
		&d.ID, &d.Name, &status, &confidence,
		&d.HighQualityCount, &d.LowQualityCount, &d.DiscoveredAt, &d.DiscoverySessionID,
		&d.LastProcessedAt, &d.ProcessingCount, &d.FailureCount, &d.RetryAfter,
		&d.BlacklistedBy, &d.BlacklistReason, &d.BlacklistedAt, &d.NoFundsYear, &d.Notes,
	)
	if err != nil {
		return nil, err
	}

	d.Status = types.DomainStatus(status)
	d.BestConfidence, err = scanConfidence(confidence)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// Compile-time check: DomainStore implements storage.DomainStore.
var _ storage.DomainStore = (*DomainStore)(nil)
