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

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/teradata-labs/prospector/pkg/observability"
	"github.com/teradata-labs/prospector/pkg/storage"
)

// UsageStore implements storage.UsageStore on PostgreSQL. The usage
// table is the shared ledger behind rate limiting: the attempt row is
// inserted before the outbound call, and counting rows in the window
// within the same transaction gives every process the same view.
type UsageStore struct {
	pool   *pgxpool.Pool
	tracer observability.Tracer
}

// NewUsageStore creates a PostgreSQL-backed usage store.
func NewUsageStore(pool *pgxpool.Pool, tracer observability.Tracer) *UsageStore {
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	return &UsageStore{pool: pool, tracer: tracer}
}

// RecordAttempt inserts a usage row for an outbound call and returns
// its ID plus the number of calls (including this one) in the window.
func (s *UsageStore) RecordAttempt(ctx context.Context, provider, query string, window time.Duration) (int64, int, error) {
	ctx, span := s.tracer.StartSpan(ctx, "pg_usage_store.record_attempt")
	defer s.tracer.EndSpan(span)
	span.SetAttribute(observability.AttrEngineName, provider)

	var (
		id    int64
		count int
	)
	err := execInTx(ctx, s.pool, func(ctx context.Context, tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
		INSERT INTO provider_api_usage (provider, query, called_at)
		VALUES ($1, $2, NOW()) RETURNING id`,
			provider, nullableString(query),
		).Scan(&id)
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("failed to record usage attempt: %w", err)
		}

		err = tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM provider_api_usage
		WHERE provider = $1 AND called_at >= NOW() - $2::interval`,
			provider, window,
		).Scan(&count)
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("failed to count usage in window: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}

	span.SetAttribute("window_count", count)
	return id, count, nil
}

// Complete fills in the outcome of a previously recorded attempt.
func (s *UsageStore) Complete(ctx context.Context, id int64, success bool, resultCount int, responseTime time.Duration) error {
	ctx, span := s.tracer.StartSpan(ctx, "pg_usage_store.complete")
	defer s.tracer.EndSpan(span)

	_, err := s.pool.Exec(ctx, `
	UPDATE provider_api_usage
	SET success = $2, result_count = $3, response_time_ms = $4
	WHERE id = $1`,
		id, success, resultCount, responseTime.Milliseconds(),
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to complete usage record: %w", err)
	}
	return nil
}

// CountUsageSince counts calls for a provider since the cutoff.
func (s *UsageStore) CountUsageSince(ctx context.Context, provider string, since time.Time) (int, error) {
	ctx, span := s.tracer.StartSpan(ctx, "pg_usage_store.count_since")
	defer s.tracer.EndSpan(span)
	span.SetAttribute(observability.AttrEngineName, provider)

	var count int
	err := s.pool.QueryRow(ctx, `
	SELECT COUNT(*) FROM provider_api_usage
	WHERE provider = $1 AND called_at >= $2`,
		provider, since,
	).Scan(&count)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to count provider usage: %w", err)
	}
	return count, nil
}

// Compile-time check: UsageStore implements storage.UsageStore.
var _ storage.UsageStore = (*UsageStore)(nil)
