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

// LibraryStore implements storage.LibraryStore on PostgreSQL.
type LibraryStore struct {
	pool   *pgxpool.Pool
	tracer observability.Tracer
}

// NewLibraryStore creates a PostgreSQL-backed query library store.
func NewLibraryStore(pool *pgxpool.Pool, tracer observability.Tracer) *LibraryStore {
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	return &LibraryStore{pool: pool, tracer: tracer}
}

// ReplaceAll swaps the whole library in one transaction, keyed by
// query name so IDs survive reloads of the same library file.
func (s *LibraryStore) ReplaceAll(ctx context.Context, queries []types.LibraryQuery) error {
	ctx, span := s.tracer.StartSpan(ctx, "pg_library_store.replace_all")
	defer s.tracer.EndSpan(span)
	span.SetAttribute("query_count", len(queries))

	return execInTx(ctx, s.pool, func(ctx context.Context, tx pgx.Tx) error {
		names := make([]string, 0, len(queries))
		for i := range queries {
			q := &queries[i]
			if q.ID == uuid.Nil {
				q.ID = uuid.New()
			}
			names = append(names, q.Name)

			_, err := tx.Exec(ctx, `
			INSERT INTO search_queries (id, name, query_text, day_of_week, engines, tags, enabled, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
			ON CONFLICT (name) DO UPDATE SET
				query_text = EXCLUDED.query_text,
				day_of_week = EXCLUDED.day_of_week,
				engines = EXCLUDED.engines,
				tags = EXCLUDED.tags,
				enabled = EXCLUDED.enabled,
				updated_at = NOW()`,
				q.ID, q.Name, q.Text, int(q.DayOfWeek), q.Engines, q.Tags, q.Enabled,
			)
			if err != nil {
				span.RecordError(err)
				return fmt.Errorf("failed to upsert library query %q: %w", q.Name, err)
			}
		}

		// Queries removed from the library file are removed here too.
		_, err := tx.Exec(ctx,
			"DELETE FROM search_queries WHERE NOT (name = ANY($1))", names)
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("failed to prune removed library queries: %w", err)
		}
		return nil
	})
}

// ListForDay returns enabled queries scheduled for the weekday.
func (s *LibraryStore) ListForDay(ctx context.Context, day time.Weekday) ([]types.LibraryQuery, error) {
	ctx, span := s.tracer.StartSpan(ctx, "pg_library_store.list_for_day")
	defer s.tracer.EndSpan(span)
	span.SetAttribute("day_of_week", int(day))

	return s.listWhere(ctx, "WHERE enabled AND day_of_week = $1", int(day))
}

// List returns the whole library.
func (s *LibraryStore) List(ctx context.Context) ([]types.LibraryQuery, error) {
	ctx, span := s.tracer.StartSpan(ctx, "pg_library_store.list")
	defer s.tracer.EndSpan(span)

	return s.listWhere(ctx, "")
}

func (s *LibraryStore) listWhere(ctx context.Context, where string, args ...interface{}) ([]types.LibraryQuery, error) {
	query := `SELECT id, name, query_text, day_of_week, engines, tags, enabled, created_at, updated_at
	FROM search_queries ` + where + " ORDER BY name"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list library queries: %w", err)
	}
	defer rows.Close()

	var queries []types.LibraryQuery
	for rows.Next() {
		var (
			q   types.LibraryQuery
			day int
		)
		err := rows.Scan(&q.ID, &q.Name, &q.Text, &day, &q.Engines, &q.Tags,
			&q.Enabled, &q.CreatedAt, &q.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan library query: %w", err)
		}
		q.DayOfWeek = time.Weekday(day)
		queries = append(queries, q)
	}
	return queries, rows.Err()
}

// Compile-time check: LibraryStore implements storage.LibraryStore.
var _ storage.LibraryStore = (*LibraryStore)(nil)
