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

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/teradata-labs/prospector/pkg/observability"
	"github.com/teradata-labs/prospector/pkg/storage"
	"github.com/teradata-labs/prospector/pkg/types"
)

// GenerationStore implements storage.GenerationStore on PostgreSQL.
type GenerationStore struct {
	pool   *pgxpool.Pool
	tracer observability.Tracer
}

// NewGenerationStore creates a PostgreSQL-backed generation store.
func NewGenerationStore(pool *pgxpool.Pool, tracer observability.Tracer) *GenerationStore {
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	return &GenerationStore{pool: pool, tracer: tracer}
}

// SaveGeneration inserts the generation record for a session.
func (s *GenerationStore) SaveGeneration(ctx context.Context, g *types.GenerationSession) error {
	ctx, span := s.tracer.StartSpan(ctx, "pg_generation_store.save")
	defer s.tracer.EndSpan(span)
	span.SetAttribute(observability.AttrSessionID, g.SessionID.String())
	span.SetAttribute(observability.AttrFallback, g.FallbackUsed)

	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}

	_, err := s.pool.Exec(ctx, `
	INSERT INTO query_generation_sessions (
		id, session_id, model, style, queries_requested, queries_generated,
		queries_approved, queries_rejected, rejection_reasons, fallback_used,
		fallback_reason, prompt_tokens, duration_ms, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		g.ID, g.SessionID, nullableString(g.Model), g.Style,
		g.QueriesRequested, g.QueriesGenerated, g.QueriesApproved, g.QueriesRejected,
		g.RejectionReasons, g.FallbackUsed, g.FallbackReason,
		g.PromptTokens, g.DurationMs, g.CreatedAt,
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to save generation session: %w", err)
	}
	return nil
}

// GetGeneration loads the newest generation record for a session.
func (s *GenerationStore) GetGeneration(ctx context.Context, sessionID uuid.UUID) (*types.GenerationSession, error) {
	ctx, span := s.tracer.StartSpan(ctx, "pg_generation_store.get")
	defer s.tracer.EndSpan(span)
	span.SetAttribute(observability.AttrSessionID, sessionID.String())

	var (
		g     types.GenerationSession
		model *string
	)
	err := s.pool.QueryRow(ctx, `
	SELECT id, session_id, model, style, queries_requested, queries_generated,
		queries_approved, queries_rejected, rejection_reasons, fallback_used,
		fallback_reason, prompt_tokens, duration_ms, created_at
	FROM query_generation_sessions
	WHERE session_id = $1 ORDER BY created_at DESC LIMIT 1`, sessionID,
	).Scan(
		&g.ID, &g.SessionID, &model, &g.Style, &g.QueriesRequested, &g.QueriesGenerated,
		&g.QueriesApproved, &g.QueriesRejected, &g.RejectionReasons, &g.FallbackUsed,
		&g.FallbackReason, &g.PromptTokens, &g.DurationMs, &g.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, storage.ErrNotFound
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to load generation session: %w", err)
	}
	if model != nil {
		g.Model = *model
	}
	return &g, nil
}

// Compile-time check: GenerationStore implements storage.GenerationStore.
var _ storage.GenerationStore = (*GenerationStore)(nil)
