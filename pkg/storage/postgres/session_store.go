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
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/teradata-labs/prospector/pkg/observability"
	"github.com/teradata-labs/prospector/pkg/storage"
	"github.com/teradata-labs/prospector/pkg/types"
)

// SessionStore implements storage.SessionStore on PostgreSQL.
//
// The session row carries three control counters (queries_total,
// queries_completed, results_expected) that consumers increment as the
// fan-out progresses. TryFinalize compares them against the processed
// count in a single conditional UPDATE, so completion is detected
// correctly regardless of event ordering and without a coordinator.
type SessionStore struct {
	pool   *pgxpool.Pool
	tracer observability.Tracer
}

// NewSessionStore creates a PostgreSQL-backed session store.
func NewSessionStore(pool *pgxpool.Pool, tracer observability.Tracer) *SessionStore {
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	return &SessionStore{pool: pool, tracer: tracer}
}

const sessionColumns = `id, session_type, status, started_at, completed_at, duration_ms,
	queries_total, queries_completed, results_expected,
	criteria_json, generator_prompt, generator_model, failure_reason`

// CreateSession inserts the session and an empty statistics row in one
// transaction.
func (s *SessionStore) CreateSession(ctx context.Context, session *types.DiscoverySession) error {
	ctx, span := s.tracer.StartSpan(ctx, "pg_session_store.create")
	defer s.tracer.EndSpan(span)
	span.SetAttribute(observability.AttrSessionID, session.ID.String())

	criteriaJSON, err := json.Marshal(session.Criteria)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to marshal session criteria: %w", err)
	}

	return execInTx(ctx, s.pool, func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
		INSERT INTO discovery_session (id, session_type, status, started_at, criteria_json, generator_prompt, generator_model)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			session.ID,
			string(session.Type),
			string(session.Status),
			session.StartedAt,
			criteriaJSON,
			nullableString(session.GeneratorPrompt),
			nullableString(session.GeneratorModel),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return storage.ErrDuplicate
			}
			span.RecordError(err)
			return fmt.Errorf("failed to insert session: %w", err)
		}

		_, err = tx.Exec(ctx,
			"INSERT INTO search_session_statistics (session_id) VALUES ($1)",
			session.ID,
		)
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("failed to insert session statistics: %w", err)
		}
		return nil
	})
}

// GetSession loads a session with its statistics attached.
func (s *SessionStore) GetSession(ctx context.Context, id uuid.UUID) (*types.DiscoverySession, error) {
	ctx, span := s.tracer.StartSpan(ctx, "pg_session_store.get")
	defer s.tracer.EndSpan(span)
	span.SetAttribute(observability.AttrSessionID, id.String())

	var session *types.DiscoverySession
	err := execInTx(ctx, s.pool, func(ctx context.Context, tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			"SELECT "+sessionColumns+" FROM discovery_session WHERE id = $1", id)

		sess, err := scanSession(row)
		if err != nil {
			if err == pgx.ErrNoRows {
				return storage.ErrNotFound
			}
			span.RecordError(err)
			return err
		}

		stats, err := scanStatistics(tx.QueryRow(ctx, `
		SELECT session_id, results_found, results_processed, candidates_created,
			high_confidence, low_confidence, duplicates_skipped, spam_tld_filtered,
			blacklisted_skipped, invalid_urls_skipped, engine_stats, updated_at
		FROM search_session_statistics WHERE session_id = $1`, id))
		if err != nil && err != pgx.ErrNoRows {
			span.RecordError(err)
			return err
		}
		sess.Stats = stats
		session = sess
		return nil
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// ListSessions returns sessions newest first.
func (s *SessionStore) ListSessions(ctx context.Context, filters storage.SessionFilters) ([]*types.DiscoverySession, error) {
	ctx, span := s.tracer.StartSpan(ctx, "pg_session_store.list")
	defer s.tracer.EndSpan(span)

	query := "SELECT " + sessionColumns + " FROM discovery_session WHERE 1=1"
	args := []interface{}{}
	argIdx := 1

	if filters.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(filters.Status))
		argIdx++
	}
	if filters.Type != "" {
		query += fmt.Sprintf(" AND session_type = $%d", argIdx)
		args = append(args, string(filters.Type))
		argIdx++
	}
	if !filters.StartedAt.IsZero() {
		query += fmt.Sprintf(" AND started_at >= $%d", argIdx)
		args = append(args, filters.StartedAt)
		argIdx++
	}
	query += " ORDER BY started_at DESC"
	if filters.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, filters.Limit)
	}

	var sessions []*types.DiscoverySession
	err := execInTx(ctx, s.pool, func(ctx context.Context, tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, args...)
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("failed to list sessions: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			sess, err := scanSession(rows)
			if err != nil {
				span.RecordError(err)
				return err
			}
			sessions = append(sessions, sess)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

// SetQueryPlan records the generator outcome: total fan-out tasks plus
// the prompt and model used. Terminal sessions reject the update.
func (s *SessionStore) SetQueryPlan(ctx context.Context, id uuid.UUID, queriesTotal int, prompt, model string) error {
	ctx, span := s.tracer.StartSpan(ctx, "pg_session_store.set_query_plan")
	defer s.tracer.EndSpan(span)
	span.SetAttribute(observability.AttrSessionID, id.String())
	span.SetAttribute("queries_total", queriesTotal)

	tag, err := s.pool.Exec(ctx, `
	UPDATE discovery_session
	SET queries_total = $2, generator_prompt = $3, generator_model = $4
	WHERE id = $1 AND status = 'RUNNING'`,
		id, queriesTotal, nullableString(prompt), nullableString(model),
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to set query plan: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.classifyMissedUpdate(ctx, id)
	}
	return nil
}

// RecordQueryDone marks one fan-out task finished and adds its shipped
// result count to the expected total. Stale updates against terminal
// sessions are dropped.
func (s *SessionStore) RecordQueryDone(ctx context.Context, id uuid.UUID, resultsShipped int) error {
	ctx, span := s.tracer.StartSpan(ctx, "pg_session_store.record_query_done")
	defer s.tracer.EndSpan(span)
	span.SetAttribute(observability.AttrSessionID, id.String())

	_, err := s.pool.Exec(ctx, `
	UPDATE discovery_session
	SET queries_completed = queries_completed + 1,
	    results_expected = results_expected + $2
	WHERE id = $1 AND status = 'RUNNING'`,
		id, resultsShipped,
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to record query completion: %w", err)
	}
	return nil
}

// IncrementStats applies a counter delta. Deltas against terminal
// sessions are dropped so finished counters stay immutable.
func (s *SessionStore) IncrementStats(ctx context.Context, id uuid.UUID, delta storage.StatsDelta) error {
	ctx, span := s.tracer.StartSpan(ctx, "pg_session_store.increment_stats")
	defer s.tracer.EndSpan(span)
	span.SetAttribute(observability.AttrSessionID, id.String())

	_, err := s.pool.Exec(ctx, `
	UPDATE search_session_statistics st
	SET results_found = st.results_found + $2,
	    results_processed = st.results_processed + $3,
	    candidates_created = st.candidates_created + $4,
	    high_confidence = st.high_confidence + $5,
	    low_confidence = st.low_confidence + $6,
	    duplicates_skipped = st.duplicates_skipped + $7,
	    spam_tld_filtered = st.spam_tld_filtered + $8,
	    blacklisted_skipped = st.blacklisted_skipped + $9,
	    invalid_urls_skipped = st.invalid_urls_skipped + $10,
	    updated_at = NOW()
	FROM discovery_session ds
	WHERE st.session_id = $1 AND ds.id = st.session_id AND ds.status = 'RUNNING'`,
		id,
		delta.ResultsFound,
		delta.ResultsProcessed,
		delta.CandidatesCreated,
		delta.HighConfidence,
		delta.LowConfidence,
		delta.DuplicatesSkipped,
		delta.SpamTLDFiltered,
		delta.BlacklistedSkipped,
		delta.InvalidURLsSkipped,
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to increment session statistics: %w", err)
	}
	return nil
}

// RecordEngineOutcome folds one adapter call into the per-engine
// sub-statistics JSONB via read-modify-write.
func (s *SessionStore) RecordEngineOutcome(ctx context.Context, id uuid.UUID, engine string, results int, failed bool) error {
	ctx, span := s.tracer.StartSpan(ctx, "pg_session_store.record_engine_outcome")
	defer s.tracer.EndSpan(span)
	span.SetAttribute(observability.AttrSessionID, id.String())
	span.SetAttribute(observability.AttrEngineName, engine)

	return execInTx(ctx, s.pool, func(ctx context.Context, tx pgx.Tx) error {
		var raw []byte
		err := tx.QueryRow(ctx, `
		SELECT st.engine_stats
		FROM search_session_statistics st
		JOIN discovery_session ds ON ds.id = st.session_id
		WHERE st.session_id = $1 AND ds.status = 'RUNNING'
		FOR UPDATE OF st`, id,
		).Scan(&raw)
		if err != nil {
			if err == pgx.ErrNoRows {
				return nil // terminal or unknown session, drop stale output
			}
			span.RecordError(err)
			return fmt.Errorf("failed to read engine stats: %w", err)
		}

		stats := make(map[string]types.EngineStats)
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &stats); err != nil {
				span.RecordError(err)
				return fmt.Errorf("failed to unmarshal engine stats: %w", err)
			}
		}
		es := stats[engine]
		es.Requests++
		es.Results += results
		if failed {
			es.Failures++
		}
		stats[engine] = es

		merged, err := json.Marshal(stats)
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("failed to marshal engine stats: %w", err)
		}

		_, err = tx.Exec(ctx,
			"UPDATE search_session_statistics SET engine_stats = $2, updated_at = NOW() WHERE session_id = $1",
			id, merged,
		)
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("failed to write engine stats: %w", err)
		}
		return nil
	})
}

// TryFinalize transitions RUNNING -> COMPLETED once every fan-out task
// has reported and every expected result has been processed. The whole
// check-and-set is one conditional UPDATE, so concurrent callers race
// harmlessly: exactly one wins.
func (s *SessionStore) TryFinalize(ctx context.Context, id uuid.UUID) (bool, error) {
	ctx, span := s.tracer.StartSpan(ctx, observability.SpanSessionFinalize)
	defer s.tracer.EndSpan(span)
	span.SetAttribute(observability.AttrSessionID, id.String())

	tag, err := s.pool.Exec(ctx, `
	UPDATE discovery_session ds
	SET status = 'COMPLETED',
	    completed_at = NOW(),
	    duration_ms = (EXTRACT(EPOCH FROM (NOW() - ds.started_at)) * 1000)::BIGINT
	FROM search_session_statistics st
	WHERE ds.id = $1
	  AND st.session_id = ds.id
	  AND ds.status = 'RUNNING'
	  AND ds.queries_total > 0
	  AND ds.queries_completed >= ds.queries_total
	  AND st.results_processed >= ds.results_expected`,
		id,
	)
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("failed to finalize session: %w", err)
	}

	finalized := tag.RowsAffected() > 0
	span.SetAttribute("finalized", finalized)
	return finalized, nil
}

// FailSession transitions RUNNING -> FAILED with a reason.
func (s *SessionStore) FailSession(ctx context.Context, id uuid.UUID, reason string) error {
	return s.terminate(ctx, id, types.SessionStatusFailed, reason)
}

// CancelSession transitions RUNNING -> CANCELLED.
func (s *SessionStore) CancelSession(ctx context.Context, id uuid.UUID) error {
	return s.terminate(ctx, id, types.SessionStatusCancelled, "")
}

func (s *SessionStore) terminate(ctx context.Context, id uuid.UUID, status types.SessionStatus, reason string) error {
	ctx, span := s.tracer.StartSpan(ctx, "pg_session_store.terminate")
	defer s.tracer.EndSpan(span)
	span.SetAttribute(observability.AttrSessionID, id.String())
	span.SetAttribute("target_status", string(status))

	tag, err := s.pool.Exec(ctx, `
	UPDATE discovery_session
	SET status = $2,
	    completed_at = NOW(),
	    duration_ms = (EXTRACT(EPOCH FROM (NOW() - started_at)) * 1000)::BIGINT,
	    failure_reason = $3
	WHERE id = $1 AND status = 'RUNNING'`,
		id, string(status), nullableString(reason),
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to terminate session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.classifyMissedUpdate(ctx, id)
	}
	return nil
}

// SweepStale fails RUNNING sessions older than the cutoff.
func (s *SessionStore) SweepStale(ctx context.Context, olderThan time.Duration) (int, error) {
	ctx, span := s.tracer.StartSpan(ctx, "pg_session_store.sweep_stale")
	defer s.tracer.EndSpan(span)

	tag, err := s.pool.Exec(ctx, `
	UPDATE discovery_session
	SET status = 'FAILED',
	    completed_at = NOW(),
	    duration_ms = (EXTRACT(EPOCH FROM (NOW() - started_at)) * 1000)::BIGINT,
	    failure_reason = 'session deadline exceeded'
	WHERE status = 'RUNNING' AND started_at < $1`,
		time.Now().UTC().Add(-olderThan),
	)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to sweep stale sessions: %w", err)
	}

	swept := int(tag.RowsAffected())
	span.SetAttribute("sessions_swept", swept)
	return swept, nil
}

// classifyMissedUpdate distinguishes "session gone" from "session
// already terminal" for a guarded UPDATE that matched no rows.
func (s *SessionStore) classifyMissedUpdate(ctx context.Context, id uuid.UUID) error {
	var status string
	err := s.pool.QueryRow(ctx,
		"SELECT status FROM discovery_session WHERE id = $1", id,
	).Scan(&status)
	if err != nil {
		if err == pgx.ErrNoRows {
			return storage.ErrNotFound
		}
		return fmt.Errorf("failed to read session status: %w", err)
	}
	return storage.ErrSessionTerminal
}

// scanSession reads one session row (without statistics).
func scanSession(row pgx.Row) (*types.DiscoverySession, error) {
	var (
		sess         types.DiscoverySession
		sessionType  string
		status       string
		criteriaJSON []byte
		prompt       *string
		model        *string
	)
	err := row.Scan(
		&sess.ID, &sessionType, &status, &sess.StartedAt, &sess.CompletedAt, &sess.DurationMs,
		&sess.QueriesTotal, &sess.QueriesCompleted, &sess.ResultsExpected,
		&criteriaJSON, &prompt, &model, &sess.FailureReason,
	)
	if err != nil {
		return nil, err
	}

	sess.Type = types.SessionType(sessionType)
	sess.Status = types.SessionStatus(status)
	if prompt != nil {
		sess.GeneratorPrompt = *prompt
	}
	if model != nil {
		sess.GeneratorModel = *model
	}
	if len(criteriaJSON) > 0 {
		if err := json.Unmarshal(criteriaJSON, &sess.Criteria); err != nil {
			return nil, fmt.Errorf("failed to unmarshal session criteria: %w", err)
		}
	}
	return &sess, nil
}

// scanStatistics reads one statistics row.
func scanStatistics(row pgx.Row) (*types.SessionStatistics, error) {
	var (
		stats types.SessionStatistics
		raw   []byte
	)
	err := row.Scan(
		&stats.SessionID, &stats.ResultsFound, &stats.ResultsProcessed, &stats.CandidatesCreated,
		&stats.HighConfidence, &stats.LowConfidence, &stats.DuplicatesSkipped, &stats.SpamTLDFiltered,
		&stats.BlacklistedSkipped, &stats.InvalidURLsSkipped, &raw, &stats.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &stats.EngineStats); err != nil {
			return nil, fmt.Errorf("failed to unmarshal engine stats: %w", err)
		}
	}
	return &stats, nil
}

// Compile-time check: SessionStore implements storage.SessionStore.
var _ storage.SessionStore = (*SessionStore)(nil)
