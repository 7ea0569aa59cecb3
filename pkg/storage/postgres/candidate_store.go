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

// CandidateStore implements storage.CandidateStore on PostgreSQL. It
// owns three tables: the candidates themselves, their immutable score
// breakdowns, and the append-only enhancement audit log.
type CandidateStore struct {
	pool   *pgxpool.Pool
	tracer observability.Tracer
}

// NewCandidateStore creates a PostgreSQL-backed candidate store.
func NewCandidateStore(pool *pgxpool.Pool, tracer observability.Tracer) *CandidateStore {
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	return &CandidateStore{pool: pool, tracer: tracer}
}

// enhancementSkewTolerance bounds how far an audit record's timestamp
// may drift from the store clock before it is rejected as backdated.
const enhancementSkewTolerance = 2 * time.Minute

const candidateColumns = `c.id, c.status, c.confidence::text, c.domain_id, d.domain_name,
	c.session_id, c.source_url, c.title, c.snippet, c.search_engine, c.rank,
	c.organization_name, c.program_name, c.categories, c.geographic_scope,
	c.organization_types, c.created_at, c.updated_at, c.reviewed_by, c.reviewed_at`

// CreateWithJudgment inserts the candidate and its score breakdown in
// one transaction. The (session, domain) unique constraint makes
// reprocessing idempotent: a duplicate insert returns ErrDuplicate and
// writes nothing.
func (s *CandidateStore) CreateWithJudgment(ctx context.Context, c *types.FundingSourceCandidate, j *types.MetadataJudgment) error {
	ctx, span := s.tracer.StartSpan(ctx, "pg_candidate_store.create")
	defer s.tracer.EndSpan(span)
	span.SetAttribute(observability.AttrSessionID, c.SessionID.String())
	span.SetAttribute(observability.AttrDomainHost, c.DomainName)

	return execInTx(ctx, s.pool, func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
		INSERT INTO funding_source_candidate (
			id, status, confidence, domain_id, session_id, source_url, title, snippet,
			search_engine, rank, organization_name, program_name,
			categories, geographic_scope, organization_types, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $16)`,
			c.ID, string(c.Status), confidenceArg(c.Confidence), c.DomainID, c.SessionID,
			c.SourceURL, nullableString(c.Title), nullableString(c.Snippet),
			c.Engine, c.Rank, c.OrganizationName, c.ProgramName,
			c.Categories, c.GeographicScope, c.OrganizationTypes, c.CreatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return storage.ErrDuplicate
			}
			span.RecordError(err)
			return fmt.Errorf("failed to insert candidate: %w", err)
		}

		if j == nil {
			return nil
		}
		_, err = tx.Exec(ctx, `
		INSERT INTO metadata_judgments (
			id, candidate_id, session_id, funding_keywords_score, domain_credibility_score,
			geographic_relevance_score, organization_type_score, compound_bonus,
			confidence, keywords_found, search_engine, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			j.ID, c.ID, c.SessionID,
			scoreArg(j.FundingKeywordsScore), scoreArg(j.DomainCredibilityScore),
			scoreArg(j.GeographicRelevanceScore), scoreArg(j.OrganizationTypeScore),
			scoreArg(j.CompoundBonus), confidenceArg(j.Confidence),
			j.KeywordsFound, nullableString(j.Engine), j.CreatedAt,
		)
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("failed to insert judgment: %w", err)
		}
		return nil
	})
}

// GetCandidate loads a candidate by ID.
func (s *CandidateStore) GetCandidate(ctx context.Context, id uuid.UUID) (*types.FundingSourceCandidate, error) {
	ctx, span := s.tracer.StartSpan(ctx, "pg_candidate_store.get")
	defer s.tracer.EndSpan(span)
	span.SetAttribute(observability.AttrCandidateID, id.String())

	row := s.pool.QueryRow(ctx, `
	SELECT `+candidateColumns+`
	FROM funding_source_candidate c
	JOIN domain d ON d.id = c.domain_id
	WHERE c.id = $1`, id)

	c, err := scanCandidate(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, storage.ErrNotFound
		}
		span.RecordError(err)
		return nil, err
	}
	return c, nil
}

// ListCandidates returns one page of candidates plus the unpaged total.
func (s *CandidateStore) ListCandidates(ctx context.Context, f storage.CandidateFilters) ([]*types.FundingSourceCandidate, int, error) {
	ctx, span := s.tracer.StartSpan(ctx, "pg_candidate_store.list")
	defer s.tracer.EndSpan(span)

	where := " FROM funding_source_candidate c JOIN domain d ON d.id = c.domain_id WHERE 1=1"
	args := []interface{}{}
	argIdx := 1

	if f.Status != "" {
		where += fmt.Sprintf(" AND c.status = $%d", argIdx)
		args = append(args, string(f.Status))
		argIdx++
	}
	if f.MinConfidence > 0 {
		where += fmt.Sprintf(" AND c.confidence >= $%d", argIdx)
		args = append(args, confidenceArg(f.MinConfidence))
		argIdx++
	}
	if f.SearchEngine != "" {
		where += fmt.Sprintf(" AND c.search_engine = $%d", argIdx)
		args = append(args, f.SearchEngine)
		argIdx++
	}
	if f.SessionID != uuid.Nil {
		where += fmt.Sprintf(" AND c.session_id = $%d", argIdx)
		args = append(args, f.SessionID)
		argIdx++
	}
	if !f.StartDate.IsZero() {
		where += fmt.Sprintf(" AND c.created_at >= $%d", argIdx)
		args = append(args, f.StartDate)
		argIdx++
	}
	if !f.EndDate.IsZero() {
		where += fmt.Sprintf(" AND c.created_at <= $%d", argIdx)
		args = append(args, f.EndDate)
		argIdx++
	}

	// Sort columns are whitelisted; anything else falls back to
	// creation time.
	sortCol := "c.created_at"
	switch f.SortBy {
	case "confidence":
		sortCol = "c.confidence"
	case "domain_name":
		sortCol = "d.domain_name"
	}
	direction := "ASC"
	if f.SortDesc {
		direction = "DESC"
	}

	size := f.Size
	if size < 1 {
		size = 20
	}
	if size > 100 {
		size = 100
	}
	page := f.Page
	if page < 0 {
		page = 0
	}

	var (
		candidates []*types.FundingSourceCandidate
		total      int
	)
	err := execInTx(ctx, s.pool, func(ctx context.Context, tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, "SELECT COUNT(*)"+where, args...).Scan(&total); err != nil {
			span.RecordError(err)
			return fmt.Errorf("failed to count candidates: %w", err)
		}

		query := fmt.Sprintf("SELECT %s%s ORDER BY %s %s LIMIT $%d OFFSET $%d",
			candidateColumns, where, sortCol, direction, argIdx, argIdx+1)
		pagedArgs := append(append([]interface{}{}, args...), size, page*size)

		rows, err := tx.Query(ctx, query, pagedArgs...)
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("failed to list candidates: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			c, err := scanCandidate(rows)
			if err != nil {
				span.RecordError(err)
				return err
			}
			candidates = append(candidates, c)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, 0, err
	}

	span.SetAttribute("total", total)
	return candidates, total, nil
}

// Approve transitions the candidate to APPROVED.
func (s *CandidateStore) Approve(ctx context.Context, id uuid.UUID, reviewer, notes string) error {
	return s.review(ctx, id, types.CandidateStatusApproved, reviewer, notes)
}

// Reject transitions the candidate to REJECTED.
func (s *CandidateStore) Reject(ctx context.Context, id uuid.UUID, reviewer, notes string) error {
	return s.review(ctx, id, types.CandidateStatusRejected, reviewer, notes)
}

// review performs the status transition and appends the MANUAL audit
// record in the same transaction.
func (s *CandidateStore) review(ctx context.Context, id uuid.UUID, target types.CandidateStatus, reviewer, notes string) error {
	ctx, span := s.tracer.StartSpan(ctx, "pg_candidate_store.review")
	defer s.tracer.EndSpan(span)
	span.SetAttribute(observability.AttrCandidateID, id.String())
	span.SetAttribute("target_status", string(target))

	return execInTx(ctx, s.pool, func(ctx context.Context, tx pgx.Tx) error {
		var current string
		err := tx.QueryRow(ctx,
			"SELECT status FROM funding_source_candidate WHERE id = $1 FOR UPDATE", id,
		).Scan(&current)
		if err != nil {
			if err == pgx.ErrNoRows {
				return storage.ErrNotFound
			}
			span.RecordError(err)
			return fmt.Errorf("failed to read candidate: %w", err)
		}
		if types.CandidateStatus(current) == target {
			return storage.ErrAlreadyInState
		}

		now := time.Now().UTC()
		_, err = tx.Exec(ctx, `
		UPDATE funding_source_candidate
		SET status = $2, reviewed_by = $3, reviewed_at = $4, updated_at = $4
		WHERE id = $1`,
			id, string(target), reviewer, now,
		)
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("failed to update candidate status: %w", err)
		}

		fieldName := "status"
		_, err = tx.Exec(ctx, `
		INSERT INTO enhancement_record (
			id, candidate_id, enhancement_type, field_name, original_value,
			suggested_value, notes, approval_state, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			uuid.New(), id, string(types.EnhancementTypeManual), fieldName,
			current, string(target), nullableString(notes), string(target),
			reviewer, now,
		)
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("failed to append review audit record: %w", err)
		}
		return nil
	})
}

// ListJudgments returns the score breakdowns for a session.
func (s *CandidateStore) ListJudgments(ctx context.Context, sessionID uuid.UUID) ([]*types.MetadataJudgment, error) {
	ctx, span := s.tracer.StartSpan(ctx, "pg_candidate_store.list_judgments")
	defer s.tracer.EndSpan(span)
	span.SetAttribute(observability.AttrSessionID, sessionID.String())

	rows, err := s.pool.Query(ctx, `
	SELECT id, candidate_id, session_id, funding_keywords_score::text,
		domain_credibility_score::text, geographic_relevance_score::text,
		organization_type_score::text, compound_bonus::text, confidence::text,
		keywords_found, search_engine, created_at
	FROM metadata_judgments WHERE session_id = $1 ORDER BY created_at`, sessionID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list judgments: %w", err)
	}
	defer rows.Close()

	var judgments []*types.MetadataJudgment
	for rows.Next() {
		j, err := scanJudgment(rows)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		judgments = append(judgments, j)
	}
	return judgments, rows.Err()
}

// AppendEnhancement appends an audit record. The record timestamp must
// be within the clock-skew tolerance of the store clock.
func (s *CandidateStore) AppendEnhancement(ctx context.Context, rec *types.EnhancementRecord) error {
	ctx, span := s.tracer.StartSpan(ctx, "pg_candidate_store.append_enhancement")
	defer s.tracer.EndSpan(span)
	span.SetAttribute(observability.AttrCandidateID, rec.CandidateID.String())

	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	} else if d := now.Sub(rec.CreatedAt); d > enhancementSkewTolerance || d < -enhancementSkewTolerance {
		return storage.ErrBackdated
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}

	var modelConfidence *string
	if rec.ModelConfidence != nil {
		v := rec.ModelConfidence.String()
		modelConfidence = &v
	}

	_, err := s.pool.Exec(ctx, `
	INSERT INTO enhancement_record (
		id, candidate_id, enhancement_type, field_name, original_value,
		suggested_value, notes, model_id, model_confidence, approval_state,
		time_spent_ms, created_by, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		rec.ID, rec.CandidateID, string(rec.Type), nullableString(rec.FieldName),
		rec.OriginalValue, rec.SuggestedValue, rec.Notes, rec.ModelID,
		modelConfidence, rec.ApprovalState, rec.TimeSpentMs, rec.CreatedBy,
		rec.CreatedAt,
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to append enhancement record: %w", err)
	}
	return nil
}

// ListEnhancements returns the audit trail for a candidate, oldest
// first.
func (s *CandidateStore) ListEnhancements(ctx context.Context, candidateID uuid.UUID) ([]*types.EnhancementRecord, error) {
	ctx, span := s.tracer.StartSpan(ctx, "pg_candidate_store.list_enhancements")
	defer s.tracer.EndSpan(span)
	span.SetAttribute(observability.AttrCandidateID, candidateID.String())

	rows, err := s.pool.Query(ctx, `
	SELECT id, candidate_id, enhancement_type, field_name, original_value,
		suggested_value, notes, model_id, model_confidence::text, approval_state,
		time_spent_ms, created_by, created_at
	FROM enhancement_record WHERE candidate_id = $1 ORDER BY created_at`, candidateID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list enhancement records: %w", err)
	}
	defer rows.Close()

	var records []*types.EnhancementRecord
	for rows.Next() {
		var (
			rec             types.EnhancementRecord
			enhancementType string
			fieldName       *string
			modelConfidence *string
		)
		err := rows.Scan(
			&rec.ID, &rec.CandidateID, &enhancementType, &fieldName,
			&rec.OriginalValue, &rec.SuggestedValue, &rec.Notes, &rec.ModelID,
			&modelConfidence, &rec.ApprovalState, &rec.TimeSpentMs,
			&rec.CreatedBy, &rec.CreatedAt,
		)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to scan enhancement record: %w", err)
		}
		rec.Type = types.EnhancementType(enhancementType)
		if fieldName != nil {
			rec.FieldName = *fieldName
		}
		if modelConfidence != nil {
			c, err := scanConfidence(*modelConfidence)
			if err != nil {
				return nil, err
			}
			rec.ModelConfidence = &c
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// scanCandidate reads one candidate row joined with its domain name.
func scanCandidate(row pgx.Row) (*types.FundingSourceCandidate, error) {
	var (
		c          types.FundingSourceCandidate
		status     string
		confidence string
		title      *string
		snippet    *string
	)
	err := row.Scan(
		&c.ID, &status, &confidence, &c.DomainID, &c.DomainName,
		&c.SessionID, &c.SourceURL, &title, &snippet, &c.Engine, &c.Rank,
		&c.OrganizationName, &c.ProgramName, &c.Categories, &c.GeographicScope,
		&c.OrganizationTypes, &c.CreatedAt, &c.UpdatedAt, &c.ReviewedBy, &c.ReviewedAt,
	)
	if err != nil {
		return nil, err
	}

	c.Status = types.CandidateStatus(status)
	c.Confidence, err = scanConfidence(confidence)
	if err != nil {
		return nil, err
	}
	if title != nil {
		c.Title = *title
	}
	if snippet != nil {
		c.Snippet = *snippet
	}
	return &c, nil
}

// scanJudgment reads one judgment row.
func scanJudgment(row pgx.Row) (*types.MetadataJudgment, error) {
	var (
		j                                      types.MetadataJudgment
		keywords, credibility, geo, org, bonus string
		confidence                             string
		engine                                 *string
	)
	err := row.Scan(
		&j.ID, &j.CandidateID, &j.SessionID, &keywords, &credibility,
		&geo, &org, &bonus, &confidence, &j.KeywordsFound, &engine, &j.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if j.FundingKeywordsScore, err = scanScore(keywords); err != nil {
		return nil, err
	}
	if j.DomainCredibilityScore, err = scanScore(credibility); err != nil {
		return nil, err
	}
	if j.GeographicRelevanceScore, err = scanScore(geo); err != nil {
		return nil, err
	}
	if j.OrganizationTypeScore, err = scanScore(org); err != nil {
		return nil, err
	}
	if j.CompoundBonus, err = scanScore(bonus); err != nil {
		return nil, err
	}
	if j.Confidence, err = scanConfidence(confidence); err != nil {
		return nil, err
	}
	if engine != nil {
		j.Engine = *engine
	}
	return &j, nil
}

// Compile-time check: CandidateStore implements storage.CandidateStore.
var _ storage.CandidateStore = (*CandidateStore)(nil)
