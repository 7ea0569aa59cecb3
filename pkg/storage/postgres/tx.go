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
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/teradata-labs/prospector/pkg/types"
)

// execInTx executes fn within a database transaction. The transaction
// is committed when fn returns nil, rolled back otherwise.
func execInTx(ctx context.Context, pool *pgxpool.Pool, fn func(ctx context.Context, tx pgx.Tx) error) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(ctx, tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// uniqueViolation is the PostgreSQL SQLSTATE for unique constraint hits.
const uniqueViolation = "23505"

// isUniqueViolation reports whether err is a unique-constraint error.
// Insert races on shared rows (domains, candidates) are resolved by
// catching this and re-reading the winning row.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// nullableString returns nil for empty strings, otherwise a pointer.
func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// confidenceArg converts a Confidence for a DECIMAL(3,2) parameter.
func confidenceArg(c types.Confidence) string {
	return c.String()
}

// scoreArg converts a signed Score for a DECIMAL(3,2) parameter.
func scoreArg(s types.Score) string {
	return s.String()
}

// scanConfidence parses a DECIMAL(3,2) column selected as text.
func scanConfidence(raw string) (types.Confidence, error) {
	c, err := types.ParseConfidence(raw)
	if err != nil {
		return 0, fmt.Errorf("failed to scan confidence column: %w", err)
	}
	return c, nil
}

// scanScore parses a signed DECIMAL(3,2) column selected as text.
func scanScore(raw string) (types.Score, error) {
	s, err := types.ParseScore(raw)
	if err != nil {
		return 0, fmt.Errorf("failed to scan score column: %w", err)
	}
	return s, nil
}
