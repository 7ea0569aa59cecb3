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

// Package postgres is the production storage backend, built on pgx
// connection pooling with embedded SQL migrations.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/teradata-labs/prospector/pkg/observability"
	"github.com/teradata-labs/prospector/pkg/storage"
)

// Store implements storage.Store on PostgreSQL.
type Store struct {
	pool        *pgxpool.Pool
	sessions    *SessionStore
	domains     *DomainStore
	candidates  *CandidateStore
	usage       *UsageStore
	library     *LibraryStore
	generations *GenerationStore
	migrator    *Migrator
	tracer      observability.Tracer
}

// NewStore creates a PostgreSQL storage backend from config.
func NewStore(ctx context.Context, cfg Config, tracer observability.Tracer) (*Store, error) {
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}

	ctx, span := tracer.StartSpan(ctx, "postgres_store.new")
	defer tracer.EndSpan(span)

	pool, err := NewPool(ctx, cfg, tracer)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	migrator, err := NewMigrator(pool, tracer)
	if err != nil {
		pool.Close()
		span.RecordError(err)
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}

	return &Store{
		pool:        pool,
		sessions:    NewSessionStore(pool, tracer),
		domains:     NewDomainStore(pool, tracer),
		candidates:  NewCandidateStore(pool, tracer),
		usage:       NewUsageStore(pool, tracer),
		library:     NewLibraryStore(pool, tracer),
		generations: NewGenerationStore(pool, tracer),
		migrator:    migrator,
		tracer:      tracer,
	}, nil
}

// Sessions returns the session store.
func (s *Store) Sessions() storage.SessionStore { return s.sessions }

// Domains returns the domain registry store.
func (s *Store) Domains() storage.DomainStore { return s.domains }

// Candidates returns the candidate store.
func (s *Store) Candidates() storage.CandidateStore { return s.candidates }

// Usage returns the provider usage store.
func (s *Store) Usage() storage.UsageStore { return s.usage }

// Library returns the query library store.
func (s *Store) Library() storage.LibraryStore { return s.library }

// Generations returns the query generation store.
func (s *Store) Generations() storage.GenerationStore { return s.generations }

// Migrate applies all pending schema migrations.
func (s *Store) Migrate(ctx context.Context) error {
	return s.migrator.MigrateUp(ctx)
}

// Migrator exposes the migration manager for CLI operations.
func (s *Store) Migrator() *Migrator { return s.migrator }

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Pool exposes the underlying pool for advanced operations.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Compile-time check: Store implements storage.Store.
var _ storage.Store = (*Store)(nil)
