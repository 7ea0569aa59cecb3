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

// Package cache provides the Redis-backed working state of the discovery
// pipeline: the write-through blacklist cache and the per-session
// deduplication sets.
//
// The cache is an accelerator, not a source of truth. The domain table
// remains authoritative for blacklist state, and the unique constraint on
// (session, domain) backstops deduplication. Every method returns its
// error to the caller; callers treat a cache failure as a miss and fall
// back to the store. Eviction under memory pressure is a server-side
// policy (allkeys-lru); nothing here assumes a key is still present.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/teradata-labs/prospector/pkg/observability"
)

const (
	// blacklistTTL bounds staleness when an invalidation is lost.
	blacklistTTL = 24 * time.Hour

	// sessionTTL expires per-session sets well after any session could
	// still be live (sessions are swept after 30 minutes).
	sessionTTL = 24 * time.Hour

	// scanBatch is the COUNT hint for SCAN during bulk invalidation.
	scanBatch = 256
)

// Config holds Redis connection settings.
type Config struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolSize     int           `mapstructure:"pool_size"`
}

func (c *Config) applyDefaults() {
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 3 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 3 * time.Second
	}
	if c.PoolSize <= 0 {
		c.PoolSize = 10
	}
}

// Cache wraps a Redis client with the pipeline's key schema.
type Cache struct {
	client *redis.Client
	logger *zap.Logger
	tracer observability.Tracer
}

// NewCache creates a cache client. The connection is established lazily;
// a Redis outage at startup does not prevent construction.
func NewCache(cfg Config, logger *zap.Logger, tracer observability.Tracer) (*Cache, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("cache address is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	cfg.applyDefaults()

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
	})

	return &Cache{
		client: client,
		logger: logger,
		tracer: tracer,
	}, nil
}

// NewCacheWithClient wraps an existing client. Used by tests.
func NewCacheWithClient(client *redis.Client, logger *zap.Logger, tracer observability.Tracer) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	return &Cache{client: client, logger: logger, tracer: tracer}
}

func blacklistKey(host string) string {
	return "blacklist:" + host
}

func sessionHostsKey(sessionID uuid.UUID) string {
	return "session:" + sessionID.String() + ":hosts"
}

func sessionSeenKey(sessionID uuid.UUID) string {
	return "session:" + sessionID.String() + ":seen"
}

func sessionDisabledKey(sessionID uuid.UUID) string {
	return "session:" + sessionID.String() + ":disabled_engines"
}

// IsBlacklisted looks up the cached blacklist verdict for a host.
// found is false on a cache miss; the caller then consults the store
// and writes the result back via SetBlacklisted.
func (c *Cache) IsBlacklisted(ctx context.Context, host string) (blacklisted, found bool, err error) {
	ctx, span := c.tracer.StartSpan(ctx, "redis_cache.is_blacklisted",
		observability.WithAttribute("host", host))
	defer c.tracer.EndSpan(span)

	val, err := c.client.Get(ctx, blacklistKey(host)).Result()
	if err == redis.Nil {
		return false, false, nil
	}
	if err != nil {
		span.RecordError(err)
		return false, false, fmt.Errorf("failed to read blacklist cache: %w", err)
	}
	return val == "1", true, nil
}

// SetBlacklisted writes through the blacklist verdict for a host.
func (c *Cache) SetBlacklisted(ctx context.Context, host string, blacklisted bool) error {
	ctx, span := c.tracer.StartSpan(ctx, "redis_cache.set_blacklisted",
		observability.WithAttribute("host", host))
	defer c.tracer.EndSpan(span)

	val := "0"
	if blacklisted {
		val = "1"
	}
	if err := c.client.Set(ctx, blacklistKey(host), val, blacklistTTL).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to write blacklist cache: %w", err)
	}
	return nil
}

// InvalidateBlacklist drops the cached verdict for one host. Called on
// every domain mutation that can change blacklist state.
func (c *Cache) InvalidateBlacklist(ctx context.Context, host string) error {
	ctx, span := c.tracer.StartSpan(ctx, "redis_cache.invalidate_blacklist",
		observability.WithAttribute("host", host))
	defer c.tracer.EndSpan(span)

	if err := c.client.Del(ctx, blacklistKey(host)).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to invalidate blacklist cache: %w", err)
	}
	return nil
}

// InvalidateAllBlacklist drops every cached blacklist verdict and returns
// the number of keys removed. Used by the operational CLI.
func (c *Cache) InvalidateAllBlacklist(ctx context.Context) (int, error) {
	ctx, span := c.tracer.StartSpan(ctx, "redis_cache.invalidate_all_blacklist")
	defer c.tracer.EndSpan(span)

	var (
		cursor  uint64
		removed int
	)
	for {
		keys, next, err := c.client.Scan(ctx, cursor, blacklistKey("*"), scanBatch).Result()
		if err != nil {
			span.RecordError(err)
			return removed, fmt.Errorf("failed to scan blacklist keys: %w", err)
		}
		if len(keys) > 0 {
			n, err := c.client.Del(ctx, keys...).Result()
			if err != nil {
				span.RecordError(err)
				return removed, fmt.Errorf("failed to delete blacklist keys: %w", err)
			}
			removed += int(n)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	c.logger.Info("blacklist cache invalidated", zap.Int("keys_removed", removed))
	return removed, nil
}

// MarkHostSeen records a host in the session's deduplication set.
// first is true when this call added the host, false on a duplicate.
func (c *Cache) MarkHostSeen(ctx context.Context, sessionID uuid.UUID, host string) (first bool, err error) {
	return c.markMember(ctx, "redis_cache.mark_host_seen", sessionHostsKey(sessionID), host)
}

// MarkResultSeen records a raw-result fingerprint for the session.
// Redeliveries of an already-processed event return first=false.
func (c *Cache) MarkResultSeen(ctx context.Context, sessionID uuid.UUID, fingerprint string) (first bool, err error) {
	return c.markMember(ctx, "redis_cache.mark_result_seen", sessionSeenKey(sessionID), fingerprint)
}

func (c *Cache) markMember(ctx context.Context, spanName, key, member string) (bool, error) {
	ctx, span := c.tracer.StartSpan(ctx, spanName)
	defer c.tracer.EndSpan(span)

	pipe := c.client.TxPipeline()
	added := pipe.SAdd(ctx, key, member)
	pipe.Expire(ctx, key, sessionTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("failed to update session set: %w", err)
	}
	return added.Val() == 1, nil
}

// IsResultSeen reports whether a fingerprint is already in the
// session's seen set, without adding it.
func (c *Cache) IsResultSeen(ctx context.Context, sessionID uuid.UUID, fingerprint string) (bool, error) {
	seen, err := c.client.SIsMember(ctx, sessionSeenKey(sessionID), fingerprint).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check seen set: %w", err)
	}
	return seen, nil
}

// ForgetHost removes a host from the session's deduplication set. Used
// when persistence of the host's result failed and a replay must not be
// classified as a duplicate.
func (c *Cache) ForgetHost(ctx context.Context, sessionID uuid.UUID, host string) error {
	if err := c.client.SRem(ctx, sessionHostsKey(sessionID), host).Err(); err != nil {
		return fmt.Errorf("failed to clear host mark: %w", err)
	}
	return nil
}

// ForgetResult removes a result fingerprint from the session's seen
// set, re-arming the redelivery guard for a dead-lettered result.
func (c *Cache) ForgetResult(ctx context.Context, sessionID uuid.UUID, fingerprint string) error {
	if err := c.client.SRem(ctx, sessionSeenKey(sessionID), fingerprint).Err(); err != nil {
		return fmt.Errorf("failed to clear result mark: %w", err)
	}
	return nil
}

// DisableEngine marks an engine dead for the remainder of the session.
// Set after a terminal auth failure so the session's outstanding tasks
// for that engine complete without burning calls.
func (c *Cache) DisableEngine(ctx context.Context, sessionID uuid.UUID, engine string) error {
	_, err := c.markMember(ctx, "redis_cache.disable_engine", sessionDisabledKey(sessionID), engine)
	return err
}

// IsEngineDisabled reports whether the engine was disabled for the
// session. Errors surface to the caller, which treats them as "not
// disabled" and lets the adapter's own failure handling decide.
func (c *Cache) IsEngineDisabled(ctx context.Context, sessionID uuid.UUID, engine string) (bool, error) {
	disabled, err := c.client.SIsMember(ctx, sessionDisabledKey(sessionID), engine).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check disabled engines: %w", err)
	}
	return disabled, nil
}

// ForgetSession drops the session's working sets once the session is
// finalized. Best effort; TTLs clean up anything missed.
func (c *Cache) ForgetSession(ctx context.Context, sessionID uuid.UUID) error {
	ctx, span := c.tracer.StartSpan(ctx, "redis_cache.forget_session",
		observability.WithAttribute("session.id", sessionID.String()))
	defer c.tracer.EndSpan(span)

	keys := []string{sessionHostsKey(sessionID), sessionSeenKey(sessionID), sessionDisabledKey(sessionID)}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to drop session sets: %w", err)
	}
	return nil
}

// Ping verifies connectivity. Used by health checks.
func (c *Cache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("cache ping failed: %w", err)
	}
	return nil
}

// Client exposes the underlying Redis client for components that share
// the connection, such as the event bus.
func (c *Cache) Client() *redis.Client {
	return c.client
}

// Close releases the client's connection pool.
func (c *Cache) Close() error {
	return c.client.Close()
}
