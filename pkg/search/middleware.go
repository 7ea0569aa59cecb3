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
package search

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teradata-labs/prospector/pkg/observability"
	"github.com/teradata-labs/prospector/pkg/storage"
	"github.com/teradata-labs/prospector/pkg/types"
)

// retryAfterCap bounds how long an engine-supplied Retry-After is
// honored. Longer waits fail the call instead of stalling a worker.
const retryAfterCap = 30 * time.Second

// GuardedAdapter layers the operational policies over a raw engine
// client: rate limiting from the usage log, bounded retry, the circuit
// breaker, and the per-request timeout. Layer order is fixed; the rate
// limit is charged once per Search call regardless of retries.
type GuardedAdapter struct {
	engine  Adapter
	cfg     EngineConfig
	breaker *CircuitBreaker
	usage   storage.UsageStore
	logger  *zap.Logger
	tracer  observability.Tracer
}

// Guard wraps a raw engine client with the standard middleware stack.
func Guard(engine Adapter, cfg EngineConfig, breaker *CircuitBreaker, usage storage.UsageStore, logger *zap.Logger, tracer observability.Tracer) *GuardedAdapter {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	return &GuardedAdapter{
		engine:  engine,
		cfg:     cfg,
		breaker: breaker,
		usage:   usage,
		logger:  logger.With(zap.String("engine", engine.Name())),
		tracer:  tracer,
	}
}

func (g *GuardedAdapter) Name() string                     { return g.engine.Name() }
func (g *GuardedAdapter) ProviderType() ProviderType       { return g.engine.ProviderType() }
func (g *GuardedAdapter) SupportsKeywordQueries() bool     { return g.engine.SupportsKeywordQueries() }
func (g *GuardedAdapter) SupportsAIOptimizedQueries() bool { return g.engine.SupportsAIOptimizedQueries() }

// Breaker exposes the engine's circuit breaker for health reporting and
// operational resets.
func (g *GuardedAdapter) Breaker() *CircuitBreaker { return g.breaker }

// Search runs one guarded engine call.
func (g *GuardedAdapter) Search(ctx context.Context, query string, maxResults int, sessionID uuid.UUID) ([]types.SearchResult, error) {
	ctx, span := g.tracer.StartSpan(ctx, "adapter.search",
		observability.WithAttribute("engine.name", g.engine.Name()),
		observability.WithAttribute("session.id", sessionID.String()))
	defer g.tracer.EndSpan(span)

	if !g.cfg.Enabled {
		return nil, NewError(g.engine.Name(), KindDisabled, nil)
	}

	usageID, err := g.acquireQuota(ctx, query)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	start := time.Now()
	results, err := g.searchWithRetry(ctx, query, maxResults, sessionID)
	elapsed := time.Since(start)

	g.completeUsage(ctx, usageID, err == nil, len(results), elapsed)

	if err != nil {
		span.RecordError(err)
		g.tracer.RecordMetric("adapter.search.failures", 1, map[string]string{
			"engine": g.engine.Name(),
			"kind":   string(KindOf(err)),
		})
		return nil, err
	}

	g.tracer.RecordMetric("adapter.search.results", float64(len(results)), map[string]string{
		"engine": g.engine.Name(),
	})
	return results, nil
}

// acquireQuota charges one attempt against the engine's window and
// rejects the call when over the configured limit. A usage-log outage
// does not block the call; the engine's own limiter is the backstop.
func (g *GuardedAdapter) acquireQuota(ctx context.Context, query string) (int64, error) {
	if g.cfg.RateLimit <= 0 || g.usage == nil {
		return 0, nil
	}

	usageID, count, err := g.usage.RecordAttempt(ctx, g.engine.Name(), query, g.cfg.RateWindow)
	if err != nil {
		g.logger.Warn("usage log unavailable, skipping rate-limit check", zap.Error(err))
		return 0, nil
	}
	if count > g.cfg.RateLimit {
		g.completeUsage(ctx, usageID, false, 0, 0)
		g.logger.Warn("engine rate limit reached",
			zap.Int("used", count),
			zap.Int("limit", g.cfg.RateLimit),
			zap.Duration("window", g.cfg.RateWindow))
		return 0, NewError(g.engine.Name(), KindRateLimited, nil)
	}
	return usageID, nil
}

func (g *GuardedAdapter) completeUsage(ctx context.Context, usageID int64, success bool, results int, elapsed time.Duration) {
	if usageID == 0 || g.usage == nil {
		return
	}
	if err := g.usage.Complete(ctx, usageID, success, results, elapsed); err != nil {
		g.logger.Warn("failed to record usage outcome", zap.Error(err))
	}
}

func (g *GuardedAdapter) searchWithRetry(ctx context.Context, query string, maxResults int, sessionID uuid.UUID) ([]types.SearchResult, error) {
	backoff := g.cfg.RetryBackoff
	var lastErr error

	for attempt := 1; attempt <= g.cfg.MaxRetries; attempt++ {
		if err := g.breaker.Allow(); err != nil {
			// An open circuit will not recover within this loop.
			return nil, NewError(g.engine.Name(), KindCircuitOpen, g.breaker.LastError())
		}

		callCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
		results, err := g.engine.Search(callCtx, query, maxResults, sessionID)
		cancel()

		if err == nil {
			g.breaker.RecordSuccess()
			return results, nil
		}

		lastErr = err
		g.breaker.RecordFailure(err)

		kind := KindOf(err)
		if !kind.Transient() {
			return nil, err
		}

		wait, ok := g.retryDelay(err, backoff)
		if !ok {
			return nil, err
		}
		if attempt == g.cfg.MaxRetries {
			break
		}

		g.logger.Warn("engine call failed, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", g.cfg.MaxRetries),
			zap.String("kind", string(kind)),
			zap.Duration("backoff", wait),
			zap.Error(err))

		select {
		case <-time.After(wait):
			backoff *= 2
		case <-ctx.Done():
			return nil, NewError(g.engine.Name(), KindTimeout, ctx.Err())
		}
	}

	return nil, lastErr
}

// retryDelay picks the wait before the next attempt. An engine-supplied
// Retry-After wins over the computed backoff; one past the cap makes the
// failure terminal.
func (g *GuardedAdapter) retryDelay(err error, backoff time.Duration) (time.Duration, bool) {
	var se *Error
	if errors.As(err, &se) && se.RetryAfter > 0 {
		if se.RetryAfter > retryAfterCap {
			return 0, false
		}
		return se.RetryAfter, true
	}
	return jitter(backoff), true
}

// jitter spreads a delay by ±25% so parallel workers do not retry in
// lockstep.
func jitter(d time.Duration) time.Duration {
	spread := int64(d) / 2
	if spread <= 0 {
		return d
	}
	return time.Duration(int64(d)*3/4 + rand.Int64N(spread))
}

// HealthCheck merges the engine's own probe with the breaker state.
func (g *GuardedAdapter) HealthCheck(ctx context.Context) HealthStatus {
	status := g.engine.HealthCheck(ctx)
	status.CircuitState = g.breaker.State().String()
	if !g.cfg.Enabled {
		status.Up = false
		status.LastError = string(KindDisabled)
	}
	if status.LastError == "" {
		if lastErr := g.breaker.LastError(); lastErr != nil && g.breaker.State() != StateClosed {
			status.LastError = lastErr.Error()
		}
	}
	return status
}

var _ Adapter = (*GuardedAdapter)(nil)
