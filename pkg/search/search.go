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

// Package search adapts heterogeneous search engines to one contract.
//
// Each engine client performs only its HTTP call and payload
// normalization. Everything operational is layered on by middleware in
// a fixed order: rate limiting, retry, circuit breaking, and the
// per-request timeout. The registry owns construction and wiring.
package search

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/teradata-labs/prospector/pkg/types"
)

// ProviderType classifies what an engine returns for a query.
type ProviderType string

const (
	ProviderKeyword    ProviderType = "KEYWORD"
	ProviderAIAnswer   ProviderType = "AI_ANSWER"
	ProviderMetaSearch ProviderType = "META_SEARCH"
)

// Adapter is the uniform engine contract. Implementations are safe for
// concurrent use.
type Adapter interface {
	// Search runs one query and returns normalized results in engine
	// order. On failure the error chain carries exactly one ErrorKind.
	Search(ctx context.Context, query string, maxResults int, sessionID uuid.UUID) ([]types.SearchResult, error)

	// Name is the stable engine identifier used in events, statistics,
	// and the usage log.
	Name() string

	ProviderType() ProviderType
	SupportsKeywordQueries() bool
	SupportsAIOptimizedQueries() bool

	// HealthCheck reports reachability without consuming quota.
	HealthCheck(ctx context.Context) HealthStatus
}

// HealthStatus is one engine's health snapshot.
type HealthStatus struct {
	Engine       string    `json:"engine"`
	Up           bool      `json:"up"`
	CircuitState string    `json:"circuitState"`
	LastError    string    `json:"lastError,omitempty"`
	CheckedAt    time.Time `json:"checkedAt"`
}

// EngineConfig is the data-driven per-engine configuration. One block
// per engine under the `engines` config key.
type EngineConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`

	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`

	// RetryBackoff is the first retry delay; it doubles per attempt
	// with ±25% jitter.
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`

	// RateLimit calls per RateWindow, enforced against the usage log
	// before any request is issued. Zero disables the check.
	RateLimit  int           `mapstructure:"rate_limit"`
	RateWindow time.Duration `mapstructure:"rate_window"`

	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
}

func (c *EngineConfig) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 500 * time.Millisecond
	}
	if c.RateWindow <= 0 {
		c.RateWindow = 24 * time.Hour
	}
	if c.CircuitBreaker.FailureThreshold <= 0 {
		c.CircuitBreaker = DefaultCircuitBreakerConfig()
	}
}
