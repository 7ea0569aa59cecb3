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
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/teradata-labs/prospector/pkg/observability"
	"github.com/teradata-labs/prospector/pkg/storage"
)

// engineFactories maps each known engine name to its raw client
// constructor. The map is fixed at init and never mutated.
var engineFactories = map[string]func(EngineConfig) Adapter{
	braveName:      func(cfg EngineConfig) Adapter { return NewBraveClient(cfg) },
	serperName:     func(cfg EngineConfig) Adapter { return NewSerperClient(cfg) },
	searxngName:    func(cfg EngineConfig) Adapter { return NewSearxngClient(cfg) },
	perplexityName: func(cfg EngineConfig) Adapter { return NewPerplexityClient(cfg) },
}

// Registry holds the guarded adapter per configured engine. All state
// (breakers, configs) is instance-scoped so independent registries never
// share failure history.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]*GuardedAdapter
	breakers *BreakerManager
}

// NewRegistry builds guarded adapters for every configured engine.
// Unknown engine names are rejected; disabled engines are registered and
// fail with DISABLED when called directly.
func NewRegistry(configs map[string]EngineConfig, usage storage.UsageStore, logger *zap.Logger, tracer observability.Tracer) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}

	r := &Registry{
		adapters: make(map[string]*GuardedAdapter, len(configs)),
		breakers: NewBreakerManager(DefaultCircuitBreakerConfig()),
	}
	for name, cfg := range configs {
		factory, ok := engineFactories[name]
		if !ok {
			return nil, fmt.Errorf("unknown search engine: %s", name)
		}
		cfg.applyDefaults()
		breaker := r.breakers.Configure(name, cfg.CircuitBreaker)
		r.adapters[name] = Guard(factory(cfg), cfg, breaker, usage, logger, tracer)

		logger.Info("search engine registered",
			zap.String("engine", name),
			zap.Bool("enabled", cfg.Enabled),
			zap.Int("rate_limit", cfg.RateLimit),
			zap.Duration("rate_window", cfg.RateWindow))
	}
	return r, nil
}

// Adapter returns the guarded adapter for an engine name.
func (r *Registry) Adapter(name string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[name]
	return adapter, ok
}

// Enabled returns the enabled adapters in stable name order. The
// orchestrator fans out over this set.
func (r *Registry) Enabled() []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Adapter
	for _, adapter := range r.adapters {
		if adapter.cfg.Enabled {
			out = append(out, adapter)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Names returns every registered engine name in stable order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Health probes every registered engine.
func (r *Registry) Health(ctx context.Context) map[string]HealthStatus {
	r.mu.RLock()
	adapters := make([]*GuardedAdapter, 0, len(r.adapters))
	for _, adapter := range r.adapters {
		adapters = append(adapters, adapter)
	}
	r.mu.RUnlock()

	out := make(map[string]HealthStatus, len(adapters))
	for _, adapter := range adapters {
		out[adapter.Name()] = adapter.HealthCheck(ctx)
	}
	return out
}

// BreakerStats snapshots every engine's circuit breaker.
func (r *Registry) BreakerStats() map[string]CircuitBreakerStats {
	return r.breakers.AllStats()
}

// ResetBreaker closes one engine's breaker. Used by operational tooling.
func (r *Registry) ResetBreaker(name string) bool {
	r.mu.RLock()
	_, ok := r.adapters[name]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	r.breakers.Reset(name)
	return true
}
