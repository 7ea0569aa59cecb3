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
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrCircuitOpen is returned without issuing a request while a breaker
// is open. The middleware maps it to KindCircuitOpen.
var ErrCircuitOpen = errors.New("circuit breaker open")

// CircuitState is the current state of an engine's circuit breaker.
type CircuitState int

const (
	StateClosed   CircuitState = iota // normal operation
	StateOpen                         // failing, reject immediately
	StateHalfOpen                     // probing with limited requests
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig defines per-engine breaker behavior.
type CircuitBreakerConfig struct {
	// FailureThreshold is the consecutive-failure count that opens the
	// circuit.
	FailureThreshold int `mapstructure:"failure_threshold"`
	// SuccessThreshold is the consecutive-success count that closes the
	// circuit from half-open.
	SuccessThreshold int `mapstructure:"success_threshold"`
	// Cooldown is the base wait before a half-open probe. Repeated opens
	// double it up to MaxCooldown.
	Cooldown    time.Duration `mapstructure:"cooldown"`
	MaxCooldown time.Duration `mapstructure:"max_cooldown"`

	OnStateChange func(engine string, from, to CircuitState) `mapstructure:"-"`
}

// DefaultCircuitBreakerConfig returns the stock engine breaker settings.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Cooldown:         30 * time.Second,
		MaxCooldown:      5 * time.Minute,
	}
}

// CircuitBreaker tracks consecutive failures for one engine and sheds
// load while the engine is misbehaving. Cooldowns grow exponentially
// with repeated opens and reset on recovery.
type CircuitBreaker struct {
	mu               sync.RWMutex
	engine           string
	state            CircuitState
	failureCount     int
	successCount     int
	consecutiveOpens int
	lastFailureTime  time.Time
	lastStateChange  time.Time
	lastError        error
	config           CircuitBreakerConfig
}

// NewCircuitBreaker creates a closed breaker for the named engine.
func NewCircuitBreaker(engine string, config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config = DefaultCircuitBreakerConfig()
	}
	if config.MaxCooldown <= 0 {
		config.MaxCooldown = 5 * time.Minute
	}
	return &CircuitBreaker{
		engine:          engine,
		state:           StateClosed,
		config:          config,
		lastStateChange: time.Now(),
	}
}

// Allow reports whether a request may proceed, transitioning an open
// breaker to half-open once its cooldown has elapsed.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed, StateHalfOpen:
		return nil

	case StateOpen:
		cooldown := cb.cooldownLocked()
		if time.Since(cb.lastFailureTime) >= cooldown {
			cb.setStateLocked(StateHalfOpen)
			zap.L().Info("circuit_breaker_half_open",
				zap.String("engine", cb.engine),
				zap.Duration("cooldown_used", cooldown),
				zap.Int("consecutive_opens", cb.consecutiveOpens))
			return nil
		}
		return ErrCircuitOpen

	default:
		return ErrCircuitOpen
	}
}

// RecordSuccess counts a successful call toward closing the circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failureCount = 0

	case StateHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.config.SuccessThreshold {
			cb.failureCount = 0
			cb.successCount = 0
			cb.consecutiveOpens = 0
			cb.setStateLocked(StateClosed)
			zap.L().Info("circuit_breaker_closed",
				zap.String("engine", cb.engine))
		}
	}
}

// RecordFailure counts a failed call, opening the circuit at the
// threshold. A failure during half-open reopens immediately.
func (cb *CircuitBreaker) RecordFailure(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount++
	cb.lastFailureTime = time.Now()
	cb.lastError = err

	switch cb.state {
	case StateClosed:
		if cb.failureCount >= cb.config.FailureThreshold {
			cb.consecutiveOpens++
			cb.setStateLocked(StateOpen)
			zap.L().Warn("circuit_breaker_opened",
				zap.String("engine", cb.engine),
				zap.Error(err),
				zap.Int("consecutive_failures", cb.failureCount),
				zap.Duration("cooldown", cb.cooldownLocked()))
		}

	case StateHalfOpen:
		cb.successCount = 0
		cb.consecutiveOpens++
		cb.setStateLocked(StateOpen)
		zap.L().Warn("circuit_breaker_reopened",
			zap.String("engine", cb.engine),
			zap.Error(err))
	}
}

func (cb *CircuitBreaker) setStateLocked(newState CircuitState) {
	if cb.state == newState {
		return
	}
	oldState := cb.state
	cb.state = newState
	cb.lastStateChange = time.Now()

	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.engine, oldState, newState)
	}
}

// cooldownLocked doubles the base cooldown per consecutive open, capped
// at MaxCooldown. Caller must hold the lock.
func (cb *CircuitBreaker) cooldownLocked() time.Duration {
	if cb.consecutiveOpens <= 1 {
		return cb.config.Cooldown
	}
	cooldown := cb.config.Cooldown * (1 << uint(cb.consecutiveOpens-1))
	if cooldown > cb.config.MaxCooldown || cooldown <= 0 {
		cooldown = cb.config.MaxCooldown
	}
	return cooldown
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// LastError returns the error that triggered the most recent failure.
func (cb *CircuitBreaker) LastError() error {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.lastError
}

// Stats returns a snapshot of the breaker counters.
func (cb *CircuitBreaker) Stats() CircuitBreakerStats {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	return CircuitBreakerStats{
		Engine:           cb.engine,
		State:            cb.state,
		FailureCount:     cb.failureCount,
		SuccessCount:     cb.successCount,
		ConsecutiveOpens: cb.consecutiveOpens,
		LastFailureTime:  cb.lastFailureTime,
		LastStateChange:  cb.lastStateChange,
	}
}

// CircuitBreakerStats is a point-in-time breaker snapshot.
type CircuitBreakerStats struct {
	Engine           string
	State            CircuitState
	FailureCount     int
	SuccessCount     int
	ConsecutiveOpens int
	LastFailureTime  time.Time
	LastStateChange  time.Time
}

// Reset closes the breaker without waiting for the cooldown. Used by
// operational tooling after a known-fixed outage.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	oldState := cb.state
	cb.state = StateClosed
	cb.failureCount = 0
	cb.successCount = 0
	cb.consecutiveOpens = 0
	cb.lastFailureTime = time.Time{}
	cb.lastStateChange = time.Now()

	if cb.config.OnStateChange != nil && oldState != StateClosed {
		cb.config.OnStateChange(cb.engine, oldState, StateClosed)
	}
}

// BreakerManager holds one breaker per engine so a failing engine never
// sheds load for the others.
type BreakerManager struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	config   CircuitBreakerConfig
}

// NewBreakerManager creates a manager using config as the per-engine
// default.
func NewBreakerManager(config CircuitBreakerConfig) *BreakerManager {
	return &BreakerManager{
		breakers: make(map[string]*CircuitBreaker),
		config:   config,
	}
}

// Breaker returns the breaker for an engine, creating it with the
// manager default on first use.
func (m *BreakerManager) Breaker(engine string) *CircuitBreaker {
	m.mu.RLock()
	breaker, exists := m.breakers[engine]
	m.mu.RUnlock()
	if exists {
		return breaker
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if breaker, exists := m.breakers[engine]; exists {
		return breaker
	}
	breaker = NewCircuitBreaker(engine, m.config)
	m.breakers[engine] = breaker
	return breaker
}

// Configure creates or replaces the breaker for an engine with its own
// settings. Called once per engine at registry construction.
func (m *BreakerManager) Configure(engine string, config CircuitBreakerConfig) *CircuitBreaker {
	m.mu.Lock()
	defer m.mu.Unlock()

	breaker := NewCircuitBreaker(engine, config)
	m.breakers[engine] = breaker
	return breaker
}

// AllStats returns a snapshot per known engine.
func (m *BreakerManager) AllStats() map[string]CircuitBreakerStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := make(map[string]CircuitBreakerStats, len(m.breakers))
	for engine, breaker := range m.breakers {
		stats[engine] = breaker.Stats()
	}
	return stats
}

// Reset closes the breaker for one engine if it exists.
func (m *BreakerManager) Reset(engine string) {
	m.mu.RLock()
	breaker, exists := m.breakers[engine]
	m.mu.RUnlock()
	if exists {
		breaker.Reset()
	}
}
