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
package bus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Janitor trims every stream down to its topic's retention window.
// Entries older than the window are dropped regardless of consumer
// group state; a group that falls further behind than the retention
// window loses those messages.
type Janitor struct {
	client   *redis.Client
	interval time.Duration
	logger   *zap.Logger

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started atomic.Bool
	trimmed atomic.Int64
}

// NewJanitor creates a janitor sweeping at the given interval. A zero
// interval defaults to one hour.
func NewJanitor(client *redis.Client, interval time.Duration, logger *zap.Logger) (*Janitor, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if interval <= 0 {
		interval = time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Janitor{client: client, interval: interval, logger: logger}, nil
}

// Start launches the periodic sweep.
func (j *Janitor) Start(ctx context.Context) error {
	if !j.started.CompareAndSwap(false, true) {
		return fmt.Errorf("janitor already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	j.cancel = cancel

	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		ticker := time.NewTicker(j.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				if err := j.TrimOnce(runCtx); err != nil && runCtx.Err() == nil {
					j.logger.Warn("stream trim sweep failed", zap.Error(err))
				}
			}
		}
	}()
	return nil
}

// Stop halts the sweep and waits for an in-flight trim to finish.
func (j *Janitor) Stop() {
	if !j.started.CompareAndSwap(true, false) {
		return
	}
	j.cancel()
	j.wg.Wait()
}

// TrimOnce removes entries older than each topic's retention window
// from every partition stream. Stream IDs are millisecond timestamps,
// so the cutoff ID is the window's lower bound.
func (j *Janitor) TrimOnce(ctx context.Context) error {
	now := time.Now()
	var firstErr error
	for _, topic := range Topics() {
		minID := fmt.Sprintf("%d-0", now.Add(-topic.Retention()).UnixMilli())
		for _, stream := range topic.Streams() {
			n, err := j.client.XTrimMinID(ctx, stream, minID).Result()
			if err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("failed to trim %s: %w", stream, err)
				}
				continue
			}
			if n > 0 {
				j.trimmed.Add(n)
				j.logger.Debug("trimmed stream",
					zap.String("stream", stream),
					zap.Int64("removed", n))
			}
		}
	}
	return firstErr
}

// Trimmed returns the total number of entries removed so far.
func (j *Janitor) Trimmed() int64 { return j.trimmed.Load() }
