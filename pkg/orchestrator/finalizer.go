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
package orchestrator

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// sweepLoop periodically fails RUNNING sessions that outlived the soft
// deadline. Counter-driven finalization covers the normal path; the
// sweep covers sessions wedged by lost tasks or dead-lettered results.
func (o *Orchestrator) sweepLoop(ctx context.Context) {
	defer o.wg.Done()

	ticker := time.NewTicker(o.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.sweepOnce(ctx)
		}
	}
}

// sweepOnce fails stale sessions and drops scoring state idle past the
// soft deadline. Swept sessions stop receiving counter updates, so
// their entries always go idle and age out here.
func (o *Orchestrator) sweepOnce(ctx context.Context) {
	n, err := o.store.Sessions().SweepStale(ctx, o.cfg.SoftDeadline)
	if err != nil {
		o.logger.Warn("stale-session sweep failed", zap.Error(err))
	} else if n > 0 {
		o.swept.Add(int64(n))
		o.logger.Info("stale sessions failed", zap.Int("count", n))
	}

	cutoff := time.Now().Add(-o.cfg.SoftDeadline)
	o.sessionsMu.Lock()
	for id, e := range o.sessions {
		if e.touched.Before(cutoff) {
			delete(o.sessions, id)
		}
	}
	o.sessionsMu.Unlock()
}
