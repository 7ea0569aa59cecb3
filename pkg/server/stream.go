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

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/r3labs/sse/v2"
	"go.uber.org/zap"

	"github.com/teradata-labs/prospector/pkg/storage"
	"github.com/teradata-labs/prospector/pkg/types"
)

// statisticsSnapshot is one frame of the session event stream.
type statisticsSnapshot struct {
	SessionID        uuid.UUID                `json:"sessionId"`
	Status           types.SessionStatus      `json:"status"`
	QueriesTotal     int                      `json:"queriesTotal"`
	QueriesCompleted int                      `json:"queriesCompleted"`
	ResultsExpected  int                      `json:"resultsExpected"`
	Stats            *types.SessionStatistics `json:"stats,omitempty"`
	ObservedAt       time.Time                `json:"observedAt"`
}

// handleSessionStream subscribes the caller to periodic statistics
// snapshots for one session over SSE. The stream closes itself after
// the final snapshot of a terminal session.
func (s *Server) handleSessionStream(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, http.StatusBadRequest, "invalid session id")
		return
	}

	if _, err := s.sessions.GetSession(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, r, http.StatusNotFound, "session not found")
			return
		}
		s.logger.Error("failed to load session", zap.Error(err))
		s.respondError(w, r, http.StatusInternalServerError, "failed to load session")
		return
	}

	sid := id.String()
	s.mu.Lock()
	if !s.watched[sid] {
		s.watched[sid] = true
		s.events.CreateStream(sid)
	}
	s.mu.Unlock()

	// The sse server routes by the stream query parameter.
	q := r.URL.Query()
	q.Set("stream", sid)
	r.URL.RawQuery = q.Encode()

	s.events.ServeHTTP(w, r)
}

// broadcastLoop pushes snapshots to every watched stream until the
// run context ends.
func (s *Server) broadcastLoop(ctx context.Context) {
	defer close(s.broadcasterDone)

	ticker := time.NewTicker(s.cfg.StreamInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.broadcastOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// broadcastOnce publishes one snapshot per watched session. A terminal
// session gets its final snapshot and then its stream is removed,
// which disconnects subscribers.
func (s *Server) broadcastOnce(ctx context.Context) {
	s.mu.Lock()
	ids := make([]uuid.UUID, 0, len(s.watched))
	for sid := range s.watched {
		// Only parsed UUIDs enter the watch set.
		id, err := uuid.Parse(sid)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}

		session, err := s.sessions.GetSession(ctx, id)
		if err != nil {
			// Transient store trouble keeps the stream open; the next
			// tick retries.
			s.logger.Warn("snapshot load failed",
				zap.String("session_id", id.String()),
				zap.Error(err))
			continue
		}

		data, err := json.Marshal(statisticsSnapshot{
			SessionID:        session.ID,
			Status:           session.Status,
			QueriesTotal:     session.QueriesTotal,
			QueriesCompleted: session.QueriesCompleted,
			ResultsExpected:  session.ResultsExpected,
			Stats:            session.Stats,
			ObservedAt:       time.Now().UTC(),
		})
		if err != nil {
			continue
		}

		sid := id.String()
		s.events.Publish(sid, &sse.Event{Event: []byte("statistics"), Data: data})

		if session.Status.Terminal() {
			s.mu.Lock()
			delete(s.watched, sid)
			s.mu.Unlock()
			s.events.RemoveStream(sid)
		}
	}
}
