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
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teradata-labs/prospector/pkg/storage"
	"github.com/teradata-labs/prospector/pkg/types"
)

// healthCheckTimeout bounds one dependency probe on /healthz.
const healthCheckTimeout = 2 * time.Second

// handleExecuteSearch starts a MANUAL discovery session. Validation
// failures return 400 before any session row or event exists.
func (s *Server) handleExecuteSearch(w http.ResponseWriter, r *http.Request) {
	var criteria types.SearchCriteria
	if err := json.NewDecoder(r.Body).Decode(&criteria); err != nil {
		s.respondError(w, r, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	receipt, err := s.launcher.ExecuteSearch(r.Context(), criteria, types.SessionTypeManual)
	if err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			s.respondError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("failed to start discovery session", zap.Error(err))
		s.respondError(w, r, http.StatusInternalServerError, "failed to start discovery session")
		return
	}

	s.respondJSON(w, http.StatusOK, receipt)
}

// candidatePage is the paged listing envelope.
type candidatePage struct {
	Items []*types.FundingSourceCandidate `json:"items"`
	Page  int                             `json:"page"`
	Size  int                             `json:"size"`
	Total int                             `json:"total"`
}

func (s *Server) handleListCandidates(w http.ResponseWriter, r *http.Request) {
	filters, err := parseCandidateFilters(r)
	if err != nil {
		s.respondError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	items, total, err := s.candidates.ListCandidates(r.Context(), filters)
	if err != nil {
		s.logger.Error("failed to list candidates", zap.Error(err))
		s.respondError(w, r, http.StatusInternalServerError, "failed to list candidates")
		return
	}
	if items == nil {
		items = []*types.FundingSourceCandidate{}
	}

	s.respondJSON(w, http.StatusOK, candidatePage{
		Items: items,
		Page:  filters.Page,
		Size:  filters.Size,
		Total: total,
	})
}

// parseCandidateFilters maps the listing query string onto store
// filters. Size is clamped to [1, 100]; everything else rejects bad
// input instead of guessing.
func parseCandidateFilters(r *http.Request) (storage.CandidateFilters, error) {
	q := r.URL.Query()
	f := storage.CandidateFilters{
		SearchEngine: q.Get("searchEngine"),
		SortBy:       "created_at",
		SortDesc:     true,
		Size:         20,
	}

	if v := q.Get("status"); v != "" {
		status := types.CandidateStatus(v)
		if !status.Valid() {
			return f, errors.New("unknown status " + strconv.Quote(v))
		}
		f.Status = status
	}
	if v := q.Get("minConfidence"); v != "" {
		conf, err := types.ParseConfidence(v)
		if err != nil {
			return f, errors.New("minConfidence must be a decimal in [0, 1]")
		}
		f.MinConfidence = conf
	}
	if v := q.Get("startDate"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, errors.New("startDate must be RFC 3339")
		}
		f.StartDate = ts
	}
	if v := q.Get("endDate"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, errors.New("endDate must be RFC 3339")
		}
		f.EndDate = ts
	}
	if v := q.Get("sortBy"); v != "" {
		switch v {
		case "created_at", "confidence", "domain_name":
			f.SortBy = v
		default:
			return f, errors.New("sortBy must be one of created_at, confidence, domain_name")
		}
	}
	if v := q.Get("sortDirection"); v != "" {
		switch strings.ToLower(v) {
		case "asc":
			f.SortDesc = false
		case "desc":
			f.SortDesc = true
		default:
			return f, errors.New("sortDirection must be asc or desc")
		}
	}
	if v := q.Get("page"); v != "" {
		page, err := strconv.Atoi(v)
		if err != nil || page < 0 {
			return f, errors.New("page must be a non-negative integer")
		}
		f.Page = page
	}
	if v := q.Get("size"); v != "" {
		size, err := strconv.Atoi(v)
		if err != nil {
			return f, errors.New("size must be an integer")
		}
		if size < 1 {
			size = 1
		}
		if size > 100 {
			size = 100
		}
		f.Size = size
	}
	return f, nil
}

// reviewRequest is the optional body of approve/reject calls.
type reviewRequest struct {
	Reviewer string `json:"reviewer"`
	Notes    string `json:"notes"`
}

func (s *Server) handleApproveCandidate(w http.ResponseWriter, r *http.Request) {
	s.handleReview(w, r, s.candidates.Approve, "approved")
}

func (s *Server) handleRejectCandidate(w http.ResponseWriter, r *http.Request) {
	s.handleReview(w, r, s.candidates.Reject, "rejected")
}

func (s *Server) handleReview(w http.ResponseWriter, r *http.Request, transition func(ctx context.Context, id uuid.UUID, reviewer, notes string) error, verb string) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, http.StatusBadRequest, "invalid candidate id")
		return
	}

	req := reviewRequest{Reviewer: "api"}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.respondError(w, r, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Reviewer) == "" {
		req.Reviewer = "api"
	}

	if err := transition(r.Context(), id, req.Reviewer, req.Notes); err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			s.respondError(w, r, http.StatusNotFound, "candidate not found")
		case errors.Is(err, storage.ErrAlreadyInState):
			s.respondError(w, r, http.StatusBadRequest, "candidate already "+verb)
		default:
			s.logger.Error("candidate review failed",
				zap.String("candidate_id", id.String()),
				zap.Error(err))
			s.respondError(w, r, http.StatusInternalServerError, "failed to update candidate")
		}
		return
	}

	candidate, err := s.candidates.GetCandidate(r.Context(), id)
	if err != nil {
		// The transition committed; a failed re-read only costs the
		// response body detail.
		s.respondJSON(w, http.StatusOK, map[string]string{"id": id.String(), "result": verb})
		return
	}
	s.respondJSON(w, http.StatusOK, candidate)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, http.StatusBadRequest, "invalid session id")
		return
	}

	session, err := s.sessions.GetSession(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, r, http.StatusNotFound, "session not found")
			return
		}
		s.logger.Error("failed to load session", zap.Error(err))
		s.respondError(w, r, http.StatusInternalServerError, "failed to load session")
		return
	}

	s.respondJSON(w, http.StatusOK, session)
}

func (s *Server) handleRecentSessions(w http.ResponseWriter, r *http.Request) {
	limit := s.cfg.RecentLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.respondError(w, r, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		if n > 100 {
			n = 100
		}
		limit = n
	}

	sessions, err := s.sessions.ListSessions(r.Context(), storage.SessionFilters{Limit: limit})
	if err != nil {
		s.logger.Error("failed to list sessions", zap.Error(err))
		s.respondError(w, r, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	if sessions == nil {
		sessions = []*types.DiscoverySession{}
	}

	s.respondJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// handleHealthz probes every registered dependency. Any failure turns
// the overall status to degraded with a 503 so load balancers stop
// routing here, but the body still names the broken piece.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	results := make(map[string]string, len(s.checks))
	healthy := true

	for _, hc := range s.checks {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := hc.check(ctx)
		cancel()
		if err != nil {
			results[hc.name] = err.Error()
			healthy = false
			continue
		}
		results[hc.name] = "ok"
	}

	status := http.StatusOK
	overall := "ok"
	if !healthy {
		status = http.StatusServiceUnavailable
		overall = "degraded"
	}
	s.respondJSON(w, status, map[string]any{
		"status": overall,
		"checks": results,
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}
