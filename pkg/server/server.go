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

// Package server is the REST ingress of the discovery pipeline. It
// exposes session initiation, candidate review, session inspection with
// a live statistics stream, health, and metrics. The server is a thin
// wrapper: every write goes through the orchestrator or the store, and
// validation failures never leave side effects.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/r3labs/sse/v2"
	"go.uber.org/zap"

	"github.com/teradata-labs/prospector/pkg/observability"
	"github.com/teradata-labs/prospector/pkg/orchestrator"
	"github.com/teradata-labs/prospector/pkg/storage"
	"github.com/teradata-labs/prospector/pkg/types"
)

// Launcher starts discovery sessions. *orchestrator.Orchestrator
// satisfies it.
type Launcher interface {
	ExecuteSearch(ctx context.Context, criteria types.SearchCriteria, sessionType types.SessionType) (*orchestrator.SearchInitiation, error)
}

// Config holds the HTTP server settings.
type Config struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string `mapstructure:"addr"`
	// ReadTimeout bounds reading one request.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// IdleTimeout bounds idle keep-alive connections.
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
	// ShutdownTimeout bounds draining in-flight requests on Stop.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// CORSOrigins lists allowed origins. Empty means same-origin only;
	// "*" allows everything.
	CORSOrigins []string `mapstructure:"cors_origins"`
	// StreamInterval is the cadence of SSE statistics snapshots.
	StreamInterval time.Duration `mapstructure:"stream_interval"`
	// RecentLimit caps GET /api/sessions/recent.
	RecentLimit int `mapstructure:"recent_limit"`
}

func (c *Config) applyDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 120 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 15 * time.Second
	}
	if c.StreamInterval <= 0 {
		c.StreamInterval = 2 * time.Second
	}
	if c.RecentLimit <= 0 {
		c.RecentLimit = 20
	}
}

// healthCheck probes one backing dependency by name.
type healthCheck struct {
	name  string
	check func(ctx context.Context) error
}

// Server is the HTTP ingress. Build with NewServer, register health
// checks, then Start.
type Server struct {
	cfg        Config
	launcher   Launcher
	sessions   storage.SessionStore
	candidates storage.CandidateStore
	logger     *zap.Logger
	metrics    *observability.Metrics

	checks []healthCheck

	httpServer *http.Server
	events     *sse.Server

	mu      sync.Mutex
	watched map[string]bool // session streams the broadcaster feeds

	started         atomic.Bool
	runCtx          context.Context
	cancel          context.CancelFunc
	broadcasterDone chan struct{}
	wg              sync.WaitGroup
}

// NewServer wires the ingress over the orchestrator and the store.
func NewServer(launcher Launcher, sessions storage.SessionStore, candidates storage.CandidateStore, cfg Config, logger *zap.Logger) (*Server, error) {
	if launcher == nil {
		return nil, fmt.Errorf("launcher is required")
	}
	if sessions == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if candidates == nil {
		return nil, fmt.Errorf("candidate store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.applyDefaults()

	events := sse.New()
	events.AutoReplay = false

	return &Server{
		cfg:        cfg,
		launcher:   launcher,
		sessions:   sessions,
		candidates: candidates,
		logger:     logger,
		events:     events,
		watched:    make(map[string]bool),
		httpServer: &http.Server{
			Addr:        cfg.Addr,
			ReadTimeout: cfg.ReadTimeout,
			IdleTimeout: cfg.IdleTimeout,
			// No write timeout: the SSE stream holds its response open.
		},
	}, nil
}

// AddHealthCheck registers a named dependency probe for /healthz.
// Must be called before Start; not safe for concurrent use.
func (s *Server) AddHealthCheck(name string, check func(ctx context.Context) error) {
	s.checks = append(s.checks, healthCheck{name: name, check: check})
}

// SetMetrics attaches the Prometheus instrument set. /metrics serves
// its registry and the request middleware records into it. Must be
// called before Start; not safe for concurrent use.
func (s *Server) SetMetrics(m *observability.Metrics) {
	s.metrics = m
}

// Handler returns the configured router. Split out so tests can drive
// it through httptest without a listener.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	if len(s.cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.cfg.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", s.metricsHandler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/search/execute", s.handleExecuteSearch)

		r.Route("/candidates", func(r chi.Router) {
			r.Get("/", s.handleListCandidates)
			r.Put("/{id}/approve", s.handleApproveCandidate)
			r.Put("/{id}/reject", s.handleRejectCandidate)
		})

		r.Route("/sessions", func(r chi.Router) {
			r.Get("/recent", s.handleRecentSessions)
			r.Get("/{id}", s.handleGetSession)
			r.Get("/{id}/stream", s.handleSessionStream)
		})
	})

	return r
}

func (s *Server) metricsHandler() http.Handler {
	gatherer := s.metrics.Gatherer()
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Start begins serving and launches the statistics broadcaster.
// ListenAndServe runs on its own goroutine; a failed bind is logged,
// not returned, so callers that need bind errors should probe /healthz.
func (s *Server) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return fmt.Errorf("server already started")
	}

	s.runCtx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.broadcasterDone = make(chan struct{})
	s.httpServer.Handler = s.Handler()

	go s.broadcastLoop(s.runCtx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info("http server listening", zap.String("addr", s.cfg.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server failed", zap.Error(err))
		}
	}()

	return nil
}

// Stop stops the broadcaster, closes the SSE streams so their handlers
// unblock, then drains in-flight requests. The SSE close must come
// before Shutdown: an open stream is an in-flight request Shutdown
// would otherwise wait out.
func (s *Server) Stop() {
	if !s.started.Load() {
		return
	}

	s.cancel()
	<-s.broadcasterDone
	s.events.Close()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn("http shutdown did not drain cleanly", zap.Error(err))
	}

	s.wg.Wait()
	s.started.Store(false)
	s.logger.Info("http server stopped")
}

// requestLogger logs every request and feeds the HTTP instruments. The
// chi route pattern keeps metric cardinality bounded.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		elapsed := time.Since(start)
		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		s.metrics.RecordHTTPRequest(r.Method, route, strconv.Itoa(ww.Status()), elapsed.Seconds())
		s.logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", elapsed),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("remote", r.RemoteAddr))
	})
}

// errorBody is the JSON error envelope.
type errorBody struct {
	Error     string `json:"error"`
	RequestID string `json:"requestId,omitempty"`
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("failed to encode response", zap.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, r *http.Request, status int, message string) {
	s.respondJSON(w, status, errorBody{
		Error:     message,
		RequestID: middleware.GetReqID(r.Context()),
	})
}
