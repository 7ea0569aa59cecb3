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

// Package scheduler runs the scheduled discovery path. It keeps the
// persisted query library in sync with its YAML file, maintains one
// cron entry per weekday that has enabled queries, and dispatches each
// firing as a SCHEDULED session through the orchestrator.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/teradata-labs/prospector/pkg/orchestrator"
	"github.com/teradata-labs/prospector/pkg/storage"
	"github.com/teradata-labs/prospector/pkg/types"
)

// dispatchTimeout bounds one firing: a ListForDay read plus the fan-out
// publishes. The pipeline itself runs on asynchronously.
const dispatchTimeout = 30 * time.Second

// Launcher starts a scheduled session from library queries. The
// orchestrator satisfies it.
type Launcher interface {
	ExecuteLibrary(ctx context.Context, criteria types.SearchCriteria, queries []types.LibraryQuery) (*orchestrator.SearchInitiation, error)
}

// Config holds scheduler tunables.
type Config struct {
	// LibraryPath points at the query library YAML file. Empty disables
	// file loading and hot reload; the store alone drives the entries.
	LibraryPath string `mapstructure:"library_path"`

	// At is the local fire time as HH:MM. Defaults to 02:00.
	At string `mapstructure:"at"`

	// Timezone is the IANA zone the fire time is interpreted in.
	// Defaults to UTC.
	Timezone string `mapstructure:"timezone"`

	// Debounce is how long library file events must settle before a
	// reload runs.
	Debounce time.Duration `mapstructure:"debounce"`

	// Criteria is the search criteria every scheduled session runs
	// with.
	Criteria types.SearchCriteria `mapstructure:"criteria"`
}

func (c *Config) applyDefaults() {
	if c.At == "" {
		c.At = "02:00"
	}
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
	if c.Debounce <= 0 {
		c.Debounce = 500 * time.Millisecond
	}
}

// Scheduler owns the cron entries, the library file loader, and the
// hot-reload watcher.
type Scheduler struct {
	library  storage.LibraryStore
	launcher Launcher
	cfg      Config
	logger   *zap.Logger

	cron         *cron.Cron
	hour, minute int

	mu      sync.Mutex
	entries map[time.Weekday]cron.EntryID

	started atomic.Bool
	runCtx  context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	watcher *fsnotify.Watcher

	fired          atomic.Int64
	reloads        atomic.Int64
	reloadFailures atomic.Int64
}

// NewScheduler builds the scheduler. The fire time and timezone are
// validated here so a bad config fails at boot, not at 02:00.
func NewScheduler(library storage.LibraryStore, launcher Launcher, cfg Config, logger *zap.Logger) (*Scheduler, error) {
	if library == nil {
		return nil, fmt.Errorf("library store is required")
	}
	if launcher == nil {
		return nil, fmt.Errorf("launcher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.applyDefaults()

	hour, minute, err := parseFireTime(cfg.At)
	if err != nil {
		return nil, err
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", cfg.Timezone, err)
	}

	return &Scheduler{
		library:  library,
		launcher: launcher,
		cfg:      cfg,
		logger:   logger,
		cron:     cron.New(cron.WithLocation(loc)),
		hour:     hour,
		minute:   minute,
		entries:  make(map[time.Weekday]cron.EntryID),
	}, nil
}

// Start loads the library file, builds the weekday entries, and brings
// up the cron engine and the file watcher. A missing library file is
// fine (the stored library drives the entries); a malformed one is a
// boot error.
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return fmt.Errorf("scheduler already started")
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.runCtx = runCtx
	s.cancel = cancel

	fail := func(err error) error {
		cancel()
		s.started.Store(false)
		return err
	}

	if s.cfg.LibraryPath != "" {
		if err := s.loadLibraryFile(ctx); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return fail(err)
			}
			s.logger.Info("query library file not found, using stored library",
				zap.String("path", s.cfg.LibraryPath))
		}
	}

	if err := s.rebuildEntries(ctx); err != nil {
		return fail(err)
	}

	if s.cfg.LibraryPath != "" {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return fail(fmt.Errorf("failed to create library watcher: %w", err))
		}
		// Watch the directory: editors replace the file by rename, which
		// drops a watch on the file itself.
		if err := watcher.Add(filepath.Dir(s.cfg.LibraryPath)); err != nil {
			watcher.Close()
			return fail(fmt.Errorf("failed to watch library directory: %w", err))
		}
		s.watcher = watcher
		s.wg.Add(1)
		go s.watchLoop(runCtx)
	}

	s.cron.Start()
	s.logger.Info("scheduler started",
		zap.String("at", s.cfg.At),
		zap.String("timezone", s.cfg.Timezone),
		zap.Int("weekdays", s.entryCount()))
	return nil
}

// Stop cancels in-flight dispatches, drains the cron engine, and shuts
// the watcher down.
func (s *Scheduler) Stop() {
	if !s.started.Load() {
		return
	}
	if s.cancel != nil {
		s.cancel()
	}
	<-s.cron.Stop().Done()
	if s.watcher != nil {
		s.watcher.Close()
	}
	s.wg.Wait()
	s.started.Store(false)
	s.logger.Info("scheduler stopped")
}

// fire dispatches one weekday's enabled library queries as a scheduled
// session. A day whose queries were disabled since the entry was built
// simply skips.
func (s *Scheduler) fire(day time.Weekday) {
	s.fired.Add(1)
	ctx, cancel := context.WithTimeout(s.runCtx, dispatchTimeout)
	defer cancel()

	queries, err := s.library.ListForDay(ctx, day)
	if err != nil {
		s.logger.Error("failed to load library queries for day",
			zap.Stringer("day", day), zap.Error(err))
		return
	}
	if len(queries) == 0 {
		s.logger.Debug("no enabled library queries for day", zap.Stringer("day", day))
		return
	}

	init, err := s.launcher.ExecuteLibrary(ctx, s.cfg.Criteria, queries)
	if err != nil {
		s.logger.Error("scheduled dispatch failed",
			zap.Stringer("day", day), zap.Error(err))
		return
	}
	s.logger.Info("scheduled session dispatched",
		zap.Stringer("day", day),
		zap.String("session_id", init.SessionID.String()),
		zap.Int("queries", init.QueriesGenerated))
}

// rebuildEntries swaps the weekday entries to match the enabled
// library. Existing entries for still-scheduled days are kept so their
// next fire time is undisturbed.
func (s *Scheduler) rebuildEntries(ctx context.Context) error {
	queries, err := s.library.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list query library: %w", err)
	}

	days := make(map[time.Weekday]bool)
	for _, q := range queries {
		if q.Enabled {
			days[q.DayOfWeek] = true
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for day, id := range s.entries {
		if !days[day] {
			s.cron.Remove(id)
			delete(s.entries, day)
		}
	}
	for day := range days {
		if _, ok := s.entries[day]; ok {
			continue
		}
		spec := fmt.Sprintf("%d %d * * %d", s.minute, s.hour, int(day))
		id, err := s.cron.AddFunc(spec, func() { s.fire(day) })
		if err != nil {
			return fmt.Errorf("failed to schedule %s entry: %w", day, err)
		}
		s.entries[day] = id
	}
	return nil
}

func (s *Scheduler) entryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// loadLibraryFile parses the YAML library and swaps the stored one.
func (s *Scheduler) loadLibraryFile(ctx context.Context) error {
	queries, err := LoadLibrary(s.cfg.LibraryPath)
	if err != nil {
		return err
	}
	if err := s.library.ReplaceAll(ctx, queries); err != nil {
		return fmt.Errorf("failed to store query library: %w", err)
	}
	s.logger.Info("query library loaded",
		zap.String("path", s.cfg.LibraryPath),
		zap.Int("queries", len(queries)))
	return nil
}

// watchLoop reloads the library after file change events settle. A
// reload that fails keeps the previous library and entries.
func (s *Scheduler) watchLoop(ctx context.Context) {
	defer s.wg.Done()

	debounce := time.NewTimer(time.Hour)
	debounce.Stop()
	defer debounce.Stop()

	target := filepath.Clean(s.cfg.LibraryPath)
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Op.Has(fsnotify.Write | fsnotify.Create | fsnotify.Rename) {
				continue
			}
			debounce.Reset(s.cfg.Debounce)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("library watcher error", zap.Error(err))
		case <-debounce.C:
			s.reload(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) reload(ctx context.Context) {
	s.reloads.Add(1)
	if err := s.loadLibraryFile(ctx); err != nil {
		s.reloadFailures.Add(1)
		s.logger.Warn("library reload failed, keeping previous library",
			zap.String("path", s.cfg.LibraryPath), zap.Error(err))
		return
	}
	if err := s.rebuildEntries(ctx); err != nil {
		s.reloadFailures.Add(1)
		s.logger.Warn("failed to rebuild schedule entries", zap.Error(err))
		return
	}
	s.logger.Info("query library reloaded", zap.String("path", s.cfg.LibraryPath))
}

// parseFireTime parses an HH:MM wall-clock time.
func parseFireTime(at string) (hour, minute int, err error) {
	parts := strings.Split(at, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid fire time %q, want HH:MM", at)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid fire time %q, want HH:MM", at)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid fire time %q, want HH:MM", at)
	}
	return hour, minute, nil
}
