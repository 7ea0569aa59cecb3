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
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/teradata-labs/prospector/internal/log"
	"github.com/teradata-labs/prospector/internal/version"
	"github.com/teradata-labs/prospector/pkg/bus"
	"github.com/teradata-labs/prospector/pkg/cache"
	"github.com/teradata-labs/prospector/pkg/generator"
	"github.com/teradata-labs/prospector/pkg/llm"
	"github.com/teradata-labs/prospector/pkg/observability"
	"github.com/teradata-labs/prospector/pkg/orchestrator"
	"github.com/teradata-labs/prospector/pkg/pipeline"
	"github.com/teradata-labs/prospector/pkg/scheduler"
	"github.com/teradata-labs/prospector/pkg/search"
	"github.com/teradata-labs/prospector/pkg/server"
	"github.com/teradata-labs/prospector/pkg/storage/postgres"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the discovery server",
	Long: heredoc.Doc(`
		Start the full discovery pipeline in one process.

		The server will:
		- Connect to PostgreSQL and apply pending schema migrations
		- Connect to Redis for the event bus and dedup/blacklist caches
		- Register the configured search engines
		- Start the stage consumers, daily scheduler, and stream janitor
		- Serve the REST API, statistics streams, and Prometheus metrics

		Press Ctrl+C to gracefully shutdown.`),
	Run: runServe,
}

func init() {
	serveCmd.Flags().Bool("skip-migrate", false, "do not apply schema migrations on startup")
	rootCmd.AddCommand(serveCmd)
}

// createLLMProvider builds the configured LLM provider. Returns nil when
// no API key is available; the query generator then falls back to its
// built-in query lists.
func createLLMProvider(config *Config, logger *zap.Logger) llm.Provider {
	if config.LLM.APIKey == "" {
		logger.Info("no LLM API key configured, query generation uses built-in lists")
		return nil
	}
	provider, err := llm.New(config.LLM)
	if err != nil {
		logger.Fatal("LLM provider init failed", zap.Error(err))
	}
	logger.Info("LLM provider configured",
		zap.String("provider", config.LLM.Provider),
		zap.String("model", config.LLM.Model))
	return provider
}

// engineHealth reports engine fleet health. A single healthy engine
// keeps discovery usable, so the check only fails when every enabled
// engine is down.
func engineHealth(registry *search.Registry) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		enabled := registry.Enabled()
		if len(enabled) == 0 {
			return fmt.Errorf("no search engines enabled")
		}
		statuses := registry.Health(ctx)
		var down []string
		for _, adapter := range enabled {
			if status, ok := statuses[adapter.Name()]; ok && !status.Up {
				down = append(down, adapter.Name())
			}
		}
		if len(down) == len(enabled) {
			sort.Strings(down)
			return fmt.Errorf("all enabled engines down: %s", strings.Join(down, ", "))
		}
		return nil
	}
}

func runServe(cmd *cobra.Command, args []string) {
	logger, err := log.New(config.Logging.Level, config.Logging.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	log.SetLogger(logger)

	logger.Info("starting prospector", zap.String("version", version.Get()))
	if used := viper.ConfigFileUsed(); used != "" {
		logger.Info("config file loaded", zap.String("path", used))
	}

	metrics := observability.NewMetrics()
	tracer := observability.Instrument(observability.NewLogTracer(logger), metrics)

	ctx := context.Background()

	store, err := postgres.NewStore(ctx, config.Database, tracer)
	if err != nil {
		logger.Fatal("postgres connection failed", zap.Error(err))
	}
	skipMigrate, _ := cmd.Flags().GetBool("skip-migrate")
	if skipMigrate {
		logger.Info("schema migrations skipped")
	} else if err := store.Migrate(ctx); err != nil {
		logger.Fatal("schema migration failed", zap.Error(err))
	}

	redisCache, err := cache.NewCache(config.Redis, logger, tracer)
	if err != nil {
		logger.Fatal("redis connection failed", zap.Error(err))
	}

	registry, err := search.NewRegistry(config.Engines, store.Usage(), logger, tracer)
	if err != nil {
		logger.Fatal("search registry init failed", zap.Error(err))
	}
	enabledNames := make([]string, 0, len(registry.Names()))
	for _, adapter := range registry.Enabled() {
		enabledNames = append(enabledNames, adapter.Name())
	}
	logger.Info("search engines ready",
		zap.Strings("enabled", enabledNames),
		zap.Int("registered", len(registry.Names())))

	provider := createLLMProvider(config, logger)
	gen := generator.NewGenerator(provider, store.Generations(), config.Generator, logger, tracer)

	processor, err := pipeline.NewProcessor(config.Pipeline, store.Domains(), store.Candidates(), redisCache, logger, tracer)
	if err != nil {
		logger.Fatal("pipeline init failed", zap.Error(err))
	}

	producer, err := bus.NewProducer(redisCache.Client(), logger, tracer)
	if err != nil {
		logger.Fatal("bus producer init failed", zap.Error(err))
	}

	orch, err := orchestrator.NewOrchestrator(store, redisCache, registry, gen, processor, producer, redisCache.Client(), config.Orchestrator, logger, tracer)
	if err != nil {
		logger.Fatal("orchestrator init failed", zap.Error(err))
	}

	janitor, err := bus.NewJanitor(redisCache.Client(), config.Bus.TrimInterval, logger)
	if err != nil {
		logger.Fatal("bus janitor init failed", zap.Error(err))
	}

	sched, err := scheduler.NewScheduler(store.Library(), orch, config.Scheduler, logger)
	if err != nil {
		logger.Fatal("scheduler init failed", zap.Error(err))
	}

	srv, err := server.NewServer(orch, store.Sessions(), store.Candidates(), config.Server, logger)
	if err != nil {
		logger.Fatal("server init failed", zap.Error(err))
	}
	srv.SetMetrics(metrics)
	metrics.Registerer().MustRegister(bus.NewLagCollector(redisCache.Client(), logger))

	srv.AddHealthCheck("postgres", store.Ping)
	srv.AddHealthCheck("redis", redisCache.Ping)
	srv.AddHealthCheck("engines", engineHealth(registry))

	if err := orch.Start(ctx); err != nil {
		logger.Fatal("orchestrator start failed", zap.Error(err))
	}
	if err := janitor.Start(ctx); err != nil {
		logger.Fatal("bus janitor start failed", zap.Error(err))
	}
	if err := sched.Start(ctx); err != nil {
		logger.Fatal("scheduler start failed", zap.Error(err))
	}
	if err := srv.Start(ctx); err != nil {
		logger.Fatal("server start failed", zap.Error(err))
	}

	logger.Info("prospector is ready", zap.String("addr", config.Server.Addr))

	sigch := make(chan os.Signal, 1)
	signal.Notify(sigch, os.Interrupt, syscall.SIGTERM)
	<-sigch
	logger.Info("shutdown signal received")

	// A second signal skips the graceful path.
	go func() {
		<-sigch
		logger.Warn("second signal received, forcing exit")
		os.Exit(1)
	}()

	srv.Stop()
	sched.Stop()
	orch.Stop()
	janitor.Stop()
	if err := redisCache.Close(); err != nil {
		logger.Warn("redis close failed", zap.Error(err))
	}
	if err := store.Close(); err != nil {
		logger.Warn("postgres close failed", zap.Error(err))
	}

	logger.Info("shutdown complete")
}
