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
	"strconv"

	"github.com/spf13/cobra"

	"github.com/teradata-labs/prospector/pkg/storage/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the PostgreSQL schema",
	Long:  `Apply, roll back, or inspect the embedded schema migrations.`,
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	Run:   runMigrateUp,
}

var migrateDownCmd = &cobra.Command{
	Use:   "down [steps]",
	Short: "Roll back the most recent migrations",
	Long:  `Roll back the given number of migrations (default 1).`,
	Args:  cobra.MaximumNArgs(1),
	Run:   runMigrateDown,
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current schema version and pending migrations",
	Run:   runMigrateStatus,
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
	migrateCmd.AddCommand(migrateStatusCmd)
	rootCmd.AddCommand(migrateCmd)
}

// openStore connects to PostgreSQL for the migrate subcommands. The
// caller owns the returned store.
func openStore(ctx context.Context) *postgres.Store {
	store, err := postgres.NewStore(ctx, config.Database, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error connecting to postgres: %v\n", err)
		os.Exit(1)
	}
	return store
}

func runMigrateUp(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	store := openStore(ctx)
	defer store.Close()

	if err := store.Migrator().MigrateUp(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error applying migrations: %v\n", err)
		os.Exit(1)
	}
	version, err := store.Migrator().CurrentVersion(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading schema version: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Schema is up to date at version %d\n", version)
}

func runMigrateDown(cmd *cobra.Command, args []string) {
	steps := 1
	if len(args) == 1 {
		parsed, err := strconv.Atoi(args[0])
		if err != nil || parsed < 1 {
			fmt.Fprintf(os.Stderr, "Invalid step count: %s\n", args[0])
			os.Exit(1)
		}
		steps = parsed
	}

	ctx := context.Background()
	store := openStore(ctx)
	defer store.Close()

	if err := store.Migrator().MigrateDown(ctx, steps); err != nil {
		fmt.Fprintf(os.Stderr, "Error rolling back: %v\n", err)
		os.Exit(1)
	}
	version, err := store.Migrator().CurrentVersion(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading schema version: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Rolled back %d migration(s), schema now at version %d\n", steps, version)
}

func runMigrateStatus(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	store := openStore(ctx)
	defer store.Close()

	version, err := store.Migrator().CurrentVersion(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading schema version: %v\n", err)
		os.Exit(1)
	}
	pending, err := store.Migrator().PendingMigrations(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error listing pending migrations: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Current version: %d\n", version)
	if len(pending) == 0 {
		fmt.Println("No pending migrations")
		return
	}
	fmt.Printf("Pending migrations (%d):\n", len(pending))
	for _, mig := range pending {
		fmt.Printf("  %06d  %s\n", mig.Version, mig.Description)
	}
}
