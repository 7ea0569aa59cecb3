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

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/teradata-labs/prospector/pkg/cache"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Operate on the Redis caches",
}

var cacheInvalidateCmd = &cobra.Command{
	Use:   "invalidate [host]",
	Short: "Drop cached blacklist decisions",
	Long: `Drop the cached blacklist decision for a host, or every cached
decision with --all. The next lookup falls through to the domain store,
so run this after editing domains directly in the database.`,
	Args: cobra.MaximumNArgs(1),
	Run:  runCacheInvalidate,
}

var cacheForgetSessionCmd = &cobra.Command{
	Use:   "forget-session [session-id]",
	Short: "Drop a session's dedup sets",
	Run:   runCacheForgetSession,
	Args:  cobra.ExactArgs(1),
}

func init() {
	cacheInvalidateCmd.Flags().Bool("all", false, "drop every cached blacklist decision")

	cacheCmd.AddCommand(cacheInvalidateCmd)
	cacheCmd.AddCommand(cacheForgetSessionCmd)
	rootCmd.AddCommand(cacheCmd)
}

// openCache connects to Redis for the cache subcommands.
func openCache() *cache.Cache {
	redisCache, err := cache.NewCache(config.Redis, zap.NewNop(), nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error connecting to redis: %v\n", err)
		os.Exit(1)
	}
	return redisCache
}

func runCacheInvalidate(cmd *cobra.Command, args []string) {
	all, _ := cmd.Flags().GetBool("all")
	if !all && len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Provide a host or pass --all")
		os.Exit(1)
	}

	ctx := context.Background()
	redisCache := openCache()
	defer redisCache.Close()

	if all {
		dropped, err := redisCache.InvalidateAllBlacklist(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error invalidating blacklist cache: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Dropped %d cached blacklist decision(s)\n", dropped)
		return
	}

	if err := redisCache.InvalidateBlacklist(ctx, args[0]); err != nil {
		fmt.Fprintf(os.Stderr, "Error invalidating blacklist cache: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Dropped cached blacklist decision for %s\n", args[0])
}

func runCacheForgetSession(cmd *cobra.Command, args []string) {
	sessionID, err := uuid.Parse(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid session id: %s\n", args[0])
		os.Exit(1)
	}

	ctx := context.Background()
	redisCache := openCache()
	defer redisCache.Close()

	if err := redisCache.ForgetSession(ctx, sessionID); err != nil {
		fmt.Fprintf(os.Stderr, "Error dropping session sets: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Dropped dedup sets for session %s\n", sessionID)
}
