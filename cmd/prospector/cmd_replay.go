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

	"github.com/MakeNowJust/heredoc"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/teradata-labs/prospector/pkg/bus"
	"github.com/teradata-labs/prospector/pkg/cache"
)

var replayCmd = &cobra.Command{
	Use:   "replay [error-id]",
	Short: "Re-publish a dead-lettered event",
	Long: heredoc.Doc(`
		Find the dead-letter entry with the given error ID and re-publish its
		original payload to its original topic. The running server's consumers
		pick it up like any fresh event.

		The payload is schema-validated again before publishing; an entry whose
		payload no longer validates is refused.`),
	Args: cobra.ExactArgs(1),
	Run:  runReplay,
}

func init() {
	rootCmd.AddCommand(replayCmd)
}

func runReplay(cmd *cobra.Command, args []string) {
	errorID, err := uuid.Parse(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid error id: %s\n", args[0])
		os.Exit(1)
	}

	ctx := context.Background()
	redisCache, err := cache.NewCache(config.Redis, zap.NewNop(), nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error connecting to redis: %v\n", err)
		os.Exit(1)
	}
	defer redisCache.Close()

	producer, err := bus.NewProducer(redisCache.Client(), nil, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating producer: %v\n", err)
		os.Exit(1)
	}
	replayer, err := bus.NewReplayer(redisCache.Client(), producer, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating replayer: %v\n", err)
		os.Exit(1)
	}

	messageID, err := replayer.Replay(ctx, errorID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error replaying event: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Replayed %s as message %s\n", errorID, messageID)
}
