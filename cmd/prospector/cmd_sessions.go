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
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"

	"github.com/r3labs/sse/v2"
	"github.com/spf13/cobra"

	"github.com/teradata-labs/prospector/pkg/types"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect discovery sessions on a running server",
}

var sessionsRecentCmd = &cobra.Command{
	Use:   "recent",
	Short: "List recent discovery sessions",
	Run:   runSessionsRecent,
}

var sessionsGetCmd = &cobra.Command{
	Use:   "get [session-id]",
	Short: "Show one session with its statistics",
	Args:  cobra.ExactArgs(1),
	Run:   runSessionsGet,
}

var sessionsWatchCmd = &cobra.Command{
	Use:   "watch [session-id]",
	Short: "Follow a session's statistics stream",
	Long: `Follow the server-sent statistics stream for a session. The stream
prints one JSON frame per interval and ends when the session reaches a
terminal state.`,
	Args: cobra.ExactArgs(1),
	Run:  runSessionsWatch,
}

func init() {
	sessionsRecentCmd.Flags().Int("limit", 0, "number of sessions to return (server default when 0)")

	sessionsCmd.AddCommand(sessionsRecentCmd)
	sessionsCmd.AddCommand(sessionsGetCmd)
	sessionsCmd.AddCommand(sessionsWatchCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func runSessionsRecent(cmd *cobra.Command, args []string) {
	path := "/api/sessions/recent"
	if limit, _ := cmd.Flags().GetInt("limit"); limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}

	var page struct {
		Sessions []*types.DiscoverySession `json:"sessions"`
		Count    int                       `json:"count"`
	}
	if err := newAPIClient().get(context.Background(), path, &page); err != nil {
		fmt.Fprintf(os.Stderr, "Error listing sessions: %v\n", err)
		os.Exit(1)
	}
	printJSON(page)
}

func runSessionsGet(cmd *cobra.Command, args []string) {
	var session types.DiscoverySession
	if err := newAPIClient().get(context.Background(), "/api/sessions/"+args[0], &session); err != nil {
		fmt.Fprintf(os.Stderr, "Error fetching session: %v\n", err)
		os.Exit(1)
	}
	printJSON(session)
}

func runSessionsWatch(cmd *cobra.Command, args []string) {
	if err := watchSession(args[0]); err != nil {
		fmt.Fprintf(os.Stderr, "Error following session: %v\n", err)
		os.Exit(1)
	}
}

// watchSession subscribes to a session's statistics stream and prints
// each frame. It returns once a terminal frame arrives or the user
// interrupts. The subscription must stop itself at the terminal frame:
// the client auto-reconnects after the server closes the stream, and a
// reconnect against a finished session would replay final frames
// forever.
func watchSession(id string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	client := sse.NewClient(config.Client.ServerURL + "/api/sessions/" + id + "/stream")
	err := client.SubscribeRawWithContext(ctx, func(msg *sse.Event) {
		if len(msg.Data) == 0 {
			return
		}
		fmt.Println(string(msg.Data))

		var frame struct {
			Status types.SessionStatus `json:"status"`
		}
		if json.Unmarshal(msg.Data, &frame) == nil && frame.Status.Terminal() {
			cancel()
		}
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
