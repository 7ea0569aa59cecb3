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
	"github.com/spf13/cobra"

	"github.com/teradata-labs/prospector/pkg/orchestrator"
	"github.com/teradata-labs/prospector/pkg/types"
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Run discovery searches against a running server",
}

var searchExecuteCmd = &cobra.Command{
	Use:   "execute",
	Short: "Start a discovery session",
	Long: heredoc.Doc(`
		Start a discovery session on a running prospector server.

		The session runs asynchronously; the command returns a receipt with
		the session ID. Pass --watch to follow the statistics stream until
		the session reaches a terminal state.

		Example:
		  prospector search execute --scope Bulgaria --type GRANT --type DONATION --watch`),
	Run: runSearchExecute,
}

func init() {
	searchExecuteCmd.Flags().StringSlice("type", []string{"GRANT"}, "funding source types (GRANT, SCHOLARSHIP, DONATION, SPONSORSHIP, LOAN, AWARD)")
	searchExecuteCmd.Flags().StringSlice("scope", nil, "geographic scopes, e.g. Bulgaria or Sofia (required)")
	searchExecuteCmd.Flags().StringSlice("recipient", []string{"NONPROFIT"}, "recipient types (NONPROFIT, SCHOOL, UNIVERSITY, MUNICIPALITY, INDIVIDUAL, STARTUP)")
	searchExecuteCmd.Flags().String("project-scale", "", "project scale (SMALL, MEDIUM, LARGE)")
	searchExecuteCmd.Flags().String("language", "", "query language as a BCP 47 tag, e.g. bg")
	searchExecuteCmd.Flags().Int("max-results", 20, "maximum results per query (10-100)")
	searchExecuteCmd.Flags().Int("queries", 5, "number of queries to generate (1-50)")
	searchExecuteCmd.Flags().Bool("watch", false, "follow the statistics stream after starting")
	_ = searchExecuteCmd.MarkFlagRequired("scope")

	searchCmd.AddCommand(searchExecuteCmd)
	rootCmd.AddCommand(searchCmd)
}

func runSearchExecute(cmd *cobra.Command, args []string) {
	flags := cmd.Flags()
	fundingTypes, _ := flags.GetStringSlice("type")
	scopes, _ := flags.GetStringSlice("scope")
	recipients, _ := flags.GetStringSlice("recipient")
	projectScale, _ := flags.GetString("project-scale")
	language, _ := flags.GetString("language")
	maxResults, _ := flags.GetInt("max-results")
	queryCount, _ := flags.GetInt("queries")
	watch, _ := flags.GetBool("watch")

	criteria := types.SearchCriteria{
		FundingSourceTypes: fundingTypes,
		GeographicScopes:   scopes,
		RecipientTypes:     recipients,
		ProjectScale:       projectScale,
		Language:           language,
		MaxResultsPerQuery: maxResults,
		QueryCount:         queryCount,
	}

	ctx := context.Background()
	var receipt orchestrator.SearchInitiation
	if err := newAPIClient().post(ctx, "/api/search/execute", criteria, &receipt); err != nil {
		fmt.Fprintf(os.Stderr, "Error starting search: %v\n", err)
		os.Exit(1)
	}
	printJSON(receipt)

	if watch {
		if err := watchSession(receipt.SessionID.String()); err != nil {
			fmt.Fprintf(os.Stderr, "Error following session: %v\n", err)
			os.Exit(1)
		}
	}
}
