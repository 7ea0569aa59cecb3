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
	"net/url"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/teradata-labs/prospector/pkg/types"
)

var candidatesCmd = &cobra.Command{
	Use:   "candidates",
	Short: "Review funding source candidates on a running server",
}

var candidatesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List candidates with filters",
	Run:   runCandidatesList,
}

var candidatesApproveCmd = &cobra.Command{
	Use:   "approve [candidate-id]",
	Short: "Approve a pending candidate",
	Args:  cobra.ExactArgs(1),
	Run:   runCandidatesApprove,
}

var candidatesRejectCmd = &cobra.Command{
	Use:   "reject [candidate-id]",
	Short: "Reject a pending candidate",
	Args:  cobra.ExactArgs(1),
	Run:   runCandidatesReject,
}

func init() {
	candidatesListCmd.Flags().String("status", "", "filter by status (PENDING_CRAWL, SKIPPED_LOW_CONFIDENCE, IN_REVIEW, APPROVED, REJECTED)")
	candidatesListCmd.Flags().String("min-confidence", "", "minimum confidence score, e.g. 0.75")
	candidatesListCmd.Flags().String("engine", "", "filter by source search engine")
	candidatesListCmd.Flags().String("sort", "", "sort field (created_at, confidence, domain_name)")
	candidatesListCmd.Flags().String("direction", "", "sort direction (asc, desc)")
	candidatesListCmd.Flags().Int("page", 0, "page number")
	candidatesListCmd.Flags().Int("size", 0, "page size (server default when 0)")

	for _, reviewCmd := range []*cobra.Command{candidatesApproveCmd, candidatesRejectCmd} {
		reviewCmd.Flags().String("reviewer", "", "reviewer name recorded on the candidate")
		reviewCmd.Flags().String("notes", "", "review notes recorded on the candidate")
	}

	candidatesCmd.AddCommand(candidatesListCmd)
	candidatesCmd.AddCommand(candidatesApproveCmd)
	candidatesCmd.AddCommand(candidatesRejectCmd)
	rootCmd.AddCommand(candidatesCmd)
}

func runCandidatesList(cmd *cobra.Command, args []string) {
	flags := cmd.Flags()
	params := url.Values{}
	for _, pair := range []struct{ flag, param string }{
		{"status", "status"},
		{"min-confidence", "minConfidence"},
		{"engine", "searchEngine"},
		{"sort", "sortBy"},
		{"direction", "sortDirection"},
	} {
		if v, _ := flags.GetString(pair.flag); v != "" {
			params.Set(pair.param, v)
		}
	}
	if page, _ := flags.GetInt("page"); page > 0 {
		params.Set("page", strconv.Itoa(page))
	}
	if size, _ := flags.GetInt("size"); size > 0 {
		params.Set("size", strconv.Itoa(size))
	}

	path := "/api/candidates"
	if encoded := params.Encode(); encoded != "" {
		path += "?" + encoded
	}

	var page struct {
		Items []*types.FundingSourceCandidate `json:"items"`
		Page  int                             `json:"page"`
		Size  int                             `json:"size"`
		Total int                             `json:"total"`
	}
	if err := newAPIClient().get(context.Background(), path, &page); err != nil {
		fmt.Fprintf(os.Stderr, "Error listing candidates: %v\n", err)
		os.Exit(1)
	}
	printJSON(page)
}

func runCandidatesApprove(cmd *cobra.Command, args []string) {
	reviewCandidate(cmd, args[0], "approve")
}

func runCandidatesReject(cmd *cobra.Command, args []string) {
	reviewCandidate(cmd, args[0], "reject")
}

func reviewCandidate(cmd *cobra.Command, id, verb string) {
	reviewer, _ := cmd.Flags().GetString("reviewer")
	notes, _ := cmd.Flags().GetString("notes")

	body := map[string]string{"reviewer": reviewer, "notes": notes}
	var candidate types.FundingSourceCandidate
	if err := newAPIClient().put(context.Background(), "/api/candidates/"+id+"/"+verb, body, &candidate); err != nil {
		fmt.Fprintf(os.Stderr, "Error updating candidate: %v\n", err)
		os.Exit(1)
	}
	printJSON(candidate)
}
