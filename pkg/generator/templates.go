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
package generator

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/teradata-labs/prospector/pkg/types"
)

// Style selects the prompt template and the word-count bounds applied to
// generated queries.
type Style string

const (
	// StyleKeyword produces short keyword queries for classic web
	// search engines.
	StyleKeyword Style = "keyword"

	// StyleAIOptimized produces full natural-language questions for
	// answer engines.
	StyleAIOptimized Style = "ai_optimized"
)

// Word-count bounds per style.
const (
	keywordMinWords = 3
	keywordMaxWords = 8
	aiMinWords      = 15
	aiMaxWords      = 30
)

func (s Style) bounds() (min, max int) {
	if s == StyleAIOptimized {
		return aiMinWords, aiMaxWords
	}
	return keywordMinWords, keywordMaxWords
}

const systemPrompt = "You generate web search queries for discovering funding opportunities " +
	"for nonprofit and public-sector organizations. Return exactly the requested " +
	"number of queries, one per line, with no numbering, bullets, or commentary."

// buildPrompt renders the user prompt for one generation run.
func buildPrompt(style Style, criteria types.SearchCriteria, n int) string {
	var b strings.Builder

	switch style {
	case StyleAIOptimized:
		fmt.Fprintf(&b, "Generate %d natural-language questions of %d to %d words each, "+
			"phrased for an AI answer engine.\n", n, aiMinWords, aiMaxWords)
	default:
		fmt.Fprintf(&b, "Generate %d keyword search queries of %d to %d words each.\n",
			n, keywordMinWords, keywordMaxWords)
	}

	fmt.Fprintf(&b, "Funding types: %s.\n", strings.Join(lowerAll(criteria.FundingSourceTypes), ", "))
	fmt.Fprintf(&b, "Recipients: %s.\n", strings.Join(lowerAll(criteria.RecipientTypes), ", "))
	fmt.Fprintf(&b, "Geographic focus: %s.\n", strings.Join(criteria.GeographicScopes, ", "))
	if criteria.ProjectScale != "" {
		fmt.Fprintf(&b, "Project scale: %s.\n", strings.ToLower(criteria.ProjectScale))
	}
	fmt.Fprintf(&b, "Query language: %s.\n", criteria.CanonicalLanguage())
	b.WriteString("One query per line, nothing else.")
	return b.String()
}

func lowerAll(values []string) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = strings.ToLower(v)
	}
	return out
}

// bulletPrefix matches list decorations LLMs add despite instructions.
var bulletPrefix = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)])\s+`)

// parseQueries splits a completion into candidate query lines, stripping
// list decorations, surrounding quotes, and code fences.
func parseQueries(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "```") {
			continue
		}
		line = bulletPrefix.ReplaceAllString(line, "")
		line = strings.Trim(line, `"'`)
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	return out
}

// validateQuery checks one candidate line against the style bounds.
// A non-empty return value is the rejection reason.
func validateQuery(style Style, query string) string {
	if strings.HasSuffix(query, ":") {
		return fmt.Sprintf("preamble line: %q", truncateQuery(query))
	}
	min, max := style.bounds()
	wc := wordCount(query)
	if wc < min || wc > max {
		return fmt.Sprintf("word count %d outside %d-%d: %q", wc, min, max, truncateQuery(query))
	}
	return ""
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}

func truncateQuery(q string) string {
	const limit = 60
	if len(q) <= limit {
		return q
	}
	return q[:limit] + "..."
}
