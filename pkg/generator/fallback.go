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
	"strings"

	"github.com/teradata-labs/prospector/pkg/types"
)

// Built-in query patterns used when the LLM is unavailable or under-
// delivers. Keyword patterns carry at most two fixed words so that a
// two-word geography plus a focus area still fits the 8-word ceiling.
var keywordPatterns = []string{
	"{type} {recipient} {geo}",
	"{type} opportunities {geo} {recipient}",
	"apply {type} {recipient} {geo}",
	"{geo} {type} programs {recipient}",
	"open {type} calls {geo}",
}

var aiPatterns = []string{
	"What {type} opportunities are currently available for {recipient} organizations in {geo}, " +
		"and what are the application deadlines and eligibility requirements?",
	"Which foundations and public institutions offer {type} funding for {recipient} projects in {geo}, " +
		"and how can an organization submit an application this year?",
	"Are there any {type} programs supporting {recipient} initiatives in {geo} that are currently " +
		"open for applications, and what funding amounts do they typically provide?",
	"How can a {recipient} organization based in {geo} find and apply for {type} funding, " +
		"and which programs have upcoming submission deadlines?",
	"What international and local {type} programs support {recipient} organizations in {geo}, " +
		"and what documentation is required to submit a successful application?",
}

// focusAreas pad the fallback list past the raw pattern-criteria product
// when a large count is requested. Order is fixed for determinism.
var focusAreas = []string{
	"education",
	"community development",
	"culture",
	"environment",
	"social inclusion",
	"youth programs",
	"digital innovation",
	"healthcare",
	"sports",
	"research",
}

// fallbackQueries builds the deterministic list for a template style.
// The same criteria always produce the same list. Always returns at
// least one query and at most n.
func fallbackQueries(style Style, criteria types.SearchCriteria, n int) []string {
	fundingTypes := orDefault(lowerAll(criteria.FundingSourceTypes), "grant")
	recipients := orDefault(lowerAll(criteria.RecipientTypes), "nonprofit")
	geos := orDefault(criteria.GeographicScopes, "Europe")

	patterns := keywordPatterns
	if style == StyleAIOptimized {
		patterns = aiPatterns
	}

	seen := make(map[string]struct{}, n)
	out := make([]string, 0, n)
	add := func(q string) bool {
		key := strings.ToLower(q)
		if _, dup := seen[key]; dup {
			return false
		}
		seen[key] = struct{}{}
		out = append(out, q)
		return len(out) >= n
	}

	for _, focus := range append([]string{""}, focusAreas...) {
		for _, pattern := range patterns {
			for _, ft := range fundingTypes {
				for _, geo := range geos {
					for _, rt := range recipients {
						if add(renderPattern(style, pattern, ft, geo, rt, focus)) {
							return out
						}
					}
				}
			}
		}
	}
	return out
}

func renderPattern(style Style, pattern, fundingType, geo, recipient, focus string) string {
	if style == StyleKeyword {
		geo = strings.ToLower(geo)
	}
	q := strings.NewReplacer(
		"{type}", fundingType,
		"{geo}", geo,
		"{recipient}", recipient,
	).Replace(pattern)

	if focus == "" {
		return q
	}
	if style == StyleAIOptimized {
		return strings.TrimSuffix(q, "?") + ", particularly for " + focus + " projects?"
	}
	return q + " " + focus
}

func orDefault(values []string, fallback string) []string {
	if len(values) == 0 {
		return []string{fallback}
	}
	return values
}
