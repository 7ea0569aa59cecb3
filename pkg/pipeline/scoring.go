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
package pipeline

import (
	"strings"

	"github.com/teradata-labs/prospector/pkg/types"
)

// Signal contributions in fixed-point hundredths. These rules are
// normative: changing any value changes every stored confidence.
const (
	scoreTitleKeyword types.Score = 15
	scoreDescKeyword  types.Score = 10
	scoreGeographic   types.Score = 15
	scoreOrgType      types.Score = 15
	scoreCompound     types.Score = 15

	// compoundSignals is how many of the four match signals must fire
	// before the compound bonus applies.
	compoundSignals = 3
)

// Judgment is one scored result: the per-judge breakdown, the clamped
// aggregate, and the terms that produced it. It maps one-to-one onto
// the persisted metadata judgment.
type Judgment struct {
	TLDTier TLDTier

	DomainCredibilityScore   types.Score
	FundingKeywordsScore     types.Score
	GeographicRelevanceScore types.Score
	OrganizationTypeScore    types.Score
	CompoundBonus            types.Score

	Confidence    types.Confidence
	KeywordsFound []string

	// SpamReason is set when an anti-spam check fired and the policy
	// zeroed the judgment.
	SpamReason string
}

// Scorer computes metadata-only confidence. All inputs are plain
// strings; the scorer never performs I/O and never fails, so identical
// inputs produce identical scores in any order, on any run.
type Scorer struct {
	tlds *TLDTable
}

// NewScorer creates a scorer over the given TLD classification.
func NewScorer(tlds *TLDTable) *Scorer {
	if tlds == nil {
		tlds = DefaultTLDTable()
	}
	return &Scorer{tlds: tlds}
}

// Score judges one result from its metadata. Empty titles, snippets, or
// criteria contribute zero; they never error.
func (s *Scorer) Score(title, snippet, host string, criteria types.SearchCriteria) Judgment {
	j := Judgment{TLDTier: s.tlds.Tier(host)}
	j.DomainCredibilityScore = j.TLDTier.Score()

	lowerTitle := strings.ToLower(title)
	lowerSnippet := strings.ToLower(snippet)
	titleTokens := tokenize(title)
	snippetTokens := tokenize(snippet)

	titleHits := matchAny(lowerTitle, titleTokens, fundingKeywords)
	snippetHits := matchAny(lowerSnippet, snippetTokens, fundingKeywords)
	if len(titleHits) > 0 {
		j.FundingKeywordsScore += scoreTitleKeyword
		j.KeywordsFound = append(j.KeywordsFound, titleHits...)
	}
	if len(snippetHits) > 0 {
		j.FundingKeywordsScore += scoreDescKeyword
		j.KeywordsFound = appendNew(j.KeywordsFound, snippetHits)
	}

	combined := lowerTitle + " " + lowerSnippet
	combinedTokens := append(append([]string{}, titleTokens...), snippetTokens...)

	geoHits := matchAny(combined, combinedTokens, lowerAll(criteria.GeographicScopes))
	if len(geoHits) > 0 {
		j.GeographicRelevanceScore = scoreGeographic
		j.KeywordsFound = appendNew(j.KeywordsFound, geoHits)
	}

	orgHits := matchAny(combined, combinedTokens, orgTypeTerms)
	if len(orgHits) > 0 {
		j.OrganizationTypeScore = scoreOrgType
		j.KeywordsFound = appendNew(j.KeywordsFound, orgHits)
	}

	signals := 0
	if len(titleHits) > 0 {
		signals++
	}
	if len(snippetHits) > 0 {
		signals++
	}
	if len(geoHits) > 0 {
		signals++
	}
	if len(orgHits) > 0 {
		signals++
	}
	if signals >= compoundSignals {
		j.CompoundBonus = scoreCompound
	}

	j.Confidence = types.ClampConfidence(
		j.DomainCredibilityScore + j.FundingKeywordsScore +
			j.GeographicRelevanceScore + j.OrganizationTypeScore + j.CompoundBonus,
	)
	return j
}

// zeroed returns the judgment with every contribution cleared and the
// spam reason recorded. Used by the score-zero anti-spam policy.
func (j Judgment) zeroed(reason string) Judgment {
	return Judgment{
		TLDTier:    j.TLDTier,
		SpamReason: reason,
	}
}

// appendNew appends the terms not already present, preserving order.
func appendNew(existing []string, terms []string) []string {
	for _, term := range terms {
		seen := false
		for _, have := range existing {
			if have == term {
				seen = true
				break
			}
		}
		if !seen {
			existing = append(existing, term)
		}
	}
	return existing
}

func lowerAll(values []string) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = strings.ToLower(v)
	}
	return out
}
