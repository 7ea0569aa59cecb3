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
	"fmt"
	"math"
	"strings"
)

// Anti-spam detection thresholds.
const (
	// minUniqueWordRatio is the keyword-stuffing floor: legitimate
	// metadata repeats few words.
	minUniqueWordRatio = 0.5

	// minDomainSimilarity is the domain-metadata cosine floor below
	// which the mismatch check fires.
	minDomainSimilarity = 0.15

	// minFunctionWords is how many common English function words a
	// natural-language snippet is expected to carry.
	minFunctionWords = 2
)

// SpamCheck identifies which anti-spam sub-check fired.
type SpamCheck string

const (
	SpamKeywordStuffing SpamCheck = "keyword_stuffing"
	SpamDomainMismatch  SpamCheck = "domain_metadata_mismatch"
	SpamUnnaturalText   SpamCheck = "unnatural_keyword_list"
	SpamCrossCategory   SpamCheck = "cross_category"
)

// Detection reports one fired check with a human-readable reason.
type Detection struct {
	Check  SpamCheck
	Reason string
}

func (d Detection) String() string {
	return string(d.Check) + ": " + d.Reason
}

// DetectSpam runs the four anti-spam sub-checks against one result's
// metadata and returns the first detection, or nil when the result
// looks clean. The checks are heuristics over word bags; they never
// perform I/O.
func DetectSpam(title, snippet, host string) *Detection {
	combined := strings.TrimSpace(title + " " + snippet)
	tokens := tokenize(combined)
	if len(tokens) == 0 {
		return nil
	}

	if ratio := uniqueWordRatio(tokens); ratio < minUniqueWordRatio {
		return &Detection{
			Check:  SpamKeywordStuffing,
			Reason: fmt.Sprintf("unique-word ratio %.2f below %.2f", ratio, minUniqueWordRatio),
		}
	}

	if sim, ok := domainSimilarity(host, tokens); ok && sim < minDomainSimilarity {
		return &Detection{
			Check:  SpamDomainMismatch,
			Reason: fmt.Sprintf("domain similarity %.2f below %.2f", sim, minDomainSimilarity),
		}
	}

	if n := countFunctionWords(tokens); n < minFunctionWords {
		return &Detection{
			Check:  SpamUnnaturalText,
			Reason: fmt.Sprintf("%d function words, expected at least %d", n, minFunctionWords),
		}
	}

	if term := crossCategoryTerm(host, combined, tokens); term != "" {
		return &Detection{
			Check:  SpamCrossCategory,
			Reason: "scammer-industry domain advertising " + term,
		}
	}
	return nil
}

// uniqueWordRatio is distinct tokens over total tokens.
func uniqueWordRatio(tokens []string) float64 {
	unique := make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		unique[tok] = struct{}{}
	}
	return float64(len(unique)) / float64(len(tokens))
}

// domainSimilarity computes the cosine similarity between the domain
// name's word bag and the metadata word bag. ok is false when the
// domain yields no usable tokens, in which case the check is skipped.
func domainSimilarity(host string, metaTokens []string) (float64, bool) {
	domTokens := domainTokens(host)
	if len(domTokens) == 0 {
		return 0, false
	}

	domBag := wordBag(domTokens)
	metaBag := wordBag(metaTokens)

	var dot, domNorm, metaNorm float64
	for tok, n := range domBag {
		domNorm += float64(n * n)
		dot += float64(n * metaBag[tok])
	}
	for _, n := range metaBag {
		metaNorm += float64(n * n)
	}
	if domNorm == 0 || metaNorm == 0 {
		return 0, false
	}
	return dot / (math.Sqrt(domNorm) * math.Sqrt(metaNorm)), true
}

func wordBag(tokens []string) map[string]int {
	bag := make(map[string]int, len(tokens))
	for _, tok := range tokens {
		bag[tok]++
	}
	return bag
}

func countFunctionWords(tokens []string) int {
	n := 0
	for _, tok := range tokens {
		if _, ok := functionWords[tok]; ok {
			n++
		}
	}
	return n
}

// crossCategoryTerm returns the education term found in metadata when
// the domain name belongs to a scammer industry, or "" when the pair
// does not fire.
func crossCategoryTerm(host, combined string, tokens []string) string {
	domToks := domainTokens(host)
	industry := false
	for _, term := range scammerIndustryTerms {
		for _, tok := range domToks {
			if strings.HasPrefix(tok, term) {
				industry = true
				break
			}
		}
		if industry {
			break
		}
	}
	if !industry {
		return ""
	}

	lower := strings.ToLower(combined)
	for _, term := range educationTerms {
		if containsTerm(lower, tokens, term) {
			return term
		}
	}
	return ""
}
