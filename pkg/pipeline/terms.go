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
	"unicode"
)

// fundingKeywords is the curated multilingual set of funding terms.
// Matching is prefix-based per token, so "grant" also hits "grants" and
// "stipendium" hits "stipendien".
var fundingKeywords = []string{
	// English.
	"grant", "scholarship", "fellowship", "funding", "award", "subsidy",
	"subsidies", "loan", "bursary", "stipend", "endowment", "donation",
	"sponsorship", "financial aid", "financial support",
	// German.
	"förderung", "stipendium", "zuschuss", "finanzierung",
	// French.
	"subvention", "bourse", "financement",
	// Spanish.
	"beca", "subvención", "financiación", "ayuda",
	// Bulgarian.
	"финансиране", "стипендия", "грант", "безвъзмездна",
}

// orgTypeTerms marks funder-shaped organizations in metadata.
var orgTypeTerms = []string{
	"ministry", "foundation", "commission", "council", "agency",
	"department", "fund", "trust", "authority", "institute",
	"federation", "association", "charity", "municipality",
	// German, French, Spanish, Bulgarian.
	"stiftung", "ministerium", "fondation", "fundación",
	"фондация", "министерство", "комисия",
}

// functionWords is the small set of common English function words used
// by the unnatural-keyword-list check. Real sentences contain several;
// stuffed keyword strings contain almost none.
var functionWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "of": {},
	"to": {}, "in": {}, "on": {}, "for": {}, "with": {}, "by": {},
	"from": {}, "at": {}, "is": {}, "are": {}, "this": {}, "that": {},
	"your": {}, "our": {}, "you": {}, "we": {},
}

// scammerIndustryTerms flag domains whose name belongs to industries
// that routinely masquerade as education funding.
var scammerIndustryTerms = []string{
	"casino", "poker", "bet", "betting", "gambling", "slots", "jackpot",
	"essay", "essays", "homework", "coursework", "dissertation",
	"papers", "writemy",
}

// educationTerms are the metadata terms the cross-category check pairs
// against a scammer-industry domain.
var educationTerms = []string{
	"scholarship", "student", "university", "education", "tuition",
	"study", "college", "academic",
}

// tokenize lowercases text and splits it into letter/digit runs, so
// punctuation and hyphens never glue words together. Works for Latin
// and Cyrillic alike.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// containsTerm reports whether the term occurs in the text. Single-word
// terms match as a token prefix ("grant" hits "grants" but not
// "immigrant"); multi-word terms match as a substring of the lowercased
// text.
func containsTerm(lowerText string, tokens []string, term string) bool {
	if strings.ContainsRune(term, ' ') {
		return strings.Contains(lowerText, term)
	}
	for _, tok := range tokens {
		if strings.HasPrefix(tok, term) {
			return true
		}
	}
	return false
}

// matchAny returns the terms present in the text, in term-list order.
func matchAny(lowerText string, tokens []string, terms []string) []string {
	var found []string
	for _, term := range terms {
		if containsTerm(lowerText, tokens, term) {
			found = append(found, term)
		}
	}
	return found
}

// domainTokens splits a host's registrable labels into words for the
// anti-spam checks. The TLD is excluded: "essay-mill.xyz" yields
// ["essay", "mill"].
func domainTokens(host string) []string {
	labels := strings.Split(strings.ToLower(host), ".")
	if len(labels) > 1 {
		labels = labels[:len(labels)-1]
	}
	var out []string
	for _, label := range labels {
		out = append(out, tokenize(label)...)
	}
	return out
}
