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
package types

import (
	"strings"

	"golang.org/x/text/language"
)

// Funding source categories accepted in search criteria.
const (
	FundingTypeGrant       = "GRANT"
	FundingTypeScholarship = "SCHOLARSHIP"
	FundingTypeDonation    = "DONATION"
	FundingTypeSponsorship = "SPONSORSHIP"
	FundingTypeLoan        = "LOAN"
	FundingTypeAward       = "AWARD"
)

// Recipient organization types accepted in search criteria.
const (
	RecipientNonprofit  = "NONPROFIT"
	RecipientSchool     = "SCHOOL"
	RecipientUniversity = "UNIVERSITY"
	RecipientMunicipal  = "MUNICIPALITY"
	RecipientIndividual = "INDIVIDUAL"
	RecipientStartup    = "STARTUP"
)

// Project scales accepted in search criteria.
const (
	ScaleSmall  = "SMALL"
	ScaleMedium = "MEDIUM"
	ScaleLarge  = "LARGE"
)

// SearchCriteria is the caller-facing description of what to search
// for. It rides on the session row and on every generated query event,
// so downstream scoring can match results against it without another
// lookup.
type SearchCriteria struct {
	FundingSourceTypes []string `json:"fundingSourceTypes" validate:"required,min=1,dive,oneof=GRANT SCHOLARSHIP DONATION SPONSORSHIP LOAN AWARD"`
	GeographicScopes   []string `json:"geographicScopes" validate:"required,min=1,dive,min=2"`
	RecipientTypes     []string `json:"recipientTypes" validate:"required,min=1,dive,oneof=NONPROFIT SCHOOL UNIVERSITY MUNICIPALITY INDIVIDUAL STARTUP"`
	ProjectScale       string   `json:"projectScale,omitempty" validate:"omitempty,oneof=SMALL MEDIUM LARGE"`
	Language           string   `json:"language,omitempty" validate:"omitempty,bcp47_language_tag"`
	MaxResultsPerQuery int      `json:"maxResultsPerQuery" validate:"required,min=10,max=100"`
	QueryCount         int      `json:"queryCount" validate:"required,min=1,max=50"`
}

// CanonicalLanguage normalizes the criteria language to a canonical
// BCP 47 tag ("en-us" becomes "en-US"). Empty or unparseable input
// falls back to English, matching the query generator's default.
func (c SearchCriteria) CanonicalLanguage() string {
	if strings.TrimSpace(c.Language) == "" {
		return "en"
	}
	tag, err := language.Parse(c.Language)
	if err != nil {
		return "en"
	}
	return tag.String()
}

// Keywords flattens the criteria into lowercase match terms used by
// the relevance judges. Categories and recipient types contribute
// their human-readable forms; geographic scopes pass through as-is.
func (c SearchCriteria) Keywords() []string {
	out := make([]string, 0, len(c.FundingSourceTypes)+len(c.RecipientTypes)+len(c.GeographicScopes))
	for _, t := range c.FundingSourceTypes {
		out = append(out, strings.ToLower(t))
	}
	for _, t := range c.RecipientTypes {
		out = append(out, strings.ToLower(t))
	}
	for _, g := range c.GeographicScopes {
		out = append(out, strings.ToLower(g))
	}
	return out
}
