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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractDomain(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		want    string
		wantErr bool
	}{
		{name: "plain https", url: "https://example.ngo/grants", want: "example.ngo"},
		{name: "strips www", url: "https://www.example.org/apply", want: "example.org"},
		{name: "lowercases host", url: "https://Grants.Example.COM", want: "grants.example.com"},
		{name: "keeps inner www label", url: "https://www.www2.example.org", want: "www2.example.org"},
		{name: "ignores port", url: "https://example.org:8443/x", want: "example.org"},
		{name: "ignores query and fragment", url: "http://example.org/p?a=1#frag", want: "example.org"},
		{name: "scheme-less input", url: "example.org/grants", want: "example.org"},
		{name: "subdomain preserved", url: "https://ec.europa.eu/info/funding", want: "ec.europa.eu"},
		{name: "empty", url: "", wantErr: true},
		{name: "whitespace only", url: "   ", wantErr: true},
		{name: "no host", url: "https:///path-only", wantErr: true},
		{name: "bare word", url: "localhost", wantErr: true},
		{name: "control characters", url: "https://exa\x7fmple.org", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractDomain(tt.url)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidURL)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTLD(t *testing.T) {
	assert.Equal(t, "ngo", TLD("example.ngo"))
	assert.Equal(t, "eu", TLD("ec.europa.eu"))
	assert.Equal(t, "", TLD("localhost"))
	assert.Equal(t, "", TLD("trailing."))
}

func TestSessionStatusTerminal(t *testing.T) {
	assert.False(t, SessionStatusRunning.Terminal())
	assert.True(t, SessionStatusCompleted.Terminal())
	assert.True(t, SessionStatusFailed.Terminal())
	assert.True(t, SessionStatusCancelled.Terminal())
}

func TestEnumValidity(t *testing.T) {
	assert.True(t, SessionTypeManual.Valid())
	assert.True(t, SessionTypeScheduled.Valid())
	assert.True(t, SessionTypeRetry.Valid())
	assert.False(t, SessionType("ADHOC").Valid())

	assert.True(t, DomainStatusDiscovered.Valid())
	assert.True(t, DomainStatusBlacklisted.Valid())
	assert.False(t, DomainStatus("PENDING").Valid())

	assert.True(t, CandidateStatusPendingCrawl.Valid())
	assert.True(t, CandidateStatusApproved.Valid())
	assert.False(t, CandidateStatus("NEW").Valid())
}

func TestCanonicalLanguage(t *testing.T) {
	assert.Equal(t, "en", SearchCriteria{}.CanonicalLanguage())
	assert.Equal(t, "en-US", SearchCriteria{Language: "en-us"}.CanonicalLanguage())
	assert.Equal(t, "bg", SearchCriteria{Language: "bg"}.CanonicalLanguage())
	assert.Equal(t, "en", SearchCriteria{Language: "??"}.CanonicalLanguage())
}

func TestCriteriaKeywords(t *testing.T) {
	c := SearchCriteria{
		FundingSourceTypes: []string{FundingTypeGrant},
		GeographicScopes:   []string{"Bulgaria"},
		RecipientTypes:     []string{RecipientNonprofit},
	}
	assert.ElementsMatch(t, []string{"grant", "bulgaria", "nonprofit"}, c.Keywords())
}
