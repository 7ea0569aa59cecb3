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

// TLDTier orders top-level domains by credibility. Tier 1 carries the
// strongest positive bias, tier 5 the spam penalty. Unclassified TLDs
// are informational (tier 4).
type TLDTier int

const (
	TierInstitutional TLDTier = 1 // gov, edu, ngo
	TierNonprofit     TLDTier = 2 // org
	TierCommercial    TLDTier = 3 // com, net
	TierInformational TLDTier = 4 // everything else
	TierSpam          TLDTier = 5 // disposable spam suffixes
)

// Score returns the fixed-point confidence contribution of the tier.
func (t TLDTier) Score() types.Score {
	switch t {
	case TierInstitutional:
		return 20
	case TierNonprofit:
		return 15
	case TierCommercial:
		return 8
	case TierSpam:
		return -20
	default:
		return 0
	}
}

// TLDTable classifies top-level domains into tiers. The table is fixed
// at construction; lookups are safe for concurrent use.
type TLDTable struct {
	tiers map[string]TLDTier
}

// NewTLDTable builds a table from explicit assignments. Keys are
// normalized to lowercase without the leading dot.
func NewTLDTable(assignments map[string]TLDTier) *TLDTable {
	tiers := make(map[string]TLDTier, len(assignments))
	for tld, tier := range assignments {
		tiers[strings.ToLower(strings.TrimPrefix(tld, "."))] = tier
	}
	return &TLDTable{tiers: tiers}
}

// DefaultTLDTable returns the curated classification used in
// production. Spam suffixes follow the usual abuse rankings: free or
// near-free registrations that dominate bulk-registered link farms.
func DefaultTLDTable() *TLDTable {
	return NewTLDTable(map[string]TLDTier{
		// Institutional.
		"gov": TierInstitutional,
		"edu": TierInstitutional,
		"ngo": TierInstitutional,
		"int": TierInstitutional,
		"mil": TierInstitutional,

		// Nonprofit.
		"org": TierNonprofit,

		// Commercial.
		"com": TierCommercial,
		"net": TierCommercial,

		// Informational (explicit; everything unknown lands here too).
		"info": TierInformational,
		"io":   TierInformational,
		"eu":   TierInformational,

		// Spam.
		"xyz":        TierSpam,
		"top":        TierSpam,
		"click":      TierSpam,
		"win":        TierSpam,
		"bid":        TierSpam,
		"loan":       TierSpam,
		"date":       TierSpam,
		"faith":      TierSpam,
		"racing":     TierSpam,
		"review":     TierSpam,
		"stream":     TierSpam,
		"download":   TierSpam,
		"accountant": TierSpam,
		"science":    TierSpam,
		"party":      TierSpam,
		"trade":      TierSpam,
		"webcam":     TierSpam,
		"cricket":    TierSpam,
		"gq":         TierSpam,
		"cf":         TierSpam,
		"tk":         TierSpam,
		"ml":         TierSpam,
		"ga":         TierSpam,
	})
}

// Tier classifies the host's top-level domain.
func (t *TLDTable) Tier(host string) TLDTier {
	tld := types.TLD(host)
	if tld == "" {
		return TierInformational
	}
	if tier, ok := t.tiers[tld]; ok {
		return tier
	}
	return TierInformational
}

// IsSpam reports whether the host carries a tier-5 suffix. Stage 2 of
// the pipeline rejects these before scoring.
func (t *TLDTable) IsSpam(host string) bool {
	return t.Tier(host) == TierSpam
}
