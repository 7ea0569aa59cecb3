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

import "time"

// lowQualityCutoff is the number of cumulative low-quality outcomes
// (with no highs) after which a domain is parked as low quality.
const lowQualityCutoff = 3

// ShouldProcess reports whether the domain is worth processing at the
// given time. False for blacklisted and parked-low-quality domains,
// for no-funds domains whose year has not expired, and for failed
// domains still inside their retry window.
func (d *Domain) ShouldProcess(now time.Time) bool {
	switch d.Status {
	case DomainStatusBlacklisted:
		return false
	case DomainStatusProcessedLowQuality:
		return false
	case DomainStatusNoFundsThisYear:
		if d.NoFundsYear != nil && now.Year() <= *d.NoFundsYear {
			return false
		}
		return true
	case DomainStatusProcessingFailed:
		if d.RetryAfter != nil && now.Before(*d.RetryAfter) {
			return false
		}
		return true
	default:
		return true
	}
}

// ApplyQuality folds one processing outcome into the domain: raise
// best confidence, bump the matching quality counter, stamp
// last-processed, and apply the status rules. Any high-quality outcome
// promotes; three cumulative lows with zero highs park the domain;
// otherwise the status is left alone. Blacklisted domains are never
// touched.
func (d *Domain) ApplyQuality(confidence Confidence, highQuality bool, now time.Time) {
	if d.Status == DomainStatusBlacklisted {
		return
	}
	if confidence > d.BestConfidence {
		d.BestConfidence = confidence
	}
	if highQuality {
		d.HighQualityCount++
	} else {
		d.LowQualityCount++
	}
	d.LastProcessedAt = &now

	switch {
	case d.HighQualityCount > 0:
		d.Status = DomainStatusProcessedHighQuality
	case d.LowQualityCount >= lowQualityCutoff:
		d.Status = DomainStatusProcessedLowQuality
	}
}

// FailureBackoff returns the retry delay after the Nth consecutive
// processing failure: 1h, 4h, 1d, then 7d for every failure after.
func FailureBackoff(failureCount int) time.Duration {
	switch {
	case failureCount <= 1:
		return time.Hour
	case failureCount == 2:
		return 4 * time.Hour
	case failureCount == 3:
		return 24 * time.Hour
	default:
		return 7 * 24 * time.Hour
	}
}
