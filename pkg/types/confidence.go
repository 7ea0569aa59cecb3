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
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Confidence is a fixed-point score in [0.00, 1.00] held as integer
// hundredths. All scoring arithmetic stays in hundredths; conversion to
// a scale-2 decimal happens only at persistence and presentation
// boundaries, so results are reproducible across runs and platforms.
type Confidence int

// Score is a signed fixed-point contribution in hundredths. Individual
// scoring signals (TLD tier, keyword hits, bonuses) are Scores; their
// clamped sum is a Confidence.
type Score int

const (
	// ConfidenceMin is the lower clamp bound (0.00).
	ConfidenceMin Confidence = 0
	// ConfidenceMax is the upper clamp bound (1.00).
	ConfidenceMax Confidence = 100
)

// ConfidenceFromFloat converts a float in [0,1] to hundredths with
// half-up rounding, clamped to the valid range.
func ConfidenceFromFloat(f float64) Confidence {
	if math.IsNaN(f) {
		return ConfidenceMin
	}
	return ClampConfidence(Score(math.Floor(f*100 + 0.5)))
}

// ParseConfidence parses a scale-2 decimal string such as "0.90".
// More than two fractional digits is an error; fewer are padded.
func ParseConfidence(s string) (Confidence, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty confidence")
	}
	whole, frac, _ := strings.Cut(s, ".")
	if len(frac) > 2 {
		// Persisted values are DECIMAL(3,2); anything longer is a bug
		// upstream, but tolerate it with half-up rounding.
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid confidence %q: %w", s, err)
		}
		return ConfidenceFromFloat(f), nil
	}
	for len(frac) < 2 {
		frac += "0"
	}
	w, err := strconv.Atoi(whole)
	if err != nil {
		return 0, fmt.Errorf("invalid confidence %q: %w", s, err)
	}
	f, err := strconv.Atoi(frac)
	if err != nil {
		return 0, fmt.Errorf("invalid confidence %q: %w", s, err)
	}
	if w < 0 {
		return 0, fmt.Errorf("confidence %q below range", s)
	}
	v := Confidence(w*100 + f)
	if v > ConfidenceMax {
		return 0, fmt.Errorf("confidence %q above range", s)
	}
	return v, nil
}

// ParseScore parses a signed scale-2 decimal string such as "-0.20",
// rounding half-up to hundredths.
func ParseScore(s string) (Score, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty score")
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid score %q: %w", s, err)
	}
	if f < 0 {
		return Score(-int(math.Floor(-f*100 + 0.5))), nil
	}
	return Score(math.Floor(f*100 + 0.5)), nil
}

// ClampConfidence clamps a signed score sum into [0.00, 1.00].
func ClampConfidence(s Score) Confidence {
	if s < Score(ConfidenceMin) {
		return ConfidenceMin
	}
	if s > Score(ConfidenceMax) {
		return ConfidenceMax
	}
	return Confidence(s)
}

// Float64 returns the confidence as a float for presentation only.
func (c Confidence) Float64() float64 {
	return float64(c) / 100
}

// String formats the confidence as a scale-2 decimal, e.g. "0.90".
func (c Confidence) String() string {
	return fmt.Sprintf("%d.%02d", int(c)/100, int(c)%100)
}

// MarshalJSON emits the confidence as a scale-2 JSON number.
func (c Confidence) MarshalJSON() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalJSON accepts a JSON number (or quoted decimal) and rounds
// half-up to hundredths.
func (c *Confidence) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	v, err := ParseConfidence(s)
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// String formats the score as a signed scale-2 decimal, e.g. "-0.20".
func (s Score) String() string {
	sign := ""
	v := int(s)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// MarshalJSON emits the score as a signed scale-2 JSON number.
func (s Score) MarshalJSON() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalJSON accepts a signed JSON number (or quoted decimal).
func (s *Score) UnmarshalJSON(data []byte) error {
	v, err := ParseScore(strings.Trim(string(data), `"`))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
