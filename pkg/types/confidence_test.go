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
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfidenceFromFloat(t *testing.T) {
	tests := []struct {
		name string
		in   float64
		want Confidence
	}{
		{name: "zero", in: 0, want: 0},
		{name: "exact hundredth", in: 0.90, want: 90},
		{name: "rounds half up", in: 0.905, want: 91},
		{name: "rounds down below half", in: 0.904, want: 90},
		{name: "one", in: 1.0, want: 100},
		{name: "clamps above one", in: 1.7, want: 100},
		{name: "clamps negative", in: -0.3, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ConfidenceFromFloat(tt.in))
		})
	}
}

func TestParseConfidence(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    Confidence
		wantErr bool
	}{
		{name: "two decimals", in: "0.90", want: 90},
		{name: "one decimal pads", in: "0.9", want: 90},
		{name: "integer", in: "1", want: 100},
		{name: "zero", in: "0.00", want: 0},
		{name: "five hundredths", in: "0.05", want: 5},
		{name: "whitespace tolerated", in: " 0.60 ", want: 60},
		{name: "long fraction rounds", in: "0.605001", want: 61},
		{name: "above range", in: "1.01", wantErr: true},
		{name: "negative", in: "-0.10", wantErr: true},
		{name: "empty", in: "", wantErr: true},
		{name: "garbage", in: "high", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseConfidence(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConfidenceString(t *testing.T) {
	assert.Equal(t, "0.90", Confidence(90).String())
	assert.Equal(t, "0.05", Confidence(5).String())
	assert.Equal(t, "1.00", Confidence(100).String())
	assert.Equal(t, "0.00", Confidence(0).String())
}

func TestScoreString(t *testing.T) {
	assert.Equal(t, "0.20", Score(20).String())
	assert.Equal(t, "-0.20", Score(-20).String())
	assert.Equal(t, "0.00", Score(0).String())
	assert.Equal(t, "-0.05", Score(-5).String())
}

func TestClampConfidence(t *testing.T) {
	assert.Equal(t, Confidence(100), ClampConfidence(Score(135)))
	assert.Equal(t, Confidence(0), ClampConfidence(Score(-20)))
	assert.Equal(t, Confidence(60), ClampConfidence(Score(60)))
}

func TestConfidenceJSON(t *testing.T) {
	type wrapper struct {
		Confidence Confidence `json:"confidence"`
		Bonus      Score      `json:"bonus"`
	}

	data, err := json.Marshal(wrapper{Confidence: 90, Bonus: -20})
	require.NoError(t, err)
	assert.JSONEq(t, `{"confidence":0.90,"bonus":-0.20}`, string(data))

	var w wrapper
	require.NoError(t, json.Unmarshal([]byte(`{"confidence":0.65,"bonus":0.15}`), &w))
	assert.Equal(t, Confidence(65), w.Confidence)
	assert.Equal(t, Score(15), w.Bonus)

	// Quoted decimals appear in replayed events; accept them too.
	require.NoError(t, json.Unmarshal([]byte(`{"confidence":"0.60","bonus":"-0.20"}`), &w))
	assert.Equal(t, Confidence(60), w.Confidence)
	assert.Equal(t, Score(-20), w.Bonus)
}
