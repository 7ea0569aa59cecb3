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

// Package llm provides hand-rolled completion clients for the query
// generator. Two wire dialects are supported: OpenAI-style chat
// completions (which also covers self-hosted servers speaking that
// protocol) and the Anthropic Messages API.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Provider is a completion backend. Implementations are safe for
// concurrent use.
type Provider interface {
	// Name returns the provider name ("openai", "anthropic").
	Name() string

	// Model returns the configured model identifier.
	Model() string

	// Complete sends one prompt and returns the text completion.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// CompletionRequest is a single-turn completion call.
type CompletionRequest struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// CompletionResponse carries the completion text plus usage as reported
// by the API.
type CompletionResponse struct {
	Text             string
	Model            string
	StopReason       string
	PromptTokens     int
	CompletionTokens int
}

// ErrEmptyCompletion is returned when the API answered successfully but
// produced no usable text.
var ErrEmptyCompletion = errors.New("llm: empty completion")

// Config selects and configures a provider.
type Config struct {
	Provider    string        `mapstructure:"provider"`
	Model       string        `mapstructure:"model"`
	Endpoint    string        `mapstructure:"endpoint"`
	APIKey      string        `mapstructure:"api_key"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature float64       `mapstructure:"temperature"`
}

func (c *Config) applyDefaults() {
	if c.Provider == "" {
		c.Provider = ProviderOpenAI
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 1024
	}
}

// Provider names accepted by New.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// New builds the provider named in the config.
func New(cfg Config) (Provider, error) {
	cfg.applyDefaults()
	switch cfg.Provider {
	case ProviderOpenAI:
		return NewOpenAIClient(cfg), nil
	case ProviderAnthropic:
		return NewAnthropicClient(cfg), nil
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.Provider)
	}
}
