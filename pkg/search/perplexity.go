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
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/teradata-labs/prospector/pkg/types"
)

const (
	perplexityName            = "perplexity"
	defaultPerplexityEndpoint = "https://api.perplexity.ai/chat/completions"
	defaultPerplexityModel    = "sonar"

	// answerSnippetLimit caps how much of the synthesized answer is
	// attached to each citation as its snippet.
	answerSnippetLimit = 280
)

// PerplexityClient asks an answer engine long-form questions and treats
// the citation list as the result set. Citations carry no per-URL
// metadata, so every result shares an excerpt of the synthesized answer
// as its snippet and has no title.
type PerplexityClient struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewPerplexityClient creates the raw Perplexity engine client.
func NewPerplexityClient(cfg EngineConfig) *PerplexityClient {
	cfg.applyDefaults()
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultPerplexityEndpoint
	}
	return &PerplexityClient{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		model:      defaultPerplexityModel,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *PerplexityClient) Name() string                     { return perplexityName }
func (c *PerplexityClient) ProviderType() ProviderType       { return ProviderAIAnswer }
func (c *PerplexityClient) SupportsKeywordQueries() bool     { return false }
func (c *PerplexityClient) SupportsAIOptimizedQueries() bool { return true }

type perplexityRequest struct {
	Model    string              `json:"model"`
	Messages []perplexityMessage `json:"messages"`
}

type perplexityMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type perplexityResponse struct {
	Citations []string `json:"citations"`
	Choices   []struct {
		Message perplexityMessage `json:"message"`
	} `json:"choices"`
}

// Search sends the question and normalizes the citations.
func (c *PerplexityClient) Search(ctx context.Context, query string, maxResults int, sessionID uuid.UUID) ([]types.SearchResult, error) {
	reqBody, err := json.Marshal(perplexityRequest{
		Model: c.model,
		Messages: []perplexityMessage{
			{Role: "user", Content: query},
		},
	})
	if err != nil {
		return nil, NewError(perplexityName, KindUnknown, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(reqBody))
	if err != nil {
		return nil, NewError(perplexityName, KindUnknown, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	body, err := doRequest(c.httpClient, req, perplexityName)
	if err != nil {
		return nil, err
	}

	var payload perplexityResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, NewError(perplexityName, KindParse, err)
	}

	var answer string
	if len(payload.Choices) > 0 {
		answer = payload.Choices[0].Message.Content
	}
	snippet := answer
	if len(snippet) > answerSnippetLimit {
		snippet = snippet[:answerSnippetLimit]
	}

	return normalizeResults(clampResults(payload.Citations, maxResults), perplexityName, query, sessionID,
		func(citation string) (string, string, string) {
			return citation, "", snippet
		}), nil
}

// HealthCheck probes the API host without credentials.
func (c *PerplexityClient) HealthCheck(ctx context.Context) HealthStatus {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL, nil)
	if err != nil {
		return HealthStatus{Engine: perplexityName, LastError: err.Error(), CheckedAt: time.Now().UTC()}
	}
	return probe(c.httpClient, req, perplexityName)
}

var _ Adapter = (*PerplexityClient)(nil)
