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
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/teradata-labs/prospector/pkg/types"
)

const (
	braveName            = "brave"
	defaultBraveEndpoint = "https://api.search.brave.com/res/v1/web/search"
)

// BraveClient queries the Brave Web Search API. Authentication is a
// subscription token header; quota is a daily allowance.
type BraveClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewBraveClient creates the raw Brave engine client.
func NewBraveClient(cfg EngineConfig) *BraveClient {
	cfg.applyDefaults()
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBraveEndpoint
	}
	return &BraveClient{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *BraveClient) Name() string                     { return braveName }
func (c *BraveClient) ProviderType() ProviderType       { return ProviderKeyword }
func (c *BraveClient) SupportsKeywordQueries() bool     { return true }
func (c *BraveClient) SupportsAIOptimizedQueries() bool { return false }

type braveResponse struct {
	Web struct {
		Results []braveResult `json:"results"`
	} `json:"web"`
}

type braveResult struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Search runs one query against the organic web index.
func (c *BraveClient) Search(ctx context.Context, query string, maxResults int, sessionID uuid.UUID) ([]types.SearchResult, error) {
	endpoint := fmt.Sprintf("%s?q=%s&count=%d",
		c.baseURL, url.QueryEscape(query), maxResults)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, NewError(braveName, KindUnknown, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", c.apiKey)

	body, err := doRequest(c.httpClient, req, braveName)
	if err != nil {
		return nil, err
	}

	var payload braveResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, NewError(braveName, KindParse, err)
	}

	return normalizeResults(clampResults(payload.Web.Results, maxResults), braveName, query, sessionID,
		func(r braveResult) (string, string, string) {
			return r.URL, r.Title, r.Description
		}), nil
}

// HealthCheck probes the API host without credentials.
func (c *BraveClient) HealthCheck(ctx context.Context) HealthStatus {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?q=ping&count=1", nil)
	if err != nil {
		return HealthStatus{Engine: braveName, LastError: err.Error(), CheckedAt: time.Now().UTC()}
	}
	return probe(c.httpClient, req, braveName)
}

// normalizeResults converts an engine payload into the uniform result
// shape, preserving 1-based rank and deriving the host best-effort.
// Results whose URL fails extraction keep an empty host; the pipeline
// counts them.
func normalizeResults[T any](items []T, engine, query string, sessionID uuid.UUID, fields func(T) (rawURL, title, snippet string)) []types.SearchResult {
	now := time.Now().UTC()
	results := make([]types.SearchResult, 0, len(items))
	for i, item := range items {
		rawURL, title, snippet := fields(item)
		host, err := types.ExtractDomain(rawURL)
		if err != nil {
			host = ""
		}
		results = append(results, types.SearchResult{
			URL:          rawURL,
			Host:         host,
			Title:        title,
			Snippet:      snippet,
			Rank:         i + 1,
			Engine:       engine,
			Query:        query,
			SessionID:    sessionID,
			DiscoveredAt: now,
		})
	}
	return results
}

var _ Adapter = (*BraveClient)(nil)
