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
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/teradata-labs/prospector/pkg/types"
)

const searxngName = "searxng"

// SearxngClient queries a self-hosted SearXNG instance. The aggregator
// fans out to upstream engines itself, so there is no API key; the rate
// limit only protects the local host.
type SearxngClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewSearxngClient creates the raw SearXNG engine client. BaseURL must
// point at the instance root.
func NewSearxngClient(cfg EngineConfig) *SearxngClient {
	cfg.applyDefaults()
	return &SearxngClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *SearxngClient) Name() string                     { return searxngName }
func (c *SearxngClient) ProviderType() ProviderType       { return ProviderMetaSearch }
func (c *SearxngClient) SupportsKeywordQueries() bool     { return true }
func (c *SearxngClient) SupportsAIOptimizedQueries() bool { return false }

type searxngResponse struct {
	Results []searxngResult `json:"results"`
}

type searxngResult struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Search runs one query against the aggregated index.
func (c *SearxngClient) Search(ctx context.Context, query string, maxResults int, sessionID uuid.UUID) ([]types.SearchResult, error) {
	endpoint := fmt.Sprintf("%s/search?q=%s&format=json", c.baseURL, url.QueryEscape(query))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, NewError(searxngName, KindUnknown, err)
	}
	req.Header.Set("Accept", "application/json")

	body, err := doRequest(c.httpClient, req, searxngName)
	if err != nil {
		return nil, err
	}

	var payload searxngResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, NewError(searxngName, KindParse, err)
	}

	return normalizeResults(clampResults(payload.Results, maxResults), searxngName, query, sessionID,
		func(r searxngResult) (string, string, string) {
			return r.URL, r.Title, r.Content
		}), nil
}

// HealthCheck probes the instance root.
func (c *SearxngClient) HealthCheck(ctx context.Context) HealthStatus {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return HealthStatus{Engine: searxngName, LastError: err.Error(), CheckedAt: time.Now().UTC()}
	}
	return probe(c.httpClient, req, searxngName)
}

var _ Adapter = (*SearxngClient)(nil)
