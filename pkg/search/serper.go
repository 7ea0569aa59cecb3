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
	serperName            = "serper"
	defaultSerperEndpoint = "https://google.serper.dev/search"
)

// SerperClient queries Google results through the Serper proxy API.
type SerperClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewSerperClient creates the raw Serper engine client.
func NewSerperClient(cfg EngineConfig) *SerperClient {
	cfg.applyDefaults()
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultSerperEndpoint
	}
	return &SerperClient{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *SerperClient) Name() string                     { return serperName }
func (c *SerperClient) ProviderType() ProviderType       { return ProviderKeyword }
func (c *SerperClient) SupportsKeywordQueries() bool     { return true }
func (c *SerperClient) SupportsAIOptimizedQueries() bool { return false }

type serperRequest struct {
	Query string `json:"q"`
	Num   int    `json:"num"`
}

type serperResponse struct {
	Organic []serperResult `json:"organic"`
}

type serperResult struct {
	Link     string `json:"link"`
	Title    string `json:"title"`
	Snippet  string `json:"snippet"`
	Position int    `json:"position"`
}

// Search runs one query and normalizes the organic list.
func (c *SerperClient) Search(ctx context.Context, query string, maxResults int, sessionID uuid.UUID) ([]types.SearchResult, error) {
	reqBody, err := json.Marshal(serperRequest{Query: query, Num: maxResults})
	if err != nil {
		return nil, NewError(serperName, KindUnknown, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(reqBody))
	if err != nil {
		return nil, NewError(serperName, KindUnknown, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-KEY", c.apiKey)

	body, err := doRequest(c.httpClient, req, serperName)
	if err != nil {
		return nil, err
	}

	var payload serperResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, NewError(serperName, KindParse, err)
	}

	return normalizeResults(clampResults(payload.Organic, maxResults), serperName, query, sessionID,
		func(r serperResult) (string, string, string) {
			return r.Link, r.Title, r.Snippet
		}), nil
}

// HealthCheck probes the API host without credentials.
func (c *SerperClient) HealthCheck(ctx context.Context) HealthStatus {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL, nil)
	if err != nil {
		return HealthStatus{Engine: serperName, LastError: err.Error(), CheckedAt: time.Now().UTC()}
	}
	return probe(c.httpClient, req, serperName)
}

var _ Adapter = (*SerperClient)(nil)
