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
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// maxErrorBody caps how much of an engine error response is carried in
// the error chain.
const maxErrorBody = 512

// doRequest executes one engine HTTP call and returns the response body.
// Transport failures and non-2xx statuses come back as *Error with the
// kind already classified; 429 responses carry the Retry-After hint.
func doRequest(client *http.Client, req *http.Request, engine string) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, NewError(engine, classifyTransport(err), err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewError(engine, classifyTransport(err), err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		kind := classifyStatus(resp.StatusCode)
		searchErr := NewError(engine, kind,
			fmt.Errorf("status %d: %s", resp.StatusCode, truncate(body, maxErrorBody)))
		if kind == KindRateLimited {
			searchErr.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
		}
		return nil, searchErr
	}

	return body, nil
}

// parseRetryAfter handles both delta-seconds and HTTP-date forms.
// Returns zero for absent or unparseable values.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if wait := time.Until(at); wait > 0 {
			return wait
		}
	}
	return 0
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// clampResults trims an engine payload to the requested result count.
func clampResults[T any](items []T, maxResults int) []T {
	if maxResults > 0 && len(items) > maxResults {
		return items[:maxResults]
	}
	return items
}

// probe reports basic reachability of an engine endpoint. Any HTTP
// response counts as up, auth rejections included; only transport
// failures mean down. Probes carry no credentials so they never spend
// quota.
func probe(client *http.Client, req *http.Request, engine string) HealthStatus {
	status := HealthStatus{Engine: engine, CheckedAt: time.Now().UTC()}

	resp, err := client.Do(req)
	if err != nil {
		status.LastError = err.Error()
		return status
	}
	_ = resp.Body.Close()
	status.Up = true
	return status
}
