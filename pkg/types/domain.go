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
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrInvalidURL marks a result URL that cannot yield a host. Callers
// count these rather than failing the batch.
var ErrInvalidURL = errors.New("invalid url")

// ExtractDomain returns the canonical registry key for a result URL:
// the hostname lowercased with a single leading "www." stripped.
// Scheme, port, path, and query are discarded.
func ExtractDomain(rawURL string) (string, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidURL)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidURL, err)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		// Tolerate scheme-less input like "example.org/grants".
		u, err = url.Parse("https://" + rawURL)
		if err != nil {
			return "", fmt.Errorf("%w: %s", ErrInvalidURL, err)
		}
		host = strings.ToLower(u.Hostname())
	}
	if host == "" {
		return "", fmt.Errorf("%w: no host in %q", ErrInvalidURL, rawURL)
	}
	host = strings.TrimPrefix(host, "www.")
	if host == "" || !strings.Contains(host, ".") {
		return "", fmt.Errorf("%w: no registrable domain in %q", ErrInvalidURL, rawURL)
	}
	return host, nil
}

// TLD returns the final dot-separated label of a host, without the dot.
// Scoring uses this to assign the domain credibility tier.
func TLD(host string) string {
	idx := strings.LastIndex(host, ".")
	if idx < 0 || idx == len(host)-1 {
		return ""
	}
	return host[idx+1:]
}
