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
package generator

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/teradata-labs/prospector/pkg/types"
)

// fingerprint derives the deterministic cache key for a generation
// request. Criteria sets are sorted so logically equal requests share a
// key regardless of slice order.
func fingerprint(style Style, criteria types.SearchCriteria) string {
	canon := strings.Join([]string{
		string(style),
		joinSorted(criteria.FundingSourceTypes),
		joinSorted(criteria.GeographicScopes),
		joinSorted(criteria.RecipientTypes),
		criteria.ProjectScale,
		criteria.CanonicalLanguage(),
		fmt.Sprintf("%d", criteria.QueryCount),
	}, "\n")

	sum := sha256.Sum256([]byte(canon))
	return hex.EncodeToString(sum[:])
}

func joinSorted(values []string) string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = strings.ToLower(strings.TrimSpace(v))
	}
	sort.Strings(out)
	return strings.Join(out, ",")
}

// CacheStats is a point-in-time snapshot of cache effectiveness.
type CacheStats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	Entries int     `json:"entries"`
	HitRate float64 `json:"hitRate"`
}

type cacheEntry struct {
	result   outcome
	lastUsed int64
}

// queryCache is an in-process cache of generation outcomes. Eviction is
// approximate LRU: when full, the entry with the oldest use tick goes.
type queryCache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	cap     int
	clock   int64
	hits    int64
	misses  int64
}

func newQueryCache(capacity int) *queryCache {
	if capacity <= 0 {
		capacity = 256
	}
	return &queryCache{
		entries: make(map[string]*cacheEntry, capacity),
		cap:     capacity,
	}
}

func (c *queryCache) get(key string) (outcome, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		c.misses++
		return outcome{}, false
	}
	c.clock++
	entry.lastUsed = c.clock
	c.hits++
	return entry.result, true
}

func (c *queryCache) put(key string, result outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.clock++
	if entry, ok := c.entries[key]; ok {
		entry.result = result
		entry.lastUsed = c.clock
		return
	}
	if len(c.entries) >= c.cap {
		c.evictOldestLocked()
	}
	c.entries[key] = &cacheEntry{result: result, lastUsed: c.clock}
}

func (c *queryCache) evictOldestLocked() {
	var oldestKey string
	oldest := int64(1<<63 - 1)
	for key, entry := range c.entries {
		if entry.lastUsed < oldest {
			oldest = entry.lastUsed
			oldestKey = key
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

func (c *queryCache) stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := CacheStats{Hits: c.hits, Misses: c.misses, Entries: len(c.entries)}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}
