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

package scheduler

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/teradata-labs/prospector/pkg/types"
)

// libraryFile is the YAML shape of the query library:
//
//	queries:
//	  - name: bg-ngo-grants
//	    text: grants for Bulgarian nonprofits
//	    day: monday
//	    engines: [brave, serper]
//	    tags: [ngo]
//	    enabled: true
type libraryFile struct {
	Queries []libraryEntry `yaml:"queries"`
}

// libraryEntry is one named query. Enabled defaults to true when the
// file omits it.
type libraryEntry struct {
	Name    string   `yaml:"name"`
	Text    string   `yaml:"text"`
	Day     string   `yaml:"day"`
	Engines []string `yaml:"engines"`
	Tags    []string `yaml:"tags"`
	Enabled *bool    `yaml:"enabled"`
}

// LoadLibrary parses a query library YAML file. Unknown fields and
// duplicate names are rejected so a typo fails the load instead of
// silently dropping a query.
func LoadLibrary(path string) ([]types.LibraryQuery, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var file libraryFile
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse query library %s: %w", path, err)
	}

	queries := make([]types.LibraryQuery, 0, len(file.Queries))
	seen := make(map[string]bool, len(file.Queries))
	for i, entry := range file.Queries {
		q, err := entry.toQuery()
		if err != nil {
			return nil, fmt.Errorf("query library %s entry %d: %w", path, i+1, err)
		}
		if seen[q.Name] {
			return nil, fmt.Errorf("query library %s: duplicate query name %q", path, q.Name)
		}
		seen[q.Name] = true
		queries = append(queries, q)
	}
	return queries, nil
}

func (e libraryEntry) toQuery() (types.LibraryQuery, error) {
	name := strings.TrimSpace(e.Name)
	if name == "" {
		return types.LibraryQuery{}, fmt.Errorf("name is required")
	}
	text := strings.TrimSpace(e.Text)
	if text == "" {
		return types.LibraryQuery{}, fmt.Errorf("query %q: text is required", name)
	}
	day, err := parseWeekday(e.Day)
	if err != nil {
		return types.LibraryQuery{}, fmt.Errorf("query %q: %w", name, err)
	}
	enabled := true
	if e.Enabled != nil {
		enabled = *e.Enabled
	}
	return types.LibraryQuery{
		Name:      name,
		Text:      text,
		DayOfWeek: day,
		Engines:   e.Engines,
		Tags:      e.Tags,
		Enabled:   enabled,
	}, nil
}

// weekdays maps accepted day spellings, full names and three-letter
// abbreviations, case-insensitive.
var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"sun":       time.Sunday,
	"monday":    time.Monday,
	"mon":       time.Monday,
	"tuesday":   time.Tuesday,
	"tue":       time.Tuesday,
	"wednesday": time.Wednesday,
	"wed":       time.Wednesday,
	"thursday":  time.Thursday,
	"thu":       time.Thursday,
	"friday":    time.Friday,
	"fri":       time.Friday,
	"saturday":  time.Saturday,
	"sat":       time.Saturday,
}

func parseWeekday(s string) (time.Weekday, error) {
	day, ok := weekdays[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return 0, fmt.Errorf("invalid day %q", s)
	}
	return day, nil
}
