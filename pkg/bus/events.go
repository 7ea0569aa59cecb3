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
package bus

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"

	"github.com/teradata-labs/prospector/pkg/types"
)

// EventType discriminates payloads on the wire.
type EventType string

const (
	EventSearchRequest   EventType = "SearchRequestEvent"
	EventSearchResult    EventType = "SearchResultEvent"
	EventValidatedResult EventType = "ValidatedResultEvent"
	EventWorkflowError   EventType = "WorkflowErrorEvent"
)

// Pipeline stage labels carried by dead-letter events.
const (
	StageQueryGeneration  = "QUERY_GENERATION"
	StageSearchExecution  = "SEARCH_EXECUTION"
	StageResultValidation = "RESULT_VALIDATION"
	StageResultProcessing = "RESULT_PROCESSING"
	StageReplay           = "DEAD_LETTER_REPLAY"
)

// SearchRequestEvent is one fan-out task: run one query against one
// engine. The criteria ride along so downstream scoring never needs a
// session lookup per event.
type SearchRequestEvent struct {
	RequestID  uuid.UUID            `json:"requestId"`
	SessionID  uuid.UUID            `json:"sessionId"`
	Engine     string               `json:"engine"`
	Query      string               `json:"query"`
	MaxResults int                  `json:"maxResults"`
	Criteria   types.SearchCriteria `json:"criteria"`
	Timestamp  time.Time            `json:"timestamp"`
}

// SearchResultEvent is one raw adapter hit.
type SearchResultEvent struct {
	SessionID   uuid.UUID `json:"sessionId"`
	URL         string    `json:"url"`
	Host        string    `json:"host,omitempty"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Engine      string    `json:"engine"`
	Query       string    `json:"query,omitempty"`
	Rank        int       `json:"rank"`
	Timestamp   time.Time `json:"timestamp"`
}

// Result converts the event back to the pipeline's result type.
func (e SearchResultEvent) Result() types.SearchResult {
	return types.SearchResult{
		URL:          e.URL,
		Host:         e.Host,
		Title:        e.Title,
		Snippet:      e.Description,
		Rank:         e.Rank,
		Engine:       e.Engine,
		Query:        e.Query,
		SessionID:    e.SessionID,
		DiscoveredAt: e.Timestamp,
	}
}

// ValidatedResultEvent is a raw hit that survived domain extraction and
// the blacklist check. Host is always the normalized registry key.
// DomainID is a hint set when validation already loaded the domain row;
// scoring resolves the domain by host either way.
type ValidatedResultEvent struct {
	SearchResultEvent
	DomainID *uuid.UUID `json:"domainId,omitempty"`
}

// WorkflowErrorEvent is one dead-letter record. OriginalTopic and
// OriginalType make the embedded payload replayable; payloads above the
// compression threshold are zstd-compressed and base64-encoded, with
// PayloadEncoding naming the encoding.
type WorkflowErrorEvent struct {
	ErrorID   uuid.UUID  `json:"errorId"`
	SessionID uuid.UUID  `json:"sessionId"`
	RequestID *uuid.UUID `json:"requestId,omitempty"`

	Stage      string `json:"stage"`
	ErrorType  string `json:"errorType"`
	Message    string `json:"message"`
	StackTrace string `json:"stackTrace,omitempty"`
	RetryCount int    `json:"retryCount"`

	OriginalTopic   Topic     `json:"originalTopic"`
	OriginalType    EventType `json:"originalType"`
	OriginalPayload string    `json:"originalPayload"`
	PayloadEncoding string    `json:"payloadEncoding,omitempty"`

	Context   map[string]string `json:"context,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// JSON schemas enforced at publish and on consume. Unknown fields pass
// through; missing required fields are a PARSE error.
const (
	searchRequestSchema = `{
		"$schema": "http://json-schema.org/draft-07/schema#",
		"type": "object",
		"required": ["requestId", "sessionId", "engine", "query", "maxResults", "timestamp"],
		"properties": {
			"requestId": {"type": "string", "minLength": 1},
			"sessionId": {"type": "string", "minLength": 1},
			"engine": {"type": "string", "minLength": 1},
			"query": {"type": "string", "minLength": 1},
			"maxResults": {"type": "integer", "minimum": 1},
			"timestamp": {"type": "string"}
		}
	}`

	searchResultSchema = `{
		"$schema": "http://json-schema.org/draft-07/schema#",
		"type": "object",
		"required": ["sessionId", "url", "title", "engine", "rank", "timestamp"],
		"properties": {
			"sessionId": {"type": "string", "minLength": 1},
			"url": {"type": "string", "minLength": 1},
			"title": {"type": "string"},
			"engine": {"type": "string", "minLength": 1},
			"rank": {"type": "integer", "minimum": 1},
			"timestamp": {"type": "string"}
		}
	}`

	validatedResultSchema = `{
		"$schema": "http://json-schema.org/draft-07/schema#",
		"type": "object",
		"required": ["sessionId", "url", "host", "title", "engine", "rank", "timestamp"],
		"properties": {
			"sessionId": {"type": "string", "minLength": 1},
			"url": {"type": "string", "minLength": 1},
			"host": {"type": "string", "minLength": 1},
			"title": {"type": "string"},
			"engine": {"type": "string", "minLength": 1},
			"rank": {"type": "integer", "minimum": 1},
			"timestamp": {"type": "string"}
		}
	}`

	workflowErrorSchema = `{
		"$schema": "http://json-schema.org/draft-07/schema#",
		"type": "object",
		"required": ["errorId", "sessionId", "stage", "errorType", "message", "originalTopic", "originalType", "originalPayload", "timestamp"],
		"properties": {
			"errorId": {"type": "string", "minLength": 1},
			"sessionId": {"type": "string", "minLength": 1},
			"stage": {"type": "string", "minLength": 1},
			"errorType": {"type": "string", "minLength": 1},
			"message": {"type": "string"},
			"originalTopic": {"type": "string", "minLength": 1},
			"originalType": {"type": "string", "minLength": 1},
			"originalPayload": {"type": "string"},
			"timestamp": {"type": "string"}
		}
	}`
)

var schemas = map[EventType]*gojsonschema.Schema{
	EventSearchRequest:   mustCompileSchema(searchRequestSchema),
	EventSearchResult:    mustCompileSchema(searchResultSchema),
	EventValidatedResult: mustCompileSchema(validatedResultSchema),
	EventWorkflowError:   mustCompileSchema(workflowErrorSchema),
}

func mustCompileSchema(raw string) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(raw))
	if err != nil {
		panic(fmt.Sprintf("bus: invalid event schema: %v", err))
	}
	return s
}

// ValidatePayload checks a JSON payload against the schema of its event
// type. Unknown event types are rejected.
func ValidatePayload(eventType EventType, payload []byte) error {
	schema, ok := schemas[eventType]
	if !ok {
		return fmt.Errorf("unknown event type %q", eventType)
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(payload))
	if err != nil {
		return fmt.Errorf("payload is not valid JSON: %w", err)
	}
	if !result.Valid() {
		errs := result.Errors()
		if len(errs) > 0 {
			return fmt.Errorf("payload fails %s schema: %s", eventType, errs[0])
		}
		return fmt.Errorf("payload fails %s schema", eventType)
	}
	return nil
}

// TypeOf maps an event value to its wire type.
func TypeOf(evt any) (EventType, error) {
	switch evt.(type) {
	case SearchRequestEvent, *SearchRequestEvent:
		return EventSearchRequest, nil
	case ValidatedResultEvent, *ValidatedResultEvent:
		return EventValidatedResult, nil
	case SearchResultEvent, *SearchResultEvent:
		return EventSearchResult, nil
	case WorkflowErrorEvent, *WorkflowErrorEvent:
		return EventWorkflowError, nil
	default:
		return "", fmt.Errorf("unsupported event type %T", evt)
	}
}
