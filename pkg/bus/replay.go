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
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/redis/go-redis/v9"
)

// ErrReplayNotFound is returned when no dead-letter entry carries the
// requested error id.
var ErrReplayNotFound = fmt.Errorf("dead-letter entry not found")

// Replayer re-publishes dead-lettered events to their original topics.
// The replayed copy is a brand-new message; consumers see it as a
// normal delivery and their idempotency guards absorb any half-applied
// side effects from the failed attempt.
type Replayer struct {
	client   *redis.Client
	producer *Producer
	logger   *zap.Logger
}

// NewReplayer creates a replayer over the error stream.
func NewReplayer(client *redis.Client, producer *Producer, logger *zap.Logger) (*Replayer, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if producer == nil {
		return nil, fmt.Errorf("producer is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Replayer{client: client, producer: producer, logger: logger}, nil
}

// Replay finds the dead-letter entry with the given error id and
// re-publishes its original payload to its original topic. The payload
// is schema-validated again before publishing; an entry whose payload
// no longer validates is refused rather than re-injected.
func (r *Replayer) Replay(ctx context.Context, errorID uuid.UUID) (string, error) {
	evt, err := r.find(ctx, errorID)
	if err != nil {
		return "", err
	}

	payload, err := evt.DecodePayload()
	if err != nil {
		return "", fmt.Errorf("failed to decode dead-letter payload %s: %w", errorID, err)
	}
	if err := ValidatePayload(evt.OriginalType, payload); err != nil {
		return "", fmt.Errorf("dead-letter payload %s no longer validates: %w", errorID, err)
	}

	event, err := decodeAs(evt.OriginalType, payload)
	if err != nil {
		return "", err
	}

	msgID, err := r.producer.Publish(ctx, evt.OriginalTopic, evt.SessionID, event)
	if err != nil {
		return "", fmt.Errorf("failed to replay %s: %w", errorID, err)
	}
	r.logger.Info("replayed dead-letter event",
		zap.String("error_id", errorID.String()),
		zap.String("topic", string(evt.OriginalTopic)),
		zap.String("message_id", msgID))
	return msgID, nil
}

// find scans the error stream for the entry carrying errorID.
func (r *Replayer) find(ctx context.Context, errorID uuid.UUID) (WorkflowErrorEvent, error) {
	var zero WorkflowErrorEvent
	for _, stream := range TopicWorkflowErrors.Streams() {
		start := "-"
		for {
			msgs, err := r.client.XRangeN(ctx, stream, start, "+", 100).Result()
			if err != nil {
				return zero, fmt.Errorf("failed to scan %s: %w", stream, err)
			}
			for _, xmsg := range msgs {
				raw, _ := xmsg.Values[fieldPayload].(string)
				if raw == "" {
					continue
				}
				var evt WorkflowErrorEvent
				if err := json.Unmarshal([]byte(raw), &evt); err != nil {
					continue
				}
				if evt.ErrorID == errorID {
					return evt, nil
				}
			}
			if len(msgs) < 100 {
				break
			}
			start = "(" + msgs[len(msgs)-1].ID
		}
	}
	return zero, fmt.Errorf("%w: %s", ErrReplayNotFound, errorID)
}

// decodeAs unmarshals a payload into the concrete event for its type so
// Publish re-encodes it instead of double-wrapping raw bytes.
func decodeAs(eventType EventType, payload []byte) (any, error) {
	switch eventType {
	case EventSearchRequest:
		var evt SearchRequestEvent
		if err := json.Unmarshal(payload, &evt); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", eventType, err)
		}
		return evt, nil
	case EventSearchResult:
		var evt SearchResultEvent
		if err := json.Unmarshal(payload, &evt); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", eventType, err)
		}
		return evt, nil
	case EventValidatedResult:
		var evt ValidatedResultEvent
		if err := json.Unmarshal(payload, &evt); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", eventType, err)
		}
		return evt, nil
	case EventWorkflowError:
		var evt WorkflowErrorEvent
		if err := json.Unmarshal(payload, &evt); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", eventType, err)
		}
		return evt, nil
	default:
		return nil, fmt.Errorf("unknown event type %q", eventType)
	}
}
