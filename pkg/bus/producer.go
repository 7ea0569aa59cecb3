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
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/teradata-labs/prospector/pkg/observability"
)

// Producer publishes schema-validated events to topic streams. Safe for
// concurrent use.
type Producer struct {
	client *redis.Client
	logger *zap.Logger
	tracer observability.Tracer

	published atomic.Int64
	failed    atomic.Int64
}

// NewProducer creates a producer over an existing Redis client.
func NewProducer(client *redis.Client, logger *zap.Logger, tracer observability.Tracer) (*Producer, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	return &Producer{client: client, logger: logger, tracer: tracer}, nil
}

// Publish routes the event to the session's partition of the topic and
// appends it. The returned ID is the Redis stream entry ID.
func (p *Producer) Publish(ctx context.Context, topic Topic, sessionID uuid.UUID, evt any) (string, error) {
	ctx, span := p.tracer.StartSpan(ctx, observability.SpanBusPublish,
		observability.WithSpanKind("bus"),
		observability.WithAttribute(observability.AttrTopic, string(topic)),
		observability.WithAttribute(observability.AttrSessionID, sessionID.String()))
	defer p.tracer.EndSpan(span)

	eventType, payload, err := encodeEvent(evt)
	if err != nil {
		p.failed.Add(1)
		span.RecordError(err)
		return "", err
	}

	partition := topic.PartitionFor(sessionID)
	stream := topic.Stream(partition)
	span.SetAttribute(observability.AttrPartition, partition)

	id, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{
			fieldType:    string(eventType),
			fieldPayload: string(payload),
		},
	}).Result()
	if err != nil {
		p.failed.Add(1)
		span.RecordError(err)
		return "", fmt.Errorf("failed to publish %s to %s: %w", eventType, stream, err)
	}

	p.published.Add(1)
	span.SetAttribute(observability.AttrMessageID, id)
	p.logger.Debug("event published",
		zap.String("topic", string(topic)),
		zap.Int("partition", partition),
		zap.String("type", string(eventType)),
		zap.String("message_id", id))
	return id, nil
}

// DeadLetter builds a WorkflowErrorEvent for a failed message and
// publishes it to the error stream. The original payload is embedded
// (compressed when large) so the message can be replayed.
func (p *Producer) DeadLetter(ctx context.Context, d DeadLetterInput) (string, error) {
	if d.Stage == "" || d.ErrorType == "" {
		return "", fmt.Errorf("dead-letter stage and errorType are required")
	}

	encoded, encoding := EncodeErrorPayload(d.Payload)
	evt := WorkflowErrorEvent{
		ErrorID:         uuid.New(),
		SessionID:       d.SessionID,
		RequestID:       d.RequestID,
		Stage:           d.Stage,
		ErrorType:       d.ErrorType,
		Message:         d.Message,
		StackTrace:      d.StackTrace,
		RetryCount:      d.RetryCount,
		OriginalTopic:   d.Topic,
		OriginalType:    d.Type,
		OriginalPayload: encoded,
		PayloadEncoding: encoding,
		Context:         d.Context,
		Timestamp:       time.Now().UTC(),
	}

	id, err := p.Publish(ctx, TopicWorkflowErrors, d.SessionID, evt)
	if err != nil {
		return "", err
	}
	p.logger.Warn("message dead-lettered",
		zap.String("error_id", evt.ErrorID.String()),
		zap.String("session_id", d.SessionID.String()),
		zap.String("stage", d.Stage),
		zap.String("error_type", d.ErrorType),
		zap.String("original_topic", string(d.Topic)))
	return id, nil
}

// DeadLetterInput describes one failed message.
type DeadLetterInput struct {
	SessionID uuid.UUID
	RequestID *uuid.UUID
	Stage     string
	ErrorType string
	Message   string

	Topic   Topic
	Type    EventType
	Payload []byte

	RetryCount int
	Context    map[string]string

	// StackTrace is set when the failure was a recovered panic.
	StackTrace string
}

// Published returns how many events this producer appended.
func (p *Producer) Published() int64 {
	return p.published.Load()
}
