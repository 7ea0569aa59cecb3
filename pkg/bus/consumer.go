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
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/teradata-labs/prospector/pkg/observability"
)

// Config tunes consumer mechanics. Zero values take the defaults.
type Config struct {
	// Workers is the number of concurrent handler goroutines.
	Workers int `mapstructure:"workers"`
	// BatchSize is the XREADGROUP COUNT per poll.
	BatchSize int64 `mapstructure:"batch_size"`
	// Block is how long one poll waits for new messages.
	Block time.Duration `mapstructure:"block"`
	// VisibilityTimeout is how long a pending message may sit with a
	// dead consumer before another one reclaims it.
	VisibilityTimeout time.Duration `mapstructure:"visibility_timeout"`
	// ReclaimInterval is how often the reclaim sweep runs.
	ReclaimInterval time.Duration `mapstructure:"reclaim_interval"`
}

func (c *Config) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 3
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.Block <= 0 {
		c.Block = 5 * time.Second
	}
	if c.VisibilityTimeout <= 0 {
		c.VisibilityTimeout = time.Minute
	}
	if c.ReclaimInterval <= 0 {
		c.ReclaimInterval = 30 * time.Second
	}
}

// Message is one consumed stream entry, schema-validated.
type Message struct {
	ID      string
	Stream  string
	Topic   Topic
	Type    EventType
	Payload []byte
	// Retries is the delivery count: 1 on first delivery, higher after
	// reclaims.
	Retries int
}

// SearchRequest decodes the payload as a SearchRequestEvent.
func (m Message) SearchRequest() (SearchRequestEvent, error) {
	var evt SearchRequestEvent
	if m.Type != EventSearchRequest {
		return evt, fmt.Errorf("message is %s, not %s", m.Type, EventSearchRequest)
	}
	if err := json.Unmarshal(m.Payload, &evt); err != nil {
		return evt, fmt.Errorf("failed to decode %s: %w", m.Type, err)
	}
	return evt, nil
}

// SearchResult decodes the payload as a SearchResultEvent.
func (m Message) SearchResult() (SearchResultEvent, error) {
	var evt SearchResultEvent
	if m.Type != EventSearchResult {
		return evt, fmt.Errorf("message is %s, not %s", m.Type, EventSearchResult)
	}
	if err := json.Unmarshal(m.Payload, &evt); err != nil {
		return evt, fmt.Errorf("failed to decode %s: %w", m.Type, err)
	}
	return evt, nil
}

// ValidatedResult decodes the payload as a ValidatedResultEvent.
func (m Message) ValidatedResult() (ValidatedResultEvent, error) {
	var evt ValidatedResultEvent
	if m.Type != EventValidatedResult {
		return evt, fmt.Errorf("message is %s, not %s", m.Type, EventValidatedResult)
	}
	if err := json.Unmarshal(m.Payload, &evt); err != nil {
		return evt, fmt.Errorf("failed to decode %s: %w", m.Type, err)
	}
	return evt, nil
}

// WorkflowError decodes the payload as a WorkflowErrorEvent.
func (m Message) WorkflowError() (WorkflowErrorEvent, error) {
	var evt WorkflowErrorEvent
	if m.Type != EventWorkflowError {
		return evt, fmt.Errorf("message is %s, not %s", m.Type, EventWorkflowError)
	}
	if err := json.Unmarshal(m.Payload, &evt); err != nil {
		return evt, fmt.Errorf("failed to decode %s: %w", m.Type, err)
	}
	return evt, nil
}

// Handler processes one message. A nil return acknowledges the message;
// an error dead-letters it and then acknowledges it, so handlers are
// retried only through the reclaim path (consumer death), never by
// returning errors.
type Handler func(ctx context.Context, msg Message) error

// typedError carries an explicit taxonomy code into dead-letter events.
type typedError struct {
	code string
	err  error
}

func (e *typedError) Error() string     { return fmt.Sprintf("%s: %v", e.code, e.err) }
func (e *typedError) Unwrap() error     { return e.err }
func (e *typedError) ErrorType() string { return e.code }

// Classified wraps a handler error with the taxonomy code its
// dead-letter event should carry.
func Classified(errorType string, err error) error {
	return &typedError{code: errorType, err: err}
}

// panicError is a recovered handler panic.
type panicError struct {
	value any
	stack string
}

func (e *panicError) Error() string     { return fmt.Sprintf("handler panic: %v", e.value) }
func (e *panicError) ErrorType() string { return "PANIC" }

// errorTypeOf extracts the taxonomy code from a handler error chain.
// Errors without one classify as UNKNOWN.
func errorTypeOf(err error) string {
	var te interface{ ErrorType() string }
	if errors.As(err, &te) {
		return te.ErrorType()
	}
	return "UNKNOWN"
}

// Consumer reads one topic through a consumer group with a fixed worker
// pool. Messages are acknowledged only after the handler's side effects
// are durable; failures are dead-lettered and then acknowledged so no
// message can poison the group. A periodic sweep reclaims messages left
// pending by dead consumers.
type Consumer struct {
	client  *redis.Client
	topic   Topic
	group   string
	stage   string
	handler Handler
	dlq     *Producer
	cfg     Config
	logger  *zap.Logger
	tracer  observability.Tracer

	name    string
	streams []string
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started atomic.Bool

	handled      atomic.Int64
	acked        atomic.Int64
	deadLettered atomic.Int64
	reclaimed    atomic.Int64
}

// NewConsumer creates a consumer for one topic and group. stage labels
// the dead-letter events this consumer emits. The dead-letter producer
// is required except on the error topic itself.
func NewConsumer(client *redis.Client, topic Topic, group, stage string, handler Handler, dlq *Producer, cfg Config, logger *zap.Logger, tracer observability.Tracer) (*Consumer, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if group == "" || stage == "" {
		return nil, fmt.Errorf("consumer group and stage are required")
	}
	if handler == nil {
		return nil, fmt.Errorf("handler is required")
	}
	if dlq == nil && topic != TopicWorkflowErrors {
		return nil, fmt.Errorf("dead-letter producer is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	cfg.applyDefaults()

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "consumer"
	}

	return &Consumer{
		client:  client,
		topic:   topic,
		group:   group,
		stage:   stage,
		handler: handler,
		dlq:     dlq,
		cfg:     cfg,
		logger: logger.With(
			zap.String("topic", string(topic)),
			zap.String("group", group)),
		tracer:  tracer,
		name:    fmt.Sprintf("%s-%d", hostname, os.Getpid()),
		streams: topic.Streams(),
	}, nil
}

// Start creates the consumer group on every partition and launches the
// worker pool plus the reclaim sweep. Workers stop when ctx is
// cancelled or Stop is called.
func (c *Consumer) Start(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return fmt.Errorf("consumer already started")
	}

	for _, stream := range c.streams {
		err := c.client.XGroupCreateMkStream(ctx, stream, c.group, "0").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			c.started.Store(false)
			return fmt.Errorf("failed to create group %s on %s: %w", c.group, stream, err)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	for i := 0; i < c.cfg.Workers; i++ {
		c.wg.Add(1)
		go c.worker(runCtx, i)
	}
	c.wg.Add(1)
	go c.reclaimLoop(runCtx)

	c.logger.Info("consumer started",
		zap.Int("workers", c.cfg.Workers),
		zap.Int("partitions", len(c.streams)))
	return nil
}

// Stop cancels the workers and waits for in-flight handlers to finish.
func (c *Consumer) Stop() {
	if !c.started.CompareAndSwap(true, false) {
		return
	}
	c.cancel()
	c.wg.Wait()
	c.logger.Info("consumer stopped",
		zap.Int64("handled", c.handled.Load()),
		zap.Int64("acked", c.acked.Load()),
		zap.Int64("dead_lettered", c.deadLettered.Load()))
}

// Stats returns the lifetime counters: messages handled, acked, dead-
// lettered, and reclaimed.
func (c *Consumer) Stats() (handled, acked, deadLettered, reclaimed int64) {
	return c.handled.Load(), c.acked.Load(), c.deadLettered.Load(), c.reclaimed.Load()
}

func (c *Consumer) worker(ctx context.Context, id int) {
	defer c.wg.Done()
	consumerName := fmt.Sprintf("%s-w%d", c.name, id)

	// XREADGROUP wants all stream names first, then one ">" per stream.
	args := make([]string, 0, 2*len(c.streams))
	args = append(args, c.streams...)
	for range c.streams {
		args = append(args, ">")
	}

	for {
		if ctx.Err() != nil {
			return
		}

		res, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.group,
			Consumer: consumerName,
			Streams:  args,
			Count:    c.cfg.BatchSize,
			Block:    c.cfg.Block,
		}).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("poll failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		for _, stream := range res {
			for _, xmsg := range stream.Messages {
				c.handle(ctx, stream.Stream, xmsg, 1)
			}
		}
	}
}

// handle runs one message end to end: decode, handler, then ack or
// dead-letter-then-ack.
func (c *Consumer) handle(ctx context.Context, stream string, xmsg redis.XMessage, retries int) {
	ctx, span := c.tracer.StartSpan(ctx, observability.SpanBusConsume,
		observability.WithSpanKind("bus"),
		observability.WithAttribute(observability.AttrTopic, string(c.topic)),
		observability.WithAttribute(observability.AttrConsumerGrp, c.group),
		observability.WithAttribute(observability.AttrMessageID, xmsg.ID))
	defer c.tracer.EndSpan(span)

	c.handled.Add(1)

	msg, err := decodeMessage(c.topic, stream, xmsg)
	msg.Retries = retries
	if err == nil {
		err = c.safeHandle(ctx, msg)
		if err == nil {
			c.ack(ctx, stream, xmsg.ID)
			return
		}
	} else {
		err = Classified("PARSE", err)
	}

	span.RecordError(err)
	if ctx.Err() != nil {
		// Shutting down mid-handler; leave the message pending so the
		// reclaim sweep retries it.
		return
	}

	if c.deadLetter(ctx, msg, err) {
		c.ack(ctx, stream, xmsg.ID)
	}
}

// safeHandle runs the handler with panic recovery.
func (c *Consumer) safeHandle(ctx context.Context, msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := string(debug.Stack())
			c.logger.Error("handler panicked",
				zap.String("message_id", msg.ID),
				zap.Any("panic", r),
				zap.String("stack", stack))
			err = &panicError{value: r, stack: stack}
		}
	}()
	return c.handler(ctx, msg)
}

// deadLetter publishes the error event for a failed message. Returns
// true when the message may be acknowledged. The error topic never
// dead-letters into itself; its failures are logged and dropped.
func (c *Consumer) deadLetter(ctx context.Context, msg Message, cause error) bool {
	if c.topic == TopicWorkflowErrors {
		c.logger.Error("error-stream handler failed",
			zap.String("message_id", msg.ID),
			zap.Error(cause))
		return true
	}

	var ref struct {
		SessionID uuid.UUID  `json:"sessionId"`
		RequestID *uuid.UUID `json:"requestId,omitempty"`
	}
	_ = json.Unmarshal(msg.Payload, &ref)

	// A message without a type field still needs a schema-valid error
	// event, or it would loop through reclaim forever.
	eventType := msg.Type
	if eventType == "" {
		eventType = "unknown"
	}

	input := DeadLetterInput{
		SessionID:  ref.SessionID,
		RequestID:  ref.RequestID,
		Stage:      c.stage,
		ErrorType:  errorTypeOf(cause),
		Message:    cause.Error(),
		Topic:      c.topic,
		Type:       eventType,
		Payload:    msg.Payload,
		RetryCount: msg.Retries,
		Context: map[string]string{
			"group":     c.group,
			"stream":    msg.Stream,
			"messageId": msg.ID,
		},
	}
	var pe *panicError
	if errors.As(cause, &pe) {
		input.StackTrace = pe.stack
	}

	if _, err := c.dlq.DeadLetter(ctx, input); err != nil {
		c.logger.Error("failed to dead-letter message, leaving pending",
			zap.String("message_id", msg.ID),
			zap.Error(err))
		return false
	}
	c.deadLettered.Add(1)
	return true
}

func (c *Consumer) ack(ctx context.Context, stream, id string) {
	if err := c.client.XAck(ctx, stream, c.group, id).Err(); err != nil {
		// The message will redeliver; handlers are idempotent.
		c.logger.Warn("failed to ack message",
			zap.String("message_id", id),
			zap.Error(err))
		return
	}
	c.acked.Add(1)
}

func (c *Consumer) reclaimLoop(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.ReclaimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.reclaimOnce(ctx)
		}
	}
}

// reclaimOnce claims messages pending longer than the visibility
// timeout and re-runs them through the normal handle path.
func (c *Consumer) reclaimOnce(ctx context.Context) {
	consumerName := c.name + "-reclaim"
	for _, stream := range c.streams {
		start := "0-0"
		for {
			msgs, next, err := c.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
				Stream:   stream,
				Group:    c.group,
				Consumer: consumerName,
				MinIdle:  c.cfg.VisibilityTimeout,
				Start:    start,
				Count:    c.cfg.BatchSize,
			}).Result()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				c.logger.Warn("reclaim failed",
					zap.String("stream", stream),
					zap.Error(err))
				break
			}
			for _, xmsg := range msgs {
				c.reclaimed.Add(1)
				c.handle(ctx, stream, xmsg, c.retryCount(ctx, stream, xmsg.ID))
			}
			if len(msgs) == 0 || next == "0-0" {
				break
			}
			start = next
		}
	}
}

// retryCount reads the delivery count of a pending message.
func (c *Consumer) retryCount(ctx context.Context, stream, id string) int {
	pending, err := c.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  c.group,
		Start:  id,
		End:    id,
		Count:  1,
	}).Result()
	if err != nil || len(pending) == 0 {
		return 2
	}
	return int(pending[0].RetryCount)
}

// decodeMessage extracts and schema-validates one stream entry. The
// partially decoded message is returned even on error so the caller can
// embed the raw payload in the dead-letter event.
func decodeMessage(topic Topic, stream string, xmsg redis.XMessage) (Message, error) {
	rawType, _ := xmsg.Values[fieldType].(string)
	rawPayload, _ := xmsg.Values[fieldPayload].(string)

	msg := Message{
		ID:      xmsg.ID,
		Stream:  stream,
		Topic:   topic,
		Type:    EventType(rawType),
		Payload: []byte(rawPayload),
	}
	if rawType == "" || rawPayload == "" {
		return msg, fmt.Errorf("message %s missing type or payload field", xmsg.ID)
	}
	if err := ValidatePayload(msg.Type, msg.Payload); err != nil {
		return msg, err
	}
	return msg, nil
}
