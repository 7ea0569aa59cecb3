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
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testBusConfig keeps polls and reclaim sweeps short enough for
// Eventually asserts.
func testBusConfig() Config {
	return Config{
		Workers:           2,
		BatchSize:         10,
		Block:             50 * time.Millisecond,
		VisibilityTimeout: 30 * time.Millisecond,
		ReclaimInterval:   25 * time.Millisecond,
	}
}

// recorder collects handled messages and optionally fails them.
type recorder struct {
	mu   sync.Mutex
	got  []Message
	fail error
}

func (r *recorder) handle(ctx context.Context, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, msg)
	return r.fail
}

func (r *recorder) messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.got))
	copy(out, r.got)
	return out
}

func startConsumer(t *testing.T, client *redis.Client, prod *Producer, topic Topic, handler Handler) *Consumer {
	t.Helper()
	cons, err := NewConsumer(client, topic, GroupValidation, StageResultValidation, handler, prod, testBusConfig(), nil, nil)
	require.NoError(t, err)
	require.NoError(t, cons.Start(context.Background()))
	t.Cleanup(cons.Stop)
	return cons
}

func errorStreamEvents(t *testing.T, client *redis.Client) []WorkflowErrorEvent {
	t.Helper()
	entries, err := client.XRange(context.Background(), TopicWorkflowErrors.Stream(0), "-", "+").Result()
	require.NoError(t, err)
	out := make([]WorkflowErrorEvent, 0, len(entries))
	for _, entry := range entries {
		var evt WorkflowErrorEvent
		require.NoError(t, json.Unmarshal([]byte(entry.Values[fieldPayload].(string)), &evt))
		out = append(out, evt)
	}
	return out
}

func TestNewConsumerValidation(t *testing.T) {
	client, prod := busHarness(t)
	handler := func(ctx context.Context, msg Message) error { return nil }

	_, err := NewConsumer(nil, TopicResultsRaw, GroupValidation, StageResultValidation, handler, prod, Config{}, nil, nil)
	assert.Error(t, err)

	_, err = NewConsumer(client, TopicResultsRaw, "", StageResultValidation, handler, prod, Config{}, nil, nil)
	assert.Error(t, err)

	_, err = NewConsumer(client, TopicResultsRaw, GroupValidation, StageResultValidation, nil, prod, Config{}, nil, nil)
	assert.Error(t, err)

	// A dead-letter producer is mandatory everywhere except on the
	// error topic itself.
	_, err = NewConsumer(client, TopicResultsRaw, GroupValidation, StageResultValidation, handler, nil, Config{}, nil, nil)
	assert.Error(t, err)

	_, err = NewConsumer(client, TopicWorkflowErrors, "error-workers", StageReplay, handler, nil, Config{}, nil, nil)
	assert.NoError(t, err)
}

func TestConsumerDeliversAndAcks(t *testing.T) {
	client, prod := busHarness(t)
	ctx := context.Background()
	rec := &recorder{}
	cons := startConsumer(t, client, prod, TopicResultsRaw, rec.handle)

	sessionID := uuid.New()
	evt := testResultEvent(sessionID)
	_, err := prod.Publish(ctx, TopicResultsRaw, sessionID, evt)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(rec.messages()) == 1
	}, 3*time.Second, 10*time.Millisecond)

	msg := rec.messages()[0]
	assert.Equal(t, EventSearchResult, msg.Type)
	assert.Equal(t, TopicResultsRaw, msg.Topic)
	assert.Equal(t, 1, msg.Retries)
	decoded, err := msg.SearchResult()
	require.NoError(t, err)
	assert.Equal(t, evt.URL, decoded.URL)
	assert.Equal(t, sessionID, decoded.SessionID)

	require.Eventually(t, func() bool {
		_, acked, _, _ := cons.Stats()
		return acked == 1
	}, 3*time.Second, 10*time.Millisecond)

	// Nothing left pending once acked.
	stream := TopicResultsRaw.Stream(TopicResultsRaw.PartitionFor(sessionID))
	pending, err := client.XPending(ctx, stream, GroupValidation).Result()
	require.NoError(t, err)
	assert.Zero(t, pending.Count)
}

func TestConsumerDeadLettersFailedMessageThenAcks(t *testing.T) {
	client, prod := busHarness(t)
	ctx := context.Background()
	rec := &recorder{fail: Classified("TIMEOUT", errors.New("store unavailable"))}
	cons := startConsumer(t, client, prod, TopicResultsRaw, rec.handle)

	sessionID := uuid.New()
	evt := testResultEvent(sessionID)
	original, err := json.Marshal(evt)
	require.NoError(t, err)
	_, err = prod.Publish(ctx, TopicResultsRaw, sessionID, evt)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, acked, deadLettered, _ := cons.Stats()
		return acked == 1 && deadLettered == 1
	}, 3*time.Second, 10*time.Millisecond)

	events := errorStreamEvents(t, client)
	require.Len(t, events, 1)
	errEvt := events[0]
	assert.Equal(t, sessionID, errEvt.SessionID)
	assert.Equal(t, StageResultValidation, errEvt.Stage)
	assert.Equal(t, "TIMEOUT", errEvt.ErrorType)
	assert.Contains(t, errEvt.Message, "store unavailable")
	assert.Equal(t, TopicResultsRaw, errEvt.OriginalTopic)
	assert.Equal(t, EventSearchResult, errEvt.OriginalType)
	assert.Equal(t, 1, errEvt.RetryCount)
	assert.Equal(t, GroupValidation, errEvt.Context["group"])

	payload, err := errEvt.DecodePayload()
	require.NoError(t, err)
	assert.JSONEq(t, string(original), string(payload))

	// Dead-lettering acknowledged the original; it never redelivers.
	stream := TopicResultsRaw.Stream(TopicResultsRaw.PartitionFor(sessionID))
	pending, err := client.XPending(ctx, stream, GroupValidation).Result()
	require.NoError(t, err)
	assert.Zero(t, pending.Count)
}

func TestConsumerDeadLettersPanicWithStack(t *testing.T) {
	client, prod := busHarness(t)
	ctx := context.Background()

	handler := func(ctx context.Context, msg Message) error {
		panic("scoring exploded")
	}
	cons := startConsumer(t, client, prod, TopicResultsRaw, handler)

	sessionID := uuid.New()
	_, err := prod.Publish(ctx, TopicResultsRaw, sessionID, testResultEvent(sessionID))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, _, deadLettered, _ := cons.Stats()
		return deadLettered == 1
	}, 3*time.Second, 10*time.Millisecond)

	events := errorStreamEvents(t, client)
	require.Len(t, events, 1)
	assert.Equal(t, "PANIC", events[0].ErrorType)
	assert.Contains(t, events[0].Message, "scoring exploded")
	assert.NotEmpty(t, events[0].StackTrace)
}

func TestConsumerDeadLettersUnparseableMessages(t *testing.T) {
	client, prod := busHarness(t)
	ctx := context.Background()
	rec := &recorder{}

	// Seed garbage before the consumer starts: one schema-invalid
	// payload, one entry with no type field at all.
	_, err := client.XAdd(ctx, &redis.XAddArgs{
		Stream: TopicResultsRaw.Stream(1),
		Values: map[string]interface{}{
			fieldType:    string(EventSearchResult),
			fieldPayload: `{"sessionId":"only-this"}`,
		},
	}).Result()
	require.NoError(t, err)
	_, err = client.XAdd(ctx, &redis.XAddArgs{
		Stream: TopicResultsRaw.Stream(2),
		Values: map[string]interface{}{"junk": "payload"},
	}).Result()
	require.NoError(t, err)

	cons := startConsumer(t, client, prod, TopicResultsRaw, rec.handle)

	require.Eventually(t, func() bool {
		_, acked, deadLettered, _ := cons.Stats()
		return acked == 2 && deadLettered == 2
	}, 3*time.Second, 10*time.Millisecond)

	// The handler never saw either message.
	assert.Empty(t, rec.messages())

	events := errorStreamEvents(t, client)
	require.Len(t, events, 2)
	for _, evt := range events {
		assert.Equal(t, "PARSE", evt.ErrorType)
		assert.NotEmpty(t, evt.OriginalType)
	}
}

func TestErrorTopicConsumerNeverDeadLettersItself(t *testing.T) {
	client, prod := busHarness(t)
	ctx := context.Background()
	sessionID := uuid.New()

	_, err := prod.DeadLetter(ctx, DeadLetterInput{
		SessionID: sessionID,
		Stage:     StageSearchExecution,
		ErrorType: "TIMEOUT",
		Message:   "engine timed out",
		Topic:     TopicSearchRequests,
		Type:      EventSearchRequest,
		Payload:   []byte(`{}`),
	})
	require.NoError(t, err)

	rec := &recorder{fail: errors.New("error handler broke")}
	cons, err := NewConsumer(client, TopicWorkflowErrors, "error-workers", StageReplay, rec.handle, nil, testBusConfig(), nil, nil)
	require.NoError(t, err)
	require.NoError(t, cons.Start(ctx))
	t.Cleanup(cons.Stop)

	require.Eventually(t, func() bool {
		_, acked, _, _ := cons.Stats()
		return acked == 1
	}, 3*time.Second, 10*time.Millisecond)

	// The failure was logged and dropped, not re-queued.
	_, _, deadLettered, _ := cons.Stats()
	assert.Zero(t, deadLettered)
	n, err := client.XLen(ctx, TopicWorkflowErrors.Stream(0)).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestConsumerReclaimsStalePending(t *testing.T) {
	client, prod := busHarness(t)
	ctx := context.Background()
	sessionID := uuid.New()
	stream := TopicResultsRaw.Stream(TopicResultsRaw.PartitionFor(sessionID))

	// A doomed consumer reads the message and dies without acking.
	require.NoError(t, client.XGroupCreateMkStream(ctx, stream, GroupValidation, "0").Err())
	_, err := prod.Publish(ctx, TopicResultsRaw, sessionID, testResultEvent(sessionID))
	require.NoError(t, err)
	res, err := client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    GroupValidation,
		Consumer: "doomed",
		Streams:  []string{stream, ">"},
		Count:    1,
	}).Result()
	require.NoError(t, err)
	require.Len(t, res, 1)
	require.Len(t, res[0].Messages, 1)

	// Let the message sit past the visibility timeout.
	time.Sleep(60 * time.Millisecond)

	rec := &recorder{}
	cons := startConsumer(t, client, prod, TopicResultsRaw, rec.handle)

	require.Eventually(t, func() bool {
		return len(rec.messages()) == 1
	}, 3*time.Second, 10*time.Millisecond)

	msg := rec.messages()[0]
	assert.GreaterOrEqual(t, msg.Retries, 2)

	require.Eventually(t, func() bool {
		_, acked, _, reclaimed := cons.Stats()
		return acked == 1 && reclaimed >= 1
	}, 3*time.Second, 10*time.Millisecond)
}

func TestConsumerStartStop(t *testing.T) {
	client, prod := busHarness(t)
	rec := &recorder{}
	cons, err := NewConsumer(client, TopicResultsRaw, GroupValidation, StageResultValidation, rec.handle, prod, testBusConfig(), nil, nil)
	require.NoError(t, err)

	require.NoError(t, cons.Start(context.Background()))
	assert.Error(t, cons.Start(context.Background()))

	done := make(chan struct{})
	go func() {
		cons.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not return")
	}
	// A second Stop is a no-op.
	cons.Stop()
}

func TestClassifiedErrorType(t *testing.T) {
	err := Classified("RATE_LIMITED", errors.New("429 from engine"))
	assert.Equal(t, "RATE_LIMITED", errorTypeOf(err))
	assert.Contains(t, err.Error(), "429 from engine")

	wrapped := errors.Join(errors.New("outer"), err)
	assert.Equal(t, "RATE_LIMITED", errorTypeOf(wrapped))

	assert.Equal(t, "UNKNOWN", errorTypeOf(errors.New("plain")))
}
