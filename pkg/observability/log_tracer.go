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
package observability

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LogTracer exports completed spans to a zap logger. Span completion is
// logged at debug level, failed spans at warn. Metrics and standalone
// events are logged at debug level.
//
// This is the default production tracer; it has no external dependencies
// and never blocks the instrumented path.
type LogTracer struct {
	logger *zap.Logger
}

// NewLogTracer creates a tracer backed by the given logger.
func NewLogTracer(logger *zap.Logger) *LogTracer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogTracer{logger: logger}
}

// StartSpan creates a new span linked to any parent found in ctx.
func (t *LogTracer) StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, *Span) {
	span := &Span{
		TraceID:    uuid.New().String(),
		SpanID:     uuid.New().String(),
		Name:       name,
		StartTime:  time.Now(),
		Attributes: make(map[string]interface{}),
	}

	for _, opt := range opts {
		opt(span)
	}

	if parent := SpanFromContext(ctx); parent != nil {
		span.TraceID = parent.TraceID
		span.ParentID = parent.SpanID
	}

	return ContextWithSpan(ctx, span), span
}

// EndSpan finalizes timing and writes the span to the logger.
func (t *LogTracer) EndSpan(span *Span) {
	if span == nil {
		return
	}
	span.EndTime = time.Now()
	span.Duration = span.EndTime.Sub(span.StartTime)

	fields := []zap.Field{
		zap.String("trace_id", span.TraceID),
		zap.String("span_id", span.SpanID),
		zap.Duration("duration", span.Duration),
	}
	if span.ParentID != "" {
		fields = append(fields, zap.String("parent_id", span.ParentID))
	}
	if len(span.Attributes) > 0 {
		fields = append(fields, zap.Any("attributes", span.Attributes))
	}

	if span.Status.Code == StatusError {
		fields = append(fields, zap.String("status", span.Status.Message))
		t.logger.Warn("span failed: "+span.Name, fields...)
		return
	}
	t.logger.Debug("span: "+span.Name, fields...)
}

// RecordMetric logs the metric at debug level.
func (t *LogTracer) RecordMetric(name string, value float64, labels map[string]string) {
	t.logger.Debug("metric: "+name,
		zap.Float64("value", value),
		zap.Any("labels", labels),
	)
}

// RecordEvent logs the event at debug level.
func (t *LogTracer) RecordEvent(ctx context.Context, name string, attributes map[string]interface{}) {
	fields := []zap.Field{zap.Any("attributes", attributes)}
	if span := SpanFromContext(ctx); span != nil {
		fields = append(fields, zap.String("trace_id", span.TraceID))
	}
	t.logger.Debug("event: "+name, fields...)
}

// Flush is a no-op; zap buffering is handled by the logger owner.
func (t *LogTracer) Flush(ctx context.Context) error {
	return nil
}

// Ensure LogTracer implements Tracer interface.
var _ Tracer = (*LogTracer)(nil)
