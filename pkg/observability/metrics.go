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
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics is the process-wide Prometheus instrument set, exposed by the
// HTTP server at /metrics. Components do not record into it directly;
// they keep calling Tracer.RecordMetric and an Instrument-wrapped tracer
// mirrors those samples here as counters. HTTP request instruments are
// the exception because they need a histogram.
//
// A nil *Metrics is a valid no-op receiver, so wiring can pass it
// through unconditionally.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec

	mu       sync.Mutex
	mirrored map[string]*mirroredCounter
}

// mirroredCounter is a lazily declared counter fed by RecordMetric. The
// label key set is fixed by the first sample; later samples with a
// different key set are dropped rather than panicking the scrape path.
type mirroredCounter struct {
	vec  *prometheus.CounterVec
	keys []string
}

// NewMetrics creates a registry with the Go and process collectors plus
// the HTTP instruments pre-registered.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prospector_http_requests_total",
				Help: "Ingress requests by method, route pattern, and status code.",
			},
			[]string{"method", "route", "code"},
		),
		httpLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "prospector_http_request_seconds",
				Help:    "Ingress request latency by method and route pattern.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		mirrored: make(map[string]*mirroredCounter),
	}
	reg.MustRegister(m.httpRequests, m.httpLatency)
	return m
}

// Gatherer exposes the registry for the /metrics handler.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m == nil {
		return nil
	}
	return m.registry
}

// Registerer exposes the registry for components that bring their own
// collectors, such as the bus lag probe.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordHTTPRequest folds one served request into the HTTP instruments.
// The route is the chi pattern, not the raw path, so cardinality stays
// bounded.
func (m *Metrics) RecordHTTPRequest(method, route, code string, seconds float64) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, code).Inc()
	m.httpLatency.WithLabelValues(method, route).Observe(seconds)
}

// add mirrors one RecordMetric sample as a counter increment.
func (m *Metrics) add(name string, value float64, labels map[string]string) {
	if m == nil || value < 0 {
		return
	}

	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	m.mu.Lock()
	mc, ok := m.mirrored[name]
	if !ok {
		mc = &mirroredCounter{
			vec: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: counterName(name),
					Help: "Mirrored from tracer metric " + name + ".",
				},
				keys,
			),
			keys: keys,
		}
		if err := m.registry.Register(mc.vec); err != nil {
			m.mu.Unlock()
			return
		}
		m.mirrored[name] = mc
	}
	m.mu.Unlock()

	if len(mc.keys) != len(keys) {
		return
	}
	values := make([]string, len(mc.keys))
	for i, k := range mc.keys {
		if k != keys[i] {
			return
		}
		values[i] = labels[k]
	}
	mc.vec.WithLabelValues(values...).Add(value)
}

// counterName turns a dotted tracer metric name into a Prometheus
// counter name, e.g. "adapter.search.failures" becomes
// "prospector_adapter_search_failures_total".
func counterName(name string) string {
	var b strings.Builder
	b.WriteString("prospector_")
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	b.WriteString("_total")
	return b.String()
}

// Instrument wraps a tracer so every RecordMetric call also lands in the
// Prometheus registry. Spans and events pass through untouched. With a
// nil Metrics the inner tracer is returned as is.
func Instrument(inner Tracer, m *Metrics) Tracer {
	if m == nil {
		return inner
	}
	return &instrumentedTracer{Tracer: inner, metrics: m}
}

type instrumentedTracer struct {
	Tracer
	metrics *Metrics
}

func (t *instrumentedTracer) RecordMetric(name string, value float64, labels map[string]string) {
	t.metrics.add(name, value, labels)
	t.Tracer.RecordMetric(name, value, labels)
}
