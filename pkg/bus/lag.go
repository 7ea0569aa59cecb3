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
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// lagProbeTimeout bounds one scrape's XPENDING round trips.
const lagProbeTimeout = 2 * time.Second

// StageGroup names one consumer group on one topic for lag reporting.
type StageGroup struct {
	Topic Topic
	Group string
}

// StageGroups returns the pipeline's standard topic/group pairs.
func StageGroups() []StageGroup {
	return []StageGroup{
		{Topic: TopicSearchRequests, Group: GroupSearch},
		{Topic: TopicResultsRaw, Group: GroupValidation},
		{Topic: TopicResultsValidated, Group: GroupScoring},
	}
}

// LagCollector exports pending-entry counts per (topic, group). Each
// scrape runs XPENDING against every partition of every registered
// pair, so the numbers are live rather than cached. A group that does
// not exist yet (consumer not started) reports zero.
type LagCollector struct {
	client *redis.Client
	pairs  []StageGroup
	desc   *prometheus.Desc
	logger *zap.Logger
}

// NewLagCollector builds a collector over the given pairs. Register it
// on the metrics registry with Registerer().MustRegister.
func NewLagCollector(client *redis.Client, logger *zap.Logger, pairs ...StageGroup) *LagCollector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(pairs) == 0 {
		pairs = StageGroups()
	}
	return &LagCollector{
		client: client,
		pairs:  pairs,
		desc: prometheus.NewDesc(
			"prospector_bus_pending_entries",
			"Delivered but unacknowledged entries per topic and consumer group.",
			[]string{"topic", "group"},
			nil,
		),
		logger: logger,
	}
}

// Describe implements prometheus.Collector.
func (c *LagCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

// Collect implements prometheus.Collector.
func (c *LagCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), lagProbeTimeout)
	defer cancel()

	for _, pair := range c.pairs {
		var total int64
		for _, stream := range pair.Topic.Streams() {
			pending, err := c.client.XPending(ctx, stream, pair.Group).Result()
			if err != nil {
				// NOGROUP before the consumer's first start, or Redis
				// down. Either way the pair reports what it has.
				continue
			}
			total += pending.Count
		}
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(total), string(pair.Topic), pair.Group)
	}
}

var _ prometheus.Collector = (*LagCollector)(nil)
