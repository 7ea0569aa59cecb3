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

// Package bus is the Redis Streams event backbone of the discovery
// pipeline. Each topic is a fixed set of streams named <topic>.<n>;
// events for one session always hash to the same stream per topic, so
// per-session ordering holds without any cross-stream coordination.
// Consumers read through consumer groups with manual acknowledgment
// and dead-letter failed messages to the workflow-errors stream.
package bus

import (
	"fmt"
	"hash/fnv"
	"time"

	"github.com/google/uuid"
)

// Topic identifies one logical event stream set.
type Topic string

const (
	// TopicSearchRequests carries one event per (engine, query) fan-out.
	TopicSearchRequests Topic = "search-requests"
	// TopicResultsRaw carries one event per adapter hit.
	TopicResultsRaw Topic = "search-results-raw"
	// TopicResultsValidated carries domain-validated hits.
	TopicResultsValidated Topic = "search-results-validated"
	// TopicWorkflowErrors is the dead-letter stream.
	TopicWorkflowErrors Topic = "workflow-errors"
)

// Consumer group names, one group per pipeline stage.
const (
	GroupSearch     = "search-workers"
	GroupValidation = "validation-workers"
	GroupScoring    = "scoring-workers"
)

const (
	dataPartitions = 3
	dataRetention  = 7 * 24 * time.Hour
	errorRetention = 30 * 24 * time.Hour
)

// Partitions returns the fixed stream count of the topic. The count is
// part of the wire contract: producers and consumers must agree on it,
// so it is not configurable at runtime.
func (t Topic) Partitions() int {
	if t == TopicWorkflowErrors {
		return 1
	}
	return dataPartitions
}

// Retention returns how long messages stay before the janitor trims
// them.
func (t Topic) Retention() time.Duration {
	if t == TopicWorkflowErrors {
		return errorRetention
	}
	return dataRetention
}

// Stream returns the Redis key of one partition.
func (t Topic) Stream(partition int) string {
	return fmt.Sprintf("%s.%d", t, partition)
}

// Streams returns every partition key of the topic, in order.
func (t Topic) Streams() []string {
	out := make([]string, t.Partitions())
	for i := range out {
		out[i] = t.Stream(i)
	}
	return out
}

// PartitionFor routes a session to its partition: fnv32a of the session
// ID modulo the partition count. Every event of a session lands on the
// same stream per topic.
func (t Topic) PartitionFor(sessionID uuid.UUID) int {
	h := fnv.New32a()
	h.Write(sessionID[:])
	return int(h.Sum32() % uint32(t.Partitions()))
}

// Topics lists every topic, data topics first.
func Topics() []Topic {
	return []Topic{TopicSearchRequests, TopicResultsRaw, TopicResultsValidated, TopicWorkflowErrors}
}
