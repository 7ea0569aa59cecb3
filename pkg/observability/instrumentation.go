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

// Span names used across the pipeline.
// Use these constants instead of hardcoding strings.
const (
	SpanSearchExecute   = "orchestrator.execute_search"
	SpanQueryGeneration = "generator.generate"
	SpanAdapterSearch   = "adapter.search"
	SpanResultValidate  = "pipeline.validate"
	SpanResultScore     = "pipeline.score"
	SpanResultProcess   = "pipeline.process"
	SpanBusPublish      = "bus.publish"
	SpanBusConsume      = "bus.consume"
	SpanStoreQuery      = "store.query"
	SpanStoreExec       = "store.exec"
	SpanCacheLookup     = "cache.lookup"
	SpanSessionFinalize = "orchestrator.finalize"
)

// Attribute keys for spans and events.
// Use these constants for span and event attributes.
const (
	// Identity
	AttrSessionID = "session.id"
	AttrTraceID   = "trace.id"
	AttrSpanID    = "span.id"

	// Search
	AttrEngineName   = "engine.name"
	AttrEngineType   = "engine.type"
	AttrQuery        = "search.query"
	AttrMaxResults   = "search.max_results"
	AttrResultCount  = "search.result_count"
	AttrCircuitState = "engine.circuit_state"

	// Domain / candidate
	AttrDomainHost    = "domain.host"
	AttrDomainStatus  = "domain.status"
	AttrConfidence    = "candidate.confidence"
	AttrCandidateID   = "candidate.id"
	AttrPipelineStage = "pipeline.stage"

	// Generator / LLM
	AttrLLMProvider = "llm.provider"
	AttrLLMModel    = "llm.model"
	AttrPromptStyle = "generator.style"
	AttrFallback    = "generator.fallback"

	// Bus
	AttrTopic       = "bus.topic"
	AttrPartition   = "bus.partition"
	AttrMessageID   = "bus.message_id"
	AttrConsumerGrp = "bus.consumer_group"

	// Errors
	AttrErrorType    = "error.type"
	AttrErrorMessage = "error.message"
	AttrErrorStage   = "error.stage"
)
