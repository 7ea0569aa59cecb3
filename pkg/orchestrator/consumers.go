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

package orchestrator

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teradata-labs/prospector/pkg/bus"
	"github.com/teradata-labs/prospector/pkg/observability"
	"github.com/teradata-labs/prospector/pkg/pipeline"
	"github.com/teradata-labs/prospector/pkg/search"
	"github.com/teradata-labs/prospector/pkg/storage"
	"github.com/teradata-labs/prospector/pkg/types"
)

// Seen-set member namespaces. Result fingerprints are "engine|url", so
// prefixed members cannot collide with them.
const (
	requestMarkPrefix = "request|"
	droppedMarkPrefix = "dropped|"
)

// handleSearchRequest runs one (engine, query) task: call the adapter,
// ship one raw event per hit, and close the task out in the session's
// counters. Adapter failures are terminal here; the adapter has already
// retried what its policy allows. The task is closed with zero shipped
// results either way, so a failed query never wedges finalization.
func (o *Orchestrator) handleSearchRequest(ctx context.Context, msg bus.Message) error {
	evt, err := msg.SearchRequest()
	if err != nil {
		return err
	}

	requestMark := requestMarkPrefix + evt.RequestID.String()
	seen, err := o.cache.IsResultSeen(ctx, evt.SessionID, requestMark)
	if err != nil {
		o.logger.Warn("request guard check failed, proceeding",
			zap.String("request_id", evt.RequestID.String()), zap.Error(err))
	} else if seen {
		o.logger.Debug("request already processed, dropping redelivery",
			zap.String("request_id", evt.RequestID.String()))
		return nil
	}

	disabled, err := o.cache.IsEngineDisabled(ctx, evt.SessionID, evt.Engine)
	if err != nil {
		o.logger.Warn("disabled-engine check failed, proceeding",
			zap.String("engine", evt.Engine), zap.Error(err))
	}
	if disabled {
		o.logger.Debug("engine disabled for session, discarding task",
			zap.String("session_id", evt.SessionID.String()),
			zap.String("engine", evt.Engine))
		return o.closeTask(ctx, evt.SessionID, 0)
	}

	adapter, ok := o.registry.Adapter(evt.Engine)
	if !ok {
		o.logger.Warn("no adapter for engine, discarding task",
			zap.String("session_id", evt.SessionID.String()),
			zap.String("engine", evt.Engine))
		return o.closeTask(ctx, evt.SessionID, 0)
	}

	results, err := adapter.Search(ctx, evt.Query, evt.MaxResults, evt.SessionID)
	if err != nil {
		return o.searchFailed(ctx, msg, evt, err)
	}

	for _, r := range results {
		raw := bus.SearchResultEvent{
			SessionID:   evt.SessionID,
			URL:         r.URL,
			Host:        r.Host,
			Title:       r.Title,
			Description: r.Snippet,
			Engine:      r.Engine,
			Query:       r.Query,
			Rank:        r.Rank,
			Timestamp:   r.DiscoveredAt,
		}
		if _, err := o.producer.Publish(ctx, bus.TopicResultsRaw, evt.SessionID, raw); err != nil {
			// No counters were advanced yet; a rerun of the whole task
			// converges because downstream deduplicates by fingerprint.
			return bus.Classified("UNAVAILABLE", err)
		}
	}
	shipped := len(results)

	if err := o.store.Sessions().RecordEngineOutcome(ctx, evt.SessionID, evt.Engine, shipped, false); err != nil {
		o.logger.Warn("failed to record engine outcome",
			zap.String("session_id", evt.SessionID.String()),
			zap.String("engine", evt.Engine), zap.Error(err))
	}
	if err := o.store.Sessions().IncrementStats(ctx, evt.SessionID, storage.StatsDelta{ResultsFound: shipped}); err != nil {
		return bus.Classified("UNAVAILABLE", err)
	}
	if err := o.store.Sessions().RecordQueryDone(ctx, evt.SessionID, shipped); err != nil {
		return bus.Classified("UNAVAILABLE", err)
	}

	if _, err := o.cache.MarkResultSeen(ctx, evt.SessionID, requestMark); err != nil {
		o.logger.Warn("failed to mark request done",
			zap.String("request_id", evt.RequestID.String()), zap.Error(err))
	}

	o.logger.Debug("search task completed",
		zap.String("session_id", evt.SessionID.String()),
		zap.String("engine", evt.Engine),
		zap.Int("results", shipped))
	o.tryFinalize(ctx, evt.SessionID)
	return nil
}

// searchFailed closes out a task whose adapter call failed. Auth
// failures disable the engine for the rest of the session; transient
// kinds were already retried by the adapter, so they dead-letter here.
// Rate-limit and open-circuit short-circuits are expected backpressure
// and produce no error event.
func (o *Orchestrator) searchFailed(ctx context.Context, msg bus.Message, evt bus.SearchRequestEvent, searchErr error) error {
	kind := search.KindOf(searchErr)
	o.logger.Warn("search task failed",
		zap.String("session_id", evt.SessionID.String()),
		zap.String("engine", evt.Engine),
		zap.String("kind", string(kind)),
		zap.Error(searchErr))

	switch kind {
	case search.KindAuth:
		if err := o.cache.DisableEngine(ctx, evt.SessionID, evt.Engine); err != nil {
			o.logger.Warn("failed to disable engine for session",
				zap.String("engine", evt.Engine), zap.Error(err))
		}
		o.deadLetterRequest(ctx, msg, evt, kind, searchErr)
	case search.KindTimeout, search.KindRemote5xx, search.KindParse, search.KindUnknown:
		o.deadLetterRequest(ctx, msg, evt, kind, searchErr)
	}

	if err := o.store.Sessions().RecordEngineOutcome(ctx, evt.SessionID, evt.Engine, 0, true); err != nil {
		o.logger.Warn("failed to record engine outcome",
			zap.String("session_id", evt.SessionID.String()),
			zap.String("engine", evt.Engine), zap.Error(err))
	}
	return o.closeTask(ctx, evt.SessionID, 0)
}

func (o *Orchestrator) deadLetterRequest(ctx context.Context, msg bus.Message, evt bus.SearchRequestEvent, kind search.ErrorKind, searchErr error) {
	_, err := o.producer.DeadLetter(ctx, bus.DeadLetterInput{
		SessionID:  evt.SessionID,
		RequestID:  &evt.RequestID,
		Stage:      bus.StageSearchExecution,
		ErrorType:  string(kind),
		Message:    searchErr.Error(),
		Topic:      bus.TopicSearchRequests,
		Type:       bus.EventSearchRequest,
		Payload:    msg.Payload,
		RetryCount: msg.Retries,
		Context: map[string]string{
			"engine": evt.Engine,
			"query":  evt.Query,
		},
	})
	if err != nil {
		o.logger.Warn("failed to dead-letter search request",
			zap.String("request_id", evt.RequestID.String()), zap.Error(err))
	}
}

// closeTask marks one fan-out task finished and gives finalization a
// chance to fire.
func (o *Orchestrator) closeTask(ctx context.Context, sessionID uuid.UUID, shipped int) error {
	if err := o.store.Sessions().RecordQueryDone(ctx, sessionID, shipped); err != nil {
		return bus.Classified("UNAVAILABLE", err)
	}
	o.tryFinalize(ctx, sessionID)
	return nil
}

// handleRawResult validates one raw hit: derive the registrable host
// and drop blacklisted hosts early using only the cache. Dropped
// results are counted here; everything else is forwarded for scoring
// and counted there.
func (o *Orchestrator) handleRawResult(ctx context.Context, msg bus.Message) error {
	evt, err := msg.SearchResult()
	if err != nil {
		return err
	}

	ctx, span := o.tracer.StartSpan(ctx, observability.SpanResultValidate,
		observability.WithAttribute(observability.AttrSessionID, evt.SessionID.String()),
		observability.WithAttribute(observability.AttrEngineName, evt.Engine))
	defer o.tracer.EndSpan(span)

	fingerprint := evt.Result().Fingerprint()

	host := evt.Host
	if host == "" {
		host, err = types.ExtractDomain(evt.URL)
		if err != nil {
			span.SetAttribute("validation.outcome", "invalid_url")
			return o.dropResult(ctx, evt.SessionID, fingerprint, pipeline.ClassInvalidURL)
		}
	}
	span.SetAttribute(observability.AttrDomainHost, host)

	blacklisted, found, err := o.cache.IsBlacklisted(ctx, host)
	if err != nil {
		// Cache down: forward and let scoring's read-through decide.
		o.logger.Warn("blacklist cache check failed, forwarding",
			zap.String("host", host), zap.Error(err))
	}
	if found && blacklisted {
		span.SetAttribute("validation.outcome", "blacklisted")
		return o.dropResult(ctx, evt.SessionID, fingerprint, pipeline.ClassBlacklisted)
	}

	evt.Host = host
	validated := bus.ValidatedResultEvent{SearchResultEvent: evt}
	if _, err := o.producer.Publish(ctx, bus.TopicResultsValidated, evt.SessionID, validated); err != nil {
		span.RecordError(err)
		return bus.Classified("UNAVAILABLE", err)
	}
	span.SetAttribute("validation.outcome", "forwarded")
	return nil
}

// dropResult counts a result the validation stage removed from the
// pipeline. The mark is taken before the counter is advanced so a
// redelivery can never count the same drop twice; a marked-but-uncounted
// crash window wedges the session instead, and the sweep fails it.
func (o *Orchestrator) dropResult(ctx context.Context, sessionID uuid.UUID, fingerprint string, class pipeline.Class) error {
	mark := droppedMarkPrefix + fingerprint
	first, err := o.cache.MarkResultSeen(ctx, sessionID, mark)
	if err != nil {
		o.logger.Warn("drop guard unavailable, counting anyway",
			zap.String("session_id", sessionID.String()), zap.Error(err))
	} else if !first {
		o.logger.Debug("drop already counted, dropping redelivery",
			zap.String("session_id", sessionID.String()),
			zap.String("fingerprint", fingerprint))
		return nil
	}

	delta := pipeline.Outcome{Class: class}.Delta()
	if err := o.store.Sessions().IncrementStats(ctx, sessionID, delta); err != nil {
		if ferr := o.cache.ForgetResult(ctx, sessionID, mark); ferr != nil {
			o.logger.Warn("failed to re-arm drop guard",
				zap.String("session_id", sessionID.String()), zap.Error(ferr))
		}
		return bus.Classified("UNAVAILABLE", err)
	}
	o.tryFinalize(ctx, sessionID)
	return nil
}

// handleValidatedResult scores one validated hit through the seven
// stage pipeline and applies its counter delta. The fingerprint guard
// makes redelivery of an already-counted result a no-op.
func (o *Orchestrator) handleValidatedResult(ctx context.Context, msg bus.Message) error {
	evt, err := msg.ValidatedResult()
	if err != nil {
		return err
	}
	res := evt.Result()
	fingerprint := res.Fingerprint()

	first, err := o.cache.MarkResultSeen(ctx, evt.SessionID, fingerprint)
	if err != nil {
		o.logger.Warn("redelivery guard unavailable, processing anyway",
			zap.String("session_id", evt.SessionID.String()), zap.Error(err))
	} else if !first {
		o.logger.Debug("result already processed, dropping redelivery",
			zap.String("session_id", evt.SessionID.String()),
			zap.String("fingerprint", fingerprint))
		return nil
	}

	sctx, err := o.sessionContext(ctx, evt.SessionID)
	if err != nil {
		o.forgetResult(ctx, evt.SessionID, fingerprint)
		return bus.Classified("UNAVAILABLE", err)
	}
	if sctx == nil {
		// Unknown or already-terminal session: stale output, not an
		// error. The mark is harmless; the set expires with the session.
		return nil
	}

	outcome, err := o.processor.Process(ctx, sctx, res)
	if err != nil {
		o.forgetResult(ctx, evt.SessionID, fingerprint)
		return err
	}

	if err := o.store.Sessions().IncrementStats(ctx, evt.SessionID, outcome.Delta()); err != nil {
		o.forgetResult(ctx, evt.SessionID, fingerprint)
		return bus.Classified("UNAVAILABLE", err)
	}

	o.tryFinalize(ctx, evt.SessionID)
	return nil
}

// forgetResult re-arms the redelivery guard for a result whose side
// effects did not complete, so a replay of its dead letter processes it
// as fresh.
func (o *Orchestrator) forgetResult(ctx context.Context, sessionID uuid.UUID, fingerprint string) {
	if err := o.cache.ForgetResult(ctx, sessionID, fingerprint); err != nil {
		o.logger.Warn("failed to re-arm redelivery guard",
			zap.String("session_id", sessionID.String()),
			zap.String("fingerprint", fingerprint),
			zap.Error(err))
	}
}

// tryFinalize attempts the RUNNING -> COMPLETED transition and, when it
// wins, releases the session's working state. Losing the race or
// failing the attempt is fine; the next counter advance retries.
func (o *Orchestrator) tryFinalize(ctx context.Context, sessionID uuid.UUID) {
	ctx, span := o.tracer.StartSpan(ctx, observability.SpanSessionFinalize,
		observability.WithAttribute(observability.AttrSessionID, sessionID.String()))
	defer o.tracer.EndSpan(span)

	finalized, err := o.store.Sessions().TryFinalize(ctx, sessionID)
	if err != nil {
		span.RecordError(err)
		o.logger.Warn("finalization attempt failed",
			zap.String("session_id", sessionID.String()), zap.Error(err))
		return
	}
	if !finalized {
		return
	}

	o.evictSession(sessionID)
	if err := o.cache.ForgetSession(ctx, sessionID); err != nil {
		o.logger.Warn("failed to drop session working sets",
			zap.String("session_id", sessionID.String()), zap.Error(err))
	}
	o.logger.Info("session completed",
		zap.String("session_id", sessionID.String()))
}
