package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/sandevgo/capassist/internal/core"
	"github.com/sandevgo/capassist/pkg/log"
)

func load[T any](ctx context.Context, s *Store, op, key string) *T {
	var v T
	ok, err := s.GetEntry(ctx, key, &v)
	if err != nil {
		s.logHelperError(ctx, op, key, err)
		return nil
	}
	if !ok {
		return nil
	}
	return &v
}

func (s *Store) save(ctx context.Context, op, typ, key string, value any) bool {
	if err := s.StoreEntry(ctx, key, value, s.ttlFor(typ)); err != nil {
		s.logHelperError(ctx, op, key, err)
		return false
	}
	return true
}

// update runs a read-modify-write cycle under the key lock. fn receives the
// current value (zero when absent) and returns the value to store, or false
// to leave the entry untouched.
func update[T any](ctx context.Context, s *Store, op, typ, key string, fn func(cur T, found bool) (T, bool)) bool {
	mu := s.lockFor(key)
	mu.Lock()
	defer mu.Unlock()

	var cur T
	found, err := s.get(ctx, key, &cur)
	if err != nil {
		s.logHelperError(ctx, op, key, err)
		return false
	}

	next, write := fn(cur, found)
	if !write {
		return false
	}
	if err := s.put(ctx, key, next, s.ttlFor(typ)); err != nil {
		s.logHelperError(ctx, op, key, err)
		return false
	}
	return true
}

// session context

func (s *Store) StoreSessionContext(ctx context.Context, session string, sc core.SessionContext) bool {
	now := s.NowMillis()
	sc.SessionID = session
	if sc.CreatedAt == 0 {
		sc.CreatedAt = now
	}
	sc.UpdatedAt = now
	if sc.PreviousQueries == nil {
		sc.PreviousQueries = []core.PreviousQuery{}
	}
	return s.save(ctx, "store_session_context", TypeContext, Key(session, TypeContext), sc)
}

func (s *Store) GetSessionContext(ctx context.Context, session string) *core.SessionContext {
	return load[core.SessionContext](ctx, s, "get_session_context", Key(session, TypeContext))
}

// UpdateSessionContextField sets one top-level field of an existing session
// context. It never creates the context.
func (s *Store) UpdateSessionContextField(ctx context.Context, session, field string, value any) error {
	key := Key(session, TypeContext)

	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%w: field %s: %v", core.ErrSerialization, field, err)
	}

	var missing bool
	ok := update(ctx, s, "update_session_context_field", TypeContext, key,
		func(cur map[string]json.RawMessage, found bool) (map[string]json.RawMessage, bool) {
			if !found || cur == nil {
				missing = true
				return nil, false
			}
			cur[field] = raw
			ts, _ := json.Marshal(s.NowMillis())
			cur["updated_at"] = ts
			return cur, true
		})

	if missing {
		return fmt.Errorf("%w: session %s", core.ErrContextMissing, session)
	}
	if !ok {
		return fmt.Errorf("failed to update session context field %s", field)
	}
	return nil
}

// AddPreviousQuery prepends q to the session's previous queries, creating
// the context on first use. The list is capped at MaxPreviousQueries.
func (s *Store) AddPreviousQuery(ctx context.Context, session string, q core.PreviousQuery) bool {
	limit := s.cfg.MaxPreviousQueries
	return update(ctx, s, "add_previous_query", TypeContext, Key(session, TypeContext),
		func(cur core.SessionContext, found bool) (core.SessionContext, bool) {
			now := s.NowMillis()
			if !found {
				cur = core.SessionContext{SessionID: session, CreatedAt: now}
			}
			cur.PreviousQueries = prependCapped(cur.PreviousQueries, limit, q)
			cur.UpdatedAt = now
			return cur, true
		})
}

// plans

func (s *Store) StorePlan(ctx context.Context, session string, plan core.Plan) bool {
	return s.save(ctx, "store_plan", TypePlans, Key(session, TypePlans, plan.QueryID), plan)
}

func (s *Store) GetPlan(ctx context.Context, session, queryID string) *core.Plan {
	return load[core.Plan](ctx, s, "get_plan", Key(session, TypePlans, queryID))
}

// step results

// StoreStepResult writes the result of one step and records the step in the
// query's step sequence. A successful result is final and is not replaced.
func (s *Store) StoreStepResult(ctx context.Context, session, queryID string, r core.StepResult) bool {
	key := stepKey(session, queryID, r.StepID)

	var final bool
	ok := update(ctx, s, "store_step_result", TypeSteps, key,
		func(cur core.StepResult, found bool) (core.StepResult, bool) {
			if found && cur.Success {
				final = true
				return cur, false
			}
			return r, true
		})
	if final {
		log.FromCtx(ctx).Warn().Str("step_id", r.StepID).Msg("refusing to overwrite successful step result")
		return false
	}
	if !ok {
		return false
	}

	return update(ctx, s, "store_step_result", TypeSteps, stepSeqKey(session, queryID),
		func(seq []string, _ bool) ([]string, bool) {
			if !slices.Contains(seq, r.StepID) {
				seq = append(seq, r.StepID)
			}
			return seq, true
		})
}

func (s *Store) GetStepResult(ctx context.Context, session, queryID, stepID string) *core.StepResult {
	return load[core.StepResult](ctx, s, "get_step_result", stepKey(session, queryID, stepID))
}

// GetStepResults returns the stored results of a query in storage order.
func (s *Store) GetStepResults(ctx context.Context, session, queryID string) []core.StepResult {
	seq := load[[]string](ctx, s, "get_step_results", stepSeqKey(session, queryID))
	if seq == nil {
		return []core.StepResult{}
	}

	results := make([]core.StepResult, 0, len(*seq))
	for _, id := range *seq {
		if r := s.GetStepResult(ctx, session, queryID, id); r != nil {
			results = append(results, *r)
		}
	}
	return results
}

// final results

func (s *Store) StoreFinalResult(ctx context.Context, session string, r core.FinalResult) bool {
	return s.save(ctx, "store_final_result", TypeResults, Key(session, TypeResults, r.QueryID), r)
}

func (s *Store) GetFinalResult(ctx context.Context, session, queryID string) *core.FinalResult {
	return load[core.FinalResult](ctx, s, "get_final_result", Key(session, TypeResults, queryID))
}

// entity mentions

// StoreEntityMentions prepends mentions so the last one given becomes the
// newest. The sequence is trimmed from the tail at MaxEntityHistory.
func (s *Store) StoreEntityMentions(ctx context.Context, session string, mentions ...core.EntityMention) bool {
	if len(mentions) == 0 {
		return true
	}
	now := s.NowMillis()
	limit := s.cfg.MaxEntityHistory

	return update(ctx, s, "store_entity_mentions", TypeEntities, Key(session, TypeEntities),
		func(cur []core.EntityMention, _ bool) ([]core.EntityMention, bool) {
			for _, m := range mentions {
				if m.MentionedAt == 0 {
					m.MentionedAt = now
				}
				cur = prependCapped(cur, limit, m)
			}
			return cur, true
		})
}

// GetEntityMentions returns up to limit mentions, newest first. A
// non-positive limit returns all of them.
func (s *Store) GetEntityMentions(ctx context.Context, session string, limit int) []core.EntityMention {
	mentions := load[[]core.EntityMention](ctx, s, "get_entity_mentions", Key(session, TypeEntities))
	if mentions == nil {
		return []core.EntityMention{}
	}
	return head(*mentions, limit)
}

type EntityFilter struct {
	MinConfidence float64
	// MaxAge drops mentions older than this, measured on the store clock.
	MaxAge time.Duration
}

func (s *Store) GetLatestEntityOfType(ctx context.Context, session, typ string, f EntityFilter) *core.EntityMention {
	now := s.NowMillis()
	for _, m := range s.GetEntityMentions(ctx, session, 0) {
		if m.Type != typ || m.Confidence < f.MinConfidence {
			continue
		}
		if f.MaxAge > 0 && now-m.MentionedAt > f.MaxAge.Milliseconds() {
			continue
		}
		return &m
	}
	return nil
}

// retrieved knowledge

// StoreRetrievedKnowledge replaces the knowledge record of a query. Items
// beyond MaxKnowledgeItems are dropped; ItemCount keeps the original count.
func (s *Store) StoreRetrievedKnowledge(ctx context.Context, session, queryID string, rk core.RetrievedKnowledge) bool {
	if rk.Metadata.ItemCount < len(rk.Items) {
		rk.Metadata.ItemCount = len(rk.Items)
	}
	if limit := s.cfg.MaxKnowledgeItems; limit > 0 && len(rk.Items) > limit {
		rk.Items = rk.Items[:limit]
	}
	if rk.Items == nil {
		rk.Items = []core.KnowledgeItem{}
	}
	rk.Metadata.StoredItemCount = len(rk.Items)
	if rk.Metadata.Timestamp == 0 {
		rk.Metadata.Timestamp = s.NowMillis()
	}
	return s.save(ctx, "store_retrieved_knowledge", TypeKnowledge, Key(session, TypeKnowledge, queryID), rk)
}

func (s *Store) GetRetrievedKnowledge(ctx context.Context, session, queryID string) *core.RetrievedKnowledge {
	return load[core.RetrievedKnowledge](ctx, s, "get_retrieved_knowledge", Key(session, TypeKnowledge, queryID))
}

// retrieval history

func (s *Store) AddRetrievalEvent(ctx context.Context, session string, ev core.RetrievalEvent) bool {
	if ev.Timestamp == 0 {
		ev.Timestamp = s.NowMillis()
	}
	limit := s.cfg.MaxRetrievalHistory
	return update(ctx, s, "add_retrieval_event", TypeRetrievalHistory, Key(session, TypeRetrievalHistory),
		func(cur []core.RetrievalEvent, _ bool) ([]core.RetrievalEvent, bool) {
			return prependCapped(cur, limit, ev), true
		})
}

// GetRetrievalHistory returns up to limit events, newest first.
func (s *Store) GetRetrievalHistory(ctx context.Context, session string, limit int) []core.RetrievalEvent {
	events := load[[]core.RetrievalEvent](ctx, s, "get_retrieval_history", Key(session, TypeRetrievalHistory))
	if events == nil {
		return []core.RetrievalEvent{}
	}
	return head(*events, limit)
}

// retrieval context

func (s *Store) StoreRetrievalContext(ctx context.Context, session string, q core.Query) bool {
	return s.save(ctx, "store_retrieval_context", TypeRetrievalContext, Key(session, TypeRetrievalContext, q.ID), q)
}

func (s *Store) GetRetrievalContext(ctx context.Context, session, queryID string) *core.Query {
	return load[core.Query](ctx, s, "get_retrieval_context", Key(session, TypeRetrievalContext, queryID))
}

// query links

// LinkQueries records that from relates to an earlier query to. Links are
// stored under the from query.
func (s *Store) LinkQueries(ctx context.Context, session, from, to string, rel core.Relationship) bool {
	link := core.QueryLink{
		FromQueryID:  from,
		ToQueryID:    to,
		Relationship: rel,
		Timestamp:    s.NowMillis(),
	}
	return update(ctx, s, "link_queries", TypeLinks, Key(session, TypeLinks, from),
		func(cur []core.QueryLink, _ bool) ([]core.QueryLink, bool) {
			for i, l := range cur {
				if l.ToQueryID == to {
					cur[i] = link
					return cur, true
				}
			}
			return append(cur, link), true
		})
}

func (s *Store) GetQueryLinks(ctx context.Context, session, queryID string) []core.QueryLink {
	links := load[[]core.QueryLink](ctx, s, "get_query_links", Key(session, TypeLinks, queryID))
	if links == nil {
		return []core.QueryLink{}
	}
	return *links
}

func prependCapped[T any](list []T, limit int, v T) []T {
	out := make([]T, 0, len(list)+1)
	out = append(out, v)
	out = append(out, list...)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func head[T any](list []T, limit int) []T {
	if limit > 0 && len(list) > limit {
		return list[:limit]
	}
	return list
}
