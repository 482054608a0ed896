package memory

import (
	"context"
	"fmt"

	"github.com/sandevgo/capassist/internal/core"
	"github.com/sandevgo/capassist/pkg/log"
)

type QueryInfo struct {
	Plan   *core.Plan        `json:"plan,omitempty"`
	Result *core.FinalResult `json:"result,omitempty"`
}

type LinkedQuery struct {
	Relationship core.Relationship `json:"relationship"`
	Result       *core.FinalResult `json:"result,omitempty"`
}

type FollowUpContext struct {
	SessionContext *core.SessionContext   `json:"session_context,omitempty"`
	QueryInfo      *QueryInfo             `json:"query_info,omitempty"`
	LinkedQueries  map[string]LinkedQuery `json:"linked_queries,omitempty"`
	Error          string                 `json:"error,omitempty"`
	Timestamp      int64                  `json:"timestamp"`
}

type RetrievalContext struct {
	SessionContext   *core.SessionContext            `json:"session_context,omitempty"`
	CurrentQuery     *core.Query                     `json:"current_query,omitempty"`
	RecentEntities   []core.EntityMention            `json:"recent_entities,omitempty"`
	RetrievalHistory []core.RetrievalEvent           `json:"retrieval_history,omitempty"`
	PriorKnowledge   map[string][]core.KnowledgeItem `json:"prior_knowledge,omitempty"`
	LinkedQueries    map[string]LinkedQuery          `json:"linked_queries,omitempty"`
	Error            string                          `json:"error,omitempty"`
	Timestamp        int64                           `json:"timestamp"`
}

type RetrievalContextOptions struct {
	EntityLimit  int
	HistoryLimit int
}

func DefaultRetrievalContextOptions() RetrievalContextOptions {
	return RetrievalContextOptions{EntityLimit: 10, HistoryLimit: 5}
}

// GetContextForFollowUp assembles what a follow-up turn needs to know about
// an earlier query. Failures are reported in the Error field.
func (s *Store) GetContextForFollowUp(ctx context.Context, session, queryID string) (out FollowUpContext) {
	now := s.NowMillis()
	defer func() {
		if r := recover(); r != nil {
			out = FollowUpContext{Error: fmt.Sprintf("context assembly failed: %v", r), Timestamp: now}
		}
	}()

	sc, err := s.strictLoadContext(ctx, session)
	if err != nil {
		return FollowUpContext{Error: err.Error(), Timestamp: now}
	}

	out = FollowUpContext{SessionContext: sc, Timestamp: now}

	if queryID != "" {
		plan := s.GetPlan(ctx, session, queryID)
		result := s.GetFinalResult(ctx, session, queryID)
		if plan != nil || result != nil {
			out.QueryInfo = &QueryInfo{Plan: plan, Result: result}
		}
		out.LinkedQueries = s.linkedQueries(ctx, session, queryID)
	}
	return out
}

// GetKnowledgeRetrievalContext assembles the session state relevant to
// retrieving knowledge for queryID.
func (s *Store) GetKnowledgeRetrievalContext(ctx context.Context, session, queryID string, opts RetrievalContextOptions) (out RetrievalContext) {
	now := s.NowMillis()
	defer func() {
		if r := recover(); r != nil {
			out = RetrievalContext{Error: fmt.Sprintf("context assembly failed: %v", r), Timestamp: now}
		}
	}()

	sc, err := s.strictLoadContext(ctx, session)
	if err != nil {
		log.FromCtx(ctx).Error().Err(err).Str("session_id", session).Msg("failed to assemble retrieval context")
		return RetrievalContext{Error: err.Error(), Timestamp: now}
	}

	out = RetrievalContext{
		SessionContext:   sc,
		CurrentQuery:     s.GetRetrievalContext(ctx, session, queryID),
		RecentEntities:   s.GetEntityMentions(ctx, session, opts.EntityLimit),
		RetrievalHistory: s.GetRetrievalHistory(ctx, session, opts.HistoryLimit),
		PriorKnowledge:   map[string][]core.KnowledgeItem{},
		LinkedQueries:    s.linkedQueries(ctx, session, queryID),
		Timestamp:        now,
	}

	for _, ev := range out.RetrievalHistory {
		if ev.QueryID == "" || ev.QueryID == queryID {
			continue
		}
		if _, seen := out.PriorKnowledge[ev.QueryID]; seen {
			continue
		}
		if rk := s.GetRetrievedKnowledge(ctx, session, ev.QueryID); rk != nil {
			out.PriorKnowledge[ev.QueryID] = rk.Items
		}
	}
	return out
}

func (s *Store) strictLoadContext(ctx context.Context, session string) (*core.SessionContext, error) {
	if session == "" {
		return nil, fmt.Errorf("%w: empty session id", core.ErrContextMissing)
	}
	var sc core.SessionContext
	ok, err := s.GetEntry(ctx, Key(session, TypeContext), &sc)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &sc, nil
}

func (s *Store) linkedQueries(ctx context.Context, session, queryID string) map[string]LinkedQuery {
	links := s.GetQueryLinks(ctx, session, queryID)
	out := make(map[string]LinkedQuery, len(links))
	for _, l := range links {
		out[l.ToQueryID] = LinkedQuery{
			Relationship: l.Relationship,
			Result:       s.GetFinalResult(ctx, session, l.ToQueryID),
		}
	}
	return out
}
