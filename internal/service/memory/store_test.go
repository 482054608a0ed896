package memory

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandevgo/capassist/internal/config"
	"github.com/sandevgo/capassist/internal/core"
	"github.com/sandevgo/capassist/internal/core/coretest"
	"github.com/sandevgo/capassist/internal/metrics"
	"github.com/sandevgo/capassist/internal/storage/memcache"
)

func newTestStore(t *testing.T) (*Store, *memcache.Cache, *coretest.Clock) {
	t.Helper()
	backend := memcache.New()
	clock := coretest.NewClock()
	cfg := config.DefaultMemoryConfig()
	return NewStore(backend, cfg, WithClock(clock.Now)), backend, clock
}

func TestStore_EntryExpiresAndIsEvictedOnAccess(t *testing.T) {
	ctx := context.Background()
	backend := memcache.New()
	clock := coretest.NewClock()
	m := metrics.New(prometheus.NewRegistry())
	s := NewStore(backend, config.DefaultMemoryConfig(), WithClock(clock.Now), WithMetrics(m))

	require.NoError(t, s.StoreEntry(ctx, "s1:context", map[string]any{"k": "v"}, 50*time.Millisecond))

	var got map[string]any
	ok, err := s.GetEntry(ctx, "s1:context", &got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v", got["k"])

	clock.Advance(100 * time.Millisecond)

	ok, err = s.GetEntry(ctx, "s1:context", &got)
	require.NoError(t, err)
	assert.False(t, ok)

	_, present, _ := backend.Get(ctx, "s1:context")
	assert.False(t, present, "expired entry must be removed from the backend on access")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MemoryEvictions.WithLabelValues("lazy")))
}

func TestStore_ExpiryBoundaryIsInclusive(t *testing.T) {
	ctx := context.Background()
	s, _, clock := newTestStore(t)

	require.NoError(t, s.StoreEntry(ctx, "k", 1, time.Second))
	clock.Advance(999 * time.Millisecond)
	ok, _ := s.GetEntry(ctx, "k", nil)
	assert.True(t, ok)

	clock.Advance(time.Millisecond)
	ok, _ = s.GetEntry(ctx, "k", nil)
	assert.False(t, ok)
}

func TestStore_DefaultTTL(t *testing.T) {
	ctx := context.Background()
	s, _, clock := newTestStore(t)

	require.NoError(t, s.StoreEntry(ctx, "k", "v", 0))
	clock.Advance(s.Config().DefaultTTL - time.Second)
	ok, _ := s.GetEntry(ctx, "k", nil)
	assert.True(t, ok)

	clock.Advance(2 * time.Second)
	ok, _ = s.GetEntry(ctx, "k", nil)
	assert.False(t, ok)
}

func TestStore_Serialization(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestStore(t)

	cyclic := map[string]any{"name": "loop"}
	cyclic["self"] = cyclic

	tests := []struct {
		name  string
		value any
	}{
		{name: "cycle", value: cyclic},
		{name: "channel", value: make(chan int)},
		{name: "function", value: func() {}},
		{name: "nan", value: math.NaN()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.StoreEntry(ctx, "bad", tt.value, time.Minute)
			require.Error(t, err)
			assert.ErrorIs(t, err, core.ErrSerialization)

			ok, _ := s.GetEntry(ctx, "bad", nil)
			assert.False(t, ok)
		})
	}
}

func TestStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestStore(t)

	plan := core.Plan{
		QueryID:       "q1",
		OriginalQuery: "What if we add 5 stands?",
		Steps: []core.Step{
			{ID: "step-1", Number: 1, Type: core.StepKnowledgeRetrieval, DependsOn: []string{}},
			{ID: "step-2", Number: 2, Type: core.StepCalculation, DependsOn: []string{"step-1"},
				Parameters: map[string]any{"operation": "sum", "values": []any{1.0, 2.0}}},
		},
		TotalSteps: 2,
		Confidence: 0.8,
	}

	require.True(t, s.StorePlan(ctx, "s1", plan))
	got := s.GetPlan(ctx, "s1", "q1")
	require.NotNil(t, got)
	assert.Equal(t, plan, *got)
}

func TestStore_ClearSessionData(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestStore(t)

	populate := func(session string) {
		require.True(t, s.StoreSessionContext(ctx, session, core.SessionContext{}))
		require.True(t, s.StorePlan(ctx, session, core.Plan{QueryID: "q1"}))
		require.True(t, s.StoreStepResult(ctx, session, "q1", core.StepResult{StepID: "step-1", Success: true}))
		require.True(t, s.StoreFinalResult(ctx, session, core.FinalResult{QueryID: "q1", Answer: "a"}))
		require.True(t, s.StoreEntityMentions(ctx, session, core.EntityMention{Type: "terminal", Value: "A", Confidence: 1}))
		require.True(t, s.StoreRetrievedKnowledge(ctx, session, "q1", core.RetrievedKnowledge{Items: []core.KnowledgeItem{{Content: "x"}}}))
		require.True(t, s.AddRetrievalEvent(ctx, session, core.RetrievalEvent{QueryID: "q1", Strategy: "vector"}))
		require.True(t, s.StoreRetrievalContext(ctx, session, core.Query{ID: "q1", Text: "t"}))
		require.True(t, s.LinkQueries(ctx, session, "q1", "q0", core.RelFollowUp))
	}
	populate("s1")
	populate("s10")

	assert.Equal(t, 10, s.ClearSessionData(ctx, "s1"))

	assert.Nil(t, s.GetSessionContext(ctx, "s1"))
	assert.Nil(t, s.GetPlan(ctx, "s1", "q1"))
	assert.Nil(t, s.GetStepResult(ctx, "s1", "q1", "step-1"))
	assert.Empty(t, s.GetStepResults(ctx, "s1", "q1"))
	assert.Nil(t, s.GetFinalResult(ctx, "s1", "q1"))
	assert.Empty(t, s.GetEntityMentions(ctx, "s1", 0))
	assert.Nil(t, s.GetRetrievedKnowledge(ctx, "s1", "q1"))
	assert.Empty(t, s.GetRetrievalHistory(ctx, "s1", 0))
	assert.Nil(t, s.GetRetrievalContext(ctx, "s1", "q1"))
	assert.Empty(t, s.GetQueryLinks(ctx, "s1", "q1"))

	assert.NotNil(t, s.GetSessionContext(ctx, "s10"), "sessions sharing a prefix are untouched")
	assert.Len(t, s.GetStepResults(ctx, "s10", "q1"), 1)
}

func TestStore_EntityMentions(t *testing.T) {
	ctx := context.Background()
	s, _, clock := newTestStore(t)
	s.cfg.MaxEntityHistory = 3

	for i := 1; i <= 5; i++ {
		clock.Advance(time.Second)
		require.True(t, s.StoreEntityMentions(ctx, "s1", core.EntityMention{
			Type:       "terminal",
			Value:      fmt.Sprintf("T%d", i),
			Confidence: float64(i) / 5,
			QueryID:    fmt.Sprintf("q%d", i),
		}))
	}

	mentions := s.GetEntityMentions(ctx, "s1", 0)
	require.Len(t, mentions, 3)
	assert.Equal(t, []string{"T5", "T4", "T3"}, []string{mentions[0].Value, mentions[1].Value, mentions[2].Value})
	assert.Len(t, s.GetEntityMentions(ctx, "s1", 2), 2)

	t.Run("latest of type", func(t *testing.T) {
		m := s.GetLatestEntityOfType(ctx, "s1", "terminal", EntityFilter{})
		require.NotNil(t, m)
		assert.Equal(t, "T5", m.Value)
	})

	t.Run("confidence floor skips newer mentions", func(t *testing.T) {
		require.True(t, s.StoreEntityMentions(ctx, "s1", core.EntityMention{Type: "terminal", Value: "T9", Confidence: 0.1}))
		m := s.GetLatestEntityOfType(ctx, "s1", "terminal", EntityFilter{MinConfidence: 0.5})
		require.NotNil(t, m)
		assert.Equal(t, "T5", m.Value)
	})

	t.Run("max age", func(t *testing.T) {
		clock.Advance(time.Hour)
		assert.Nil(t, s.GetLatestEntityOfType(ctx, "s1", "terminal", EntityFilter{MaxAge: time.Minute}))
	})

	t.Run("unknown type", func(t *testing.T) {
		assert.Nil(t, s.GetLatestEntityOfType(ctx, "s1", "stand", EntityFilter{}))
	})
}

func TestStore_RetrievalHistory(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestStore(t)
	s.cfg.MaxRetrievalHistory = 2

	for _, q := range []string{"q1", "q2", "q3"} {
		require.True(t, s.AddRetrievalEvent(ctx, "s1", core.RetrievalEvent{QueryID: q, Strategy: "structured"}))
	}

	history := s.GetRetrievalHistory(ctx, "s1", 0)
	require.Len(t, history, 2)
	assert.Equal(t, "q3", history[0].QueryID)
	assert.Equal(t, "q2", history[1].QueryID)
	assert.NotZero(t, history[0].Timestamp)

	assert.Len(t, s.GetRetrievalHistory(ctx, "s1", 1), 1)
}

func TestStore_RetrievedKnowledgeCap(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestStore(t)
	s.cfg.MaxKnowledgeItems = 3

	items := make([]core.KnowledgeItem, 7)
	for i := range items {
		items[i] = core.KnowledgeItem{Type: core.KnowledgeFact, Content: fmt.Sprintf("item %d", i)}
	}

	require.True(t, s.StoreRetrievedKnowledge(ctx, "s1", "q1", core.RetrievedKnowledge{
		Items:    items,
		Metadata: core.RetrievalMetadata{Strategy: "structured"},
	}))

	rk := s.GetRetrievedKnowledge(ctx, "s1", "q1")
	require.NotNil(t, rk)
	assert.Len(t, rk.Items, 3)
	assert.Equal(t, 7, rk.Metadata.ItemCount)
	assert.Equal(t, 3, rk.Metadata.StoredItemCount)
	assert.Equal(t, "item 0", rk.Items[0].Content)

	require.True(t, s.StoreRetrievedKnowledge(ctx, "s1", "q1", core.RetrievedKnowledge{Items: items[:1]}))
	rk = s.GetRetrievedKnowledge(ctx, "s1", "q1")
	require.NotNil(t, rk)
	assert.Len(t, rk.Items, 1, "re-retrieval replaces the record")
}

func TestStore_SessionContext(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestStore(t)

	err := s.UpdateSessionContextField(ctx, "s1", "user_preferences", map[string]any{"tone": "friendly"})
	require.ErrorIs(t, err, core.ErrContextMissing)
	assert.Nil(t, s.GetSessionContext(ctx, "s1"), "update never creates the context")

	require.True(t, s.StoreSessionContext(ctx, "s1", core.SessionContext{User: core.UserInfo{Role: "planner"}}))
	require.NoError(t, s.UpdateSessionContextField(ctx, "s1", "user_preferences", map[string]any{"tone": "friendly"}))

	sc := s.GetSessionContext(ctx, "s1")
	require.NotNil(t, sc)
	assert.Equal(t, "friendly", sc.UserPreferences["tone"])
	assert.Equal(t, "planner", sc.User.Role)
	assert.Equal(t, "s1", sc.SessionID)

	err = s.UpdateSessionContextField(ctx, "s1", "bad", make(chan int))
	assert.ErrorIs(t, err, core.ErrSerialization)
}

func TestStore_PreviousQueriesCapped(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestStore(t)

	for i := 1; i <= 7; i++ {
		require.True(t, s.AddPreviousQuery(ctx, "s1", core.PreviousQuery{QueryID: fmt.Sprintf("q%d", i)}))
	}

	sc := s.GetSessionContext(ctx, "s1")
	require.NotNil(t, sc)
	require.Len(t, sc.PreviousQueries, 5)
	assert.Equal(t, "q7", sc.PreviousQueries[0].QueryID)
	assert.Equal(t, "q3", sc.PreviousQueries[4].QueryID)
}

func TestStore_ClearSessionDataSeparatorInSessionID(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestStore(t)

	require.True(t, s.StoreSessionContext(ctx, "a", core.SessionContext{}))
	require.True(t, s.StoreSessionContext(ctx, "a:b", core.SessionContext{}))
	require.True(t, s.StorePlan(ctx, "a:b", core.Plan{QueryID: "q1"}))

	assert.Equal(t, 1, s.ClearSessionData(ctx, "a"))
	assert.Nil(t, s.GetSessionContext(ctx, "a"))
	assert.NotNil(t, s.GetSessionContext(ctx, "a:b"))
	assert.NotNil(t, s.GetPlan(ctx, "a:b", "q1"))
}

func TestKey(t *testing.T) {
	tests := []struct {
		name    string
		session string
		typ     string
		ids     []string
		want    string
	}{
		{name: "session only", session: "s1", typ: TypeContext, want: "s1:context"},
		{name: "with ids", session: "s1", typ: TypeSteps, ids: []string{"q1", "step-1"}, want: "s1:steps:q1:step-1"},
		{name: "empty id skipped", session: "s1", typ: TypeLinks, ids: []string{""}, want: "s1:links"},
		{name: "separator escaped", session: "a:b", typ: TypeSteps, ids: []string{"q:1"}, want: "a%3Ab:steps:q%3A1"},
		{name: "percent escaped", session: "a%3Ab", typ: TypeContext, want: "a%253Ab:context"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Key(tt.session, tt.typ, tt.ids...))
		})
	}

	assert.NotEqual(t, Key("a", TypeSteps, "b:c"), Key("a", TypeSteps, "b", "c"))
	assert.Equal(t, "a%3Ab:", SessionPrefix("a:b"))
}

func TestStore_StepResults(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestStore(t)

	require.True(t, s.StoreStepResult(ctx, "s1", "q1", core.StepResult{StepID: "step-1", StepNumber: 1, Status: core.StepRunning}))
	require.True(t, s.StoreStepResult(ctx, "s1", "q1", core.StepResult{StepID: "step-1", StepNumber: 1, Status: core.StepSuccess, Success: true}))
	require.True(t, s.StoreStepResult(ctx, "s1", "q1", core.StepResult{StepID: "step-2", StepNumber: 2, Status: core.StepFailed}))

	assert.False(t, s.StoreStepResult(ctx, "s1", "q1", core.StepResult{StepID: "step-1", StepNumber: 1, Status: core.StepFailed}),
		"successful results are final")

	results := s.GetStepResults(ctx, "s1", "q1")
	require.Len(t, results, 2)
	assert.Equal(t, 1, results[0].StepNumber)
	assert.True(t, results[0].Success)
	assert.Equal(t, 2, results[1].StepNumber)
}

func TestStore_RefreshTTL(t *testing.T) {
	ctx := context.Background()
	s, _, clock := newTestStore(t)

	require.True(t, s.StorePlan(ctx, "s1", core.Plan{QueryID: "q1"}))
	clock.Advance(s.cfg.PlanTTL - time.Minute)

	require.True(t, s.RefreshTTL(ctx, "s1", TypePlans, "q1", 0))
	clock.Advance(2 * time.Minute)
	assert.NotNil(t, s.GetPlan(ctx, "s1", "q1"))

	assert.False(t, s.RefreshTTL(ctx, "s1", TypePlans, "missing", 0))
}

func TestStore_Sweep(t *testing.T) {
	ctx := context.Background()
	s, backend, clock := newTestStore(t)

	require.NoError(t, s.StoreEntry(ctx, "s1:a", 1, time.Second))
	require.NoError(t, s.StoreEntry(ctx, "s1:b", 2, time.Second))
	require.NoError(t, s.StoreEntry(ctx, "s1:c", 3, time.Hour))
	require.NoError(t, backend.Set(ctx, "s1:garbage", []byte("not json"), 0))

	clock.Advance(2 * time.Second)

	n, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 1, backend.Len())
}

type brokenBackend struct{ memcache.Cache }

var errBackend = errors.New("backend unavailable")

func (b *brokenBackend) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errBackend
}

func (b *brokenBackend) Set(context.Context, string, []byte, time.Duration) error {
	return errBackend
}

func TestStore_HelpersSwallowBackendErrors(t *testing.T) {
	ctx := context.Background()
	s := NewStore(&brokenBackend{Cache: *memcache.New()}, config.DefaultMemoryConfig())

	assert.False(t, s.StorePlan(ctx, "s1", core.Plan{QueryID: "q1"}))
	assert.Nil(t, s.GetPlan(ctx, "s1", "q1"))
	assert.False(t, s.StoreEntityMentions(ctx, "s1", core.EntityMention{Type: "t"}))
	assert.Empty(t, s.GetEntityMentions(ctx, "s1", 0))

	fc := s.GetContextForFollowUp(ctx, "s1", "q1")
	assert.NotEmpty(t, fc.Error)
	assert.NotZero(t, fc.Timestamp)

	rc := s.GetKnowledgeRetrievalContext(ctx, "s1", "q1", DefaultRetrievalContextOptions())
	assert.NotEmpty(t, rc.Error)
}
