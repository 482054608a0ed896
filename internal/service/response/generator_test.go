package response

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandevgo/capassist/internal/config"
	"github.com/sandevgo/capassist/internal/core"
	"github.com/sandevgo/capassist/internal/core/coretest"
	"github.com/sandevgo/capassist/internal/metrics"
	"github.com/sandevgo/capassist/internal/service/memory"
	"github.com/sandevgo/capassist/internal/service/reasoning"
	"github.com/sandevgo/capassist/internal/storage/memcache"
)

type fakeReasoner struct {
	result reasoning.Result
	panics bool
	calls  []string
}

func (f *fakeReasoner) ExecuteQuery(_ context.Context, text string, opts reasoning.Options) reasoning.Result {
	if f.panics {
		panic("boom")
	}
	f.calls = append(f.calls, text)
	res := f.result
	res.QueryID = opts.QueryID
	return res
}

func ptr[T any](v T) *T { return &v }

func newGenerator(t *testing.T, llm core.LLM, mem Memory, opts ...Option) *Generator {
	t.Helper()
	g, err := NewGenerator(config.DefaultResponseConfig(), llm, mem, opts...)
	require.NoError(t, err)
	return g
}

func newStore() *memory.Store {
	return memory.NewStore(memcache.New(), config.DefaultMemoryConfig())
}

func capacityRequest() Request {
	return Request{
		Intent:   "capacity_query",
		Query:    "What is the capacity of T1 in the morning?",
		Entities: map[string]string{"terminal": "T1", "time_period": "morning"},
		Data: map[string]any{
			"capacity_value":     "42 stands",
			"additional_details": "Includes all stands.",
		},
	}
}

func labels(actions []core.SuggestedAction) []string {
	out := make([]string, 0, len(actions))
	for _, a := range actions {
		out = append(out, a.Label)
	}
	return out
}

func TestGenerateResponse_Template(t *testing.T) {
	ctx := context.Background()
	llm := &coretest.LLM{}
	store := newStore()
	g := newGenerator(t, llm, store)

	req := capacityRequest()
	req.Options = Options{SessionID: "s1", QueryID: "q1"}
	resp := g.GenerateResponse(ctx, req)

	assert.Equal(t, PathTemplate, resp.Path)
	assert.Equal(t, "The capacity of T1 during the morning is 42 stands. Includes all stands.", resp.Text)
	assert.Contains(t, resp.Text, "T1")
	assert.Contains(t, resp.Text, "morning")
	assert.Contains(t, resp.Text, "42 stands")
	assert.Empty(t, resp.Error)
	assert.Equal(t, "q1", resp.RequestID)
	assert.Zero(t, llm.Calls())

	acts := labels(resp.SuggestedActions)
	assert.Contains(t, acts, "Show capacity chart")
	assert.Equal(t, "Help with this topic", acts[len(acts)-1])

	final := store.GetFinalResult(ctx, "s1", "q1")
	require.NotNil(t, final)
	assert.Equal(t, "The capacity of T1 during the morning is 42 stands. Includes all stands.", final.Answer)

	sc := store.GetSessionContext(ctx, "s1")
	require.NotNil(t, sc)
	require.Len(t, sc.PreviousQueries, 1)
	assert.Equal(t, "What is the capacity of T1 in the morning?", sc.PreviousQueries[0].Text)
	assert.Equal(t, "capacity_query", sc.PreviousQueries[0].Intent)

	mentions := store.GetEntityMentions(ctx, "s1", 0)
	require.Len(t, mentions, 2)
	for _, m := range mentions {
		assert.Equal(t, 1.0, m.Confidence)
		assert.Equal(t, "q1", m.QueryID)
	}
}

func TestGenerateResponse_TemplateMissingFields(t *testing.T) {
	ctx := context.Background()

	t.Run("filled by llm", func(t *testing.T) {
		var got core.ContentRequest
		llm := &coretest.LLM{GenerateContentFn: func(req core.ContentRequest) (map[string]string, error) {
			got = req
			return map[string]string{"additional_details": "Two stands are closed."}, nil
		}}
		g := newGenerator(t, llm, nil)

		req := capacityRequest()
		delete(req.Data, "additional_details")
		resp := g.GenerateResponse(ctx, req)

		assert.Equal(t, []string{"additional_details"}, got.MissingFields)
		assert.Contains(t, got.Template, "42 stands")
		assert.Equal(t, "The capacity of T1 during the morning is 42 stands. Two stands are closed.", resp.Text)
	})

	t.Run("stripped when llm fails", func(t *testing.T) {
		llm := &coretest.LLM{GenerateContentFn: func(core.ContentRequest) (map[string]string, error) {
			return nil, errors.New("upstream down")
		}}
		g := newGenerator(t, llm, nil)

		req := capacityRequest()
		delete(req.Data, "additional_details")
		resp := g.GenerateResponse(ctx, req)

		assert.Equal(t, PathTemplate, resp.Path)
		assert.Equal(t, "The capacity of T1 during the morning is 42 stands.", resp.Text)
	})

	t.Run("stripped when llm disabled", func(t *testing.T) {
		llm := &coretest.LLM{}
		g := newGenerator(t, llm, nil)

		req := capacityRequest()
		delete(req.Data, "additional_details")
		req.Options.UseLLM = ptr(false)
		resp := g.GenerateResponse(ctx, req)

		assert.Equal(t, "The capacity of T1 during the morning is 42 stands.", resp.Text)
		assert.Zero(t, llm.Calls())
	})
}

func TestGenerateResponse_Defaults(t *testing.T) {
	tests := []struct {
		name  string
		count any
		want  string
	}{
		{name: "singular", count: 1, want: "There is 1 maintenance item scheduled for Terminal A."},
		{name: "plural", count: 3, want: "There are 3 maintenance items scheduled for Terminal A."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newGenerator(t, nil, nil)
			resp := g.GenerateResponse(context.Background(), Request{
				Intent:   "maintenance_status",
				Entities: map[string]string{"terminal": "Terminal A"},
				Data:     map[string]any{"count": tt.count},
			})
			assert.Equal(t, tt.want, resp.Text)
		})
	}
}

func TestGenerateResponse_ErrorPath(t *testing.T) {
	g := newGenerator(t, &coretest.LLM{}, nil)

	resp := g.GenerateResponse(context.Background(), Request{
		Intent:   "stand_status",
		Entities: map[string]string{"stand": "Stand 99"},
		Err:      fmt.Errorf("stands 99: %w", core.ErrNotFound),
	})

	assert.Equal(t, PathError, resp.Path)
	assert.Equal(t, "I couldn't find Stand 99. Please check the name and try again.", resp.Text)
	assert.Contains(t, resp.Error, "not found")
	assert.Empty(t, resp.Visualizations)
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{err: core.ErrNotFound, want: ErrNotFound},
		{err: fmt.Errorf("x: %w", core.ErrAccessDenied), want: ErrAccessDenied},
		{err: core.ErrInvalidParameters, want: ErrInvalidParameters},
		{err: core.ErrInvalidPlan, want: ErrInvalidParameters},
		{err: context.DeadlineExceeded, want: ErrTimeout},
		{err: core.ErrUpstream, want: ErrServer},
		{err: errors.New("something else"), want: ErrGeneric},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, errorKind(tt.err))
		})
	}
}

func TestGenerateResponse_Routing(t *testing.T) {
	answer := reasoning.Result{Success: true, Answer: "Adding 5 stands raises capacity to 25.", Confidence: 0.9}

	tests := []struct {
		name     string
		intent   string
		query    string
		use      *bool
		result   reasoning.Result
		wantPath string
		wantCall bool
	}{
		{name: "complex intent", intent: "what_if", query: "Add 5 stands to Terminal A", result: answer, wantPath: PathReasoning, wantCall: true},
		{name: "indicator", intent: "capacity_query", query: "Why is capacity low at T1?", result: answer, wantPath: PathReasoning, wantCall: true},
		{name: "indicator inside word", intent: "capacity_query", query: "Show capacity for T1", result: answer, wantPath: PathTemplate},
		{name: "explicitly disabled", intent: "what_if", query: "Add 5 stands", use: ptr(false), result: answer, wantPath: PathLLM},
		{name: "explicitly enabled", intent: "capacity_query", query: "Capacity of T1", use: ptr(true), result: answer, wantPath: PathReasoning, wantCall: true},
		{
			name: "failure falls through", intent: "capacity_query", query: "Explain capacity of T1",
			result: reasoning.Result{Error: "step-2: boom", ErrorKind: "step_error"}, wantPath: PathTemplate, wantCall: true,
		},
		{
			name: "timeout", intent: "capacity_query", query: "Explain capacity of T1",
			result: reasoning.Result{Error: "deadline exceeded", ErrorKind: "timeout"}, wantPath: PathError, wantCall: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &fakeReasoner{result: tt.result}
			g := newGenerator(t, &coretest.LLM{}, nil, WithReasoner(r))

			req := capacityRequest()
			req.Intent = tt.intent
			req.Query = tt.query
			req.Options.UseReasoning = tt.use

			resp := g.GenerateResponse(context.Background(), req)
			assert.Equal(t, tt.wantPath, resp.Path)
			assert.Equal(t, tt.wantCall, len(r.calls) == 1)

			switch tt.wantPath {
			case PathReasoning:
				assert.Equal(t, answer.Answer, resp.Text)
				require.NotNil(t, resp.Reasoning)
				assert.Equal(t, resp.RequestID, resp.Reasoning.QueryID)
			case PathError:
				assert.Contains(t, resp.Text, "took longer than expected")
			}
		})
	}
}

func TestGenerateResponse_LLMPath(t *testing.T) {
	ctx := context.Background()

	t.Run("llm answer", func(t *testing.T) {
		var data map[string]any
		llm := &coretest.LLM{GenerateResponseFn: func(query, intent string, d map[string]any) (core.GeneratedResponse, error) {
			data = d
			return core.GeneratedResponse{
				Text:             "Gate closures are announced on the ops board.",
				SuggestedActions: []core.SuggestedAction{{Type: "query", Label: "Show ops board"}},
			}, nil
		}}
		g := newGenerator(t, llm, nil)

		resp := g.GenerateResponse(ctx, Request{
			Intent:   "ops_notice",
			Query:    "Where are gate closures announced?",
			Entities: map[string]string{"terminal": "Terminal A"},
			Options:  Options{Tone: "friendly"},
		})

		assert.Equal(t, PathLLM, resp.Path)
		assert.Equal(t, "Gate closures are announced on the ops board.", resp.Text)
		assert.Equal(t, []string{"Show ops board", "Help with this topic"}, labels(resp.SuggestedActions))
		assert.Equal(t, "Terminal A", data["terminal"])
		assert.Contains(t, data["instructions"], "friendly")
	})

	t.Run("fallback on failure", func(t *testing.T) {
		llm := &coretest.LLM{GenerateResponseFn: func(string, string, map[string]any) (core.GeneratedResponse, error) {
			return core.GeneratedResponse{}, errors.New("rate limited")
		}}
		store := newStore()
		g := newGenerator(t, llm, store)

		resp := g.GenerateResponse(ctx, Request{
			Intent:  "comparison",
			Query:   "Compare A and B",
			Options: Options{SessionID: "s1", QueryID: "q1", UseReasoning: ptr(false)},
		})

		assert.Equal(t, PathFallback, resp.Path)
		assert.Equal(t, "I couldn't complete the comparison right now. Please try again shortly.", resp.Text)
		assert.Contains(t, resp.Error, "rate limited")
		assert.Nil(t, store.GetFinalResult(ctx, "s1", "q1"))
	})
}

func TestGenerateResponse_Personalization(t *testing.T) {
	ctx := context.Background()
	store := newStore()

	require.True(t, store.StoreSessionContext(ctx, "s1", core.SessionContext{
		SessionID:       "s1",
		UserPreferences: map[string]any{"units": "stands"},
		User:            core.UserInfo{Role: "ramp controller"},
	}))
	require.True(t, store.StoreEntityMentions(ctx, "s1",
		core.EntityMention{Type: "terminal", Value: "Terminal B", Confidence: 0.9},
		core.EntityMention{Type: "terminal", Value: "Terminal A", Confidence: 0.9},
	))
	require.True(t, store.AddPreviousQuery(ctx, "s1", core.PreviousQuery{QueryID: "q0", Text: "How busy is Terminal A?"}))

	t.Run("template placeholder from latest mention", func(t *testing.T) {
		g := newGenerator(t, nil, store)
		resp := g.GenerateResponse(ctx, Request{
			Intent:  "terminal_status",
			Data:    map[string]any{"available_stands": 5, "total_stands": 20},
			Options: Options{SessionID: "s1"},
		})
		assert.Equal(t, "Terminal A has 5 of 20 stands available right now.", resp.Text)
	})

	t.Run("llm hints", func(t *testing.T) {
		var data map[string]any
		llm := &coretest.LLM{GenerateResponseFn: func(_, _ string, d map[string]any) (core.GeneratedResponse, error) {
			data = d
			return core.GeneratedResponse{Text: "ok"}, nil
		}}
		g := newGenerator(t, llm, store)
		g.GenerateResponse(ctx, Request{Intent: "ops_notice", Query: "Anything new?", Options: Options{SessionID: "s1"}})

		hints, _ := data["instructions"].(string)
		assert.Contains(t, hints, "Terminal A (terminal)")
		assert.Contains(t, hints, "units=stands")
		assert.Contains(t, hints, "How busy is Terminal A?")
		assert.Contains(t, hints, "ramp controller")
	})

	t.Run("disabled", func(t *testing.T) {
		g := newGenerator(t, nil, store)
		resp := g.GenerateResponse(ctx, Request{
			Intent:  "terminal_status",
			Data:    map[string]any{"available_stands": 5, "total_stands": 20},
			Options: Options{SessionID: "s1", EnablePersonalization: ptr(false)},
		})
		assert.Equal(t, "has 5 of 20 stands available right now.", resp.Text)
	})
}

func TestGenerateResponse_PanicFallback(t *testing.T) {
	g := newGenerator(t, &coretest.LLM{}, nil, WithReasoner(&fakeReasoner{panics: true}))

	resp := g.GenerateResponse(context.Background(), Request{Intent: "what_if", Query: "Add 5 stands"})

	assert.Equal(t, PathFallback, resp.Path)
	assert.Equal(t, "I couldn't evaluate that scenario right now. Please try again shortly.", resp.Text)
	assert.Contains(t, resp.Error, "boom")
	assert.Equal(t, "Help with this topic", resp.SuggestedActions[len(resp.SuggestedActions)-1].Label)
}

func TestGenerateResponse_Visualizations(t *testing.T) {
	ctx := context.Background()
	req := capacityRequest()
	req.Data["series"] = map[string]any{"Terminal A": 20, "Terminal B": 12.0}
	req.Options.IncludeVisualizations = ptr(true)

	t.Run("llm description", func(t *testing.T) {
		llm := &coretest.LLM{ChartFn: func(_ any, title, _ string) (core.ChartDescription, error) {
			return core.ChartDescription{Main: "Stands per terminal", Highlight: "Terminal A"}, nil
		}}
		resp := newGenerator(t, llm, nil).GenerateResponse(ctx, req)

		require.Len(t, resp.Visualizations, 1)
		assert.Equal(t, "Stands per terminal", resp.Visualizations[0].Description.Main)
		assert.Equal(t, map[string]float64{"Terminal A": 20, "Terminal B": 12}, resp.Visualizations[0].Data)
	})

	t.Run("deterministic fallback", func(t *testing.T) {
		llm := &coretest.LLM{ChartFn: func(any, string, string) (core.ChartDescription, error) {
			return core.ChartDescription{}, errors.New("no chart")
		}}
		resp := newGenerator(t, llm, nil).GenerateResponse(ctx, req)

		require.Len(t, resp.Visualizations, 1)
		d := resp.Visualizations[0].Description
		assert.Equal(t, "capacity query across 2 values", d.Main)
		assert.Equal(t, "Terminal A", d.Highlight)
		assert.Equal(t, "Highest is Terminal A at 20; lowest is Terminal B at 12.", d.Insight)
	})

	t.Run("off by default", func(t *testing.T) {
		r := capacityRequest()
		r.Data["series"] = map[string]any{"Terminal A": 20}
		resp := newGenerator(t, &coretest.LLM{}, nil).GenerateResponse(ctx, r)
		assert.Empty(t, resp.Visualizations)
	})
}

func TestGenerateResponse_Formats(t *testing.T) {
	ctx := context.Background()
	g := newGenerator(t, nil, nil)

	req := capacityRequest()
	req.Options.Format = "speech"
	resp := g.GenerateResponse(ctx, req)
	assert.Equal(t, "The capacity of T1 during the morning is 42 stands. Includes all stands.", resp.Text)
	assert.Contains(t, resp.Speech, "Terminal 1")

	req.Options.Format = "json"
	resp = g.GenerateResponse(ctx, req)
	assert.JSONEq(t, `{"section1":"The capacity of T1 during the morning is 42 stands. Includes all stands."}`, resp.Text)

	req.Options.Format = "yaml"
	resp = g.GenerateResponse(ctx, req)
	assert.Equal(t, "The capacity of T1 during the morning is 42 stands. Includes all stands.", resp.Text)
}

func TestGenerateResponse_Metrics(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	g := newGenerator(t, nil, nil, WithMetrics(m))

	g.GenerateResponse(context.Background(), capacityRequest())
	g.GenerateResponse(context.Background(), Request{Intent: "stand_status", Err: core.ErrAccessDenied})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Responses.WithLabelValues(PathTemplate)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Responses.WithLabelValues(PathError)))
}
