package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandevgo/capassist/internal/config"
	"github.com/sandevgo/capassist/internal/core"
)

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []core.Message `json:"messages"`
	System   string         `json:"system"`
}

// chatServer replies with the queued bodies in order, repeating the last
// one.
type chatServer struct {
	*httptest.Server

	mu       sync.Mutex
	replies  []reply
	requests []chatRequest
	headers  []http.Header
}

type reply struct {
	status int
	body   string
}

func openAIReply(content string) reply {
	body, _ := json.Marshal(map[string]any{
		"choices": []any{map[string]any{"message": map[string]any{"role": "assistant", "content": content}}},
		"usage":   map[string]any{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
	})
	return reply{status: http.StatusOK, body: string(body)}
}

func newChatServer(t *testing.T, replies ...reply) *chatServer {
	t.Helper()
	s := &chatServer{replies: replies}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)

		s.mu.Lock()
		s.requests = append(s.requests, req)
		s.headers = append(s.headers, r.Header.Clone())
		rep := s.replies[min(len(s.requests), len(s.replies))-1]
		s.mu.Unlock()

		w.WriteHeader(rep.status)
		_, _ = w.Write([]byte(rep.body))
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *chatServer) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func TestOpenAICompatible_Chat(t *testing.T) {
	srv := newChatServer(t, openAIReply("hello"))
	p := NewCustomOpenAI(srv.URL, "secret", "test-model", time.Second)

	msg, usage, err := p.Chat(context.Background(), []core.Message{{Role: core.RoleUser, Content: "hi"}})
	require.NoError(t, err)

	assert.Equal(t, "hello", msg.Content)
	assert.Equal(t, 15, usage.TotalTokens)
	assert.Equal(t, "test-model", srv.requests[0].Model)
	assert.Equal(t, "Bearer secret", srv.headers[0].Get("Authorization"))
	assert.Equal(t, core.AppUserAgent, srv.headers[0].Get("User-Agent"))
}

func TestOpenAICompatible_ChatErrors(t *testing.T) {
	tests := []struct {
		name      string
		reply     reply
		target    error
		retryable bool
	}{
		{name: "server error", reply: reply{status: 503, body: "busy"}, target: core.ErrUpstream, retryable: true},
		{name: "bad request", reply: reply{status: 400, body: "nope"}, target: core.ErrUpstream},
		{name: "garbage", reply: reply{status: 200, body: "{"}, target: core.ErrSerialization},
		{name: "no choices", reply: reply{status: 200, body: `{"choices":[]}`}, target: core.ErrUpstream},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newChatServer(t, tt.reply)
			_, _, err := NewCustomOpenAI(srv.URL, "", "m", time.Second).Chat(context.Background(), nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.target)

			var status *StatusError
			if errors.As(err, &status) {
				assert.Equal(t, tt.retryable, status.Retryable())
			}
		})
	}
}

func TestAnthropic_Chat(t *testing.T) {
	srv := newChatServer(t, reply{status: 200, body: `{"content":[{"type":"text","text":"Hi "},{"type":"text","text":"there"}],"usage":{"input_tokens":7,"output_tokens":3}}`})
	p := NewAnthropic(srv.URL, "key", "claude-test", time.Second)

	msg, usage, err := p.Chat(context.Background(), []core.Message{
		{Role: core.RoleSystem, Content: "Be brief."},
		{Role: core.RoleUser, Content: "hello"},
	})
	require.NoError(t, err)

	assert.Equal(t, "Hi there", msg.Content)
	assert.Equal(t, 10, usage.TotalTokens)
	assert.Equal(t, "Be brief.", srv.requests[0].System)
	require.Len(t, srv.requests[0].Messages, 1)
	assert.Equal(t, "key", srv.headers[0].Get("x-api-key"))
}

func TestNewProvider(t *testing.T) {
	ctx := context.Background()
	for _, name := range []string{"openai", "anthropic", "openrouter", "ollama"} {
		t.Run(name, func(t *testing.T) {
			p, err := NewProvider(ctx, &config.LLMConfig{Provider: name, Model: "m"})
			require.NoError(t, err)
			assert.NotNil(t, p)
		})
	}

	_, err := NewProvider(ctx, &config.LLMConfig{Provider: "custom"})
	assert.Error(t, err)
	_, err = NewProvider(ctx, &config.LLMConfig{Provider: "mystery"})
	assert.Error(t, err)
}

func TestAssistant_ProcessQuery(t *testing.T) {
	t.Run("retries server errors", func(t *testing.T) {
		srv := newChatServer(t, reply{status: 502, body: "bad gateway"}, openAIReply("  answer  "))
		a := NewAssistant(NewCustomOpenAI(srv.URL, "", "m", time.Second), 2)

		got, err := a.ProcessQuery(context.Background(), "question", []core.Message{{Role: core.RoleUser, Content: "earlier"}}, "system")
		require.NoError(t, err)
		assert.Equal(t, "answer", got.Text)
		assert.Equal(t, 2, srv.calls())

		msgs := srv.requests[1].Messages
		require.Len(t, msgs, 3)
		assert.Equal(t, core.RoleSystem, msgs[0].Role)
		assert.Equal(t, "question", msgs[2].Content)
	})

	t.Run("client errors are not retried", func(t *testing.T) {
		srv := newChatServer(t, reply{status: 401, body: "unauthorized"})
		a := NewAssistant(NewCustomOpenAI(srv.URL, "", "m", time.Second), 3)

		_, err := a.ProcessQuery(context.Background(), "q", nil, "")
		assert.ErrorIs(t, err, core.ErrUpstream)
		assert.Equal(t, 1, srv.calls())
	})
}

func TestAssistant_Structured(t *testing.T) {
	ctx := context.Background()

	t.Run("generate response json", func(t *testing.T) {
		srv := newChatServer(t, openAIReply(`Sure: {"text":"Terminal A has 20 stands.","suggested_actions":[{"type":"query","label":"Compare"}]}`))
		got, err := NewAssistant(NewCustomOpenAI(srv.URL, "", "m", time.Second), 0).
			GenerateResponse(ctx, "How many stands?", "capacity_query", map[string]any{"stands": 20})
		require.NoError(t, err)
		assert.Equal(t, "Terminal A has 20 stands.", got.Text)
		require.Len(t, got.SuggestedActions, 1)
		assert.Contains(t, srv.requests[0].Messages[1].Content, `"stands":20`)
	})

	t.Run("generate response plain text", func(t *testing.T) {
		srv := newChatServer(t, openAIReply("Terminal A has 20 stands."))
		got, err := NewAssistant(NewCustomOpenAI(srv.URL, "", "m", time.Second), 0).
			GenerateResponse(ctx, "q", "capacity_query", nil)
		require.NoError(t, err)
		assert.Equal(t, "Terminal A has 20 stands.", got.Text)
		assert.Empty(t, got.SuggestedActions)
	})

	t.Run("content keeps requested fields", func(t *testing.T) {
		srv := newChatServer(t, openAIReply(`{"additional_details":" Two stands closed. ","extra":"x","count":3}`))
		got, err := NewAssistant(NewCustomOpenAI(srv.URL, "", "m", time.Second), 0).
			GenerateContent(ctx, core.ContentRequest{Template: "t", MissingFields: []string{"additional_details", "count"}})
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"additional_details": "Two stands closed.", "count": "3"}, got)
	})

	t.Run("extract retries unparseable reply", func(t *testing.T) {
		srv := newChatServer(t,
			openAIReply("I think the terminal is A"),
			openAIReply(`{"parameters":{"terminal":"A","stand_count_change":5},"confidence":1.4}`),
		)
		got, err := NewAssistant(NewCustomOpenAI(srv.URL, "", "m", time.Second), 1).
			ExtractParameters(ctx, "Add 5 stands to Terminal A")
		require.NoError(t, err)
		assert.Equal(t, "A", got.Parameters["terminal"])
		assert.Equal(t, 5.0, got.Parameters["stand_count_change"])
		assert.Equal(t, 1.0, got.Confidence)
		assert.Equal(t, 2, srv.calls())
	})

	t.Run("extract gives up", func(t *testing.T) {
		srv := newChatServer(t, openAIReply("no json here"))
		got, err := NewAssistant(NewCustomOpenAI(srv.URL, "", "m", time.Second), 0).
			ExtractParameters(ctx, "hello")
		assert.ErrorIs(t, err, core.ErrSerialization)
		assert.NotEmpty(t, got.Error)
		assert.NotNil(t, got.Parameters)
	})

	t.Run("chart description", func(t *testing.T) {
		srv := newChatServer(t, openAIReply(`{"main":"Stands per terminal","insight":"A leads","highlight":"A"}`))
		got, err := NewAssistant(NewCustomOpenAI(srv.URL, "", "m", time.Second), 0).
			GenerateChartDescription(ctx, map[string]int{"A": 20}, "Stands", "capacity")
		require.NoError(t, err)
		assert.Equal(t, core.ChartDescription{Main: "Stands per terminal", Insight: "A leads", Highlight: "A"}, got)
	})
}
