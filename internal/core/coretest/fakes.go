package coretest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/sandevgo/capassist/internal/core"
)

// LLM is a scripted core.LLM. Each hook is optional; unset hooks return a
// canned answer.
type LLM struct {
	ProcessQueryFn     func(prompt string, history []core.Message, systemPrompt string) (core.Completion, error)
	GenerateResponseFn func(query, intent string, data map[string]any) (core.GeneratedResponse, error)
	GenerateContentFn  func(req core.ContentRequest) (map[string]string, error)
	ExtractParamsFn    func(text string) (core.ParameterExtraction, error)
	ChartFn            func(data any, title, context string) (core.ChartDescription, error)

	mu      sync.Mutex
	Prompts []string
	Systems []string
}

func (f *LLM) record(prompt, system string) {
	f.mu.Lock()
	f.Prompts = append(f.Prompts, prompt)
	f.Systems = append(f.Systems, system)
	f.mu.Unlock()
}

func (f *LLM) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Prompts)
}

func (f *LLM) ProcessQuery(ctx context.Context, prompt string, history []core.Message, systemPrompt string) (core.Completion, error) {
	f.record(prompt, systemPrompt)
	if f.ProcessQueryFn != nil {
		return f.ProcessQueryFn(prompt, history, systemPrompt)
	}
	return core.Completion{Text: "ok"}, nil
}

func (f *LLM) GenerateResponse(ctx context.Context, query, intent string, data map[string]any) (core.GeneratedResponse, error) {
	f.record(query, intent)
	if f.GenerateResponseFn != nil {
		return f.GenerateResponseFn(query, intent, data)
	}
	return core.GeneratedResponse{Text: "generated answer for " + intent}, nil
}

func (f *LLM) GenerateContent(ctx context.Context, req core.ContentRequest) (map[string]string, error) {
	f.record(req.Template, "")
	if f.GenerateContentFn != nil {
		return f.GenerateContentFn(req)
	}
	return map[string]string{}, nil
}

func (f *LLM) ExtractParameters(ctx context.Context, text string) (core.ParameterExtraction, error) {
	f.record(text, "")
	if f.ExtractParamsFn != nil {
		return f.ExtractParamsFn(text)
	}
	return core.ParameterExtraction{Parameters: map[string]any{}, Confidence: 0}, nil
}

func (f *LLM) GenerateChartDescription(ctx context.Context, data any, title, context string) (core.ChartDescription, error) {
	f.record(title, context)
	if f.ChartFn != nil {
		return f.ChartFn(data, title, context)
	}
	return core.ChartDescription{Main: title}, nil
}

// Search is a fixed-result core.VectorSearch.
type Search struct {
	Hits []core.SearchHit
	Err  error
	// Block waits for ctx cancellation before returning.
	Block bool
}

func (f *Search) SearchSimilar(ctx context.Context, text string, k int) ([]core.SearchHit, error) {
	if f.Block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.Err != nil {
		return nil, f.Err
	}
	if k > 0 && len(f.Hits) > k {
		return f.Hits[:k], nil
	}
	return f.Hits, nil
}

// DataService serves records from memory keyed by "id".
type DataService struct {
	ServiceName string
	Records     []core.Record
	Related     map[string][]core.Record
	Err         error
	Block       bool
}

func (f *DataService) Name() string { return f.ServiceName }

func (f *DataService) GetByID(ctx context.Context, id string) (core.Record, error) {
	if err := f.check(ctx); err != nil {
		return nil, err
	}
	for _, r := range f.Records {
		if strings.EqualFold(fmt.Sprint(r["id"]), id) {
			return r, nil
		}
	}
	return nil, fmt.Errorf("%s %s: %w", f.ServiceName, id, core.ErrNotFound)
}

func (f *DataService) ListWithFilter(ctx context.Context, filter map[string]any, limit int) ([]core.Record, error) {
	if err := f.check(ctx); err != nil {
		return nil, err
	}
	var out []core.Record
	for _, r := range f.Records {
		if matches(r, filter) {
			out = append(out, r)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *DataService) GetRelated(ctx context.Context, id, relation string) ([]core.Record, error) {
	if err := f.check(ctx); err != nil {
		return nil, err
	}
	return f.Related[id+"/"+relation], nil
}

func (f *DataService) check(ctx context.Context) error {
	if f.Block {
		<-ctx.Done()
		return ctx.Err()
	}
	return f.Err
}

func matches(r core.Record, filter map[string]any) bool {
	for k, want := range filter {
		if !strings.EqualFold(fmt.Sprint(r[k]), fmt.Sprint(want)) {
			return false
		}
	}
	return true
}
