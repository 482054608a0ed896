package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sandevgo/capassist/internal/core"
	"github.com/sandevgo/capassist/pkg/conv"
	"github.com/sandevgo/capassist/pkg/log"
	"github.com/sandevgo/capassist/pkg/retry"
)

var errNoJSON = errors.New("reply holds no JSON object")

// Assistant implements core.LLM on top of a chat provider. Structured
// methods ask for JSON and retry unparseable replies within the budget.
type Assistant struct {
	provider core.ChatProvider
	retries  int
}

func NewAssistant(provider core.ChatProvider, retries int) *Assistant {
	return &Assistant{provider: provider, retries: max(retries, 0)}
}

func (a *Assistant) ProcessQuery(ctx context.Context, prompt string, history []core.Message, systemPrompt string) (core.Completion, error) {
	messages := make([]core.Message, 0, len(history)+2)
	if systemPrompt != "" {
		messages = append(messages, core.Message{Role: core.RoleSystem, Content: systemPrompt})
	}
	messages = append(messages, history...)
	messages = append(messages, core.Message{Role: core.RoleUser, Content: prompt})

	var (
		reply core.Message
		usage core.Usage
	)
	err := retry.NewRetrier(retry.NewBudgetConfig(a.retries)).Do(ctx, func() error {
		var err error
		reply, usage, err = a.provider.Chat(ctx, messages)
		var status *StatusError
		if errors.As(err, &status) && !status.Retryable() {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		return core.Completion{}, err
	}

	log.FromCtx(ctx).Debug().
		Int("prompt_tokens", usage.PromptTokens).
		Int("completion_tokens", usage.CompletionTokens).
		Msg("llm completion")

	return core.Completion{Text: strings.TrimSpace(reply.Content), Usage: usage}, nil
}

// askJSON sends prompt and decodes the first JSON object of the reply into
// out, retrying replies that do not decode.
func (a *Assistant) askJSON(ctx context.Context, prompt, system string, out any) error {
	return retry.NewRetrier(retry.NewBudgetConfig(a.retries)).Do(ctx, func() error {
		completion, err := a.ProcessQuery(ctx, prompt, nil, system)
		if err != nil {
			return retry.Permanent(err)
		}
		raw := conv.ExtractJSONObject(completion.Text)
		if raw == "" {
			return fmt.Errorf("%w: %w", core.ErrSerialization, errNoJSON)
		}
		if err := json.Unmarshal([]byte(raw), out); err != nil {
			return fmt.Errorf("%w: %v", core.ErrSerialization, err)
		}
		return nil
	})
}

func (a *Assistant) GenerateResponse(ctx context.Context, query, intent string, data map[string]any) (core.GeneratedResponse, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return core.GeneratedResponse{}, fmt.Errorf("%w: %v", core.ErrSerialization, err)
	}
	prompt := fmt.Sprintf("Intent: %s\nQuestion: %s\nData: %s", intent, query, payload)

	completion, err := a.ProcessQuery(ctx, prompt, nil, responseSystemPrompt)
	if err != nil {
		return core.GeneratedResponse{}, err
	}

	var out core.GeneratedResponse
	if raw := conv.ExtractJSONObject(completion.Text); raw != "" && json.Unmarshal([]byte(raw), &out) == nil && out.Text != "" {
		if out.SuggestedActions == nil {
			out.SuggestedActions = []core.SuggestedAction{}
		}
		return out, nil
	}
	// Plain-text replies are used as the answer.
	return core.GeneratedResponse{Text: completion.Text, SuggestedActions: []core.SuggestedAction{}}, nil
}

// GenerateContent returns values for the missing template fields. Fields
// that were not asked for are dropped.
func (a *Assistant) GenerateContent(ctx context.Context, req core.ContentRequest) (map[string]string, error) {
	if len(req.MissingFields) == 0 {
		return map[string]string{}, nil
	}

	entities, _ := json.Marshal(req.Entities)
	data, _ := json.Marshal(req.Data)
	prompt := fmt.Sprintf("Template: %s\nMissing fields: %s\nEntities: %s\nData: %s",
		req.Template, strings.Join(req.MissingFields, ", "), entities, data)
	if req.Context != "" {
		prompt += "\nInstructions: " + req.Context
	}

	var fields map[string]any
	if err := a.askJSON(ctx, prompt, contentSystemPrompt, &fields); err != nil {
		return nil, err
	}

	out := make(map[string]string, len(req.MissingFields))
	for _, name := range req.MissingFields {
		switch v := fields[name].(type) {
		case string:
			out[name] = strings.TrimSpace(v)
		case float64, bool:
			out[name] = fmt.Sprint(v)
		}
	}
	return out, nil
}

func (a *Assistant) ExtractParameters(ctx context.Context, text string) (core.ParameterExtraction, error) {
	var out core.ParameterExtraction
	if err := a.askJSON(ctx, "Question: "+text, extractSystemPrompt, &out); err != nil {
		return core.ParameterExtraction{Parameters: map[string]any{}, Error: err.Error()}, err
	}
	if out.Parameters == nil {
		out.Parameters = map[string]any{}
	}
	out.Confidence = min(max(out.Confidence, 0), 1)
	return out, nil
}

func (a *Assistant) GenerateChartDescription(ctx context.Context, data any, title, context string) (core.ChartDescription, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return core.ChartDescription{}, fmt.Errorf("%w: %v", core.ErrSerialization, err)
	}
	prompt := fmt.Sprintf("Title: %s\nContext: %s\nData: %s", title, context, payload)

	var out core.ChartDescription
	if err := a.askJSON(ctx, prompt, chartSystemPrompt, &out); err != nil {
		return core.ChartDescription{}, err
	}
	return out, nil
}
