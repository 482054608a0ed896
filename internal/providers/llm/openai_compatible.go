package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sandevgo/capassist/internal/core"
)

type OpenAICompatible struct {
	baseProvider
	authHeader   string
	authPrefix   string
	extraHeaders map[string]string
}

type OpenAICompatibleConfig struct {
	BaseURL      string
	APIKey       string
	Model        string
	AuthHeader   string // e.g., "Authorization"
	AuthPrefix   string // e.g., "Bearer "
	ExtraHeaders map[string]string
	Timeout      time.Duration
}

func NewOpenAICompatible(cfg OpenAICompatibleConfig) *OpenAICompatible {
	return &OpenAICompatible{
		baseProvider: newBaseProvider(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.Timeout),
		authHeader:   cfg.AuthHeader,
		authPrefix:   cfg.AuthPrefix,
		extraHeaders: cfg.ExtraHeaders,
	}
}

func bearer(baseURL, apiKey, model string, timeout time.Duration, extra map[string]string) *OpenAICompatible {
	return NewOpenAICompatible(OpenAICompatibleConfig{
		BaseURL:      baseURL,
		APIKey:       apiKey,
		Model:        model,
		AuthHeader:   "Authorization",
		AuthPrefix:   "Bearer ",
		ExtraHeaders: extra,
		Timeout:      timeout,
	})
}

func NewOpenAI(apiKey, model string, timeout time.Duration) *OpenAICompatible {
	return bearer("https://api.openai.com", apiKey, model, timeout, nil)
}

func NewOpenRouter(apiKey, model string, timeout time.Duration) *OpenAICompatible {
	return bearer("https://openrouter.ai/api", apiKey, model, timeout, map[string]string{
		"X-Title": core.AppName,
	})
}

func NewOllama(baseURL, apiKey, model string, timeout time.Duration) *OpenAICompatible {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return bearer(baseURL, apiKey, model, timeout, nil)
}

func NewCustomOpenAI(baseURL, apiKey, model string, timeout time.Duration) *OpenAICompatible {
	return bearer(baseURL, apiKey, model, timeout, nil)
}

func (o *OpenAICompatible) Chat(ctx context.Context, history []core.Message) (core.Message, core.Usage, error) {
	payload := map[string]any{
		"model":    o.model,
		"messages": history,
	}

	headers := make(map[string]string)
	if o.authHeader != "" && o.apiKey != "" {
		headers[o.authHeader] = o.authPrefix + o.apiKey
	}
	for k, v := range o.extraHeaders {
		headers[k] = v
	}

	resp, err := o.doRequest(ctx, http.MethodPost, "/v1/chat/completions", payload, headers)
	if err != nil {
		return core.Message{}, core.Usage{}, err
	}
	defer resp.Body.Close()

	return parseOpenAIResponse(resp)
}

func parseOpenAIResponse(resp *http.Response) (core.Message, core.Usage, error) {
	data, err := readBody(resp)
	if err != nil {
		return core.Message{}, core.Usage{}, err
	}

	var result struct {
		Choices []struct {
			Message core.Message `json:"message"`
		} `json:"choices"`
		Usage core.Usage `json:"usage"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return core.Message{}, core.Usage{}, fmt.Errorf("%w: decode: %v", core.ErrSerialization, err)
	}
	if len(result.Choices) == 0 {
		return core.Message{}, core.Usage{}, fmt.Errorf("%w: empty choices: %s", core.ErrUpstream, string(data))
	}
	return result.Choices[0].Message, result.Usage, nil
}
