package llm

import (
	"context"
	"fmt"

	"github.com/sandevgo/capassist/internal/config"
	"github.com/sandevgo/capassist/internal/core"
	"github.com/sandevgo/capassist/pkg/log"
)

// NewProvider creates the chat provider named by the configuration.
func NewProvider(ctx context.Context, cfg *config.LLMConfig) (core.ChatProvider, error) {
	log.FromCtx(ctx).Info().
		Str("provider", cfg.Provider).
		Str("model", cfg.Model).
		Msg("starting llm provider")

	switch cfg.Provider {
	case "openai":
		p := NewOpenAI(cfg.APIKey, cfg.Model, cfg.Timeout)
		if cfg.BaseURL != "" {
			p.baseURL = cfg.BaseURL
		}
		return p, nil
	case "anthropic":
		return NewAnthropic(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.Timeout), nil
	case "openrouter":
		return NewOpenRouter(cfg.APIKey, cfg.Model, cfg.Timeout), nil
	case "ollama":
		return NewOllama(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.Timeout), nil
	case "custom":
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("custom llm provider needs LLM_BASE_URL")
		}
		return NewCustomOpenAI(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.Provider)
	}
}
