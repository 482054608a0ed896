package config

import (
	"context"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/sandevgo/capassist/pkg/log"
)

type LLMConfig struct {
	Provider string        `env:"LLM_PROVIDER" envDefault:"openai"`
	Model    string        `env:"LLM_MODEL" envDefault:"gpt-4o-mini"`
	BaseURL  string        `env:"LLM_BASE_URL"`
	APIKey   string        `env:"LLM_API_KEY,unset"`
	Timeout  time.Duration `env:"LLM_TIMEOUT" envDefault:"120s"`
	Retries  int           `env:"LLM_RETRIES" envDefault:"2"`
}

func NewLLMConfig(ctx context.Context) *LLMConfig {
	c, err := ParseLLMConfig()
	if err != nil {
		log.FromCtx(ctx).Fatal().Err(err).Msg("failed to parse LLM config")
	}
	return c
}

func ParseLLMConfig() (*LLMConfig, error) {
	c := &LLMConfig{}
	if err := env.Parse(c); err != nil {
		return nil, err
	}
	return c, nil
}
