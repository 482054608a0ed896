package config

import (
	"context"

	"github.com/caarlos0/env/v11"
	"github.com/sandevgo/capassist/pkg/log"
)

type ResponseConfig struct {
	DefaultFormat         string   `env:"RESPONSE_FORMAT" envDefault:"text"`
	DefaultDetail         string   `env:"RESPONSE_DETAIL" envDefault:"medium"`
	DefaultTone           string   `env:"RESPONSE_TONE" envDefault:"professional"`
	UseLLM                bool     `env:"RESPONSE_USE_LLM" envDefault:"true"`
	Personalization       bool     `env:"RESPONSE_PERSONALIZATION" envDefault:"true"`
	IncludeVisualizations bool     `env:"RESPONSE_VISUALIZATIONS" envDefault:"false"`
	ComplexIntents        []string `env:"RESPONSE_COMPLEX_INTENTS" envSeparator:"," envDefault:"analysis,comparison,what_if,forecast,planning,impact_assessment"`
	ComplexityIndicators  []string `env:"RESPONSE_COMPLEXITY_INDICATORS" envSeparator:"," envDefault:"why,how,explain,compare,impact,predict,optimize,recommend,what if,should"`
	TemplatesFile         string   `env:"RESPONSE_TEMPLATES_FILE"`
	EntityLimit           int      `env:"RESPONSE_ENTITY_LIMIT" envDefault:"5"`
}

func NewResponseConfig(ctx context.Context) *ResponseConfig {
	c, err := ParseResponseConfig()
	if err != nil {
		log.FromCtx(ctx).Fatal().Err(err).Msg("failed to parse Response config")
	}
	return c
}

func ParseResponseConfig() (*ResponseConfig, error) {
	c := &ResponseConfig{}
	if err := env.Parse(c); err != nil {
		return nil, err
	}
	return c, nil
}

func DefaultResponseConfig() *ResponseConfig {
	c := &ResponseConfig{}
	_ = env.ParseWithOptions(c, env.Options{Environment: map[string]string{}})
	return c
}
