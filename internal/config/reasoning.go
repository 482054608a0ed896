package config

import (
	"context"

	"github.com/caarlos0/env/v11"
	"github.com/sandevgo/capassist/pkg/log"
)

type ReasoningConfig struct {
	Enabled               bool     `env:"REASONING_ENABLED" envDefault:"true"`
	LLMPlanning           bool     `env:"REASONING_LLM_PLANNING" envDefault:"false"`
	FactChecking          bool     `env:"REASONING_FACT_CHECKING" envDefault:"true"`
	IncludeKnowledgeSteps bool     `env:"REASONING_INCLUDE_KNOWLEDGE_STEPS" envDefault:"true"`
	DataSources           []string `env:"REASONING_DATA_SOURCES" envSeparator:"," envDefault:"stands,terminals,maintenance,flights,airport_config"`
	MaxSteps              int      `env:"REASONING_MAX_STEPS" envDefault:"12"`
	DefaultMaxResults     int      `env:"REASONING_KNOWLEDGE_MAX_RESULTS" envDefault:"10"`
}

func NewReasoningConfig(ctx context.Context) *ReasoningConfig {
	c, err := ParseReasoningConfig()
	if err != nil {
		log.FromCtx(ctx).Fatal().Err(err).Msg("failed to parse Reasoning config")
	}
	return c
}

func ParseReasoningConfig() (*ReasoningConfig, error) {
	c := &ReasoningConfig{}
	if err := env.Parse(c); err != nil {
		return nil, err
	}
	return c, nil
}

func DefaultReasoningConfig() *ReasoningConfig {
	c := &ReasoningConfig{}
	_ = env.ParseWithOptions(c, env.Options{Environment: map[string]string{}})
	return c
}
