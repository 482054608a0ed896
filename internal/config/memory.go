package config

import (
	"context"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/sandevgo/capassist/pkg/log"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// MemoryConfig configures the working memory store. TTLs, caps and the sweep
// interval are read once when the store is constructed.
type MemoryConfig struct {
	Backend  string `env:"MEMORY_BACKEND" envDefault:"memory"`
	RedisURL string `env:"MEMORY_REDIS_URL" envDefault:"redis://localhost:6379/0"`

	DefaultTTL          time.Duration `env:"MEMORY_DEFAULT_TTL" envDefault:"30m"`
	ContextTTL          time.Duration `env:"MEMORY_CONTEXT_TTL" envDefault:"2h"`
	PlanTTL             time.Duration `env:"MEMORY_PLAN_TTL" envDefault:"30m"`
	StepTTL             time.Duration `env:"MEMORY_STEP_TTL" envDefault:"30m"`
	ResultTTL           time.Duration `env:"MEMORY_RESULT_TTL" envDefault:"1h"`
	EntityTTL           time.Duration `env:"MEMORY_ENTITY_TTL" envDefault:"2h"`
	KnowledgeTTL        time.Duration `env:"MEMORY_KNOWLEDGE_TTL" envDefault:"30m"`
	RetrievalHistoryTTL time.Duration `env:"MEMORY_RETRIEVAL_HISTORY_TTL" envDefault:"2h"`
	LinkTTL             time.Duration `env:"MEMORY_LINK_TTL" envDefault:"2h"`

	SweepInterval time.Duration `env:"MEMORY_SWEEP_INTERVAL" envDefault:"1m"`

	MaxEntityHistory    int `env:"MEMORY_MAX_ENTITY_HISTORY" envDefault:"50"`
	MaxRetrievalHistory int `env:"MEMORY_MAX_RETRIEVAL_HISTORY" envDefault:"20"`
	MaxKnowledgeItems   int `env:"MEMORY_MAX_KNOWLEDGE_ITEMS" envDefault:"50"`
	MaxPreviousQueries  int `env:"MEMORY_MAX_PREVIOUS_QUERIES" envDefault:"5"`
}

func NewMemoryConfig(ctx context.Context) *MemoryConfig {
	c, err := ParseMemoryConfig()
	if err != nil {
		log.FromCtx(ctx).Fatal().Err(err).Msg("failed to parse Memory config")
	}
	return c
}

func ParseMemoryConfig() (*MemoryConfig, error) {
	c := &MemoryConfig{}
	if err := env.Parse(c); err != nil {
		return nil, err
	}
	return c, nil
}

// DefaultMemoryConfig returns the envDefault values without reading the
// environment.
func DefaultMemoryConfig() *MemoryConfig {
	c := &MemoryConfig{}
	_ = env.ParseWithOptions(c, env.Options{Environment: map[string]string{}})
	return c
}
