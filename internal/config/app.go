package config

import (
	"context"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"github.com/sandevgo/capassist/pkg/log"
)

type AppConfig struct {
	RuntimePath string `env:"CAPASSIST_RUNTIME_PATH" envDefault:".capassist"`

	// Domain data services database. Seeded with demo data on first start.
	DatabaseFile string `env:"CAPASSIST_DATABASE_FILE" envDefault:"domain.db"`

	// Seed the similarity index from the maintenance notes table.
	IndexNotes bool `env:"CAPASSIST_INDEX_NOTES" envDefault:"true"`

	// Optional YAML file of extra documents for the similarity index.
	DocumentsFile string `env:"CAPASSIST_DOCUMENTS_FILE"`

	// Prometheus metrics listener. Empty disables the endpoint.
	MetricsAddr string `env:"CAPASSIST_METRICS_ADDR"`
}

func NewAppConfig(ctx context.Context) *AppConfig {
	c, err := ParseAppConfig()
	if err != nil {
		log.FromCtx(ctx).Fatal().Err(err).Msg("failed to parse App config")
	}
	return c
}

func ParseAppConfig() (*AppConfig, error) {
	c := &AppConfig{}
	if err := env.Parse(c); err != nil {
		return nil, err
	}
	return c, nil
}

func (c AppConfig) GetRuntimePath() string {
	if filepath.IsAbs(c.RuntimePath) {
		return c.RuntimePath
	}
	return GetRuntimePath()
}

func (c AppConfig) GetDatabasePath() string {
	return filepath.Join(c.GetRuntimePath(), c.DatabaseFile)
}

func (c AppConfig) GetEnvPath() string {
	return filepath.Join(c.GetRuntimePath(), ".env")
}
