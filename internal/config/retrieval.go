package config

import (
	"context"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/sandevgo/capassist/pkg/log"
)

const (
	TokenizerApprox   = "approx"
	TokenizerTiktoken = "tiktoken"
)

type RetrievalConfig struct {
	SourceTimeout      time.Duration `env:"RETRIEVAL_SOURCE_TIMEOUT" envDefault:"5s"`
	MaxResults         int           `env:"RETRIEVAL_MAX_RESULTS" envDefault:"10"`
	MaxItemsPerChunk   int           `env:"RETRIEVAL_MAX_ITEMS_PER_CHUNK" envDefault:"10"`
	MaxTokensPerChunk  int           `env:"RETRIEVAL_MAX_TOKENS_PER_CHUNK" envDefault:"1500"`
	Tokenizer          string        `env:"RETRIEVAL_TOKENIZER" envDefault:"approx"`
	MinConfidence      float64       `env:"RETRIEVAL_MIN_CONFIDENCE" envDefault:"0"`
	RelatedConfidence  float64       `env:"RETRIEVAL_RELATED_CONFIDENCE" envDefault:"0.8"`
	LookupIntents      []string      `env:"RETRIEVAL_LOOKUP_INTENTS" envSeparator:"," envDefault:"capacity_query,stand_details,stand_status,terminal_status,maintenance_status,flight_info,airport_config"`
	SearchLikeIntents  []string      `env:"RETRIEVAL_SEARCH_INTENTS" envSeparator:"," envDefault:"search,general,help,explain,unknown,faq"`
	EntityServiceTypes []string      `env:"RETRIEVAL_ENTITY_SERVICES" envSeparator:"," envDefault:"stand:stands,terminal:terminals,maintenance:maintenance,flight:flights,airport:airport_config"`
	RelatedLookups     []string      `env:"RETRIEVAL_RELATED" envSeparator:"," envDefault:"terminal:stands,stand:maintenance"`
}

// EntityServices maps entity types to the data service that resolves them.
func (c *RetrievalConfig) EntityServices() map[string]string {
	return ParsePairs(c.EntityServiceTypes)
}

// Relations maps entity types to the relation fetched alongside a match.
func (c *RetrievalConfig) Relations() map[string]string {
	return ParsePairs(c.RelatedLookups)
}

func NewRetrievalConfig(ctx context.Context) *RetrievalConfig {
	c, err := ParseRetrievalConfig()
	if err != nil {
		log.FromCtx(ctx).Fatal().Err(err).Msg("failed to parse Retrieval config")
	}
	return c
}

func ParseRetrievalConfig() (*RetrievalConfig, error) {
	c := &RetrievalConfig{}
	if err := env.Parse(c); err != nil {
		return nil, err
	}
	return c, nil
}

func DefaultRetrievalConfig() *RetrievalConfig {
	c := &RetrievalConfig{}
	_ = env.ParseWithOptions(c, env.Options{Environment: map[string]string{}})
	return c
}

// ParsePairs turns ["a:b", "c:d"] into {"a": "b", "c": "d"}. Malformed
// entries are skipped.
func ParsePairs(list []string) map[string]string {
	out := make(map[string]string, len(list))
	for _, item := range list {
		k, v, ok := strings.Cut(strings.TrimSpace(item), ":")
		if !ok || k == "" || v == "" {
			continue
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out
}
