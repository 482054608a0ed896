package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	mem := DefaultMemoryConfig()
	assert.Equal(t, BackendMemory, mem.Backend)
	assert.Equal(t, 30*time.Minute, mem.DefaultTTL)
	assert.Equal(t, 2*time.Hour, mem.ContextTTL)
	assert.Equal(t, 5, mem.MaxPreviousQueries)

	ret := DefaultRetrievalConfig()
	assert.Equal(t, 5*time.Second, ret.SourceTimeout)
	assert.Equal(t, TokenizerApprox, ret.Tokenizer)
	assert.Contains(t, ret.LookupIntents, "capacity_query")
	assert.Equal(t, "stands", ret.EntityServices()["stand"])
	assert.Equal(t, "maintenance", ret.Relations()["stand"])

	rea := DefaultReasoningConfig()
	assert.True(t, rea.Enabled)
	assert.False(t, rea.LLMPlanning)
	assert.True(t, rea.FactChecking)

	res := DefaultResponseConfig()
	assert.Equal(t, "text", res.DefaultFormat)
	assert.Equal(t, "medium", res.DefaultDetail)
	assert.Equal(t, "professional", res.DefaultTone)
	assert.Contains(t, res.ComplexityIndicators, "what if")
}

func TestParse_EnvOverrides(t *testing.T) {
	t.Setenv("MEMORY_BACKEND", "redis")
	t.Setenv("MEMORY_CONTEXT_TTL", "15m")
	t.Setenv("RETRIEVAL_ENTITY_SERVICES", "gate:stands, terminal:terminals")
	t.Setenv("RESPONSE_COMPLEX_INTENTS", "what_if")
	t.Setenv("LLM_PROVIDER", "anthropic")
	t.Setenv("LLM_API_KEY", "secret")

	mem, err := ParseMemoryConfig()
	require.NoError(t, err)
	assert.Equal(t, BackendRedis, mem.Backend)
	assert.Equal(t, 15*time.Minute, mem.ContextTTL)

	ret, err := ParseRetrievalConfig()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"gate": "stands", "terminal": "terminals"}, ret.EntityServices())

	res, err := ParseResponseConfig()
	require.NoError(t, err)
	assert.Equal(t, []string{"what_if"}, res.ComplexIntents)

	llm, err := ParseLLMConfig()
	require.NoError(t, err)
	assert.Equal(t, "anthropic", llm.Provider)
	assert.Equal(t, "secret", llm.APIKey)
}

func TestParse_InvalidDuration(t *testing.T) {
	t.Setenv("MEMORY_DEFAULT_TTL", "soon")
	_, err := ParseMemoryConfig()
	assert.Error(t, err)
}

func TestParsePairs(t *testing.T) {
	got := ParsePairs([]string{"a:b", " c : d ", "broken", ":x", "y:", ""})
	assert.Equal(t, map[string]string{"a": "b", "c": "d"}, got)
}

func TestAppConfig_Paths(t *testing.T) {
	abs := t.TempDir()
	c := AppConfig{RuntimePath: abs, DatabaseFile: "domain.db"}
	assert.Equal(t, abs, c.GetRuntimePath())
	assert.Equal(t, filepath.Join(abs, "domain.db"), c.GetDatabasePath())
	assert.Equal(t, filepath.Join(abs, ".env"), c.GetEnvPath())

	t.Setenv("CAPASSIST_RUNTIME_PATH", abs)
	rel := AppConfig{RuntimePath: ".capassist", DatabaseFile: "domain.db"}
	assert.Equal(t, abs, rel.GetRuntimePath())
}
