package env

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name    string        `env:"NAME"`
	Empty   string        `env:"EMPTY"`
	TTL     time.Duration `env:"TTL"`
	Limit   int           `env:"LIMIT"`
	Enabled bool          `env:"ENABLED"`
	Intents []string      `env:"INTENTS" envSeparator:","`
	Key     string        `env:"KEY,unset"`
	skip    string        `env:"SKIP"`
}

func TestMarshalEnv(t *testing.T) {
	out, err := MarshalEnv(&sample{
		Name:    "capassist",
		TTL:     30 * time.Minute,
		Limit:   5,
		Enabled: true,
		Intents: []string{"a", "b"},
		Key:     "sk-secret",
		skip:    "x",
	})
	require.NoError(t, err)

	assert.Equal(t, "NAME=capassist\nTTL=30m0s\nLIMIT=5\nENABLED=true\nINTENTS=a,b\nKEY=********\n", out)
}

func TestMarshalEnv_RejectsNonPointer(t *testing.T) {
	_, err := MarshalEnv(sample{})
	assert.Error(t, err)
}
