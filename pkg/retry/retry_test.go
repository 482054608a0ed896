package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig(n int) *Config {
	return &Config{
		MaxRetries:    n,
		BackoffFactor: 2,
		InitialDelay:  time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		Jitter:        time.Millisecond,
	}
}

func TestRetry_Do(t *testing.T) {
	tests := []struct {
		name      string
		failures  int
		retries   int
		wantErr   bool
		wantCalls int
	}{
		{name: "first attempt succeeds", failures: 0, retries: 2, wantCalls: 1},
		{name: "succeeds after retries", failures: 2, retries: 2, wantCalls: 3},
		{name: "budget exhausted", failures: 5, retries: 2, wantErr: true, wantCalls: 3},
		{name: "zero budget", failures: 1, retries: 0, wantErr: true, wantCalls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := NewRetrier(fastConfig(tt.retries)).Do(context.Background(), func() error {
				calls++
				if calls <= tt.failures {
					return errors.New("transient")
				}
				return nil
			})

			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantCalls, calls)
		})
	}
}

func TestRetry_Permanent(t *testing.T) {
	sentinel := errors.New("bad input")
	calls := 0

	err := NewRetrier(fastConfig(3)).Do(context.Background(), func() error {
		calls++
		return Permanent(sentinel)
	})

	require.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, calls)
	assert.Nil(t, Permanent(nil))
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	err := NewDefaultRetrier().Do(ctx, func() error {
		cancel()
		return errors.New("operation error after cancel")
	})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetry_MinimumBackoff(t *testing.T) {
	config := &Config{
		MaxRetries:    2,
		BackoffFactor: 2.0,
		InitialDelay:  20 * time.Millisecond,
		MaxDelay:      time.Second,
		Jitter:        time.Millisecond,
	}

	start := time.Now()
	_ = NewRetrier(config).Do(context.Background(), func() error { return errors.New("error") })

	// two sleeps: 20ms then 40ms
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}
