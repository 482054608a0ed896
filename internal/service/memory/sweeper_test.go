package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/sandevgo/capassist/internal/config"
	"github.com/sandevgo/capassist/internal/storage/memcache"
)

func TestSweeper_RemovesExpiredEntries(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx := context.Background()
	backend := memcache.New()
	s := NewStore(backend, config.DefaultMemoryConfig())

	require.NoError(t, s.StoreEntry(ctx, "s1:context", "v", 10*time.Millisecond))
	require.NoError(t, s.StoreEntry(ctx, "s1:plans:q1", "v", time.Hour))

	w := NewSweeper(s, 5*time.Millisecond)
	go func() { _ = w.Start(ctx) }()

	assert.Eventually(t, func() bool { return backend.Len() == 1 }, time.Second, 5*time.Millisecond)

	shutdownCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, w.Shutdown(shutdownCtx))
}

func TestSweeper_StopsOnContextCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	w := NewSweeper(NewStore(memcache.New(), config.DefaultMemoryConfig()), time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	cancel()
	require.NoError(t, <-done)
	require.NoError(t, w.Shutdown(context.Background()))
}

func TestSweeper_ShutdownWithoutStart(t *testing.T) {
	w := NewSweeper(NewStore(memcache.New(), config.DefaultMemoryConfig()), 0)
	assert.NoError(t, w.Shutdown(context.Background()))
	assert.NoError(t, w.Shutdown(context.Background()))
}

func TestSweeper_SecondStartFails(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx := context.Background()
	w := NewSweeper(NewStore(memcache.New(), config.DefaultMemoryConfig()), time.Hour)

	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()
	require.Eventually(t, w.started.Load, time.Second, time.Millisecond)

	assert.ErrorIs(t, w.Start(ctx), ErrSweeperRunning)

	require.NoError(t, w.Shutdown(context.Background()))
	require.NoError(t, <-done)
}
