package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sandevgo/capassist/pkg/log"
)

// Sweeper periodically removes expired entries from a Store.
type Sweeper struct {
	store    *Store
	interval time.Duration

	started  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func NewSweeper(store *Store, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		store:    store,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

var ErrSweeperRunning = errors.New("memory sweeper already started")

func (w *Sweeper) Start(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return ErrSweeperRunning
	}
	defer close(w.done)

	logger := log.FromCtx(ctx).With().Str("component", "memory_sweeper").Logger()
	logger.Debug().Dur("interval", w.interval).Msg("starting memory sweeper")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug().Msg("memory sweeper stopped")
			return nil
		case <-w.stop:
			logger.Debug().Msg("memory sweeper stopped")
			return nil
		case <-ticker.C:
			n, err := w.store.Sweep(ctx)
			if err != nil {
				logger.Error().Err(err).Msg("memory sweep failed")
				continue
			}
			if n > 0 {
				logger.Debug().Int("removed", n).Msg("expired memory entries removed")
			}
		}
	}
}

// Shutdown stops the loop and waits for it to exit.
func (w *Sweeper) Shutdown(ctx context.Context) error {
	w.stopOnce.Do(func() { close(w.stop) })
	if !w.started.Load() {
		return nil
	}

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
