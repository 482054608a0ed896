package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/sandevgo/capassist/internal/config"
	"github.com/sandevgo/capassist/internal/core"
	"github.com/sandevgo/capassist/internal/metrics"
	"github.com/sandevgo/capassist/pkg/log"
)

// Backend is the raw key/value layer under the store. Implementations must
// make a single Set or Delete atomic with respect to readers of that key.
type Backend interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, keys ...string) (int, error)
	Keys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

const lockStripes = 64

type envelope struct {
	Value     json.RawMessage `json:"value"`
	CreatedAt int64           `json:"created_at"`
	ExpiresAt int64           `json:"expires_at"`
}

func (e envelope) expired(now time.Time) bool {
	return now.UnixMilli() >= e.ExpiresAt
}

// Store is the session-scoped working memory. Every entry carries its own
// expiry; expired entries are removed on access and by Sweep.
type Store struct {
	backend Backend
	cfg     *config.MemoryConfig
	now     func() time.Time
	metrics *metrics.Metrics

	// per-key locks; read-modify-write helpers hold one for the whole cycle
	locks [lockStripes]sync.Mutex
}

type Option func(*Store)

// WithClock replaces the wall clock used for expiry and timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

func NewStore(backend Backend, cfg *config.MemoryConfig, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		cfg:     cfg,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Config() *config.MemoryConfig {
	return s.cfg
}

// NowMillis is the store clock in unix milliseconds.
func (s *Store) NowMillis() int64 {
	return s.now().UnixMilli()
}

func (s *Store) lockFor(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &s.locks[h.Sum32()%lockStripes]
}

// StoreEntry serializes value under key. A non-positive ttl uses the
// default TTL. Values that cannot be encoded (cycles, channels, NaN) fail
// with core.ErrSerialization.
func (s *Store) StoreEntry(ctx context.Context, key string, value any, ttl time.Duration) error {
	mu := s.lockFor(key)
	mu.Lock()
	defer mu.Unlock()

	return s.put(ctx, key, value, ttl)
}

// GetEntry decodes the value under key into out. It reports false when the
// key is absent or expired; expired entries are deleted before returning.
func (s *Store) GetEntry(ctx context.Context, key string, out any) (bool, error) {
	mu := s.lockFor(key)
	mu.Lock()
	defer mu.Unlock()

	return s.get(ctx, key, out)
}

// DeleteEntry removes keys regardless of expiry.
func (s *Store) DeleteEntry(ctx context.Context, keys ...string) (int, error) {
	return s.backend.Delete(ctx, keys...)
}

func (s *Store) put(ctx context.Context, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%w: key %s: %v", core.ErrSerialization, key, err)
	}
	if ttl <= 0 {
		ttl = s.cfg.DefaultTTL
	}

	now := s.now()
	env, err := json.Marshal(envelope{
		Value:     raw,
		CreatedAt: now.UnixMilli(),
		ExpiresAt: now.Add(ttl).UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("%w: key %s: %v", core.ErrSerialization, key, err)
	}

	if err := s.backend.Set(ctx, key, env, ttl); err != nil {
		return fmt.Errorf("failed to store %s: %w", key, err)
	}
	return nil
}

func (s *Store) get(ctx context.Context, key string, out any) (bool, error) {
	env, ok, err := s.getEnvelope(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if out == nil {
		return true, nil
	}
	if err := json.Unmarshal(env.Value, out); err != nil {
		return false, fmt.Errorf("%w: key %s: %v", core.ErrSerialization, key, err)
	}
	return true, nil
}

func (s *Store) getEnvelope(ctx context.Context, key string) (envelope, bool, error) {
	var env envelope

	raw, ok, err := s.backend.Get(ctx, key)
	if err != nil {
		return env, false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	if !ok {
		return env, false, nil
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return env, false, fmt.Errorf("%w: key %s: %v", core.ErrSerialization, key, err)
	}

	if env.expired(s.now()) {
		if _, err := s.backend.Delete(ctx, key); err != nil {
			return env, false, fmt.Errorf("failed to evict %s: %w", key, err)
		}
		s.metrics.ObserveEviction("lazy", 1)
		return env, false, nil
	}
	return env, true, nil
}

// RefreshTTL restarts the lifetime of an existing entry. A non-positive ttl
// uses the per-type default.
func (s *Store) RefreshTTL(ctx context.Context, session, typ, id string, ttl time.Duration) bool {
	key := Key(session, typ, id)
	if ttl <= 0 {
		ttl = s.ttlFor(typ)
	}

	mu := s.lockFor(key)
	mu.Lock()
	defer mu.Unlock()

	env, ok, err := s.getEnvelope(ctx, key)
	if err != nil {
		s.logHelperError(ctx, "refresh_ttl", key, err)
		return false
	}
	if !ok {
		return false
	}

	now := s.now()
	env.ExpiresAt = now.Add(ttl).UnixMilli()
	raw, err := json.Marshal(env)
	if err != nil {
		s.logHelperError(ctx, "refresh_ttl", key, err)
		return false
	}
	if err := s.backend.Set(ctx, key, raw, ttl); err != nil {
		s.logHelperError(ctx, "refresh_ttl", key, err)
		return false
	}
	return true
}

// ClearSessionData removes every key of the session and returns how many
// were deleted.
func (s *Store) ClearSessionData(ctx context.Context, session string) int {
	keys, err := s.backend.Keys(ctx, SessionPrefix(session))
	if err != nil {
		s.logHelperError(ctx, "clear_session", session, err)
		return 0
	}
	if len(keys) == 0 {
		return 0
	}

	n, err := s.backend.Delete(ctx, keys...)
	if err != nil {
		s.logHelperError(ctx, "clear_session", session, err)
		return 0
	}
	s.metrics.ObserveEviction("cleared", n)
	log.FromCtx(ctx).Debug().Str("session_id", session).Int("keys", n).Msg("session data cleared")
	return n
}

// Sweep removes every expired entry. It locks one key at a time, so stores
// and reads of other keys proceed concurrently.
func (s *Store) Sweep(ctx context.Context) (int, error) {
	keys, err := s.backend.Keys(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("failed to list keys: %w", err)
	}

	removed := 0
	for _, key := range keys {
		if ctx.Err() != nil {
			break
		}
		if s.sweepKey(ctx, key) {
			removed++
		}
	}

	s.metrics.ObserveEviction("expired", removed)
	return removed, nil
}

func (s *Store) sweepKey(ctx context.Context, key string) bool {
	mu := s.lockFor(key)
	mu.Lock()
	defer mu.Unlock()

	raw, ok, err := s.backend.Get(ctx, key)
	if err != nil || !ok {
		return false
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		log.FromCtx(ctx).Warn().Str("key", key).Msg("dropping undecodable memory entry")
	} else if !env.expired(s.now()) {
		return false
	}

	n, err := s.backend.Delete(ctx, key)
	return err == nil && n > 0
}

func (s *Store) Close() error {
	return s.backend.Close()
}

func (s *Store) logHelperError(ctx context.Context, op, key string, err error) {
	s.metrics.ObserveHelperError(op)
	log.FromCtx(ctx).Error().Err(err).Str("op", op).Str("key", key).Msg("working memory operation failed")
}
