package memcache

import (
	"context"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
)

// Cache is the process-local working memory backend. Expiry is owned by the
// memory store, so items are kept with NoExpiration and no janitor runs.
type Cache struct {
	c *cache.Cache
}

func New() *Cache {
	return &Cache{c: cache.New(cache.NoExpiration, 0)}
}

func (m *Cache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	buf := make([]byte, len(value))
	copy(buf, value)
	m.c.Set(key, buf, cache.NoExpiration)
	return nil
}

func (m *Cache) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := m.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	b, ok := v.([]byte)
	return b, ok, nil
}

func (m *Cache) Delete(_ context.Context, keys ...string) (int, error) {
	n := 0
	for _, k := range keys {
		if _, ok := m.c.Get(k); ok {
			m.c.Delete(k)
			n++
		}
	}
	return n, nil
}

func (m *Cache) Keys(_ context.Context, prefix string) ([]string, error) {
	items := m.c.Items()
	keys := make([]string, 0, len(items))
	for k := range items {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (m *Cache) Len() int {
	return m.c.ItemCount()
}

func (m *Cache) Close() error {
	m.c.Flush()
	return nil
}
