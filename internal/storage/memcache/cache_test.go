package memcache

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_SetGetDelete(t *testing.T) {
	ctx := context.Background()
	c := New()

	value := []byte(`{"a":1}`)
	require.NoError(t, c.Set(ctx, "s1:context", value, time.Minute))
	value[0] = 'x'

	got, ok, err := c.Get(ctx, "s1:context")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `{"a":1}`, string(got))

	n, err := c.Delete(ctx, "s1:context", "missing")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, ok, _ = c.Get(ctx, "s1:context")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestCache_KeysByPrefix(t *testing.T) {
	ctx := context.Background()
	c := New()

	for _, k := range []string{"s1:context", "s1:plans:q1", "s10:context", "s2:context"} {
		require.NoError(t, c.Set(ctx, k, []byte("1"), 0))
	}

	keys, err := c.Keys(ctx, "s1:")
	require.NoError(t, err)
	sort.Strings(keys)
	assert.Equal(t, []string{"s1:context", "s1:plans:q1"}, keys)

	require.NoError(t, c.Close())
	assert.Equal(t, 0, c.Len())
}
