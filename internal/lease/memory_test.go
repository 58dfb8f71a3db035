package lease

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStorePutGetDelete(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "k", []byte("v1"), time.Minute))

	val, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v1"), val)

	exists, err := s.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, s.Delete(ctx, "k"))
	_, ok, err = s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStoreExpiry(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()
	s.SetClock(func() time.Time { return now })

	require.NoError(t, s.Put(ctx, "k", []byte("v"), time.Minute))

	now = now.Add(59 * time.Second)
	ttl, ok, err := s.RemainingTTL(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, time.Second, ttl)

	now = now.Add(2 * time.Second)
	_, ok, err = s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = s.RemainingTTL(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStoreRefreshPreservesTTL(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()
	s.SetClock(func() time.Time { return now })

	require.NoError(t, s.Put(ctx, "k", []byte("v1"), time.Minute))
	now = now.Add(30 * time.Second)
	require.NoError(t, s.Refresh(ctx, "k", []byte("v2")))

	val, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v2"), val)

	ttl, ok, err := s.RemainingTTL(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 30*time.Second, ttl, "refresh must not extend the lease")
}

func TestMemoryStoreRefreshAbsentIsNoop(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Refresh(ctx, "missing", []byte("v")))
	_, ok, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok, "refresh must not create keys")
}

func TestMemoryStoreKeysMatching(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "seat_hold:7:1", []byte("a"), time.Minute))
	require.NoError(t, s.Put(ctx, "seat_hold:7:2", []byte("b"), time.Minute))
	require.NoError(t, s.Put(ctx, "seat_hold:8:1", []byte("c"), time.Minute))
	require.NoError(t, s.Put(ctx, "order_session:7:1", []byte("d"), time.Minute))

	keys, err := s.KeysMatching(ctx, "seat_hold:7:*")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"seat_hold:7:1", "seat_hold:7:2"}, keys)
}
