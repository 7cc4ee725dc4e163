package adapters

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRUCache_GetSet(t *testing.T) {
	ctx := context.Background()
	c := NewLRUCache(2)

	require.NoError(t, c.Set(ctx, "a", []byte("1"), 60))
	got, ok := c.Get(ctx, "a")
	assert.True(t, ok)
	assert.Equal(t, []byte("1"), got)

	_, ok = c.Get(ctx, "missing")
	assert.False(t, ok)
}

func TestLRUCache_EvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	c := NewLRUCache(2)

	_ = c.Set(ctx, "a", []byte("1"), 60)
	_ = c.Set(ctx, "b", []byte("2"), 60)
	_, _ = c.Get(ctx, "a") // a is now most recent
	_ = c.Set(ctx, "c", []byte("3"), 60)

	_, okA := c.Get(ctx, "a")
	_, okB := c.Get(ctx, "b")
	_, okC := c.Get(ctx, "c")
	assert.True(t, okA)
	assert.False(t, okB)
	assert.True(t, okC)
	assert.Equal(t, 2, c.Len())
}

func TestLRUCache_ExpiresEntries(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	c := NewLRUCache(4)
	c.now = func() time.Time { return now }

	_ = c.Set(ctx, "k", []byte("v"), 10)
	c.now = func() time.Time { return now.Add(11 * time.Second) }

	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestLRUCache_StoresCopy(t *testing.T) {
	ctx := context.Background()
	c := NewLRUCache(1)

	buf := []byte("abc")
	_ = c.Set(ctx, "k", buf, 60)
	buf[0] = 'z'

	got, _ := c.Get(ctx, "k")
	assert.Equal(t, "abc", string(got))
}

func TestLRUCache_Delete(t *testing.T) {
	ctx := context.Background()
	c := NewLRUCache(2)
	_ = c.Set(ctx, "k", []byte("v"), 60)

	require.NoError(t, c.Delete(ctx, "k"))
	require.NoError(t, c.Delete(ctx, "k"))
	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestTokenBucket_LimitsAndRefills(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	tb := NewTokenBucket(2, time.Second)
	tb.now = func() time.Time { return now }

	for range 2 {
		release, err := tb.Acquire(ctx, "model")
		require.NoError(t, err)
		release()
	}
	_, err := tb.Acquire(ctx, "model")
	assert.ErrorIs(t, err, ErrRateLimitExceeded)

	// other keys have their own bucket
	_, err = tb.Acquire(ctx, "other")
	assert.NoError(t, err)

	tb.now = func() time.Time { return now.Add(1500 * time.Millisecond) }
	_, err = tb.Acquire(ctx, "model")
	assert.NoError(t, err)
	_, err = tb.Acquire(ctx, "model")
	assert.ErrorIs(t, err, ErrRateLimitExceeded)
}

func TestTokenBucket_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewTokenBucket(1, time.Second).Acquire(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
}
