package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
)

func TestRedisOutputCache(t *testing.T) {
	// Start miniredis
	mr, err := miniredis.Run()
	assert.NoError(t, err)
	defer mr.Close()

	store := NewRedisOutputCache(RedisOptions{
		Addr: mr.Addr(),
	})
	defer store.Close()

	ctx := context.Background()

	// Miss
	_, ok, err := store.GetOutput(ctx, "embed", "k1")
	assert.NoError(t, err)
	assert.False(t, ok)

	// Put + hit
	err = store.PutOutput(ctx, "embed", "k1", map[string]any{"text": "hello"})
	assert.NoError(t, err)

	out, ok, err := store.GetOutput(ctx, "embed", "k1")
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "hello", out["text"])

	// Task types partition the keyspace
	_, ok, err = store.GetOutput(ctx, "chunk", "k1")
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisOutputCache_TTL(t *testing.T) {
	mr, err := miniredis.Run()
	assert.NoError(t, err)
	defer mr.Close()

	store := NewRedisOutputCache(RedisOptions{
		Addr: mr.Addr(),
		TTL:  time.Minute,
	})
	defer store.Close()

	ctx := context.Background()
	err = store.PutOutput(ctx, "embed", "k1", map[string]any{"v": "cached"})
	assert.NoError(t, err)

	out, ok, err := store.GetOutput(ctx, "embed", "k1")
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "cached", out["v"])

	// Expire via miniredis clock
	mr.FastForward(2 * time.Minute)

	_, ok, err = store.GetOutput(ctx, "embed", "k1")
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisOutputCache_Prefix(t *testing.T) {
	mr, err := miniredis.Run()
	assert.NoError(t, err)
	defer mr.Close()

	store := NewRedisOutputCache(RedisOptions{
		Addr:   mr.Addr(),
		Prefix: "wf:",
	})
	defer store.Close()

	ctx := context.Background()
	assert.NoError(t, store.PutOutput(ctx, "embed", "k1", map[string]any{"v": 1}))

	assert.True(t, mr.Exists("wf:output:embed:k1"))
}
