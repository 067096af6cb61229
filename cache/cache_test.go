package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapCache struct {
	mu      sync.RWMutex
	entries map[string]map[string]any
}

func newMapCache() *mapCache {
	return &mapCache{entries: make(map[string]map[string]any)}
}

func (c *mapCache) GetOutput(_ context.Context, taskType, key string) (map[string]any, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out, ok := c.entries[taskType+"/"+key]
	return out, ok, nil
}

func (c *mapCache) PutOutput(_ context.Context, taskType, key string, output map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[taskType+"/"+key] = output
	return nil
}

func TestCanonicalKey_OrderIndependent(t *testing.T) {
	a := map[string]any{"text": "hello", "count": 3, "nested": map[string]any{"x": 1, "y": 2}}
	b := map[string]any{"nested": map[string]any{"y": 2, "x": 1}, "count": 3, "text": "hello"}

	ka, err := CanonicalKey(a)
	require.NoError(t, err)
	kb, err := CanonicalKey(b)
	require.NoError(t, err)

	assert.Equal(t, ka, kb)
}

func TestCanonicalKey_DistinguishesInputs(t *testing.T) {
	ka, err := CanonicalKey(map[string]any{"text": "hello"})
	require.NoError(t, err)
	kb, err := CanonicalKey(map[string]any{"text": "world"})
	require.NoError(t, err)

	assert.NotEqual(t, ka, kb)
}

func TestSingleFlight_HitAndMiss(t *testing.T) {
	sf := NewSingleFlight(newMapCache())
	ctx := context.Background()

	var runs atomic.Int32
	compute := func(context.Context) (map[string]any, error) {
		runs.Add(1)
		return map[string]any{"value": "computed"}, nil
	}

	out, hit, err := sf.GetOrCompute(ctx, "embed", "k1", compute)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, "computed", out["value"])
	assert.Equal(t, int32(1), runs.Load())

	out, hit, err = sf.GetOrCompute(ctx, "embed", "k1", compute)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "computed", out["value"])
	assert.Equal(t, int32(1), runs.Load())
}

func TestSingleFlight_ConcurrentProducersCollapse(t *testing.T) {
	sf := NewSingleFlight(newMapCache())
	ctx := context.Background()

	var runs atomic.Int32
	gate := make(chan struct{})
	compute := func(context.Context) (map[string]any, error) {
		runs.Add(1)
		<-gate
		return map[string]any{"value": "shared"}, nil
	}

	const callers = 8
	outputs := make([]map[string]any, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, _, err := sf.GetOrCompute(ctx, "embed", "same-key", compute)
			assert.NoError(t, err)
			outputs[i] = out
		}(i)
	}

	close(gate)
	wg.Wait()

	assert.Equal(t, int32(1), runs.Load(), "compute must run at most once per key")
	for _, out := range outputs {
		assert.Equal(t, "shared", out["value"])
	}
}

func TestSingleFlight_ComputeErrorNotCached(t *testing.T) {
	backing := newMapCache()
	sf := NewSingleFlight(backing)
	ctx := context.Background()

	boom := errors.New("boom")
	_, _, err := sf.GetOrCompute(ctx, "embed", "k1", func(context.Context) (map[string]any, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)

	_, ok, err := backing.GetOutput(ctx, "embed", "k1")
	require.NoError(t, err)
	assert.False(t, ok, "failed runs are never cached")

	// A later successful compute still populates the cache.
	out, hit, err := sf.GetOrCompute(ctx, "embed", "k1", func(context.Context) (map[string]any, error) {
		return map[string]any{"value": "ok"}, nil
	})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, "ok", out["value"])
}
