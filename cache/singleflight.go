package cache

import (
	"context"

	"golang.org/x/sync/singleflight"

	"github.com/smallnest/taskgraphgo/log"
)

// ComputeFunc produces the output for a key when the cache misses.
type ComputeFunc func(ctx context.Context) (map[string]any, error)

// SingleFlight wraps an OutputCache with an at-most-one-concurrent-producer
// guarantee per key: a lookup arriving while a compute for the same key is
// in flight awaits that compute's result instead of launching a duplicate.
type SingleFlight struct {
	c      OutputCache
	group  singleflight.Group
	logger log.Logger
}

// NewSingleFlight wraps a cache with single-flight semantics.
func NewSingleFlight(c OutputCache) *SingleFlight {
	return &SingleFlight{
		c:      c,
		logger: log.GetDefaultLogger(),
	}
}

// SetLogger replaces the logger used for best-effort write failures.
func (s *SingleFlight) SetLogger(l log.Logger) {
	if l != nil {
		s.logger = l
	}
}

// GetOutput delegates to the wrapped cache.
func (s *SingleFlight) GetOutput(ctx context.Context, taskType, key string) (map[string]any, bool, error) {
	return s.c.GetOutput(ctx, taskType, key)
}

// PutOutput delegates to the wrapped cache.
func (s *SingleFlight) PutOutput(ctx context.Context, taskType, key string, output map[string]any) error {
	return s.c.PutOutput(ctx, taskType, key, output)
}

type flightResult struct {
	out map[string]any
	hit bool
}

// GetOrCompute returns the cached output for the key, or runs compute and
// stores its result. Concurrent callers for the same key collapse into one
// compute; every caller observes the same output. The returned hit flag is
// true whenever this caller's compute did not run — a cache hit or a joined
// flight. Cache write failures are logged, never surfaced: the cache is
// best-effort.
func (s *SingleFlight) GetOrCompute(ctx context.Context, taskType, key string, compute ComputeFunc) (map[string]any, bool, error) {
	flightKey := taskType + "\x00" + key

	ran := false
	v, err, _ := s.group.Do(flightKey, func() (any, error) {
		out, ok, gerr := s.c.GetOutput(ctx, taskType, key)
		if gerr != nil {
			s.logger.Warn("cache read failed for %s: %v", taskType, gerr)
		}
		if ok {
			return flightResult{out: out, hit: true}, nil
		}

		ran = true
		out, cerr := compute(ctx)
		if cerr != nil {
			// Failed runs are never cached.
			return nil, cerr
		}

		if perr := s.c.PutOutput(ctx, taskType, key, out); perr != nil {
			s.logger.Warn("cache write failed for %s: %v", taskType, perr)
		}
		return flightResult{out: out, hit: false}, nil
	})

	if err != nil {
		return nil, false, err
	}

	res := v.(flightResult)
	return res.out, res.hit || !ran, nil
}
