package graph

import (
	"context"
	"fmt"
	"sync"
)

// ResolverFunc materializes an opaque string identifier into a runtime
// object, e.g. a dataset name into a storage handle. Resolvers may be
// asynchronous; they receive the registry so they can delegate.
type ResolverFunc func(ctx context.Context, id, format string, reg *ResolverRegistry) (any, error)

// ResolverRegistry maps custom-format annotations to resolvers. The registry
// is consulted during input materialization for every input whose port
// schema carries a format tag. Resolution is fail-fast: a missing resolver
// or a resolver error fails the task before its body is invoked.
type ResolverRegistry struct {
	mu        sync.RWMutex
	resolvers map[string]ResolverFunc
}

// NewResolverRegistry creates an empty resolver registry.
func NewResolverRegistry() *ResolverRegistry {
	return &ResolverRegistry{
		resolvers: make(map[string]ResolverFunc),
	}
}

// Register adds a resolver for a format tag, replacing any previous one.
func (r *ResolverRegistry) Register(format string, fn ResolverFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolvers[format] = fn
}

// Has reports whether a resolver is registered for the format tag.
func (r *ResolverRegistry) Has(format string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.resolvers[format]
	return ok
}

// Resolve maps an identifier through the resolver registered for the format.
func (r *ResolverRegistry) Resolve(ctx context.Context, format, id string) (any, error) {
	r.mu.RLock()
	fn, ok := r.resolvers[format]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoResolver, format)
	}
	return fn(ctx, id, format, r)
}
