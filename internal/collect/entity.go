package collect

import (
	"context"
	"strconv"
	"time"

	"github.com/hollis-dev/vigil/internal/fact"
)

// EntityResolver classifies an external id as character, corporation, or
// alliance. Resolution is done by the platform's entity service; the core
// never guesses from id ranges.
type EntityResolver interface {
	Resolve(ctx context.Context, id int64) (fact.EntityKind, error)
}

// StaticResolver resolves from a fixed table. Useful for tests and for
// deployments that preload the entity directory.
type StaticResolver map[int64]fact.EntityKind

// Resolve returns the mapped kind, or EntityUnknown for unmapped ids.
func (r StaticResolver) Resolve(_ context.Context, id int64) (fact.EntityKind, error) {
	return r[id], nil
}

// CachingResolver memoizes another resolver's answers. An entity's kind
// never changes, so cached classifications serve report headers without
// re-querying the platform every cycle.
type CachingResolver struct {
	inner EntityResolver
	cache Cache
	ttl   time.Duration
}

// NewCachingResolver wraps a resolver with a TTL cache. A zero ttl uses
// the cache's default.
func NewCachingResolver(inner EntityResolver, cache Cache, ttl time.Duration) *CachingResolver {
	return &CachingResolver{inner: inner, cache: cache, ttl: ttl}
}

func (r *CachingResolver) Resolve(ctx context.Context, id int64) (fact.EntityKind, error) {
	key := "entity:" + strconv.FormatInt(id, 10)
	if b, ok := r.cache.Get(key); ok && len(b) == 1 {
		return fact.EntityKind(b[0]), nil
	}

	kind, err := r.inner.Resolve(ctx, id)
	if err != nil {
		return fact.EntityUnknown, err
	}
	// Unknown is not cached: it usually means the directory has not
	// ingested the id yet.
	if kind != fact.EntityUnknown {
		_ = r.cache.Set(key, []byte{byte(kind)}, r.ttl)
	}
	return kind, nil
}
