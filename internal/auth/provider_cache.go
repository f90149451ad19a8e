package auth

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// CachedProvider wraps an IdentityProvider with a size-bounded TTL cache.
// Concurrent misses for the same subject are coalesced via singleflight.
// Not-found results and errors are never cached.
type CachedProvider struct {
	provider IdentityProvider
	cache    *expirable.LRU[string, Principal]
	sf       singleflight.Group
	timeout  time.Duration
}

var _ IdentityProvider = (*CachedProvider)(nil)

// NewCachedProvider creates a cache holding up to size principals for ttl.
// A coalesced lookup runs for at most timeout; non-positive selects
// DefaultLookupTimeout.
func NewCachedProvider(provider IdentityProvider, size int, ttl, timeout time.Duration) *CachedProvider {
	if timeout <= 0 {
		timeout = DefaultLookupTimeout
	}
	return &CachedProvider{
		provider: provider,
		cache:    expirable.NewLRU[string, Principal](size, nil, ttl),
		timeout:  timeout,
	}
}

// FindBySubject returns the cached principal for subject, or fetches it from
// the underlying provider on miss. The shared fetch is detached from every
// caller's cancellation; each caller stops waiting when its own ctx is done.
func (c *CachedProvider) FindBySubject(ctx context.Context, subject string) (Principal, error) {
	if p, ok := c.cache.Get(subject); ok {
		return p, nil
	}

	ch := c.sf.DoChan(subject, func() (any, error) {
		// Another goroutine may have populated the entry while we waited.
		if p, ok := c.cache.Get(subject); ok {
			return p, nil
		}
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		p, err := c.provider.FindBySubject(lookupCtx, subject)
		if err != nil {
			return nil, err
		}
		if p != nil {
			c.cache.Add(subject, p)
		}
		return p, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		p, _ := res.Val.(Principal)
		return p, nil
	}
}

// Invalidate drops the cached principal for subject, e.g. after its record
// was changed or removed.
func (c *CachedProvider) Invalidate(subject string) {
	c.cache.Remove(subject)
}
