package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// mapProvider implements IdentityProvider over an in-memory map.
type mapProvider struct {
	mu         sync.Mutex
	calls      int
	principals map[string]Principal
	err        error
	delay      time.Duration
}

func (m *mapProvider) FindBySubject(ctx context.Context, subject string) (Principal, error) {
	m.mu.Lock()
	m.calls++
	delay, err := m.delay, m.err
	p, ok := m.principals[subject]
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrIdentityNotFound
	}
	return p, nil
}

func (m *mapProvider) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func newMapProvider(ps ...staticPrincipal) *mapProvider {
	m := &mapProvider{principals: map[string]Principal{}}
	for _, p := range ps {
		m.principals[p.subject] = p
	}
	return m
}

var alicePrincipal = staticPrincipal{subject: "alice@example.com", authorities: []string{"ROLE_USER"}, hash: "h1"}

func TestCachedProvider_Miss(t *testing.T) {
	provider := newMapProvider(alicePrincipal)
	cache := NewCachedProvider(provider, 16, time.Minute, time.Second)

	p, err := cache.FindBySubject(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.SubjectID() != "alice@example.com" {
		t.Errorf("unexpected subject: %s", p.SubjectID())
	}
	if provider.callCount() != 1 {
		t.Errorf("expected 1 provider call, got %d", provider.callCount())
	}
}

func TestCachedProvider_Hit(t *testing.T) {
	provider := newMapProvider(alicePrincipal)
	cache := NewCachedProvider(provider, 16, time.Minute, time.Second)

	// First call: cache miss.
	_, _ = cache.FindBySubject(context.Background(), "alice@example.com")
	// Second call: cache hit.
	if _, err := cache.FindBySubject(context.Background(), "alice@example.com"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if provider.callCount() != 1 {
		t.Errorf("expected 1 provider call (cached), got %d", provider.callCount())
	}
}

func TestCachedProvider_Expiry(t *testing.T) {
	provider := newMapProvider(alicePrincipal)
	cache := NewCachedProvider(provider, 16, 10*time.Millisecond, time.Second)

	_, _ = cache.FindBySubject(context.Background(), "alice@example.com")
	if provider.callCount() != 1 {
		t.Fatalf("expected 1 call, got %d", provider.callCount())
	}

	// Wait for expiry.
	time.Sleep(50 * time.Millisecond)

	if _, err := cache.FindBySubject(context.Background(), "alice@example.com"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if provider.callCount() != 2 {
		t.Errorf("expected 2 provider calls after expiry, got %d", provider.callCount())
	}
}

func TestCachedProvider_Invalidate(t *testing.T) {
	provider := newMapProvider(alicePrincipal)
	cache := NewCachedProvider(provider, 16, time.Minute, time.Second)

	_, _ = cache.FindBySubject(context.Background(), "alice@example.com")
	cache.Invalidate("alice@example.com")
	_, _ = cache.FindBySubject(context.Background(), "alice@example.com")

	if provider.callCount() != 2 {
		t.Errorf("expected 2 provider calls after invalidation, got %d", provider.callCount())
	}
}

func TestCachedProvider_NotFoundNotCached(t *testing.T) {
	provider := newMapProvider()
	cache := NewCachedProvider(provider, 16, time.Minute, time.Second)

	_, err := cache.FindBySubject(context.Background(), "ghost@example.com")
	if !errors.Is(err, ErrIdentityNotFound) {
		t.Fatalf("expected ErrIdentityNotFound, got %v", err)
	}

	// The account appears later; the miss must not have been cached.
	provider.mu.Lock()
	provider.principals["ghost@example.com"] = staticPrincipal{subject: "ghost@example.com"}
	provider.mu.Unlock()

	p, err := cache.FindBySubject(context.Background(), "ghost@example.com")
	if err != nil {
		t.Fatalf("unexpected error on retry: %v", err)
	}
	if p.SubjectID() != "ghost@example.com" {
		t.Errorf("unexpected subject: %s", p.SubjectID())
	}
}

func TestCachedProvider_ErrorNotCached(t *testing.T) {
	provider := newMapProvider(alicePrincipal)
	provider.err = errors.New("network error")
	cache := NewCachedProvider(provider, 16, time.Minute, time.Second)

	if _, err := cache.FindBySubject(context.Background(), "alice@example.com"); err == nil {
		t.Fatal("expected error from provider")
	}

	provider.mu.Lock()
	provider.err = nil
	provider.mu.Unlock()

	if _, err := cache.FindBySubject(context.Background(), "alice@example.com"); err != nil {
		t.Fatalf("unexpected error on retry: %v", err)
	}
}

func TestCachedProvider_ConcurrentAccess(t *testing.T) {
	provider := newMapProvider(alicePrincipal)
	cache := NewCachedProvider(provider, 16, time.Minute, time.Second)

	var wg sync.WaitGroup
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := cache.FindBySubject(context.Background(), "alice@example.com")
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if p.SubjectID() != "alice@example.com" {
				t.Errorf("unexpected subject: %s", p.SubjectID())
			}
		}()
	}
	wg.Wait()

	// Due to caching, the provider should be called far fewer times than 100.
	if provider.callCount() > 10 {
		t.Errorf("expected few provider calls due to caching, got %d", provider.callCount())
	}
}

func TestCachedProvider_CancelledCallerDoesNotFailOthers(t *testing.T) {
	provider := newMapProvider(alicePrincipal)
	provider.delay = 100 * time.Millisecond
	cache := NewCachedProvider(provider, 16, time.Minute, time.Second)
	resolver := NewIdentityResolver(cache, time.Second)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := resolver.Resolve(firstCtx, "alice@example.com")
		firstErr <- err
	}()

	// Wait until the first lookup is in flight before joining it.
	deadline := time.Now().Add(time.Second)
	for provider.callCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("first lookup never started")
		}
		time.Sleep(time.Millisecond)
	}

	secondDone := make(chan struct{})
	var (
		id  *Identity
		err error
	)
	go func() {
		defer close(secondDone)
		id, err = resolver.Resolve(context.Background(), "alice@example.com")
	}()

	time.Sleep(10 * time.Millisecond)
	cancelFirst()

	if got := <-firstErr; !errors.Is(got, context.Canceled) {
		t.Errorf("expected context.Canceled for the cancelled caller, got %v", got)
	}
	<-secondDone
	if err != nil {
		t.Fatalf("unexpected error for the second caller: %v (kind %q)", err, KindOf(err))
	}
	if id.SubjectID != "alice@example.com" {
		t.Errorf("unexpected subject: %s", id.SubjectID)
	}
	if provider.callCount() != 1 {
		t.Errorf("expected 1 shared provider call, got %d", provider.callCount())
	}

	// The shared result was cached even though its first caller left.
	if _, err := cache.FindBySubject(context.Background(), "alice@example.com"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if provider.callCount() != 1 {
		t.Errorf("expected cached principal, got %d provider calls", provider.callCount())
	}
}

func TestCachedProvider_SharedLookupTimeout(t *testing.T) {
	provider := newMapProvider(alicePrincipal)
	provider.delay = time.Second
	cache := NewCachedProvider(provider, 16, time.Minute, 20*time.Millisecond)

	_, err := cache.FindBySubject(context.Background(), "alice@example.com")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}
}
