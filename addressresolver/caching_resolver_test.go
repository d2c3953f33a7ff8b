package addressresolver

import (
	"context"
	"net/netip"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingResolver counts LookupA calls and returns a fixed answer.
type countingResolver struct {
	calls atomic.Int32
	addrs []netip.Addr
	err   error
	delay time.Duration
}

func (r *countingResolver) LookupA(ctx context.Context, host string) ([]netip.Addr, error) {
	r.calls.Add(1)
	if r.delay > 0 {
		time.Sleep(r.delay)
	}

	return r.addrs, r.err
}

func TestCachingResolver_LookupA(t *testing.T) {
	answer := []netip.Addr{netip.MustParseAddr("192.0.2.1")}

	t.Run("repeat lookups are served from cache", func(t *testing.T) {
		upstream := &countingResolver{addrs: answer}
		r := NewCachingResolver(upstream, NewMemoryResolveCache(cache.NoExpiration, time.Minute), time.Minute, nil)

		for i := 0; i < 3; i++ {
			addrs, err := r.LookupA(context.Background(), "example.test")
			require.NoError(t, err)
			assert.Equal(t, answer, addrs)
		}

		assert.Equal(t, int32(1), upstream.calls.Load())
	})

	t.Run("errors are not cached", func(t *testing.T) {
		upstream := &countingResolver{err: assert.AnError}
		r := NewCachingResolver(upstream, NewMemoryResolveCache(cache.NoExpiration, time.Minute), time.Minute, nil)

		_, err := r.LookupA(context.Background(), "example.test")
		assert.ErrorIs(t, err, assert.AnError)

		upstream.err = nil
		upstream.addrs = answer
		addrs, err := r.LookupA(context.Background(), "example.test")
		require.NoError(t, err)
		assert.Equal(t, answer, addrs)
		assert.Equal(t, int32(2), upstream.calls.Load())
	})

	t.Run("concurrent lookups for one host are coalesced", func(t *testing.T) {
		upstream := &countingResolver{addrs: answer, delay: 50 * time.Millisecond}
		r := NewCachingResolver(upstream, NewMemoryResolveCache(cache.NoExpiration, time.Minute), time.Minute, nil)

		const n = 10
		var wg sync.WaitGroup
		wg.Add(n)
		for i := 0; i < n; i++ {
			go func() {
				defer wg.Done()
				addrs, err := r.LookupA(context.Background(), "example.test")
				assert.NoError(t, err)
				assert.Equal(t, answer, addrs)
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), upstream.calls.Load())
	})
}

func TestMemoryResolveCache(t *testing.T) {
	t.Run("miss then hit", func(t *testing.T) {
		c := NewMemoryResolveCache(cache.NoExpiration, time.Minute)
		ctx := context.Background()

		_, found, err := c.Get(ctx, "example.test")
		require.NoError(t, err)
		assert.False(t, found)

		addrs := []netip.Addr{netip.MustParseAddr("192.0.2.1"), netip.MustParseAddr("192.0.2.2")}
		require.NoError(t, c.Set(ctx, "example.test", addrs, time.Minute))

		got, found, err := c.Get(ctx, "example.test")
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, addrs, got)
	})

	t.Run("expired entries miss", func(t *testing.T) {
		c := NewMemoryResolveCache(cache.NoExpiration, time.Minute)
		ctx := context.Background()

		addrs := []netip.Addr{netip.MustParseAddr("192.0.2.1")}
		require.NoError(t, c.Set(ctx, "example.test", addrs, 10*time.Millisecond))
		time.Sleep(30 * time.Millisecond)

		_, found, err := c.Get(ctx, "example.test")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("cancelled context is an error", func(t *testing.T) {
		c := NewMemoryResolveCache(cache.NoExpiration, time.Minute)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, _, err := c.Get(ctx, "example.test")
		assert.ErrorIs(t, err, context.Canceled)
		assert.ErrorIs(t, c.Set(ctx, "example.test", nil, time.Minute), context.Canceled)
	})
}
