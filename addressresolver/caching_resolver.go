package addressresolver

import (
	"context"
	"fmt"
	"net/netip"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/cyberinferno/go-async-tcp/logger"
)

// CachingResolver decorates a Resolver with a ResolveCache. Concurrent
// lookups for the same host are coalesced with singleflight so only one
// underlying query runs; cache failures are logged and treated as misses.
type CachingResolver struct {
	resolver Resolver
	cache    ResolveCache
	ttl      time.Duration
	group    singleflight.Group
	log      logger.Logger
}

// NewCachingResolver creates a CachingResolver around the given resolver.
//
// Parameters:
//   - resolver: The Resolver to decorate
//   - cache: The ResolveCache to consult and populate
//   - ttl: Time-to-live for cached entries; 0 means 60 seconds
//   - log: Optional logger for cache failures; nil disables logging
//
// Returns:
//   - A new *CachingResolver
func NewCachingResolver(resolver Resolver, cache ResolveCache, ttl time.Duration, log logger.Logger) *CachingResolver {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}

	if log == nil {
		log = logger.NewNopLogger()
	}

	return &CachingResolver{
		resolver: resolver,
		cache:    cache,
		ttl:      ttl,
		log:      log,
	}
}

// LookupA implements Resolver. It serves repeat lookups from the cache and
// coalesces concurrent lookups for the same host into a single query.
//
// Parameters:
//   - ctx: Context for cancellation and timeout control
//   - host: The hostname to resolve
//
// Returns:
//   - The resolved IPv4 addresses, or the underlying resolver's error
func (r *CachingResolver) LookupA(ctx context.Context, host string) ([]netip.Addr, error) {
	if addrs, found := r.cachedAddrs(ctx, host); found {
		return addrs, nil
	}

	val, err, _ := r.group.Do(host, func() (interface{}, error) {
		// Double-check the cache; another goroutine may have populated it
		// while we waited on the singleflight slot.
		if addrs, found := r.cachedAddrs(ctx, host); found {
			return addrs, nil
		}

		addrs, err := r.resolver.LookupA(ctx, host)
		if err != nil {
			return nil, err
		}

		if err := r.cache.Set(ctx, host, addrs, r.ttl); err != nil {
			r.log.Warn("resolve cache set failed",
				logger.Field{Key: "host", Value: host},
				logger.Field{Key: "error", Value: err})
		}

		return addrs, nil
	})

	if err != nil {
		return nil, err
	}

	addrs, ok := val.([]netip.Addr)
	if !ok {
		return nil, fmt.Errorf("unexpected type for host %s", host)
	}

	return addrs, nil
}

// cachedAddrs reads the cache, demoting backend errors to misses.
func (r *CachingResolver) cachedAddrs(ctx context.Context, host string) ([]netip.Addr, bool) {
	addrs, found, err := r.cache.Get(ctx, host)
	if err != nil {
		r.log.Warn("resolve cache get failed",
			logger.Field{Key: "host", Value: host},
			logger.Field{Key: "error", Value: err})
		return nil, false
	}

	return addrs, found
}
