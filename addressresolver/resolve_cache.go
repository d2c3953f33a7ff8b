package addressresolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

// ResolveCache stores resolved address lists keyed by hostname. The cache is
// advisory: implementations may lose entries at any time, and a miss simply
// causes another lookup. Implementations must be safe for concurrent use.
type ResolveCache interface {
	// Get returns the cached addresses for host, if present.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout control
	//   - host: The hostname key
	//
	// Returns:
	//   - The cached addresses and true on a hit, or nil and false on a miss
	//   - An error if the cache backend failed
	Get(ctx context.Context, host string) ([]netip.Addr, bool, error)

	// Set stores the addresses for host with the given TTL.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout control
	//   - host: The hostname key
	//   - addrs: The resolved addresses to store
	//   - ttl: Time-to-live for the entry
	//
	// Returns:
	//   - An error if the cache backend failed
	Set(ctx context.Context, host string, addrs []netip.Addr, ttl time.Duration) error
}

// MemoryResolveCache is an in-memory ResolveCache backed by go-cache.
type MemoryResolveCache struct {
	cache *cache.Cache
}

// NewMemoryResolveCache creates an in-memory resolve cache.
//
// Parameters:
//   - defaultExpiration: Default TTL for entries (use cache.NoExpiration for none)
//   - cleanupInterval: Interval at which expired entries are removed
//
// Returns:
//   - A new *MemoryResolveCache
func NewMemoryResolveCache(defaultExpiration, cleanupInterval time.Duration) *MemoryResolveCache {
	return &MemoryResolveCache{
		cache: cache.New(defaultExpiration, cleanupInterval),
	}
}

// Get implements ResolveCache.
func (c *MemoryResolveCache) Get(ctx context.Context, host string) ([]netip.Addr, bool, error) {
	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	default:
	}

	val, found := c.cache.Get(host)
	if !found {
		return nil, false, nil
	}

	addrs, ok := val.([]netip.Addr)
	if !ok {
		return nil, false, fmt.Errorf("unexpected type in cache for host %s", host)
	}

	return addrs, true, nil
}

// Set implements ResolveCache.
func (c *MemoryResolveCache) Set(ctx context.Context, host string, addrs []netip.Addr, ttl time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	c.cache.Set(host, addrs, ttl)
	return nil
}

// RedisResolveCache is a ResolveCache backed by Redis. Address lists are
// stored as JSON arrays of address strings under a configurable key prefix,
// so entries are shared between processes pointing at the same Redis.
type RedisResolveCache struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisResolveCache creates a Redis-backed resolve cache.
//
// Example:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	rc := NewRedisResolveCache(client, "resolve:")
//
// Parameters:
//   - client: The Redis client to use
//   - keyPrefix: Prefix for cache keys; "" defaults to "resolve:"
//
// Returns:
//   - A new *RedisResolveCache
func NewRedisResolveCache(client *redis.Client, keyPrefix string) *RedisResolveCache {
	if keyPrefix == "" {
		keyPrefix = "resolve:"
	}

	return &RedisResolveCache{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

// Get implements ResolveCache.
func (c *RedisResolveCache) Get(ctx context.Context, host string) ([]netip.Addr, bool, error) {
	val, err := c.client.Get(ctx, c.keyPrefix+host).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}

	if err != nil {
		return nil, false, fmt.Errorf("redis get error: %w", err)
	}

	var raw []string
	if err := json.Unmarshal([]byte(val), &raw); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal cached addresses: %w", err)
	}

	addrs := make([]netip.Addr, 0, len(raw))
	for _, s := range raw {
		addr, err := netip.ParseAddr(s)
		if err != nil {
			return nil, false, fmt.Errorf("failed to parse cached address %q: %w", s, err)
		}

		addrs = append(addrs, addr)
	}

	return addrs, true, nil
}

// Set implements ResolveCache.
func (c *RedisResolveCache) Set(ctx context.Context, host string, addrs []netip.Addr, ttl time.Duration) error {
	raw := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		raw = append(raw, addr.String())
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("failed to marshal addresses: %w", err)
	}

	if err := c.client.Set(ctx, c.keyPrefix+host, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set error: %w", err)
	}

	return nil
}
