// Package cache provides short-TTL caching of tenant billing records
// so every admitted request does not cost a database round trip.
// It supports both in-memory (single instance) and Redis (shared)
// backends. Plan data changes rarely; a stale read within the TTL only
// delays a tier change, never a security decision.
package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/inmova/gatekeeper/internal/domain"
	"github.com/redis/go-redis/v9"
)

// Cache stores billing records by tenant ID with a TTL.
type Cache interface {
	Get(ctx context.Context, tenantID string) (*domain.BillingRecord, bool)
	Set(ctx context.Context, tenantID string, rec *domain.BillingRecord, ttl time.Duration) error
}

func cacheKey(tenantID string) string {
	return "billing:" + tenantID
}

type InMemoryCache struct {
	mu    sync.RWMutex
	items map[string]*cacheItem
}

type cacheItem struct {
	rec       *domain.BillingRecord
	expiresAt time.Time
}

func NewInMemoryCache() *InMemoryCache {
	c := &InMemoryCache{items: make(map[string]*cacheItem)}
	go c.cleanup()
	return c
}

func (c *InMemoryCache) Get(ctx context.Context, tenantID string) (*domain.BillingRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, ok := c.items[cacheKey(tenantID)]
	if !ok || time.Now().After(item.expiresAt) {
		return nil, false
	}

	cp := *item.rec
	return &cp, true
}

func (c *InMemoryCache) Set(ctx context.Context, tenantID string, rec *domain.BillingRecord, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cp := *rec
	c.items[cacheKey(tenantID)] = &cacheItem{
		rec:       &cp,
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}

func (c *InMemoryCache) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		c.mu.Lock()
		now := time.Now()
		for key, item := range c.items {
			if now.After(item.expiresAt) {
				delete(c.items, key)
			}
		}
		c.mu.Unlock()
	}
}

type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisCache{client: client}, nil
}

func NewRedisCacheWithClient(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, tenantID string) (*domain.BillingRecord, bool) {
	data, err := c.client.Get(ctx, cacheKey(tenantID)).Bytes()
	if err != nil {
		return nil, false
	}

	var rec domain.BillingRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, false
	}
	return &rec, true
}

func (c *RedisCache) Set(ctx context.Context, tenantID string, rec *domain.BillingRecord, ttl time.Duration) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, cacheKey(tenantID), data, ttl).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

// billingGetter is the read side of the billing repository.
type billingGetter interface {
	GetByTenantID(ctx context.Context, tenantID string) (*domain.BillingRecord, error)
}

// CachedBilling wraps a billing repository with a TTL cache. It
// satisfies plan.BillingSource. Lookup failures are not cached:
// fail-open decisions must re-check the store on the next request.
type CachedBilling struct {
	repo  billingGetter
	cache Cache
	ttl   time.Duration
}

func NewCachedBilling(repo billingGetter, cache Cache, ttl time.Duration) *CachedBilling {
	if ttl == 0 {
		ttl = 30 * time.Second
	}
	return &CachedBilling{repo: repo, cache: cache, ttl: ttl}
}

func (b *CachedBilling) GetBilling(ctx context.Context, tenantID string) (*domain.BillingRecord, error) {
	if rec, ok := b.cache.Get(ctx, tenantID); ok {
		return rec, nil
	}

	rec, err := b.repo.GetByTenantID(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	if err := b.cache.Set(ctx, tenantID, rec, b.ttl); err != nil {
		// Cache write failure only costs the next request a DB read.
		return rec, nil
	}
	return rec, nil
}
