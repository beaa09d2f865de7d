package alert

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduplicator prevents the same quota alert from being sent more than
// once per level when multiple gateway replicas observe the same
// tenant crossing a threshold.
type Deduplicator interface {
	// ShouldAlert reports whether this alert is new and should be
	// dispatched. Exactly one replica gets true per (tenant, resource,
	// level) within the dedup window.
	ShouldAlert(ctx context.Context, tenantID, resource string, level Level) bool

	// Clear resets the alert state for a tenant/resource pair, called
	// when usage drops back below the warning threshold.
	Clear(ctx context.Context, tenantID, resource string)
}

// InMemoryDeduplicator tracks the last level sent per tenant/resource.
// Per-replica only.
type InMemoryDeduplicator struct {
	mu   sync.Mutex
	last map[string]Level
}

func NewInMemoryDeduplicator() *InMemoryDeduplicator {
	return &InMemoryDeduplicator{last: make(map[string]Level)}
}

func (d *InMemoryDeduplicator) ShouldAlert(ctx context.Context, tenantID, resource string, level Level) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := tenantID + "/" + resource
	if d.last[key] == level {
		return false
	}
	d.last[key] = level
	return true
}

func (d *InMemoryDeduplicator) Clear(ctx context.Context, tenantID, resource string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.last, tenantID+"/"+resource)
}

// RedisDeduplicator coordinates alert dedup across replicas with
// SETNX: only the replica that creates the key dispatches the alert.
type RedisDeduplicator struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisDeduplicator(client *redis.Client, ttl time.Duration) *RedisDeduplicator {
	if ttl == 0 {
		ttl = time.Hour
	}
	return &RedisDeduplicator{client: client, ttl: ttl}
}

func alertKey(tenantID, resource string, level Level) string {
	return fmt.Sprintf("quota:alert:%s:%s:%s", tenantID, resource, level)
}

func (d *RedisDeduplicator) ShouldAlert(ctx context.Context, tenantID, resource string, level Level) bool {
	acquired, err := d.client.SetNX(ctx, alertKey(tenantID, resource, level), time.Now().Unix(), d.ttl).Result()
	if err != nil {
		// Redis down: a duplicate alert beats a missed one.
		return true
	}
	return acquired
}

func (d *RedisDeduplicator) Clear(ctx context.Context, tenantID, resource string) {
	pattern := fmt.Sprintf("quota:alert:%s:%s:*", tenantID, resource)
	keys, err := d.client.Keys(ctx, pattern).Result()
	if err != nil || len(keys) == 0 {
		return
	}
	d.client.Del(ctx, keys...)
}
