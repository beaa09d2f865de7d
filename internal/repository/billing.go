// Package repository provides access to tenant billing state and
// resource usage. Postgres implementations back production; in-memory
// implementations back tests and local development.
package repository

import (
	"context"
	"sync"
	"time"

	"github.com/inmova/gatekeeper/internal/domain"
)

// BillingRepository reads and mutates tenant subscription records.
type BillingRepository interface {
	GetByTenantID(ctx context.Context, tenantID string) (*domain.BillingRecord, error)
	List(ctx context.Context) ([]*domain.BillingRecord, error)
	Create(ctx context.Context, rec *domain.BillingRecord) error
	Update(ctx context.Context, rec *domain.BillingRecord) error
}

// UsageRecorder persists metered-usage events and aggregates them.
type UsageRecorder interface {
	Record(ctx context.Context, ev domain.UsageEvent) error
	Total(ctx context.Context, tenantID string, rt domain.ResourceType, since time.Time) (int64, error)
}

// InMemoryBillingRepository is a map-backed billing store.
type InMemoryBillingRepository struct {
	mu      sync.RWMutex
	tenants map[string]*domain.BillingRecord
}

func NewInMemoryBillingRepository() *InMemoryBillingRepository {
	return &InMemoryBillingRepository{
		tenants: make(map[string]*domain.BillingRecord),
	}
}

func (r *InMemoryBillingRepository) GetByTenantID(ctx context.Context, tenantID string) (*domain.BillingRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.tenants[tenantID]
	if !ok {
		return nil, domain.ErrTenantNotFound
	}
	cp := *rec
	return &cp, nil
}

func (r *InMemoryBillingRepository) List(ctx context.Context) ([]*domain.BillingRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.BillingRecord, 0, len(r.tenants))
	for _, rec := range r.tenants {
		cp := *rec
		out = append(out, &cp)
	}
	return out, nil
}

func (r *InMemoryBillingRepository) Create(ctx context.Context, rec *domain.BillingRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *rec
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	cp.UpdatedAt = time.Now()
	r.tenants[cp.TenantID] = &cp
	return nil
}

func (r *InMemoryBillingRepository) Update(ctx context.Context, rec *domain.BillingRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tenants[rec.TenantID]; !ok {
		return domain.ErrTenantNotFound
	}
	cp := *rec
	cp.UpdatedAt = time.Now()
	r.tenants[cp.TenantID] = &cp
	return nil
}

// InMemoryResourceCounter holds explicit per-tenant usage numbers.
// Countable resources default to zero and are always tracked; metered
// resources are tracked only after a value has been set, mirroring the
// production counter's behavior when no usage recorder is wired.
type InMemoryResourceCounter struct {
	mu     sync.RWMutex
	counts map[string]int
}

func NewInMemoryResourceCounter() *InMemoryResourceCounter {
	return &InMemoryResourceCounter{counts: make(map[string]int)}
}

func (c *InMemoryResourceCounter) Set(tenantID string, rt domain.ResourceType, used int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[tenantID+"/"+string(rt)] = used
}

func (c *InMemoryResourceCounter) Count(ctx context.Context, rt domain.ResourceType, tenantID string) (int, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	used, ok := c.counts[tenantID+"/"+string(rt)]
	if ok {
		return used, true, nil
	}
	if meteredResource(rt) {
		return 0, false, nil
	}
	return 0, true, nil
}

// InMemoryUsageRecorder accumulates usage events in memory.
type InMemoryUsageRecorder struct {
	mu     sync.Mutex
	events []domain.UsageEvent
}

func NewInMemoryUsageRecorder() *InMemoryUsageRecorder {
	return &InMemoryUsageRecorder{}
}

func (r *InMemoryUsageRecorder) Record(ctx context.Context, ev domain.UsageEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now()
	}
	r.events = append(r.events, ev)
	return nil
}

func (r *InMemoryUsageRecorder) Total(ctx context.Context, tenantID string, rt domain.ResourceType, since time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var total int64
	for _, ev := range r.events {
		if ev.TenantID == tenantID && ev.Resource == rt && !ev.OccurredAt.Before(since) {
			total += ev.Amount
		}
	}
	return total, nil
}

// meteredResource reports whether usage for rt comes from usage events
// rather than a live row count.
func meteredResource(rt domain.ResourceType) bool {
	switch rt {
	case domain.ResourceSignatures, domain.ResourceStorage, domain.ResourceAITokens:
		return true
	}
	return false
}
