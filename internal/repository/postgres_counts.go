package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/inmova/gatekeeper/internal/domain"
)

// countQueries maps each countable resource to the live-row count that
// defines its usage. Buildings count as "properties"; renters count as
// "tenants" (tenants-as-renters, distinct from tenant-as-company).
var countQueries = map[domain.ResourceType]string{
	domain.ResourceProperties: `SELECT COUNT(*) FROM buildings WHERE company_id = $1`,
	domain.ResourceUsers:      `SELECT COUNT(*) FROM users WHERE company_id = $1 AND deleted_at IS NULL`,
	domain.ResourceTenants:    `SELECT COUNT(*) FROM renters WHERE company_id = $1 AND deleted_at IS NULL`,
}

// PostgresResourceCounter computes per-tenant usage. Countable
// resources come from row counts; metered resources (signatures,
// storage, AI tokens) come from recorded usage events when a recorder
// is wired and report zero, untracked, otherwise.
type PostgresResourceCounter struct {
	db    *sql.DB
	usage UsageRecorder // optional
}

func NewPostgresResourceCounter(db *sql.DB, usage UsageRecorder) *PostgresResourceCounter {
	return &PostgresResourceCounter{db: db, usage: usage}
}

func (c *PostgresResourceCounter) Count(ctx context.Context, rt domain.ResourceType, tenantID string) (int, bool, error) {
	if query, ok := countQueries[rt]; ok {
		var n int
		if err := c.db.QueryRowContext(ctx, query, tenantID).Scan(&n); err != nil {
			return 0, false, fmt.Errorf("count %s: %w", rt, err)
		}
		return n, true, nil
	}

	if !meteredResource(rt) {
		return 0, false, domain.ErrInvalidResource
	}

	if c.usage == nil {
		return 0, false, nil
	}

	total, err := c.usage.Total(ctx, tenantID, rt, meterSince(rt, time.Now()))
	if err != nil {
		return 0, false, fmt.Errorf("sum %s usage: %w", rt, err)
	}
	return int(total), true, nil
}

// meterSince bounds the aggregation window per resource. AI tokens are
// a monthly allowance; signature and storage consumption accumulate for
// the life of the tenant.
func meterSince(rt domain.ResourceType, now time.Time) time.Time {
	if rt == domain.ResourceAITokens {
		y, m, _ := now.UTC().Date()
		return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
	}
	return time.Time{}
}
