package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/inmova/gatekeeper/internal/domain"
)

// PostgresUsageRecorder persists metered-usage events (signature
// requests, storage growth, AI token consumption) and aggregates them
// for quota checks.
type PostgresUsageRecorder struct {
	db *sql.DB
}

func NewPostgresUsageRecorder(db *sql.DB) *PostgresUsageRecorder {
	return &PostgresUsageRecorder{db: db}
}

func (r *PostgresUsageRecorder) Record(ctx context.Context, ev domain.UsageEvent) error {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now()
	}

	query := `
		INSERT INTO usage_events (company_id, resource, amount, reference, occurred_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.db.ExecContext(ctx, query,
		ev.TenantID,
		string(ev.Resource),
		ev.Amount,
		ev.Reference,
		ev.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("insert usage event: %w", err)
	}
	return nil
}

func (r *PostgresUsageRecorder) Total(ctx context.Context, tenantID string, rt domain.ResourceType, since time.Time) (int64, error) {
	query := `
		SELECT COALESCE(SUM(amount), 0)
		FROM usage_events
		WHERE company_id = $1 AND resource = $2 AND occurred_at >= $3
	`

	var total int64
	err := r.db.QueryRowContext(ctx, query, tenantID, string(rt), since).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum usage events: %w", err)
	}
	return total, nil
}
