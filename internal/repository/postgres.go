package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/inmova/gatekeeper/internal/domain"

	_ "github.com/lib/pq"
)

// PostgresBillingRepository reads subscription state from the platform
// database. Plan-specific limit fields and per-tenant overrides are
// nullable columns on the companies table; NULL means "fall through to
// the next resolution source".
type PostgresBillingRepository struct {
	db *sql.DB
}

func NewPostgresBillingRepository(db *sql.DB) *PostgresBillingRepository {
	return &PostgresBillingRepository{db: db}
}

const billingColumns = `
	id, name, subscription_tier,
	plan_max_properties, plan_max_users, plan_max_tenants,
	plan_max_signatures, plan_max_storage_mb, plan_max_ai_tokens,
	override_max_properties, override_max_users, override_max_tenants,
	override_max_signatures, override_max_storage_mb, override_max_ai_tokens,
	enabled, created_at, updated_at`

func (r *PostgresBillingRepository) GetByTenantID(ctx context.Context, tenantID string) (*domain.BillingRecord, error) {
	query := `SELECT ` + billingColumns + ` FROM companies WHERE id = $1`

	rec, err := scanBilling(r.db.QueryRowContext(ctx, query, tenantID))
	if err == sql.ErrNoRows {
		return nil, domain.ErrTenantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query billing record: %w", err)
	}
	return rec, nil
}

func (r *PostgresBillingRepository) List(ctx context.Context) ([]*domain.BillingRecord, error) {
	query := `SELECT ` + billingColumns + ` FROM companies ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query billing records: %w", err)
	}
	defer rows.Close()

	var out []*domain.BillingRecord
	for rows.Next() {
		rec, err := scanBilling(rows)
		if err != nil {
			return nil, fmt.Errorf("scan billing record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *PostgresBillingRepository) Create(ctx context.Context, rec *domain.BillingRecord) error {
	query := `
		INSERT INTO companies (id, name, subscription_tier,
			override_max_properties, override_max_users, override_max_tenants,
			override_max_signatures, override_max_storage_mb, override_max_ai_tokens,
			enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := r.db.ExecContext(ctx, query,
		rec.TenantID,
		rec.TenantName,
		string(rec.Tier),
		nullableInt(rec.Overrides.Properties),
		nullableInt(rec.Overrides.Users),
		nullableInt(rec.Overrides.Tenants),
		nullableInt(rec.Overrides.Signatures),
		nullableInt(rec.Overrides.Storage),
		nullableInt(rec.Overrides.AITokens),
		rec.Enabled,
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert billing record: %w", err)
	}
	return nil
}

func (r *PostgresBillingRepository) Update(ctx context.Context, rec *domain.BillingRecord) error {
	query := `
		UPDATE companies
		SET name = $2, subscription_tier = $3,
		    override_max_properties = $4, override_max_users = $5,
		    override_max_tenants = $6, override_max_signatures = $7,
		    override_max_storage_mb = $8, override_max_ai_tokens = $9,
		    enabled = $10, updated_at = $11
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query,
		rec.TenantID,
		rec.TenantName,
		string(rec.Tier),
		nullableInt(rec.Overrides.Properties),
		nullableInt(rec.Overrides.Users),
		nullableInt(rec.Overrides.Tenants),
		nullableInt(rec.Overrides.Signatures),
		nullableInt(rec.Overrides.Storage),
		nullableInt(rec.Overrides.AITokens),
		rec.Enabled,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("update billing record: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrTenantNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBilling(row rowScanner) (*domain.BillingRecord, error) {
	var rec domain.BillingRecord
	var tier string
	var plan, overrides [6]sql.NullInt64

	err := row.Scan(
		&rec.TenantID,
		&rec.TenantName,
		&tier,
		&plan[0], &plan[1], &plan[2], &plan[3], &plan[4], &plan[5],
		&overrides[0], &overrides[1], &overrides[2], &overrides[3], &overrides[4], &overrides[5],
		&rec.Enabled,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Tier = domain.Tier(tier)
	rec.PlanLimits = overridesFrom(plan)
	rec.Overrides = overridesFrom(overrides)
	return &rec, nil
}

func overridesFrom(cols [6]sql.NullInt64) domain.LimitOverrides {
	return domain.LimitOverrides{
		Properties: intPtr(cols[0]),
		Users:      intPtr(cols[1]),
		Tenants:    intPtr(cols[2]),
		Signatures: intPtr(cols[3]),
		Storage:    intPtr(cols[4]),
		AITokens:   intPtr(cols[5]),
	}
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

func nullableInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
