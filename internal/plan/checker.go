package plan

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/inmova/gatekeeper/internal/domain"
	"github.com/inmova/gatekeeper/internal/metrics"
)

// BillingSource reads a tenant's subscription state.
type BillingSource interface {
	GetBilling(ctx context.Context, tenantID string) (*domain.BillingRecord, error)
}

// ResourceCounter reports current usage for a resource scoped to a
// tenant. tracked is false when no usage source exists for the resource
// yet; the count is then zero and the checker surfaces the gap in the
// result message instead of reporting it as real usage.
type ResourceCounter interface {
	Count(ctx context.Context, rt domain.ResourceType, tenantID string) (used int, tracked bool, err error)
}

// Observer is notified after every quota check, successful or not.
// Used to drive usage alerts and dashboard gauges.
type Observer func(ctx context.Context, tenantID string, rt domain.ResourceType, res domain.LimitCheckResult)

// Checker decides whether a tenant may create another resource.
//
// Infrastructure failures fail open: a billing or count lookup error
// returns allowed=true with an explanatory message so a transient
// outage never blocks legitimate tenant operations. This is a
// documented contract, not missing error handling; tests assert it.
type Checker struct {
	billing  BillingSource
	counts   ResourceCounter
	observer Observer
}

func NewChecker(billing BillingSource, counts ResourceCounter) *Checker {
	return &Checker{billing: billing, counts: counts}
}

// OnCheck registers an observer invoked after each CheckCanCreate.
func (c *Checker) OnCheck(obs Observer) {
	c.observer = obs
}

// CheckCanCreate resolves the effective limit for rt, counts current
// usage, and decides allow/deny. A limit of -1 means unlimited and
// yields nil Limit and Remaining.
func (c *Checker) CheckCanCreate(ctx context.Context, rt domain.ResourceType, tenantID string) domain.LimitCheckResult {
	res := c.check(ctx, rt, tenantID)

	if c.observer != nil {
		c.observer(ctx, tenantID, rt, res)
	}
	if res.Limit != nil && *res.Limit > 0 {
		metrics.SetPlanUsage(tenantID, string(rt), float64(res.Used)/float64(*res.Limit))
	}
	return res
}

func (c *Checker) check(ctx context.Context, rt domain.ResourceType, tenantID string) domain.LimitCheckResult {
	if !rt.Valid() {
		zero := 0
		return domain.LimitCheckResult{
			Allowed:   false,
			Limit:     &zero,
			Remaining: &zero,
			Message:   fmt.Sprintf("unknown resource type %q", rt),
		}
	}

	rec, err := c.billing.GetBilling(ctx, tenantID)
	if err != nil {
		slog.Error("billing lookup failed, allowing operation",
			"tenant_id", tenantID,
			"resource", rt,
			"error", err,
		)
		return domain.LimitCheckResult{
			Allowed: true,
			Message: "plan verification temporarily unavailable, operation allowed",
		}
	}

	limit := ResolveLimit(rec, rt)
	if limit == domain.Unlimited {
		used, _, err := c.counts.Count(ctx, rt, tenantID)
		if err != nil {
			used = 0
		}
		return domain.LimitCheckResult{Allowed: true, Used: used}
	}

	used, tracked, err := c.counts.Count(ctx, rt, tenantID)
	if err != nil {
		slog.Error("usage count failed, allowing operation",
			"tenant_id", tenantID,
			"resource", rt,
			"error", err,
		)
		return domain.LimitCheckResult{
			Allowed: true,
			Message: "usage verification temporarily unavailable, operation allowed",
		}
	}

	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}

	res := domain.LimitCheckResult{
		Allowed:   used < limit,
		Limit:     &limit,
		Used:      used,
		Remaining: &remaining,
	}
	if !tracked {
		res.Message = fmt.Sprintf("usage metering for %s is not enabled, reporting zero usage", rt)
	}
	if !res.Allowed {
		res.Message = fmt.Sprintf("limit of %d %s reached", limit, rt)
	}
	return res
}

// RequireCanCreate is the hard-stop form of CheckCanCreate: it returns
// a typed PLAN_LIMIT_EXCEEDED error when the quota is exhausted.
func (c *Checker) RequireCanCreate(ctx context.Context, rt domain.ResourceType, tenantID string) error {
	res := c.CheckCanCreate(ctx, rt, tenantID)
	if res.Allowed {
		return nil
	}
	metrics.RecordPlanDenial(string(rt))
	return domain.NewPlanLimitExceeded(rt, res.Limit, res.Used)
}

// GetAllLimits returns the full per-resource quota map for a tenant,
// used by quota-usage dashboards. Unlike single checks it propagates a
// billing lookup failure: a dashboard showing made-up numbers is worse
// than an error.
func (c *Checker) GetAllLimits(ctx context.Context, tenantID string) (map[domain.ResourceType]domain.LimitCheckResult, error) {
	rec, err := c.billing.GetBilling(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("billing lookup: %w", err)
	}

	out := make(map[domain.ResourceType]domain.LimitCheckResult, len(domain.AllResourceTypes()))
	for _, rt := range domain.AllResourceTypes() {
		limit := ResolveLimit(rec, rt)

		used, tracked, err := c.counts.Count(ctx, rt, tenantID)
		if err != nil {
			return nil, fmt.Errorf("count %s: %w", rt, err)
		}

		if limit == domain.Unlimited {
			out[rt] = domain.LimitCheckResult{Allowed: true, Used: used}
			continue
		}

		remaining := limit - used
		if remaining < 0 {
			remaining = 0
		}
		res := domain.LimitCheckResult{
			Allowed:   used < limit,
			Limit:     &limit,
			Used:      used,
			Remaining: &remaining,
		}
		if !tracked {
			res.Message = fmt.Sprintf("usage metering for %s is not enabled, reporting zero usage", rt)
		}
		out[rt] = res
	}
	return out, nil
}
