// Package plan resolves subscription quotas and decides whether a
// tenant may create another resource of a given type.
package plan

import "github.com/inmova/gatekeeper/internal/domain"

// tierDefaults is the authoritative default quota table per tier.
// Storage is in megabytes, AITokens in tokens per month. Unlimited (-1)
// means no quota. Per-tenant values on the billing record take
// precedence over this table.
var tierDefaults = map[domain.Tier]domain.TierLimits{
	domain.TierFree: {
		Properties: 1,
		Users:      1,
		Tenants:    10,
		Signatures: 2,
		Storage:    512,
		AITokens:   10000,
	},
	domain.TierStarter: {
		Properties: 5,
		Users:      2,
		Tenants:    50,
		Signatures: 10,
		Storage:    2048,
		AITokens:   50000,
	},
	domain.TierBasic: {
		Properties: 15,
		Users:      5,
		Tenants:    150,
		Signatures: 25,
		Storage:    5120,
		AITokens:   100000,
	},
	domain.TierProfessional: {
		Properties: 50,
		Users:      15,
		Tenants:    500,
		Signatures: 100,
		Storage:    20480,
		AITokens:   500000,
	},
	domain.TierBusiness: {
		Properties: 200,
		Users:      50,
		Tenants:    2000,
		Signatures: 500,
		Storage:    102400,
		AITokens:   2000000,
	},
	domain.TierEnterprise: {
		Properties: domain.Unlimited,
		Users:      domain.Unlimited,
		Tenants:    domain.Unlimited,
		Signatures: domain.Unlimited,
		Storage:    domain.Unlimited,
		AITokens:   domain.Unlimited,
	},
}

// TierLimitsFor returns the default quota record for a tier. An
// unrecognized tier gets the FREE defaults, the most restrictive table.
func TierLimitsFor(tier domain.Tier) domain.TierLimits {
	if limits, ok := tierDefaults[tier]; ok {
		return limits
	}
	return tierDefaults[domain.TierFree]
}

// ResolveLimit computes the effective limit for one resource: explicit
// per-tenant override first, then the plan-specific field on the
// subscription, then the tier default table.
func ResolveLimit(rec *domain.BillingRecord, rt domain.ResourceType) int {
	if v := rec.Overrides.Limit(rt); v != nil {
		return *v
	}
	if v := rec.PlanLimits.Limit(rt); v != nil {
		return *v
	}
	return TierLimitsFor(rec.Tier).Limit(rt)
}
