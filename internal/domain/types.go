package domain

import "time"

// ResourceType identifies a quota-scoped resource collection.
// The set is closed: adding a type requires updating TierLimits and
// every tier default, which the compiler enforces via the struct fields.
type ResourceType string

const (
	ResourceProperties ResourceType = "properties"
	ResourceUsers      ResourceType = "users"
	ResourceTenants    ResourceType = "tenants"
	ResourceSignatures ResourceType = "signatures"
	ResourceStorage    ResourceType = "storage"
	ResourceAITokens   ResourceType = "ai_tokens"
)

// AllResourceTypes returns every resource type in stable order.
func AllResourceTypes() []ResourceType {
	return []ResourceType{
		ResourceProperties,
		ResourceUsers,
		ResourceTenants,
		ResourceSignatures,
		ResourceStorage,
		ResourceAITokens,
	}
}

// Valid reports whether rt is a member of the closed resource-type set.
func (rt ResourceType) Valid() bool {
	switch rt {
	case ResourceProperties, ResourceUsers, ResourceTenants,
		ResourceSignatures, ResourceStorage, ResourceAITokens:
		return true
	}
	return false
}

// Tier is a named subscription level.
type Tier string

const (
	TierFree         Tier = "FREE"
	TierStarter      Tier = "STARTER"
	TierBasic        Tier = "BASIC"
	TierProfessional Tier = "PROFESSIONAL"
	TierBusiness     Tier = "BUSINESS"
	TierEnterprise   Tier = "ENTERPRISE"
)

// Unlimited is the sentinel limit value meaning "no quota".
const Unlimited = -1

// TierLimits is the closed per-tier quota record. One field per
// ResourceType; Unlimited (-1) means no quota for that resource.
// Storage is in megabytes, AITokens in tokens per month.
type TierLimits struct {
	Properties int `json:"properties"`
	Users      int `json:"users"`
	Tenants    int `json:"tenants"`
	Signatures int `json:"signatures"`
	Storage    int `json:"storage"`
	AITokens   int `json:"ai_tokens"`
}

// Limit returns the quota for rt. Unknown resource types report 0,
// which denies creation rather than silently allowing it.
func (l TierLimits) Limit(rt ResourceType) int {
	switch rt {
	case ResourceProperties:
		return l.Properties
	case ResourceUsers:
		return l.Users
	case ResourceTenants:
		return l.Tenants
	case ResourceSignatures:
		return l.Signatures
	case ResourceStorage:
		return l.Storage
	case ResourceAITokens:
		return l.AITokens
	}
	return 0
}

// LimitOverrides holds optional per-resource limit values. A nil field
// means "not set"; resolution falls through to the next source.
type LimitOverrides struct {
	Properties *int `json:"properties,omitempty"`
	Users      *int `json:"users,omitempty"`
	Tenants    *int `json:"tenants,omitempty"`
	Signatures *int `json:"signatures,omitempty"`
	Storage    *int `json:"storage,omitempty"`
	AITokens   *int `json:"ai_tokens,omitempty"`
}

// Limit returns the override for rt, or nil when none is set.
func (o LimitOverrides) Limit(rt ResourceType) *int {
	switch rt {
	case ResourceProperties:
		return o.Properties
	case ResourceUsers:
		return o.Users
	case ResourceTenants:
		return o.Tenants
	case ResourceSignatures:
		return o.Signatures
	case ResourceStorage:
		return o.Storage
	case ResourceAITokens:
		return o.AITokens
	}
	return nil
}

// BillingRecord is a tenant's subscription state as read from the
// billing store. PlanLimits carries plan-specific limit fields stored on
// the subscription itself; Overrides carries explicit per-tenant values.
// Resolution order: Overrides, then PlanLimits, then the tier default
// table, then FREE defaults for an unrecognized tier.
type BillingRecord struct {
	TenantID   string         `json:"tenant_id"`
	TenantName string         `json:"tenant_name"`
	Tier       Tier           `json:"tier"`
	PlanLimits LimitOverrides `json:"plan_limits"`
	Overrides  LimitOverrides `json:"overrides"`
	Enabled    bool           `json:"enabled"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// LimitCheckResult is the outcome of a quota check. A nil Limit and
// Remaining encode "unlimited". Computed on demand, never persisted.
type LimitCheckResult struct {
	Allowed   bool   `json:"allowed"`
	Limit     *int   `json:"limit"`
	Used      int    `json:"used"`
	Remaining *int   `json:"remaining"`
	Message   string `json:"message,omitempty"`
}

// Session is the resolved caller identity. This layer only reads
// sessions; creating and destroying them belongs to the auth service.
type Session struct {
	UserID     string `json:"user_id"`
	Role       string `json:"role"`
	TenantID   string `json:"tenant_id"`
	TenantName string `json:"tenant_name,omitempty"`
	UserType   string `json:"user_type,omitempty"`
}

// FieldError is a single validation failure, addressed by the dotted
// path of the offending field. Safe to show to end users.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// UsageEvent records consumption of a metered resource (signatures,
// storage, AI tokens) that has no live row collection to count.
type UsageEvent struct {
	TenantID   string       `json:"tenant_id"`
	Resource   ResourceType `json:"resource"`
	Amount     int64        `json:"amount"`
	Reference  string       `json:"reference,omitempty"`
	OccurredAt time.Time    `json:"occurred_at"`
}
