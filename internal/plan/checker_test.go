package plan

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/inmova/gatekeeper/internal/domain"
)

type stubBilling struct {
	rec *domain.BillingRecord
	err error
}

func (s stubBilling) GetBilling(ctx context.Context, tenantID string) (*domain.BillingRecord, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.rec, nil
}

type stubCounter struct {
	used    map[domain.ResourceType]int
	tracked map[domain.ResourceType]bool
	err     error
}

func (s stubCounter) Count(ctx context.Context, rt domain.ResourceType, tenantID string) (int, bool, error) {
	if s.err != nil {
		return 0, false, s.err
	}
	tracked := true
	if s.tracked != nil {
		if v, ok := s.tracked[rt]; ok {
			tracked = v
		}
	}
	return s.used[rt], tracked, nil
}

func starterBilling() stubBilling {
	return stubBilling{rec: &domain.BillingRecord{
		TenantID: "t1",
		Tier:     domain.TierStarter,
		Enabled:  true,
	}}
}

func TestCheckCanCreateDeniesAtLimit(t *testing.T) {
	c := NewChecker(starterBilling(), stubCounter{used: map[domain.ResourceType]int{
		domain.ResourceUsers: 2,
	}})

	res := c.CheckCanCreate(context.Background(), domain.ResourceUsers, "t1")
	if res.Allowed {
		t.Error("Allowed = true at limit")
	}
	if res.Limit == nil || *res.Limit != 2 {
		t.Errorf("Limit = %v, want 2", res.Limit)
	}
	if res.Used != 2 {
		t.Errorf("Used = %d, want 2", res.Used)
	}
	if res.Remaining == nil || *res.Remaining != 0 {
		t.Errorf("Remaining = %v, want 0", res.Remaining)
	}
	if !strings.Contains(res.Message, "limit of 2 users reached") {
		t.Errorf("Message = %q, want limit-reached text", res.Message)
	}
}

func TestCheckCanCreateAllowsUnderLimit(t *testing.T) {
	c := NewChecker(starterBilling(), stubCounter{used: map[domain.ResourceType]int{
		domain.ResourceUsers: 1,
	}})

	res := c.CheckCanCreate(context.Background(), domain.ResourceUsers, "t1")
	if !res.Allowed {
		t.Error("Allowed = false under limit")
	}
	if res.Remaining == nil || *res.Remaining != 1 {
		t.Errorf("Remaining = %v, want 1", res.Remaining)
	}
	if res.Message != "" {
		t.Errorf("Message = %q, want empty", res.Message)
	}
}

func TestCheckCanCreateUnlimited(t *testing.T) {
	billing := stubBilling{rec: &domain.BillingRecord{
		TenantID: "t1",
		Tier:     domain.TierEnterprise,
	}}
	c := NewChecker(billing, stubCounter{used: map[domain.ResourceType]int{
		domain.ResourceProperties: 1200,
	}})

	res := c.CheckCanCreate(context.Background(), domain.ResourceProperties, "t1")
	if !res.Allowed {
		t.Error("Allowed = false on unlimited tier")
	}
	if res.Limit != nil {
		t.Errorf("Limit = %v, want nil", res.Limit)
	}
	if res.Remaining != nil {
		t.Errorf("Remaining = %v, want nil", res.Remaining)
	}
	if res.Used != 1200 {
		t.Errorf("Used = %d, want 1200", res.Used)
	}
}

func TestCheckCanCreateOverridePrecedence(t *testing.T) {
	seven := 7
	billing := stubBilling{rec: &domain.BillingRecord{
		TenantID:  "t1",
		Tier:      domain.TierStarter,
		Overrides: domain.LimitOverrides{Users: &seven},
	}}
	c := NewChecker(billing, stubCounter{used: map[domain.ResourceType]int{
		domain.ResourceUsers: 2,
	}})

	res := c.CheckCanCreate(context.Background(), domain.ResourceUsers, "t1")
	if !res.Allowed {
		t.Error("Allowed = false, override should raise the limit")
	}
	if res.Limit == nil || *res.Limit != 7 {
		t.Errorf("Limit = %v, want 7", res.Limit)
	}
	if res.Remaining == nil || *res.Remaining != 5 {
		t.Errorf("Remaining = %v, want 5", res.Remaining)
	}
}

func TestCheckCanCreateInvalidResource(t *testing.T) {
	c := NewChecker(starterBilling(), stubCounter{})

	res := c.CheckCanCreate(context.Background(), domain.ResourceType("widgets"), "t1")
	if res.Allowed {
		t.Error("Allowed = true for unknown resource type")
	}
	if res.Limit == nil || *res.Limit != 0 {
		t.Errorf("Limit = %v, want 0", res.Limit)
	}
}

func TestCheckCanCreateFailsOpenOnBillingError(t *testing.T) {
	c := NewChecker(stubBilling{err: errors.New("connection refused")}, stubCounter{})

	res := c.CheckCanCreate(context.Background(), domain.ResourceUsers, "t1")
	if !res.Allowed {
		t.Error("Allowed = false on billing outage, want fail-open")
	}
	if res.Message == "" {
		t.Error("Message empty, want outage explanation")
	}
	if res.Limit != nil {
		t.Errorf("Limit = %v, want nil during outage", res.Limit)
	}
}

func TestCheckCanCreateFailsOpenOnCountError(t *testing.T) {
	c := NewChecker(starterBilling(), stubCounter{err: errors.New("query timeout")})

	res := c.CheckCanCreate(context.Background(), domain.ResourceUsers, "t1")
	if !res.Allowed {
		t.Error("Allowed = false on count outage, want fail-open")
	}
	if res.Message == "" {
		t.Error("Message empty, want outage explanation")
	}
}

func TestCheckCanCreateUntrackedMeteredResource(t *testing.T) {
	c := NewChecker(starterBilling(), stubCounter{
		tracked: map[domain.ResourceType]bool{domain.ResourceSignatures: false},
	})

	res := c.CheckCanCreate(context.Background(), domain.ResourceSignatures, "t1")
	if !res.Allowed {
		t.Error("Allowed = false with zero recorded usage")
	}
	if res.Used != 0 {
		t.Errorf("Used = %d, want 0", res.Used)
	}
	if !strings.Contains(res.Message, "not enabled") {
		t.Errorf("Message = %q, want metering-gap note", res.Message)
	}
}

func TestCheckCanCreateNotifiesObserver(t *testing.T) {
	c := NewChecker(starterBilling(), stubCounter{used: map[domain.ResourceType]int{
		domain.ResourceUsers: 2,
	}})

	var gotTenant string
	var gotRes domain.LimitCheckResult
	c.OnCheck(func(ctx context.Context, tenantID string, rt domain.ResourceType, res domain.LimitCheckResult) {
		gotTenant = tenantID
		gotRes = res
	})

	c.CheckCanCreate(context.Background(), domain.ResourceUsers, "t1")
	if gotTenant != "t1" {
		t.Errorf("observer tenantID = %q, want t1", gotTenant)
	}
	if gotRes.Allowed {
		t.Error("observer saw Allowed = true, want the denial")
	}
}

func TestRequireCanCreate(t *testing.T) {
	c := NewChecker(starterBilling(), stubCounter{used: map[domain.ResourceType]int{
		domain.ResourceUsers:      2,
		domain.ResourceProperties: 1,
	}})
	ctx := context.Background()

	if err := c.RequireCanCreate(ctx, domain.ResourceProperties, "t1"); err != nil {
		t.Errorf("RequireCanCreate under limit = %v, want nil", err)
	}

	err := c.RequireCanCreate(ctx, domain.ResourceUsers, "t1")
	var admErr *domain.AdmissionError
	if !errors.As(err, &admErr) {
		t.Fatalf("RequireCanCreate at limit = %v, want AdmissionError", err)
	}
	if admErr.Code != domain.CodePlanLimitExceeded {
		t.Errorf("Code = %s, want PLAN_LIMIT_EXCEEDED", admErr.Code)
	}
	if admErr.Status != 403 {
		t.Errorf("Status = %d, want 403", admErr.Status)
	}
}

func TestGetAllLimits(t *testing.T) {
	c := NewChecker(starterBilling(), stubCounter{
		used: map[domain.ResourceType]int{
			domain.ResourceUsers:      1,
			domain.ResourceProperties: 5,
		},
		tracked: map[domain.ResourceType]bool{domain.ResourceAITokens: false},
	})

	limits, err := c.GetAllLimits(context.Background(), "t1")
	if err != nil {
		t.Fatalf("GetAllLimits: %v", err)
	}
	if len(limits) != len(domain.AllResourceTypes()) {
		t.Fatalf("got %d entries, want %d", len(limits), len(domain.AllResourceTypes()))
	}

	users := limits[domain.ResourceUsers]
	if !users.Allowed || users.Used != 1 {
		t.Errorf("users = %+v, want allowed with 1 used", users)
	}

	props := limits[domain.ResourceProperties]
	if props.Allowed {
		t.Errorf("properties = %+v, want denied at limit", props)
	}

	if msg := limits[domain.ResourceAITokens].Message; !strings.Contains(msg, "not enabled") {
		t.Errorf("ai_tokens message = %q, want metering-gap note", msg)
	}
}

func TestGetAllLimitsPropagatesBillingError(t *testing.T) {
	c := NewChecker(stubBilling{err: errors.New("connection refused")}, stubCounter{})

	if _, err := c.GetAllLimits(context.Background(), "t1"); err == nil {
		t.Error("GetAllLimits = nil error on billing outage, want error")
	}
}

// Repeated reads must not mutate state: a quota check is a pure
// computation over billing and counts.
func TestCheckCanCreateIsIdempotent(t *testing.T) {
	c := NewChecker(starterBilling(), stubCounter{used: map[domain.ResourceType]int{
		domain.ResourceUsers: 2,
	}})
	ctx := context.Background()

	first := c.CheckCanCreate(ctx, domain.ResourceUsers, "t1")
	second := c.CheckCanCreate(ctx, domain.ResourceUsers, "t1")
	if first.Allowed != second.Allowed || first.Used != second.Used {
		t.Errorf("results differ: %+v vs %+v", first, second)
	}
}
