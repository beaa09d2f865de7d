package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/inmova/gatekeeper/internal/audit"
	"github.com/inmova/gatekeeper/internal/domain"
	"github.com/inmova/gatekeeper/internal/plan"
	"github.com/inmova/gatekeeper/internal/ratelimit"
	"github.com/inmova/gatekeeper/internal/repository"
	"github.com/inmova/gatekeeper/internal/validate"
)

type stubResolver struct {
	sess *domain.Session
	err  error
}

func (s stubResolver) Resolve(ctx context.Context, r *http.Request) (*domain.Session, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.sess, nil
}

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

func gestorSession() *domain.Session {
	return &domain.Session{UserID: "u1", Role: "GESTOR", TenantID: "t1"}
}

type testEnv struct {
	handler *Handler
	audit   *audit.InMemoryPublisher
	counter *repository.InMemoryResourceCounter
}

func newTestEnv(t *testing.T, resolver stubResolver) *testEnv {
	t.Helper()

	counter := repository.NewInMemoryResourceCounter()
	checker := plan.NewChecker(stubBilling{rec: &domain.BillingRecord{
		TenantID: "t1",
		Tier:     domain.TierStarter,
		Enabled:  true,
	}}, counter)
	pub := audit.NewInMemoryPublisher()

	h := NewHandler(HandlerConfig{
		Limiter:   ratelimit.New(nil),
		Sessions:  resolver,
		Validator: validate.New(),
		Plans:     checker,
		Usage:     repository.NewInMemoryUsageRecorder(),
		Audit:     pub,
	})
	return &testEnv{handler: h, audit: pub, counter: counter}
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode error envelope: %v\nbody: %s", err, rec.Body.String())
	}
	return env
}

func TestSecureRejectsMissingSession(t *testing.T) {
	env := newTestEnv(t, stubResolver{err: domain.ErrNoSession})

	called := false
	handler := env.handler.Secure(SecureOptions{RequireAuth: true}, func(ctx context.Context, req *Request) (*Response, error) {
		called = true
		return &Response{}, nil
	})

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/v1/limits", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
	if called {
		t.Error("business handler called after auth denial")
	}
	if env := decodeError(t, rec); env.Code != "UNAUTHENTICATED" {
		t.Errorf("Code = %q, want UNAUTHENTICATED", env.Code)
	}

	events := env.audit.Events()
	if len(events) != 1 || events[0].Kind != audit.KindUnauthenticated {
		t.Errorf("audit events = %+v, want one unauthenticated", events)
	}
}

func TestSecureRejectsForbiddenRole(t *testing.T) {
	env := newTestEnv(t, stubResolver{sess: gestorSession()})

	handler := env.handler.Secure(SecureOptions{
		RequireAuth:  true,
		AllowedRoles: []string{"SUPER_ADMIN", "ADMINISTRADOR"},
	}, func(ctx context.Context, req *Request) (*Response, error) {
		t.Error("business handler called with wrong role")
		return &Response{}, nil
	})

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodDelete, "/v1/tenants/t1", nil))

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
	if env := decodeError(t, rec); env.Code != "FORBIDDEN_ROLE" {
		t.Errorf("Code = %q, want FORBIDDEN_ROLE", env.Code)
	}
}

func TestSecureAllowsPermittedRole(t *testing.T) {
	env := newTestEnv(t, stubResolver{sess: gestorSession()})

	handler := env.handler.Secure(SecureOptions{
		RequireAuth:  true,
		AllowedRoles: []string{"GESTOR", "ADMINISTRADOR"},
	}, func(ctx context.Context, req *Request) (*Response, error) {
		return &Response{Message: "ok"}, nil
	})

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/v1/properties", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestSecureRateLimits(t *testing.T) {
	env := newTestEnv(t, stubResolver{sess: gestorSession()})

	handler := env.handler.Secure(SecureOptions{
		RateLimitCategory: ratelimit.CategoryAuth,
	}, func(ctx context.Context, req *Request) (*Response, error) {
		return &Response{}, nil
	})

	var rec *httptest.ResponseRecorder
	for range 11 {
		rec = httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
		r.RemoteAddr = "10.0.0.1:4567"
		handler(rec, r)
	}

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("11th request status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}
	if got := rec.Header().Get("X-RateLimit-Limit"); got != "10" {
		t.Errorf("X-RateLimit-Limit = %q, want 10", got)
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("X-RateLimit-Remaining = %q, want 0", got)
	}
	if env := decodeError(t, rec); env.Code != "RATE_LIMITED" {
		t.Errorf("Code = %q, want RATE_LIMITED", env.Code)
	}

	// A different client is unaffected.
	rec = httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	r.RemoteAddr = "10.0.0.2:4567"
	handler(rec, r)
	if rec.Code != http.StatusOK {
		t.Errorf("other client status = %d, want 200", rec.Code)
	}
}

func TestSecureValidatesPayload(t *testing.T) {
	env := newTestEnv(t, stubResolver{sess: gestorSession()})

	type createUser struct {
		Email string `json:"email" validate:"required,email"`
		Name  string `json:"name" validate:"required"`
	}

	handler := env.handler.Secure(SecureOptions{
		Payload: func() any { return &createUser{} },
	}, func(ctx context.Context, req *Request) (*Response, error) {
		payload := req.Payload.(*createUser)
		return &Response{Status: http.StatusCreated, Data: payload}, nil
	})

	t.Run("invalid body", func(t *testing.T) {
		rec := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/v1/users", strings.NewReader(`{"email":"nope"}`))
		r.Header.Set("Content-Type", "application/json")
		handler(rec, r)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rec.Code)
		}
		env := decodeError(t, rec)
		if env.Code != "VALIDATION_FAILED" {
			t.Errorf("Code = %q, want VALIDATION_FAILED", env.Code)
		}
		if len(env.Details) != 2 {
			t.Errorf("Details = %+v, want email and name errors", env.Details)
		}
	})

	t.Run("valid body", func(t *testing.T) {
		rec := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/v1/users", strings.NewReader(`{"email":"a@b.com","name":"Ana"}`))
		r.Header.Set("Content-Type", "application/json")
		handler(rec, r)

		if rec.Code != http.StatusCreated {
			t.Errorf("status = %d, want 201", rec.Code)
		}
		var env successEnvelope
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil || !env.Success {
			t.Errorf("success envelope = %s", rec.Body.String())
		}
	})
}

func TestSecureTranslatesPlanLimitError(t *testing.T) {
	env := newTestEnv(t, stubResolver{sess: gestorSession()})
	env.counter.Set("t1", domain.ResourceUsers, 2)

	handler := env.handler.Secure(SecureOptions{RequireAuth: true}, func(ctx context.Context, req *Request) (*Response, error) {
		if err := env.handler.plans.RequireCanCreate(ctx, domain.ResourceUsers, req.Session.TenantID); err != nil {
			return nil, err
		}
		return &Response{Status: http.StatusCreated}, nil
	})

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodPost, "/v1/users", nil))

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	body := decodeError(t, rec)
	if body.Code != "PLAN_LIMIT_EXCEEDED" {
		t.Errorf("Code = %q, want PLAN_LIMIT_EXCEEDED", body.Code)
	}
	if body.Resource != "users" {
		t.Errorf("Resource = %q, want users", body.Resource)
	}
	if body.Limit == nil || *body.Limit != 2 {
		t.Errorf("Limit = %v, want 2", body.Limit)
	}
	if body.Used == nil || *body.Used != 2 {
		t.Errorf("Used = %v, want 2", body.Used)
	}
	if !strings.Contains(body.Error, "2 of 2 used") {
		t.Errorf("Error = %q, want usage and limit in the message", body.Error)
	}

	events := env.audit.Events()
	if len(events) != 1 || events[0].Kind != audit.KindPlanLimitExceeded {
		t.Errorf("audit events = %+v, want one plan_limit_exceeded", events)
	}
}

func TestSecureHidesInternalErrors(t *testing.T) {
	env := newTestEnv(t, stubResolver{})

	handler := env.handler.Secure(SecureOptions{}, func(ctx context.Context, req *Request) (*Response, error) {
		return nil, errors.New("pq: connection reset by peer")
	})

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/v1/limits", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	env2 := decodeError(t, rec)
	if strings.Contains(env2.Error, "pq:") {
		t.Errorf("internal detail leaked: %q", env2.Error)
	}
	if env2.Stack != "" {
		t.Error("stack present outside dev mode")
	}
}

func TestSecureDevModeIncludesDetail(t *testing.T) {
	env := newTestEnv(t, stubResolver{})
	env.handler.devMode = true

	handler := env.handler.Secure(SecureOptions{}, func(ctx context.Context, req *Request) (*Response, error) {
		return nil, errors.New("boom")
	})

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/v1/limits", nil))

	if env2 := decodeError(t, rec); !strings.Contains(env2.Stack, "boom") {
		t.Errorf("dev-mode stack = %q, want underlying error", env2.Stack)
	}
}

func TestSecureRecoversFromPanic(t *testing.T) {
	env := newTestEnv(t, stubResolver{})

	handler := env.handler.Secure(SecureOptions{}, func(ctx context.Context, req *Request) (*Response, error) {
		panic("nil map write")
	})

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/v1/limits", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if env2 := decodeError(t, rec); strings.Contains(env2.Error, "nil map") {
		t.Errorf("panic detail leaked: %q", env2.Error)
	}
}

func TestSecureSetsRequestID(t *testing.T) {
	env := newTestEnv(t, stubResolver{})

	handler := env.handler.Secure(SecureOptions{}, func(ctx context.Context, req *Request) (*Response, error) {
		return &Response{Data: req.RequestID}, nil
	})

	t.Run("generated", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if rec.Header().Get("X-Request-ID") == "" {
			t.Error("no X-Request-ID generated")
		}
	})

	t.Run("propagated", func(t *testing.T) {
		rec := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("X-Request-ID", "req-42")
		handler(rec, r)
		if got := rec.Header().Get("X-Request-ID"); got != "req-42" {
			t.Errorf("X-Request-ID = %q, want req-42", got)
		}
	})
}

func TestLimitsEndpoint(t *testing.T) {
	env := newTestEnv(t, stubResolver{sess: gestorSession()})
	env.counter.Set("t1", domain.ResourceUsers, 1)

	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/v1/limits", nil)
	env.handler.ServeHTTP(rec, r)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200\nbody: %s", rec.Code, rec.Body.String())
	}

	var env2 struct {
		Success bool                                            `json:"success"`
		Data    map[domain.ResourceType]domain.LimitCheckResult `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &env2); err != nil {
		t.Fatalf("decode: %v", err)
	}
	users := env2.Data[domain.ResourceUsers]
	if users.Used != 1 || users.Limit == nil || *users.Limit != 2 {
		t.Errorf("users = %+v, want used 1 of 2", users)
	}
}

func TestUsageEndpoint(t *testing.T) {
	env := newTestEnv(t, stubResolver{sess: gestorSession()})

	t.Run("records usage", func(t *testing.T) {
		rec := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/v1/usage", strings.NewReader(`{"resource":"signatures","amount":1,"reference":"contract-99"}`))
		r.Header.Set("Content-Type", "application/json")
		env.handler.ServeHTTP(rec, r)

		if rec.Code != http.StatusAccepted {
			t.Fatalf("status = %d, want 202\nbody: %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("rejects countable resource", func(t *testing.T) {
		rec := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/v1/usage", strings.NewReader(`{"resource":"users","amount":1}`))
		r.Header.Set("Content-Type", "application/json")
		env.handler.ServeHTTP(rec, r)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})
}

func TestClientKey(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		forwarded  string
		want       string
	}{
		{"remote addr only", "192.168.1.5:4567", "", "192.168.1.5"},
		{"forwarded single", "10.0.0.1:1", "203.0.113.9", "203.0.113.9"},
		{"forwarded chain uses first hop", "10.0.0.1:1", "203.0.113.9, 10.0.0.2, 10.0.0.3", "203.0.113.9"},
		{"forwarded with spaces", "10.0.0.1:1", "  203.0.113.9 ", "203.0.113.9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.forwarded != "" {
				r.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			if got := clientKey(r); got != tt.want {
				t.Errorf("clientKey = %q, want %q", got, tt.want)
			}
		})
	}
}
