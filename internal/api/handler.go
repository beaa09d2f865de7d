// Package api composes the admission pipeline: rate limit, session,
// role check, payload validation, then the business handler, with one
// error translator producing uniform envelopes. Business handlers
// never call the rate limiter or plan checker directly; they go
// through Secure.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/inmova/gatekeeper/internal/audit"
	"github.com/inmova/gatekeeper/internal/domain"
	"github.com/inmova/gatekeeper/internal/metrics"
	"github.com/inmova/gatekeeper/internal/plan"
	"github.com/inmova/gatekeeper/internal/ratelimit"
	"github.com/inmova/gatekeeper/internal/repository"
	"github.com/inmova/gatekeeper/internal/session"
	"github.com/inmova/gatekeeper/internal/telemetry"
	"github.com/inmova/gatekeeper/internal/validate"
)

type HandlerConfig struct {
	Limiter   *ratelimit.Limiter
	Sessions  session.Resolver
	Validator *validate.Validator
	Plans     *plan.Checker
	Usage     repository.UsageRecorder
	Audit     audit.Publisher
	DevMode   bool
}

type Handler struct {
	limiter   *ratelimit.Limiter
	sessions  session.Resolver
	validator *validate.Validator
	plans     *plan.Checker
	usage     repository.UsageRecorder
	audit     audit.Publisher
	devMode   bool
	mux       *http.ServeMux
}

func NewHandler(cfg HandlerConfig) *Handler {
	h := &Handler{
		limiter:   cfg.Limiter,
		sessions:  cfg.Sessions,
		validator: cfg.Validator,
		plans:     cfg.Plans,
		usage:     cfg.Usage,
		audit:     cfg.Audit,
		devMode:   cfg.DevMode,
		mux:       http.NewServeMux(),
	}
	if h.audit == nil {
		h.audit = audit.LogPublisher{}
	}

	h.mux.HandleFunc("GET /v1/limits", h.Secure(SecureOptions{
		RequireAuth:       true,
		RateLimitCategory: ratelimit.CategoryRead,
	}, h.handleLimits))

	h.mux.HandleFunc("POST /v1/usage", h.Secure(SecureOptions{
		RequireAuth:       true,
		RateLimitCategory: ratelimit.CategoryAPI,
		Payload:           func() any { return &usageReport{} },
	}, h.handleUsageReport))

	h.mux.Handle("GET /metrics", promhttp.Handler())

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// Mux exposes the underlying mux so main can mount additional
// handlers (admin, health) on the same server.
func (h *Handler) Mux() *http.ServeMux {
	return h.mux
}

// SecureOptions declares which pipeline stages apply to an endpoint.
// Zero values skip the corresponding stage.
type SecureOptions struct {
	RequireAuth       bool
	AllowedRoles      []string
	RateLimitCategory ratelimit.Category
	Payload           func() any
}

// Request is what a business handler receives: the resolved session
// (nil unless RequireAuth), the validated payload (nil unless Payload
// was declared), and the raw request for headers and path values.
type Request struct {
	HTTP      *http.Request
	Session   *domain.Session
	Payload   any
	RequestID string
}

// Response is a business handler's successful result.
type Response struct {
	Status  int
	Message string
	Data    any
}

// BusinessHandler runs after every configured admission stage passed.
type BusinessHandler func(ctx context.Context, req *Request) (*Response, error)

// Secure wraps a business handler with the admission pipeline. Stages
// run strictly in order: rate limit, session, role, validation. The
// first failing stage terminates the request; the business handler is
// never invoked after a denial.
func (h *Handler) Secure(opts SecureOptions, fn BusinessHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", requestID)

		ctx, span := telemetry.StartSpan(r.Context(), r.Method+" "+r.URL.Path)
		defer span.End()
		r = r.WithContext(ctx)

		req := &Request{HTTP: r, RequestID: requestID}
		key := clientKey(r)

		outcome := func(name string) {
			tenantID := ""
			if req.Session != nil {
				tenantID = req.Session.TenantID
			}
			telemetry.AddAdmissionAttributes(span, tenantID, string(opts.RateLimitCategory), name, requestID)
		}

		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("panic in request handler",
					"path", r.URL.Path,
					"request_id", requestID,
					"panic", rec,
					"stack", string(debug.Stack()),
				)
				h.writeError(w, r, domain.NewInfrastructure(errors.New("panic in handler")))
			}
		}()

		if opts.RateLimitCategory != "" {
			start := time.Now()
			decision := h.limiter.Allow(r.Context(), key, opts.RateLimitCategory)
			metrics.ObserveStage("rate_limit", time.Since(start).Seconds())

			w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(decision.Limit, 10))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))
			w.Header().Set("X-RateLimit-Reset", decision.ResetAt.UTC().Format(time.RFC3339))

			if !decision.Allowed {
				metrics.RecordRateLimitHit(string(opts.RateLimitCategory))
				slog.Warn("rate limit exceeded",
					"path", r.URL.Path,
					"category", opts.RateLimitCategory,
					"client_key", key,
					"request_id", requestID,
				)
				h.publishDenial(r, audit.KindRateLimited, key, nil, map[string]string{
					"category": string(opts.RateLimitCategory),
				})
				outcome(string(audit.KindRateLimited))
				h.writeError(w, r, domain.NewRateLimited(decision.RetryAfter))
				return
			}
		}

		if opts.RequireAuth {
			start := time.Now()
			sess, err := h.sessions.Resolve(r.Context(), r)
			metrics.ObserveStage("session", time.Since(start).Seconds())

			if err != nil {
				slog.Warn("unauthenticated request",
					"path", r.URL.Path,
					"client_key", key,
					"request_id", requestID,
				)
				h.publishDenial(r, audit.KindUnauthenticated, key, nil, nil)
				outcome(string(audit.KindUnauthenticated))
				h.writeError(w, r, domain.NewUnauthenticated())
				return
			}
			req.Session = sess
		}

		if len(opts.AllowedRoles) > 0 {
			if req.Session == nil || !slices.Contains(opts.AllowedRoles, req.Session.Role) {
				actual := ""
				if req.Session != nil {
					actual = req.Session.Role
				}
				slog.Warn("forbidden role",
					"path", r.URL.Path,
					"required_roles", opts.AllowedRoles,
					"actual_role", actual,
					"request_id", requestID,
				)
				h.publishDenial(r, audit.KindForbiddenRole, key, req.Session, map[string]string{
					"required": strings.Join(opts.AllowedRoles, ","),
					"actual":   actual,
				})
				outcome(string(audit.KindForbiddenRole))
				h.writeError(w, r, domain.NewForbiddenRole(opts.AllowedRoles, actual))
				return
			}
		}

		if opts.Payload != nil {
			start := time.Now()
			payload := opts.Payload()
			fieldErrs := h.validator.Parse(r, payload)
			metrics.ObserveStage("validate", time.Since(start).Seconds())

			if len(fieldErrs) > 0 {
				h.publishDenial(r, audit.KindValidationFailed, key, req.Session, nil)
				outcome(string(audit.KindValidationFailed))
				h.writeError(w, r, domain.NewValidationFailed(fieldErrs))
				return
			}
			req.Payload = payload
		}

		resp, err := fn(r.Context(), req)
		if err != nil {
			var admErr *domain.AdmissionError
			if errors.As(err, &admErr) {
				if admErr.Code == domain.CodePlanLimitExceeded {
					h.publishDenial(r, audit.KindPlanLimitExceeded, key, req.Session, map[string]string{
						"resource": string(admErr.Resource),
					})
				}
				outcome(string(admErr.Code))
				h.writeError(w, r, admErr)
				return
			}

			slog.Error("handler error",
				"path", r.URL.Path,
				"request_id", requestID,
				"error", err,
			)
			telemetry.AddErrorAttribute(span, err)
			outcome("error")
			h.writeError(w, r, domain.NewInfrastructure(err))
			return
		}

		outcome("allowed")
		h.writeSuccess(w, r, resp)
	}
}

func (h *Handler) handleLimits(ctx context.Context, req *Request) (*Response, error) {
	limits, err := h.plans.GetAllLimits(ctx, req.Session.TenantID)
	if err != nil {
		return nil, err
	}
	return &Response{Data: limits}, nil
}

type usageReport struct {
	Resource  string `json:"resource" validate:"required,oneof=signatures storage ai_tokens"`
	Amount    int64  `json:"amount" validate:"required,gte=1"`
	Reference string `json:"reference" validate:"omitempty,max=255"`
}

func (h *Handler) handleUsageReport(ctx context.Context, req *Request) (*Response, error) {
	if h.usage == nil {
		return nil, domain.NewInfrastructure(errors.New("usage recording not configured"))
	}

	report := req.Payload.(*usageReport)
	ev := domain.UsageEvent{
		TenantID:   req.Session.TenantID,
		Resource:   domain.ResourceType(report.Resource),
		Amount:     report.Amount,
		Reference:  report.Reference,
		OccurredAt: time.Now(),
	}
	if err := h.usage.Record(ctx, ev); err != nil {
		return nil, err
	}
	return &Response{Status: http.StatusAccepted, Message: "usage recorded"}, nil
}

func (h *Handler) publishDenial(r *http.Request, kind audit.Kind, key string, sess *domain.Session, detail map[string]string) {
	metrics.RecordDenial(string(kind))
	metrics.RecordRequest(r.URL.Path, string(kind))

	ev := audit.Event{
		ID:         uuid.New().String(),
		Kind:       kind,
		Path:       r.URL.Path,
		ClientKey:  key,
		Detail:     detail,
		OccurredAt: time.Now().UTC(),
	}
	if sess != nil {
		ev.TenantID = sess.TenantID
		ev.UserID = sess.UserID
	}

	if err := h.audit.Publish(r.Context(), ev); err != nil {
		metrics.RecordAuditPublishError()
		slog.Warn("failed to publish audit event",
			"kind", kind,
			"path", r.URL.Path,
			"error", err,
		)
	}
}

// clientKey derives the rate-limit key from the caller's network
// identity: the first X-Forwarded-For hop when present, otherwise the
// remote address.
func clientKey(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.Index(fwd, ","); i >= 0 {
			fwd = fwd[:i]
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
