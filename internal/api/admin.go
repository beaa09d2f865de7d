package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/inmova/gatekeeper/internal/auth"
	"github.com/inmova/gatekeeper/internal/domain"
	"github.com/inmova/gatekeeper/internal/plan"
	"github.com/inmova/gatekeeper/internal/repository"
	"github.com/inmova/gatekeeper/internal/validate"
)

// AdminHandler exposes the operator surface for plan management:
// inspecting tenant billing records, changing tiers, setting per-tenant
// overrides, and reading live usage against limits.
type AdminHandler struct {
	billing   repository.BillingRepository
	plans     *plan.Checker
	validator *validate.Validator
	mw        *auth.Middleware
	devMode   bool
	mux       *http.ServeMux
}

func NewAdminHandler(billing repository.BillingRepository, plans *plan.Checker, validator *validate.Validator, mw *auth.Middleware, devMode bool) *AdminHandler {
	h := &AdminHandler{
		billing:   billing,
		plans:     plans,
		validator: validator,
		mw:        mw,
		devMode:   devMode,
		mux:       http.NewServeMux(),
	}

	h.mux.Handle("GET /admin/tenants", h.guard(auth.PermissionPlanRead, http.HandlerFunc(h.handleList)))
	h.mux.Handle("GET /admin/tenants/{id}", h.guard(auth.PermissionPlanRead, http.HandlerFunc(h.handleGet)))
	h.mux.Handle("PUT /admin/tenants/{id}/plan", h.guard(auth.PermissionPlanWrite, http.HandlerFunc(h.handleUpdatePlan)))
	h.mux.Handle("GET /admin/tenants/{id}/limits", h.guard(auth.PermissionUsageRead, http.HandlerFunc(h.handleLimits)))

	return h
}

func (h *AdminHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *AdminHandler) guard(perm auth.Permission, next http.Handler) http.Handler {
	if h.mw == nil {
		return next
	}
	return h.mw.RequireAuth(h.mw.RequirePermission(perm)(next))
}

func (h *AdminHandler) handleList(w http.ResponseWriter, r *http.Request) {
	records, err := h.billing.List(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, successEnvelope{Success: true, Data: records})
}

func (h *AdminHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	rec, err := h.billing.GetByTenantID(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, successEnvelope{Success: true, Data: rec})
}

type planUpdate struct {
	Tier      string `json:"tier" validate:"required,oneof=FREE STARTER BASIC PROFESSIONAL BUSINESS ENTERPRISE"`
	Enabled   *bool  `json:"enabled"`
	Overrides *struct {
		MaxProperties *int `json:"maxProperties" validate:"omitempty,gte=-1"`
		MaxUsers      *int `json:"maxUsers" validate:"omitempty,gte=-1"`
		MaxSignatures *int `json:"maxSignatures" validate:"omitempty,gte=-1"`
		MaxTenants    *int `json:"maxTenants" validate:"omitempty,gte=-1"`
		MaxStorageMB  *int `json:"maxStorageMb" validate:"omitempty,gte=-1"`
		MaxAITokens   *int `json:"maxAiTokens" validate:"omitempty,gte=-1"`
	} `json:"overrides"`
}

func (h *AdminHandler) handleUpdatePlan(w http.ResponseWriter, r *http.Request) {
	var upd planUpdate
	if fieldErrs := h.validator.Parse(r, &upd); len(fieldErrs) > 0 {
		h.writeError(w, domain.NewValidationFailed(fieldErrs))
		return
	}

	tenantID := r.PathValue("id")
	rec, err := h.billing.GetByTenantID(r.Context(), tenantID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	rec.Tier = domain.Tier(upd.Tier)
	if upd.Enabled != nil {
		rec.Enabled = *upd.Enabled
	}
	if upd.Overrides != nil {
		rec.Overrides = domain.LimitOverrides{
			Properties: upd.Overrides.MaxProperties,
			Users:      upd.Overrides.MaxUsers,
			Signatures: upd.Overrides.MaxSignatures,
			Tenants:    upd.Overrides.MaxTenants,
			Storage:    upd.Overrides.MaxStorageMB,
			AITokens:   upd.Overrides.MaxAITokens,
		}
	}
	rec.UpdatedAt = time.Now().UTC()

	if err := h.billing.Update(r.Context(), rec); err != nil {
		h.writeError(w, err)
		return
	}

	updatedBy := "system"
	if staff, ok := auth.StaffFromContext(r.Context()); ok {
		updatedBy = staff.Username
	}
	slog.Info("tenant plan updated",
		"tenant_id", tenantID,
		"tier", rec.Tier,
		"updated_by", updatedBy,
	)
	writeJSON(w, http.StatusOK, successEnvelope{Success: true, Message: "plan updated", Data: rec})
}

func (h *AdminHandler) handleLimits(w http.ResponseWriter, r *http.Request) {
	limits, err := h.plans.GetAllLimits(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, successEnvelope{Success: true, Data: limits})
}

func (h *AdminHandler) writeError(w http.ResponseWriter, err error) {
	var admErr *domain.AdmissionError
	switch {
	case errors.As(err, &admErr):
	case errors.Is(err, domain.ErrTenantNotFound):
		writeJSON(w, http.StatusNotFound, errorEnvelope{Error: "tenant not found", Code: "NOT_FOUND"})
		return
	default:
		slog.Error("admin request failed", "error", err)
		admErr = domain.NewInfrastructure(err)
	}

	env := errorEnvelope{Error: admErr.Message, Code: string(admErr.Code), Details: admErr.Fields}
	if h.devMode && admErr.Internal != nil {
		env.Stack = admErr.Internal.Error()
	}
	writeJSON(w, admErr.Status, env)
}
