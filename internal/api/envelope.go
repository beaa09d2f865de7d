package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/inmova/gatekeeper/internal/domain"
	"github.com/inmova/gatekeeper/internal/metrics"
)

type successEnvelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type errorEnvelope struct {
	Error    string              `json:"error"`
	Code     string              `json:"code"`
	Details  []domain.FieldError `json:"details,omitempty"`
	Resource string              `json:"resource,omitempty"`
	Limit    *int                `json:"limit,omitempty"`
	Used     *int                `json:"used,omitempty"`
	Stack    string              `json:"stack,omitempty"`
}

func (h *Handler) writeSuccess(w http.ResponseWriter, r *http.Request, resp *Response) {
	status := http.StatusOK
	if resp != nil && resp.Status != 0 {
		status = resp.Status
	}
	metrics.RecordRequest(r.URL.Path, "success")

	env := successEnvelope{Success: true}
	if resp != nil {
		env.Message = resp.Message
		env.Data = resp.Data
	}
	writeJSON(w, status, env)
}

// writeError is the single translation point from the admission error
// taxonomy to HTTP. Internal error detail only leaks in dev mode.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var admErr *domain.AdmissionError
	if !errors.As(err, &admErr) {
		admErr = domain.NewInfrastructure(err)
	}

	if admErr.Code == domain.CodeRateLimited && admErr.RetryAfter > 0 {
		secs := int((admErr.RetryAfter + time.Second - 1) / time.Second)
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	if admErr.Code == domain.CodeInfrastructure {
		metrics.RecordRequest(r.URL.Path, "error")
	}

	env := errorEnvelope{
		Error:   admErr.Message,
		Code:    string(admErr.Code),
		Details: admErr.Fields,
	}
	if admErr.Code == domain.CodePlanLimitExceeded {
		env.Resource = string(admErr.Resource)
		env.Limit = admErr.Limit
		used := admErr.Used
		env.Used = &used
	}
	if h.devMode && admErr.Internal != nil {
		env.Stack = admErr.Internal.Error() + "\n" + string(debug.Stack())
	}
	writeJSON(w, admErr.Status, env)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
