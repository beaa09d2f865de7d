package domain

import (
	"fmt"
	"net/http"
	"time"
)

var (
	ErrTenantNotFound  = fmt.Errorf("tenant not found")
	ErrNoSession       = fmt.Errorf("no session")
	ErrInvalidSession  = fmt.Errorf("invalid session")
	ErrTenantDisabled  = fmt.Errorf("tenant disabled")
	ErrInvalidResource = fmt.Errorf("invalid resource type")
)

// ErrorCode classifies admission failures. The four policy codes are
// safe to surface verbatim; infrastructure detail is gated behind
// development mode.
type ErrorCode string

const (
	CodeUnauthenticated   ErrorCode = "UNAUTHENTICATED"
	CodeForbiddenRole     ErrorCode = "FORBIDDEN_ROLE"
	CodeRateLimited       ErrorCode = "RATE_LIMITED"
	CodeValidationFailed  ErrorCode = "VALIDATION_FAILED"
	CodePlanLimitExceeded ErrorCode = "PLAN_LIMIT_EXCEEDED"
	CodeInfrastructure    ErrorCode = "INFRASTRUCTURE_ERROR"
)

// AdmissionError is the typed error every pipeline stage produces on
// denial. Message is always safe for end users; Internal is not and is
// only written to logs or development-mode responses.
type AdmissionError struct {
	Code       ErrorCode
	Status     int
	Message    string
	Fields     []FieldError
	Resource   ResourceType
	Limit      *int
	Used       int
	RetryAfter time.Duration
	Internal   error
}

func (e *AdmissionError) Error() string {
	if e.Internal != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Internal)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AdmissionError) Unwrap() error {
	return e.Internal
}

func NewUnauthenticated() *AdmissionError {
	return &AdmissionError{
		Code:    CodeUnauthenticated,
		Status:  http.StatusUnauthorized,
		Message: "authentication required",
	}
}

func NewForbiddenRole(required []string, actual string) *AdmissionError {
	return &AdmissionError{
		Code:     CodeForbiddenRole,
		Status:   http.StatusForbidden,
		Message:  "insufficient permissions",
		Internal: fmt.Errorf("role %q not in %v", actual, required),
	}
}

func NewRateLimited(retryAfter time.Duration) *AdmissionError {
	return &AdmissionError{
		Code:       CodeRateLimited,
		Status:     http.StatusTooManyRequests,
		Message:    "too many requests, please retry later",
		RetryAfter: retryAfter,
	}
}

func NewValidationFailed(fields []FieldError) *AdmissionError {
	return &AdmissionError{
		Code:    CodeValidationFailed,
		Status:  http.StatusBadRequest,
		Message: "request validation failed",
		Fields:  fields,
	}
}

func NewPlanLimitExceeded(rt ResourceType, limit *int, used int) *AdmissionError {
	msg := fmt.Sprintf("plan limit reached for %s, upgrade your subscription to continue", rt)
	if limit != nil {
		msg = fmt.Sprintf("plan limit reached for %s (%d of %d used), upgrade your subscription to continue", rt, used, *limit)
	}
	return &AdmissionError{
		Code:     CodePlanLimitExceeded,
		Status:   http.StatusForbidden,
		Message:  msg,
		Resource: rt,
		Limit:    limit,
		Used:     used,
	}
}

func NewInfrastructure(err error) *AdmissionError {
	return &AdmissionError{
		Code:     CodeInfrastructure,
		Status:   http.StatusInternalServerError,
		Message:  "something went wrong, please try again",
		Internal: err,
	}
}
