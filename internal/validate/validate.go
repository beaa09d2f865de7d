// Package validate parses inbound request bodies into typed payloads
// and checks them against their declared constraints. Failures come
// back as a per-field error list so callers can render field-level
// feedback instead of one opaque message.
package validate

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/inmova/gatekeeper/internal/domain"
)

const maxBodyBytes = 1 << 20 // 1 MiB

// Validator decodes and validates request payloads.
type Validator struct {
	v *validator.Validate
}

func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Report field errors under the json name, not the Go field name,
	// so the dotted paths match what the client sent.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &Validator{v: v}
}

// Parse decodes the request body into dst and validates it. dst must
// be a pointer to a struct carrying `validate` tags. JSON bodies are
// decoded directly; multipart and urlencoded forms are flattened to a
// key-value map first (file parts are ignored, they are handled
// upstream of this layer). A nil return means dst is populated and
// valid.
func (va *Validator) Parse(r *http.Request, dst any) []domain.FieldError {
	if err := va.decode(r, dst); err != nil {
		return []domain.FieldError{{Field: "body", Message: err.Error()}}
	}

	if err := va.v.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return fieldErrors(verrs)
		}
		return []domain.FieldError{{Field: "body", Message: "invalid payload"}}
	}
	return nil
}

func (va *Validator) decode(r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(nil, r.Body, maxBodyBytes)

	mediaType := r.Header.Get("Content-Type")
	if mediaType != "" {
		mediaType, _, _ = mime.ParseMediaType(mediaType)
	}

	switch mediaType {
	case "multipart/form-data":
		if err := r.ParseMultipartForm(maxBodyBytes); err != nil {
			return fmt.Errorf("invalid form body")
		}
		return bindForm(r.MultipartForm.Value, dst)
	case "application/x-www-form-urlencoded":
		if err := r.ParseForm(); err != nil {
			return fmt.Errorf("invalid form body")
		}
		return bindForm(r.PostForm, dst)
	default:
		if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
			return fmt.Errorf("invalid JSON body")
		}
		return nil
	}
}

// bindForm flattens form values (first value per key) to a plain map
// and binds them through a JSON round trip. Form fields therefore bind
// to string-typed struct fields.
func bindForm(values map[string][]string, dst any) error {
	flat := make(map[string]string, len(values))
	for key, vals := range values {
		if len(vals) > 0 {
			flat[key] = vals[0]
		}
	}

	data, err := json.Marshal(flat)
	if err != nil {
		return fmt.Errorf("invalid form body")
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("invalid form body")
	}
	return nil
}

func fieldErrors(verrs validator.ValidationErrors) []domain.FieldError {
	out := make([]domain.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, domain.FieldError{
			Field:   fieldPath(fe),
			Message: message(fe),
		})
	}
	return out
}

// fieldPath strips the top-level struct name from the namespace,
// leaving the dotted path of the field ("address.city").
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "uuid":
		return "must be a valid UUID"
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be less than or equal to %s", fe.Param())
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}
