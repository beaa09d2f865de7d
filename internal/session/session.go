// Package session resolves a request's bearer credential to a caller
// identity. This layer never creates or destroys sessions; it only
// reads what the auth service issued. Two resolvers exist: a local one
// that verifies the signed session token directly, and an HTTP one
// that defers to the platform auth service.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/inmova/gatekeeper/internal/domain"
)

// SessionCookie is the cookie the web app stores the session token in.
const SessionCookie = "inmova_session"

// Resolver resolves a request to a session. It returns
// domain.ErrNoSession when no credential is present and
// domain.ErrInvalidSession when one is present but does not verify;
// callers log the two outcomes separately.
type Resolver interface {
	Resolve(ctx context.Context, r *http.Request) (*domain.Session, error)
}

type sessionClaims struct {
	Role       string `json:"role"`
	TenantID   string `json:"tenant_id"`
	TenantName string `json:"tenant_name"`
	UserType   string `json:"user_type"`
	jwt.RegisteredClaims
}

// JWTResolver verifies HMAC-signed session tokens locally.
type JWTResolver struct {
	secret []byte
}

func NewJWTResolver(secret string) (*JWTResolver, error) {
	if secret == "" {
		return nil, errors.New("session secret must not be empty")
	}
	return &JWTResolver{secret: []byte(secret)}, nil
}

func (j *JWTResolver) Resolve(ctx context.Context, r *http.Request) (*domain.Session, error) {
	raw := ExtractToken(r)
	if raw == "" {
		return nil, domain.ErrNoSession
	}

	claims := &sessionClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return j.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidSession, err)
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", domain.ErrInvalidSession)
	}

	return &domain.Session{
		UserID:     claims.Subject,
		Role:       claims.Role,
		TenantID:   claims.TenantID,
		TenantName: claims.TenantName,
		UserType:   claims.UserType,
	}, nil
}

// ExtractToken pulls the session token from the Authorization header
// or, failing that, the session cookie.
func ExtractToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}

	if c, err := r.Cookie(SessionCookie); err == nil {
		return c.Value
	}
	return ""
}
