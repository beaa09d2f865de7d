package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/inmova/gatekeeper/internal/domain"
	"github.com/inmova/gatekeeper/internal/httputil"
)

// AuthServiceResolver defers session resolution to the platform auth
// service. Used when the gateway should not hold the signing secret,
// at the cost of one internal round trip per authenticated request.
type AuthServiceResolver struct {
	baseURL string
	client  *http.Client
}

func NewAuthServiceResolver(baseURL string) *AuthServiceResolver {
	return &AuthServiceResolver{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  httputil.DefaultClient(),
	}
}

func NewAuthServiceResolverWithClient(baseURL string, client *http.Client) *AuthServiceResolver {
	return &AuthServiceResolver{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

func (a *AuthServiceResolver) Resolve(ctx context.Context, r *http.Request) (*domain.Session, error) {
	token := ExtractToken(r)
	if token == "" {
		return nil, domain.ErrNoSession
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/internal/session", nil)
	if err != nil {
		return nil, fmt.Errorf("build session request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth service: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return nil, domain.ErrInvalidSession
	default:
		return nil, fmt.Errorf("auth service returned %d", resp.StatusCode)
	}

	var sess domain.Session
	if err := json.NewDecoder(resp.Body).Decode(&sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if sess.UserID == "" {
		return nil, domain.ErrInvalidSession
	}
	return &sess, nil
}
