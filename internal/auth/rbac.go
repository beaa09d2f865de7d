// Package auth guards the operator/admin surface of the gateway. This
// is staff authentication (Basic auth against bcrypt hashes with a
// role-to-permission table), separate from the end-user session
// resolution in internal/session.
package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrUnauthorized    = errors.New("unauthorized")
	ErrUserNotFound    = errors.New("user not found")
	ErrInvalidPassword = errors.New("invalid password")
)

type Role string

const (
	RoleAdmin    Role = "admin"
	RoleOperator Role = "operator"
	RoleViewer   Role = "viewer"
)

type Permission string

const (
	PermissionPlanRead  Permission = "plan:read"
	PermissionPlanWrite Permission = "plan:write"
	PermissionUsageRead Permission = "usage:read"
)

var rolePermissions = map[Role][]Permission{
	RoleAdmin: {
		PermissionPlanRead,
		PermissionPlanWrite,
		PermissionUsageRead,
	},
	RoleOperator: {
		PermissionPlanRead,
		PermissionUsageRead,
	},
	RoleViewer: {
		PermissionPlanRead,
	},
}

func HasPermission(role Role, permission Permission) bool {
	for _, p := range rolePermissions[role] {
		if p == permission {
			return true
		}
	}
	return false
}

// StaffUser is an operator account for the admin API.
type StaffUser struct {
	ID           string
	Username     string
	PasswordHash string
	Role         Role
	Enabled      bool
	CreatedAt    time.Time
}

type StaffRepository interface {
	GetByUsername(ctx context.Context, username string) (*StaffUser, error)
}

type Authenticator struct {
	repo StaffRepository
}

func NewAuthenticator(repo StaffRepository) *Authenticator {
	return &Authenticator{repo: repo}
}

func (a *Authenticator) Authenticate(ctx context.Context, username, password string) (*StaffUser, error) {
	user, err := a.repo.GetByUsername(ctx, username)
	if err != nil {
		return nil, ErrUserNotFound
	}

	if !user.Enabled {
		return nil, ErrUnauthorized
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidPassword
	}
	return user, nil
}

func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

type contextKey string

const staffContextKey contextKey = "staff_user"

func WithStaff(ctx context.Context, user *StaffUser) context.Context {
	return context.WithValue(ctx, staffContextKey, user)
}

func StaffFromContext(ctx context.Context) (*StaffUser, bool) {
	user, ok := ctx.Value(staffContextKey).(*StaffUser)
	return user, ok
}

// Middleware wraps admin handlers with Basic auth and permission
// checks.
type Middleware struct {
	auth *Authenticator
}

func NewMiddleware(auth *Authenticator) *Middleware {
	return &Middleware{auth: auth}
}

func (m *Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="Gatekeeper Admin"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		user, err := m.auth.Authenticate(r.Context(), username, password)
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithStaff(r.Context(), user)))
	})
}

func (m *Middleware) RequirePermission(permission Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := StaffFromContext(r.Context())
			if !ok {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			if !HasPermission(user.Role, permission) {
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// PostgresStaffRepository reads staff accounts from the platform
// database.
type PostgresStaffRepository struct {
	db *sql.DB
}

func NewPostgresStaffRepository(db *sql.DB) *PostgresStaffRepository {
	return &PostgresStaffRepository{db: db}
}

func (r *PostgresStaffRepository) GetByUsername(ctx context.Context, username string) (*StaffUser, error) {
	query := `
		SELECT id, username, password_hash, role, enabled, created_at
		FROM staff_users
		WHERE username = $1
	`

	var user StaffUser
	var role string
	err := r.db.QueryRowContext(ctx, query, username).Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&role,
		&user.Enabled,
		&user.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query staff user: %w", err)
	}

	user.Role = Role(role)
	return &user, nil
}

// InMemoryStaffRepository seeds a single admin account for local runs.
type InMemoryStaffRepository struct {
	users map[string]*StaffUser
}

func NewInMemoryStaffRepository(adminPassword string) *InMemoryStaffRepository {
	hash, _ := HashPassword(adminPassword)
	return &InMemoryStaffRepository{
		users: map[string]*StaffUser{
			"admin": {
				ID:           "admin",
				Username:     "admin",
				PasswordHash: hash,
				Role:         RoleAdmin,
				Enabled:      true,
				CreatedAt:    time.Now(),
			},
		},
	}
}

func (r *InMemoryStaffRepository) GetByUsername(ctx context.Context, username string) (*StaffUser, error) {
	user, ok := r.users[username]
	if !ok {
		return nil, ErrUserNotFound
	}
	return user, nil
}
