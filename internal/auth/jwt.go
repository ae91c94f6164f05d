// Package auth issues and verifies the bearer tokens that identify drivers
// and viewers.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/campusride/bustrack/internal/errs"
)

// Role is the capability carried by a token.
type Role string

const (
	RoleStudent     Role = "student"
	RoleDriver      Role = "driver"
	RoleCoordinator Role = "coordinator"
	RoleAdmin       Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleDriver, RoleCoordinator, RoleAdmin:
		return true
	}
	return false
}

// Identity is the authenticated caller.
type Identity struct {
	UserID string `json:"userId"`
	Role   Role   `json:"role"`
}

// Claims is the token payload.
type Claims struct {
	UserID string `json:"userId"`
	Role   Role   `json:"role"`
	jwt.RegisteredClaims
}

// Authenticator signs and verifies HS256 tokens with a shared secret.
type Authenticator struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewAuthenticator creates an Authenticator. A zero ttl issues tokens without expiry.
func NewAuthenticator(secret string, ttl time.Duration) *Authenticator {
	return &Authenticator{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue mints a token for id.
func (a *Authenticator) Issue(id Identity) (string, error) {
	if id.UserID == "" {
		return "", errs.NewValidation("userId is required")
	}
	if !id.Role.Valid() {
		return "", errs.NewValidation(fmt.Sprintf("unknown role %q", id.Role))
	}

	now := a.now()
	claims := Claims{
		UserID: id.UserID,
		Role:   id.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  id.UserID,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if a.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(a.ttl))
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify parses token and returns the identity it carries.
// Any failure is reported as errs.Unauthorized.
func (a *Authenticator) Verify(token string) (Identity, error) {
	if token == "" {
		return Identity{}, errs.NewUnauthorized("No token provided")
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, errs.E(errs.Unauthorized, "Token expired", err)
		}
		return Identity{}, errs.E(errs.Unauthorized, "Invalid token", err)
	}
	if claims.UserID == "" || !claims.Role.Valid() {
		return Identity{}, errs.NewUnauthorized("Invalid token")
	}

	return Identity{UserID: claims.UserID, Role: claims.Role}, nil
}

// RequireRole fails with errs.Forbidden unless id holds one of roles.
func RequireRole(id Identity, roles ...Role) error {
	for _, r := range roles {
		if id.Role == r {
			return nil
		}
	}
	return errs.NewForbidden("Forbidden - Insufficient permissions")
}
