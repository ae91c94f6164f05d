package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/campusride/bustrack/internal/auth"
	"github.com/campusride/bustrack/internal/errs"
	"github.com/campusride/bustrack/pkg/log"
)

// TokenVerifier turns a bearer token into an identity
type TokenVerifier interface {
	Verify(token string) (auth.Identity, error)
}

type contextKey int

const identityKey contextKey = iota

// WithIdentity returns a copy of ctx carrying id
func WithIdentity(ctx context.Context, id auth.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFrom returns the caller set by Authenticate
func IdentityFrom(ctx context.Context) (auth.Identity, bool) {
	id, ok := ctx.Value(identityKey).(auth.Identity)
	return id, ok
}

// Authenticate rejects requests without a valid bearer token. The token is
// read from the Authorization header, or from the access_token query
// parameter for websocket upgrades where browsers cannot set headers.
func Authenticate(v TokenVerifier, logger log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := v.Verify(bearerToken(r))
			if err != nil {
				logger.Debug("authentication failed", "path", r.URL.Path, "error", err)
				writeError(w, logger, err, nil)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// RequireRole rejects authenticated callers that hold none of roles.
func RequireRole(logger log.Logger, roles ...auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFrom(r.Context())
			if !ok {
				writeError(w, logger, errs.NewUnauthorized("No token provided"), nil)
				return
			}
			if err := auth.RequireRole(id, roles...); err != nil {
				writeError(w, logger, err, nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("access_token")
}
