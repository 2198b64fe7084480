package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/bullishbrief/briefauth/identity"
	"github.com/bullishbrief/briefauth/jwt"
)

// TokenVerifier parses and verifies an access token.
type TokenVerifier interface {
	ParseAccess(token string) (*jwt.AccessClaims, error)
}

type userContextKey struct{}

// UserFromContext returns the reader RequireSession stored in ctx.
func UserFromContext(ctx context.Context) (identity.User, bool) {
	u, ok := ctx.Value(userContextKey{}).(identity.User)
	return u, ok
}

// WithUser stores u in ctx.
func WithUser(ctx context.Context, u identity.User) context.Context {
	return context.WithValue(ctx, userContextKey{}, u)
}

// RequireSession rejects requests without a valid bearer access token with
// 401 and a GoTrue-shaped error body.
func RequireSession(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if verifier == nil {
				unauthorized(w, "no_authorization", "This endpoint requires a Bearer token")
				return
			}
			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				unauthorized(w, "no_authorization", "This endpoint requires a Bearer token")
				return
			}
			claims, err := verifier.ParseAccess(token)
			if err != nil {
				unauthorized(w, "bad_jwt", "invalid JWT: unable to parse or verify signature")
				return
			}

			user := identity.User{
				ID:       claims.UserID(),
				Email:    claims.Email,
				Username: claims.Username,
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}

func unauthorized(w http.ResponseWriter, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"code":401,"error_code":"` + code + `","msg":"` + msg + `"}`))
}
