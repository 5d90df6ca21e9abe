package middleware

import (
	"context"
	"net/http"
	"strings"

	goSession "github.com/MrEthical07/goSession"
)

// Authenticator verifies an access token. *goSession.Engine implements it.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (goSession.Claims, error)
}

// ErrorHandler writes the response for a rejected request.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)

type claimsContextKey struct{}

// ClaimsFromContext returns the claims stored by RequireAccess.
func ClaimsFromContext(ctx context.Context) (goSession.Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey{}).(goSession.Claims)
	return claims, ok
}

// WithClaims stores claims in ctx the way RequireAccess does.
func WithClaims(ctx context.Context, claims goSession.Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey{}, claims)
}

// RequireAccess rejects requests without a valid bearer access token with a plain
// 401 and passes the rest through with their claims in the context.
func RequireAccess(auth Authenticator) func(http.Handler) http.Handler {
	return RequireAccessWith(auth, nil)
}

// RequireAccessWith is RequireAccess with a custom rejection writer. A nil onError
// writes a plain 401.
func RequireAccessWith(auth Authenticator, onError ErrorHandler) func(http.Handler) http.Handler {
	if onError == nil {
		onError = func(w http.ResponseWriter, _ *http.Request, _ error) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if auth == nil {
				onError(w, r, goSession.ErrEngineNotReady)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				onError(w, r, goSession.ErrUnauthorized)
				return
			}

			claims, err := auth.Authenticate(r.Context(), token)
			if err != nil {
				onError(w, r, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
