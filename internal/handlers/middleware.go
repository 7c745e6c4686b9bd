package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/prudhvinik1/changesync/internal/lifecycle"
	"github.com/prudhvinik1/changesync/internal/services"
)

type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*services.TokenClaims, error)
}

type claimsKey struct{}

func ClaimsFrom(ctx context.Context) (*services.TokenClaims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(*services.TokenClaims)
	return claims, ok
}

// bearerToken reads the Authorization header, falling back to a token query
// parameter for websocket clients that cannot set headers.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return r.URL.Query().Get("token")
}

func RequireAuth(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized"})
				return
			}
			claims, err := auth.Authenticate(r.Context(), token)
			if err != nil {
				writeError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
		})
	}
}

// RefuseWritesDuringShutdown answers mutating requests with 503 once
// shutdown started. Reads keep being served while the process drains.
func RefuseWritesDuringShutdown(l *lifecycle.Lifecycle) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
			default:
				if l != nil && l.IsShutdown() {
					writeUnavailable(w, "shutting-down")
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
