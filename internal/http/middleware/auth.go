package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/songforge/songforge/internal/models"
	"github.com/songforge/songforge/internal/service"
)

type apiKeyCtxKey struct{}

// Authenticator resolves a bearer token to its API key.
type Authenticator interface {
	Authenticate(ctx context.Context, bearer string) (*models.ApiKey, error)
}

// BearerAuth guards every path under /v1/ with bearer-token authentication.
// /health, /metrics, and everything else outside /v1/ stay open. Missing or
// unknown keys get 401, disabled keys 403.
func BearerAuth(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.HasPrefix(r.URL.Path, "/v1/") {
				next.ServeHTTP(w, r)
				return
			}

			key, err := auth.Authenticate(r.Context(), bearerToken(r))
			if err != nil {
				status := http.StatusUnauthorized
				if errors.Is(err, service.ErrKeyDisabled) {
					status = http.StatusForbidden
				}
				writeAuthError(w, status, err.Error())
				return
			}

			ctx := context.WithValue(r.Context(), apiKeyCtxKey{}, key)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ApiKeyFromContext returns the authenticated API key, nil when unauthenticated.
func ApiKeyFromContext(ctx context.Context) *models.ApiKey {
	key, _ := ctx.Value(apiKeyCtxKey{}).(*models.ApiKey)
	return key
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return header[len(prefix):]
	}
	return ""
}

func writeAuthError(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"title":  http.StatusText(status),
		"status": status,
		"detail": detail,
	})
}
