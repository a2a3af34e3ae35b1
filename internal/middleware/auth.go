package middleware

import (
	"context"
	"net/http"

	"github.com/walletcore/backend/internal/models"
	"github.com/walletcore/backend/internal/services"
)

type contextKey string

// CallerContextKey holds the authenticated *models.APIKey for the request.
const CallerContextKey contextKey = "caller"

// Authenticator validates a presented credential string. Satisfied by
// services.AccessGate.
type Authenticator interface {
	Authenticate(ctx context.Context, credential string) (*models.APIKey, error)
}

// APIKeyAuth guards a route group with X-API-Key authentication. It runs
// before any ledger code; a rejected credential short-circuits the request
// with no other side effects.
func APIKeyAuth(gate Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			credential := r.Header.Get("X-API-Key")
			if credential == "" {
				services.SendErrorResponse(w, "API key required", http.StatusUnauthorized, nil)
				return
			}

			key, err := gate.Authenticate(r.Context(), credential)
			if err != nil {
				services.SendErrorResponse(w, "Invalid API key", http.StatusUnauthorized, nil)
				return
			}

			ctx := context.WithValue(r.Context(), CallerContextKey, key)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// CallerFromContext returns the authenticated API key, if any.
func CallerFromContext(ctx context.Context) (*models.APIKey, bool) {
	key, ok := ctx.Value(CallerContextKey).(*models.APIKey)
	return key, ok
}
