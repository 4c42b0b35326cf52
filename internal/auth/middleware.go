package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

type contextKey int

const identityKey contextKey = iota

// Identity returns the authenticated caller identity installed by
// [Middleware], or nil when the request was not authenticated.
func Identity(ctx context.Context) *TokenData {
	data, _ := ctx.Value(identityKey).(*TokenData)
	return data
}

// WithIdentity returns a context carrying the given identity. Exposed
// for handler tests that bypass the middleware.
func WithIdentity(ctx context.Context, data *TokenData) context.Context {
	return context.WithValue(ctx, identityKey, data)
}

// Middleware rejects requests without a valid Bearer token and installs
// the verified identity in the request context for downstream handlers.
func Middleware(v *Verifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				unauthorized(w, "Missing or malformed Authorization header")
				return
			}

			data, err := v.Verify(token)
			if err != nil {
				logger.Debug("token rejected", "error", err, "path", r.URL.Path)
				unauthorized(w, "Invalid or expired token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), data)))
		})
	}
}

func unauthorized(w http.ResponseWriter, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": detail})
}
