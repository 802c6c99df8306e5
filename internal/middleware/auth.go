package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/prudhvinik1/activitysync/internal/services"
)

type contextKey string

const IdentityContextKey contextKey = "identity"

// Identity is the verified caller a request runs as.
type Identity struct {
	OwnerID  uuid.UUID
	DeviceID uuid.UUID
}

type TokenVerifier interface {
	VerifyToken(tokenString string) (*services.TokenClaims, error)
}

// IdentityFromContext retrieves the verified identity from request context
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(IdentityContextKey).(Identity)
	return id, ok
}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, IdentityContextKey, id)
}

// AuthGate rejects requests without a valid bearer token and stores the
// verified owner and device on the request context.
func AuthGate(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Extract token (format: "Bearer <token>")
			parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
				unauthorized(w)
				return
			}

			claims, err := verifier.VerifyToken(strings.TrimSpace(parts[1]))
			if err != nil {
				unauthorized(w)
				return
			}

			ctx := WithIdentity(r.Context(), Identity{
				OwnerID:  claims.AccountID,
				DeviceID: claims.DeviceID,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
}
