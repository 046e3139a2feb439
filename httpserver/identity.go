package httpserver

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/heirloomvault/custody-backend/interfaces"
)

// Identity headers set by the fronting identity provider. The service
// trusts these; the provider terminates authentication.
const (
	HeaderUserID      = "X-User-ID"
	HeaderTenantID    = "X-Tenant-ID"
	HeaderVaultSecret = "X-Vault-Secret"
)

type identityCtxKey struct{}

// RequireIdentity rejects requests without both identity headers and places
// the caller identity in the request context.
func RequireIdentity(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := r.Header.Get(HeaderUserID)
			tenantID := r.Header.Get(HeaderTenantID)
			if userID == "" || tenantID == "" {
				log.Debug("Request without identity headers",
					slog.String("path", r.URL.Path))
				writeJSONError(w, http.StatusUnauthorized, "missing identity")
				return
			}

			identity := interfaces.Identity{UserID: userID, TenantID: tenantID}
			next.ServeHTTP(w, r.WithContext(
				context.WithValue(r.Context(), identityCtxKey{}, identity)))
		})
	}
}

// callerIdentity returns the identity stored by RequireIdentity. The zero
// identity is returned only if the middleware was bypassed.
func callerIdentity(r *http.Request) interfaces.Identity {
	id, _ := r.Context().Value(identityCtxKey{}).(interfaces.Identity)
	return id
}

// vaultSecret extracts the per-request owner secret for key operations.
func vaultSecret(r *http.Request) ([]byte, bool) {
	secret := r.Header.Get(HeaderVaultSecret)
	if secret == "" {
		return nil, false
	}
	return []byte(secret), true
}
