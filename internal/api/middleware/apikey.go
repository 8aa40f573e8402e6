package middleware

import (
	"context"
	"net/http"

	"github.com/outboundly/campaigns/internal/apikey"
	"github.com/outboundly/campaigns/internal/store"
)

type tenantContextKey string

const tenantIDKey tenantContextKey = "tenant_id"

// KeyResolver looks up the tenant owning an API key by its fingerprint;
// *store.APIKeyStore satisfies it.
type KeyResolver interface {
	GetByFingerprint(ctx context.Context, fingerprint string) (*store.APIKeyRecord, error)
}

// RequireAPIKey validates the X-API-Key header against resolver and, on
// success, stores the resolved tenantId in the request context for
// handlers to scope their operations to.
func RequireAPIKey(resolver KeyResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get("X-API-Key")
			if raw == "" {
				writeAuthError(w, http.StatusUnauthorized, "missing api key")
				return
			}

			rec, err := resolver.GetByFingerprint(r.Context(), apikey.Fingerprint(raw))
			if err != nil {
				writeAuthError(w, http.StatusUnauthorized, "invalid api key")
				return
			}

			ok, err := apikey.Verify(raw, rec.Hash)
			if err != nil || !ok {
				writeAuthError(w, http.StatusUnauthorized, "invalid api key")
				return
			}

			ctx := context.WithValue(r.Context(), tenantIDKey, rec.TenantID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// TenantIDFromContext retrieves the tenantId resolved by RequireAPIKey.
func TenantIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(tenantIDKey).(string)
	return id
}
