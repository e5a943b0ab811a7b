package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/sievedata/sieve/internal/api"
)

type contextKey string

const TenantIDKey contextKey = "tenant_id"

// TenantHeader carries the tenant id resolved by the upstream auth gateway.
const TenantHeader = "X-Tenant-ID"

// RequireTenant extracts the tenant id from the gateway header. Requests
// without a tenant are refused, never defaulted.
func RequireTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID := strings.TrimSpace(r.Header.Get(TenantHeader))
		if tenantID == "" {
			api.Error(w, http.StatusUnauthorized, "missing tenant header")
			return
		}

		ctx := context.WithValue(r.Context(), TenantIDKey, tenantID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetTenantID returns the tenant id from context.
func GetTenantID(ctx context.Context) string {
	tenantID, _ := ctx.Value(TenantIDKey).(string)
	return tenantID
}
