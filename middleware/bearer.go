package middleware

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// TenantHeader carries the caller's expected tenant on validation requests
const TenantHeader = "X-Tenant-ID"

// ExtractBearer pulls the Authorization bearer credential and the expected
// tenant header into the request context. Extraction only; adjudication
// happens in the validation service, so requests without either still pass
// through and fail there with the right reason.
func ExtractBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if auth := r.Header.Get("Authorization"); auth != "" {
			parts := strings.SplitN(auth, " ", 2)
			if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
				ctx = WithBearerToken(ctx, strings.TrimSpace(parts[1]))
			}
		}

		if raw := r.Header.Get(TenantHeader); raw != "" {
			if tenantID, err := uuid.Parse(raw); err == nil {
				ctx = WithTenantID(ctx, tenantID)
			}
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
