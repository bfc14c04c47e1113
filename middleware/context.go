package middleware

import (
	"context"

	"github.com/google/uuid"
)

// Context key type to avoid collisions
type contextKey string

const (
	// BearerTokenKey is the context key for the presented credential
	BearerTokenKey contextKey = "bearer_token"

	// TenantIDKey is the context key for the caller's expected tenant
	TenantIDKey contextKey = "tenant_id"
)

// GetBearerToken retrieves the presented credential from context
func GetBearerToken(ctx context.Context) string {
	if val := ctx.Value(BearerTokenKey); val != nil {
		if token, ok := val.(string); ok {
			return token
		}
	}
	return ""
}

// WithBearerToken adds the presented credential to the context
func WithBearerToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, BearerTokenKey, token)
}

// GetTenantID retrieves the expected tenant from context
func GetTenantID(ctx context.Context) (uuid.UUID, bool) {
	if val := ctx.Value(TenantIDKey); val != nil {
		if id, ok := val.(uuid.UUID); ok {
			return id, true
		}
	}
	return uuid.Nil, false
}

// WithTenantID adds the expected tenant to the context
func WithTenantID(ctx context.Context, tenantID uuid.UUID) context.Context {
	return context.WithValue(ctx, TenantIDKey, tenantID)
}
