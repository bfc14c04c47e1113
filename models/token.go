package models

import (
	"time"

	"github.com/google/uuid"
)

// SecurityLevel classifies a token's trust tier. It selects the rate-limit
// tier applied to the token and drives elevated logging thresholds.
type SecurityLevel string

const (
	SecurityLevelStandard SecurityLevel = "standard"
	SecurityLevelElevated SecurityLevel = "elevated"
	SecurityLevelCritical SecurityLevel = "critical"
)

// Token is the stored metadata for an issued credential. The plaintext value
// is never persisted; only the salted hash is retained after issuance.
type Token struct {
	ID             uuid.UUID     `json:"id" db:"id"`
	TenantID       uuid.UUID     `json:"tenant_id" db:"tenant_id"`
	TokenHash      string        `json:"-" db:"token_hash"`
	Salt           string        `json:"-" db:"salt"`
	Scopes         []string      `json:"scopes" db:"scopes"`
	IssuedAt       time.Time     `json:"issued_at" db:"issued_at"`
	ExpiresAt      time.Time     `json:"expires_at" db:"expires_at"`
	SecurityLevel  SecurityLevel `json:"security_level" db:"security_level"`
	RateLimitTier  string        `json:"rate_limit_tier" db:"rate_limit_tier"`
	ExtensionCount int           `json:"extension_count" db:"extension_count"`
	RevokedAt      *time.Time    `json:"revoked_at,omitempty" db:"revoked_at"`
}

// TableName returns the table name for the Token model
func (Token) TableName() string {
	return "tokens"
}

// NewToken creates a new Token instance bound to a single tenant
func NewToken(tenantID uuid.UUID, scopes []string, ttl time.Duration) *Token {
	now := time.Now().UTC()
	return &Token{
		ID:            uuid.New(),
		TenantID:      tenantID,
		Scopes:        append([]string(nil), scopes...),
		IssuedAt:      now,
		ExpiresAt:     now.Add(ttl),
		SecurityLevel: SecurityLevelStandard,
		RateLimitTier: string(SecurityLevelStandard),
	}
}

// IsExpired reports whether the token has passed its expiry. All comparisons
// use UTC.
func (t *Token) IsExpired(now time.Time) bool {
	return now.UTC().After(t.ExpiresAt.UTC())
}

// IsRevoked reports whether the token has been explicitly revoked
func (t *Token) IsRevoked() bool {
	return t.RevokedAt != nil
}

// HasScope reports whether the token carries the named scope
func (t *Token) HasScope(scope string) bool {
	for _, s := range t.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// RemainingTTL returns the time left until expiry, never negative
func (t *Token) RemainingTTL(now time.Time) time.Duration {
	remaining := t.ExpiresAt.Sub(now.UTC())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Tenant holds the metadata cached for an isolation boundary. Tenant CRUD is
// owned elsewhere; the gateway only reads this record to confirm the boundary
// a token is bound to.
type Tenant struct {
	ID               uuid.UUID `json:"id" db:"id"`
	Name             string    `json:"name" db:"name"`
	IsolationBoundary string   `json:"isolation_boundary" db:"isolation_boundary"`
	Active           bool      `json:"active" db:"active"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
}

// TableName returns the table name for the Tenant model
func (Tenant) TableName() string {
	return "tenants"
}

// TenantContext identifies the isolation boundary a validation decision was
// made within. No ValidationResult may carry a tenant other than the token's
// bound tenant.
type TenantContext struct {
	TenantID          uuid.UUID `json:"tenant_id"`
	IsolationBoundary string    `json:"isolation_boundary"`
}
