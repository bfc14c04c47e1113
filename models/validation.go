package models

import (
	"time"

	"github.com/google/uuid"
)

// FailureReason is the closed set of validation outcomes. The reasons are
// mutually exclusive; the validator applies its checks in a fixed order so
// that each request maps to exactly one reason.
type FailureReason string

const (
	ReasonNone              FailureReason = ""
	ReasonInvalidToken      FailureReason = "invalid_token"
	ReasonExpiredToken      FailureReason = "expired_token"
	ReasonCrossTenant       FailureReason = "cross_tenant"
	ReasonInsufficientScope FailureReason = "insufficient_scope"
	ReasonRateLimitExceeded FailureReason = "rate_limit_exceeded"
	ReasonTimeout           FailureReason = "validation_timeout"
	ReasonStoreUnavailable  FailureReason = "store_unavailable"
)

// ValidationPath identifies which decision path produced a result
type ValidationPath string

const (
	PathLegacy   ValidationPath = "legacy"
	PathEnhanced ValidationPath = "enhanced"
)

// ValidationRequest carries the request signals the validator adjudicates
type ValidationRequest struct {
	Token         string
	RequiredScope string
	TenantHint    uuid.UUID
	ClientIP      string
	UserAgent     string
	Endpoint      string
}

// ValidationResult is the outcome of adjudicating a single credential
type ValidationResult struct {
	Valid              bool           `json:"valid"`
	TokenID            uuid.UUID      `json:"token_id,omitempty"`
	Tenant             TenantContext  `json:"tenant,omitempty"`
	GrantedScopes      []string       `json:"granted_scopes,omitempty"`
	RateLimitRemaining int            `json:"rate_limit_remaining"`
	RiskScore          float64        `json:"risk_score"`
	Reason             FailureReason  `json:"reason,omitempty"`
	Path               ValidationPath `json:"path"`
	LatencyMs          int64          `json:"latency_ms"`

	// RateLimitTier and TokenExpiresAt ride along in cached entries so hits
	// can be re-adjudicated without a store lookup. Not part of the caller
	// contract.
	RateLimitTier  string    `json:"rate_limit_tier,omitempty"`
	TokenExpiresAt time.Time `json:"token_expires_at,omitempty"`
}

// Failure constructs a failed result for the given reason
func Failure(reason FailureReason, path ValidationPath) *ValidationResult {
	return &ValidationResult{Valid: false, Reason: reason, Path: path}
}

// SameOutcome reports whether two results agree on validity and, when both
// failed, on the failure reason. Used for shadow-mode discrepancy detection.
func (r *ValidationResult) SameOutcome(other *ValidationResult) bool {
	if r == nil || other == nil {
		return false
	}
	if r.Valid != other.Valid {
		return false
	}
	if !r.Valid {
		return r.Reason == other.Reason
	}
	return true
}

// IssuedToken is returned once at issuance. Value is the only copy of the
// plaintext credential the system ever exposes.
type IssuedToken struct {
	Value     string    `json:"token"`
	TokenID   uuid.UUID `json:"token_id"`
	ExpiresAt time.Time `json:"expires_at"`
}
