package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuditOutcome represents the decision being audited
type AuditOutcome string

const (
	AuditOutcomeValidated      AuditOutcome = "validated"
	AuditOutcomeRejected       AuditOutcome = "rejected"
	AuditOutcomeCrossTenant    AuditOutcome = "cross_tenant_attempt"
	AuditOutcomeDiscrepancy    AuditOutcome = "discrepancy"
	AuditOutcomeExtended       AuditOutcome = "extended"
	AuditOutcomeRevoked        AuditOutcome = "revoked"
	AuditOutcomeIssued         AuditOutcome = "issued"
	AuditOutcomeTimeout        AuditOutcome = "timeout"
)

// AuditSeverity ranks events for the logger's backpressure policy. Security
// events are never dropped; info events may be shed under sustained overload.
type AuditSeverity string

const (
	SeverityInfo     AuditSeverity = "info"
	SeveritySecurity AuditSeverity = "security"
)

// AuditEvent is an immutable record of a gateway decision
type AuditEvent struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
	TokenID   *uuid.UUID      `json:"token_id,omitempty" db:"token_id"`
	TenantID  *uuid.UUID      `json:"tenant_id,omitempty" db:"tenant_id"`
	Endpoint  string          `json:"endpoint" db:"endpoint"`
	Outcome   AuditOutcome    `json:"outcome" db:"outcome"`
	Severity  AuditSeverity   `json:"severity" db:"severity"`
	Reason    FailureReason   `json:"reason,omitempty" db:"reason"`
	Path      ValidationPath  `json:"path,omitempty" db:"path"`
	LatencyMs int64           `json:"latency_ms" db:"latency_ms"`
	Details   json.RawMessage `json:"details,omitempty" db:"details"`
}

// TableName returns the table name for the AuditEvent model
func (AuditEvent) TableName() string {
	return "audit_events"
}

// NewAuditEvent creates a new AuditEvent instance
func NewAuditEvent(outcome AuditOutcome, endpoint string) *AuditEvent {
	return &AuditEvent{
		ID:        uuid.New(),
		Timestamp: time.Now().UTC(),
		Endpoint:  endpoint,
		Outcome:   outcome,
		Severity:  SeverityInfo,
	}
}

// WithToken sets the token ID
func (e *AuditEvent) WithToken(tokenID uuid.UUID) *AuditEvent {
	e.TokenID = &tokenID
	return e
}

// WithTenant sets the tenant ID
func (e *AuditEvent) WithTenant(tenantID uuid.UUID) *AuditEvent {
	e.TenantID = &tenantID
	return e
}

// WithPath records which decision path produced the event
func (e *AuditEvent) WithPath(path ValidationPath) *AuditEvent {
	e.Path = path
	return e
}

// WithLatency records the decision latency
func (e *AuditEvent) WithLatency(d time.Duration) *AuditEvent {
	e.LatencyMs = d.Milliseconds()
	return e
}

// WithReason records the failure reason
func (e *AuditEvent) WithReason(reason FailureReason) *AuditEvent {
	e.Reason = reason
	return e
}

// AsSecurity marks the event security-critical. Security events survive
// backpressure in the audit queue.
func (e *AuditEvent) AsSecurity() *AuditEvent {
	e.Severity = SeveritySecurity
	return e
}

// WithDetails attaches structured details
func (e *AuditEvent) WithDetails(details interface{}) *AuditEvent {
	if data, err := json.Marshal(details); err == nil {
		e.Details = data
	}
	return e
}

// IsSecurityCritical reports whether the event must never be dropped
func (e *AuditEvent) IsSecurityCritical() bool {
	return e.Severity == SeveritySecurity
}
