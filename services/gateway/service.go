package gateway

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/perimeterlabs/token-gateway/models"
	"github.com/perimeterlabs/token-gateway/services/audit"
	"github.com/perimeterlabs/token-gateway/services/extension"
	"github.com/perimeterlabs/token-gateway/services/orchestrator"
	"github.com/perimeterlabs/token-gateway/services/ratelimit"
	"github.com/perimeterlabs/token-gateway/services/tokenstore"
	"github.com/perimeterlabs/token-gateway/services/translator"
)

// Service is the gateway facade. It ties the decision orchestrator,
// transparent renewal, rate limiting, and the audit trail together behind
// four operations: Validate, Issue, Extend, Revoke.
type Service struct {
	orch    *orchestrator.Orchestrator
	store   *tokenstore.Service
	exts    *extension.Manager
	limiter *ratelimit.Service
	auditor *audit.Service
	logger  *zap.Logger
}

// NewService creates the gateway facade
func NewService(orch *orchestrator.Orchestrator, store *tokenstore.Service, exts *extension.Manager, limiter *ratelimit.Service, auditor *audit.Service, logger *zap.Logger) *Service {
	return &Service{
		orch:    orch,
		store:   store,
		exts:    exts,
		limiter: limiter,
		auditor: auditor,
		logger:  logger,
	}
}

// Validate adjudicates a presented credential. Every decision leaves an
// audit record; a cross-tenant attempt leaves exactly one security-severity
// record. Valid tokens near expiry are renewed transparently off the
// request path.
func (s *Service) Validate(ctx context.Context, req *models.ValidationRequest) *models.ValidationResult {
	result := s.orch.Validate(ctx, req)

	event := auditEventFor(result, req)
	if err := s.auditor.Record(ctx, event); err != nil {
		s.logger.Error("failed to record validation event", zap.Error(err))
	}

	if result.Valid && s.exts.WithinWindow(result.TokenExpiresAt, time.Now().UTC()) {
		go s.renew(result.TokenID, result.Tenant.TenantID, req.Endpoint)
	}

	return result
}

// auditEventFor maps a validation result to its audit record. Cross-tenant
// attempts are the only validation failures escalated to security severity.
func auditEventFor(result *models.ValidationResult, req *models.ValidationRequest) *models.AuditEvent {
	var event *models.AuditEvent
	switch {
	case result.Valid:
		event = models.NewAuditEvent(models.AuditOutcomeValidated, req.Endpoint)
	case result.Reason == models.ReasonCrossTenant:
		event = models.NewAuditEvent(models.AuditOutcomeCrossTenant, req.Endpoint).
			AsSecurity().
			WithDetails(map[string]interface{}{
				"tenant_hint": req.TenantHint,
				"client_ip":   req.ClientIP,
			})
	case result.Reason == models.ReasonTimeout:
		event = models.NewAuditEvent(models.AuditOutcomeTimeout, req.Endpoint)
	default:
		event = models.NewAuditEvent(models.AuditOutcomeRejected, req.Endpoint).
			WithReason(result.Reason)
	}

	event.WithPath(result.Path).WithLatency(time.Duration(result.LatencyMs) * time.Millisecond)
	if result.TokenID != uuid.Nil {
		event.WithToken(result.TokenID)
	}
	if result.Tenant.TenantID != uuid.Nil {
		event.WithTenant(result.Tenant.TenantID)
	}
	return event
}

// renew extends a token that passed validation inside the renewal window.
// Runs detached from the request; a refused or raced extension is not an
// error for the caller.
func (s *Service) renew(tokenID, tenantID uuid.UUID, endpoint string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := s.exts.Extend(ctx, tokenID, tenantID)
	if err != nil {
		s.logger.Debug("transparent renewal skipped",
			zap.String("token_id", tokenID.String()),
			zap.Error(err))
		return
	}
	if !res.Extended {
		return
	}

	event := models.NewAuditEvent(models.AuditOutcomeExtended, endpoint).
		WithToken(tokenID).
		WithTenant(tenantID).
		WithDetails(map[string]interface{}{
			"new_expires_at":  res.NewExpiresAt,
			"extension_count": res.Count,
		})
	if err := s.auditor.Record(ctx, event); err != nil {
		s.logger.Error("failed to record extension event", zap.Error(err))
	}
}

// Issue creates a single-tenant token and audits the issuance
func (s *Service) Issue(ctx context.Context, tenantID uuid.UUID, scopes []string, ttl time.Duration, level models.SecurityLevel) (*models.IssuedToken, error) {
	issued, err := s.store.Issue(ctx, tenantID, scopes, ttl, level)
	if err != nil {
		return nil, err
	}

	event := models.NewAuditEvent(models.AuditOutcomeIssued, "tokens.issue").
		WithToken(issued.TokenID).
		WithTenant(tenantID).
		WithDetails(map[string]interface{}{
			"scopes":     scopes,
			"expires_at": issued.ExpiresAt,
		})
	if err := s.auditor.Record(ctx, event); err != nil {
		s.logger.Error("failed to record issuance event", zap.Error(err))
	}

	return issued, nil
}

// Extend renews a token on explicit request, enforcing the tenant binding
func (s *Service) Extend(ctx context.Context, tokenID, tenantID uuid.UUID) (*extension.Result, error) {
	res, err := s.exts.Extend(ctx, tokenID, tenantID)
	if err != nil {
		return nil, err
	}

	if res.Extended {
		event := models.NewAuditEvent(models.AuditOutcomeExtended, "tokens.extend").
			WithToken(tokenID).
			WithTenant(tenantID).
			WithDetails(map[string]interface{}{
				"new_expires_at":  res.NewExpiresAt,
				"extension_count": res.Count,
			})
		if recErr := s.auditor.Record(ctx, event); recErr != nil {
			s.logger.Error("failed to record extension event", zap.Error(recErr))
		}
	}

	return res, nil
}

// Revoke invalidates a token immediately. Cached validations are purged and
// the token's rate-limit state is released before the call returns.
func (s *Service) Revoke(ctx context.Context, tokenID uuid.UUID) error {
	if err := s.store.Revoke(ctx, tokenID); err != nil {
		return err
	}

	s.limiter.Forget(tokenID)

	event := models.NewAuditEvent(models.AuditOutcomeRevoked, "tokens.revoke").
		WithToken(tokenID)
	if err := s.auditor.Record(ctx, event); err != nil {
		s.logger.Error("failed to record revocation event", zap.Error(err))
	}

	return nil
}

// Externalize converts a failed validation into the caller-safe error shape.
// Internal identifiers never cross this boundary.
func (s *Service) Externalize(result *models.ValidationResult) translator.ExternalError {
	return translator.Translate(result.Reason)
}
