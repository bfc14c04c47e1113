package validator

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/perimeterlabs/token-gateway/models"
	"github.com/perimeterlabs/token-gateway/services"
	"github.com/perimeterlabs/token-gateway/services/tokenstore"
)

// Legacy mirrors the pre-gateway production decision path: a direct store
// lookup with existence, tenant, expiry, and scope checks. No caching, no
// rate limiting, no risk scoring. It stays byte-for-byte predictable while
// the enhanced path shadows it.
type Legacy struct {
	store  *tokenstore.Service
	logger *zap.Logger
}

// NewLegacy creates the legacy validator
func NewLegacy(store *tokenstore.Service, logger *zap.Logger) *Legacy {
	return &Legacy{store: store, logger: logger}
}

// Validate adjudicates a single request on the legacy path
func (l *Legacy) Validate(ctx context.Context, req *models.ValidationRequest) *models.ValidationResult {
	start := time.Now()
	result := l.validate(ctx, req)
	result.Path = models.PathLegacy
	result.LatencyMs = time.Since(start).Milliseconds()
	return result
}

func (l *Legacy) validate(ctx context.Context, req *models.ValidationRequest) *models.ValidationResult {
	if req.Token == "" {
		return models.Failure(models.ReasonInvalidToken, models.PathLegacy)
	}

	token, err := l.store.Lookup(ctx, l.store.HashToken(req.Token))
	if err != nil {
		switch {
		case errors.Is(err, services.ErrTokenNotFound):
			return models.Failure(models.ReasonInvalidToken, models.PathLegacy)
		case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
			return models.Failure(models.ReasonTimeout, models.PathLegacy)
		default:
			l.logger.Error("legacy path lookup failure", zap.Error(err))
			return models.Failure(models.ReasonStoreUnavailable, models.PathLegacy)
		}
	}

	if token.IsRevoked() {
		return models.Failure(models.ReasonInvalidToken, models.PathLegacy)
	}

	if req.TenantHint != token.TenantID {
		return models.Failure(models.ReasonCrossTenant, models.PathLegacy)
	}

	if token.IsExpired(time.Now()) {
		return models.Failure(models.ReasonExpiredToken, models.PathLegacy)
	}

	if !token.HasScope(req.RequiredScope) {
		return models.Failure(models.ReasonInsufficientScope, models.PathLegacy)
	}

	return &models.ValidationResult{
		Valid:          true,
		TokenID:        token.ID,
		Tenant:         models.TenantContext{TenantID: token.TenantID},
		GrantedScopes:  append([]string(nil), token.Scopes...),
		TokenExpiresAt: token.ExpiresAt,
	}
}
