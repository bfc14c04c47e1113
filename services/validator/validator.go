package validator

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/perimeterlabs/token-gateway/config"
	"github.com/perimeterlabs/token-gateway/models"
	"github.com/perimeterlabs/token-gateway/repositories"
	"github.com/perimeterlabs/token-gateway/services"
	"github.com/perimeterlabs/token-gateway/services/cache"
	"github.com/perimeterlabs/token-gateway/services/ratelimit"
	"github.com/perimeterlabs/token-gateway/services/risk"
	"github.com/perimeterlabs/token-gateway/services/tokenstore"
)

// Validator is the enhanced decision engine. Checks run in a fixed order so
// the outcomes stay mutually exclusive: existence, tenant binding, expiry,
// scope, rate limit. A cross-tenant attempt is classified as such before any
// other condition is considered, including expiry.
type Validator struct {
	store   *tokenstore.Service
	caches  *cache.Layer
	tenants repositories.TenantRepository
	limiter *ratelimit.Service
	window  time.Duration
	logger  *zap.Logger
}

// New creates a new enhanced Validator
func New(store *tokenstore.Service, caches *cache.Layer, tenants repositories.TenantRepository, limiter *ratelimit.Service, cfg config.RateLimitConfig, logger *zap.Logger) *Validator {
	return &Validator{
		store:   store,
		caches:  caches,
		tenants: tenants,
		limiter: limiter,
		window:  cfg.Window,
		logger:  logger,
	}
}

// Validate adjudicates a single request on the enhanced path
func (v *Validator) Validate(ctx context.Context, req *models.ValidationRequest) *models.ValidationResult {
	start := time.Now()
	result := v.validate(ctx, req)
	result.Path = models.PathEnhanced
	result.LatencyMs = time.Since(start).Milliseconds()
	return result
}

func (v *Validator) validate(ctx context.Context, req *models.ValidationRequest) *models.ValidationResult {
	if req.Token == "" {
		return models.Failure(models.ReasonInvalidToken, models.PathEnhanced)
	}

	tokenHash := v.store.HashToken(req.Token)

	// Probe the result cache. Rate limiting and risk scoring still run per
	// request; only the store lookup and static checks are short-circuited.
	if cached, ok := v.caches.GetResult(ctx, tokenHash, req.RequiredScope); ok {
		if res := v.fromCache(ctx, cached, req); res != nil {
			return res
		}
	}

	token, err := v.store.Lookup(ctx, tokenHash)
	if err != nil {
		return v.classifyLookupError(err)
	}

	if token.IsRevoked() {
		return models.Failure(models.ReasonInvalidToken, models.PathEnhanced)
	}

	// Tenant binding is checked before expiry so a cross-tenant attempt is
	// always classified as one, whatever else is wrong with the token.
	if req.TenantHint != token.TenantID {
		return models.Failure(models.ReasonCrossTenant, models.PathEnhanced)
	}

	if token.IsExpired(time.Now()) {
		return models.Failure(models.ReasonExpiredToken, models.PathEnhanced)
	}

	granted := v.grantedScopes(token, tokenHash)
	if !contains(granted, req.RequiredScope) {
		return models.Failure(models.ReasonInsufficientScope, models.PathEnhanced)
	}

	limit := v.limiter.Allow(token.ID, token.RateLimitTier)
	if !limit.Allowed {
		failure := models.Failure(models.ReasonRateLimitExceeded, models.PathEnhanced)
		failure.TokenID = token.ID
		return failure
	}

	tenant := v.tenantContext(ctx, token.TenantID)
	score := v.scoreRequest(token, req, limit)

	result := &models.ValidationResult{
		Valid:              true,
		TokenID:            token.ID,
		Tenant:             tenant,
		GrantedScopes:      granted,
		RateLimitRemaining: limit.Remaining,
		RiskScore:          score,
		RateLimitTier:      token.RateLimitTier,
		TokenExpiresAt:     token.ExpiresAt,
	}

	// Only valid decisions are cached; failures are re-adjudicated. A copy
	// is published so the cached entry stays immutable while the served
	// result is annotated with path and latency.
	entry := *result
	v.caches.SetResult(ctx, tokenHash, req.RequiredScope, &entry)

	if risk.Elevated(score) {
		v.logger.Warn("elevated risk score on valid token",
			zap.String("token_id", token.ID.String()),
			zap.Float64("risk_score", score),
			zap.String("endpoint", req.Endpoint))
	}

	return result
}

// fromCache re-adjudicates the per-request checks against a cached decision.
// Returns nil when the entry is stale and the store must be consulted.
func (v *Validator) fromCache(ctx context.Context, cached *models.ValidationResult, req *models.ValidationRequest) *models.ValidationResult {
	// Entries written before the token's natural expiry can outlive it.
	if !cached.TokenExpiresAt.IsZero() && time.Now().After(cached.TokenExpiresAt) {
		return nil
	}

	// The cache key does not include the tenant hint; the binding check
	// still applies on every hit.
	if req.TenantHint != cached.Tenant.TenantID {
		return models.Failure(models.ReasonCrossTenant, models.PathEnhanced)
	}

	limit := v.limiter.Allow(cached.TokenID, cachedTier(cached))
	if !limit.Allowed {
		failure := models.Failure(models.ReasonRateLimitExceeded, models.PathEnhanced)
		failure.TokenID = cached.TokenID
		return failure
	}

	result := *cached
	result.RateLimitRemaining = limit.Remaining
	result.RiskScore = risk.Score(risk.Signals{
		ClientIP:    req.ClientIP,
		UserAgent:   req.UserAgent,
		RequestRate: v.requestRate(limit),
	})
	return &result
}

// cachedTier recovers the rate tier from a cached result, defaulting to the
// conservative standard tier.
func cachedTier(cached *models.ValidationResult) string {
	if cached.RateLimitTier != "" {
		return cached.RateLimitTier
	}
	return string(models.SecurityLevelStandard)
}

func (v *Validator) classifyLookupError(err error) *models.ValidationResult {
	switch {
	case errors.Is(err, services.ErrTokenNotFound):
		return models.Failure(models.ReasonInvalidToken, models.PathEnhanced)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return models.Failure(models.ReasonTimeout, models.PathEnhanced)
	case services.IsStoreUnavailableError(err):
		return models.Failure(models.ReasonStoreUnavailable, models.PathEnhanced)
	default:
		v.logger.Error("unexpected token lookup failure", zap.Error(err))
		return models.Failure(models.ReasonStoreUnavailable, models.PathEnhanced)
	}
}

// grantedScopes resolves the token's permission set through the permission
// cache
func (v *Validator) grantedScopes(token *models.Token, tokenHash string) []string {
	if granted, ok := v.caches.GetPermissions(tokenHash, token.Scopes); ok {
		return granted
	}
	granted := append([]string(nil), token.Scopes...)
	v.caches.SetPermissions(tokenHash, token.Scopes, granted)
	return granted
}

// tenantContext resolves the isolation boundary, cache first
func (v *Validator) tenantContext(ctx context.Context, tenantID uuid.UUID) models.TenantContext {
	if tenant, ok := v.caches.GetTenant(tenantID); ok {
		return models.TenantContext{TenantID: tenant.ID, IsolationBoundary: tenant.IsolationBoundary}
	}

	tenant, err := v.tenants.GetByID(ctx, tenantID)
	if err != nil {
		// The token's binding is authoritative; missing metadata only costs
		// the boundary marker.
		v.logger.Warn("tenant metadata lookup failed",
			zap.String("tenant_id", tenantID.String()),
			zap.Error(err))
		return models.TenantContext{TenantID: tenantID}
	}

	v.caches.SetTenant(tenant)
	return models.TenantContext{TenantID: tenant.ID, IsolationBoundary: tenant.IsolationBoundary}
}

func (v *Validator) scoreRequest(token *models.Token, req *models.ValidationRequest, limit ratelimit.Result) float64 {
	return risk.Score(risk.Signals{
		ClientIP:    req.ClientIP,
		UserAgent:   req.UserAgent,
		RequestRate: v.requestRate(limit),
	})
}

// requestRate converts window usage into a requests/minute signal
func (v *Validator) requestRate(limit ratelimit.Result) float64 {
	if v.window <= 0 {
		return 0
	}
	return float64(limit.Used) / v.window.Minutes()
}

func contains(scopes []string, scope string) bool {
	for _, s := range scopes {
		if s == scope {
			return true
		}
	}
	return false
}
