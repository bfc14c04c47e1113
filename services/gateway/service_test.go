package gateway

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/perimeterlabs/token-gateway/config"
	"github.com/perimeterlabs/token-gateway/models"
	"github.com/perimeterlabs/token-gateway/services"
	"github.com/perimeterlabs/token-gateway/services/audit"
	"github.com/perimeterlabs/token-gateway/services/cache"
	"github.com/perimeterlabs/token-gateway/services/extension"
	"github.com/perimeterlabs/token-gateway/services/orchestrator"
	"github.com/perimeterlabs/token-gateway/services/ratelimit"
	"github.com/perimeterlabs/token-gateway/services/tokenstore"
	"github.com/perimeterlabs/token-gateway/services/validator"
)

// memTokenRepo is an in-memory token repository for end-to-end gateway tests
type memTokenRepo struct {
	mu     sync.Mutex
	tokens map[uuid.UUID]*models.Token
}

func newMemTokenRepo() *memTokenRepo {
	return &memTokenRepo{tokens: make(map[uuid.UUID]*models.Token)}
}

func (r *memTokenRepo) Insert(_ context.Context, token *models.Token) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *token
	r.tokens[token.ID] = &cp
	return nil
}

func (r *memTokenRepo) GetByHash(_ context.Context, tokenHash string) (*models.Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, token := range r.tokens {
		if token.TokenHash == tokenHash {
			cp := *token
			return &cp, nil
		}
	}
	return nil, services.ErrTokenNotFound
}

func (r *memTokenRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	token, ok := r.tokens[id]
	if !ok {
		return nil, services.ErrTokenNotFound
	}
	cp := *token
	return &cp, nil
}

func (r *memTokenRepo) Revoke(_ context.Context, id uuid.UUID, at time.Time) (*models.Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	token, ok := r.tokens[id]
	if !ok || token.RevokedAt != nil {
		return nil, services.ErrTokenNotFound
	}
	token.RevokedAt = &at
	cp := *token
	return &cp, nil
}

func (r *memTokenRepo) UpdateExpiry(_ context.Context, id uuid.UUID, newExpiry time.Time) (*models.Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	token, ok := r.tokens[id]
	if !ok || token.RevokedAt != nil {
		return nil, services.ErrTokenNotFound
	}
	token.ExpiresAt = newExpiry
	token.ExtensionCount++
	cp := *token
	return &cp, nil
}

// memTenantRepo serves a fixed tenant
type memTenantRepo struct {
	tenant *models.Tenant
}

func (r *memTenantRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Tenant, error) {
	if r.tenant != nil && r.tenant.ID == id {
		return r.tenant, nil
	}
	return nil, services.ErrTenantNotFound
}

// memAuditRepo records audit events for assertions
type memAuditRepo struct {
	mu     sync.Mutex
	events []*models.AuditEvent
}

func (r *memAuditRepo) Insert(_ context.Context, event *models.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *memAuditRepo) GetByTenantID(_ context.Context, _ uuid.UUID, _, _ int) ([]*models.AuditEvent, error) {
	return nil, nil
}

func (r *memAuditRepo) CountBySeverity(_ context.Context, _ models.AuditSeverity, _, _ time.Time) (int64, error) {
	return 0, nil
}

func (r *memAuditRepo) byOutcome(outcome models.AuditOutcome) []*models.AuditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.AuditEvent
	for _, e := range r.events {
		if e.Outcome == outcome {
			out = append(out, e)
		}
	}
	return out
}

type gatewayFixture struct {
	gateway   *Service
	auditor   *audit.Service
	auditRepo *memAuditRepo
	limiter   *ratelimit.Service
	tenantID  uuid.UUID
}

func newGatewayFixture(t *testing.T) *gatewayFixture {
	t.Helper()

	tokenRepo := newMemTokenRepo()
	auditRepo := &memAuditRepo{}
	tenantID := uuid.New()
	tenantRepo := &memTenantRepo{tenant: &models.Tenant{ID: tenantID, Name: "acme", IsolationBoundary: "cell-1", Active: true}}

	cfg := &config.Config{
		TokenSalt: "test-salt",
		Validation: config.ValidationConfig{
			FailSafeMode:    true,
			ParallelEnabled: true,
			Timeout:         time.Second,
			ServedBudget:    500 * time.Millisecond,
			StoreRetries:    1,
			StoreRetryDelay: time.Millisecond,
		},
		Caches: config.CachesConfig{
			Validation: config.CacheConfig{TTL: time.Minute, Capacity: 100},
			Tenant:     config.CacheConfig{TTL: time.Minute, Capacity: 100},
			Permission: config.CacheConfig{TTL: time.Minute, Capacity: 100},
		},
		RateLimit: config.RateLimitConfig{
			Window:   time.Hour,
			Standard: 1000,
			Elevated: 5000,
			Critical: 20000,
		},
		Extension: config.ExtensionConfig{
			Threshold: 15 * time.Minute,
			Increment: time.Hour,
			MaxCount:  3,
		},
		Audit: config.AuditConfig{
			BufferSize:      100,
			WorkerCount:     1,
			CriticalTimeout: 50 * time.Millisecond,
		},
	}

	logger := zap.NewNop()
	caches := cache.NewLayer(cfg.Caches, nil, logger)
	t.Cleanup(caches.Close)

	auditor := audit.NewService(auditRepo, cfg.Audit, logger)
	require.NoError(t, auditor.Start())
	t.Cleanup(func() { _ = auditor.Stop(time.Second) })

	limiter := ratelimit.NewService(cfg.RateLimit, logger)
	store := tokenstore.NewService(tokenRepo, caches, cfg, logger)
	exts := extension.NewManager(store, cfg.Extension, logger)

	enhanced := validator.New(store, caches, tenantRepo, limiter, cfg.RateLimit, logger)
	legacy := validator.NewLegacy(store, logger)
	orch := orchestrator.New(legacy, enhanced, auditor, cfg.Validation, logger)

	return &gatewayFixture{
		gateway:   NewService(orch, store, exts, limiter, auditor, logger),
		auditor:   auditor,
		auditRepo: auditRepo,
		limiter:   limiter,
		tenantID:  tenantID,
	}
}

// waitForEvents polls until cond reports true or the deadline passes
func waitForEvents(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	assert.Fail(t, msg)
}

func TestGatewayIssueAndValidate(t *testing.T) {
	f := newGatewayFixture(t)
	ctx := context.Background()

	issued, err := f.gateway.Issue(ctx, f.tenantID, []string{"read"}, time.Hour, "")
	require.NoError(t, err)

	result := f.gateway.Validate(ctx, &models.ValidationRequest{
		Token:         issued.Value,
		RequiredScope: "read",
		TenantHint:    f.tenantID,
		Endpoint:      "/api/v1/resource",
	})
	assert.True(t, result.Valid)

	waitForEvents(t, func() bool {
		return len(f.auditRepo.byOutcome(models.AuditOutcomeIssued)) == 1 &&
			len(f.auditRepo.byOutcome(models.AuditOutcomeValidated)) == 1
	}, "issue and validate events not persisted")
}

func TestGatewayCrossTenantEmitsOneSecurityEvent(t *testing.T) {
	f := newGatewayFixture(t)
	ctx := context.Background()

	issued, err := f.gateway.Issue(ctx, f.tenantID, []string{"read"}, time.Hour, "")
	require.NoError(t, err)

	result := f.gateway.Validate(ctx, &models.ValidationRequest{
		Token:         issued.Value,
		RequiredScope: "read",
		TenantHint:    uuid.New(),
		Endpoint:      "/api/v1/resource",
	})
	assert.False(t, result.Valid)
	assert.Equal(t, models.ReasonCrossTenant, result.Reason)

	waitForEvents(t, func() bool {
		return len(f.auditRepo.byOutcome(models.AuditOutcomeCrossTenant)) == 1
	}, "cross-tenant security event not persisted")

	events := f.auditRepo.byOutcome(models.AuditOutcomeCrossTenant)
	require.Len(t, events, 1, "exactly one security event per cross-tenant attempt")
	assert.Equal(t, models.SeveritySecurity, events[0].Severity)
}

func TestGatewayRevoke(t *testing.T) {
	f := newGatewayFixture(t)
	ctx := context.Background()

	issued, err := f.gateway.Issue(ctx, f.tenantID, []string{"read"}, time.Hour, "")
	require.NoError(t, err)

	require.NoError(t, f.gateway.Revoke(ctx, issued.TokenID))

	result := f.gateway.Validate(ctx, &models.ValidationRequest{
		Token:         issued.Value,
		RequiredScope: "read",
		TenantHint:    f.tenantID,
		Endpoint:      "/api/v1/resource",
	})
	assert.False(t, result.Valid)
	assert.Equal(t, models.ReasonInvalidToken, result.Reason)

	waitForEvents(t, func() bool {
		return len(f.auditRepo.byOutcome(models.AuditOutcomeRevoked)) == 1
	}, "revoke event not persisted")
}

func TestGatewayRevokeUnknownToken(t *testing.T) {
	f := newGatewayFixture(t)

	err := f.gateway.Revoke(context.Background(), uuid.New())
	assert.ErrorIs(t, err, services.ErrTokenNotFound)
}

func TestGatewayExplicitExtend(t *testing.T) {
	f := newGatewayFixture(t)
	ctx := context.Background()

	// Issue with ten minutes left so the token sits inside the renewal
	// window.
	issued, err := f.gateway.Issue(ctx, f.tenantID, []string{"read"}, 10*time.Minute, "")
	require.NoError(t, err)

	res, err := f.gateway.Extend(ctx, issued.TokenID, f.tenantID)
	require.NoError(t, err)
	assert.True(t, res.Extended)

	waitForEvents(t, func() bool {
		return len(f.auditRepo.byOutcome(models.AuditOutcomeExtended)) == 1
	}, "extend event not persisted")
}

func TestGatewayExtendCrossTenant(t *testing.T) {
	f := newGatewayFixture(t)
	ctx := context.Background()

	issued, err := f.gateway.Issue(ctx, f.tenantID, []string{"read"}, 10*time.Minute, "")
	require.NoError(t, err)

	_, err = f.gateway.Extend(ctx, issued.TokenID, uuid.New())
	assert.ErrorIs(t, err, services.ErrCrossTenant)
	assert.Empty(t, f.auditRepo.byOutcome(models.AuditOutcomeExtended))
}

func TestGatewayExternalize(t *testing.T) {
	f := newGatewayFixture(t)

	ext := f.gateway.Externalize(models.Failure(models.ReasonCrossTenant, models.PathEnhanced))
	assert.Equal(t, "Resource not found", ext.Message)
}

func TestGatewayValidateTriggersTransparentRenewal(t *testing.T) {
	f := newGatewayFixture(t)
	ctx := context.Background()

	// Ten minutes of TTL puts the token inside the fifteen-minute renewal
	// window, so a successful validation renews it off the request path.
	issued, err := f.gateway.Issue(ctx, f.tenantID, []string{"read"}, 10*time.Minute, "")
	require.NoError(t, err)

	result := f.gateway.Validate(ctx, &models.ValidationRequest{
		Token:         issued.Value,
		RequiredScope: "read",
		TenantHint:    f.tenantID,
		Endpoint:      "/api/v1/resource",
	})
	require.True(t, result.Valid)

	waitForEvents(t, func() bool {
		return len(f.auditRepo.byOutcome(models.AuditOutcomeExtended)) == 1
	}, "transparent renewal event not persisted")

	extended, err := f.gateway.Extend(ctx, issued.TokenID, f.tenantID)
	require.NoError(t, err)
	// The renewal already moved expiry past the window; a second explicit
	// extension is a noop.
	assert.False(t, extended.Extended)
	assert.Equal(t, 1, extendedCount(t, f, issued.TokenID))
}

func extendedCount(t *testing.T, f *gatewayFixture, tokenID uuid.UUID) int {
	t.Helper()
	f.auditRepo.mu.Lock()
	defer f.auditRepo.mu.Unlock()
	n := 0
	for _, e := range f.auditRepo.events {
		if e.Outcome == models.AuditOutcomeExtended && e.TokenID != nil && *e.TokenID == tokenID {
			n++
		}
	}
	return n
}

func TestGatewayValidateOutsideWindowDoesNotRenew(t *testing.T) {
	f := newGatewayFixture(t)
	ctx := context.Background()

	issued, err := f.gateway.Issue(ctx, f.tenantID, []string{"read"}, time.Hour, "")
	require.NoError(t, err)

	result := f.gateway.Validate(ctx, &models.ValidationRequest{
		Token:         issued.Value,
		RequiredScope: "read",
		TenantHint:    f.tenantID,
		Endpoint:      "/api/v1/resource",
	})
	require.True(t, result.Valid)

	waitForEvents(t, func() bool {
		return len(f.auditRepo.byOutcome(models.AuditOutcomeValidated)) == 1
	}, "validate event not persisted")
	assert.Empty(t, f.auditRepo.byOutcome(models.AuditOutcomeExtended))
}
