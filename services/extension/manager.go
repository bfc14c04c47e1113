package extension

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/perimeterlabs/token-gateway/config"
	"github.com/perimeterlabs/token-gateway/models"
	"github.com/perimeterlabs/token-gateway/services"
	"github.com/perimeterlabs/token-gateway/services/tokenstore"
)

// Manager handles transparent token renewal. A token close to expiry gets its
// expiry pushed forward without changing scopes or tenant binding. Tokens
// already past expiry are never renewed; the caller must re-authenticate.
type Manager struct {
	store     *tokenstore.Service
	threshold time.Duration
	increment time.Duration
	maxCount  int
	logger    *zap.Logger
}

// Result describes the outcome of an extension attempt
type Result struct {
	Extended     bool      `json:"extended"`
	NewExpiresAt time.Time `json:"new_expires_at,omitempty"`
	Count        int       `json:"extension_count"`
}

// NewManager creates a new extension manager
func NewManager(store *tokenstore.Service, cfg config.ExtensionConfig, logger *zap.Logger) *Manager {
	return &Manager{
		store:     store,
		threshold: cfg.Threshold,
		increment: cfg.Increment,
		maxCount:  cfg.MaxCount,
		logger:    logger,
	}
}

// Eligible reports whether a token qualifies for renewal right now: still
// live, inside the renewal window, and under the extension ceiling.
func (m *Manager) Eligible(token *models.Token, now time.Time) bool {
	if token.IsRevoked() || token.IsExpired(now) {
		return false
	}
	if token.ExtensionCount >= m.maxCount {
		return false
	}
	return token.RemainingTTL(now) < m.threshold
}

// WithinWindow reports whether an expiry timestamp falls inside the renewal
// window. Cheap pre-check for callers that only hold the expiry, not the
// full record; Extend re-checks everything authoritatively.
func (m *Manager) WithinWindow(expiresAt time.Time, now time.Time) bool {
	return now.Before(expiresAt) && expiresAt.Sub(now) < m.threshold
}

// Extend renews the token identified by id for the given tenant. The tenant
// binding is re-checked here so an extension request can never operate on
// another tenant's token.
func (m *Manager) Extend(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) (*Result, error) {
	token, err := m.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if token.TenantID != tenantID {
		return nil, services.ErrCrossTenant
	}

	now := time.Now().UTC()
	if token.IsRevoked() {
		return nil, services.ErrTokenRevoked
	}
	if token.IsExpired(now) {
		return nil, services.ErrTokenExpired
	}
	if token.ExtensionCount >= m.maxCount {
		return nil, services.ErrExtensionRefused.
			WithDetail("extension_count", token.ExtensionCount).
			WithDetail("max_count", m.maxCount)
	}
	if token.RemainingTTL(now) >= m.threshold {
		// Outside the renewal window; nothing to do.
		return &Result{Extended: false, NewExpiresAt: token.ExpiresAt, Count: token.ExtensionCount}, nil
	}

	updated, err := m.store.UpdateExpiry(ctx, id, now.Add(m.increment))
	if err != nil {
		return nil, err
	}

	m.logger.Info("token extended",
		zap.String("token_id", id.String()),
		zap.Time("new_expires_at", updated.ExpiresAt),
		zap.Int("extension_count", updated.ExtensionCount))

	return &Result{
		Extended:     true,
		NewExpiresAt: updated.ExpiresAt,
		Count:        updated.ExtensionCount,
	}, nil
}
