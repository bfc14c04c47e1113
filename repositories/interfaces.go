package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/perimeterlabs/token-gateway/models"
)

// TokenRepository is the durable keyed store for token metadata. Lookups are
// by salted hash; the plaintext value is never persisted.
type TokenRepository interface {
	// Insert stores a newly issued token record
	Insert(ctx context.Context, token *models.Token) error

	// GetByHash retrieves a token record by its salted hash
	GetByHash(ctx context.Context, tokenHash string) (*models.Token, error)

	// GetByID retrieves a token record by ID
	GetByID(ctx context.Context, id uuid.UUID) (*models.Token, error)

	// Revoke marks the token revoked. Returns the revoked record so callers
	// can invalidate cache entries keyed by its hash.
	Revoke(ctx context.Context, id uuid.UUID, at time.Time) (*models.Token, error)

	// UpdateExpiry moves expiry forward and increments the extension count.
	// Returns the updated record.
	UpdateExpiry(ctx context.Context, id uuid.UUID, newExpiry time.Time) (*models.Token, error)
}

// TenantRepository reads tenant metadata. Tenant CRUD is owned by an external
// collaborator; the gateway only confirms isolation boundaries.
type TenantRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error)
}

// AuditRepository is the durable sink for the async audit pipeline
type AuditRepository interface {
	// Insert appends a single audit event
	Insert(ctx context.Context, event *models.AuditEvent) error

	// GetByTenantID retrieves audit events for a tenant with pagination
	GetByTenantID(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]*models.AuditEvent, error)

	// CountBySeverity counts events at a severity within a time range
	CountBySeverity(ctx context.Context, severity models.AuditSeverity, from, to time.Time) (int64, error)
}
