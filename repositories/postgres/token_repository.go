package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/perimeterlabs/token-gateway/models"
	"github.com/perimeterlabs/token-gateway/repositories"
	"github.com/perimeterlabs/token-gateway/services"
)

// TokenRepository implements the repositories.TokenRepository interface
type TokenRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewTokenRepository creates a new token repository
func NewTokenRepository(db *DB, logger *zap.Logger) repositories.TokenRepository {
	return &TokenRepository{
		db:     db,
		logger: logger,
	}
}

const tokenColumns = `id, tenant_id, token_hash, salt, scopes, issued_at, expires_at,
	security_level, rate_limit_tier, extension_count, revoked_at`

// Insert stores a newly issued token record
func (r *TokenRepository) Insert(ctx context.Context, token *models.Token) error {
	query := `
		INSERT INTO tokens (
			id, tenant_id, token_hash, salt, scopes, issued_at, expires_at,
			security_level, rate_limit_tier, extension_count, revoked_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := r.db.ExecContext(ctx, query,
		token.ID,
		token.TenantID,
		token.TokenHash,
		token.Salt,
		pq.Array(token.Scopes),
		token.IssuedAt,
		token.ExpiresAt,
		token.SecurityLevel,
		token.RateLimitTier,
		token.ExtensionCount,
		token.RevokedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert token: %w", err)
	}

	r.logger.Debug("token inserted",
		zap.String("id", token.ID.String()),
		zap.String("tenant_id", token.TenantID.String()))
	return nil
}

// GetByHash retrieves a token record by its salted hash
func (r *TokenRepository) GetByHash(ctx context.Context, tokenHash string) (*models.Token, error) {
	query := `SELECT ` + tokenColumns + ` FROM tokens WHERE token_hash = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, tokenHash))
}

// GetByID retrieves a token record by ID
func (r *TokenRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Token, error) {
	query := `SELECT ` + tokenColumns + ` FROM tokens WHERE id = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

// Revoke marks the token revoked and returns the revoked record
func (r *TokenRepository) Revoke(ctx context.Context, id uuid.UUID, at time.Time) (*models.Token, error) {
	query := `
		UPDATE tokens SET revoked_at = $2
		WHERE id = $1 AND revoked_at IS NULL
		RETURNING ` + tokenColumns

	token, err := r.scanOne(r.db.QueryRowContext(ctx, query, id, at))
	if err != nil {
		return nil, err
	}

	r.logger.Debug("token revoked", zap.String("id", id.String()))
	return token, nil
}

// UpdateExpiry moves expiry forward and increments the extension count
func (r *TokenRepository) UpdateExpiry(ctx context.Context, id uuid.UUID, newExpiry time.Time) (*models.Token, error) {
	query := `
		UPDATE tokens SET expires_at = $2, extension_count = extension_count + 1
		WHERE id = $1 AND revoked_at IS NULL
		RETURNING ` + tokenColumns

	token, err := r.scanOne(r.db.QueryRowContext(ctx, query, id, newExpiry))
	if err != nil {
		return nil, err
	}

	r.logger.Debug("token expiry updated",
		zap.String("id", id.String()),
		zap.Time("expires_at", newExpiry),
		zap.Int("extension_count", token.ExtensionCount))
	return token, nil
}

func (r *TokenRepository) scanOne(row *sql.Row) (*models.Token, error) {
	token := &models.Token{}
	var scopes pq.StringArray

	err := row.Scan(
		&token.ID,
		&token.TenantID,
		&token.TokenHash,
		&token.Salt,
		&scopes,
		&token.IssuedAt,
		&token.ExpiresAt,
		&token.SecurityLevel,
		&token.RateLimitTier,
		&token.ExtensionCount,
		&token.RevokedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, services.ErrTokenNotFound
		}
		return nil, fmt.Errorf("failed to scan token: %w", err)
	}

	token.Scopes = []string(scopes)
	return token, nil
}
