package tokenstore

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"
	"go.uber.org/zap"

	"github.com/perimeterlabs/token-gateway/config"
	"github.com/perimeterlabs/token-gateway/models"
	"github.com/perimeterlabs/token-gateway/repositories"
	"github.com/perimeterlabs/token-gateway/services"
	"github.com/perimeterlabs/token-gateway/services/cache"
)

// tokenBytes is the entropy of an issued credential
const tokenBytes = 32

// Service is the durable token store. It owns issuance, lookup by salted
// hash, revocation, and expiry updates. Revoke and UpdateExpiry invalidate
// every cache entry keyed by the token's hash before returning, so a
// stale-positive validation can never outlive either mutation.
type Service struct {
	repo       repositories.TokenRepository
	caches     *cache.Layer
	salt       string
	retries    int
	retryDelay time.Duration
	logger     *zap.Logger
}

// NewService creates a new token store service
func NewService(repo repositories.TokenRepository, caches *cache.Layer, cfg *config.Config, logger *zap.Logger) *Service {
	return &Service{
		repo:       repo,
		caches:     caches,
		salt:       cfg.TokenSalt,
		retries:    cfg.Validation.StoreRetries,
		retryDelay: cfg.Validation.StoreRetryDelay,
		logger:     logger,
	}
}

// HashToken computes the salted hash stored and used for lookups
func (s *Service) HashToken(value string) string {
	sum := sha256.Sum256([]byte(s.salt + value))
	return hex.EncodeToString(sum[:])
}

// Issue creates a token bound to exactly one tenant. The plaintext value is
// returned here and nowhere else; only the salted hash is retained.
func (s *Service) Issue(ctx context.Context, tenantID uuid.UUID, scopes []string, ttl time.Duration, level models.SecurityLevel) (*models.IssuedToken, error) {
	if tenantID == uuid.Nil {
		return nil, services.ErrInvalidInput.WithDetail("field", "tenant_id")
	}
	if len(scopes) == 0 {
		return nil, services.ErrInvalidInput.WithDetail("field", "scopes")
	}
	if ttl <= 0 {
		return nil, services.ErrInvalidInput.WithDetail("field", "ttl")
	}

	raw := make([]byte, tokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return nil, services.NewDomainError(services.ErrorTypeInternal, "failed to generate token", err)
	}
	value := base58.Encode(raw)

	token := models.NewToken(tenantID, scopes, ttl)
	if level != "" {
		token.SecurityLevel = level
		token.RateLimitTier = string(level)
	}
	token.TokenHash = s.HashToken(value)
	token.Salt = s.salt

	err := s.withRetry(ctx, func() error {
		return s.repo.Insert(ctx, token)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("token issued",
		zap.String("token_id", token.ID.String()),
		zap.String("tenant_id", tenantID.String()),
		zap.Time("expires_at", token.ExpiresAt))

	return &models.IssuedToken{
		Value:     value,
		TokenID:   token.ID,
		ExpiresAt: token.ExpiresAt,
	}, nil
}

// Lookup retrieves the record for a presented token hash
func (s *Service) Lookup(ctx context.Context, tokenHash string) (*models.Token, error) {
	var token *models.Token
	err := s.withRetry(ctx, func() error {
		var lookupErr error
		token, lookupErr = s.repo.GetByHash(ctx, tokenHash)
		return lookupErr
	})
	if err != nil {
		return nil, err
	}
	return token, nil
}

// GetByID retrieves a token record by ID
func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*models.Token, error) {
	var token *models.Token
	err := s.withRetry(ctx, func() error {
		var lookupErr error
		token, lookupErr = s.repo.GetByID(ctx, id)
		return lookupErr
	})
	if err != nil {
		return nil, err
	}
	return token, nil
}

// Revoke invalidates a token immediately and purges its cache entries
func (s *Service) Revoke(ctx context.Context, id uuid.UUID) error {
	var token *models.Token
	err := s.withRetry(ctx, func() error {
		var revokeErr error
		token, revokeErr = s.repo.Revoke(ctx, id, time.Now().UTC())
		return revokeErr
	})
	if err != nil {
		return err
	}

	// Cache purge happens before the revoke is acknowledged.
	s.caches.InvalidateToken(ctx, token.TokenHash)

	s.logger.Info("token revoked", zap.String("token_id", id.String()))
	return nil
}

// UpdateExpiry moves a token's expiry forward and purges its cache entries.
// Scope set and tenant binding are untouched.
func (s *Service) UpdateExpiry(ctx context.Context, id uuid.UUID, newExpiry time.Time) (*models.Token, error) {
	var token *models.Token
	err := s.withRetry(ctx, func() error {
		var updateErr error
		token, updateErr = s.repo.UpdateExpiry(ctx, id, newExpiry)
		return updateErr
	})
	if err != nil {
		return nil, err
	}

	s.caches.InvalidateToken(ctx, token.TokenHash)
	return token, nil
}

// withRetry runs op, retrying transient failures with bounded backoff before
// classifying the store unavailable. Domain outcomes (not found) and context
// cancellation are returned immediately.
func (s *Service) withRetry(ctx context.Context, op func() error) error {
	var lastErr error
	for attempt := 0; attempt < s.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * s.retryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := op()
		if err == nil {
			return nil
		}

		var domainErr *services.DomainError
		if errors.As(err, &domainErr) {
			return err
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		lastErr = err

		s.logger.Warn("token store operation failed, retrying",
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}

	return services.NewDomainError(services.ErrorTypeStore,
		fmt.Sprintf("token store unavailable after %d attempts", s.retries), lastErr)
}
