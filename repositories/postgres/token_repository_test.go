package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/perimeterlabs/token-gateway/models"
	"github.com/perimeterlabs/token-gateway/services"
)

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })
	return &DB{DB: mockDB, logger: zap.NewNop()}, mock
}

func tokenRows(token *models.Token) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "tenant_id", "token_hash", "salt", "scopes", "issued_at",
		"expires_at", "security_level", "rate_limit_tier", "extension_count", "revoked_at",
	}).AddRow(
		token.ID, token.TenantID, token.TokenHash, token.Salt,
		pq.Array(token.Scopes), token.IssuedAt, token.ExpiresAt,
		token.SecurityLevel, token.RateLimitTier, token.ExtensionCount, token.RevokedAt,
	)
}

func TestTokenRepositoryInsert(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTokenRepository(db, zap.NewNop())

	token := models.NewToken(uuid.New(), []string{"read"}, time.Hour)
	token.TokenHash = "abc123"
	token.Salt = "salt"

	mock.ExpectExec("INSERT INTO tokens").
		WithArgs(token.ID, token.TenantID, token.TokenHash, token.Salt,
			pq.Array(token.Scopes), token.IssuedAt, token.ExpiresAt,
			token.SecurityLevel, token.RateLimitTier, token.ExtensionCount, token.RevokedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Insert(context.Background(), token)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenRepositoryGetByHash(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTokenRepository(db, zap.NewNop())

	token := models.NewToken(uuid.New(), []string{"read", "write"}, time.Hour)
	token.TokenHash = "abc123"

	mock.ExpectQuery("SELECT (.+) FROM tokens WHERE token_hash").
		WithArgs("abc123").
		WillReturnRows(tokenRows(token))

	got, err := repo.GetByHash(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, token.ID, got.ID)
	assert.Equal(t, []string{"read", "write"}, got.Scopes)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenRepositoryGetByHashNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTokenRepository(db, zap.NewNop())

	mock.ExpectQuery("SELECT (.+) FROM tokens WHERE token_hash").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.GetByHash(context.Background(), "missing")
	assert.ErrorIs(t, err, services.ErrTokenNotFound)
}

func TestTokenRepositoryRevoke(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTokenRepository(db, zap.NewNop())

	token := models.NewToken(uuid.New(), []string{"read"}, time.Hour)
	at := time.Now().UTC()
	token.RevokedAt = &at

	mock.ExpectQuery("UPDATE tokens SET revoked_at").
		WithArgs(token.ID, at).
		WillReturnRows(tokenRows(token))

	got, err := repo.Revoke(context.Background(), token.ID, at)
	require.NoError(t, err)
	assert.True(t, got.IsRevoked())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenRepositoryRevokeAlreadyRevoked(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTokenRepository(db, zap.NewNop())

	id := uuid.New()
	// The revoked_at IS NULL guard matches no rows the second time.
	mock.ExpectQuery("UPDATE tokens SET revoked_at").
		WithArgs(id, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.Revoke(context.Background(), id, time.Now())
	assert.ErrorIs(t, err, services.ErrTokenNotFound)
}

func TestTokenRepositoryUpdateExpiry(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTokenRepository(db, zap.NewNop())

	token := models.NewToken(uuid.New(), []string{"read"}, time.Hour)
	newExpiry := time.Now().Add(2 * time.Hour).UTC()
	token.ExpiresAt = newExpiry
	token.ExtensionCount = 1

	mock.ExpectQuery("UPDATE tokens SET expires_at").
		WithArgs(token.ID, newExpiry).
		WillReturnRows(tokenRows(token))

	got, err := repo.UpdateExpiry(context.Background(), token.ID, newExpiry)
	require.NoError(t, err)
	assert.Equal(t, 1, got.ExtensionCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}
