package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/perimeterlabs/token-gateway/models"
	"github.com/perimeterlabs/token-gateway/repositories"
)

// AuditRepository implements the repositories.AuditRepository interface
type AuditRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *DB, logger *zap.Logger) repositories.AuditRepository {
	return &AuditRepository{
		db:     db,
		logger: logger,
	}
}

// Insert appends a single audit event. Events are immutable once written.
func (r *AuditRepository) Insert(ctx context.Context, event *models.AuditEvent) error {
	query := `
		INSERT INTO audit_events (
			id, timestamp, token_id, tenant_id, endpoint, outcome,
			severity, reason, path, latency_ms, details
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := r.db.ExecContext(ctx, query,
		event.ID,
		event.Timestamp,
		event.TokenID,
		event.TenantID,
		event.Endpoint,
		event.Outcome,
		event.Severity,
		event.Reason,
		event.Path,
		event.LatencyMs,
		event.Details,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}

	r.logger.Debug("audit event inserted",
		zap.String("id", event.ID.String()),
		zap.String("outcome", string(event.Outcome)))
	return nil
}

// GetByTenantID retrieves audit events for a tenant with pagination
func (r *AuditRepository) GetByTenantID(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]*models.AuditEvent, error) {
	query := `
		SELECT id, timestamp, token_id, tenant_id, endpoint, outcome,
		       severity, reason, path, latency_ms, details
		FROM audit_events
		WHERE tenant_id = $1
		ORDER BY timestamp DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.QueryContext(ctx, query, tenantID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []*models.AuditEvent
	for rows.Next() {
		event := &models.AuditEvent{}
		if err := rows.Scan(
			&event.ID,
			&event.Timestamp,
			&event.TokenID,
			&event.TenantID,
			&event.Endpoint,
			&event.Outcome,
			&event.Severity,
			&event.Reason,
			&event.Path,
			&event.LatencyMs,
			&event.Details,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		events = append(events, event)
	}

	return events, rows.Err()
}

// CountBySeverity counts events at a severity within a time range
func (r *AuditRepository) CountBySeverity(ctx context.Context, severity models.AuditSeverity, from, to time.Time) (int64, error) {
	query := `
		SELECT COUNT(*)
		FROM audit_events
		WHERE severity = $1 AND timestamp >= $2 AND timestamp < $3
	`

	var count int64
	if err := r.db.QueryRowContext(ctx, query, severity, from, to).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count audit events: %w", err)
	}
	return count, nil
}
