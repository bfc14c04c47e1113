package cache

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/perimeterlabs/token-gateway/config"
	"github.com/perimeterlabs/token-gateway/models"
)

// ResultStore abstracts the validation-result cache so it can be backed by
// process memory or Redis. Keys are hash(token)+scope; entries are transient
// and never authoritative.
type ResultStore interface {
	Get(ctx context.Context, key string) (*models.ValidationResult, bool)
	Set(ctx context.Context, key string, result *models.ValidationResult)
	InvalidateToken(ctx context.Context, tokenHash string) int
	Stats() Stats
}

// memoryResultStore adapts Cache to the ResultStore interface
type memoryResultStore struct {
	cache *Cache
}

func (s *memoryResultStore) Get(_ context.Context, key string) (*models.ValidationResult, bool) {
	v, ok := s.cache.Get(key)
	if !ok {
		return nil, false
	}
	result, ok := v.(*models.ValidationResult)
	return result, ok
}

func (s *memoryResultStore) Set(_ context.Context, key string, result *models.ValidationResult) {
	s.cache.Set(key, result)
}

func (s *memoryResultStore) InvalidateToken(_ context.Context, tokenHash string) int {
	return s.cache.InvalidateByPrefix(tokenHash + ":")
}

func (s *memoryResultStore) Stats() Stats {
	return s.cache.Stats()
}

// Layer owns the three independently sized gateway caches: validation
// results, tenant metadata, and permission sets. Revoke and UpdateExpiry
// flow through InvalidateToken so no stale-positive result outlives either.
type Layer struct {
	results     ResultStore
	resultCache *Cache // nil when results is Redis-backed
	tenants     *Cache
	permissions *Cache
	logger      *zap.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewLayer builds the cache layer from config. The validation-result cache
// uses the configured backend; tenant and permission caches are always
// in-process.
func NewLayer(cfg config.CachesConfig, results ResultStore, logger *zap.Logger) *Layer {
	l := &Layer{
		results:     results,
		tenants:     New(cfg.Tenant.Capacity, cfg.Tenant.TTL),
		permissions: New(cfg.Permission.Capacity, cfg.Permission.TTL),
		logger:      logger,
		stopCh:      make(chan struct{}),
	}

	if results == nil {
		c := New(cfg.Validation.Capacity, cfg.Validation.TTL)
		l.resultCache = c
		l.results = &memoryResultStore{cache: c}
	}

	if cfg.CleanupInterval > 0 {
		go l.tenants.StartCleanupWorker(cfg.CleanupInterval, l.stopCh)
		go l.permissions.StartCleanupWorker(cfg.CleanupInterval, l.stopCh)
		if l.resultCache != nil {
			go l.resultCache.StartCleanupWorker(cfg.CleanupInterval, l.stopCh)
		}
	}

	return l
}

// Close stops the background cleanup workers
func (l *Layer) Close() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

// ValidationKey builds the result-cache key for a token hash and scope
func ValidationKey(tokenHash, scope string) string {
	return tokenHash + ":" + scope
}

// PermissionKey builds the permission-cache key for a token hash and scope set
func PermissionKey(tokenHash string, scopes []string) string {
	sorted := append([]string(nil), scopes...)
	sort.Strings(sorted)
	return tokenHash + ":" + strings.Join(sorted, ",")
}

// GetResult probes the validation-result cache
func (l *Layer) GetResult(ctx context.Context, tokenHash, scope string) (*models.ValidationResult, bool) {
	return l.results.Get(ctx, ValidationKey(tokenHash, scope))
}

// SetResult stores a validation result
func (l *Layer) SetResult(ctx context.Context, tokenHash, scope string, result *models.ValidationResult) {
	l.results.Set(ctx, ValidationKey(tokenHash, scope), result)
}

// GetTenant probes the tenant-metadata cache
func (l *Layer) GetTenant(tenantID uuid.UUID) (*models.Tenant, bool) {
	v, ok := l.tenants.Get(tenantID.String())
	if !ok {
		return nil, false
	}
	tenant, ok := v.(*models.Tenant)
	return tenant, ok
}

// SetTenant stores tenant metadata
func (l *Layer) SetTenant(tenant *models.Tenant) {
	l.tenants.Set(tenant.ID.String(), tenant)
}

// GetPermissions probes the permission cache for a token's granted scopes
func (l *Layer) GetPermissions(tokenHash string, scopes []string) ([]string, bool) {
	v, ok := l.permissions.Get(PermissionKey(tokenHash, scopes))
	if !ok {
		return nil, false
	}
	granted, ok := v.([]string)
	return granted, ok
}

// SetPermissions stores a token's granted scope set
func (l *Layer) SetPermissions(tokenHash string, scopes []string, granted []string) {
	l.permissions.Set(PermissionKey(tokenHash, scopes), granted)
}

// InvalidateToken removes every validation-result and permission entry keyed
// by the token's hash. Called on Revoke and UpdateExpiry before the mutation
// is acknowledged, so subsequent reads never observe a stale positive.
func (l *Layer) InvalidateToken(ctx context.Context, tokenHash string) {
	removed := l.results.InvalidateToken(ctx, tokenHash)
	removed += l.permissions.InvalidateByPrefix(tokenHash + ":")

	if removed > 0 {
		l.logger.Debug("token cache entries invalidated",
			zap.Int("removed", removed))
	}
}

// InvalidateTenant removes a tenant's metadata entry
func (l *Layer) InvalidateTenant(tenantID uuid.UUID) {
	l.tenants.Invalidate(tenantID.String())
}

// LayerStats aggregates per-cache statistics
type LayerStats struct {
	Validation Stats `json:"validation"`
	Tenant     Stats `json:"tenant"`
	Permission Stats `json:"permission"`
}

// Stats returns statistics for all three caches
func (l *Layer) Stats() LayerStats {
	return LayerStats{
		Validation: l.results.Stats(),
		Tenant:     l.tenants.Stats(),
		Permission: l.permissions.Stats(),
	}
}
