package cache

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/perimeterlabs/token-gateway/models"
)

// RedisResultStore backs the validation-result cache with Redis so multiple
// gateway replicas share hits and invalidations. TTL is enforced by Redis;
// capacity is left to the server's eviction policy.
type RedisResultStore struct {
	rdb    *redis.Client
	keyNS  string
	ttl    time.Duration
	logger *zap.Logger
	hits   uint64
	misses uint64
}

// NewRedisResultStore creates a Redis-backed validation-result store
func NewRedisResultStore(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisResultStore {
	return &RedisResultStore{
		rdb:    rdb,
		keyNS:  "gateway:validation:",
		ttl:    ttl,
		logger: logger,
	}
}

func (s *RedisResultStore) key(k string) string { return s.keyNS + k }

// Get retrieves a cached validation result
func (s *RedisResultStore) Get(ctx context.Context, key string) (*models.ValidationResult, bool) {
	val, err := s.rdb.Get(ctx, s.key(key)).Bytes()
	if err == redis.Nil {
		atomic.AddUint64(&s.misses, 1)
		return nil, false
	}
	if err != nil {
		// Cache errors are never fatal to validation; treat as a miss.
		s.logger.Warn("redis cache read failed", zap.Error(err))
		atomic.AddUint64(&s.misses, 1)
		return nil, false
	}

	var result models.ValidationResult
	if err := json.Unmarshal(val, &result); err != nil {
		s.logger.Warn("redis cache entry corrupt, dropping", zap.Error(err))
		_ = s.rdb.Del(ctx, s.key(key)).Err()
		atomic.AddUint64(&s.misses, 1)
		return nil, false
	}

	atomic.AddUint64(&s.hits, 1)
	return &result, true
}

// Set stores a validation result with the configured TTL
func (s *RedisResultStore) Set(ctx context.Context, key string, result *models.ValidationResult) {
	b, err := json.Marshal(result)
	if err != nil {
		s.logger.Warn("failed to marshal validation result for cache", zap.Error(err))
		return
	}
	if err := s.rdb.Set(ctx, s.key(key), b, s.ttl).Err(); err != nil {
		s.logger.Warn("redis cache write failed", zap.Error(err))
	}
}

// InvalidateToken removes every result entry keyed by the token's hash
func (s *RedisResultStore) InvalidateToken(ctx context.Context, tokenHash string) int {
	pattern := s.key(tokenHash) + ":*"
	removed := 0

	iter := s.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := s.rdb.Del(ctx, iter.Val()).Err(); err != nil {
			s.logger.Warn("redis cache invalidation failed",
				zap.String("key", iter.Val()),
				zap.Error(err))
			continue
		}
		removed++
	}
	if err := iter.Err(); err != nil {
		s.logger.Warn("redis cache scan failed", zap.Error(err))
	}

	return removed
}

// Stats returns hit/miss counters. Size and capacity are owned by the Redis
// server and reported as zero here.
func (s *RedisResultStore) Stats() Stats {
	hits := atomic.LoadUint64(&s.hits)
	misses := atomic.LoadUint64(&s.misses)
	stats := Stats{Hits: hits, Misses: misses}
	if total := hits + misses; total > 0 {
		stats.HitRate = float64(hits) / float64(total)
	}
	return stats
}
