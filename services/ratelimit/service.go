package ratelimit

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/perimeterlabs/token-gateway/config"
)

// Result represents the outcome of a rate limit check
type Result struct {
	Allowed   bool
	Remaining int
	Used      int // requests recorded inside the current window
	ResetAt   time.Time
}

// bucket holds request timestamps for one token, newest last
type bucket struct {
	timestamps []time.Time
}

// Service is an in-memory rolling-window rate limiter keyed by token ID.
// Each check prunes and appends under one mutex, so concurrent requests for
// the same token never lose updates. Tier budgets come from immutable config.
type Service struct {
	mu      sync.Mutex
	cfg     config.RateLimitConfig
	buckets map[uuid.UUID]*bucket
	logger  *zap.Logger
}

// NewService creates a new rate limit service
func NewService(cfg config.RateLimitConfig, logger *zap.Logger) *Service {
	return &Service{
		cfg:     cfg,
		buckets: make(map[uuid.UUID]*bucket),
		logger:  logger,
	}
}

// Allow checks and records one request for the token. The Nth request inside
// the rolling window is allowed; the (N+1)th is rejected without being
// recorded.
func (s *Service) Allow(tokenID uuid.UUID, tier string) Result {
	limit := s.cfg.LimitForTier(tier)
	now := time.Now()
	windowStart := now.Add(-s.cfg.Window)

	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[tokenID]
	if !ok {
		b = &bucket{}
		s.buckets[tokenID] = b
	}

	// Prune timestamps outside the window.
	ts := b.timestamps
	pruneIdx := 0
	for pruneIdx < len(ts) && ts[pruneIdx].Before(windowStart) {
		pruneIdx++
	}
	if pruneIdx > 0 {
		ts = ts[pruneIdx:]
	}

	if len(ts) >= limit {
		b.timestamps = ts
		return Result{
			Allowed:   false,
			Remaining: 0,
			Used:      len(ts),
			ResetAt:   ts[0].Add(s.cfg.Window),
		}
	}

	ts = append(ts, now)
	b.timestamps = ts

	return Result{
		Allowed:   true,
		Remaining: limit - len(ts),
		Used:      len(ts),
		ResetAt:   ts[0].Add(s.cfg.Window),
	}
}

// Remaining reports the budget left for a token without recording a request
func (s *Service) Remaining(tokenID uuid.UUID, tier string) int {
	limit := s.cfg.LimitForTier(tier)
	windowStart := time.Now().Add(-s.cfg.Window)

	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[tokenID]
	if !ok {
		return limit
	}

	count := 0
	for _, t := range b.timestamps {
		if !t.Before(windowStart) {
			count++
		}
	}
	if count >= limit {
		return 0
	}
	return limit - count
}

// Forget drops the bucket for a token. Called on revoke so a re-issued
// token ID cannot inherit stale counts.
func (s *Service) Forget(tokenID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.buckets, tokenID)
}

// Cleanup removes buckets whose entries have all fallen out of the window,
// bounding memory growth across many short-lived tokens.
func (s *Service) Cleanup() int {
	windowStart := time.Now().Add(-s.cfg.Window)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, b := range s.buckets {
		empty := true
		for _, t := range b.timestamps {
			if !t.Before(windowStart) {
				empty = false
				break
			}
		}
		if empty {
			delete(s.buckets, id)
			removed++
		}
	}
	return removed
}

// StartCleanupWorker periodically prunes empty buckets until stopCh closes
func (s *Service) StartCleanupWorker(interval time.Duration, stopCh <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if removed := s.Cleanup(); removed > 0 {
				s.logger.Debug("pruned rate limit buckets", zap.Int("removed", removed))
			}
		case <-stopCh:
			return
		}
	}
}
