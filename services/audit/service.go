package audit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/perimeterlabs/token-gateway/config"
	"github.com/perimeterlabs/token-gateway/models"
	"github.com/perimeterlabs/token-gateway/repositories"
)

// Service handles asynchronous, append-only audit logging. Ordinary events
// are enqueued without blocking and may be shed under sustained overload;
// security-critical events (cross-tenant attempts, shadow-mode
// discrepancies) block briefly on a full queue and fall back to a
// synchronous write rather than drop.
type Service struct {
	auditRepo   repositories.AuditRepository
	logger      *zap.Logger
	eventChan   chan *models.AuditEvent
	workerCount int
	bufferSize  int
	critTimeout time.Duration
	dropped     uint64
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	started     bool
	mu          sync.Mutex
}

// NewService creates a new audit Service instance
func NewService(auditRepo repositories.AuditRepository, cfg config.AuditConfig, logger *zap.Logger) *Service {
	ctx, cancel := context.WithCancel(context.Background())

	return &Service{
		auditRepo:   auditRepo,
		logger:      logger,
		eventChan:   make(chan *models.AuditEvent, cfg.BufferSize),
		workerCount: cfg.WorkerCount,
		bufferSize:  cfg.BufferSize,
		critTimeout: cfg.CriticalTimeout,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start starts the background workers
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("audit service already started")
	}

	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.started = true
	s.logger.Info("started audit service",
		zap.Int("worker_count", s.workerCount),
		zap.Int("buffer_size", s.bufferSize))

	return nil
}

// Stop gracefully stops the audit service, draining pending events
func (s *Service) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return fmt.Errorf("audit service not started")
	}
	s.started = false
	s.mu.Unlock()

	s.logger.Info("stopping audit service", zap.Int("pending_events", len(s.eventChan)))

	// The channel is never closed: a producer blocked in recordCritical must
	// unblock into its synchronous fallback, not panic on a closed channel.
	// Workers observe the cancellation, drain the queue, and exit.
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("audit service stopped gracefully")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("audit service stop timeout after %v", timeout)
	}
}

// Record enqueues an event. Security-critical events are never dropped:
// they wait up to the configured critical timeout for queue space, then fall
// back to a synchronous repository write. Ordinary events are dropped when
// the buffer is full, with the drop counter incremented.
func (s *Service) Record(ctx context.Context, event *models.AuditEvent) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return fmt.Errorf("audit service not started")
	}
	s.mu.Unlock()

	if event.IsSecurityCritical() {
		return s.recordCritical(ctx, event)
	}

	select {
	case s.eventChan <- event:
		return nil
	default:
		atomic.AddUint64(&s.dropped, 1)
		s.logger.Warn("audit event buffer full, dropping event",
			zap.String("outcome", string(event.Outcome)),
			zap.String("endpoint", event.Endpoint))
		return fmt.Errorf("audit event buffer full")
	}
}

// recordCritical blocks briefly for queue space, then writes synchronously.
// During shutdown the enqueue is skipped entirely; the workers may already
// have drained past the event, so only the inline write guarantees it lands.
func (s *Service) recordCritical(ctx context.Context, event *models.AuditEvent) error {
	if s.ctx.Err() == nil {
		timer := time.NewTimer(s.critTimeout)
		defer timer.Stop()

		select {
		case s.eventChan <- event:
			return nil
		case <-timer.C:
		case <-ctx.Done():
		case <-s.ctx.Done():
		}
	}

	// Queue unavailable within the bound; write inline so the event survives.
	writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.auditRepo.Insert(writeCtx, event); err != nil {
		s.logger.Error("synchronous write of security-critical audit event failed",
			zap.String("outcome", string(event.Outcome)),
			zap.Error(err))
		return fmt.Errorf("failed to persist security-critical audit event: %w", err)
	}
	return nil
}

// worker processes events from the channel
func (s *Service) worker(id int) {
	defer s.wg.Done()

	s.logger.Debug("audit worker started", zap.Int("worker_id", id))

	for {
		select {
		case event := <-s.eventChan:
			if err := s.processEvent(event); err != nil {
				s.logger.Error("failed to process audit event",
					zap.Int("worker_id", id),
					zap.Error(err),
					zap.String("outcome", string(event.Outcome)))
			}
		case <-s.ctx.Done():
			// Drain what is already queued, then exit.
			for {
				select {
				case event := <-s.eventChan:
					if err := s.processEvent(event); err != nil {
						s.logger.Error("failed to process audit event",
							zap.Int("worker_id", id),
							zap.Error(err),
							zap.String("outcome", string(event.Outcome)))
					}
				default:
					s.logger.Debug("audit worker stopped", zap.Int("worker_id", id))
					return
				}
			}
		}
	}
}

// processEvent persists a single audit event
func (s *Service) processEvent(event *models.AuditEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.auditRepo.Insert(ctx, event); err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

// Dropped returns the count of ordinary events shed under overload
func (s *Service) Dropped() uint64 {
	return atomic.LoadUint64(&s.dropped)
}

// Stats represents audit service statistics
type Stats struct {
	BufferSize    int    `json:"buffer_size"`
	PendingEvents int    `json:"pending_events"`
	WorkerCount   int    `json:"worker_count"`
	DroppedEvents uint64 `json:"dropped_events"`
	Started       bool   `json:"started"`
}

// GetStats returns statistics about the audit service
func (s *Service) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		BufferSize:    s.bufferSize,
		PendingEvents: len(s.eventChan),
		WorkerCount:   s.workerCount,
		DroppedEvents: atomic.LoadUint64(&s.dropped),
		Started:       s.started,
	}
}
