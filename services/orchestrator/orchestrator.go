package orchestrator

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/perimeterlabs/token-gateway/config"
	"github.com/perimeterlabs/token-gateway/models"
	"github.com/perimeterlabs/token-gateway/services/audit"
	"github.com/perimeterlabs/token-gateway/services/validator"
)

// PathValidator adjudicates a request on one decision path
type PathValidator interface {
	Validate(ctx context.Context, req *models.ValidationRequest) *models.ValidationResult
}

// Orchestrator runs the legacy and enhanced decision paths in parallel and
// compares their outcomes. In fail-safe mode the legacy result is served
// while the enhanced path shadows it; otherwise the enhanced result is
// served. A path that misses the overall deadline is inconclusive and is
// excluded from comparison rather than counted as a discrepancy.
type Orchestrator struct {
	legacy   PathValidator
	enhanced PathValidator
	auditor  *audit.Service
	logger   *zap.Logger

	parallel     bool
	failSafe     bool
	timeout      time.Duration
	servedBudget time.Duration

	comparisons   uint64
	discrepancies uint64
	inconclusive  uint64
}

// New creates a new orchestrator
func New(legacy, enhanced PathValidator, auditor *audit.Service, cfg config.ValidationConfig, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		legacy:       legacy,
		enhanced:     enhanced,
		auditor:      auditor,
		logger:       logger,
		parallel:     cfg.ParallelEnabled,
		failSafe:     cfg.FailSafeMode,
		timeout:      cfg.Timeout,
		servedBudget: cfg.ServedBudget,
	}
}

// Validate adjudicates a request. The served path answers within the caller
// budget; the shadow path is given the full validation timeout off the
// request's critical path.
func (o *Orchestrator) Validate(ctx context.Context, req *models.ValidationRequest) *models.ValidationResult {
	if !o.parallel {
		return o.runSingle(ctx, o.enhanced, models.PathEnhanced, req)
	}

	served, shadow := o.enhanced, o.legacy
	servedPath, shadowPath := models.PathEnhanced, models.PathLegacy
	if o.failSafe {
		served, shadow = o.legacy, o.enhanced
		servedPath, shadowPath = models.PathLegacy, models.PathEnhanced
	}

	servedCh := make(chan *models.ValidationResult, 1)
	shadowCh := make(chan *models.ValidationResult, 1)

	servedCtx, cancelServed := context.WithTimeout(ctx, o.servedBudget)

	// Shadow runs detached from the request context so a fast HTTP response
	// cannot cut the comparison short.
	shadowCtx, cancelShadow := context.WithTimeout(context.Background(), o.timeout)

	go func() {
		defer cancelServed()
		servedCh <- served.Validate(servedCtx, req)
	}()
	go func() {
		defer cancelShadow()
		shadowCh <- shadow.Validate(shadowCtx, req)
	}()

	var servedResult *models.ValidationResult
	select {
	case servedResult = <-servedCh:
	case <-time.After(o.servedBudget + o.servedBudget/2):
		// Validator failed to honor its context deadline; answer for it.
		servedResult = models.Failure(models.ReasonTimeout, servedPath)
	}

	go o.compare(req, servedResult, servedPath, shadowCh, shadowPath)

	return servedResult
}

func (o *Orchestrator) runSingle(ctx context.Context, v PathValidator, path models.ValidationPath, req *models.ValidationRequest) *models.ValidationResult {
	runCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	return v.Validate(runCtx, req)
}

// compare waits for the shadow result and records agreement or discrepancy.
// Runs off the request path.
func (o *Orchestrator) compare(req *models.ValidationRequest, servedResult *models.ValidationResult, servedPath models.ValidationPath, shadowCh <-chan *models.ValidationResult, shadowPath models.ValidationPath) {
	var shadowResult *models.ValidationResult
	select {
	case shadowResult = <-shadowCh:
	case <-time.After(o.timeout + time.Second):
		atomic.AddUint64(&o.inconclusive, 1)
		return
	}

	// A timed-out path produced no real decision; comparing it would report
	// phantom discrepancies.
	if servedResult.Reason == models.ReasonTimeout || shadowResult.Reason == models.ReasonTimeout {
		atomic.AddUint64(&o.inconclusive, 1)
		return
	}

	atomic.AddUint64(&o.comparisons, 1)
	if servedResult.SameOutcome(shadowResult) {
		return
	}

	atomic.AddUint64(&o.discrepancies, 1)

	o.logger.Warn("decision path discrepancy",
		zap.String("served_path", string(servedPath)),
		zap.Bool("served_valid", servedResult.Valid),
		zap.String("served_reason", string(servedResult.Reason)),
		zap.String("shadow_path", string(shadowPath)),
		zap.Bool("shadow_valid", shadowResult.Valid),
		zap.String("shadow_reason", string(shadowResult.Reason)),
		zap.String("endpoint", req.Endpoint))

	event := models.NewAuditEvent(models.AuditOutcomeDiscrepancy, req.Endpoint).
		AsSecurity().
		WithPath(servedPath).
		WithDetails(map[string]interface{}{
			"served_path":   servedPath,
			"served_valid":  servedResult.Valid,
			"served_reason": servedResult.Reason,
			"shadow_path":   shadowPath,
			"shadow_valid":  shadowResult.Valid,
			"shadow_reason": shadowResult.Reason,
		})
	if servedResult.TokenID != uuid.Nil {
		event.WithToken(servedResult.TokenID)
	}

	recordCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.auditor.Record(recordCtx, event); err != nil {
		o.logger.Error("failed to record discrepancy event", zap.Error(err))
	}
}

// Stats is a point-in-time snapshot of shadow-comparison counters
type Stats struct {
	Comparisons   uint64 `json:"comparisons"`
	Discrepancies uint64 `json:"discrepancies"`
	Inconclusive  uint64 `json:"inconclusive"`
}

// GetStats returns comparison counters
func (o *Orchestrator) GetStats() Stats {
	return Stats{
		Comparisons:   atomic.LoadUint64(&o.comparisons),
		Discrepancies: atomic.LoadUint64(&o.discrepancies),
		Inconclusive:  atomic.LoadUint64(&o.inconclusive),
	}
}

var _ PathValidator = (*validator.Validator)(nil)
var _ PathValidator = (*validator.Legacy)(nil)
