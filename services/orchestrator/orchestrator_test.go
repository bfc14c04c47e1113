package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/perimeterlabs/token-gateway/config"
	"github.com/perimeterlabs/token-gateway/models"
	"github.com/perimeterlabs/token-gateway/services/audit"
)

// fixedValidator returns a canned result, optionally after a delay
type fixedValidator struct {
	result *models.ValidationResult
	delay  time.Duration
}

func (v *fixedValidator) Validate(ctx context.Context, _ *models.ValidationRequest) *models.ValidationResult {
	if v.delay > 0 {
		select {
		case <-time.After(v.delay):
		case <-ctx.Done():
			cp := *v.result
			cp.Reason = models.ReasonTimeout
			cp.Valid = false
			return &cp
		}
	}
	cp := *v.result
	return &cp
}

// capturingAuditRepo records inserted events
type capturingAuditRepo struct {
	mu     sync.Mutex
	events []*models.AuditEvent
}

func (r *capturingAuditRepo) Insert(_ context.Context, event *models.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *capturingAuditRepo) GetByTenantID(_ context.Context, _ uuid.UUID, _, _ int) ([]*models.AuditEvent, error) {
	return nil, nil
}

func (r *capturingAuditRepo) CountBySeverity(_ context.Context, _ models.AuditSeverity, _, _ time.Time) (int64, error) {
	return 0, nil
}

func (r *capturingAuditRepo) outcomes() []models.AuditOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.AuditOutcome, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Outcome)
	}
	return out
}

func newAuditor(t *testing.T, repo *capturingAuditRepo) *audit.Service {
	t.Helper()
	s := audit.NewService(repo, config.AuditConfig{
		BufferSize:      100,
		WorkerCount:     1,
		CriticalTimeout: 50 * time.Millisecond,
	}, zap.NewNop())
	require.NoError(t, s.Start())
	t.Cleanup(func() { _ = s.Stop(time.Second) })
	return s
}

func validResult(path models.ValidationPath) *models.ValidationResult {
	return &models.ValidationResult{Valid: true, TokenID: uuid.New(), Path: path}
}

func testRequest() *models.ValidationRequest {
	return &models.ValidationRequest{
		Token:         "value",
		RequiredScope: "read",
		TenantHint:    uuid.New(),
		Endpoint:      "/api/v1/resource",
	}
}

func validationCfg() config.ValidationConfig {
	return config.ValidationConfig{
		FailSafeMode:    true,
		ParallelEnabled: true,
		Timeout:         500 * time.Millisecond,
		ServedBudget:    200 * time.Millisecond,
	}
}

// waitFor polls until cond reports true or the deadline passes
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	assert.Fail(t, msg)
}

func TestFailSafeServesLegacyResult(t *testing.T) {
	repo := &capturingAuditRepo{}
	legacy := &fixedValidator{result: &models.ValidationResult{Valid: false, Reason: models.ReasonExpiredToken, Path: models.PathLegacy}}
	enhanced := &fixedValidator{result: validResult(models.PathEnhanced)}

	o := New(legacy, enhanced, newAuditor(t, repo), validationCfg(), zap.NewNop())

	result := o.Validate(context.Background(), testRequest())
	assert.False(t, result.Valid)
	assert.Equal(t, models.PathLegacy, result.Path)
}

func TestEnhancedServedWhenFailSafeOff(t *testing.T) {
	repo := &capturingAuditRepo{}
	legacy := &fixedValidator{result: &models.ValidationResult{Valid: false, Reason: models.ReasonExpiredToken, Path: models.PathLegacy}}
	enhanced := &fixedValidator{result: validResult(models.PathEnhanced)}

	cfg := validationCfg()
	cfg.FailSafeMode = false
	o := New(legacy, enhanced, newAuditor(t, repo), cfg, zap.NewNop())

	result := o.Validate(context.Background(), testRequest())
	assert.True(t, result.Valid)
	assert.Equal(t, models.PathEnhanced, result.Path)
}

func TestParallelDisabledRunsEnhancedOnly(t *testing.T) {
	repo := &capturingAuditRepo{}
	legacy := &fixedValidator{result: &models.ValidationResult{Valid: false, Reason: models.ReasonInvalidToken, Path: models.PathLegacy}}
	enhanced := &fixedValidator{result: validResult(models.PathEnhanced)}

	cfg := validationCfg()
	cfg.ParallelEnabled = false
	o := New(legacy, enhanced, newAuditor(t, repo), cfg, zap.NewNop())

	result := o.Validate(context.Background(), testRequest())
	assert.True(t, result.Valid)
	assert.Equal(t, models.PathEnhanced, result.Path)

	stats := o.GetStats()
	assert.Equal(t, uint64(0), stats.Comparisons)
}

func TestAgreementCountsComparison(t *testing.T) {
	repo := &capturingAuditRepo{}
	legacy := &fixedValidator{result: validResult(models.PathLegacy)}
	enhanced := &fixedValidator{result: validResult(models.PathEnhanced)}

	o := New(legacy, enhanced, newAuditor(t, repo), validationCfg(), zap.NewNop())

	o.Validate(context.Background(), testRequest())

	waitFor(t, func() bool { return o.GetStats().Comparisons == 1 }, "comparison not recorded")
	assert.Equal(t, uint64(0), o.GetStats().Discrepancies)
	assert.Empty(t, repo.outcomes())
}

func TestDiscrepancyRecordedAndAudited(t *testing.T) {
	repo := &capturingAuditRepo{}
	legacy := &fixedValidator{result: validResult(models.PathLegacy)}
	enhanced := &fixedValidator{result: &models.ValidationResult{Valid: false, Reason: models.ReasonInsufficientScope, Path: models.PathEnhanced}}

	o := New(legacy, enhanced, newAuditor(t, repo), validationCfg(), zap.NewNop())

	result := o.Validate(context.Background(), testRequest())
	assert.True(t, result.Valid, "fail-safe serves the legacy outcome despite the discrepancy")

	waitFor(t, func() bool { return o.GetStats().Discrepancies == 1 }, "discrepancy not recorded")

	waitFor(t, func() bool {
		for _, outcome := range repo.outcomes() {
			if outcome == models.AuditOutcomeDiscrepancy {
				return true
			}
		}
		return false
	}, "discrepancy audit event not persisted")
}

func TestShadowTimeoutIsInconclusive(t *testing.T) {
	repo := &capturingAuditRepo{}
	legacy := &fixedValidator{result: validResult(models.PathLegacy)}
	enhanced := &fixedValidator{
		result: &models.ValidationResult{Valid: false, Reason: models.ReasonInvalidToken, Path: models.PathEnhanced},
		delay:  10 * time.Second,
	}

	cfg := validationCfg()
	cfg.Timeout = 50 * time.Millisecond
	o := New(legacy, enhanced, newAuditor(t, repo), cfg, zap.NewNop())

	result := o.Validate(context.Background(), testRequest())
	assert.True(t, result.Valid)

	waitFor(t, func() bool { return o.GetStats().Inconclusive == 1 }, "timed-out shadow not marked inconclusive")
	assert.Equal(t, uint64(0), o.GetStats().Discrepancies, "a timed-out path must not count as a discrepancy")
}

func TestServedPathTimeout(t *testing.T) {
	repo := &capturingAuditRepo{}
	legacy := &fixedValidator{result: validResult(models.PathLegacy), delay: 10 * time.Second}
	enhanced := &fixedValidator{result: validResult(models.PathEnhanced)}

	cfg := validationCfg()
	cfg.ServedBudget = 30 * time.Millisecond
	o := New(legacy, enhanced, newAuditor(t, repo), cfg, zap.NewNop())

	result := o.Validate(context.Background(), testRequest())
	assert.False(t, result.Valid)
	assert.Equal(t, models.ReasonTimeout, result.Reason)
}
