package translator

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/perimeterlabs/token-gateway/models"
)

func TestTranslateKnownReasons(t *testing.T) {
	tests := []struct {
		reason  models.FailureReason
		message string
	}{
		{models.ReasonCrossTenant, "Resource not found"},
		{models.ReasonExpiredToken, "Please log in again"},
		{models.ReasonInsufficientScope, "Access not available"},
		{models.ReasonTimeout, "Service temporarily unavailable"},
		{models.ReasonInvalidToken, "Authentication failed"},
		{models.ReasonRateLimitExceeded, "Too many requests"},
		{models.ReasonStoreUnavailable, "Service temporarily unavailable"},
	}

	for _, tt := range tests {
		t.Run(string(tt.reason), func(t *testing.T) {
			ext := Translate(tt.reason)
			assert.Equal(t, tt.message, ext.Message)
			assert.NotEmpty(t, ext.Hint)
		})
	}
}

func TestTranslateUnknownReason(t *testing.T) {
	ext := Translate(models.FailureReason("something_new"))
	assert.Equal(t, fallback, ext)
}

func TestCrossTenantMaskedAsNotFound(t *testing.T) {
	// A caller must not be able to tell a cross-tenant denial from a
	// genuinely missing resource.
	ext := Translate(models.ReasonCrossTenant)
	assert.NotContains(t, ext.Message, "tenant")
	assert.NotContains(t, ext.Hint, "tenant")
	assert.Equal(t, "Resource not found", ext.Message)
}

func TestNoInternalIdentifiersInOutput(t *testing.T) {
	uuidPattern := regexp.MustCompile(`[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)

	for reason, ext := range translations {
		assert.NotRegexp(t, uuidPattern, ext.Message, "reason %s leaks identifiers", reason)
		assert.NotRegexp(t, uuidPattern, ext.Hint, "reason %s leaks identifiers", reason)
		assert.NotContains(t, ext.Message, string(reason))
	}
}
