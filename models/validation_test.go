package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSameOutcome(t *testing.T) {
	tests := []struct {
		name     string
		a        *ValidationResult
		b        *ValidationResult
		expected bool
	}{
		{
			name:     "both valid",
			a:        &ValidationResult{Valid: true},
			b:        &ValidationResult{Valid: true},
			expected: true,
		},
		{
			name:     "valid vs invalid",
			a:        &ValidationResult{Valid: true},
			b:        &ValidationResult{Valid: false, Reason: ReasonExpiredToken},
			expected: false,
		},
		{
			name:     "same failure reason",
			a:        &ValidationResult{Valid: false, Reason: ReasonCrossTenant},
			b:        &ValidationResult{Valid: false, Reason: ReasonCrossTenant},
			expected: true,
		},
		{
			name:     "different failure reasons",
			a:        &ValidationResult{Valid: false, Reason: ReasonExpiredToken},
			b:        &ValidationResult{Valid: false, Reason: ReasonInvalidToken},
			expected: false,
		},
		{
			name:     "nil other",
			a:        &ValidationResult{Valid: true},
			b:        nil,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.a.SameOutcome(tt.b))
		})
	}
}

func TestFailure(t *testing.T) {
	result := Failure(ReasonInsufficientScope, PathEnhanced)

	assert.False(t, result.Valid)
	assert.Equal(t, ReasonInsufficientScope, result.Reason)
	assert.Equal(t, PathEnhanced, result.Path)
}
