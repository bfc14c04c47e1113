package translator

import (
	"github.com/perimeterlabs/token-gateway/models"
)

// ExternalError is the caller-facing rendering of a failure. It carries no
// internal identifiers: no tenant IDs, no store detail, no stack text.
type ExternalError struct {
	Message string `json:"message"`
	Hint    string `json:"hint"`
}

// translations is the fixed mapping from internal reason to external
// message. A cross-tenant attempt is deliberately indistinguishable from a
// missing resource to the caller.
var translations = map[models.FailureReason]ExternalError{
	models.ReasonCrossTenant: {
		Message: "Resource not found",
		Hint:    "Try searching again",
	},
	models.ReasonExpiredToken: {
		Message: "Please log in again",
		Hint:    "Refresh your session",
	},
	models.ReasonInsufficientScope: {
		Message: "Access not available",
		Hint:    "Contact your administrator",
	},
	models.ReasonTimeout: {
		Message: "Service temporarily unavailable",
		Hint:    "Try again shortly",
	},
	models.ReasonInvalidToken: {
		Message: "Authentication failed",
		Hint:    "Log in and try again",
	},
	models.ReasonRateLimitExceeded: {
		Message: "Too many requests",
		Hint:    "Slow down and retry",
	},
	models.ReasonStoreUnavailable: {
		Message: "Service temporarily unavailable",
		Hint:    "Try again shortly",
	},
}

// fallback is served for any reason outside the known set
var fallback = ExternalError{
	Message: "Request could not be completed",
	Hint:    "Try again shortly",
}

// Translate maps an internal failure reason to its external message and hint
func Translate(reason models.FailureReason) ExternalError {
	if ext, ok := translations[reason]; ok {
		return ext
	}
	return fallback
}
