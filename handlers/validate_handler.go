package handlers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/perimeterlabs/token-gateway/app"
	"github.com/perimeterlabs/token-gateway/middleware"
	"github.com/perimeterlabs/token-gateway/models"
	"github.com/perimeterlabs/token-gateway/utils"
)

// validateRequest is the request body for POST /api/v1/validate. Token and
// tenant may instead arrive via the Authorization and X-Tenant-ID headers.
type validateRequest struct {
	Token         string `json:"token,omitempty"`
	TenantID      string `json:"tenant_id,omitempty"`
	RequiredScope string `json:"required_scope" validate:"required"`
	Endpoint      string `json:"endpoint,omitempty"`
}

// validateResponse is the success body; failures use externalFailure
type validateResponse struct {
	Valid              bool     `json:"valid"`
	GrantedScopes      []string `json:"granted_scopes"`
	RateLimitRemaining int      `json:"rate_limit_remaining"`
	Path               string   `json:"path"`
}

// externalFailure is the caller-safe failure body. It carries only the
// translated message and hint; internal identifiers and reasons stay inside.
type externalFailure struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message"`
	Hint    string `json:"hint,omitempty"`
}

// ValidateHandler adjudicates a presented credential
func ValidateHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body validateRequest
		if err := decodeJSON(r, &body); err != nil {
			respondError(w, http.StatusBadRequest, "bad_request", "Invalid request body")
			return
		}
		if err := utils.ValidateStruct(&body); err != nil {
			HandleValidationError(w, err, deps.Logger)
			return
		}

		req := &models.ValidationRequest{
			Token:         body.Token,
			RequiredScope: body.RequiredScope,
			ClientIP:      r.RemoteAddr,
			UserAgent:     r.UserAgent(),
			Endpoint:      body.Endpoint,
		}
		if req.Endpoint == "" {
			req.Endpoint = r.URL.Path
		}
		if req.Token == "" {
			req.Token = middleware.GetBearerToken(r.Context())
		}

		if body.TenantID != "" {
			tenantID, err := utils.ParseUUID(body.TenantID, "tenant_id")
			if err != nil {
				respondError(w, http.StatusBadRequest, "bad_request", err.Error())
				return
			}
			req.TenantHint = tenantID
		} else if tenantID, ok := middleware.GetTenantID(r.Context()); ok {
			req.TenantHint = tenantID
		}

		// A request with no tenant context is malformed, not a cross-tenant
		// attempt; reject it before it reaches the security audit trail.
		if req.TenantHint == uuid.Nil {
			respondError(w, http.StatusBadRequest, "bad_request", "tenant_id is required: set the body field or the X-Tenant-ID header")
			return
		}

		result := deps.Gateway.Validate(r.Context(), req)
		if !result.Valid {
			ext := deps.Gateway.Externalize(result)
			respondJSON(w, failureStatus(result.Reason), externalFailure{
				Valid:   false,
				Message: ext.Message,
				Hint:    ext.Hint,
			})
			return
		}

		respondJSON(w, http.StatusOK, validateResponse{
			Valid:              true,
			GrantedScopes:      result.GrantedScopes,
			RateLimitRemaining: result.RateLimitRemaining,
			Path:               string(result.Path),
		})
	}
}

// failureStatus maps a failure reason to an HTTP status. Cross-tenant maps
// to 404 so the existence of another tenant's resources never leaks.
func failureStatus(reason models.FailureReason) int {
	switch reason {
	case models.ReasonCrossTenant:
		return http.StatusNotFound
	case models.ReasonExpiredToken, models.ReasonInvalidToken:
		return http.StatusUnauthorized
	case models.ReasonInsufficientScope:
		return http.StatusForbidden
	case models.ReasonRateLimitExceeded:
		return http.StatusTooManyRequests
	case models.ReasonTimeout, models.ReasonStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusUnauthorized
	}
}
