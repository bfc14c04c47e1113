package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/perimeterlabs/token-gateway/app"
	"github.com/perimeterlabs/token-gateway/middleware"
	"github.com/perimeterlabs/token-gateway/models"
	"github.com/perimeterlabs/token-gateway/utils"
)

// issueRequest is the request body for POST /api/v1/tokens
type issueRequest struct {
	TenantID      string   `json:"tenant_id" validate:"required,uuid"`
	Scopes        []string `json:"scopes" validate:"required,min=1"`
	TTLSeconds    int      `json:"ttl_seconds" validate:"required,gt=0"`
	SecurityLevel string   `json:"security_level,omitempty" validate:"omitempty,oneof=standard elevated critical"`
}

// IssueTokenHandler creates a new token bound to a single tenant
func IssueTokenHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body issueRequest
		if err := decodeJSON(r, &body); err != nil {
			respondError(w, http.StatusBadRequest, "bad_request", "Invalid request body")
			return
		}
		if err := utils.ValidateStruct(&body); err != nil {
			HandleValidationError(w, err, deps.Logger)
			return
		}

		tenantID, err := utils.ParseUUID(body.TenantID, "tenant_id")
		if err != nil {
			respondError(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}

		issued, err := deps.Gateway.Issue(r.Context(), tenantID, body.Scopes,
			time.Duration(body.TTLSeconds)*time.Second, models.SecurityLevel(body.SecurityLevel))
		if err != nil {
			HandleServiceError(w, err, deps.Logger)
			return
		}

		if err := utils.WriteCreated(w, issued); err != nil {
			deps.Logger.Error("failed to write issue response")
		}
	}
}

// ExtendTokenHandler renews a token on explicit request. The caller's tenant
// comes from the X-Tenant-ID header; extension never crosses tenants.
func ExtendTokenHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tokenID, err := utils.ParseUUID(chi.URLParam(r, "id"), "token id")
		if err != nil {
			respondError(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}

		tenantID, ok := middleware.GetTenantID(r.Context())
		if !ok {
			respondError(w, http.StatusBadRequest, "bad_request", "X-Tenant-ID header is required")
			return
		}

		res, err := deps.Gateway.Extend(r.Context(), tokenID, tenantID)
		if err != nil {
			HandleServiceError(w, err, deps.Logger)
			return
		}

		if err := utils.WriteOK(w, res); err != nil {
			deps.Logger.Error("failed to write extend response")
		}
	}
}

// RevokeTokenHandler invalidates a token immediately
func RevokeTokenHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tokenID, err := utils.ParseUUID(chi.URLParam(r, "id"), "token id")
		if err != nil {
			respondError(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}

		if err := deps.Gateway.Revoke(r.Context(), tokenID); err != nil {
			HandleServiceError(w, err, deps.Logger)
			return
		}

		utils.WriteNoContent(w)
	}
}
