package controllers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/keeply/keeply-backend/api/middleware"
	"github.com/keeply/keeply-backend/api/responses"
	"github.com/keeply/keeply-backend/api/validators"
	"github.com/keeply/keeply-backend/internal/membership"
	pkgerrors "github.com/keeply/keeply-backend/pkg/errors"
	"github.com/keeply/keeply-backend/pkg/logger"
)

type setRoleRequest struct {
	Role string `json:"role" validate:"required"`
}

type transferRequest struct {
	UserID string `json:"user_id" validate:"required"`
}

func userIDParam(r *http.Request) (string, error) {
	userID := strings.TrimSpace(chi.URLParam(r, "userId"))
	if userID == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	return userID, nil
}

// SetMemberRole changes a member's role. The service rejects roles outside the closed set.
func SetMemberRole(svc membership.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		familyID, err := familyIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		userID, err := userIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req setRoleRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.SetRole(r.Context(), middleware.CallerFromContext(r.Context()), familyID, userID, req.Role)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func RemoveMember(svc membership.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		familyID, err := familyIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		userID, err := userIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.RemoveMember(r.Context(), middleware.CallerFromContext(r.Context()), familyID, userID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"removed": true, "user_id": userID})
	}
}

func LeaveFamily(svc membership.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		familyID, err := familyIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.LeaveFamily(r.Context(), middleware.CallerFromContext(r.Context()), familyID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"left": true, "family_id": familyID})
	}
}

func TransferOwnership(svc membership.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		familyID, err := familyIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req transferRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.TransferOwnership(r.Context(), middleware.CallerFromContext(r.Context()), familyID, strings.TrimSpace(req.UserID))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
