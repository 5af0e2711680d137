package controllers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/keeply/keeply-backend/api/middleware"
	"github.com/keeply/keeply-backend/api/responses"
	"github.com/keeply/keeply-backend/api/validators"
	"github.com/keeply/keeply-backend/internal/membership"
	pkgerrors "github.com/keeply/keeply-backend/pkg/errors"
	"github.com/keeply/keeply-backend/pkg/logger"
)

type createFamilyRequest struct {
	Name        string  `json:"name" validate:"required,max=100"`
	Description *string `json:"description,omitempty" validate:"omitempty,max=500"`
}

type updateFamilyRequest struct {
	Name        *string `json:"name,omitempty" validate:"omitempty,max=100"`
	Description *string `json:"description,omitempty" validate:"omitempty,max=500"`
}

func familyIDParam(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "familyId")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid family id")
	}
	return id, nil
}

// CreateFamily creates a family with the caller as its admin.
func CreateFamily(svc membership.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createFamilyRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		details, err := svc.CreateFamily(r.Context(), middleware.CallerFromContext(r.Context()), membership.CreateFamilyInput{
			Name:        req.Name,
			Description: req.Description,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, details)
	}
}

func GetMyFamily(svc membership.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		details, err := svc.GetMyFamily(r.Context(), middleware.CallerFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, details)
	}
}

func GetFamilyInfo(svc membership.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		familyID, err := familyIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		info, err := svc.GetFamilyInfo(r.Context(), middleware.CallerFromContext(r.Context()), familyID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, info)
	}
}

func UpdateFamily(svc membership.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		familyID, err := familyIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req updateFamilyRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if req.Name == nil && req.Description == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "nothing to update"))
			return
		}

		family, err := svc.UpdateFamily(r.Context(), middleware.CallerFromContext(r.Context()), familyID, membership.UpdateFamilyInput{
			Name:        req.Name,
			Description: req.Description,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, family)
	}
}

func DeleteFamily(svc membership.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		familyID, err := familyIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.DeleteFamily(r.Context(), middleware.CallerFromContext(r.Context()), familyID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"deleted": true, "family_id": familyID})
	}
}

func ListMembers(svc membership.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		familyID, err := familyIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		members, err := svc.ListMembers(r.Context(), middleware.CallerFromContext(r.Context()), familyID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, members)
	}
}
