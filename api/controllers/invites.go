package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keeply/keeply-backend/api/middleware"
	"github.com/keeply/keeply-backend/api/responses"
	"github.com/keeply/keeply-backend/api/validators"
	"github.com/keeply/keeply-backend/internal/membership"
	"github.com/keeply/keeply-backend/pkg/enums"
	pkgerrors "github.com/keeply/keeply-backend/pkg/errors"
	"github.com/keeply/keeply-backend/pkg/logger"
)

const maxCodeLength = 32

type createInviteRequest struct {
	Type  string  `json:"type" validate:"required,oneof=email code"`
	Email *string `json:"email,omitempty" validate:"omitempty,email,max=254"`
	Role  string  `json:"role,omitempty"`
	// At most one of the two expiry fields may be set.
	ExpiresInMinutes int `json:"expires_in_minutes,omitempty" validate:"omitempty,min=1"`
	ExpiresInHours   int `json:"expires_in_hours,omitempty" validate:"omitempty,min=1"`
}

type acceptInviteRequest struct {
	InviteID string `json:"invite_id,omitempty"`
	Code     string `json:"code,omitempty"`
}

func (r createInviteRequest) toInput() (membership.CreateInviteInput, error) {
	inviteType, err := enums.ParseInviteType(r.Type)
	if err != nil {
		return membership.CreateInviteInput{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid invite type")
	}
	if r.ExpiresInMinutes > 0 && r.ExpiresInHours > 0 {
		return membership.CreateInviteInput{}, pkgerrors.New(pkgerrors.CodeValidation, "set expires_in_minutes or expires_in_hours, not both")
	}
	input := membership.CreateInviteInput{
		Type:  inviteType,
		Email: r.Email,
		TTL:   time.Duration(r.ExpiresInMinutes)*time.Minute + time.Duration(r.ExpiresInHours)*time.Hour,
	}
	if strings.TrimSpace(r.Role) != "" {
		role, err := enums.ParseFamilyRole(r.Role)
		if err != nil {
			return membership.CreateInviteInput{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid role").
				WithDetails(map[string]any{"role": r.Role})
		}
		input.Role = role
	}
	return input, nil
}

// CreateInvite issues an email or code invite. Clients must send an Idempotency-Key.
func CreateInvite(svc membership.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		familyID, err := familyIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req createInviteRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		input, err := req.toInput()
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.CreateInvite(r.Context(), middleware.CallerFromContext(r.Context()), familyID, input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

func ListPendingInvites(svc membership.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		familyID, err := familyIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		pending, err := svc.ListPendingInvites(r.Context(), middleware.CallerFromContext(r.Context()), familyID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, pending)
	}
}

func RevokeInvite(svc membership.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		inviteID := strings.TrimSpace(chi.URLParam(r, "inviteId"))
		if inviteID == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invite id is required"))
			return
		}
		invite, err := svc.RevokeInvite(r.Context(), middleware.CallerFromContext(r.Context()), inviteID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, invite)
	}
}

// AcceptInvite redeems an invite by id or by code.
func AcceptInvite(svc membership.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req acceptInviteRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.AcceptInvite(r.Context(), middleware.CallerFromContext(r.Context()), membership.AcceptInviteInput{
			InviteID: validators.SanitizeString(req.InviteID, 64),
			Code:     validators.SanitizeString(req.Code, maxCodeLength),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
