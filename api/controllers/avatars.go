package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/keeply/keeply-backend/api/middleware"
	"github.com/keeply/keeply-backend/api/responses"
	"github.com/keeply/keeply-backend/api/validators"
	"github.com/keeply/keeply-backend/internal/avatars"
	"github.com/keeply/keeply-backend/pkg/logger"
)

// AvatarService is the avatar surface the controllers need.
type AvatarService interface {
	UploadTarget(ctx context.Context, userID, contentType string) (*avatars.UploadTarget, error)
	SetAvatar(ctx context.Context, userID, key string) error
	ViewURL(ctx context.Context, userID string) (*avatars.ViewURL, error)
	MemberViewURL(ctx context.Context, callerID string, familyID uuid.UUID, userID string) (*avatars.ViewURL, error)
}

type uploadTargetRequest struct {
	ContentType string `json:"content_type,omitempty"`
}

type setAvatarRequest struct {
	Key string `json:"key" validate:"required,max=256"`
}

func AvatarUploadTarget(svc AvatarService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req uploadTargetRequest
		if r.ContentLength != 0 {
			if err := validators.DecodeJSONBody(r, &req); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}
		target, err := svc.UploadTarget(r.Context(), middleware.UserIDFromContext(r.Context()), req.ContentType)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, target)
	}
}

func SetAvatar(svc AvatarService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req setAvatarRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.SetAvatar(r.Context(), middleware.UserIDFromContext(r.Context()), req.Key); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"key": req.Key})
	}
}

func AvatarViewURL(svc AvatarService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := svc.ViewURL(r.Context(), middleware.UserIDFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

func MemberAvatarViewURL(svc AvatarService, logg *logger.Logger) http.HandlerFunc {
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
		view, err := svc.MemberViewURL(r.Context(), middleware.UserIDFromContext(r.Context()), familyID, userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}
