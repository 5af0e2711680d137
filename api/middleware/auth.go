package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/keeply/keeply-backend/api/responses"
	"github.com/keeply/keeply-backend/internal/membership"
	"github.com/keeply/keeply-backend/internal/users"
	pkgauth "github.com/keeply/keeply-backend/pkg/auth"
	pkgerrors "github.com/keeply/keeply-backend/pkg/errors"
	"github.com/keeply/keeply-backend/pkg/logger"
)

type tokenVerifier interface {
	Verify(string) (pkgauth.Identity, error)
}

// ProfileRecorder keeps the member directory in step with identity claims.
type ProfileRecorder interface {
	UpsertProfile(context.Context, users.Profile) error
}

// Auth validates a bearer token and seeds the request context with the caller.
// Profile refresh is best effort; a directory outage never blocks the request.
func Auth(verifier tokenVerifier, profiles ProfileRecorder, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			identity, err := verifier.Verify(token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}

			ctx := WithCaller(r.Context(), membership.Caller{
				UserID:        identity.UserID,
				Email:         identity.Email,
				EmailVerified: identity.EmailVerified,
				Name:          identity.Name,
			})
			if logg != nil {
				ctx = logg.WithUserID(ctx, identity.UserID)
			}

			if profiles != nil {
				if err := profiles.UpsertProfile(ctx, profileFromIdentity(identity)); err != nil && logg != nil {
					logg.Warn(logg.WithField(ctx, "error", err.Error()), "directory.profile_refresh_failed")
				}
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		return ""
	}
	if strings.HasPrefix(strings.ToLower(raw), "bearer ") {
		raw = strings.TrimSpace(raw[7:])
	}
	return raw
}

func profileFromIdentity(identity pkgauth.Identity) users.Profile {
	profile := users.Profile{UserID: identity.UserID}
	if email := strings.TrimSpace(identity.Email); email != "" {
		profile.Email = &email
	}
	if name := strings.TrimSpace(identity.Name); name != "" {
		profile.Name = &name
	}
	return profile
}
