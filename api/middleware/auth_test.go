package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/keeply/keeply-backend/internal/membership"
	"github.com/keeply/keeply-backend/internal/users"
	"github.com/keeply/keeply-backend/pkg/auth"
	"github.com/keeply/keeply-backend/pkg/config"
)

func testAuthConfig() config.AuthConfig {
	return config.AuthConfig{Secret: "secret", Issuer: "issuer", ClockSkew: time.Second}
}

func newTestVerifier(t *testing.T) *auth.Verifier {
	t.Helper()
	verifier, err := auth.NewVerifier(testAuthConfig())
	require.NoError(t, err)
	return verifier
}

func mintTestToken(t *testing.T, identity auth.Identity) string {
	t.Helper()
	token, err := auth.MintToken(testAuthConfig(), time.Now(), identity, time.Hour)
	require.NoError(t, err)
	return token
}

func TestAuthRejectsMissingToken(t *testing.T) {
	handler := Auth(newTestVerifier(t), nil, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestAuthRejectsInvalidToken(t *testing.T) {
	handler := Auth(newTestVerifier(t), nil, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer invalid")
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestAuthSeedsCallerAndRefreshesProfile(t *testing.T) {
	token := mintTestToken(t, auth.Identity{UserID: "user-1", Email: "Sam@Example.com", EmailVerified: true, Name: "Sam"})
	profiles := &recordingProfiles{}

	var caller membership.Caller
	handler := Auth(newTestVerifier(t), profiles, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller = CallerFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, "user-1", caller.UserID)
	require.Equal(t, "Sam@Example.com", caller.Email)
	require.True(t, caller.EmailVerified)
	require.Len(t, profiles.seen, 1)
	require.Equal(t, "user-1", profiles.seen[0].UserID)
	require.Equal(t, "Sam", *profiles.seen[0].Name)
}

func TestAuthToleratesDirectoryFailure(t *testing.T) {
	token := mintTestToken(t, auth.Identity{UserID: "user-2"})
	profiles := &recordingProfiles{err: errors.New("db down")}

	handler := Auth(newTestVerifier(t), profiles, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "user-2", UserIDFromContext(r.Context()))
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	require.Equal(t, http.StatusNoContent, resp.Code)
	require.Len(t, profiles.seen, 1)
	require.Nil(t, profiles.seen[0].Email)
}

type recordingProfiles struct {
	seen []users.Profile
	err  error
}

func (r *recordingProfiles) UpsertProfile(_ context.Context, p users.Profile) error {
	r.seen = append(r.seen, p)
	return r.err
}
