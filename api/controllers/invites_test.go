package controllers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/keeply/keeply-backend/api/middleware"
	"github.com/keeply/keeply-backend/internal/membership"
	"github.com/keeply/keeply-backend/pkg/enums"
	pkgerrors "github.com/keeply/keeply-backend/pkg/errors"
)

// recordingService captures the inputs that reach the service.
type recordingService struct {
	membership.Service
	invite membership.CreateInviteInput
	accept membership.AcceptInviteInput
	caller membership.Caller
}

func (r *recordingService) CreateInvite(_ context.Context, caller membership.Caller, _ uuid.UUID, input membership.CreateInviteInput) (*membership.CreateInviteResult, error) {
	r.caller = caller
	r.invite = input
	return &membership.CreateInviteResult{Link: "https://app.keeply.io/invite/x"}, nil
}

func (r *recordingService) AcceptInvite(_ context.Context, caller membership.Caller, input membership.AcceptInviteInput) (*membership.AcceptInviteResult, error) {
	r.caller = caller
	r.accept = input
	return &membership.AcceptInviteResult{Outcome: membership.AcceptJoined}, nil
}

func withFamilyParam(req *http.Request, familyID string) *http.Request {
	rc := chi.NewRouteContext()
	rc.URLParams.Add("familyId", familyID)
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, rc)
	return req.WithContext(middleware.WithCaller(ctx, membership.Caller{UserID: "ana"}))
}

func TestCreateInviteMapsRequest(t *testing.T) {
	svc := &recordingService{}
	body := `{"type":"EMAIL","email":"ben@keeply.io","role":"Parent","expires_in_hours":24}`
	req := withFamilyParam(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)), uuid.NewString())
	rec := httptest.NewRecorder()

	CreateInvite(svc, nil).ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code, "type is validated before parsing, so upper case is rejected")

	body = `{"type":"email","email":"ben@keeply.io","role":"Parent","expires_in_hours":24}`
	req = withFamilyParam(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)), uuid.NewString())
	rec = httptest.NewRecorder()
	CreateInvite(svc, nil).ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Equal(t, enums.InviteTypeEmail, svc.invite.Type)
	require.Equal(t, enums.FamilyRoleParent, svc.invite.Role)
	require.Equal(t, 24*time.Hour, svc.invite.TTL)
	require.Equal(t, "ana", svc.caller.UserID)
}

func TestCreateInviteRejectsUnknownRoleAndFields(t *testing.T) {
	for _, body := range []string{
		`{"type":"code","role":"owner"}`,
		`{"type":"code","max_uses":3}`,
		`{"type":"email","email":"not-an-email"}`,
	} {
		svc := &recordingService{}
		req := withFamilyParam(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)), uuid.NewString())
		rec := httptest.NewRecorder()
		CreateInvite(svc, nil).ServeHTTP(rec, req)
		require.Equal(t, http.StatusBadRequest, rec.Code, body)
		require.Contains(t, rec.Body.String(), string(pkgerrors.CodeValidation))
	}
}

func TestCreateInviteExpiryInMinutes(t *testing.T) {
	svc := &recordingService{}
	req := withFamilyParam(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"type":"code","expires_in_minutes":10}`)), uuid.NewString())
	rec := httptest.NewRecorder()
	CreateInvite(svc, nil).ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Equal(t, 10*time.Minute, svc.invite.TTL)

	for _, body := range []string{
		`{"type":"code","expires_in_minutes":10,"expires_in_hours":1}`,
		`{"type":"code","expires_in_minutes":0.5}`,
	} {
		req = withFamilyParam(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)), uuid.NewString())
		rec = httptest.NewRecorder()
		CreateInvite(&recordingService{}, nil).ServeHTTP(rec, req)
		require.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

func TestCreateInviteRejectsBadFamilyID(t *testing.T) {
	req := withFamilyParam(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"type":"code"}`)), "family-1")
	rec := httptest.NewRecorder()
	CreateInvite(&recordingService{}, nil).ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAcceptInviteTrimsCode(t *testing.T) {
	svc := &recordingService{}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"code":"  fam-a1b2c3  "}`))
	req = req.WithContext(middleware.WithCaller(req.Context(), membership.Caller{UserID: "ben", Email: "ben@keeply.io"}))
	rec := httptest.NewRecorder()

	AcceptInvite(svc, nil).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "fam-a1b2c3", svc.accept.Code)
	require.Equal(t, "ben@keeply.io", svc.caller.Email)
}
