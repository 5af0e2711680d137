package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/keeply/keeply-backend/api/controllers"
	"github.com/keeply/keeply-backend/internal/avatars"
	"github.com/keeply/keeply-backend/internal/families"
	"github.com/keeply/keeply-backend/internal/invites"
	"github.com/keeply/keeply-backend/internal/mail"
	"github.com/keeply/keeply-backend/internal/membership"
	"github.com/keeply/keeply-backend/internal/users"
	pkgauth "github.com/keeply/keeply-backend/pkg/auth"
	"github.com/keeply/keeply-backend/pkg/config"
	"github.com/keeply/keeply-backend/pkg/db/dbtest"
	"github.com/keeply/keeply-backend/pkg/logger"
	"github.com/keeply/keeply-backend/pkg/metrics"
	"github.com/keeply/keeply-backend/pkg/outbox"
)

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error {
	return s.err
}

type memoryRedis struct {
	mu   sync.Mutex
	data map[string]string
	hits map[string]int64
}

func newMemoryRedis() *memoryRedis {
	return &memoryRedis{data: map[string]string{}, hits: map[string]int64{}}
}

func (m *memoryRedis) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.data[key]; ok {
		return v, nil
	}
	return "", redis.Nil
}

func (m *memoryRedis) Set(_ context.Context, key string, value any, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = fmt.Sprint(value)
	return nil
}

func (m *memoryRedis) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = fmt.Sprint(value)
	return true, nil
}

func (m *memoryRedis) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *memoryRedis) IdempotencyKey(scope, id string) string {
	return "idem:" + scope + ":" + id
}

func (m *memoryRedis) IncrWithTTL(_ context.Context, key string, _ time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hits[key]++
	return m.hits[key], nil
}

type stubAvatars struct{}

func (stubAvatars) UploadTarget(_ context.Context, userID, contentType string) (*avatars.UploadTarget, error) {
	return &avatars.UploadTarget{URL: "https://signed/put", Key: avatars.KeyFor(userID), ContentType: contentType}, nil
}

func (stubAvatars) SetAvatar(context.Context, string, string) error { return nil }

func (stubAvatars) ViewURL(context.Context, string) (*avatars.ViewURL, error) {
	return &avatars.ViewURL{}, nil
}

func (stubAvatars) MemberViewURL(context.Context, string, uuid.UUID, string) (*avatars.ViewURL, error) {
	return &avatars.ViewURL{}, nil
}

type noopMailer struct{}

func (noopMailer) SendInvite(context.Context, mail.InviteMessage) error { return nil }

type testServer struct {
	handler http.Handler
	authCfg config.AuthConfig
	redis   *memoryRedis
}

func newTestServer(t *testing.T, ready map[string]controllers.Pinger) *testServer {
	t.Helper()
	client := dbtest.Client(t)
	conn := client.DB()
	logg := logger.New(logger.Options{ServiceName: "router-test", Output: io.Discard})
	registry := prometheus.NewRegistry()
	directory := users.NewRepository(conn)

	svc, err := membership.NewService(membership.ServiceParams{
		Families:  families.NewRepository(conn),
		Invites:   invites.NewRepository(conn),
		Directory: directory,
		Tx:        client,
		Outbox:    outbox.NewService(outbox.NewRepository(conn), logg),
		Mailer:    noopMailer{},
		Metrics:   metrics.NewMembershipMetrics(registry),
		Logger:    logg,
		Config: config.FamilyConfig{
			InviteDefaultTTL: 72 * time.Hour,
			InviteMaxTTL:     720 * time.Hour,
			OperationTimeout: 5 * time.Second,
			VersionRetries:   3,
			ReadRetries:      1,
		},
		App: config.AppConfig{BaseURL: "https://app.keeply.io"},
	})
	require.NoError(t, err)

	authCfg := config.AuthConfig{Secret: "router-secret", Issuer: "keeply-test", ClockSkew: time.Second}
	verifier, err := pkgauth.NewVerifier(authCfg)
	require.NoError(t, err)

	cfg := &config.Config{
		App:       config.AppConfig{Env: "test"},
		CORS:      config.CORSConfig{AllowedOrigins: []string{"http://localhost:5173"}},
		RateLimit: config.RateLimitConfig{AcceptWindow: time.Minute, AcceptIPLimit: 100, AcceptUserLimit: 3},
	}
	store := newMemoryRedis()

	return &testServer{
		handler: NewRouter(Params{
			Config:     cfg,
			Logger:     logg,
			Verifier:   verifier,
			Profiles:   directory,
			Redis:      store,
			Membership: svc,
			Avatars:    stubAvatars{},
			Gatherer:   registry,
			Ready:      ready,
		}),
		authCfg: authCfg,
		redis:   store,
	}
}

func (s *testServer) token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := pkgauth.MintToken(s.authCfg, time.Now(), pkgauth.Identity{
		UserID:        userID,
		Email:         userID + "@keeply.io",
		EmailVerified: true,
		Name:          strings.ToUpper(userID[:1]) + userID[1:],
	}, time.Hour)
	require.NoError(t, err)
	return tok
}

type call struct {
	method  string
	path    string
	user    string
	body    string
	headers map[string]string
}

func (s *testServer) do(t *testing.T, c call) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if c.body != "" {
		body = bytes.NewBufferString(c.body)
	}
	req := httptest.NewRequest(c.method, c.path, body)
	if c.body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.user != "" {
		req.Header.Set("Authorization", "Bearer "+s.token(t, c.user))
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, dest any) {
	t.Helper()
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope), rec.Body.String())
	require.NoError(t, json.Unmarshal(envelope.Data, dest))
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope), rec.Body.String())
	return envelope.Error.Code
}

func TestHealthAndMetrics(t *testing.T) {
	srv := newTestServer(t, map[string]controllers.Pinger{"db": stubPinger{}})

	rec := srv.do(t, call{method: http.MethodGet, path: "/health/live"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "test", rec.Header().Get("X-Keeply-Env"))

	rec = srv.do(t, call{method: http.MethodGet, path: "/health/ready"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = srv.do(t, call{method: http.MethodGet, path: "/metrics"})
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestReadinessReportsFailingDependency(t *testing.T) {
	srv := newTestServer(t, map[string]controllers.Pinger{
		"db":    stubPinger{},
		"redis": stubPinger{err: fmt.Errorf("connection refused")},
	})

	rec := srv.do(t, call{method: http.MethodGet, path: "/health/ready"})
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, "DEPENDENCY_ERROR", errorCode(t, rec))
}

func TestAPIRequiresBearerToken(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := srv.do(t, call{method: http.MethodGet, path: "/api/v1/families/me"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "UNAUTHORIZED", errorCode(t, rec))
}

func TestFamilyInviteFlowOverHTTP(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := srv.do(t, call{method: http.MethodPost, path: "/api/v1/families", user: "ana", body: `{"name":"Smiths"}`})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var family struct {
		ID     string `json:"id"`
		MyRole string `json:"my_role"`
	}
	decodeData(t, rec, &family)
	require.Equal(t, "admin", family.MyRole)
	invitesPath := "/api/v1/families/" + family.ID + "/invites"

	rec = srv.do(t, call{method: http.MethodPost, path: invitesPath, user: "ana", body: `{"type":"code"}`})
	require.Equal(t, http.StatusBadRequest, rec.Code, "Idempotency-Key is mandatory for invites")

	withKey := map[string]string{"Idempotency-Key": "invite-1"}
	first := srv.do(t, call{method: http.MethodPost, path: invitesPath, user: "ana", body: `{"type":"code"}`, headers: withKey})
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	replay := srv.do(t, call{method: http.MethodPost, path: invitesPath, user: "ana", body: `{"type":"code"}`, headers: withKey})
	require.Equal(t, http.StatusCreated, replay.Code)
	require.JSONEq(t, first.Body.String(), replay.Body.String())

	var created struct {
		Invite struct {
			ID   string `json:"id"`
			Code string `json:"code"`
		} `json:"invite"`
		Link string `json:"link"`
	}
	decodeData(t, first, &created)
	require.True(t, strings.HasPrefix(created.Invite.Code, "FAM-"))

	rec = srv.do(t, call{method: http.MethodGet, path: invitesPath, user: "ana"})
	require.Equal(t, http.StatusOK, rec.Code)
	var pending []map[string]any
	decodeData(t, rec, &pending)
	require.Len(t, pending, 1, "replay must not create a second invite")

	rec = srv.do(t, call{method: http.MethodPost, path: "/api/v1/invites/accept", user: "ben", body: `{"code":"` + strings.ToLower(created.Invite.Code) + `"}`})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var accepted struct {
		Outcome string `json:"outcome"`
		Role    string `json:"role"`
	}
	decodeData(t, rec, &accepted)
	require.Equal(t, "joined", accepted.Outcome)
	require.Equal(t, "member", accepted.Role)

	rec = srv.do(t, call{method: http.MethodGet, path: "/api/v1/families/" + family.ID + "/members", user: "ben"})
	require.Equal(t, http.StatusOK, rec.Code)
	var members []struct {
		UserID string  `json:"user_id"`
		Name   *string `json:"name"`
	}
	decodeData(t, rec, &members)
	require.Len(t, members, 2)
	for _, m := range members {
		require.NotNil(t, m.Name, "auth middleware should have recorded the profile of %s", m.UserID)
	}

	rec = srv.do(t, call{method: http.MethodPut, path: "/api/v1/families/" + family.ID + "/members/ben/role", user: "ana", body: `{"role":"superuser"}`})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = srv.do(t, call{method: http.MethodPut, path: "/api/v1/families/" + family.ID + "/members/ben/role", user: "ben", body: `{"role":"admin"}`})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = srv.do(t, call{method: http.MethodPost, path: "/api/v1/families/" + family.ID + "/leave", user: "ben"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = srv.do(t, call{method: http.MethodGet, path: "/api/v1/families/me", user: "ben"})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAcceptIsRateLimitedPerUser(t *testing.T) {
	srv := newTestServer(t, nil)

	var last *httptest.ResponseRecorder
	for i := 0; i < 4; i++ {
		last = srv.do(t, call{method: http.MethodPost, path: "/api/v1/invites/accept", user: "guesser", body: `{"code":"FAM-000000"}`})
	}
	require.Equal(t, http.StatusTooManyRequests, last.Code)
	require.Equal(t, "RATE_LIMIT_EXCEEDED", errorCode(t, last))
}

func TestRejectsMalformedFamilyID(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := srv.do(t, call{method: http.MethodGet, path: "/api/v1/families/not-a-uuid", user: "ana"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "VALIDATION_ERROR", errorCode(t, rec))
}

func TestAvatarRoutesMounted(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := srv.do(t, call{method: http.MethodPost, path: "/api/v1/me/avatar/upload-url", user: "ana", body: `{"content_type":"image/png"}`})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var target avatars.UploadTarget
	decodeData(t, rec, &target)
	require.Equal(t, "avatars/ana/avatar", target.Key)

	rec = srv.do(t, call{method: http.MethodGet, path: "/api/v1/me/avatar", user: "ana"})
	require.Equal(t, http.StatusOK, rec.Code)
}
