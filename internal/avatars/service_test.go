package avatars

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/keeply/keeply-backend/internal/users"
	"github.com/keeply/keeply-backend/pkg/config"
	"github.com/keeply/keeply-backend/pkg/db/dbtest"
	pkgerrors "github.com/keeply/keeply-backend/pkg/errors"
)

type fakeObjects struct {
	objects   map[string]bool
	deleted   []string
	signErr   error
	existsErr error
}

func (f *fakeObjects) SignedURL(bucket, object, contentType string, _ time.Duration) (string, error) {
	if f.signErr != nil {
		return "", f.signErr
	}
	return "https://signed/put/" + bucket + "/" + object + "?ct=" + contentType, nil
}

func (f *fakeObjects) SignedReadURL(bucket, object string, _ time.Duration) (string, error) {
	if f.signErr != nil {
		return "", f.signErr
	}
	return "https://signed/get/" + bucket + "/" + object, nil
}

func (f *fakeObjects) ObjectExists(_ context.Context, _, object string) (bool, error) {
	if f.existsErr != nil {
		return false, f.existsErr
	}
	return f.objects[object], nil
}

func (f *fakeObjects) DeleteObject(_ context.Context, _, object string) error {
	f.deleted = append(f.deleted, object)
	delete(f.objects, object)
	return nil
}

type fakeFamilies map[string]uuid.UUID

func (f fakeFamilies) FindFamilyIDForUser(_ context.Context, userID string) (*uuid.UUID, error) {
	id, ok := f[userID]
	if !ok {
		return nil, nil
	}
	return &id, nil
}

type harness struct {
	svc      *Service
	objects  *fakeObjects
	profiles *users.Repository
	families fakeFamilies
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		objects:  &fakeObjects{objects: map[string]bool{}},
		profiles: users.NewRepository(dbtest.Open(t)),
		families: fakeFamilies{},
	}
	cfg := config.GCSConfig{AvatarBucket: "keeply-avatars", UploadURLExpiry: 5 * time.Minute, DownloadURLExpiry: 15 * time.Minute}
	svc, err := NewService(h.objects, h.profiles, h.families, cfg, nil)
	require.NoError(t, err)
	svc.now = func() time.Time { return time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC) }
	h.svc = svc
	return h
}

func requireCode(t *testing.T, err error, code pkgerrors.Code) {
	t.Helper()
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed, "expected typed error, got %v", err)
	require.Equal(t, code, typed.Code())
}

func TestUploadTarget(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	target, err := h.svc.UploadTarget(ctx, "u1", "")
	require.NoError(t, err)
	require.Equal(t, "avatars/u1/avatar", target.Key)
	require.Equal(t, "image/jpeg", target.ContentType)
	require.Contains(t, target.URL, "keeply-avatars/avatars/u1/avatar")
	require.Equal(t, time.Date(2026, 6, 1, 8, 5, 0, 0, time.UTC), target.ExpiresAt)

	target, err = h.svc.UploadTarget(ctx, "u1", "IMAGE/PNG")
	require.NoError(t, err)
	require.Equal(t, "image/png", target.ContentType)

	_, err = h.svc.UploadTarget(ctx, "u1", "image/gif")
	requireCode(t, err, pkgerrors.CodeValidation)

	_, err = h.svc.UploadTarget(ctx, "", "image/png")
	requireCode(t, err, pkgerrors.CodeUnauthorized)

	h.objects.signErr = errors.New("no key")
	_, err = h.svc.UploadTarget(ctx, "u1", "image/png")
	requireCode(t, err, pkgerrors.CodeDependency)
}

func TestSetAvatarRequiresOwnPrefix(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	requireCode(t, h.svc.SetAvatar(ctx, "u1", "avatars/u2/avatar"), pkgerrors.CodeForbidden)
	requireCode(t, h.svc.SetAvatar(ctx, "u1", "avatars/u1/../u2/avatar"), pkgerrors.CodeForbidden)
	requireCode(t, h.svc.SetAvatar(ctx, "u1", "avatars/u1"), pkgerrors.CodeForbidden)

	require.NoError(t, h.svc.SetAvatar(ctx, "u1", "avatars/u1/avatar"))
	row, err := h.profiles.FindByID(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "avatars/u1/avatar", *row.AvatarKey)
}

func TestViewURLChecksExistence(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	view, err := h.svc.ViewURL(ctx, "nobody")
	require.NoError(t, err)
	require.Nil(t, view.URL)

	require.NoError(t, h.svc.SetAvatar(ctx, "u1", "avatars/u1/avatar"))
	view, err = h.svc.ViewURL(ctx, "u1")
	require.NoError(t, err)
	require.Nil(t, view.URL, "key recorded but object never uploaded")

	h.objects.objects["avatars/u1/avatar"] = true
	view, err = h.svc.ViewURL(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, view.URL)
	require.Equal(t, "https://signed/get/keeply-avatars/avatars/u1/avatar", *view.URL)
	require.Equal(t, time.Date(2026, 6, 1, 8, 15, 0, 0, time.UTC), *view.ExpiresAt)

	h.objects.existsErr = errors.New("gcs down")
	_, err = h.svc.ViewURL(ctx, "u1")
	requireCode(t, err, pkgerrors.CodeDependency)
}

func TestMemberViewURLRequiresSharedFamily(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	home, other := uuid.New(), uuid.New()
	h.families["ana"] = home
	h.families["ben"] = home
	h.families["cy"] = other

	require.NoError(t, h.svc.SetAvatar(ctx, "ben", "avatars/ben/avatar"))
	h.objects.objects["avatars/ben/avatar"] = true

	view, err := h.svc.MemberViewURL(ctx, "ana", home, "ben")
	require.NoError(t, err)
	require.NotNil(t, view.URL)

	_, err = h.svc.MemberViewURL(ctx, "cy", home, "ben")
	requireCode(t, err, pkgerrors.CodeForbidden)

	_, err = h.svc.MemberViewURL(ctx, "ana", home, "cy")
	requireCode(t, err, pkgerrors.CodeNotFound)

	view, err = h.svc.MemberViewURL(ctx, "ana", home, "ana")
	require.NoError(t, err)
	require.Nil(t, view.URL)
}

func TestPurgeClearsObjectAndKey(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.svc.SetAvatar(ctx, "u1", "avatars/u1/avatar"))
	h.objects.objects["avatars/u1/avatar"] = true

	require.NoError(t, h.svc.Purge(ctx, "u1"))
	require.Equal(t, []string{"avatars/u1/avatar"}, h.objects.deleted)
	row, err := h.profiles.FindByID(ctx, "u1")
	require.NoError(t, err)
	require.Nil(t, row.AvatarKey)
}
