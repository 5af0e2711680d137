package avatars

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/keeply/keeply-backend/pkg/config"
	"github.com/keeply/keeply-backend/pkg/db/models"
	pkgerrors "github.com/keeply/keeply-backend/pkg/errors"
	"github.com/keeply/keeply-backend/pkg/logger"
)

const (
	keyPrefix          = "avatars/"
	defaultContentType = "image/jpeg"
)

var allowedContentTypes = map[string]struct{}{
	"image/jpeg": {},
	"image/png":  {},
	"image/webp": {},
}

type objectStore interface {
	SignedURL(bucket, object, contentType string, expires time.Duration) (string, error)
	SignedReadURL(bucket, object string, expires time.Duration) (string, error)
	ObjectExists(ctx context.Context, bucket, object string) (bool, error)
	DeleteObject(ctx context.Context, bucket, object string) error
}

type profileStore interface {
	FindByID(ctx context.Context, userID string) (*models.UserProfile, error)
	SetAvatarKey(ctx context.Context, userID string, key *string) error
}

type familyLookup interface {
	FindFamilyIDForUser(ctx context.Context, userID string) (*uuid.UUID, error)
}

// UploadTarget is where a client PUTs the avatar bytes.
type UploadTarget struct {
	URL         string    `json:"url"`
	Key         string    `json:"key"`
	ContentType string    `json:"content_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// ViewURL is a signed read URL, nil when the user has no avatar.
type ViewURL struct {
	URL       *string    `json:"url"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type Service struct {
	store    objectStore
	profiles profileStore
	families familyLookup
	cfg      config.GCSConfig
	logg     *logger.Logger
	now      func() time.Time
}

func NewService(store objectStore, profiles profileStore, families familyLookup, cfg config.GCSConfig, logg *logger.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("object store required")
	}
	if profiles == nil {
		return nil, fmt.Errorf("profile store required")
	}
	if families == nil {
		return nil, fmt.Errorf("family lookup required")
	}
	return &Service{
		store:    store,
		profiles: profiles,
		families: families,
		cfg:      cfg,
		logg:     logg,
		now:      time.Now,
	}, nil
}

// KeyFor is the single object key a user's avatar lives under.
func KeyFor(userID string) string {
	return keyPrefix + userID + "/avatar"
}

func (s *Service) UploadTarget(ctx context.Context, userID, contentType string) (*UploadTarget, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if contentType == "" {
		contentType = defaultContentType
	}
	if _, ok := allowedContentTypes[contentType]; !ok {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unsupported content type").
			WithDetails(map[string]any{"content_type": contentType})
	}

	key := KeyFor(userID)
	url, err := s.store.SignedURL(s.cfg.AvatarBucket, key, contentType, s.cfg.UploadURLExpiry)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sign upload url")
	}
	return &UploadTarget{
		URL:         url,
		Key:         key,
		ContentType: contentType,
		ExpiresAt:   s.now().Add(s.cfg.UploadURLExpiry).UTC(),
	}, nil
}

// SetAvatar records an uploaded key against the caller's profile.
func (s *Service) SetAvatar(ctx context.Context, userID, key string) error {
	if strings.TrimSpace(userID) == "" {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	key = strings.TrimSpace(key)
	if !strings.HasPrefix(key, keyPrefix+userID+"/") || strings.Contains(key, "..") {
		return pkgerrors.New(pkgerrors.CodeForbidden, "avatar key does not belong to caller")
	}
	if err := s.profiles.SetAvatarKey(ctx, userID, &key); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store avatar key")
	}
	if s.logg != nil {
		s.logg.Info(s.logg.WithUserID(ctx, userID), "avatar.updated")
	}
	return nil
}

func (s *Service) ViewURL(ctx context.Context, userID string) (*ViewURL, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	return s.viewURLFor(ctx, userID)
}

// MemberViewURL signs another member's avatar. Both users must belong to familyID.
func (s *Service) MemberViewURL(ctx context.Context, callerID string, familyID uuid.UUID, userID string) (*ViewURL, error) {
	if strings.TrimSpace(callerID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	inFamily, err := s.belongsTo(ctx, callerID, familyID)
	if err != nil {
		return nil, err
	}
	if !inFamily {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "caller is not a member of this family")
	}
	if userID != callerID {
		inFamily, err = s.belongsTo(ctx, userID, familyID)
		if err != nil {
			return nil, err
		}
		if !inFamily {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "member not found")
		}
	}
	return s.viewURLFor(ctx, userID)
}

// Purge removes a user's avatar object and clears the stored key.
func (s *Service) Purge(ctx context.Context, userID string) error {
	if err := s.store.DeleteObject(ctx, s.cfg.AvatarBucket, KeyFor(userID)); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete avatar object")
	}
	if err := s.profiles.SetAvatarKey(ctx, userID, nil); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clear avatar key")
	}
	return nil
}

func (s *Service) belongsTo(ctx context.Context, userID string, familyID uuid.UUID) (bool, error) {
	current, err := s.families.FindFamilyIDForUser(ctx, userID)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve family")
	}
	return current != nil && *current == familyID, nil
}

func (s *Service) viewURLFor(ctx context.Context, userID string) (*ViewURL, error) {
	profile, err := s.profiles.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &ViewURL{}, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load profile")
	}
	if profile.AvatarKey == nil || *profile.AvatarKey == "" {
		return &ViewURL{}, nil
	}
	key := *profile.AvatarKey

	// A key may be recorded before the upload lands, or outlive the object.
	exists, err := s.store.ObjectExists(ctx, s.cfg.AvatarBucket, key)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check avatar object")
	}
	if !exists {
		if s.logg != nil {
			s.logg.Warn(s.logg.WithFields(ctx, map[string]any{"user_id": userID, "key": key}), "avatar.object_missing")
		}
		return &ViewURL{}, nil
	}

	url, err := s.store.SignedReadURL(s.cfg.AvatarBucket, key, s.cfg.DownloadURLExpiry)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sign view url")
	}
	expires := s.now().Add(s.cfg.DownloadURLExpiry).UTC()
	return &ViewURL{URL: &url, ExpiresAt: &expires}, nil
}
