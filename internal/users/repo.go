package users

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/keeply/keeply-backend/pkg/db/models"
)

// Repository persists the member directory cache.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs a users repo bound to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// UpsertProfile refreshes email and name from verified claims. The avatar key is
// owned by SetAvatarKey and never overwritten here.
func (r *Repository) UpsertProfile(ctx context.Context, p Profile) error {
	row := p.ToModel()
	row.UpdatedAt = time.Now().UTC()
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"email", "name", "updated_at"}),
		}).
		Omit("avatar_key").
		Create(row).Error
}

// FindByID loads a single profile.
func (r *Repository) FindByID(ctx context.Context, userID string) (*models.UserProfile, error) {
	var row models.UserProfile
	if err := r.db.WithContext(ctx).First(&row, "user_id = ?", userID).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

// FindByIDs loads the profiles that exist for the given ids; unknown ids are skipped.
func (r *Repository) FindByIDs(ctx context.Context, userIDs []string) ([]models.UserProfile, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	var rows []models.UserProfile
	err := r.db.WithContext(ctx).Where("user_id IN ?", userIDs).Find(&rows).Error
	return rows, err
}

// FindByEmail retrieves the profile last seen with the address.
func (r *Repository) FindByEmail(ctx context.Context, email string) (*models.UserProfile, error) {
	var row models.UserProfile
	err := r.db.WithContext(ctx).
		Where("LOWER(email) = ?", strings.ToLower(strings.TrimSpace(email))).
		Order("updated_at DESC").
		First(&row).Error
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// SetAvatarKey records the object key of the user's avatar, creating the profile row
// when the user has not been seen yet.
func (r *Repository) SetAvatarKey(ctx context.Context, userID string, key *string) error {
	row := &models.UserProfile{UserID: userID, AvatarKey: key, UpdatedAt: time.Now().UTC()}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"avatar_key", "updated_at"}),
		}).
		Create(row).Error
}

// LookupMany returns the known profiles keyed by user id.
func (r *Repository) LookupMany(ctx context.Context, userIDs []string) (map[string]Profile, error) {
	rows, err := r.FindByIDs(ctx, userIDs)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Profile, len(rows))
	for i := range rows {
		out[rows[i].UserID] = FromModel(&rows[i])
	}
	return out, nil
}
