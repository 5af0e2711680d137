package models

import "time"

// UserProfile caches display attributes asserted by the identity provider. Rows are
// refreshed from verified token claims; the provider stays the source of truth.
type UserProfile struct {
	UserID    string    `gorm:"column:user_id;primaryKey"`
	Email     *string   `gorm:"column:email;index:idx_user_profiles_email"`
	Name      *string   `gorm:"column:name"`
	AvatarKey *string   `gorm:"column:avatar_key"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (UserProfile) TableName() string { return "user_profiles" }
