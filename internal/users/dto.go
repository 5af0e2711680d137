package users

import "github.com/keeply/keeply-backend/pkg/db/models"

// Profile is the directory view of a user.
type Profile struct {
	UserID    string  `json:"user_id"`
	Email     *string `json:"email,omitempty"`
	Name      *string `json:"name,omitempty"`
	AvatarKey *string `json:"-"`
}

// HasAvatar reports whether an avatar object has been registered.
func (p Profile) HasAvatar() bool {
	return p.AvatarKey != nil && *p.AvatarKey != ""
}

func FromModel(m *models.UserProfile) Profile {
	if m == nil {
		return Profile{}
	}
	return Profile{
		UserID:    m.UserID,
		Email:     m.Email,
		Name:      m.Name,
		AvatarKey: m.AvatarKey,
	}
}

func (p Profile) ToModel() *models.UserProfile {
	return &models.UserProfile{
		UserID:    p.UserID,
		Email:     p.Email,
		Name:      p.Name,
		AvatarKey: p.AvatarKey,
	}
}
