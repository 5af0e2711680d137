package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/keeply/keeply-backend/pkg/enums"
)

// FamilyMember links a user with a family. The unique user_id doubles as the
// user -> family pointer: a user can hold at most one row.
type FamilyMember struct {
	FamilyID uuid.UUID        `gorm:"column:family_id;type:uuid;primaryKey"`
	UserID   string           `gorm:"column:user_id;primaryKey;uniqueIndex:uq_family_members_user"`
	Role     enums.FamilyRole `gorm:"column:role;type:family_role;not null"`
	Email    *string          `gorm:"column:email;index:idx_family_members_email"`
	JoinedAt time.Time        `gorm:"column:joined_at;not null"`
}

func (FamilyMember) TableName() string { return "family_members" }
