package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/keeply/keeply-backend/pkg/enums"
)

// Invite grants one-time permission to join a family at a given role.
type Invite struct {
	ID         string             `gorm:"column:id;primaryKey"`
	FamilyID   uuid.UUID          `gorm:"column:family_id;type:uuid;not null;index:idx_invites_family_status,priority:1"`
	Type       enums.InviteType   `gorm:"column:type;type:invite_type;not null"`
	Email      *string            `gorm:"column:email"`
	Code       *string            `gorm:"column:code;index:idx_invites_code_status,priority:1"`
	Role       enums.FamilyRole   `gorm:"column:role;type:family_role;not null"`
	Status     enums.InviteStatus `gorm:"column:status;type:invite_status;not null;index:idx_invites_family_status,priority:2;index:idx_invites_code_status,priority:2"`
	CreatedBy  string             `gorm:"column:created_by;not null"`
	CreatedAt  time.Time          `gorm:"column:created_at;not null"`
	ExpiresAt  time.Time          `gorm:"column:expires_at;not null"`
	AcceptedBy *string            `gorm:"column:accepted_by"`
	AcceptedAt *time.Time         `gorm:"column:accepted_at"`
	RevokedBy  *string            `gorm:"column:revoked_by"`
	RevokedAt  *time.Time         `gorm:"column:revoked_at"`
}

func (Invite) TableName() string { return "invites" }
