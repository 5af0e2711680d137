package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/keeply/keeply-backend/pkg/enums"
)

// FamilyCreatedEvent is emitted when a user founds a family and becomes its admin.
type FamilyCreatedEvent struct {
	FamilyID  uuid.UUID        `json:"familyId"`
	Name      string           `json:"name"`
	Plan      enums.FamilyPlan `json:"plan"`
	CreatedBy string           `json:"createdBy"`
}

// FamilyUpdatedEvent reports a change to the family's name or description.
type FamilyUpdatedEvent struct {
	FamilyID    uuid.UUID `json:"familyId"`
	Name        string    `json:"name"`
	Description *string   `json:"description,omitempty"`
	Version     int64     `json:"version"`
}

// FamilyDeletedEvent lists the users that lost their membership with the family.
type FamilyDeletedEvent struct {
	FamilyID  uuid.UUID `json:"familyId"`
	MemberIDs []string  `json:"memberIds"`
	DeletedBy string    `json:"deletedBy"`
}

// MemberEvent covers joins, removals and departures.
type MemberEvent struct {
	FamilyID uuid.UUID        `json:"familyId"`
	UserID   string           `json:"userId"`
	Role     enums.FamilyRole `json:"role"`
	InviteID string           `json:"inviteId,omitempty"`
	Version  int64            `json:"version"`
}

type RoleChangedEvent struct {
	FamilyID uuid.UUID        `json:"familyId"`
	UserID   string           `json:"userId"`
	From     enums.FamilyRole `json:"from"`
	To       enums.FamilyRole `json:"to"`
	Version  int64            `json:"version"`
}

type OwnershipTransferredEvent struct {
	FamilyID uuid.UUID `json:"familyId"`
	FromUser string    `json:"fromUserId"`
	ToUser   string    `json:"toUserId"`
	Version  int64     `json:"version"`
}

// InviteEvent covers invite creation, acceptance and revocation.
type InviteEvent struct {
	InviteID  string             `json:"inviteId"`
	FamilyID  uuid.UUID          `json:"familyId"`
	Type      enums.InviteType   `json:"type"`
	Role      enums.FamilyRole   `json:"role"`
	Status    enums.InviteStatus `json:"status"`
	ExpiresAt time.Time          `json:"expiresAt"`
}

// DeletedUserReconciledEvent summarizes the cleanup after an account deletion.
type DeletedUserReconciledEvent struct {
	UserID     string      `json:"userId"`
	FamilyIDs  []uuid.UUID `json:"familyIds"`
	PromotedTo []string    `json:"promotedTo,omitempty"`
}
