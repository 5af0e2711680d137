package membership

import (
	"time"

	"github.com/google/uuid"

	"github.com/keeply/keeply-backend/internal/families"
	"github.com/keeply/keeply-backend/internal/invites"
	"github.com/keeply/keeply-backend/pkg/enums"
)

// Caller is the authenticated identity an operation runs as.
type Caller struct {
	UserID        string
	Email         string
	EmailVerified bool
	Name          string
}

type CreateFamilyInput struct {
	Name        string
	Description *string
}

// UpdateFamilyInput changes only the fields that are set.
type UpdateFamilyInput struct {
	Name        *string
	Description *string
}

// FamilyDetails is a family with its member list and the caller's role.
type FamilyDetails struct {
	*families.FamilyDTO
	Members []families.MemberDTO `json:"members"`
	MyRole  enums.FamilyRole     `json:"my_role"`
}

// FamilyInfo is the summary shown to members.
type FamilyInfo struct {
	ID           uuid.UUID        `json:"id"`
	Name         string           `json:"name"`
	Description  *string          `json:"description,omitempty"`
	Plan         enums.FamilyPlan `json:"plan"`
	MembersCount int              `json:"members_count"`
	MyRole       enums.FamilyRole `json:"my_role"`
}

type CreateInviteInput struct {
	Type  enums.InviteType
	Email *string
	// Role defaults to member.
	Role enums.FamilyRole
	// TTL defaults to the configured invite lifetime when zero.
	TTL time.Duration
}

type CreateInviteResult struct {
	Invite    *invites.InviteDTO `json:"invite"`
	Link      string             `json:"link"`
	EmailSent bool               `json:"email_sent"`
}

// AcceptInviteInput identifies the invite by id or by code. A code must also be supplied
// when accepting a code invite by id.
type AcceptInviteInput struct {
	InviteID string
	Code     string
}

// AcceptOutcome distinguishes a real join from the already-a-member no-op.
type AcceptOutcome string

const (
	AcceptJoined        AcceptOutcome = "joined"
	AcceptAlreadyMember AcceptOutcome = "already_member"
)

type AcceptInviteResult struct {
	Outcome      AcceptOutcome      `json:"outcome"`
	FamilyID     uuid.UUID          `json:"family_id"`
	Role         enums.FamilyRole   `json:"role"`
	InviteStatus enums.InviteStatus `json:"invite_status"`
}

type SetRoleResult struct {
	UserID       string           `json:"user_id"`
	PreviousRole enums.FamilyRole `json:"previous_role"`
	Role         enums.FamilyRole `json:"role"`
	Unchanged    bool             `json:"unchanged"`
}

type MemberRole struct {
	UserID string           `json:"user_id"`
	Role   enums.FamilyRole `json:"role"`
}

type TransferResult struct {
	FamilyID      uuid.UUID  `json:"family_id"`
	PreviousOwner MemberRole `json:"previous_owner"`
	NewOwner      MemberRole `json:"new_owner"`
}

type ReconcileResult struct {
	FamiliesTouched int      `json:"families_touched"`
	MembersRemoved  int      `json:"members_removed"`
	Promoted        []string `json:"promoted,omitempty"`
}
