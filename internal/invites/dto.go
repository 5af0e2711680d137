package invites

import (
	"time"

	"github.com/google/uuid"

	"github.com/keeply/keeply-backend/internal/rules"
	"github.com/keeply/keeply-backend/pkg/db/models"
	"github.com/keeply/keeply-backend/pkg/enums"
)

// InviteDTO is the transport shape of an invite.
type InviteDTO struct {
	ID         string             `json:"id"`
	FamilyID   uuid.UUID          `json:"family_id"`
	Type       enums.InviteType   `json:"type"`
	Email      *string            `json:"email,omitempty"`
	Code       *string            `json:"code,omitempty"`
	Role       enums.FamilyRole   `json:"role"`
	Status     enums.InviteStatus `json:"status"`
	CreatedBy  string             `json:"created_by"`
	CreatedAt  time.Time          `json:"created_at"`
	ExpiresAt  time.Time          `json:"expires_at"`
	AcceptedBy *string            `json:"accepted_by,omitempty"`
	AcceptedAt *time.Time         `json:"accepted_at,omitempty"`
}

func FromModel(m *models.Invite) *InviteDTO {
	if m == nil {
		return nil
	}
	return &InviteDTO{
		ID:         m.ID,
		FamilyID:   m.FamilyID,
		Type:       m.Type,
		Email:      m.Email,
		Code:       m.Code,
		Role:       m.Role,
		Status:     m.Status,
		CreatedBy:  m.CreatedBy,
		CreatedAt:  m.CreatedAt,
		ExpiresAt:  m.ExpiresAt,
		AcceptedBy: m.AcceptedBy,
		AcceptedAt: m.AcceptedAt,
	}
}

// ToRule projects the stored invite onto the fields acceptance rules look at.
func ToRule(m *models.Invite) rules.Invite {
	inv := rules.Invite{
		ID:        m.ID,
		FamilyID:  m.FamilyID,
		Type:      m.Type,
		Status:    m.Status,
		CreatedBy: m.CreatedBy,
		ExpiresAt: m.ExpiresAt,
	}
	if m.Email != nil {
		inv.Email = *m.Email
	}
	if m.Code != nil {
		inv.Code = *m.Code
	}
	return inv
}
