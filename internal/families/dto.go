package families

import (
	"time"

	"github.com/google/uuid"

	"github.com/keeply/keeply-backend/internal/rules"
	"github.com/keeply/keeply-backend/pkg/db/models"
	"github.com/keeply/keeply-backend/pkg/enums"
)

// FamilyDTO is the transport shape of a family.
type FamilyDTO struct {
	ID          uuid.UUID        `json:"id"`
	Name        string           `json:"name"`
	Description *string          `json:"description,omitempty"`
	Plan        enums.FamilyPlan `json:"plan"`
	CreatedBy   string           `json:"created_by"`
	Version     int64            `json:"version"`
	MemberCount int              `json:"member_count"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// MemberDTO is a member row enriched with directory data when available.
type MemberDTO struct {
	UserID    string           `json:"user_id"`
	Role      enums.FamilyRole `json:"role"`
	Email     *string          `json:"email,omitempty"`
	Name      *string          `json:"name,omitempty"`
	HasAvatar bool             `json:"has_avatar"`
	JoinedAt  time.Time        `json:"joined_at"`
}

func FromModel(f *models.Family, memberCount int) *FamilyDTO {
	if f == nil {
		return nil
	}
	return &FamilyDTO{
		ID:          f.ID,
		Name:        f.Name,
		Description: f.Description,
		Plan:        f.Plan,
		CreatedBy:   f.CreatedBy,
		Version:     f.Version,
		MemberCount: memberCount,
		CreatedAt:   f.CreatedAt,
		UpdatedAt:   f.UpdatedAt,
	}
}

func MemberFromModel(m models.FamilyMember) MemberDTO {
	return MemberDTO{
		UserID:   m.UserID,
		Role:     m.Role,
		Email:    m.Email,
		JoinedAt: m.JoinedAt,
	}
}

// Snapshot converts persisted rows into the state the rules engine evaluates.
func Snapshot(f *models.Family, members []models.FamilyMember) rules.Snapshot {
	s := rules.Snapshot{FamilyID: f.ID, Version: f.Version, Members: make([]rules.Member, 0, len(members))}
	for _, m := range members {
		entry := rules.Member{UserID: m.UserID, Role: m.Role, JoinedAt: m.JoinedAt}
		if m.Email != nil {
			entry.Email = *m.Email
		}
		s.Members = append(s.Members, entry)
	}
	rules.SortMembers(s.Members)
	return s
}
