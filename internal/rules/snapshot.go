package rules

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/keeply/keeply-backend/pkg/enums"
)

// Member is a single (user, role) entry of a family.
type Member struct {
	UserID   string
	Role     enums.FamilyRole
	Email    string
	JoinedAt time.Time
}

// Snapshot is the family state a decision is evaluated against. Version is the
// optimistic token the resulting write must be conditioned on.
type Snapshot struct {
	FamilyID uuid.UUID
	Version  int64
	Members  []Member
}

// Member looks up a member by user id.
func (s Snapshot) Member(userID string) (Member, bool) {
	for _, m := range s.Members {
		if m.UserID == userID {
			return m, true
		}
	}
	return Member{}, false
}

func (s Snapshot) AdminCount() int {
	count := 0
	for _, m := range s.Members {
		if m.Role == enums.FamilyRoleAdmin {
			count++
		}
	}
	return count
}

func (s Snapshot) Size() int { return len(s.Members) }

// SortMembers orders members by join time, then user id.
func SortMembers(members []Member) {
	sort.SliceStable(members, func(i, j int) bool {
		if !members[i].JoinedAt.Equal(members[j].JoinedAt) {
			return members[i].JoinedAt.Before(members[j].JoinedAt)
		}
		return members[i].UserID < members[j].UserID
	})
}

// NormalizeEmail lower-cases and trims an address for comparison.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizeCode canonicalizes a user-typed invite code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
