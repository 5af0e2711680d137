package enums

import (
	"fmt"
	"strings"
)

// FamilyRole is the closed set of roles a family member can hold.
type FamilyRole string

const (
	FamilyRoleAdmin    FamilyRole = "admin"
	FamilyRoleParent   FamilyRole = "parent"
	FamilyRoleGuardian FamilyRole = "guardian"
	FamilyRoleMember   FamilyRole = "member"
)

var validFamilyRoles = []FamilyRole{
	FamilyRoleAdmin,
	FamilyRoleParent,
	FamilyRoleGuardian,
	FamilyRoleMember,
}

// FamilyRoles returns every known role in display order.
func FamilyRoles() []FamilyRole {
	out := make([]FamilyRole, len(validFamilyRoles))
	copy(out, validFamilyRoles)
	return out
}

// String implements fmt.Stringer.
func (r FamilyRole) String() string {
	return string(r)
}

// IsValid reports whether the value is a known FamilyRole.
func (r FamilyRole) IsValid() bool {
	for _, candidate := range validFamilyRoles {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseFamilyRole converts raw input into a FamilyRole. Matching ignores case and surrounding space.
func ParseFamilyRole(value string) (FamilyRole, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	for _, candidate := range validFamilyRoles {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid family role %q", value)
}
