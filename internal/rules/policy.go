package rules

import "github.com/keeply/keeply-backend/pkg/enums"

// Permissions is one row of the role predicate table.
type Permissions struct {
	Invite      bool
	Remove      bool
	Delete      bool
	SetRoles    bool
	EditDetails bool
	// AdminEquivalent roles cannot leave; they must transfer ownership or delete the family.
	AdminEquivalent bool
}

// Policy maps every role to its permissions. The zero value grants nothing.
type Policy struct {
	name  string
	table map[enums.FamilyRole]Permissions
}

var adminPermissions = Permissions{
	Invite:          true,
	Remove:          true,
	Delete:          true,
	SetRoles:        true,
	EditDetails:     true,
	AdminEquivalent: true,
}

// DefaultPolicy treats admin, parent and guardian as privileged for invites, removals and
// deletion. Only admin may change roles or family details.
func DefaultPolicy() Policy {
	caretaker := Permissions{Invite: true, Remove: true, Delete: true, AdminEquivalent: true}
	return Policy{
		name: "default",
		table: map[enums.FamilyRole]Permissions{
			enums.FamilyRoleAdmin:    adminPermissions,
			enums.FamilyRoleParent:   caretaker,
			enums.FamilyRoleGuardian: caretaker,
			enums.FamilyRoleMember:   {},
		},
	}
}

// StrictPolicy reserves every privileged action for admin. Parent and guardian
// stay admin-equivalent, so they still cannot leave.
func StrictPolicy() Policy {
	caretaker := Permissions{AdminEquivalent: true}
	return Policy{
		name: "strict",
		table: map[enums.FamilyRole]Permissions{
			enums.FamilyRoleAdmin:    adminPermissions,
			enums.FamilyRoleParent:   caretaker,
			enums.FamilyRoleGuardian: caretaker,
			enums.FamilyRoleMember:   {},
		},
	}
}

// PolicyFor selects the policy behind the KEEPLY_FAMILY_STRICT_ROLES toggle.
func PolicyFor(strict bool) Policy {
	if strict {
		return StrictPolicy()
	}
	return DefaultPolicy()
}

func (p Policy) Name() string {
	if p.name == "" {
		return "none"
	}
	return p.name
}

func (p Policy) permissions(role enums.FamilyRole) Permissions {
	return p.table[role]
}

func (p Policy) CanInvite(role enums.FamilyRole) bool   { return p.permissions(role).Invite }
func (p Policy) CanRemove(role enums.FamilyRole) bool   { return p.permissions(role).Remove }
func (p Policy) CanDelete(role enums.FamilyRole) bool   { return p.permissions(role).Delete }
func (p Policy) CanSetRoles(role enums.FamilyRole) bool { return p.permissions(role).SetRoles }

func (p Policy) CanEditDetails(role enums.FamilyRole) bool {
	return p.permissions(role).EditDetails
}

func (p Policy) IsAdminEquivalent(role enums.FamilyRole) bool {
	return p.permissions(role).AdminEquivalent
}

// RolesWith lists the roles for which pred holds, in enum order. Used in rejection details.
func (p Policy) RolesWith(pred func(Permissions) bool) []enums.FamilyRole {
	var out []enums.FamilyRole
	for _, role := range enums.FamilyRoles() {
		if pred(p.permissions(role)) {
			out = append(out, role)
		}
	}
	return out
}
