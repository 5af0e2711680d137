// Package rules holds the membership decision logic. Every function is pure: it takes
// snapshots of persisted state and returns either a decision or a coded rejection that
// can be surfaced to the caller as-is.
package rules

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/keeply/keeply-backend/pkg/enums"
	pkgerrors "github.com/keeply/keeply-backend/pkg/errors"
)

// Engine evaluates membership rules under a role policy.
type Engine struct {
	policy Policy
}

func NewEngine(policy Policy) Engine {
	return Engine{policy: policy}
}

func (e Engine) Policy() Policy { return e.policy }

// JoinOutcome is the result of the single-family check.
type JoinOutcome int

const (
	JoinAllowed JoinOutcome = iota
	// JoinRedundant means the user already belongs to the target family.
	JoinRedundant
)

// CheckCanCreate rejects family creation for users who already belong to a family.
func CheckCanCreate(currentFamilyID *uuid.UUID) error {
	if currentFamilyID == nil {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeConflict, "user already belongs to a family").
		WithDetails(map[string]any{"current_family_id": currentFamilyID.String()})
}

// CheckJoin enforces one family per user. currentFamilyID is the user's existing family, if any.
func CheckJoin(currentFamilyID *uuid.UUID, target uuid.UUID) (JoinOutcome, error) {
	if currentFamilyID == nil {
		return JoinAllowed, nil
	}
	if *currentFamilyID == target {
		return JoinRedundant, nil
	}
	return JoinAllowed, pkgerrors.New(pkgerrors.CodeConflict, "user already belongs to another family").
		WithDetails(map[string]any{
			"current_family_id":   currentFamilyID.String(),
			"requested_family_id": target.String(),
		})
}

// Invite is the part of an invite the acceptance rules look at.
type Invite struct {
	ID        string
	FamilyID  uuid.UUID
	Type      enums.InviteType
	Email     string
	Code      string
	Status    enums.InviteStatus
	CreatedBy string
	ExpiresAt time.Time
}

// Caller is the authenticated identity attempting an action.
type Caller struct {
	UserID        string
	Email         string
	EmailVerified bool
}

// CheckInviteAcceptable applies, in order: pending status, expiry, creator self-accept,
// then the email or code match for the invite type.
func CheckInviteAcceptable(inv Invite, caller Caller, suppliedCode string, now time.Time) error {
	if inv.Status != enums.InviteStatusPending {
		return pkgerrors.New(pkgerrors.CodeConflict, "invite not pending").
			WithDetails(map[string]any{"invite_id": inv.ID, "invite_status": inv.Status})
	}
	if !now.Before(inv.ExpiresAt) {
		return pkgerrors.New(pkgerrors.CodeConflict, "invite expired").
			WithDetails(map[string]any{"invite_id": inv.ID, "expires_at": inv.ExpiresAt.UTC()})
	}
	if inv.CreatedBy == caller.UserID {
		return pkgerrors.New(pkgerrors.CodeForbidden, "cannot accept an invite you created")
	}

	switch inv.Type {
	case enums.InviteTypeEmail:
		if caller.Email == "" || !caller.EmailVerified {
			return pkgerrors.New(pkgerrors.CodeForbidden, "a verified email is required to accept this invite")
		}
		if NormalizeEmail(caller.Email) != NormalizeEmail(inv.Email) {
			return pkgerrors.New(pkgerrors.CodeForbidden, "invite was issued to a different email")
		}
	case enums.InviteTypeCode:
		if suppliedCode == "" || NormalizeCode(suppliedCode) != NormalizeCode(inv.Code) {
			return pkgerrors.New(pkgerrors.CodeForbidden, "invite code mismatch")
		}
	default:
		return pkgerrors.New(pkgerrors.CodeInternal, fmt.Sprintf("unknown invite type %q", inv.Type))
	}
	return nil
}

// RequireMember returns the actor's entry or a Forbidden rejection.
func RequireMember(s Snapshot, actorID string) (Member, error) {
	m, ok := s.Member(actorID)
	if !ok {
		return Member{}, pkgerrors.New(pkgerrors.CodeForbidden, "not a member of this family").
			WithDetails(map[string]any{"family_id": s.FamilyID.String()})
	}
	return m, nil
}

func (e Engine) forbiddenRole(action string, actor Member, pred func(Permissions) bool) error {
	return pkgerrors.New(pkgerrors.CodeForbidden, fmt.Sprintf("role %s may not %s", actor.Role, action)).
		WithDetails(map[string]any{
			"actor_role":    actor.Role,
			"allowed_roles": e.policy.RolesWith(pred),
		})
}

func targetNotFound(s Snapshot, targetID string) error {
	return pkgerrors.New(pkgerrors.CodeNotFound, "member not found").
		WithDetails(map[string]any{"family_id": s.FamilyID.String(), "user_id": targetID})
}

func lastAdminConflict(msg string, s Snapshot) error {
	return pkgerrors.New(pkgerrors.CodeConflict, msg).
		WithDetails(map[string]any{"admin_count": s.AdminCount(), "members_count": s.Size()})
}

// CheckCreateInvite authorizes issuing an invite that grants role.
// Granting anything above member is a role change by proxy and needs SetRoles.
func (e Engine) CheckCreateInvite(s Snapshot, actorID string, role enums.FamilyRole) (Member, error) {
	actor, err := RequireMember(s, actorID)
	if err != nil {
		return Member{}, err
	}
	if !e.policy.CanInvite(actor.Role) {
		return Member{}, e.forbiddenRole("invite members", actor, func(p Permissions) bool { return p.Invite })
	}
	if !role.IsValid() {
		return Member{}, pkgerrors.New(pkgerrors.CodeValidation, "unsupported role").
			WithDetails(map[string]any{"role": role})
	}
	if role != enums.FamilyRoleMember && !e.policy.CanSetRoles(actor.Role) {
		return Member{}, e.forbiddenRole("invite with role "+role.String(), actor, func(p Permissions) bool { return p.SetRoles })
	}
	return actor, nil
}

// CheckManageInvites authorizes listing and revoking invites; same rule as creating them.
func (e Engine) CheckManageInvites(s Snapshot, actorID string) (Member, error) {
	actor, err := RequireMember(s, actorID)
	if err != nil {
		return Member{}, err
	}
	if !e.policy.CanInvite(actor.Role) {
		return Member{}, e.forbiddenRole("manage invites", actor, func(p Permissions) bool { return p.Invite })
	}
	return actor, nil
}

// RoleChange is an approved role transition.
type RoleChange struct {
	Target    Member
	From      enums.FamilyRole
	To        enums.FamilyRole
	Unchanged bool
}

// CheckSetRole validates a role change. Setting the current role is a no-op success.
func (e Engine) CheckSetRole(s Snapshot, actorID, targetID string, newRole enums.FamilyRole) (RoleChange, error) {
	if !newRole.IsValid() {
		return RoleChange{}, pkgerrors.New(pkgerrors.CodeValidation, "unsupported role").
			WithDetails(map[string]any{"role": newRole})
	}
	actor, err := RequireMember(s, actorID)
	if err != nil {
		return RoleChange{}, err
	}
	if !e.policy.CanSetRoles(actor.Role) {
		return RoleChange{}, e.forbiddenRole("change roles", actor, func(p Permissions) bool { return p.SetRoles })
	}
	target, ok := s.Member(targetID)
	if !ok {
		return RoleChange{}, targetNotFound(s, targetID)
	}

	change := RoleChange{Target: target, From: target.Role, To: newRole}
	if target.Role == newRole {
		change.Unchanged = true
		return change, nil
	}
	if target.Role == enums.FamilyRoleAdmin && s.AdminCount() <= 1 {
		return RoleChange{}, lastAdminConflict("family must keep at least one admin", s)
	}
	return change, nil
}

// CheckRemove validates removing targetID. Removing yourself is evaluated as leaving.
func (e Engine) CheckRemove(s Snapshot, actorID, targetID string) (Member, error) {
	if actorID == targetID {
		return e.CheckLeave(s, actorID)
	}
	actor, err := RequireMember(s, actorID)
	if err != nil {
		return Member{}, err
	}
	if !e.policy.CanRemove(actor.Role) {
		return Member{}, e.forbiddenRole("remove members", actor, func(p Permissions) bool { return p.Remove })
	}
	target, ok := s.Member(targetID)
	if !ok {
		return Member{}, targetNotFound(s, targetID)
	}
	if target.Role == enums.FamilyRoleAdmin && s.AdminCount() <= 1 {
		return Member{}, lastAdminConflict("cannot remove the last admin; transfer ownership first", s)
	}
	return target, nil
}

// CheckLeave validates the actor removing themself.
func (e Engine) CheckLeave(s Snapshot, actorID string) (Member, error) {
	actor, err := RequireMember(s, actorID)
	if err != nil {
		return Member{}, err
	}
	if e.policy.IsAdminEquivalent(actor.Role) {
		return Member{}, pkgerrors.New(pkgerrors.CodeForbidden,
			fmt.Sprintf("role %s cannot leave; transfer ownership or delete the family", actor.Role)).
			WithDetails(map[string]any{"actor_role": actor.Role})
	}
	if s.Size() <= 1 {
		return Member{}, pkgerrors.New(pkgerrors.CodeConflict, "the last member cannot leave; delete the family instead").
			WithDetails(map[string]any{"members_count": s.Size()})
	}
	if actor.Role == enums.FamilyRoleAdmin && s.AdminCount() <= 1 {
		return Member{}, lastAdminConflict("the last admin cannot leave", s)
	}
	return actor, nil
}

// CheckDelete authorizes deleting the family.
func (e Engine) CheckDelete(s Snapshot, actorID string) error {
	actor, err := RequireMember(s, actorID)
	if err != nil {
		return err
	}
	if !e.policy.CanDelete(actor.Role) {
		return e.forbiddenRole("delete the family", actor, func(p Permissions) bool { return p.Delete })
	}
	return nil
}

// CheckEditDetails authorizes renaming or re-describing the family.
func (e Engine) CheckEditDetails(s Snapshot, actorID string) error {
	actor, err := RequireMember(s, actorID)
	if err != nil {
		return err
	}
	if !e.policy.CanEditDetails(actor.Role) {
		return e.forbiddenRole("edit family details", actor, func(p Permissions) bool { return p.EditDetails })
	}
	return nil
}

// Transfer is an approved ownership hand-over.
type Transfer struct {
	From Member
	To   Member
}

// CheckTransfer validates handing the actor's admin seat to targetID. The actor becomes a
// member and the target an admin, so the admin count is unchanged.
func (e Engine) CheckTransfer(s Snapshot, actorID, targetID string) (Transfer, error) {
	if actorID == targetID {
		return Transfer{}, pkgerrors.New(pkgerrors.CodeValidation, "cannot transfer ownership to yourself")
	}
	actor, err := RequireMember(s, actorID)
	if err != nil {
		return Transfer{}, err
	}
	if actor.Role != enums.FamilyRoleAdmin || !e.policy.CanSetRoles(actor.Role) {
		return Transfer{}, e.forbiddenRole("transfer ownership", actor, func(p Permissions) bool { return p.SetRoles })
	}
	target, ok := s.Member(targetID)
	if !ok {
		return Transfer{}, targetNotFound(s, targetID)
	}
	if target.Role == enums.FamilyRoleAdmin {
		return Transfer{}, pkgerrors.New(pkgerrors.CodeConflict, "target is already an admin").
			WithDetails(map[string]any{"user_id": targetID})
	}
	return Transfer{From: actor, To: target}, nil
}

// Reconciliation describes how a deleted account is stripped from one family.
type Reconciliation struct {
	Removed []Member
	// Promote, when set, is the remaining member that must become admin so the family
	// keeps an admin.
	Promote *Member
}

func (r Reconciliation) Empty() bool { return len(r.Removed) == 0 }

// StripUser selects the entries belonging to a deleted account, matched by user id or,
// as a fallback, by last-known email.
func (e Engine) StripUser(s Snapshot, userID, email string) Reconciliation {
	email = NormalizeEmail(email)

	var out Reconciliation
	var remaining []Member
	for _, m := range s.Members {
		if m.UserID == userID || (email != "" && NormalizeEmail(m.Email) == email) {
			out.Removed = append(out.Removed, m)
			continue
		}
		remaining = append(remaining, m)
	}
	if out.Empty() || len(remaining) == 0 {
		return out
	}
	for _, m := range remaining {
		if m.Role == enums.FamilyRoleAdmin {
			return out
		}
	}

	candidates := append([]Member(nil), remaining...)
	sort.SliceStable(candidates, func(i, j int) bool {
		pi := e.policy.IsAdminEquivalent(candidates[i].Role)
		pj := e.policy.IsAdminEquivalent(candidates[j].Role)
		if pi != pj {
			return pi
		}
		if !candidates[i].JoinedAt.Equal(candidates[j].JoinedAt) {
			return candidates[i].JoinedAt.Before(candidates[j].JoinedAt)
		}
		return candidates[i].UserID < candidates[j].UserID
	})
	successor := candidates[0]
	out.Promote = &successor
	return out
}
