package rules

import (
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keeply/keeply-backend/pkg/enums"
	pkgerrors "github.com/keeply/keeply-backend/pkg/errors"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func snapshot(members ...Member) Snapshot {
	for i := range members {
		if members[i].JoinedAt.IsZero() {
			members[i].JoinedAt = epoch.Add(time.Duration(i) * time.Minute)
		}
	}
	return Snapshot{FamilyID: uuid.MustParse("7b0a4f6e-2c1d-4a8e-9f00-1c2d3e4f5a6b"), Version: 1, Members: members}
}

func m(id string, role enums.FamilyRole) Member {
	return Member{UserID: id, Role: role, Email: id + "@keeply.io"}
}

func requireCode(t *testing.T, err error, code pkgerrors.Code) {
	t.Helper()
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed, "expected coded error, got %v", err)
	require.Equal(t, code, typed.Code(), typed.Message())
}

func TestCheckJoin(t *testing.T) {
	target := uuid.New()
	other := uuid.New()

	outcome, err := CheckJoin(nil, target)
	require.NoError(t, err)
	assert.Equal(t, JoinAllowed, outcome)

	outcome, err = CheckJoin(&target, target)
	require.NoError(t, err)
	assert.Equal(t, JoinRedundant, outcome)

	_, err = CheckJoin(&other, target)
	requireCode(t, err, pkgerrors.CodeConflict)
	details := pkgerrors.As(err).Details().(map[string]any)
	assert.Equal(t, other.String(), details["current_family_id"])
	assert.Equal(t, target.String(), details["requested_family_id"])

	requireCode(t, CheckCanCreate(&other), pkgerrors.CodeConflict)
	require.NoError(t, CheckCanCreate(nil))
}

func TestCheckInviteAcceptable(t *testing.T) {
	now := epoch
	codeInvite := Invite{
		ID:        "inv-code",
		Type:      enums.InviteTypeCode,
		Code:      "FAM-1A2B3C",
		Status:    enums.InviteStatusPending,
		CreatedBy: "u1",
		ExpiresAt: now.Add(10 * time.Minute),
	}
	emailInvite := Invite{
		ID:        "inv-mail",
		Type:      enums.InviteTypeEmail,
		Email:     "Grandma@Keeply.io",
		Status:    enums.InviteStatusPending,
		CreatedBy: "u1",
		ExpiresAt: now.Add(time.Hour),
	}
	u2 := Caller{UserID: "u2", Email: "grandma@keeply.io", EmailVerified: true}

	tests := []struct {
		name   string
		invite Invite
		caller Caller
		code   string
		at     time.Time
		want   pkgerrors.Code
	}{
		{name: "code ok", invite: codeInvite, caller: u2, code: "FAM-1A2B3C", at: now},
		{name: "code normalized", invite: codeInvite, caller: u2, code: " fam-1a2b3c ", at: now},
		{name: "code mismatch", invite: codeInvite, caller: u2, code: "FAM-000000", at: now, want: pkgerrors.CodeForbidden},
		{name: "code missing", invite: codeInvite, caller: u2, at: now, want: pkgerrors.CodeForbidden},
		{name: "expired", invite: codeInvite, caller: u2, code: "FAM-1A2B3C", at: now.Add(11 * time.Minute), want: pkgerrors.CodeConflict},
		{name: "expiry boundary", invite: codeInvite, caller: u2, code: "FAM-1A2B3C", at: now.Add(10 * time.Minute), want: pkgerrors.CodeConflict},
		{name: "self accept", invite: codeInvite, caller: Caller{UserID: "u1"}, code: "FAM-1A2B3C", at: now, want: pkgerrors.CodeForbidden},
		{name: "email ok case-insensitive", invite: emailInvite, caller: u2, at: now},
		{name: "email mismatch", invite: emailInvite, caller: Caller{UserID: "u3", Email: "x@keeply.io", EmailVerified: true}, at: now, want: pkgerrors.CodeForbidden},
		{name: "email unverified", invite: emailInvite, caller: Caller{UserID: "u2", Email: "grandma@keeply.io"}, at: now, want: pkgerrors.CodeForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckInviteAcceptable(tt.invite, tt.caller, tt.code, tt.at)
			if tt.want == "" {
				require.NoError(t, err)
				return
			}
			requireCode(t, err, tt.want)
		})
	}
}

func TestCheckInviteAcceptable_StatusCheckedFirst(t *testing.T) {
	inv := Invite{
		ID:        "inv",
		Type:      enums.InviteTypeCode,
		Code:      "FAM-ABCDEF",
		Status:    enums.InviteStatusAccepted,
		CreatedBy: "u1",
		ExpiresAt: epoch.Add(-time.Hour),
	}
	err := CheckInviteAcceptable(inv, Caller{UserID: "u1"}, "nope", epoch)
	requireCode(t, err, pkgerrors.CodeConflict)
	assert.Equal(t, "invite not pending", pkgerrors.As(err).Message())
}

func TestCheckSetRole(t *testing.T) {
	engine := NewEngine(DefaultPolicy())
	s := snapshot(m("u1", enums.FamilyRoleAdmin), m("u2", enums.FamilyRoleMember), m("u3", enums.FamilyRoleParent))

	change, err := engine.CheckSetRole(s, "u1", "u2", enums.FamilyRoleGuardian)
	require.NoError(t, err)
	assert.Equal(t, enums.FamilyRoleMember, change.From)
	assert.Equal(t, enums.FamilyRoleGuardian, change.To)

	change, err = engine.CheckSetRole(s, "u1", "u2", enums.FamilyRoleMember)
	require.NoError(t, err)
	assert.True(t, change.Unchanged)

	_, err = engine.CheckSetRole(s, "u3", "u2", enums.FamilyRoleGuardian)
	requireCode(t, err, pkgerrors.CodeForbidden)

	_, err = engine.CheckSetRole(s, "u1", "ghost", enums.FamilyRoleGuardian)
	requireCode(t, err, pkgerrors.CodeNotFound)

	_, err = engine.CheckSetRole(s, "u1", "u2", enums.FamilyRole("owner"))
	requireCode(t, err, pkgerrors.CodeValidation)

	_, err = engine.CheckSetRole(s, "outsider", "u2", enums.FamilyRoleMember)
	requireCode(t, err, pkgerrors.CodeForbidden)
}

func TestCheckSetRole_LastAdminDemotionRejected(t *testing.T) {
	engine := NewEngine(DefaultPolicy())
	s := snapshot(m("u1", enums.FamilyRoleAdmin), m("u2", enums.FamilyRoleMember))

	_, err := engine.CheckSetRole(s, "u1", "u1", enums.FamilyRoleMember)
	requireCode(t, err, pkgerrors.CodeConflict)

	two := snapshot(m("u1", enums.FamilyRoleAdmin), m("u2", enums.FamilyRoleAdmin))
	change, err := engine.CheckSetRole(two, "u1", "u1", enums.FamilyRoleMember)
	require.NoError(t, err)
	assert.Equal(t, enums.FamilyRoleMember, change.To)
}

func TestCheckRemove(t *testing.T) {
	engine := NewEngine(DefaultPolicy())
	s := snapshot(
		m("admin", enums.FamilyRoleAdmin),
		m("parent", enums.FamilyRoleParent),
		m("kid", enums.FamilyRoleMember),
		m("kid2", enums.FamilyRoleMember),
	)

	target, err := engine.CheckRemove(s, "parent", "kid")
	require.NoError(t, err)
	assert.Equal(t, "kid", target.UserID)

	_, err = engine.CheckRemove(s, "kid", "kid2")
	requireCode(t, err, pkgerrors.CodeForbidden)

	_, err = engine.CheckRemove(s, "parent", "admin")
	requireCode(t, err, pkgerrors.CodeConflict)

	_, err = engine.CheckRemove(s, "admin", "ghost")
	requireCode(t, err, pkgerrors.CodeNotFound)

	// removing yourself follows the leave rules
	_, err = engine.CheckRemove(s, "parent", "parent")
	requireCode(t, err, pkgerrors.CodeForbidden)
	left, err := engine.CheckRemove(s, "kid", "kid")
	require.NoError(t, err)
	assert.Equal(t, "kid", left.UserID)
}

func TestCheckLeave(t *testing.T) {
	engine := NewEngine(DefaultPolicy())

	_, err := engine.CheckLeave(snapshot(m("admin", enums.FamilyRoleAdmin), m("kid", enums.FamilyRoleMember)), "admin")
	requireCode(t, err, pkgerrors.CodeForbidden)

	_, err = engine.CheckLeave(snapshot(m("guardian", enums.FamilyRoleGuardian), m("admin", enums.FamilyRoleAdmin)), "guardian")
	requireCode(t, err, pkgerrors.CodeForbidden)

	_, err = engine.CheckLeave(snapshot(m("kid", enums.FamilyRoleMember)), "kid")
	requireCode(t, err, pkgerrors.CodeConflict)

	_, err = engine.CheckLeave(snapshot(m("admin", enums.FamilyRoleAdmin)), "stranger")
	requireCode(t, err, pkgerrors.CodeForbidden)

	_, err = engine.CheckLeave(snapshot(m("admin", enums.FamilyRoleAdmin), m("kid", enums.FamilyRoleMember)), "kid")
	require.NoError(t, err)
}

func TestStrictPolicy(t *testing.T) {
	strict := NewEngine(StrictPolicy())
	s := snapshot(m("admin", enums.FamilyRoleAdmin), m("parent", enums.FamilyRoleParent), m("kid", enums.FamilyRoleMember))

	_, err := strict.CheckCreateInvite(s, "parent", enums.FamilyRoleMember)
	requireCode(t, err, pkgerrors.CodeForbidden)
	_, err = strict.CheckRemove(s, "parent", "kid")
	requireCode(t, err, pkgerrors.CodeForbidden)
	requireCode(t, strict.CheckDelete(s, "parent"), pkgerrors.CodeForbidden)

	// privileges are stripped but the leave restriction is not
	_, err = strict.CheckLeave(s, "parent")
	requireCode(t, err, pkgerrors.CodeForbidden)
	_, err = strict.CheckLeave(snapshot(m("admin", enums.FamilyRoleAdmin), m("g", enums.FamilyRoleGuardian)), "g")
	requireCode(t, err, pkgerrors.CodeForbidden)
	_, err = strict.CheckLeave(s, "kid")
	require.NoError(t, err)

	permissive := NewEngine(DefaultPolicy())
	_, err = permissive.CheckCreateInvite(s, "parent", enums.FamilyRoleMember)
	require.NoError(t, err)
	require.NoError(t, permissive.CheckDelete(s, "parent"))
	assert.Equal(t, "strict", PolicyFor(true).Name())
	assert.Equal(t, "default", PolicyFor(false).Name())
}

func TestCheckCreateInvite_ElevatedRoleNeedsAdmin(t *testing.T) {
	engine := NewEngine(DefaultPolicy())
	s := snapshot(m("admin", enums.FamilyRoleAdmin), m("parent", enums.FamilyRoleParent), m("kid", enums.FamilyRoleMember))

	_, err := engine.CheckCreateInvite(s, "parent", enums.FamilyRoleGuardian)
	requireCode(t, err, pkgerrors.CodeForbidden)

	_, err = engine.CheckCreateInvite(s, "admin", enums.FamilyRoleGuardian)
	require.NoError(t, err)

	_, err = engine.CheckCreateInvite(s, "kid", enums.FamilyRoleMember)
	requireCode(t, err, pkgerrors.CodeForbidden)

	_, err = engine.CheckManageInvites(s, "kid")
	requireCode(t, err, pkgerrors.CodeForbidden)
}

func TestCheckTransfer(t *testing.T) {
	engine := NewEngine(DefaultPolicy())
	s := snapshot(m("admin", enums.FamilyRoleAdmin), m("parent", enums.FamilyRoleParent), m("kid", enums.FamilyRoleMember))

	tr, err := engine.CheckTransfer(s, "admin", "kid")
	require.NoError(t, err)
	assert.Equal(t, "admin", tr.From.UserID)
	assert.Equal(t, "kid", tr.To.UserID)

	_, err = engine.CheckTransfer(s, "admin", "admin")
	requireCode(t, err, pkgerrors.CodeValidation)

	_, err = engine.CheckTransfer(s, "parent", "kid")
	requireCode(t, err, pkgerrors.CodeForbidden)

	_, err = engine.CheckTransfer(s, "admin", "ghost")
	requireCode(t, err, pkgerrors.CodeNotFound)

	coAdmins := snapshot(m("a1", enums.FamilyRoleAdmin), m("a2", enums.FamilyRoleAdmin))
	_, err = engine.CheckTransfer(coAdmins, "a1", "a2")
	requireCode(t, err, pkgerrors.CodeConflict)
}

func TestCheckEditDetails(t *testing.T) {
	engine := NewEngine(DefaultPolicy())
	s := snapshot(m("admin", enums.FamilyRoleAdmin), m("parent", enums.FamilyRoleParent))
	require.NoError(t, engine.CheckEditDetails(s, "admin"))
	requireCode(t, engine.CheckEditDetails(s, "parent"), pkgerrors.CodeForbidden)
}

func TestStripUser(t *testing.T) {
	engine := NewEngine(DefaultPolicy())

	s := snapshot(m("admin", enums.FamilyRoleAdmin), m("kid", enums.FamilyRoleMember), m("guardian", enums.FamilyRoleGuardian))
	rec := engine.StripUser(s, "admin", "")
	require.Len(t, rec.Removed, 1)
	require.NotNil(t, rec.Promote)
	assert.Equal(t, "guardian", rec.Promote.UserID, "privileged members are promoted before earlier plain members")

	rec = engine.StripUser(s, "kid", "")
	require.Len(t, rec.Removed, 1)
	assert.Nil(t, rec.Promote)

	rec = engine.StripUser(s, "unknown-sub", "KID@keeply.io")
	require.Len(t, rec.Removed, 1)
	assert.Equal(t, "kid", rec.Removed[0].UserID)

	rec = engine.StripUser(s, "nobody", "")
	assert.True(t, rec.Empty())

	alone := snapshot(m("admin", enums.FamilyRoleAdmin))
	rec = engine.StripUser(alone, "admin", "")
	require.Len(t, rec.Removed, 1)
	assert.Nil(t, rec.Promote)
}

// Random SetRole/Transfer/Remove sequences never leave a non-empty family without an admin.
func TestAdminInvariantHoldsUnderRandomOperations(t *testing.T) {
	engine := NewEngine(DefaultPolicy())
	rng := rand.New(rand.NewSource(42))
	roles := enums.FamilyRoles()
	ids := []string{"u1", "u2", "u3", "u4", "u5"}

	for round := 0; round < 200; round++ {
		s := snapshot(
			m("u1", enums.FamilyRoleAdmin),
			m("u2", enums.FamilyRoleParent),
			m("u3", enums.FamilyRoleGuardian),
			m("u4", enums.FamilyRoleMember),
			m("u5", enums.FamilyRoleMember),
		)
		for step := 0; step < 30 && s.Size() > 0; step++ {
			actor := ids[rng.Intn(len(ids))]
			target := ids[rng.Intn(len(ids))]
			switch rng.Intn(3) {
			case 0:
				change, err := engine.CheckSetRole(s, actor, target, roles[rng.Intn(len(roles))])
				if err == nil && !change.Unchanged {
					s = withRole(s, target, change.To)
				}
			case 1:
				tr, err := engine.CheckTransfer(s, actor, target)
				if err == nil {
					s = withRole(s, tr.From.UserID, enums.FamilyRoleMember)
					s = withRole(s, tr.To.UserID, enums.FamilyRoleAdmin)
				}
			case 2:
				removed, err := engine.CheckRemove(s, actor, target)
				if err == nil {
					s = without(s, removed.UserID)
				}
			}
			if s.Size() > 0 {
				require.GreaterOrEqual(t, s.AdminCount(), 1, "round %d step %d", round, step)
			}
		}
	}
}

func withRole(s Snapshot, userID string, role enums.FamilyRole) Snapshot {
	out := s
	out.Members = append([]Member(nil), s.Members...)
	for i := range out.Members {
		if out.Members[i].UserID == userID {
			out.Members[i].Role = role
		}
	}
	return out
}

func without(s Snapshot, userID string) Snapshot {
	out := s
	out.Members = nil
	for _, member := range s.Members {
		if member.UserID != userID {
			out.Members = append(out.Members, member)
		}
	}
	return out
}
