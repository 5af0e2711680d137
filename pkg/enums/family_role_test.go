package enums

import "testing"

func TestParseFamilyRole(t *testing.T) {
	cases := map[string]FamilyRole{
		"admin":    FamilyRoleAdmin,
		" Parent ": FamilyRoleParent,
		"GUARDIAN": FamilyRoleGuardian,
		"member":   FamilyRoleMember,
	}
	for raw, want := range cases {
		got, err := ParseFamilyRole(raw)
		if err != nil {
			t.Fatalf("parse %q: %v", raw, err)
		}
		if got != want {
			t.Fatalf("parse %q: expected %s got %s", raw, want, got)
		}
	}

	if _, err := ParseFamilyRole("owner"); err == nil {
		t.Fatal("expected owner to be rejected")
	}
}

func TestInviteEnums(t *testing.T) {
	if _, err := ParseInviteType("sms"); err == nil {
		t.Fatal("expected unsupported invite type to fail")
	}
	if typ, err := ParseInviteType("Code"); err != nil || typ != InviteTypeCode {
		t.Fatalf("expected code type, got %q (%v)", typ, err)
	}
	if InviteStatus("expired").IsValid() {
		t.Fatal("expired is not a stored invite status")
	}
	if !FamilyPlanFree.IsValid() || FamilyPlan("gold").IsValid() {
		t.Fatal("plan validity mismatch")
	}
}
