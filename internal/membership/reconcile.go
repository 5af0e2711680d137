package membership

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/keeply/keeply-backend/internal/families"
	"github.com/keeply/keeply-backend/pkg/enums"
	pkgerrors "github.com/keeply/keeply-backend/pkg/errors"
	"github.com/keeply/keeply-backend/pkg/outbox"
	"github.com/keeply/keeply-backend/pkg/outbox/payloads"
)

// ReconcileDeletedUser strips a deleted account from every family that still lists it,
// promoting a successor where the account was the last admin. Running it again for the
// same account is a no-op.
func (s *service) ReconcileDeletedUser(ctx context.Context, userID, email string) (*ReconcileResult, error) {
	return observe(ctx, s, "reconcile_deleted_user", func(ctx context.Context) (*ReconcileResult, error) {
		userID = strings.TrimSpace(userID)
		if userID == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
		}
		email = s.lastKnownEmail(ctx, userID, email)

		familyIDs, err := s.familiesHolding(ctx, userID, email)
		if err != nil {
			return nil, err
		}

		result := &ReconcileResult{}
		var touched []uuid.UUID
		var errs error
		for _, familyID := range familyIDs {
			removed, promoted, err := s.reconcileFamily(ctx, familyID, userID, email)
			if err != nil {
				errs = multierr.Append(errs, storeError(err, "reconcile family"))
				continue
			}
			if removed == 0 {
				continue
			}
			touched = append(touched, familyID)
			result.FamiliesTouched++
			result.MembersRemoved += removed
			if promoted != "" {
				result.Promoted = append(result.Promoted, promoted)
			}
		}
		if errs != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, errs, "reconcile deleted user")
		}

		if result.FamiliesTouched > 0 {
			err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
				return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
					EventType:     enums.EventDeletedUserReconciled,
					AggregateType: enums.AggregateUser,
					AggregateID:   userID,
					Actor:         &outbox.ActorRef{Role: "system"},
					Data: payloads.DeletedUserReconciledEvent{
						UserID:     userID,
						FamilyIDs:  touched,
						PromotedTo: result.Promoted,
					},
				})
			})
			if err != nil {
				return nil, storeError(err, "record reconciliation")
			}
		}

		logCtx := s.logg.WithFields(s.logg.WithUserID(ctx, userID), map[string]any{
			"families_touched": result.FamiliesTouched,
			"members_removed":  result.MembersRemoved,
		})
		s.logg.Info(logCtx, "user.deletion_reconciled")
		return result, nil
	})
}

// lastKnownEmail falls back to the directory when the deletion notice carried no email.
func (s *service) lastKnownEmail(ctx context.Context, userID, email string) string {
	if strings.TrimSpace(email) != "" || s.directory == nil {
		return email
	}
	profiles, err := s.directory.LookupMany(ctx, []string{userID})
	if err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "directory.lookup_failed")
		return ""
	}
	if p, ok := profiles[userID]; ok && p.Email != nil {
		return *p.Email
	}
	return ""
}

// familiesHolding collects the families holding the account by id or by email.
func (s *service) familiesHolding(ctx context.Context, userID, email string) ([]uuid.UUID, error) {
	seen := map[uuid.UUID]bool{}
	var out []uuid.UUID
	err := s.read(ctx, func(ctx context.Context) error {
		seen = map[uuid.UUID]bool{}
		out = nil
		familyID, err := s.families.FindFamilyIDForUser(ctx, userID)
		if err != nil {
			return storeError(err, "resolve family")
		}
		if familyID != nil {
			seen[*familyID] = true
			out = append(out, *familyID)
		}
		if email == "" {
			return nil
		}
		rows, err := s.families.ListMembersByEmail(ctx, email)
		if err != nil {
			return storeError(err, "find members by email")
		}
		for _, row := range rows {
			if !seen[row.FamilyID] {
				seen[row.FamilyID] = true
				out = append(out, row.FamilyID)
			}
		}
		return nil
	})
	return out, err
}

func (s *service) reconcileFamily(ctx context.Context, familyID uuid.UUID, userID, email string) (int, string, error) {
	var (
		removed  int
		promoted string
	)
	err := s.versioned(ctx, "reconcile_deleted_user", func(tx *gorm.DB) error {
		removed, promoted = 0, ""
		repo := s.families.WithTx(tx)
		family, members, err := loadFamily(ctx, repo, familyID)
		if err != nil {
			if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
				return nil
			}
			return err
		}
		plan := s.engine.StripUser(families.Snapshot(family, members), userID, email)
		if plan.Empty() {
			return nil
		}
		for _, m := range plan.Removed {
			if err := repo.RemoveMember(ctx, family.ID, m.UserID); err != nil {
				return err
			}
			if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventMemberRemoved,
				AggregateType: enums.AggregateFamily,
				AggregateID:   family.ID.String(),
				Actor:         systemActor(family.ID),
				Data: payloads.MemberEvent{
					FamilyID: family.ID,
					UserID:   m.UserID,
					Role:     m.Role,
					Version:  family.Version + 1,
				},
			}); err != nil {
				return err
			}
		}
		if plan.Promote != nil {
			if err := repo.UpdateMemberRole(ctx, family.ID, plan.Promote.UserID, enums.FamilyRoleAdmin); err != nil {
				return err
			}
			if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventMemberRoleChanged,
				AggregateType: enums.AggregateFamily,
				AggregateID:   family.ID.String(),
				Actor:         systemActor(family.ID),
				Data: payloads.RoleChangedEvent{
					FamilyID: family.ID,
					UserID:   plan.Promote.UserID,
					From:     plan.Promote.Role,
					To:       enums.FamilyRoleAdmin,
					Version:  family.Version + 1,
				},
			}); err != nil {
				return err
			}
			promoted = plan.Promote.UserID
		}
		if err := repo.BumpVersion(ctx, family.ID, family.Version); err != nil {
			return err
		}
		removed = len(plan.Removed)
		if removed < len(members) {
			return nil
		}
		// nobody is left who could delete the family
		if err := repo.Delete(ctx, family.ID); err != nil {
			return err
		}
		memberIDs := make([]string, 0, removed)
		for _, m := range plan.Removed {
			memberIDs = append(memberIDs, m.UserID)
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventFamilyDeleted,
			AggregateType: enums.AggregateFamily,
			AggregateID:   family.ID.String(),
			Actor:         systemActor(family.ID),
			Data: payloads.FamilyDeletedEvent{
				FamilyID:  family.ID,
				MemberIDs: memberIDs,
				DeletedBy: "system",
			},
		})
	})
	if err == nil && removed > 0 {
		s.logg.Info(s.logg.WithFamilyID(ctx, familyID.String()), "family.member_reconciled")
	}
	return removed, promoted, err
}
