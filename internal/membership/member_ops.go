package membership

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/keeply/keeply-backend/internal/families"
	"github.com/keeply/keeply-backend/pkg/enums"
	pkgerrors "github.com/keeply/keeply-backend/pkg/errors"
	"github.com/keeply/keeply-backend/pkg/outbox"
	"github.com/keeply/keeply-backend/pkg/outbox/payloads"
)

func (s *service) SetRole(ctx context.Context, caller Caller, familyID uuid.UUID, targetID string, role string) (*SetRoleResult, error) {
	return observe(ctx, s, "set_role", func(ctx context.Context) (*SetRoleResult, error) {
		if err := requireCaller(caller); err != nil {
			return nil, err
		}
		newRole, err := enums.ParseFamilyRole(role)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unsupported role").
				WithDetails(map[string]any{"role": role, "allowed": enums.FamilyRoles()})
		}

		var result *SetRoleResult
		err = s.versioned(ctx, "set_role", func(tx *gorm.DB) error {
			repo := s.families.WithTx(tx)
			family, members, err := loadFamily(ctx, repo, familyID)
			if err != nil {
				return err
			}
			snap := families.Snapshot(family, members)
			change, err := s.engine.CheckSetRole(snap, caller.UserID, targetID, newRole)
			if err != nil {
				return err
			}
			result = &SetRoleResult{UserID: targetID, PreviousRole: change.From, Role: change.To, Unchanged: change.Unchanged}
			if change.Unchanged {
				return nil
			}
			if err := repo.UpdateMemberRole(ctx, family.ID, targetID, change.To); err != nil {
				return storeError(err, "member not found")
			}
			if err := repo.BumpVersion(ctx, family.ID, family.Version); err != nil {
				return storeError(err, "family not found")
			}
			return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventMemberRoleChanged,
				AggregateType: enums.AggregateFamily,
				AggregateID:   family.ID.String(),
				Actor:         actorRef(caller, family.ID, string(enums.FamilyRoleAdmin)),
				Data: payloads.RoleChangedEvent{
					FamilyID: family.ID,
					UserID:   targetID,
					From:     change.From,
					To:       change.To,
					Version:  family.Version + 1,
				},
			})
		})
		if err != nil {
			return nil, storeError(err, "set role")
		}
		if !result.Unchanged {
			logCtx := s.logg.WithFields(s.logg.WithFamilyID(ctx, familyID.String()), map[string]any{
				"target_user_id": targetID,
				"from":           result.PreviousRole,
				"to":             result.Role,
			})
			s.logg.Info(logCtx, "family.role_changed")
		}
		return result, nil
	})
}

// removeMember drops targetID from the family. A self-removal is evaluated and recorded
// as leaving.
func (s *service) removeMember(ctx context.Context, op string, caller Caller, familyID uuid.UUID, targetID string) error {
	leaving := targetID == caller.UserID
	return s.versioned(ctx, op, func(tx *gorm.DB) error {
		repo := s.families.WithTx(tx)
		family, members, err := loadFamily(ctx, repo, familyID)
		if err != nil {
			return err
		}
		snap := families.Snapshot(family, members)
		target, err := s.engine.CheckRemove(snap, caller.UserID, targetID)
		if err != nil {
			return err
		}
		if err := repo.RemoveMember(ctx, family.ID, target.UserID); err != nil {
			return storeError(err, "member not found")
		}
		if err := repo.BumpVersion(ctx, family.ID, family.Version); err != nil {
			return storeError(err, "family not found")
		}
		eventType := enums.EventMemberRemoved
		if leaving {
			eventType = enums.EventMemberLeft
		}
		actor, _ := snap.Member(caller.UserID)
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     eventType,
			AggregateType: enums.AggregateFamily,
			AggregateID:   family.ID.String(),
			Actor:         actorRef(caller, family.ID, string(actor.Role)),
			Data: payloads.MemberEvent{
				FamilyID: family.ID,
				UserID:   target.UserID,
				Role:     target.Role,
				Version:  family.Version + 1,
			},
		})
	})
}

func (s *service) RemoveMember(ctx context.Context, caller Caller, familyID uuid.UUID, targetID string) error {
	_, err := observe(ctx, s, "remove_member", func(ctx context.Context) (struct{}, error) {
		if err := requireCaller(caller); err != nil {
			return struct{}{}, err
		}
		if targetID == "" {
			return struct{}{}, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
		}
		if err := s.removeMember(ctx, "remove_member", caller, familyID, targetID); err != nil {
			return struct{}{}, storeError(err, "remove member")
		}
		logCtx := s.logg.WithField(s.logg.WithFamilyID(ctx, familyID.String()), "target_user_id", targetID)
		s.logg.Info(logCtx, "family.member_removed")
		return struct{}{}, nil
	})
	return err
}

func (s *service) LeaveFamily(ctx context.Context, caller Caller, familyID uuid.UUID) error {
	_, err := observe(ctx, s, "leave_family", func(ctx context.Context) (struct{}, error) {
		if err := requireCaller(caller); err != nil {
			return struct{}{}, err
		}
		if err := s.removeMember(ctx, "leave_family", caller, familyID, caller.UserID); err != nil {
			return struct{}{}, storeError(err, "leave family")
		}
		s.logg.Info(s.logg.WithFamilyID(ctx, familyID.String()), "family.member_left")
		return struct{}{}, nil
	})
	return err
}

func (s *service) TransferOwnership(ctx context.Context, caller Caller, familyID uuid.UUID, targetID string) (*TransferResult, error) {
	return observe(ctx, s, "transfer_ownership", func(ctx context.Context) (*TransferResult, error) {
		if err := requireCaller(caller); err != nil {
			return nil, err
		}
		if targetID == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "new owner user id required")
		}

		var result *TransferResult
		err := s.versioned(ctx, "transfer_ownership", func(tx *gorm.DB) error {
			repo := s.families.WithTx(tx)
			family, members, err := loadFamily(ctx, repo, familyID)
			if err != nil {
				return err
			}
			transfer, err := s.engine.CheckTransfer(families.Snapshot(family, members), caller.UserID, targetID)
			if err != nil {
				return err
			}
			// promote first so the family never has zero admins, even mid-transaction
			if err := repo.UpdateMemberRole(ctx, family.ID, transfer.To.UserID, enums.FamilyRoleAdmin); err != nil {
				return storeError(err, "member not found")
			}
			if err := repo.UpdateMemberRole(ctx, family.ID, transfer.From.UserID, enums.FamilyRoleMember); err != nil {
				return storeError(err, "member not found")
			}
			if err := repo.BumpVersion(ctx, family.ID, family.Version); err != nil {
				return storeError(err, "family not found")
			}
			result = &TransferResult{
				FamilyID:      family.ID,
				PreviousOwner: MemberRole{UserID: transfer.From.UserID, Role: enums.FamilyRoleMember},
				NewOwner:      MemberRole{UserID: transfer.To.UserID, Role: enums.FamilyRoleAdmin},
			}
			return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventOwnershipTransferred,
				AggregateType: enums.AggregateFamily,
				AggregateID:   family.ID.String(),
				Actor:         actorRef(caller, family.ID, string(enums.FamilyRoleAdmin)),
				Data: payloads.OwnershipTransferredEvent{
					FamilyID: family.ID,
					FromUser: transfer.From.UserID,
					ToUser:   transfer.To.UserID,
					Version:  family.Version + 1,
				},
			})
		})
		if err != nil {
			return nil, storeError(err, "transfer ownership")
		}
		logCtx := s.logg.WithField(s.logg.WithFamilyID(ctx, familyID.String()), "new_owner", targetID)
		s.logg.Info(logCtx, "family.ownership_transferred")
		return result, nil
	})
}
