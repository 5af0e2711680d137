package membership

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/keeply/keeply-backend/internal/families"
	"github.com/keeply/keeply-backend/internal/rules"
	"github.com/keeply/keeply-backend/pkg/db/models"
	"github.com/keeply/keeply-backend/pkg/enums"
	pkgerrors "github.com/keeply/keeply-backend/pkg/errors"
	"github.com/keeply/keeply-backend/pkg/outbox"
	"github.com/keeply/keeply-backend/pkg/outbox/payloads"
)

const maxFamilyNameLength = 100

func validateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "family name required")
	}
	if len(name) > maxFamilyNameLength {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "family name too long").
			WithDetails(map[string]any{"max_length": maxFamilyNameLength})
	}
	return name, nil
}

func (s *service) CreateFamily(ctx context.Context, caller Caller, input CreateFamilyInput) (*FamilyDetails, error) {
	return observe(ctx, s, "create_family", func(ctx context.Context) (*FamilyDetails, error) {
		if err := requireCaller(caller); err != nil {
			return nil, err
		}
		name, err := validateName(input.Name)
		if err != nil {
			return nil, err
		}

		family := &models.Family{
			ID:          uuid.New(),
			Name:        name,
			Description: input.Description,
			Plan:        enums.FamilyPlanFree,
			CreatedBy:   caller.UserID,
		}
		admin := models.FamilyMember{
			UserID:   caller.UserID,
			Role:     enums.FamilyRoleAdmin,
			Email:    optionalString(caller.Email),
			JoinedAt: s.now(),
		}

		err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.families.WithTx(tx)
			current, err := repo.FindFamilyIDForUser(ctx, caller.UserID)
			if err != nil {
				return storeError(err, "resolve current family")
			}
			if err := rules.CheckCanCreate(current); err != nil {
				return err
			}
			if err := repo.Create(ctx, family, admin); err != nil {
				return storeError(err, "create family")
			}
			return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventFamilyCreated,
				AggregateType: enums.AggregateFamily,
				AggregateID:   family.ID.String(),
				Actor:         actorRef(caller, family.ID, string(enums.FamilyRoleAdmin)),
				Data: payloads.FamilyCreatedEvent{
					FamilyID:  family.ID,
					Name:      family.Name,
					Plan:      family.Plan,
					CreatedBy: caller.UserID,
				},
			})
		})
		if err != nil {
			return nil, storeError(err, "create family")
		}

		logCtx := s.logg.WithFamilyID(ctx, family.ID.String())
		s.logg.Info(logCtx, "family.created")
		admin.FamilyID = family.ID
		return &FamilyDetails{
			FamilyDTO: families.FromModel(family, 1),
			Members:   s.enrich(ctx, []models.FamilyMember{admin}),
			MyRole:    enums.FamilyRoleAdmin,
		}, nil
	})
}

func (s *service) GetMyFamily(ctx context.Context, caller Caller) (*FamilyDetails, error) {
	return observe(ctx, s, "get_my_family", func(ctx context.Context) (*FamilyDetails, error) {
		if err := requireCaller(caller); err != nil {
			return nil, err
		}
		var (
			family  *models.Family
			members []models.FamilyMember
		)
		err := s.read(ctx, func(ctx context.Context) error {
			familyID, err := s.families.FindFamilyIDForUser(ctx, caller.UserID)
			if err != nil {
				return storeError(err, "resolve current family")
			}
			if familyID == nil {
				return pkgerrors.New(pkgerrors.CodeNotFound, "user does not belong to a family")
			}
			family, members, err = loadFamily(ctx, s.families, *familyID)
			return err
		})
		if err != nil {
			return nil, err
		}
		snap := families.Snapshot(family, members)
		me, _ := snap.Member(caller.UserID)
		return &FamilyDetails{
			FamilyDTO: families.FromModel(family, len(members)),
			Members:   s.enrich(ctx, members),
			MyRole:    me.Role,
		}, nil
	})
}

func (s *service) GetFamilyInfo(ctx context.Context, caller Caller, familyID uuid.UUID) (*FamilyInfo, error) {
	return observe(ctx, s, "get_family_info", func(ctx context.Context) (*FamilyInfo, error) {
		if err := requireCaller(caller); err != nil {
			return nil, err
		}
		var (
			family  *models.Family
			members []models.FamilyMember
		)
		err := s.read(ctx, func(ctx context.Context) error {
			var err error
			family, members, err = loadFamily(ctx, s.families, familyID)
			return err
		})
		if err != nil {
			return nil, err
		}
		me, err := rules.RequireMember(families.Snapshot(family, members), caller.UserID)
		if err != nil {
			return nil, err
		}
		return &FamilyInfo{
			ID:           family.ID,
			Name:         family.Name,
			Description:  family.Description,
			Plan:         family.Plan,
			MembersCount: len(members),
			MyRole:       me.Role,
		}, nil
	})
}

func (s *service) ListMembers(ctx context.Context, caller Caller, familyID uuid.UUID) ([]families.MemberDTO, error) {
	return observe(ctx, s, "list_members", func(ctx context.Context) ([]families.MemberDTO, error) {
		if err := requireCaller(caller); err != nil {
			return nil, err
		}
		var (
			family  *models.Family
			members []models.FamilyMember
		)
		err := s.read(ctx, func(ctx context.Context) error {
			var err error
			family, members, err = loadFamily(ctx, s.families, familyID)
			return err
		})
		if err != nil {
			return nil, err
		}
		if _, err := rules.RequireMember(families.Snapshot(family, members), caller.UserID); err != nil {
			return nil, err
		}
		return s.enrich(ctx, members), nil
	})
}

func (s *service) UpdateFamily(ctx context.Context, caller Caller, familyID uuid.UUID, input UpdateFamilyInput) (*families.FamilyDTO, error) {
	return observe(ctx, s, "update_family", func(ctx context.Context) (*families.FamilyDTO, error) {
		if err := requireCaller(caller); err != nil {
			return nil, err
		}
		if input.Name == nil && input.Description == nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "nothing to update")
		}
		var name string
		if input.Name != nil {
			var err error
			if name, err = validateName(*input.Name); err != nil {
				return nil, err
			}
		}

		var result *families.FamilyDTO
		err := s.versioned(ctx, "update_family", func(tx *gorm.DB) error {
			repo := s.families.WithTx(tx)
			family, members, err := loadFamily(ctx, repo, familyID)
			if err != nil {
				return err
			}
			snap := families.Snapshot(family, members)
			if err := s.engine.CheckEditDetails(snap, caller.UserID); err != nil {
				return err
			}
			if input.Name != nil {
				family.Name = name
			}
			if input.Description != nil {
				family.Description = optionalString(*input.Description)
			}
			if err := repo.UpdateDetails(ctx, family.ID, family.Name, family.Description); err != nil {
				return storeError(err, "update family")
			}
			if err := repo.BumpVersion(ctx, family.ID, family.Version); err != nil {
				return storeError(err, "family not found")
			}
			family.Version++
			me, _ := snap.Member(caller.UserID)
			if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventFamilyUpdated,
				AggregateType: enums.AggregateFamily,
				AggregateID:   family.ID.String(),
				Actor:         actorRef(caller, family.ID, string(me.Role)),
				Data: payloads.FamilyUpdatedEvent{
					FamilyID:    family.ID,
					Name:        family.Name,
					Description: family.Description,
					Version:     family.Version,
				},
			}); err != nil {
				return err
			}
			result = families.FromModel(family, len(members))
			return nil
		})
		if err != nil {
			return nil, storeError(err, "update family")
		}
		s.logg.Info(s.logg.WithFamilyID(ctx, familyID.String()), "family.updated")
		return result, nil
	})
}

func (s *service) DeleteFamily(ctx context.Context, caller Caller, familyID uuid.UUID) error {
	_, err := observe(ctx, s, "delete_family", func(ctx context.Context) (struct{}, error) {
		if err := requireCaller(caller); err != nil {
			return struct{}{}, err
		}
		err := s.versioned(ctx, "delete_family", func(tx *gorm.DB) error {
			repo := s.families.WithTx(tx)
			family, members, err := loadFamily(ctx, repo, familyID)
			if err != nil {
				return err
			}
			snap := families.Snapshot(family, members)
			if err := s.engine.CheckDelete(snap, caller.UserID); err != nil {
				return err
			}
			// the bump fails if a concurrent writer changed the member list after our read
			if err := repo.BumpVersion(ctx, family.ID, family.Version); err != nil {
				return storeError(err, "family not found")
			}
			if err := repo.Delete(ctx, family.ID); err != nil {
				return storeError(err, "family not found")
			}
			memberIDs := make([]string, 0, len(snap.Members))
			for _, m := range snap.Members {
				memberIDs = append(memberIDs, m.UserID)
			}
			me, _ := snap.Member(caller.UserID)
			return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventFamilyDeleted,
				AggregateType: enums.AggregateFamily,
				AggregateID:   family.ID.String(),
				Actor:         actorRef(caller, family.ID, string(me.Role)),
				Data: payloads.FamilyDeletedEvent{
					FamilyID:  family.ID,
					MemberIDs: memberIDs,
					DeletedBy: caller.UserID,
				},
			})
		})
		if err != nil {
			return struct{}{}, storeError(err, "delete family")
		}
		s.logg.Info(s.logg.WithFamilyID(ctx, familyID.String()), "family.deleted")
		return struct{}{}, nil
	})
	return err
}
