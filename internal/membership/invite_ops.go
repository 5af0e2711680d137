package membership

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/keeply/keeply-backend/internal/families"
	"github.com/keeply/keeply-backend/internal/invites"
	"github.com/keeply/keeply-backend/internal/mail"
	"github.com/keeply/keeply-backend/internal/rules"
	"github.com/keeply/keeply-backend/pkg/db/models"
	"github.com/keeply/keeply-backend/pkg/enums"
	pkgerrors "github.com/keeply/keeply-backend/pkg/errors"
	"github.com/keeply/keeply-backend/pkg/outbox"
	"github.com/keeply/keeply-backend/pkg/outbox/payloads"
)

func (s *service) inviteTTL(ttl time.Duration) (time.Duration, error) {
	if ttl == 0 {
		return s.cfg.InviteDefaultTTL, nil
	}
	if ttl < 0 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "invite lifetime must be positive")
	}
	if ttl > s.cfg.InviteMaxTTL {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "invite lifetime too long").
			WithDetails(map[string]any{"max_hours": int(s.cfg.InviteMaxTTL.Hours())})
	}
	return ttl, nil
}

func inviteEvent(inv *models.Invite) payloads.InviteEvent {
	return payloads.InviteEvent{
		InviteID:  inv.ID,
		FamilyID:  inv.FamilyID,
		Type:      inv.Type,
		Role:      inv.Role,
		Status:    inv.Status,
		ExpiresAt: inv.ExpiresAt,
	}
}

func (s *service) CreateInvite(ctx context.Context, caller Caller, familyID uuid.UUID, input CreateInviteInput) (*CreateInviteResult, error) {
	return observe(ctx, s, "create_invite", func(ctx context.Context) (*CreateInviteResult, error) {
		if err := requireCaller(caller); err != nil {
			return nil, err
		}
		if !input.Type.IsValid() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "unsupported invite type").
				WithDetails(map[string]any{"type": input.Type})
		}
		var email *string
		if input.Type == enums.InviteTypeEmail {
			if input.Email == nil || rules.NormalizeEmail(*input.Email) == "" {
				return nil, pkgerrors.New(pkgerrors.CodeValidation, "email required for email invites")
			}
			normalized := rules.NormalizeEmail(*input.Email)
			email = &normalized
		}
		role := input.Role
		if role == "" {
			role = enums.FamilyRoleMember
		}
		ttl, err := s.inviteTTL(input.TTL)
		if err != nil {
			return nil, err
		}

		now := s.now()
		invite := &models.Invite{
			FamilyID:  familyID,
			Type:      input.Type,
			Email:     email,
			Role:      role,
			Status:    enums.InviteStatusPending,
			CreatedBy: caller.UserID,
			CreatedAt: now,
			ExpiresAt: now.Add(ttl),
		}
		var familyName string
		err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			family, members, err := loadFamily(ctx, s.families.WithTx(tx), familyID)
			if err != nil {
				return err
			}
			snap := families.Snapshot(family, members)
			actor, err := s.engine.CheckCreateInvite(snap, caller.UserID, role)
			if err != nil {
				return err
			}
			if email != nil {
				for _, m := range snap.Members {
					if rules.NormalizeEmail(m.Email) == *email {
						return pkgerrors.New(pkgerrors.CodeConflict, "invitee is already a member of this family").
							WithDetails(map[string]any{"user_id": m.UserID})
					}
				}
			}
			if err := s.invites.WithTx(tx).Create(ctx, invite); err != nil {
				return storeError(err, "create invite")
			}
			familyName = family.Name
			return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventInviteCreated,
				AggregateType: enums.AggregateInvite,
				AggregateID:   invite.ID,
				Actor:         actorRef(caller, family.ID, string(actor.Role)),
				Data:          inviteEvent(invite),
			})
		})
		if err != nil {
			return nil, storeError(err, "create invite")
		}

		logCtx := s.logg.WithInviteID(s.logg.WithFamilyID(ctx, familyID.String()), invite.ID)
		s.logg.Info(s.logg.WithField(logCtx, "invite_type", invite.Type), "invite.created")

		result := &CreateInviteResult{
			Invite: invites.FromModel(invite),
			Link:   s.app.InviteLink(invite.ID),
		}
		if invite.Type == enums.InviteTypeEmail {
			result.EmailSent = s.mailInvite(logCtx, caller, familyName, invite, result.Link)
		}
		return result, nil
	})
}

// mailInvite runs after commit; a delivery failure leaves the invite in place.
func (s *service) mailInvite(ctx context.Context, caller Caller, familyName string, invite *models.Invite, link string) bool {
	if s.mailer == nil || invite.Email == nil {
		return false
	}
	invitedBy := caller.Name
	if invitedBy == "" {
		invitedBy = caller.Email
	}
	err := s.mailer.SendInvite(ctx, mail.InviteMessage{
		To:         *invite.Email,
		FamilyName: familyName,
		InvitedBy:  invitedBy,
		Role:       invite.Role.String(),
		Link:       link,
		ExpiresAt:  invite.ExpiresAt,
	})
	if err != nil {
		s.logg.Error(ctx, "invite.email_failed", err)
		return false
	}
	s.logg.Info(ctx, "invite.email_sent")
	return true
}

func (s *service) ListPendingInvites(ctx context.Context, caller Caller, familyID uuid.UUID) ([]invites.InviteDTO, error) {
	return observe(ctx, s, "list_pending_invites", func(ctx context.Context) ([]invites.InviteDTO, error) {
		if err := requireCaller(caller); err != nil {
			return nil, err
		}
		var rows []models.Invite
		err := s.read(ctx, func(ctx context.Context) error {
			family, members, err := loadFamily(ctx, s.families, familyID)
			if err != nil {
				return err
			}
			if _, err := s.engine.CheckManageInvites(families.Snapshot(family, members), caller.UserID); err != nil {
				return err
			}
			rows, err = s.invites.ListPending(ctx, familyID, s.now())
			return storeError(err, "list invites")
		})
		if err != nil {
			return nil, err
		}
		out := make([]invites.InviteDTO, 0, len(rows))
		for i := range rows {
			out = append(out, *invites.FromModel(&rows[i]))
		}
		return out, nil
	})
}

func (s *service) RevokeInvite(ctx context.Context, caller Caller, inviteID string) (*invites.InviteDTO, error) {
	return observe(ctx, s, "revoke_invite", func(ctx context.Context) (*invites.InviteDTO, error) {
		if err := requireCaller(caller); err != nil {
			return nil, err
		}
		inviteID = strings.TrimSpace(inviteID)
		if inviteID == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "invite id required")
		}

		var revoked *models.Invite
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			inviteRepo := s.invites.WithTx(tx)
			invite, err := inviteRepo.FindByID(ctx, inviteID)
			if err != nil {
				return storeError(err, "invite not found")
			}
			family, members, err := loadFamily(ctx, s.families.WithTx(tx), invite.FamilyID)
			if err != nil {
				return err
			}
			actor, err := s.engine.CheckManageInvites(families.Snapshot(family, members), caller.UserID)
			if err != nil {
				return err
			}
			if invite.Status != enums.InviteStatusPending {
				return pkgerrors.New(pkgerrors.CodeConflict, "invite not pending").
					WithDetails(map[string]any{"invite_id": invite.ID, "invite_status": invite.Status})
			}
			now := s.now()
			if err := inviteRepo.Revoke(ctx, invite.ID, caller.UserID, now); err != nil {
				return storeError(err, "revoke invite")
			}
			invite.Status = enums.InviteStatusRevoked
			invite.RevokedBy = &caller.UserID
			invite.RevokedAt = &now
			revoked = invite
			return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventInviteRevoked,
				AggregateType: enums.AggregateInvite,
				AggregateID:   invite.ID,
				Actor:         actorRef(caller, family.ID, string(actor.Role)),
				Data:          inviteEvent(invite),
			})
		})
		if err != nil {
			return nil, storeError(err, "revoke invite")
		}
		s.logg.Info(s.logg.WithInviteID(ctx, inviteID), "invite.revoked")
		return invites.FromModel(revoked), nil
	})
}

func (s *service) AcceptInvite(ctx context.Context, caller Caller, input AcceptInviteInput) (*AcceptInviteResult, error) {
	return observe(ctx, s, "accept_invite", func(ctx context.Context) (*AcceptInviteResult, error) {
		if err := requireCaller(caller); err != nil {
			return nil, err
		}
		inviteID := strings.TrimSpace(input.InviteID)
		code := rules.NormalizeCode(input.Code)
		if inviteID == "" && code == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "invite id or code required")
		}

		var result *AcceptInviteResult
		err := s.versioned(ctx, "accept_invite", func(tx *gorm.DB) error {
			inviteRepo := s.invites.WithTx(tx)
			familyRepo := s.families.WithTx(tx)
			now := s.now()

			var (
				invite *models.Invite
				err    error
			)
			if inviteID != "" {
				invite, err = inviteRepo.FindByID(ctx, inviteID)
			} else {
				invite, err = inviteRepo.FindByCode(ctx, code, now)
			}
			if err != nil {
				return storeError(err, "invite not found")
			}

			ruleCaller := rules.Caller{UserID: caller.UserID, Email: caller.Email, EmailVerified: caller.EmailVerified}
			if err := rules.CheckInviteAcceptable(invites.ToRule(invite), ruleCaller, code, now); err != nil {
				return err
			}

			family, err := familyRepo.FindByID(ctx, invite.FamilyID)
			if err != nil {
				return storeError(err, "family no longer exists")
			}
			current, err := familyRepo.FindFamilyIDForUser(ctx, caller.UserID)
			if err != nil {
				return storeError(err, "resolve current family")
			}
			join, err := rules.CheckJoin(current, family.ID)
			if err != nil {
				return err
			}
			if join == rules.JoinRedundant {
				result = &AcceptInviteResult{
					Outcome:      AcceptAlreadyMember,
					FamilyID:     family.ID,
					Role:         invite.Role,
					InviteStatus: invite.Status,
				}
				return nil
			}

			if err := inviteRepo.MarkAccepted(ctx, invite.ID, caller.UserID, now); err != nil {
				return storeError(err, "accept invite")
			}
			member := models.FamilyMember{
				FamilyID: family.ID,
				UserID:   caller.UserID,
				Role:     invite.Role,
				Email:    optionalString(caller.Email),
				JoinedAt: now,
			}
			if err := familyRepo.AddMember(ctx, member); err != nil {
				return storeError(err, "add member")
			}
			if err := familyRepo.BumpVersion(ctx, family.ID, family.Version); err != nil {
				return storeError(err, "family no longer exists")
			}

			invite.Status = enums.InviteStatusAccepted
			invite.AcceptedBy = &caller.UserID
			invite.AcceptedAt = &now
			actor := actorRef(caller, family.ID, string(invite.Role))
			if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventInviteAccepted,
				AggregateType: enums.AggregateInvite,
				AggregateID:   invite.ID,
				Actor:         actor,
				Data:          inviteEvent(invite),
			}); err != nil {
				return err
			}
			if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventMemberJoined,
				AggregateType: enums.AggregateFamily,
				AggregateID:   family.ID.String(),
				Actor:         actor,
				Data: payloads.MemberEvent{
					FamilyID: family.ID,
					UserID:   caller.UserID,
					Role:     invite.Role,
					InviteID: invite.ID,
					Version:  family.Version + 1,
				},
			}); err != nil {
				return err
			}
			result = &AcceptInviteResult{
				Outcome:      AcceptJoined,
				FamilyID:     family.ID,
				Role:         invite.Role,
				InviteStatus: invite.Status,
			}
			return nil
		})
		if err != nil {
			return nil, storeError(err, "accept invite")
		}
		logCtx := s.logg.WithFamilyID(ctx, result.FamilyID.String())
		s.logg.Info(s.logg.WithField(logCtx, "outcome", result.Outcome), "invite.accepted")
		return result, nil
	})
}
