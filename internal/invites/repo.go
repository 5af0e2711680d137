package invites

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/keeply/keeply-backend/internal/rules"
	"github.com/keeply/keeply-backend/pkg/db/models"
	"github.com/keeply/keeply-backend/pkg/enums"
)

// ErrNotPending is returned when a conditional status transition matched no row:
// the invite was already consumed, revoked or has expired.
var ErrNotPending = errors.New("invite is no longer pending")

// Repository defines persistence for invites.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, invite *models.Invite) error
	FindByID(ctx context.Context, id string) (*models.Invite, error)
	FindByCode(ctx context.Context, code string, now time.Time) (*models.Invite, error)
	MarkAccepted(ctx context.Context, id, userID string, now time.Time) error
	Revoke(ctx context.Context, id, actorID string, now time.Time) error
	ListPending(ctx context.Context, familyID uuid.UUID, now time.Time) ([]models.Invite, error)
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// Create assigns the id and, for code invites, the join code before inserting.
func (r *repository) Create(ctx context.Context, invite *models.Invite) error {
	if invite == nil {
		return fmt.Errorf("invite required")
	}
	if invite.CreatedAt.IsZero() {
		invite.CreatedAt = time.Now().UTC()
	}
	if invite.ID == "" {
		id, err := NewID(invite.CreatedAt)
		if err != nil {
			return err
		}
		invite.ID = id
	}
	if invite.Type == enums.InviteTypeCode && invite.Code == nil {
		code, err := NewCode()
		if err != nil {
			return err
		}
		invite.Code = &code
	}
	if invite.Status == "" {
		invite.Status = enums.InviteStatusPending
	}
	return r.db.WithContext(ctx).Create(invite).Error
}

func (r *repository) FindByID(ctx context.Context, id string) (*models.Invite, error) {
	var invite models.Invite
	if err := r.db.WithContext(ctx).First(&invite, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &invite, nil
}

// FindByCode prefers the newest usable invite for the code. When none is usable the
// newest invite of any status is returned so callers can explain why it was refused.
func (r *repository) FindByCode(ctx context.Context, code string, now time.Time) (*models.Invite, error) {
	code = rules.NormalizeCode(code)
	if code == "" {
		return nil, gorm.ErrRecordNotFound
	}
	var invite models.Invite
	err := r.db.WithContext(ctx).
		Where("code = ? AND status = ? AND expires_at > ?", code, enums.InviteStatusPending, now).
		Order("created_at DESC").
		Take(&invite).Error
	if err == nil {
		return &invite, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	err = r.db.WithContext(ctx).
		Where("code = ?", code).
		Order("created_at DESC").
		Take(&invite).Error
	if err != nil {
		return nil, err
	}
	return &invite, nil
}

// MarkAccepted consumes a pending, unexpired invite. Exactly one concurrent caller wins.
func (r *repository) MarkAccepted(ctx context.Context, id, userID string, now time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&models.Invite{}).
		Where("id = ? AND status = ? AND expires_at > ?", id, enums.InviteStatusPending, now).
		UpdateColumns(map[string]any{
			"status":      enums.InviteStatusAccepted,
			"accepted_by": userID,
			"accepted_at": now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotPending
	}
	return nil
}

func (r *repository) Revoke(ctx context.Context, id, actorID string, now time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&models.Invite{}).
		Where("id = ? AND status = ?", id, enums.InviteStatusPending).
		UpdateColumns(map[string]any{
			"status":     enums.InviteStatusRevoked,
			"revoked_by": actorID,
			"revoked_at": now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotPending
	}
	return nil
}

func (r *repository) ListPending(ctx context.Context, familyID uuid.UUID, now time.Time) ([]models.Invite, error) {
	var rows []models.Invite
	err := r.db.WithContext(ctx).
		Where("family_id = ? AND status = ? AND expires_at > ?", familyID, enums.InviteStatusPending, now).
		Order("created_at DESC").
		Find(&rows).Error
	return rows, err
}

// DeleteExpiredBefore removes up to limit pending invites that expired before cutoff.
// Accepted and revoked rows are kept as history.
func (r *repository) DeleteExpiredBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	if limit <= 0 {
		limit = 500
	}
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&models.Invite{}).
		Where("status = ? AND expires_at < ?", enums.InviteStatusPending, cutoff).
		Order("expires_at ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).
		Where("id IN ? AND status = ?", ids, enums.InviteStatusPending).
		Delete(&models.Invite{})
	return res.RowsAffected, res.Error
}
