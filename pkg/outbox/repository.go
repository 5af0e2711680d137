package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/keeply/keeply-backend/pkg/db/models"
)

var errNoTx = errors.New("outbox: transaction required")

// Repository owns the outbox_events table. Everything except pruning runs
// inside the caller's transaction.
type Repository struct {
	db  *gorm.DB
	now func() time.Time
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

func (r *Repository) Insert(tx *gorm.DB, event models.OutboxEvent) error {
	if tx == nil {
		return errNoTx
	}
	return tx.Create(&event).Error
}

// ClaimPending returns the oldest undelivered rows with attempts left, oldest
// first. On postgres the rows stay locked (SKIP LOCKED) until tx ends so
// concurrent publishers split the backlog.
func (r *Repository) ClaimPending(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error) {
	if tx == nil {
		return nil, errNoTx
	}
	q := tx.Where("published_at IS NULL")
	if maxAttempts > 0 {
		q = q.Where("attempt_count < ?", maxAttempts)
	}
	if tx.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
	}
	var rows []models.OutboxEvent
	if err := q.Order("created_at, id").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *Repository) MarkPublished(tx *gorm.DB, id uuid.UUID) error {
	return r.update(tx, id, map[string]any{"published_at": r.now().UTC()})
}

// RecordFailure keeps the row pending and spends one attempt.
func (r *Repository) RecordFailure(tx *gorm.DB, id uuid.UUID, cause error) error {
	return r.update(tx, id, map[string]any{
		"last_error":    cause.Error(),
		"attempt_count": gorm.Expr("attempt_count + 1"),
	})
}

// Park sets attempt_count to the ceiling so ClaimPending never returns the row
// again. The row itself is kept until retention removes it.
func (r *Repository) Park(tx *gorm.DB, id uuid.UUID, cause error, ceiling int) error {
	return r.update(tx, id, map[string]any{
		"last_error":    cause.Error(),
		"attempt_count": ceiling,
	})
}

func (r *Repository) update(tx *gorm.DB, id uuid.UUID, cols map[string]any) error {
	if tx == nil {
		return errNoTx
	}
	return tx.Model(&models.OutboxEvent{}).Where("id = ?", id).Updates(cols).Error
}

// PruneBefore deletes at most limit rows that are finished with: delivered
// before cutoff, or created before cutoff with at least parkedAttempts spent.
func (r *Repository) PruneBefore(ctx context.Context, cutoff time.Time, parkedAttempts, limit int) (int64, error) {
	if r.db == nil {
		return 0, errors.New("outbox: repository has no database")
	}
	conn := r.db.WithContext(ctx)
	victims := conn.Model(&models.OutboxEvent{}).
		Select("id").
		Where("published_at < ?", cutoff).
		Or("published_at IS NULL AND attempt_count >= ? AND created_at < ?", parkedAttempts, cutoff).
		Order("created_at").
		Limit(limit)
	res := conn.Where("id IN (?)", victims).Delete(&models.OutboxEvent{})
	return res.RowsAffected, res.Error
}
