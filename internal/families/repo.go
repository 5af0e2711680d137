package families

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/keeply/keeply-backend/pkg/db"
	"github.com/keeply/keeply-backend/pkg/db/models"
	"github.com/keeply/keeply-backend/pkg/enums"
)

var (
	// ErrVersionConflict means another writer changed the family since it was read.
	ErrVersionConflict = errors.New("family version conflict")
	// ErrAlreadyInFamily is returned when the unique user_id index rejects a member insert.
	ErrAlreadyInFamily = errors.New("user already belongs to a family")
)

// Repository defines persistence for families and their member rows.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, family *models.Family, admin models.FamilyMember) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Family, error)
	FindFamilyIDForUser(ctx context.Context, userID string) (*uuid.UUID, error)
	ListMembers(ctx context.Context, familyID uuid.UUID) ([]models.FamilyMember, error)
	ListMembersByEmail(ctx context.Context, email string) ([]models.FamilyMember, error)
	AddMember(ctx context.Context, member models.FamilyMember) error
	RemoveMember(ctx context.Context, familyID uuid.UUID, userID string) error
	UpdateMemberRole(ctx context.Context, familyID uuid.UUID, userID string, role enums.FamilyRole) error
	UpdateDetails(ctx context.Context, id uuid.UUID, name string, description *string) error
	BumpVersion(ctx context.Context, id uuid.UUID, expected int64) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a families repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// Create inserts the family and its founding admin. Both rows must land in the same
// transaction; callers pass a tx-bound repository.
func (r *repository) Create(ctx context.Context, family *models.Family, admin models.FamilyMember) error {
	if family == nil {
		return fmt.Errorf("family required")
	}
	if family.ID == uuid.Nil {
		family.ID = uuid.New()
	}
	if family.Version == 0 {
		family.Version = 1
	}
	if err := r.db.WithContext(ctx).Create(family).Error; err != nil {
		return err
	}
	admin.FamilyID = family.ID
	return r.AddMember(ctx, admin)
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Family, error) {
	var family models.Family
	if err := r.db.WithContext(ctx).First(&family, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &family, nil
}

// FindFamilyIDForUser resolves the user -> family pointer. Nil means the user has no family.
func (r *repository) FindFamilyIDForUser(ctx context.Context, userID string) (*uuid.UUID, error) {
	var member models.FamilyMember
	err := r.db.WithContext(ctx).
		Select("family_id").
		Where("user_id = ?", userID).
		Take(&member).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	id := member.FamilyID
	return &id, nil
}

func (r *repository) ListMembers(ctx context.Context, familyID uuid.UUID) ([]models.FamilyMember, error) {
	var rows []models.FamilyMember
	err := r.db.WithContext(ctx).
		Where("family_id = ?", familyID).
		Order("joined_at ASC").
		Order("user_id ASC").
		Find(&rows).Error
	return rows, err
}

// ListMembersByEmail finds member rows recorded under the address, case-insensitively.
func (r *repository) ListMembersByEmail(ctx context.Context, email string) ([]models.FamilyMember, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, nil
	}
	var rows []models.FamilyMember
	err := r.db.WithContext(ctx).
		Where("LOWER(email) = ?", email).
		Find(&rows).Error
	return rows, err
}

func (r *repository) AddMember(ctx context.Context, member models.FamilyMember) error {
	if !member.Role.IsValid() {
		return fmt.Errorf("invalid family role %q", member.Role)
	}
	if err := r.db.WithContext(ctx).Create(&member).Error; err != nil {
		if dbpkg.IsUniqueViolation(err) {
			return ErrAlreadyInFamily
		}
		return err
	}
	return nil
}

func (r *repository) RemoveMember(ctx context.Context, familyID uuid.UUID, userID string) error {
	res := r.db.WithContext(ctx).
		Where("family_id = ? AND user_id = ?", familyID, userID).
		Delete(&models.FamilyMember{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *repository) UpdateMemberRole(ctx context.Context, familyID uuid.UUID, userID string, role enums.FamilyRole) error {
	if !role.IsValid() {
		return fmt.Errorf("invalid family role %q", role)
	}
	res := r.db.WithContext(ctx).
		Model(&models.FamilyMember{}).
		Where("family_id = ? AND user_id = ?", familyID, userID).
		UpdateColumn("role", role)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *repository) UpdateDetails(ctx context.Context, id uuid.UUID, name string, description *string) error {
	return r.db.WithContext(ctx).
		Model(&models.Family{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"name":        name,
			"description": description,
		}).Error
}

// BumpVersion advances the version only if it still equals expected. Every member-list
// mutation calls it inside the same transaction, so two writers that read the same
// snapshot cannot both commit.
func (r *repository) BumpVersion(ctx context.Context, id uuid.UUID, expected int64) error {
	res := r.db.WithContext(ctx).
		Model(&models.Family{}).
		Where("id = ? AND version = ?", id, expected).
		UpdateColumns(map[string]any{
			"version":    gorm.Expr("version + 1"),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Family{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return gorm.ErrRecordNotFound
	}
	return ErrVersionConflict
}

// Delete removes the member rows, then the family.
func (r *repository) Delete(ctx context.Context, id uuid.UUID) error {
	if err := r.db.WithContext(ctx).Where("family_id = ?", id).Delete(&models.FamilyMember{}).Error; err != nil {
		return err
	}
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Family{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
