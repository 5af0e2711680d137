package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/keeply/keeply-backend/pkg/enums"
)

// Family is the group record. Version is bumped by every membership mutation and
// guards concurrent writers.
type Family struct {
	ID          uuid.UUID        `gorm:"column:id;type:uuid;primaryKey"`
	Name        string           `gorm:"column:name;not null"`
	Description *string          `gorm:"column:description"`
	Plan        enums.FamilyPlan `gorm:"column:plan;type:family_plan;not null;default:'free'"`
	CreatedBy   string           `gorm:"column:created_by;not null"`
	Version     int64            `gorm:"column:version;not null;default:1"`
	CreatedAt   time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

func (Family) TableName() string { return "families" }
