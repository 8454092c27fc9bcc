package models

import (
	"time"

	"github.com/google/uuid"
)

// Beat mirrors the catalog entry battles are fought over.
type Beat struct {
	ID         uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	Title      string    `gorm:"column:title;not null"`
	ProducerID uuid.UUID `gorm:"column:producer_id;type:uuid;not null"`
	CreatedAt  time.Time `gorm:"column:created_at;not null"`
}

func (Beat) TableName() string { return "beats" }
