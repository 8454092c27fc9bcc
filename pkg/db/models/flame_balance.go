package models

import (
	"time"

	"github.com/google/uuid"
)

// FlameBalance holds a user's spendable flames. Balance never goes negative.
type FlameBalance struct {
	UserID    uuid.UUID `gorm:"column:user_id;type:uuid;primaryKey"`
	Balance   int64     `gorm:"column:balance;not null;default:0;check:balance >= 0"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (FlameBalance) TableName() string { return "flame_balances" }
