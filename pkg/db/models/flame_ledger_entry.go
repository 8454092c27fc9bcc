package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/beatdrop/battles-backend/pkg/enums"
)

// FlameLedgerEntry records one immutable balance change.
type FlameLedgerEntry struct {
	ID             uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	UserID         uuid.UUID            `gorm:"column:user_id;type:uuid;not null;index"`
	IdempotencyKey string               `gorm:"column:idempotency_key;not null;uniqueIndex"`
	Type           enums.FlameEntryType `gorm:"column:type;type:flame_entry_type;not null"`
	Amount         int64                `gorm:"column:amount;not null"`
	BalanceAfter   int64                `gorm:"column:balance_after;not null"`
	Reason         string               `gorm:"column:reason;not null"`
	CreatedAt      time.Time            `gorm:"column:created_at;autoCreateTime"`
}

func (FlameLedgerEntry) TableName() string { return "flame_ledger_entries" }
