package models

import (
	"time"

	"github.com/google/uuid"
)

// User mirrors the identity service's account record.
type User struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	Handle    string    `gorm:"column:handle;not null;uniqueIndex"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
}

func (User) TableName() string { return "users" }
