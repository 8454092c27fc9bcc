// Package dbtest opens throwaway sqlite databases carrying the full schema
// for package tests.
package dbtest

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/beatdrop/battles-backend/pkg/db"
	"github.com/beatdrop/battles-backend/pkg/db/models"
)

// Open returns an isolated in-memory database migrated with every model.
func Open(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := conn.AutoMigrate(
		&models.User{},
		&models.Beat{},
		&models.Battle{},
		&models.Vote{},
		&models.FlameBalance{},
		&models.FlameLedgerEntry{},
		&models.OutboxEvent{},
		&models.OutboxDLQ{},
	); err != nil {
		t.Fatalf("migrate sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	return conn
}

// Client wraps Open in the transaction runner services expect.
func Client(t testing.TB) (*db.Client, *gorm.DB) {
	t.Helper()
	conn := Open(t)
	return db.NewFromConn(conn), conn
}

// SeedUser inserts a mirrored user created at createdAt.
func SeedUser(t testing.TB, conn *gorm.DB, handle string, createdAt time.Time) models.User {
	t.Helper()
	user := models.User{ID: uuid.New(), Handle: handle, CreatedAt: createdAt.UTC()}
	if err := conn.Create(&user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return user
}

// SeedBeat inserts a mirrored beat.
func SeedBeat(t testing.TB, conn *gorm.DB, producerID uuid.UUID) models.Beat {
	t.Helper()
	beat := models.Beat{ID: uuid.New(), Title: "beat", ProducerID: producerID, CreatedAt: time.Now().UTC()}
	if err := conn.Create(&beat).Error; err != nil {
		t.Fatalf("seed beat: %v", err)
	}
	return beat
}

// SeedBalance sets a user's flame balance directly.
func SeedBalance(t testing.TB, conn *gorm.DB, userID uuid.UUID, balance int64) {
	t.Helper()
	row := models.FlameBalance{UserID: userID, Balance: balance}
	if err := conn.Create(&row).Error; err != nil {
		t.Fatalf("seed balance: %v", err)
	}
}
