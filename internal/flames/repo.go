package flames

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/beatdrop/battles-backend/pkg/db/models"
	"github.com/beatdrop/battles-backend/pkg/pagination"
)

// Repository manages persistence for flame balances and ledger entries.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindEntryByKey(ctx context.Context, key string) (*models.FlameLedgerEntry, error)
	DebitIfSufficient(ctx context.Context, userID uuid.UUID, amount int64, at time.Time) (bool, error)
	CreditUpsert(ctx context.Context, userID uuid.UUID, amount int64, at time.Time) error
	Balance(ctx context.Context, userID uuid.UUID) (int64, error)
	CreateEntry(ctx context.Context, entry *models.FlameLedgerEntry) error
	ListEntries(ctx context.Context, userID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.FlameLedgerEntry, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a flames repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindEntryByKey(ctx context.Context, key string) (*models.FlameLedgerEntry, error) {
	var entry models.FlameLedgerEntry
	err := r.db.WithContext(ctx).Where("idempotency_key = ?", key).First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

// DebitIfSufficient subtracts amount in a single conditional statement and
// reports false when the balance row is missing or too small.
func (r *repository) DebitIfSufficient(ctx context.Context, userID uuid.UUID, amount int64, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.FlameBalance{}).
		Where("user_id = ? AND balance >= ?", userID, amount).
		Updates(map[string]any{
			"balance":    gorm.Expr("balance - ?", amount),
			"updated_at": at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) CreditUpsert(ctx context.Context, userID uuid.UUID, amount int64, at time.Time) error {
	row := models.FlameBalance{UserID: userID, Balance: amount, UpdatedAt: at}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"balance":    gorm.Expr("flame_balances.balance + ?", amount),
				"updated_at": at,
			}),
		}).
		Create(&row).Error
}

func (r *repository) Balance(ctx context.Context, userID uuid.UUID) (int64, error) {
	var row models.FlameBalance
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return row.Balance, nil
}

func (r *repository) CreateEntry(ctx context.Context, entry *models.FlameLedgerEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) ListEntries(ctx context.Context, userID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.FlameLedgerEntry, error) {
	query := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if cursor != nil {
		query = query.Where("(created_at < ?) OR (created_at = ? AND id < ?)", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}
	var entries []models.FlameLedgerEntry
	if err := query.
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}
