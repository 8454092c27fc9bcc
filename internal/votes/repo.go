package votes

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/beatdrop/battles-backend/pkg/db/models"
)

// Repository persists battle_votes rows.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Find(ctx context.Context, battleID, voterID uuid.UUID) (*models.Vote, error)
	Insert(ctx context.Context, vote *models.Vote) error
	UpdateChoice(ctx context.Context, battleID, voterID, participantID uuid.UUID, at time.Time) error
	Exists(ctx context.Context, battleID, voterID uuid.UUID) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a votes repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// Find returns nil, nil when the voter has not voted in the battle.
func (r *repository) Find(ctx context.Context, battleID, voterID uuid.UUID) (*models.Vote, error) {
	var vote models.Vote
	err := r.db.WithContext(ctx).
		Where("battle_id = ? AND voter_id = ?", battleID, voterID).
		First(&vote).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &vote, nil
}

func (r *repository) Insert(ctx context.Context, vote *models.Vote) error {
	return r.db.WithContext(ctx).Create(vote).Error
}

func (r *repository) UpdateChoice(ctx context.Context, battleID, voterID, participantID uuid.UUID, at time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&models.Vote{}).
		Where("battle_id = ? AND voter_id = ?", battleID, voterID).
		Updates(map[string]any{
			"chosen_participant_id": participantID,
			"updated_at":            at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *repository) Exists(ctx context.Context, battleID, voterID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Vote{}).
		Where("battle_id = ? AND voter_id = ?", battleID, voterID).
		Count(&count).Error
	return count > 0, err
}
