package battles

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/beatdrop/battles-backend/pkg/db/models"
	"github.com/beatdrop/battles-backend/pkg/enums"
)

type repository struct {
	db *gorm.DB
}

// NewRepository builds a battles repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, battle *models.Battle) error {
	return r.db.WithContext(ctx).Create(battle).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Battle, error) {
	var battle models.Battle
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&battle).Error; err != nil {
		return nil, err
	}
	return &battle, nil
}

func (r *repository) LockByID(ctx context.Context, id uuid.UUID) (*models.Battle, error) {
	var battle models.Battle
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&battle).Error; err != nil {
		return nil, err
	}
	return &battle, nil
}

func (r *repository) Activate(ctx context.Context, id uuid.UUID, update ActivateUpdate) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Battle{}).
		Where("id = ? AND status = ? AND opponent_id IS NULL", id, enums.BattleStatusOpen).
		Updates(map[string]any{
			"status":             enums.BattleStatusActive,
			"opponent_id":        update.OpponentID,
			"opponent_entry_ref": update.OpponentEntryRef,
			"accepted_at":        update.AcceptedAt,
			"ends_at":            update.EndsAt,
			"updated_at":         update.AcceptedAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) Close(ctx context.Context, id uuid.UUID, update CloseUpdate, from ...enums.BattleStatus) (bool, error) {
	if len(from) == 0 {
		from = []enums.BattleStatus{enums.BattleStatusActive}
	}
	res := r.db.WithContext(ctx).
		Model(&models.Battle{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(map[string]any{
			"status":     enums.BattleStatusClosed,
			"outcome":    update.Outcome,
			"winner_id":  update.WinnerID,
			"closed_at":  update.ClosedAt,
			"updated_at": update.ClosedAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) ApplyTallyDelta(ctx context.Context, id uuid.UUID, challengerDelta, opponentDelta int64, at time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&models.Battle{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"challenger_votes": gorm.Expr("challenger_votes + ?", challengerDelta),
			"opponent_votes":   gorm.Expr("opponent_votes + ?", opponentDelta),
			"updated_at":       at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *repository) ListExpiredActive(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&models.Battle{}).
		Where("status = ? AND ends_at <= ?", enums.BattleStatusActive, now).
		Order("ends_at ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}

func (r *repository) List(ctx context.Context, filter ListFilter) ([]models.Battle, error) {
	query := r.db.WithContext(ctx).Model(&models.Battle{})
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.ParticipantID != nil {
		query = query.Where("challenger_id = ? OR opponent_id = ?", *filter.ParticipantID, *filter.ParticipantID)
	}
	var battles []models.Battle
	err := query.
		Order("created_at DESC").
		Order("id DESC").
		Limit(filter.Limit).
		Offset(filter.Offset).
		Find(&battles).Error
	return battles, err
}

func (r *repository) ListVoterIDs(ctx context.Context, battleID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&models.Vote{}).
		Where("battle_id = ?", battleID).
		Order("cast_at ASC").
		Pluck("voter_id", &ids).Error
	return ids, err
}

// ListSettled returns battles closed by vote at or before asOf. Cancelled
// battles are excluded.
func (r *repository) ListSettled(ctx context.Context, asOf time.Time) ([]models.Battle, error) {
	var battles []models.Battle
	err := r.settledQuery(ctx, asOf).
		Order("closed_at ASC").
		Order("id ASC").
		Find(&battles).Error
	return battles, err
}

func (r *repository) LatestSettledUpdate(ctx context.Context, asOf time.Time) (*time.Time, error) {
	var battle models.Battle
	err := r.settledQuery(ctx, asOf).
		Order("updated_at DESC").
		Limit(1).
		Take(&battle).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &battle.UpdatedAt, nil
}

func (r *repository) settledQuery(ctx context.Context, asOf time.Time) *gorm.DB {
	return r.db.WithContext(ctx).
		Model(&models.Battle{}).
		Where("status = ? AND outcome <> ? AND closed_at <= ?", enums.BattleStatusClosed, enums.BattleOutcomeCancelled, asOf)
}
