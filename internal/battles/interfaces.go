package battles

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/beatdrop/battles-backend/pkg/db/models"
	"github.com/beatdrop/battles-backend/pkg/enums"
)

// Repository defines persistence operations for the battles table.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, battle *models.Battle) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Battle, error)
	// LockByID selects the battle row FOR UPDATE. Must run inside a transaction.
	LockByID(ctx context.Context, id uuid.UUID) (*models.Battle, error)
	Activate(ctx context.Context, id uuid.UUID, update ActivateUpdate) (bool, error)
	// Close writes the terminal state only while the row is in one of from.
	Close(ctx context.Context, id uuid.UUID, update CloseUpdate, from ...enums.BattleStatus) (bool, error)
	ApplyTallyDelta(ctx context.Context, id uuid.UUID, challengerDelta, opponentDelta int64, at time.Time) error
	ListExpiredActive(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
	List(ctx context.Context, filter ListFilter) ([]models.Battle, error)
	ListVoterIDs(ctx context.Context, battleID uuid.UUID) ([]uuid.UUID, error)
	ListSettled(ctx context.Context, asOf time.Time) ([]models.Battle, error)
	LatestSettledUpdate(ctx context.Context, asOf time.Time) (*time.Time, error)
}

// ActivateUpdate carries the OPEN to ACTIVE write.
type ActivateUpdate struct {
	OpponentID       uuid.UUID
	OpponentEntryRef string
	AcceptedAt       time.Time
	EndsAt           time.Time
}

// CloseUpdate carries the terminal write.
type CloseUpdate struct {
	Outcome  enums.BattleOutcome
	WinnerID *uuid.UUID
	ClosedAt time.Time
}

// ListFilter narrows battle listings.
type ListFilter struct {
	Status        *enums.BattleStatus
	ParticipantID *uuid.UUID
	Limit         int
	Offset        int
}
