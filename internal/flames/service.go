package flames

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/beatdrop/battles-backend/pkg/db"
	"github.com/beatdrop/battles-backend/pkg/db/models"
	"github.com/beatdrop/battles-backend/pkg/enums"
	pkgerrors "github.com/beatdrop/battles-backend/pkg/errors"
	"github.com/beatdrop/battles-backend/pkg/logger"
	"github.com/beatdrop/battles-backend/pkg/outbox"
	"github.com/beatdrop/battles-backend/pkg/outbox/payloads"
	"github.com/beatdrop/battles-backend/pkg/pagination"
)

const (
	maxKeyLength  = 200
	defaultReason = "unspecified"
	refundReason  = "battle cancelled"
)

// VoteKey is the ledger key charged for a voter's first vote in a battle.
func VoteKey(battleID, voterID uuid.UUID) string {
	return fmt.Sprintf("vote:%s:%s", battleID, voterID)
}

// GrantKey namespaces an operator-supplied key for manual credits.
func GrantKey(requestKey string) string {
	return "grant:" + strings.TrimSpace(requestKey)
}

// RefundKey is the ledger key used to return a vote's flame on cancellation.
func RefundKey(battleID, voterID uuid.UUID) string {
	return fmt.Sprintf("refund:%s:%s", battleID, voterID)
}

// Service is the only writer of flame balances.
type Service interface {
	// Debit and Credit join tx when it is non-nil and otherwise run in their
	// own transaction.
	Debit(ctx context.Context, tx *gorm.DB, input Input) (*Receipt, error)
	Credit(ctx context.Context, tx *gorm.DB, input Input) (*Receipt, error)
	Balance(ctx context.Context, userID uuid.UUID) (int64, error)
	Entries(ctx context.Context, userID uuid.UUID, params pagination.Params) (pagination.Page[models.FlameLedgerEntry], error)
	// Refund returns the flames a voter paid to vote in battleID. It is a
	// no-op returning nil when no vote charge exists for the pair.
	Refund(ctx context.Context, tx *gorm.DB, battleID, voterID uuid.UUID, actor *outbox.ActorRef) (*Receipt, error)
}

// Input describes one balance change.
type Input struct {
	UserID         uuid.UUID
	Amount         int64
	IdempotencyKey string
	Reason         string
	Actor          *outbox.ActorRef
}

// Receipt is the ledger entry backing a change. Replayed is true when the
// key had already been applied and nothing was changed.
type Receipt struct {
	Entry    models.FlameLedgerEntry
	Replayed bool
}

type txRunner interface {
	WithRetryTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// ServiceParams wires the flames service.
type ServiceParams struct {
	Repo   Repository
	TX     txRunner
	Outbox outboxPublisher
	Logger *logger.Logger
	Now    func() time.Time
}

type service struct {
	repo   Repository
	tx     txRunner
	outbox outboxPublisher
	logg   *logger.Logger
	now    func() time.Time
}

// NewService validates dependencies and returns the flames service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("flames repository required")
	}
	if params.TX == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		repo:   params.Repo,
		tx:     params.TX,
		outbox: params.Outbox,
		logg:   params.Logger,
		now:    now,
	}, nil
}

func (s *service) Debit(ctx context.Context, tx *gorm.DB, input Input) (*Receipt, error) {
	return s.apply(ctx, tx, enums.FlameEntryDebit, input)
}

func (s *service) Credit(ctx context.Context, tx *gorm.DB, input Input) (*Receipt, error) {
	return s.apply(ctx, tx, enums.FlameEntryCredit, input)
}

func (s *service) apply(ctx context.Context, tx *gorm.DB, entryType enums.FlameEntryType, input Input) (*Receipt, error) {
	input.IdempotencyKey = strings.TrimSpace(input.IdempotencyKey)
	if err := validateInput(input); err != nil {
		return nil, err
	}
	if strings.TrimSpace(input.Reason) == "" {
		input.Reason = defaultReason
	}

	var receipt *Receipt
	run := func(tx *gorm.DB) error {
		var err error
		receipt, err = s.applyTx(ctx, tx, entryType, input)
		return err
	}

	if tx != nil {
		if err := run(tx); err != nil {
			return nil, err
		}
		return receipt, nil
	}
	if err := s.tx.WithRetryTx(ctx, run); err != nil {
		return nil, err
	}
	return receipt, nil
}

func (s *service) applyTx(ctx context.Context, tx *gorm.DB, entryType enums.FlameEntryType, input Input) (*Receipt, error) {
	repo := s.repo.WithTx(tx)

	existing, err := repo.FindEntryByKey(ctx, input.IdempotencyKey)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup flame ledger entry")
	}
	if existing != nil {
		if existing.UserID != input.UserID || existing.Type != entryType || existing.Amount != input.Amount {
			return nil, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key already used for a different flame change").
				WithDetails(map[string]any{"idempotencyKey": input.IdempotencyKey})
		}
		return &Receipt{Entry: *existing, Replayed: true}, nil
	}

	now := s.now().UTC()
	switch entryType {
	case enums.FlameEntryDebit:
		ok, err := repo.DebitIfSufficient(ctx, input.UserID, input.Amount, now)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "debit flame balance")
		}
		if !ok {
			balance, balErr := repo.Balance(ctx, input.UserID)
			if balErr != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, balErr, "read flame balance")
			}
			return nil, pkgerrors.New(pkgerrors.CodeInsufficientBalance, "insufficient flame balance").
				WithDetails(map[string]any{"balance": balance, "required": input.Amount})
		}
	case enums.FlameEntryCredit:
		if err := repo.CreditUpsert(ctx, input.UserID, input.Amount, now); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "credit flame balance")
		}
	}

	balance, err := repo.Balance(ctx, input.UserID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read flame balance")
	}

	entry := models.FlameLedgerEntry{
		ID:             uuid.New(),
		UserID:         input.UserID,
		IdempotencyKey: input.IdempotencyKey,
		Type:           entryType,
		Amount:         input.Amount,
		BalanceAfter:   balance,
		Reason:         input.Reason,
		CreatedAt:      now,
	}
	if err := repo.CreateEntry(ctx, &entry); err != nil {
		if dbpkg.IsUniqueViolation(err, "") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "concurrent request with the same idempotency key")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record flame ledger entry")
	}

	if entryType == enums.FlameEntryCredit {
		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventFlamesCredited,
			AggregateType: enums.AggregateFlames,
			AggregateID:   input.UserID,
			Actor:         input.Actor,
			OccurredAt:    now,
			Data: payloads.FlamesCreditedEvent{
				UserID:         input.UserID,
				Amount:         input.Amount,
				BalanceAfter:   balance,
				IdempotencyKey: input.IdempotencyKey,
			},
		}); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit flames credited event")
		}
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"user_id":         input.UserID.String(),
		"entry_type":      entryType,
		"amount":          input.Amount,
		"balance_after":   balance,
		"idempotency_key": input.IdempotencyKey,
	})
	s.logg.Debug(logCtx, "flame ledger entry recorded")

	return &Receipt{Entry: entry}, nil
}

func (s *service) Balance(ctx context.Context, userID uuid.UUID) (int64, error) {
	if userID == uuid.Nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	balance, err := s.repo.Balance(ctx, userID)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read flame balance")
	}
	return balance, nil
}

func (s *service) Entries(ctx context.Context, userID uuid.UUID, params pagination.Params) (pagination.Page[models.FlameLedgerEntry], error) {
	if userID == uuid.Nil {
		return pagination.Page[models.FlameLedgerEntry]{}, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return pagination.Page[models.FlameLedgerEntry]{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := s.repo.ListEntries(ctx, userID, cursor, pagination.LimitWithBuffer(params.Limit))
	if err != nil {
		return pagination.Page[models.FlameLedgerEntry]{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list flame ledger entries")
	}
	return pagination.Trim(rows, params.Limit, func(e models.FlameLedgerEntry) pagination.Cursor {
		return pagination.Cursor{CreatedAt: e.CreatedAt, ID: e.ID}
	}), nil
}

func (s *service) Refund(ctx context.Context, tx *gorm.DB, battleID, voterID uuid.UUID, actor *outbox.ActorRef) (*Receipt, error) {
	if battleID == uuid.Nil || voterID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "battle id and voter id are required")
	}
	charge, err := s.repo.WithTx(tx).FindEntryByKey(ctx, VoteKey(battleID, voterID))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup vote charge")
	}
	if charge == nil || charge.Type != enums.FlameEntryDebit {
		return nil, nil
	}
	return s.Credit(ctx, tx, Input{
		UserID:         voterID,
		Amount:         charge.Amount,
		IdempotencyKey: RefundKey(battleID, voterID),
		Reason:         refundReason,
		Actor:          actor,
	})
}

func validateInput(input Input) error {
	if input.UserID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if input.Amount <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	if input.IdempotencyKey == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "idempotency key is required")
	}
	if len(input.IdempotencyKey) > maxKeyLength {
		return pkgerrors.New(pkgerrors.CodeValidation, "idempotency key is too long")
	}
	return nil
}
