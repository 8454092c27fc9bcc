package battles

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/beatdrop/battles-backend/internal/flames"
	"github.com/beatdrop/battles-backend/pkg/db/models"
	"github.com/beatdrop/battles-backend/pkg/enums"
	pkgerrors "github.com/beatdrop/battles-backend/pkg/errors"
	"github.com/beatdrop/battles-backend/pkg/logger"
	"github.com/beatdrop/battles-backend/pkg/metrics"
	"github.com/beatdrop/battles-backend/pkg/outbox"
	"github.com/beatdrop/battles-backend/pkg/outbox/payloads"
	"github.com/beatdrop/battles-backend/pkg/pagination"
)

const (
	DefaultVotingWindow   = 6 * 24 * time.Hour
	DefaultMaxTitleLength = 140
)

type txRunner interface {
	WithRetryTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// BeatResolver answers whether a beat reference points at a real beat.
type BeatResolver interface {
	Exists(ctx context.Context, beatID uuid.UUID) (bool, error)
}

// UserResolver answers whether a user id is known.
type UserResolver interface {
	Exists(ctx context.Context, userID uuid.UUID) (bool, error)
}

// FlameRefunder returns vote charges when a battle is cancelled.
type FlameRefunder interface {
	Refund(ctx context.Context, tx *gorm.DB, battleID, voterID uuid.UUID, actor *outbox.ActorRef) (*flames.Receipt, error)
}

// Service is the only writer of battle status, outcome and winner.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.Battle, error)
	Accept(ctx context.Context, input AcceptInput) (*models.Battle, error)
	CloseIfExpired(ctx context.Context, battleID uuid.UUID) (*models.Battle, error)
	Get(ctx context.Context, battleID uuid.UUID) (*models.Battle, error)
	List(ctx context.Context, filter ListFilter) (*ListResult, error)
	ForceClose(ctx context.Context, battleID uuid.UUID, actor outbox.ActorRef) (*models.Battle, error)
	Cancel(ctx context.Context, battleID uuid.UUID, actor outbox.ActorRef) (*CancelResult, error)
	SweepExpired(ctx context.Context, limit int) (int, error)
}

// CreateInput opens a battle. A non-nil OpponentID starts it immediately.
type CreateInput struct {
	ChallengerID uuid.UUID
	BeatID       uuid.UUID
	Title        string
	OpponentID   *uuid.UUID
	EntryRef     string
}

// AcceptInput joins an OPEN battle as the opponent.
type AcceptInput struct {
	BattleID   uuid.UUID
	AccepterID uuid.UUID
	EntryRef   string
}

// ListResult is one offset page of battles.
type ListResult struct {
	Items   []models.Battle
	Limit   int
	Offset  int
	HasMore bool
}

// CancelResult reports the cancelled battle and how many votes were refunded.
type CancelResult struct {
	Battle        *models.Battle
	RefundedVotes int
}

// ServiceParams wires the battle lifecycle service.
type ServiceParams struct {
	Repo           Repository
	TX             txRunner
	Outbox         outboxPublisher
	Beats          BeatResolver
	Users          UserResolver
	Flames         FlameRefunder
	Metrics        *metrics.BattleMetrics
	Logger         *logger.Logger
	VotingWindow   time.Duration
	MaxTitleLength int
	Now            func() time.Time
}

type service struct {
	repo           Repository
	tx             txRunner
	outbox         outboxPublisher
	beats          BeatResolver
	users          UserResolver
	flames         FlameRefunder
	metrics        *metrics.BattleMetrics
	logg           *logger.Logger
	votingWindow   time.Duration
	maxTitleLength int
	now            func() time.Time
}

// NewService validates dependencies and returns the battle lifecycle service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("battles repository required")
	}
	if params.TX == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.Beats == nil {
		return nil, fmt.Errorf("beat resolver required")
	}
	if params.Users == nil {
		return nil, fmt.Errorf("user resolver required")
	}
	if params.Flames == nil {
		return nil, fmt.Errorf("flame refunder required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	window := params.VotingWindow
	if window <= 0 {
		window = DefaultVotingWindow
	}
	maxTitle := params.MaxTitleLength
	if maxTitle <= 0 {
		maxTitle = DefaultMaxTitleLength
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		repo:           params.Repo,
		tx:             params.TX,
		outbox:         params.Outbox,
		beats:          params.Beats,
		users:          params.Users,
		flames:         params.Flames,
		metrics:        params.Metrics,
		logg:           params.Logger,
		votingWindow:   window,
		maxTitleLength: maxTitle,
		now:            now,
	}, nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (*models.Battle, error) {
	if input.ChallengerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "title is required")
	}
	if utf8.RuneCountInString(title) > s.maxTitleLength {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "title is too long").
			WithDetails(map[string]any{"maxLength": s.maxTitleLength})
	}
	entryRef := strings.TrimSpace(input.EntryRef)
	if entryRef == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "entry reference is required")
	}
	if input.OpponentID != nil && *input.OpponentID == input.ChallengerID {
		return nil, pkgerrors.New(pkgerrors.CodeSelfChallenge, "cannot challenge yourself")
	}

	ok, err := s.beats.Exists(ctx, input.BeatID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve beat")
	}
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "beat not found").
			WithDetails(map[string]any{"beatId": input.BeatID})
	}
	if err := s.requireUser(ctx, input.ChallengerID, "challenger"); err != nil {
		return nil, err
	}
	if input.OpponentID != nil {
		if err := s.requireUser(ctx, *input.OpponentID, "opponent"); err != nil {
			return nil, err
		}
	}

	now := s.now().UTC()
	battle := &models.Battle{
		ID:                 uuid.New(),
		Title:              title,
		BeatID:             input.BeatID,
		ChallengerID:       input.ChallengerID,
		ChallengerEntryRef: entryRef,
		Status:             enums.BattleStatusOpen,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if input.OpponentID != nil {
		opponent := *input.OpponentID
		endsAt := now.Add(s.votingWindow)
		battle.OpponentID = &opponent
		battle.Status = enums.BattleStatusActive
		battle.AcceptedAt = &now
		battle.EndsAt = &endsAt
	}

	err = s.tx.WithRetryTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, battle); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create battle")
		}
		return s.emit(ctx, tx, enums.EventBattleCreated, battle.ID, &outbox.ActorRef{UserID: input.ChallengerID}, now, payloads.BattleCreatedEvent{
			BattleID:     battle.ID,
			BeatID:       battle.BeatID,
			ChallengerID: battle.ChallengerID,
			OpponentID:   battle.OpponentID,
			Status:       battle.Status,
			EndsAt:       battle.EndsAt,
		})
	})
	if err != nil {
		return nil, err
	}

	logCtx := s.logg.WithBattleID(ctx, battle.ID.String())
	s.logg.Info(s.logg.WithField(logCtx, "status", battle.Status), "battle created")
	return battle, nil
}

func (s *service) Accept(ctx context.Context, input AcceptInput) (*models.Battle, error) {
	if input.BattleID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "battle id is required")
	}
	if input.AccepterID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	entryRef := strings.TrimSpace(input.EntryRef)
	if entryRef == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "entry reference is required")
	}
	if err := s.requireUser(ctx, input.AccepterID, "opponent"); err != nil {
		return nil, err
	}

	var accepted *models.Battle
	err := s.tx.WithRetryTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		battle, err := s.lock(ctx, repo, input.BattleID)
		if err != nil {
			return err
		}
		if battle.Status != enums.BattleStatusOpen || battle.OpponentID != nil {
			return alreadyAccepted(battle)
		}
		if battle.ChallengerID == input.AccepterID {
			return pkgerrors.New(pkgerrors.CodeSelfChallenge, "cannot accept your own battle")
		}

		now := s.now().UTC()
		update := ActivateUpdate{
			OpponentID:       input.AccepterID,
			OpponentEntryRef: entryRef,
			AcceptedAt:       now,
			EndsAt:           now.Add(s.votingWindow),
		}
		ok, err := repo.Activate(ctx, battle.ID, update)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "activate battle")
		}
		if !ok {
			return alreadyAccepted(battle)
		}

		battle.Status = enums.BattleStatusActive
		battle.OpponentID = &update.OpponentID
		battle.OpponentEntryRef = &update.OpponentEntryRef
		battle.AcceptedAt = &update.AcceptedAt
		battle.EndsAt = &update.EndsAt
		battle.UpdatedAt = now
		accepted = battle

		return s.emit(ctx, tx, enums.EventBattleAccepted, battle.ID, &outbox.ActorRef{UserID: input.AccepterID}, now, payloads.BattleAcceptedEvent{
			BattleID:     battle.ID,
			ChallengerID: battle.ChallengerID,
			OpponentID:   update.OpponentID,
			EndsAt:       update.EndsAt,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logg.Info(s.logg.WithBattleID(ctx, accepted.ID.String()), "battle accepted")
	return accepted, nil
}

func (s *service) CloseIfExpired(ctx context.Context, battleID uuid.UUID) (*models.Battle, error) {
	battle, _, err := s.closeIfExpired(ctx, battleID)
	return battle, err
}

// closeIfExpired reports whether this call performed the terminal write.
func (s *service) closeIfExpired(ctx context.Context, battleID uuid.UUID) (*models.Battle, bool, error) {
	if battleID == uuid.Nil {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "battle id is required")
	}
	var (
		result  *models.Battle
		settled bool
	)
	err := s.tx.WithRetryTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		battle, err := s.lock(ctx, repo, battleID)
		if err != nil {
			return err
		}
		result = battle
		settled = false
		now := s.now().UTC()
		if battle.Status != enums.BattleStatusActive || !battle.IsExpired(now) {
			return nil
		}
		settled, err = s.settle(ctx, tx, battle, now, false, nil)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	if settled {
		s.recordSettlement(ctx, result, false)
	}
	return result, settled, nil
}

func (s *service) Get(ctx context.Context, battleID uuid.UUID) (*models.Battle, error) {
	if battleID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "battle id is required")
	}
	battle, err := s.repo.FindByID(ctx, battleID)
	if err != nil {
		return nil, mapFindError(err, battleID)
	}
	if battle.Status == enums.BattleStatusActive && battle.IsExpired(s.now().UTC()) {
		return s.CloseIfExpired(ctx, battleID)
	}
	return battle, nil
}

func (s *service) List(ctx context.Context, filter ListFilter) (*ListResult, error) {
	if filter.Status != nil && !filter.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid status filter")
	}
	limit := pagination.NormalizeLimit(filter.Limit)
	offset := pagination.NormalizeOffset(filter.Offset)
	query := filter
	query.Limit = limit + 1
	query.Offset = offset

	rows, err := s.repo.List(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list battles")
	}
	hasMore := len(rows) > limit
	if hasMore {
		rows = rows[:limit]
	}

	now := s.now().UTC()
	for i := range rows {
		if rows[i].Status != enums.BattleStatusActive || !rows[i].IsExpired(now) {
			continue
		}
		closed, err := s.CloseIfExpired(ctx, rows[i].ID)
		if err != nil {
			return nil, err
		}
		rows[i] = *closed
	}

	return &ListResult{Items: rows, Limit: limit, Offset: offset, HasMore: hasMore}, nil
}

func (s *service) ForceClose(ctx context.Context, battleID uuid.UUID, actor outbox.ActorRef) (*models.Battle, error) {
	if battleID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "battle id is required")
	}
	var (
		result  *models.Battle
		settled bool
	)
	err := s.tx.WithRetryTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		battle, err := s.lock(ctx, repo, battleID)
		if err != nil {
			return err
		}
		result = battle
		settled = false
		switch battle.Status {
		case enums.BattleStatusClosed:
			return nil
		case enums.BattleStatusOpen:
			return pkgerrors.New(pkgerrors.CodeStateConflict, "battle has no opponent yet; cancel it instead").
				WithDetails(map[string]any{"status": battle.Status})
		}
		settled, err = s.settle(ctx, tx, battle, s.now().UTC(), true, &actor)
		return err
	})
	if err != nil {
		return nil, err
	}
	if settled {
		s.recordSettlement(s.logg.WithUserID(ctx, actor.UserID.String()), result, true)
	}
	return result, nil
}

func (s *service) Cancel(ctx context.Context, battleID uuid.UUID, actor outbox.ActorRef) (*CancelResult, error) {
	if battleID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "battle id is required")
	}
	var (
		result    *CancelResult
		cancelled bool
	)
	err := s.tx.WithRetryTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		battle, err := s.lock(ctx, repo, battleID)
		if err != nil {
			return err
		}
		cancelled = false
		if battle.Status == enums.BattleStatusClosed {
			if battle.Outcome != nil && *battle.Outcome == enums.BattleOutcomeCancelled {
				result = &CancelResult{Battle: battle}
				return nil
			}
			return pkgerrors.New(pkgerrors.CodeStateConflict, "battle is already settled").
				WithDetails(map[string]any{"outcome": battle.Outcome})
		}

		now := s.now().UTC()
		ok, err := repo.Close(ctx, battle.ID, CloseUpdate{
			Outcome:  enums.BattleOutcomeCancelled,
			ClosedAt: now,
		}, enums.BattleStatusOpen, enums.BattleStatusActive)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel battle")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "battle changed state concurrently")
		}

		voters, err := repo.ListVoterIDs(ctx, battle.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list battle voters")
		}
		refunded := 0
		for _, voterID := range voters {
			receipt, err := s.flames.Refund(ctx, tx, battle.ID, voterID, &actor)
			if err != nil {
				return err
			}
			if receipt != nil {
				refunded++
			}
		}

		outcome := enums.BattleOutcomeCancelled
		battle.Status = enums.BattleStatusClosed
		battle.Outcome = &outcome
		battle.WinnerID = nil
		battle.ClosedAt = &now
		battle.UpdatedAt = now
		result = &CancelResult{Battle: battle, RefundedVotes: refunded}
		cancelled = true

		return s.emit(ctx, tx, enums.EventBattleCancelled, battle.ID, &actor, now, payloads.BattleCancelledEvent{
			BattleID:      battle.ID,
			RefundedVotes: refunded,
			ClosedAt:      now,
		})
	})
	if err != nil {
		return nil, err
	}
	if cancelled {
		s.metrics.IncSettlement(string(enums.BattleOutcomeCancelled))
		logCtx := s.logg.WithFields(s.logg.WithBattleID(ctx, battleID.String()), map[string]any{
			"refunded_votes": result.RefundedVotes,
			"actor_id":       actor.UserID.String(),
		})
		s.logg.Info(logCtx, "battle cancelled")
	}
	return result, nil
}

// SweepExpired closes up to limit expired ACTIVE battles, each in its own
// transaction, and returns how many this call settled.
func (s *service) SweepExpired(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = pagination.MaxLimit
	}
	ids, err := s.repo.ListExpiredActive(ctx, s.now().UTC(), limit)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list expired battles")
	}
	var (
		closed int
		errs   error
	)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return closed, multierr.Append(errs, err)
		}
		_, settled, err := s.closeIfExpired(ctx, id)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("battle %s: %w", id, err))
			continue
		}
		if settled {
			closed++
		}
	}
	return closed, errs
}

// settle performs the guarded ACTIVE to CLOSED write on a locked battle and
// mutates it to match.
func (s *service) settle(ctx context.Context, tx *gorm.DB, battle *models.Battle, now time.Time, forced bool, actor *outbox.ActorRef) (bool, error) {
	outcome := enums.OutcomeFromTallies(battle.ChallengerVotes, battle.OpponentVotes)
	winner := winnerFor(battle, outcome)

	ok, err := s.repo.WithTx(tx).Close(ctx, battle.ID, CloseUpdate{
		Outcome:  outcome,
		WinnerID: winner,
		ClosedAt: now,
	}, enums.BattleStatusActive)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "close battle")
	}
	if !ok {
		return false, nil
	}

	battle.Status = enums.BattleStatusClosed
	battle.Outcome = &outcome
	battle.WinnerID = winner
	battle.ClosedAt = &now
	battle.UpdatedAt = now

	if err := s.emit(ctx, tx, enums.EventBattleClosed, battle.ID, actor, now, payloads.BattleClosedEvent{
		BattleID:        battle.ID,
		Outcome:         outcome,
		WinnerID:        winner,
		ChallengerVotes: battle.ChallengerVotes,
		OpponentVotes:   battle.OpponentVotes,
		ClosedAt:        now,
		Forced:          forced,
	}); err != nil {
		return false, err
	}
	return true, nil
}

func (s *service) recordSettlement(ctx context.Context, battle *models.Battle, forced bool) {
	outcome := ""
	if battle.Outcome != nil {
		outcome = string(*battle.Outcome)
	}
	s.metrics.IncSettlement(outcome)
	logCtx := s.logg.WithFields(s.logg.WithBattleID(ctx, battle.ID.String()), map[string]any{
		"outcome":          outcome,
		"challenger_votes": battle.ChallengerVotes,
		"opponent_votes":   battle.OpponentVotes,
		"forced":           forced,
	})
	s.logg.Info(logCtx, "battle closed")
}

func (s *service) lock(ctx context.Context, repo Repository, battleID uuid.UUID) (*models.Battle, error) {
	battle, err := repo.LockByID(ctx, battleID)
	if err != nil {
		return nil, mapFindError(err, battleID)
	}
	return battle, nil
}

func (s *service) requireUser(ctx context.Context, userID uuid.UUID, role string) error {
	ok, err := s.users.Exists(ctx, userID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve user")
	}
	if !ok {
		return pkgerrors.New(pkgerrors.CodeValidation, role+" not found").
			WithDetails(map[string]any{"userId": userID})
	}
	return nil
}

func (s *service) emit(ctx context.Context, tx *gorm.DB, eventType enums.OutboxEventType, battleID uuid.UUID, actor *outbox.ActorRef, at time.Time, data any) error {
	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateBattle,
		AggregateID:   battleID,
		Actor:         actor,
		OccurredAt:    at,
		Data:          data,
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit "+string(eventType))
	}
	return nil
}

func winnerFor(battle *models.Battle, outcome enums.BattleOutcome) *uuid.UUID {
	switch outcome {
	case enums.BattleOutcomeChallengerWon:
		id := battle.ChallengerID
		return &id
	case enums.BattleOutcomeOpponentWon:
		if battle.OpponentID == nil {
			return nil
		}
		id := *battle.OpponentID
		return &id
	default:
		return nil
	}
}

func alreadyAccepted(battle *models.Battle) error {
	return pkgerrors.New(pkgerrors.CodeAlreadyAccepted, "battle is no longer open").
		WithDetails(map[string]any{"status": battle.Status})
}

func mapFindError(err error, battleID uuid.UUID) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "battle not found").
			WithDetails(map[string]any{"battleId": battleID})
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load battle")
}
