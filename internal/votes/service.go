package votes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/beatdrop/battles-backend/internal/battles"
	"github.com/beatdrop/battles-backend/internal/flames"
	dbpkg "github.com/beatdrop/battles-backend/pkg/db"
	"github.com/beatdrop/battles-backend/pkg/db/models"
	"github.com/beatdrop/battles-backend/pkg/enums"
	pkgerrors "github.com/beatdrop/battles-backend/pkg/errors"
	"github.com/beatdrop/battles-backend/pkg/logger"
	"github.com/beatdrop/battles-backend/pkg/metrics"
	"github.com/beatdrop/battles-backend/pkg/outbox"
	"github.com/beatdrop/battles-backend/pkg/outbox/payloads"
)

const (
	DefaultVoteCost = int64(1)
	voteReason      = "battle vote"
)

type txRunner interface {
	WithRetryTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// FlameDebiter charges the voter inside the vote transaction.
type FlameDebiter interface {
	Debit(ctx context.Context, tx *gorm.DB, input flames.Input) (*flames.Receipt, error)
}

// Service records votes and keeps battle tallies in step with them.
type Service interface {
	CastOrChange(ctx context.Context, input CastInput) (*CastResult, error)
	HasVoted(ctx context.Context, battleID, voterID uuid.UUID) (bool, error)
	VoteFor(ctx context.Context, battleID, voterID uuid.UUID) (*models.Vote, error)
}

// CastInput is one voter's choice in one battle.
type CastInput struct {
	BattleID      uuid.UUID
	VoterID       uuid.UUID
	ParticipantID uuid.UUID
}

// Tallies are the battle's vote counts after a vote.
type Tallies struct {
	ChallengerVotes int64
	OpponentVotes   int64
}

// Result describes what a vote request did.
type Result string

const (
	ResultCast      Result = "cast"
	ResultChanged   Result = "changed"
	ResultUnchanged Result = "unchanged"
)

// CastResult carries the new tallies and what changed.
type CastResult struct {
	Tallies Tallies
	Result  Result
}

// ServiceParams wires the votes service.
type ServiceParams struct {
	Repo     Repository
	Battles  battles.Repository
	TX       txRunner
	Flames   FlameDebiter
	Outbox   outboxPublisher
	Metrics  *metrics.BattleMetrics
	Logger   *logger.Logger
	VoteCost int64
	Now      func() time.Time
}

type service struct {
	repo     Repository
	battles  battles.Repository
	tx       txRunner
	flames   FlameDebiter
	outbox   outboxPublisher
	metrics  *metrics.BattleMetrics
	logg     *logger.Logger
	voteCost int64
	now      func() time.Time
}

// NewService validates dependencies and returns the votes service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("votes repository required")
	}
	if params.Battles == nil {
		return nil, fmt.Errorf("battles repository required")
	}
	if params.TX == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Flames == nil {
		return nil, fmt.Errorf("flame debiter required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	cost := params.VoteCost
	if cost <= 0 {
		cost = DefaultVoteCost
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		repo:     params.Repo,
		battles:  params.Battles,
		tx:       params.TX,
		flames:   params.Flames,
		outbox:   params.Outbox,
		metrics:  params.Metrics,
		logg:     params.Logger,
		voteCost: cost,
		now:      now,
	}, nil
}

func (s *service) CastOrChange(ctx context.Context, input CastInput) (*CastResult, error) {
	result, err := s.castOrChange(ctx, input)
	if err != nil {
		s.metrics.IncVote(string(pkgerrors.CodeOf(err)))
		return nil, err
	}
	s.metrics.IncVote(string(result.Result))

	logCtx := s.logg.WithFields(s.logg.WithBattleID(ctx, input.BattleID.String()), map[string]any{
		"voter_id":         input.VoterID.String(),
		"result":           result.Result,
		"challenger_votes": result.Tallies.ChallengerVotes,
		"opponent_votes":   result.Tallies.OpponentVotes,
	})
	s.logg.Info(logCtx, "vote recorded")
	return result, nil
}

func (s *service) castOrChange(ctx context.Context, input CastInput) (*CastResult, error) {
	if input.BattleID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "battle id is required")
	}
	if input.VoterID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if input.ParticipantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidChoice, "participant choice is required")
	}

	var result *CastResult
	err := s.tx.WithRetryTx(ctx, func(tx *gorm.DB) error {
		battleRepo := s.battles.WithTx(tx)
		voteRepo := s.repo.WithTx(tx)

		battle, err := battleRepo.LockByID(ctx, input.BattleID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "battle not found").
					WithDetails(map[string]any{"battleId": input.BattleID})
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock battle")
		}

		now := s.now().UTC()
		if !battle.IsVotable(now) {
			return pkgerrors.New(pkgerrors.CodeBattleNotVotable, "battle is not accepting votes").
				WithDetails(map[string]any{"status": battle.Status, "endsAt": battle.EndsAt})
		}
		toChallenger, ok := sideOf(battle, input.ParticipantID)
		if !ok {
			return pkgerrors.New(pkgerrors.CodeInvalidChoice, "choice must be one of the battle's participants").
				WithDetails(map[string]any{"participantId": input.ParticipantID})
		}

		existing, err := voteRepo.Find(ctx, input.BattleID, input.VoterID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load vote")
		}

		tallies := Tallies{ChallengerVotes: battle.ChallengerVotes, OpponentVotes: battle.OpponentVotes}
		var (
			outcome  Result
			previous *uuid.UUID
			dc, do   int64
		)
		switch {
		case existing == nil:
			if _, err := s.flames.Debit(ctx, tx, flames.Input{
				UserID:         input.VoterID,
				Amount:         s.voteCost,
				IdempotencyKey: flames.VoteKey(input.BattleID, input.VoterID),
				Reason:         voteReason,
				Actor:          &outbox.ActorRef{UserID: input.VoterID},
			}); err != nil {
				return err
			}
			if err := voteRepo.Insert(ctx, &models.Vote{
				BattleID:            input.BattleID,
				VoterID:             input.VoterID,
				ChosenParticipantID: input.ParticipantID,
				CastAt:              now,
				UpdatedAt:           now,
			}); err != nil {
				if dbpkg.IsUniqueViolation(err, "") {
					return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "vote recorded concurrently")
				}
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert vote")
			}
			outcome = ResultCast
			dc, do = delta(toChallenger, 1)
		case existing.ChosenParticipantID == input.ParticipantID:
			result = &CastResult{Tallies: tallies, Result: ResultUnchanged}
			return nil
		default:
			if err := voteRepo.UpdateChoice(ctx, input.BattleID, input.VoterID, input.ParticipantID, now); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update vote")
			}
			prev := existing.ChosenParticipantID
			previous = &prev
			outcome = ResultChanged
			dc, do = delta(toChallenger, 1)
			undoC, undoO := delta(!toChallenger, -1)
			dc += undoC
			do += undoO
		}

		if err := battleRepo.ApplyTallyDelta(ctx, input.BattleID, dc, do, now); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update tallies")
		}
		tallies.ChallengerVotes += dc
		tallies.OpponentVotes += do

		eventType := enums.EventVoteCast
		if outcome == ResultChanged {
			eventType = enums.EventVoteChanged
		}
		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     eventType,
			AggregateType: enums.AggregateBattle,
			AggregateID:   input.BattleID,
			Actor:         &outbox.ActorRef{UserID: input.VoterID},
			OccurredAt:    now,
			Data: payloads.VoteEvent{
				BattleID:            input.BattleID,
				VoterID:             input.VoterID,
				ChosenParticipantID: input.ParticipantID,
				PreviousChoiceID:    previous,
				ChallengerVotes:     tallies.ChallengerVotes,
				OpponentVotes:       tallies.OpponentVotes,
			},
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit vote event")
		}

		result = &CastResult{Tallies: tallies, Result: outcome}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) HasVoted(ctx context.Context, battleID, voterID uuid.UUID) (bool, error) {
	if battleID == uuid.Nil || voterID == uuid.Nil {
		return false, nil
	}
	ok, err := s.repo.Exists(ctx, battleID, voterID)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup vote")
	}
	return ok, nil
}

// VoteFor returns the voter's current vote or nil when there is none.
func (s *service) VoteFor(ctx context.Context, battleID, voterID uuid.UUID) (*models.Vote, error) {
	if battleID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "battle id is required")
	}
	if voterID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	vote, err := s.repo.Find(ctx, battleID, voterID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load vote")
	}
	return vote, nil
}

// sideOf reports whether participantID is the challenger; ok is false when
// it is neither participant.
func sideOf(battle *models.Battle, participantID uuid.UUID) (challenger bool, ok bool) {
	if participantID == battle.ChallengerID {
		return true, true
	}
	if battle.OpponentID != nil && participantID == *battle.OpponentID {
		return false, true
	}
	return false, false
}

func delta(challenger bool, n int64) (int64, int64) {
	if challenger {
		return n, 0
	}
	return 0, n
}
