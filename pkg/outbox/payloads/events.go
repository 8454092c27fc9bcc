package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/beatdrop/battles-backend/pkg/enums"
)

// BattleCreatedEvent is emitted when a challenger opens a battle.
type BattleCreatedEvent struct {
	BattleID     uuid.UUID          `json:"battle_id"`
	BeatID       uuid.UUID          `json:"beat_id"`
	ChallengerID uuid.UUID          `json:"challenger_id"`
	OpponentID   *uuid.UUID         `json:"opponent_id,omitempty"`
	Status       enums.BattleStatus `json:"status"`
	EndsAt       *time.Time         `json:"ends_at,omitempty"`
}

// BattleAcceptedEvent is emitted on OPEN to ACTIVE.
type BattleAcceptedEvent struct {
	BattleID     uuid.UUID `json:"battle_id"`
	ChallengerID uuid.UUID `json:"challenger_id"`
	OpponentID   uuid.UUID `json:"opponent_id"`
	EndsAt       time.Time `json:"ends_at"`
}

// BattleClosedEvent is emitted exactly once per battle on its terminal write.
type BattleClosedEvent struct {
	BattleID        uuid.UUID           `json:"battle_id"`
	Outcome         enums.BattleOutcome `json:"outcome"`
	WinnerID        *uuid.UUID          `json:"winner_id,omitempty"`
	ChallengerVotes int64               `json:"challenger_votes"`
	OpponentVotes   int64               `json:"opponent_votes"`
	ClosedAt        time.Time           `json:"closed_at"`
	Forced          bool                `json:"forced"`
}

// BattleCancelledEvent is emitted when an admin cancels a battle.
type BattleCancelledEvent struct {
	BattleID      uuid.UUID `json:"battle_id"`
	RefundedVotes int       `json:"refunded_votes"`
	ClosedAt      time.Time `json:"closed_at"`
}

// VoteEvent is emitted on a first vote or a changed vote.
type VoteEvent struct {
	BattleID            uuid.UUID  `json:"battle_id"`
	VoterID             uuid.UUID  `json:"voter_id"`
	ChosenParticipantID uuid.UUID  `json:"chosen_participant_id"`
	PreviousChoiceID    *uuid.UUID `json:"previous_choice_id,omitempty"`
	ChallengerVotes     int64      `json:"challenger_votes"`
	OpponentVotes       int64      `json:"opponent_votes"`
}

// FlamesCreditedEvent is emitted when an admin grants flames.
type FlamesCreditedEvent struct {
	UserID         uuid.UUID `json:"user_id"`
	Amount         int64     `json:"amount"`
	BalanceAfter   int64     `json:"balance_after"`
	IdempotencyKey string    `json:"idempotency_key"`
}
