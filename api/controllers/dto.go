package controllers

import (
	"time"

	"github.com/google/uuid"

	"github.com/beatdrop/battles-backend/pkg/db/models"
	"github.com/beatdrop/battles-backend/pkg/enums"
)

// battleView is the public shape of a battle. Tallies are nil unless the
// caller may see them.
type battleView struct {
	ID                 uuid.UUID            `json:"id"`
	Title              string               `json:"title"`
	BeatID             uuid.UUID            `json:"beatId"`
	ChallengerID       uuid.UUID            `json:"challengerId"`
	OpponentID         *uuid.UUID           `json:"opponentId,omitempty"`
	ChallengerEntryRef string               `json:"challengerEntryRef"`
	OpponentEntryRef   *string              `json:"opponentEntryRef,omitempty"`
	Status             enums.BattleStatus   `json:"status"`
	Outcome            *enums.BattleOutcome `json:"outcome,omitempty"`
	WinnerID           *uuid.UUID           `json:"winnerId,omitempty"`
	ChallengerVotes    *int64               `json:"challengerVotes,omitempty"`
	OpponentVotes      *int64               `json:"opponentVotes,omitempty"`
	AcceptedAt         *time.Time           `json:"acceptedAt,omitempty"`
	EndsAt             *time.Time           `json:"endsAt,omitempty"`
	ClosedAt           *time.Time           `json:"closedAt,omitempty"`
	CreatedAt          time.Time            `json:"createdAt"`
}

func newBattleView(b *models.Battle, countsVisible bool) battleView {
	view := battleView{
		ID:                 b.ID,
		Title:              b.Title,
		BeatID:             b.BeatID,
		ChallengerID:       b.ChallengerID,
		OpponentID:         b.OpponentID,
		ChallengerEntryRef: b.ChallengerEntryRef,
		OpponentEntryRef:   b.OpponentEntryRef,
		Status:             b.Status,
		Outcome:            b.Outcome,
		WinnerID:           b.WinnerID,
		AcceptedAt:         b.AcceptedAt,
		EndsAt:             b.EndsAt,
		ClosedAt:           b.ClosedAt,
		CreatedAt:          b.CreatedAt,
	}
	if countsVisible {
		challenger, opponent := b.ChallengerVotes, b.OpponentVotes
		view.ChallengerVotes = &challenger
		view.OpponentVotes = &opponent
	}
	return view
}

type battleListView struct {
	Items   []battleView `json:"items"`
	Limit   int          `json:"limit"`
	Offset  int          `json:"offset"`
	HasMore bool         `json:"hasMore"`
}

type tallyView struct {
	ChallengerVotes int64  `json:"challengerVotes"`
	OpponentVotes   int64  `json:"opponentVotes"`
	Result          string `json:"result"`
}

type voteStatusView struct {
	HasVoted      bool       `json:"hasVoted"`
	ParticipantID *uuid.UUID `json:"participantId,omitempty"`
}

type ledgerEntryView struct {
	ID           uuid.UUID            `json:"id"`
	Type         enums.FlameEntryType `json:"type"`
	Amount       int64                `json:"amount"`
	BalanceAfter int64                `json:"balanceAfter"`
	Reason       string               `json:"reason"`
	CreatedAt    time.Time            `json:"createdAt"`
}

type ledgerPageView struct {
	Items      []ledgerEntryView `json:"items"`
	NextCursor string            `json:"nextCursor,omitempty"`
}

type creditView struct {
	Entry    ledgerEntryView `json:"entry"`
	Replayed bool            `json:"replayed"`
}

func newLedgerEntryView(e models.FlameLedgerEntry) ledgerEntryView {
	return ledgerEntryView{
		ID:           e.ID,
		Type:         e.Type,
		Amount:       e.Amount,
		BalanceAfter: e.BalanceAfter,
		Reason:       e.Reason,
		CreatedAt:    e.CreatedAt,
	}
}
