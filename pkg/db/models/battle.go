package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/beatdrop/battles-backend/pkg/enums"
)

// Battle is a head-to-head contest between two entries over one beat.
// Status, outcome, winner and tallies are written only by the battle
// lifecycle and vote ledger services.
type Battle struct {
	ID                 uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	Title              string               `gorm:"column:title;not null"`
	BeatID             uuid.UUID            `gorm:"column:beat_id;type:uuid;not null"`
	ChallengerID       uuid.UUID            `gorm:"column:challenger_id;type:uuid;not null;index"`
	OpponentID         *uuid.UUID           `gorm:"column:opponent_id;type:uuid;index"`
	ChallengerEntryRef string               `gorm:"column:challenger_entry_ref;not null"`
	OpponentEntryRef   *string              `gorm:"column:opponent_entry_ref"`
	Status             enums.BattleStatus   `gorm:"column:status;type:battle_status;not null;index"`
	Outcome            *enums.BattleOutcome `gorm:"column:outcome;type:battle_outcome"`
	WinnerID           *uuid.UUID           `gorm:"column:winner_id;type:uuid"`
	ChallengerVotes    int64                `gorm:"column:challenger_votes;not null;default:0"`
	OpponentVotes      int64                `gorm:"column:opponent_votes;not null;default:0"`
	AcceptedAt         *time.Time           `gorm:"column:accepted_at"`
	EndsAt             *time.Time           `gorm:"column:ends_at;index"`
	ClosedAt           *time.Time           `gorm:"column:closed_at"`
	CreatedAt          time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName pins the table for gorm.
func (Battle) TableName() string { return "battles" }

// IsParticipant reports whether userID is the challenger or the opponent.
func (b Battle) IsParticipant(userID uuid.UUID) bool {
	if b.ChallengerID == userID {
		return true
	}
	return b.OpponentID != nil && *b.OpponentID == userID
}

// IsExpired reports whether the voting window has elapsed at now.
func (b Battle) IsExpired(now time.Time) bool {
	return b.EndsAt != nil && !now.Before(*b.EndsAt)
}

// IsVotable reports whether a vote can be accepted at now.
func (b Battle) IsVotable(now time.Time) bool {
	return b.Status == enums.BattleStatusActive && b.EndsAt != nil && now.Before(*b.EndsAt)
}
