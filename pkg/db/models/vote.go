package models

import (
	"time"

	"github.com/google/uuid"
)

// Vote is the single effective vote of a voter in a battle. It is created
// on first vote and updated in place on change.
type Vote struct {
	BattleID            uuid.UUID `gorm:"column:battle_id;type:uuid;primaryKey"`
	VoterID             uuid.UUID `gorm:"column:voter_id;type:uuid;primaryKey"`
	ChosenParticipantID uuid.UUID `gorm:"column:chosen_participant_id;type:uuid;not null"`
	CastAt              time.Time `gorm:"column:cast_at;not null"`
	UpdatedAt           time.Time `gorm:"column:updated_at;not null"`
}

func (Vote) TableName() string { return "battle_votes" }
