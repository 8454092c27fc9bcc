package leaderboard

import (
	"bytes"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/beatdrop/battles-backend/pkg/db/models"
	"github.com/beatdrop/battles-backend/pkg/enums"
)

const (
	pointsPerWin  = 3
	pointsPerDraw = 1
	winRatePlaces = 4
)

// Entry is one user's row in the standings.
type Entry struct {
	UserID  uuid.UUID       `json:"userId"`
	Handle  string          `json:"handle"`
	Rank    int             `json:"rank"`
	Played  int             `json:"played"`
	Won     int             `json:"won"`
	Drawn   int             `json:"drawn"`
	Lost    int             `json:"lost"`
	Points  int             `json:"points"`
	WinRate decimal.Decimal `json:"winRate"`

	joinedAt time.Time
}

// Standings is a ranked table plus the battles whose stored winner
// disagreed with their tallies.
type Standings struct {
	Entries          []Entry     `json:"entries"`
	WinnerMismatches []uuid.UUID `json:"winnerMismatches,omitempty"`
}

// BuildStandings ranks every user from the given settled battles. Only
// CLOSED, non-cancelled battles with both participants count; each is
// classified from its tallies.
func BuildStandings(battles []models.Battle, users []models.User) Standings {
	byUser := make(map[uuid.UUID]*Entry, len(users))
	entries := make([]*Entry, 0, len(users))
	for _, user := range users {
		if _, dup := byUser[user.ID]; dup {
			continue
		}
		entry := &Entry{UserID: user.ID, Handle: user.Handle, joinedAt: user.CreatedAt}
		byUser[user.ID] = entry
		entries = append(entries, entry)
	}

	var mismatches []uuid.UUID
	for _, battle := range battles {
		if !counts(battle) {
			continue
		}
		outcome := enums.OutcomeFromTallies(battle.ChallengerVotes, battle.OpponentVotes)
		if !winnerAgrees(battle, outcome) {
			mismatches = append(mismatches, battle.ID)
		}
		record(byUser[battle.ChallengerID], outcome, enums.BattleOutcomeChallengerWon)
		record(byUser[*battle.OpponentID], outcome, enums.BattleOutcomeOpponentWon)
	}

	for _, entry := range entries {
		entry.Points = pointsPerWin*entry.Won + pointsPerDraw*entry.Drawn
		entry.WinRate = winRate(entry.Won, entry.Played)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Points != b.Points {
			return a.Points > b.Points
		}
		if cmp := a.WinRate.Cmp(b.WinRate); cmp != 0 {
			return cmp > 0
		}
		if !a.joinedAt.Equal(b.joinedAt) {
			return a.joinedAt.Before(b.joinedAt)
		}
		return bytes.Compare(a.UserID[:], b.UserID[:]) < 0
	})

	out := make([]Entry, len(entries))
	for i, entry := range entries {
		entry.Rank = i + 1
		out[i] = *entry
	}
	return Standings{Entries: out, WinnerMismatches: mismatches}
}

func counts(battle models.Battle) bool {
	if battle.Status != enums.BattleStatusClosed || battle.OpponentID == nil {
		return false
	}
	return battle.Outcome == nil || *battle.Outcome != enums.BattleOutcomeCancelled
}

func record(entry *Entry, outcome, winsFor enums.BattleOutcome) {
	if entry == nil {
		return
	}
	entry.Played++
	switch outcome {
	case enums.BattleOutcomeDraw:
		entry.Drawn++
	case winsFor:
		entry.Won++
	default:
		entry.Lost++
	}
}

func winnerAgrees(battle models.Battle, outcome enums.BattleOutcome) bool {
	switch outcome {
	case enums.BattleOutcomeChallengerWon:
		return battle.WinnerID != nil && *battle.WinnerID == battle.ChallengerID
	case enums.BattleOutcomeOpponentWon:
		return battle.WinnerID != nil && *battle.WinnerID == *battle.OpponentID
	default:
		return battle.WinnerID == nil
	}
}

func winRate(won, played int) decimal.Decimal {
	if played == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(won)).DivRound(decimal.NewFromInt(int64(played)), winRatePlaces)
}
