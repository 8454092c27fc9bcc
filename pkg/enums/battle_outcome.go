package enums

import "fmt"

// BattleOutcome records how a closed battle was settled.
type BattleOutcome string

const (
	BattleOutcomeChallengerWon BattleOutcome = "CHALLENGER_WON"
	BattleOutcomeOpponentWon   BattleOutcome = "OPPONENT_WON"
	BattleOutcomeDraw          BattleOutcome = "DRAW"
	BattleOutcomeCancelled     BattleOutcome = "CANCELLED"
)

var validBattleOutcomes = []BattleOutcome{
	BattleOutcomeChallengerWon,
	BattleOutcomeOpponentWon,
	BattleOutcomeDraw,
	BattleOutcomeCancelled,
}

func (o BattleOutcome) String() string {
	return string(o)
}

func (o BattleOutcome) IsValid() bool {
	for _, candidate := range validBattleOutcomes {
		if candidate == o {
			return true
		}
	}
	return false
}

// ParseBattleOutcome converts raw input into a BattleOutcome.
func ParseBattleOutcome(value string) (BattleOutcome, error) {
	for _, candidate := range validBattleOutcomes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid battle outcome %q", value)
}

// OutcomeFromTallies settles a battle by comparing vote counts. Equal
// counts, including zero-zero, are a draw.
func OutcomeFromTallies(challengerVotes, opponentVotes int64) BattleOutcome {
	switch {
	case challengerVotes > opponentVotes:
		return BattleOutcomeChallengerWon
	case opponentVotes > challengerVotes:
		return BattleOutcomeOpponentWon
	default:
		return BattleOutcomeDraw
	}
}
