package enums

import "fmt"

// BattleStatus maps to the battle_status enum in Postgres.
type BattleStatus string

const (
	BattleStatusOpen   BattleStatus = "OPEN"
	BattleStatusActive BattleStatus = "ACTIVE"
	BattleStatusClosed BattleStatus = "CLOSED"
)

var validBattleStatuses = []BattleStatus{
	BattleStatusOpen,
	BattleStatusActive,
	BattleStatusClosed,
}

// String implements fmt.Stringer.
func (s BattleStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known BattleStatus.
func (s BattleStatus) IsValid() bool {
	for _, candidate := range validBattleStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is allowed.
func (s BattleStatus) IsTerminal() bool {
	return s == BattleStatusClosed
}

// ParseBattleStatus converts raw input into a BattleStatus.
func ParseBattleStatus(value string) (BattleStatus, error) {
	for _, candidate := range validBattleStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid battle status %q", value)
}
