package enums

import "fmt"

// FlameEntryType maps to the flame_entry_type enum in Postgres.
type FlameEntryType string

const (
	FlameEntryDebit  FlameEntryType = "debit"
	FlameEntryCredit FlameEntryType = "credit"
)

var validFlameEntryTypes = []FlameEntryType{
	FlameEntryDebit,
	FlameEntryCredit,
}

func (f FlameEntryType) String() string {
	return string(f)
}

func (f FlameEntryType) IsValid() bool {
	for _, candidate := range validFlameEntryTypes {
		if candidate == f {
			return true
		}
	}
	return false
}

func ParseFlameEntryType(value string) (FlameEntryType, error) {
	for _, candidate := range validFlameEntryTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid flame entry type %q", value)
}
