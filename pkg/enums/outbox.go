package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregateBattle OutboxAggregateType = "battle"
	AggregateFlames OutboxAggregateType = "flames"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateBattle,
	AggregateFlames,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventBattleCreated   OutboxEventType = "battle_created"
	EventBattleAccepted  OutboxEventType = "battle_accepted"
	EventBattleClosed    OutboxEventType = "battle_closed"
	EventBattleCancelled OutboxEventType = "battle_cancelled"
	EventVoteCast        OutboxEventType = "vote_cast"
	EventVoteChanged     OutboxEventType = "vote_changed"
	EventFlamesCredited  OutboxEventType = "flames_credited"
)

var validOutboxEventTypes = []OutboxEventType{
	EventBattleCreated,
	EventBattleAccepted,
	EventBattleClosed,
	EventBattleCancelled,
	EventVoteCast,
	EventVoteChanged,
	EventFlamesCredited,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}

// OutboxDLQErrorReason records why the relay gave up on an event.
type OutboxDLQErrorReason string

const (
	OutboxDLQReasonMaxAttempts  OutboxDLQErrorReason = "max_attempts"
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
)

func (r OutboxDLQErrorReason) String() string {
	return string(r)
}

func (r OutboxDLQErrorReason) IsValid() bool {
	return r == OutboxDLQReasonMaxAttempts || r == OutboxDLQReasonNonRetryable
}
