package registry

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/beatdrop/battles-backend/pkg/db/models"
	"github.com/beatdrop/battles-backend/pkg/enums"
	"github.com/beatdrop/battles-backend/pkg/outbox"
	"github.com/beatdrop/battles-backend/pkg/outbox/payloads"
)

// EventDescriptor links an event type to its aggregate, channel and payload schema.
type EventDescriptor struct {
	EventType      enums.OutboxEventType
	AggregateType  enums.OutboxAggregateType
	Channel        string
	PayloadFactory func() interface{}
}

// ResolvedEvent is the result of decoding an outbox row.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    interface{}
}

// EventRegistry maps each supported event type to its descriptor.
type EventRegistry struct {
	entries map[enums.OutboxEventType]EventDescriptor
}

// NonRetryableError signals the relay should stop retrying a row.
type NonRetryableError struct {
	Err error
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error {
	return e.Err
}

// NewNonRetryableError wraps an error to signal no retries.
func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

// NewEventRegistry builds the registry publishing every event on channel.
func NewEventRegistry(channel string) (*EventRegistry, error) {
	if channel == "" {
		return nil, fmt.Errorf("outbox channel is required")
	}

	reg := &EventRegistry{entries: make(map[enums.OutboxEventType]EventDescriptor)}
	for _, desc := range []EventDescriptor{
		{
			EventType:      enums.EventBattleCreated,
			AggregateType:  enums.AggregateBattle,
			PayloadFactory: func() interface{} { return &payloads.BattleCreatedEvent{} },
		},
		{
			EventType:      enums.EventBattleAccepted,
			AggregateType:  enums.AggregateBattle,
			PayloadFactory: func() interface{} { return &payloads.BattleAcceptedEvent{} },
		},
		{
			EventType:      enums.EventBattleClosed,
			AggregateType:  enums.AggregateBattle,
			PayloadFactory: func() interface{} { return &payloads.BattleClosedEvent{} },
		},
		{
			EventType:      enums.EventBattleCancelled,
			AggregateType:  enums.AggregateBattle,
			PayloadFactory: func() interface{} { return &payloads.BattleCancelledEvent{} },
		},
		{
			EventType:      enums.EventVoteCast,
			AggregateType:  enums.AggregateBattle,
			PayloadFactory: func() interface{} { return &payloads.VoteEvent{} },
		},
		{
			EventType:      enums.EventVoteChanged,
			AggregateType:  enums.AggregateBattle,
			PayloadFactory: func() interface{} { return &payloads.VoteEvent{} },
		},
		{
			EventType:      enums.EventFlamesCredited,
			AggregateType:  enums.AggregateFlames,
			PayloadFactory: func() interface{} { return &payloads.FlamesCreditedEvent{} },
		},
	} {
		desc.Channel = channel
		reg.register(desc)
	}
	return reg, nil
}

func (r *EventRegistry) register(desc EventDescriptor) {
	if desc.PayloadFactory == nil {
		return
	}
	r.entries[desc.EventType] = desc
}

// Resolve validates the row and decodes its typed payload.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.entries[event.EventType]
	if !ok {
		return nil, NewNonRetryableError(fmt.Errorf("unsupported event type %s", event.EventType))
	}
	if desc.AggregateType != event.AggregateType {
		return nil, NewNonRetryableError(fmt.Errorf("aggregate mismatch: expected %s got %s", desc.AggregateType, event.AggregateType))
	}
	if event.AggregateID == uuid.Nil {
		return nil, NewNonRetryableError(fmt.Errorf("missing aggregate_id"))
	}

	envelope, err := outbox.DecodeEnvelope(event.Payload)
	if err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("%s: %w", event.EventType, err))
	}

	payload := desc.PayloadFactory()
	if err := json.Unmarshal(envelope.Data, payload); err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("decode %s payload: %w", event.EventType, err))
	}

	return &ResolvedEvent{
		Descriptor: desc,
		Envelope:   envelope,
		Payload:    payload,
	}, nil
}
