package cron

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/beatdrop/battles-backend/pkg/db/models"
	"github.com/beatdrop/battles-backend/pkg/enums"
	"github.com/beatdrop/battles-backend/pkg/logger"
	"github.com/beatdrop/battles-backend/pkg/metrics"
	"github.com/beatdrop/battles-backend/pkg/outbox/registry"
	"github.com/beatdrop/battles-backend/pkg/redis"
)

const (
	defaultRelayBatchSize   = 50
	defaultRelayMaxAttempts = 10
	defaultRelayMaxBatches  = 20
	defaultPublishTimeout   = 5 * time.Second
)

type outboxRelayRepo interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type dlqRepository interface {
	InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error
}

type registryResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

// OutboxRelayJobParams configure the outbox relay.
type OutboxRelayJobParams struct {
	Logger         *logger.Logger
	DB             txRunner
	Repository     outboxRelayRepo
	DLQ            dlqRepository
	Registry       registryResolver
	Publisher      redis.Publisher
	Metrics        *metrics.BattleMetrics
	BatchSize      int
	MaxAttempts    int
	MaxBatches     int
	PublishTimeout time.Duration
	Now            func() time.Time
}

// RelayMessage is the JSON published for each outbox row.
type RelayMessage struct {
	EventID       string                    `json:"eventId"`
	EventType     enums.OutboxEventType     `json:"eventType"`
	AggregateType enums.OutboxAggregateType `json:"aggregateType"`
	AggregateID   uuid.UUID                 `json:"aggregateId"`
	OccurredAt    time.Time                 `json:"occurredAt"`
	Data          json.RawMessage           `json:"data"`
}

// NewOutboxRelayJob publishes pending outbox rows to redis. Rows that cannot
// be decoded, or that exhaust their attempts, are parked in the DLQ.
func NewOutboxRelayJob(params OutboxRelayJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.DB == nil {
		return nil, errors.New("database client is required")
	}
	if params.Repository == nil {
		return nil, errors.New("outbox repository is required")
	}
	if params.DLQ == nil {
		return nil, errors.New("dlq repository is required")
	}
	if params.Registry == nil {
		return nil, errors.New("event registry is required")
	}
	if params.Publisher == nil {
		return nil, errors.New("publisher is required")
	}
	job := &outboxRelayJob{
		logg:           params.Logger,
		db:             params.DB,
		repo:           params.Repository,
		dlq:            params.DLQ,
		registry:       params.Registry,
		publisher:      params.Publisher,
		metrics:        params.Metrics,
		batchSize:      params.BatchSize,
		maxAttempts:    params.MaxAttempts,
		maxBatches:     params.MaxBatches,
		publishTimeout: params.PublishTimeout,
		now:            params.Now,
	}
	if job.batchSize <= 0 {
		job.batchSize = defaultRelayBatchSize
	}
	if job.maxAttempts <= 0 {
		job.maxAttempts = defaultRelayMaxAttempts
	}
	if job.maxBatches <= 0 {
		job.maxBatches = defaultRelayMaxBatches
	}
	if job.publishTimeout <= 0 {
		job.publishTimeout = defaultPublishTimeout
	}
	if job.now == nil {
		job.now = time.Now
	}
	return job, nil
}

type outboxRelayJob struct {
	logg           *logger.Logger
	db             txRunner
	repo           outboxRelayRepo
	dlq            dlqRepository
	registry       registryResolver
	publisher      redis.Publisher
	metrics        *metrics.BattleMetrics
	batchSize      int
	maxAttempts    int
	maxBatches     int
	publishTimeout time.Duration
	now            func() time.Time
}

func (j *outboxRelayJob) Name() string { return "outbox-relay" }

// Run drains full batches until a short one is seen or the per-run cap is hit.
func (j *outboxRelayJob) Run(ctx context.Context) error {
	total := 0
	for i := 0; i < j.maxBatches; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		fetched, err := j.processBatch(ctx)
		if err != nil {
			return fmt.Errorf("outbox relay: %w", err)
		}
		total += fetched
		if fetched < j.batchSize {
			break
		}
	}
	if total > 0 {
		j.logg.Info(j.logg.WithField(ctx, "rows_processed", total), "outbox relay pass complete")
	}
	return nil
}

func (j *outboxRelayJob) processBatch(ctx context.Context) (int, error) {
	fetched := 0
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := j.repo.FetchUnpublishedForPublish(tx, j.batchSize, j.maxAttempts)
		if err != nil {
			return err
		}
		fetched = len(events)
		for _, event := range events {
			if err := j.relay(ctx, tx, event); err != nil {
				return err
			}
		}
		return nil
	})
	return fetched, err
}

func (j *outboxRelayJob) relay(ctx context.Context, tx *gorm.DB, event models.OutboxEvent) error {
	fields := eventFields(event)
	resolved, err := j.registry.Resolve(event)
	if err != nil {
		return j.handleTerminal(ctx, tx, event, enums.OutboxDLQReasonNonRetryable, err, fields)
	}
	fields["event_id"] = resolved.Envelope.EventID
	fields["channel"] = resolved.Descriptor.Channel

	if err := j.publish(ctx, event, resolved); err != nil {
		var nonRetry registry.NonRetryableError
		if errors.As(err, &nonRetry) {
			return j.handleTerminal(ctx, tx, event, enums.OutboxDLQReasonNonRetryable, err, fields)
		}
		nextAttempt := event.AttemptCount + 1
		fields["attempt_count"] = nextAttempt
		if nextAttempt >= j.maxAttempts {
			return j.handleTerminal(ctx, tx, event, enums.OutboxDLQReasonMaxAttempts, fmt.Errorf("max publish attempts reached: %w", err), fields)
		}
		logCtx := j.logg.WithField(j.logg.WithFields(ctx, fields), "error", err.Error())
		j.logg.Warn(logCtx, "outbox publish failed")
		j.metrics.IncOutbox("failed")
		if markErr := j.repo.MarkFailedTx(tx, event.ID, err); markErr != nil {
			return fmt.Errorf("mark failure %s: %w", event.ID, markErr)
		}
		return nil
	}

	if err := j.repo.MarkPublishedTx(tx, event.ID); err != nil {
		return fmt.Errorf("mark published %s: %w", event.ID, err)
	}
	j.metrics.IncOutbox("published")
	j.logg.Debug(j.logg.WithFields(ctx, fields), "outbox event published")
	return nil
}

func (j *outboxRelayJob) publish(ctx context.Context, event models.OutboxEvent, resolved *registry.ResolvedEvent) error {
	message, err := json.Marshal(RelayMessage{
		EventID:       resolved.Envelope.EventID,
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		OccurredAt:    resolved.Envelope.OccurredAt,
		Data:          resolved.Envelope.Data,
	})
	if err != nil {
		return registry.NewNonRetryableError(fmt.Errorf("encode relay message: %w", err))
	}
	publishCtx, cancel := context.WithTimeout(ctx, j.publishTimeout)
	defer cancel()
	return j.publisher.Publish(publishCtx, resolved.Descriptor.Channel, message)
}

func (j *outboxRelayJob) handleTerminal(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, reason enums.OutboxDLQErrorReason, err error, fields map[string]any) error {
	fields["error_reason"] = reason
	logCtx := j.logg.WithField(j.logg.WithFields(ctx, fields), "error", err.Error())
	j.logg.Warn(logCtx, "outbox event will not be retried")

	msg := err.Error()
	if dlqErr := j.dlq.InsertTx(tx, models.OutboxDLQ{
		EventID:       event.ID,
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       event.Payload,
		ErrorReason:   reason,
		ErrorMessage:  &msg,
		AttemptCount:  event.AttemptCount,
		FailedAt:      j.now().UTC(),
	}); dlqErr != nil {
		return fmt.Errorf("insert dlq %s: %w", event.ID, dlqErr)
	}
	if markErr := j.repo.MarkTerminalTx(tx, event.ID, err, j.maxAttempts); markErr != nil {
		return fmt.Errorf("mark terminal %s: %w", event.ID, markErr)
	}
	j.metrics.IncOutbox("dead_lettered")
	return nil
}

func eventFields(event models.OutboxEvent) map[string]any {
	fields := map[string]any{
		"outbox_id":      event.ID.String(),
		"event_type":     event.EventType,
		"aggregate_type": event.AggregateType,
		"aggregate_id":   event.AggregateID.String(),
		"attempt_count":  event.AttemptCount,
	}
	if event.LastError != nil {
		fields["last_error"] = *event.LastError
	}
	return fields
}
