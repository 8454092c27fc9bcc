package cron

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/beatdrop/battles-backend/pkg/logger"
)

const (
	defaultRetention         = 30 * 24 * time.Hour
	defaultKeepAttempts      = 5
	defaultRetentionBatch    = 500
	defaultRetentionMaxLoops = 20
)

// OutboxRetentionJobParams configure pruning of relayed outbox rows.
// Retention is how long a published row is kept. Rows that needed
// KeepAttempts or more tries are never pruned here.
type OutboxRetentionJobParams struct {
	Logger       *logger.Logger
	DB           txRunner
	Repository   outboxPruner
	Retention    time.Duration
	KeepAttempts int
	BatchSize    int
	MaxBatches   int
	Now          func() time.Time
}

type outboxPruner interface {
	DeletePublishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, minAttemptCount, limit int) (int64, error)
}

func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	switch {
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	case params.DB == nil:
		return nil, fmt.Errorf("db runner required")
	case params.Repository == nil:
		return nil, fmt.Errorf("outbox repository required")
	}
	job := &outboxRetentionJob{
		logg:         params.Logger,
		db:           params.DB,
		pruner:       params.Repository,
		retention:    orDefault(params.Retention, defaultRetention),
		keepAttempts: orDefault(params.KeepAttempts, defaultKeepAttempts),
		batch:        orDefault(params.BatchSize, defaultRetentionBatch),
		maxBatches:   orDefault(params.MaxBatches, defaultRetentionMaxLoops),
		now:          params.Now,
	}
	if job.now == nil {
		job.now = time.Now
	}
	return job, nil
}

type outboxRetentionJob struct {
	logg         *logger.Logger
	db           txRunner
	pruner       outboxPruner
	retention    time.Duration
	keepAttempts int
	batch        int
	maxBatches   int
	now          func() time.Time
}

func (j *outboxRetentionJob) Name() string { return "outbox-retention" }

// Run deletes in short transactions so a large backlog never holds one long
// lock on outbox_events. Leftovers are picked up next cycle.
func (j *outboxRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.retention)
	var total int64
	batches := 0
	for batches < j.maxBatches {
		if err := ctx.Err(); err != nil {
			return err
		}
		var deleted int64
		err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
			var err error
			deleted, err = j.pruner.DeletePublishedBefore(ctx, tx, cutoff, j.keepAttempts, j.batch)
			return err
		})
		if err != nil {
			return fmt.Errorf("outbox retention batch %d: %w", batches+1, err)
		}
		batches++
		total += deleted
		if deleted < int64(j.batch) {
			break
		}
	}
	if total > 0 {
		j.logg.Info(j.logg.WithFields(ctx, map[string]any{
			"cutoff":       cutoff,
			"rows_deleted": total,
			"batches":      batches,
		}), "outbox.retention.pruned")
	}
	return nil
}

func orDefault[T int | time.Duration](value, fallback T) T {
	if value <= 0 {
		return fallback
	}
	return value
}
