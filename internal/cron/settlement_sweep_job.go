package cron

import (
	"context"
	"fmt"

	"github.com/beatdrop/battles-backend/pkg/logger"
)

const defaultSweepBatchSize = 200

type battleSweeper interface {
	SweepExpired(ctx context.Context, limit int) (int, error)
}

// SettlementSweepJobParams configure the settlement sweep.
type SettlementSweepJobParams struct {
	Logger    *logger.Logger
	Battles   battleSweeper
	BatchSize int
}

// NewSettlementSweepJob closes ACTIVE battles whose voting window has
// elapsed, so settlement does not depend on a read arriving.
func NewSettlementSweepJob(params SettlementSweepJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Battles == nil {
		return nil, fmt.Errorf("battle sweeper required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultSweepBatchSize
	}
	return &settlementSweepJob{
		logg:    params.Logger,
		battles: params.Battles,
		batch:   batch,
	}, nil
}

type settlementSweepJob struct {
	logg    *logger.Logger
	battles battleSweeper
	batch   int
}

func (j *settlementSweepJob) Name() string { return "settlement-sweep" }

func (j *settlementSweepJob) Run(ctx context.Context) error {
	closed, err := j.battles.SweepExpired(ctx, j.batch)
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"battles_closed": closed,
		"batch_size":     j.batch,
	})
	if err != nil {
		return fmt.Errorf("settlement sweep: %w", err)
	}
	if closed > 0 {
		j.logg.Info(logCtx, "expired battles settled")
	}
	return nil
}
