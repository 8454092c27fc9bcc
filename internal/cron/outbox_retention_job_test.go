package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestOutboxRetentionJobUsesDefaults(t *testing.T) {
	now := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	pruner := &fakeOutboxPruner{results: []int64{7}}
	job := newOutboxRetentionJob(t, pruner, OutboxRetentionJobParams{Now: func() time.Time { return now }})

	require.NoError(t, job.Run(context.Background()))

	require.Len(t, pruner.calls, 1)
	call := pruner.calls[0]
	assert.Equal(t, now.Add(-defaultRetention), call.cutoff)
	assert.Equal(t, defaultKeepAttempts, call.minAttempts)
	assert.Equal(t, defaultRetentionBatch, call.limit)
}

func TestOutboxRetentionJobDrainsFullBatches(t *testing.T) {
	pruner := &fakeOutboxPruner{results: []int64{10, 10, 3, 10}}
	job := newOutboxRetentionJob(t, pruner, OutboxRetentionJobParams{BatchSize: 10, Retention: time.Hour})

	require.NoError(t, job.Run(context.Background()))

	assert.Len(t, pruner.calls, 3, "a short batch ends the run")
}

func TestOutboxRetentionJobStopsAtMaxBatches(t *testing.T) {
	pruner := &fakeOutboxPruner{results: []int64{5, 5, 5, 5, 5}}
	job := newOutboxRetentionJob(t, pruner, OutboxRetentionJobParams{BatchSize: 5, MaxBatches: 2})

	require.NoError(t, job.Run(context.Background()))

	assert.Len(t, pruner.calls, 2)
}

func TestOutboxRetentionJobPropagatesError(t *testing.T) {
	pruner := &fakeOutboxPruner{err: errors.New("boom")}
	job := newOutboxRetentionJob(t, pruner, OutboxRetentionJobParams{})

	assert.Error(t, job.Run(context.Background()))
}

func newOutboxRetentionJob(t *testing.T, pruner *fakeOutboxPruner, params OutboxRetentionJobParams) Job {
	t.Helper()
	params.Logger = testLogger()
	params.DB = passthroughTxRunner{}
	params.Repository = pruner
	job, err := NewOutboxRetentionJob(params)
	require.NoError(t, err)
	return job
}

type pruneCall struct {
	cutoff      time.Time
	minAttempts int
	limit       int
}

type fakeOutboxPruner struct {
	calls   []pruneCall
	results []int64
	err     error
}

func (f *fakeOutboxPruner) DeletePublishedBefore(_ context.Context, _ *gorm.DB, cutoff time.Time, minAttemptCount, limit int) (int64, error) {
	f.calls = append(f.calls, pruneCall{cutoff: cutoff, minAttempts: minAttemptCount, limit: limit})
	if f.err != nil {
		return 0, f.err
	}
	if len(f.calls) > len(f.results) {
		return 0, nil
	}
	return f.results[len(f.calls)-1], nil
}

type passthroughTxRunner struct{}

func (passthroughTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}
