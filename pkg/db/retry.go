package db

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"gorm.io/gorm"
)

const (
	defaultRetryMaxElapsed  = 2 * time.Second
	defaultRetryInitialWait = 20 * time.Millisecond
)

// WithRetryTx runs fn inside WithTx and re-runs the whole transaction when
// Postgres aborts it with a serialization failure or a deadlock. Any other
// error is returned on the first attempt. fn must be safe to repeat.
func (c *Client) WithRetryTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	operation := func() error {
		err := c.WithTx(ctx, fn)
		if err == nil {
			return nil
		}
		if IsRetryable(err) {
			return err
		}
		return backoff.Permanent(err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.retryInitialWait
	if policy.InitialInterval <= 0 {
		policy.InitialInterval = defaultRetryInitialWait
	}
	policy.MaxElapsedTime = c.retryMaxElapsed
	if policy.MaxElapsedTime <= 0 {
		policy.MaxElapsedTime = defaultRetryMaxElapsed
	}

	notify := func(err error, wait time.Duration) {
		if c.logg == nil {
			return
		}
		logCtx := c.logg.WithFields(ctx, map[string]any{"retry_in": wait.String()})
		c.logg.Warn(logCtx, "retrying transaction after "+err.Error())
	}

	return backoff.RetryNotify(operation, backoff.WithContext(policy, ctx), notify)
}
