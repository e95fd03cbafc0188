package runtime

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	apperrors "github.com/parley-ai/parley/pkg/errors"
	"github.com/parley-ai/parley/pkg/metrics"
)

// RetryPolicy bounds re-execution of a whole turn. Only errors accepted
// by RetryIf are retried; everything else fails the turn immediately.
type RetryPolicy struct {
	MaxAttempts uint
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	RetryIf     func(error) bool
}

// DefaultRetryPolicy retries transient model validation failures up to
// three attempts with exponential backoff between 100ms and 1s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    time.Second,
		RetryIf:     apperrors.IsModelValidation,
	}
}

// Do runs op under the policy and returns the last attempt's error.
func (p RetryPolicy) Do(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.MaxInterval = p.MaxDelay

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		if err := op(); err != nil {
			if p.RetryIf != nil && !p.RetryIf(err) {
				return struct{}{}, backoff.Permanent(err)
			}
			metrics.RetryAttemptsTotal.Inc()
			return struct{}{}, err
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(b), backoff.WithMaxTries(p.MaxAttempts))
	return err
}
