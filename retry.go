package gallery

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// retry runs fn up to retries+1 times, backing off between transient
// failures (delay, 2*delay, 4*delay...). Non-transient errors return at once.
func retry[T any](ctx context.Context, logger logrus.FieldLogger, op string, retries int, delay time.Duration, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	for i := range retries + 1 {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !Transient(err) || i == retries {
			break
		}

		wait := time.Duration(1<<i) * delay
		logger.WithFields(logrus.Fields{
			"op":      op,
			"attempt": i + 1,
			"wait":    wait,
		}).WithError(err).Warn("transient failure, retrying")

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(wait):
		}
	}
	return zero, lastErr
}
