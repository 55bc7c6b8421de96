package storage

import (
	"context"
	"errors"
	"time"

	"github.com/oralhistory/backend/internal/logging"
)

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// permanent marks err as not worth retrying.
func permanent(err error) error { return permanentError{err: err} }

// withRetry runs fn up to three times, sleeping base·2^attempt between
// attempts. Cancellation of ctx stops the loop.
func (s *S3Storage) withRetry(ctx context.Context, op string, fn func(context.Context) error) error {
	base := s.retryBase
	if base <= 0 {
		base = time.Second
	}

	var err error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}

		var perm permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if attempt == retryAttempts-1 {
			break
		}

		delay := base << attempt
		logging.FromContext(ctx).Warn("storage operation failed, retrying",
			"op", op, "attempt", attempt+1, "retry_in", delay, "error", err)
		if sleepErr := s.sleep(ctx, delay); sleepErr != nil {
			return sleepErr
		}
	}
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
