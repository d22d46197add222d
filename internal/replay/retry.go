package replay

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const maxRetryDelay = 30 * time.Second

// backoff retries storage writes. The delay starts at base and doubles up
// to maxRetryDelay.
type backoff struct {
	retries int
	base    time.Duration
}

func newBackoff(retries int, base time.Duration) backoff {
	if retries < 0 {
		retries = 0
	}
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	return backoff{retries: retries, base: base}
}

func (b backoff) delay(attempt int) time.Duration {
	d := b.base << uint(attempt)
	if d <= 0 || d > maxRetryDelay {
		return maxRetryDelay
	}
	return d
}

func (b backoff) do(ctx context.Context, logger *zap.Logger, what string, fn func(context.Context) error) error {
	var (
		err     error
		attempt int
	)
	for ; ; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%s: %w (last error: %v)", what, ctx.Err(), err)
		}
		if attempt >= b.retries {
			break
		}
		wait := b.delay(attempt)
		logger.Warn("storage write failed, retrying",
			zap.String("what", what),
			zap.Int("attempt", attempt+1),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%s: %w (last error: %v)", what, ctx.Err(), err)
		case <-timer.C:
		}
	}
	return fmt.Errorf("%s after %d attempts: %w", what, attempt+1, err)
}
