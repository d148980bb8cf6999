package transfer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// RetryEvent describes one scheduled retry
type RetryEvent struct {
	Name    string
	Attempt int // attempt that just failed, starting at 1
	Delay   time.Duration
	Err     error
}

// Executor runs an operation under a retry policy. It holds no per-call
// state, so one executor can serve many items concurrently.
type Executor struct {
	policy  Policy
	logger  *zap.Logger
	onRetry func(RetryEvent)
}

// NewExecutor creates a retry executor. onRetry may be nil.
func NewExecutor(policy Policy, logger *zap.Logger, onRetry func(RetryEvent)) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &Executor{
		policy:  policy,
		logger:  logger,
		onRetry: onRetry,
	}
}

// Execute calls op until it succeeds, the policy's attempts are used up, or
// ctx is cancelled. It returns the number of op calls made. A cancellation
// observed before an attempt, during a backoff wait, or alongside a failed
// attempt is reported as ErrCancelled. Exhausting the attempts, or an error
// marked Permanent, returns the last error from op.
func (e *Executor) Execute(ctx context.Context, name string, op func(context.Context) error) (int, error) {
	var lastErr error

	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			return attempt - 1, cancelled(lastErr)
		}

		err := op(ctx)
		if err == nil {
			return attempt, nil
		}
		if ctx.Err() != nil {
			return attempt, cancelled(err)
		}

		lastErr = err
		if attempt >= e.policy.MaxAttempts || IsPermanent(err) {
			return attempt, err
		}

		delay := e.policy.Delay(attempt - 1)
		e.logger.Warn("Transfer attempt failed, retrying",
			zap.String("name", name),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", e.policy.MaxAttempts),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if e.onRetry != nil {
			e.onRetry(RetryEvent{Name: name, Attempt: attempt, Delay: delay, Err: err})
		}

		if err := sleep(ctx, delay); err != nil {
			return attempt, cancelled(lastErr)
		}
	}
}

// sleep waits for d or until ctx is done
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func cancelled(cause error) error {
	if cause == nil {
		return ErrCancelled
	}
	return fmt.Errorf("%w: %w", ErrCancelled, cause)
}
