package acquirer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ErrNonRetryable wraps failures that further attempts cannot fix, such as
// rejected credentials or a dead portal session.
var ErrNonRetryable = errors.New("non-retryable acquisition error")

// criticalMarkers are substrings of error messages that indicate a broken
// session rather than a transient fault.
var criticalMarkers = []string{
	"chrome not reachable",
	"session deleted because of page crash",
	"invalid session id",
	"credenciales",
}

// MarkNonRetryable tags err so the retry executor gives up immediately.
func MarkNonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrNonRetryable, err)
}

// IsNonRetryable reports whether err should stop the retry loop.
func IsNonRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNonRetryable) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range criticalMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// Executor retries an acquisition with linear backoff.
type Executor struct {
	maxRetries int
	baseDelay  time.Duration
	logger     zerolog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// NewExecutor builds a retry executor. maxRetries counts attempts after the
// first one, so maxRetries of 2 allows three runs in total.
func NewExecutor(maxRetries int, baseDelay time.Duration, logger zerolog.Logger) *Executor {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if baseDelay <= 0 {
		baseDelay = 2 * time.Second
	}
	return &Executor{
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		logger:     logger.With().Str("component", "retry").Logger(),
		sleep:      sleepCtx,
	}
}

// Do runs op, retrying transient failures. Before each retry the reset hook
// (when non-nil) tears down the previous session. Backoff grows linearly:
// attempt n waits n times the base delay.
func (e *Executor) Do(ctx context.Context, name string, op func(ctx context.Context) error, reset func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(attempt) * e.baseDelay
			e.logger.Warn().
				Str("operation", name).
				Int("attempt", attempt+1).
				Dur("backoff", delay).
				Err(lastErr).
				Msg("retrying after failure")

			if err := e.sleep(ctx, delay); err != nil {
				return err
			}
			if reset != nil {
				if err := reset(ctx); err != nil {
					e.logger.Warn().Err(err).Msg("session reset failed")
				}
			}
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if IsNonRetryable(lastErr) {
			e.logger.Error().Str("operation", name).Err(lastErr).Msg("non-retryable failure, giving up")
			return lastErr
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", name, e.maxRetries+1, lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
