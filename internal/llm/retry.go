package llm

import (
	"context"
	"errors"
	"time"

	"github.com/avast/retry-go"
	"github.com/rs/zerolog"
)

const defaultRetryDelay = 500 * time.Millisecond

// Retrying wraps a Client and retries failed generations.
type Retrying struct {
	next     Client
	attempts uint
	delay    time.Duration
	logger   zerolog.Logger
}

// NewRetrying retries next up to attempts times with exponential back-off
// starting at delay.  A zero delay uses the package default.
func NewRetrying(next Client, attempts uint, delay time.Duration, logger zerolog.Logger) *Retrying {
	if attempts == 0 {
		attempts = 1
	}
	if delay <= 0 {
		delay = defaultRetryDelay
	}
	return &Retrying{next: next, attempts: attempts, delay: delay, logger: logger}
}

// Generate implements Client.
func (r *Retrying) Generate(ctx context.Context, prompt string) (string, error) {
	var out string
	err := retry.Do(
		func() error {
			res, err := r.next.Generate(ctx, prompt)
			if err != nil {
				return err
			}
			out = res
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(r.attempts),
		retry.Delay(r.delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
		}),
		retry.OnRetry(func(n uint, err error) {
			r.logger.Warn().Err(err).Uint("attempt", n+1).Msg("llm generation failed, retrying")
		}),
	)
	if err != nil {
		return "", err
	}
	return out, nil
}
