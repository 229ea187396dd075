// Package retry wraps single external calls with bounded, linearly backed-off
// attempts. It is stateless between calls and knows nothing about the
// platforms it fronts; callers decide which errors are worth retrying.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
)

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = 2 * time.Second
)

// Policy bounds a retried call. The delay before attempt k is BaseDelay*k.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	// Retryable classifies errors; nil retries everything. Errors it rejects
	// end the call immediately with a single attempt recorded.
	Retryable func(error) bool
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = defaultBaseDelay
	}
	return p
}

// linearBackOff implements backoff.BackOff with delays of base, 2*base, 3*base, ...
type linearBackOff struct {
	base time.Duration
	k    int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.k++
	return b.base * time.Duration(b.k)
}

func (b *linearBackOff) Reset() { b.k = 0 }

// Do runs op until it succeeds, fails permanently, or exhausts the attempt
// budget. It returns the result, the number of attempts actually made, and —
// on failure — the last error wrapped with the attempt count.
func Do[T any](ctx context.Context, p Policy, log zerolog.Logger, label string, op func(ctx context.Context) (T, error)) (T, int, error) {
	p = p.withDefaults()

	var attempts int
	var lastErr error
	result, err := backoff.Retry(ctx,
		func() (T, error) {
			attempts++
			v, err := op(ctx)
			if err != nil {
				lastErr = err
				if p.Retryable != nil && !p.Retryable(err) {
					return v, backoff.Permanent(err)
				}
			}
			return v, err
		},
		backoff.WithBackOff(&linearBackOff{base: p.BaseDelay}),
		backoff.WithMaxTries(uint(p.MaxAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Warn().Err(err).Str("call", label).Int("attempt", attempts).Dur("next_delay", next).Msg("retrying upstream call")
		}),
	)
	if err != nil {
		if lastErr == nil {
			lastErr = err
		}
		var zero T
		return zero, attempts, fmt.Errorf("%s failed after %d attempt(s): %w", label, attempts, lastErr)
	}
	return result, attempts, nil
}
