package gateway

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/discord-net/dgate/internal"
)

// Replaced in tests.
var (
	timeAfter      = time.After
	randomDuration = internal.RandomBetween
)

// newReconnectBackOff doubles from initial up to max with ±25% jitter. With maxAttempts > 0 it stops
// after that many consecutive retries.
func newReconnectBackOff(initial, max time.Duration, maxAttempts int) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.Multiplier = 2
	b.RandomizationFactor = 0.25
	b.MaxInterval = max
	b.MaxElapsedTime = 0
	b.Reset()
	if maxAttempts > 0 {
		return backoff.WithMaxRetries(b, uint64(maxAttempts))
	}
	return b
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timeAfter(d):
		return nil
	}
}
