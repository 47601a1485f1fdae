package engine

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// retryDelay returns the wait before the next retry after the given
// attempt number (1-based). Delays double from base up to maxDelay
// with no jitter, so consecutive retries of the same item are always
// scheduled strictly later.
func retryDelay(base, maxDelay time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = 5 * time.Minute
	}
	if maxDelay <= 0 {
		maxDelay = time.Hour
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = maxDelay
	b.MaxElapsedTime = 0
	b.Reset()

	d := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}
