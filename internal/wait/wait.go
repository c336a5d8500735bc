// Package wait provides the bounded-polling primitive the lifecycle
// controller suspends on: a fixed number of attempts at a fixed
// interval. Exhausting the attempts is a normal outcome reported as
// ok=false, not an error; only probe failures are errors.
package wait

import (
	"context"
	"time"
)

// Probe reports whether the awaited condition currently holds. An
// error aborts the wait immediately.
type Probe func(ctx context.Context) (bool, error)

// Poller polls a Probe with bounded retries.
type Poller struct {
	Attempts int
	Interval time.Duration
}

// Until polls until the probe reports true, the attempts are
// exhausted, the probe errors, or ctx is cancelled. The attempt count
// is returned either way for observability.
func (p Poller) Until(ctx context.Context, probe Probe) (ok bool, attempts int, err error) {
	for attempts = 1; attempts <= p.Attempts; attempts++ {
		ok, err = probe(ctx)
		if err != nil {
			return false, attempts, err
		}
		if ok {
			return true, attempts, nil
		}
		if attempts == p.Attempts {
			break
		}
		select {
		case <-ctx.Done():
			return false, attempts, ctx.Err()
		case <-time.After(p.Interval):
		}
	}
	return false, p.Attempts, nil
}
