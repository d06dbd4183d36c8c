// Package wait holds the explicit waits a scenario may use between steps.
package wait

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
)

// ErrNotReached is returned when a waited-for condition does not hold in time.
var ErrNotReached = errors.New("condition not reached")

// Heighter reports the latest block height of a chain.
type Heighter interface {
	Height(ctx context.Context) (int64, error)
}

// ForDuration blocks for d of wall clock time, or until ctx is done.
func ForDuration(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ForBlocks blocks until every chain has produced at least delta new blocks.
func ForBlocks(ctx context.Context, delta int, chains ...Heighter) error {
	if delta <= 0 {
		return nil
	}

	for i, chain := range chains {
		start, err := chain.Height(ctx)
		if err != nil {
			return fmt.Errorf("failed to get height of chain %d: %w", i, err)
		}
		target := start + int64(delta)

		err = retry.Do(
			func() error {
				h, err := chain.Height(ctx)
				if err != nil {
					return err
				}
				if h < target {
					return fmt.Errorf("%w: height %d below %d", ErrNotReached, h, target)
				}
				return nil
			},
			retry.Context(ctx),
			retry.Attempts(0),
			retry.Delay(100*time.Millisecond),
			retry.DelayType(retry.FixedDelay),
			retry.LastErrorOnly(true),
		)
		if err != nil {
			return fmt.Errorf("chain %d did not reach height %d: %w", i, target, err)
		}
	}
	return nil
}

// ForCondition polls fn every interval until it returns true, returns an
// error, or timeout elapses.
func ForCondition(ctx context.Context, timeout, interval time.Duration, fn func() (bool, error)) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		ok, err := fn()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w after %s: %w", ErrNotReached, timeout, ctx.Err())
		case <-ticker.C:
		}
	}
}
