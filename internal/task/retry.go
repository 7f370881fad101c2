package task

import (
	"context"
	"fmt"
	"time"
)

// Policy is the bounded-retry contract: a fixed (non-exponential) delay
// between attempts, configuration-driven.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt. Zero
	// means the function runs exactly once.
	MaxRetries int

	// Delay is the fixed pause between attempts.
	Delay time.Duration
}

// Run executes fn until it succeeds, returns a terminal failure, the retry
// budget is exhausted, or ctx is cancelled. The returned error carries the
// attempt count.
func (p Policy) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := 1 + p.MaxRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if IsTerminal(lastErr) {
			return fmt.Errorf("attempt %d (terminal): %w", attempt, lastErr)
		}
		if attempt == attempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.Delay):
		}
	}
	return fmt.Errorf("after %d attempts: %w", attempts, lastErr)
}
