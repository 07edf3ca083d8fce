// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package retry defines the retry policy shared by network-bound callers.
package retry

import (
	"context"
	"time"
)

// Policy describes a bounded retry ladder. Attempt numbers start at 1.
type Policy struct {
	// MaxAttempts is the total number of calls, including the first (default 3).
	MaxAttempts int

	// BaseTimeout is the per-attempt timeout unit. Attempt n runs with
	// n*BaseTimeout unless TimeoutFn is set.
	BaseTimeout time.Duration

	// BaseDelay is the pause unit between attempts. The pause before
	// attempt n+1 is n*BaseDelay unless DelayFn is set.
	BaseDelay time.Duration

	// TimeoutFn overrides the escalating timeout when non-nil.
	TimeoutFn func(attempt int) time.Duration

	// DelayFn overrides the pause between attempts when non-nil.
	DelayFn func(attempt int) time.Duration
}

const defaultMaxAttempts = 3

// Attempts returns the effective attempt limit.
func (p Policy) Attempts() int {
	if p.MaxAttempts <= 0 {
		return defaultMaxAttempts
	}
	return p.MaxAttempts
}

// Timeout returns the timeout for the given attempt.
func (p Policy) Timeout(attempt int) time.Duration {
	if p.TimeoutFn != nil {
		return p.TimeoutFn(attempt)
	}
	if attempt < 1 {
		attempt = 1
	}
	return time.Duration(attempt) * p.BaseTimeout
}

// Delay returns the pause taken after the given failed attempt.
func (p Policy) Delay(attempt int) time.Duration {
	if p.DelayFn != nil {
		return p.DelayFn(attempt)
	}
	if attempt < 1 {
		attempt = 1
	}
	return time.Duration(attempt) * p.BaseDelay
}

// Bound returns the worst-case duration of a full ladder: the sum of every
// attempt's timeout plus the pauses between attempts.
func (p Policy) Bound() time.Duration {
	var total time.Duration
	n := p.Attempts()
	for a := 1; a <= n; a++ {
		total += p.Timeout(a)
		if a < n {
			total += p.Delay(a)
		}
	}
	return total
}

// Sleep waits for d or until ctx is done, returning ctx.Err() in the latter case.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
