// Package retry provides a bounded retry combinator for operations that
// can fail with transient write conflicts.
//
// Ledger and reconciliation writes run inside database transactions;
// when two of them collide on the same row, the loser fails with a
// conflict error. Instead of duplicating retry loops at each call site,
// callers wrap the atomic unit with Do and a Policy. Non-conflict
// errors are returned immediately; conflicts are retried with backoff
// until the attempt budget is exhausted, then surfaced as
// RetryExhausted.
package retry

import (
	"context"
	"time"

	"payment-reconciliation-service/pkg/errors"
)

// Policy controls retry behavior for conflicting operations.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// BaseBackoff is the delay after the first failed attempt. Each
	// subsequent delay grows linearly: base, 2*base, 3*base, ...
	BaseBackoff time.Duration

	// Retryable decides whether an error is worth retrying. Defaults
	// to errors.IsWriteConflict.
	Retryable func(error) bool
}

// DefaultPolicy returns the policy used for ledger-mutating operations:
// three attempts with a 10ms linear backoff on write conflicts.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseBackoff: 10 * time.Millisecond,
		Retryable:   errors.IsWriteConflict,
	}
}

// Do executes op, re-running it according to the policy when it fails
// with a retryable error. The context is checked between attempts so a
// cancelled caller does not keep hammering a contended row.
func Do(ctx context.Context, policy Policy, operation string, op func() error) error {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	retryable := policy.Retryable
	if retryable == nil {
		retryable = errors.IsWriteConflict
	}

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) {
			return lastErr
		}
		if attempt == policy.MaxAttempts {
			break
		}

		backoff := time.Duration(attempt) * policy.BaseBackoff
		select {
		case <-ctx.Done():
			return errors.InternalError(operation, ctx.Err())
		case <-time.After(backoff):
		}
	}

	return errors.RetryExhausted(operation, policy.MaxAttempts, lastErr)
}
