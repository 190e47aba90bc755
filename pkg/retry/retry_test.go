package retry

import (
	"context"
	"fmt"
	"testing"
	"time"

	"payment-reconciliation-service/pkg/errors"
)

func fastPolicy(attempts int) Policy {
	return Policy{
		MaxAttempts: attempts,
		BaseBackoff: time.Millisecond,
		Retryable:   errors.IsWriteConflict,
	}
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(3), "op", func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Do() = %v, want nil", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDoRetriesConflicts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(3), "op", func() error {
		calls++
		if calls < 3 {
			return errors.WriteConflict("op", fmt.Errorf("row contention"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() = %v, want nil after retries", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	calls := 0
	permanent := errors.InsufficientBalance("user-1", "10", "50")
	err := Do(context.Background(), fastPolicy(3), "op", func() error {
		calls++
		return permanent
	})
	if err != permanent {
		t.Fatalf("Do() = %v, want the permanent error unchanged", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDoExhaustsBudget(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(3), "op", func() error {
		calls++
		return errors.WriteConflict("op", fmt.Errorf("row contention"))
	})
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if !errors.IsRetryExhausted(err) {
		t.Errorf("Do() = %v, want retry exhausted", err)
	}
}

func TestDoRespectsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Do(ctx, fastPolicy(5), "op", func() error {
		calls++
		return errors.WriteConflict("op", fmt.Errorf("row contention"))
	})
	if err == nil {
		t.Fatal("expected an error from a cancelled context")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retries after cancellation)", calls)
	}
}

func TestDoDefaults(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{}, "op", func() error {
		calls++
		return errors.WriteConflict("op", fmt.Errorf("row contention"))
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1 for a zero policy", calls)
	}
	if !errors.IsRetryExhausted(err) {
		t.Errorf("Do() = %v, want retry exhausted", err)
	}
}
