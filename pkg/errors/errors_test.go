package errors

import (
	"fmt"
	"testing"
)

func TestConstructorsCarryCodes(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		predicate func(error) bool
	}{
		{"extraction failure", ExtractionFailure("raw text"), IsExtractionFailure},
		{"empty message", EmptyMessage(), IsExtractionFailure},
		{"duplicate reference", DuplicateReference("DEP-1"), IsDuplicateReference},
		{"insufficient balance", InsufficientBalance("user-1", "10", "50"), IsInsufficientBalance},
		{"write conflict", WriteConflict("apply", fmt.Errorf("locked")), IsWriteConflict},
		{"retry exhausted", RetryExhausted("apply", 3, fmt.Errorf("locked")), IsRetryExhausted},
		{"not found", NotFound("record", "rec-1"), IsNotFound},
		{"invalid pairing", InvalidPairing("same direction"), IsInvalidPairing},
		{"no confident match", NoConfidentMatch("rec-1", 0.8), IsNoConfidentMatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.predicate(tt.err) {
				t.Errorf("predicate rejected its own constructor's error: %v", tt.err)
			}
		})
	}
}

func TestPredicatesRejectOtherErrors(t *testing.T) {
	err := NotFound("record", "rec-1")
	if IsDuplicateReference(err) {
		t.Error("IsDuplicateReference accepted a not-found error")
	}
	if IsWriteConflict(fmt.Errorf("plain error")) {
		t.Error("IsWriteConflict accepted an untyped error")
	}
	if IsNotFound(nil) {
		t.Error("IsNotFound accepted nil")
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := fmt.Errorf("connection reset")
	wrapped := StorageError("wallet lock", cause)

	if wrapped.Unwrap() != cause {
		t.Errorf("Unwrap() = %v, want the original cause", wrapped.Unwrap())
	}
	if wrapped.Category != CategoryStorage {
		t.Errorf("category = %s, want %s", wrapped.Category, CategoryStorage)
	}
	if got := wrapped.Error(); got == "" || got == cause.Error() {
		t.Errorf("Error() = %q, want the message with the cause appended", got)
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(nil, CategoryStorage, CodeQueryFailed, "query") != nil {
		t.Error("Wrap(nil, ...) should be nil")
	}
}

func TestWithContext(t *testing.T) {
	err := NoConfidentMatch("rec-1", 0.8).WithContext("candidates", 4)
	if err.Context["candidates"] != 4 {
		t.Errorf("context = %v, want candidates=4", err.Context)
	}
	if err.Context["record_id"] == nil {
		t.Error("constructor context should carry the record ID")
	}
}

func TestAsReconcilerError(t *testing.T) {
	typed, ok := AsReconcilerError(DuplicateReference("DEP-1"))
	if !ok || typed.Code != CodeDuplicateReference {
		t.Errorf("AsReconcilerError() = %v, %v", typed, ok)
	}

	if _, ok := AsReconcilerError(fmt.Errorf("plain")); ok {
		t.Error("plain errors are not ReconcilerErrors")
	}

	wrapped := fmt.Errorf("outer: %w", NotFound("record", "rec-1"))
	typed, ok = AsReconcilerError(wrapped)
	if !ok || typed.Code != CodeNotFound {
		t.Error("AsReconcilerError should unwrap nested errors")
	}
}
