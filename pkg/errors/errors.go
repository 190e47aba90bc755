// Package errors defines the typed error taxonomy used across the
// reconciliation and ledger services.
//
// Every error that crosses a package boundary is a *ReconcilerError
// carrying a category, a machine-readable code, optional context and a
// captured stack trace. Callers branch on codes via the Is* predicates
// rather than string matching.
package errors

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorCategory groups error codes by the subsystem that raised them.
type ErrorCategory string

const (
	CategoryExtraction    ErrorCategory = "extraction"
	CategoryMatching      ErrorCategory = "matching"
	CategoryLedger        ErrorCategory = "ledger"
	CategoryConflict      ErrorCategory = "conflict"
	CategoryStorage       ErrorCategory = "storage"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryInternal      ErrorCategory = "internal"
)

// ErrorCode identifies a specific failure within a category.
type ErrorCode string

const (
	// Extraction errors
	CodeUnparseableAmount ErrorCode = "unparseable_amount"
	CodeEmptyMessage      ErrorCode = "empty_message"

	// Matching errors
	CodeNoConfidentMatch ErrorCode = "no_confident_match"
	CodeInvalidPairing   ErrorCode = "invalid_pairing"

	// Ledger errors
	CodeDuplicateReference  ErrorCode = "duplicate_reference"
	CodeInsufficientBalance ErrorCode = "insufficient_balance"
	CodeInvalidAmount       ErrorCode = "invalid_amount"

	// Conflict errors
	CodeWriteConflict  ErrorCode = "write_conflict"
	CodeRetryExhausted ErrorCode = "retry_exhausted"

	// Storage errors
	CodeNotFound    ErrorCode = "not_found"
	CodeQueryFailed ErrorCode = "query_failed"
	CodeTxFailed    ErrorCode = "tx_failed"

	// Configuration errors
	CodeInvalidConfig ErrorCode = "invalid_config"
	CodeMissingConfig ErrorCode = "missing_config"

	// Internal errors
	CodeUnexpectedError ErrorCode = "unexpected_error"
)

// ReconcilerError is the base error type for all application errors.
type ReconcilerError struct {
	Category   ErrorCategory     `json:"category"`
	Code       ErrorCode         `json:"code"`
	Message    string            `json:"message"`
	Context    Context           `json:"context,omitempty"`
	Cause      error             `json:"-"`
	StackTrace errors.StackTrace `json:"-"`
}

// Context provides additional structured information about the error.
type Context map[string]interface{}

// Error implements the error interface.
func (e *ReconcilerError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause error.
func (e *ReconcilerError) Unwrap() error {
	return e.Cause
}

// WithContext attaches a key/value pair to the error.
func (e *ReconcilerError) WithContext(key string, value interface{}) *ReconcilerError {
	if e.Context == nil {
		e.Context = make(Context)
	}
	e.Context[key] = value
	return e
}

// New creates a new ReconcilerError with a captured stack trace.
func New(category ErrorCategory, code ErrorCode, message string) *ReconcilerError {
	return &ReconcilerError{
		Category:   category,
		Code:       code,
		Message:    message,
		StackTrace: errors.New("").(stackTracer).StackTrace(),
	}
}

// Wrap wraps an existing error with category and code information.
func Wrap(err error, category ErrorCategory, code ErrorCode, message string) *ReconcilerError {
	if err == nil {
		return nil
	}
	return &ReconcilerError{
		Category:   category,
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: errors.WithStack(err).(stackTracer).StackTrace(),
	}
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

// Specific constructors

// ExtractionFailure reports that no usable amount could be recovered
// from a submitted message. The raw text is attached for diagnostics.
func ExtractionFailure(rawText string) *ReconcilerError {
	return New(CategoryExtraction, CodeUnparseableAmount,
		"could not extract a payment amount from the message").
		WithContext("raw_text", rawText)
}

// EmptyMessage reports a submission with no text to extract from.
func EmptyMessage() *ReconcilerError {
	return New(CategoryExtraction, CodeEmptyMessage,
		"notification text is empty")
}

// NoConfidentMatch reports that no candidate cleared the acceptance
// threshold. It is non-fatal; the record stays queued for matching.
func NoConfidentMatch(recordID string, bestScore float64) *ReconcilerError {
	return New(CategoryMatching, CodeNoConfidentMatch,
		fmt.Sprintf("no candidate scored above threshold for record %s", recordID)).
		WithContext("record_id", recordID).
		WithContext("best_score", bestScore)
}

// InvalidPairing reports a manual match request over records that
// cannot form a payer/payee pair (same role, already resolved, etc.).
func InvalidPairing(reason string) *ReconcilerError {
	return New(CategoryMatching, CodeInvalidPairing,
		fmt.Sprintf("records cannot be paired: %s", reason))
}

// DuplicateReference reports that a deposit with the same external
// reference has already been applied. Callers treat it as
// already-applied rather than a hard failure.
func DuplicateReference(reference string) *ReconcilerError {
	return New(CategoryLedger, CodeDuplicateReference,
		fmt.Sprintf("transaction with reference %s already applied", reference)).
		WithContext("reference", reference)
}

// InsufficientBalance reports a debit that would take the wallet
// negative. The balance is left unchanged.
func InsufficientBalance(userID string, balance, requested string) *ReconcilerError {
	return New(CategoryLedger, CodeInsufficientBalance,
		fmt.Sprintf("insufficient balance for user %s: have %s, need %s", userID, balance, requested)).
		WithContext("user_id", userID).
		WithContext("balance", balance).
		WithContext("requested", requested)
}

// WriteConflict reports a concurrency-control failure on a row. The
// retry combinator in pkg/retry re-runs operations that fail this way.
func WriteConflict(operation string, err error) *ReconcilerError {
	return Wrap(err, CategoryConflict, CodeWriteConflict,
		fmt.Sprintf("concurrent write conflict during %s", operation))
}

// RetryExhausted reports that a conflicting operation failed after the
// configured number of attempts.
func RetryExhausted(operation string, attempts int, err error) *ReconcilerError {
	return Wrap(err, CategoryConflict, CodeRetryExhausted,
		fmt.Sprintf("%s failed after %d attempts", operation, attempts)).
		WithContext("attempts", attempts)
}

// NotFound reports a lookup miss for a record, wallet or transaction.
func NotFound(entity, id string) *ReconcilerError {
	return New(CategoryStorage, CodeNotFound,
		fmt.Sprintf("%s %s not found", entity, id)).
		WithContext("entity", entity).
		WithContext("id", id)
}

// StorageError wraps an unexpected database failure.
func StorageError(operation string, err error) *ReconcilerError {
	return Wrap(err, CategoryStorage, CodeQueryFailed,
		fmt.Sprintf("storage operation %s failed", operation))
}

// ConfigurationError reports an invalid or missing configuration value.
func ConfigurationError(setting string, err error) *ReconcilerError {
	if err == nil {
		return New(CategoryConfiguration, CodeMissingConfig,
			fmt.Sprintf("missing required configuration: %s", setting)).
			WithContext("setting", setting)
	}
	return Wrap(err, CategoryConfiguration, CodeInvalidConfig,
		fmt.Sprintf("invalid configuration for %s", setting)).
		WithContext("setting", setting)
}

// InternalError wraps an unexpected failure that has no better home.
func InternalError(operation string, err error) *ReconcilerError {
	return Wrap(err, CategoryInternal, CodeUnexpectedError,
		fmt.Sprintf("unexpected error during %s", operation))
}

// Predicates

// AsReconcilerError extracts a ReconcilerError from an error chain.
func AsReconcilerError(err error) (*ReconcilerError, bool) {
	var re *ReconcilerError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

func hasCode(err error, code ErrorCode) bool {
	if re, ok := AsReconcilerError(err); ok {
		return re.Code == code
	}
	return false
}

// IsExtractionFailure reports whether err is an extraction-stage
// failure, either an empty message or an unparseable amount.
func IsExtractionFailure(err error) bool {
	return hasCode(err, CodeUnparseableAmount) || hasCode(err, CodeEmptyMessage)
}

// IsDuplicateReference reports whether err is an already-applied deposit.
func IsDuplicateReference(err error) bool { return hasCode(err, CodeDuplicateReference) }

// IsInsufficientBalance reports whether err is a rejected debit.
func IsInsufficientBalance(err error) bool { return hasCode(err, CodeInsufficientBalance) }

// IsWriteConflict reports whether err is a retryable concurrency failure.
func IsWriteConflict(err error) bool { return hasCode(err, CodeWriteConflict) }

// IsNotFound reports whether err is a lookup miss.
func IsNotFound(err error) bool { return hasCode(err, CodeNotFound) }

// IsNoConfidentMatch reports whether err is a below-threshold match result.
func IsNoConfidentMatch(err error) bool { return hasCode(err, CodeNoConfidentMatch) }

// IsInvalidPairing checks whether the error rejects an invalid pairing.
func IsInvalidPairing(err error) bool { return hasCode(err, CodeInvalidPairing) }

// IsInvalidAmount checks whether the error rejects a ledger amount.
func IsInvalidAmount(err error) bool { return hasCode(err, CodeInvalidAmount) }

// IsRetryExhausted checks whether the error reports an exhausted retry
// budget.
func IsRetryExhausted(err error) bool { return hasCode(err, CodeRetryExhausted) }
