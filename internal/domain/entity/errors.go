package entity

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// Input errors
	ErrInvalidExpenseDate = errors.New("invalid expense date")
	ErrMissingFields      = errors.New("missing required fields")
	ErrBaseAmountRequired = errors.New("base amount is required when currency differs from base currency")
	ErrNoPolicies         = errors.New("no policies supplied and no default policies configured")

	// Tracking errors
	ErrRunNotFound          = errors.New("job run not found")
	ErrStageNotFound        = errors.New("job run stage not found")
	ErrRunAlreadyFinished   = errors.New("job run already finished")
	ErrStageAlreadyFinished = errors.New("job run stage already finished")
	ErrInvalidRunStatus     = errors.New("invalid job run status")

	// Currency errors
	ErrUnknownCurrencyPair = errors.New("unknown currency pair")
	ErrInvalidRatePayload  = errors.New("invalid conversion payload")

	// Intake errors
	ErrQueueFull   = errors.New("intake queue is full")
	ErrQueueClosed = errors.New("intake queue is closed")
)

// ValidationInputError reports a malformed event. It is never retryable.
type ValidationInputError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationInputError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid input: %s", e.Reason)
	}
	return fmt.Sprintf("invalid input %s: %s", e.Field, e.Reason)
}

func (e *ValidationInputError) Unwrap() error { return e.Err }

// NewMissingFieldsError lists missing fields and the columns that were present
func NewMissingFieldsError(missing, received []string) *ValidationInputError {
	if len(received) > 30 {
		received = received[:30]
	}
	return &ValidationInputError{
		Field: "record",
		Reason: fmt.Sprintf("missing fields [%s], received columns [%s]",
			strings.Join(missing, ", "), strings.Join(received, ", ")),
		Err: ErrMissingFields,
	}
}

// ConversionServiceError wraps an upstream currency failure
type ConversionServiceError struct {
	From string
	To   string
	Err  error
}

func (e *ConversionServiceError) Error() string {
	return fmt.Sprintf("currency conversion %s->%s failed: %v", e.From, e.To, e.Err)
}

func (e *ConversionServiceError) Unwrap() error { return e.Err }

// PersistenceError wraps a durable write failure
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s failed: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// RuleEvaluationError carries the name of the rule that failed
type RuleEvaluationError struct {
	Rule string
	Err  error
}

func (e *RuleEvaluationError) Error() string {
	return fmt.Sprintf("rule %s failed: %v", e.Rule, e.Err)
}

func (e *RuleEvaluationError) Unwrap() error { return e.Err }

// IsInputError reports whether err should be surfaced to the caller as bad input
func IsInputError(err error) bool {
	var inputErr *ValidationInputError
	return errors.As(err, &inputErr) || errors.Is(err, ErrInvalidExpenseDate)
}
