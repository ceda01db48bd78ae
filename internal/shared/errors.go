package shared

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates bad input shape or reference.
	ErrValidation = errors.New("validation failed")
	// ErrTracking indicates batch/serial requirements are not met.
	ErrTracking = errors.New("tracking validation failed")
	// ErrUnbalanced indicates a journal whose debits and credits differ.
	ErrUnbalanced = errors.New("journal is unbalanced")
	// ErrConcurrencyConflict indicates lock or transaction contention.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
)

// ValidationError describes input that was rejected before any write.
type ValidationError struct {
	Field  string
	Reason string
	// Cause is an optional domain sentinel.
	Cause error
}

// Validation builds a ValidationError.
func Validation(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func (e *ValidationError) Unwrap() error { return e.Cause }

// TrackingValidationError names the line whose batch/serial data is incomplete.
type TrackingValidationError struct {
	LineID     int64
	ItemID     int64
	Reason     string
	Duplicates []string
	Expected   int
	Got        int
}

func (e *TrackingValidationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "tracking validation failed: line %d item %d: %s", e.LineID, e.ItemID, e.Reason)
	if len(e.Duplicates) > 0 {
		fmt.Fprintf(&b, " (duplicate serials: %s)", strings.Join(e.Duplicates, ", "))
	}
	if e.Expected > 0 || e.Got > 0 {
		fmt.Fprintf(&b, " (expected %d, got %d)", e.Expected, e.Got)
	}
	return b.String()
}

func (e *TrackingValidationError) Is(target error) bool { return target == ErrTracking }

// UnbalancedJournalError carries the mismatching totals.
type UnbalancedJournalError struct {
	Debit  decimal.Decimal
	Credit decimal.Decimal
}

func (e *UnbalancedJournalError) Error() string {
	return fmt.Sprintf("journal is unbalanced: debit %s != credit %s", e.Debit.StringFixed(2), e.Credit.StringFixed(2))
}

func (e *UnbalancedJournalError) Is(target error) bool { return target == ErrUnbalanced }

// ConcurrencyConflictError reports contention on a lock key or transaction.
type ConcurrencyConflictError struct {
	Key string
	Err error
}

func (e *ConcurrencyConflictError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("concurrency conflict: %v", e.Err)
	}
	return fmt.Sprintf("concurrency conflict on %s: %v", e.Key, e.Err)
}

func (e *ConcurrencyConflictError) Is(target error) bool { return target == ErrConcurrencyConflict }

func (e *ConcurrencyConflictError) Unwrap() error { return e.Err }

// NotFoundError names the missing entity.
type NotFoundError struct {
	Entity string
	ID     string
}

// NotFound builds a NotFoundError.
func NotFound(entity string, id any) *NotFoundError {
	return &NotFoundError{Entity: entity, ID: fmt.Sprint(id)}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }
