// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Standard sentinel errors
var (
	ErrInvalidChain       = errors.New("invalid option chain")
	ErrInvariantViolation = errors.New("sizing invariant violated")
	ErrConfigInvalid      = errors.New("invalid configuration")
	ErrSignalUnavailable  = errors.New("signal unavailable")
	ErrChainUnavailable   = errors.New("option chain unavailable")
	ErrOrderRejected      = errors.New("order rejected")
	ErrOrderPending       = errors.New("order not confirmed")
	ErrReservationUnknown = errors.New("unknown or settled reservation")
	ErrRateLimited        = errors.New("rate limited")
	ErrDatabaseError      = errors.New("database error")
	ErrDataNotFound       = errors.New("data not found")
)

// ChainError describes why an option chain snapshot could not be classified.
type ChainError struct {
	Underlying string
	Reason     string
}

func (e *ChainError) Error() string {
	if e.Underlying != "" {
		return fmt.Sprintf("invalid chain [%s]: %s", e.Underlying, e.Reason)
	}
	return fmt.Sprintf("invalid chain: %s", e.Reason)
}

func (e *ChainError) Unwrap() error {
	return ErrInvalidChain
}

// NewChainError creates a new ChainError.
func NewChainError(underlying, reason string) *ChainError {
	return &ChainError{
		Underlying: underlying,
		Reason:     reason,
	}
}

// InvariantError is raised when a computed decision breaks one of the hard
// capital ceilings. It is never recoverable inside a cycle.
type InvariantError struct {
	Rule    string
	Current string
	Limit   string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("invariant violated [%s]: %s exceeds %s", e.Rule, e.Current, e.Limit)
}

func (e *InvariantError) Unwrap() error {
	return ErrInvariantViolation
}

// NewInvariantError creates a new InvariantError.
func NewInvariantError(rule, current, limit string) *InvariantError {
	return &InvariantError{
		Rule:    rule,
		Current: current,
		Limit:   limit,
	}
}

// BrokerError represents an error from the broker API.
type BrokerError struct {
	Code    string
	Message string
	Err     error
}

func (e *BrokerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("broker error [%s]: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("broker error [%s]: %s", e.Code, e.Message)
}

func (e *BrokerError) Unwrap() error {
	return e.Err
}

// NewBrokerError creates a new BrokerError.
func NewBrokerError(code, message string, err error) *BrokerError {
	return &BrokerError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// ValidationError represents a validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// ValidationErrors collects every problem found in one validation pass.
type ValidationErrors []*ValidationError

func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return "no validation errors"
	}
	lines := make([]string, 0, len(v)+1)
	lines = append(lines, fmt.Sprintf("%d validation error(s):", len(v)))
	for _, e := range v {
		lines = append(lines, "  - "+e.Error())
	}
	return strings.Join(lines, "\n")
}

// Unwrap lets errors.Is match ErrConfigInvalid on an aggregate.
func (v ValidationErrors) Unwrap() error {
	return ErrConfigInvalid
}

// Add appends a new field error.
func (v *ValidationErrors) Add(field string, value interface{}, message string) {
	*v = append(*v, NewValidationError(field, value, message))
}

// HasErrors reports whether anything was collected.
func (v ValidationErrors) HasErrors() bool {
	return len(v) > 0
}

// Err returns nil when empty so callers can return it directly.
func (v ValidationErrors) Err() error {
	if len(v) == 0 {
		return nil
	}
	return v
}

// Is checks if the error matches the target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// New creates a new error with the given message.
func New(message string) error {
	return errors.New(message)
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Join combines errors into one; nil entries are dropped.
func Join(errs ...error) error {
	return errors.Join(errs...)
}
