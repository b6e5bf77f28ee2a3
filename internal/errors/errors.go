// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrConfigInvalid    = errors.New("invalid configuration")
	ErrCacheUnavailable = errors.New("cache backend unavailable")
	ErrCacheMiss        = errors.New("cache miss")
	ErrInvalidQuote     = errors.New("invalid quote")
	ErrNotifyFailed     = errors.New("notification failed")
)

// CacheError represents a failure talking to a snapshot cache backend.
type CacheError struct {
	Backend string
	Op      string
	Err     error
}

func (e *CacheError) Error() string {
	return fmt.Sprintf("cache error [%s] %s: %v", e.Backend, e.Op, e.Err)
}

func (e *CacheError) Unwrap() error {
	return e.Err
}

// NewCacheError creates a new CacheError.
func NewCacheError(backend, op string, err error) *CacheError {
	return &CacheError{
		Backend: backend,
		Op:      op,
		Err:     err,
	}
}

// QuoteError represents a failed upstream quote for one symbol.
type QuoteError struct {
	Source string
	Symbol string
	Err    error
}

func (e *QuoteError) Error() string {
	return fmt.Sprintf("quote error [%s] %s: %v", e.Source, e.Symbol, e.Err)
}

func (e *QuoteError) Unwrap() error {
	return e.Err
}

// NewQuoteError creates a new QuoteError.
func NewQuoteError(source, symbol string, err error) *QuoteError {
	return &QuoteError{
		Source: source,
		Symbol: symbol,
		Err:    err,
	}
}

// DeliveryError represents a failed notification delivery on one channel.
type DeliveryError struct {
	Channel string
	RuleID  int
	Err     error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery error [%s] rule %d: %v", e.Channel, e.RuleID, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// NewDeliveryError creates a new DeliveryError.
func NewDeliveryError(channel string, ruleID int, err error) *DeliveryError {
	return &DeliveryError{
		Channel: channel,
		RuleID:  ruleID,
		Err:     err,
	}
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

// Unwrap lets callers match validation failures against ErrConfigInvalid.
func (e *ValidationError) Unwrap() error {
	return ErrConfigInvalid
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
