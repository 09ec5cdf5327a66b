package entities

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidState marks operator misconfiguration, e.g. a connection
	// without credentials. Events failing with it are not marked processed.
	ErrInvalidState = errors.New("invalid state")
	// ErrExternalProvider marks an LLM or messaging provider failure.
	// Retried by webhook redelivery.
	ErrExternalProvider = errors.New("external provider error")

	ErrNotFound        = errors.New("not found")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
	ErrConflict        = errors.New("conflict")
	ErrValidation      = errors.New("validation failed")
)

// ProviderError describes a failed call to an external provider.
type ProviderError struct {
	Provider   string // "meta", "anthropic", "openai"
	Op         string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: status %d: %v", e.Provider, e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

func (e *ProviderError) Is(target error) bool {
	return target == ErrExternalProvider
}

// Invalidf wraps ErrValidation with a formatted message.
func Invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
