package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a record or catalog entry does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidInput is returned for malformed caller input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInconsistentSnapshot is returned when a build selection references
	// data absent from the snapshot handed to the engine.
	ErrInconsistentSnapshot = errors.New("inconsistent snapshot")
)

// ConfigurationError describes a malformed rule or template. It is fatal to
// the rule it concerns, never to a whole validation run.
type ConfigurationError struct {
	Subject string
	Reason  string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Subject, e.Reason)
}

// NotFoundError names the missing entity.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

// Unwrap lets callers match with errors.Is(err, ErrNotFound).
func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// IsConfigurationError reports whether err is, or wraps, a ConfigurationError.
func IsConfigurationError(err error) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr)
}
