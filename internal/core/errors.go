package core

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthExpired signals that the data source rejected the bearer credential.
	// The engine invalidates the credential and halts flushing until Resume.
	ErrAuthExpired = errors.New("core: authentication expired")
	// ErrNoTemplate is returned by item mutations when the scope has no active template.
	ErrNoTemplate = errors.New("core: no active template")
	// ErrUnknownItem is returned when an operation references an item key that is not loaded.
	ErrUnknownItem = errors.New("core: unknown item")
	// ErrClosed is returned by operations on an engine after Close.
	ErrClosed = errors.New("core: engine closed")
)

// ValidationError reports rejected local input. The offending input has
// already been reset to its last good state when the error is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// PersistenceError wraps a failed write against the data source.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsValidation reports whether err is a *ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func persistErr(op string, err error) error {
	if err == nil || errors.Is(err, ErrAuthExpired) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}
