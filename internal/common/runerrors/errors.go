// Package runerrors contains the error kinds raised while ingesting and reading runs.
// Code that needs to branch on the kind of a failure (e.g., the consumer deciding whether
// to retry a job, or an HTTP handler choosing a status code) should use the Is* helpers,
// which look through the whole chain of wrapped errors using errors.As.
package runerrors

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrUnauthenticated is returned when an API key does not resolve to a user.
type ErrUnauthenticated struct {
	// The API key, masked so that it can be logged.
	Key     string
	Message string
}

func (err *ErrUnauthenticated) Error() (s string) {
	s = fmt.Sprintf("api key %q does not resolve to a user", err.Key)
	if err.Message != "" {
		s = s + fmt.Sprintf("; %s", err.Message)
	}
	return
}

// ErrAlreadyExists is returned whenever some resource already exists.
// Type and Message are optional and are omitted from the error message if not provided.
type ErrAlreadyExists struct {
	Type    string // Resource type, e.g., "run"
	Value   string // Resource name, e.g., the client run id
	Message string
}

func (err *ErrAlreadyExists) Error() (s string) {
	if err.Type != "" {
		s = fmt.Sprintf("resource %q of type %q already exists", err.Value, err.Type)
	} else {
		s = fmt.Sprintf("resource %q already exists", err.Value)
	}
	if err.Message != "" {
		return s + fmt.Sprintf("; %s", err.Message)
	}
	return s
}

// ErrNotFound is returned whenever some resource isn't found.
// Type and Message are optional and are omitted from the error message if not provided.
type ErrNotFound struct {
	Type    string
	Value   string
	Message string
}

func (err *ErrNotFound) Error() (s string) {
	if err.Type != "" {
		s = fmt.Sprintf("resource %q of type %q does not exist", err.Value, err.Type)
	} else {
		s = fmt.Sprintf("resource %q does not exist", err.Value)
	}
	if err.Message != "" {
		return s + fmt.Sprintf("; %s", err.Message)
	}
	return s
}

// ErrInvalidArgument is returned when a payload or request parameter is malformed.
type ErrInvalidArgument struct {
	Name    string      // Name of the field referred to, e.g., "start_time"
	Value   interface{} // The invalid value that was provided
	Message string
}

func (err *ErrInvalidArgument) Error() string {
	if err.Message == "" {
		return fmt.Sprintf("value %q is invalid for field %q", err.Value, err.Name)
	}
	return fmt.Sprintf("value %q is invalid for field %q; %s", err.Value, err.Name, err.Message)
}

// ErrStorage wraps any lower-level persistence failure.
type ErrStorage struct {
	// Operation that failed, e.g., "insert run"
	Operation string
	Cause     error
}

func (err *ErrStorage) Error() string {
	return fmt.Sprintf("storage operation %q failed: %v", err.Operation, err.Cause)
}

func (err *ErrStorage) Unwrap() error {
	return err.Cause
}

// NewStorageError wraps cause in an ErrStorage with a stack trace. Returns nil if cause is nil.
func NewStorageError(operation string, cause error) error {
	if cause == nil {
		return nil
	}
	return errors.WithStack(&ErrStorage{Operation: operation, Cause: cause})
}

func IsAuth(err error) bool {
	var e *ErrUnauthenticated
	return errors.As(err, &e)
}

func IsAlreadyExists(err error) bool {
	var e *ErrAlreadyExists
	return errors.As(err, &e)
}

func IsNotFound(err error) bool {
	var e *ErrNotFound
	return errors.As(err, &e)
}

func IsInvalidArgument(err error) bool {
	var e *ErrInvalidArgument
	return errors.As(err, &e)
}

func IsStorage(err error) bool {
	var e *ErrStorage
	return errors.As(err, &e)
}

// Kind returns a short label for the kind of err, logged alongside job failures.
func Kind(err error) string {
	switch {
	case err == nil:
		return "none"
	case IsAuth(err):
		return "auth"
	case IsNotFound(err):
		return "not_found"
	case IsAlreadyExists(err):
		return "duplicate"
	case IsInvalidArgument(err):
		return "validation"
	case IsStorage(err):
		return "storage"
	default:
		return "unknown"
	}
}

// MaskKey returns key with everything but the last four characters replaced, for logging.
func MaskKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}
