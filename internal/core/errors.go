package core

import (
	"errors"
	"fmt"
)

// Sentinel errors for missing or unauthorized resources. Lookups scoped to an
// owner return the same error for "absent" and "not yours".
var (
	ErrConnectionNotFound = errors.New("database connection not found")
	ErrTableNotFound      = errors.New("table not found")
	ErrQueryNotFound      = errors.New("saved query not found")
	ErrUserNotFound       = errors.New("user not found")

	// ErrDecryption marks corrupt or key-mismatched credential ciphertext.
	ErrDecryption = errors.New("credential decryption failed")
)

// IsNotFound reports whether err is any of the not-found sentinels.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrConnectionNotFound) ||
		errors.Is(err, ErrTableNotFound) ||
		errors.Is(err, ErrQueryNotFound) ||
		errors.Is(err, ErrUserNotFound)
}

// BadRequestError marks caller input that cannot be served: an unsupported
// engine kind, or a target database that cannot be reached when a live handle
// is a precondition.
type BadRequestError struct {
	Message string
}

func (e *BadRequestError) Error() string { return e.Message }

// BadRequestf builds a BadRequestError with a formatted message.
func BadRequestf(format string, args ...any) *BadRequestError {
	return &BadRequestError{Message: fmt.Sprintf(format, args...)}
}

// ForbiddenError is returned by the query safety gate when a statement begins
// with a blocked keyword.
type ForbiddenError struct {
	Keyword string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("%s operations are not allowed for security reasons", e.Keyword)
}

// ConnectionError wraps an engine-level connect, probe, or introspection
// failure. The message never contains credentials.
type ConnectionError struct {
	Op    string // "connect", "probe", "introspect"
	Cause error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("database %s failed: %v", e.Op, e.Cause)
}

func (e *ConnectionError) Unwrap() error { return e.Cause }
