package utils

import (
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
)

var ErrorRecordNotFound = errors.New("record not found")

// ErrorKind is the stable classification callers get back from every failed
// operation. Only KindConflict is worth retrying (after re-reading state).
type ErrorKind string

const (
	KindValidation        ErrorKind = "ValidationError"
	KindForbidden         ErrorKind = "ForbiddenError"
	KindNotFound          ErrorKind = "NotFoundError"
	KindConflict          ErrorKind = "ConflictError"
	KindInsufficientStock ErrorKind = "InsufficientStockError"
	KindInternal          ErrorKind = "InternalError"
)

type AppError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *AppError) Unwrap() error { return e.Err }

// Retryable reports whether the caller may retry the same call after
// re-reading current state.
func (e *AppError) Retryable() bool { return e.Kind == KindConflict }

func NewValidationError(format string, args ...interface{}) *AppError {
	return &AppError{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func NewForbiddenError(format string, args ...interface{}) *AppError {
	return &AppError{Kind: KindForbidden, Message: fmt.Sprintf(format, args...)}
}

func NewNotFoundError(format string, args ...interface{}) *AppError {
	return &AppError{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func NewConflictError(format string, args ...interface{}) *AppError {
	return &AppError{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

func NewInsufficientStockError(format string, args ...interface{}) *AppError {
	return &AppError{Kind: KindInsufficientStock, Message: fmt.Sprintf(format, args...)}
}

// isLockContention matches InnoDB aborting a deadlock victim (1213) or
// timing out a lock wait (1205). Both mean the transaction lost a race.
func isLockContention(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && (mysqlErr.Number == 1213 || mysqlErr.Number == 1205)
}

// NewInternalError wraps an unexpected store failure. The original error is
// kept for logs; the message shown to callers stays generic. Lock contention
// aborts are the exception: they surface as retryable conflicts, not
// internal errors.
func NewInternalError(err error) *AppError {
	if isLockContention(err) {
		return &AppError{Kind: KindConflict, Message: "transaction aborted by a concurrent writer, retry", Err: err}
	}
	return &AppError{Kind: KindInternal, Message: "internal error", Err: err}
}

// KindOf extracts the error kind, defaulting to KindInternal for errors that
// escaped classification.
func KindOf(err error) ErrorKind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	if errors.Is(err, ErrorRecordNotFound) {
		return KindNotFound
	}
	return KindInternal
}

func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// AsAppError normalizes any error into an *AppError so the transport layer
// always has a stable kind + message to return.
func AsAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	if errors.Is(err, ErrorRecordNotFound) {
		return &AppError{Kind: KindNotFound, Message: err.Error()}
	}
	return NewInternalError(err)
}
