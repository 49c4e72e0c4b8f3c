package utils

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
)

func TestKindOfClassifiesAppErrors(t *testing.T) {
	cases := []struct {
		err  error
		want ErrorKind
	}{
		{NewValidationError("bad input"), KindValidation},
		{NewForbiddenError("nope"), KindForbidden},
		{NewNotFoundError("missing"), KindNotFound},
		{NewConflictError("status moved"), KindConflict},
		{NewInsufficientStockError("not enough"), KindInsufficientStock},
		{NewInternalError(errors.New("boom")), KindInternal},
		{errors.New("unclassified"), KindInternal},
		{ErrorRecordNotFound, KindNotFound},
	}
	for _, c := range cases {
		if got := KindOf(c.err); got != c.want {
			t.Errorf("KindOf(%v) = %s, want %s", c.err, got, c.want)
		}
	}
}

func TestKindOfUnwrapsWrappedAppError(t *testing.T) {
	wrapped := fmt.Errorf("allocate batch 7: %w", NewConflictError("status moved"))
	if got := KindOf(wrapped); got != KindConflict {
		t.Fatalf("KindOf(wrapped) = %s, want %s", got, KindConflict)
	}
	if !IsKind(wrapped, KindConflict) {
		t.Fatal("IsKind(wrapped, KindConflict) = false")
	}
}

func TestOnlyConflictIsRetryable(t *testing.T) {
	all := []*AppError{
		NewValidationError("x"),
		NewForbiddenError("x"),
		NewNotFoundError("x"),
		NewConflictError("x"),
		NewInsufficientStockError("x"),
		NewInternalError(errors.New("x")),
	}
	for _, e := range all {
		want := e.Kind == KindConflict
		if e.Retryable() != want {
			t.Errorf("%s Retryable() = %v, want %v", e.Kind, e.Retryable(), want)
		}
	}
}

func TestNewInternalErrorMapsLockContentionToConflict(t *testing.T) {
	deadlock := &mysql.MySQLError{Number: 1213, Message: "Deadlock found when trying to get lock; try restarting transaction"}
	lockWait := &mysql.MySQLError{Number: 1205, Message: "Lock wait timeout exceeded; try restarting transaction"}
	for _, cause := range []error{deadlock, lockWait, fmt.Errorf("update batch: %w", deadlock)} {
		e := NewInternalError(cause)
		if e.Kind != KindConflict {
			t.Errorf("NewInternalError(%v).Kind = %s, want %s", cause, e.Kind, KindConflict)
		}
		if !e.Retryable() {
			t.Errorf("NewInternalError(%v) must be retryable", cause)
		}
	}

	// Other driver errors stay internal.
	duplicate := &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}
	if e := NewInternalError(duplicate); e.Kind != KindInternal {
		t.Errorf("NewInternalError(duplicate).Kind = %s, want %s", e.Kind, KindInternal)
	}
}

func TestNewInternalErrorKeepsCauseButHidesIt(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	e := NewInternalError(cause)
	if e.Error() == cause.Error() {
		t.Fatal("internal error message must not leak the cause")
	}
	if !errors.Is(e, cause) {
		t.Fatal("cause must stay reachable via errors.Is for logging")
	}
}

func TestAsAppErrorNormalizes(t *testing.T) {
	if got := AsAppError(NewNotFoundError("missing")); got.Kind != KindNotFound {
		t.Fatalf("got kind %s", got.Kind)
	}
	if got := AsAppError(errors.New("raw")); got.Kind != KindInternal {
		t.Fatalf("got kind %s", got.Kind)
	}
	if got := AsAppError(ErrorRecordNotFound); got.Kind != KindNotFound {
		t.Fatalf("got kind %s", got.Kind)
	}
}
