package catalog

import (
	"errors"
	"fmt"

	"github.com/cmu-db/peloton-sub010/concurrency"
	"github.com/cmu-db/peloton-sub010/storage"
)

type ErrorKind int

const (
	NotFound ErrorKind = iota + 1
	AlreadyExists
	InvalidArgument
	Constraint
	Internal
)

func (ek ErrorKind) String() string {
	switch ek {
	case NotFound:
		return "not found"
	case AlreadyExists:
		return "already exists"
	case InvalidArgument:
		return "invalid argument"
	case Constraint:
		return "constraint violation"
	case Internal:
		return "internal error"
	}
	return fmt.Sprintf("error-kind-%d", int(ek))
}

// Error is returned by every catalog operation which fails; the caller is
// expected to abort the transaction.
type Error struct {
	Kind ErrorKind
	Msg  string
}

var (
	ErrNotFound        = &Error{Kind: NotFound}
	ErrAlreadyExists   = &Error{Kind: AlreadyExists}
	ErrInvalidArgument = &Error{Kind: InvalidArgument}
	ErrConstraint      = &Error{Kind: Constraint}
	ErrInternal        = &Error{Kind: Internal}
)

func (e *Error) Error() string {
	if e.Msg == "" {
		return "catalog: " + e.Kind.String()
	}
	return "catalog: " + e.Msg
}

// Is matches the sentinel of the same kind, so errors.Is(err, ErrNotFound)
// works for any not found error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Msg == "" || t.Msg == e.Msg)
}

func errorf(kind ErrorKind, format string, args ...interface{}) error {
	return &Error{
		Kind: kind,
		Msg:  fmt.Sprintf(format, args...),
	}
}

// catalogError converts an error from the layers below into a catalog error.
func catalogError(err error) error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		return err
	}

	kind := Internal
	switch {
	case errors.Is(err, storage.ErrDuplicateKey):
		kind = AlreadyExists
	case errors.Is(err, storage.ErrForeignKey), errors.Is(err, storage.ErrConstraint),
		errors.Is(err, concurrency.ErrConflict):
		kind = Constraint
	case errors.Is(err, concurrency.ErrNotFound):
		kind = NotFound
	}
	return &Error{
		Kind: kind,
		Msg:  err.Error(),
	}
}
