// Package errs defines the error taxonomy of the sync layer. Write-path
// errors are returned to the caller and kept as state; read-path errors are
// only kept as state.
package errs

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindConnection Kind = "connection" // subscription failed or dropped
	KindWrite      Kind = "write"      // remote mutation rejected
	KindValidation Kind = "validation" // rejected before any write
	KindPermission Kind = "permission" // capability denied (role, location)
)

type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s error", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s error: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func Connection(op string, err error) error { return &Error{Kind: KindConnection, Op: op, Err: err} }
func Write(op string, err error) error      { return &Error{Kind: KindWrite, Op: op, Err: err} }
func Permission(op string, err error) error { return &Error{Kind: KindPermission, Op: op, Err: err} }

func Validation(op, format string, args ...any) error {
	return &Error{Kind: KindValidation, Op: op, Err: fmt.Errorf(format, args...)}
}

// Is reports whether err carries the given kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
