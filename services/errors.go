package services

import (
	"errors"
	"fmt"

	"fieldservice-server/store"
)

// Error kinds surfaced by the lifecycle services. Match with errors.Is.
var (
	ErrNotFound          = errors.New("not found")
	ErrForbidden         = errors.New("forbidden")
	ErrConflict          = errors.New("conflict")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrGateway           = errors.New("payment gateway error")
	ErrPartialFailure    = errors.New("partial failure")
	ErrInvalidInput      = errors.New("invalid input")
)

// OpError carries the failing operation and a human readable detail next to
// the error kind and the underlying cause.
type OpError struct {
	Op     string
	Kind   error
	Detail string
	Err    error
}

func (e *OpError) Error() string {
	msg := e.Op + ": " + e.Kind.Error()
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *OpError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func opErr(op string, kind error, format string, args ...any) error {
	return &OpError{Op: op, Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

func wrapErr(op string, kind error, err error) error {
	return &OpError{Op: op, Kind: kind, Err: err}
}

// storeErr translates store level failures into service kinds. Errors that
// already carry a service kind pass through untouched.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var oe *OpError
	if errors.As(err, &oe) {
		return err
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		return wrapErr(op, ErrNotFound, err)
	case errors.Is(err, store.ErrConflict), errors.Is(err, store.ErrDuplicate):
		return wrapErr(op, ErrConflict, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
