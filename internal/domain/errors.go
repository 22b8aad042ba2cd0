package domain

import "errors"

// Error kinds shared by services. Handlers map them to HTTP statuses.
var (
	ErrNotFound     = errors.New("not found")
	ErrForbidden    = errors.New("forbidden")
	ErrNotAllowed   = errors.New("not allowed")
	ErrInvalidInput = errors.New("invalid input")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
)

// Error is a service error with a user-facing message and a kind.
type Error struct {
	Kind error
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func (e *Error) Unwrap() error { return e.Kind }

// NewError returns an error that reports msg and matches kind with errors.Is.
func NewError(kind error, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}
