// Package ferr holds the shared error-kind vocabulary used across flowterm.
package ferr

import "errors"

var (
	// ErrInvalidParameter means the caller passed malformed input.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrInvalidData means malformed wire data was encountered.
	ErrInvalidData = errors.New("invalid data")

	// ErrInternal means an internal resource failure occurred.
	ErrInternal = errors.New("internal error")

	// ErrWrongState means the operation is not permitted in the current state.
	ErrWrongState = errors.New("wrong state")

	// ErrEmptyWrite means a write accepted zero bytes.
	ErrEmptyWrite = errors.New("empty write")

	// ErrResponseSent is a cooperative control code: a response was already sent.
	ErrResponseSent = errors.New("response sent")

	// ErrResponsePending is a cooperative control code: a response is still pending.
	ErrResponsePending = errors.New("response pending")
)
