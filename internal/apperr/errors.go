// Package apperr is the error taxonomy shared by the service and handler layers.
package apperr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindForbidden
	KindBadRequest
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindBadRequest:
		return "bad_request"
	case KindConflict:
		return "conflict"
	default:
		return "internal"
	}
}

// Error carries a Kind and a message that is safe to show to the caller.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches two *Error values of the same kind and message, so package level
// sentinels work with errors.Is even after wrapping.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Msg == e.Msg
}

func newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) *Error   { return newf(KindNotFound, format, args...) }
func Forbidden(format string, args ...any) *Error  { return newf(KindForbidden, format, args...) }
func BadRequest(format string, args ...any) *Error { return newf(KindBadRequest, format, args...) }
func Conflict(format string, args ...any) *Error   { return newf(KindConflict, format, args...) }

// Internal wraps an unexpected failure.
func Internal(err error, msg string) *Error {
	return &Error{Kind: KindInternal, Msg: msg, Err: err}
}

// KindOf reports the Kind of err, KindInternal for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Business rule violations.
var (
	ErrInsufficientFunds    = BadRequest("insufficient funds")
	ErrOverpayment          = BadRequest("payment exceeds the amount owed")
	ErrExceedsRemaining     = BadRequest("payment exceeds the remaining debt")
	ErrDistributionMismatch = BadRequest("distribution amounts must sum to the payment amount")
	ErrCurrencyMismatch     = BadRequest("balance currency does not match")
	ErrInsufficientQuantity = BadRequest("insufficient quantity held")
	ErrConcurrentUpdate     = Conflict("row was modified concurrently")
	ErrManagedByDebt        = BadRequest("transaction belongs to a debt; change the debt instead")
	ErrManagedBySplit       = BadRequest("transaction records a split payment; delete the payment and record a new one")
	ErrInvalidAmount        = BadRequest("amount must be positive")
	ErrWorkspaceMismatch    = Forbidden("entity belongs to another workspace")
)
