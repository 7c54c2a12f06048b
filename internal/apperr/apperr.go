// Package apperr classifies failures so transports can decide between
// "reject permanently" and "ask the caller to retry".
package apperr

import (
	"fmt"
	"net/http"

	"github.com/go-faster/errors"
)

type Kind string

const (
	KindValidation  Kind = "VALIDATION"
	KindAuth        Kind = "AUTH"
	KindForbidden   Kind = "FORBIDDEN"
	KindNotFound    Kind = "NOT_FOUND"
	KindSignature   Kind = "SIGNATURE"
	KindGateway     Kind = "GATEWAY"
	KindTimeout     Kind = "TIMEOUT"
	KindConflict    Kind = "CONFLICT"
	KindPersistence Kind = "PERSISTENCE"
)

// Error carries a Kind next to the wrapped cause. Msg is safe to show to clients.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Op != "":
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(kind Kind, op, msg string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg, Err: cause}
}

func Validation(op, msg string) error { return newErr(KindValidation, op, msg, nil) }

func ValidationWrap(op, msg string, cause error) error {
	return newErr(KindValidation, op, msg, cause)
}

func Auth(op, msg string) error      { return newErr(KindAuth, op, msg, nil) }
func Forbidden(op, msg string) error { return newErr(KindForbidden, op, msg, nil) }
func NotFound(op, msg string) error  { return newErr(KindNotFound, op, msg, nil) }

func Signature(op string, cause error) error {
	return newErr(KindSignature, op, "invalid signature", cause)
}

func Gateway(op string, cause error) error {
	return newErr(KindGateway, op, "payment gateway unavailable", cause)
}

func Timeout(op string, cause error) error {
	return newErr(KindTimeout, op, "payment gateway timed out", cause)
}

func Conflict(op, msg string) error { return newErr(KindConflict, op, msg, nil) }

func Persistence(op string, cause error) error {
	return newErr(KindPersistence, op, "storage unavailable", cause)
}

// KindOf returns the Kind of the outermost classified error in the chain.
// Unclassified errors are reported as persistence failures: unknown means retry.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindPersistence
}

func Is(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// Retryable reports whether the caller may repeat the same request.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindGateway, KindTimeout, KindPersistence:
		return true
	}
	return false
}

// Message returns the client-facing text for err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Msg
	}
	return "internal error"
}

func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation, KindSignature:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindGateway:
		return http.StatusBadGateway
	case KindTimeout:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}
