// Package apperr is the error taxonomy shared by the pipeline, the retrieval
// path and the HTTP layer. Kinds decide two things: whether a failure is worth
// retrying and which status a caller sees.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindUnknown           Kind = "UNKNOWN"
	KindNonExtractable    Kind = "NON_EXTRACTABLE"
	KindTransient         Kind = "TRANSIENT"
	KindTimeout           Kind = "TIMEOUT"
	KindConfig            Kind = "CONFIG"
	KindNotFound          Kind = "NOT_FOUND"
	KindConflict          Kind = "CONFLICT"
	KindNotReady          Kind = "NOT_READY"
	KindInvalid           Kind = "INVALID"
	KindUnsupportedFormat Kind = "UNSUPPORTED_FORMAT"
)

var (
	ErrJobTerminal   = errors.New("job is already terminal")
	ErrEmptyDocument = errors.New("normalized document is empty")
)

type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil && e.Msg != "":
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Op != "" && e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	case e.Err != nil && e.Msg != "":
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	case e.Err != nil:
		return e.Err.Error()
	default:
		return e.Msg
	}
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func NonExtractable(op, msg string) *Error { return New(KindNonExtractable, op, msg) }
func Config(op, msg string) *Error         { return New(KindConfig, op, msg) }
func NotFound(op, msg string) *Error       { return New(KindNotFound, op, msg) }
func Conflict(op, msg string) *Error       { return New(KindConflict, op, msg) }
func NotReady(op, msg string) *Error       { return New(KindNotReady, op, msg) }
func Invalid(op, msg string) *Error        { return New(KindInvalid, op, msg) }

func Transient(op string, err error) *Error { return Wrap(KindTransient, op, err) }

func UnsupportedFormat(op, msg string) *Error { return New(KindUnsupportedFormat, op, msg) }

// KindOf reports the kind of the first *Error in err's chain. Context
// deadline errors without an explicit kind count as timeouts.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindUnknown
}

func Is(err error, kind Kind) bool { return KindOf(err) == kind }

// Retryable is true for failures that may succeed on a later attempt.
// Unknown errors are retried; every explicit non-transient kind is not.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrJobTerminal) || errors.Is(err, ErrEmptyDocument) || errors.Is(err, context.Canceled) {
		return false
	}
	switch KindOf(err) {
	case KindTransient, KindTimeout, KindUnknown:
		return true
	default:
		return false
	}
}

// Timeout wraps a context deadline failure from an external call.
func Timeout(op string, err error) *Error {
	return &Error{Kind: KindTimeout, Op: op, Msg: "deadline exceeded, try again", Err: err}
}

func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict, KindNotReady:
		return http.StatusConflict
	case KindInvalid:
		return http.StatusBadRequest
	case KindNonExtractable:
		return http.StatusUnprocessableEntity
	case KindTransient:
		return http.StatusServiceUnavailable
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindUnsupportedFormat:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
