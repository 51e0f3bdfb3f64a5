package ttrss

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
)

// Error kinds. Every error returned by the client matches exactly one of
// these through errors.Is, and the server-side fatal kinds also match
// ErrServerRejected.
var (
	ErrNotAuthenticated  = errors.New("not authenticated")
	ErrAPIDisabled       = errors.New("API access disabled for this user")
	ErrUnknownMethod     = errors.New("unknown API method")
	ErrIncorrectUsage    = errors.New("incorrect API usage")
	ErrServerRejected    = errors.New("server rejected request")
	ErrTransientIO       = errors.New("transient I/O error")
	ErrMalformedResponse = errors.New("malformed response")
	ErrLowMemory         = errors.New("decode budget exhausted")
)

// Server error codes carried in the response envelope.
const (
	codeNotLoggedIn    = "NOT_LOGGED_IN"
	codeLoginError     = "LOGIN_ERROR"
	codeAPIDisabled    = "API_DISABLED"
	codeUnknownMethod  = "UNKNOWN_METHOD"
	codeIncorrectUsage = "INCORRECT_USAGE"
)

// Error describes a failed remote operation.
type Error struct {
	Op      string // remote op name
	Code    string // server error code, empty for transport errors
	Message string
	Kind    error // one of the Err* kinds
	Err     error // underlying cause, may be nil
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Code != "" {
		msg += " (" + e.Code + ")"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return e.Op + ": " + msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func (e *Error) Is(target error) bool {
	if target != ErrServerRejected {
		return false
	}
	switch e.Kind {
	case ErrAPIDisabled, ErrUnknownMethod, ErrIncorrectUsage, ErrServerRejected:
		return true
	}
	return false
}

// IsFatal reports whether err must not be retried automatically.
func IsFatal(err error) bool {
	return errors.Is(err, ErrServerRejected) || errors.Is(err, ErrNotAuthenticated)
}

func serverError(op, code, message string) *Error {
	kind := ErrServerRejected
	switch code {
	case codeNotLoggedIn, codeLoginError:
		kind = ErrNotAuthenticated
	case codeAPIDisabled:
		kind = ErrAPIDisabled
	case codeUnknownMethod:
		kind = ErrUnknownMethod
	case codeIncorrectUsage:
		kind = ErrIncorrectUsage
	}
	if message == code {
		message = ""
	}
	return &Error{Op: op, Code: code, Message: message, Kind: kind}
}

// transportError classifies socket, timeout and HTTP-level failures. The
// caller may retry them later.
func transportError(op string, err error) *Error {
	return &Error{Op: op, Kind: ErrTransientIO, Err: err}
}

func malformed(op string, format string, args ...any) *Error {
	return &Error{Op: op, Kind: ErrMalformedResponse, Message: fmt.Sprintf(format, args...)}
}

// readError classifies a failure while reading a response body. A body cut
// off by the connection or a read timeout is transient. Anything else the
// decoder reports means the server sent broken JSON.
func readError(op string, err error) *Error {
	var netErr net.Error
	switch {
	case errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled),
		errors.As(err, &netErr):
		return transportError(op, err)
	}
	return malformed(op, "%v", err)
}
