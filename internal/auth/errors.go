package auth

import (
	"errors"
	"fmt"
)

// ErrorKind is the machine-readable reason an authentication attempt was rejected.
type ErrorKind string

const (
	KindTokenDecode         ErrorKind = "token_decode_error"
	KindSignatureInvalid    ErrorKind = "token_signature_invalid"
	KindIdentityNotFound    ErrorKind = "identity_not_found"
	KindTokenMismatch       ErrorKind = "token_identity_mismatch"
	KindIdentityUnavailable ErrorKind = "identity_unavailable" // lookup timed out or storage failed
)

// ErrIdentityNotFound is returned by identity providers when no record matches.
var ErrIdentityNotFound = errors.New("identity not found")

// Error is a validation failure raised while authenticating a request.
// Every Error is reported to the client as 401 Unauthorized.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of an authentication error, or "" if err is not one.
func KindOf(err error) ErrorKind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}
