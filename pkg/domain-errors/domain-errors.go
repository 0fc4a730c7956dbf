// Package domainerrors carries stable failure codes through error chains so
// that callers can branch on what went wrong without parsing messages.
package domainerrors

import (
	"errors"
	"fmt"
)

type Code string

// General codes.
const (
	CodeNotFound     Code = "not_found"
	CodeInvalidInput Code = "invalid_input"
	CodeValidation   Code = "validation_failed"
	CodeInternal     Code = "internal_error"
	CodeTimeout      Code = "timeout"
)

// Verification codes. Each one is also the reason reported on a verdict.
const (
	CodeInvalidRecord       Code = "invalid_record"
	CodeInvalidKey          Code = "invalid_key"
	CodeSignatureMismatch   Code = "signature_mismatch"
	CodeUnknownIssuer       Code = "unknown_issuer"
	CodeRevoked             Code = "revoked"
	CodeExpired             Code = "expired"
	CodeRegistryUnavailable Code = "registry_unavailable"
	CodeMalformedPayload    Code = "malformed_payload"
)

var verificationCodes = map[Code]bool{
	CodeInvalidRecord:       true,
	CodeInvalidKey:          true,
	CodeSignatureMismatch:   true,
	CodeUnknownIssuer:       true,
	CodeRevoked:             true,
	CodeExpired:             true,
	CodeRegistryUnavailable: true,
	CodeMalformedPayload:    true,
}

// Verification reports whether c can be surfaced as a verdict reason.
func (c Code) Verification() bool {
	return verificationCodes[c]
}

// Retryable reports whether the failure is transient. Only registry outages are.
func (c Code) Retryable() bool {
	return c == CodeRegistryUnavailable
}

// Error is a failure tagged with a Code. Two Errors match under errors.Is
// when their codes are equal.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func New(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches msg to err. A code already present in err's chain wins over
// code, so a failure keeps the classification it was first given.
func Wrap(err error, code Code, msg string) error {
	if existing, ok := CodeOf(err); ok {
		code = existing
	}
	return &Error{Code: code, Message: msg, Err: err}
}

func HasCode(err error, code Code) bool {
	c, ok := CodeOf(err)
	return ok && c == code
}

// CodeOf returns the code of the outermost Error in err's chain.
func CodeOf(err error) (Code, bool) {
	var e *Error
	if !errors.As(err, &e) {
		return "", false
	}
	return e.Code, true
}
