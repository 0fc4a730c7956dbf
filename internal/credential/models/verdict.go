package models

import (
	"time"

	dErrors "sumbandila/pkg/domain-errors"
)

// Reason explains a verification outcome.
type Reason string

const (
	ReasonValid               Reason = "valid"
	ReasonInvalidRecord       Reason = Reason(dErrors.CodeInvalidRecord)
	ReasonInvalidKey          Reason = Reason(dErrors.CodeInvalidKey)
	ReasonSignatureMismatch   Reason = Reason(dErrors.CodeSignatureMismatch)
	ReasonUnknownIssuer       Reason = Reason(dErrors.CodeUnknownIssuer)
	ReasonRevoked             Reason = Reason(dErrors.CodeRevoked)
	ReasonExpired             Reason = Reason(dErrors.CodeExpired)
	ReasonRegistryUnavailable Reason = Reason(dErrors.CodeRegistryUnavailable)
	ReasonMalformedPayload    Reason = Reason(dErrors.CodeMalformedPayload)
)

// Retryable reports whether a caller may retry the verification with backoff.
func (r Reason) Retryable() bool {
	return dErrors.Code(r).Retryable()
}

func (r Reason) String() string { return string(r) }

// ReasonFromError maps a coded domain error to a verdict reason. Errors that
// carry no verification code map to fallback.
func ReasonFromError(err error, fallback Reason) Reason {
	if code, ok := dErrors.CodeOf(err); ok && code.Verification() {
		return Reason(code)
	}
	return fallback
}

// Verdict is the outcome of a single verification attempt. It is computed
// fresh on every request and must not be cached as a trust artifact, since
// revocation status can change between checks.
type Verdict struct {
	Valid  bool
	Reason Reason
	// Detail is a short, PII-free explanation suitable for logs.
	Detail string

	// Populated only when Valid.
	Record Record
	Issuer IssuerID
	KeyID  KeyID

	// Fingerprint is set whenever the claimed record could be fingerprinted.
	Fingerprint Fingerprint
	CheckedAt   time.Time
}

// Err converts an invalid verdict into a coded domain error; valid verdicts
// return nil.
func (v Verdict) Err() error {
	if v.Valid {
		return nil
	}
	msg := v.Detail
	if msg == "" {
		msg = string(v.Reason)
	}
	return dErrors.New(dErrors.Code(v.Reason), msg)
}
