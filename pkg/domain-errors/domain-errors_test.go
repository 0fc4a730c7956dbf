package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/suite"
)

type DomainErrorsSuite struct {
	suite.Suite
}

func TestDomainErrorsSuite(t *testing.T) {
	suite.Run(t, new(DomainErrorsSuite))
}

func (s *DomainErrorsSuite) TestMessageFallsBackToCode() {
	s.Equal("issuer has no registered key", New(CodeUnknownIssuer, "issuer has no registered key").Error())
	s.Equal("revoked", (&Error{Code: CodeRevoked}).Error())
	s.Equal("rsa key is 1024 bits", Newf(CodeInvalidKey, "rsa key is %d bits", 1024).Error())
}

func (s *DomainErrorsSuite) TestMatchesByCodeThroughWrapping() {
	inner := New(CodeInvalidKey, "rsa key too small")
	wrapped := fmt.Errorf("load issuer key: %w", inner)

	s.ErrorIs(wrapped, &Error{Code: CodeInvalidKey})
	s.NotErrorIs(wrapped, &Error{Code: CodeInvalidRecord})
	s.False((&Error{Code: CodeNotFound}).Is(errors.New("not_found")))
}

func (s *DomainErrorsSuite) TestWrapKeepsFirstCode() {
	s.Run("domain cause", func() {
		wrapped := Wrap(New(CodeInvalidRecord, "duplicate key"), CodeInternal, "canonicalize record")

		code, ok := CodeOf(wrapped)
		s.True(ok)
		s.Equal(CodeInvalidRecord, code)
		s.Equal("canonicalize record", wrapped.Error())
	})

	s.Run("plain cause", func() {
		cause := errors.New("i/o timeout")
		wrapped := Wrap(cause, CodeRegistryUnavailable, "resolve public key")

		s.True(HasCode(wrapped, CodeRegistryUnavailable))
		s.ErrorIs(wrapped, cause)
	})
}

func (s *DomainErrorsSuite) TestUncodedErrors() {
	s.False(HasCode(errors.New("plain"), CodeNotFound))
	s.False(HasCode(nil, CodeNotFound))
	_, ok := CodeOf(fmt.Errorf("context: %w", errors.New("plain")))
	s.False(ok)
}

func (s *DomainErrorsSuite) TestClassification() {
	for code := range verificationCodes {
		s.True(code.Verification(), code)
		s.Equal(code == CodeRegistryUnavailable, code.Retryable(), code)
	}
	for _, code := range []Code{CodeNotFound, CodeInvalidInput, CodeValidation, CodeInternal, CodeTimeout} {
		s.False(code.Verification(), code)
		s.False(code.Retryable(), code)
	}
}
