package verifier

import (
	"context"
	"errors"

	"go.uber.org/mock/gomock"

	"sumbandila/internal/credential/fingerprint"
	"sumbandila/internal/credential/models"
	"sumbandila/internal/credential/payload"
	"sumbandila/internal/credential/signing"
	"sumbandila/pkg/platform/sentinel"
	"sumbandila/pkg/testutil"
)

func (s *VerifierSuite) encode(mode payload.Mode, record models.Record) (string, models.Fingerprint) {
	fp, _, err := fingerprint.Of(models.DefaultHashVersion, record)
	s.Require().NoError(err)
	sig, err := signing.Sign(fp, s.key)
	s.Require().NoError(err)
	p := payload.Payload{Mode: mode, Issuer: testutil.IssuerPTC, Fingerprint: fp, Signature: sig}
	if mode == payload.ModeFull {
		p.Record = record
	}
	encoded, err := payload.Encode(p)
	s.Require().NoError(err)
	return encoded, fp
}

func (s *VerifierSuite) TestVerifyFullPayload() {
	s.Run("embedded record", func() {
		encoded, _ := s.encode(payload.ModeFull, testutil.DiplomaRecord())
		s.expectKey()
		s.expectNotRevoked()

		verdict := s.verifier.VerifyPayload(context.Background(), encoded, nil)
		s.Require().True(verdict.Valid, verdict.Detail)
		s.Equal("John Doe", verdict.Record["name"])
	})

	s.Run("claimed record identical to the embedded one", func() {
		encoded, _ := s.encode(payload.ModeFull, testutil.DiplomaRecord())
		s.expectKey()
		s.expectNotRevoked()

		verdict := s.verifier.VerifyPayload(context.Background(), encoded, testutil.DiplomaRecord())
		s.True(verdict.Valid, verdict.Detail)
	})

	s.Run("claimed record that differs from the embedded one", func() {
		encoded, fp := s.encode(payload.ModeFull, testutil.DiplomaRecord())
		claimed := testutil.NewRecordBuilder().
			With("name", "Jane Doe").
			With("course", "Degree in Medicine").
			Build()

		verdict := s.verifier.VerifyPayload(context.Background(), encoded, claimed)
		s.False(verdict.Valid)
		s.Equal(models.ReasonSignatureMismatch, verdict.Reason)
		s.Nil(verdict.Record)
		s.NotEqual(fp.Hex, verdict.Fingerprint.Hex)
	})
}

func (s *VerifierSuite) TestVerifyCompactPayload() {
	s.Run("with the claimed record", func() {
		encoded, _ := s.encode(payload.ModeCompact, testutil.DiplomaRecord())
		s.expectKey()
		s.expectNotRevoked()

		verdict := s.verifier.VerifyPayload(context.Background(), encoded, testutil.DiplomaRecord())
		s.True(verdict.Valid, verdict.Detail)
	})

	s.Run("claimed record that differs from the signed one", func() {
		encoded, _ := s.encode(payload.ModeCompact, testutil.DiplomaRecord())
		claimed := testutil.NewRecordBuilder().With("name", "Jane Doe").Build()

		verdict := s.verifier.VerifyPayload(context.Background(), encoded, claimed)
		s.Equal(models.ReasonSignatureMismatch, verdict.Reason)
	})

	s.Run("record fetched by fingerprint", func() {
		encoded, fp := s.encode(payload.ModeCompact, testutil.DiplomaRecord())
		s.records.EXPECT().FindRecord(gomock.Any(), fp).Return(testutil.DiplomaRecord(), nil)
		s.expectKey()
		s.expectNotRevoked()

		verdict := s.verifier.VerifyPayload(context.Background(), encoded, nil)
		s.True(verdict.Valid, verdict.Detail)
	})

	s.Run("record source that returns different content", func() {
		encoded, fp := s.encode(payload.ModeCompact, testutil.DiplomaRecord())
		s.records.EXPECT().FindRecord(gomock.Any(), fp).
			Return(testutil.NewRecordBuilder().With("course", "Degree in IT").Build(), nil)

		verdict := s.verifier.VerifyPayload(context.Background(), encoded, nil)
		s.Equal(models.ReasonSignatureMismatch, verdict.Reason)
	})

	s.Run("unknown fingerprint", func() {
		encoded, _ := s.encode(payload.ModeCompact, testutil.DiplomaRecord())
		s.records.EXPECT().FindRecord(gomock.Any(), gomock.Any()).Return(nil, sentinel.ErrNotFound)

		verdict := s.verifier.VerifyPayload(context.Background(), encoded, nil)
		s.Equal(models.ReasonSignatureMismatch, verdict.Reason)
	})

	s.Run("record source failure", func() {
		encoded, _ := s.encode(payload.ModeCompact, testutil.DiplomaRecord())
		s.records.EXPECT().FindRecord(gomock.Any(), gomock.Any()).Return(nil, errors.New("timeout"))

		verdict := s.verifier.VerifyPayload(context.Background(), encoded, nil)
		s.Equal(models.ReasonRegistryUnavailable, verdict.Reason)
	})
}

func (s *VerifierSuite) TestVerifyCompactPayloadWithoutSource() {
	v, err := New(s.registry)
	s.Require().NoError(err)
	encoded, _ := s.encode(payload.ModeCompact, testutil.DiplomaRecord())

	verdict := v.VerifyPayload(context.Background(), encoded, nil)
	s.Equal(models.ReasonSignatureMismatch, verdict.Reason)
}

func (s *VerifierSuite) TestMalformedPayload() {
	for _, input := range []string{"", "not a payload", "zQ3sh", "z" + string(make([]byte, 10))} {
		verdict := s.verifier.VerifyPayload(context.Background(), input, nil)
		s.Equal(models.ReasonMalformedPayload, verdict.Reason, "input %q", input)
		s.False(verdict.Reason.Retryable())
	}
}
