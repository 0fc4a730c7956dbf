package issuance

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"sumbandila/internal/audit"
	"sumbandila/internal/credential/fingerprint"
	"sumbandila/internal/credential/metrics"
	"sumbandila/internal/credential/models"
	"sumbandila/internal/credential/payload"
	"sumbandila/internal/credential/signing"
	"sumbandila/internal/credential/verifier"
	"sumbandila/internal/registry/store"
	dErrors "sumbandila/pkg/domain-errors"
	"sumbandila/pkg/testutil"
)

type recordingSink struct {
	mu    sync.Mutex
	creds []*IssuedCredential
	err   error
}

func (r *recordingSink) Publish(_ context.Context, cred *IssuedCredential) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.creds = append(r.creds, cred)
	return nil
}

type ServiceSuite struct {
	suite.Suite
	ctx      context.Context
	registry *store.InMemory
	keys     *signing.StaticKeyProvider
	sink     *recordingSink
	auditLog *audit.InMemoryStore
	metrics  *metrics.Metrics
	service  *Service
	verifier *verifier.Verifier
	now      time.Time
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.registry = store.NewInMemory()
	s.keys = signing.NewStaticKeyProvider()
	s.sink = &recordingSink{}
	s.auditLog = audit.NewInMemoryStore()
	s.metrics = metrics.NewWithRegisterer(prometheus.NewRegistry())
	s.now = time.Date(2023, 11, 15, 9, 0, 0, 0, time.UTC)

	key := testutil.SigningKey(s.T(), models.AlgorithmRS256, "ptc-2023")
	s.keys.Set(testutil.IssuerPTC, key)
	s.Require().NoError(s.registry.RegisterKey(s.ctx, testutil.IssuerPTC, key.Public()))

	var err error
	s.service, err = New(s.keys,
		WithSink(MultiSink{s.sink, NewRecordSink(s.registry)}),
		WithClock(func() time.Time { return s.now }),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithMetrics(s.metrics),
		WithAuditor(audit.NewPublisher(s.auditLog)),
	)
	s.Require().NoError(err)

	s.verifier, err = verifier.New(s.registry, verifier.WithRecordSource(s.registry))
	s.Require().NoError(err)
}

func (s *ServiceSuite) TestNew() {
	_, err := New(nil)
	s.Error(err)
}

func (s *ServiceSuite) TestIssueAndVerify() {
	cred, err := s.service.Issue(s.ctx, IssueRequest{Issuer: testutil.IssuerPTC, Record: testutil.DiplomaRecord()})
	s.Require().NoError(err)

	s.Equal(models.AlgorithmRS256, cred.Signature.Algorithm)
	s.Equal(models.KeyID("ptc-2023"), cred.Signature.KeyID)
	s.Equal(payload.ModeCompact, cred.Mode)
	s.Equal(s.now, cred.IssuedAt)
	s.Len(cred.Fingerprint.Hex, 64)

	s.Run("direct verification", func() {
		verdict := s.verifier.Verify(s.ctx, verifier.Request{
			Record:    testutil.DiplomaRecord(),
			Signature: cred.Signature,
			Issuer:    testutil.IssuerPTC,
		})
		s.True(verdict.Valid, verdict.Detail)
	})

	s.Run("compact payload resolves the record through the sink", func() {
		verdict := s.verifier.VerifyPayload(s.ctx, cred.Payload, nil)
		s.True(verdict.Valid, verdict.Detail)
		s.Equal("John Doe", verdict.Record["name"])
	})

	s.Run("observability", func() {
		s.Len(s.sink.creds, 1)
		events, err := s.auditLog.ListByFingerprint(s.ctx, cred.Fingerprint.Hex)
		s.Require().NoError(err)
		s.Require().Len(events, 1)
		s.Equal(string(audit.EventCredentialIssued), events[0].Action)
		s.Equal(1.0, promtest.ToFloat64(s.metrics.IssuancesTotal.WithLabelValues("RS256", "compact")))
	})
}

func (s *ServiceSuite) TestFullPayload() {
	cred, err := s.service.Issue(s.ctx, IssueRequest{
		Issuer: testutil.IssuerPTC,
		Fields: []models.Field{
			{Key: "name", Value: "John Doe"},
			{Key: "course", Value: "Diploma in IT"},
			{Key: "institution", Value: "Pretoria Technical College"},
			{Key: "date", Value: "2023-11-15"},
		},
		Mode: "full",
	})
	s.Require().NoError(err)
	s.Equal(payload.ModeFull, cred.Mode)

	decoded, err := payload.Decode(cred.Payload)
	s.Require().NoError(err)
	s.Equal(testutil.DiplomaRecord(), decoded.Record)

	verifierWithoutRecords, err := verifier.New(s.registry)
	s.Require().NoError(err)
	s.True(verifierWithoutRecords.VerifyPayload(s.ctx, cred.Payload, nil).Valid)
}

func (s *ServiceSuite) TestDeterministicFingerprint() {
	a, err := s.service.Issue(s.ctx, IssueRequest{Issuer: testutil.IssuerPTC, Record: testutil.DiplomaRecord()})
	s.Require().NoError(err)
	b, err := s.service.Issue(s.ctx, IssueRequest{Issuer: testutil.IssuerPTC, Record: testutil.DiplomaRecord()})
	s.Require().NoError(err)

	s.True(fingerprint.Equal(a.Fingerprint, b.Fingerprint))
	s.Equal(a.Signature, b.Signature, "RS256 signatures are deterministic")
}

func (s *ServiceSuite) TestHashVersion() {
	svc, err := New(s.keys, WithHashVersion(models.HashV2SHA3), WithPayloadMode(payload.ModeFull))
	s.Require().NoError(err)

	cred, err := svc.Issue(s.ctx, IssueRequest{Issuer: testutil.IssuerPTC, Record: testutil.DiplomaRecord()})
	s.Require().NoError(err)
	s.Equal(models.HashV2SHA3, cred.Fingerprint.Version)
	s.Equal(payload.ModeFull, cred.Mode)
	s.True(s.verifier.VerifyPayload(s.ctx, cred.Payload, nil).Valid)
}

func (s *ServiceSuite) TestRejections() {
	cases := []struct {
		name string
		req  IssueRequest
		code dErrors.Code
	}{
		{"missing issuer", IssueRequest{Record: testutil.DiplomaRecord()}, dErrors.CodeInvalidInput},
		{"unknown issuer", IssueRequest{Issuer: testutil.IssuerForger, Record: testutil.DiplomaRecord()}, dErrors.CodeUnknownIssuer},
		{"no record", IssueRequest{Issuer: testutil.IssuerPTC}, dErrors.CodeInvalidRecord},
		{"record and fields", IssueRequest{Issuer: testutil.IssuerPTC, Record: testutil.DiplomaRecord(), Fields: []models.Field{}}, dErrors.CodeInvalidInput},
		{"duplicate field", IssueRequest{Issuer: testutil.IssuerPTC, Fields: []models.Field{{Key: "name", Value: "a"}, {Key: "name", Value: "b"}}}, dErrors.CodeInvalidRecord},
		{"unknown mode", IssueRequest{Issuer: testutil.IssuerPTC, Record: testutil.DiplomaRecord(), Mode: "qr"}, dErrors.CodeInvalidInput},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			_, err := s.service.Issue(s.ctx, tc.req)
			s.True(dErrors.HasCode(err, tc.code), "got %v", err)
		})
	}
	s.Empty(s.sink.creds)
	s.Equal(2.0, promtest.ToFloat64(s.metrics.IssuanceFailuresTotal.WithLabelValues("invalid_record")))
}

func (s *ServiceSuite) TestSinkFailure() {
	s.sink.err = errors.New("broker down")

	_, err := s.service.Issue(s.ctx, IssueRequest{Issuer: testutil.IssuerPTC, Record: testutil.DiplomaRecord()})
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))

	fp, _, fpErr := fingerprint.Of(models.DefaultHashVersion, testutil.DiplomaRecord())
	s.Require().NoError(fpErr)
	events, err := s.auditLog.ListByFingerprint(s.ctx, fp.Hex)
	s.Require().NoError(err)
	s.Empty(events, "failed issuance is not audited as issued")
}

func (s *ServiceSuite) TestRecordIsCopied() {
	record := testutil.DiplomaRecord()
	cred, err := s.service.Issue(s.ctx, IssueRequest{Issuer: testutil.IssuerPTC, Record: record})
	s.Require().NoError(err)

	record["name"] = "Mallory"
	s.Equal("John Doe", cred.Record["name"])
}
