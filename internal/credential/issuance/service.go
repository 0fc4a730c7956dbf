// Package issuance turns an institution's record into a signed, encoded
// credential: canonicalize, fingerprint, sign with the issuer's key, encode
// the payload and hand the result to a sink for persistence.
package issuance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"sumbandila/internal/audit"
	"sumbandila/internal/credential/canonical"
	"sumbandila/internal/credential/fingerprint"
	"sumbandila/internal/credential/metrics"
	"sumbandila/internal/credential/models"
	"sumbandila/internal/credential/payload"
	"sumbandila/internal/credential/signing"
	"sumbandila/internal/platform/tracer"
	dErrors "sumbandila/pkg/domain-errors"
	"sumbandila/pkg/platform/sentinel"
)

// Sink persists issued credentials outside this process, typically by
// publishing them to the backend that owns the registry.
type Sink interface {
	Publish(ctx context.Context, cred *IssuedCredential) error
}

// AuditPublisher receives one event per issued credential.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// IssueRequest carries the record to sign. Exactly one of Record and Fields
// is set; Fields keeps source order so duplicate keys are caught.
type IssueRequest struct {
	Issuer models.IssuerID
	Record models.Record
	Fields []models.Field
	// Mode is "compact", "full" or empty for the service default.
	Mode string
}

// IssuedCredential is everything a holder needs to present the credential.
type IssuedCredential struct {
	Issuer      models.IssuerID
	Record      models.Record
	Fingerprint models.Fingerprint
	Signature   models.Signature
	Mode        payload.Mode
	Payload     string
	IssuedAt    time.Time
}

type Option func(*Service)

// Service issues credentials. It is safe for concurrent use.
type Service struct {
	keys        signing.KeyProvider
	hashVersion models.HashVersion
	mode        payload.Mode
	sink        Sink
	now         func() time.Time
	logger      *slog.Logger
	metrics     *metrics.Metrics
	tracer      tracer.Tracer
	auditor     AuditPublisher
}

func New(keys signing.KeyProvider, opts ...Option) (*Service, error) {
	if keys == nil {
		return nil, errors.New("key provider is required")
	}
	s := &Service{
		keys:        keys,
		hashVersion: models.DefaultHashVersion,
		mode:        payload.ModeCompact,
		now:         time.Now,
		logger:      slog.New(slog.DiscardHandler),
		tracer:      tracer.NewNoop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// WithHashVersion selects the fingerprint hash. Unsupported versions are ignored.
func WithHashVersion(v models.HashVersion) Option {
	return func(s *Service) {
		if v.IsValid() {
			s.hashVersion = v
		}
	}
}

// WithPayloadMode sets the mode used when a request does not name one.
func WithPayloadMode(m payload.Mode) Option {
	return func(s *Service) {
		s.mode = m
	}
}

func WithSink(sink Sink) Option {
	return func(s *Service) {
		s.sink = sink
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithTracer(t tracer.Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

func WithAuditor(a AuditPublisher) Option {
	return func(s *Service) {
		s.auditor = a
	}
}

// Issue signs req's record with the issuer's current key.
func (s *Service) Issue(ctx context.Context, req IssueRequest) (*IssuedCredential, error) {
	ctx, span := s.tracer.Start(ctx, tracer.SpanIssue, tracer.String(tracer.AttrIssuer, req.Issuer.String()))
	cred, err := s.issue(ctx, req)
	if err != nil {
		code, ok := dErrors.CodeOf(err)
		if !ok {
			code = dErrors.CodeInternal
		}
		s.metrics.IncrementIssuanceFailure(string(code))
		s.logger.WarnContext(ctx, "credential issuance failed",
			"issuer", req.Issuer.String(),
			"error", err,
		)
		span.End(err)
		return nil, err
	}
	span.SetAttributes(
		tracer.String(tracer.AttrFingerprint, tracer.ShortFingerprint(cred.Fingerprint.Hex)),
		tracer.String(tracer.AttrKeyID, cred.Signature.KeyID.String()),
		tracer.String(tracer.AttrPayloadMode, cred.Mode.String()),
	)
	span.End(nil)
	return cred, nil
}

func (s *Service) issue(ctx context.Context, req IssueRequest) (*IssuedCredential, error) {
	issuer, err := models.ParseIssuerID(req.Issuer.String())
	if err != nil {
		return nil, err
	}
	mode := s.mode
	if req.Mode != "" {
		if mode, err = payload.ParseMode(req.Mode); err != nil {
			return nil, err
		}
	}
	record, err := recordOf(req)
	if err != nil {
		return nil, err
	}

	fp, _, err := fingerprint.Of(s.hashVersion, record)
	if err != nil {
		return nil, err
	}

	key, err := s.keys.SigningKey(ctx, issuer)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return nil, dErrors.New(dErrors.CodeUnknownIssuer, "no signing key for issuer")
	case err != nil:
		return nil, fmt.Errorf("load signing key: %w", err)
	}
	sig, err := signing.Sign(fp, key)
	if err != nil {
		return nil, err
	}

	p := payload.Payload{Mode: mode, Issuer: issuer, Fingerprint: fp, Signature: sig}
	if mode == payload.ModeFull {
		p.Record = record
	}
	encoded, err := payload.Encode(p)
	if err != nil {
		return nil, err
	}

	cred := &IssuedCredential{
		Issuer:      issuer,
		Record:      record,
		Fingerprint: fp,
		Signature:   sig,
		Mode:        mode,
		Payload:     encoded,
		IssuedAt:    s.now(),
	}

	if s.sink != nil {
		if err := s.publish(ctx, cred); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "publish issued credential")
		}
	}

	s.metrics.IncrementIssuance(string(sig.Algorithm), mode.String())
	s.logger.InfoContext(ctx, "credential issued",
		"issuer", issuer.String(),
		"fingerprint", fp.Hex,
		"key_id", sig.KeyID.String(),
		"mode", mode.String(),
	)
	if s.auditor != nil {
		if err := s.auditor.Emit(ctx, audit.Event{
			Timestamp:   cred.IssuedAt,
			Action:      string(audit.EventCredentialIssued),
			Issuer:      issuer.String(),
			Fingerprint: fp.Hex,
			KeyID:       sig.KeyID.String(),
		}); err != nil {
			s.logger.ErrorContext(ctx, "failed to emit audit event", "error", err)
		}
	}
	return cred, nil
}

func (s *Service) publish(ctx context.Context, cred *IssuedCredential) error {
	ctx, span := s.tracer.Start(ctx, tracer.SpanPublishIssuance,
		tracer.String(tracer.AttrFingerprint, tracer.ShortFingerprint(cred.Fingerprint.Hex)),
	)
	err := s.sink.Publish(ctx, cred)
	if err != nil {
		span.AddEvent(tracer.EventSinkFailed)
	}
	span.End(err)
	return err
}

func recordOf(req IssueRequest) (models.Record, error) {
	switch {
	case req.Record != nil && req.Fields != nil:
		return nil, dErrors.New(dErrors.CodeInvalidInput, "set either record or fields, not both")
	case req.Fields != nil:
		return canonical.FromFields(req.Fields)
	case req.Record != nil:
		return req.Record.Clone(), nil
	default:
		return nil, dErrors.New(dErrors.CodeInvalidRecord, "record is required")
	}
}
