// Package verifier decides whether a claimed credential is authentic, intact,
// unrevoked and unexpired.
//
// Verify runs its checks in a fixed order and stops at the first failure:
// record validity, issuer key resolution, signature, revocation, expiry.
// Every outcome, including registry failures, is reported as a Verdict rather
// than an error, and RegistryUnavailable is the only retryable reason.
package verifier

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"sumbandila/internal/audit"
	"sumbandila/internal/credential/fingerprint"
	"sumbandila/internal/credential/metrics"
	"sumbandila/internal/credential/models"
	"sumbandila/internal/credential/signing"
	"sumbandila/internal/platform/tracer"
	dErrors "sumbandila/pkg/domain-errors"
	"sumbandila/pkg/platform/sentinel"
)

const defaultRegistryTimeout = 2 * time.Second

// AuditPublisher receives one event per verdict.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Request is a claimed credential presented for verification.
type Request struct {
	Record    models.Record
	Signature models.Signature
	Issuer    models.IssuerID
	// HashVersion selects how the record is fingerprinted. Zero means
	// models.DefaultHashVersion.
	HashVersion models.HashVersion
}

type Option func(*Verifier)

// Verifier checks credentials against a registry. It holds no per-request
// state and is safe for concurrent use.
type Verifier struct {
	registry    Registry
	records     RecordSource
	timeout     time.Duration
	expiryField string
	now         func() time.Time
	logger      *slog.Logger
	metrics     *metrics.Metrics
	tracer      tracer.Tracer
	auditor     AuditPublisher
}

func New(registry Registry, opts ...Option) (*Verifier, error) {
	if registry == nil {
		return nil, errors.New("registry is required")
	}
	v := &Verifier{
		registry:    registry,
		timeout:     defaultRegistryTimeout,
		expiryField: DefaultExpiryField,
		now:         time.Now,
		logger:      slog.New(slog.DiscardHandler),
		tracer:      tracer.NewNoop(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// WithRegistryTimeout bounds every registry call. Non-positive values keep
// the default of two seconds.
func WithRegistryTimeout(timeout time.Duration) Option {
	return func(v *Verifier) {
		if timeout > 0 {
			v.timeout = timeout
		}
	}
}

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) {
		if now != nil {
			v.now = now
		}
	}
}

// WithExpiryField changes the record field read for the expiry date.
func WithExpiryField(field string) Option {
	return func(v *Verifier) {
		if field != "" {
			v.expiryField = field
		}
	}
}

// WithRecordSource enables verification of compact payloads, which need the
// record fetched by fingerprint.
func WithRecordSource(source RecordSource) Option {
	return func(v *Verifier) {
		v.records = source
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(v *Verifier) {
		if logger != nil {
			v.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(v *Verifier) {
		v.metrics = m
	}
}

func WithTracer(t tracer.Tracer) Option {
	return func(v *Verifier) {
		if t != nil {
			v.tracer = t
		}
	}
}

func WithAuditor(a AuditPublisher) Option {
	return func(v *Verifier) {
		v.auditor = a
	}
}

// Verify checks a claimed record and signature against the issuer's
// registered key and the registry's revocation list.
func (v *Verifier) Verify(ctx context.Context, req Request) models.Verdict {
	start := time.Now()
	ctx, span := v.tracer.Start(ctx, tracer.SpanVerify,
		tracer.String(tracer.AttrIssuer, req.Issuer.String()),
		tracer.String(tracer.AttrKeyID, req.Signature.KeyID.String()),
		tracer.String(tracer.AttrAlgorithm, string(req.Signature.Algorithm)),
	)
	verdict := v.verify(ctx, req, span)
	span.SetAttributes(
		tracer.String(tracer.AttrFingerprint, tracer.ShortFingerprint(verdict.Fingerprint.Hex)),
		tracer.String(tracer.AttrReason, verdict.Reason.String()),
	)
	span.End(verdict.Err())
	v.observe(ctx, verdict, time.Since(start))
	return verdict
}

func (v *Verifier) verify(ctx context.Context, req Request, span tracer.Span) models.Verdict {
	checkedAt := v.now()
	reject := func(fp models.Fingerprint, reason models.Reason, detail string) models.Verdict {
		return models.Verdict{Reason: reason, Detail: detail, Fingerprint: fp, CheckedAt: checkedAt}
	}

	version := req.HashVersion
	if version == 0 {
		version = models.DefaultHashVersion
	}
	fp, _, err := fingerprint.Of(version, req.Record)
	if err != nil {
		return reject(models.Fingerprint{}, models.ReasonFromError(err, models.ReasonInvalidRecord), err.Error())
	}
	exp, err := parseExpiry(req.Record, v.expiryField)
	if err != nil {
		return reject(fp, models.ReasonInvalidRecord, err.Error())
	}
	if req.Issuer.IsNil() {
		return reject(fp, models.ReasonUnknownIssuer, "issuer is required")
	}

	pub, err := callWithTimeout(ctx, v.timeout, span, func(ctx context.Context) (*signing.PublicKey, error) {
		return v.resolveKey(ctx, req.Issuer, req.Signature.KeyID)
	})
	switch {
	case errors.Is(err, sentinel.ErrNotFound), err == nil && pub == nil:
		return reject(fp, models.ReasonUnknownIssuer, "no public key registered for issuer")
	case err != nil:
		return reject(fp, models.ReasonRegistryUnavailable, "issuer key lookup failed")
	}

	if err := signing.Verify(fp, req.Signature, pub); err != nil {
		return reject(fp, models.ReasonFromError(err, models.ReasonSignatureMismatch), err.Error())
	}

	revoked, err := callWithTimeout(ctx, v.timeout, span, func(ctx context.Context) (bool, error) {
		return v.isRevoked(ctx, fp)
	})
	if err != nil {
		return reject(fp, models.ReasonRegistryUnavailable, "revocation lookup failed")
	}
	if revoked {
		return reject(fp, models.ReasonRevoked, "credential has been revoked")
	}

	if exp.passed(checkedAt) {
		return reject(fp, models.ReasonExpired, "credential has expired")
	}

	return models.Verdict{
		Valid:       true,
		Reason:      models.ReasonValid,
		Record:      req.Record.Clone(),
		Issuer:      req.Issuer,
		KeyID:       pub.KeyID(),
		Fingerprint: fp,
		CheckedAt:   checkedAt,
	}
}

func (v *Verifier) resolveKey(ctx context.Context, issuer models.IssuerID, keyID models.KeyID) (*signing.PublicKey, error) {
	ctx, span := v.tracer.Start(ctx, tracer.SpanResolveKey, tracer.String(tracer.AttrIssuer, issuer.String()))
	start := time.Now()
	pub, err := v.registry.ResolvePublicKey(ctx, issuer, keyID)
	v.metrics.ObserveRegistryCall("resolve_key", err != nil && !errors.Is(err, sentinel.ErrNotFound), time.Since(start).Seconds())
	span.End(err)
	return pub, err
}

func (v *Verifier) isRevoked(ctx context.Context, fp models.Fingerprint) (bool, error) {
	ctx, span := v.tracer.Start(ctx, tracer.SpanIsRevoked, tracer.String(tracer.AttrFingerprint, tracer.ShortFingerprint(fp.Hex)))
	start := time.Now()
	revoked, err := v.registry.IsRevoked(ctx, fp)
	v.metrics.ObserveRegistryCall("is_revoked", err != nil, time.Since(start).Seconds())
	span.End(err)
	return revoked, err
}

// callWithTimeout bounds fn by timeout even when fn ignores its context.
// The result channel is buffered so a late fn never blocks.
func callWithTimeout[T any](ctx context.Context, timeout time.Duration, span tracer.Span, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		value, err := fn(ctx)
		done <- result{value: value, err: err}
	}()

	select {
	case r := <-done:
		return r.value, r.err
	case <-ctx.Done():
		span.AddEvent(tracer.EventRegistryTimeout)
		var zero T
		return zero, dErrors.Wrap(ctx.Err(), dErrors.CodeTimeout, "registry call timed out")
	}
}

// observe logs, counts and audits a verdict. Record content is never logged.
func (v *Verifier) observe(ctx context.Context, verdict models.Verdict, elapsed time.Duration) {
	v.metrics.ObserveVerification(verdict.Reason.String(), verdict.Valid, elapsed.Seconds())

	attrs := []any{
		"fingerprint", verdict.Fingerprint.Hex,
		"reason", verdict.Reason.String(),
		"duration_ms", elapsed.Milliseconds(),
	}
	action := audit.EventCredentialVerified
	if verdict.Valid {
		attrs = append(attrs, "issuer", verdict.Issuer.String(), "key_id", verdict.KeyID.String())
		v.logger.InfoContext(ctx, "credential verified", attrs...)
	} else {
		action = audit.EventCredentialRejected
		attrs = append(attrs, "detail", verdict.Detail)
		if verdict.Reason.Retryable() {
			v.logger.WarnContext(ctx, "credential verification unavailable", attrs...)
		} else {
			v.logger.InfoContext(ctx, "credential rejected", attrs...)
		}
	}

	if v.auditor == nil {
		return
	}
	err := v.auditor.Emit(ctx, audit.Event{
		Timestamp:   verdict.CheckedAt,
		Action:      string(action),
		Issuer:      verdict.Issuer.String(),
		Fingerprint: verdict.Fingerprint.Hex,
		KeyID:       verdict.KeyID.String(),
		Reason:      verdict.Reason.String(),
	})
	if err != nil {
		v.logger.ErrorContext(ctx, "failed to emit audit event", "error", err)
	}
}
