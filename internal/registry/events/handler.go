package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"sumbandila/internal/audit"
	"sumbandila/internal/credential/canonical"
	"sumbandila/internal/credential/fingerprint"
	"sumbandila/internal/credential/metrics"
	credential "sumbandila/internal/credential/models"
	"sumbandila/internal/credential/signing"
	"sumbandila/internal/platform/kafka/consumer"
	"sumbandila/internal/platform/tracer"
	"sumbandila/internal/registry/models"
	"sumbandila/pkg/platform/sentinel"
)

// Writer is the writable side of a registry store.
type Writer interface {
	RegisterKey(ctx context.Context, issuer credential.IssuerID, pub *signing.PublicKey) error
	Revoke(ctx context.Context, rev models.Revocation) error
	PutRecord(ctx context.Context, fp credential.Fingerprint, record credential.Record) error
}

// CacheInvalidator drops cached active-key pointers after a rotation.
type CacheInvalidator interface {
	InvalidateActive(ctx context.Context, issuer credential.IssuerID) error
}

// AuditPublisher receives one event per applied registry change.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// errRejected marks events that can never be applied. They are logged and
// committed so one bad event does not stall the partition.
var errRejected = errors.New("event rejected")

type Option func(*Handler)

// Handler applies registry events to a Writer. Transient store failures are
// retried with exponential backoff; when retries run out the error is
// returned so the consumer leaves the offset uncommitted.
type Handler struct {
	writer     Writer
	cache      CacheInvalidator
	newBackOff func() backoff.BackOff
	logger     *slog.Logger
	metrics    *metrics.Metrics
	tracer     tracer.Tracer
	auditor    AuditPublisher
}

func NewHandler(writer Writer, opts ...Option) *Handler {
	h := &Handler{
		writer: writer,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			b.MaxElapsedTime = 30 * time.Second
			return b
		},
		logger: slog.New(slog.DiscardHandler),
		tracer: tracer.NewNoop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// WithCacheInvalidator invalidates the key cache after key registrations.
func WithCacheInvalidator(c CacheInvalidator) Option {
	return func(h *Handler) {
		h.cache = c
	}
}

// WithBackOff overrides the retry policy. newBackOff is called once per event.
func WithBackOff(newBackOff func() backoff.BackOff) Option {
	return func(h *Handler) {
		if newBackOff != nil {
			h.newBackOff = newBackOff
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

func WithTracer(t tracer.Tracer) Option {
	return func(h *Handler) {
		if t != nil {
			h.tracer = t
		}
	}
}

func WithAuditor(a AuditPublisher) Option {
	return func(h *Handler) {
		h.auditor = a
	}
}

// Handle implements consumer.Handler.
func (h *Handler) Handle(ctx context.Context, msg *consumer.Message) error {
	var env Envelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		h.reject(ctx, "unknown", msg, fmt.Errorf("%w: decode envelope: %v", errRejected, err))
		return nil
	}
	return h.Apply(ctx, env)
}

// Apply applies one event. Rejected events return nil.
func (h *Handler) Apply(ctx context.Context, env Envelope) error {
	ctx, span := h.tracer.Start(ctx, tracer.SpanApplyEvent, tracer.String(tracer.AttrEventType, env.Type))

	op, err := h.operation(env)
	if err == nil {
		err = backoff.RetryNotify(func() error {
			opErr := op(ctx)
			if opErr != nil && !errors.Is(opErr, sentinel.ErrUnavailable) {
				return backoff.Permanent(opErr)
			}
			return opErr
		}, backoff.WithContext(h.newBackOff(), ctx), func(err error, wait time.Duration) {
			h.logger.WarnContext(ctx, "registry write failed, retrying",
				"event_id", env.ID,
				"event_type", env.Type,
				"retry_in", wait,
				"error", err,
			)
		})
	}

	switch {
	case err == nil:
		span.End(nil)
		h.metrics.IncrementEventApplied(env.Type, "applied")
		h.logger.InfoContext(ctx, "registry event applied", "event_id", env.ID, "event_type", env.Type)
		return nil
	case errors.Is(err, sentinel.ErrUnavailable) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		span.End(err)
		h.metrics.IncrementEventApplied(env.Type, "failed")
		return fmt.Errorf("apply %s event %s: %w", env.Type, env.ID, err)
	default:
		span.End(err)
		h.reject(ctx, env.Type, nil, err)
		return nil
	}
}

func (h *Handler) reject(ctx context.Context, eventType string, msg *consumer.Message, err error) {
	h.metrics.IncrementEventApplied(eventType, "rejected")
	attrs := []any{"event_type", eventType, "error", err}
	if msg != nil {
		attrs = append(attrs, "topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset)
	}
	h.logger.ErrorContext(ctx, "registry event rejected", attrs...)
}

// operation decodes env into the store call that applies it.
func (h *Handler) operation(env Envelope) (func(context.Context) error, error) {
	switch env.Type {
	case TypeKeyRegistered:
		var data KeyRegistered
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return nil, fmt.Errorf("%w: %v", errRejected, err)
		}
		issuer, err := credential.ParseIssuerID(data.Issuer)
		if err != nil {
			return nil, err
		}
		keyID, err := credential.ParseKeyID(data.KeyID)
		if err != nil || keyID == "" {
			return nil, fmt.Errorf("%w: key_id is required", errRejected)
		}
		pub, err := signing.ParsePublicKeyPEM([]byte(data.PublicKeyPEM), keyID)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context) error {
			if err := h.writer.RegisterKey(ctx, issuer, pub); err != nil {
				return err
			}
			h.invalidate(ctx, issuer)
			h.audit(ctx, audit.Event{
				Timestamp: env.OccurredAt,
				Action:    string(audit.EventIssuerKeyRegistered),
				Issuer:    issuer.String(),
				KeyID:     keyID.String(),
			})
			return nil
		}, nil

	case TypeCredentialRevoked:
		var data CredentialRevoked
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return nil, fmt.Errorf("%w: %v", errRejected, err)
		}
		fp, err := credential.ParseFingerprint(data.Fingerprint)
		if err != nil {
			return nil, err
		}
		rev := models.Revocation{
			Fingerprint: fp,
			Issuer:      credential.IssuerID(data.Issuer),
			Reason:      data.Reason,
			RevokedAt:   env.OccurredAt,
		}
		return func(ctx context.Context) error {
			if err := h.writer.Revoke(ctx, rev); err != nil {
				return err
			}
			h.audit(ctx, audit.Event{
				Timestamp:   env.OccurredAt,
				Action:      string(audit.EventCredentialRevoked),
				Issuer:      data.Issuer,
				Fingerprint: fp.Hex,
				Reason:      data.Reason,
			})
			return nil
		}, nil

	case TypeRecordStored:
		var data RecordStored
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return nil, fmt.Errorf("%w: %v", errRejected, err)
		}
		fp, err := credential.ParseFingerprint(data.Fingerprint)
		if err != nil {
			return nil, err
		}
		record, err := canonical.ParseJSON(data.Record)
		if err != nil {
			return nil, err
		}
		got, _, err := fingerprint.Of(fp.Version, record)
		if err != nil {
			return nil, err
		}
		if !fingerprint.Equal(got, fp) {
			return nil, fmt.Errorf("%w: record does not match fingerprint", errRejected)
		}
		return func(ctx context.Context) error {
			return h.writer.PutRecord(ctx, fp, record)
		}, nil

	default:
		return nil, fmt.Errorf("%w: unknown event type %q", errRejected, env.Type)
	}
}

func (h *Handler) invalidate(ctx context.Context, issuer credential.IssuerID) {
	if h.cache == nil {
		return
	}
	if err := h.cache.InvalidateActive(ctx, issuer); err != nil {
		h.logger.WarnContext(ctx, "failed to invalidate key cache",
			"issuer", issuer.String(),
			"error", err,
		)
	}
}

func (h *Handler) audit(ctx context.Context, event audit.Event) {
	if h.auditor == nil {
		return
	}
	if err := h.auditor.Emit(ctx, event); err != nil {
		h.logger.ErrorContext(ctx, "failed to emit audit event", "error", err)
	}
}
