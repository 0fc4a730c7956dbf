// Package tracer is a small tracing abstraction over OpenTelemetry so that
// credential services can emit spans without importing OTel APIs directly.
//
// Implementations:
//   - NoopTracer: default when nothing is configured, and in tests
//   - OTelTracer: OpenTelemetry adapter for production
//
// Span attributes must never carry record content or key material. Use
// ShortFingerprint to correlate a credential across spans.
package tracer

import (
	"context"
	"time"
)

// InstrumentationName is the OpenTelemetry instrumentation scope.
const InstrumentationName = "sumbandila/credential"

// Span represents an active trace span.
type Span interface {
	// End completes the span, marking it failed when err is non-nil.
	// End must be called exactly once, typically via defer.
	End(err error)

	SetAttributes(attrs ...Attribute)

	AddEvent(name string, attrs ...Attribute)
}

// Tracer creates spans. Implementations must be safe for concurrent use.
//
//	ctx, span := t.Start(ctx, tracer.SpanVerify,
//	    tracer.String(tracer.AttrIssuer, issuer.String()),
//	)
//	defer span.End(nil)
type Tracer interface {
	Start(ctx context.Context, name string, attrs ...Attribute) (context.Context, Span)
}

// Attribute represents a key-value pair attached to spans.
type Attribute struct {
	Key   string
	Value any
}

// String creates a string attribute.
func String(key, value string) Attribute {
	return Attribute{Key: key, Value: value}
}

// Bool creates a boolean attribute.
func Bool(key string, value bool) Attribute {
	return Attribute{Key: key, Value: value}
}

// Int64 creates an int64 attribute.
func Int64(key string, value int64) Attribute {
	return Attribute{Key: key, Value: value}
}

// Float64 creates a float64 attribute.
func Float64(key string, value float64) Attribute {
	return Attribute{Key: key, Value: value}
}

// Duration creates a duration attribute in milliseconds.
func Duration(key string, value time.Duration) Attribute {
	return Attribute{Key: key, Value: value.Milliseconds()}
}

// ShortFingerprint truncates a hex fingerprint to 16 characters, enough to
// correlate traces and logs for one credential.
func ShortFingerprint(hex string) string {
	if len(hex) <= 16 {
		return hex
	}
	return hex[:16]
}

// Span names.
const (
	SpanVerify          = "credential.verify"
	SpanVerifyPayload   = "credential.verify_payload"
	SpanIssue           = "credential.issue"
	SpanResolveKey      = "registry.resolve_key"
	SpanIsRevoked       = "registry.is_revoked"
	SpanFindRecord      = "registry.find_record"
	SpanApplyEvent      = "registry.apply_event"
	SpanPublishIssuance = "credential.publish_issuance"
)

// Attribute keys.
const (
	AttrFingerprint = "fingerprint"
	AttrIssuer      = "issuer"
	AttrKeyID       = "key_id"
	AttrAlgorithm   = "algorithm"
	AttrHashVersion = "hash_version"
	AttrReason      = "reason"
	AttrPayloadMode = "payload_mode"
	AttrEventType   = "event_type"
	AttrCacheHit    = "cache.hit"
)

// Event names.
const (
	EventRegistryTimeout = "registry.timeout"
	EventSinkFailed      = "sink.failed"
)
