package tracer_test

import (
	"context"
	"errors"
	"testing"

	"sumbandila/internal/platform/tracer"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestNoopTracer_Start(t *testing.T) {
	tr := tracer.NewNoop()
	ctx := context.Background()

	newCtx, span := tr.Start(ctx, tracer.SpanVerify,
		tracer.String(tracer.AttrIssuer, "pretoria-technical-college"),
		tracer.Bool(tracer.AttrCacheHit, true),
	)

	assert.Equal(t, ctx, newCtx)
	require.NotNil(t, span)

	span.SetAttributes(tracer.String(tracer.AttrReason, "valid"))
	span.AddEvent(tracer.EventRegistryTimeout, tracer.Int64("attempt", 1))
	span.End(errors.New("registry down"))
}

func TestOTelTracer_WithInjectedTracer(t *testing.T) {
	tr := tracer.NewOTel(tracer.WithOTelTracer(noop.NewTracerProvider().Tracer("test")))

	ctx, span := tr.Start(context.Background(), tracer.SpanIssue,
		tracer.String(tracer.AttrAlgorithm, "RS256"),
		tracer.Int64(tracer.AttrHashVersion, 1),
		tracer.Float64("ratio", 0.5),
	)
	require.NotNil(t, ctx)
	require.NotNil(t, span)
	span.SetAttributes(tracer.Duration("latency", 0))
	span.End(nil)
}

func TestShortFingerprint(t *testing.T) {
	full := "3a7bd3e2360a3d29eea436fcfb7e44c735d117c42d1c1835420b6b9942dd4f1b"
	assert.Equal(t, "3a7bd3e2360a3d29", tracer.ShortFingerprint(full))
	assert.Equal(t, "abc", tracer.ShortFingerprint("abc"))
	assert.Empty(t, tracer.ShortFingerprint(""))
}

func TestAttributeConstructors(t *testing.T) {
	t.Run("Int64", func(t *testing.T) {
		attr := tracer.Int64("count", 42)
		assert.Equal(t, "count", attr.Key)
		assert.Equal(t, int64(42), attr.Value)
	})

	t.Run("Duration", func(t *testing.T) {
		attr := tracer.Duration("latency", 150*1e6)
		assert.Equal(t, "latency", attr.Key)
		assert.Equal(t, int64(150), attr.Value)
	})
}
