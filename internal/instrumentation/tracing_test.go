package instrumentation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpanAttributeBuilder(t *testing.T) {
	attrs := NewSpanAttributeBuilder().
		WithOperation(OperationMessagesGet).
		WithMessage("m1", "t1").
		WithSenderKey("alice_at_example_dot_com").
		WithRunID("run-1").
		Build()

	require.Len(t, attrs, 5)

	attrMap := make(map[string]interface{})
	for _, attr := range attrs {
		attrMap[string(attr.Key)] = attr.Value.AsInterface()
	}

	assert.Equal(t, OperationMessagesGet, attrMap[SpanAttrOperation])
	assert.Equal(t, "m1", attrMap[SpanAttrMessageID])
	assert.Equal(t, "t1", attrMap[SpanAttrThreadID])
	assert.Equal(t, "alice_at_example_dot_com", attrMap[SpanAttrSenderKey])
	assert.Equal(t, "run-1", attrMap[SpanAttrRunID])
}

func TestSpanAttributeBuilder_EmptyValues(t *testing.T) {
	attrs := NewSpanAttributeBuilder().
		WithOperation(OperationLabelsList).
		WithMessage("", "").
		WithSenderKey("").
		WithRunID("").
		Build()

	assert.Len(t, attrs, 1, "only the operation should be present")
}

func TestSpans(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	provider, err := NewProvider(ctx, Config{
		ServiceName:       "test-service",
		ServiceVersion:    "1.0.0",
		Enabled:           true,
		MetricsExporter:   ExporterPrometheus,
		TracingExporter:   ExporterNone,
		TraceSamplingRate: 1,
	})
	require.NoError(t, err)
	defer func() { _ = provider.Shutdown(ctx) }()

	assert.NotPanics(t, func() {
		spanCtx, span := StartSpan(ctx, "bridge.cycle")
		require.NotNil(t, spanCtx)
		SetSpanSuccess(span)
		span.End()

		_, span = StartMessageSpan(ctx, "m1", "t1")
		AddSpanEvent(span, "claimed")
		SetSpanError(span, errors.New("agent failed"))
		SetSpanError(span, nil)
		span.End()

		_, span = StartGoogleAPISpan(ctx, OperationMessagesSend)
		span.End()
	})
}

func TestGetTraceAndSpanID_NoSpan(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetTraceID(ctx))
	assert.Empty(t, GetSpanID(ctx))
}
