package instrumentation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T, detailed bool) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp.Meter("test"), detailed)
	require.NoError(t, err)
	return m, reader
}

// counterValue sums the data points of an int64 counter whose attribute key equals value.
func counterValue(t *testing.T, reader *sdkmetric.ManualReader, name, key, value string) int64 {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "metric %s is not an int64 sum", name)
			for _, dp := range sum.DataPoints {
				if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func TestMetrics_RecordMessage(t *testing.T) {
	m, reader := newTestMetrics(t, false)
	ctx := context.Background()

	m.RecordMessage(ctx, OutcomeResponded)
	m.RecordMessage(ctx, OutcomeResponded)
	m.RecordMessage(ctx, OutcomeAgentError)

	assert.Equal(t, int64(2), counterValue(t, reader, "messages_total", "outcome", OutcomeResponded))
	assert.Equal(t, int64(1), counterValue(t, reader, "messages_total", "outcome", OutcomeAgentError))
	assert.Equal(t, int64(0), counterValue(t, reader, "messages_total", "outcome", OutcomeDuplicate))
}

func TestMetrics_RecordPollCycle(t *testing.T) {
	m, reader := newTestMetrics(t, false)
	ctx := context.Background()

	m.RecordPollCycle(ctx, StatusSuccess)
	m.RecordPollCycle(ctx, StatusError)

	assert.Equal(t, int64(1), counterValue(t, reader, "poll_cycles_total", "status", StatusSuccess))
	assert.Equal(t, int64(1), counterValue(t, reader, "poll_cycles_total", "status", StatusError))
}

func TestMetrics_RecordAgentInvocation(t *testing.T) {
	t.Run("without detailed labels", func(t *testing.T) {
		m, reader := newTestMetrics(t, false)
		m.RecordAgentInvocation(context.Background(), StatusSuccess, "alice@example.com", time.Second)

		assert.Equal(t, int64(1), counterValue(t, reader, "agent_invocations_total", "status", StatusSuccess))
		assert.Equal(t, int64(0), counterValue(t, reader, "agent_invocations_total", "sender_domain", "example.com"))
	})

	t.Run("with detailed labels", func(t *testing.T) {
		m, reader := newTestMetrics(t, true)
		m.RecordAgentInvocation(context.Background(), StatusError, "alice@example.com", time.Second)

		assert.Equal(t, int64(1), counterValue(t, reader, "agent_invocations_total", "sender_domain", "example.com"))
	})
}

func TestMetrics_RecordGoogleAPIOperation(t *testing.T) {
	m, reader := newTestMetrics(t, false)
	ctx := context.Background()

	m.RecordGoogleAPIOperation(ctx, OperationMessagesList, StatusSuccess, 200*time.Millisecond)
	m.RecordGoogleAPIOperation(ctx, OperationMessagesSend, StatusError, 500*time.Millisecond)

	assert.Equal(t, int64(1), counterValue(t, reader, "google_api_operations_total", "operation", OperationMessagesList))
	assert.Equal(t, int64(1), counterValue(t, reader, "google_api_operations_total", "status", StatusError))
}

func TestMetrics_RecordOAuthTokenRefresh(t *testing.T) {
	m, reader := newTestMetrics(t, false)
	m.RecordOAuthTokenRefresh(context.Background(), OAuthResultSuccess)

	assert.Equal(t, int64(1), counterValue(t, reader, "oauth_token_refresh_total", "result", OAuthResultSuccess))
}

func TestMetrics_NilSafe(t *testing.T) {
	ctx := context.Background()

	var nilMetrics *Metrics
	assert.NotPanics(t, func() {
		nilMetrics.RecordPollCycle(ctx, StatusSuccess)
		nilMetrics.RecordMessage(ctx, OutcomeResponded)
		nilMetrics.RecordAgentInvocation(ctx, StatusSuccess, "a@b.c", time.Second)
		nilMetrics.RecordGoogleAPIOperation(ctx, OperationLabelsList, StatusSuccess, time.Second)
		nilMetrics.RecordOAuthTokenRefresh(ctx, OAuthResultFailure)
	})

	empty := &Metrics{}
	assert.NotPanics(t, func() {
		empty.RecordMessage(ctx, OutcomeDuplicate)
	})
}
