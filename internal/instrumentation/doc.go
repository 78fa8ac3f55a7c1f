// Package instrumentation provides OpenTelemetry instrumentation for the
// inboxagent bridge.
//
// # Metrics
//
// Bridge Metrics:
//   - poll_cycles_total: Counter of poll cycles by status
//   - messages_total: Counter of polled messages by outcome (responded, duplicate,
//     claim_failed, route_failed, agent_error, send_failed)
//
// Agent Metrics:
//   - agent_invocations_total: Counter of executor invocations by status
//   - agent_invocation_duration_seconds: Histogram of executor durations
//
// Google API Metrics:
//   - google_api_operations_total: Counter of Gmail API calls by operation and status
//   - google_api_operation_duration_seconds: Histogram of Gmail API call durations
//
// OAuth Metrics:
//   - oauth_token_refresh_total: Counter of token rotations by result
//
// # Tracing
//
// Spans are created for each poll cycle (bridge.cycle), each message
// (bridge.message) and each Gmail API call (google.gmail.<operation>).
//
// # Configuration
//
// Instrumentation is configured via environment variables:
//   - INSTRUMENTATION_ENABLED: Enable/disable instrumentation (default: true)
//   - METRICS_EXPORTER: prometheus, otlp or stdout (default: prometheus)
//   - TRACING_EXPORTER: otlp, stdout or none (default: none)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OTLP endpoint for traces/metrics
//   - OTEL_TRACES_SAMPLER_ARG: Sampling rate (0.0 to 1.0, default: 0.1)
//   - OTEL_SERVICE_NAME: Service name (default: inboxagent)
//
// # Example Usage
//
//	provider, err := instrumentation.NewProvider(ctx, instrumentation.DefaultConfig())
//	if err != nil {
//		return err
//	}
//	defer provider.Shutdown(ctx)
//
//	provider.Metrics().RecordMessage(ctx, instrumentation.OutcomeResponded)
package instrumentation
