package instrumentation

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric attribute keys
const (
	attrStatus       = "status"
	attrOperation    = "operation"
	attrOutcome      = "outcome"
	attrResult       = "result"
	attrSenderDomain = "sender_domain"
)

// Metrics provides methods for recording observability metrics.
// A zero Metrics (or a nil *Metrics) is a valid no-op recorder.
type Metrics struct {
	// Bridge metrics
	pollCyclesTotal metric.Int64Counter
	messagesTotal   metric.Int64Counter

	// Agent metrics
	agentInvocationsTotal   metric.Int64Counter
	agentInvocationDuration metric.Float64Histogram

	// Google API metrics
	googleAPIOperationsTotal   metric.Int64Counter
	googleAPIOperationDuration metric.Float64Histogram

	// OAuth metrics
	oauthTokenRefreshTotal metric.Int64Counter

	// detailedLabels controls whether high-cardinality labels are included
	detailedLabels bool
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
// The detailedLabels parameter controls whether high-cardinality labels are included.
func NewMetrics(meter metric.Meter, detailedLabels bool) (*Metrics, error) {
	m := &Metrics{
		detailedLabels: detailedLabels,
	}

	var err error

	m.pollCyclesTotal, err = meter.Int64Counter(
		"poll_cycles_total",
		metric.WithDescription("Total number of mailbox poll cycles"),
		metric.WithUnit("{cycle}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create poll_cycles_total counter: %w", err)
	}

	m.messagesTotal, err = meter.Int64Counter(
		"messages_total",
		metric.WithDescription("Total number of polled messages by processing outcome"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create messages_total counter: %w", err)
	}

	m.agentInvocationsTotal, err = meter.Int64Counter(
		"agent_invocations_total",
		metric.WithDescription("Total number of agent executor invocations"),
		metric.WithUnit("{invocation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create agent_invocations_total counter: %w", err)
	}

	m.agentInvocationDuration, err = meter.Float64Histogram(
		"agent_invocation_duration_seconds",
		metric.WithDescription("Agent executor invocation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.5, 1, 5, 10, 30, 60, 120, 300, 600),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create agent_invocation_duration_seconds histogram: %w", err)
	}

	m.googleAPIOperationsTotal, err = meter.Int64Counter(
		"google_api_operations_total",
		metric.WithDescription("Total number of Google API operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create google_api_operations_total counter: %w", err)
	}

	m.googleAPIOperationDuration, err = meter.Float64Histogram(
		"google_api_operation_duration_seconds",
		metric.WithDescription("Google API operation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create google_api_operation_duration_seconds histogram: %w", err)
	}

	m.oauthTokenRefreshTotal, err = meter.Int64Counter(
		"oauth_token_refresh_total",
		metric.WithDescription("Total number of OAuth token refresh attempts"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create oauth_token_refresh_total counter: %w", err)
	}

	return m, nil
}

// RecordPollCycle records a completed poll cycle.
// Status should be one of: "success", "error"
func (m *Metrics) RecordPollCycle(ctx context.Context, status string) {
	if m == nil || m.pollCyclesTotal == nil {
		return
	}

	m.pollCyclesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrStatus, status)))
}

// RecordMessage records the terminal outcome of a single polled message.
// Outcome is one of the Outcome* constants.
func (m *Metrics) RecordMessage(ctx context.Context, outcome string) {
	if m == nil || m.messagesTotal == nil {
		return
	}

	m.messagesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrOutcome, outcome)))
}

// RecordAgentInvocation records an agent executor invocation with status and duration.
//
// Parameters:
//   - status: Result status ("success" or "error")
//   - sender: Sender address; only its domain is attached, and only when detailed labels are enabled
//   - duration: Time taken by the executor
func (m *Metrics) RecordAgentInvocation(ctx context.Context, status, sender string, duration time.Duration) {
	if m == nil || m.agentInvocationsTotal == nil || m.agentInvocationDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrStatus, status),
	}

	// Only add high-cardinality labels if explicitly enabled
	if m.detailedLabels && sender != "" {
		attrs = append(attrs, attribute.String(attrSenderDomain, ExtractSenderDomain(sender)))
	}

	m.agentInvocationsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.agentInvocationDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordGoogleAPIOperation records a Google API operation with operation, status and duration.
//
// Parameters:
//   - operation: Operation name (labels.list, messages.get, messages.send, ...)
//   - status: Result status ("success" or "error")
//   - duration: Time taken for the operation
func (m *Metrics) RecordGoogleAPIOperation(ctx context.Context, operation, status string, duration time.Duration) {
	if m == nil || m.googleAPIOperationsTotal == nil || m.googleAPIOperationDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrOperation, operation),
		attribute.String(attrStatus, status),
	}

	m.googleAPIOperationsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.googleAPIOperationDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordOAuthTokenRefresh records an OAuth token refresh attempt with result.
// Result should be one of: "success", "failure", "persist_failure"
func (m *Metrics) RecordOAuthTokenRefresh(ctx context.Context, result string) {
	if m == nil || m.oauthTokenRefreshTotal == nil {
		return
	}

	m.oauthTokenRefreshTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrResult, result)))
}
