package instrumentation

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/teemow/inboxagent/internal/logging"
)

// MessageAudit captures what happened to one polled message, from claim to reply.
//
// # Privacy Considerations
//
// SenderAddress is PII. LogAttrs only emits its hash and domain; the full
// address appears only through LogAuditAttrs.
type MessageAudit struct {
	MessageID     string
	ThreadID      string
	SenderAddress string
	SenderKey     string
	RunID         string

	StartTime time.Time
	Duration  time.Duration
	Outcome   string
	Error     string

	TraceID string
	SpanID  string
}

// NewMessageAudit creates a new MessageAudit with timing started.
// Call Complete() when the message reaches a terminal outcome.
func NewMessageAudit(messageID, threadID, sender string) *MessageAudit {
	return &MessageAudit{
		MessageID:     messageID,
		ThreadID:      threadID,
		SenderAddress: sender,
		StartTime:     time.Now(),
	}
}

// WithSpanContext extracts trace context from the current span.
func (ma *MessageAudit) WithSpanContext(ctx context.Context) *MessageAudit {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		ma.TraceID = span.SpanContext().TraceID().String()
		ma.SpanID = span.SpanContext().SpanID().String()
	}
	return ma
}

// Complete records the terminal outcome and calculates duration.
func (ma *MessageAudit) Complete(outcome string, err error) *MessageAudit {
	ma.Duration = time.Since(ma.StartTime)
	ma.Outcome = outcome
	if err != nil {
		ma.Error = err.Error()
	}
	return ma
}

// Responded reports whether the message was answered.
func (ma *MessageAudit) Responded() bool {
	return ma.Outcome == OutcomeResponded
}

// LogAttrs returns slog attributes with the sender hashed.
func (ma *MessageAudit) LogAttrs() []slog.Attr {
	attrs := []slog.Attr{
		logging.MessageID(ma.MessageID),
		logging.SenderHash(ma.SenderAddress),
		slog.String("sender_domain", ExtractSenderDomain(ma.SenderAddress)),
		slog.String("outcome", ma.Outcome),
		slog.Duration("duration", ma.Duration),
	}
	return ma.appendOptional(attrs)
}

// LogAuditAttrs returns slog attributes including the full sender address.
//
// # Security Warning
//
// This method includes PII. Ensure audit logs are stored with appropriate access controls.
func (ma *MessageAudit) LogAuditAttrs() []slog.Attr {
	attrs := []slog.Attr{
		logging.MessageID(ma.MessageID),
		slog.String("sender", ma.SenderAddress),
		slog.String("outcome", ma.Outcome),
		slog.Duration("duration", ma.Duration),
	}
	if ma.SpanID != "" {
		attrs = append(attrs, slog.String("span_id", ma.SpanID))
	}
	return ma.appendOptional(attrs)
}

func (ma *MessageAudit) appendOptional(attrs []slog.Attr) []slog.Attr {
	if ma.ThreadID != "" {
		attrs = append(attrs, logging.ThreadID(ma.ThreadID))
	}
	if ma.SenderKey != "" {
		attrs = append(attrs, logging.SenderKey(ma.SenderKey))
	}
	if ma.RunID != "" {
		attrs = append(attrs, logging.RunID(ma.RunID))
	}
	if ma.TraceID != "" {
		attrs = append(attrs, slog.String("trace_id", ma.TraceID))
	}
	if ma.Error != "" {
		attrs = append(attrs, slog.String(logging.KeyError, ma.Error))
	}
	return attrs
}

// AuditLogger writes one structured record per processed message.
type AuditLogger struct {
	logger     *slog.Logger
	includePII bool
	enabled    bool
}

// NewAuditLogger creates a new AuditLogger with the given configuration.
func NewAuditLogger(logger *slog.Logger, config AuditLoggingConfig) *AuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLogger{
		logger:     logger,
		includePII: config.IncludePII,
		enabled:    config.Enabled,
	}
}

// LogMessage logs the audit record. Responded messages log at info, all other
// outcomes at warn. A nil AuditLogger is a no-op.
func (al *AuditLogger) LogMessage(ma *MessageAudit) {
	if al == nil || !al.enabled {
		return
	}

	var attrs []slog.Attr
	if al.includePII {
		attrs = ma.LogAuditAttrs()
	} else {
		attrs = ma.LogAttrs()
	}

	args := make([]any, len(attrs))
	for i, attr := range attrs {
		args[i] = attr
	}

	if ma.Responded() || ma.Outcome == OutcomeDuplicate {
		al.logger.Info("message_processed", args...)
	} else {
		al.logger.Warn("message_failed", args...)
	}
}
