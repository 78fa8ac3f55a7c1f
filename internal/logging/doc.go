// Package logging provides structured logging utilities for the inboxagent bridge.
//
// This package centralizes logging patterns to ensure consistent, structured logging
// throughout the codebase using the standard library's slog package.
//
// # Usage Patterns
//
// Create a logger with standard attributes:
//
//	logger := logging.WithOperation(slog.Default(), "bridge.process")
//	logger.Info("message claimed",
//	    logging.MessageID(msg.ID),
//	    logging.SenderHash(msg.SenderAddress))
//
// # Security Considerations
//
//   - Sender addresses are hashed to prevent PII leakage while allowing correlation
//   - Tokens are never logged directly
package logging
