package instrumentation

import "strings"

// Cardinality management helpers for metrics.
// These functions reduce high-cardinality label values to prevent metrics explosion.
//
// Always use these helpers when recording metrics with sender identifiers.

// ExtractSenderDomain extracts the domain part from an email address.
// This reduces cardinality by using the domain instead of the full address.
//
// Example:
//
//	ExtractSenderDomain("alice@example.com")  // "example.com"
//	ExtractSenderDomain("bob@Gmail.com")      // "gmail.com"
//	ExtractSenderDomain("invalid")            // "unknown"
//	ExtractSenderDomain("")                   // "unknown"
func ExtractSenderDomain(email string) string {
	if email == "" {
		return "unknown"
	}

	parts := strings.Split(email, "@")
	if len(parts) == 2 && parts[1] != "" {
		return strings.ToLower(parts[1])
	}

	return "unknown"
}

// Gmail API operation names used for google_api_* metrics and spans.
const (
	OperationLabelsList     = "labels.list"
	OperationLabelsCreate   = "labels.create"
	OperationMessagesList   = "messages.list"
	OperationMessagesGet    = "messages.get"
	OperationMessagesModify = "messages.modify"
	OperationMessagesSend   = "messages.send"
)
