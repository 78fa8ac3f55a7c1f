// Package gmail is the mailbox side of the bridge.
//
// Client wraps the Gmail API behind a circuit breaker and records metrics
// and spans for every call. LabelEnsurer resolves the watched label, Poller
// lists and fetches unread labeled messages, ParseMessage normalizes them,
// and ComposeReply renders the in-thread answer that Client.SendReply sends.
package gmail
