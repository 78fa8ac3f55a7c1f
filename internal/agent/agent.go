// Package agent invokes the external agent that answers messages.
//
// The bridge talks to the agent through the Executor interface. The
// shipped implementation, CommandExecutor, runs a configured command in the
// sender's workspace with a JSON Request on stdin and expects a JSON Result
// on stdout.
package agent

import (
	"context"
	"fmt"
)

// Result statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Request is a single agent invocation.
type Request struct {
	// ConversationID identifies the sender conversation (the sender key).
	ConversationID string `json:"conversation_id"`

	// Workspace is the sender's workspace folder.
	Workspace string `json:"workspace"`

	Prompt string `json:"prompt"`

	// SessionHandle is the handle returned by the previous invocation for
	// this conversation, if any.
	SessionHandle string `json:"session_handle,omitempty"`

	// RunID identifies this invocation in logs.
	RunID string `json:"run_id"`
}

// Result is the structured outcome reported by the agent.
type Result struct {
	Status        string `json:"status"`
	Output        string `json:"output,omitempty"`
	Error         string `json:"error,omitempty"`
	SessionHandle string `json:"session_handle,omitempty"`
}

// Succeeded reports whether the agent produced a reply.
func (r Result) Succeeded() bool {
	return r.Status == StatusSuccess
}

// Validate checks the status is known.
func (r Result) Validate() error {
	switch r.Status {
	case StatusSuccess, StatusError:
		return nil
	default:
		return fmt.Errorf("unknown result status %q", r.Status)
	}
}

// Executor runs the agent for one request. Implementations must honor the
// context deadline.
type Executor interface {
	Invoke(ctx context.Context, req Request) (Result, error)
}

// Error describes a failed invocation.
type Error struct {
	// Op is the step that failed (e.g., "start", "run", "decode").
	Op string

	// RunID is the invocation that failed.
	RunID string

	Err error
}

func (e *Error) Error() string {
	if e.RunID != "" {
		return fmt.Sprintf("agent %s (run: %s): %v", e.Op, e.RunID, e.Err)
	}
	return fmt.Sprintf("agent %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
