// Package store persists idempotency records and agent session handles.
//
// Two backends implement Store: SQLiteStore for single-host deployments and
// RedisStore for deployments that already run Redis. Both make MarkProcessed
// an insert-if-absent write so that concurrent claims for the same message
// resolve to exactly one winner.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrAlreadyProcessed is returned by MarkProcessed when a record for the
	// message already exists.
	ErrAlreadyProcessed = errors.New("message already processed")

	// ErrNotFound is returned when no record exists for a message.
	ErrNotFound = errors.New("record not found")
)

// Record is the durable marker proving a message was claimed for processing.
// RespondedAt is nil until a reply has been sent.
type Record struct {
	MessageID     string     `db:"message_id" json:"message_id"`
	ThreadID      string     `db:"thread_id" json:"thread_id"`
	SenderAddress string     `db:"sender_address" json:"sender_address"`
	Subject       string     `db:"subject" json:"subject"`
	ProcessedAt   time.Time  `db:"processed_at" json:"processed_at"`
	RespondedAt   *time.Time `db:"responded_at" json:"responded_at,omitempty"`
}

// Responded reports whether a reply was sent for the record.
func (r *Record) Responded() bool {
	return r.RespondedAt != nil
}

// IdempotencyStore tracks which messages have been claimed and answered.
type IdempotencyStore interface {
	IsProcessed(ctx context.Context, messageID string) (bool, error)

	// MarkProcessed inserts rec if no record exists for rec.MessageID,
	// otherwise it returns ErrAlreadyProcessed and leaves the record untouched.
	MarkProcessed(ctx context.Context, rec Record) error

	// MarkResponded sets RespondedAt. Returns ErrNotFound for unknown ids.
	MarkResponded(ctx context.Context, messageID string, at time.Time) error

	Record(ctx context.Context, messageID string) (*Record, error)
}

// SessionStore keeps the opaque agent session handle per sender key.
type SessionStore interface {
	// SessionHandle returns "" when no handle has been saved for key.
	SessionHandle(ctx context.Context, senderKey string) (string, error)
	SaveSessionHandle(ctx context.Context, senderKey, handle string) error
}

// Store is the full persistence surface used by the bridge.
type Store interface {
	IdempotencyStore
	SessionStore
	Close() error
}
