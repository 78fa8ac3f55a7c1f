package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/teemow/inboxagent/internal/gmail"
	"github.com/teemow/inboxagent/internal/store"
)

// DedupGate guards the pipeline against processing a message twice.
//
// Claim must run before the message is marked read or handed to the agent.
// A crash between Claim and the reply drops the message: it stays claimed
// and is never retried.
type DedupGate struct {
	store store.IdempotencyStore
	now   func() time.Time
}

// NewDedupGate creates a gate backed by s.
func NewDedupGate(s store.IdempotencyStore) *DedupGate {
	return &DedupGate{store: s, now: time.Now}
}

// ShouldProcess reports whether no record exists for messageID.
func (g *DedupGate) ShouldProcess(ctx context.Context, messageID string) (bool, error) {
	processed, err := g.store.IsProcessed(ctx, messageID)
	if err != nil {
		return false, fmt.Errorf("checking idempotency record: %w", err)
	}
	return !processed, nil
}

// Claim writes the idempotency record for msg. It returns
// store.ErrAlreadyProcessed when another claim won.
func (g *DedupGate) Claim(ctx context.Context, msg gmail.ParsedMessage) error {
	return g.store.MarkProcessed(ctx, store.Record{
		MessageID:     msg.ID,
		ThreadID:      msg.ThreadID,
		SenderAddress: msg.SenderAddress,
		Subject:       msg.Subject,
		ProcessedAt:   g.now(),
	})
}

// MarkResponded records that the reply for messageID was sent.
func (g *DedupGate) MarkResponded(ctx context.Context, messageID string) error {
	return g.store.MarkResponded(ctx, messageID, g.now())
}
