package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runStoreContract exercises the behavior every Store backend must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("mark processed then lookup", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		processed, err := s.IsProcessed(ctx, "m1")
		require.NoError(t, err)
		assert.False(t, processed)

		at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		require.NoError(t, s.MarkProcessed(ctx, Record{
			MessageID:     "m1",
			ThreadID:      "t1",
			SenderAddress: "alice@example.com",
			Subject:       "Question",
			ProcessedAt:   at,
		}))

		processed, err = s.IsProcessed(ctx, "m1")
		require.NoError(t, err)
		assert.True(t, processed)

		rec, err := s.Record(ctx, "m1")
		require.NoError(t, err)
		assert.Equal(t, "t1", rec.ThreadID)
		assert.Equal(t, "alice@example.com", rec.SenderAddress)
		assert.Equal(t, "Question", rec.Subject)
		assert.True(t, at.Equal(rec.ProcessedAt))
		assert.False(t, rec.Responded())
	})

	t.Run("second claim is rejected", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.MarkProcessed(ctx, Record{MessageID: "m1", Subject: "first"}))
		err := s.MarkProcessed(ctx, Record{MessageID: "m1", Subject: "second"})
		assert.ErrorIs(t, err, ErrAlreadyProcessed)

		rec, err := s.Record(ctx, "m1")
		require.NoError(t, err)
		assert.Equal(t, "first", rec.Subject)
	})

	t.Run("concurrent claims have one winner", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		const workers = 8
		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int
		)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := s.MarkProcessed(ctx, Record{MessageID: "race"})
				if err == nil {
					mu.Lock()
					wins++
					mu.Unlock()
					return
				}
				assert.True(t, errors.Is(err, ErrAlreadyProcessed), "unexpected error: %v", err)
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, wins)
	})

	t.Run("mark responded", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.MarkProcessed(ctx, Record{MessageID: "m1"}))

		at := time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC)
		require.NoError(t, s.MarkResponded(ctx, "m1", at))

		rec, err := s.Record(ctx, "m1")
		require.NoError(t, err)
		require.True(t, rec.Responded())
		assert.True(t, at.Equal(*rec.RespondedAt))
	})

	t.Run("unknown message", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.Record(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)

		err = s.MarkResponded(ctx, "missing", time.Now())
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("session handles", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		handle, err := s.SessionHandle(ctx, "alice_at_example_dot_com")
		require.NoError(t, err)
		assert.Empty(t, handle)

		require.NoError(t, s.SaveSessionHandle(ctx, "alice_at_example_dot_com", "sess-1"))
		require.NoError(t, s.SaveSessionHandle(ctx, "alice_at_example_dot_com", "sess-2"))

		handle, err = s.SessionHandle(ctx, "alice_at_example_dot_com")
		require.NoError(t, err)
		assert.Equal(t, "sess-2", handle)
	})
}
