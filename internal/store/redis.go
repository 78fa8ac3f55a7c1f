package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis hash fields for a processed message.
const (
	fieldThreadID      = "thread_id"
	fieldSenderAddress = "sender_address"
	fieldSubject       = "subject"
	fieldProcessedAt   = "processed_at"
	fieldRespondedAt   = "responded_at"
)

// RedisStore implements Store on top of Redis hashes.
//
// Keys:
//
//	<prefix>:msg:<message-id>      hash of Record fields
//	<prefix>:session:<sender-key>  session handle string
type RedisStore struct {
	client *redis.Client
	prefix string
}

var _ Store = (*RedisStore)(nil)

// RedisOptions configures NewRedisStore.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// NewRedisStore connects to Redis and verifies the connection with PING.
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", opts.Addr, err)
	}

	return NewRedisStoreFromClient(client, opts.Prefix), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "inboxagent"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) messageKey(messageID string) string {
	return s.prefix + ":msg:" + messageID
}

func (s *RedisStore) sessionKey(senderKey string) string {
	return s.prefix + ":session:" + senderKey
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// IsProcessed reports whether a record exists for messageID.
func (s *RedisStore) IsProcessed(ctx context.Context, messageID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.messageKey(messageID)).Result()
	if err != nil {
		return false, fmt.Errorf("checking message %s: %w", messageID, err)
	}
	return n > 0, nil
}

// MarkProcessed claims the message with HSETNX on processed_at, then fills
// in the remaining fields. Only the first claimant writes them.
func (s *RedisStore) MarkProcessed(ctx context.Context, rec Record) error {
	if rec.ProcessedAt.IsZero() {
		rec.ProcessedAt = time.Now()
	}

	key := s.messageKey(rec.MessageID)
	claimed, err := s.client.HSetNX(ctx, key, fieldProcessedAt, formatTime(rec.ProcessedAt)).Result()
	if err != nil {
		return fmt.Errorf("marking message %s processed: %w", rec.MessageID, err)
	}
	if !claimed {
		return ErrAlreadyProcessed
	}

	err = s.client.HSet(ctx, key,
		fieldThreadID, rec.ThreadID,
		fieldSenderAddress, rec.SenderAddress,
		fieldSubject, rec.Subject,
	).Err()
	if err != nil {
		return fmt.Errorf("marking message %s processed: %w", rec.MessageID, err)
	}
	return nil
}

// MarkResponded records when the reply for messageID was sent.
func (s *RedisStore) MarkResponded(ctx context.Context, messageID string, at time.Time) error {
	key := s.messageKey(messageID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("marking message %s responded: %w", messageID, err)
	}
	if exists == 0 {
		return ErrNotFound
	}

	if err := s.client.HSet(ctx, key, fieldRespondedAt, formatTime(at)).Err(); err != nil {
		return fmt.Errorf("marking message %s responded: %w", messageID, err)
	}
	return nil
}

// Record returns the idempotency record for messageID.
func (s *RedisStore) Record(ctx context.Context, messageID string) (*Record, error) {
	fields, err := s.client.HGetAll(ctx, s.messageKey(messageID)).Result()
	if err != nil {
		return nil, fmt.Errorf("getting record %s: %w", messageID, err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	rec := &Record{
		MessageID:     messageID,
		ThreadID:      fields[fieldThreadID],
		SenderAddress: fields[fieldSenderAddress],
		Subject:       fields[fieldSubject],
	}

	if rec.ProcessedAt, err = parseTime(fields[fieldProcessedAt]); err != nil {
		return nil, fmt.Errorf("parsing processed_at for %s: %w", messageID, err)
	}

	if v, ok := fields[fieldRespondedAt]; ok {
		at, err := parseTime(v)
		if err != nil {
			return nil, fmt.Errorf("parsing responded_at for %s: %w", messageID, err)
		}
		rec.RespondedAt = &at
	}

	return rec, nil
}

// SessionHandle returns the saved session handle for senderKey, or "".
func (s *RedisStore) SessionHandle(ctx context.Context, senderKey string) (string, error) {
	handle, err := s.client.Get(ctx, s.sessionKey(senderKey)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("getting session for %s: %w", senderKey, err)
	}
	return handle, nil
}

// SaveSessionHandle stores the session handle for senderKey without expiry.
func (s *RedisStore) SaveSessionHandle(ctx context.Context, senderKey, handle string) error {
	if err := s.client.Set(ctx, s.sessionKey(senderKey), handle, 0).Err(); err != nil {
		return fmt.Errorf("saving session for %s: %w", senderKey, err)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
