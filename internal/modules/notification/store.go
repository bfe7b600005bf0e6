// README: Durable append-only notification log backed by a Redis stream.
package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	streamKey = "dispatch:notifications"
	// Oldest entries are trimmed past this length.
	streamMaxLen = 10000
)

type Store struct {
	redis *redis.Client
}

func NewStore(redis *redis.Client) *Store {
	return &Store{redis: redis}
}

// Append records e and returns its stream id.
func (s *Store) Append(ctx context.Context, e Entry) (string, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	return s.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey,
		MaxLen: streamMaxLen,
		Values: map[string]interface{}{
			"type":  string(e.Type),
			"entry": string(body),
		},
	}).Result()
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int64) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	msgs, err := s.redis.XRevRangeN(ctx, streamKey, "+", "-", limit).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(msgs))
	for _, m := range msgs {
		raw, ok := m.Values["entry"].(string)
		if !ok {
			return nil, fmt.Errorf("notification %s has no entry field", m.ID)
		}
		var e Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("decode notification %s: %w", m.ID, err)
		}
		e.ID = m.ID
		out = append(out, e)
	}
	return out, nil
}
