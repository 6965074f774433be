package goMFA

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var errHistoryBackend = errors.New("login history: backend error")

// historyStore keeps a bounded per-user ring of recent login attempts in a
// Redis list, newest first. It is a convenience view; the audit stream is
// the authoritative record.
type historyStore struct {
	redis      redis.UniversalClient
	prefix     string
	maxEntries int
	ttl        time.Duration
}

func newHistoryStore(redisClient redis.UniversalClient, prefix string, maxEntries int, ttl time.Duration) *historyStore {
	if prefix == "" {
		prefix = "alh"
	}
	if maxEntries < 1 {
		maxEntries = 100
	}
	return &historyStore{redis: redisClient, prefix: prefix, maxEntries: maxEntries, ttl: ttl}
}

func (s *historyStore) key(userID string) string {
	return s.prefix + ":" + userID
}

// Record appends one attempt and trims the ring to its bound.
func (s *historyStore) Record(ctx context.Context, userID string, attempt LoginAttempt) error {
	data, err := json.Marshal(attempt)
	if err != nil {
		return err
	}

	key := s.key(userID)
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, data)
		pipe.LTrim(ctx, key, 0, int64(s.maxEntries-1))
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", errHistoryBackend, err)
	}
	return nil
}

// List returns up to limit attempts, newest first.
func (s *historyStore) List(ctx context.Context, userID string, limit int) ([]LoginAttempt, error) {
	if limit < 1 || limit > s.maxEntries {
		limit = s.maxEntries
	}

	rows, err := s.redis.LRange(ctx, s.key(userID), 0, int64(limit-1)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []LoginAttempt{}, nil
		}
		return nil, fmt.Errorf("%w: %v", errHistoryBackend, err)
	}

	attempts := make([]LoginAttempt, 0, len(rows))
	for _, row := range rows {
		var attempt LoginAttempt
		if err := json.Unmarshal([]byte(row), &attempt); err != nil {
			// Skip malformed rows rather than failing the whole listing.
			continue
		}
		attempts = append(attempts, attempt)
	}

	return attempts, nil
}
