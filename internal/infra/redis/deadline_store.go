package redis

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"group-quiz-hub/internal/domain"
)

// DeadlineStore persists the absolute end of each session as unix
// milliseconds. The first writer wins: SETNX makes every hub instance and
// every restart agree on a single deadline.
type DeadlineStore struct {
	client *redis.Client
	// retention is how long a deadline outlives its end time.
	retention time.Duration
}

func NewDeadlineStore(client *redis.Client, retention time.Duration) *DeadlineStore {
	return &DeadlineStore{client: client, retention: retention}
}

func (s *DeadlineStore) Claim(ctx context.Context, key domain.SessionKey, end time.Time) (time.Time, error) {
	rkey := s.key(key)
	ttl := time.Until(end) + s.retention
	if ttl <= 0 {
		ttl = s.retention
	}
	if _, err := s.client.SetNX(ctx, rkey, end.UnixMilli(), ttl).Result(); err != nil {
		return time.Time{}, err
	}

	raw, err := s.client.Get(ctx, rkey).Result()
	if errors.Is(err, redis.Nil) {
		// expired between the two calls
		return end, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms), nil
}

func (s *DeadlineStore) Clear(ctx context.Context, key domain.SessionKey) error {
	return s.client.Del(ctx, s.key(key)).Err()
}

func (s *DeadlineStore) key(key domain.SessionKey) string {
	return "quiz:deadline:" + key.String()
}
