package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"group-quiz-hub/internal/domain"
)

// RankingCache stores the last good ranking of each quiz as JSON.
type RankingCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRankingCache(client *redis.Client, ttl time.Duration) *RankingCache {
	return &RankingCache{client: client, ttl: ttl}
}

func (c *RankingCache) Load(ctx context.Context, quizID string) (domain.Ranking, bool, error) {
	raw, err := c.client.Get(ctx, c.key(quizID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Ranking{}, false, nil
	}
	if err != nil {
		return domain.Ranking{}, false, err
	}
	var ranking domain.Ranking
	if err := json.Unmarshal(raw, &ranking); err != nil {
		return domain.Ranking{}, false, err
	}
	return ranking, true, nil
}

func (c *RankingCache) Store(ctx context.Context, ranking domain.Ranking) error {
	ranking.Stale = false
	raw, err := json.Marshal(ranking)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(ranking.QuizID), raw, c.ttl).Err()
}

func (c *RankingCache) key(quizID string) string {
	return "quiz:" + quizID + ":ranking"
}
