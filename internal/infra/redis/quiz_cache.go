package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"group-quiz-hub/internal/app"
	"group-quiz-hub/internal/domain"
)

// QuizCache caches quiz definitions in Redis and falls back to the wrapped
// Directory on a miss. Groups and membership are passed through.
// Questions are stored as: HSET quiz:{quizID}:questions {questionID} {json}
// Metadata is stored as:   HSET quiz:{quizID}:meta title|duration_seconds|order
type QuizCache struct {
	app.Directory
	client *redis.Client
	ttl    time.Duration
	sf     singleflight.Group

	rndMu sync.Mutex
	rnd   *rand.Rand
}

func NewQuizCache(client *redis.Client, inner app.Directory, ttl time.Duration) *QuizCache {
	return &QuizCache{
		Directory: inner,
		client:    client,
		ttl:       ttl,
		rnd:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *QuizCache) Quiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	if quiz, ok := c.cached(ctx, quizID); ok {
		return quiz, nil
	}

	result, err, _ := c.sf.Do(quizID, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if quiz, ok := c.cached(ctx, quizID); ok {
			return quiz, nil
		}

		quiz, err := c.Directory.Quiz(ctx, quizID)
		if err != nil {
			return domain.Quiz{}, err
		}
		c.fill(ctx, quiz)
		return quiz, nil
	})
	if err != nil {
		return domain.Quiz{}, err
	}
	return result.(domain.Quiz), nil
}

func (c *QuizCache) cached(ctx context.Context, quizID string) (domain.Quiz, bool) {
	meta, err := c.client.HGetAll(ctx, c.metaKey(quizID)).Result()
	if err != nil || len(meta) == 0 {
		return domain.Quiz{}, false
	}
	questions, err := c.client.HGetAll(ctx, c.questionsKey(quizID)).Result()
	if err != nil {
		return domain.Quiz{}, false
	}
	quiz, err := buildQuizFromCache(quizID, meta, questions)
	if err != nil {
		return domain.Quiz{}, false
	}
	return quiz, true
}

func (c *QuizCache) fill(ctx context.Context, quiz domain.Quiz) {
	metaKey, questionsKey := c.metaKey(quiz.ID), c.questionsKey(quiz.ID)
	order := make([]string, 0, len(quiz.Questions))

	pipe := c.client.TxPipeline()
	pipe.Del(ctx, metaKey, questionsKey)
	for _, q := range quiz.Questions {
		raw, err := json.Marshal(q)
		if err != nil {
			return
		}
		order = append(order, q.ID)
		pipe.HSet(ctx, questionsKey, q.ID, raw)
	}
	pipe.HSet(ctx, metaKey,
		"title", quiz.Title,
		"duration_seconds", quiz.DurationSeconds,
		"order", strings.Join(order, ","),
	)
	if ttl := c.ttlWithJitter(); ttl > 0 {
		pipe.Expire(ctx, metaKey, ttl)
		pipe.Expire(ctx, questionsKey, ttl)
	}
	_, _ = pipe.Exec(ctx)
}

func (c *QuizCache) metaKey(quizID string) string {
	return "quiz:" + quizID + ":meta"
}

func (c *QuizCache) questionsKey(quizID string) string {
	return "quiz:" + quizID + ":questions"
}

func buildQuizFromCache(quizID string, meta, questions map[string]string) (domain.Quiz, error) {
	duration, err := strconv.Atoi(meta["duration_seconds"])
	if err != nil {
		return domain.Quiz{}, fmt.Errorf("cached duration: %w", err)
	}
	quiz := domain.Quiz{ID: quizID, Title: meta["title"], DurationSeconds: duration}
	if meta["order"] == "" {
		return quiz, nil
	}
	for _, id := range strings.Split(meta["order"], ",") {
		raw, ok := questions[id]
		if !ok {
			return domain.Quiz{}, fmt.Errorf("cached question %s missing", id)
		}
		var q domain.Question
		if err := json.Unmarshal([]byte(raw), &q); err != nil {
			return domain.Quiz{}, err
		}
		quiz.Questions = append(quiz.Questions, q)
	}
	return quiz, nil
}

func (c *QuizCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	c.rndMu.Lock()
	defer c.rndMu.Unlock()
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
