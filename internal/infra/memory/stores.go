package memory

import (
	"context"
	"sync"
	"time"

	"group-quiz-hub/internal/domain"
)

// DeadlineStore is a process-local app.DeadlineStore.
type DeadlineStore struct {
	mu        sync.Mutex
	deadlines map[domain.SessionKey]time.Time
}

func NewDeadlineStore() *DeadlineStore {
	return &DeadlineStore{deadlines: make(map[domain.SessionKey]time.Time)}
}

func (s *DeadlineStore) Claim(_ context.Context, key domain.SessionKey, end time.Time) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.deadlines[key]; ok {
		return existing, nil
	}
	s.deadlines[key] = end
	return end, nil
}

func (s *DeadlineStore) Clear(_ context.Context, key domain.SessionKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.deadlines, key)
	return nil
}

// RankingCache keeps the last good ranking per quiz in memory.
type RankingCache struct {
	mu       sync.RWMutex
	rankings map[string]domain.Ranking
}

func NewRankingCache() *RankingCache {
	return &RankingCache{rankings: make(map[string]domain.Ranking)}
}

func (c *RankingCache) Load(_ context.Context, quizID string) (domain.Ranking, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.rankings[quizID]
	return r, ok, nil
}

func (c *RankingCache) Store(_ context.Context, ranking domain.Ranking) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rankings[ranking.QuizID] = ranking
	return nil
}

// EventBus delivers submission events to subscribers of this process only.
type EventBus struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[int]func(domain.SubmissionEvent)
}

func NewEventBus() *EventBus {
	return &EventBus{handlers: make(map[int]func(domain.SubmissionEvent))}
}

func (b *EventBus) PublishSubmission(_ context.Context, event domain.SubmissionEvent) error {
	b.mu.RLock()
	handlers := make([]func(domain.SubmissionEvent), 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()
	for _, h := range handlers {
		h(event)
	}
	return nil
}

func (b *EventBus) SubscribeSubmissions(_ context.Context, handle func(domain.SubmissionEvent)) (func(), error) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = handle
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.handlers, id)
		b.mu.Unlock()
	}, nil
}
