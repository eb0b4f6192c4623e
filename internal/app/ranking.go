package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"group-quiz-hub/internal/domain"
	"group-quiz-hub/internal/metrics"
)

// RankingSubscriber receives full ranking lists for one quiz.
type RankingSubscriber interface {
	ID() string
	DeliverRanking(r domain.Ranking) bool
}

// Aggregator recomputes quiz leaderboards from persisted data only; it never
// looks at live room state.
type Aggregator struct {
	directory   Directory
	persistence Persistence
	cache       RankingCache
	clock       clockwork.Clock
	poll        time.Duration
	sf          singleflight.Group

	mu   sync.RWMutex
	subs map[string]map[string]RankingSubscriber
}

func NewAggregator(directory Directory, persistence Persistence, cache RankingCache, clock clockwork.Clock, poll time.Duration) *Aggregator {
	return &Aggregator{
		directory:   directory,
		persistence: persistence,
		cache:       cache,
		clock:       clock,
		poll:        poll,
		subs:        make(map[string]map[string]RankingSubscriber),
	}
}

// Subscribe registers sub for quizID. The caller must invoke the returned
// cancel function to avoid leaks.
func (a *Aggregator) Subscribe(quizID string, sub RankingSubscriber) func() {
	a.mu.Lock()
	if a.subs[quizID] == nil {
		a.subs[quizID] = make(map[string]RankingSubscriber)
	}
	a.subs[quizID][sub.ID()] = sub
	a.mu.Unlock()

	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		delete(a.subs[quizID], sub.ID())
		if len(a.subs[quizID]) == 0 {
			delete(a.subs, quizID)
		}
	}
}

// Refresh recomputes the ranking for quizID and pushes the full list to every
// subscriber. When recomputation fails the last good list is returned and
// pushed with Stale set; ErrRankingUnavailable means there was none.
// Concurrent refreshes of one quiz share a single recomputation.
func (a *Aggregator) Refresh(ctx context.Context, quizID string) (domain.Ranking, error) {
	v, err, _ := a.sf.Do(quizID, func() (interface{}, error) {
		ranking, err := a.refresh(ctx, quizID)
		if err != nil {
			return domain.Ranking{}, err
		}
		a.push(ranking)
		return ranking, nil
	})
	if err != nil {
		return domain.Ranking{}, err
	}
	return v.(domain.Ranking), nil
}

func (a *Aggregator) refresh(ctx context.Context, quizID string) (domain.Ranking, error) {
	start := time.Now()
	ranking, err := a.compute(ctx, quizID)
	metrics.RankingDuration.Observe(time.Since(start).Seconds())
	if err == nil {
		metrics.RankingRefreshes.WithLabelValues("ok").Inc()
		if a.cache != nil {
			if cerr := a.cache.Store(ctx, ranking); cerr != nil {
				log.Warn().Err(cerr).Str("quiz_id", quizID).Msg("failed to cache ranking")
			}
		}
		return ranking, nil
	}

	log.Warn().Err(err).Str("quiz_id", quizID).Msg("ranking refresh failed, falling back to last known good")
	if a.cache != nil {
		cached, ok, cerr := a.cache.Load(ctx, quizID)
		if cerr == nil && ok {
			metrics.RankingRefreshes.WithLabelValues("stale").Inc()
			cached.Stale = true
			return cached, nil
		}
	}
	metrics.RankingRefreshes.WithLabelValues("failed").Inc()
	return domain.Ranking{}, fmt.Errorf("%w: %v", domain.ErrRankingUnavailable, err)
}

func (a *Aggregator) compute(ctx context.Context, quizID string) (domain.Ranking, error) {
	var (
		quiz     domain.Quiz
		groups   []domain.Group
		activity []domain.GroupActivity
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		quiz, err = a.directory.Quiz(gctx, quizID)
		return err
	})
	g.Go(func() error {
		var err error
		groups, err = a.directory.Groups(gctx, quizID)
		return err
	})
	g.Go(func() error {
		var err error
		activity, err = a.persistence.Activity(gctx, quizID)
		return err
	})
	if err := g.Wait(); err != nil {
		return domain.Ranking{}, err
	}
	return domain.BuildRanking(quiz, groups, activity, a.clock.Now()), nil
}

func (a *Aggregator) push(r domain.Ranking) {
	a.mu.RLock()
	targets := make([]RankingSubscriber, 0, len(a.subs[r.QuizID]))
	for _, sub := range a.subs[r.QuizID] {
		targets = append(targets, sub)
	}
	a.mu.RUnlock()

	for _, sub := range targets {
		if !sub.DeliverRanking(r) {
			log.Warn().Str("quiz_id", r.QuizID).Str("subscriber", sub.ID()).Msg("ranking delivery dropped")
		}
	}
}

func (a *Aggregator) subscribedQuizzes() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	quizzes := make([]string, 0, len(a.subs))
	for quizID := range a.subs {
		quizzes = append(quizzes, quizID)
	}
	return quizzes
}

// Run refreshes on submission events from bus and, as a fallback, polls
// every quiz that has subscribers.
func (a *Aggregator) Run(ctx context.Context, bus EventBus) error {
	if bus != nil {
		unsubscribe, err := bus.SubscribeSubmissions(ctx, func(ev domain.SubmissionEvent) {
			if _, err := a.Refresh(ctx, ev.QuizID); err != nil {
				log.Error().Err(err).Str("quiz_id", ev.QuizID).Msg("ranking refresh after submission failed")
			}
		})
		if err != nil {
			return fmt.Errorf("subscribe submissions: %w", err)
		}
		defer unsubscribe()
	}

	if a.poll <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := a.clock.NewTicker(a.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			for _, quizID := range a.subscribedQuizzes() {
				if _, err := a.Refresh(ctx, quizID); err != nil {
					log.Debug().Err(err).Str("quiz_id", quizID).Msg("ranking poll failed")
				}
			}
		}
	}
}
