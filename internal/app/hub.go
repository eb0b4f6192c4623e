package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"group-quiz-hub/internal/domain"
	"group-quiz-hub/internal/metrics"
	"group-quiz-hub/internal/protocol"
)

// Options tunes hub timing and the redirect sent with the terminal event.
type Options struct {
	GracePeriod         time.Duration
	IdleTimeout         time.Duration
	SweepInterval       time.Duration
	RankingPollInterval time.Duration
	PersistenceTimeout  time.Duration
	// RedirectTemplate may contain {quiz_id} and {group_id}.
	RedirectTemplate string
}

// DefaultOptions mirrors the values in config/config.yaml.
func DefaultOptions() Options {
	return Options{
		GracePeriod:         3 * time.Second,
		IdleTimeout:         10 * time.Minute,
		SweepInterval:       time.Second,
		RankingPollInterval: 15 * time.Second,
		PersistenceTimeout:  10 * time.Second,
		RedirectTemplate:    "/quizzes/{quiz_id}/groups/{group_id}/result",
	}
}

// Dependencies are the collaborators a Hub is wired with.
type Dependencies struct {
	Persistence Persistence
	Directory   Directory
	Rooms       RoomStore
	Deadlines   DeadlineStore
	Rankings    RankingCache
	Events      EventBus
	Clock       clockwork.Clock
}

// Hub contains the collaborative session use cases.
type Hub struct {
	persistence Persistence
	directory   Directory
	events      EventBus
	clock       clockwork.Clock
	opts        Options

	registry  *Registry
	deadlines *DeadlineService
	ranking   *Aggregator

	mu          sync.Mutex
	rankingSubs map[string]func()
}

func NewHub(deps Dependencies, opts Options) *Hub {
	clock := deps.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	h := &Hub{
		persistence: deps.Persistence,
		directory:   deps.Directory,
		events:      deps.Events,
		clock:       clock,
		opts:        opts,
		registry:    NewRegistry(deps.Rooms, clock),
		rankingSubs: make(map[string]func()),
	}
	h.deadlines = NewDeadlineService(clock, deps.Deadlines, opts.SweepInterval, h.expire)
	h.ranking = NewAggregator(deps.Directory, deps.Persistence, deps.Rankings, clock, opts.RankingPollInterval)
	return h
}

func (h *Hub) Registry() *Registry         { return h.registry }
func (h *Hub) Deadlines() *DeadlineService { return h.deadlines }
func (h *Hub) Ranking() *Aggregator        { return h.ranking }

// Run drives the hub's background loops until ctx is done.
func (h *Hub) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return h.deadlines.Run(gctx) })
	g.Go(func() error { return h.ranking.Run(gctx, h.events) })
	g.Go(func() error { return h.evictIdle(gctx) })
	return g.Wait()
}

// Join registers peer under key. Members get the room snapshot first;
// observers of a leaderboard key get the current ranking.
func (h *Hub) Join(ctx context.Context, key domain.SessionKey, peer Peer) error {
	if key.IsLeaderboard() {
		return h.joinLeaderboard(ctx, key, peer)
	}

	if err := h.CheckMember(ctx, key, peer.UserID()); err != nil {
		return err
	}

	for attempt := 0; attempt < 3; attempt++ {
		room, err := h.loadRoom(ctx, key)
		if err != nil {
			return err
		}
		err = room.join(peer, func() int { return h.deadlines.RemainingSeconds(key) })
		if errors.Is(err, errRoomEvicted) {
			h.registry.rooms.Delete(key, room)
			continue
		}
		if err != nil {
			return err
		}
		log.Info().
			Str("session", key.String()).
			Str("user_id", peer.UserID()).
			Str("connection_id", peer.ID()).
			Msg("member joined")
		return nil
	}
	return domain.ErrSessionNotFound
}

func (h *Hub) joinLeaderboard(ctx context.Context, key domain.SessionKey, peer Peer) error {
	if _, err := h.directory.Quiz(ctx, key.QuizID); err != nil {
		return err
	}
	if _, err := h.registry.Join(key, peer, nil); err != nil {
		return err
	}
	cancel := h.ranking.Subscribe(key.QuizID, rankingPeer{peer})
	h.mu.Lock()
	h.rankingSubs[peer.ID()] = cancel
	h.mu.Unlock()

	if _, err := h.ranking.Refresh(ctx, key.QuizID); err != nil {
		peer.Send(protocol.Error{Message: "ranking is not available yet", Retryable: true})
	}
	return nil
}

// CheckMember returns ErrNotMember unless userID belongs to the group of key.
func (h *Hub) CheckMember(ctx context.Context, key domain.SessionKey, userID string) error {
	ok, err := h.directory.IsMember(ctx, key.GroupID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrNotMember
	}
	return nil
}

// Leave removes peer from its room.
func (h *Hub) Leave(key domain.SessionKey, peer Peer) {
	h.registry.Leave(key, peer)
	h.mu.Lock()
	cancel, ok := h.rankingSubs[peer.ID()]
	delete(h.rankingSubs, peer.ID())
	h.mu.Unlock()
	if ok {
		cancel()
	}
}

// Apply stores an answer edit from peer and fans it out to the room.
func (h *Hub) Apply(ctx context.Context, key domain.SessionKey, peer Peer, questionID, value string) (domain.AnswerRecord, error) {
	if key.IsLeaderboard() || peer.Role() == domain.RoleObserver {
		return domain.AnswerRecord{}, domain.ErrObserverReadOnly
	}
	room, ok := h.registry.Get(key)
	if !ok {
		return domain.AnswerRecord{}, domain.ErrSessionNotFound
	}

	ctx, cancel := h.persistenceContext(ctx)
	defer cancel()
	record, err := room.apply(ctx, func(ctx context.Context, rec domain.AnswerRecord) error {
		return h.persistence.SaveAnswer(ctx, key, rec)
	}, peer, questionID, value)
	if err != nil {
		if domain.IsRetryable(err) {
			metrics.PersistenceFailures.WithLabelValues("save_answer").Inc()
		}
		return domain.AnswerRecord{}, err
	}
	metrics.AnswersApplied.Inc()
	return record, nil
}

// State returns the current snapshot of a session room.
func (h *Hub) State(ctx context.Context, key domain.SessionKey) (protocol.CurrentState, error) {
	room, err := h.loadRoom(ctx, key)
	if err != nil {
		return protocol.CurrentState{}, err
	}
	return room.State(func() int { return h.deadlines.RemainingSeconds(key) }), nil
}

// ChangeQuestion relays a member's navigation to the rest of the room.
func (h *Hub) ChangeQuestion(key domain.SessionKey, peer Peer, index int) {
	if room, ok := h.registry.Get(key); ok {
		room.questionChanged(peer, index)
	}
}

// Submit moves the session to its terminal state exactly once. Later calls,
// whatever their trigger, return the stored result. A PersistenceError
// leaves the session active and may be retried.
func (h *Hub) Submit(ctx context.Context, key domain.SessionKey, trigger domain.Trigger, actor string) (domain.SubmissionResult, error) {
	if key.IsLeaderboard() {
		return domain.SubmissionResult{}, domain.ErrObserverReadOnly
	}
	room, err := h.loadRoom(ctx, key)
	if err != nil {
		return domain.SubmissionResult{}, err
	}

	pctx, cancel := h.persistenceContext(ctx)
	defer cancel()
	result, first, err := room.submit(pctx, func(ctx context.Context, res domain.SubmissionResult) (domain.SubmissionResult, error) {
		return h.persistence.SaveSubmission(ctx, res)
	}, trigger, actor, h.redirectURL(key))
	if err != nil {
		if domain.IsRetryable(err) {
			metrics.PersistenceFailures.WithLabelValues("save_submission").Inc()
		}
		log.Error().Err(err).Str("session", key.String()).Str("trigger", string(trigger)).Msg("submission failed")
		return domain.SubmissionResult{}, err
	}
	if !first {
		return result, nil
	}

	metrics.Submissions.WithLabelValues(string(trigger)).Inc()
	log.Info().
		Str("session", key.String()).
		Str("trigger", string(trigger)).
		Int("score", result.Score).
		Msg("session submitted")

	h.clock.AfterFunc(h.opts.GracePeriod, func() {
		h.evict(key, room, "session submitted")
	})
	h.publishSubmission(ctx, result)
	return result, nil
}

// RequestRanking recomputes the leaderboard of quizID. Subscribers get the
// pushed list; peer gets it directly when it is not one of them.
func (h *Hub) RequestRanking(ctx context.Context, quizID string, peer Peer) error {
	ranking, err := h.ranking.Refresh(ctx, quizID)
	if err != nil {
		return err
	}
	h.mu.Lock()
	_, subscribed := h.rankingSubs[peer.ID()]
	h.mu.Unlock()
	if !subscribed {
		peer.Send(protocol.NewRankingUpdate(ranking))
	}
	return nil
}

// loadRoom returns the room for key, bootstrapping it from the Persistence
// API and arming its deadline the first time.
func (h *Hub) loadRoom(ctx context.Context, key domain.SessionKey) (*Room, error) {
	for attempt := 0; attempt < 3; attempt++ {
		room := h.registry.Room(key)
		boot, fresh, err := room.load(ctx, func(ctx context.Context) (domain.SessionBootstrap, error) {
			return h.bootstrap(ctx, key)
		})
		if errors.Is(err, errRoomEvicted) {
			h.registry.rooms.Delete(key, room)
			continue
		}
		if err != nil {
			if room.IsEmpty() {
				h.registry.rooms.Delete(key, room)
			}
			return nil, err
		}
		if fresh && boot.Submission == nil {
			if _, err := h.deadlines.Start(ctx, key, boot.TimeRemaining); err != nil {
				return nil, err
			}
		}
		return room, nil
	}
	return nil, domain.ErrSessionNotFound
}

func (h *Hub) bootstrap(ctx context.Context, key domain.SessionKey) (domain.SessionBootstrap, error) {
	boot, err := h.persistence.Bootstrap(ctx, key)
	if err != nil {
		metrics.PersistenceFailures.WithLabelValues("bootstrap").Inc()
		return domain.SessionBootstrap{}, fmt.Errorf("bootstrap %s: %w", key, err)
	}
	if boot.Quiz.ID == "" {
		quiz, err := h.directory.Quiz(ctx, key.QuizID)
		if err != nil {
			return domain.SessionBootstrap{}, err
		}
		boot.Quiz = quiz
	}
	return boot, nil
}

func (h *Hub) expire(ctx context.Context, key domain.SessionKey) error {
	log.Info().Str("session", key.String()).Msg("deadline reached, auto-submitting")
	_, err := h.Submit(ctx, key, domain.TriggerDeadline, "")
	return err
}

func (h *Hub) evict(key domain.SessionKey, room *Room, reason string) {
	h.registry.Evict(key, room, CloseNormal, reason)
	h.deadlines.Cancel(key)
}

func (h *Hub) evictIdle(ctx context.Context) error {
	if h.opts.IdleTimeout <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := h.clock.NewTicker(h.opts.IdleTimeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			h.sweepIdle()
		}
	}
}

func (h *Hub) sweepIdle() {
	for _, key := range h.registry.EvictIdle(h.opts.IdleTimeout) {
		h.deadlines.Cancel(key)
	}
}

func (h *Hub) publishSubmission(ctx context.Context, result domain.SubmissionResult) {
	if h.events == nil {
		return
	}
	ev := domain.SubmissionEvent{
		ID:          uuid.NewString(),
		QuizID:      result.QuizID,
		GroupID:     result.GroupID,
		Score:       result.Score,
		SubmittedAt: result.SubmittedAt,
	}
	if err := h.events.PublishSubmission(context.WithoutCancel(ctx), ev); err != nil {
		// Subscribers still catch up on the next poll.
		log.Warn().Err(err).Str("quiz_id", ev.QuizID).Msg("failed to publish submission event")
	}
}

func (h *Hub) persistenceContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if h.opts.PersistenceTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, h.opts.PersistenceTimeout)
}

func (h *Hub) redirectURL(key domain.SessionKey) string {
	return strings.NewReplacer("{quiz_id}", key.QuizID, "{group_id}", key.GroupID).Replace(h.opts.RedirectTemplate)
}

// rankingPeer adapts a leaderboard observer to RankingSubscriber.
type rankingPeer struct {
	Peer
}

func (p rankingPeer) DeliverRanking(r domain.Ranking) bool {
	return p.Send(protocol.NewRankingUpdate(r))
}
