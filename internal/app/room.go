package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"group-quiz-hub/internal/domain"
	"group-quiz-hub/internal/metrics"
	"group-quiz-hub/internal/protocol"
)

// Close codes handed to Peer.Close; they match RFC 6455.
const (
	CloseNormal   = 1000
	ClosePolicy   = 1008
	CloseTryAgain = 1013
)

var errRoomEvicted = errors.New("room evicted")

// Room is the in-memory representation of one session: its peers, the
// current answer per question and the submission state. Every mutation runs
// under mu, so edits from different members are applied one at a time in
// arrival order.
type Room struct {
	key   domain.SessionKey
	clock clockwork.Clock

	mu         sync.Mutex
	loaded     bool
	evicted    bool
	quiz       domain.Quiz
	group      domain.Group
	status     domain.SessionStatus
	seq        uint64
	answers    map[string]domain.AnswerRecord
	result     *domain.SubmissionResult
	peers      map[string]Peer
	emptySince time.Time
}

// NewRoom is exported for room stores in the infra packages.
func NewRoom(key domain.SessionKey, clock clockwork.Clock) *Room {
	return &Room{
		key:        key,
		clock:      clock,
		status:     domain.StatusActive,
		answers:    make(map[string]domain.AnswerRecord),
		peers:      make(map[string]Peer),
		emptySince: clock.Now(),
	}
}

func (r *Room) Key() domain.SessionKey { return r.key }

// load seeds the room from the Persistence API exactly once.
func (r *Room) load(ctx context.Context, bootstrap func(context.Context) (domain.SessionBootstrap, error)) (domain.SessionBootstrap, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.evicted {
		return domain.SessionBootstrap{}, false, errRoomEvicted
	}
	if r.loaded {
		return domain.SessionBootstrap{}, false, nil
	}

	boot, err := bootstrap(ctx)
	if err != nil {
		return domain.SessionBootstrap{}, false, err
	}
	r.quiz = boot.Quiz
	r.group = boot.Group
	for _, rec := range boot.Answers {
		if current, ok := r.answers[rec.QuestionID]; ok && current.Seq >= rec.Seq {
			continue
		}
		r.answers[rec.QuestionID] = rec
		if rec.Seq > r.seq {
			r.seq = rec.Seq
		}
	}
	if boot.Submission != nil {
		result := *boot.Submission
		r.result = &result
		r.status = domain.StatusSubmitted
	}
	r.loaded = true
	return boot, true, nil
}

// join registers peer. Members receive the full snapshot before any
// incremental event because it is queued under the same lock that makes the
// peer visible to broadcasts.
func (r *Room) join(peer Peer, remaining func() int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.evicted {
		return errRoomEvicted
	}

	if !r.key.IsLeaderboard() {
		peer.Send(r.currentStateLocked(remaining))
		if r.status == domain.StatusSubmitted {
			peer.Send(r.submittedMessageLocked())
			peer.Seal()
			peer.Close(CloseNormal, "session submitted")
			return nil
		}
	}

	r.peers[peer.ID()] = peer
	r.broadcastLocked(protocol.UserJoined{
		UserID:  peer.UserID(),
		Message: fmt.Sprintf("%s joined", displayName(peer)),
	}, peer.ID())
	return nil
}

// leave removes peer and returns the number of peers still connected.
func (r *Room) leave(peer Peer) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.peers[peer.ID()]; !ok {
		return len(r.peers)
	}
	delete(r.peers, peer.ID())
	if len(r.peers) == 0 {
		r.emptySince = r.clock.Now()
	}
	// Nothing follows the terminal event.
	if r.status == domain.StatusActive {
		r.broadcastLocked(protocol.UserLeft{
			UserID:  peer.UserID(),
			Message: fmt.Sprintf("%s left", displayName(peer)),
		}, "")
	}
	return len(r.peers)
}

// apply validates and stores a write as the new current value for its
// question. The sequence number is assigned here, at processing time; the
// write is persisted before it becomes visible.
func (r *Room) apply(ctx context.Context, persist func(context.Context, domain.AnswerRecord) error, actor Peer, questionID, value string) (domain.AnswerRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.evicted {
		return domain.AnswerRecord{}, domain.ErrSessionNotFound
	}
	if r.status == domain.StatusSubmitted {
		return domain.AnswerRecord{}, domain.ErrSessionClosed
	}
	if err := domain.ValidateAnswer(r.quiz, questionID, value); err != nil {
		return domain.AnswerRecord{}, err
	}

	record := domain.AnswerRecord{
		QuestionID:    questionID,
		Value:         value,
		WrittenBy:     actor.UserID(),
		WrittenByName: actor.Username(),
		Seq:           r.seq + 1,
		WrittenAt:     r.clock.Now(),
	}
	if err := persist(ctx, record); err != nil {
		return domain.AnswerRecord{}, &domain.PersistenceError{Op: "save answer", Err: err}
	}
	r.seq = record.Seq
	r.answers[questionID] = record

	r.broadcastLocked(protocol.AnswerUpdated{
		QuestionID:     record.QuestionID,
		SelectedChoice: record.Value,
		Username:       record.WrittenByName,
		UserID:         record.WrittenBy,
		Seq:            record.Seq,
	}, actor.ID())
	return record, nil
}

// questionChanged relays navigation to the rest of the room.
func (r *Room) questionChanged(actor Peer, index int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != domain.StatusActive {
		return
	}
	r.broadcastLocked(protocol.PeerQuestionChanged{
		QuestionIndex: index,
		Username:      actor.Username(),
		UserID:        actor.UserID(),
	}, actor.ID())
}

// submit drives the room to its terminal state. The first caller persists
// and broadcasts; every later caller gets the stored result back with
// first == false. On persistence failure the room stays active.
func (r *Room) submit(ctx context.Context, persist func(context.Context, domain.SubmissionResult) (domain.SubmissionResult, error), trigger domain.Trigger, actor, redirect string) (domain.SubmissionResult, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status == domain.StatusSubmitted && r.result != nil {
		return *r.result, false, nil
	}
	if r.evicted {
		return domain.SubmissionResult{}, false, domain.ErrSessionNotFound
	}

	answers := r.snapshotLocked()
	score, correct, total := domain.Score(r.quiz, answers)
	candidate := domain.SubmissionResult{
		QuizID:         r.key.QuizID,
		GroupID:        r.key.GroupID,
		Score:          score,
		CorrectCount:   correct,
		TotalQuestions: total,
		Trigger:        trigger,
		SubmittedBy:    actor,
		SubmittedAt:    r.clock.Now(),
		RedirectURL:    redirect,
		Answers:        answers,
	}
	saved, err := persist(ctx, candidate)
	if err != nil {
		return domain.SubmissionResult{}, false, &domain.PersistenceError{Op: "save submission", Err: err}
	}
	if saved.RedirectURL == "" {
		saved.RedirectURL = redirect
	}

	r.status = domain.StatusSubmitted
	r.result = &saved
	r.broadcastLocked(r.submittedMessageLocked(), "")
	// Nothing follows the terminal event, including replies to requests
	// still in flight during the grace period.
	for _, peer := range r.peers {
		peer.Seal()
	}
	return saved, true, nil
}

// closeAll closes every peer and marks the room unusable.
func (r *Room) closeAll(code int, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evicted = true
	for id, peer := range r.peers {
		peer.Close(code, reason)
		delete(r.peers, id)
	}
}

// Snapshot returns every current answer ordered by question id.
func (r *Room) Snapshot() []domain.AnswerRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// State returns the snapshot message a reconnecting client would receive.
func (r *Room) State(remaining func() int) protocol.CurrentState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentStateLocked(remaining)
}

func (r *Room) Status() domain.SessionStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// IsEmpty reports whether the room has no peers.
func (r *Room) IsEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers) == 0
}

// PeerCount reports the number of connected peers.
func (r *Room) PeerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers)
}

// evictIfIdle marks the room evicted if it has had no peers for at least
// timeout. The check and the mark share one critical section, so a peer
// that joins in between keeps the room alive.
func (r *Room) evictIfIdle(now time.Time, timeout time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.evicted || len(r.peers) > 0 || now.Sub(r.emptySince) < timeout {
		return false
	}
	r.evicted = true
	return true
}

func (r *Room) broadcast(msg protocol.ServerMessage, excludeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcastLocked(msg, excludeID)
}

// broadcastLocked fans msg out without waiting on any peer. A peer whose
// buffer is full is dropped so it cannot stall the room.
func (r *Room) broadcastLocked(msg protocol.ServerMessage, excludeID string) {
	for id, peer := range r.peers {
		if id == excludeID {
			continue
		}
		if peer.Send(msg) {
			continue
		}
		metrics.BroadcastDrops.Inc()
		log.Warn().
			Str("session", r.key.String()).
			Str("connection_id", id).
			Str("user_id", peer.UserID()).
			Msg("peer send buffer full, closing connection")
		delete(r.peers, id)
		peer.Close(CloseTryAgain, "too slow")
		if len(r.peers) == 0 {
			r.emptySince = r.clock.Now()
		}
	}
}

func (r *Room) snapshotLocked() []domain.AnswerRecord {
	answers := make([]domain.AnswerRecord, 0, len(r.answers))
	for _, rec := range r.answers {
		answers = append(answers, rec)
	}
	sort.Slice(answers, func(i, j int) bool {
		return answers[i].QuestionID < answers[j].QuestionID
	})
	return answers
}

func (r *Room) currentStateLocked(remaining func() int) protocol.CurrentState {
	state := protocol.CurrentState{
		Answers: r.snapshotLocked(),
		Status:  r.status,
	}
	if r.status == domain.StatusActive && remaining != nil {
		state.RemainingSeconds = remaining()
	}
	return state
}

func (r *Room) submittedMessageLocked() protocol.Submitted {
	msg := protocol.Submitted{Message: "Quiz submitted"}
	if r.result != nil {
		msg.RedirectURL = r.result.RedirectURL
		if r.result.Trigger == domain.TriggerDeadline {
			msg.Message = "Time is up, quiz submitted automatically"
		}
	}
	return msg
}

func displayName(p Peer) string {
	if p.Username() != "" {
		return p.Username()
	}
	return p.UserID()
}
