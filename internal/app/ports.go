package app

import (
	"context"
	"time"

	"group-quiz-hub/internal/domain"
	"group-quiz-hub/internal/protocol"
)

// Persistence is the external store of assignments, answers and submissions.
type Persistence interface {
	// Bootstrap returns what is known about a session before the room exists.
	Bootstrap(ctx context.Context, key domain.SessionKey) (domain.SessionBootstrap, error)
	SaveAnswer(ctx context.Context, key domain.SessionKey, record domain.AnswerRecord) error
	// SaveSubmission must be idempotent per session key: a second call returns
	// the result stored by the first.
	SaveSubmission(ctx context.Context, result domain.SubmissionResult) (domain.SubmissionResult, error)
	Activity(ctx context.Context, quizID string) ([]domain.GroupActivity, error)
}

// Directory resolves quiz, group and membership identifiers.
type Directory interface {
	Quiz(ctx context.Context, quizID string) (domain.Quiz, error)
	Groups(ctx context.Context, quizID string) ([]domain.Group, error)
	IsMember(ctx context.Context, groupID, userID string) (bool, error)
}

// DeadlineStore keeps the absolute end time of a session outside the process
// so that every hub instance agrees on it.
type DeadlineStore interface {
	// Claim stores end if no deadline exists for key and returns the stored one.
	Claim(ctx context.Context, key domain.SessionKey, end time.Time) (time.Time, error)
	Clear(ctx context.Context, key domain.SessionKey) error
}

// RankingCache keeps the last ranking computed successfully per quiz.
type RankingCache interface {
	Load(ctx context.Context, quizID string) (domain.Ranking, bool, error)
	Store(ctx context.Context, ranking domain.Ranking) error
}

// EventBus carries submission events between hub instances.
type EventBus interface {
	PublishSubmission(ctx context.Context, event domain.SubmissionEvent) error
	SubscribeSubmissions(ctx context.Context, handle func(domain.SubmissionEvent)) (func(), error)
}

// Peer is one live connection as seen by a room. Send must not block.
type Peer interface {
	ID() string
	UserID() string
	Username() string
	Role() domain.Role
	// Send enqueues msg and reports false if the peer could not take it.
	Send(msg protocol.ServerMessage) bool
	// Seal is called once the terminal event is queued. Later Sends are
	// dropped; Close still goes out.
	Seal()
	// Close enqueues a close frame after any queued messages.
	Close(code int, reason string)
}
