package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound is returned when no room exists for a session key.
	ErrSessionNotFound = errors.New("quiz session not found")
	// ErrSessionClosed is returned for edits after the session was submitted.
	ErrSessionClosed = errors.New("quiz session already submitted")
	// ErrNotMember is returned when a user joins a group they do not belong to.
	ErrNotMember = errors.New("user is not a member of the group")
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrGroupNotFound indicates the group is not assigned to the quiz.
	ErrGroupNotFound = errors.New("group not found")
	// ErrQuestionNotFound indicates a submitted question ID is invalid.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrOptionNotFound indicates a submitted option ID is invalid.
	ErrOptionNotFound = errors.New("option not found")
	// ErrObserverReadOnly is returned when a leaderboard observer tries to write.
	ErrObserverReadOnly = errors.New("observers cannot modify a session")
	// ErrRankingUnavailable means no ranking could be computed and none is cached.
	ErrRankingUnavailable = errors.New("ranking unavailable")
)

// PersistenceError wraps a Persistence API failure. Callers may retry; the
// session state was left unchanged.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Retryable is always true; kept as a method so transports can surface it.
func (e *PersistenceError) Retryable() bool { return true }

// IsRetryable reports whether err carries a retry affordance for the user.
func IsRetryable(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}

// ProtocolError marks a malformed or unexpected client message.
type ProtocolError struct {
	Type   string
	Reason string
}

func (e *ProtocolError) Error() string {
	if e.Type == "" {
		return "protocol: " + e.Reason
	}
	return fmt.Sprintf("protocol: %s: %s", e.Type, e.Reason)
}
