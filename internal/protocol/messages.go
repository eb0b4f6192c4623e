// Package protocol defines the JSON envelopes exchanged over a session
// connection. Every message is a distinct Go type; handlers implement one
// method per message so adding a type is checked by the compiler.
package protocol

import (
	"time"

	"group-quiz-hub/internal/domain"
)

// Message type tags as they appear in the "type" field.
const (
	TypePing                 = "ping"
	TypePong                 = "pong"
	TypeRequestCurrentState  = "request_current_state"
	TypeCurrentState         = "current_state"
	TypeAnswerSelected       = "answer_selected"
	TypeAnswerUpdated        = "answer_updated"
	TypeQuestionChanged      = "question_changed"
	TypeQuizSubmitted        = "quiz_submitted"
	TypeRequestRankingUpdate = "request_ranking_update"
	TypeRankingUpdate        = "ranking_update"
	TypeUserJoined           = "user_joined"
	TypeUserLeft             = "user_left"
	TypeError                = "error"
)

// ClientMessage is anything a client may send to the hub.
type ClientMessage interface {
	Type() string
	Accept(h ClientHandler) error
}

// ClientHandler handles every client message type.
type ClientHandler interface {
	HandlePing(Ping) error
	HandleRequestCurrentState(RequestCurrentState) error
	HandleAnswerSelected(AnswerSelected) error
	HandleQuestionChanged(QuestionChanged) error
	HandleQuizSubmitted(QuizSubmitted) error
	HandleRequestRankingUpdate(RequestRankingUpdate) error
}

type Ping struct{}

type RequestCurrentState struct{}

type AnswerSelected struct {
	QuestionID     string `json:"question_id"`
	SelectedChoice string `json:"selected_choice"`
}

type QuestionChanged struct {
	QuestionIndex int `json:"question_index"`
}

type QuizSubmitted struct{}

type RequestRankingUpdate struct{}

func (Ping) Type() string                 { return TypePing }
func (RequestCurrentState) Type() string  { return TypeRequestCurrentState }
func (AnswerSelected) Type() string       { return TypeAnswerSelected }
func (QuestionChanged) Type() string      { return TypeQuestionChanged }
func (QuizSubmitted) Type() string        { return TypeQuizSubmitted }
func (RequestRankingUpdate) Type() string { return TypeRequestRankingUpdate }

func (m Ping) Accept(h ClientHandler) error                { return h.HandlePing(m) }
func (m RequestCurrentState) Accept(h ClientHandler) error { return h.HandleRequestCurrentState(m) }
func (m AnswerSelected) Accept(h ClientHandler) error      { return h.HandleAnswerSelected(m) }
func (m QuestionChanged) Accept(h ClientHandler) error     { return h.HandleQuestionChanged(m) }
func (m QuizSubmitted) Accept(h ClientHandler) error       { return h.HandleQuizSubmitted(m) }
func (m RequestRankingUpdate) Accept(h ClientHandler) error {
	return h.HandleRequestRankingUpdate(m)
}

// ServerMessage is anything the hub may send to a client.
type ServerMessage interface {
	Type() string
	Accept(h ServerHandler) error
}

// ServerHandler handles every hub message type on the client side.
type ServerHandler interface {
	HandlePong(Pong) error
	HandleCurrentState(CurrentState) error
	HandleAnswerUpdated(AnswerUpdated) error
	HandlePeerQuestionChanged(PeerQuestionChanged) error
	HandleUserJoined(UserJoined) error
	HandleUserLeft(UserLeft) error
	HandleSubmitted(Submitted) error
	HandleRankingUpdate(RankingUpdate) error
	HandleError(Error) error
}

type Pong struct{}

// CurrentState is the full snapshot sent on join and on request.
type CurrentState struct {
	Answers          []domain.AnswerRecord `json:"answers"`
	Status           domain.SessionStatus  `json:"status"`
	RemainingSeconds int                   `json:"remaining_seconds"`
}

type AnswerUpdated struct {
	QuestionID     string `json:"question_id"`
	SelectedChoice string `json:"selected_choice"`
	Username       string `json:"username"`
	UserID         string `json:"user_id"`
	Seq            uint64 `json:"seq"`
}

// PeerQuestionChanged relays another member's navigation.
type PeerQuestionChanged struct {
	QuestionIndex int    `json:"question_index"`
	Username      string `json:"username"`
	UserID        string `json:"user_id"`
}

type UserJoined struct {
	UserID  string `json:"user_id"`
	Message string `json:"message"`
}

type UserLeft struct {
	UserID  string `json:"user_id"`
	Message string `json:"message"`
}

// Submitted is the terminal event of a room.
type Submitted struct {
	Message     string `json:"message"`
	RedirectURL string `json:"redirect_url"`
}

type RankingUpdate struct {
	QuizID    string                `json:"quiz_id"`
	Rankings  []domain.RankingEntry `json:"rankings"`
	Stale     bool                  `json:"stale"`
	UpdatedAt time.Time             `json:"updated_at"`
}

type Error struct {
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

func (Pong) Type() string                { return TypePong }
func (CurrentState) Type() string        { return TypeCurrentState }
func (AnswerUpdated) Type() string       { return TypeAnswerUpdated }
func (PeerQuestionChanged) Type() string { return TypeQuestionChanged }
func (UserJoined) Type() string          { return TypeUserJoined }
func (UserLeft) Type() string            { return TypeUserLeft }
func (Submitted) Type() string           { return TypeQuizSubmitted }
func (RankingUpdate) Type() string       { return TypeRankingUpdate }
func (Error) Type() string               { return TypeError }

func (m Pong) Accept(h ServerHandler) error                { return h.HandlePong(m) }
func (m CurrentState) Accept(h ServerHandler) error        { return h.HandleCurrentState(m) }
func (m AnswerUpdated) Accept(h ServerHandler) error       { return h.HandleAnswerUpdated(m) }
func (m PeerQuestionChanged) Accept(h ServerHandler) error { return h.HandlePeerQuestionChanged(m) }
func (m UserJoined) Accept(h ServerHandler) error          { return h.HandleUserJoined(m) }
func (m UserLeft) Accept(h ServerHandler) error            { return h.HandleUserLeft(m) }
func (m Submitted) Accept(h ServerHandler) error           { return h.HandleSubmitted(m) }
func (m RankingUpdate) Accept(h ServerHandler) error       { return h.HandleRankingUpdate(m) }
func (m Error) Accept(h ServerHandler) error               { return h.HandleError(m) }

// NewRankingUpdate converts a domain ranking into its wire form.
func NewRankingUpdate(r domain.Ranking) RankingUpdate {
	entries := r.Entries
	if entries == nil {
		entries = []domain.RankingEntry{}
	}
	return RankingUpdate{QuizID: r.QuizID, Rankings: entries, Stale: r.Stale, UpdatedAt: r.UpdatedAt}
}
