package domain

import "time"

// SessionKey identifies a room. An empty GroupID addresses the quiz-wide
// leaderboard room used by observers.
type SessionKey struct {
	QuizID  string `json:"quiz_id"`
	GroupID string `json:"group_id,omitempty"`
}

func (k SessionKey) String() string {
	if k.GroupID == "" {
		return k.QuizID
	}
	return k.QuizID + ":" + k.GroupID
}

// IsLeaderboard reports whether the key addresses a quiz-wide observer room.
func (k SessionKey) IsLeaderboard() bool {
	return k.GroupID == ""
}

// Role distinguishes answering members from read-only leaderboard observers.
type Role string

const (
	RoleMember   Role = "member"
	RoleObserver Role = "observer"
)

// SessionStatus is the room-level submission state.
type SessionStatus string

const (
	StatusActive    SessionStatus = "active"
	StatusSubmitted SessionStatus = "submitted"
)

// Trigger names what caused a submission.
type Trigger string

const (
	TriggerManual   Trigger = "manual"
	TriggerDeadline Trigger = "deadline"
)

// AnswerRecord is the current answer for one question of a session.
// Seq is assigned by the hub when the write is processed; WrittenAt is the
// hub clock at that moment and is informational only.
type AnswerRecord struct {
	QuestionID    string    `json:"question_id"`
	Value         string    `json:"selected_choice"`
	WrittenBy     string    `json:"user_id"`
	WrittenByName string    `json:"username"`
	Seq           uint64    `json:"seq"`
	WrittenAt     time.Time `json:"written_at"`
}

// SubmissionResult is the terminal, persisted outcome of a session.
type SubmissionResult struct {
	QuizID         string         `json:"quiz_id"`
	GroupID        string         `json:"group_id"`
	Score          int            `json:"score"`
	CorrectCount   int            `json:"correct_count"`
	TotalQuestions int            `json:"total_questions"`
	Trigger        Trigger        `json:"trigger"`
	SubmittedBy    string         `json:"submitted_by,omitempty"`
	SubmittedAt    time.Time      `json:"submitted_at"`
	RedirectURL    string         `json:"redirect_url"`
	Answers        []AnswerRecord `json:"answers,omitempty"`
}

// SubmissionEvent is raised after a submission has been persisted.
type SubmissionEvent struct {
	ID          string    `json:"id"`
	QuizID      string    `json:"quiz_id"`
	GroupID     string    `json:"group_id"`
	Score       int       `json:"score"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Group is a work-group assigned to a quiz.
type Group struct {
	ID     string `json:"id"`
	QuizID string `json:"quiz_id"`
	Name   string `json:"name"`
}

// SessionBootstrap is what the Persistence API knows about a session when a
// room is first created in this process.
type SessionBootstrap struct {
	Quiz          Quiz              `json:"quiz"`
	Group         Group             `json:"group"`
	TimeRemaining time.Duration     `json:"time_remaining"`
	Answers       []AnswerRecord    `json:"answers"`
	Submission    *SubmissionResult `json:"submission,omitempty"`
}

// GroupActivity is the persisted progress of one group on a quiz.
type GroupActivity struct {
	GroupID    string            `json:"group_id"`
	Answered   int               `json:"answered"`
	Submission *SubmissionResult `json:"submission,omitempty"`
}

// Option represents a possible answer for a question.
type Option struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	Correct bool   `json:"correct"`
}

// Question is either a choice question (Options set) or a free-text one
// scored against ExpectedText when that is non-empty.
type Question struct {
	ID           string   `json:"id"`
	Prompt       string   `json:"prompt"`
	Options      []Option `json:"options,omitempty"`
	ExpectedText string   `json:"expected_text,omitempty"`
	Points       int      `json:"points"` // defaults to 1 if zero
}

// Quiz is a timed collection of questions.
type Quiz struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	DurationSeconds int        `json:"duration_seconds"`
	Questions       []Question `json:"questions"`
}

func (q Quiz) Duration() time.Duration {
	return time.Duration(q.DurationSeconds) * time.Second
}

// Question looks up a question by id.
func (q Quiz) Question(id string) (Question, bool) {
	for _, question := range q.Questions {
		if question.ID == id {
			return question, true
		}
	}
	return Question{}, false
}
