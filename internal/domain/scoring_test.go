package domain

import (
	"errors"
	"testing"
)

func scoringQuiz() Quiz {
	return Quiz{
		ID: "quiz-1",
		Questions: []Question{
			{ID: "q1", Options: []Option{{ID: "A"}, {ID: "B", Correct: true}}},
			{ID: "q2", Options: []Option{{ID: "C", Correct: true}, {ID: "D"}}, Points: 3},
			{ID: "q3", ExpectedText: "Paris", Points: 2},
			{ID: "q4"},
		},
	}
}

func TestScoreCountsOnlyCorrectAnswers(t *testing.T) {
	answers := []AnswerRecord{
		{QuestionID: "q1", Value: "B"},
		{QuestionID: "q2", Value: "D"},
		{QuestionID: "q3", Value: "  paris "},
		{QuestionID: "q4", Value: "anything"},
	}
	score, correct, total := Score(scoringQuiz(), answers)
	if score != 3 || correct != 2 || total != 4 {
		t.Fatalf("expected 3/2/4, got %d/%d/%d", score, correct, total)
	}
}

func TestScoreEmptyAnswers(t *testing.T) {
	score, correct, total := Score(scoringQuiz(), nil)
	if score != 0 || correct != 0 || total != 4 {
		t.Fatalf("expected 0/0/4, got %d/%d/%d", score, correct, total)
	}
}

func TestValidateAnswer(t *testing.T) {
	quiz := scoringQuiz()
	cases := []struct {
		name     string
		question string
		value    string
		want     error
	}{
		{"valid option", "q1", "A", nil},
		{"unknown option", "q1", "Z", ErrOptionNotFound},
		{"cleared choice", "q1", "", nil},
		{"free text", "q3", "Lyon", nil},
		{"unknown question", "q9", "A", ErrQuestionNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateAnswer(quiz, tc.question, tc.value)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestPersistenceErrorIsRetryable(t *testing.T) {
	err := &PersistenceError{Op: "save answer", Err: errors.New("boom")}
	if !IsRetryable(err) {
		t.Fatal("expected persistence error to be retryable")
	}
	if IsRetryable(ErrNotMember) {
		t.Fatal("membership errors are not retryable")
	}
}
