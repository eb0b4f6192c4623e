package domain

import "strings"

// Score grades a set of current answers against quiz content and returns
// (score, correct, total). Unknown questions and options are ignored here;
// they are rejected when written.
func Score(quiz Quiz, answers []AnswerRecord) (int, int, int) {
	byQuestion := make(map[string]string, len(answers))
	for _, a := range answers {
		byQuestion[a.QuestionID] = a.Value
	}

	score, correct := 0, 0
	for _, q := range quiz.Questions {
		value, ok := byQuestion[q.ID]
		if !ok || !isCorrect(q, value) {
			continue
		}
		correct++
		score += points(q)
	}
	return score, correct, len(quiz.Questions)
}

// ValidateAnswer checks that questionID exists and, for choice questions,
// that value names one of its options.
func ValidateAnswer(quiz Quiz, questionID, value string) error {
	q, ok := quiz.Question(questionID)
	if !ok {
		return ErrQuestionNotFound
	}
	if len(q.Options) == 0 || value == "" {
		return nil
	}
	for _, opt := range q.Options {
		if opt.ID == value {
			return nil
		}
	}
	return ErrOptionNotFound
}

func isCorrect(q Question, value string) bool {
	if len(q.Options) > 0 {
		for _, opt := range q.Options {
			if opt.ID == value {
				return opt.Correct
			}
		}
		return false
	}
	if q.ExpectedText == "" {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(value), strings.TrimSpace(q.ExpectedText))
}

func points(q Question) int {
	if q.Points > 0 {
		return q.Points
	}
	return 1
}
