package memory

import "group-quiz-hub/internal/domain"

// SeedDemo loads a small quiz with two groups so the hub can be tried without
// any external service.
func SeedDemo(d *StaticDirectory) {
	d.AddQuiz(domain.Quiz{
		ID:              "demo-quiz",
		Title:           "Networking basics",
		DurationSeconds: 600,
		Questions: []domain.Question{
			{
				ID:     "q1",
				Prompt: "Which layer does TCP live on?",
				Options: []domain.Option{
					{ID: "A", Text: "Network"},
					{ID: "B", Text: "Transport", Correct: true},
					{ID: "C", Text: "Session"},
				},
			},
			{
				ID:     "q2",
				Prompt: "Default HTTPS port?",
				Options: []domain.Option{
					{ID: "A", Text: "80"},
					{ID: "B", Text: "8080"},
					{ID: "C", Text: "22"},
					{ID: "D", Text: "443", Correct: true},
				},
			},
			{
				ID:           "q3",
				Prompt:       "Name the protocol that resolves host names.",
				ExpectedText: "DNS",
				Points:       2,
			},
		},
	})
	d.AddGroup(domain.Group{ID: "g1", QuizID: "demo-quiz", Name: "Group 1"}, "alice", "bob", "carol")
	d.AddGroup(domain.Group{ID: "g2", QuizID: "demo-quiz", Name: "Group 2"}, "dave", "erin")
}
