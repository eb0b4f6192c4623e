package domain

import (
	"testing"
	"time"
)

func TestBuildRankingBreaksScoreTiesByEarliestSubmission(t *testing.T) {
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	quiz := Quiz{ID: "Q1", Questions: []Question{{ID: "q1"}}}
	groups := []Group{
		{ID: "G1", QuizID: "Q1", Name: "Group 1"},
		{ID: "G2", QuizID: "Q1", Name: "Group 2"},
		{ID: "G3", QuizID: "Q1", Name: "Group 3"},
		{ID: "G4", QuizID: "Q1", Name: "Group 4"},
	}
	activity := []GroupActivity{
		{GroupID: "G1", Answered: 1, Submission: &SubmissionResult{Score: 80, SubmittedAt: base.Add(100 * time.Second)}},
		{GroupID: "G2", Answered: 1, Submission: &SubmissionResult{Score: 80, SubmittedAt: base.Add(90 * time.Second)}},
		{GroupID: "G3", Answered: 1},
	}

	ranking := BuildRanking(quiz, groups, activity, base)

	want := []struct {
		group  string
		status RankingStatus
	}{
		{"G2", RankingCompleted},
		{"G1", RankingCompleted},
		{"G3", RankingInProgress},
		{"G4", RankingNotStarted},
	}
	if len(ranking.Entries) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(ranking.Entries))
	}
	for i, w := range want {
		e := ranking.Entries[i]
		if e.GroupID != w.group || e.Status != w.status || e.Rank != i+1 {
			t.Fatalf("entry %d: expected %s/%s rank %d, got %s/%s rank %d", i, w.group, w.status, i+1, e.GroupID, e.Status, e.Rank)
		}
	}
	if ranking.Entries[0].TotalQuestions != 1 {
		t.Fatalf("expected total questions from quiz, got %d", ranking.Entries[0].TotalQuestions)
	}
	if !ranking.UpdatedAt.Equal(base) {
		t.Fatalf("expected UpdatedAt %v, got %v", base, ranking.UpdatedAt)
	}
}

func TestSortRankingHigherScoreFirst(t *testing.T) {
	early := time.Unix(100, 0)
	late := time.Unix(200, 0)
	entries := []RankingEntry{
		{GroupID: "a", Status: RankingCompleted, Score: 50, SubmittedAt: &early},
		{GroupID: "b", Status: RankingCompleted, Score: 90, SubmittedAt: &late},
	}
	SortRanking(entries)
	if entries[0].GroupID != "b" || entries[0].Rank != 1 || entries[1].Rank != 2 {
		t.Fatalf("unexpected order %+v", entries)
	}
}

func TestSortRankingIsTotalOnFullTies(t *testing.T) {
	entries := []RankingEntry{
		{GroupID: "z", Status: RankingNotStarted},
		{GroupID: "m", Status: RankingNotStarted},
		{GroupID: "a", Status: RankingNotStarted},
	}
	SortRanking(entries)
	for i, id := range []string{"a", "m", "z"} {
		if entries[i].GroupID != id {
			t.Fatalf("position %d: expected %s, got %s", i, id, entries[i].GroupID)
		}
	}
}
