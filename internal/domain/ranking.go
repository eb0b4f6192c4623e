package domain

import (
	"sort"
	"time"
)

// RankingStatus is a group's progress on a quiz as seen from persisted data.
type RankingStatus string

const (
	RankingNotStarted RankingStatus = "not_started"
	RankingInProgress RankingStatus = "in_progress"
	RankingCompleted  RankingStatus = "completed"
)

// RankingEntry is one group's line on the leaderboard.
type RankingEntry struct {
	Rank           int           `json:"rank"`
	QuizID         string        `json:"quiz_id"`
	GroupID        string        `json:"group_id"`
	GroupName      string        `json:"group_name"`
	Score          int           `json:"score"`
	CorrectCount   int           `json:"correct_count"`
	TotalQuestions int           `json:"total_questions"`
	Status         RankingStatus `json:"status"`
	SubmittedAt    *time.Time    `json:"submitted_at,omitempty"`
}

// Ranking captures the ordered leaderboard for a quiz.
type Ranking struct {
	QuizID    string         `json:"quiz_id"`
	Entries   []RankingEntry `json:"rankings"`
	UpdatedAt time.Time      `json:"updated_at"`
	Stale     bool           `json:"stale"`
}

func statusOrder(s RankingStatus) int {
	switch s {
	case RankingCompleted:
		return 0
	case RankingInProgress:
		return 1
	default:
		return 2
	}
}

// SortRanking orders entries in place and assigns ranks starting at 1.
// Completed groups come first by score desc then earliest submission, then
// groups in progress, then groups that have not started. Group id breaks any
// remaining tie so the order is total.
func SortRanking(entries []RankingEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if oa, ob := statusOrder(a.Status), statusOrder(b.Status); oa != ob {
			return oa < ob
		}
		if a.Status == RankingCompleted {
			if a.Score != b.Score {
				return a.Score > b.Score
			}
			if at, bt := submittedAt(a), submittedAt(b); !at.Equal(bt) {
				return at.Before(bt)
			}
		}
		return a.GroupID < b.GroupID
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
}

func submittedAt(e RankingEntry) time.Time {
	if e.SubmittedAt == nil {
		return time.Time{}
	}
	return *e.SubmittedAt
}

// BuildRanking merges the groups assigned to a quiz with their persisted
// activity. Groups without activity are reported as not started.
func BuildRanking(quiz Quiz, groups []Group, activity []GroupActivity, now time.Time) Ranking {
	byGroup := make(map[string]GroupActivity, len(activity))
	for _, a := range activity {
		byGroup[a.GroupID] = a
	}

	total := len(quiz.Questions)
	entries := make([]RankingEntry, 0, len(groups))
	for _, g := range groups {
		entry := RankingEntry{
			QuizID:         quiz.ID,
			GroupID:        g.ID,
			GroupName:      g.Name,
			TotalQuestions: total,
			Status:         RankingNotStarted,
		}
		if a, ok := byGroup[g.ID]; ok {
			switch {
			case a.Submission != nil:
				submitted := a.Submission.SubmittedAt
				entry.Status = RankingCompleted
				entry.Score = a.Submission.Score
				entry.CorrectCount = a.Submission.CorrectCount
				if a.Submission.TotalQuestions > 0 {
					entry.TotalQuestions = a.Submission.TotalQuestions
				}
				entry.SubmittedAt = &submitted
			case a.Answered > 0:
				entry.Status = RankingInProgress
			}
		}
		entries = append(entries, entry)
	}
	SortRanking(entries)

	return Ranking{QuizID: quiz.ID, Entries: entries, UpdatedAt: now}
}
