package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"group-quiz-hub/internal/app"
	"group-quiz-hub/internal/domain"
)

// Persistence keeps answers and submissions in process memory. The session
// clock starts on the first bootstrap of a session key.
type Persistence struct {
	directory app.Directory
	clock     clockwork.Clock

	mu          sync.RWMutex
	starts      map[domain.SessionKey]time.Time
	answers     map[domain.SessionKey]map[string]domain.AnswerRecord
	submissions map[domain.SessionKey]domain.SubmissionResult
}

func NewPersistence(directory app.Directory, clock clockwork.Clock) *Persistence {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Persistence{
		directory:   directory,
		clock:       clock,
		starts:      make(map[domain.SessionKey]time.Time),
		answers:     make(map[domain.SessionKey]map[string]domain.AnswerRecord),
		submissions: make(map[domain.SessionKey]domain.SubmissionResult),
	}
}

func (p *Persistence) Bootstrap(ctx context.Context, key domain.SessionKey) (domain.SessionBootstrap, error) {
	quiz, err := p.directory.Quiz(ctx, key.QuizID)
	if err != nil {
		return domain.SessionBootstrap{}, err
	}
	group, err := p.group(ctx, key)
	if err != nil {
		return domain.SessionBootstrap{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.clock.Now()
	start, ok := p.starts[key]
	if !ok {
		start = now
		p.starts[key] = start
	}
	remaining := quiz.Duration() - now.Sub(start)
	if remaining < 0 {
		remaining = 0
	}

	boot := domain.SessionBootstrap{
		Quiz:          quiz,
		Group:         group,
		TimeRemaining: remaining,
		Answers:       sortedAnswers(p.answers[key]),
	}
	if result, ok := p.submissions[key]; ok {
		boot.Submission = &result
	}
	return boot, nil
}

func (p *Persistence) group(ctx context.Context, key domain.SessionKey) (domain.Group, error) {
	groups, err := p.directory.Groups(ctx, key.QuizID)
	if err != nil {
		return domain.Group{}, err
	}
	for _, g := range groups {
		if g.ID == key.GroupID {
			return g, nil
		}
	}
	return domain.Group{}, domain.ErrGroupNotFound
}

// SaveAnswer keeps the record with the highest sequence number per question.
func (p *Persistence) SaveAnswer(_ context.Context, key domain.SessionKey, record domain.AnswerRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.answers[key] == nil {
		p.answers[key] = make(map[string]domain.AnswerRecord)
	}
	if current, ok := p.answers[key][record.QuestionID]; ok && current.Seq > record.Seq {
		return nil
	}
	p.answers[key][record.QuestionID] = record
	return nil
}

func (p *Persistence) SaveSubmission(_ context.Context, result domain.SubmissionResult) (domain.SubmissionResult, error) {
	key := domain.SessionKey{QuizID: result.QuizID, GroupID: result.GroupID}
	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.submissions[key]; ok {
		return existing, nil
	}
	p.submissions[key] = result
	return result, nil
}

func (p *Persistence) Activity(_ context.Context, quizID string) ([]domain.GroupActivity, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	byGroup := make(map[string]*domain.GroupActivity)
	touch := func(key domain.SessionKey) *domain.GroupActivity {
		a, ok := byGroup[key.GroupID]
		if !ok {
			a = &domain.GroupActivity{GroupID: key.GroupID}
			byGroup[key.GroupID] = a
		}
		return a
	}
	for key, answers := range p.answers {
		if key.QuizID == quizID {
			touch(key).Answered = countAnswered(answers)
		}
	}
	for key, result := range p.submissions {
		if key.QuizID == quizID {
			res := result
			touch(key).Submission = &res
		}
	}

	activity := make([]domain.GroupActivity, 0, len(byGroup))
	for _, a := range byGroup {
		activity = append(activity, *a)
	}
	sort.Slice(activity, func(i, j int) bool { return activity[i].GroupID < activity[j].GroupID })
	return activity, nil
}

func countAnswered(answers map[string]domain.AnswerRecord) int {
	n := 0
	for _, rec := range answers {
		if rec.Value != "" {
			n++
		}
	}
	return n
}

func sortedAnswers(answers map[string]domain.AnswerRecord) []domain.AnswerRecord {
	out := make([]domain.AnswerRecord, 0, len(answers))
	for _, rec := range answers {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QuestionID < out[j].QuestionID })
	return out
}
