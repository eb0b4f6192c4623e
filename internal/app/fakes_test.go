package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"group-quiz-hub/internal/domain"
	"group-quiz-hub/internal/protocol"
)

var errBackendDown = errors.New("backend down")

type fakeDirectory struct {
	quizzes map[string]domain.Quiz
	groups  map[string][]domain.Group
	members map[string]map[string]bool
}

func (d *fakeDirectory) Quiz(_ context.Context, quizID string) (domain.Quiz, error) {
	q, ok := d.quizzes[quizID]
	if !ok {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	return q, nil
}

func (d *fakeDirectory) Groups(_ context.Context, quizID string) ([]domain.Group, error) {
	return d.groups[quizID], nil
}

func (d *fakeDirectory) IsMember(_ context.Context, groupID, userID string) (bool, error) {
	members, ok := d.members[groupID]
	if !ok {
		return false, domain.ErrGroupNotFound
	}
	return members[userID], nil
}

type fakePersistence struct {
	directory *fakeDirectory

	mu             sync.Mutex
	failAnswers    bool
	failSubmission bool
	failActivity   bool
	answers        map[domain.SessionKey]map[string]domain.AnswerRecord
	submissions    map[domain.SessionKey]domain.SubmissionResult
	submitCalls    int
}

func (p *fakePersistence) Bootstrap(ctx context.Context, key domain.SessionKey) (domain.SessionBootstrap, error) {
	quiz, err := p.directory.Quiz(ctx, key.QuizID)
	if err != nil {
		return domain.SessionBootstrap{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	boot := domain.SessionBootstrap{
		Quiz:          quiz,
		Group:         domain.Group{ID: key.GroupID, QuizID: key.QuizID},
		TimeRemaining: quiz.Duration(),
	}
	for _, rec := range p.answers[key] {
		boot.Answers = append(boot.Answers, rec)
	}
	if res, ok := p.submissions[key]; ok {
		boot.Submission = &res
	}
	return boot, nil
}

func (p *fakePersistence) SaveAnswer(_ context.Context, key domain.SessionKey, record domain.AnswerRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failAnswers {
		return errBackendDown
	}
	if p.answers[key] == nil {
		p.answers[key] = make(map[string]domain.AnswerRecord)
	}
	p.answers[key][record.QuestionID] = record
	return nil
}

func (p *fakePersistence) SaveSubmission(_ context.Context, result domain.SubmissionResult) (domain.SubmissionResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.submitCalls++
	if p.failSubmission {
		return domain.SubmissionResult{}, errBackendDown
	}
	key := domain.SessionKey{QuizID: result.QuizID, GroupID: result.GroupID}
	if existing, ok := p.submissions[key]; ok {
		return existing, nil
	}
	p.submissions[key] = result
	return result, nil
}

func (p *fakePersistence) Activity(_ context.Context, quizID string) ([]domain.GroupActivity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failActivity {
		return nil, errBackendDown
	}
	var out []domain.GroupActivity
	for key, answers := range p.answers {
		if key.QuizID != quizID {
			continue
		}
		a := domain.GroupActivity{GroupID: key.GroupID, Answered: len(answers)}
		if res, ok := p.submissions[key]; ok {
			a.Submission = &res
		}
		out = append(out, a)
	}
	for key, res := range p.submissions {
		if key.QuizID != quizID || p.answers[key] != nil {
			continue
		}
		out = append(out, domain.GroupActivity{GroupID: key.GroupID, Submission: &res})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GroupID < out[j].GroupID })
	return out, nil
}

func (p *fakePersistence) set(fn func(p *fakePersistence)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p)
}

func (p *fakePersistence) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.submitCalls
}

type fakeRoomStore struct {
	clock clockwork.Clock
	mu    sync.Mutex
	rooms map[domain.SessionKey]*Room
}

func (s *fakeRoomStore) GetOrCreate(key domain.SessionKey) *Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rooms[key]; ok {
		return r
	}
	r := NewRoom(key, s.clock)
	s.rooms[key] = r
	return r
}

func (s *fakeRoomStore) Get(key domain.SessionKey) (*Room, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[key]
	return r, ok
}

func (s *fakeRoomStore) Delete(key domain.SessionKey, room *Room) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rooms[key] != room {
		return false
	}
	delete(s.rooms, key)
	return true
}

func (s *fakeRoomStore) Keys() []domain.SessionKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]domain.SessionKey, 0, len(s.rooms))
	for k := range s.rooms {
		keys = append(keys, k)
	}
	return keys
}

type fakeRankingCache struct {
	mu      sync.Mutex
	entries map[string]domain.Ranking
}

func (c *fakeRankingCache) Load(_ context.Context, quizID string) (domain.Ranking, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.entries[quizID]
	return r, ok, nil
}

func (c *fakeRankingCache) Store(_ context.Context, r domain.Ranking) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[r.QuizID] = r
	return nil
}

type fakePeer struct {
	id, userID, username string
	role                 domain.Role
	full                 bool

	mu        sync.Mutex
	msgs      []protocol.ServerMessage
	sealed    bool
	closeCode int
}

func newPeer(userID string) *fakePeer {
	return &fakePeer{id: "conn-" + userID, userID: userID, username: userID, role: domain.RoleMember}
}

func (p *fakePeer) ID() string        { return p.id }
func (p *fakePeer) UserID() string    { return p.userID }
func (p *fakePeer) Username() string  { return p.username }
func (p *fakePeer) Role() domain.Role { return p.role }

func (p *fakePeer) Send(msg protocol.ServerMessage) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sealed {
		return true
	}
	if p.full {
		return false
	}
	p.msgs = append(p.msgs, msg)
	return true
}

func (p *fakePeer) Seal() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sealed = true
}

func (p *fakePeer) Close(code int, _ string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closeCode == 0 {
		p.closeCode = code
	}
}

func (p *fakePeer) messages() []protocol.ServerMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]protocol.ServerMessage(nil), p.msgs...)
}

func (p *fakePeer) closed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeCode
}

func countOf[T protocol.ServerMessage](p *fakePeer) int {
	n := 0
	for _, m := range p.messages() {
		if _, ok := m.(T); ok {
			n++
		}
	}
	return n
}

func lastOf[T protocol.ServerMessage](t *testing.T, p *fakePeer) T {
	t.Helper()
	msgs := p.messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if m, ok := msgs[i].(T); ok {
			return m
		}
	}
	var zero T
	t.Fatalf("peer %s never received %T", p.userID, zero)
	return zero
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type testEnv struct {
	hub         *Hub
	clock       *clockwork.FakeClock
	directory   *fakeDirectory
	persistence *fakePersistence
	rankings    *fakeRankingCache
	key         domain.SessionKey
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))

	questions := make([]domain.Question, 0, 20)
	questions = append(questions,
		domain.Question{ID: "q1", Options: []domain.Option{{ID: "A"}, {ID: "B", Correct: true}}},
		domain.Question{ID: "q2", Options: []domain.Option{{ID: "C"}, {ID: "D", Correct: true}}},
	)
	for i := 3; i <= 20; i++ {
		questions = append(questions, domain.Question{ID: fmt.Sprintf("q%02d", i)})
	}
	directory := &fakeDirectory{
		quizzes: map[string]domain.Quiz{
			"quiz-1": {ID: "quiz-1", Title: "Sample", DurationSeconds: 300, Questions: questions},
		},
		groups: map[string][]domain.Group{
			"quiz-1": {{ID: "g1", QuizID: "quiz-1", Name: "Group 1"}, {ID: "g2", QuizID: "quiz-1", Name: "Group 2"}},
		},
		members: map[string]map[string]bool{
			"g1": {"alice": true, "bob": true, "carol": true},
			"g2": {"dave": true},
		},
	}
	persistence := &fakePersistence{
		directory:   directory,
		answers:     make(map[domain.SessionKey]map[string]domain.AnswerRecord),
		submissions: make(map[domain.SessionKey]domain.SubmissionResult),
	}
	rankings := &fakeRankingCache{entries: make(map[string]domain.Ranking)}

	opts := DefaultOptions()
	opts.GracePeriod = 3 * time.Second
	hub := NewHub(Dependencies{
		Persistence: persistence,
		Directory:   directory,
		Rooms:       &fakeRoomStore{clock: clock, rooms: make(map[domain.SessionKey]*Room)},
		Rankings:    rankings,
		Clock:       clock,
	}, opts)

	return &testEnv{
		hub:         hub,
		clock:       clock,
		directory:   directory,
		persistence: persistence,
		rankings:    rankings,
		key:         domain.SessionKey{QuizID: "quiz-1", GroupID: "g1"},
	}
}

func (e *testEnv) join(t *testing.T, userID string) *fakePeer {
	t.Helper()
	p := newPeer(userID)
	if err := e.hub.Join(context.Background(), e.key, p); err != nil {
		t.Fatalf("join %s: %v", userID, err)
	}
	return p
}
