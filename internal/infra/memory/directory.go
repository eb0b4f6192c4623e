package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"group-quiz-hub/internal/app"
	"group-quiz-hub/internal/domain"
)

// CachedDirectory caches quiz definitions with a TTL to avoid hitting the
// Directory Service for every room. Groups and membership are passed through.
type CachedDirectory struct {
	app.Directory
	ttl   time.Duration
	clock clockwork.Clock
	sf    singleflight.Group
	rnd   *rand.Rand

	mu    sync.RWMutex
	cache map[string]cachedQuiz
}

type cachedQuiz struct {
	quiz      domain.Quiz
	expiresAt time.Time
}

func NewCachedDirectory(inner app.Directory, ttl time.Duration, clock clockwork.Clock) *CachedDirectory {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &CachedDirectory{
		Directory: inner,
		ttl:       ttl,
		clock:     clock,
		rnd:       rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:     make(map[string]cachedQuiz),
	}
}

func (d *CachedDirectory) Quiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	if quiz, ok := d.cached(quizID); ok {
		return quiz, nil
	}

	result, err, _ := d.sf.Do(quizID, func() (interface{}, error) {
		if quiz, ok := d.cached(quizID); ok {
			return quiz, nil
		}
		quiz, err := d.Directory.Quiz(ctx, quizID)
		if err != nil {
			return domain.Quiz{}, err
		}

		d.mu.Lock()
		d.cache[quizID] = cachedQuiz{
			quiz:      quiz,
			expiresAt: d.clock.Now().Add(d.ttlWithJitter()),
		}
		d.mu.Unlock()
		return quiz, nil
	})
	if err != nil {
		return domain.Quiz{}, err
	}
	return result.(domain.Quiz), nil
}

func (d *CachedDirectory) cached(quizID string) (domain.Quiz, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	entry, ok := d.cache[quizID]
	if !ok || !entry.expiresAt.After(d.clock.Now()) {
		return domain.Quiz{}, false
	}
	return entry.quiz, true
}

func (d *CachedDirectory) ttlWithJitter() time.Duration {
	if d.ttl <= 0 {
		return 0
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	// add up to 10% jitter to spread expirations
	jitterMax := int64(d.ttl) / 10
	return d.ttl + time.Duration(d.rnd.Int63n(jitterMax+1))
}

// StaticDirectory is a Directory backed by in-memory maps (tests and demos).
type StaticDirectory struct {
	mu      sync.RWMutex
	quizzes map[string]domain.Quiz
	groups  map[string][]domain.Group
	members map[string]map[string]bool
}

func NewStaticDirectory() *StaticDirectory {
	return &StaticDirectory{
		quizzes: make(map[string]domain.Quiz),
		groups:  make(map[string][]domain.Group),
		members: make(map[string]map[string]bool),
	}
}

func (d *StaticDirectory) AddQuiz(quiz domain.Quiz) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.quizzes[quiz.ID] = quiz
}

// AddGroup assigns group to its quiz and registers its members.
func (d *StaticDirectory) AddGroup(group domain.Group, userIDs ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.groups[group.QuizID] = append(d.groups[group.QuizID], group)
	if d.members[group.ID] == nil {
		d.members[group.ID] = make(map[string]bool)
	}
	for _, id := range userIDs {
		d.members[group.ID][id] = true
	}
}

func (d *StaticDirectory) Quiz(_ context.Context, quizID string) (domain.Quiz, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if quiz, ok := d.quizzes[quizID]; ok {
		return quiz, nil
	}
	return domain.Quiz{}, domain.ErrQuizNotFound
}

func (d *StaticDirectory) Groups(_ context.Context, quizID string) ([]domain.Group, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if _, ok := d.quizzes[quizID]; !ok {
		return nil, domain.ErrQuizNotFound
	}
	return append([]domain.Group(nil), d.groups[quizID]...), nil
}

func (d *StaticDirectory) IsMember(_ context.Context, groupID, userID string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	members, ok := d.members[groupID]
	if !ok {
		return false, domain.ErrGroupNotFound
	}
	return members[userID], nil
}
