package integration

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"

	"group-quiz-hub/internal/app"
	"group-quiz-hub/internal/domain"
	"group-quiz-hub/internal/infra/memory"
	"group-quiz-hub/internal/infra/postgres"
	pgmigrations "group-quiz-hub/internal/infra/postgres/migrations"
	infraredis "group-quiz-hub/internal/infra/redis"
	"group-quiz-hub/internal/protocol"
)

func TestSessionEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	seedQuiz(t, ctx, pgURL, sampleQuiz())

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer redisClient.Close()

	key := domain.SessionKey{QuizID: "quiz-1", GroupID: "g1"}
	hub := newHub(pool, redisClient)

	alice := newRecordingPeer("alice")
	bob := newRecordingPeer("bob")
	for _, p := range []*recordingPeer{alice, bob} {
		if err := hub.Join(ctx, key, p); err != nil {
			t.Fatalf("join %s: %v", p.userID, err)
		}
	}
	if _, err := hub.Apply(ctx, key, alice, "q1", "o2"); err != nil {
		t.Fatalf("apply q1: %v", err)
	}
	if _, err := hub.Apply(ctx, key, bob, "q2", "Paris"); err != nil {
		t.Fatalf("apply q2: %v", err)
	}

	// A second hub instance bootstraps the same session from Postgres and
	// agrees on the deadline through Redis.
	other := newHub(pool, redisClient)
	carol := newRecordingPeer("carol")
	if err := other.Join(ctx, key, carol); err != nil {
		t.Fatalf("join carol: %v", err)
	}
	state := carol.first()
	if len(state.Answers) != 2 {
		t.Fatalf("expected both persisted answers, got %+v", state.Answers)
	}
	if diff := hub.Deadlines().RemainingSeconds(key) - other.Deadlines().RemainingSeconds(key); diff < -1 || diff > 1 {
		t.Fatalf("hub instances disagree on the deadline by %ds", diff)
	}

	result, err := hub.Submit(ctx, key, domain.TriggerManual, "alice")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if result.Score != 3 || result.CorrectCount != 2 {
		t.Fatalf("expected score 3 with 2 correct, got %+v", result)
	}
	again, err := other.Submit(ctx, key, domain.TriggerDeadline, "")
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if again.Trigger != domain.TriggerManual || again.Score != result.Score {
		t.Fatalf("second submit should return the stored result, got %+v", again)
	}

	var rows int
	if err := pool.QueryRow(ctx, `SELECT count(*) FROM submissions WHERE quiz_id = $1`, "quiz-1").Scan(&rows); err != nil {
		t.Fatalf("count submissions: %v", err)
	}
	if rows != 1 {
		t.Fatalf("expected one submission row, got %d", rows)
	}

	ranking, err := hub.Ranking().Refresh(ctx, "quiz-1")
	if err != nil {
		t.Fatalf("ranking: %v", err)
	}
	if len(ranking.Entries) != 2 || ranking.Entries[0].GroupID != "g1" || ranking.Entries[0].Status != domain.RankingCompleted {
		t.Fatalf("expected g1 completed on top, got %+v", ranking.Entries)
	}
	if ranking.Entries[1].Status != domain.RankingNotStarted {
		t.Fatalf("expected g2 not started, got %+v", ranking.Entries[1])
	}
}

func newHub(pool *pgxpool.Pool, client *goredis.Client) *app.Hub {
	clock := clockwork.NewRealClock()
	directory := postgres.NewDirectory(pool)
	return app.NewHub(app.Dependencies{
		Persistence: postgres.NewPersistence(pool),
		Directory:   infraredis.NewQuizCache(client, directory, 5*time.Minute),
		Rooms:       infraredis.NewRoomStore(client, 5*time.Minute, clock),
		Deadlines:   infraredis.NewDeadlineStore(client, 5*time.Minute),
		Rankings:    infraredis.NewRankingCache(client, 5*time.Minute),
		Events:      memory.NewEventBus(),
		Clock:       clock,
	}, app.DefaultOptions())
}

type recordingPeer struct {
	userID string
	mu     sync.Mutex
	msgs   []protocol.ServerMessage
}

func newRecordingPeer(userID string) *recordingPeer {
	return &recordingPeer{userID: userID}
}

func (p *recordingPeer) ID() string        { return "conn-" + p.userID }
func (p *recordingPeer) UserID() string    { return p.userID }
func (p *recordingPeer) Username() string  { return p.userID }
func (p *recordingPeer) Role() domain.Role { return domain.RoleMember }
func (p *recordingPeer) Close(int, string) {}
func (p *recordingPeer) Seal()             {}

func (p *recordingPeer) Send(msg protocol.ServerMessage) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	return true
}

func (p *recordingPeer) first() protocol.CurrentState {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.msgs) == 0 {
		return protocol.CurrentState{}
	}
	state, _ := p.msgs[0].(protocol.CurrentState)
	return state
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "quiz", "POSTGRES_PASSWORD": "quizpass", "POSTGRES_DB": "quizdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://quiz:quizpass@%s:%s/quizdb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func seedQuiz(t *testing.T, ctx context.Context, dsn string, quiz domain.Quiz) {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	data, err := json.Marshal(quiz)
	if err != nil {
		t.Fatalf("marshal quiz: %v", err)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO quizzes (id, data) VALUES (?, ?::jsonb) ON CONFLICT (id) DO UPDATE SET data=EXCLUDED.data`, quiz.ID, string(data)); err != nil {
		t.Fatalf("insert quiz: %v", err)
	}
	for _, g := range []struct{ id, name string }{{"g1", "Group 1"}, {"g2", "Group 2"}} {
		if _, err := db.ExecContext(ctx, `INSERT INTO quiz_groups (id, quiz_id, name) VALUES (?, ?, ?) ON CONFLICT (id) DO NOTHING`, g.id, quiz.ID, g.name); err != nil {
			t.Fatalf("insert group %s: %v", g.id, err)
		}
	}
	for _, user := range []string{"alice", "bob", "carol"} {
		if _, err := db.ExecContext(ctx, `INSERT INTO group_members (group_id, user_id) VALUES ('g1', ?) ON CONFLICT DO NOTHING`, user); err != nil {
			t.Fatalf("insert member %s: %v", user, err)
		}
	}
}

func sampleQuiz() domain.Quiz {
	return domain.Quiz{
		ID:              "quiz-1",
		Title:           "Basics",
		DurationSeconds: 600,
		Questions: []domain.Question{
			{
				ID:     "q1",
				Prompt: "What is 2 + 2?",
				Options: []domain.Option{
					{ID: "o1", Text: "3"},
					{ID: "o2", Text: "4", Correct: true},
					{ID: "o3", Text: "5"},
				},
				Points: 1,
			},
			{ID: "q2", Prompt: "Capital of France?", ExpectedText: "Paris", Points: 2},
		},
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
