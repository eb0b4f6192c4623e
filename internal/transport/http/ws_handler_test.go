package http

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"group-quiz-hub/internal/app"
	"group-quiz-hub/internal/domain"
	"group-quiz-hub/internal/infra/memory"
	"group-quiz-hub/internal/protocol"
)

func TestWebSocketLateJoinerReceivesSnapshot(t *testing.T) {
	server, _ := newTestServer(t)

	alice := dial(t, server, "quiz_id=quiz-1&group_id=g1&user_id=alice&username=Alice")
	state := expect[protocol.CurrentState](t, alice)
	if state.Status != domain.StatusActive || len(state.Answers) != 0 {
		t.Fatalf("unexpected initial state %+v", state)
	}
	if state.RemainingSeconds <= 0 || state.RemainingSeconds > 600 {
		t.Fatalf("unexpected remaining seconds %d", state.RemainingSeconds)
	}

	bob := dial(t, server, "quiz_id=quiz-1&group_id=g1&user_id=bob&username=Bob")
	expect[protocol.CurrentState](t, bob)
	joined := expect[protocol.UserJoined](t, alice)
	if joined.UserID != "bob" {
		t.Fatalf("expected bob joined, got %+v", joined)
	}

	send(t, alice, map[string]interface{}{"type": "answer_selected", "question_id": "q1", "selected_choice": "B"})
	update := expect[protocol.AnswerUpdated](t, bob)
	if update.QuestionID != "q1" || update.SelectedChoice != "B" || update.UserID != "alice" || update.Username != "Alice" {
		t.Fatalf("unexpected update %+v", update)
	}

	send(t, bob, map[string]interface{}{"type": "answer_selected", "question_id": "q2", "selected_choice": "D"})
	update = expect[protocol.AnswerUpdated](t, alice)
	if update.QuestionID != "q2" || update.Seq <= 1 {
		t.Fatalf("unexpected update %+v", update)
	}

	carol := dial(t, server, "quiz_id=quiz-1&group_id=g1&user_id=carol&username=Carol")
	state = expect[protocol.CurrentState](t, carol)
	got := map[string]string{}
	for _, a := range state.Answers {
		got[a.QuestionID] = a.Value
	}
	if len(got) != 2 || got["q1"] != "B" || got["q2"] != "D" {
		t.Fatalf("expected {q1:B, q2:D}, got %v", got)
	}
}

func TestWebSocketPingAndProtocolErrors(t *testing.T) {
	server, _ := newTestServer(t)
	conn := dial(t, server, "quiz_id=quiz-1&group_id=g1&user_id=alice&username=Alice")
	expect[protocol.CurrentState](t, conn)

	send(t, conn, map[string]interface{}{"type": "ping"})
	expect[protocol.Pong](t, conn)

	send(t, conn, map[string]interface{}{"type": "dance"})
	e := expect[protocol.Error](t, conn)
	if !strings.Contains(e.Message, "unsupported") {
		t.Fatalf("unexpected error %+v", e)
	}

	send(t, conn, map[string]interface{}{"type": "answer_selected", "question_id": "q1", "selected_choice": "Z"})
	e = expect[protocol.Error](t, conn)
	if !strings.Contains(e.Message, "option") {
		t.Fatalf("unexpected error %+v", e)
	}

	// The connection survives bad input.
	send(t, conn, map[string]interface{}{"type": "ping"})
	expect[protocol.Pong](t, conn)
}

func TestWebSocketSubmitIsTerminal(t *testing.T) {
	server, _ := newTestServer(t)
	alice := dial(t, server, "quiz_id=quiz-1&group_id=g1&user_id=alice&username=Alice")
	expect[protocol.CurrentState](t, alice)
	bob := dial(t, server, "quiz_id=quiz-1&group_id=g1&user_id=bob&username=Bob")
	expect[protocol.CurrentState](t, bob)
	expect[protocol.UserJoined](t, alice)

	send(t, alice, map[string]interface{}{"type": "quiz_submitted"})
	for _, conn := range []*websocket.Conn{alice, bob} {
		msg := expect[protocol.Submitted](t, conn)
		if msg.RedirectURL != "/quizzes/quiz-1/groups/g1/result" {
			t.Fatalf("unexpected redirect %q", msg.RedirectURL)
		}
	}

	// A member arriving after submission is told and closed.
	carol := dial(t, server, "quiz_id=quiz-1&group_id=g1&user_id=carol&username=Carol")
	state := expect[protocol.CurrentState](t, carol)
	if state.Status != domain.StatusSubmitted {
		t.Fatalf("expected submitted status, got %s", state.Status)
	}
	expect[protocol.Submitted](t, carol)
	_ = carol.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := carol.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("expected normal close, got %v", err)
	}
}

func TestWebSocketSilentAfterSubmit(t *testing.T) {
	server, _ := newTestServer(t)
	alice := dial(t, server, "quiz_id=quiz-1&group_id=g1&user_id=alice&username=Alice")
	expect[protocol.CurrentState](t, alice)

	send(t, alice, map[string]interface{}{"type": "quiz_submitted"})
	expect[protocol.Submitted](t, alice)

	send(t, alice, map[string]interface{}{"type": "ping"})
	send(t, alice, map[string]interface{}{"type": "request_ranking_update"})
	send(t, alice, map[string]interface{}{"type": "answer_selected", "question_id": "q1", "selected_choice": "B"})

	_ = alice.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
	_, data, err := alice.ReadMessage()
	if err == nil {
		t.Fatalf("expected no message after the terminal event, got %s", data)
	}
	var netErr net.Error
	if !errors.As(err, &netErr) || !netErr.Timeout() {
		t.Fatalf("expected read timeout, got %v", err)
	}
}

func TestWebSocketRejectsNonMember(t *testing.T) {
	server, _ := newTestServer(t)
	conn := dial(t, server, "quiz_id=quiz-1&group_id=g1&user_id=mallory&username=Mallory")
	expect[protocol.Error](t, conn)
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("expected policy close, got %v", err)
	}
}

func TestWebSocketMissingParams(t *testing.T) {
	server, _ := newTestServer(t)
	resp, err := http.Get(server.URL + "/ws?quiz_id=quiz-1&group_id=g1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestLeaderboardObserverGetsPushedRanking(t *testing.T) {
	server, _ := newTestServer(t)
	observer := dial(t, server, "quiz_id=quiz-1")
	initial := expect[protocol.RankingUpdate](t, observer)
	if len(initial.Rankings) != 2 || initial.Rankings[0].Status != domain.RankingNotStarted {
		t.Fatalf("unexpected initial ranking %+v", initial)
	}

	member := dial(t, server, "quiz_id=quiz-1&group_id=g2&user_id=dave&username=Dave")
	expect[protocol.CurrentState](t, member)
	send(t, member, map[string]interface{}{"type": "answer_selected", "question_id": "q1", "selected_choice": "B"})
	send(t, member, map[string]interface{}{"type": "quiz_submitted"})
	expect[protocol.Submitted](t, member)

	// Polls may push intermediate lists first.
	var last protocol.RankingUpdate
	for i := 0; i < 20; i++ {
		last = expect[protocol.RankingUpdate](t, observer)
		top := last.Rankings[0]
		if top.GroupID == "g2" && top.Status == domain.RankingCompleted {
			if top.Score != 1 || last.Rankings[1].Status != domain.RankingNotStarted {
				t.Fatalf("unexpected ranking %+v", last.Rankings)
			}
			return
		}
	}
	t.Fatalf("expected g2 completed on top, got %+v", last.Rankings)
}

func TestAPIRankingAndState(t *testing.T) {
	server, _ := newTestServer(t)

	resp, err := http.Get(server.URL + "/api/quizzes/quiz-1/ranking")
	if err != nil {
		t.Fatalf("get ranking: %v", err)
	}
	var ranking protocol.RankingUpdate
	decodeEnvelope(t, resp, protocol.TypeRankingUpdate, &ranking)
	if len(ranking.Rankings) != 2 {
		t.Fatalf("expected two groups, got %+v", ranking.Rankings)
	}

	resp, err = http.Get(server.URL + "/api/quizzes/quiz-1/groups/g1/state?user_id=alice")
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	var state protocol.CurrentState
	decodeEnvelope(t, resp, protocol.TypeCurrentState, &state)
	if state.Status != domain.StatusActive {
		t.Fatalf("unexpected state %+v", state)
	}

	resp, err = http.Get(server.URL + "/api/quizzes/quiz-1/groups/g1/state?user_id=mallory")
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for non-member, got %d", resp.StatusCode)
	}

	resp, err = http.Post(server.URL+"/api/quizzes/quiz-1/groups/g1/submit?user_id=alice", "application/json", nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	var submitted protocol.Submitted
	decodeEnvelope(t, resp, protocol.TypeQuizSubmitted, &submitted)
	if submitted.RedirectURL == "" {
		t.Fatalf("expected redirect url")
	}
}

func newTestServer(t *testing.T) (*httptest.Server, *app.Hub) {
	t.Helper()
	clock := clockwork.NewRealClock()
	dir := memory.NewStaticDirectory()
	dir.AddQuiz(domain.Quiz{
		ID:              "quiz-1",
		DurationSeconds: 600,
		Questions: []domain.Question{
			{ID: "q1", Options: []domain.Option{{ID: "A"}, {ID: "B", Correct: true}}},
			{ID: "q2", Options: []domain.Option{{ID: "C"}, {ID: "D", Correct: true}}},
		},
	})
	dir.AddGroup(domain.Group{ID: "g1", QuizID: "quiz-1", Name: "Group 1"}, "alice", "bob", "carol")
	dir.AddGroup(domain.Group{ID: "g2", QuizID: "quiz-1", Name: "Group 2"}, "dave")

	opts := app.DefaultOptions()
	opts.GracePeriod = time.Minute
	opts.RankingPollInterval = 200 * time.Millisecond
	hub := app.NewHub(app.Dependencies{
		Persistence: memory.NewPersistence(dir, clock),
		Directory:   dir,
		Rooms:       memory.NewRoomStore(clock),
		Deadlines:   memory.NewDeadlineStore(),
		Rankings:    memory.NewRankingCache(),
		Events:      memory.NewEventBus(),
		Clock:       clock,
	}, opts)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = hub.Run(ctx) }()
	t.Cleanup(cancel)

	router := NewRouter(NewWSHandler(hub, DefaultConnectionConfig()), NewAPIHandler(hub))
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server, hub
}

func dial(t *testing.T, server *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?" + query
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msg map[string]interface{}) {
	t.Helper()
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// expect reads messages until one of type T arrives, skipping presence
// events of other types.
func expect[T protocol.ServerMessage](t *testing.T, conn *websocket.Conn) T {
	t.Helper()
	for i := 0; i < 10; i++ {
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		msg, err := protocol.DecodeServer(data)
		if err != nil {
			t.Fatalf("decode %s: %v", data, err)
		}
		if typed, ok := msg.(T); ok {
			return typed
		}
	}
	var zero T
	t.Fatalf("no %T received", zero)
	return zero
}

func decodeEnvelope(t *testing.T, resp *http.Response, typ string, out interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	var env struct {
		Type string `json:"type"`
	}
	_ = json.Unmarshal(raw, &env)
	if env.Type != typ {
		t.Fatalf("expected %s, got %s", typ, env.Type)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
}
