package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"group-quiz-hub/internal/app"
	"group-quiz-hub/internal/domain"
	"group-quiz-hub/internal/metrics"
	"group-quiz-hub/internal/protocol"
)

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	PongWait        time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	SendBuffer      int
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		PongWait:        60 * time.Second,
		PingInterval:    54 * time.Second,
		MaxMessageSize:  4096,
		SendBuffer:      64,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}
}

type WSHandler struct {
	hub      *app.Hub
	config   ConnectionConfig
	upgrader websocket.Upgrader
}

func NewWSHandler(hub *app.Hub, config ConnectionConfig) *WSHandler {
	if config.PingInterval <= 0 || config.PingInterval >= config.PongWait {
		config.PingInterval = config.PongWait * 9 / 10
	}
	if config.SendBuffer <= 0 {
		config.SendBuffer = 64
	}
	return &WSHandler{
		hub:    hub,
		config: config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
	}
}

// ServeWS upgrades HTTP requests to websockets and wires them into the hub.
// Members pass quiz_id, group_id, user_id and username; leaderboard observers
// pass quiz_id only.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	key := domain.SessionKey{QuizID: q.Get("quiz_id"), GroupID: q.Get("group_id")}
	userID, username := q.Get("user_id"), q.Get("username")
	if key.QuizID == "" || (!key.IsLeaderboard() && userID == "") {
		http.Error(w, "missing quiz_id, group_id or user_id", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}

	role := domain.RoleMember
	if key.IsLeaderboard() {
		role = domain.RoleObserver
	}
	peer := &wsPeer{
		id:          uuid.NewString(),
		userID:      userID,
		username:    username,
		role:        role,
		key:         key,
		conn:        conn,
		config:      h.config,
		send:        make(chan []byte, h.config.SendBuffer),
		closeReq:    make(chan closeFrame, 1),
		done:        make(chan struct{}),
		connectedAt: time.Now(),
	}
	metrics.Connections.Inc()
	go peer.writePump()

	ctx := context.WithoutCancel(r.Context())
	if err := h.hub.Join(ctx, key, peer); err != nil {
		code := websocket.CloseInternalServerErr
		if isPolicyError(err) {
			code = websocket.ClosePolicyViolation
		}
		log.Warn().Err(err).Str("session", key.String()).Str("user_id", userID).Msg("join rejected")
		peer.Send(errorMessage(err))
		peer.Close(code, err.Error())
		h.readPump(ctx, peer, nil)
		return
	}

	h.readPump(ctx, peer, &connHandler{ctx: ctx, hub: h.hub, peer: peer})
}

// readPump reads until the connection fails, then leaves the room.
func (h *WSHandler) readPump(ctx context.Context, p *wsPeer, handler *connHandler) {
	defer func() {
		if handler != nil {
			h.hub.Leave(p.key, p)
		}
		close(p.done)
		metrics.Connections.Dec()
		log.Debug().
			Str("connection_id", p.id).
			Str("session", p.key.String()).
			Dur("connected_for", time.Since(p.connectedAt)).
			Msg("connection closed")
	}()

	p.conn.SetReadLimit(h.config.MaxMessageSize)
	_ = p.conn.SetReadDeadline(time.Now().Add(h.config.PongWait))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(h.config.PongWait))
	})

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("connection_id", p.id).Msg("unexpected WebSocket close error")
			}
			return
		}
		_ = p.conn.SetReadDeadline(time.Now().Add(h.config.PongWait))
		if handler == nil {
			continue
		}

		msg, err := protocol.DecodeClient(data)
		if err != nil {
			log.Warn().Err(err).Str("connection_id", p.id).Msg("invalid client message")
			p.Send(errorMessage(err))
			continue
		}
		if err := msg.Accept(handler); err != nil {
			log.Warn().
				Err(err).
				Str("connection_id", p.id).
				Str("type", msg.Type()).
				Msg("client message failed")
			p.Send(errorMessage(err))
		}
	}
}

// connHandler dispatches the client messages of one connection.
type connHandler struct {
	ctx  context.Context
	hub  *app.Hub
	peer *wsPeer
}

func (c *connHandler) HandlePing(protocol.Ping) error {
	c.peer.Send(protocol.Pong{})
	return nil
}

func (c *connHandler) HandleRequestCurrentState(protocol.RequestCurrentState) error {
	if c.peer.key.IsLeaderboard() {
		return c.hub.RequestRanking(c.ctx, c.peer.key.QuizID, c.peer)
	}
	state, err := c.hub.State(c.ctx, c.peer.key)
	if err != nil {
		return err
	}
	c.peer.Send(state)
	return nil
}

func (c *connHandler) HandleAnswerSelected(m protocol.AnswerSelected) error {
	_, err := c.hub.Apply(c.ctx, c.peer.key, c.peer, m.QuestionID, m.SelectedChoice)
	return err
}

func (c *connHandler) HandleQuestionChanged(m protocol.QuestionChanged) error {
	if c.peer.role != domain.RoleMember {
		return domain.ErrObserverReadOnly
	}
	c.hub.ChangeQuestion(c.peer.key, c.peer, m.QuestionIndex)
	return nil
}

func (c *connHandler) HandleQuizSubmitted(protocol.QuizSubmitted) error {
	if c.peer.role != domain.RoleMember {
		return domain.ErrObserverReadOnly
	}
	_, err := c.hub.Submit(c.ctx, c.peer.key, domain.TriggerManual, c.peer.userID)
	return err
}

func (c *connHandler) HandleRequestRankingUpdate(protocol.RequestRankingUpdate) error {
	return c.hub.RequestRanking(c.ctx, c.peer.key.QuizID, c.peer)
}

func errorMessage(err error) protocol.Error {
	if domain.IsRetryable(err) {
		return protocol.Error{Message: "could not save your change, please try again", Retryable: true}
	}
	if errors.Is(err, domain.ErrRankingUnavailable) {
		return protocol.Error{Message: "ranking is not available yet", Retryable: true}
	}
	return protocol.Error{Message: err.Error()}
}

func isPolicyError(err error) bool {
	return errors.Is(err, domain.ErrNotMember) ||
		errors.Is(err, domain.ErrGroupNotFound) ||
		errors.Is(err, domain.ErrQuizNotFound)
}
