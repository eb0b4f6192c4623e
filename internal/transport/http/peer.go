package http

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"group-quiz-hub/internal/domain"
	"group-quiz-hub/internal/protocol"
)

type closeFrame struct {
	code   int
	reason string
}

// wsPeer is one websocket connection. Messages are queued on send and
// written by writePump, which is the only goroutine writing to conn.
type wsPeer struct {
	id       string
	userID   string
	username string
	role     domain.Role
	key      domain.SessionKey

	conn   *websocket.Conn
	config ConnectionConfig

	send     chan []byte
	closeReq chan closeFrame
	done     chan struct{}

	mu      sync.Mutex
	closing bool
	sealed  bool

	connectedAt time.Time
}

func (p *wsPeer) ID() string        { return p.id }
func (p *wsPeer) UserID() string    { return p.userID }
func (p *wsPeer) Username() string  { return p.username }
func (p *wsPeer) Role() domain.Role { return p.role }

// Send never blocks. It reports false when the buffer is full; messages
// queued after Seal or Close are discarded.
func (p *wsPeer) Send(msg protocol.ServerMessage) bool {
	data, err := protocol.Encode(msg)
	if err != nil {
		log.Error().Err(err).Str("type", msg.Type()).Msg("failed to encode message")
		return true
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closing || p.sealed {
		return true
	}
	select {
	case p.send <- data:
		return true
	default:
		return false
	}
}

// Seal stops the peer from taking further messages. Whatever is already
// queued is still written, and Close still sends its frame.
func (p *wsPeer) Seal() {
	p.mu.Lock()
	p.sealed = true
	p.mu.Unlock()
}

// Close asks writePump to flush queued messages and then send a close frame.
func (p *wsPeer) Close(code int, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closing {
		return
	}
	p.closing = true
	p.closeReq <- closeFrame{code: code, reason: reason}
}

// writePump handles sending messages to the WebSocket connection
func (p *wsPeer) writePump() {
	ticker := time.NewTicker(p.config.PingInterval)
	defer func() {
		ticker.Stop()
		p.conn.Close()
	}()

	for {
		select {
		case message := <-p.send:
			if err := p.write(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", p.id).
					Msg("failed to write message to WebSocket")
				return
			}

		case frame := <-p.closeReq:
			p.flush()
			_ = p.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(frame.code, frame.reason),
				time.Now().Add(p.config.WriteTimeout))
			// Give the client a moment to answer the close handshake.
			select {
			case <-p.done:
			case <-time.After(p.config.WriteTimeout):
			}
			return

		case <-ticker.C:
			if err := p.write(websocket.PingMessage, nil); err != nil {
				log.Debug().
					Err(err).
					Str("connection_id", p.id).
					Msg("failed to send ping")
				return
			}

		case <-p.done:
			return
		}
	}
}

func (p *wsPeer) flush() {
	for {
		select {
		case message := <-p.send:
			if err := p.write(websocket.TextMessage, message); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (p *wsPeer) write(messageType int, data []byte) error {
	_ = p.conn.SetWriteDeadline(time.Now().Add(p.config.WriteTimeout))
	return p.conn.WriteMessage(messageType, data)
}
