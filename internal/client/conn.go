package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"group-quiz-hub/internal/protocol"
)

// State is the lifecycle of a Conn: open → heartbeating → closing → closed.
// A Conn moves back from heartbeating to open whenever a pong arrives.
type State int32

const (
	StateOpen State = iota
	StateHeartbeating
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHeartbeating:
		return "heartbeating"
	case StateClosing:
		return "closing"
	default:
		return "closed"
	}
}

// ErrHeartbeatTimeout means the hub did not answer a ping in time.
var ErrHeartbeatTimeout = errors.New("heartbeat timed out")

// ConnConfig tunes a single connection. A nil Clock means the real clock.
type ConnConfig struct {
	HeartbeatInterval time.Duration
	HeartbeatWait     time.Duration
	WriteTimeout      time.Duration
	Clock             clockwork.Clock
}

func DefaultConnConfig() ConnConfig {
	return ConnConfig{
		HeartbeatInterval: 45 * time.Second,
		HeartbeatWait:     10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// Conn is one physical connection to the hub.
type Conn struct {
	ws    *websocket.Conn
	cfg   ConnConfig
	clock clockwork.Clock
	state atomic.Int32

	writeMu sync.Mutex
	pong    chan struct{}

	failMu sync.Mutex
	failed error
}

// Dial opens a connection to url.
func Dial(ctx context.Context, url string, cfg ConnConfig) (*Conn, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial hub: %w", err)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	c := &Conn{ws: ws, cfg: cfg, clock: clock, pong: make(chan struct{}, 1)}
	c.state.Store(int32(StateOpen))
	return c, nil
}

func (c *Conn) State() State {
	return State(c.state.Load())
}

// Send writes one client message.
func (c *Conn) Send(msg protocol.ClientMessage) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.State() >= StateClosing {
		return websocket.ErrCloseSent
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Run dispatches hub messages to handler until the connection ends or ctx
// is done. It returns the reason the connection ended; a close frame from
// the hub surfaces as *websocket.CloseError.
func (c *Conn) Run(ctx context.Context, handler protocol.ServerHandler) error {
	stop := make(chan struct{})
	defer close(stop)
	go c.heartbeat(stop)
	go func() {
		select {
		case <-ctx.Done():
			c.Close(websocket.CloseNormalClosure, "client shutting down")
		case <-stop:
		}
	}()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.state.Store(int32(StateClosed))
			_ = c.ws.Close()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if failed := c.failure(); failed != nil {
				return failed
			}
			return err
		}

		msg, err := protocol.DecodeServer(data)
		if err != nil {
			log.Warn().Err(err).Msg("ignoring malformed hub message")
			continue
		}
		if _, ok := msg.(protocol.Pong); ok {
			select {
			case c.pong <- struct{}{}:
			default:
			}
		}
		if err := msg.Accept(handler); err != nil {
			log.Warn().Err(err).Str("type", msg.Type()).Msg("hub message handler failed")
		}
	}
}

// Close sends a close frame and tears the connection down.
func (c *Conn) Close(code int, reason string) {
	c.writeMu.Lock()
	if c.State() >= StateClosing {
		c.writeMu.Unlock()
		return
	}
	c.state.Store(int32(StateClosing))
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(c.cfg.WriteTimeout))
	c.writeMu.Unlock()
	_ = c.ws.Close()
	c.state.Store(int32(StateClosed))
}

func (c *Conn) heartbeat(stop <-chan struct{}) {
	if c.cfg.HeartbeatInterval <= 0 {
		return
	}
	ticker := c.clock.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
		}

		if !c.state.CompareAndSwap(int32(StateOpen), int32(StateHeartbeating)) {
			return
		}
		if err := c.Send(protocol.Ping{}); err != nil {
			c.fail(err)
			return
		}
		timer := c.clock.NewTimer(c.cfg.HeartbeatWait)
		select {
		case <-stop:
			timer.Stop()
			return
		case <-c.pong:
			timer.Stop()
			c.state.CompareAndSwap(int32(StateHeartbeating), int32(StateOpen))
		case <-timer.Chan():
			log.Warn().Dur("wait", c.cfg.HeartbeatWait).Msg("no pong from hub, dropping connection")
			c.fail(ErrHeartbeatTimeout)
			return
		}
	}
}

// fail records why the connection is being dropped and closes it without a
// close frame so the supervisor treats it as abnormal.
func (c *Conn) fail(err error) {
	c.failMu.Lock()
	if c.failed == nil {
		c.failed = err
	}
	c.failMu.Unlock()
	c.state.Store(int32(StateClosed))
	_ = c.ws.Close()
}

func (c *Conn) failure() error {
	c.failMu.Lock()
	defer c.failMu.Unlock()
	return c.failed
}
