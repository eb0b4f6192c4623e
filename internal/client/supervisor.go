package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"group-quiz-hub/internal/protocol"
)

// ErrReconnectExhausted is returned once every reconnect attempt failed.
var ErrReconnectExhausted = errors.New("reconnect attempts exhausted")

// Config tunes the supervised client.
type Config struct {
	Conn           ConnConfig
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxAttempts    uint64
}

func DefaultConfig() Config {
	return Config{
		Conn:           DefaultConnConfig(),
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		MaxAttempts:    8,
	}
}

// Supervisor keeps one connection to the hub alive. After every connect it
// asks for the full state, so a reconnecting client converges on whatever
// it missed. It stops for good once the session is submitted, when the hub
// closes normally or refuses the client, or when reconnects run out; in the
// last case OnDegraded is called so the caller can fall back to polling.
type Supervisor struct {
	url     string
	cfg     Config
	handler protocol.ServerHandler
	clock   clockwork.Clock

	OnDegraded func(err error)

	mu      sync.Mutex
	current *Conn
	done    bool
}

func NewSupervisor(url string, cfg Config, handler protocol.ServerHandler, clock clockwork.Clock) *Supervisor {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Supervisor{url: url, cfg: cfg, handler: handler, clock: clock}
}

// Run connects and reconnects until the session ends or ctx is done.
func (s *Supervisor) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	// The terminal event cancels the session; nothing follows it.
	handler := &submissionWatcher{ServerHandler: s.handler, onSubmitted: func() {
		s.mu.Lock()
		s.done = true
		s.mu.Unlock()
		cancel()
	}}

	b := backoff.WithContext(backoff.WithMaxRetries(s.newBackoff(), s.cfg.MaxAttempts), ctx)
	attempt := 0
	for {
		attempt++
		connected, err := s.session(ctx, handler)
		if s.finished() {
			log.Info().Msg("session submitted, client stopped")
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
		if connected {
			b.Reset()
			attempt = 0
		}
		if !shouldReconnect(err) {
			log.Info().Err(err).Msg("hub closed the connection, not reconnecting")
			return err
		}

		wait := b.NextBackOff()
		if wait == backoff.Stop {
			log.Warn().Err(err).Int("attempts", attempt).Msg("giving up on websocket")
			if s.OnDegraded != nil {
				s.OnDegraded(err)
			}
			return ErrReconnectExhausted
		}
		log.Warn().Err(err).Dur("retry_in", wait).Msg("connection lost, reconnecting")
		select {
		case <-ctx.Done():
			return nil
		case <-s.clock.After(wait):
		}
	}
}

// Send writes msg on the current connection, if any.
func (s *Supervisor) Send(msg protocol.ClientMessage) error {
	s.mu.Lock()
	conn := s.current
	s.mu.Unlock()
	if conn == nil {
		return websocket.ErrCloseSent
	}
	return conn.Send(msg)
}

// session runs one connection and reports whether it got established.
func (s *Supervisor) session(ctx context.Context, handler protocol.ServerHandler) (bool, error) {
	connCfg := s.cfg.Conn
	if connCfg.Clock == nil {
		connCfg.Clock = s.clock
	}
	conn, err := Dial(ctx, s.url, connCfg)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	s.current = conn
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.current = nil
		s.mu.Unlock()
	}()

	log.Info().Str("url", s.url).Msg("connected to hub")
	if err := conn.Send(protocol.RequestCurrentState{}); err != nil {
		conn.Close(websocket.CloseGoingAway, "")
		return true, err
	}
	return true, conn.Run(ctx, handler)
}

func (s *Supervisor) finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

func (s *Supervisor) newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.InitialBackoff
	b.MaxInterval = s.cfg.MaxBackoff
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// shouldReconnect is false for closes the hub meant: a normal close after
// submission or eviction, and a policy close for a rejected client.
func shouldReconnect(err error) bool {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		switch ce.Code {
		case websocket.CloseNormalClosure, websocket.ClosePolicyViolation:
			return false
		}
	}
	return true
}

// submissionWatcher intercepts the terminal event.
type submissionWatcher struct {
	protocol.ServerHandler
	onSubmitted func()
}

func (w *submissionWatcher) HandleSubmitted(m protocol.Submitted) error {
	defer w.onSubmitted()
	return w.ServerHandler.HandleSubmitted(m)
}
