package client

import (
	"context"
	"net/url"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"group-quiz-hub/internal/domain"
	"group-quiz-hub/internal/infra/rest"
	"group-quiz-hub/internal/protocol"
)

// Poller is the degraded-mode fallback: it reads the session state (or the
// leaderboard) from the hub's HTTP API on an interval and feeds the same
// handler the websocket would.
type Poller struct {
	api      *rest.BaseClient
	key      domain.SessionKey
	userID   string
	interval time.Duration
	handler  protocol.ServerHandler
	clock    clockwork.Clock
}

func NewPoller(apiBaseURL string, key domain.SessionKey, userID string, interval time.Duration, handler protocol.ServerHandler, clock clockwork.Clock) *Poller {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Poller{
		api:      rest.NewBaseClient(apiBaseURL),
		key:      key,
		userID:   userID,
		interval: interval,
		handler:  handler,
		clock:    clock,
	}
}

// Run polls until ctx is done or the session is reported submitted.
func (p *Poller) Run(ctx context.Context) error {
	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		submitted, err := p.poll(ctx)
		if err != nil {
			log.Warn().Err(err).Str("session", p.key.String()).Msg("poll failed")
		}
		if submitted {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
		}
	}
}

func (p *Poller) poll(ctx context.Context) (bool, error) {
	data, err := p.api.Get(ctx, p.endpoint())
	if err != nil {
		return false, err
	}
	msg, err := protocol.DecodeServer(data)
	if err != nil {
		return false, err
	}
	if err := msg.Accept(p.handler); err != nil {
		return false, err
	}
	state, ok := msg.(protocol.CurrentState)
	return ok && state.Status == domain.StatusSubmitted, nil
}

func (p *Poller) endpoint() string {
	base := "/api/quizzes/" + url.PathEscape(p.key.QuizID)
	if p.key.IsLeaderboard() {
		return base + "/ranking"
	}
	return base + "/groups/" + url.PathEscape(p.key.GroupID) + "/state?user_id=" + url.QueryEscape(p.userID)
}
