package cli

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"group-quiz-hub/internal/client"
	"group-quiz-hub/internal/config"
	"group-quiz-hub/internal/domain"
	"group-quiz-hub/internal/protocol"
)

type watchOptions struct {
	quizID   string
	groupID  string
	userID   string
	username string
}

// NewWatchCmd follows a session (or a quiz leaderboard when no group is
// given) and logs every event. It falls back to HTTP polling once the
// websocket cannot be re-established.
func NewWatchCmd(configPath *string) *cobra.Command {
	opts := &watchOptions{}
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow a quiz session or leaderboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd.Context(), *configPath, *opts)
		},
	}
	cmd.Flags().StringVar(&opts.quizID, "quiz", "", "quiz id")
	cmd.Flags().StringVar(&opts.groupID, "group", "", "group id; empty follows the leaderboard")
	cmd.Flags().StringVar(&opts.userID, "user", "", "user id")
	cmd.Flags().StringVar(&opts.username, "username", "", "display name")
	_ = cmd.MarkFlagRequired("quiz")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func runWatch(ctx context.Context, configPath string, opts watchOptions) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Endpoints.WSBaseURL == "" {
		return fmt.Errorf("ws_base_url not configured")
	}
	if opts.username == "" {
		opts.username = opts.userID
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	key := domain.SessionKey{QuizID: opts.quizID, GroupID: opts.groupID}
	wsURL, err := watchURL(cfg.Endpoints.WSBaseURL, key, opts)
	if err != nil {
		return err
	}

	handler := logHandler{session: key.String()}
	supervisor := client.NewSupervisor(wsURL, clientConfig(cfg), handler, nil)
	supervisor.OnDegraded = func(err error) {
		log.Warn().Err(err).Str("session", key.String()).Msg("websocket unavailable, switching to polling")
	}

	err = supervisor.Run(ctx)
	if !errors.Is(err, client.ErrReconnectExhausted) {
		return err
	}
	if cfg.Endpoints.APIBaseURL == "" {
		return err
	}
	interval := config.TTLDuration(cfg.Client.PollInterval, 5*time.Second)
	return client.NewPoller(cfg.Endpoints.APIBaseURL, key, opts.userID, interval, handler, nil).Run(ctx)
}

func watchURL(base string, key domain.SessionKey, opts watchOptions) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse ws_base_url: %w", err)
	}
	q := u.Query()
	q.Set("quiz_id", key.QuizID)
	if key.GroupID != "" {
		q.Set("group_id", key.GroupID)
	}
	q.Set("user_id", opts.userID)
	q.Set("username", opts.username)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func clientConfig(cfg config.Config) client.Config {
	c := client.DefaultConfig()
	c.Conn.HeartbeatInterval = config.TTLDuration(cfg.Client.HeartbeatInterval, c.Conn.HeartbeatInterval)
	c.Conn.HeartbeatWait = config.TTLDuration(cfg.Client.HeartbeatWait, c.Conn.HeartbeatWait)
	c.InitialBackoff = config.TTLDuration(cfg.Client.InitialBackoff, c.InitialBackoff)
	c.MaxBackoff = config.TTLDuration(cfg.Client.MaxBackoff, c.MaxBackoff)
	if cfg.Client.MaxAttempts > 0 {
		c.MaxAttempts = cfg.Client.MaxAttempts
	}
	return c
}

// logHandler prints hub events as structured log lines.
type logHandler struct {
	session string
}

func (h logHandler) HandlePong(protocol.Pong) error { return nil }

func (h logHandler) HandleCurrentState(m protocol.CurrentState) error {
	ev := log.Info().Str("session", h.session).Str("status", string(m.Status)).Int("remaining_seconds", m.RemainingSeconds)
	for _, a := range m.Answers {
		ev = ev.Str(a.QuestionID, a.Value)
	}
	ev.Msg("current state")
	return nil
}

func (h logHandler) HandleAnswerUpdated(m protocol.AnswerUpdated) error {
	log.Info().
		Str("session", h.session).
		Str("question_id", m.QuestionID).
		Str("choice", m.SelectedChoice).
		Str("by", m.Username).
		Uint64("seq", m.Seq).
		Msg("answer updated")
	return nil
}

func (h logHandler) HandlePeerQuestionChanged(m protocol.PeerQuestionChanged) error {
	log.Info().Str("session", h.session).Str("by", m.Username).Int("question_index", m.QuestionIndex).Msg("question changed")
	return nil
}

func (h logHandler) HandleUserJoined(m protocol.UserJoined) error {
	log.Info().Str("session", h.session).Msg(m.Message)
	return nil
}

func (h logHandler) HandleUserLeft(m protocol.UserLeft) error {
	log.Info().Str("session", h.session).Msg(m.Message)
	return nil
}

func (h logHandler) HandleSubmitted(m protocol.Submitted) error {
	log.Info().Str("session", h.session).Str("redirect_url", m.RedirectURL).Msg(m.Message)
	return nil
}

func (h logHandler) HandleRankingUpdate(m protocol.RankingUpdate) error {
	for _, e := range m.Rankings {
		log.Info().
			Str("quiz_id", m.QuizID).
			Int("rank", e.Rank).
			Str("group", e.GroupName).
			Int("score", e.Score).
			Str("status", string(e.Status)).
			Bool("stale", m.Stale).
			Msg("ranking")
	}
	return nil
}

func (h logHandler) HandleError(m protocol.Error) error {
	log.Warn().Str("session", h.session).Bool("retryable", m.Retryable).Msg(m.Message)
	return nil
}
