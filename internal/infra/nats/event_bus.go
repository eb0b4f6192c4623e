package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"group-quiz-hub/internal/domain"
)

// Config holds the NATS connection settings.
type Config struct {
	URL           string
	SubjectPrefix string // e.g. "quiz.submissions"
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultConfig returns default NATS settings.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		SubjectPrefix: "quiz.submissions",
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
	}
}

// EventBus publishes submission events on core NATS so every hub instance
// refreshes the leaderboards it serves.
type EventBus struct {
	nc     *nats.Conn
	prefix string
}

func Connect(cfg Config) (*EventBus, error) {
	opts := []nats.Option{
		nats.Name("group-quiz-hub"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}
	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return New(nc, cfg.SubjectPrefix), nil
}

func New(nc *nats.Conn, prefix string) *EventBus {
	if prefix == "" {
		prefix = DefaultConfig().SubjectPrefix
	}
	return &EventBus{nc: nc, prefix: prefix}
}

func (b *EventBus) PublishSubmission(_ context.Context, event domain.SubmissionEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal submission event: %w", err)
	}
	if err := b.nc.Publish(b.subject(event.QuizID), data); err != nil {
		return fmt.Errorf("publish submission event: %w", err)
	}
	return nil
}

func (b *EventBus) SubscribeSubmissions(_ context.Context, handle func(domain.SubmissionEvent)) (func(), error) {
	sub, err := b.nc.Subscribe(b.prefix+".>", func(msg *nats.Msg) {
		var event domain.SubmissionEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			log.Error().Err(err).Str("subject", msg.Subject).Msg("failed to decode submission event")
			return
		}
		handle(event)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe submission events: %w", err)
	}
	return func() {
		if err := sub.Unsubscribe(); err != nil {
			log.Warn().Err(err).Msg("failed to unsubscribe submission events")
		}
	}, nil
}

func (b *EventBus) Close() {
	b.nc.Close()
}

// subject maps a quiz id onto a single NATS token.
func (b *EventBus) subject(quizID string) string {
	token := strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(quizID)
	return b.prefix + "." + token
}
