package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"group-quiz-hub/internal/app"
	"group-quiz-hub/internal/config"
	"group-quiz-hub/internal/infra/memory"
	natsbus "group-quiz-hub/internal/infra/nats"
	"group-quiz-hub/internal/infra/postgres"
	redisstore "group-quiz-hub/internal/infra/redis"
	"group-quiz-hub/internal/infra/rest"
	transport "group-quiz-hub/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz hub",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := clockwork.NewRealClock()
	deps, cleanup, err := buildDependencies(ctx, cfg, clock)
	if err != nil {
		return err
	}
	defer cleanup()

	hub := app.NewHub(deps, hubOptions(cfg))
	wsHandler := transport.NewWSHandler(hub, connectionConfig(cfg))
	apiHandler := transport.NewAPIHandler(hub)

	server := &http.Server{
		Addr:        ":" + finalPort,
		Handler:     transport.NewRouter(wsHandler, apiHandler),
		ReadTimeout: 15 * time.Second,
	}

	hubDone := make(chan error, 1)
	go func() { hubDone <- hub.Run(ctx) }()

	go func() {
		log.Info().Str("port", finalPort).Str("backend", cfg.Backend.Kind).Msg("starting quiz hub")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("failed to start server")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-hubDone
}

// buildDependencies wires the configured persistence backend, the optional
// Redis-backed stores and the optional NATS bus. cleanup releases whatever
// was opened.
func buildDependencies(ctx context.Context, cfg config.Config, clock clockwork.Clock) (app.Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	fail := func(err error) (app.Dependencies, func(), error) {
		cleanup()
		return app.Dependencies{}, func() {}, err
	}

	deps := app.Dependencies{Clock: clock}
	var directory app.Directory

	switch cfg.Backend.Kind {
	case "", "memory":
		static := memory.NewStaticDirectory()
		memory.SeedDemo(static)
		directory = static
		deps.Persistence = memory.NewPersistence(static, clock)
	case "rest":
		if cfg.Backend.BaseURL == "" {
			return fail(fmt.Errorf("backend base_url not configured"))
		}
		client := rest.NewClient(cfg.Backend.BaseURL, config.TTLDuration(cfg.Backend.Timeout, 5*time.Second))
		directory = client
		deps.Persistence = client
	case "postgres":
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return fail(err)
		}
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, pool.Close)
		directory = postgres.NewDirectory(pool)
		deps.Persistence = postgres.NewPersistence(pool)
	default:
		return fail(fmt.Errorf("unknown backend %q", cfg.Backend.Kind))
	}

	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
	redisTTL := config.TTLDuration(cfg.Redis.TTL, 30*time.Minute)
	if cfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		closers = append(closers, func() { _ = redisClient.Close() })
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fail(fmt.Errorf("ping redis: %w", err))
		}
		deps.Directory = redisstore.NewQuizCache(redisClient, directory, quizTTL)
		deps.Rooms = redisstore.NewRoomStore(redisClient, redisTTL, clock)
		deps.Deadlines = redisstore.NewDeadlineStore(redisClient, redisTTL)
		deps.Rankings = redisstore.NewRankingCache(redisClient, redisTTL)
	} else {
		deps.Directory = memory.NewCachedDirectory(directory, quizTTL, clock)
		deps.Rooms = memory.NewRoomStore(clock)
		deps.Deadlines = memory.NewDeadlineStore()
		deps.Rankings = memory.NewRankingCache()
	}

	if cfg.NATS.URL != "" {
		natsCfg := natsbus.DefaultConfig()
		natsCfg.URL = cfg.NATS.URL
		if cfg.NATS.SubjectPrefix != "" {
			natsCfg.SubjectPrefix = cfg.NATS.SubjectPrefix
		}
		bus, err := natsbus.Connect(natsCfg)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, bus.Close)
		deps.Events = bus
	} else {
		deps.Events = memory.NewEventBus()
	}

	return deps, cleanup, nil
}

func hubOptions(cfg config.Config) app.Options {
	opts := app.DefaultOptions()
	opts.GracePeriod = config.TTLDuration(cfg.Hub.GracePeriod, opts.GracePeriod)
	opts.IdleTimeout = config.TTLDuration(cfg.Hub.IdleTimeout, opts.IdleTimeout)
	opts.SweepInterval = config.TTLDuration(cfg.Hub.SweepInterval, opts.SweepInterval)
	opts.RankingPollInterval = config.TTLDuration(cfg.Hub.RankingPollInterval, opts.RankingPollInterval)
	opts.PersistenceTimeout = config.TTLDuration(cfg.Hub.PersistenceTimeout, opts.PersistenceTimeout)
	if cfg.Hub.RedirectTemplate != "" {
		opts.RedirectTemplate = cfg.Hub.RedirectTemplate
	}
	return opts
}

func connectionConfig(cfg config.Config) transport.ConnectionConfig {
	conn := transport.DefaultConnectionConfig()
	conn.PongWait = config.TTLDuration(cfg.Hub.PongWait, conn.PongWait)
	conn.PingInterval = config.TTLDuration(cfg.Hub.PingInterval, conn.PingInterval)
	conn.WriteTimeout = config.TTLDuration(cfg.Hub.WriteTimeout, conn.WriteTimeout)
	if cfg.Hub.SendBuffer > 0 {
		conn.SendBuffer = cfg.Hub.SendBuffer
	}
	return conn
}
