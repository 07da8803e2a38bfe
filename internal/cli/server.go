package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/config"
	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/infra/memory"
	pgstore "live-quiz-service/internal/infra/postgres"
	redisstore "live-quiz-service/internal/infra/redis"
	transport "live-quiz-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz coordinator",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func coordinatorOptions(cfg config.Config) app.Options {
	s := cfg.Session
	def := app.DefaultOptions()
	return app.Options{
		MaxParticipants:  config.IntOr(s.MaxParticipants, def.MaxParticipants),
		MaxSessions:      config.IntOr(s.MaxSessions, def.MaxSessions),
		GracePeriod:      config.TTLDuration(s.GracePeriod, def.GracePeriod),
		DefaultTimeLimit: config.TTLDuration(s.DefaultTimeLimit, def.DefaultTimeLimit),
		AutoAdvance:      config.TTLDuration(s.AutoAdvance, 0),
		SweepInterval:    config.TTLDuration(s.SweepInterval, def.SweepInterval),
		IdleTTL:          config.TTLDuration(s.IdleTTL, def.IdleTTL),
		Retention:        config.TTLDuration(s.Retention, def.Retention),
		WriteAttempts:    config.IntOr(s.WriteAttempts, def.WriteAttempts),
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	setupLogging(cfg)

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return err
		}
	}
	redisTTL := config.TTLDuration(cfg.Redis.TTL, 2*time.Hour)

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	var loader memory.QuizLoader = memory.NewStaticQuizLoader(sampleQuizzes())
	var results app.ResultsSink = memory.NewResultsSink()
	if pool != nil {
		loader = pgstore.NewQuizLoader(pool)
		results = pgstore.NewResultsSink(pool)
	}

	opts := coordinatorOptions(cfg)
	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
	var quizRepo app.QuizRepository
	if redisClient != nil {
		quizRepo = redisstore.NewQuizRepository(redisClient, loader, quizTTL)
	} else {
		quizRepo = memory.NewQuizRepository(loader, quizTTL, opts.Clock)
	}

	var store app.SessionRepository
	if redisClient != nil {
		store = redisstore.NewSessionStore(redisClient, redisTTL)
	} else {
		store = memory.NewSessionStore()
	}

	coord := app.NewCoordinator(store, quizRepo, results, opts)
	defer coord.Close()
	wsHandler := transport.NewWSHandler(coord, transport.Options{})

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", wsHandler.Health)
	mux.HandleFunc("/ws", wsHandler.ServeWS)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  config.TTLDuration(cfg.Server.ReadTimeout, 15*time.Second),
		WriteTimeout: config.TTLDuration(cfg.Server.WriteTimeout, 15*time.Second),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("module", "cli").Str("port", finalPort).
			Bool("redis", redisClient != nil).Bool("postgres", pool != nil).Msg("starting quiz service")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return coord.RunSweeper(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Str("module", "cli").Msg("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// sampleQuizzes is served when no database is configured.
func sampleQuizzes() map[string]domain.Quiz {
	return map[string]domain.Quiz{
		"quiz-1": {
			ID:    "quiz-1",
			Title: "Warm-up",
			Questions: []domain.Question{
				{
					ID:     "q1",
					Prompt: "What is 2 + 2?",
					Options: []domain.Option{
						{ID: "o1", Text: "3", Correct: false},
						{ID: "o2", Text: "4", Correct: true},
						{ID: "o3", Text: "5", Correct: false},
					},
					Points:           100,
					TimeLimitSeconds: 20,
				},
				{
					ID:     "q2",
					Prompt: "Which of these are primes?",
					Kind:   domain.QuestionMulti,
					Options: []domain.Option{
						{ID: "a", Text: "2", Correct: true},
						{ID: "b", Text: "4", Correct: false},
						{ID: "c", Text: "7", Correct: true},
					},
					Points:           200,
					TimeLimitSeconds: 30,
				},
				{
					ID:               "q3",
					Prompt:           "Type the capital of France",
					Accepted:         []string{"Paris", "paris"},
					Points:           100,
					TimeLimitSeconds: 30,
				},
			},
		},
	}
}
