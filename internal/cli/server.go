package cli

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"quizo-live-service/internal/app"
	"quizo-live-service/internal/config"
	"quizo-live-service/internal/domain"
	"quizo-live-service/internal/infra/memory"
	pginfra "quizo-live-service/internal/infra/postgres"
	redisinfra "quizo-live-service/internal/infra/redis"
	transport "quizo-live-service/internal/transport/http"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the live competition server",
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
	}
	redisTTL := config.TTLDuration(cfg.Redis.TTL, 6*time.Hour)

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
	}

	var loader memory.QuizLoader = memory.NewStaticQuizLoader(sampleQuizzes())
	if pool != nil {
		loader = pginfra.NewQuizLoader(pool)
	}

	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
	var quizRepo app.QuizRepository
	if redisClient != nil {
		quizRepo = redisinfra.NewQuizRepository(redisClient, loader, quizTTL)
	} else {
		quizRepo = memory.NewQuizRepository(loader, quizTTL)
	}

	var competitions app.CompetitionRepository = memory.NewCompetitionRepository()
	if pool != nil {
		competitions = pginfra.NewCompetitionRepository(pool)
	}

	var sessions app.SessionRepository
	var opts []app.Option
	if redisClient != nil {
		sessions = redisinfra.NewSessionStore(redisClient, redisTTL)
		store := redisinfra.NewCompetitionStore(redisClient, redisTTL)
		opts = append(opts, app.WithStatusGuard(store), app.WithSnapshotMirror(store))
	} else {
		sessions = memory.NewSessionStore()
	}
	service := app.NewCompetitionService(sessions, quizRepo, competitions, opts...)

	staleAfter := config.TTLDuration(cfg.Competition.StaleAfter, 90*time.Second)
	sweepInterval := config.TTLDuration(cfg.Competition.SweepInterval, 30*time.Second)

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := service.SweepStale(sweepCtx, staleAfter); n > 0 {
					log.Printf("marked %d stalled participants inactive", n)
				}
			case <-sweepCtx.Done():
				return
			}
		}
	}()

	wsHandler := transport.NewWSHandler(service)
	hostHandler := transport.NewHostHandler(service)
	apiHandler := transport.NewAPIHandler(service)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", wsHandler.ServeWS)
	mux.HandleFunc("/ws/host", hostHandler.ServeWS)
	mux.HandleFunc("/competitions", apiHandler.CreateCompetition)
	mux.HandleFunc("/competitions/code/", apiHandler.ResolveShareCode)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("starting live competition service on :%s", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("shutting down server...")
	case <-ctx.Done():
		log.Println("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// sampleQuizzes provides a minimal question set for running without Postgres;
// in production the generation pipeline writes quizzes into the database.
func sampleQuizzes() map[string]domain.Quiz {
	return map[string]domain.Quiz{
		"quiz-1": {
			ID: "quiz-1",
			Questions: []domain.Question{
				{
					ID:     "q1",
					Prompt: "What is 2 + 2?",
					Options: []domain.Option{
						{ID: "q1_a", Text: "3", Correct: false},
						{ID: "q1_b", Text: "4", Correct: true},
						{ID: "q1_c", Text: "5", Correct: false},
					},
					Points: 1,
				},
				{
					ID:     "q2",
					Prompt: "Which planet is closest to the sun?",
					Options: []domain.Option{
						{ID: "q2_a", Text: "Venus", Correct: false},
						{ID: "q2_b", Text: "Mercury", Correct: true},
						{ID: "q2_c", Text: "Mars", Correct: false},
					},
					Points: 1,
				},
			},
		},
	}
}
