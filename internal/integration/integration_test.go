package integration

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"quizo-live-service/internal/app"
	"quizo-live-service/internal/domain"
	pgstore "quizo-live-service/internal/infra/postgres"
	"quizo-live-service/internal/infra/postgres/migrations"
	infraredis "quizo-live-service/internal/infra/redis"
	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"
)

func TestCompetitionEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	seedQuiz(t, ctx, pgURL, sampleQuiz())

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer redisClient.Close()

	loader := pgstore.NewQuizLoader(pool)
	quizRepo := infraredis.NewQuizRepository(redisClient, loader, 5*time.Minute)
	sessions := infraredis.NewSessionStore(redisClient, 5*time.Minute)
	competitions := pgstore.NewCompetitionRepository(pool)
	store := infraredis.NewCompetitionStore(redisClient, time.Hour)
	service := app.NewCompetitionService(sessions, quizRepo, competitions,
		app.WithStatusGuard(store), app.WithSnapshotMirror(store))

	comp, err := service.CreateCompetition(ctx, app.CreateCompetitionInput{
		QuizID:    "quiz-1",
		CreatorID: "host-1",
		Title:     "Launch party quiz",
		Config:    domain.CompetitionConfig{AllowLateJoin: true},
	})
	if err != nil {
		t.Fatalf("create competition: %v", err)
	}

	// The share code resolves through Postgres, not through session memory.
	resolved, _, err := service.JoinByCode(ctx, comp.ShareCode, app.JoinIdentity{ID: "u1", Name: "Alice"})
	if err != nil {
		t.Fatalf("join by code: %v", err)
	}
	if resolved.ID != comp.ID {
		t.Fatalf("expected competition %s, got %s", comp.ID, resolved.ID)
	}
	if _, err := service.Join(ctx, comp.ID, app.JoinIdentity{ID: "u2", Name: "Bob"}); err != nil {
		t.Fatalf("join: %v", err)
	}

	if err := service.Start(ctx, comp.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := service.Start(ctx, comp.ID); !errors.Is(err, domain.ErrInvalidStateTransition) {
		t.Fatalf("expected second start to fail, got %v", err)
	}

	result, err := service.SubmitAnswer(ctx, comp.ID, "u2", domain.AnswerSubmission{
		QuestionID: "q1", OptionID: "o2", TimeSpent: 3,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !result.Correct || result.TotalScore != 1 {
		t.Fatalf("expected correct answer worth 1, got %+v", result)
	}

	lb, err := store.Leaderboard(ctx, comp.ID)
	if err != nil {
		t.Fatalf("mirrored leaderboard: %v", err)
	}
	if len(lb.Entries) != 2 || lb.Entries[0].UserID != "u2" {
		t.Fatalf("expected bob leading mirrored standings, got %+v", lb.Entries)
	}

	if err := service.End(ctx, comp.ID); err != nil {
		t.Fatalf("end: %v", err)
	}
	status, err := store.Status(ctx, comp.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status != domain.StatusCompleted {
		t.Fatalf("expected completed in redis, got %s", status)
	}
	if err := service.Start(ctx, comp.ID); !errors.Is(err, domain.ErrInvalidStateTransition) {
		t.Fatalf("expected terminal competition to reject start, got %v", err)
	}

	// A second instance over the same stores revives the session from the
	// mirrored snapshots: the competition stays ended there too.
	restarted := app.NewCompetitionService(infraredis.NewSessionStore(redisClient, 5*time.Minute), quizRepo, competitions,
		app.WithStatusGuard(store), app.WithSnapshotMirror(store))
	if _, err := restarted.Join(ctx, comp.ID, app.JoinIdentity{ID: "u3", Name: "Carol"}); !errors.Is(err, domain.ErrCompetitionClosed) {
		t.Fatalf("expected ended competition on restarted instance, got %v", err)
	}
	stats, err := restarted.Stats(ctx, comp.ID)
	if err != nil || stats.TotalParticipants != 2 {
		t.Fatalf("expected revived roster of 2, got %+v err %v", stats, err)
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "quizo", "POSTGRES_PASSWORD": "quizopass", "POSTGRES_DB": "quizodb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://quizo:quizopass@%s:%s/quizodb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func seedQuiz(t *testing.T, ctx context.Context, dsn string, quiz domain.Quiz) {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, migrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	data, err := json.Marshal(quiz)
	if err != nil {
		t.Fatalf("marshal quiz: %v", err)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO quizzes (id, data) VALUES (?, ?::jsonb) ON CONFLICT (id) DO UPDATE SET data=EXCLUDED.data`, quiz.ID, string(data)); err != nil {
		t.Fatalf("insert quiz: %v", err)
	}
}

func sampleQuiz() domain.Quiz {
	return domain.Quiz{
		ID:    "quiz-1",
		Title: "Arithmetic",
		Questions: []domain.Question{
			{
				ID:     "q1",
				Prompt: "What is 2 + 2?",
				Options: []domain.Option{
					{ID: "o1", Text: "3"},
					{ID: "o2", Text: "4", Correct: true},
					{ID: "o3", Text: "5"},
				},
				Points: 1,
			},
			{
				ID:     "q2",
				Prompt: "What is 3 * 3?",
				Options: []domain.Option{
					{ID: "o1", Text: "9", Correct: true},
					{ID: "o2", Text: "6"},
				},
				Points: 2,
			},
		},
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
