package redis

import (
	"context"
	"testing"
	"time"

	"quizo-live-service/internal/domain"
	"quizo-live-service/internal/infra/memory"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestQuizRepositoryCachesInRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	loader := &countingLoader{
		QuizLoader: memory.NewStaticQuizLoader(map[string]domain.Quiz{
			"quiz-1": sampleQuiz(),
		}),
	}
	repo := NewQuizRepository(client, loader, time.Minute)

	quiz, err := repo.GetQuiz(context.Background(), "quiz-1")
	if err != nil {
		t.Fatalf("get quiz: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected loader called once, got %d", loader.calls)
	}
	if len(quiz.Questions) != 2 {
		t.Fatalf("expected 2 questions, got %d", len(quiz.Questions))
	}

	// Second call hits the cache; the lightweight form keeps question
	// order and the answer key.
	cached, err := repo.GetQuiz(context.Background(), "quiz-1")
	if err != nil {
		t.Fatalf("get quiz cached: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected cache hit, loader calls=%d", loader.calls)
	}
	if len(cached.Questions) != 2 || cached.Questions[0].ID != "q1" || cached.Questions[1].ID != "q2" {
		t.Fatalf("cached form lost question order: %+v", cached.Questions)
	}
	if cached.Questions[0].CorrectOptionID() != "o2" {
		t.Fatalf("cached form lost answer key: %+v", cached.Questions[0])
	}
	if cached.Questions[1].Points != 3 {
		t.Fatalf("cached form lost points: %+v", cached.Questions[1])
	}
	// the full option set survives, so wrong-but-valid answers stay accepted
	if len(cached.Questions[0].Options) != 2 {
		t.Fatalf("cached form lost the option set: %+v", cached.Questions[0].Options)
	}
	ids := map[string]bool{}
	for _, o := range cached.Questions[0].Options {
		ids[o.ID] = o.Correct
	}
	if correct, ok := ids["o2"]; !ok || !correct {
		t.Fatalf("expected o2 marked correct, got %v", ids)
	}
	if correct, ok := ids["o1"]; !ok || correct {
		t.Fatalf("expected o1 present and incorrect, got %v", ids)
	}
}

func TestQuizRepositoryMissPropagates(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	repo := NewQuizRepository(client, memory.NewStaticQuizLoader(nil), time.Minute)

	if _, err := repo.GetQuiz(context.Background(), "missing"); err != domain.ErrQuizNotFound {
		t.Fatalf("expected quiz not found, got %v", err)
	}
}

type countingLoader struct {
	QuizLoader
	calls int
}

func (l *countingLoader) LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	l.calls++
	return l.QuizLoader.LoadQuiz(ctx, quizID)
}

func sampleQuiz() domain.Quiz {
	return domain.Quiz{
		ID: "quiz-1",
		Questions: []domain.Question{
			{
				ID:     "q1",
				Prompt: "What is 2 + 2?",
				Options: []domain.Option{
					{ID: "o1", Text: "3", Correct: false},
					{ID: "o2", Text: "4", Correct: true},
				},
				Points: 1,
			},
			{
				ID:     "q2",
				Prompt: "Capital of France?",
				Options: []domain.Option{
					{ID: "o1", Text: "Paris", Correct: true},
					{ID: "o2", Text: "Lyon", Correct: false},
				},
				Points: 3,
			},
		},
	}
}
