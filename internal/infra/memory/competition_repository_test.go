package memory

import (
	"context"
	"errors"
	"testing"

	"quizo-live-service/internal/domain"
)

func TestCompetitionRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewCompetitionRepository()

	comp := domain.Competition{ID: "comp-1", QuizID: "quiz-1", ShareCode: "ABC234"}
	if err := repo.Create(ctx, comp); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := repo.Get(ctx, "comp-1")
	if err != nil || got.ID != "comp-1" {
		t.Fatalf("get: %+v err %v", got, err)
	}
	got, err = repo.GetByShareCode(ctx, "ABC234")
	if err != nil || got.ID != "comp-1" {
		t.Fatalf("get by code: %+v err %v", got, err)
	}

	if _, err := repo.Get(ctx, "nope"); !errors.Is(err, domain.ErrCompetitionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := repo.GetByShareCode(ctx, "XXXXXX"); !errors.Is(err, domain.ErrShareCodeNotFound) {
		t.Fatalf("expected code not found, got %v", err)
	}
}
