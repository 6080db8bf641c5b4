package memory

import (
	"context"
	"sync"

	"quizo-live-service/internal/domain"
)

// CompetitionRepository is an in-memory implementation of
// app.CompetitionRepository with a share-code index.
type CompetitionRepository struct {
	mu     sync.RWMutex
	byID   map[string]domain.Competition
	byCode map[string]string // share code -> competition id
}

func NewCompetitionRepository() *CompetitionRepository {
	return &CompetitionRepository{
		byID:   make(map[string]domain.Competition),
		byCode: make(map[string]string),
	}
}

func (r *CompetitionRepository) Create(_ context.Context, comp domain.Competition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[comp.ID] = comp
	r.byCode[comp.ShareCode] = comp.ID
	return nil
}

func (r *CompetitionRepository) Get(_ context.Context, id string) (domain.Competition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	comp, ok := r.byID[id]
	if !ok {
		return domain.Competition{}, domain.ErrCompetitionNotFound
	}
	return comp, nil
}

func (r *CompetitionRepository) GetByShareCode(_ context.Context, code string) (domain.Competition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byCode[code]
	if !ok {
		return domain.Competition{}, domain.ErrShareCodeNotFound
	}
	return r.byID[id], nil
}
