package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"quizo-live-service/internal/domain"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// CompetitionRepository persists competitions with a unique share code.
type CompetitionRepository struct {
	pool *pgxpool.Pool
}

func NewCompetitionRepository(pool *pgxpool.Pool) *CompetitionRepository {
	return &CompetitionRepository{pool: pool}
}

func (r *CompetitionRepository) Create(ctx context.Context, comp domain.Competition) error {
	cfg, err := json.Marshal(comp.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO competitions (id, quiz_id, creator_id, title, description, share_code, config, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		comp.ID, comp.QuizID, comp.CreatorID, comp.Title, comp.Description, comp.ShareCode, cfg, comp.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert competition: %w", err)
	}
	return nil
}

func (r *CompetitionRepository) Get(ctx context.Context, id string) (domain.Competition, error) {
	return r.scanOne(ctx, `SELECT id, quiz_id, creator_id, title, description, share_code, config, created_at
		FROM competitions WHERE id=$1`, id, domain.ErrCompetitionNotFound)
}

func (r *CompetitionRepository) GetByShareCode(ctx context.Context, code string) (domain.Competition, error) {
	return r.scanOne(ctx, `SELECT id, quiz_id, creator_id, title, description, share_code, config, created_at
		FROM competitions WHERE share_code=$1`, code, domain.ErrShareCodeNotFound)
}

func (r *CompetitionRepository) scanOne(ctx context.Context, query, arg string, notFound error) (domain.Competition, error) {
	var comp domain.Competition
	var cfg []byte
	err := r.pool.QueryRow(ctx, query, arg).Scan(
		&comp.ID, &comp.QuizID, &comp.CreatorID, &comp.Title, &comp.Description,
		&comp.ShareCode, &cfg, &comp.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Competition{}, notFound
	}
	if err != nil {
		return domain.Competition{}, fmt.Errorf("load competition: %w", err)
	}
	if len(cfg) > 0 {
		if err := json.Unmarshal(cfg, &comp.Config); err != nil {
			return domain.Competition{}, fmt.Errorf("unmarshal config: %w", err)
		}
	}
	return comp, nil
}
