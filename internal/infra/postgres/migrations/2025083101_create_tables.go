package migrations

import (
	"context"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
)

const createQuizzesSQL = `
CREATE TABLE IF NOT EXISTS quizzes (
	id   TEXT PRIMARY KEY,
	data JSONB NOT NULL
)`

const createCompetitionsSQL = `
CREATE TABLE IF NOT EXISTS competitions (
	id          TEXT PRIMARY KEY,
	quiz_id     TEXT NOT NULL REFERENCES quizzes (id),
	creator_id  TEXT NOT NULL,
	title       TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	share_code  TEXT NOT NULL UNIQUE,
	config      JSONB NOT NULL DEFAULT '{}',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
)`

var Migrations = migrate.NewMigrations()

func init() {
	Migrations.MustRegister(
		func(ctx context.Context, db *bun.DB) error {
			if _, err := db.ExecContext(ctx, createQuizzesSQL); err != nil {
				return err
			}
			_, err := db.ExecContext(ctx, createCompetitionsSQL)
			return err
		},
		func(ctx context.Context, db *bun.DB) error {
			if _, err := db.ExecContext(ctx, `DROP TABLE IF EXISTS competitions`); err != nil {
				return err
			}
			_, err := db.ExecContext(ctx, `DROP TABLE IF EXISTS quizzes`)
			return err
		},
	)
}
