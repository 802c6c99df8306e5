package database

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const initialMigration = "001_initial"

//go:embed schema.sql
var schemaSQL string

// Migrate applies the embedded schema once and records it in schema_migrations.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			CREATE TABLE IF NOT EXISTS schema_migrations (
				version    TEXT PRIMARY KEY,
				applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`)
		if err != nil {
			return fmt.Errorf("failed to create migrations table: %w", err)
		}

		// Serialize concurrent instances starting at the same time.
		if _, err := tx.Exec(ctx, `LOCK TABLE schema_migrations IN EXCLUSIVE MODE`); err != nil {
			return fmt.Errorf("failed to lock migrations table: %w", err)
		}

		var count int
		err = tx.QueryRow(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = $1`, initialMigration).Scan(&count)
		if err != nil {
			return fmt.Errorf("failed to check migration status: %w", err)
		}
		if count > 0 {
			return nil
		}

		if _, err := tx.Exec(ctx, schemaSQL); err != nil {
			return fmt.Errorf("failed to execute migration: %w", err)
		}

		if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, initialMigration); err != nil {
			return fmt.Errorf("failed to record migration: %w", err)
		}
		return nil
	})
}
