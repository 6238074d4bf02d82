package migrations

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigrationContext(upModelsUpdatedAt, downModelsUpdatedAt)
}

// Adds an updated_at column so stale rows can be found and expired by operators.
func upModelsUpdatedAt(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `
	ALTER TABLE IF EXISTS dgate_models ADD COLUMN IF NOT EXISTS updated_at TIMESTAMPTZ NOT NULL DEFAULT now();
	CREATE INDEX IF NOT EXISTS dgate_models_updated_at_idx ON dgate_models(updated_at);
	`)
	if err != nil {
		return fmt.Errorf("failed to add updated_at: %w", err)
	}
	return nil
}

func downModelsUpdatedAt(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `
	DROP INDEX IF EXISTS dgate_models_updated_at_idx;
	ALTER TABLE IF EXISTS dgate_models DROP COLUMN IF EXISTS updated_at;
	`)
	return err
}
