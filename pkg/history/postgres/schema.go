package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlConversationHistory = `
CREATE TABLE IF NOT EXISTS conversation_history (
    key        TEXT         PRIMARY KEY,
    entries    JSONB        NOT NULL DEFAULT '[]'::jsonb,
    updated_at TIMESTAMPTZ  NOT NULL DEFAULT now()
);`

// Migrate creates the conversation_history table if it does not exist. It is
// idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlConversationHistory); err != nil {
		return fmt.Errorf("history postgres: create table: %w", err)
	}
	return nil
}
