package journal

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Execer runs a statement.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const createIntentEvents = `
CREATE TABLE IF NOT EXISTS intent_events (
	intent_id   TEXT        NOT NULL,
	instance_id TEXT        NOT NULL,
	account     TEXT        NOT NULL,
	kind        TEXT        NOT NULL,
	status      TEXT        NOT NULL,
	stage       TEXT        NOT NULL DEFAULT '',
	step        SMALLINT    NOT NULL DEFAULT 0,
	steps       SMALLINT    NOT NULL DEFAULT 0,
	atomic      BOOLEAN     NOT NULL DEFAULT FALSE,
	game_id     BIGINT      NOT NULL DEFAULT 0,
	tx_hash     TEXT,
	batch_id    TEXT,
	block       BIGINT,
	reason      TEXT,
	error       TEXT,
	recorded_at BIGINT      NOT NULL,
	PRIMARY KEY (intent_id, status)
);
CREATE INDEX IF NOT EXISTS intent_events_account_idx ON intent_events (account, recorded_at);
`

// EnsureSchema creates the journal table if it does not exist.
func EnsureSchema(ctx context.Context, db Execer) error {
	if _, err := db.Exec(ctx, createIntentEvents); err != nil {
		return fmt.Errorf("create intent_events: %w", err)
	}
	return nil
}
