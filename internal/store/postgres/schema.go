package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS polls (
	id               TEXT PRIMARY KEY,
	question         TEXT NOT NULL,
	options          TEXT[] NOT NULL,
	duration_seconds INT NOT NULL CHECK (duration_seconds BETWEEN 1 AND 60),
	start_time       TIMESTAMPTZ NOT NULL,
	end_time         TIMESTAMPTZ,
	active           BOOLEAN NOT NULL DEFAULT TRUE,
	end_reason       TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS votes (
	poll_id        TEXT NOT NULL REFERENCES polls (id),
	participant_id TEXT NOT NULL,
	option_index   INT NOT NULL CHECK (option_index >= 0),
	submitted_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (poll_id, participant_id)
);
`

// CreateSchema creates the polls and votes tables when missing. The votes
// primary key doubles as the duplicate-vote backstop.
func CreateSchema(ctx context.Context, db *pgxpool.Pool) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}
