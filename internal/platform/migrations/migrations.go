// Package migrations creates the tables the Postgres store needs.
package migrations

import (
	"context"
	"database/sql"
	"fmt"
)

// ExecContexter is satisfied by *sql.DB, *sql.Tx and *sqlx.DB.
type ExecContexter interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type migration struct {
	name string
	stmt string
}

// Statements are idempotent so Apply can run on every start.
var migrations = []migration{
	{"create divers", `
CREATE TABLE IF NOT EXISTS divers (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	email      TEXT NOT NULL UNIQUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`},
	{"create groups", `
CREATE TABLE IF NOT EXISTS groups (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	leader_id   TEXT REFERENCES divers(id) ON DELETE SET NULL,
	description TEXT,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
)`},
	{"create group_members", `
CREATE TABLE IF NOT EXISTS group_members (
	id         TEXT PRIMARY KEY,
	group_id   TEXT NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
	diver_id   TEXT NOT NULL REFERENCES divers(id) ON DELETE CASCADE,
	role       TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`},
	{"index group_members.group_id", `CREATE INDEX IF NOT EXISTS idx_group_members_group_id ON group_members(group_id)`},
	{"index groups.created_at", `CREATE INDEX IF NOT EXISTS idx_groups_created_at ON groups(created_at DESC)`},
}

// Apply runs every migration in order and stops at the first failure.
func Apply(ctx context.Context, db ExecContexter) error {
	for _, m := range migrations {
		if _, err := db.ExecContext(ctx, m.stmt); err != nil {
			return fmt.Errorf("migration %q: %w", m.name, err)
		}
	}
	return nil
}
