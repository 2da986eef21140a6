package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/addfeaturesnow/prodesk/internal/platform/migrations"
)

// PostgresRepository stores data in a Postgres database directly.
type PostgresRepository struct {
	db *sqlx.DB
}

// OpenPostgres connects to dsn, applies the migrations and returns the
// repository.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresRepository, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := migrations.Apply(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return NewPostgresRepository(db), nil
}

// NewPostgresRepository wraps an open database.
func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

type groupRow struct {
	ID          string    `db:"id"`
	Name        string    `db:"name"`
	LeaderID    *string   `db:"leader_id"`
	Description *string   `db:"description"`
	CreatedAt   time.Time `db:"created_at"`
	LeaderName  *string   `db:"leader_name"`
}

func (r *PostgresRepository) ListGroups(ctx context.Context) ([]Group, error) {
	var rows []groupRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT g.id, g.name, g.leader_id, g.description, g.created_at, d.name AS leader_name
		FROM groups g
		LEFT JOIN divers d ON d.id = g.leader_id
		ORDER BY g.created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	if len(rows) == 0 {
		return []Group{}, nil
	}

	ids := make([]string, len(rows))
	for i, g := range rows {
		ids[i] = g.ID
	}
	var members []struct {
		memberRecord
		DiverName string `db:"diver_name"`
	}
	err = r.db.SelectContext(ctx, &members, `
		SELECT gm.id, gm.group_id, gm.diver_id, gm.role, d.name AS diver_name
		FROM group_members gm
		JOIN divers d ON d.id = gm.diver_id
		WHERE gm.group_id = ANY($1)
		ORDER BY gm.created_at ASC`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("list group members: %w", err)
	}

	groups := make([]Group, len(rows))
	divers := map[string]DiverRef{}
	for i, g := range rows {
		groups[i] = Group{ID: g.ID, Name: g.Name, LeaderID: g.LeaderID, Description: g.Description, CreatedAt: g.CreatedAt}
		if g.LeaderID != nil && g.LeaderName != nil {
			divers[*g.LeaderID] = DiverRef{ID: *g.LeaderID, Name: *g.LeaderName}
		}
	}
	records := make([]memberRecord, len(members))
	for i, m := range members {
		records[i] = m.memberRecord
		divers[m.DiverID] = DiverRef{ID: m.DiverID, Name: m.DiverName}
	}
	return assembleGroups(groups, records, divers), nil
}

func (r *PostgresRepository) CreateGroup(ctx context.Context, in NewGroup) (*Group, error) {
	var g Group
	err := r.db.QueryRowxContext(ctx, `
		INSERT INTO groups (id, name, leader_id, description)
		VALUES ($1, $2, $3, $4)
		RETURNING id, name, leader_id, description, created_at`,
		uuid.NewString(), in.Name, nonEmpty(in.LeaderID), nonEmpty(in.Description),
	).StructScan(&g)
	if err != nil {
		return nil, fmt.Errorf("create group: %w", err)
	}
	g.Members = []GroupMember{}
	return &g, nil
}

func (r *PostgresRepository) AddMember(ctx context.Context, in NewMember) (*GroupMember, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var diver DiverRef
	if err := tx.GetContext(ctx, &diver, `SELECT id, name FROM divers WHERE id = $1`, in.DiverID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("diver %s: %w", in.DiverID, ErrNotFound)
		}
		return nil, fmt.Errorf("get diver: %w", err)
	}

	m := GroupMember{ID: uuid.NewString(), Role: nonEmpty(in.Role), Diver: diver}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO group_members (id, group_id, diver_id, role) VALUES ($1, $2, $3, $4)`,
		m.ID, in.GroupID, in.DiverID, m.Role,
	); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "foreign_key_violation" {
			return nil, fmt.Errorf("group %s: %w", in.GroupID, ErrNotFound)
		}
		return nil, fmt.Errorf("add member: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &m, nil
}

func (r *PostgresRepository) RemoveMember(ctx context.Context, _, memberID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM group_members WHERE id = $1`, memberID); err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListDivers(ctx context.Context) ([]DiverRef, error) {
	divers := []DiverRef{}
	if err := r.db.SelectContext(ctx, &divers, `SELECT id, name FROM divers ORDER BY name ASC`); err != nil {
		return nil, fmt.Errorf("list divers: %w", err)
	}
	return divers, nil
}

func (r *PostgresRepository) CreateDiver(ctx context.Context, in NewDiver) (*DiverRef, error) {
	var d DiverRef
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO divers (id, name, email) VALUES ($1, $2, $3) RETURNING id, name`,
		uuid.NewString(), in.Name, in.Email,
	).StructScan(&d)
	if err != nil {
		return nil, fmt.Errorf("create diver: %w", err)
	}
	return &d, nil
}

func (r *PostgresRepository) Close() error {
	return r.db.Close()
}

var _ Repository = (*PostgresRepository)(nil)
