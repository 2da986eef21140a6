package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"

	"github.com/google/uuid"

	"github.com/addfeaturesnow/prodesk/supabase/client"
	"github.com/addfeaturesnow/prodesk/supabase/deferred"
)

// Filters are equality filters on columns. Nil values are skipped.
type Filters map[string]any

// Action is a write performed by Run.
type Action string

const (
	ActionInsert Action = "insert"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// SupabaseRepository stores data through the deferred Supabase client, so
// the Supabase client is only built on the first database call.
type SupabaseRepository struct {
	db *deferred.Client
}

// NewSupabaseRepository creates a repository on db.
func NewSupabaseRepository(db *deferred.Client) *SupabaseRepository {
	return &SupabaseRepository{db: db}
}

// Ping selects from divers. A "no rows" answer still proves the connection.
func (r *SupabaseRepository) Ping(ctx context.Context) error {
	_, err := r.db.From("divers").Select("count").Limit(1).Execute(ctx)
	if err != nil && !client.IsNoRows(err) {
		return fmt.Errorf("ping supabase: %w", err)
	}
	return nil
}

// QueryRows selects columns ("*" when empty) from table and decodes the rows
// into dest, which must point to a slice.
func (r *SupabaseRepository) QueryRows(ctx context.Context, table string, filters Filters, columns string, dest any) error {
	if columns == "" {
		columns = "*"
	}
	q := r.db.From(table).Select(columns)
	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v, ok := filterValue(filters[k])
		if !ok {
			continue
		}
		q = q.Eq(k, v)
	}
	if err := q.Rows(ctx, dest); err != nil {
		return fmt.Errorf("query %s: %w", table, err)
	}
	return nil
}

// GetRow decodes the first matching row into dest and reports whether
// there was one.
func (r *SupabaseRepository) GetRow(ctx context.Context, table string, filters Filters, columns string, dest any) (bool, error) {
	var rows []json.RawMessage
	if err := r.QueryRows(ctx, table, filters, columns, &rows); err != nil {
		return false, err
	}
	return decodeFirst(rows, dest)
}

// Run inserts, updates or deletes one row and decodes the first returned
// row into dest when dest is not nil. Inserts get a uuid when data has no
// id; updates and deletes match on data["id"].
func (r *SupabaseRepository) Run(ctx context.Context, table string, action Action, data map[string]any, dest any) (bool, error) {
	var q *deferred.Query
	switch action {
	case ActionInsert:
		row := make(map[string]any, len(data)+1)
		for k, v := range data {
			row[k] = v
		}
		if id, _ := row["id"].(string); id == "" {
			row["id"] = uuid.NewString()
		}
		q = r.db.From(table).Insert([]any{row}).Select("*")
	case ActionUpdate:
		rest := make(map[string]any, len(data))
		for k, v := range data {
			if k != "id" {
				rest[k] = v
			}
		}
		q = r.db.From(table).Update(rest).Eq("id", data["id"]).Select("*")
	case ActionDelete:
		q = r.db.From(table).Delete().Eq("id", data["id"])
	default:
		return false, fmt.Errorf("unknown action: %s", action)
	}

	var rows []json.RawMessage
	if err := q.Rows(ctx, &rows); err != nil {
		return false, fmt.Errorf("%s %s: %w", action, table, err)
	}
	return decodeFirst(rows, dest)
}

func (r *SupabaseRepository) ListGroups(ctx context.Context) ([]Group, error) {
	var groups []Group
	err := r.db.From("groups").
		Select("id,name,leader_id,description,created_at").
		Order("created_at", false).
		Rows(ctx, &groups)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	if len(groups) == 0 {
		return []Group{}, nil
	}

	groupIDs := make([]any, len(groups))
	for i, g := range groups {
		groupIDs[i] = g.ID
	}
	var members []memberRecord
	err = r.db.From("group_members").
		Select("id,group_id,diver_id,role").
		In("group_id", groupIDs).
		Order("created_at", true).
		Rows(ctx, &members)
	if err != nil {
		return nil, fmt.Errorf("list group members: %w", err)
	}

	seen := map[string]bool{}
	var diverIDs []any
	addDiver := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			diverIDs = append(diverIDs, id)
		}
	}
	for _, g := range groups {
		if g.LeaderID != nil {
			addDiver(*g.LeaderID)
		}
	}
	for _, m := range members {
		addDiver(m.DiverID)
	}

	divers := map[string]DiverRef{}
	if len(diverIDs) > 0 {
		var refs []DiverRef
		if err := r.db.From("divers").Select("id,name").In("id", diverIDs).Rows(ctx, &refs); err != nil {
			return nil, fmt.Errorf("list divers: %w", err)
		}
		for _, d := range refs {
			divers[d.ID] = d
		}
	}

	return assembleGroups(groups, members, divers), nil
}

func (r *SupabaseRepository) CreateGroup(ctx context.Context, in NewGroup) (*Group, error) {
	var g Group
	_, err := r.Run(ctx, "groups", ActionInsert, map[string]any{
		"name":        in.Name,
		"leader_id":   nonEmpty(in.LeaderID),
		"description": nonEmpty(in.Description),
	}, &g)
	if err != nil {
		return nil, err
	}
	g.Leader = nil
	g.Members = []GroupMember{}
	return &g, nil
}

func (r *SupabaseRepository) AddMember(ctx context.Context, in NewMember) (*GroupMember, error) {
	var diver DiverRef
	found, err := r.GetRow(ctx, "divers", Filters{"id": in.DiverID}, "id,name", &diver)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("diver %s: %w", in.DiverID, ErrNotFound)
	}
	var group struct {
		ID string `json:"id"`
	}
	if found, err = r.GetRow(ctx, "groups", Filters{"id": in.GroupID}, "id", &group); err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("group %s: %w", in.GroupID, ErrNotFound)
	}

	var rec memberRecord
	if _, err := r.Run(ctx, "group_members", ActionInsert, map[string]any{
		"group_id": in.GroupID,
		"diver_id": in.DiverID,
		"role":     nonEmpty(in.Role),
	}, &rec); err != nil {
		// The group or diver can still disappear between the lookups and
		// the insert.
		if isForeignKeyViolation(err) {
			return nil, fmt.Errorf("add member to group %s: %w", in.GroupID, ErrNotFound)
		}
		return nil, err
	}
	return &GroupMember{ID: rec.ID, Role: rec.Role, Diver: diver}, nil
}

func (r *SupabaseRepository) RemoveMember(ctx context.Context, _, memberID string) error {
	_, err := r.Run(ctx, "group_members", ActionDelete, map[string]any{"id": memberID}, nil)
	return err
}

func (r *SupabaseRepository) ListDivers(ctx context.Context) ([]DiverRef, error) {
	var divers []DiverRef
	if err := r.db.From("divers").Select("id,name").Order("name", true).Rows(ctx, &divers); err != nil {
		return nil, fmt.Errorf("list divers: %w", err)
	}
	if divers == nil {
		divers = []DiverRef{}
	}
	return divers, nil
}

func (r *SupabaseRepository) CreateDiver(ctx context.Context, in NewDiver) (*DiverRef, error) {
	var d DiverRef
	if _, err := r.Run(ctx, "divers", ActionInsert, map[string]any{"name": in.Name, "email": in.Email}, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// Close is a no-op; the Supabase client holds no connections to release.
func (r *SupabaseRepository) Close() error { return nil }

var _ Repository = (*SupabaseRepository)(nil)

type memberRecord struct {
	ID      string  `json:"id" db:"id"`
	GroupID string  `json:"group_id" db:"group_id"`
	DiverID string  `json:"diver_id" db:"diver_id"`
	Role    *string `json:"role" db:"role"`
}

// assembleGroups attaches leaders and members. Members whose diver is
// missing are dropped, as an inner join would.
// foreignKeyViolation is the Postgres SQLSTATE PostgREST forwards when a
// referenced row is missing.
const foreignKeyViolation = "23503"

func isForeignKeyViolation(err error) bool {
	var apiErr *client.APIError
	return errors.As(err, &apiErr) && apiErr.Code == foreignKeyViolation
}

func assembleGroups(groups []Group, members []memberRecord, divers map[string]DiverRef) []Group {
	byGroup := map[string][]GroupMember{}
	for _, m := range members {
		d, ok := divers[m.DiverID]
		if !ok {
			continue
		}
		byGroup[m.GroupID] = append(byGroup[m.GroupID], GroupMember{ID: m.ID, Role: m.Role, Diver: d})
	}
	for i := range groups {
		groups[i].Leader = nil
		if groups[i].LeaderID != nil {
			if d, ok := divers[*groups[i].LeaderID]; ok {
				d := d
				groups[i].Leader = &d
			}
		}
		groups[i].Members = byGroup[groups[i].ID]
		if groups[i].Members == nil {
			groups[i].Members = []GroupMember{}
		}
	}
	return groups
}

func decodeFirst(rows []json.RawMessage, dest any) (bool, error) {
	if len(rows) == 0 {
		return false, nil
	}
	if dest == nil {
		return true, nil
	}
	if err := json.Unmarshal(rows[0], dest); err != nil {
		return false, fmt.Errorf("decode row: %w", err)
	}
	return true, nil
}

// filterValue dereferences pointers so they format as values in filters.
func filterValue(v any) (any, bool) {
	if v == nil {
		return nil, false
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, false
		}
		rv = rv.Elem()
	}
	return rv.Interface(), true
}
