package database

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockRepository is an in-memory Repository for tests and STORE=memory.
type MockRepository struct {
	mu sync.Mutex

	divers  map[string]*Diver
	groups  map[string]*Group
	members map[string]*memberRow
	now     func() time.Time

	// Error injection for testing error paths
	ErrorOnNextCall error
}

type memberRow struct {
	id      string
	groupID string
	diverID string
	role    *string
	seq     int
}

// NewMockRepository creates an empty in-memory repository.
func NewMockRepository() *MockRepository {
	m := &MockRepository{now: time.Now}
	m.Reset()
	return m
}

// checkError returns and clears any injected error.
func (m *MockRepository) checkError() error {
	if m.ErrorOnNextCall != nil {
		err := m.ErrorOnNextCall
		m.ErrorOnNextCall = nil
		return err
	}
	return nil
}

// Reset clears all data in the mock repository.
func (m *MockRepository) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.divers = make(map[string]*Diver)
	m.groups = make(map[string]*Group)
	m.members = make(map[string]*memberRow)
	m.ErrorOnNextCall = nil
}

func (m *MockRepository) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checkError()
}

func (m *MockRepository) ListGroups(context.Context) ([]Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return nil, err
	}

	out := make([]Group, 0, len(m.groups))
	for _, g := range m.groups {
		cp := *g
		cp.Leader = nil
		if cp.LeaderID != nil {
			if d, ok := m.divers[*cp.LeaderID]; ok {
				cp.Leader = &DiverRef{ID: d.ID, Name: d.Name}
			}
		}
		cp.Members = m.membersOfLocked(g.ID)
		out = append(out, cp)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MockRepository) membersOfLocked(groupID string) []GroupMember {
	var rows []*memberRow
	for _, r := range m.members {
		if r.groupID == groupID {
			rows = append(rows, r)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq < rows[j].seq })

	members := make([]GroupMember, 0, len(rows))
	for _, r := range rows {
		d, ok := m.divers[r.diverID]
		if !ok {
			continue
		}
		members = append(members, GroupMember{ID: r.id, Role: r.role, Diver: DiverRef{ID: d.ID, Name: d.Name}})
	}
	return members
}

func (m *MockRepository) CreateGroup(_ context.Context, in NewGroup) (*Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return nil, err
	}

	g := &Group{
		ID:          uuid.NewString(),
		Name:        in.Name,
		LeaderID:    nonEmpty(in.LeaderID),
		Description: nonEmpty(in.Description),
		CreatedAt:   m.nextTimeLocked(),
	}
	m.groups[g.ID] = g

	out := *g
	out.Members = []GroupMember{}
	return &out, nil
}

// nextTimeLocked keeps creation times strictly increasing so newest-first
// ordering is stable even within one clock tick.
func (m *MockRepository) nextTimeLocked() time.Time {
	t := m.now()
	for _, g := range m.groups {
		if !t.After(g.CreatedAt) {
			t = g.CreatedAt.Add(time.Microsecond)
		}
	}
	return t
}

func (m *MockRepository) AddMember(_ context.Context, in NewMember) (*GroupMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return nil, err
	}

	if _, ok := m.groups[in.GroupID]; !ok {
		return nil, ErrNotFound
	}
	d, ok := m.divers[in.DiverID]
	if !ok {
		return nil, ErrNotFound
	}

	row := &memberRow{
		id:      uuid.NewString(),
		groupID: in.GroupID,
		diverID: in.DiverID,
		role:    nonEmpty(in.Role),
		seq:     len(m.members),
	}
	m.members[row.id] = row
	return &GroupMember{ID: row.id, Role: row.role, Diver: DiverRef{ID: d.ID, Name: d.Name}}, nil
}

func (m *MockRepository) RemoveMember(_ context.Context, _, memberID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return err
	}
	delete(m.members, memberID)
	return nil
}

func (m *MockRepository) ListDivers(context.Context) ([]DiverRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return nil, err
	}

	out := make([]DiverRef, 0, len(m.divers))
	for _, d := range m.divers {
		out = append(out, DiverRef{ID: d.ID, Name: d.Name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MockRepository) CreateDiver(_ context.Context, in NewDiver) (*DiverRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return nil, err
	}

	d := &Diver{ID: uuid.NewString(), Name: in.Name, Email: in.Email, CreatedAt: m.now()}
	m.divers[d.ID] = d
	return &DiverRef{ID: d.ID, Name: d.Name}, nil
}

func (m *MockRepository) Close() error { return nil }

// Ensure MockRepository implements Repository
var _ Repository = (*MockRepository)(nil)
