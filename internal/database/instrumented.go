package database

import (
	"context"
	"time"

	"github.com/addfeaturesnow/prodesk/internal/logging"
	"github.com/addfeaturesnow/prodesk/internal/metrics"
)

// Instrumented records metrics and logs failures for every call on a
// Repository.
type Instrumented struct {
	next    Repository
	backend string
	metrics *metrics.Metrics
	logger  *logging.Logger
}

// Instrument wraps next. backend labels the metrics (supabase, postgres, memory).
func Instrument(next Repository, backend string, m *metrics.Metrics, logger *logging.Logger) *Instrumented {
	return &Instrumented{next: next, backend: backend, metrics: m, logger: logger}
}

func (i *Instrumented) observe(ctx context.Context, op string, start time.Time, err error) {
	if i.metrics != nil {
		i.metrics.RecordRepositoryOperation(i.backend, op, time.Since(start), err)
	}
	if err != nil && i.logger != nil {
		i.logger.WithContext(ctx).WithError(err).WithField("backend", i.backend).WithField("operation", op).Error("repository call failed")
	}
}

func (i *Instrumented) Ping(ctx context.Context) error {
	start := time.Now()
	err := i.next.Ping(ctx)
	i.observe(ctx, "ping", start, err)
	return err
}

func (i *Instrumented) ListGroups(ctx context.Context) ([]Group, error) {
	start := time.Now()
	groups, err := i.next.ListGroups(ctx)
	i.observe(ctx, "list_groups", start, err)
	return groups, err
}

func (i *Instrumented) CreateGroup(ctx context.Context, in NewGroup) (*Group, error) {
	start := time.Now()
	g, err := i.next.CreateGroup(ctx, in)
	i.observe(ctx, "create_group", start, err)
	return g, err
}

func (i *Instrumented) AddMember(ctx context.Context, in NewMember) (*GroupMember, error) {
	start := time.Now()
	m, err := i.next.AddMember(ctx, in)
	i.observe(ctx, "add_member", start, err)
	return m, err
}

func (i *Instrumented) RemoveMember(ctx context.Context, groupID, memberID string) error {
	start := time.Now()
	err := i.next.RemoveMember(ctx, groupID, memberID)
	i.observe(ctx, "remove_member", start, err)
	return err
}

func (i *Instrumented) ListDivers(ctx context.Context) ([]DiverRef, error) {
	start := time.Now()
	divers, err := i.next.ListDivers(ctx)
	i.observe(ctx, "list_divers", start, err)
	return divers, err
}

func (i *Instrumented) CreateDiver(ctx context.Context, in NewDiver) (*DiverRef, error) {
	start := time.Now()
	d, err := i.next.CreateDiver(ctx, in)
	i.observe(ctx, "create_diver", start, err)
	return d, err
}

func (i *Instrumented) Close() error { return i.next.Close() }

var _ Repository = (*Instrumented)(nil)
