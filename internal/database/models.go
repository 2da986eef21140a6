// Package database stores divers, dive groups and group members. The
// Repository interface has Supabase, Postgres and in-memory implementations.
package database

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a referenced row does not exist.
var ErrNotFound = errors.New("not found")

// DiverRef is the short form of a diver used in lists and embeds.
type DiverRef struct {
	ID   string `json:"id" db:"id"`
	Name string `json:"name" db:"name"`
}

// Diver is a customer record.
type Diver struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Email     string    `json:"email" db:"email"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Group is a dive group with its leader and members resolved.
type Group struct {
	ID          string        `json:"id" db:"id"`
	Name        string        `json:"name" db:"name"`
	LeaderID    *string       `json:"leader_id" db:"leader_id"`
	Description *string       `json:"description" db:"description"`
	CreatedAt   time.Time     `json:"created_at" db:"created_at"`
	Leader      *DiverRef     `json:"leader" db:"-"`
	Members     []GroupMember `json:"members" db:"-"`
}

// GroupMember is a diver's membership in a group.
type GroupMember struct {
	ID    string   `json:"id"`
	Role  *string  `json:"role"`
	Diver DiverRef `json:"diver"`
}

// NewGroup is the input of CreateGroup.
type NewGroup struct {
	Name        string
	LeaderID    *string
	Description *string
}

// NewMember is the input of AddMember.
type NewMember struct {
	GroupID string
	DiverID string
	Role    *string
}

// NewDiver is the input of CreateDiver.
type NewDiver struct {
	Name  string
	Email string
}

// Repository is the storage used by the HTTP API.
type Repository interface {
	// Ping checks that the store is reachable.
	Ping(ctx context.Context) error

	// ListGroups returns groups newest first with leader and members.
	ListGroups(ctx context.Context) ([]Group, error)
	// CreateGroup returns the new group with no leader resolved and no members.
	CreateGroup(ctx context.Context, in NewGroup) (*Group, error)
	AddMember(ctx context.Context, in NewMember) (*GroupMember, error)
	// RemoveMember deletes a membership. Removing a missing one is not an error.
	RemoveMember(ctx context.Context, groupID, memberID string) error

	// ListDivers returns divers sorted by name.
	ListDivers(ctx context.Context) ([]DiverRef, error)
	CreateDiver(ctx context.Context, in NewDiver) (*DiverRef, error)

	Close() error
}

func nonEmpty(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}
