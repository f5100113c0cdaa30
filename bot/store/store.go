package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the group has no stored config.
var ErrNotFound = errors.New("store: group config not found")

// Mutator edits a config in place inside a read-modify-write cycle.
// Returning an error aborts the write and is passed through to the caller.
type Mutator func(cfg *GroupConfig) error

// Store persists per-group configuration. Upsert runs the mutator under a
// per-group write lock so concurrent edits of the same group serialize.
type Store interface {
	Get(ctx context.Context, groupID int64) (GroupConfig, error)
	Upsert(ctx context.Context, groupID int64, mutate Mutator) (GroupConfig, error)
	// ListWithToken returns every group that has a tracked token and
	// notifications enabled. Used to restore subscriptions at startup.
	ListWithToken(ctx context.Context) ([]GroupConfig, error)
}
