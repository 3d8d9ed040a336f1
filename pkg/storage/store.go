package storage

import (
	"errors"

	"github.com/arobust/arobust/pkg/types"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("not found")

// Manifest is the durable index of published checkpoints.
// Every mutating call commits atomically: readers observe either the state
// before or after it, never a mix.
type Manifest interface {
	// Publish assigns rec the next sequence for its role, stores it, moves the
	// latest pointer to it and, when (episode, step) was already published,
	// drops the previous record and returns it.
	Publish(rec *types.CheckpointRecord) (replaced *types.CheckpointRecord, err error)

	// Remove deletes the record with the given sequence and returns it
	Remove(role types.Role, seq uint64) (*types.CheckpointRecord, error)

	Get(role types.Role, episode, step int64) (*types.CheckpointRecord, error)
	Latest(role types.Role) (*types.CheckpointRecord, error)

	// List returns the role's records in publish order
	List(role types.Role) ([]*types.CheckpointRecord, error)

	// Roles returns every role with at least one bucket in the manifest
	Roles() ([]types.Role, error)

	Close() error
}
