package world

import (
	"errors"
	"fmt"

	"github.com/voxelforge/voxeld/internal/chunk"
)

var (
	// ErrChunkNotLoaded is returned when accessing a position with no resident chunk.
	ErrChunkNotLoaded = errors.New("chunk not loaded")
	// ErrNotLoaded is returned by Unload for a position that holds no chunk.
	ErrNotLoaded = errors.New("unload: chunk not loaded")
	// ErrGenerationFailed wraps terrain generator failures.
	ErrGenerationFailed = errors.New("generation failed")
	// ErrIO wraps chunk store failures.
	ErrIO = errors.New("chunk store i/o")
	// ErrPermitInvariant means the permit bookkeeping is inconsistent. It is a bug.
	ErrPermitInvariant = errors.New("permit invariant violation")
	// ErrPositionOutOfBounds is returned for chunk positions outside the world.
	ErrPositionOutOfBounds = errors.New("chunk position out of world bounds")
	// ErrLockUnavailable is returned by LockImmediate when the lock is held.
	ErrLockUnavailable = errors.New("chunk lock unavailable")
	// ErrLockTimeout is returned when a timed lock attempt expires.
	ErrLockTimeout = errors.New("chunk lock timeout")
	// ErrNoSource is returned by Load when neither a store nor a generator is set.
	ErrNoSource = errors.New("no chunk source")
)

// LoadError attaches the chunk position to a failed load.
type LoadError struct {
	Pos chunk.Pos
	Err error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load chunk %s: %v", e.Pos, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }
