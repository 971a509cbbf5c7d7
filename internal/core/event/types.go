package event

import (
	"github.com/voxelforge/voxeld/internal/chunk"
	"github.com/voxelforge/voxeld/internal/core/ecs"
	"github.com/voxelforge/voxeld/internal/world"
)

// Consumed by the chunk controller. Any subsystem may emit these.

type AddLoadReason struct {
	Pos     chunk.Pos
	Reasons world.LoadReasons
}

type RemoveLoadReason struct {
	Pos     chunk.Pos
	Reasons world.LoadReasons
}

// AddPermit may carry tags that are attached to the chunk entity.
type AddPermit struct {
	Pos     chunk.Pos
	Permits world.PermitFlags
	Tags    []string
}

type RemovePermit struct {
	Pos     chunk.Pos
	Permits world.PermitFlags
}

// Published by the chunk controller.

type ChunkLoaded struct {
	Pos    chunk.Pos
	Origin world.Origin
}

type ChunkUnloaded struct {
	Pos chunk.Pos
}

// ChunkLoadFailed reports a load that left the position absent. It is retried
// on the next reason change.
type ChunkLoadFailed struct {
	Pos chunk.Pos
	Err error
}

type ChunkEntityCreated struct {
	Pos    chunk.Pos
	Handle ecs.EntityID
}

type ChunkEntityDestroyed struct {
	Pos    chunk.Pos
	Handle ecs.EntityID
}
