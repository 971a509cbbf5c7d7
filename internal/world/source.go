package world

import (
	"context"

	"github.com/voxelforge/voxeld/internal/chunk"
)

// Generator produces the initial voxel data of a position that has never been
// stored. Implementations must be safe for concurrent use.
type Generator interface {
	Generate(ctx context.Context, pos chunk.Pos) (*chunk.Chunk, error)
}

// Store persists chunks. LoadChunk reports ok = false when pos was never saved.
// Implementations must be safe for concurrent use.
type Store interface {
	LoadChunk(ctx context.Context, pos chunk.Pos) (c *chunk.Chunk, ok bool, err error)
	SaveChunk(ctx context.Context, c *chunk.Chunk) error
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, pos chunk.Pos) (*chunk.Chunk, error)

func (f GeneratorFunc) Generate(ctx context.Context, pos chunk.Pos) (*chunk.Chunk, error) {
	return f(ctx, pos)
}

// Source selects where Load gets voxel data from.
type Source uint8

const (
	// SourceAuto tries the store first and falls back to the generator.
	SourceAuto Source = iota
	// SourceStore only reads the store.
	SourceStore
	// SourceGenerator always generates, ignoring stored data.
	SourceGenerator
)

func (s Source) String() string {
	switch s {
	case SourceStore:
		return "store"
	case SourceGenerator:
		return "generator"
	}
	return "auto"
}

// Origin reports where a loaded chunk came from.
type Origin uint8

const (
	OriginGenerator Origin = iota
	OriginStore
)

func (o Origin) String() string {
	if o == OriginStore {
		return "store"
	}
	return "generator"
}

// ChunkRef identifies a resident chunk. It carries no voxel data; use the
// container's lock-scoped accessors to reach it.
type ChunkRef struct {
	Pos    chunk.Pos
	Origin Origin
	// Existing is true when Load found the chunk already resident.
	Existing bool
}
