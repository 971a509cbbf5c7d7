package persist

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/voxelforge/voxeld/internal/chunk"
	"github.com/voxelforge/voxeld/internal/config"
	"github.com/voxelforge/voxeld/internal/world"
)

var (
	// ErrSeedMismatch is returned when a world id is registered again with a
	// different seed.
	ErrSeedMismatch = errors.New("world seed mismatch")
	ErrWorldUnknown = errors.New("world not registered")
)

// WorldInfo is one row of the worlds table.
type WorldInfo struct {
	ID        uuid.UUID
	Name      string
	Seed      int64
	CreatedAt time.Time
}

// ChunkInfo describes a stored chunk without decoding it.
type ChunkInfo struct {
	Pos     chunk.Pos
	Size    int // compressed bytes
	Digest  [32]byte
	SavedAt time.Time
}

// Stats counts chunk writes since the store was opened.
type Stats struct {
	Written   int64
	Unchanged int64 // saves skipped because the stored digest matched
}

// Backend is a chunk store bound to one world id.
type Backend interface {
	world.Store
	RegisterWorld(ctx context.Context, name string, seed int64) error
	World(ctx context.Context) (WorldInfo, error)
	List(ctx context.Context) ([]ChunkInfo, error)
	Stats() Stats
	Close() error
}

// Open connects the backend named by cfg.Backend and applies migrations.
func Open(ctx context.Context, cfg config.StorageConfig, worldID uuid.UUID, log *zap.Logger) (Backend, error) {
	switch cfg.Backend {
	case "sqlite":
		s, err := OpenSQLite(ctx, cfg.SQLitePath, worldID, log)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres":
		db, err := NewDB(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		if err := RunMigrations(ctx, db.Pool); err != nil {
			db.Close()
			return nil, err
		}
		return NewPGStore(db, worldID, log), nil
	}
	return nil, fmt.Errorf("storage backend %q has no store", cfg.Backend)
}

type counters struct {
	written   atomic.Int64
	unchanged atomic.Int64
}

func (c *counters) record(written bool) {
	if written {
		c.written.Add(1)
	} else {
		c.unchanged.Add(1)
	}
}

func (c *counters) snapshot() Stats {
	return Stats{Written: c.written.Load(), Unchanged: c.unchanged.Load()}
}

func encodeChunk(c *chunk.Chunk) (blob, digest []byte) {
	d := c.Digest()
	return c.EncodeCompressed(), d[:]
}

func decodeChunk(pos chunk.Pos, blob []byte) (*chunk.Chunk, error) {
	c, err := chunk.DecodeCompressed(blob)
	if err != nil {
		return nil, fmt.Errorf("decode chunk %v: %w", pos, err)
	}
	if c.Pos() != pos {
		return nil, fmt.Errorf("decode chunk %v: row holds %v: %w", pos, c.Pos(), chunk.ErrCorrupt)
	}
	return c, nil
}

func checkSeed(have WorldInfo, seed int64) error {
	if have.Seed != seed {
		return fmt.Errorf("world %s (%s): stored seed %d, configured %d: %w",
			have.Name, have.ID, have.Seed, seed, ErrSeedMismatch)
	}
	return nil
}
