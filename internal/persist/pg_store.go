package persist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/voxelforge/voxeld/internal/chunk"
)

// PGStore keeps chunks of one world in postgres.
type PGStore struct {
	db    *DB
	world uuid.UUID
	log   *zap.Logger
	stats counters
}

func NewPGStore(db *DB, worldID uuid.UUID, log *zap.Logger) *PGStore {
	return &PGStore{db: db, world: worldID, log: log}
}

// RegisterWorld records the world on first use and rejects a changed seed.
func (s *PGStore) RegisterWorld(ctx context.Context, name string, seed int64) error {
	if _, err := s.db.Pool.Exec(ctx,
		`INSERT INTO worlds (id, name, seed) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO NOTHING`,
		s.world, name, seed,
	); err != nil {
		return fmt.Errorf("register world: %w", err)
	}
	have, err := s.World(ctx)
	if err != nil {
		return err
	}
	return checkSeed(have, seed)
}

func (s *PGStore) World(ctx context.Context) (WorldInfo, error) {
	w := WorldInfo{ID: s.world}
	err := s.db.Pool.QueryRow(ctx,
		`SELECT name, seed, created_at FROM worlds WHERE id = $1`, s.world,
	).Scan(&w.Name, &w.Seed, &w.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return w, fmt.Errorf("world %s: %w", s.world, ErrWorldUnknown)
	}
	if err != nil {
		return w, fmt.Errorf("query world: %w", err)
	}
	return w, nil
}

func (s *PGStore) LoadChunk(ctx context.Context, pos chunk.Pos) (*chunk.Chunk, bool, error) {
	var blob []byte
	err := s.db.Pool.QueryRow(ctx,
		`SELECT data FROM chunks WHERE world_id = $1 AND x = $2 AND y = $3 AND z = $4`,
		s.world, pos.X, pos.Y, pos.Z,
	).Scan(&blob)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load chunk %v: %w", pos, err)
	}
	c, err := decodeChunk(pos, blob)
	if err != nil {
		return nil, false, err
	}
	return c, true, nil
}

// SaveChunk upserts c. A row whose digest already matches is left untouched.
func (s *PGStore) SaveChunk(ctx context.Context, c *chunk.Chunk) error {
	blob, digest := encodeChunk(c)
	pos := c.Pos()
	tag, err := s.db.Pool.Exec(ctx,
		`INSERT INTO chunks (world_id, x, y, z, data, digest, saved_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (world_id, x, y, z) DO UPDATE
		 SET data = EXCLUDED.data, digest = EXCLUDED.digest, saved_at = EXCLUDED.saved_at
		 WHERE chunks.digest <> EXCLUDED.digest`,
		s.world, pos.X, pos.Y, pos.Z, blob, digest, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save chunk %v: %w", pos, err)
	}
	s.stats.record(tag.RowsAffected() > 0)
	return nil
}

func (s *PGStore) List(ctx context.Context) ([]ChunkInfo, error) {
	rows, err := s.db.Pool.Query(ctx,
		`SELECT x, y, z, length(data), digest, saved_at FROM chunks
		 WHERE world_id = $1 ORDER BY y, z, x`, s.world)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	defer rows.Close()

	var out []ChunkInfo
	for rows.Next() {
		var ci ChunkInfo
		var digest []byte
		if err := rows.Scan(&ci.Pos.X, &ci.Pos.Y, &ci.Pos.Z, &ci.Size, &digest, &ci.SavedAt); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		copy(ci.Digest[:], digest)
		out = append(out, ci)
	}
	return out, rows.Err()
}

func (s *PGStore) Stats() Stats { return s.stats.snapshot() }

func (s *PGStore) Close() error {
	s.db.Close()
	return nil
}
