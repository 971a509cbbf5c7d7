package persist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/voxelforge/voxeld/internal/chunk"
)

// SQLiteStore keeps chunks of one world in a single sqlite file. Writes go
// through one connection; WAL mode lets reads proceed alongside.
type SQLiteStore struct {
	db    *sql.DB
	world string
	id    uuid.UUID
	log   *zap.Logger
	stats counters
}

func OpenSQLite(ctx context.Context, path string, worldID uuid.UUID, log *zap.Logger) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := migrate(ctx, db, "sqlite3", "migrations/sqlite"); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Info("sqlite chunk store open", zap.String("path", path), zap.Stringer("world", worldID))
	return &SQLiteStore{db: db, world: worldID.String(), id: worldID, log: log}, nil
}

func initPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("%s %w", p, err)
		}
	}
	return nil
}

func (s *SQLiteStore) RegisterWorld(ctx context.Context, name string, seed int64) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO worlds (id, name, seed, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (id) DO NOTHING`,
		s.world, name, seed, time.Now().UnixMilli(),
	); err != nil {
		return fmt.Errorf("register world: %w", err)
	}
	have, err := s.World(ctx)
	if err != nil {
		return err
	}
	return checkSeed(have, seed)
}

func (s *SQLiteStore) World(ctx context.Context) (WorldInfo, error) {
	w := WorldInfo{ID: s.id}
	var created int64
	err := s.db.QueryRowContext(ctx,
		`SELECT name, seed, created_at FROM worlds WHERE id = ?`, s.world,
	).Scan(&w.Name, &w.Seed, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return w, fmt.Errorf("world %s: %w", s.world, ErrWorldUnknown)
	}
	if err != nil {
		return w, fmt.Errorf("query world: %w", err)
	}
	w.CreatedAt = time.UnixMilli(created).UTC()
	return w, nil
}

func (s *SQLiteStore) LoadChunk(ctx context.Context, pos chunk.Pos) (*chunk.Chunk, bool, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM chunks WHERE world_id = ? AND x = ? AND y = ? AND z = ?`,
		s.world, pos.X, pos.Y, pos.Z,
	).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
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
func (s *SQLiteStore) SaveChunk(ctx context.Context, c *chunk.Chunk) error {
	blob, digest := encodeChunk(c)
	pos := c.Pos()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO chunks (world_id, x, y, z, data, digest, saved_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (world_id, x, y, z) DO UPDATE
		 SET data = excluded.data, digest = excluded.digest, saved_at = excluded.saved_at
		 WHERE chunks.digest <> excluded.digest`,
		s.world, pos.X, pos.Y, pos.Z, blob, digest, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save chunk %v: %w", pos, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save chunk %v: %w", pos, err)
	}
	s.stats.record(n > 0)
	return nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]ChunkInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT x, y, z, length(data), digest, saved_at FROM chunks
		 WHERE world_id = ? ORDER BY y, z, x`, s.world)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	defer rows.Close()

	var out []ChunkInfo
	for rows.Next() {
		var ci ChunkInfo
		var digest []byte
		var saved int64
		if err := rows.Scan(&ci.Pos.X, &ci.Pos.Y, &ci.Pos.Z, &ci.Size, &digest, &saved); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		copy(ci.Digest[:], digest)
		ci.SavedAt = time.UnixMilli(saved).UTC()
		out = append(out, ci)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Stats() Stats { return s.stats.snapshot() }

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
