package world

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/voxelforge/voxeld/internal/chunk"
	"github.com/voxelforge/voxeld/internal/data"
)

// ErrNotStored is returned by Load with SourceStore when the store has no data.
var ErrNotStored = errors.New("chunk not in store")

type entryState uint8

const (
	stateLoading entryState = iota
	stateLoaded
	stateUnloading
)

// entry is the container's record of one position. state, ready and gone are
// guarded by the shard lock; chunk is guarded by lock once ready is closed.
type entry struct {
	pos   chunk.Pos
	state entryState
	ready chan struct{} // closed when the load finishes
	err   error         // load failure, written before ready closes
	gone  chan struct{} // closed when an unload finishes or is abandoned

	// saving serializes store writes of this entry, Save against Save and
	// Save against Unload, so an older snapshot never lands last.
	saving sync.Mutex

	lock  sync.RWMutex
	chunk *chunk.Chunk
}

type containerShard struct {
	mu      sync.Mutex
	entries map[chunk.Pos]*entry
	failed  map[chunk.Pos]error
}

// ContainerConfig configures a Container. Store and Generator are optional,
// but Load fails with ErrNoSource when neither can produce a chunk.
type ContainerConfig struct {
	Shards        int
	Store         Store
	Generator     Generator
	Voxels        *data.VoxelTable // when set, opacity hints are computed on load
	DeadSlotRatio float64          // 0 keeps chunk.DefaultDeadSlotRatio
	SaveWorkers   int
}

// Container owns the voxel data of every resident chunk. Each chunk has its
// own reader-writer lock; the shard lock only guards the entry maps and is
// never held across I/O, generation or voxel access.
type Container struct {
	shards      []containerShard
	store       Store
	gen         Generator
	voxels      *data.VoxelTable
	deadRatio   float64
	saveWorkers int
	log         *zap.Logger
}

func NewContainer(cfg ContainerConfig, log *zap.Logger) *Container {
	n := cfg.Shards
	if n <= 0 {
		n = 64
	}
	workers := cfg.SaveWorkers
	if workers <= 0 {
		workers = 4
	}
	c := &Container{
		shards:      make([]containerShard, n),
		store:       cfg.Store,
		gen:         cfg.Generator,
		voxels:      cfg.Voxels,
		deadRatio:   cfg.DeadSlotRatio,
		saveWorkers: workers,
		log:         log,
	}
	for i := range c.shards {
		c.shards[i].entries = make(map[chunk.Pos]*entry)
		c.shards[i].failed = make(map[chunk.Pos]error)
	}
	return c
}

func (c *Container) shard(pos chunk.Pos) *containerShard {
	return &c.shards[pos.Hash()%uint64(len(c.shards))]
}

// Load makes pos resident, reading it from src. It is idempotent: a resident
// chunk is returned as is, and concurrent loads of one position share a single
// fetch. No lock is held while the store or generator runs. On failure the
// position is left absent, its failure is recorded and a *LoadError returned.
func (c *Container) Load(ctx context.Context, pos chunk.Pos, src Source) (ChunkRef, error) {
	if err := checkBounds(pos); err != nil {
		return ChunkRef{Pos: pos}, err
	}
	s := c.shard(pos)
	for {
		s.mu.Lock()
		e := s.entries[pos]
		if e == nil {
			e = &entry{pos: pos, state: stateLoading, ready: make(chan struct{})}
			s.entries[pos] = e
			delete(s.failed, pos)
			s.mu.Unlock()
			return c.fetchInto(ctx, s, e, src)
		}
		state, gone := e.state, e.gone
		s.mu.Unlock()

		if state == stateUnloading {
			// Let the unload finish so we never read stale stored data.
			select {
			case <-gone:
				continue
			case <-ctx.Done():
				return ChunkRef{Pos: pos}, ctx.Err()
			}
		}
		select {
		case <-e.ready:
		case <-ctx.Done():
			return ChunkRef{Pos: pos}, ctx.Err()
		}
		if e.err != nil {
			return ChunkRef{Pos: pos}, e.err
		}
		return ChunkRef{Pos: pos, Existing: true}, nil
	}
}

func (c *Container) fetchInto(ctx context.Context, s *containerShard, e *entry, src Source) (ChunkRef, error) {
	ch, origin, err := c.fetch(ctx, e.pos, src)
	if err != nil {
		lerr := &LoadError{Pos: e.pos, Err: err}
		c.log.Warn("chunk load failed", zap.Stringer("pos", e.pos), zap.Stringer("source", src), zap.Error(err))
		s.mu.Lock()
		if s.entries[e.pos] == e {
			delete(s.entries, e.pos)
		}
		s.failed[e.pos] = lerr
		e.err = lerr
		close(e.ready)
		s.mu.Unlock()
		return ChunkRef{Pos: e.pos}, lerr
	}

	if c.deadRatio > 0 {
		ch.Storage().SetDeadSlotRatio(c.deadRatio)
	}
	if c.voxels != nil {
		ch.UpdateOpacityHints(c.voxels)
	}
	e.chunk = ch
	c.log.Debug("chunk loaded", zap.Stringer("pos", e.pos), zap.Stringer("origin", origin))
	s.mu.Lock()
	e.state = stateLoaded
	close(e.ready)
	s.mu.Unlock()
	return ChunkRef{Pos: e.pos, Origin: origin}, nil
}

func (c *Container) fetch(ctx context.Context, pos chunk.Pos, src Source) (ch *chunk.Chunk, origin Origin, err error) {
	defer func() {
		if r := recover(); r != nil {
			ch, err = nil, fmt.Errorf("%w: panic: %v", ErrGenerationFailed, r)
		}
	}()

	if src != SourceGenerator && c.store != nil {
		stored, ok, err := c.store.LoadChunk(ctx, pos)
		if err != nil {
			return nil, 0, wrapSentinel(ErrIO, err)
		}
		if ok {
			if stored.Pos() != pos {
				return nil, 0, fmt.Errorf("%w: store returned %s", ErrIO, stored.Pos())
			}
			stored.ClearFlags(chunk.FlagPrimordial | chunk.FlagGenerating)
			stored.ClearDirty()
			return stored, OriginStore, nil
		}
	}
	if src == SourceStore {
		return nil, 0, ErrNotStored
	}
	if c.gen == nil {
		return nil, 0, ErrNoSource
	}

	gen, err := c.gen.Generate(ctx, pos)
	if err != nil {
		return nil, 0, wrapSentinel(ErrGenerationFailed, err)
	}
	if gen == nil || gen.Pos() != pos {
		return nil, 0, fmt.Errorf("%w: generator returned wrong chunk for %s", ErrGenerationFailed, pos)
	}
	gen.ClearFlags(chunk.FlagPrimordial | chunk.FlagGenerating)
	gen.SetFlags(chunk.FlagFreshlyGenerated | chunk.FlagRemesh)
	gen.MarkDirty()
	return gen, OriginGenerator, nil
}

func wrapSentinel(sentinel, err error) error {
	if errors.Is(err, sentinel) {
		return err
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}

// Unload removes pos, first saving it when a store is configured and the chunk
// is dirty. It fails with ErrNotLoaded when pos holds no chunk. An in-flight
// load or Save of pos is waited for. When the save fails the chunk stays resident and
// the error wraps ErrIO.
func (c *Container) Unload(ctx context.Context, pos chunk.Pos) error {
	s := c.shard(pos)
	var e *entry
	for {
		s.mu.Lock()
		e = s.entries[pos]
		if e == nil || e.state == stateUnloading {
			s.mu.Unlock()
			return fmt.Errorf("%s: %w", pos, ErrNotLoaded)
		}
		if e.state == stateLoaded {
			e.state = stateUnloading
			e.gone = make(chan struct{})
			s.mu.Unlock()
			break
		}
		s.mu.Unlock()
		select {
		case <-e.ready:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	// A Save in flight finishes first; if it failed it re-marks the chunk
	// dirty and the save below picks it up.
	e.saving.Lock()
	defer e.saving.Unlock()

	// Wait out every reader and writer that found the entry before it was
	// marked; later ones see a nil chunk.
	e.lock.Lock()
	ch := e.chunk
	e.chunk = nil
	e.lock.Unlock()

	if c.store != nil && ch.Dirty() {
		if err := c.store.SaveChunk(ctx, ch); err != nil {
			e.lock.Lock()
			e.chunk = ch
			e.lock.Unlock()
			s.mu.Lock()
			e.state = stateLoaded
			close(e.gone)
			s.mu.Unlock()
			c.log.Error("chunk save before unload failed", zap.Stringer("pos", pos), zap.Error(err))
			return fmt.Errorf("save %s before unload: %w", pos, wrapSentinel(ErrIO, err))
		}
		ch.ClearDirty()
	}

	s.mu.Lock()
	delete(s.entries, pos)
	close(e.gone)
	s.mu.Unlock()
	return nil
}

// lookup returns the loaded entry for pos.
func (c *Container) lookup(pos chunk.Pos) (*entry, error) {
	s := c.shard(pos)
	s.mu.Lock()
	e := s.entries[pos]
	loaded := e != nil && e.state == stateLoaded
	s.mu.Unlock()
	if !loaded {
		return nil, fmt.Errorf("%s: %w", pos, ErrChunkNotLoaded)
	}
	return e, nil
}

// WithRead runs fn under the read lock of pos. fn must not retain the chunk.
func (c *Container) WithRead(pos chunk.Pos, fn func(*chunk.Chunk) error) error {
	return c.ReadWith(pos, LockBlocking, fn)
}

// WithWrite runs fn under the write lock of pos. fn must not retain the chunk.
func (c *Container) WithWrite(pos chunk.Pos, fn func(*chunk.Chunk) error) error {
	return c.WriteWith(pos, LockBlocking, fn)
}

// ReadWith is WithRead with an explicit lock strategy.
func (c *Container) ReadWith(pos chunk.Pos, strategy LockStrategy, fn func(*chunk.Chunk) error) error {
	e, err := c.lookup(pos)
	if err != nil {
		return err
	}
	return e.read(strategy, fn)
}

func (e *entry) read(strategy LockStrategy, fn func(*chunk.Chunk) error) error {
	if err := strategy.acquire(&e.lock, false); err != nil {
		return fmt.Errorf("read %s: %w", e.pos, err)
	}
	defer e.lock.RUnlock()
	if e.chunk == nil {
		return fmt.Errorf("%s: %w", e.pos, ErrChunkNotLoaded)
	}
	return fn(e.chunk)
}

// WriteWith is WithWrite with an explicit lock strategy.
func (c *Container) WriteWith(pos chunk.Pos, strategy LockStrategy, fn func(*chunk.Chunk) error) error {
	e, err := c.lookup(pos)
	if err != nil {
		return err
	}
	if err := strategy.acquire(&e.lock, true); err != nil {
		return fmt.Errorf("write %s: %w", pos, err)
	}
	defer e.lock.Unlock()
	if e.chunk == nil {
		return fmt.Errorf("%s: %w", pos, ErrChunkNotLoaded)
	}
	return fn(e.chunk)
}

// IsLoaded reports whether pos holds a chunk that accessors can reach.
func (c *Container) IsLoaded(pos chunk.Pos) bool {
	_, err := c.lookup(pos)
	return err == nil
}

// Failure returns the error of the last failed load of pos, or nil.
func (c *Container) Failure(pos chunk.Pos) error {
	s := c.shard(pos)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failed[pos]
}

// ClearFailure forgets the failure recorded for pos.
func (c *Container) ClearFailure(pos chunk.Pos) {
	s := c.shard(pos)
	s.mu.Lock()
	delete(s.failed, pos)
	s.mu.Unlock()
}

// Len returns the number of loaded chunks.
func (c *Container) Len() int {
	n := 0
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		for _, e := range s.entries {
			if e.state == stateLoaded {
				n++
			}
		}
		s.mu.Unlock()
	}
	return n
}

// Positions returns the positions of all loaded chunks in no particular order.
func (c *Container) Positions() []chunk.Pos {
	var out []chunk.Pos
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		for pos, e := range s.entries {
			if e.state == stateLoaded {
				out = append(out, pos)
			}
		}
		s.mu.Unlock()
	}
	return out
}

// Save writes pos to the store if it is dirty and reports whether it did.
// The chunk is snapshotted under its read lock; the store runs unlocked.
// Saves of one position never overlap, and Unload waits for a running Save.
func (c *Container) Save(ctx context.Context, pos chunk.Pos) (bool, error) {
	if c.store == nil {
		return false, nil
	}
	e, err := c.lookup(pos)
	if err != nil {
		return false, err
	}
	e.saving.Lock()
	defer e.saving.Unlock()

	var snap *chunk.Chunk
	err = e.read(LockBlocking, func(ch *chunk.Chunk) error {
		if ch.Dirty() {
			snap = ch.Clone()
			ch.ClearDirty()
		}
		return nil
	})
	if err != nil || snap == nil {
		return false, err
	}
	if err := c.store.SaveChunk(ctx, snap); err != nil {
		// An Unload waiting on saving still holds the chunk and will see it dirty.
		_ = e.read(LockBlocking, func(ch *chunk.Chunk) error {
			ch.MarkDirty()
			return nil
		})
		return false, fmt.Errorf("save %s: %w", pos, wrapSentinel(ErrIO, err))
	}
	return true, nil
}

// SaveAll saves every dirty loaded chunk using up to SaveWorkers goroutines.
// Every chunk is attempted; the returned error combines all failures.
func (c *Container) SaveAll(ctx context.Context) (int, error) {
	if c.store == nil {
		return 0, nil
	}
	var (
		mu    sync.Mutex
		saved int
		errs  error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.saveWorkers)
	for _, pos := range c.Positions() {
		g.Go(func() error {
			ok, err := c.Save(gctx, pos)
			if errors.Is(err, ErrChunkNotLoaded) {
				err = nil
			}
			mu.Lock()
			if ok {
				saved++
			}
			errs = multierr.Append(errs, err)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return saved, errs
}
