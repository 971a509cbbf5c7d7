package system

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/voxelforge/voxeld/internal/chunk"
	"github.com/voxelforge/voxeld/internal/component"
	"github.com/voxelforge/voxeld/internal/core/debug"
	"github.com/voxelforge/voxeld/internal/core/ecs"
	"github.com/voxelforge/voxeld/internal/core/event"
	coresys "github.com/voxelforge/voxeld/internal/core/system"
	"github.com/voxelforge/voxeld/internal/world"
)

// ChunkStores holds the component stores of chunk entities.
type ChunkStores struct {
	Entities *ecs.PtrComponentStore[component.ChunkEntity]
	Tags     *ecs.PtrComponentStore[component.ChunkTags]
}

// NewChunkStores creates the stores and registers them for bulk removal.
func NewChunkStores(w *ecs.World) ChunkStores {
	s := ChunkStores{
		Entities: ecs.NewPtrComponentStore[component.ChunkEntity](),
		Tags:     ecs.NewPtrComponentStore[component.ChunkTags](),
	}
	w.Registry().Register(s.Entities)
	w.Registry().Register(s.Tags)
	return s
}

// chunkEntities is the permit index's handle factory. Handles are ECS
// entities carrying a ChunkEntity component, owned by key so that nothing but
// the permit index can free them; freeing one queues it for end-of-tick
// destruction.
type chunkEntities struct {
	world  *ecs.World
	stores ChunkStores
	key    *ecs.OwnerKey
}

func newChunkEntities(w *ecs.World, stores ChunkStores) *chunkEntities {
	return &chunkEntities{world: w, stores: stores, key: ecs.NewOwnerKey("chunk permits")}
}

func (f *chunkEntities) CreateHandle(pos chunk.Pos) (ecs.EntityID, error) {
	id := f.world.CreateOwnedEntity(f.key)
	f.stores.Entities.Set(id, &component.ChunkEntity{Pos: pos})
	return id, nil
}

func (f *chunkEntities) DestroyHandle(pos chunk.Pos, h ecs.EntityID) {
	err := f.world.DestroyOwned(f.key, h)
	debug.Assert(err == nil, "chunk entity %d of %s: %v", h, pos, err)
}

// ValidHandle reports whether h is still a live chunk entity held by the index.
func (f *chunkEntities) ValidHandle(_ chunk.Pos, h ecs.EntityID) bool {
	return f.world.Alive(h) && f.world.Owner(h) == f.key
}

// ControllerConfig tunes the chunk controller.
type ControllerConfig struct {
	LoadWorkers int           // concurrent loads per tick
	LoadTimeout time.Duration // budget for one tick's loads
}

// ChunkControllerSystem keeps chunk residency and chunk entities in line with
// load reasons and permits. Reason and permit events are applied as they are
// dispatched; each Update then reconciles the positions they touched.
// Phase 2 (Update).
type ChunkControllerSystem struct {
	container *world.Container
	tracker   *world.Tracker
	permits   *world.PermitIndex
	grid      *world.ObserverGrid
	stores    ChunkStores
	bus       *event.Bus
	log       *zap.Logger
	cfg       ControllerConfig

	mu    sync.Mutex
	dirty map[chunk.Pos]struct{}
}

func NewChunkControllerSystem(
	container *world.Container,
	ecsWorld *ecs.World,
	stores ChunkStores,
	grid *world.ObserverGrid,
	bus *event.Bus,
	cfg ControllerConfig,
	log *zap.Logger,
) *ChunkControllerSystem {
	if cfg.LoadWorkers <= 0 {
		cfg.LoadWorkers = 4
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = 10 * time.Second
	}
	s := &ChunkControllerSystem{
		container: container,
		grid:      grid,
		stores:    stores,
		bus:       bus,
		log:       log,
		cfg:       cfg,
		dirty:     make(map[chunk.Pos]struct{}),
	}
	s.tracker = world.NewTracker(func(pos chunk.Pos, _ world.Transition) { s.markDirty(pos) })
	s.permits = world.NewPermitIndex(newChunkEntities(ecsWorld, stores))

	event.Subscribe(bus, s.onAddLoadReason)
	event.Subscribe(bus, s.onRemoveLoadReason)
	event.Subscribe(bus, s.onAddPermit)
	event.Subscribe(bus, s.onRemovePermit)
	return s
}

func (s *ChunkControllerSystem) Phase() coresys.Phase { return coresys.PhaseUpdate }

func (s *ChunkControllerSystem) Tracker() *world.Tracker     { return s.tracker }
func (s *ChunkControllerSystem) Permits() *world.PermitIndex { return s.permits }
func (s *ChunkControllerSystem) Container() *world.Container { return s.container }

func (s *ChunkControllerSystem) markDirty(pos chunk.Pos) {
	s.mu.Lock()
	s.dirty[pos] = struct{}{}
	s.mu.Unlock()
}

func (s *ChunkControllerSystem) takeDirty() []chunk.Pos {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.dirty) == 0 {
		return nil
	}
	out := make([]chunk.Pos, 0, len(s.dirty))
	for pos := range s.dirty {
		out = append(out, pos)
	}
	clear(s.dirty)
	return out
}

// Every reason event marks the position, transition or not, so a failed
// position is retried on its next reason change.
func (s *ChunkControllerSystem) onAddLoadReason(ev event.AddLoadReason) {
	s.tracker.AddReason(ev.Pos, ev.Reasons)
	s.markDirty(ev.Pos)
}

func (s *ChunkControllerSystem) onRemoveLoadReason(ev event.RemoveLoadReason) {
	s.tracker.RemoveReason(ev.Pos, ev.Reasons)
	s.markDirty(ev.Pos)
}

func (s *ChunkControllerSystem) onAddPermit(ev event.AddPermit) {
	h, created, err := s.permits.AddPermit(ev.Pos, ev.Permits)
	if err != nil {
		s.log.Error("add permit failed",
			zap.Stringer("pos", ev.Pos), zap.Stringer("permits", ev.Permits), zap.Error(err))
		return
	}
	if h.IsZero() {
		return
	}
	if len(ev.Tags) > 0 {
		s.mergeTags(h, ev.Tags)
	}
	if created {
		event.Emit(s.bus, event.ChunkEntityCreated{Pos: ev.Pos, Handle: h})
	}
}

func (s *ChunkControllerSystem) onRemovePermit(ev event.RemovePermit) {
	h, destroyed, err := s.permits.RemovePermit(ev.Pos, ev.Permits)
	if err != nil {
		s.log.Error("remove permit failed",
			zap.Stringer("pos", ev.Pos), zap.Stringer("permits", ev.Permits), zap.Error(err))
		return
	}
	if destroyed {
		event.Emit(s.bus, event.ChunkEntityDestroyed{Pos: ev.Pos, Handle: h})
	}
}

func (s *ChunkControllerSystem) mergeTags(h ecs.EntityID, tags []string) {
	t, ok := s.stores.Tags.Get(h)
	if !ok {
		t = &component.ChunkTags{}
		s.stores.Tags.Set(h, t)
	}
	for _, tag := range tags {
		if !t.Has(tag) {
			t.Tags = append(t.Tags, tag)
		}
	}
}

func (s *ChunkControllerSystem) Update(_ time.Duration) {
	dirty := s.takeDirty()
	if len(dirty) == 0 {
		return
	}

	var loads []chunk.Pos
	for _, pos := range dirty {
		reasons := s.tracker.Reasons(pos)
		loaded := s.container.IsLoaded(pos)
		switch {
		case !reasons.Empty() && !loaded:
			loads = append(loads, pos)
		case reasons.Empty() && loaded:
			s.unload(pos)
		case reasons.Empty():
			// Nobody wants it any more; stop remembering its failure.
			s.container.ClearFailure(pos)
		}
	}
	if len(loads) > 0 {
		s.loadAll(loads)
	}
}

type loadResult struct {
	pos chunk.Pos
	ref world.ChunkRef
	err error
}

// loadAll loads positions nearest to an observer first, in parallel, then
// publishes the outcomes and unloads any position whose reasons emptied while
// its load was in flight.
func (s *ChunkControllerSystem) loadAll(loads []chunk.Pos) {
	if s.grid != nil && s.grid.Len() > 0 {
		dist := make(map[chunk.Pos]int32, len(loads))
		for _, pos := range loads {
			dist[pos] = s.grid.Distance(pos)
		}
		slices.SortStableFunc(loads, func(a, b chunk.Pos) int {
			return cmp.Compare(dist[a], dist[b])
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.LoadTimeout)
	defer cancel()

	results := make([]loadResult, len(loads))
	var g errgroup.Group
	g.SetLimit(s.cfg.LoadWorkers)
	for i, pos := range loads {
		g.Go(func() error {
			ref, err := s.container.Load(ctx, pos, world.SourceAuto)
			results[i] = loadResult{pos: pos, ref: ref, err: err}
			return nil
		})
	}
	_ = g.Wait()

	loaded, failed := 0, 0
	for _, r := range results {
		if r.err != nil {
			failed++
			event.Emit(s.bus, event.ChunkLoadFailed{Pos: r.pos, Err: r.err})
			continue
		}
		if !r.ref.Existing {
			loaded++
			event.Emit(s.bus, event.ChunkLoaded{Pos: r.pos, Origin: r.ref.Origin})
		}
		if s.tracker.Reasons(r.pos).Empty() {
			s.unload(r.pos)
		}
	}
	if failed > 0 || loaded > 0 {
		s.log.Debug("chunk loads finished", zap.Int("loaded", loaded), zap.Int("failed", failed))
	}
}

// unload drops pos after re-checking that no reason appeared meanwhile.
func (s *ChunkControllerSystem) unload(pos chunk.Pos) {
	if !s.tracker.Reasons(pos).Empty() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.LoadTimeout)
	defer cancel()

	err := s.container.Unload(ctx, pos)
	switch {
	case err == nil:
		event.Emit(s.bus, event.ChunkUnloaded{Pos: pos})
	case errors.Is(err, world.ErrNotLoaded):
		s.log.Debug("unload raced", zap.Stringer("pos", pos), zap.Error(err))
	default:
		// The chunk stays resident; try again next tick.
		s.log.Error("chunk unload failed", zap.Stringer("pos", pos), zap.Error(err))
		s.markDirty(pos)
	}
}
