package system

import (
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/voxelforge/voxeld/internal/chunk"
	"github.com/voxelforge/voxeld/internal/component"
	"github.com/voxelforge/voxeld/internal/core/ecs"
	"github.com/voxelforge/voxeld/internal/core/event"
	coresys "github.com/voxelforge/voxeld/internal/core/system"
	"github.com/voxelforge/voxeld/internal/world"
)

// ObserverStores holds the components ObserverSystem reads.
type ObserverStores struct {
	Observers *ecs.PtrComponentStore[component.Observer]
	Positions *ecs.PtrComponentStore[component.Position]
}

func NewObserverStores(w *ecs.World) ObserverStores {
	s := ObserverStores{
		Observers: ecs.NewPtrComponentStore[component.Observer](),
		Positions: ecs.NewPtrComponentStore[component.Position](),
	}
	w.Registry().Register(s.Observers)
	w.Registry().Register(s.Positions)
	return s
}

// MeshTag is attached to chunk entities created for observers.
const MeshTag = "mesh"

type observerView struct {
	center chunk.Pos
	obs    component.Observer
}

func (v observerView) contains(p chunk.Pos) bool {
	return p.ChebyshevXZ(v.center) <= v.obs.HorizontalRange &&
		p.Y >= v.center.Y-v.obs.ViewBelow &&
		p.Y <= v.center.Y+v.obs.ViewAbove
}

func (v observerView) each(fn func(chunk.Pos)) {
	r := v.obs.HorizontalRange
	for y := v.center.Y - v.obs.ViewBelow; y <= v.center.Y+v.obs.ViewAbove; y++ {
		for z := v.center.Z - r; z <= v.center.Z+r; z++ {
			for x := v.center.X - r; x <= v.center.X+r; x++ {
				p := chunk.Pos{X: x, Y: y, Z: z}
				if world.InBounds(p) {
					fn(p)
				}
			}
		}
	}
}

// ObserverSystem turns observer entities into RENDER load reasons and
// permits for the chunks around them. Several observers may see one chunk;
// reasons are added when the first starts seeing it and removed when the last
// stops. Phase 1 (PreUpdate).
type ObserverSystem struct {
	stores  ObserverStores
	grid    *world.ObserverGrid
	bus     *event.Bus
	log     *zap.Logger
	tracked map[ecs.EntityID]observerView
	views   map[chunk.Pos]int
	seen    map[ecs.EntityID]struct{}
}

func NewObserverSystem(stores ObserverStores, grid *world.ObserverGrid, bus *event.Bus, log *zap.Logger) *ObserverSystem {
	return &ObserverSystem{
		stores:  stores,
		grid:    grid,
		bus:     bus,
		log:     log,
		tracked: make(map[ecs.EntityID]observerView),
		views:   make(map[chunk.Pos]int),
		seen:    make(map[ecs.EntityID]struct{}),
	}
}

func (s *ObserverSystem) Phase() coresys.Phase { return coresys.PhasePreUpdate }

// Viewers returns how many observers currently see pos.
func (s *ObserverSystem) Viewers(pos chunk.Pos) int { return s.views[pos] }

func (s *ObserverSystem) Update(_ time.Duration) {
	clear(s.seen)
	ecs.Each2(s.stores.Observers, s.stores.Positions, func(id ecs.EntityID, o *component.Observer, p *component.Position) {
		s.seen[id] = struct{}{}
		center, _ := chunk.Locate(int(math.Floor(p.X)), int(math.Floor(p.Y)), int(math.Floor(p.Z)))
		next := observerView{center: center, obs: *o}
		prev, ok := s.tracked[id]
		if ok && prev == next {
			return
		}
		if ok {
			s.grid.Move(id, prev.center, center)
		} else {
			s.grid.Add(id, center)
			s.log.Debug("observer placed", zap.Uint64("entity", uint64(id)), zap.Stringer("chunk", center))
		}
		s.retarget(prev, ok, next)
		s.tracked[id] = next
	})

	for id, v := range s.tracked {
		if _, ok := s.seen[id]; ok {
			continue
		}
		v.each(s.unsee)
		s.grid.Remove(id)
		delete(s.tracked, id)
		s.log.Debug("observer released", zap.Uint64("entity", uint64(id)))
	}
}

func (s *ObserverSystem) retarget(prev observerView, hadPrev bool, next observerView) {
	next.each(func(p chunk.Pos) {
		if !hadPrev || !prev.contains(p) {
			s.see(p)
		}
	})
	if hadPrev {
		prev.each(func(p chunk.Pos) {
			if !next.contains(p) {
				s.unsee(p)
			}
		})
	}
}

func (s *ObserverSystem) see(p chunk.Pos) {
	s.views[p]++
	if s.views[p] == 1 {
		event.Emit(s.bus, event.AddLoadReason{Pos: p, Reasons: world.ReasonRender})
		event.Emit(s.bus, event.AddPermit{Pos: p, Permits: world.PermitRender, Tags: []string{MeshTag}})
	}
}

func (s *ObserverSystem) unsee(p chunk.Pos) {
	s.views[p]--
	if s.views[p] > 0 {
		return
	}
	delete(s.views, p)
	event.Emit(s.bus, event.RemovePermit{Pos: p, Permits: world.PermitRender})
	event.Emit(s.bus, event.RemoveLoadReason{Pos: p, Reasons: world.ReasonRender})
}
