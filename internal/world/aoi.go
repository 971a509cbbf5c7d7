package world

import (
	"math"

	"github.com/voxelforge/voxeld/internal/chunk"
	"github.com/voxelforge/voxeld/internal/core/ecs"
)

// ObserverGrid is a cell-based index of chunk observers, used to rank pending
// loads by distance to the nearest observer.
// Cells are observerCell chunks wide on X and Z and unbounded on Y.
// Accessed only from the tick goroutine, no locks.

const observerCell = 8

type cellKey struct {
	cx int32
	cz int32
}

func toCellCoord(v int32) int32 {
	if v < 0 {
		return (v - observerCell + 1) / observerCell
	}
	return v / observerCell
}

type ObserverGrid struct {
	cells map[cellKey]map[ecs.EntityID]chunk.Pos
	at    map[ecs.EntityID]chunk.Pos
}

func NewObserverGrid() *ObserverGrid {
	return &ObserverGrid{
		cells: make(map[cellKey]map[ecs.EntityID]chunk.Pos),
		at:    make(map[ecs.EntityID]chunk.Pos),
	}
}

func keyOf(p chunk.Pos) cellKey {
	return cellKey{cx: toCellCoord(p.X), cz: toCellCoord(p.Z)}
}

// Add places an observer into the grid, moving it if already present.
func (g *ObserverGrid) Add(id ecs.EntityID, p chunk.Pos) {
	if old, ok := g.at[id]; ok {
		g.Move(id, old, p)
		return
	}
	k := keyOf(p)
	cell := g.cells[k]
	if cell == nil {
		cell = make(map[ecs.EntityID]chunk.Pos)
		g.cells[k] = cell
	}
	cell[id] = p
	g.at[id] = p
}

// Remove takes an observer out of the grid.
func (g *ObserverGrid) Remove(id ecs.EntityID) {
	p, ok := g.at[id]
	if !ok {
		return
	}
	delete(g.at, id)
	k := keyOf(p)
	if cell := g.cells[k]; cell != nil {
		delete(cell, id)
		if len(cell) == 0 {
			delete(g.cells, k)
		}
	}
}

// Move updates an observer's chunk position.
func (g *ObserverGrid) Move(id ecs.EntityID, oldP, newP chunk.Pos) {
	oldK, newK := keyOf(oldP), keyOf(newP)
	if oldK == newK {
		g.cells[oldK][id] = newP
		g.at[id] = newP
		return
	}
	g.Remove(id)
	g.Add(id, newP)
}

// Position returns the chunk an observer was last placed in.
func (g *ObserverGrid) Position(id ecs.EntityID) (chunk.Pos, bool) {
	p, ok := g.at[id]
	return p, ok
}

func (g *ObserverGrid) Len() int { return len(g.at) }

// Nearby returns the observers in the 3x3 neighbourhood of cells around p.
// Caller does fine-grained distance filtering.
func (g *ObserverGrid) Nearby(p chunk.Pos) []ecs.EntityID {
	k := keyOf(p)
	var result []ecs.EntityID
	for dx := int32(-1); dx <= 1; dx++ {
		for dz := int32(-1); dz <= 1; dz++ {
			for id := range g.cells[cellKey{cx: k.cx + dx, cz: k.cz + dz}] {
				result = append(result, id)
			}
		}
	}
	return result
}

// Distance returns the horizontal Chebyshev distance in chunks from p to the
// nearest observer, or math.MaxInt32 when the grid is empty. With many
// observers the search widens ring by ring and stops once no farther ring can
// hold a closer one.
func (g *ObserverGrid) Distance(p chunk.Pos) int32 {
	best := int32(math.MaxInt32)
	if len(g.at) <= bruteForceObservers {
		for _, op := range g.at {
			best = min(best, p.ChebyshevXZ(op))
		}
		return best
	}
	k := keyOf(p)
	for ring := int32(0); ring <= maxSearchRings; ring++ {
		for dx := -ring; dx <= ring; dx++ {
			for dz := -ring; dz <= ring; dz++ {
				if max(abs(dx), abs(dz)) != ring {
					continue
				}
				for _, op := range g.cells[cellKey{cx: k.cx + dx, cz: k.cz + dz}] {
					best = min(best, p.ChebyshevXZ(op))
				}
			}
		}
		// Anything past this ring is more than ring*observerCell chunks away.
		if best <= ring*observerCell {
			return best
		}
	}
	return best
}

const bruteForceObservers = 64

const maxSearchRings = 2 * MaxHorizontalChunks / observerCell

func abs(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}
