package world

import (
	"math"
	"testing"

	"github.com/voxelforge/voxeld/internal/chunk"
	"github.com/voxelforge/voxeld/internal/core/ecs"
)

func TestObserverGridMove(t *testing.T) {
	g := NewObserverGrid()
	g.Add(1, chunk.Pos{X: 0, Z: 0})
	g.Add(2, chunk.Pos{X: 40, Z: 40})

	if got := g.Nearby(chunk.Pos{X: 3}); len(got) != 1 || got[0] != 1 {
		t.Fatalf("Nearby = %v", got)
	}
	g.Move(1, chunk.Pos{}, chunk.Pos{X: 41, Z: 39})
	if got := g.Nearby(chunk.Pos{X: 3}); len(got) != 0 {
		t.Fatalf("Nearby after move = %v", got)
	}
	if got := g.Nearby(chunk.Pos{X: 40, Z: 40}); len(got) != 2 {
		t.Fatalf("Nearby at destination = %v", got)
	}
	g.Remove(2)
	if g.Len() != 1 {
		t.Fatalf("Len = %d", g.Len())
	}
}

func TestObserverGridDistance(t *testing.T) {
	g := NewObserverGrid()
	if d := g.Distance(chunk.Pos{}); d != math.MaxInt32 {
		t.Fatalf("empty grid distance = %d", d)
	}
	g.Add(1, chunk.Pos{X: 10, Y: 50, Z: -2})
	if d := g.Distance(chunk.Pos{X: 7, Z: 3}); d != 5 {
		t.Fatalf("distance = %d, want 5", d)
	}

	// Enough observers to take the ring search path.
	big := NewObserverGrid()
	for i := 0; i < 2*bruteForceObservers; i++ {
		big.Add(ecs.EntityID(i+1), chunk.Pos{X: int32(1000 + i*3), Z: int32(-500 - i)})
	}
	big.Add(9999, chunk.Pos{X: 20, Z: 21})
	if d := big.Distance(chunk.Pos{X: 1, Z: 2}); d != 19 {
		t.Fatalf("ring search distance = %d, want 19", d)
	}
	if d := big.Distance(chunk.Pos{X: 1000, Z: -500}); d != 0 {
		t.Fatalf("distance at an observer = %d", d)
	}
}
