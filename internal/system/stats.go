package system

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/voxelforge/voxeld/internal/chunk"
	coresys "github.com/voxelforge/voxeld/internal/core/system"
	"github.com/voxelforge/voxeld/internal/world"
)

// WorldStats is a point-in-time summary of the chunk world.
type WorldStats struct {
	Resident  int
	Wanted    int // positions with at least one load reason
	Handles   int
	Observers int
	Dirty     int
	// Resident chunks per palette index width, keyed by bits.
	Widths map[int]int
}

// StatsSystem logs a WorldStats summary every interval ticks. Phase 4 (Output).
type StatsSystem struct {
	ctrl     *ChunkControllerSystem
	grid     *world.ObserverGrid
	log      *zap.Logger
	interval int
	elapsed  int
}

func NewStatsSystem(ctrl *ChunkControllerSystem, grid *world.ObserverGrid, intervalTicks int, log *zap.Logger) *StatsSystem {
	return &StatsSystem{ctrl: ctrl, grid: grid, log: log, interval: intervalTicks}
}

func (s *StatsSystem) Phase() coresys.Phase { return coresys.PhaseOutput }

func (s *StatsSystem) Update(_ time.Duration) {
	if s.interval <= 0 {
		return
	}
	s.elapsed++
	if s.elapsed < s.interval {
		return
	}
	s.elapsed = 0

	st := s.Collect()
	s.log.Info("world stats",
		zap.Int("resident", st.Resident),
		zap.Int("wanted", st.Wanted),
		zap.Int("handles", st.Handles),
		zap.Int("observers", st.Observers),
		zap.Int("dirty", st.Dirty),
		zap.String("widths", formatWidths(st.Widths)),
	)
}

// Collect gathers WorldStats. Chunks are read under their read lock, one at a
// time; a chunk unloaded meanwhile is skipped.
func (s *StatsSystem) Collect() WorldStats {
	c := s.ctrl.Container()
	st := WorldStats{
		Wanted:  s.ctrl.Tracker().Len(),
		Handles: s.ctrl.Permits().Len(),
		Widths:  make(map[int]int),
	}
	if s.grid != nil {
		st.Observers = s.grid.Len()
	}
	for _, pos := range c.Positions() {
		_ = c.WithRead(pos, func(ch *chunk.Chunk) error {
			st.Resident++
			st.Widths[ch.Storage().Bits()]++
			if ch.Dirty() {
				st.Dirty++
			}
			return nil
		})
	}
	return st
}

func formatWidths(w map[int]int) string {
	bits := make([]int, 0, len(w))
	for b := range w {
		bits = append(bits, b)
	}
	sort.Ints(bits)
	var sb strings.Builder
	for i, b := range bits {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%db:%d", b, w[b])
	}
	return sb.String()
}
