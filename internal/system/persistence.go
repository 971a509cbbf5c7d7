package system

import (
	"context"
	"time"

	"go.uber.org/zap"

	coresys "github.com/voxelforge/voxeld/internal/core/system"
	"github.com/voxelforge/voxeld/internal/world"
)

// PersistenceSystem periodically saves dirty resident chunks so a crash loses
// at most one interval of edits. Phase 5 (Persist).
type PersistenceSystem struct {
	container *world.Container
	log       *zap.Logger
	timeout   time.Duration
	tickCount int
	interval  int // auto-save every N ticks
}

func NewPersistenceSystem(container *world.Container, log *zap.Logger, intervalTicks int, timeout time.Duration) *PersistenceSystem {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &PersistenceSystem{
		container: container,
		log:       log,
		timeout:   timeout,
		interval:  intervalTicks,
	}
}

func (s *PersistenceSystem) Phase() coresys.Phase { return coresys.PhasePersist }

func (s *PersistenceSystem) Update(_ time.Duration) {
	if s.interval <= 0 {
		return
	}
	s.tickCount++
	if s.tickCount < s.interval {
		return
	}
	s.tickCount = 0
	s.SaveAll()
}

// SaveAll saves every dirty chunk now. Also called on graceful shutdown.
func (s *PersistenceSystem) SaveAll() int {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	start := time.Now()
	n, err := s.container.SaveAll(ctx)
	if err != nil {
		s.log.Error("chunk save failed", zap.Int("saved", n), zap.Error(err))
	}
	if n > 0 {
		s.log.Info("chunks saved", zap.Int("count", n), zap.Duration("took", time.Since(start)))
	}
	return n
}
