package world

import (
	"fmt"

	"github.com/voxelforge/voxeld/internal/chunk"
)

// World extent in chunks. Positions must satisfy |x|,|z| < MaxHorizontalChunks
// and |y| < MaxVerticalChunks.
const (
	MaxHorizontalChunks = 1 << 16
	MaxVerticalChunks   = 1 << 11
)

// InBounds reports whether pos lies inside the world extent.
func InBounds(pos chunk.Pos) bool {
	return pos.X > -MaxHorizontalChunks && pos.X < MaxHorizontalChunks &&
		pos.Z > -MaxHorizontalChunks && pos.Z < MaxHorizontalChunks &&
		pos.Y > -MaxVerticalChunks && pos.Y < MaxVerticalChunks
}

func checkBounds(pos chunk.Pos) error {
	if !InBounds(pos) {
		return fmt.Errorf("%s: %w", pos, ErrPositionOutOfBounds)
	}
	return nil
}
