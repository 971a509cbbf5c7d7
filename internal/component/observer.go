package component

// Position is a world-space voxel coordinate.
type Position struct {
	X, Y, Z float64
}

// Observer keeps the chunks around an entity loaded and rendered.
// HorizontalRange is a Chebyshev radius in chunks on X and Z; ViewAbove and
// ViewBelow bound the Y range in chunks.
type Observer struct {
	HorizontalRange int32
	ViewAbove       int32
	ViewBelow       int32
}
