package component

import "github.com/voxelforge/voxeld/internal/chunk"

// ChunkEntity marks the entity a chunk position was granted by its permits.
// Pure data; the controller owns its lifecycle.
type ChunkEntity struct {
	Pos chunk.Pos
}

// ChunkTags carries metadata requested alongside the permit that created the
// entity, e.g. "mesh" or "collider". Later permits merge their tags in.
type ChunkTags struct {
	Tags []string
}

// Has reports whether tag is present.
func (t *ChunkTags) Has(tag string) bool {
	for _, v := range t.Tags {
		if v == tag {
			return true
		}
	}
	return false
}
