// Package gen holds the built-in terrain generators. Both are deterministic
// and safe for concurrent use.
package gen

import (
	"fmt"

	"github.com/voxelforge/voxeld/internal/data"
	"github.com/voxelforge/voxeld/internal/world"
)

// Kind names a built-in generator.
type Kind string

const (
	KindFlat  Kind = "flat"
	KindNoise Kind = "noise"
)

// Options selects and parameterizes a built-in generator.
type Options struct {
	Kind   Kind
	Layers []string // flat: "name:height", bottom first
	Noise  NoiseConfig
}

// New builds the generator named by opts.Kind.
func New(t *data.VoxelTable, opts Options) (world.Generator, error) {
	switch opts.Kind {
	case KindFlat, "":
		layers, err := ParseLayers(t, opts.Layers)
		if err != nil {
			return nil, err
		}
		f, err := NewFlat(layers)
		if err != nil {
			return nil, err
		}
		return f, nil
	case KindNoise:
		n, err := NewNoise(t, opts.Noise)
		if err != nil {
			return nil, err
		}
		return n, nil
	}
	return nil, fmt.Errorf("unknown generator kind %q", opts.Kind)
}
