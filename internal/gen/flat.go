package gen

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/voxelforge/voxeld/internal/chunk"
	"github.com/voxelforge/voxeld/internal/data"
)

// Layer is a horizontal band of one voxel type.
type Layer struct {
	Voxel  data.VoxelID
	Height int
}

// Flat stacks layers upward from world y = 0. Everything above the last layer
// and below y = 0 is air.
type Flat struct {
	layers []Layer
	top    int
}

// NewFlat validates the layer list. Heights must be positive.
func NewFlat(layers []Layer) (*Flat, error) {
	top := 0
	for i, l := range layers {
		if l.Height <= 0 {
			return nil, fmt.Errorf("layer %d: height %d must be positive", i, l.Height)
		}
		top += l.Height
	}
	return &Flat{layers: append([]Layer(nil), layers...), top: top}, nil
}

// ParseLayers resolves "name:height" specs against t, bottom layer first.
func ParseLayers(t *data.VoxelTable, specs []string) ([]Layer, error) {
	layers := make([]Layer, 0, len(specs))
	for _, s := range specs {
		i := strings.LastIndexByte(s, ':')
		if i < 0 {
			return nil, fmt.Errorf("layer %q: want name:height", s)
		}
		h, err := strconv.Atoi(strings.TrimSpace(s[i+1:]))
		if err != nil {
			return nil, fmt.Errorf("layer %q: bad height: %w", s, err)
		}
		name := strings.TrimSpace(s[:i])
		v, ok := t.ByName(name)
		if !ok {
			return nil, fmt.Errorf("layer %q: unknown voxel %q", s, name)
		}
		layers = append(layers, Layer{Voxel: v.ID, Height: h})
	}
	return layers, nil
}

// at returns the voxel at world height y.
func (f *Flat) at(y int) data.VoxelID {
	if y < 0 || y >= f.top {
		return data.Air
	}
	for _, l := range f.layers {
		if y < l.Height {
			return l.Voxel
		}
		y -= l.Height
	}
	return data.Air
}

func (f *Flat) Generate(ctx context.Context, pos chunk.Pos) (*chunk.Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	_, y0, _ := pos.WorldMin()
	first := f.at(y0)
	uniform := true
	for y := 1; y < chunk.Size; y++ {
		if f.at(y0+y) != first {
			uniform = false
			break
		}
	}
	c := chunk.New(pos, first)
	if uniform {
		return c, nil
	}
	for y := 0; y < chunk.Size; y++ {
		id := f.at(y0 + y)
		if id == first {
			continue
		}
		for z := 0; z < chunk.Size; z++ {
			for x := 0; x < chunk.Size; x++ {
				if err := c.Set(chunk.LocalPos{X: x, Y: y, Z: z}, id); err != nil {
					return nil, err
				}
			}
		}
	}
	return c, nil
}
