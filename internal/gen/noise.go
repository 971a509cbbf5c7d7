package gen

import (
	"context"
	"fmt"

	"github.com/voxelforge/voxeld/internal/chunk"
	"github.com/voxelforge/voxeld/internal/data"
)

// NoiseConfig shapes the hash-noise terrain.
type NoiseConfig struct {
	Seed       int64
	BaseHeight int // mean surface height
	Amplitude  int // max deviation from BaseHeight
	CellSize   int // lattice spacing of the height noise, in voxels
	SeaLevel   int
	Floor      int // bedrock at and below this height
}

// DefaultNoiseConfig returns rolling hills around y = 32.
func DefaultNoiseConfig() NoiseConfig {
	return NoiseConfig{BaseHeight: 32, Amplitude: 12, CellSize: 32, SeaLevel: 28, Floor: -64}
}

type noisePalette struct {
	stone, dirt, grass, sand, gravel, water, bedrock data.VoxelID
}

// Noise generates a heightmap from bilinear value noise over a hashed lattice.
// Output depends only on the seed and the position.
type Noise struct {
	cfg NoiseConfig
	pal noisePalette
}

// NewNoise resolves the terrain palette against t.
func NewNoise(t *data.VoxelTable, cfg NoiseConfig) (*Noise, error) {
	if cfg.CellSize <= 0 {
		return nil, fmt.Errorf("noise: cell size %d must be positive", cfg.CellSize)
	}
	if cfg.Amplitude < 0 {
		return nil, fmt.Errorf("noise: negative amplitude %d", cfg.Amplitude)
	}
	var pal noisePalette
	for name, dst := range map[string]*data.VoxelID{
		"stone": &pal.stone, "dirt": &pal.dirt, "grass": &pal.grass, "sand": &pal.sand,
		"gravel": &pal.gravel, "water": &pal.water, "bedrock": &pal.bedrock,
	} {
		v, ok := t.ByName(name)
		if !ok {
			return nil, fmt.Errorf("noise: voxel table has no %q", name)
		}
		*dst = v.ID
	}
	return &Noise{cfg: cfg, pal: pal}, nil
}

// Height returns the surface height at world column (x, z).
func (n *Noise) Height(x, z int) int {
	cs := n.cfg.CellSize
	cx, cz := floorDiv(x, cs), floorDiv(z, cs)
	fx := smooth(float64(x-cx*cs) / float64(cs))
	fz := smooth(float64(z-cz*cs) / float64(cs))

	s := n.cfg.Seed
	v00 := Unit(Hash2(s, cx, cz))
	v10 := Unit(Hash2(s, cx+1, cz))
	v01 := Unit(Hash2(s, cx, cz+1))
	v11 := Unit(Hash2(s, cx+1, cz+1))
	v := lerp(lerp(v00, v10, fx), lerp(v01, v11, fx), fz)

	return n.cfg.BaseHeight + int(float64(n.cfg.Amplitude)*(2*v-1))
}

func smooth(t float64) float64 { return t * t * (3 - 2*t) }

func lerp(a, b, t float64) float64 { return a + (b-a)*t }

func (n *Noise) voxel(x, y, z, height int) data.VoxelID {
	switch {
	case y <= n.cfg.Floor:
		return n.pal.bedrock
	case y > height:
		if y <= n.cfg.SeaLevel {
			return n.pal.water
		}
		return data.Air
	case y == height:
		if height <= n.cfg.SeaLevel {
			return n.pal.sand
		}
		return n.pal.grass
	case y >= height-3:
		if height <= n.cfg.SeaLevel {
			return n.pal.sand
		}
		return n.pal.dirt
	}
	if Hash3(n.cfg.Seed, x, y, z)%100 < 2 {
		return n.pal.gravel
	}
	return n.pal.stone
}

func (n *Noise) Generate(ctx context.Context, pos chunk.Pos) (*chunk.Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	x0, y0, z0 := pos.WorldMin()

	var heights [chunk.Size][chunk.Size]int
	maxH := n.cfg.SeaLevel
	for z := range chunk.Size {
		for x := range chunk.Size {
			h := n.Height(x0+x, z0+z)
			heights[z][x] = h
			maxH = max(maxH, h)
		}
	}
	if y0 > maxH && y0 > n.cfg.Floor {
		return chunk.New(pos, data.Air), nil
	}

	c := chunk.New(pos, data.Air)
	for y := range chunk.Size {
		for z := range chunk.Size {
			for x := range chunk.Size {
				id := n.voxel(x0+x, y0+y, z0+z, heights[z][x])
				if id == data.Air {
					continue
				}
				if err := c.Set(chunk.LocalPos{X: x, Y: y, Z: z}, id); err != nil {
					return nil, err
				}
			}
		}
	}
	return c, nil
}
