package data

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/text/cases"
	"gopkg.in/yaml.v3"
)

// VoxelID is the compact id a voxel type is referenced by inside chunk palettes.
// Id 0 is always air.
type VoxelID uint16

const Air VoxelID = 0

// Face is a bitmask of cube faces a voxel type renders.
type Face uint8

const (
	FaceNorth Face = 1 << iota
	FaceSouth
	FaceEast
	FaceWest
	FaceUp
	FaceDown

	FaceNone Face = 0
	FaceAll  Face = FaceNorth | FaceSouth | FaceEast | FaceWest | FaceUp | FaceDown
)

// VoxelType holds the static properties of one voxel type.
type VoxelType struct {
	ID        VoxelID  `yaml:"id"`
	Name      string   `yaml:"name"`
	Opaque    bool     `yaml:"opaque"`
	Collision bool     `yaml:"collision"`
	Faces     []string `yaml:"faces"` // north/south/east/west/up/down or "all"

	faceMask Face
}

// FaceMask returns the parsed render face set.
func (v *VoxelType) FaceMask() Face { return v.faceMask }

type voxelListFile struct {
	Voxels []VoxelType `yaml:"voxels"`
}

// VoxelTable resolves voxel ids and names to their static properties.
// Immutable after load, safe for concurrent readers.
type VoxelTable struct {
	byID   map[VoxelID]*VoxelType
	byName map[string]*VoxelType
}

// LoadVoxelTable loads voxel types from a YAML file.
func LoadVoxelTable(path string) (*VoxelTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read voxel_list: %w", err)
	}
	t, err := ParseVoxelTable(raw)
	if err != nil {
		return nil, fmt.Errorf("parse voxel_list: %w", err)
	}
	return t, nil
}

// ParseVoxelTable builds a table from YAML bytes. Air is added when missing.
func ParseVoxelTable(raw []byte) (*VoxelTable, error) {
	var f voxelListFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, err
	}
	return newVoxelTable(f.Voxels)
}

// DefaultVoxelTable returns the built-in voxel set used when no table is configured.
func DefaultVoxelTable() *VoxelTable {
	t, err := newVoxelTable([]VoxelType{
		{ID: 0, Name: "air", Faces: []string{"none"}},
		{ID: 1, Name: "stone", Opaque: true, Collision: true, Faces: []string{"all"}},
		{ID: 2, Name: "dirt", Opaque: true, Collision: true, Faces: []string{"all"}},
		{ID: 3, Name: "grass", Opaque: true, Collision: true, Faces: []string{"all"}},
		{ID: 4, Name: "sand", Opaque: true, Collision: true, Faces: []string{"all"}},
		{ID: 5, Name: "gravel", Opaque: true, Collision: true, Faces: []string{"all"}},
		{ID: 6, Name: "water", Faces: []string{"up"}},
		{ID: 7, Name: "log", Opaque: true, Collision: true, Faces: []string{"all"}},
		{ID: 8, Name: "leaves", Collision: true, Faces: []string{"all"}},
		{ID: 9, Name: "bedrock", Opaque: true, Collision: true, Faces: []string{"all"}},
	})
	if err != nil {
		panic(err) // static table
	}
	return t
}

func newVoxelTable(types []VoxelType) (*VoxelTable, error) {
	t := &VoxelTable{
		byID:   make(map[VoxelID]*VoxelType, len(types)+1),
		byName: make(map[string]*VoxelType, len(types)+1),
	}
	for i := range types {
		v := types[i]
		if v.Name == "" {
			return nil, fmt.Errorf("voxel %d: empty name", v.ID)
		}
		mask, err := parseFaces(v.Faces)
		if err != nil {
			return nil, fmt.Errorf("voxel %q: %w", v.Name, err)
		}
		v.faceMask = mask
		key := foldName(v.Name)
		if _, dup := t.byID[v.ID]; dup {
			return nil, fmt.Errorf("voxel %q: duplicate id %d", v.Name, v.ID)
		}
		if _, dup := t.byName[key]; dup {
			return nil, fmt.Errorf("voxel %q: duplicate name", v.Name)
		}
		t.byID[v.ID] = &v
		t.byName[key] = &v
	}
	if _, ok := t.byID[Air]; !ok {
		air := &VoxelType{ID: Air, Name: "air"}
		t.byID[Air] = air
		t.byName["air"] = air
	}
	return t, nil
}

// foldName case-folds a voxel name. A Caser is stateful, so one is built per call.
func foldName(name string) string {
	return cases.Fold().String(name)
}

func parseFaces(names []string) (Face, error) {
	if len(names) == 0 {
		return FaceAll, nil
	}
	var mask Face
	for _, n := range names {
		switch strings.ToLower(n) {
		case "all":
			mask |= FaceAll
		case "none":
		case "north":
			mask |= FaceNorth
		case "south":
			mask |= FaceSouth
		case "east":
			mask |= FaceEast
		case "west":
			mask |= FaceWest
		case "up":
			mask |= FaceUp
		case "down":
			mask |= FaceDown
		default:
			return 0, fmt.Errorf("unknown face %q", n)
		}
	}
	return mask, nil
}

// Get returns the voxel type for an id, or nil if none defined.
func (t *VoxelTable) Get(id VoxelID) *VoxelType {
	return t.byID[id]
}

// ByName resolves a voxel type by name, ignoring case.
func (t *VoxelTable) ByName(name string) (*VoxelType, bool) {
	v, ok := t.byName[foldName(name)]
	return v, ok
}

// MustID returns the id for a name and panics when it is unknown.
// Only for wiring static generator palettes.
func (t *VoxelTable) MustID(name string) VoxelID {
	v, ok := t.ByName(name)
	if !ok {
		panic(fmt.Sprintf("unknown voxel %q", name))
	}
	return v.ID
}

// Opaque reports whether the voxel fully occludes its neighbours.
func (t *VoxelTable) Opaque(id VoxelID) bool {
	v := t.byID[id]
	return v != nil && v.Opaque
}

// Count returns the number of voxel types.
func (t *VoxelTable) Count() int {
	return len(t.byID)
}
