package scripting

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/voxelforge/voxeld/internal/chunk"
	"github.com/voxelforge/voxeld/internal/data"
	"github.com/voxelforge/voxeld/internal/gen"
)

// APIVersion is exposed to scripts as API_VERSION.
const APIVersion = 1

// entryPoint is the global every terrain script set must define:
//
//	function generate(cx, cy, cz) ... end
//
// It fills the current chunk through set/fill. Voxels default to air.
const entryPoint = "generate"

// Generator runs Lua terrain scripts. A gopher-lua VM is single-goroutine, so
// the generator keeps a fixed pool of VMs, each with the scripts loaded, and
// hands one to each Generate call.
type Generator struct {
	table *data.VoxelTable
	seed  int64
	log   *zap.Logger
	vms   chan *vm
	all   []*vm
}

type vm struct {
	L   *lua.LState
	cur *chunk.Chunk
}

// NewGenerator loads the script file or directory at path into size VMs.
// Directory files load in name order.
func NewGenerator(path string, t *data.VoxelTable, seed int64, size int, log *zap.Logger) (*Generator, error) {
	if size <= 0 {
		size = 1
	}
	g := &Generator{table: t, seed: seed, log: log, vms: make(chan *vm, size)}
	for range size {
		v, err := g.newVM(path)
		if err != nil {
			g.Close()
			return nil, err
		}
		g.all = append(g.all, v)
		g.vms <- v
	}
	log.Info("lua generator ready", zap.String("path", path), zap.Int("vms", size))
	return g, nil
}

func (g *Generator) newVM(path string) (*vm, error) {
	v := &vm{L: lua.NewState()}
	L := v.L
	L.SetGlobal("API_VERSION", lua.LNumber(APIVersion))
	L.SetGlobal("SEED", lua.LNumber(g.seed))
	L.SetGlobal("SIZE", lua.LNumber(chunk.Size))
	L.SetGlobal("AIR", lua.LNumber(data.Air))
	L.SetGlobal("voxel", L.NewFunction(g.luaVoxel))
	L.SetGlobal("hash2", L.NewFunction(g.luaHash2))
	L.SetGlobal("hash3", L.NewFunction(g.luaHash3))
	L.SetGlobal("set", L.NewFunction(v.luaSet(g.table)))
	L.SetGlobal("fill", L.NewFunction(v.luaFill(g.table)))
	L.SetGlobal("get", L.NewFunction(v.luaGet))

	if err := g.load(L, path); err != nil {
		L.Close()
		return nil, err
	}
	if L.GetGlobal(entryPoint) == lua.LNil {
		L.Close()
		return nil, fmt.Errorf("lua scripts at %s define no %s function", path, entryPoint)
	}
	return v, nil
}

func (g *Generator) load(L *lua.LState, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("lua scripts: %w", err)
	}
	if !info.IsDir() {
		if err := L.DoFile(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		return nil
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lua" {
			continue
		}
		file := filepath.Join(path, entry.Name())
		if err := L.DoFile(file); err != nil {
			return fmt.Errorf("load %s: %w", file, err)
		}
		g.log.Debug("loaded lua script", zap.String("file", file))
	}
	return nil
}

// Generate calls generate(cx, cy, cz) on a free VM. Blocks until one is free
// or ctx ends; ctx also bounds the script's run time.
func (g *Generator) Generate(ctx context.Context, pos chunk.Pos) (*chunk.Chunk, error) {
	var v *vm
	select {
	case v = <-g.vms:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { g.vms <- v }()

	c := chunk.New(pos, data.Air)
	v.cur = c
	v.L.SetContext(ctx)
	err := v.L.CallByParam(lua.P{
		Fn:      v.L.GetGlobal(entryPoint),
		NRet:    0,
		Protect: true,
	}, lua.LNumber(pos.X), lua.LNumber(pos.Y), lua.LNumber(pos.Z))
	v.L.RemoveContext()
	v.cur = nil
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("lua %s %v: %w", entryPoint, pos, err)
	}
	return c, nil
}

// Close shuts every VM down. The generator must be idle.
func (g *Generator) Close() {
	for _, v := range g.all {
		v.L.Close()
	}
	g.all = nil
}

// voxel(name) -> id
func (g *Generator) luaVoxel(L *lua.LState) int {
	name := L.CheckString(1)
	t, ok := g.table.ByName(name)
	if !ok {
		L.RaiseError("unknown voxel %q", name)
		return 0
	}
	L.Push(lua.LNumber(t.ID))
	return 1
}

// hash2(x, z) -> [0, 1)
func (g *Generator) luaHash2(L *lua.LState) int {
	L.Push(lua.LNumber(gen.Unit(gen.Hash2(g.seed, L.CheckInt(1), L.CheckInt(2)))))
	return 1
}

// hash3(x, y, z) -> [0, 1)
func (g *Generator) luaHash3(L *lua.LState) int {
	L.Push(lua.LNumber(gen.Unit(gen.Hash3(g.seed, L.CheckInt(1), L.CheckInt(2), L.CheckInt(3)))))
	return 1
}

var errNoChunk = errors.New("called outside generate")

func checkVoxel(L *lua.LState, t *data.VoxelTable, n int) data.VoxelID {
	raw := L.CheckInt(n)
	if raw < 0 || raw > 0xFFFF || t.Get(data.VoxelID(raw)) == nil {
		L.ArgError(n, fmt.Sprintf("unknown voxel id %d", raw))
	}
	return data.VoxelID(raw)
}

func (v *vm) checkLocal(L *lua.LState) chunk.LocalPos {
	return chunk.LocalPos{X: L.CheckInt(1), Y: L.CheckInt(2), Z: L.CheckInt(3)}
}

// set(lx, ly, lz, id)
func (v *vm) luaSet(t *data.VoxelTable) lua.LGFunction {
	return func(L *lua.LState) int {
		if v.cur == nil {
			L.RaiseError("set: %v", errNoChunk)
			return 0
		}
		p := v.checkLocal(L)
		id := checkVoxel(L, t, 4)
		if err := v.cur.Set(p, id); err != nil {
			L.RaiseError("set %v: %v", p, err)
		}
		return 0
	}
}

// fill(id)
func (v *vm) luaFill(t *data.VoxelTable) lua.LGFunction {
	return func(L *lua.LState) int {
		if v.cur == nil {
			L.RaiseError("fill: %v", errNoChunk)
			return 0
		}
		v.cur.Fill(checkVoxel(L, t, 1))
		return 0
	}
}

// get(lx, ly, lz) -> id
func (v *vm) luaGet(L *lua.LState) int {
	if v.cur == nil {
		L.RaiseError("get: %v", errNoChunk)
		return 0
	}
	p := v.checkLocal(L)
	id, err := v.cur.Get(p)
	if err != nil {
		L.RaiseError("get %v: %v", p, err)
		return 0
	}
	L.Push(lua.LNumber(id))
	return 1
}
