package scripting

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/voxelforge/voxeld/internal/chunk"
	"github.com/voxelforge/voxeld/internal/data"
)

func writeScript(t *testing.T, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "terrain.lua")
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const floorScript = `
local stone = voxel("stone")
function generate(cx, cy, cz)
  if cy < 0 then
    fill(stone)
  elseif cy == 0 then
    for z = 0, SIZE - 1 do
      for x = 0, SIZE - 1 do
        set(x, 0, z, stone)
      end
    end
    set(cx % SIZE, 1, 0, get(0, 0, 0))
  end
end
`

func TestLuaGenerate(t *testing.T) {
	tbl := data.DefaultVoxelTable()
	g, err := NewGenerator(writeScript(t, floorScript), tbl, 1, 2, zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	defer g.Close()
	ctx := context.Background()
	stone := tbl.MustID("stone")

	c, err := g.Generate(ctx, chunk.Pos{X: 3})
	if err != nil {
		t.Fatal(err)
	}
	if got := c.Storage().At(chunk.LocalPos{X: 5, Z: 9}); got != stone {
		t.Fatalf("floor voxel = %d", got)
	}
	if got := c.Storage().At(chunk.LocalPos{X: 3, Y: 1}); got != stone {
		t.Fatalf("marker voxel = %d", got)
	}
	if got := c.Storage().At(chunk.LocalPos{Y: 2}); got != data.Air {
		t.Fatalf("y=2 voxel = %d", got)
	}

	below, _ := g.Generate(ctx, chunk.Pos{Y: -1})
	if id, ok := below.Storage().Uniform(); !ok || id != stone {
		t.Fatal("fill did not produce a uniform stone chunk")
	}
	above, _ := g.Generate(ctx, chunk.Pos{Y: 1})
	if id, ok := above.Storage().Uniform(); !ok || id != data.Air {
		t.Fatal("untouched chunk is not air")
	}
}

func TestLuaConcurrentGenerate(t *testing.T) {
	tbl := data.DefaultVoxelTable()
	g, err := NewGenerator(writeScript(t, floorScript), tbl, 1, 3, zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	defer g.Close()

	var wg sync.WaitGroup
	errs := make(chan error, 32)
	for i := range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := g.Generate(context.Background(), chunk.Pos{X: int32(i)})
			if err != nil {
				errs <- err
				return
			}
			if got := c.Storage().At(chunk.LocalPos{X: i % chunk.Size, Y: 1}); got != tbl.MustID("stone") {
				errs <- errors.New("marker missing")
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
}

func TestLuaLoadErrors(t *testing.T) {
	tbl := data.DefaultVoxelTable()
	log := zaptest.NewLogger(t)
	cases := map[string]string{
		"no entry point": `x = 1`,
		"unknown voxel":  `local v = voxel("unobtainium") function generate() end`,
		"syntax":         `function generate(`,
	}
	for name, src := range cases {
		if _, err := NewGenerator(writeScript(t, src), tbl, 1, 1, log); err == nil {
			t.Errorf("%s: loaded", name)
		}
	}
	if _, err := NewGenerator(filepath.Join(t.TempDir(), "missing.lua"), tbl, 1, 1, log); err == nil {
		t.Error("missing file loaded")
	}
}

func TestLuaRuntimeErrors(t *testing.T) {
	tbl := data.DefaultVoxelTable()
	g, err := NewGenerator(writeScript(t, `
function generate(cx, cy, cz)
  if cx == 1 then set(16, 0, 0, 1) end
  if cx == 2 then set(0, 0, 0, 999) end
  if cx == 3 then error("boom") end
end
`), tbl, 1, 1, zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	defer g.Close()
	for x := int32(1); x <= 3; x++ {
		if _, err := g.Generate(context.Background(), chunk.Pos{X: x}); err == nil {
			t.Errorf("cx=%d: no error", x)
		}
	}
	// The VM survives script errors.
	if _, err := g.Generate(context.Background(), chunk.Pos{}); err != nil {
		t.Fatal(err)
	}
}

func TestLuaGenerateWaitsForVM(t *testing.T) {
	tbl := data.DefaultVoxelTable()
	g, err := NewGenerator(writeScript(t, floorScript), tbl, 1, 1, zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	defer g.Close()

	v := <-g.vms
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := g.Generate(ctx, chunk.Pos{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	g.vms <- v
}

func TestShippedTerrainScripts(t *testing.T) {
	tbl := data.DefaultVoxelTable()
	g, err := NewGenerator(filepath.Join("..", "..", "scripts", "terrain"), tbl, 99, 1, zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	defer g.Close()
	c, err := g.Generate(context.Background(), chunk.Pos{X: -2, Z: 5})
	if err != nil {
		t.Fatal(err)
	}
	if got := c.Storage().At(chunk.LocalPos{}); got != tbl.MustID("stone") {
		t.Fatalf("y=0 voxel = %d, want stone", got)
	}
	if got := c.Storage().At(chunk.LocalPos{Y: 15}); got != data.Air {
		t.Fatalf("y=15 voxel = %d, want air", got)
	}
}
