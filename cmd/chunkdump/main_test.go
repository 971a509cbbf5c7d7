package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap/zaptest"
	"gopkg.in/yaml.v3"

	"github.com/voxelforge/voxeld/internal/chunk"
	"github.com/voxelforge/voxeld/internal/data"
	"github.com/voxelforge/voxeld/internal/persist"
)

func TestParsePos(t *testing.T) {
	p, err := parsePos("1, -2,3")
	if err != nil || p != (chunk.Pos{X: 1, Y: -2, Z: 3}) {
		t.Fatalf("parsePos = %v, %v", p, err)
	}
	for _, bad := range []string{"", "1,2", "1,2,x", "1,2,99999999999"} {
		if _, err := parsePos(bad); err == nil {
			t.Errorf("%q parsed", bad)
		}
	}
}

func TestSummarize(t *testing.T) {
	voxels := data.DefaultVoxelTable()
	c := chunk.New(chunk.Pos{X: 4}, voxels.MustID("stone"))
	for x := range 3 {
		if err := c.Set(chunk.LocalPos{X: x}, voxels.MustID("dirt")); err != nil {
			t.Fatal(err)
		}
	}
	s := summarize(c, voxels)
	if s.Bits != 1 || s.Uniform || len(s.Palette) != 2 {
		t.Fatalf("summary = %+v", s)
	}
	if s.Palette[0].Name != "stone" || s.Palette[0].Count != chunk.Volume-3 || s.Palette[1].Count != 3 {
		t.Fatalf("palette = %+v", s.Palette)
	}
}

func TestExportImportThroughStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	log := zaptest.NewLogger(t)
	voxels := data.DefaultVoxelTable()

	src, err := persist.OpenSQLite(ctx, filepath.Join(dir, "a.db"), uuid.New(), log)
	if err != nil {
		t.Fatal(err)
	}
	defer src.Close()
	if err := src.RegisterWorld(ctx, "a", 1); err != nil {
		t.Fatal(err)
	}
	pos := chunk.Pos{X: 1, Y: 2, Z: 3}
	c := chunk.New(pos, voxels.MustID("sand"))
	if err := c.Set(chunk.LocalPos{Y: 1}, voxels.MustID("water")); err != nil {
		t.Fatal(err)
	}
	if err := src.SaveChunk(ctx, c); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	if err := showChunk(ctx, &out, src, voxels, pos); err != nil {
		t.Fatal(err)
	}
	var shown chunkYAML
	if err := yaml.Unmarshal(out.Bytes(), &shown); err != nil {
		t.Fatal(err)
	}
	if shown.Pos != [3]int32{1, 2, 3} || len(shown.Palette) != 2 || shown.Palette[1].Name != "water" {
		t.Fatalf("show output:\n%s", out.String())
	}

	out.Reset()
	if err := listChunks(ctx, &out, src); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "1 chunks") || !strings.Contains(out.String(), pos.String()) {
		t.Fatalf("list output:\n%s", out.String())
	}

	file := filepath.Join(dir, "chunk.vxz")
	if err := exportChunk(ctx, src, pos, file); err != nil {
		t.Fatal(err)
	}
	if err := exportChunk(ctx, src, chunk.Pos{}, file); err == nil {
		t.Fatal("exported a chunk that is not stored")
	}

	dst, err := persist.OpenSQLite(ctx, filepath.Join(dir, "b.db"), uuid.New(), log)
	if err != nil {
		t.Fatal(err)
	}
	defer dst.Close()
	if err := dst.RegisterWorld(ctx, "b", 1); err != nil {
		t.Fatal(err)
	}
	got, err := importChunk(ctx, dst, file)
	if err != nil || got != pos {
		t.Fatalf("import = %v, %v", got, err)
	}
	back, ok, err := dst.LoadChunk(ctx, pos)
	if err != nil || !ok || back.Digest() != c.Digest() {
		t.Fatalf("imported chunk differs: ok=%v err=%v", ok, err)
	}
}
