// chunkdump inspects the chunk store of a voxeld world.
//
// Usage:
//
//	go run ./cmd/chunkdump <command> [-config path] [flags]
//
// Commands:
//
//	list                          stored chunks of the world
//	show   -pos x,y,z             palette, index width and voxel counts as YAML
//	export -pos x,y,z -out file   write the compressed chunk encoding
//	import -in file               store a chunk written by export
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/voxelforge/voxeld/internal/chunk"
	"github.com/voxelforge/voxeld/internal/config"
	"github.com/voxelforge/voxeld/internal/data"
	"github.com/voxelforge/voxeld/internal/persist"
)

type paletteEntryYAML struct {
	ID    data.VoxelID `yaml:"id"`
	Name  string       `yaml:"name"`
	Count int          `yaml:"count"`
}

type chunkYAML struct {
	Pos     [3]int32           `yaml:"pos,flow"`
	Bits    int                `yaml:"bits"`
	Slots   int                `yaml:"slots"`
	Dead    int                `yaml:"dead_slots"`
	Uniform bool               `yaml:"uniform"`
	Encoded int                `yaml:"encoded_bytes"`
	Digest  string             `yaml:"digest"`
	Palette []paletteEntryYAML `yaml:"palette"`
}

func summarize(c *chunk.Chunk, voxels *data.VoxelTable) chunkYAML {
	s := c.Storage()
	d := c.Digest()
	p := c.Pos()
	out := chunkYAML{
		Pos:     [3]int32{p.X, p.Y, p.Z},
		Bits:    s.Bits(),
		Slots:   s.PaletteLen(),
		Dead:    s.DeadSlots(),
		Encoded: len(c.Encode()),
		Digest:  hex.EncodeToString(d[:8]),
	}
	_, out.Uniform = s.Uniform()
	counts := s.Counts()
	for _, id := range s.Palette() {
		name := "?"
		if v := voxels.Get(id); v != nil {
			name = v.Name
		}
		out.Palette = append(out.Palette, paletteEntryYAML{ID: id, Name: name, Count: counts[id]})
	}
	sort.SliceStable(out.Palette, func(i, j int) bool { return out.Palette[i].Count > out.Palette[j].Count })
	return out
}

func parsePos(s string) (chunk.Pos, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return chunk.Pos{}, fmt.Errorf("position %q: want x,y,z", s)
	}
	var v [3]int32
	for i, part := range parts {
		n, err := strconv.ParseInt(strings.TrimSpace(part), 10, 32)
		if err != nil {
			return chunk.Pos{}, fmt.Errorf("position %q: %w", s, err)
		}
		v[i] = int32(n)
	}
	return chunk.Pos{X: v[0], Y: v[1], Z: v[2]}, nil
}

func listChunks(ctx context.Context, w io.Writer, b persist.Backend) error {
	info, err := b.World(ctx)
	if err != nil {
		return err
	}
	chunks, err := b.List(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "world %s (%s) seed %d, %d chunks\n", info.Name, info.ID, info.Seed, len(chunks))
	for _, ci := range chunks {
		fmt.Fprintf(w, "%-22s %6d B  %s  %s\n", ci.Pos, ci.Size,
			hex.EncodeToString(ci.Digest[:8]), ci.SavedAt.Local().Format(time.DateTime))
	}
	return nil
}

func showChunk(ctx context.Context, w io.Writer, b persist.Backend, voxels *data.VoxelTable, pos chunk.Pos) error {
	c, ok, err := b.LoadChunk(ctx, pos)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("chunk %v not stored", pos)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(summarize(c, voxels)); err != nil {
		return err
	}
	return enc.Close()
}

func exportChunk(ctx context.Context, b persist.Backend, pos chunk.Pos, path string) error {
	c, ok, err := b.LoadChunk(ctx, pos)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("chunk %v not stored", pos)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := c.WriteCompressed(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func importChunk(ctx context.Context, b persist.Backend, path string) (chunk.Pos, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return chunk.Pos{}, err
	}
	c, err := chunk.DecodeCompressed(raw)
	if err != nil {
		return chunk.Pos{}, fmt.Errorf("%s: %w", path, err)
	}
	return c.Pos(), b.SaveChunk(ctx, c)
}

func printUsage() {
	fmt.Println("Usage: chunkdump <command> [-config path] [flags]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  list                          stored chunks of the world")
	fmt.Println("  show   -pos x,y,z             palette, index width and voxel counts")
	fmt.Println("  export -pos x,y,z -out file   write the compressed chunk encoding")
	fmt.Println("  import -in file               store a chunk written by export")
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	if cmd == "-h" || cmd == "--help" || cmd == "help" {
		printUsage()
		return
	}

	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	cfgPath := fs.String("config", "config/voxeld.toml", "voxeld config file")
	posFlag := fs.String("pos", "", "chunk position x,y,z")
	outPath := fs.String("out", "", "export destination")
	inPath := fs.String("in", "", "import source")
	_ = fs.Parse(os.Args[2:])

	if err := run(cmd, *cfgPath, *posFlag, *outPath, *inPath); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd, cfgPath, posFlag, outPath, inPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if cfg.Storage.Backend == "none" {
		return fmt.Errorf("%s: storage backend is none", cfgPath)
	}
	voxels := data.DefaultVoxelTable()
	if cfg.Data.VoxelTable != "" {
		if voxels, err = data.LoadVoxelTable(cfg.Data.VoxelTable); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	b, err := persist.Open(ctx, cfg.Storage, cfg.World.ID, zap.NewNop())
	if err != nil {
		return err
	}
	defer b.Close()

	needPos := func() (chunk.Pos, error) {
		if posFlag == "" {
			return chunk.Pos{}, fmt.Errorf("%s needs -pos", cmd)
		}
		return parsePos(posFlag)
	}

	switch cmd {
	case "list":
		return listChunks(ctx, os.Stdout, b)
	case "show":
		pos, err := needPos()
		if err != nil {
			return err
		}
		return showChunk(ctx, os.Stdout, b, voxels, pos)
	case "export":
		pos, err := needPos()
		if err != nil {
			return err
		}
		if outPath == "" {
			return fmt.Errorf("export needs -out")
		}
		if err := exportChunk(ctx, b, pos, outPath); err != nil {
			return err
		}
		fmt.Printf("exported %v to %s\n", pos, outPath)
		return nil
	case "import":
		if inPath == "" {
			return fmt.Errorf("import needs -in")
		}
		if _, err := b.World(ctx); err != nil {
			return err
		}
		pos, err := importChunk(ctx, b, inPath)
		if err != nil {
			return err
		}
		fmt.Printf("imported %v from %s\n", pos, inPath)
		return nil
	}
	printUsage()
	return fmt.Errorf("unknown command: %s", cmd)
}
