package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/voxelforge/voxeld/internal/component"
	"github.com/voxelforge/voxeld/internal/config"
	"github.com/voxelforge/voxeld/internal/core/ecs"
	"github.com/voxelforge/voxeld/internal/core/event"
	coresys "github.com/voxelforge/voxeld/internal/core/system"
	"github.com/voxelforge/voxeld/internal/data"
	"github.com/voxelforge/voxeld/internal/gen"
	"github.com/voxelforge/voxeld/internal/persist"
	"github.com/voxelforge/voxeld/internal/scripting"
	"github.com/voxelforge/voxeld/internal/system"
	"github.com/voxelforge/voxeld/internal/world"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// ── Startup display helpers ────────────────────────────────────────

func printBanner(worldName string, seed int64) {
	fmt.Println()
	fmt.Println("\033[36;1m  ┌───────────────────────────────────────────┐\033[0m")
	fmt.Println("\033[36;1m  │\033[0m               voxeld  v0.1.0              \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  │\033[0m          chunked voxel world core         \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  └───────────────────────────────────────────┘\033[0m")
	fmt.Println()
	fmt.Printf("  \033[1mworld:\033[0m %s \033[90m(seed: %d)\033[0m\n\n", worldName, seed)
}

func printSection(title string) {
	lineLen := max(46-len(title)-1, 3)
	fmt.Printf("  \033[33m── %s %s\033[0m\n", title, strings.Repeat("─", lineLen))
}

func printStat(label string, count int) {
	numStr := fmt.Sprintf("%d", count)
	dotsLen := max(42-len(label)-len(numStr), 3)
	fmt.Printf("  %s \033[90m%s\033[0m \033[32m%s\033[0m\n", label, strings.Repeat("·", dotsLen), numStr)
}

func printOK(msg string) {
	fmt.Printf("  \033[32m✓\033[0m %s\n", msg)
}

func printReady(msg string) {
	fmt.Printf("  \033[32m▶\033[0m %s\n", msg)
}

// ── Main server logic ─────────────────────────────────────────────

func run() error {
	// 1. Load config
	cfgPath := "config/voxeld.toml"
	if p := os.Getenv("VOXELD_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// 2. Init logger
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	printBanner(cfg.World.Name, cfg.World.Seed)

	// 3. Voxel types and terrain generator
	printSection("Data")
	voxels := data.DefaultVoxelTable()
	if cfg.Data.VoxelTable != "" {
		if voxels, err = data.LoadVoxelTable(cfg.Data.VoxelTable); err != nil {
			return fmt.Errorf("voxel table: %w", err)
		}
	}
	printStat("voxel types", voxels.Count())

	generator, closeGen, err := newGenerator(cfg, voxels, log)
	if err != nil {
		return fmt.Errorf("generator: %w", err)
	}
	defer closeGen()
	printOK(fmt.Sprintf("%s generator ready", cfg.Generator.Kind))
	fmt.Println()

	// 4. Chunk store
	printSection("Storage")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var store world.Store
	var backend persist.Backend
	if cfg.Storage.Backend != "none" {
		backend, err = persist.Open(ctx, cfg.Storage, cfg.World.ID, log)
		if err != nil {
			return fmt.Errorf("storage: %w", err)
		}
		defer backend.Close()
		if err := backend.RegisterWorld(ctx, cfg.World.Name, cfg.World.Seed); err != nil {
			return fmt.Errorf("storage: %w", err)
		}
		chunks, err := backend.List(ctx)
		if err != nil {
			return fmt.Errorf("storage: %w", err)
		}
		store = backend
		printOK(fmt.Sprintf("%s store open, migrations applied", cfg.Storage.Backend))
		printStat("stored chunks", len(chunks))
	} else {
		printOK("no storage; edits are lost on unload")
	}
	fmt.Println()

	// 5. ECS world, event bus and chunk container
	ecsWorld := ecs.NewWorld()
	bus := event.NewBus()
	grid := world.NewObserverGrid()
	chunkStores := system.NewChunkStores(ecsWorld)
	observerStores := system.NewObserverStores(ecsWorld)

	container := world.NewContainer(world.ContainerConfig{
		Shards:        cfg.World.Shards,
		Store:         store,
		Generator:     generator,
		Voxels:        voxels,
		DeadSlotRatio: cfg.Engine.DeadSlotRatio,
		SaveWorkers:   cfg.Engine.SaveWorkers,
	}, log)

	// 6. Systems
	ctrl := system.NewChunkControllerSystem(container, ecsWorld, chunkStores, grid, bus, system.ControllerConfig{
		LoadWorkers: cfg.Engine.LoadWorkers,
		LoadTimeout: cfg.Engine.LoadTimeout,
	}, log)
	persistSys := system.NewPersistenceSystem(container, log, saveInterval(cfg, store), cfg.Storage.Timeout)
	statsTicks := int(time.Minute / cfg.Engine.TickRate)

	runner := coresys.NewRunner()
	runner.Register(system.NewEventDispatchSystem(bus))
	runner.Register(system.NewObserverSystem(observerStores, grid, bus, log))
	runner.Register(ctrl)
	runner.Register(system.NewStatsSystem(ctrl, grid, statsTicks, log))
	runner.Register(persistSys)
	runner.Register(system.NewCleanupSystem(ecsWorld))

	// 7. Spawn observer keeps the area around the origin resident.
	if cfg.World.SpawnRange >= 0 {
		spawn := ecsWorld.CreateEntity()
		observerStores.Positions.Set(spawn, &component.Position{})
		observerStores.Observers.Set(spawn, &component.Observer{
			HorizontalRange: cfg.World.SpawnRange,
			ViewAbove:       cfg.World.SpawnAbove,
			ViewBelow:       cfg.World.SpawnBelow,
		})
	}

	// 8. Start the tick loop
	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(cfg.Engine.TickRate)
	defer ticker.Stop()

	printSection("Ready")
	printReady(fmt.Sprintf("world %s (%s)", cfg.World.Name, cfg.World.ID))
	printReady(fmt.Sprintf("tick loop started (tick: %s, systems: %d)", cfg.Engine.TickRate, runner.Len()))
	fmt.Println()

	for {
		select {
		case <-ticker.C:
			runner.Tick(cfg.Engine.TickRate)
		case sig := <-shutdownCh:
			log.Info("shutdown signal received", zap.String("signal", sig.String()))
			if store != nil {
				persistSys.SaveAll()
				st := backend.Stats()
				log.Info("chunk store totals", zap.Int64("written", st.Written), zap.Int64("unchanged", st.Unchanged))
			}
			log.Info("voxeld stopped", zap.Int("resident", container.Len()))
			return nil
		}
	}
}

func newGenerator(cfg *config.Config, voxels *data.VoxelTable, log *zap.Logger) (world.Generator, func(), error) {
	if cfg.Generator.Kind == "lua" {
		g, err := scripting.NewGenerator(cfg.Generator.Script, voxels, cfg.World.Seed, cfg.Generator.VMs, log)
		if err != nil {
			return nil, nil, err
		}
		return g, g.Close, nil
	}
	g, err := gen.New(voxels, gen.Options{
		Kind:   gen.Kind(cfg.Generator.Kind),
		Layers: cfg.Generator.Layers,
		Noise: gen.NoiseConfig{
			Seed:       cfg.World.Seed,
			BaseHeight: cfg.Generator.BaseHeight,
			Amplitude:  cfg.Generator.Amplitude,
			CellSize:   cfg.Generator.CellSize,
			SeaLevel:   cfg.Generator.SeaLevel,
			Floor:      cfg.Generator.Floor,
		},
	})
	if err != nil {
		return nil, nil, err
	}
	return g, func() {}, nil
}

// saveInterval disables periodic saves when there is nowhere to save to.
func saveInterval(cfg *config.Config, store world.Store) int {
	if store == nil {
		return 0
	}
	return cfg.SaveIntervalTicks()
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
