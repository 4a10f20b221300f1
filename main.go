package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gosuri/uitable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pthm-cable/racer/config"
	"github.com/pthm-cable/racer/evolution"
	"github.com/pthm-cable/racer/storage"
	"github.com/pthm-cable/racer/telemetry"
	"github.com/pthm-cable/racer/track"
	"github.com/pthm-cable/racer/trainer"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "Path to config.yaml (empty = use defaults)")
	tracksPath := flag.String("tracks", "", "Path to a YAML track list (empty = built-in tracks)")
	outputDir := flag.String("output-dir", "", "Output directory for CSV logs, hall of fame and config snapshot")
	seed := flag.Int64("seed", 0, "RNG seed (0 = time-based)")
	generations := flag.Int("generations", 100, "Generations to train")
	strategy := flag.String("strategy", "", "Epoch runner: rotating, composite (empty = use config)")
	backend := flag.String("store", "", "Storage backend: memory, sqlite (empty = use config)")
	dbPath := flag.String("db", "", "SQLite database path (empty = use config)")
	resume := flag.Bool("resume", false, "Resume the latest stored evolution (or -evolution)")
	evolutionID := flag.String("evolution", "", "Evolution id to write or resume (empty = new)")
	metricsAddr := flag.String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
	diagnose := flag.Bool("diagnose", false, "Log network saturation diagnostics (debug level)")
	top := flag.Int("top", 10, "Hall of fame rows printed at exit")

	flag.Parse()

	// Initialize config before anything else
	if err := config.Init(*configPath); err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	cfg := config.Cfg()
	if *strategy != "" {
		cfg.Schedule.Strategy = *strategy
	}
	if *backend != "" {
		cfg.Storage.Backend = *backend
	}
	if *dbPath != "" {
		cfg.Storage.Path = *dbPath
	}

	// Set up seed
	rngSeed := *seed
	if rngSeed == 0 {
		rngSeed = time.Now().UnixNano()
	}

	// Set up slog (JSON to stdout for structured logging)
	level := slog.LevelInfo
	if *diagnose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := run(cfg, runOptions{
		tracksPath:  *tracksPath,
		outputDir:   *outputDir,
		seed:        rngSeed,
		generations: *generations,
		resume:      *resume,
		evolutionID: *evolutionID,
		metricsAddr: *metricsAddr,
		diagnose:    *diagnose,
		top:         *top,
	}); err != nil {
		slog.Error("training failed", "error", err)
		os.Exit(1)
	}
}

type runOptions struct {
	tracksPath  string
	outputDir   string
	seed        int64
	generations int
	resume      bool
	evolutionID string
	metricsAddr string
	diagnose    bool
	top         int
}

func run(cfg *config.Config, opts runOptions) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracks := track.Builtin(cfg.Simulation.GridCellSize)
	if opts.tracksPath != "" {
		loaded, err := track.LoadFile(opts.tracksPath, cfg.Simulation.GridCellSize)
		if err != nil {
			return err
		}
		tracks = loaded
	}

	store, err := storage.NewStore(cfg.Storage.Backend, cfg.Storage.Path)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Init(ctx); err != nil {
		return err
	}

	id := opts.evolutionID
	if opts.resume && id == "" {
		latest, ok, err := store.LatestEvolution(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return errors.New("nothing to resume: store is empty")
		}
		id = latest
	}

	output, err := telemetry.NewOutputManager(opts.outputDir, cfg.Telemetry.Plot)
	if err != nil {
		return err
	}
	defer func() {
		if err := output.Close(); err != nil {
			slog.Error("failed to close output", "error", err)
		}
	}()
	if err := output.WriteConfig(cfg); err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)
	if opts.metricsAddr != "" {
		srv := &http.Server{Addr: opts.metricsAddr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", "error", err)
			}
		}()
		defer srv.Close()
	}

	t, err := trainer.New(cfg, tracks, rand.New(rand.NewSource(opts.seed)), trainer.Options{
		EvolutionID: id,
		Store:       store,
		Output:      output,
		Metrics:     metrics,
		Logger:      slog.Default(),
		Diagnose:    opts.diagnose,
	})
	if err != nil {
		return err
	}
	if opts.resume {
		ok, err := t.Resume(ctx)
		if err != nil {
			return fmt.Errorf("resume %s: %w", id, err)
		}
		if !ok {
			return fmt.Errorf("resume %s: no stored generation", id)
		}
	}

	slog.Info("starting training",
		"evolution", t.ID(),
		"seed", opts.seed,
		"strategy", cfg.Schedule.Strategy,
		"tracks", len(tracks),
		"population", cfg.Evolution.PopulationSize,
		"generations", opts.generations,
		"store", cfg.Storage.Backend,
	)

	err = t.Run(ctx, opts.generations)
	if errors.Is(err, context.Canceled) {
		slog.Info("training interrupted", "generations", t.Generations())
		err = nil
	}
	printHallOfFame(t.Best(), opts.top)
	return err
}

// printHallOfFame writes the top entries as a table to stderr.
func printHallOfFame(entries []evolution.HallEntry, top int) {
	if len(entries) == 0 || top <= 0 {
		return
	}
	table := uitable.New()
	table.MaxColWidth = 40
	table.Wrap = false
	table.AddRow("Rank", "Genome", "Home", "HomeScore", "GlobalScore", "Tracks", "Generalist")
	for i, e := range entries[:min(top, len(entries))] {
		table.AddRow(i+1, e.Genome, e.HomeTrack,
			fmt.Sprintf("%.3f", e.HomeScore), fmt.Sprintf("%.3f", e.GlobalScore),
			len(e.Evaluations), e.Generalist)
	}
	fmt.Fprintln(os.Stderr, table)
}
