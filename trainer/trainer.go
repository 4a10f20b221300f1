package trainer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pthm-cable/racer/config"
	"github.com/pthm-cable/racer/evolution"
	"github.com/pthm-cable/racer/genome"
	"github.com/pthm-cable/racer/neural"
	"github.com/pthm-cable/racer/storage"
	"github.com/pthm-cable/racer/telemetry"
	"github.com/pthm-cable/racer/track"
)

// bookmarkHistory is the number of generations per track the bookmark
// detector compares against.
const bookmarkHistory = 10

// Options are the collaborators of a Trainer. Every field is optional.
type Options struct {
	EvolutionID string
	Store       storage.Store
	Output      *telemetry.OutputManager
	Metrics     *telemetry.Metrics
	Logger      *slog.Logger
	// Diagnose attaches network diagnostics to the best genome of each
	// single-track generation.
	Diagnose bool
}

// Trainer drives generations through the configured strategy, interleaves
// validation rounds, and publishes each finished generation to telemetry and
// the store.
type Trainer struct {
	cfg        *config.Config
	env        *Env
	id         string
	store      storage.Store
	output     *telemetry.OutputManager
	metrics    *telemetry.Metrics
	main       Runner
	rotating   *Rotating
	validation *Validation
	tickPerf   *telemetry.PerfCollector
	genPerf    *telemetry.PerfCollector
	bookmarks  *telemetry.BookmarkDetector

	pop        *evolution.Population
	generation int

	mu     sync.Mutex
	cancel context.CancelFunc
}

// New creates a trainer for tracks. The strategy comes from
// cfg.Schedule.Strategy.
func New(cfg *config.Config, tracks []*track.Track, rng *rand.Rand, opts Options) (*Trainer, error) {
	env, err := NewEnv(cfg, tracks, rng)
	if err != nil {
		return nil, err
	}
	if opts.Logger != nil {
		env.Logger = opts.Logger
	}

	t := &Trainer{
		cfg:        cfg,
		env:        env,
		id:         opts.EvolutionID,
		store:      opts.Store,
		output:     opts.Output,
		metrics:    opts.Metrics,
		validation: NewValidation(env),
		tickPerf:   telemetry.NewPerfCollector(cfg.Telemetry.PerfWindow),
		genPerf:    telemetry.NewPerfCollector(cfg.Telemetry.PerfWindow),
		bookmarks:  telemetry.NewBookmarkDetector(bookmarkHistory),
	}
	env.Race.Perf = t.tickPerf
	env.Perf = t.genPerf
	if opts.Diagnose {
		env.Diagnostics = neural.NewDiagnostics(env.Race.Topology, cfg.Telemetry.PerfWindow*10)
	}
	if t.id == "" {
		t.id = uuid.NewString()
	}

	switch cfg.Schedule.Strategy {
	case "", "rotating":
		t.rotating = NewRotating(env)
		t.main = t.rotating
	case "composite":
		t.main = NewComposite(env)
	default:
		return nil, fmt.Errorf("unknown strategy %q", cfg.Schedule.Strategy)
	}
	return t, nil
}

// ID returns the evolution id used as the storage key.
func (t *Trainer) ID() string { return t.id }

// Env returns the shared training environment.
func (t *Trainer) Env() *Env { return t.env }

// Population returns the population that will race next.
func (t *Trainer) Population() *evolution.Population { return t.pop }

// Generations returns the number of completed main-strategy generations.
func (t *Trainer) Generations() int { return t.generation }

// Resume restores the latest stored generation and hall of fame of the
// trainer's evolution id, then evolves it into the population to race next.
// It reports false when the store holds nothing for the id.
func (t *Trainer) Resume(ctx context.Context) (bool, error) {
	if t.store == nil {
		return false, nil
	}
	snap, ok, err := t.store.LoadLatestGeneration(ctx, t.id)
	if err != nil || !ok {
		return false, err
	}
	env := t.env

	if hof, ok, err := t.store.LoadHallOfFame(ctx, t.id); err != nil {
		return false, err
	} else if ok {
		if err := env.HallOfFame.Restore(hof, env.Arena); err != nil {
			return false, err
		}
	}
	pop, err := evolution.RestorePopulation(snap, env.Arena)
	if err != nil {
		return false, err
	}

	if t.rotating != nil {
		t.rotating.Seek(pop.Track)
	}
	if !pop.Scored() {
		t.pop = pop
		return true, nil
	}

	sum, err := pop.Summary()
	if err != nil {
		return false, err
	}
	env.History.Add(sum)
	next, _, _, err := env.evolve(pop, pop.Track)
	if err != nil {
		return false, err
	}
	if t.rotating != nil {
		next.Track = t.rotating.Current()
	}
	t.pop = next
	env.Logger.Info("resumed", "evolution", t.id, "epoch", next.Epoch, "track", next.Track, "hof_size", env.HallOfFame.Len())
	return true, nil
}

// Run trains for the given number of generations. On cancellation it
// returns the context error; the last completed generation stays published
// and the population that was racing is discarded.
func (t *Trainer) Run(ctx context.Context, generations int) error {
	ctx, cancel := context.WithCancel(ctx)
	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()
	defer cancel()

	env := t.env
	if t.pop == nil {
		t.pop = env.InitialPopulation(t.cfg.Evolution.PopulationSize)
	}

	for i := 0; i < generations; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := t.validate(ctx); err != nil {
			return err
		}

		start := time.Now()
		t.genPerf.StartTick()
		step, err := t.main.Run(ctx, t.pop)
		if err != nil {
			return err
		}
		t.genPerf.StartPhase(telemetry.PhasePersist)
		t.persist(context.WithoutCancel(ctx), step)
		t.genPerf.EndTick()

		t.publish(step, time.Since(start))
		if err := t.output.WritePerf(telemetry.ToCSV(step.Summary.Epoch, t.tickPerf.Stats(), t.genPerf.Stats())); err != nil {
			env.Logger.Error("failed to write perf", "error", err)
		}

		t.pop = step.Next
		if env.Diagnostics != nil && t.pop.Len() > 0 {
			env.Observe = t.pop.Genomes[0]
		}
		t.sweep()
		t.generation++
	}
	return nil
}

// validate runs a validation round when one is due. Running out of
// candidates is logged and retried at the next interval.
func (t *Trainer) validate(ctx context.Context) error {
	iv := t.cfg.Schedule.ValidationInterval
	if iv <= 0 || t.generation == 0 || t.generation%iv != 0 || t.env.HallOfFame.Len() == 0 {
		return nil
	}
	start := time.Now()
	step, err := t.validation.Run(ctx, t.pop)
	if errors.Is(err, ErrNoCandidates) {
		t.env.Logger.Info("validation skipped", "reason", err.Error())
		return nil
	}
	if err != nil {
		return err
	}
	t.persistHallOfFame(context.WithoutCancel(ctx))
	t.publish(step, time.Since(start))
	return nil
}

// publish writes a finished step to the output directory and metrics.
func (t *Trainer) publish(step *Step, took time.Duration) {
	rec := telemetry.NewGenerationRecord(step.Summary, step.Strategy, string(step.Mode), step.Lineage, t.env.HallOfFame, took)
	rec.Evolution = t.id
	t.metrics.Observe(rec)
	if err := t.output.WriteGeneration(rec); err != nil {
		t.env.Logger.Error("failed to write generation", "error", err)
	}
	if err := t.output.WriteHallOfFame(t.env.HallOfFame); err != nil {
		t.env.Logger.Error("failed to write hall of fame", "error", err)
	}

	if step.Strategy == t.validation.Name() {
		return
	}
	for _, bm := range t.bookmarks.Check(rec) {
		bm.LogBookmark()
		if err := t.output.WriteBookmark(bm); err != nil {
			t.env.Logger.Error("failed to write bookmark", "error", err)
		}
		t.saveSnapshot(step, &bm)
	}
}

// saveSnapshot writes the generation champion next to the other output.
func (t *Trainer) saveSnapshot(step *Step, bm *telemetry.Bookmark) {
	dir := t.output.SnapshotDir()
	if dir == "" {
		return
	}
	snap, err := telemetry.NewSnapshot(t.id, step.Scored, t.env.Arena, bm)
	if err != nil {
		t.env.Logger.Error("failed to build snapshot", "error", err)
		return
	}
	path, err := telemetry.SaveSnapshot(snap, dir)
	if err != nil {
		t.env.Logger.Error("failed to save snapshot", "error", err)
		return
	}
	t.env.Logger.Info("snapshot saved", "path", path, "epoch", snap.Epoch)
}

// persist saves the scored generation and the hall of fame. Failures are
// logged and counted; training continues.
func (t *Trainer) persist(ctx context.Context, step *Step) {
	if t.store == nil {
		return
	}
	snap, err := step.Scored.Snapshot(t.env.Arena)
	if err == nil {
		err = t.store.SaveGeneration(ctx, t.id, snap)
	}
	if err != nil {
		t.persistFailed("save generation", err)
		return
	}
	t.persistHallOfFame(ctx)

	if keep := t.cfg.Storage.KeepHistory; keep > 0 {
		if _, err := t.store.TrimHistory(ctx, t.id, keep); err != nil {
			t.persistFailed("trim history", err)
		}
	}
}

func (t *Trainer) persistHallOfFame(ctx context.Context) {
	if t.store == nil {
		return
	}
	snap, err := t.env.HallOfFame.Snapshot(t.env.Arena)
	if err == nil {
		err = t.store.SaveHallOfFame(ctx, t.id, snap)
	}
	if err != nil {
		t.persistFailed("save hall of fame", err)
	}
}

func (t *Trainer) persistFailed(op string, err error) {
	t.metrics.PersistFailed()
	t.env.Logger.Error("persist failed", "op", op, "evolution", t.id, "error", err)
}

// sweep releases genomes referenced by neither the next population nor the
// hall of fame.
func (t *Trainer) sweep() {
	live := t.env.HallOfFame.Genomes()
	for _, id := range t.pop.Genomes {
		live[id] = struct{}{}
	}
	if n := t.env.Arena.Sweep(live); n > 0 {
		t.env.Logger.Debug("arena sweep", "released", n, "live", t.env.Arena.Len())
	}
}

// Stop cancels a running Run. It is safe to call from another goroutine.
func (t *Trainer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		t.cancel()
	}
}

// Best returns the hall-of-fame entries ranked by global score.
func (t *Trainer) Best() []evolution.HallEntry {
	return t.env.HallOfFame.Pooled()
}

// Genome returns a genome from the arena.
func (t *Trainer) Genome(id genome.ID) *genome.Genome {
	return t.env.Arena.Get(id)
}
