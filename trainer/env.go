// Package trainer runs the generational loop: it races populations through
// one of the epoch-runner strategies, archives strong genomes, picks the
// hyperparameter mode and persists snapshots.
package trainer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"

	"gonum.org/v1/gonum/stat"

	"github.com/pthm-cable/racer/config"
	"github.com/pthm-cable/racer/evolution"
	"github.com/pthm-cable/racer/genome"
	"github.com/pthm-cable/racer/neural"
	"github.com/pthm-cable/racer/race"
	"github.com/pthm-cable/racer/telemetry"
	"github.com/pthm-cable/racer/track"
)

// ErrNoCandidates is returned by a validation round with nothing to evaluate.
var ErrNoCandidates = errors.New("no hall of fame validation candidates")

// Env is the state shared by every strategy. Strategies run one at a time
// and mutate the arena and hall of fame only between races.
type Env struct {
	Arena      *genome.Arena
	HallOfFame *evolution.HallOfFame
	Evolver    *evolution.Evolver
	Tracks     []*track.Track
	Race       race.Options
	MaxTicks   int
	Scoring    config.ScoringConfig
	Evolution  evolution.Params
	Schedule   config.ScheduleConfig
	Modes      config.ModesConfig
	History    *History
	RNG        *rand.Rand
	Logger     *slog.Logger

	// Perf times generation phases when set.
	Perf *telemetry.PerfCollector
	// Diagnostics observes the network of Observe during single-track races.
	Diagnostics *neural.Diagnostics
	Observe     genome.ID
}

// NewEnv wires an environment from configuration.
func NewEnv(cfg *config.Config, tracks []*track.Track, rng *rand.Rand) (*Env, error) {
	if len(tracks) == 0 {
		return nil, errors.New("trainer: no tracks")
	}
	opts, err := race.OptionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	arena := genome.NewArena(opts.Topology.ParamCount())
	hof := evolution.NewHallOfFame(cfg.HallOfFame)
	return &Env{
		Arena:      arena,
		HallOfFame: hof,
		Evolver:    &evolution.Evolver{Arena: arena, Topology: opts.Topology, HallOfFame: hof},
		Tracks:     tracks,
		Race:       opts,
		MaxTicks:   cfg.Simulation.MaxTicks,
		Scoring:    cfg.Scoring,
		Evolution:  evolution.ParamsFromConfig(cfg),
		Schedule:   cfg.Schedule,
		Modes:      cfg.Evolution.Modes,
		History:    &History{},
		RNG:        rng,
		Logger:     slog.Default(),
	}, nil
}

// InitialPopulation creates size random genomes for the first track.
func (e *Env) InitialPopulation(size int) *evolution.Population {
	ids := make([]genome.ID, size)
	for i := range ids {
		ids[i] = e.Arena.NewRandom(e.Evolution.InitScale, e.RNG).ID
	}
	return evolution.NewPopulation(e.Tracks[0].Name, 0, ids)
}

// TrackNames returns the names of all tracks in order.
func (e *Env) TrackNames() []string {
	names := make([]string, len(e.Tracks))
	for i, t := range e.Tracks {
		names[i] = t.Name
	}
	return names
}

// trackByName returns the named track or nil.
func (e *Env) trackByName(name string) *track.Track {
	for _, t := range e.Tracks {
		if t.Name == name {
			return t
		}
	}
	return nil
}

func (e *Env) phase(name string) {
	if e.Perf != nil {
		e.Perf.StartPhase(name)
	}
}

// logDiagnostics logs the mean trip rate per layer of the observed network
// and starts a new window.
func (e *Env) logDiagnostics() {
	d := e.Diagnostics
	if d == nil || d.Samples() == 0 {
		return
	}
	attrs := []any{"genome", uint64(e.Observe), "samples", d.Samples()}
	for i, l := range d.Rates() {
		attrs = append(attrs, fmt.Sprintf("layer_%d_%s", i, l.Activation), stat.Mean(l.Rates, nil))
	}
	e.Logger.Debug("network diagnostics", attrs...)
	d.Reset()
}

// scored is one member's result on one track.
type scored struct {
	score float64
	stats evolution.Stats
}

// raceTrack races ids on tr and scores every vehicle. opts overrides the
// environment's race options.
func (e *Env) raceTrack(ctx context.Context, tr *track.Track, ids []genome.ID, opts race.Options) ([]scored, error) {
	entrants, err := race.Entrants(e.Arena, ids)
	if err != nil {
		return nil, err
	}
	r, err := race.New(tr, entrants, opts)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	if err := r.Run(ctx, e.MaxTicks); err != nil {
		return nil, err
	}
	results, err := r.Results()
	if err != nil {
		return nil, err
	}

	out := make([]scored, len(results))
	for i, res := range results {
		out[i].score, out[i].stats = evolution.Score(res.Outcome, opts.Params.TopSpeed, e.Scoring)
	}
	return out, nil
}

// archive offers every member's result on track to the hall of fame.
// Genomes already archived get their best score on track recorded.
func (e *Env) archive(track string, ids []genome.ID, results []scored) (added int) {
	for i, id := range ids {
		if e.HallOfFame.AddCar(track, id, results[i].score, results[i].stats.Finished) {
			added++
		}
	}
	archived := e.HallOfFame.Genomes()
	for i, id := range ids {
		if _, ok := archived[id]; !ok {
			continue
		}
		if prev, ok := e.HallOfFame.Evaluation(id, track); !ok || results[i].score > prev {
			e.HallOfFame.UpdateCar(id, track, results[i].score)
		}
	}
	return added
}

// evolve selects the mode for track and produces the next population.
func (e *Env) evolve(pop *evolution.Population, track string) (*evolution.Population, *evolution.Genealogy, Mode, error) {
	mode := SelectMode(e.History, track, e.Schedule)
	next, lineage, err := e.Evolver.Evolve(pop, mode.Params(e.Evolution, e.Modes), e.RNG)
	if err != nil {
		return nil, nil, mode, fmt.Errorf("evolve epoch %d: %w", pop.Epoch, err)
	}
	return next, lineage, mode, nil
}

// Step is what one strategy run produced.
type Step struct {
	Strategy string
	Track    string
	Mode     Mode
	// Scored is the raced population with scores set.
	Scored  *evolution.Population
	Summary evolution.Summary
	// Next is the population to race next. Validation returns its input.
	Next    *evolution.Population
	Lineage *evolution.Genealogy
	// Archived counts hall-of-fame insertions.
	Archived int
}

// Runner is one epoch-runner strategy.
type Runner interface {
	Name() string
	Run(ctx context.Context, pop *evolution.Population) (*Step, error)
}
