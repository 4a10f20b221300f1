// Package race simulates one population on one track inside an ECS world
// and reports per-vehicle outcomes once every vehicle is terminal or the
// tick budget runs out.
package race

import (
	"context"
	"errors"
	"fmt"

	"github.com/mlange-42/ark/ecs"

	"github.com/pthm-cable/racer/components"
	"github.com/pthm-cable/racer/config"
	"github.com/pthm-cable/racer/evolution"
	"github.com/pthm-cable/racer/genome"
	"github.com/pthm-cable/racer/neural"
	"github.com/pthm-cable/racer/systems"
	"github.com/pthm-cable/racer/telemetry"
	"github.com/pthm-cable/racer/track"
	"github.com/pthm-cable/racer/vehicle"
)

// ctxCheckInterval is how many ticks pass between cancellation checks.
const ctxCheckInterval = 32

var (
	// ErrIncomplete is returned when results are read before Run finished.
	ErrIncomplete = errors.New("race has not completed")
	// ErrNoEntrants is returned when a race is created without vehicles.
	ErrNoEntrants = errors.New("race has no entrants")
)

// Entrant is one genome entered in a race. Genes are only read.
type Entrant struct {
	Genome genome.ID
	Genes  []float64
}

// Entrants resolves ids against arena in order.
func Entrants(arena *genome.Arena, ids []genome.ID) ([]Entrant, error) {
	out := make([]Entrant, len(ids))
	for i, id := range ids {
		g := arena.Get(id)
		if g == nil {
			return nil, fmt.Errorf("entrant %d: genome %d not in arena", i, id)
		}
		out[i] = Entrant{Genome: id, Genes: g.Genes}
	}
	return out, nil
}

// Options configures a race.
type Options struct {
	Topology neural.Topology
	Params   vehicle.Params
	Sensors  systems.Sensors
	DT       float64
	Workers  int // Drive workers; <= 0 uses GOMAXPROCS

	// Perf times each tick when set. Not shared between concurrent races.
	Perf *telemetry.PerfCollector

	// Diagnostics is attached to the network of Observe when set.
	Diagnostics *neural.Diagnostics
	Observe     genome.ID
}

// OptionsFromConfig builds race options from the loaded configuration.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	topo, err := neural.NewTopology(cfg.Derived.LayerSizes, cfg.Neural.Activations)
	if err != nil {
		return Options{}, fmt.Errorf("race options: %w", err)
	}
	return Options{
		Topology: topo,
		Params:   vehicle.ParamsFromConfig(cfg),
		Sensors:  systems.SensorsFromConfig(cfg),
		DT:       cfg.Simulation.DT,
	}, nil
}

// Result is one vehicle's outcome, in entrant order.
type Result struct {
	Genome genome.ID
	Status components.Status
	evolution.Outcome
}

// Race is one generation's simulation on one track.
type Race struct {
	track    *track.Track
	opts     Options
	world    *ecs.World
	mapper   *ecs.Map5[components.Chassis, components.Radar, components.Pilot, components.Progress, components.Slot]
	entities []ecs.Entity
	system   *systems.DriveSystem
	ticks    int
	done     bool
}

// New spawns one vehicle per entrant at the track start.
// Fails when the topology does not fit the sensors or a genome does not fit the topology.
func New(tr *track.Track, entrants []Entrant, opts Options) (*Race, error) {
	if len(entrants) == 0 {
		return nil, fmt.Errorf("race on %s: %w", tr.Name, ErrNoEntrants)
	}
	if got, want := opts.Topology.Inputs(), opts.Sensors.NumInputs(); got != want {
		return nil, fmt.Errorf("race on %s: network takes %d inputs, sensors produce %d", tr.Name, got, want)
	}
	if opts.Topology.Outputs() < 2 {
		return nil, fmt.Errorf("race on %s: network needs at least 2 outputs, has %d", tr.Name, opts.Topology.Outputs())
	}

	world := ecs.NewWorld()
	drive := systems.Drive{
		Track:   tr,
		Params:  opts.Params,
		Sensors: opts.Sensors,
		DT:      opts.DT,
	}
	r := &Race{
		track: tr,
		opts:  opts,
		world: world,
		mapper: ecs.NewMap5[
			components.Chassis,
			components.Radar,
			components.Pilot,
			components.Progress,
			components.Slot,
		](world),
		entities: make([]ecs.Entity, 0, len(entrants)),
		system:   systems.NewDriveSystem(world, drive, opts.Workers),
	}

	for i, e := range entrants {
		net, err := neural.New(opts.Topology, e.Genes)
		if err != nil {
			return nil, fmt.Errorf("race on %s: entrant %d (genome %d): %w", tr.Name, i, e.Genome, err)
		}
		if opts.Diagnostics != nil && e.Genome == opts.Observe {
			net.Attach(opts.Diagnostics)
		}

		var (
			ch   components.Chassis
			rad  components.Radar
			pil  = components.Pilot{Genome: e.Genome, Net: net}
			prog components.Progress
			slot = components.Slot{Index: i}
		)
		drive.Reset(&ch, &rad, &pil, &prog)
		r.entities = append(r.entities, r.mapper.NewEntity(&ch, &rad, &pil, &prog, &slot))
	}
	return r, nil
}

// Track returns the race track.
func (r *Race) Track() *track.Track {
	return r.track
}

// Ticks returns the number of ticks simulated so far.
func (r *Race) Ticks() int {
	return r.ticks
}

// Run ticks until every vehicle is terminal or maxTicks have elapsed.
// Vehicles still active at the budget count as timed out. On cancellation
// it returns ctx.Err() and results stay unavailable.
func (r *Race) Run(ctx context.Context, maxTicks int) error {
	if r.done {
		return nil
	}
	for r.ticks < maxTicks {
		if r.ticks%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("race on %s stopped at tick %d: %w", r.track.Name, r.ticks, err)
			}
		}

		if r.opts.Perf != nil {
			r.opts.Perf.StartTick()
			r.opts.Perf.StartPhase(telemetry.PhaseDrive)
		}
		r.system.Tick()
		r.ticks++
		if r.opts.Perf != nil {
			r.opts.Perf.StartPhase(telemetry.PhaseStatus)
		}
		allTerminal := r.system.Active() == 0
		if r.opts.Perf != nil {
			r.opts.Perf.EndTick()
		}

		if allTerminal {
			break
		}
	}
	r.done = true
	return nil
}

// Done reports whether Run completed.
func (r *Race) Done() bool {
	return r.done
}

// Results returns one result per entrant in entrant order.
func (r *Race) Results() ([]Result, error) {
	if !r.done {
		return nil, fmt.Errorf("results on %s: %w", r.track.Name, ErrIncomplete)
	}
	gates := r.track.CheckpointCount()
	out := make([]Result, len(r.entities))
	for _, e := range r.entities {
		_, _, pil, prog, slot := r.mapper.Get(e)
		out[slot.Index] = Result{
			Genome: pil.Genome,
			Status: prog.Status,
			Outcome: evolution.Outcome{
				Finished:    prog.Status == components.StatusFinished,
				Crashed:     prog.Status == components.StatusCrashed,
				GatesPassed: prog.Furthest + 1,
				Gates:       gates,
				Ticks:       prog.Ticks,
				Time:        float64(prog.Ticks) * r.opts.DT,
				AvgSpeed:    prog.AvgSpeed(),
				Distance:    prog.Distance,
			},
		}
	}
	return out, nil
}

// Close removes every vehicle entity from the world.
func (r *Race) Close() {
	for _, e := range r.entities {
		if r.world.Alive(e) {
			r.world.RemoveEntity(e)
		}
	}
	r.entities = nil
}
