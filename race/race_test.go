package race

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/pthm-cable/racer/components"
	"github.com/pthm-cable/racer/config"
	"github.com/pthm-cable/racer/evolution"
	"github.com/pthm-cable/racer/genome"
	"github.com/pthm-cable/racer/neural"
	"github.com/pthm-cable/racer/telemetry"
	"github.com/pthm-cable/racer/track"
)

func init() {
	config.MustInit("")
}

var testRing = track.RingSpec{RadiusX: 60, RadiusY: 35, Width: 12, Segments: 72, Gates: 24}

func testOptions(t testing.TB) Options {
	t.Helper()
	opts, err := OptionsFromConfig(config.Cfg())
	if err != nil {
		t.Fatal(err)
	}
	return opts
}

func randomEntrants(t testing.TB, opts Options, n int, seed int64) ([]Entrant, *genome.Arena) {
	t.Helper()
	arena := genome.NewArena(opts.Topology.ParamCount())
	rng := rand.New(rand.NewSource(seed))
	ids := make([]genome.ID, n)
	for i := range ids {
		ids[i] = arena.NewRandom(config.Cfg().Neural.InitScale, rng).ID
	}
	entrants, err := Entrants(arena, ids)
	if err != nil {
		t.Fatal(err)
	}
	return entrants, arena
}

func TestOpenLoopNeverCrashes(t *testing.T) {
	opts := testOptions(t)
	opts.Sensors.StaleTicks = 0
	tr, err := track.Open("open", testRing, config.Cfg().Simulation.GridCellSize)
	if err != nil {
		t.Fatal(err)
	}
	entrants, _ := randomEntrants(t, opts, 100, 1)

	r, err := New(tr, entrants, opts)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if err := r.Run(context.Background(), 600); err != nil {
		t.Fatal(err)
	}

	results, err := r.Results()
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 100 {
		t.Fatalf("got %d results, want 100", len(results))
	}

	scores := make([]float64, len(results))
	stats := make([]evolution.Stats, len(results))
	for i, res := range results {
		if res.Status == components.StatusCrashed {
			t.Errorf("vehicle %d crashed on a track with no walls", i)
		}
		if res.Genome != entrants[i].Genome {
			t.Errorf("result %d is genome %d, want %d", i, res.Genome, entrants[i].Genome)
		}
		scores[i], stats[i] = evolution.Score(res.Outcome, opts.Params.TopSpeed, config.Cfg().Scoring)
		if math.IsNaN(scores[i]) {
			t.Errorf("vehicle %d scored NaN", i)
		}
	}

	pop := evolution.NewPopulation(tr.Name, 0, make([]genome.ID, len(results)))
	for i, res := range results {
		pop.Genomes[i] = res.Genome
	}
	if err := pop.SetScores(scores, stats); err != nil {
		t.Fatal(err)
	}
	if _, err := pop.Summary(); err != nil {
		t.Errorf("summary after scoring: %v", err)
	}
}

func TestResultsBeforeRun(t *testing.T) {
	opts := testOptions(t)
	entrants, _ := randomEntrants(t, opts, 3, 2)
	r, err := New(track.Builtin(10)[0], entrants, opts)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Results(); !errors.Is(err, ErrIncomplete) {
		t.Errorf("err = %v, want ErrIncomplete", err)
	}
}

func TestRunCancelled(t *testing.T) {
	opts := testOptions(t)
	entrants, _ := randomEntrants(t, opts, 10, 3)
	r, err := New(track.Builtin(10)[0], entrants, opts)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := r.Run(ctx, 1000); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if r.Done() {
		t.Error("cancelled race reports done")
	}
	if _, err := r.Results(); !errors.Is(err, ErrIncomplete) {
		t.Errorf("results err = %v, want ErrIncomplete", err)
	}
}

func TestNewRejectsBadGenome(t *testing.T) {
	opts := testOptions(t)
	_, err := New(track.Builtin(10)[0], []Entrant{{Genome: 1, Genes: make([]float64, 3)}}, opts)
	if !errors.Is(err, neural.ErrGenomeLength) {
		t.Errorf("err = %v, want ErrGenomeLength", err)
	}

	if _, err := New(track.Builtin(10)[0], nil, opts); !errors.Is(err, ErrNoEntrants) {
		t.Errorf("err = %v, want ErrNoEntrants", err)
	}

	bad := opts
	bad.Topology, err = neural.NewTopology([]int{3, 2}, []string{"tanh"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := New(track.Builtin(10)[0], []Entrant{{Genome: 1, Genes: make([]float64, 8)}}, bad); err == nil {
		t.Error("input width mismatch accepted")
	}
}

func TestRunStopsWhenAllTerminal(t *testing.T) {
	opts := testOptions(t)
	// Full throttle, no steering: every car leaves the start straight into the outer wall.
	genes := make([]float64, opts.Topology.ParamCount())
	genes[len(genes)-1] = 5
	entrants := []Entrant{{Genome: 1, Genes: genes}, {Genome: 2, Genes: genes}}

	r, err := New(track.Builtin(10)[1], entrants, opts)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Run(context.Background(), 5000); err != nil {
		t.Fatal(err)
	}
	if r.Ticks() >= 5000 {
		t.Fatalf("race ran the full budget with no active vehicles")
	}
	results, _ := r.Results()
	for i, res := range results {
		if !res.Crashed {
			t.Errorf("vehicle %d status %v, want crashed", i, res.Status)
		}
	}
}

func TestWorkersMatchSerial(t *testing.T) {
	opts := testOptions(t)
	entrants, _ := randomEntrants(t, opts, 120, 4)
	tr := track.Builtin(10)[0]

	run := func(workers int) []Result {
		o := opts
		o.Workers = workers
		r, err := New(tr, entrants, o)
		if err != nil {
			t.Fatal(err)
		}
		if err := r.Run(context.Background(), 300); err != nil {
			t.Fatal(err)
		}
		res, err := r.Results()
		if err != nil {
			t.Fatal(err)
		}
		return res
	}

	serial, parallel := run(1), run(8)
	for i := range serial {
		if serial[i] != parallel[i] {
			t.Fatalf("vehicle %d: serial %+v parallel %+v", i, serial[i], parallel[i])
		}
	}
}

func TestPerfAndDiagnostics(t *testing.T) {
	opts := testOptions(t)
	entrants, _ := randomEntrants(t, opts, 4, 5)
	opts.Perf = telemetry.NewPerfCollector(16)
	opts.Diagnostics = neural.NewDiagnostics(opts.Topology, 0)
	opts.Observe = entrants[2].Genome

	r, err := New(track.Builtin(10)[0], entrants, opts)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Run(context.Background(), 20); err != nil {
		t.Fatal(err)
	}
	if opts.Diagnostics.Samples() == 0 {
		t.Error("observed network recorded no samples")
	}
	stats := opts.Perf.Stats()
	for _, phase := range []string{telemetry.PhaseDrive, telemetry.PhaseStatus} {
		if _, ok := stats.PhaseAvg[phase]; !ok {
			t.Errorf("%s phase not timed", phase)
		}
	}
}

func BenchmarkRace(b *testing.B) {
	opts := testOptions(b)
	entrants, _ := randomEntrants(b, opts, 100, 6)
	tr := track.Builtin(10)[0]
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		r, err := New(tr, entrants, opts)
		if err != nil {
			b.Fatal(err)
		}
		if err := r.Run(context.Background(), 200); err != nil {
			b.Fatal(err)
		}
		r.Close()
	}
}
