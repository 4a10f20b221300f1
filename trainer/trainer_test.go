package trainer

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm-cable/racer/config"
	"github.com/pthm-cable/racer/evolution"
	"github.com/pthm-cable/racer/storage"
	"github.com/pthm-cable/racer/telemetry"
	"github.com/pthm-cable/racer/track"
)

func init() {
	config.MustInit("")
}

// testConfig is a small, fast configuration.
func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Evolution.PopulationSize = 12
	cfg.Simulation.MaxTicks = 120
	cfg.Schedule.ValidationInterval = 0
	cfg.Schedule.ReplayInterval = 0
	cfg.Telemetry.PerfWindow = 8
	return cfg
}

func testTracks(t testing.TB, cfg *config.Config) []*track.Track {
	t.Helper()
	specs := []track.RingSpec{
		{RadiusX: 60, RadiusY: 35, Width: 12, Segments: 48, Gates: 12},
		{RadiusX: 45, RadiusY: 45, Width: 12, Segments: 48, Gates: 10},
		{RadiusX: 80, RadiusY: 30, Width: 14, Segments: 48, Gates: 16},
	}
	names := []string{"oval", "circle", "stretch"}
	out := make([]*track.Track, len(specs))
	for i, s := range specs {
		tr, err := track.Open(names[i], s, cfg.Simulation.GridCellSize)
		require.NoError(t, err)
		out[i] = tr
	}
	return out
}

func testEnv(t testing.TB, cfg *config.Config) *Env {
	t.Helper()
	env, err := NewEnv(cfg, testTracks(t, cfg), rand.New(rand.NewSource(7)))
	require.NoError(t, err)
	return env
}

func TestCompositeScore(t *testing.T) {
	cfg := config.ScheduleConfig{WorstFraction: 0.25, WorstBlend: 0.5, IncompletePenalty: 0.25}

	got := CompositeScore([]float64{1.2, 0.4, 0.8, 1.0}, []bool{true, false, false, true}, cfg)
	// worst 0.4, overall 0.85, half the tracks unfinished
	assert.InDelta(t, 0.5*0.4+0.5*0.85-0.25*0.5, got, 1e-12)

	cfg.WorstFraction = 0.5
	got = CompositeScore([]float64{1.2, 0.4, 0.8, 1.0}, []bool{true, true, true, true}, cfg)
	assert.InDelta(t, 0.5*0.6+0.5*0.85, got, 1e-12)

	cfg.WorstFraction = 0
	got = CompositeScore([]float64{2, 1}, []bool{true, true}, cfg)
	assert.InDelta(t, 0.5*1+0.5*1.5, got, 1e-12, "at least one worst track")

	assert.Zero(t, CompositeScore(nil, nil, cfg))
}

func TestMergeStats(t *testing.T) {
	cfg := config.ScheduleConfig{IncompletePenalty: 0.2}
	got := mergeStats([]evolution.Stats{
		{Finished: true, Progress: 1, AvgSpeed: 10, Time: 20},
		{Finished: false, Crashed: true, Progress: 0.5, AvgSpeed: 6, Time: 5},
	}, cfg)
	assert.False(t, got.Finished)
	assert.True(t, got.Crashed)
	assert.InDelta(t, 0.75, got.Progress, 1e-12)
	assert.InDelta(t, 8, got.AvgSpeed, 1e-12)
	assert.InDelta(t, 25, got.Time, 1e-12)
	assert.InDelta(t, 0.1, got.Penalty, 1e-12)
}

func TestRotatingGeneration(t *testing.T) {
	cfg := testConfig()
	env := testEnv(t, cfg)
	pop := env.InitialPopulation(cfg.Evolution.PopulationSize)

	r := NewRotating(env)
	step, err := r.Run(context.Background(), pop)
	require.NoError(t, err)

	assert.Equal(t, "rotating", step.Strategy)
	assert.Equal(t, "oval", step.Track)
	assert.True(t, step.Scored.Scored())
	assert.False(t, pop.Scored(), "input population is not modified")
	assert.Equal(t, pop.Len(), step.Next.Len())
	assert.Equal(t, pop.Epoch+1, step.Next.Epoch)
	assert.Equal(t, 1, env.History.Len())
	assert.Equal(t, step.Summary.Track, "oval")
	assert.False(t, math.IsNaN(step.Summary.Mean))
}

func TestRotatingAdvancesAndReplays(t *testing.T) {
	cfg := testConfig()
	cfg.Schedule.PassRate = 0
	cfg.Schedule.ReplayInterval = 2
	env := testEnv(t, cfg)
	r := NewRotating(env)
	pop := env.InitialPopulation(cfg.Evolution.PopulationSize)

	var raced []string
	for i := 0; i < 4; i++ {
		step, err := r.Run(context.Background(), pop)
		require.NoError(t, err)
		raced = append(raced, step.Track)
		pop = step.Next
	}

	// Rounds 0 and 1 advance; round 2 replays a completed track; round 3
	// resumes on the current one.
	assert.Equal(t, "oval", raced[0])
	assert.Equal(t, "circle", raced[1])
	assert.Contains(t, []string{"oval", "circle"}, raced[2])
	assert.Equal(t, "stretch", raced[3])
	assert.Equal(t, "stretch", r.Current())
	assert.Equal(t, "stretch", pop.Track)
}

func TestRotatingSeek(t *testing.T) {
	env := testEnv(t, testConfig())
	r := NewRotating(env)
	assert.True(t, r.Seek("stretch"))
	assert.Equal(t, "stretch", r.Current())
	assert.Equal(t, []bool{true, true, false}, r.completed)
	assert.False(t, r.Seek("missing"))
}

func TestCompositeGeneration(t *testing.T) {
	cfg := testConfig()
	cfg.Schedule.Concurrency = 2
	env := testEnv(t, cfg)
	pop := env.InitialPopulation(cfg.Evolution.PopulationSize)

	step, err := NewComposite(env).Run(context.Background(), pop)
	require.NoError(t, err)
	assert.Equal(t, CompositeTrack, step.Track)
	assert.Equal(t, CompositeTrack, step.Summary.Track)
	assert.Equal(t, pop.Len(), step.Next.Len())
	assert.Len(t, env.History.Summaries(CompositeTrack), 1)
}

func TestCompositeCancelled(t *testing.T) {
	cfg := testConfig()
	env := testEnv(t, cfg)
	pop := env.InitialPopulation(cfg.Evolution.PopulationSize)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewComposite(env).Run(ctx, pop)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, env.History.Len())
}

func TestValidationNoCandidates(t *testing.T) {
	env := testEnv(t, testConfig())
	pop := env.InitialPopulation(4)
	_, err := NewValidation(env).Run(context.Background(), pop)
	assert.ErrorIs(t, err, ErrNoCandidates)
}

func TestValidationEvaluatesArchive(t *testing.T) {
	cfg := testConfig()
	env := testEnv(t, cfg)
	pop := env.InitialPopulation(6)
	for i, id := range pop.Genomes[:3] {
		require.True(t, env.HallOfFame.AddCar("oval", id, 1.1+float64(i)*0.1, true))
	}

	step, err := NewValidation(env).Run(context.Background(), pop)
	require.NoError(t, err)
	assert.Same(t, pop, step.Next)
	assert.Nil(t, step.Lineage)
	assert.Equal(t, "circle", step.Track, "least evaluated track, first in order")
	for _, id := range pop.Genomes[:3] {
		_, ok := env.HallOfFame.Evaluation(id, "circle")
		assert.True(t, ok, "genome %d evaluated", id)
	}
	assert.Zero(t, env.History.Len(), "validation does not feed stagnation history")
}

func TestTrainerRunAndResume(t *testing.T) {
	cfg := testConfig()
	cfg.Storage.KeepHistory = 2
	store := storage.NewMemoryStore()
	require.NoError(t, store.Init(context.Background()))

	tr, err := New(cfg, testTracks(t, cfg), rand.New(rand.NewSource(3)), Options{Store: store})
	require.NoError(t, err)
	require.NoError(t, tr.Run(context.Background(), 3))
	assert.Equal(t, 3, tr.Generations())
	assert.Equal(t, 3, tr.Population().Epoch)

	snap, ok, err := store.LoadLatestGeneration(context.Background(), tr.ID())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, snap.Epoch)

	resumed, err := New(cfg, testTracks(t, cfg), rand.New(rand.NewSource(4)), Options{Store: store, EvolutionID: tr.ID()})
	require.NoError(t, err)
	ok, err = resumed.Resume(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3, resumed.Population().Epoch)
	assert.Equal(t, cfg.Evolution.PopulationSize, resumed.Population().Len())
	assert.Equal(t, tr.Env().HallOfFame.Len(), resumed.Env().HallOfFame.Len())
	require.NoError(t, resumed.Run(context.Background(), 1))
	assert.Equal(t, 4, resumed.Population().Epoch)
}

func TestTrainerResumeEmptyStore(t *testing.T) {
	cfg := testConfig()
	store := storage.NewMemoryStore()
	require.NoError(t, store.Init(context.Background()))
	tr, err := New(cfg, testTracks(t, cfg), rand.New(rand.NewSource(3)), Options{Store: store})
	require.NoError(t, err)
	ok, err := tr.Resume(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTrainerStopKeepsPopulation(t *testing.T) {
	cfg := testConfig()
	tr, err := New(cfg, testTracks(t, cfg), rand.New(rand.NewSource(3)), Options{})
	require.NoError(t, err)
	require.NoError(t, tr.Run(context.Background(), 1))
	before := tr.Population()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = tr.Run(ctx, 5)
	require.ErrorIs(t, err, context.Canceled)
	assert.Same(t, before, tr.Population())
	assert.Equal(t, 1, tr.Generations())

	tr.Stop()
}

func TestTrainerUnknownStrategy(t *testing.T) {
	cfg := testConfig()
	cfg.Schedule.Strategy = "random"
	_, err := New(cfg, testTracks(t, cfg), rand.New(rand.NewSource(3)), Options{})
	assert.Error(t, err)
}

// failingStore rejects every generation write.
type failingStore struct {
	*storage.MemoryStore
}

func (failingStore) SaveGeneration(context.Context, string, evolution.GenerationSnapshot) error {
	return errors.New("disk full")
}

func TestTrainerPersistFailureContinues(t *testing.T) {
	cfg := testConfig()
	store := failingStore{storage.NewMemoryStore()}
	require.NoError(t, store.Init(context.Background()))
	reg := prometheus.NewRegistry()

	tr, err := New(cfg, testTracks(t, cfg), rand.New(rand.NewSource(3)), Options{
		Store:   store,
		Metrics: telemetry.NewMetrics(reg),
	})
	require.NoError(t, err)
	require.NoError(t, tr.Run(context.Background(), 2))
	assert.Equal(t, 2, tr.Generations())

	want := `
# HELP racer_persist_errors_total Failed snapshot writes.
# TYPE racer_persist_errors_total counter
racer_persist_errors_total 2
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(want), "racer_persist_errors_total"))
}

func TestTrainerWritesOutput(t *testing.T) {
	cfg := testConfig()
	cfg.Schedule.ValidationInterval = 1
	cfg.HallOfFame.FinishThreshold = 0
	out, err := telemetry.NewOutputManager(t.TempDir(), false)
	require.NoError(t, err)

	tr, err := New(cfg, testTracks(t, cfg), rand.New(rand.NewSource(5)), Options{Output: out, Diagnose: true})
	require.NoError(t, err)
	require.NoError(t, tr.Run(context.Background(), 2))
	require.NoError(t, out.Close())

	var main int
	for _, r := range out.History() {
		if r.Strategy == "rotating" {
			main++
		}
		assert.Equal(t, tr.ID(), r.Evolution)
	}
	assert.Equal(t, 2, main)
}
