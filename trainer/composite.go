package trainer

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"sort"

	"github.com/sourcegraph/conc/pool"
	"gonum.org/v1/gonum/stat"

	"github.com/pthm-cable/racer/config"
	"github.com/pthm-cable/racer/evolution"
	"github.com/pthm-cable/racer/telemetry"
)

// CompositeTrack is the track name recorded for composite generations.
const CompositeTrack = "composite"

// Composite races every member on every track each generation and evolves
// once on a consolidated score.
type Composite struct {
	env *Env
}

// NewComposite creates the all-tracks strategy.
func NewComposite(env *Env) *Composite {
	return &Composite{env: env}
}

// Name implements Runner.
func (c *Composite) Name() string { return "composite" }

// Run implements Runner.
func (c *Composite) Run(ctx context.Context, pop *evolution.Population) (*Step, error) {
	env := c.env
	n := env.Schedule.Concurrency
	if n <= 0 {
		n = runtime.GOMAXPROCS(0)
	}
	n = min(n, len(env.Tracks))

	// Races share nothing mutable; perf and diagnostics stay single-race only
	opts := env.Race
	opts.Perf, opts.Diagnostics = nil, nil
	if n > 1 {
		opts.Workers = max(runtime.GOMAXPROCS(0)/n, 1)
	}

	env.phase(telemetry.PhaseRace)
	perTrack := make([][]scored, len(env.Tracks))
	p := pool.New().WithContext(ctx).WithCancelOnError().WithFirstError().WithMaxGoroutines(n)
	for i, tr := range env.Tracks {
		p.Go(func(ctx context.Context) error {
			res, err := env.raceTrack(ctx, tr, pop.Genomes, opts)
			if err != nil {
				return fmt.Errorf("composite %s: %w", tr.Name, err)
			}
			perTrack[i] = res
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}

	env.phase(telemetry.PhaseScore)
	raced := &evolution.Population{ID: pop.ID, Track: CompositeTrack, Epoch: pop.Epoch, Genomes: pop.Genomes}
	scores := make([]float64, pop.Len())
	stats := make([]evolution.Stats, pop.Len())
	trackScores := make([]float64, len(env.Tracks))
	finished := make([]bool, len(env.Tracks))
	memberStats := make([]evolution.Stats, len(env.Tracks))
	for m := range pop.Genomes {
		for t := range env.Tracks {
			r := perTrack[t][m]
			trackScores[t], finished[t], memberStats[t] = r.score, r.stats.Finished, r.stats
		}
		scores[m] = CompositeScore(trackScores, finished, env.Schedule)
		stats[m] = mergeStats(memberStats, env.Schedule)
	}
	if err := raced.SetScores(scores, stats); err != nil {
		return nil, err
	}
	sum, err := raced.Summary()
	if err != nil {
		return nil, err
	}

	env.phase(telemetry.PhaseArchive)
	archived := 0
	for t, tr := range env.Tracks {
		archived += env.archive(tr.Name, pop.Genomes, perTrack[t])
	}
	env.History.Add(sum)

	env.phase(telemetry.PhaseEvolve)
	next, lineage, mode, err := env.evolve(raced, CompositeTrack)
	if err != nil {
		return nil, err
	}
	env.Logger.Info("generation", slog.Any("summary", sum), "mode", string(mode), "tracks", len(env.Tracks))

	return &Step{
		Strategy: c.Name(),
		Track:    CompositeTrack,
		Mode:     mode,
		Scored:   raced,
		Summary:  sum,
		Next:     next,
		Lineage:  lineage,
		Archived: archived,
	}, nil
}

// CompositeScore blends the mean of the worst WorstFraction of per-track
// scores with the overall mean, then subtracts IncompletePenalty times the
// fraction of tracks not finished.
func CompositeScore(scores []float64, finished []bool, cfg config.ScheduleConfig) float64 {
	if len(scores) == 0 {
		return 0
	}
	sorted := append([]float64(nil), scores...)
	sort.Float64s(sorted)
	k := min(max(int(math.Ceil(float64(len(sorted))*cfg.WorstFraction)), 1), len(sorted))

	worst := stat.Mean(sorted[:k], nil)
	overall := stat.Mean(sorted, nil)

	unfinished := 0
	for _, f := range finished {
		if !f {
			unfinished++
		}
	}
	return cfg.WorstBlend*worst + (1-cfg.WorstBlend)*overall -
		cfg.IncompletePenalty*float64(unfinished)/float64(len(scores))
}

// mergeStats combines one member's per-track stats. A member counts as
// finished only when it finished every track.
func mergeStats(per []evolution.Stats, cfg config.ScheduleConfig) evolution.Stats {
	var out evolution.Stats
	if len(per) == 0 {
		return out
	}
	out.Finished = true
	unfinished := 0
	for _, s := range per {
		if !s.Finished {
			out.Finished = false
			unfinished++
		}
		out.Crashed = out.Crashed || s.Crashed
		out.Progress += s.Progress
		out.AvgSpeed += s.AvgSpeed
		out.SpeedRatio += s.SpeedRatio
		out.DistanceScore += s.DistanceScore
		out.SpeedScore += s.SpeedScore
		out.FinishScore += s.FinishScore
		out.Penalty += s.Penalty
		out.Time += s.Time
		out.Distance += s.Distance
	}
	n := float64(len(per))
	out.Progress /= n
	out.AvgSpeed /= n
	out.SpeedRatio /= n
	out.DistanceScore /= n
	out.SpeedScore /= n
	out.FinishScore /= n
	out.Penalty = out.Penalty/n + cfg.IncompletePenalty*float64(unfinished)/n
	return out
}
