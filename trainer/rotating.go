package trainer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pthm-cable/racer/evolution"
	"github.com/pthm-cable/racer/telemetry"
)

// Rotating races one track per generation. It moves to the next track once
// the completion rate reaches the pass rate and, every ReplayInterval
// generations, replays a random track it already completed.
type Rotating struct {
	env       *Env
	current   int
	completed []bool
	rounds    int
}

// NewRotating starts on the first track.
func NewRotating(env *Env) *Rotating {
	return &Rotating{env: env, completed: make([]bool, len(env.Tracks))}
}

// Name implements Runner.
func (r *Rotating) Name() string { return "rotating" }

// Current returns the name of the track being trained.
func (r *Rotating) Current() string {
	return r.env.Tracks[r.current].Name
}

// Seek moves the rotation to the named track, marking earlier tracks as
// completed. Unknown names are ignored.
func (r *Rotating) Seek(name string) bool {
	for i, t := range r.env.Tracks {
		if t.Name != name {
			continue
		}
		r.current = i
		for j := range r.completed {
			r.completed[j] = j < i
		}
		return true
	}
	return false
}

// pick returns the index of the track to race and whether it is a replay.
func (r *Rotating) pick() (int, bool) {
	iv := r.env.Schedule.ReplayInterval
	if iv <= 0 || r.rounds == 0 || r.rounds%iv != 0 {
		return r.current, false
	}
	var done []int
	for i, c := range r.completed {
		if c && i != r.current {
			done = append(done, i)
		}
	}
	if len(done) == 0 {
		return r.current, false
	}
	return done[r.env.RNG.Intn(len(done))], true
}

// Run implements Runner.
func (r *Rotating) Run(ctx context.Context, pop *evolution.Population) (*Step, error) {
	env := r.env
	idx, replay := r.pick()
	tr := env.Tracks[idx]

	// Race a copy so a cancelled round leaves pop untouched
	raced := &evolution.Population{ID: pop.ID, Track: tr.Name, Epoch: pop.Epoch, Genomes: pop.Genomes}

	env.phase(telemetry.PhaseRace)
	opts := env.Race
	opts.Diagnostics, opts.Observe = env.Diagnostics, env.Observe
	results, err := env.raceTrack(ctx, tr, raced.Genomes, opts)
	if err != nil {
		return nil, fmt.Errorf("rotating %s: %w", tr.Name, err)
	}

	env.phase(telemetry.PhaseScore)
	scores := make([]float64, len(results))
	stats := make([]evolution.Stats, len(results))
	for i, res := range results {
		scores[i], stats[i] = res.score, res.stats
	}
	if err := raced.SetScores(scores, stats); err != nil {
		return nil, err
	}
	sum, err := raced.Summary()
	if err != nil {
		return nil, err
	}

	env.phase(telemetry.PhaseArchive)
	archived := env.archive(tr.Name, raced.Genomes, results)
	env.History.Add(sum)

	env.phase(telemetry.PhaseEvolve)
	next, lineage, mode, err := env.evolve(raced, tr.Name)
	if err != nil {
		return nil, err
	}

	r.rounds++
	if !replay && sum.CompletionRate >= env.Schedule.PassRate {
		r.completed[r.current] = true
		if r.current+1 < len(env.Tracks) {
			r.current++
			env.Logger.Info("track passed", "track", tr.Name, "next", r.Current(), "completion_rate", sum.CompletionRate)
		}
	}
	next.Track = r.Current()

	env.logDiagnostics()
	env.Logger.Info("generation", slog.Any("summary", sum), "mode", string(mode), "replay", replay)

	return &Step{
		Strategy: r.Name(),
		Track:    tr.Name,
		Mode:     mode,
		Scored:   raced,
		Summary:  sum,
		Next:     next,
		Lineage:  lineage,
		Archived: archived,
	}, nil
}
