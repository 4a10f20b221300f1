package trainer

import (
	"context"
	"fmt"

	"github.com/pthm-cable/racer/evolution"
	"github.com/pthm-cable/racer/telemetry"
)

// Validation races hall-of-fame genomes on the track they have been
// evaluated on least and records the scores. The main population is
// returned unchanged.
type Validation struct {
	env *Env
}

// NewValidation creates the validation strategy.
func NewValidation(env *Env) *Validation {
	return &Validation{env: env}
}

// Name implements Runner.
func (v *Validation) Name() string { return "validation" }

// Run implements Runner. It returns ErrNoCandidates when every archived
// genome has been evaluated on every track.
func (v *Validation) Run(ctx context.Context, pop *evolution.Population) (*Step, error) {
	env := v.env
	name, ids := env.HallOfFame.EvaluationCandidates(env.TrackNames())
	if len(ids) == 0 {
		return nil, ErrNoCandidates
	}
	tr := env.trackByName(name)
	if tr == nil {
		return nil, fmt.Errorf("validation: unknown track %q", name)
	}

	env.phase(telemetry.PhaseRace)
	opts := env.Race
	opts.Diagnostics = nil
	results, err := env.raceTrack(ctx, tr, ids, opts)
	if err != nil {
		return nil, fmt.Errorf("validation %s: %w", name, err)
	}

	env.phase(telemetry.PhaseScore)
	candidates := evolution.NewPopulation(name, pop.Epoch, ids)
	scores := make([]float64, len(results))
	stats := make([]evolution.Stats, len(results))
	for i, res := range results {
		scores[i], stats[i] = res.score, res.stats
	}
	if err := candidates.SetScores(scores, stats); err != nil {
		return nil, err
	}
	sum, err := candidates.Summary()
	if err != nil {
		return nil, err
	}

	env.phase(telemetry.PhaseArchive)
	for i, id := range ids {
		env.HallOfFame.UpdateCar(id, name, scores[i])
	}
	env.Logger.Info("validation", "track", name, "candidates", len(ids),
		"completion_rate", sum.CompletionRate, "generalists", countGeneralists(env.HallOfFame))

	return &Step{
		Strategy: v.Name(),
		Track:    name,
		Mode:     ModeStandard,
		Scored:   candidates,
		Summary:  sum,
		Next:     pop,
	}, nil
}

func countGeneralists(h *evolution.HallOfFame) int {
	n := 0
	for _, e := range h.Pooled() {
		if e.Generalist {
			n++
		}
	}
	return n
}
