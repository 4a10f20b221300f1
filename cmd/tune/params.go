package main

import (
	"math"

	"github.com/pthm-cable/racer/config"
)

// ParamSpec defines a single tunable hyperparameter.
type ParamSpec struct {
	Name    string  // Human-readable name
	Path    string  // Config path for logging
	Min     float64 // Lower bound
	Max     float64 // Upper bound
	Default float64 // Default value
	Integer bool    // Rounded when applied
}

// ParamVector holds the set of all tunable hyperparameters.
type ParamVector struct {
	Specs []ParamSpec
}

// NewParamVector creates the standard set of evolution hyperparameters.
func NewParamVector() *ParamVector {
	return &ParamVector{
		Specs: []ParamSpec{
			// Selection
			{Name: "elite_ratio", Path: "evolution.elite_ratio", Min: 0.01, Max: 0.2, Default: 0.05},
			{Name: "hof_elite_ratio", Path: "evolution.hall_of_fame_elite_ratio", Min: 0, Max: 0.1, Default: 0.03},
			{Name: "elimination_rate", Path: "evolution.elimination_rate", Min: 0, Max: 0.3, Default: 0.05},
			{Name: "tournament_size", Path: "evolution.crossover.selection_tournament_size", Min: 2, Max: 10, Default: 4, Integer: true},
			// Crossover
			{Name: "blend_ratio", Path: "evolution.crossover.blend_ratio", Min: 0, Max: 1, Default: 0.5},
			{Name: "hof_selection_prob", Path: "evolution.crossover.hall_of_fame_selection_probability", Min: 0, Max: 0.4, Default: 0.1},
			// Mutation
			{Name: "hidden_rate", Path: "evolution.mutation.hidden_rate", Min: 0.005, Max: 0.3, Default: 0.05},
			{Name: "hidden_sigma", Path: "evolution.mutation.hidden_sigma", Min: 0.01, Max: 0.6, Default: 0.1},
			{Name: "output_rate", Path: "evolution.mutation.output_rate", Min: 0.01, Max: 0.5, Default: 0.15},
			{Name: "output_sigma", Path: "evolution.mutation.output_sigma", Min: 0.02, Max: 1.0, Default: 0.25},
		},
	}
}

// Dim returns the number of parameters.
func (pv *ParamVector) Dim() int {
	return len(pv.Specs)
}

// DefaultVector returns the default parameter values as a slice.
func (pv *ParamVector) DefaultVector() []float64 {
	v := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		v[i] = spec.Default
	}
	return v
}

// Normalize converts raw parameter values to [0,1] range.
func (pv *ParamVector) Normalize(raw []float64) []float64 {
	normalized := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		normalized[i] = (raw[i] - spec.Min) / (spec.Max - spec.Min)
	}
	return normalized
}

// Denormalize converts [0,1] values back to raw parameter values.
func (pv *ParamVector) Denormalize(normalized []float64) []float64 {
	raw := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		raw[i] = spec.Min + normalized[i]*(spec.Max-spec.Min)
	}
	return raw
}

// Clamp ensures all values are within bounds.
func (pv *ParamVector) Clamp(v []float64) []float64 {
	clamped := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		clamped[i] = math.Max(spec.Min, math.Min(spec.Max, v[i]))
		if spec.Integer {
			clamped[i] = math.Round(clamped[i])
		}
	}
	return clamped
}

// ApplyToConfig writes parameter values into cfg. Order matches Specs.
func (pv *ParamVector) ApplyToConfig(cfg *config.Config, values []float64) {
	c := pv.Clamp(values)
	e := &cfg.Evolution
	e.EliteRatio = c[0]
	e.HallOfFameEliteRatio = c[1]
	e.EliminationRate = c[2]
	e.Crossover.SelectionTournamentSize = int(c[3])
	e.Crossover.BlendRatio = c[4]
	e.Crossover.HallOfFameSelectionProbability = c[5]
	e.Mutation.HiddenRate = c[6]
	e.Mutation.HiddenSigma = c[7]
	e.Mutation.OutputRate = c[8]
	e.Mutation.OutputSigma = c[9]
}

// ExtractFromConfig reads the current parameter values from cfg.
func (pv *ParamVector) ExtractFromConfig(cfg *config.Config) []float64 {
	e := cfg.Evolution
	return []float64{
		e.EliteRatio,
		e.HallOfFameEliteRatio,
		e.EliminationRate,
		float64(e.Crossover.SelectionTournamentSize),
		e.Crossover.BlendRatio,
		e.Crossover.HallOfFameSelectionProbability,
		e.Mutation.HiddenRate,
		e.Mutation.HiddenSigma,
		e.Mutation.OutputRate,
		e.Mutation.OutputSigma,
	}
}
