package main

import (
	"context"
	"math"
	"math/rand"
	"sync"

	"github.com/pthm-cable/racer/config"
	"github.com/pthm-cable/racer/evolution"
	"github.com/pthm-cable/racer/track"
	"github.com/pthm-cable/racer/trainer"
)

// completionWeight scales the final completion rate against the best score.
const completionWeight = 0.5

// tailFraction is the share of trailing generations whose best score counts.
const tailFraction = 0.25

// FitnessEvaluator runs short training sessions and computes fitness.
type FitnessEvaluator struct {
	ctx         context.Context
	params      *ParamVector
	generations int
	seeds       []int64
	baseConfig  *config.Config
	tracks      []*track.Track

	// Best run tracking
	mu             sync.Mutex
	bestFitness    float64
	bestHallOfFame []evolution.HallEntry
	lastCompletion float64 // completion rate from most recent Evaluate call
}

// NewFitnessEvaluator creates a new evaluator.
func NewFitnessEvaluator(ctx context.Context, params *ParamVector, generations int, seeds []int64, baseCfg *config.Config, tracks []*track.Track) *FitnessEvaluator {
	return &FitnessEvaluator{
		ctx:         ctx,
		params:      params,
		generations: generations,
		seeds:       seeds,
		baseConfig:  baseCfg,
		tracks:      tracks,
		bestFitness: math.Inf(1),
	}
}

// BestHallOfFame returns the pooled hall of fame from the best evaluation.
func (fe *FitnessEvaluator) BestHallOfFame() []evolution.HallEntry {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	return fe.bestHallOfFame
}

// LastCompletion returns the completion rate from the most recent evaluation.
func (fe *FitnessEvaluator) LastCompletion() float64 {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	return fe.lastCompletion
}

// seedResult holds the result from one seed evaluation.
type seedResult struct {
	fitness    float64
	completion float64
	hallOfFame []evolution.HallEntry
}

// Evaluate computes fitness for a parameter vector (lower = better).
// A failed or cancelled run scores +Inf.
func (fe *FitnessEvaluator) Evaluate(x []float64) float64 {
	cfg := fe.copyConfig()
	fe.params.ApplyToConfig(cfg, x)

	// Run all seeds in parallel
	results := make([]seedResult, len(fe.seeds))
	var wg sync.WaitGroup
	for i, seed := range fe.seeds {
		wg.Add(1)
		go func(idx int, s int64) {
			defer wg.Done()
			results[idx] = fe.runTraining(cfg, s)
		}(i, seed)
	}
	wg.Wait()

	// Aggregate results
	var totalFitness, totalCompletion float64
	bestSeedFitness := math.Inf(1)
	var bestSeedHallOfFame []evolution.HallEntry
	for _, r := range results {
		totalFitness += r.fitness
		totalCompletion += r.completion
		if r.fitness < bestSeedFitness {
			bestSeedFitness = r.fitness
			bestSeedHallOfFame = r.hallOfFame
		}
	}
	n := float64(len(fe.seeds))
	avgFitness := totalFitness / n

	fe.mu.Lock()
	if avgFitness < fe.bestFitness {
		fe.bestFitness = avgFitness
		fe.bestHallOfFame = bestSeedHallOfFame
	}
	fe.lastCompletion = totalCompletion / n
	fe.mu.Unlock()

	return avgFitness
}

// runTraining trains one seed for the configured number of generations.
func (fe *FitnessEvaluator) runTraining(cfg *config.Config, seed int64) seedResult {
	t, err := trainer.New(cfg, fe.tracks, rand.New(rand.NewSource(seed)), trainer.Options{})
	if err != nil {
		return seedResult{fitness: math.Inf(1)}
	}
	if err := t.Run(fe.ctx, fe.generations); err != nil {
		return seedResult{fitness: math.Inf(1)}
	}
	summaries := t.Env().History.All()
	return seedResult{
		fitness:    computeFitness(summaries),
		completion: lastCompletion(summaries),
		hallOfFame: t.Best(),
	}
}

// copyConfig returns a copy of the base config. Slices are shared and only read.
func (fe *FitnessEvaluator) copyConfig() *config.Config {
	cfg := *fe.baseConfig
	return &cfg
}

// computeFitness is -(best score over the trailing generations +
// completionWeight × final completion rate).
func computeFitness(summaries []evolution.Summary) float64 {
	if len(summaries) == 0 {
		return math.Inf(1)
	}
	tail := max(int(math.Ceil(float64(len(summaries))*tailFraction)), 1)
	best := math.Inf(-1)
	for _, s := range summaries[len(summaries)-tail:] {
		best = math.Max(best, s.Max)
	}
	return -(best + completionWeight*lastCompletion(summaries))
}

func lastCompletion(summaries []evolution.Summary) float64 {
	if len(summaries) == 0 {
		return 0
	}
	return summaries[len(summaries)-1].CompletionRate
}
