package evolution

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/pthm-cable/racer/config"
	"github.com/pthm-cable/racer/genome"
	"github.com/pthm-cable/racer/neural"
)

// maxParentResamples bounds the search for a second distinct tournament parent.
const maxParentResamples = 10

// Params are the hyperparameters of one evolve step, after mode scaling.
type Params struct {
	EliteRatio                     float64
	HallOfFameEliteRatio           float64
	EliminationEpochs              int
	EliminationRate                float64
	TournamentSize                 int
	BlendRatio                     float64
	HallOfFameSelectionProbability float64
	HiddenRate                     float64
	HiddenSigma                    float64
	OutputRate                     float64
	OutputSigma                    float64
	Clamp                          float64
	InitScale                      float64
}

// ParamsFromConfig reads the evolution section.
func ParamsFromConfig(cfg *config.Config) Params {
	e := cfg.Evolution
	return Params{
		EliteRatio:                     e.EliteRatio,
		HallOfFameEliteRatio:           e.HallOfFameEliteRatio,
		EliminationEpochs:              e.EliminationEpochs,
		EliminationRate:                e.EliminationRate,
		TournamentSize:                 e.Crossover.SelectionTournamentSize,
		BlendRatio:                     e.Crossover.BlendRatio,
		HallOfFameSelectionProbability: e.Crossover.HallOfFameSelectionProbability,
		HiddenRate:                     e.Mutation.HiddenRate,
		HiddenSigma:                    e.Mutation.HiddenSigma,
		OutputRate:                     e.Mutation.OutputRate,
		OutputSigma:                    e.Mutation.OutputSigma,
		Clamp:                          e.Mutation.Clamp,
		InitScale:                      cfg.Neural.InitScale,
	}
}

// Scaled returns p with mutation rates and sigmas multiplied. Rates are capped at 1.
func (p Params) Scaled(m config.ModeConfig) Params {
	p.HiddenRate = math.Min(p.HiddenRate*m.RateScale, 1)
	p.OutputRate = math.Min(p.OutputRate*m.RateScale, 1)
	p.HiddenSigma *= m.SigmaScale
	p.OutputSigma *= m.SigmaScale
	return p
}

// Evolver produces the next population from a scored one. Every stochastic
// draw goes through the rng passed to Evolve.
type Evolver struct {
	Arena      *genome.Arena
	Topology   neural.Topology
	HallOfFame *HallOfFame
}

// Evolve ranks pop, copies elites, injects hall-of-fame genomes and fills the
// rest with mutated offspring. pop and the hall of fame are not modified.
// The next population has the same size as pop.
func (e *Evolver) Evolve(pop *Population, params Params, rng *rand.Rand) (*Population, *Genealogy, error) {
	n := pop.Len()
	if n == 0 {
		return nil, nil, fmt.Errorf("evolve epoch %d: %w", pop.Epoch, ErrEmptyPopulation)
	}
	if got, want := e.Arena.GenomeLength(), e.Topology.ParamCount(); got != want {
		return nil, nil, fmt.Errorf("evolve: arena genome length %d, topology needs %d: %w", got, want, neural.ErrGenomeLength)
	}

	ranked := pop.Ranked()
	next := make([]genome.ID, 0, n)
	lineage := &Genealogy{Epoch: pop.Epoch + 1}

	// Elites keep their genes under a fresh id
	elites := min(int(math.Ceil(float64(n)*params.EliteRatio)), n)
	for _, idx := range ranked[:elites] {
		parent := pop.Genomes[idx]
		g, err := e.Arena.Clone(parent, false)
		if err != nil {
			return nil, nil, fmt.Errorf("evolve elite: %w", err)
		}
		next = append(next, g.ID)
		lineage.Record(g.ID, ProvenanceElite, parent)
	}

	// Hall-of-fame injection keeps identity
	hofSize := 0
	minGeneralists := 0
	if e.HallOfFame != nil {
		hofSize = e.HallOfFame.Len()
		minGeneralists = e.HallOfFame.Config().MinGeneralists
	}
	if hofSize > 0 {
		want := min(int(math.Ceil(float64(n)*params.HallOfFameEliteRatio)), n-len(next))
		for _, id := range e.HallOfFame.PickRandom(want, minGeneralists, rng) {
			if e.Arena.Get(id) == nil {
				continue
			}
			next = append(next, id)
			lineage.Record(id, ProvenanceHallOfFame)
		}
	}

	eliminationEpoch := params.EliminationEpochs > 0 && pop.Epoch > 0 && pop.Epoch%params.EliminationEpochs == 0
	split := e.Topology.OutputLayerOffset()

	for len(next) < n {
		var a, b genome.ID
		prov := ProvenanceOffspring

		switch {
		case hofSize > 0 && rng.Float64() < params.HallOfFameSelectionProbability:
			a = e.HallOfFame.PickRandom(1, 0, rng)[0]
			b = pop.Genomes[tournament(pop, params.TournamentSize, rng)]
		case eliminationEpoch && rng.Float64() < params.EliminationRate:
			a = e.Arena.NewRandom(params.InitScale, rng).ID
			b = pop.Genomes[tournament(pop, params.TournamentSize, rng)]
			prov = ProvenanceRandom
		default:
			a, b = tournamentPair(pop, params.TournamentSize, rng)
		}

		ga, gb := e.Arena.Get(a), e.Arena.Get(b)
		if ga == nil || gb == nil {
			return nil, nil, fmt.Errorf("evolve: parent %d or %d not in arena", a, b)
		}
		child, err := e.Arena.Spawn(genome.CrossoverHybrid(ga.Genes, gb.Genes, params.BlendRatio, rng))
		if err != nil {
			return nil, nil, fmt.Errorf("evolve offspring: %w", err)
		}
		if split > 0 {
			child.Mutate(genome.MutateOptions{Rate: params.HiddenRate, Sigma: params.HiddenSigma, Clamp: params.Clamp, End: split}, rng)
		}
		child.Mutate(genome.MutateOptions{Rate: params.OutputRate, Sigma: params.OutputSigma, Clamp: params.Clamp, Start: split}, rng)

		next = append(next, child.ID)
		lineage.Record(child.ID, prov, a, b)
	}

	return NewPopulation(pop.Track, pop.Epoch+1, next), lineage, nil
}

// tournament returns the index of the best of k uniformly drawn members.
func tournament(pop *Population, k int, rng *rand.Rand) int {
	k = max(k, 1)
	best := rng.Intn(pop.Len())
	for i := 1; i < k; i++ {
		c := rng.Intn(pop.Len())
		if pop.Score(c) > pop.Score(best) {
			best = c
		}
	}
	return best
}

// tournamentPair selects two parents, resampling the second a bounded number
// of times to make it distinct. It proceeds with a duplicate if that fails.
func tournamentPair(pop *Population, k int, rng *rand.Rand) (genome.ID, genome.ID) {
	a := pop.Genomes[tournament(pop, k, rng)]
	b := pop.Genomes[tournament(pop, k, rng)]
	for i := 0; i < maxParentResamples && a == b; i++ {
		b = pop.Genomes[tournament(pop, k, rng)]
	}
	return a, b
}
