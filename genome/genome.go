// Package genome provides fixed-length real-valued genomes, their variation
// operators, an id-keyed arena, and a compact quantized wire format.
package genome

import (
	"fmt"
	"math"
	"math/rand"
)

// ID identifies a genome within an Arena.
type ID uint64

// Genome is a flat parameter vector encoding one network's weights and biases.
// Genes are only mutated before the genome is first evaluated; after that the
// genome is shared by id and treated as immutable.
type Genome struct {
	ID    ID
	Alias string
	Genes []float64
}

// Len returns the number of genes.
func (g *Genome) Len() int {
	return len(g.Genes)
}

// Randomize sets every gene uniformly in [-scale, scale].
func (g *Genome) Randomize(scale float64, rng *rand.Rand) {
	for i := range g.Genes {
		g.Genes[i] = (rng.Float64()*2 - 1) * scale
	}
}

// Clone creates a deep copy with the same identity.
func (g *Genome) Clone() *Genome {
	genes := make([]float64, len(g.Genes))
	copy(genes, g.Genes)
	return &Genome{ID: g.ID, Alias: g.Alias, Genes: genes}
}

// MutateOptions controls Mutate.
// Start and End bound the half-open gene range [Start, End); End <= 0 means len(genes).
type MutateOptions struct {
	Rate  float64 // Probability each gene in range is perturbed
	Sigma float64 // Gaussian standard deviation
	Clamp float64 // Clamp mutated genes to [-Clamp, Clamp]; 0 disables
	Start int
	End   int
}

// Mutate perturbs genes in the option range with Gaussian noise.
// Returns the number of genes changed.
func (g *Genome) Mutate(opts MutateOptions, rng *rand.Rand) int {
	start, end := opts.Start, opts.End
	if end <= 0 || end > len(g.Genes) {
		end = len(g.Genes)
	}
	if start < 0 {
		start = 0
	}

	mutated := 0
	for i := start; i < end; i++ {
		if rng.Float64() >= opts.Rate {
			continue
		}
		v := g.Genes[i] + gaussian(rng)*opts.Sigma
		if opts.Clamp > 0 {
			v = clamp(v, -opts.Clamp, opts.Clamp)
		}
		g.Genes[i] = v
		mutated++
	}
	return mutated
}

// gaussian draws a standard normal sample with the Box–Muller transform.
func gaussian(rng *rand.Rand) float64 {
	u1 := rng.Float64()
	for u1 <= math.SmallestNonzeroFloat64 {
		u1 = rng.Float64()
	}
	u2 := rng.Float64()
	return math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func mustSameLength(a, b []float64) {
	if len(a) != len(b) {
		panic(fmt.Sprintf("genome: crossover of mismatched lengths %d and %d", len(a), len(b)))
	}
}

// CrossoverUniform picks each child gene from a or b with equal probability.
func CrossoverUniform(a, b []float64, rng *rand.Rand) []float64 {
	mustSameLength(a, b)
	child := make([]float64, len(a))
	for i := range child {
		if rng.Float64() < 0.5 {
			child[i] = a[i]
		} else {
			child[i] = b[i]
		}
	}
	return child
}

// CrossoverBlend computes alpha·a + (1-alpha)·b for every gene.
func CrossoverBlend(a, b []float64, alpha float64) []float64 {
	mustSameLength(a, b)
	child := make([]float64, len(a))
	for i := range child {
		child[i] = alpha*a[i] + (1-alpha)*b[i]
	}
	return child
}

// CrossoverBlendRandom blends every gene with its own uniform alpha in [0, 1).
func CrossoverBlendRandom(a, b []float64, rng *rand.Rand) []float64 {
	mustSameLength(a, b)
	child := make([]float64, len(a))
	for i := range child {
		alpha := rng.Float64()
		child[i] = alpha*a[i] + (1-alpha)*b[i]
	}
	return child
}

// CrossoverHybrid blends (random alpha) with probability blendRatio, otherwise
// falls back to uniform crossover.
func CrossoverHybrid(a, b []float64, blendRatio float64, rng *rand.Rand) []float64 {
	if rng.Float64() < blendRatio {
		return CrossoverBlendRandom(a, b, rng)
	}
	return CrossoverUniform(a, b, rng)
}
