package genome

import (
	"errors"
	"math"
	"math/rand"
	"testing"
)

func TestRandomizeBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	arena := NewArena(500)
	g := arena.NewRandom(0.5, rng)

	for i, v := range g.Genes {
		if v < -0.5 || v > 0.5 {
			t.Fatalf("gene %d = %v outside [-0.5, 0.5]", i, v)
		}
	}
}

func TestMutateClamp(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	arena := NewArena(1000)
	g := arena.NewRandom(1, rng)

	n := g.Mutate(MutateOptions{Rate: 1.0, Sigma: 5.0, Clamp: 0.75}, rng)
	if n != g.Len() {
		t.Errorf("rate 1.0 mutated %d genes, want %d", n, g.Len())
	}
	for i, v := range g.Genes {
		if v < -0.75 || v > 0.75 {
			t.Fatalf("gene %d = %v outside clamp", i, v)
		}
	}
}

func TestMutateRange(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	arena := NewArena(100)
	g := arena.NewRandom(1, rng)
	before := g.Clone()

	g.Mutate(MutateOptions{Rate: 1.0, Sigma: 0.3, Start: 40, End: 60}, rng)

	for i := range g.Genes {
		inRange := i >= 40 && i < 60
		changed := g.Genes[i] != before.Genes[i]
		if !inRange && changed {
			t.Errorf("gene %d outside range changed", i)
		}
		if inRange && !changed {
			t.Errorf("gene %d inside range unchanged at rate 1.0", i)
		}
	}
}

func TestMutateZeroRate(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	arena := NewArena(64)
	g := arena.NewRandom(1, rng)
	before := g.Clone()

	if n := g.Mutate(MutateOptions{Rate: 0, Sigma: 1}, rng); n != 0 {
		t.Errorf("rate 0 mutated %d genes", n)
	}
	for i := range g.Genes {
		if g.Genes[i] != before.Genes[i] {
			t.Fatalf("gene %d changed at rate 0", i)
		}
	}
}

func TestGaussianMoments(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	const n = 200000
	var sum, sumSq float64
	for i := 0; i < n; i++ {
		v := gaussian(rng)
		sum += v
		sumSq += v * v
	}
	mean := sum / n
	std := math.Sqrt(sumSq/n - mean*mean)
	if math.Abs(mean) > 0.01 {
		t.Errorf("mean = %v, want ~0", mean)
	}
	if math.Abs(std-1) > 0.01 {
		t.Errorf("std = %v, want ~1", std)
	}
}

func TestCrossoverUniformPicksParentGenes(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	arena := NewArena(256)
	a := arena.NewRandom(1, rng)
	b := arena.NewRandom(1, rng)

	child := CrossoverUniform(a.Genes, b.Genes, rng)
	fromA := 0
	for i, v := range child {
		if v != a.Genes[i] && v != b.Genes[i] {
			t.Fatalf("child[%d] = %v is neither parent gene", i, v)
		}
		if v == a.Genes[i] {
			fromA++
		}
	}
	if fromA == 0 || fromA == len(child) {
		t.Errorf("uniform crossover took %d/%d genes from a", fromA, len(child))
	}
}

func TestCrossoverBlendBetweenParents(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	arena := NewArena(128)
	a := arena.NewRandom(2, rng)
	b := arena.NewRandom(2, rng)

	for _, alpha := range []float64{0, 0.25, 0.5, 1} {
		child := CrossoverBlend(a.Genes, b.Genes, alpha)
		for i, v := range child {
			lo, hi := math.Min(a.Genes[i], b.Genes[i]), math.Max(a.Genes[i], b.Genes[i])
			if v < lo-1e-12 || v > hi+1e-12 {
				t.Fatalf("alpha %v: child[%d] = %v outside [%v, %v]", alpha, i, v, lo, hi)
			}
		}
	}

	child := CrossoverBlendRandom(a.Genes, b.Genes, rng)
	for i, v := range child {
		lo, hi := math.Min(a.Genes[i], b.Genes[i]), math.Max(a.Genes[i], b.Genes[i])
		if v < lo-1e-12 || v > hi+1e-12 {
			t.Fatalf("random alpha: child[%d] = %v outside [%v, %v]", i, v, lo, hi)
		}
	}
}

func TestCrossoverMismatchPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for mismatched lengths")
		}
	}()
	CrossoverUniform(make([]float64, 3), make([]float64, 4), rand.New(rand.NewSource(1)))
}

func TestQuantizeRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	arena := NewArena(300)

	for trial := 0; trial < 20; trial++ {
		g := arena.NewRandom(float64(trial+1)*0.7, rng)
		q := Quantize(g)
		if q.Length != g.Len() || len(q.Genes) != g.Len() {
			t.Fatalf("quantized length %d/%d, want %d", q.Length, len(q.Genes), g.Len())
		}

		back, err := Dequantize(q)
		if err != nil {
			t.Fatalf("Dequantize: %v", err)
		}
		tol := q.Scale / quantMax * 1.0001
		for i := range g.Genes {
			if d := math.Abs(back.Genes[i] - g.Genes[i]); d > tol {
				t.Fatalf("trial %d gene %d differs by %v > %v", trial, i, d, tol)
			}
		}
	}
}

func TestQuantizeZeroGenome(t *testing.T) {
	arena := NewArena(10)
	q := Quantize(arena.New())
	if q.Scale != 1 {
		t.Errorf("zero genome scale = %v, want 1", q.Scale)
	}
	back, err := Dequantize(q)
	if err != nil {
		t.Fatalf("Dequantize: %v", err)
	}
	for i, v := range back.Genes {
		if v != 0 {
			t.Errorf("gene %d = %v, want 0", i, v)
		}
	}
}

func TestDequantizeRejectsBadScale(t *testing.T) {
	tests := []struct {
		name  string
		scale float64
	}{
		{"zero", 0},
		{"negative", -1},
		{"nan", math.NaN()},
		{"inf", math.Inf(1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Dequantize(Quantized{ID: 1, Scale: tt.scale, Length: 1, Genes: []int16{5}})
			if !errors.Is(err, ErrInvalidScale) {
				t.Errorf("err = %v, want ErrInvalidScale", err)
			}
		})
	}
}

func TestDequantizeRejectsLengthMismatch(t *testing.T) {
	_, err := Dequantize(Quantized{ID: 1, Scale: 1, Length: 3, Genes: []int16{1, 2}})
	if !errors.Is(err, ErrLength) {
		t.Errorf("err = %v, want ErrLength", err)
	}
}

func TestArenaCloneAndSweep(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	arena := NewArena(8)
	a := arena.NewRandom(1, rng)

	same, err := arena.Clone(a.ID, true)
	if err != nil {
		t.Fatal(err)
	}
	if same.ID != a.ID {
		t.Errorf("preserved clone id = %d, want %d", same.ID, a.ID)
	}

	fresh, err := arena.Clone(a.ID, false)
	if err != nil {
		t.Fatal(err)
	}
	if fresh.ID == a.ID {
		t.Error("fresh clone reused id")
	}
	fresh.Genes[0] = 99
	if a.Genes[0] == 99 {
		t.Error("fresh clone shares gene storage")
	}

	removed := arena.Sweep(map[ID]struct{}{a.ID: {}})
	if removed != 1 || arena.Len() != 1 {
		t.Errorf("sweep removed %d, %d left; want 1 and 1", removed, arena.Len())
	}
	if arena.Get(fresh.ID) != nil {
		t.Error("swept genome still reachable")
	}
}

func TestArenaPutAdvancesIDs(t *testing.T) {
	arena := NewArena(2)
	if err := arena.Put(&Genome{ID: 40, Genes: []float64{1, 2}}); err != nil {
		t.Fatal(err)
	}
	next := arena.New()
	if next.ID <= 40 {
		t.Errorf("next id = %d, want > 40", next.ID)
	}
	if err := arena.Put(&Genome{ID: 41, Genes: []float64{1}}); !errors.Is(err, ErrLength) {
		t.Errorf("err = %v, want ErrLength", err)
	}
}

func BenchmarkMutate(b *testing.B) {
	rng := rand.New(rand.NewSource(42))
	arena := NewArena(400)
	g := arena.NewRandom(1, rng)
	opts := MutateOptions{Rate: 0.1, Sigma: 0.1, Clamp: 4}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		g.Mutate(opts, rng)
	}
}
