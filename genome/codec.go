package genome

import (
	"errors"
	"fmt"
	"math"
)

// quantMax is the largest int16 magnitude used for normalized genes.
const quantMax = 32767

var (
	// ErrInvalidScale is returned when a quantized genome carries a non-finite or non-positive scale.
	ErrInvalidScale = errors.New("invalid quantization scale")
	// ErrLength is returned when a gene count does not match what the receiver expects.
	ErrLength = errors.New("genome length mismatch")
)

// Quantized is the compact wire form of a genome: genes normalized by the
// per-genome max-abs scale and rounded to signed 16-bit integers.
type Quantized struct {
	ID     ID      `json:"id" msgpack:"id"`
	Scale  float64 `json:"scale" msgpack:"scale"`
	Length int     `json:"length" msgpack:"length"`
	Genes  []int16 `json:"genes" msgpack:"genes"`
}

// Quantize encodes g. An all-zero genome is stored with scale 1.
func Quantize(g *Genome) Quantized {
	maxAbs := 0.0
	for _, v := range g.Genes {
		if a := math.Abs(v); a > maxAbs {
			maxAbs = a
		}
	}
	scale := maxAbs
	if scale == 0 || math.IsInf(scale, 0) || math.IsNaN(scale) {
		scale = 1
	}

	q := Quantized{
		ID:     g.ID,
		Scale:  scale,
		Length: len(g.Genes),
		Genes:  make([]int16, len(g.Genes)),
	}
	for i, v := range g.Genes {
		n := math.Round(v / scale * quantMax)
		q.Genes[i] = int16(clamp(n, -quantMax, quantMax))
	}
	return q
}

// Dequantize decodes q. The result is close to, never bit-exact with, the
// original: each gene differs by at most scale/32767.
func Dequantize(q Quantized) (*Genome, error) {
	if math.IsNaN(q.Scale) || math.IsInf(q.Scale, 0) || q.Scale <= 0 {
		return nil, fmt.Errorf("dequantize genome %d: %w: %v", q.ID, ErrInvalidScale, q.Scale)
	}
	if q.Length != len(q.Genes) {
		return nil, fmt.Errorf("dequantize genome %d: %w: header says %d, payload has %d", q.ID, ErrLength, q.Length, len(q.Genes))
	}

	g := &Genome{ID: q.ID, Genes: make([]float64, q.Length)}
	step := q.Scale / quantMax
	for i, v := range q.Genes {
		g.Genes[i] = float64(v) * step
	}
	return g, nil
}
