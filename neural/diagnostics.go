package neural

import "math"

// saturationLevel is the |tanh| above which a neuron counts as saturated.
const saturationLevel = 0.95

// Diagnostics tracks per-neuron health over a rolling window of forward passes:
// tanh saturation, ReLU dead outputs and leaky-ReLU negative dominance.
// It is a side channel only and never changes network outputs.
type Diagnostics struct {
	window  int
	samples int
	// flags[layer][neuron] counts samples where the neuron tripped its
	// activation-specific condition within the current window.
	flags [][]int
	acts  []Activation
	last  [][]float64
}

// NeuronRates holds the per-neuron trip rate for one layer transition.
type NeuronRates struct {
	Activation Activation
	Rates      []float64
}

// NewDiagnostics creates an observer for topo. window <= 0 means unbounded.
func NewDiagnostics(topo Topology, window int) *Diagnostics {
	d := &Diagnostics{window: window}
	for i, s := range topo.Sizes[1:] {
		d.flags = append(d.flags, make([]int, s))
		d.last = append(d.last, make([]float64, s))
		d.acts = append(d.acts, topo.Activations[i])
	}
	return d
}

// Reset clears all counters.
func (d *Diagnostics) Reset() {
	d.samples = 0
	for _, layer := range d.flags {
		for i := range layer {
			layer[i] = 0
		}
	}
}

// Samples returns the number of forward passes in the current window.
func (d *Diagnostics) Samples() int {
	return d.samples
}

func (d *Diagnostics) record(layer int, act Activation, out []float64) {
	if layer >= len(d.flags) {
		return
	}
	if layer == 0 {
		if d.window > 0 && d.samples >= d.window {
			// Halve counts to roll the window.
			d.samples /= 2
			for _, l := range d.flags {
				for i := range l {
					l[i] /= 2
				}
			}
		}
		d.samples++
	}

	flags := d.flags[layer]
	copy(d.last[layer], out)
	for i, v := range out {
		switch act {
		case Tanh:
			if math.Abs(v) > saturationLevel {
				flags[i]++
			}
		case ReLU:
			if v == 0 {
				flags[i]++
			}
		default:
			if v < 0 {
				flags[i]++
			}
		}
	}
}

// Rates returns trip rates per layer transition.
func (d *Diagnostics) Rates() []NeuronRates {
	out := make([]NeuronRates, len(d.flags))
	for l, flags := range d.flags {
		rates := make([]float64, len(flags))
		if d.samples > 0 {
			for i, c := range flags {
				rates[i] = float64(c) / float64(d.samples)
			}
		}
		out[l] = NeuronRates{Activation: d.acts[l], Rates: rates}
	}
	return out
}

// LastActivations returns the most recent activations per layer transition.
func (d *Diagnostics) LastActivations() [][]float64 {
	return d.last
}
