// Package neural provides the feedforward policy network that drives a vehicle.
// A network interprets a genome as the weights and biases of a fixed topology.
package neural

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// ErrGenomeLength is returned when a genome does not match the topology's parameter count.
var ErrGenomeLength = errors.New("genome length does not match topology")

// Activation selects the nonlinearity applied after a layer transition.
type Activation uint8

const (
	LeakyReLU Activation = iota
	ReLU
	Tanh
)

// leakySlope is the negative-side slope of LeakyReLU.
const leakySlope = 0.01

var activationNames = map[Activation]string{
	LeakyReLU: "leaky_relu",
	ReLU:      "relu",
	Tanh:      "tanh",
}

func (a Activation) String() string {
	if s, ok := activationNames[a]; ok {
		return s
	}
	return fmt.Sprintf("activation(%d)", a)
}

// ParseActivation maps a config name to an Activation.
func ParseActivation(name string) (Activation, error) {
	for a, s := range activationNames {
		if s == name {
			return a, nil
		}
	}
	return 0, fmt.Errorf("unknown activation %q", name)
}

// MarshalText implements encoding.TextMarshaler.
func (a Activation) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Activation) UnmarshalText(text []byte) error {
	parsed, err := ParseActivation(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

func (a Activation) apply(x float64) float64 {
	switch a {
	case ReLU:
		if x < 0 {
			return 0
		}
		return x
	case Tanh:
		return math.Tanh(x)
	default:
		if x < 0 {
			return x * leakySlope
		}
		return x
	}
}

// Topology describes layer widths and one activation per transition.
type Topology struct {
	Sizes       []int        `yaml:"sizes" json:"sizes"`
	Activations []Activation `yaml:"activations" json:"activations"`
}

// NewTopology builds a topology from layer sizes and activation names.
func NewTopology(sizes []int, activations []string) (Topology, error) {
	t := Topology{Sizes: append([]int(nil), sizes...)}
	for _, name := range activations {
		a, err := ParseActivation(name)
		if err != nil {
			return Topology{}, err
		}
		t.Activations = append(t.Activations, a)
	}
	return t, t.Validate()
}

// Validate checks the topology is well formed.
func (t Topology) Validate() error {
	if len(t.Sizes) < 2 {
		return fmt.Errorf("topology needs at least 2 layers, got %d", len(t.Sizes))
	}
	if len(t.Activations) != len(t.Sizes)-1 {
		return fmt.Errorf("topology needs %d activations, got %d", len(t.Sizes)-1, len(t.Activations))
	}
	for i, s := range t.Sizes {
		if s <= 0 {
			return fmt.Errorf("layer %d has non-positive width %d", i, s)
		}
	}
	return nil
}

// ParamCount returns Σ(in·out + out) over all transitions.
func (t Topology) ParamCount() int {
	n := 0
	for i := 0; i+1 < len(t.Sizes); i++ {
		n += t.Sizes[i]*t.Sizes[i+1] + t.Sizes[i+1]
	}
	return n
}

// OutputLayerOffset returns the first gene index of the last transition.
// Genes [0, offset) are hidden-layer parameters, [offset, ParamCount) output-layer.
func (t Topology) OutputLayerOffset() int {
	n := 0
	for i := 0; i+2 < len(t.Sizes); i++ {
		n += t.Sizes[i]*t.Sizes[i+1] + t.Sizes[i+1]
	}
	return n
}

// Inputs returns the input layer width.
func (t Topology) Inputs() int { return t.Sizes[0] }

// Outputs returns the output layer width.
func (t Topology) Outputs() int { return t.Sizes[len(t.Sizes)-1] }

// Network evaluates a genome as a feedforward network.
// Parameter layout per transition: weights row-major [out][in], then biases [out].
type Network struct {
	topo     Topology
	genes    []float64
	buffers  [2][]float64
	observer *Diagnostics
}

// New binds genes to a topology. The genes slice is referenced, not copied.
func New(topo Topology, genes []float64) (*Network, error) {
	if err := topo.Validate(); err != nil {
		return nil, err
	}
	if want := topo.ParamCount(); len(genes) != want {
		return nil, fmt.Errorf("%w: got %d genes, topology %v needs %d", ErrGenomeLength, len(genes), topo.Sizes, want)
	}

	widest := 0
	for _, s := range topo.Sizes[1:] {
		if s > widest {
			widest = s
		}
	}
	return &Network{
		topo:    topo,
		genes:   genes,
		buffers: [2][]float64{make([]float64, widest), make([]float64, widest)},
	}, nil
}

// Topology returns the network topology.
func (n *Network) Topology() Topology {
	return n.topo
}

// Attach sets the diagnostics observer updated on every Forward. Nil detaches.
func (n *Network) Attach(d *Diagnostics) {
	n.observer = d
}

// Forward computes the network outputs for inputs.
// The returned slice is owned by the network and valid until the next call.
func (n *Network) Forward(inputs []float64) []float64 {
	sizes := n.topo.Sizes
	in := inputs[:sizes[0]]
	offset := 0

	for layer := 0; layer+1 < len(sizes); layer++ {
		nIn, nOut := sizes[layer], sizes[layer+1]
		act := n.topo.Activations[layer]
		out := n.buffers[layer%2][:nOut]
		weights := n.genes[offset : offset+nIn*nOut]
		biases := n.genes[offset+nIn*nOut : offset+nIn*nOut+nOut]

		for j := 0; j < nOut; j++ {
			sum := biases[j] + floats.Dot(weights[j*nIn:(j+1)*nIn], in)
			out[j] = act.apply(sum)
		}
		if n.observer != nil {
			n.observer.record(layer, act, out)
		}

		offset += nIn*nOut + nOut
		in = out
	}
	return in
}
