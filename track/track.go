package track

import (
	"fmt"
	"math"
)

// Track is an immutable race course: grid-indexed walls, ordered
// checkpoint gates and a start pose.
type Track struct {
	Name        string
	Walls       *Grid
	Checkpoints *Grid
	Start       Pose
}

// New builds a track. Checkpoint order is the slice order.
func New(name string, walls, checkpoints []Segment, start Pose, cellSize float64) (*Track, error) {
	if cellSize <= 0 {
		return nil, fmt.Errorf("track %q: cell size must be positive, got %v", name, cellSize)
	}
	if len(checkpoints) == 0 {
		return nil, fmt.Errorf("track %q: no checkpoints", name)
	}
	return &Track{
		Name:        name,
		Walls:       NewGrid(walls, cellSize),
		Checkpoints: NewGrid(checkpoints, cellSize),
		Start:       start,
	}, nil
}

// CheckpointCount returns the number of gates.
func (t *Track) CheckpointCount() int {
	return t.Checkpoints.Len()
}

// PassedCheckpoint tests a vehicle box against the gate following furthest
// and returns the new furthest-gate index. Other gates the box overlaps are
// ignored, so progress never regresses and gates cannot be skipped. furthest
// is -1 before gate 0.
func (t *Track) PassedCheckpoint(center Point, width, height, angle float64, furthest int) int {
	next := furthest + 1
	if next < 0 || next >= t.CheckpointCount() {
		return furthest
	}
	if t.Checkpoints.BoxHitsSegment(next, center, width, height, angle) {
		return next
	}
	return furthest
}

// Finished reports whether furthest is the last gate.
func (t *Track) Finished(furthest int) bool {
	return furthest >= t.CheckpointCount()-1
}

// RingSpec describes an elliptical closed loop around a centerline.
type RingSpec struct {
	CenterX  float64 `yaml:"center_x"`
	CenterY  float64 `yaml:"center_y"`
	RadiusX  float64 `yaml:"radius_x"`
	RadiusY  float64 `yaml:"radius_y"`
	Width    float64 `yaml:"width"`
	Segments int     `yaml:"segments"`
	Gates    int     `yaml:"gates"`
}

func (r RingSpec) validate() error {
	if r.Width <= 0 || r.RadiusX <= r.Width/2 || r.RadiusY <= r.Width/2 {
		return fmt.Errorf("ring radii %v/%v must exceed half width %v", r.RadiusX, r.RadiusY, r.Width/2)
	}
	if r.Segments < 3 {
		return fmt.Errorf("ring needs at least 3 wall segments, got %d", r.Segments)
	}
	if r.Gates < 1 {
		return fmt.Errorf("ring needs at least 1 gate, got %d", r.Gates)
	}
	return nil
}

func (r RingSpec) point(theta, offset float64) Point {
	return Point{
		X: r.CenterX + (r.RadiusX+offset)*math.Cos(theta),
		Y: r.CenterY + (r.RadiusY+offset)*math.Sin(theta),
	}
}

// gates returns radial gates spaced evenly counterclockwise. The last gate
// lies on the start line so a full lap is required to finish.
func (r RingSpec) gates() []Segment {
	out := make([]Segment, r.Gates)
	for k := range out {
		theta := 2 * math.Pi * float64(k+1) / float64(r.Gates)
		out[k] = Segment{A: r.point(theta, -r.Width/2), B: r.point(theta, r.Width/2)}
	}
	return out
}

func (r RingSpec) walls() []Segment {
	out := make([]Segment, 0, 2*r.Segments)
	for _, offset := range []float64{-r.Width / 2, r.Width / 2} {
		for i := 0; i < r.Segments; i++ {
			a := 2 * math.Pi * float64(i) / float64(r.Segments)
			b := 2 * math.Pi * float64(i+1) / float64(r.Segments)
			out = append(out, Segment{A: r.point(a, offset), B: r.point(b, offset)})
		}
	}
	return out
}

// start is on the centerline at theta 0 facing counterclockwise.
func (r RingSpec) start() Pose {
	return Pose{Position: r.point(0, 0), Heading: math.Pi / 2}
}

// Ring builds a walled elliptical loop.
func Ring(name string, spec RingSpec, cellSize float64) (*Track, error) {
	if err := spec.validate(); err != nil {
		return nil, fmt.Errorf("track %q: %w", name, err)
	}
	return New(name, spec.walls(), spec.gates(), spec.start(), cellSize)
}

// Open builds the gates of a ring with no walls.
func Open(name string, spec RingSpec, cellSize float64) (*Track, error) {
	if err := spec.validate(); err != nil {
		return nil, fmt.Errorf("track %q: %w", name, err)
	}
	return New(name, nil, spec.gates(), spec.start(), cellSize)
}

// Builtin returns the default training tracks.
func Builtin(cellSize float64) []*Track {
	specs := []struct {
		name string
		spec RingSpec
	}{
		{"oval", RingSpec{RadiusX: 60, RadiusY: 35, Width: 12, Segments: 72, Gates: 24}},
		{"circle", RingSpec{RadiusX: 45, RadiusY: 45, Width: 12, Segments: 64, Gates: 20}},
		{"stretch", RingSpec{RadiusX: 110, RadiusY: 28, Width: 14, Segments: 96, Gates: 32}},
	}
	out := make([]*Track, 0, len(specs))
	for _, s := range specs {
		t, err := Ring(s.name, s.spec, cellSize)
		if err != nil {
			panic(err)
		}
		out = append(out, t)
	}
	return out
}
