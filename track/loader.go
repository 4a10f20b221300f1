package track

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the YAML layout of a track list.
type File struct {
	Tracks []Definition `yaml:"tracks"`
}

// Definition describes one track either as raw segments or as a ring.
// Segments are [x1, y1, x2, y2]; headings are in degrees.
type Definition struct {
	Name        string       `yaml:"name"`
	Start       StartDef     `yaml:"start"`
	Walls       [][4]float64 `yaml:"walls"`
	Checkpoints [][4]float64 `yaml:"checkpoints"`
	Ring        *RingSpec    `yaml:"ring"`
	Open        bool         `yaml:"open"`
}

// StartDef is a start pose in file units.
type StartDef struct {
	X       float64 `yaml:"x"`
	Y       float64 `yaml:"y"`
	Heading float64 `yaml:"heading"`
}

func segments(raw [][4]float64) []Segment {
	out := make([]Segment, len(raw))
	for i, s := range raw {
		out[i] = Segment{A: Point{X: s[0], Y: s[1]}, B: Point{X: s[2], Y: s[3]}}
	}
	return out
}

// Build constructs the track described by d.
func (d Definition) Build(cellSize float64) (*Track, error) {
	if d.Ring != nil {
		if d.Open {
			return Open(d.Name, *d.Ring, cellSize)
		}
		return Ring(d.Name, *d.Ring, cellSize)
	}
	start := Pose{
		Position: Point{X: d.Start.X, Y: d.Start.Y},
		Heading:  d.Start.Heading * math.Pi / 180,
	}
	return New(d.Name, segments(d.Walls), segments(d.Checkpoints), start, cellSize)
}

// Parse decodes a YAML track list.
func Parse(data []byte, cellSize float64) ([]*Track, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing tracks: %w", err)
	}
	if len(f.Tracks) == 0 {
		return nil, fmt.Errorf("parsing tracks: no tracks defined")
	}

	seen := make(map[string]bool, len(f.Tracks))
	out := make([]*Track, 0, len(f.Tracks))
	for _, d := range f.Tracks {
		if d.Name == "" {
			return nil, fmt.Errorf("parsing tracks: track without name")
		}
		if seen[d.Name] {
			return nil, fmt.Errorf("parsing tracks: duplicate track %q", d.Name)
		}
		seen[d.Name] = true
		t, err := d.Build(cellSize)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// LoadFile reads a YAML track list from path.
func LoadFile(path string, cellSize float64) ([]*Track, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading tracks: %w", err)
	}
	return Parse(data, cellSize)
}
