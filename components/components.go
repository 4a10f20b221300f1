// Package components defines the ECS components that make up a controlled vehicle.
package components

import (
	"github.com/pthm-cable/racer/genome"
	"github.com/pthm-cable/racer/neural"
	"github.com/pthm-cable/racer/track"
	"github.com/pthm-cable/racer/vehicle"
)

// Status is a vehicle's race state. Crashed and Finished are terminal.
type Status uint8

const (
	StatusActive Status = iota
	StatusCrashed
	StatusFinished
)

func (s Status) String() string {
	switch s {
	case StatusCrashed:
		return "crashed"
	case StatusFinished:
		return "finished"
	default:
		return "active"
	}
}

// Terminal reports whether the vehicle has stopped racing.
func (s Status) Terminal() bool {
	return s != StatusActive
}

// Chassis holds the integrated dynamics state.
type Chassis struct {
	State vehicle.State
}

// Position returns the chassis center as a track point.
func (c *Chassis) Position() track.Point {
	return track.Point{X: c.State.X, Y: c.State.Y}
}

// Radar holds beam readings and the wall query scratch.
type Radar struct {
	Readings []float64 // Distance per beam, capped at range
	Scratch  *track.Scratch
}

// Pilot binds a genome's network to the vehicle controls.
type Pilot struct {
	Genome genome.ID
	Net    *neural.Network
	Inputs []float64
	Prev   vehicle.Controls
}

// Progress tracks checkpoint progress and lifetime accumulators.
type Progress struct {
	Status     Status
	Furthest   int // Furthest gate index passed, -1 before the first
	Ticks      int // Active ticks
	FinishTick int
	SpeedSum   float64
	Distance   float64
	Stale      int // Remaining slow ticks before a forced crash
}

// AvgSpeed returns the mean speed over active ticks.
func (p *Progress) AvgSpeed() float64 {
	if p.Ticks == 0 {
		return 0
	}
	return p.SpeedSum / float64(p.Ticks)
}

// Slot is the vehicle's index in its population.
type Slot struct {
	Index int
}
